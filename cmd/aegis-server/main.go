package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/samijaber1/aegis-perf/internal/adapter/local"
	promadapter "github.com/samijaber1/aegis-perf/internal/adapter/prometheus"
	"github.com/samijaber1/aegis-perf/internal/adapter/synthetic"
	"github.com/samijaber1/aegis-perf/internal/api"
	"github.com/samijaber1/aegis-perf/internal/auth"
	"github.com/samijaber1/aegis-perf/internal/config"
	"github.com/samijaber1/aegis-perf/internal/logging"
	"github.com/samijaber1/aegis-perf/internal/metrics"
	"github.com/samijaber1/aegis-perf/internal/scheduler"
	"github.com/samijaber1/aegis-perf/internal/slo"
	"github.com/samijaber1/aegis-perf/internal/storage"
	"github.com/samijaber1/aegis-perf/internal/storage/sqlite"
	"github.com/samijaber1/aegis-perf/internal/stream"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load(ctx)
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}
	parseFlags(cfg)

	if err := cfg.Validate(); err != nil {
		log.Fatalf("Invalid configuration: %v", err)
	}

	logger, err := logging.New(cfg.LogLevel, cfg.LogFormat)
	if err != nil {
		log.Fatalf("Failed to create logger: %v", err)
	}
	defer logger.Sync()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Fatal("server failed", zap.Error(err))
	}
}

func run(ctx context.Context, cfg *config.Config, logger *zap.Logger) error {
	logger.Info("starting aegis-perf server",
		zap.Int("port", cfg.Port),
		zap.String("slo_dir", cfg.SLODirectory),
		zap.String("local_source", cfg.LocalSource))

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	m := metrics.New(reg)

	// SLO definitions
	validator, err := slo.NewValidator(cfg.SchemaPath)
	if err != nil {
		return fmt.Errorf("failed to create validator: %w", err)
	}
	table, err := slo.LoadTable(cfg.SLODirectory, validator)
	if err != nil {
		return fmt.Errorf("failed to load SLOs: %w", err)
	}
	logger.Info("loaded SLOs", zap.Int("count", table.Len()))

	// Remote document store and its live feed
	store, err := sqlite.NewStore(cfg.DBPath)
	if err != nil {
		return fmt.Errorf("failed to open store: %w", err)
	}
	defer store.Close()

	watcher := stream.NewWatcher(store, cfg.StreamInterval, logger, m)
	defer watcher.Close()

	var publisher api.Publisher
	if cfg.RedisAddr != "" {
		rdb := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		defer rdb.Close()

		bridge := stream.NewRedisBridge(rdb, logger)
		go bridge.Listen(ctx, watcher, []string{storage.CollectionMetrics, storage.CollectionViolations})
		publisher = bridge
		logger.Info("redis change bridge enabled", zap.String("addr", cfg.RedisAddr))
	}

	// Local counters
	localSource, cacheSource, err := newLocalSource(cfg, logger, m, reg)
	if err != nil {
		return err
	}
	// in-process mode measures the server's own routes
	var observer api.CallObserver
	if rec, ok := localSource.(*local.Recorder); ok {
		observer = rec
	}

	// Authorization
	var (
		authz       auth.Authorizer = auth.AllowAll{}
		session     auth.Session
		tokenVerify *auth.Validator
	)
	if cfg.AuthEnabled {
		pem, err := os.ReadFile(cfg.AuthPublicKey)
		if err != nil {
			return fmt.Errorf("failed to read auth public key: %w", err)
		}
		pub, err := auth.ParseRSAPublicKey(pem)
		if err != nil {
			return fmt.Errorf("failed to parse auth public key: %w", err)
		}
		tokenVerify = auth.NewValidator(pub)
		authz = auth.ScopeAuthorizer{Scope: auth.ScopeDashboard}

		session, err = tokenVerify.Session(cfg.ServiceToken)
		if err != nil {
			return fmt.Errorf("invalid service token: %w", err)
		}
	}

	sched := scheduler.NewScheduler(table, localSource, cacheSource, watcher, authz, scheduler.Config{
		PollInterval: cfg.PollInterval,
		SnapshotTTL:  cfg.SnapshotTTL,
	}, logger, m)
	sched.PersistDefinitions(ctx, store)

	apiServer := api.NewServer(sched, store, watcher, publisher, api.Options{
		Addr:        cfg.Addr(),
		Validator:   tokenVerify,
		IngestRate:  cfg.IngestRate,
		IngestBurst: cfg.IngestBurst,
		Gatherer:    reg,
		Metrics:     m,
		Logger:      logger,
		Observer:    observer,
	})

	if err := sched.Start(ctx, session); err != nil {
		return fmt.Errorf("failed to start scheduler: %w", err)
	}

	retention := scheduler.NewRetention(store, storage.CollectionMetrics, cfg.Retention, cfg.PruneInterval, logger, m)
	go retention.Run(ctx)
	logger.Info("retention enabled",
		zap.String("collection", storage.CollectionMetrics),
		zap.String("max_age", slo.FormatDuration(cfg.Retention)),
		zap.String("interval", slo.FormatDuration(cfg.PruneInterval)))

	serverErrors := make(chan error, 1)
	go func() {
		serverErrors <- apiServer.Start()
	}()

	select {
	case err := <-serverErrors:
		sched.Stop()
		return fmt.Errorf("server error: %w", err)

	case <-ctx.Done():
		logger.Info("received shutdown signal")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.GracefulShutdownTimeout)
		defer cancel()

		if err := apiServer.Shutdown(shutdownCtx); err != nil {
			logger.Error("error shutting down server", zap.Error(err))
		}

		sched.Stop()
		logger.Info("shutdown complete")
	}
	return nil
}

func newLocalSource(cfg *config.Config, logger *zap.Logger, m *metrics.Metrics, reg prometheus.Registerer) (scheduler.LocalSource, scheduler.CacheSource, error) {
	switch cfg.LocalSource {
	case config.SourcePrometheus:
		adapter := promadapter.NewAdapter(promadapter.DefaultConfig(cfg.PrometheusURL), logger, m)
		logger.Info("using prometheus local source", zap.String("url", cfg.PrometheusURL))
		return adapter, adapter, nil

	case config.SourceSynthetic:
		adapter := synthetic.NewAdapter()
		if cfg.SyntheticFixture != "" {
			if err := adapter.LoadFixture(cfg.SyntheticFixture); err != nil {
				return nil, nil, fmt.Errorf("failed to load synthetic fixture: %w", err)
			}
		}
		logger.Info("using synthetic local source", zap.String("fixture", cfg.SyntheticFixture))
		return adapter, adapter, nil

	default:
		recorder := local.NewRecorder()
		if err := recorder.Register(reg); err != nil {
			return nil, nil, fmt.Errorf("failed to register recorder: %w", err)
		}
		return recorder, local.NewCacheTracker(), nil
	}
}

func parseFlags(cfg *config.Config) {
	flag.IntVar(&cfg.Port, "port", cfg.Port, "HTTP server port")
	flag.StringVar(&cfg.Host, "host", cfg.Host, "HTTP server host")
	flag.StringVar(&cfg.SLODirectory, "slo-dir", cfg.SLODirectory, "Directory containing SLO YAML files")
	flag.StringVar(&cfg.DBPath, "db", cfg.DBPath, "SQLite document store path")
	flag.StringVar(&cfg.LocalSource, "local-source", cfg.LocalSource, "Local source (inprocess|synthetic|prometheus)")
	flag.StringVar(&cfg.PrometheusURL, "prometheus-url", cfg.PrometheusURL, "Prometheus server URL (required for prometheus source)")
	flag.StringVar(&cfg.SyntheticFixture, "synthetic-fixture", cfg.SyntheticFixture, "Fixture file for the synthetic source")
	flag.StringVar(&cfg.RedisAddr, "redis", cfg.RedisAddr, "Redis address for cross-process change notification")
	flag.StringVar(&cfg.LogLevel, "log-level", cfg.LogLevel, "Log level")

	flag.Parse()
}
