package prometheus

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/avast/retry-go/v5"
	"github.com/sony/gobreaker"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"github.com/samijaber1/aegis-perf/internal/metrics"
	"github.com/samijaber1/aegis-perf/internal/telemetry"
)

// Config holds Prometheus adapter configuration
type Config struct {
	URL            string
	Timeout        time.Duration
	MaxConcurrency int64
	RetryCount     int
	RetryDelay     time.Duration
	Window         string            // substituted for {{window}}
	OperationLabel string            // label carrying the operation name
	Queries        map[string]string // raw record field -> PromQL template
}

// DefaultQueries read the series exported by the local recorder
func DefaultQueries() map[string]string {
	return map[string]string{
		"p50":        `max by (operation) (aegis_operation_latency_ms{quantile="0.5"})`,
		"p95":        `max by (operation) (aegis_operation_latency_ms{quantile="0.95"})`,
		"p99":        `max by (operation) (aegis_operation_latency_ms{quantile="0.99"})`,
		"count":      `sum by (operation) (increase(aegis_operation_latency_ms_count[{{window}}]))`,
		"errorCount": `sum by (operation) (increase(aegis_operation_errors_total[{{window}}]))`,
		"avgMs":      `sum by (operation) (rate(aegis_operation_latency_ms_sum[{{window}}])) / sum by (operation) (rate(aegis_operation_latency_ms_count[{{window}}]))`,
		"maxMs":      `max by (operation) (aegis_operation_max_ms)`,
		"lastMs":     `max by (operation) (aegis_operation_last_ms)`,
	}
}

// DefaultConfig returns default configuration
func DefaultConfig(prometheusURL string) Config {
	return Config{
		URL:            prometheusURL,
		Timeout:        10 * time.Second,
		MaxConcurrency: 10,
		RetryCount:     1,
		RetryDelay:     100 * time.Millisecond,
		Window:         "5m",
		OperationLabel: "operation",
		Queries:        DefaultQueries(),
	}
}

// Adapter is a local source backed by a Prometheus server. One Snapshot
// runs every field query concurrently and folds the vectors into one raw
// record per operation.
type Adapter struct {
	config  Config
	client  *http.Client
	sem     *semaphore.Weighted
	cb      *gobreaker.CircuitBreaker
	logger  *zap.Logger
	metrics *metrics.Metrics

	mu    sync.Mutex
	stats telemetry.CacheStats
}

// NewAdapter creates a new Prometheus adapter
func NewAdapter(config Config, logger *zap.Logger, m *metrics.Metrics) *Adapter {
	if logger == nil {
		logger = zap.NewNop()
	}
	if m == nil {
		m = metrics.New(nil)
	}
	if config.OperationLabel == "" {
		config.OperationLabel = "operation"
	}
	if len(config.Queries) == 0 {
		config.Queries = DefaultQueries()
	}
	if config.MaxConcurrency <= 0 {
		config.MaxConcurrency = 1
	}

	a := &Adapter{
		config:  config,
		client:  &http.Client{Timeout: config.Timeout},
		sem:     semaphore.NewWeighted(config.MaxConcurrency),
		logger:  logger.Named("prometheus"),
		metrics: m,
	}

	a.cb = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "prometheus",
		MaxRequests: 1,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures > 5
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			a.logger.Warn("circuit breaker state change",
				zap.String("from", from.String()), zap.String("to", to.String()))
			a.metrics.CircuitBreakerState.WithLabelValues(name).Set(float64(to))
		},
	})

	return a
}

// Snapshot queries every configured field and returns one raw record per
// operation, sorted by operation. Any failed query fails the snapshot.
func (a *Adapter) Snapshot(ctx context.Context) ([]telemetry.RawRecord, error) {
	fields := make([]string, 0, len(a.config.Queries))
	for f := range a.config.Queries {
		fields = append(fields, f)
	}
	sort.Strings(fields)

	results := make([]*QueryResponse, len(fields))
	g, gctx := errgroup.WithContext(ctx)
	for i, field := range fields {
		i, field := i, field
		g.Go(func() error {
			resp, err := a.QueryField(gctx, a.config.Queries[field])
			if err != nil {
				return fmt.Errorf("query %s: %w", field, err)
			}
			results[i] = resp
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	byOp := make(map[string]telemetry.RawRecord)
	for i, field := range fields {
		for _, r := range results[i].Data.Result {
			op := r.Metric[a.config.OperationLabel]
			if op == "" {
				continue
			}
			rec, ok := byOp[op]
			if !ok {
				rec = telemetry.RawRecord{"operation": op}
				byOp[op] = rec
			}
			rec[field] = r.Value.Value()

			if ts := r.Value.Timestamp(); !ts.IsZero() {
				if prev, ok := rec["timestamp"].(time.Time); !ok || ts.After(prev) {
					rec["timestamp"] = ts
				}
			}
		}
	}

	ops := make([]string, 0, len(byOp))
	for op := range byOp {
		ops = append(ops, op)
	}
	sort.Strings(ops)

	out := make([]telemetry.RawRecord, 0, len(ops))
	for _, op := range ops {
		out = append(out, byOp[op])
	}

	a.logger.Debug("snapshot", zap.Int("operations", len(out)))
	return out, nil
}

// Stats reports the query cache-style counters of this adapter: successful
// queries count as hits, failed ones as misses.
func (a *Adapter) Stats(ctx context.Context) (telemetry.CacheStats, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	s := a.stats
	if total := s.Hits + s.Misses; total > 0 {
		s.AvgHitRate = float64(s.Hits) / float64(total)
	}
	return s, nil
}

// HitRate returns the current query success ratio
func (a *Adapter) HitRate() float64 {
	s, _ := a.Stats(context.Background())
	return s.AvgHitRate
}

// QueryField executes one instant query with {{window}} substituted, behind
// the concurrency limit, retries and the circuit breaker.
func (a *Adapter) QueryField(ctx context.Context, query string) (*QueryResponse, error) {
	instantQuery := substituteWindow(query, a.config.Window)

	if err := a.sem.Acquire(ctx, 1); err != nil {
		return nil, fmt.Errorf("semaphore acquire: %w", err)
	}
	defer a.sem.Release(1)

	out, err := a.cb.Execute(func() (interface{}, error) {
		var result *QueryResponse
		r := retry.New(
			retry.Context(ctx),
			retry.Attempts(uint(a.config.RetryCount+1)),
			retry.Delay(a.config.RetryDelay),
			retry.DelayType(retry.BackOffDelay),
		)
		err := r.Do(func() error {
			var qErr error
			result, qErr = a.executeQuery(ctx, instantQuery)
			return qErr
		})
		return result, err
	})

	a.mu.Lock()
	if err != nil {
		a.stats.Misses++
	} else {
		a.stats.Hits++
	}
	a.mu.Unlock()

	if err != nil {
		return nil, fmt.Errorf("query failed after %d attempts: %w", a.config.RetryCount+1, err)
	}
	return out.(*QueryResponse), nil
}

// executeQuery performs a single Prometheus query
func (a *Adapter) executeQuery(ctx context.Context, query string) (*QueryResponse, error) {
	queryURL := fmt.Sprintf("%s/api/v1/query", strings.TrimSuffix(a.config.URL, "/"))

	params := url.Values{}
	params.Add("query", query)

	fullURL := queryURL + "?" + params.Encode()

	req, err := http.NewRequestWithContext(ctx, "GET", fullURL, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}

	resp, err := a.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("http request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("http status %d: %s", resp.StatusCode, string(body))
	}

	var result QueryResponse
	if err := json.Unmarshal(body, &result); err != nil {
		return nil, fmt.Errorf("parse response: %w", err)
	}

	if result.Status != "success" {
		return nil, fmt.Errorf("prometheus error: %s", result.Error)
	}

	return &result, nil
}

// substituteWindow replaces {{window}} placeholder with actual window value
func substituteWindow(query string, window string) string {
	return strings.ReplaceAll(query, "{{window}}", window)
}
