// Package scheduler keeps the dashboard inputs current. It runs two live
// document subscriptions (remote metrics and persisted violations) next to a
// sequential poll of the in-process source, and derives snapshots on demand.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/samijaber1/aegis-perf/internal/auth"
	"github.com/samijaber1/aegis-perf/internal/dashboard"
	"github.com/samijaber1/aegis-perf/internal/metrics"
	"github.com/samijaber1/aegis-perf/internal/slo"
	"github.com/samijaber1/aegis-perf/internal/storage"
	"github.com/samijaber1/aegis-perf/internal/stream"
	"github.com/samijaber1/aegis-perf/internal/telemetry"
	"github.com/samijaber1/aegis-perf/internal/trend"
	"github.com/samijaber1/aegis-perf/internal/violation"
)

var (
	// ErrAccessDenied is returned by Start when the session is not authorized
	ErrAccessDenied = errors.New("scheduler: access denied")

	// ErrRunning is returned by Start on an active scheduler
	ErrRunning = errors.New("scheduler: already running")
)

// Error slots
const (
	SlotMetrics    = "metrics"
	SlotViolations = "violations"
	SlotLocal      = "local"
	SlotCache      = "cache"
)

// LocalSource returns raw records for the in-process counters
type LocalSource interface {
	Snapshot(ctx context.Context) ([]telemetry.RawRecord, error)
}

// CacheSource reports cache counters
type CacheSource interface {
	Stats(ctx context.Context) (telemetry.CacheStats, error)
	HitRate() float64
}

// DefinitionStore persists SLO definitions
type DefinitionStore interface {
	StoreSLODefinition(ctx context.Context, def slo.Definition) error
}

// UpdateFunc receives the snapshot derived after a state change
type UpdateFunc func(snap *dashboard.Snapshot)

// Config tunes the refresh loops
type Config struct {
	PollInterval    time.Duration
	MetricsWindow   time.Duration
	MetricsLimit    int
	ViolationsLimit int
	HitRateSamples  int
	SnapshotTTL     time.Duration
}

// DefaultConfig returns the standard refresh settings
func DefaultConfig() Config {
	return Config{
		PollInterval:    15 * time.Second,
		MetricsWindow:   24 * time.Hour,
		MetricsLimit:    500,
		ViolationsLimit: violation.MaxViolations,
		HitRateSamples:  24,
		SnapshotTTL:     2 * time.Second,
	}
}

// Scheduler owns the dashboard state slots
type Scheduler struct {
	table   *slo.Table
	local   LocalSource
	cache   CacheSource
	streams stream.Subscriber
	authz   auth.Authorizer
	cfg     Config
	logger  *zap.Logger
	metrics *metrics.Metrics
	now     func() time.Time

	snapshots atomic.Pointer[SnapshotCache]

	// slots, each written by a single producer
	mu         sync.RWMutex
	remote     []telemetry.MetricPoint
	localPts   []telemetry.MetricPoint
	violations []violation.Point
	cacheStats telemetry.CacheStats
	hitRates   []trend.Point
	errs       map[string]string

	lifecycle sync.Mutex
	active    atomic.Bool
	cancel    context.CancelFunc
	unsubs    []stream.Unsubscribe
	wg        sync.WaitGroup

	listenersMu sync.RWMutex
	listeners   []UpdateFunc
}

// NewScheduler creates a new scheduler. cache may be nil, in which case no
// cache stats or hit-rate samples are collected.
func NewScheduler(table *slo.Table, local LocalSource, cache CacheSource, streams stream.Subscriber, authz auth.Authorizer, cfg Config, logger *zap.Logger, m *metrics.Metrics) *Scheduler {
	if logger == nil {
		logger = zap.NewNop()
	}
	if m == nil {
		m = metrics.New(nil)
	}
	if authz == nil {
		authz = auth.AllowAll{}
	}
	def := DefaultConfig()
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = def.PollInterval
	}
	if cfg.MetricsWindow <= 0 {
		cfg.MetricsWindow = def.MetricsWindow
	}
	if cfg.MetricsLimit <= 0 {
		cfg.MetricsLimit = def.MetricsLimit
	}
	if cfg.ViolationsLimit <= 0 {
		cfg.ViolationsLimit = def.ViolationsLimit
	}
	if cfg.HitRateSamples <= 0 {
		cfg.HitRateSamples = def.HitRateSamples
	}
	if cfg.SnapshotTTL <= 0 {
		cfg.SnapshotTTL = def.SnapshotTTL
	}

	var observer CacheObserver
	if o, ok := cache.(CacheObserver); ok {
		observer = o
	}

	s := &Scheduler{
		table:     table,
		local:     local,
		cache:     cache,
		streams:   streams,
		authz:     authz,
		cfg:       cfg,
		logger:    logger.Named("scheduler"),
		metrics:   m,
		now:       time.Now,
		errs:      make(map[string]string),
	}
	s.snapshots.Store(NewSnapshotCache(cfg.SnapshotTTL, observer))
	return s
}

// WithClock overrides the scheduler clock
func (s *Scheduler) WithClock(now func() time.Time) *Scheduler {
	s.now = now
	return s
}

// SetSnapshotObserver routes snapshot cache hits and misses to o. The
// cache is replaced, so the next read rebuilds.
func (s *Scheduler) SetSnapshotObserver(o CacheObserver) {
	s.snapshots.Store(NewSnapshotCache(s.cfg.SnapshotTTL, o))
}

// Table returns the definitions the scheduler evaluates against
func (s *Scheduler) Table() *slo.Table {
	return s.table
}

// PersistDefinitions stores every loaded definition. Failures are logged and
// skipped.
func (s *Scheduler) PersistDefinitions(ctx context.Context, store DefinitionStore) int {
	stored := 0
	for _, def := range s.table.Definitions() {
		if err := store.StoreSLODefinition(ctx, def); err != nil {
			s.logger.Warn("failed to store SLO definition",
				zap.String("operation", def.Operation), zap.Error(err))
			continue
		}
		stored++
	}
	s.logger.Info("persisted SLO definitions", zap.Int("count", stored))
	return stored
}

// OnUpdate registers fn to run after every slot write
func (s *Scheduler) OnUpdate(fn UpdateFunc) {
	s.listenersMu.Lock()
	defer s.listenersMu.Unlock()
	s.listeners = append(s.listeners, fn)
}

// Active reports whether the refresh loops are running
func (s *Scheduler) Active() bool {
	return s.active.Load()
}

// Start authorizes session and begins both refresh loops
func (s *Scheduler) Start(ctx context.Context, session auth.Session) error {
	s.lifecycle.Lock()
	defer s.lifecycle.Unlock()

	if s.active.Load() {
		return ErrRunning
	}

	ok, err := s.authz.Authorize(ctx, session)
	if err != nil {
		return fmt.Errorf("authorize session: %w", err)
	}
	if !ok {
		s.logger.Warn("refresh denied", zap.String("user", session.UserID))
		return ErrAccessDenied
	}

	// a restarted scheduler begins from empty slots
	s.mu.Lock()
	s.remote, s.localPts, s.violations, s.hitRates = nil, nil, nil, nil
	s.cacheStats = telemetry.CacheStats{}
	s.errs = make(map[string]string)
	s.mu.Unlock()
	s.snapshots.Load().Clear()

	runCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.unsubs = nil
	s.active.Store(true)

	if s.streams != nil {
		s.subscribe(runCtx, SlotMetrics, stream.Query{
			Collection: storage.CollectionMetrics,
			Window:     s.cfg.MetricsWindow,
			Descending: true,
			Limit:      s.cfg.MetricsLimit,
		}, s.setRemote)

		s.subscribe(runCtx, SlotViolations, stream.Query{
			Collection: storage.CollectionViolations,
			Descending: true,
			Limit:      s.cfg.ViolationsLimit,
		}, s.setViolations)
	}

	if s.local != nil {
		s.wg.Add(1)
		go s.pollLoop(runCtx)
	}

	s.logger.Info("started refresh loops",
		zap.String("user", session.UserID),
		zap.Duration("poll_interval", s.cfg.PollInterval))
	return nil
}

// Stop halts both loops and waits for them to exit. No slot is written once
// Stop returns.
func (s *Scheduler) Stop() {
	s.lifecycle.Lock()
	defer s.lifecycle.Unlock()

	if !s.active.Load() {
		return
	}

	// writers re-check active under mu
	s.mu.Lock()
	s.active.Store(false)
	s.mu.Unlock()

	s.cancel()
	for _, unsub := range s.unsubs {
		unsub()
	}
	s.unsubs = nil
	s.wg.Wait()

	s.logger.Info("stopped refresh loops")
}

// Inputs returns a copy of the current slots
func (s *Scheduler) Inputs() dashboard.Inputs {
	s.mu.RLock()
	defer s.mu.RUnlock()

	in := dashboard.Inputs{
		Remote:     append([]telemetry.MetricPoint(nil), s.remote...),
		Local:      append([]telemetry.MetricPoint(nil), s.localPts...),
		Violations: append([]violation.Point(nil), s.violations...),
		CacheStats: s.cacheStats,
		HitRates:   append([]trend.Point(nil), s.hitRates...),
	}
	if len(s.errs) > 0 {
		in.Errors = make(map[string]string, len(s.errs))
		for k, v := range s.errs {
			in.Errors[k] = v
		}
	}
	return in
}

// Snapshot derives the dashboard from the current slots
func (s *Scheduler) Snapshot(now time.Time) *dashboard.Snapshot {
	return dashboard.Build(s.Inputs(), s.table, now)
}

// Cached returns the dashboard, reusing a build younger than the TTL
func (s *Scheduler) Cached() *dashboard.Snapshot {
	now := s.now()
	return s.snapshots.Load().GetOrBuild("dashboard", now, func() *dashboard.Snapshot {
		return s.Snapshot(now)
	})
}

func (s *Scheduler) subscribe(ctx context.Context, slot string, q stream.Query, apply func([]storage.Document)) {
	unsub, err := s.streams.Subscribe(ctx, q, apply, func(err error) {
		s.setError(slot, fmt.Sprintf("%s stream unavailable: %v", slot, err))
	})
	if err != nil {
		s.logger.Error("subscription failed", zap.String("stream", slot), zap.Error(err))
		s.setError(slot, fmt.Sprintf("%s stream unavailable: %v", slot, err))
		return
	}
	s.unsubs = append(s.unsubs, unsub)
}

func (s *Scheduler) pollLoop(ctx context.Context) {
	defer s.wg.Done()

	s.poll(ctx)

	ticker := time.NewTicker(s.cfg.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.poll(ctx)
		}
	}
}

func (s *Scheduler) poll(ctx context.Context) {
	recs, err := s.local.Snapshot(ctx)
	if err != nil {
		if ctx.Err() != nil {
			return
		}
		s.metrics.PollTotal.WithLabelValues("error").Inc()
		s.logger.Warn("local poll failed", zap.Error(err))
		s.setError(SlotLocal, fmt.Sprintf("local metrics unavailable: %v", err))
		return
	}
	s.metrics.PollTotal.WithLabelValues("ok").Inc()

	now := s.now()
	points := telemetry.NormalizeAll(recs, telemetry.SourceLocal, now)

	var (
		stats    telemetry.CacheStats
		statsErr error
		rate     float64
	)
	if s.cache != nil {
		stats, statsErr = s.cache.Stats(ctx)
		rate = s.cache.HitRate()
	}

	s.write(func() {
		s.localPts = points
		delete(s.errs, SlotLocal)

		if s.cache == nil {
			return
		}
		if statsErr != nil {
			s.errs[SlotCache] = fmt.Sprintf("cache stats unavailable: %v", statsErr)
		} else {
			s.cacheStats = stats
			delete(s.errs, SlotCache)
		}
		s.hitRates = append(s.hitRates, trend.Point{Time: now, Value: rate})
		if over := len(s.hitRates) - s.cfg.HitRateSamples; over > 0 {
			s.hitRates = append([]trend.Point(nil), s.hitRates[over:]...)
		}
	})
}

// setRemote normalizes each document against its own stored time, so a
// redelivered document keeps its original ingestion timestamp.
func (s *Scheduler) setRemote(docs []storage.Document) {
	points := make([]telemetry.MetricPoint, 0, len(docs))
	for _, d := range docs {
		if p, ok := telemetry.Normalize(d.Fields, telemetry.SourceRemote, s.ingestedAt(d)); ok {
			points = append(points, p)
		}
	}
	s.write(func() {
		s.remote = points
		delete(s.errs, SlotMetrics)
	})
}

func (s *Scheduler) setViolations(docs []storage.Document) {
	points := make([]violation.Point, 0, len(docs))
	for _, d := range docs {
		if p, ok := violation.FromRecord(d.Fields, s.table, s.ingestedAt(d)); ok {
			points = append(points, p)
		}
	}
	s.write(func() {
		s.violations = points
		delete(s.errs, SlotViolations)
	})
}

func (s *Scheduler) ingestedAt(d storage.Document) time.Time {
	switch {
	case !d.Timestamp.IsZero():
		return d.Timestamp
	case !d.CreatedAt.IsZero():
		return d.CreatedAt
	}
	return s.now()
}

func (s *Scheduler) setError(slot, msg string) {
	s.write(func() {
		s.errs[slot] = msg
	})
}

// write applies fn under the slot lock unless the scheduler has stopped,
// then publishes the new snapshot.
func (s *Scheduler) write(fn func()) {
	s.mu.Lock()
	if !s.active.Load() {
		s.mu.Unlock()
		return
	}
	fn()
	s.mu.Unlock()

	s.publish()
}

func (s *Scheduler) publish() {
	now := s.now()
	snap := s.Snapshot(now)
	s.snapshots.Load().Set("dashboard", snap, now)

	for _, st := range snap.Operations {
		if st.Metric != nil {
			s.metrics.OperationCompliance.WithLabelValues(st.Operation).Set(st.Evaluation.Compliance)
		}
	}
	s.metrics.CompliancePercent.Set(snap.Summary.Percent)

	s.listenersMu.RLock()
	listeners := append([]UpdateFunc(nil), s.listeners...)
	s.listenersMu.RUnlock()

	for _, fn := range listeners {
		fn(snap)
	}
}
