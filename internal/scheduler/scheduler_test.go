package scheduler

import (
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/samijaber1/aegis-perf/internal/adapter/local"
	"github.com/samijaber1/aegis-perf/internal/auth"
	"github.com/samijaber1/aegis-perf/internal/dashboard"
	"github.com/samijaber1/aegis-perf/internal/slo"
	"github.com/samijaber1/aegis-perf/internal/storage"
	"github.com/samijaber1/aegis-perf/internal/stream"
	"github.com/samijaber1/aegis-perf/internal/telemetry"
)

var testNow = time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)

type fakeSub struct {
	query        stream.Query
	onSnapshot   stream.SnapshotFunc
	onError      stream.ErrorFunc
	unsubscribed atomic.Bool
}

type fakeSubscriber struct {
	mu   sync.Mutex
	subs map[string]*fakeSub
	fail map[string]error
}

func newFakeSubscriber() *fakeSubscriber {
	return &fakeSubscriber{subs: map[string]*fakeSub{}, fail: map[string]error{}}
}

func (f *fakeSubscriber) Subscribe(ctx context.Context, q stream.Query, onSnapshot stream.SnapshotFunc, onError stream.ErrorFunc) (stream.Unsubscribe, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if err := f.fail[q.Collection]; err != nil {
		return nil, err
	}
	sub := &fakeSub{query: q, onSnapshot: onSnapshot, onError: onError}
	f.subs[q.Collection] = sub
	return func() { sub.unsubscribed.Store(true) }, nil
}

func (f *fakeSubscriber) get(collection string) *fakeSub {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.subs[collection]
}

type fakeLocal struct {
	mu    sync.Mutex
	recs  []telemetry.RawRecord
	err   error
	calls atomic.Int32
}

func (f *fakeLocal) Snapshot(ctx context.Context) ([]telemetry.RawRecord, error) {
	f.calls.Add(1)
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	return append([]telemetry.RawRecord(nil), f.recs...), nil
}

func (f *fakeLocal) set(recs []telemetry.RawRecord, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.recs, f.err = recs, err
}

type failingAuthorizer struct{}

func (failingAuthorizer) Authorize(ctx context.Context, _ auth.Session) (bool, error) {
	return false, errors.New("directory unreachable")
}

func testTable() *slo.Table {
	return slo.NewTable([]slo.Definition{
		{Operation: "checkin_query", P50Target: 150, P95Target: 400, P99Target: 800, ErrorRateTarget: 0.02, Key: true},
		{Operation: "venue_search", P50Target: 250, P95Target: 700, P99Target: 1500, ErrorRateTarget: 0.02, Key: true},
	})
}

func dashboardSession() auth.Session {
	return auth.Session{UserID: "ops", Scopes: map[string]bool{auth.ScopeDashboard: true}}
}

func setupScheduler(t *testing.T, src LocalSource, cache CacheSource, subs stream.Subscriber, authz auth.Authorizer) *Scheduler {
	t.Helper()
	cfg := DefaultConfig()
	cfg.PollInterval = time.Hour
	s := NewScheduler(testTable(), src, cache, subs, authz, cfg, nil, nil).
		WithClock(func() time.Time { return testNow })
	t.Cleanup(s.Stop)
	return s
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func doc(id string, fields telemetry.RawRecord) storage.Document {
	return storage.Document{ID: id, Fields: fields, Timestamp: testNow, CreatedAt: testNow}
}

func TestStart_AccessDenied(t *testing.T) {
	subs := newFakeSubscriber()
	src := &fakeLocal{}
	s := setupScheduler(t, src, nil, subs, auth.ScopeAuthorizer{Scope: auth.ScopeDashboard})

	err := s.Start(context.Background(), auth.Session{UserID: "guest"})
	if !errors.Is(err, ErrAccessDenied) {
		t.Fatalf("expected ErrAccessDenied, got %v", err)
	}
	if s.Active() {
		t.Error("expected scheduler to stay inactive")
	}
	if subs.get(storage.CollectionMetrics) != nil || subs.get(storage.CollectionViolations) != nil {
		t.Error("expected no subscriptions")
	}
	if src.calls.Load() != 0 {
		t.Error("expected no local poll")
	}
}

func TestStart_AuthorizerError(t *testing.T) {
	s := setupScheduler(t, &fakeLocal{}, nil, newFakeSubscriber(), failingAuthorizer{})

	err := s.Start(context.Background(), dashboardSession())
	if err == nil || errors.Is(err, ErrAccessDenied) {
		t.Fatalf("expected wrapped authorizer error, got %v", err)
	}
	if !strings.Contains(err.Error(), "directory unreachable") {
		t.Errorf("expected cause in error, got %v", err)
	}
}

func TestStart_Subscriptions(t *testing.T) {
	subs := newFakeSubscriber()
	src := &fakeLocal{}
	s := setupScheduler(t, src, nil, subs, auth.ScopeAuthorizer{Scope: auth.ScopeDashboard})

	if err := s.Start(context.Background(), dashboardSession()); err != nil {
		t.Fatalf("start: %v", err)
	}

	if err := s.Start(context.Background(), dashboardSession()); !errors.Is(err, ErrRunning) {
		t.Errorf("expected ErrRunning on second start, got %v", err)
	}

	m := subs.get(storage.CollectionMetrics)
	if m == nil {
		t.Fatal("expected metrics subscription")
	}
	if m.query.Window != 24*time.Hour || !m.query.Descending || m.query.Limit != 500 {
		t.Errorf("unexpected metrics query %+v", m.query)
	}

	v := subs.get(storage.CollectionViolations)
	if v == nil {
		t.Fatal("expected violations subscription")
	}
	if v.query.Window != 0 || !v.query.Descending || v.query.Limit != 20 {
		t.Errorf("unexpected violations query %+v", v.query)
	}

	waitFor(t, "immediate poll", func() bool { return src.calls.Load() == 1 })
}

func TestRemoteAndLocal_Merge(t *testing.T) {
	subs := newFakeSubscriber()
	src := &fakeLocal{recs: []telemetry.RawRecord{
		{"operation": "venue_search", "p50": 90, "p95": 200, "p99": 400, "timestamp": testNow.Add(-time.Minute).UnixMilli()},
	}}
	s := setupScheduler(t, src, nil, subs, nil)

	if err := s.Start(context.Background(), auth.Session{}); err != nil {
		t.Fatalf("start: %v", err)
	}
	waitFor(t, "local points", func() bool { return len(s.Inputs().Local) == 1 })

	subs.get(storage.CollectionMetrics).onSnapshot([]storage.Document{
		doc("a", telemetry.RawRecord{"name": "checkins_query", "p50Ms": "180", "p95": 390, "p99": 750, "errors": 50, "count": 1000, "timestamp": testNow.Add(-2 * time.Minute).Format(time.RFC3339)}),
	})

	snap := s.Snapshot(testNow)
	checkin, ok := snap.Latest["checkin_query"]
	if !ok {
		t.Fatal("expected checkin_query from remote stream")
	}
	if checkin.Source != telemetry.SourceRemote || checkin.P50 != 180 {
		t.Errorf("unexpected remote point %+v", checkin)
	}
	if snap.Latest["venue_search"].Source != telemetry.SourceLocal {
		t.Error("expected venue_search from local source")
	}

	st, _ := snap.Operation("checkin_query")
	if st.Evaluation.Health != "yellow" {
		t.Errorf("expected yellow, got %s", st.Evaluation.Health)
	}
	if len(snap.Violations) != 2 {
		t.Errorf("expected 2 derived violations, got %d", len(snap.Violations))
	}
}

func TestRemote_KeepsStoredTimestamp(t *testing.T) {
	subs := newFakeSubscriber()
	src := &fakeLocal{recs: []telemetry.RawRecord{
		{"operation": "checkin_query", "p50": 120, "p95": 300, "p99": 600, "timestamp": testNow.Add(-time.Minute).UnixMilli()},
	}}
	s := setupScheduler(t, src, nil, subs, nil)

	if err := s.Start(context.Background(), auth.Session{}); err != nil {
		t.Fatalf("start: %v", err)
	}
	waitFor(t, "local points", func() bool { return len(s.Inputs().Local) == 1 })

	stored := testNow.Add(-20 * time.Hour)
	old := storage.Document{
		ID:        "old",
		Fields:    telemetry.RawRecord{"operation": "checkin_query", "p50": 100},
		Timestamp: stored,
		CreatedAt: stored,
	}
	// redelivery must not restamp the document
	for i := 0; i < 2; i++ {
		subs.get(storage.CollectionMetrics).onSnapshot([]storage.Document{old})
	}

	in := s.Inputs()
	if len(in.Remote) != 1 || !in.Remote[0].Timestamp.Equal(stored) {
		t.Fatalf("expected remote point at %v, got %+v", stored, in.Remote)
	}

	snap := s.Snapshot(testNow)
	if got := snap.Latest["checkin_query"]; got.Source != telemetry.SourceLocal {
		t.Errorf("expected newer local point to win, got %+v", got)
	}

	p50 := snap.Trends.P50
	if len(p50) != 24 {
		t.Fatalf("expected 24 buckets, got %d", len(p50))
	}
	if p50[3].Value != 100 {
		t.Errorf("expected old sample in bucket 3, got %v", p50[3].Value)
	}
	if p50[23].Value != 0 {
		t.Errorf("expected current bucket empty, got %v", p50[23].Value)
	}
}

func TestPersistedViolations_UseStoredTimestamp(t *testing.T) {
	subs := newFakeSubscriber()
	s := setupScheduler(t, nil, nil, subs, nil)

	if err := s.Start(context.Background(), auth.Session{}); err != nil {
		t.Fatalf("start: %v", err)
	}

	stored := testNow.Add(-3 * time.Hour)
	subs.get(storage.CollectionViolations).onSnapshot([]storage.Document{
		{ID: "v1", Fields: telemetry.RawRecord{"operation": "venue_search", "type": "p95"}, Timestamp: stored, CreatedAt: stored},
	})

	in := s.Inputs()
	if len(in.Violations) != 1 || !in.Violations[0].Timestamp.Equal(stored) {
		t.Errorf("expected violation at %v, got %+v", stored, in.Violations)
	}
}

func TestPersistedViolations(t *testing.T) {
	subs := newFakeSubscriber()
	s := setupScheduler(t, nil, nil, subs, nil)

	if err := s.Start(context.Background(), auth.Session{}); err != nil {
		t.Fatalf("start: %v", err)
	}

	subs.get(storage.CollectionViolations).onSnapshot([]storage.Document{
		doc("v1", telemetry.RawRecord{"operation": "venue_search", "type": "p99", "severity": "LOW"}),
		doc("v2", telemetry.RawRecord{"type": "p50"}),
	})

	in := s.Inputs()
	if len(in.Violations) != 1 {
		t.Fatalf("expected 1 violation, got %d", len(in.Violations))
	}
	if !in.Violations[0].Timestamp.Equal(testNow) {
		t.Errorf("expected ingestion-time fallback, got %v", in.Violations[0].Timestamp)
	}
}

func TestStreamError_StopsOnlyThatStream(t *testing.T) {
	subs := newFakeSubscriber()
	s := setupScheduler(t, nil, nil, subs, nil)

	if err := s.Start(context.Background(), auth.Session{}); err != nil {
		t.Fatalf("start: %v", err)
	}

	subs.get(storage.CollectionMetrics).onError(errors.New("permission denied"))
	subs.get(storage.CollectionViolations).onSnapshot([]storage.Document{
		doc("v1", telemetry.RawRecord{"operation": "venue_search", "type": "p95"}),
	})

	in := s.Inputs()
	msg := in.Errors[SlotMetrics]
	if !strings.Contains(msg, "permission denied") {
		t.Errorf("expected metrics error recorded, got %q", msg)
	}
	if _, ok := in.Errors[SlotViolations]; ok {
		t.Error("expected violations stream unaffected")
	}
	if len(in.Violations) != 1 {
		t.Errorf("expected violations to keep flowing, got %d", len(in.Violations))
	}
}

func TestSubscribeFailure_Recorded(t *testing.T) {
	subs := newFakeSubscriber()
	subs.fail[storage.CollectionViolations] = errors.New("collection missing")
	s := setupScheduler(t, nil, nil, subs, nil)

	if err := s.Start(context.Background(), auth.Session{}); err != nil {
		t.Fatalf("start should not fail on a stream error: %v", err)
	}

	if !strings.Contains(s.Inputs().Errors[SlotViolations], "collection missing") {
		t.Errorf("expected violations error, got %v", s.Inputs().Errors)
	}
	if subs.get(storage.CollectionMetrics) == nil {
		t.Error("expected metrics stream to still subscribe")
	}
}

func TestPoll_ErrorsAndRecovery(t *testing.T) {
	src := &fakeLocal{err: errors.New("recorder offline")}
	s := setupScheduler(t, src, nil, newFakeSubscriber(), nil)

	if err := s.Start(context.Background(), auth.Session{}); err != nil {
		t.Fatalf("start: %v", err)
	}
	waitFor(t, "local error", func() bool {
		return strings.Contains(s.Inputs().Errors[SlotLocal], "recorder offline")
	})

	src.set([]telemetry.RawRecord{{"operation": "venue_search", "p95": 100}}, nil)
	s.poll(context.Background())

	in := s.Inputs()
	if _, ok := in.Errors[SlotLocal]; ok {
		t.Error("expected local error cleared after a successful poll")
	}
	if len(in.Local) != 1 {
		t.Errorf("expected 1 local point, got %d", len(in.Local))
	}
}

func TestPoll_HitRateRing(t *testing.T) {
	src := &fakeLocal{}
	tracker := local.NewCacheTracker()
	tracker.Hit()
	tracker.Miss()
	tracker.SetSize(64)

	s := setupScheduler(t, src, tracker, newFakeSubscriber(), nil)
	if err := s.Start(context.Background(), auth.Session{}); err != nil {
		t.Fatalf("start: %v", err)
	}
	waitFor(t, "first sample", func() bool { return len(s.Inputs().HitRates) == 1 })

	for i := 0; i < 29; i++ {
		s.poll(context.Background())
	}

	in := s.Inputs()
	if len(in.HitRates) != 24 {
		t.Fatalf("expected hit-rate ring capped at 24, got %d", len(in.HitRates))
	}
	if in.HitRates[0].Value != 0.5 {
		t.Errorf("expected sample 0.5, got %v", in.HitRates[0].Value)
	}
	if in.CacheStats.Hits != 1 || in.CacheStats.Misses != 1 {
		t.Errorf("unexpected cache stats %+v", in.CacheStats)
	}
}

func TestStop_NoMutationAfterStop(t *testing.T) {
	subs := newFakeSubscriber()
	s := setupScheduler(t, nil, nil, subs, nil)

	if err := s.Start(context.Background(), auth.Session{}); err != nil {
		t.Fatalf("start: %v", err)
	}
	metricsSub := subs.get(storage.CollectionMetrics)

	s.Stop()

	if !metricsSub.unsubscribed.Load() || !subs.get(storage.CollectionViolations).unsubscribed.Load() {
		t.Error("expected both streams unsubscribed")
	}

	metricsSub.onSnapshot([]storage.Document{doc("late", telemetry.RawRecord{"operation": "venue_search", "p95": 1})})
	metricsSub.onError(errors.New("late error"))

	in := s.Inputs()
	if len(in.Remote) != 0 || len(in.Errors) != 0 {
		t.Errorf("expected no writes after stop, got %+v", in)
	}

	// stopping twice is a no-op
	s.Stop()
}

func TestRestart_ClearsSlots(t *testing.T) {
	subs := newFakeSubscriber()
	s := setupScheduler(t, nil, nil, subs, nil)

	if err := s.Start(context.Background(), auth.Session{}); err != nil {
		t.Fatalf("start: %v", err)
	}
	subs.get(storage.CollectionMetrics).onSnapshot([]storage.Document{
		doc("a", telemetry.RawRecord{"operation": "venue_search", "p95": 100}),
	})
	subs.get(storage.CollectionViolations).onError(errors.New("quota exceeded"))

	if in := s.Inputs(); len(in.Remote) != 1 || in.Errors[SlotViolations] == "" {
		t.Fatalf("expected populated slots before restart, got %+v", in)
	}

	s.Stop()
	if err := s.Start(context.Background(), auth.Session{}); err != nil {
		t.Fatalf("restart: %v", err)
	}

	in := s.Inputs()
	if len(in.Remote) != 0 || len(in.Violations) != 0 || len(in.Errors) != 0 {
		t.Errorf("expected empty slots after restart, got %+v", in)
	}
	if _, ok := s.Cached().Latest["venue_search"]; ok {
		t.Error("expected cached snapshot from the previous run to be dropped")
	}
}

func TestSetSnapshotObserver_ConcurrentWithReads(t *testing.T) {
	subs := newFakeSubscriber()
	s := setupScheduler(t, nil, nil, subs, nil)

	if err := s.Start(context.Background(), auth.Session{}); err != nil {
		t.Fatalf("start: %v", err)
	}

	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			for j := 0; j < 50; j++ {
				s.Cached()
			}
		}()
		go func() {
			defer wg.Done()
			for j := 0; j < 50; j++ {
				s.SetSnapshotObserver(&countingObserver{})
			}
		}()
	}
	wg.Wait()

	obs := &countingObserver{}
	s.SetSnapshotObserver(obs)
	s.Cached()
	if obs.misses.Load() != 1 {
		t.Errorf("expected the swapped cache to start empty, got %d misses", obs.misses.Load())
	}
}

func TestOnUpdate(t *testing.T) {
	subs := newFakeSubscriber()
	s := setupScheduler(t, nil, nil, subs, nil)

	var got []*dashboard.Snapshot
	var mu sync.Mutex
	s.OnUpdate(func(snap *dashboard.Snapshot) {
		mu.Lock()
		got = append(got, snap)
		mu.Unlock()
	})

	if err := s.Start(context.Background(), auth.Session{}); err != nil {
		t.Fatalf("start: %v", err)
	}
	subs.get(storage.CollectionMetrics).onSnapshot([]storage.Document{
		doc("a", telemetry.RawRecord{"operation": "venue_search", "p95": 100, "timestamp": testNow.UnixMilli()}),
	})

	mu.Lock()
	defer mu.Unlock()
	if len(got) != 1 {
		t.Fatalf("expected 1 update, got %d", len(got))
	}
	if _, ok := got[0].Latest["venue_search"]; !ok {
		t.Error("expected update to carry the new point")
	}
}

func TestCached_ReportsToObserver(t *testing.T) {
	subs := newFakeSubscriber()
	s := setupScheduler(t, nil, nil, subs, nil)
	obs := &countingObserver{}
	s.SetSnapshotObserver(obs)

	first := s.Cached()
	second := s.Cached()
	if first != second {
		t.Error("expected cached snapshot reuse within TTL")
	}
	if obs.misses.Load() != 1 || obs.hits.Load() != 1 {
		t.Errorf("expected 1 miss then 1 hit, got %d/%d", obs.misses.Load(), obs.hits.Load())
	}

	if err := s.Start(context.Background(), auth.Session{}); err != nil {
		t.Fatalf("start: %v", err)
	}
	subs.get(storage.CollectionMetrics).onSnapshot([]storage.Document{
		doc("a", telemetry.RawRecord{"operation": "venue_search", "p95": 100, "timestamp": testNow.UnixMilli()}),
	})

	if _, ok := s.Cached().Latest["venue_search"]; !ok {
		t.Error("expected a state change to replace the cached snapshot")
	}
}

type fakeDefinitionStore struct {
	stored []string
}

func (f *fakeDefinitionStore) StoreSLODefinition(ctx context.Context, def slo.Definition) error {
	if def.Operation == "venue_search" {
		return errors.New("disk full")
	}
	f.stored = append(f.stored, def.Operation)
	return nil
}

func TestPersistDefinitions(t *testing.T) {
	s := setupScheduler(t, nil, nil, nil, nil)
	store := &fakeDefinitionStore{}

	if n := s.PersistDefinitions(context.Background(), store); n != 1 {
		t.Errorf("expected 1 stored definition, got %d", n)
	}
	if len(store.stored) != 1 || store.stored[0] != "checkin_query" {
		t.Errorf("unexpected stored definitions %v", store.stored)
	}
}
