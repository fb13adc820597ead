package scheduler

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/samijaber1/aegis-perf/internal/metrics"
	"github.com/samijaber1/aegis-perf/internal/storage"
)

type fakePruner struct {
	mu      sync.Mutex
	calls   []time.Time
	deleted int64
	err     error
}

func (p *fakePruner) Prune(ctx context.Context, collection string, before time.Time) (int64, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls = append(p.calls, before)
	return p.deleted, p.err
}

func (p *fakePruner) callCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.calls)
}

func TestRetention_PruneOnce(t *testing.T) {
	now := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)
	pruner := &fakePruner{deleted: 7}
	m := metrics.New(prometheus.NewRegistry())

	core, logs := observer.New(zap.InfoLevel)

	r := NewRetention(pruner, storage.CollectionMetrics, 48*time.Hour, time.Hour, zap.New(core), m)
	r.now = func() time.Time { return now }

	n, err := r.PruneOnce(context.Background())
	if err != nil {
		t.Fatalf("PruneOnce failed: %v", err)
	}
	if n != 7 {
		t.Errorf("expected 7 pruned, got %d", n)
	}

	if want := now.Add(-48 * time.Hour); !pruner.calls[0].Equal(want) {
		t.Errorf("expected cutoff %v, got %v", want, pruner.calls[0])
	}

	got := testutil.ToFloat64(m.PrunedDocuments.WithLabelValues(storage.CollectionMetrics))
	if got != 7 {
		t.Errorf("expected pruned counter 7, got %v", got)
	}

	entries := logs.FilterMessage("pruned documents").All()
	if len(entries) != 1 {
		t.Fatalf("expected one prune log entry, got %d", len(entries))
	}
	if age := entries[0].ContextMap()["max_age"]; age != "2d" {
		t.Errorf("expected max_age 2d, got %v", age)
	}
}

func TestRetention_PruneOnceError(t *testing.T) {
	pruner := &fakePruner{err: errors.New("disk full")}
	r := NewRetention(pruner, storage.CollectionMetrics, time.Hour, time.Hour, nil, nil)

	if _, err := r.PruneOnce(context.Background()); err == nil {
		t.Fatal("expected error from pruner")
	}
}

func TestRetention_RunPrunesImmediatelyAndStops(t *testing.T) {
	pruner := &fakePruner{}
	r := NewRetention(pruner, storage.CollectionMetrics, time.Hour, 10*time.Millisecond, nil, nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		r.Run(ctx)
		close(done)
	}()

	deadline := time.Now().Add(2 * time.Second)
	for pruner.callCount() < 2 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if pruner.callCount() < 2 {
		t.Fatalf("expected at least 2 prune passes, got %d", pruner.callCount())
	}

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run did not return after cancel")
	}
}
