// Package local is the in-process telemetry source: a recorder that
// instrumented code feeds with call durations, and a cache tracker.
package local

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"

	"github.com/samijaber1/aegis-perf/internal/telemetry"
)

// Recorder keeps per-operation latency and error counters in its own
// Prometheus registry. Register exposes them to a scrape endpoint; Snapshot
// gathers them back into raw records.
type Recorder struct {
	registry *prometheus.Registry
	latency  *prometheus.SummaryVec
	errors   *prometheus.CounterVec
	lastMs   *prometheus.GaugeVec
	maxMs    *prometheus.GaugeVec

	mu   sync.Mutex
	max  map[string]float64
	seen map[string]time.Time
	now  func() time.Time
}

// NewRecorder creates a recorder with a private registry
func NewRecorder() *Recorder {
	r := &Recorder{
		registry: prometheus.NewRegistry(),
		latency: prometheus.NewSummaryVec(prometheus.SummaryOpts{
			Name:       "aegis_operation_latency_ms",
			Help:       "Operation latency in milliseconds.",
			Objectives: map[float64]float64{0.5: 0.05, 0.95: 0.01, 0.99: 0.001},
			MaxAge:     10 * time.Minute,
		}, []string{"operation"}),
		errors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "aegis_operation_errors_total",
			Help: "Failed operation calls.",
		}, []string{"operation"}),
		lastMs: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "aegis_operation_last_ms",
			Help: "Latency of the most recent call in milliseconds.",
		}, []string{"operation"}),
		maxMs: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "aegis_operation_max_ms",
			Help: "Slowest call seen in milliseconds.",
		}, []string{"operation"}),
		max:  make(map[string]float64),
		seen: make(map[string]time.Time),
		now:  time.Now,
	}
	r.registry.MustRegister(r.latency, r.errors, r.lastMs, r.maxMs)
	return r
}

// Register exposes the recorder's collectors on reg as well
func (r *Recorder) Register(reg prometheus.Registerer) error {
	for _, c := range []prometheus.Collector{r.latency, r.errors, r.lastMs, r.maxMs} {
		if err := reg.Register(c); err != nil {
			return fmt.Errorf("register recorder metrics: %w", err)
		}
	}
	return nil
}

// Observe records one call of op. A non-nil err counts as a failure.
func (r *Recorder) Observe(op string, d time.Duration, err error) {
	op = telemetry.ResolveOperation(op)
	if op == "" {
		return
	}
	ms := float64(d) / float64(time.Millisecond)
	if ms < 0 {
		ms = 0
	}

	r.latency.WithLabelValues(op).Observe(ms)
	r.lastMs.WithLabelValues(op).Set(ms)
	if err != nil {
		r.errors.WithLabelValues(op).Inc()
	} else {
		// materialize the series so the error count reads 0, not missing
		r.errors.WithLabelValues(op).Add(0)
	}

	r.mu.Lock()
	if ms > r.max[op] {
		r.max[op] = ms
		r.maxMs.WithLabelValues(op).Set(ms)
	}
	r.seen[op] = r.now()
	r.mu.Unlock()
}

// Time runs fn and records its duration and error under op
func (r *Recorder) Time(op string, fn func() error) error {
	start := time.Now()
	err := fn()
	r.Observe(op, time.Since(start), err)
	return err
}

// Snapshot gathers the recorder's series into one raw record per operation,
// sorted by operation.
func (r *Recorder) Snapshot(ctx context.Context) ([]telemetry.RawRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	families, err := r.registry.Gather()
	if err != nil {
		return nil, fmt.Errorf("gather local metrics: %w", err)
	}

	byOp := make(map[string]telemetry.RawRecord)
	record := func(m *dto.Metric) telemetry.RawRecord {
		op := labelValue(m, "operation")
		rec, ok := byOp[op]
		if !ok {
			rec = telemetry.RawRecord{"operation": op}
			byOp[op] = rec
		}
		return rec
	}

	for _, mf := range families {
		for _, m := range mf.GetMetric() {
			rec := record(m)
			switch mf.GetName() {
			case "aegis_operation_latency_ms":
				s := m.GetSummary()
				count := s.GetSampleCount()
				rec["count"] = count
				if count > 0 {
					rec["avgMs"] = s.GetSampleSum() / float64(count)
				}
				for _, q := range s.GetQuantile() {
					switch q.GetQuantile() {
					case 0.5:
						rec["p50"] = q.GetValue()
					case 0.95:
						rec["p95"] = q.GetValue()
					case 0.99:
						rec["p99"] = q.GetValue()
					}
				}
			case "aegis_operation_errors_total":
				rec["errorCount"] = m.GetCounter().GetValue()
			case "aegis_operation_last_ms":
				rec["lastMs"] = m.GetGauge().GetValue()
			case "aegis_operation_max_ms":
				rec["maxMs"] = m.GetGauge().GetValue()
			}
		}
	}

	r.mu.Lock()
	for op, rec := range byOp {
		if ts, ok := r.seen[op]; ok {
			rec["timestamp"] = ts
		}
	}
	r.mu.Unlock()

	ops := make([]string, 0, len(byOp))
	for op := range byOp {
		ops = append(ops, op)
	}
	sort.Strings(ops)

	out := make([]telemetry.RawRecord, 0, len(ops))
	for _, op := range ops {
		out = append(out, byOp[op])
	}
	return out, nil
}

func labelValue(m *dto.Metric, name string) string {
	for _, lp := range m.GetLabel() {
		if lp.GetName() == name {
			return lp.GetValue()
		}
	}
	return ""
}
