// Package dashboard chains normalized telemetry through merge, evaluation,
// bucketing and violation derivation into one immutable snapshot.
package dashboard

import (
	"time"

	"github.com/samijaber1/aegis-perf/internal/eval"
	"github.com/samijaber1/aegis-perf/internal/merge"
	"github.com/samijaber1/aegis-perf/internal/slo"
	"github.com/samijaber1/aegis-perf/internal/telemetry"
	"github.com/samijaber1/aegis-perf/internal/trend"
	"github.com/samijaber1/aegis-perf/internal/violation"
)

// Inputs is everything the refresh loops have collected so far
type Inputs struct {
	Remote     []telemetry.MetricPoint
	Local      []telemetry.MetricPoint
	Violations []violation.Point // persisted records, already normalized
	CacheStats telemetry.CacheStats
	HitRates   []trend.Point
	Errors     map[string]string
}

// OperationStatus is the per-operation view of the dashboard
type OperationStatus struct {
	Operation         string                 `json:"operation"`
	DisplayName       string                 `json:"displayName"`
	Key               bool                   `json:"key"`
	Targets           slo.Definition         `json:"targets"`
	Metric            *telemetry.MetricPoint `json:"metric,omitempty"`
	Evaluation        eval.Result            `json:"evaluation"`
	CompliancePercent float64                `json:"compliancePercent"`
}

// Snapshot is a fully derived dashboard state
type Snapshot struct {
	GeneratedAt  time.Time                        `json:"generatedAt"`
	Latest       map[string]telemetry.MetricPoint `json:"latest"`
	Operations   []OperationStatus                `json:"operations"`
	Summary      eval.Summary                     `json:"summary"`
	Trends       trend.Series                     `json:"trends"`
	Targets      trend.Overlay                    `json:"targets"`
	Violations   []violation.Point                `json:"violations"`
	Slowest      []violation.Ranked               `json:"slowest"`
	CacheStats   telemetry.CacheStats             `json:"cacheStats"`
	HitRateTrend []trend.Point                    `json:"hitRateTrend"`
	Errors       map[string]string                `json:"errors,omitempty"`
}

// Build derives a snapshot from in. It never mutates in and has no side
// effects, so it can run on every state change.
func Build(in Inputs, table *slo.Table, now time.Time) *Snapshot {
	latest := merge.Latest(in.Remote, in.Local)
	keyOps := table.KeyOperations()

	series := trend.BuildHourly(merge.PreferRemote(in.Remote, in.Local), now)

	snap := &Snapshot{
		GeneratedAt:  now,
		Latest:       latest,
		Operations:   operations(latest, table, keyOps),
		Summary:      eval.Summarize(latest, table),
		Trends:       series,
		Targets:      trend.TargetOverlay(series, table, keyOps),
		Violations:   violation.Select(in.Violations, latest, table, keyOps),
		Slowest:      violation.Slowest(latest, table),
		CacheStats:   in.CacheStats,
		HitRateTrend: append([]trend.Point(nil), in.HitRates...),
	}

	if len(in.Errors) > 0 {
		snap.Errors = make(map[string]string, len(in.Errors))
		for k, v := range in.Errors {
			snap.Errors[k] = v
		}
	}
	return snap
}

func operations(latest map[string]telemetry.MetricPoint, table *slo.Table, keyOps []string) []OperationStatus {
	key := make(map[string]bool, len(keyOps))
	for _, op := range keyOps {
		key[op] = true
	}

	ops := table.Operations()
	out := make([]OperationStatus, 0, len(ops))
	for _, op := range ops {
		def, _ := table.Get(op)

		var metric *telemetry.MetricPoint
		if p, ok := latest[op]; ok {
			metric = &p
		}

		res := eval.Evaluate(metric, def)
		out = append(out, OperationStatus{
			Operation:         op,
			DisplayName:       table.DisplayName(op),
			Key:               key[op],
			Targets:           def,
			Metric:            metric,
			Evaluation:        res,
			CompliancePercent: res.Compliance * 100,
		})
	}
	return out
}

// Operation finds one operation's status
func (s *Snapshot) Operation(op string) (OperationStatus, bool) {
	if s == nil {
		return OperationStatus{}, false
	}
	for _, st := range s.Operations {
		if st.Operation == op {
			return st, true
		}
	}
	return OperationStatus{}, false
}
