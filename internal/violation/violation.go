// Package violation produces the ranked list of SLO violation events and the
// slowest-operations ranking.
//
// Violations come from one of two paths: persisted records from the document
// store when any exist, or points derived from the current breaches of key
// operations otherwise. Derived points are recomputed on every refresh and
// never written back.
package violation

import (
	"sort"
	"strings"
	"time"

	"github.com/samijaber1/aegis-perf/internal/eval"
	"github.com/samijaber1/aegis-perf/internal/slo"
	"github.com/samijaber1/aegis-perf/internal/telemetry"
)

const (
	// MaxViolations caps the violation list
	MaxViolations = 20

	// MaxSlowest caps the slowest-operations ranking
	MaxSlowest = 10
)

// Severity is the four-level violation severity
type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// derivedSeverity is the fixed mapping used for live-derived violations
var derivedSeverity = map[eval.Dimension]Severity{
	eval.DimensionP50:       SeverityMedium,
	eval.DimensionP95:       SeverityHigh,
	eval.DimensionP99:       SeverityHigh,
	eval.DimensionErrorRate: SeverityCritical,
}

// Point is a single breach event
type Point struct {
	Operation   string         `json:"operation"`
	DisplayName string         `json:"displayName"`
	Type        eval.Dimension `json:"type"`
	Timestamp   time.Time      `json:"timestamp"`
	Severity    Severity       `json:"severity"`
	Derived     bool           `json:"derived"`
}

// Ranked is one entry of the slowest-operations ranking
type Ranked struct {
	Operation   string  `json:"operation"`
	DisplayName string  `json:"displayName"`
	P95         float64 `json:"p95"`
	P95Target   float64 `json:"p95Target"`
	Violating   bool    `json:"violating"`
}

// NormalizeSeverity maps free-form severity text onto the enum; unrecognized
// values become medium.
func NormalizeSeverity(s string) Severity {
	switch Severity(strings.ToLower(strings.TrimSpace(s))) {
	case SeverityLow:
		return SeverityLow
	case SeverityMedium:
		return SeverityMedium
	case SeverityHigh:
		return SeverityHigh
	case SeverityCritical:
		return SeverityCritical
	default:
		return SeverityMedium
	}
}

// normalizeType maps a persisted type field onto a dimension
func normalizeType(s string) eval.Dimension {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "p50":
		return eval.DimensionP50
	case "p95":
		return eval.DimensionP95
	case "p99":
		return eval.DimensionP99
	case "errorrate", "error_rate", "errors":
		return eval.DimensionErrorRate
	default:
		return eval.Dimension(s)
	}
}

// FromRecords surfaces persisted violation records. Records without an
// operation are dropped; timestamps that cannot be resolved fall back to
// ingestedAt.
func FromRecords(recs []telemetry.RawRecord, table *slo.Table, ingestedAt time.Time) []Point {
	points := make([]Point, 0, len(recs))
	for _, rec := range recs {
		if p, ok := FromRecord(rec, table, ingestedAt); ok {
			points = append(points, p)
		}
	}
	return points
}

// FromRecord converts one persisted violation record
func FromRecord(rec telemetry.RawRecord, table *slo.Table, ingestedAt time.Time) (Point, bool) {
	name, _ := rec["operation"].(string)
	op := telemetry.ResolveOperation(name)
	if op == "" {
		return Point{}, false
	}

	kind, _ := rec["type"].(string)
	sev, _ := rec["severity"].(string)

	ts := ingestedAt
	if ms := telemetry.CoerceTimestamp(rec.Timestamp()); ms > 0 {
		ts = time.UnixMilli(ms)
	}

	return Point{
		Operation:   op,
		DisplayName: table.DisplayName(op),
		Type:        normalizeType(kind),
		Timestamp:   ts,
		Severity:    NormalizeSeverity(sev),
	}, true
}

// Derive emits one Point per breached dimension for every key operation with
// a current metric and a definition.
func Derive(latest map[string]telemetry.MetricPoint, table *slo.Table, keyOps []string) []Point {
	var points []Point
	seen := make(map[string]bool, len(keyOps))
	for _, op := range keyOps {
		if seen[op] {
			continue
		}
		seen[op] = true

		p, ok := latest[op]
		if !ok {
			continue
		}
		def, ok := table.Get(op)
		if !ok {
			continue
		}

		for _, dim := range eval.Breaches(&p, def) {
			points = append(points, Point{
				Operation:   op,
				DisplayName: table.DisplayName(op),
				Type:        dim,
				Timestamp:   p.Timestamp,
				Severity:    derivedSeverity[dim],
				Derived:     true,
			})
		}
	}
	return points
}

// Rank sorts points most recent first and caps the list at MaxViolations.
// The input slice is not modified.
func Rank(points []Point) []Point {
	out := make([]Point, len(points))
	copy(out, points)

	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Timestamp.After(out[j].Timestamp)
	})

	if len(out) > MaxViolations {
		out = out[:MaxViolations]
	}
	return out
}

// Select returns the persisted violations when there are any, otherwise the
// live-derived ones, ranked and capped.
func Select(persisted []Point, latest map[string]telemetry.MetricPoint, table *slo.Table, keyOps []string) []Point {
	if len(persisted) > 0 {
		return Rank(persisted)
	}
	return Rank(Derive(latest, table, keyOps))
}

// Slowest ranks operations that have both a metric and a definition by
// descending p95 and keeps the top MaxSlowest.
func Slowest(latest map[string]telemetry.MetricPoint, table *slo.Table) []Ranked {
	var ranked []Ranked
	for _, op := range table.Operations() {
		p, ok := latest[op]
		if !ok {
			continue
		}
		def, _ := table.Get(op)
		ranked = append(ranked, Ranked{
			Operation:   op,
			DisplayName: table.DisplayName(op),
			P95:         p.P95,
			P95Target:   def.P95Target,
			Violating:   p.P95 > def.P95Target,
		})
	}

	sort.SliceStable(ranked, func(i, j int) bool {
		return ranked[i].P95 > ranked[j].P95
	})

	if len(ranked) > MaxSlowest {
		ranked = ranked[:MaxSlowest]
	}
	return ranked
}
