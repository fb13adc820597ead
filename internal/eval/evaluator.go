package eval

import (
	"github.com/samijaber1/aegis-perf/internal/slo"
	"github.com/samijaber1/aegis-perf/internal/telemetry"
)

// Breaches lists the dimensions where the metric exceeds its target, in
// Dimensions order. A nil metric has no breaches.
func Breaches(p *telemetry.MetricPoint, def slo.Definition) []Dimension {
	if p == nil {
		return nil
	}

	var breached []Dimension
	if p.P50 > def.P50Target {
		breached = append(breached, DimensionP50)
	}
	if p.P95 > def.P95Target {
		breached = append(breached, DimensionP95)
	}
	if p.P99 > def.P99Target {
		breached = append(breached, DimensionP99)
	}
	if p.ErrorRate > def.ErrorRateTarget {
		breached = append(breached, DimensionErrorRate)
	}
	return breached
}

// CountFailures returns how many of the four dimensions breach (0-4)
func CountFailures(p *telemetry.MetricPoint, def slo.Definition) int {
	return len(Breaches(p, def))
}

// Classify maps a failure count onto a health state
func Classify(p *telemetry.MetricPoint, failures int) Health {
	switch {
	case p == nil:
		return HealthUnknown
	case failures == 0:
		return HealthGreen
	case failures <= 2:
		return HealthYellow
	default:
		return HealthRed
	}
}

// Compliance returns the weighted compliance fraction for a metric. A missing
// metric scores 0.
func Compliance(p *telemetry.MetricPoint, def slo.Definition) float64 {
	if p == nil {
		return 0
	}
	return ComputeCompliance(p.P50, p.P95, p.P99, p.ErrorRate,
		def.P50Target, def.P95Target, def.P99Target, def.ErrorRateTarget)
}

// Evaluate performs a complete evaluation of one operation
func Evaluate(p *telemetry.MetricPoint, def slo.Definition) Result {
	breached := Breaches(p, def)
	return Result{
		Operation:  def.Operation,
		Failures:   len(breached),
		Breached:   breached,
		Violating:  len(breached) > 0,
		Compliance: Compliance(p, def),
		Health:     Classify(p, len(breached)),
		HasMetric:  p != nil,
	}
}

// Summarize counts compliant operations among those with both a definition
// and a current metric.
func Summarize(latest map[string]telemetry.MetricPoint, table *slo.Table) Summary {
	var s Summary
	for _, op := range table.Operations() {
		p, ok := latest[op]
		if !ok {
			continue
		}
		def, _ := table.Get(op)
		s.Total++
		if CountFailures(&p, def) == 0 {
			s.Compliant++
		}
	}

	if s.Total > 0 {
		s.Percent = float64(s.Compliant) / float64(s.Total) * 100
	}
	return s
}
