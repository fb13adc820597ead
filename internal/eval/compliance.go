package eval

import "math"

// Dimension weights for the compliance score. Tail latency and errors weigh
// more than the median.
const (
	weightP50       = 0.2
	weightP95       = 0.3
	weightP99       = 0.2
	weightErrorRate = 0.3
)

// DimensionScore scores one measured value against its target.
// score = 1 when value <= target, else target/value; 0 when the target is
// not positive and the value exceeds it.
func DimensionScore(value, target float64) float64 {
	if math.IsNaN(value) || value < 0 {
		value = 0
	}
	if value <= target {
		return 1
	}
	if target <= 0 {
		return 0
	}
	return target / value
}

// ComputeCompliance returns the weighted compliance fraction in [0,1]
// for the four measured values against their targets.
func ComputeCompliance(p50, p95, p99, errorRate float64, p50T, p95T, p99T, errT float64) float64 {
	score := weightP50*DimensionScore(p50, p50T) +
		weightP95*DimensionScore(p95, p95T) +
		weightP99*DimensionScore(p99, p99T) +
		weightErrorRate*DimensionScore(errorRate, errT)

	return math.Max(0, math.Min(1, score))
}
