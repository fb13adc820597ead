package eval

// Health is the tri-state classification of an operation, plus unknown
// when no metric is available.
type Health string

const (
	HealthGreen   Health = "green"
	HealthYellow  Health = "yellow"
	HealthRed     Health = "red"
	HealthUnknown Health = "unknown"
)

// Dimension names a measured SLO dimension
type Dimension string

const (
	DimensionP50       Dimension = "p50"
	DimensionP95       Dimension = "p95"
	DimensionP99       Dimension = "p99"
	DimensionErrorRate Dimension = "errorRate"
)

// Dimensions lists every dimension in evaluation order
var Dimensions = []Dimension{DimensionP50, DimensionP95, DimensionP99, DimensionErrorRate}

// Result represents the evaluation of one operation against its SLO
type Result struct {
	Operation  string      `json:"operation"`
	Failures   int         `json:"failures"`
	Breached   []Dimension `json:"breached,omitempty"`
	Violating  bool        `json:"violating"`
	Compliance float64     `json:"compliance"` // fraction in [0,1]
	Health     Health      `json:"health"`
	HasMetric  bool        `json:"hasMetric"`
}

// Summary aggregates compliance across operations with data
type Summary struct {
	Compliant int     `json:"compliant"`
	Total     int     `json:"total"`
	Percent   float64 `json:"percent"`
}
