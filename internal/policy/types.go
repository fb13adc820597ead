package policy

import "github.com/samijaber1/aegis-perf/internal/eval"

// Decision represents a gate decision
type Decision string

const (
	DecisionALLOW Decision = "ALLOW"
	DecisionWARN  Decision = "WARN"
	DecisionBLOCK Decision = "BLOCK"
)

// DimensionResult represents the check of one measured dimension
type DimensionResult struct {
	Dimension eval.Dimension `json:"dimension"`
	Value     float64        `json:"value"`
	Target    float64        `json:"target"`
	Breached  bool           `json:"breached"`
	Reason    string         `json:"reason,omitempty"`
}

// GateResult represents the gate decision for one operation
type GateResult struct {
	Operation  string            `json:"operation"`
	Decision   Decision          `json:"decision"`
	Health     eval.Health       `json:"health"`
	Compliance float64           `json:"compliance"`
	Dimensions []DimensionResult `json:"dimensions"`
	Reasons    []string          `json:"reasons"`
	HasNoData  bool              `json:"hasNoData"`
}

// Verdict aggregates gate results across operations
type Verdict struct {
	Decision Decision     `json:"decision"`
	Results  []GateResult `json:"results"`
}
