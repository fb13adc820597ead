package policy

import (
	"fmt"

	"github.com/samijaber1/aegis-perf/internal/dashboard"
	"github.com/samijaber1/aegis-perf/internal/eval"
)

// Engine turns operation health into gate decisions
type Engine struct{}

// NewEngine creates a new policy engine
func NewEngine() *Engine {
	return &Engine{}
}

// Evaluate produces the gate decision for one operation status.
// Red blocks, any breach or missing data warns, otherwise allow.
func (e *Engine) Evaluate(st dashboard.OperationStatus) *GateResult {
	result := &GateResult{
		Operation:  st.Operation,
		Decision:   DecisionALLOW,
		Health:     st.Evaluation.Health,
		Compliance: st.Evaluation.Compliance,
		Dimensions: []DimensionResult{},
		Reasons:    []string{},
		HasNoData:  st.Metric == nil,
	}

	if st.Metric == nil {
		result.Decision = DecisionWARN
		result.Reasons = append(result.Reasons, "no current metric")
		return result
	}

	for _, dim := range eval.Dimensions {
		dr := e.evaluateDimension(dim, st)
		result.Dimensions = append(result.Dimensions, dr)
		if dr.Breached {
			result.Reasons = append(result.Reasons, dr.Reason)
		}
	}

	switch st.Evaluation.Health {
	case eval.HealthRed:
		result.Decision = DecisionBLOCK
	case eval.HealthYellow:
		result.Decision = DecisionWARN
	}

	if result.Decision == DecisionALLOW && len(result.Reasons) == 0 {
		result.Reasons = append(result.Reasons, "all targets met")
	}

	return result
}

// EvaluateAll gates every operation in a snapshot. The overall decision is
// the most severe one: BLOCK > WARN > ALLOW. With keyOnly set, only key
// operations take part.
func (e *Engine) EvaluateAll(snap *dashboard.Snapshot, keyOnly bool) *Verdict {
	v := &Verdict{Decision: DecisionALLOW, Results: []GateResult{}}
	if snap == nil {
		return v
	}

	for _, st := range snap.Operations {
		if keyOnly && !st.Key {
			continue
		}
		r := e.Evaluate(st)
		v.Results = append(v.Results, *r)

		if r.Decision == DecisionBLOCK {
			v.Decision = DecisionBLOCK
		} else if r.Decision == DecisionWARN && v.Decision != DecisionBLOCK {
			v.Decision = DecisionWARN
		}
	}
	return v
}

// evaluateDimension compares one measured value with its target.
// A value triggers only when it exceeds the target.
func (e *Engine) evaluateDimension(dim eval.Dimension, st dashboard.OperationStatus) DimensionResult {
	var value, target float64
	switch dim {
	case eval.DimensionP50:
		value, target = st.Metric.P50, st.Targets.P50Target
	case eval.DimensionP95:
		value, target = st.Metric.P95, st.Targets.P95Target
	case eval.DimensionP99:
		value, target = st.Metric.P99, st.Targets.P99Target
	case eval.DimensionErrorRate:
		value, target = st.Metric.ErrorRate, st.Targets.ErrorRateTarget
	}

	dr := DimensionResult{Dimension: dim, Value: value, Target: target}
	if value > target {
		dr.Breached = true
		if dim == eval.DimensionErrorRate {
			dr.Reason = fmt.Sprintf("%s error rate %.2f%% exceeds target %.2f%%", st.Operation, value*100, target*100)
		} else {
			dr.Reason = fmt.Sprintf("%s %s %.0fms exceeds target %.0fms", st.Operation, dim, value, target)
		}
	}
	return dr
}
