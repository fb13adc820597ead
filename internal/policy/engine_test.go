package policy

import (
	"strings"
	"testing"
	"time"

	"github.com/samijaber1/aegis-perf/internal/dashboard"
	"github.com/samijaber1/aegis-perf/internal/eval"
	"github.com/samijaber1/aegis-perf/internal/slo"
	"github.com/samijaber1/aegis-perf/internal/telemetry"
)

func TestEngine_Evaluate(t *testing.T) {
	engine := NewEngine()

	tests := []struct {
		name             string
		metric           *telemetry.MetricPoint
		expectedDecision Decision
		expectedReasons  int
	}{
		{
			name:             "healthy - all targets met",
			metric:           &telemetry.MetricPoint{P50: 100, P95: 300, P99: 600, ErrorRate: 0.01},
			expectedDecision: DecisionALLOW,
			expectedReasons:  1,
		},
		{
			name:             "two breaches - warn",
			metric:           &telemetry.MetricPoint{P50: 180, P95: 390, P99: 750, ErrorRate: 0.05},
			expectedDecision: DecisionWARN,
			expectedReasons:  2,
		},
		{
			name:             "three breaches - block",
			metric:           &telemetry.MetricPoint{P50: 180, P95: 500, P99: 900, ErrorRate: 0.01},
			expectedDecision: DecisionBLOCK,
			expectedReasons:  3,
		},
		{
			name:             "no data - warn",
			metric:           nil,
			expectedDecision: DecisionWARN,
			expectedReasons:  1,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			st := createTestStatus(tt.metric)
			result := engine.Evaluate(st)

			if result.Decision != tt.expectedDecision {
				t.Errorf("expected decision %s, got %s (reasons: %v)", tt.expectedDecision, result.Decision, result.Reasons)
			}
			if len(result.Reasons) != tt.expectedReasons {
				t.Errorf("expected %d reasons, got %d: %v", tt.expectedReasons, len(result.Reasons), result.Reasons)
			}
			if result.HasNoData != (tt.metric == nil) {
				t.Errorf("HasNoData = %v", result.HasNoData)
			}
		})
	}
}

func TestEngine_ErrorRateReason(t *testing.T) {
	engine := NewEngine()
	result := engine.Evaluate(createTestStatus(&telemetry.MetricPoint{ErrorRate: 0.05}))

	if len(result.Reasons) != 1 {
		t.Fatalf("expected 1 reason, got %v", result.Reasons)
	}
	if !strings.Contains(result.Reasons[0], "5.00%") || !strings.Contains(result.Reasons[0], "2.00%") {
		t.Errorf("expected percentages in reason, got %q", result.Reasons[0])
	}
}

func TestEngine_EvaluateAll(t *testing.T) {
	engine := NewEngine()
	table := slo.NewTable([]slo.Definition{
		{Operation: "checkin_query", P50Target: 150, P95Target: 400, P99Target: 800, ErrorRateTarget: 0.02, Key: true},
		{Operation: "profile_load", P50Target: 100, P95Target: 300, P99Target: 600, ErrorRateTarget: 0.01},
	})
	now := time.Now()

	snap := dashboard.Build(dashboard.Inputs{
		Local: []telemetry.MetricPoint{
			{Operation: "checkin_query", P50: 100, P95: 300, P99: 600, Timestamp: now},
			{Operation: "profile_load", P50: 900, P95: 900, P99: 900, Timestamp: now},
		},
	}, table, now)

	t.Run("all operations", func(t *testing.T) {
		v := engine.EvaluateAll(snap, false)
		if v.Decision != DecisionBLOCK {
			t.Errorf("expected BLOCK, got %s", v.Decision)
		}
		if len(v.Results) != 2 {
			t.Errorf("expected 2 results, got %d", len(v.Results))
		}
	})

	t.Run("key operations only", func(t *testing.T) {
		v := engine.EvaluateAll(snap, true)
		if v.Decision != DecisionALLOW {
			t.Errorf("expected ALLOW, got %s", v.Decision)
		}
		if len(v.Results) != 1 {
			t.Errorf("expected 1 result, got %d", len(v.Results))
		}
	})

	t.Run("nil snapshot", func(t *testing.T) {
		if v := engine.EvaluateAll(nil, false); v.Decision != DecisionALLOW {
			t.Errorf("expected ALLOW, got %s", v.Decision)
		}
	})
}

func createTestStatus(metric *telemetry.MetricPoint) dashboard.OperationStatus {
	def := slo.Definition{
		Operation:       "checkin_query",
		P50Target:       150,
		P95Target:       400,
		P99Target:       800,
		ErrorRateTarget: 0.02,
		Key:             true,
	}
	return dashboard.OperationStatus{
		Operation:  def.Operation,
		Targets:    def,
		Metric:     metric,
		Evaluation: eval.Evaluate(metric, def),
	}
}
