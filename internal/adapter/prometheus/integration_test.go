package prometheus_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/samijaber1/aegis-perf/internal/adapter/prometheus"
	"github.com/samijaber1/aegis-perf/internal/dashboard"
	"github.com/samijaber1/aegis-perf/internal/eval"
	"github.com/samijaber1/aegis-perf/internal/policy"
	"github.com/samijaber1/aegis-perf/internal/slo"
	"github.com/samijaber1/aegis-perf/internal/telemetry"
)

func TestPrometheusAdapter_Integration(t *testing.T) {
	now := time.Now()

	// Mock Prometheus returning a slow, failing checkin_query and a healthy venue_search
	values := map[string]map[string]string{
		`quantile="0.5"`:         {"checkin_query": "180", "venue_search": "120"},
		`quantile="0.95"`:        {"checkin_query": "390", "venue_search": "300"},
		`quantile="0.99"`:        {"checkin_query": "750", "venue_search": "900"},
		"errors_total":           {"checkin_query": "50", "venue_search": "1"},
		"latency_ms_count[5m]))": {"checkin_query": "1000", "venue_search": "500"},
	}

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		query := r.URL.Query().Get("query")

		resp := prometheus.QueryResponse{
			Status: "success",
			Data:   prometheus.QueryData{ResultType: "vector", Result: []prometheus.VectorResult{}},
		}
		for needle, byOp := range values {
			if !strings.Contains(query, needle) || strings.Contains(query, "latency_ms_sum") {
				continue
			}
			for op, v := range byOp {
				resp.Data.Result = append(resp.Data.Result, prometheus.VectorResult{
					Metric: map[string]string{"operation": op},
					Value:  prometheus.SamplePair{float64(now.Unix()), v},
				})
			}
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(resp)
	}))
	defer server.Close()

	adapter := prometheus.NewAdapter(prometheus.DefaultConfig(server.URL), zap.NewNop(), nil)

	recs, err := adapter.Snapshot(context.Background())
	if err != nil {
		t.Fatalf("snapshot failed: %v", err)
	}

	table := slo.NewTable([]slo.Definition{
		{Operation: "checkin_query", P50Target: 150, P95Target: 400, P99Target: 800, ErrorRateTarget: 0.02, Key: true},
		{Operation: "venue_search", P50Target: 250, P95Target: 700, P99Target: 1500, ErrorRateTarget: 0.02, Key: true},
	})

	snap := dashboard.Build(dashboard.Inputs{
		Local: telemetry.NormalizeAll(recs, telemetry.SourceLocal, now),
	}, table, now)

	checkin, ok := snap.Operation("checkin_query")
	if !ok {
		t.Fatal("checkin_query missing")
	}
	if checkin.Metric.ErrorRate != 0.05 {
		t.Errorf("expected error rate derived from counts, got %v", checkin.Metric.ErrorRate)
	}
	if checkin.Evaluation.Health != eval.HealthYellow {
		t.Errorf("expected yellow, got %s", checkin.Evaluation.Health)
	}

	venue, _ := snap.Operation("venue_search")
	if venue.Evaluation.Health != eval.HealthGreen {
		t.Errorf("expected green, got %s (breached %v)", venue.Evaluation.Health, venue.Evaluation.Breached)
	}

	verdict := policy.NewEngine().EvaluateAll(snap, true)
	if verdict.Decision != policy.DecisionWARN {
		t.Errorf("expected WARN, got %s", verdict.Decision)
	}
}
