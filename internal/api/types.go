package api

import (
	"time"

	"github.com/samijaber1/aegis-perf/internal/policy"
	"github.com/samijaber1/aegis-perf/internal/slo"
	"github.com/samijaber1/aegis-perf/internal/trend"
	"github.com/samijaber1/aegis-perf/internal/violation"
)

// DecisionRequest represents a gate decision request. An empty Operation
// asks for the aggregate verdict.
type DecisionRequest struct {
	Operation string `json:"operation,omitempty"`
	KeyOnly   bool   `json:"keyOnly,omitempty"`
}

// DecisionResponse represents a gate decision response
type DecisionResponse struct {
	Decision  string              `json:"decision"`
	Operation string              `json:"operation,omitempty"`
	Timestamp time.Time           `json:"timestamp"`
	Results   []policy.GateResult `json:"results"`
	Errors    map[string]string   `json:"errors,omitempty"`
}

// SLOListResponse represents the loaded definitions
type SLOListResponse struct {
	SLOs []slo.Definition `json:"slos"`
}

// TrendsResponse carries the bucketed series and their target overlay
type TrendsResponse struct {
	GeneratedAt  time.Time     `json:"generatedAt"`
	Trends       trend.Series  `json:"trends"`
	Targets      trend.Overlay `json:"targets"`
	HitRateTrend []trend.Point `json:"hitRateTrend"`
}

// ViolationsResponse carries the ranked violation list
type ViolationsResponse struct {
	GeneratedAt time.Time         `json:"generatedAt"`
	Violations  []violation.Point `json:"violations"`
}

// SlowestResponse carries the slowest-operations ranking
type SlowestResponse struct {
	GeneratedAt time.Time          `json:"generatedAt"`
	Slowest     []violation.Ranked `json:"slowest"`
}

// IngestResponse reports accepted documents
type IngestResponse struct {
	Collection string   `json:"collection"`
	Accepted   int      `json:"accepted"`
	IDs        []string `json:"ids"`
}

// HealthResponse represents health check response
type HealthResponse struct {
	Status string `json:"status"`
}

// ReadyResponse represents readiness check response
type ReadyResponse struct {
	Ready      bool     `json:"ready"`
	SLOsLoaded int      `json:"slosLoaded"`
	Streaming  bool     `json:"streaming"`
	Reasons    []string `json:"reasons,omitempty"`
}

// ErrorResponse represents an error response
type ErrorResponse struct {
	Error string `json:"error"`
}

// StreamMessage is one frame pushed to websocket clients
type StreamMessage struct {
	Type    string `json:"type"`
	Payload any    `json:"payload"`
}
