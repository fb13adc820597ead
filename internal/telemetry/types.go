package telemetry

import "time"

// Source tags where a MetricPoint came from
type Source string

const (
	SourceRemote Source = "remote"
	SourceLocal  Source = "local"
)

// RawRecord is an unordered field bag as delivered by a snapshot provider or
// the document stream. Values may be numbers, numeric strings, timestamps in
// several shapes, or missing entirely.
type RawRecord map[string]any

// MetricPoint is one observation for an operation, possibly an aggregate.
type MetricPoint struct {
	Operation  string    `json:"operation"`
	Count      int64     `json:"count"`
	ErrorCount int64     `json:"errorCount"`
	ErrorRate  float64   `json:"errorRate"`
	AvgMs      float64   `json:"avgMs"`
	P50        float64   `json:"p50"`
	P95        float64   `json:"p95"`
	P99        float64   `json:"p99"`
	MaxMs      float64   `json:"maxMs"`
	LastMs     float64   `json:"lastMs"`
	Timestamp  time.Time `json:"timestamp"`
	Source     Source    `json:"source"`
}

// CacheStats mirrors the counters of the local cache subsystem. The engine
// passes them through untouched.
type CacheStats struct {
	Hits       int64   `json:"hits"`
	Misses     int64   `json:"misses"`
	Evictions  int64   `json:"evictions"`
	Size       int64   `json:"size"`
	AvgHitRate float64 `json:"avgHitRate"`
}

// MillisConverter is implemented by timestamp objects that know their own
// epoch-millisecond value.
type MillisConverter interface {
	Millis() int64
}
