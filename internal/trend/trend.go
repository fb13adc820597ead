// Package trend folds metric streams into fixed, trailing time buckets.
package trend

import (
	"time"

	"github.com/samijaber1/aegis-perf/internal/slo"
	"github.com/samijaber1/aegis-perf/internal/telemetry"
)

// Default window: 24 hourly buckets ending at now.
const (
	DefaultBuckets = 24
	DefaultWidth   = time.Hour
)

// Point is one bucket of a series
type Point struct {
	Time  time.Time `json:"time"`
	Value float64   `json:"value"`
}

// Series holds three aligned percentile series
type Series struct {
	P50 []Point `json:"p50"`
	P95 []Point `json:"p95"`
	P99 []Point `json:"p99"`
}

// Overlay holds the target reference lines aligned with a Series
type Overlay struct {
	P50 []Point `json:"p50"`
	P95 []Point `json:"p95"`
	P99 []Point `json:"p99"`
}

type accumulator struct {
	p50, p95, p99 float64
	n             int
}

// BuildHourly buckets points into the default 24-hour trailing window.
func BuildHourly(points []telemetry.MetricPoint, now time.Time) Series {
	return Build(points, now, DefaultBuckets, DefaultWidth)
}

// Build folds points into buckets of the given width ending at now. The
// window starts at now-(buckets-1)*width and bucket i starts at start+i*width.
// Samples outside [start, now] are ignored; empty buckets are 0, never
// interpolated.
func Build(points []telemetry.MetricPoint, now time.Time, buckets int, width time.Duration) Series {
	if buckets <= 0 || width <= 0 {
		return Series{P50: []Point{}, P95: []Point{}, P99: []Point{}}
	}

	start := now.Add(-time.Duration(buckets-1) * width)
	acc := make([]accumulator, buckets)

	for _, p := range points {
		ts := p.Timestamp
		if ts.Before(start) || ts.After(now) {
			continue
		}
		idx := int(ts.Sub(start) / width)
		if idx >= buckets {
			idx = buckets - 1
		}
		acc[idx].p50 += p.P50
		acc[idx].p95 += p.P95
		acc[idx].p99 += p.P99
		acc[idx].n++
	}

	s := Series{
		P50: make([]Point, buckets),
		P95: make([]Point, buckets),
		P99: make([]Point, buckets),
	}
	for i := 0; i < buckets; i++ {
		at := start.Add(time.Duration(i) * width)
		s.P50[i] = Point{Time: at}
		s.P95[i] = Point{Time: at}
		s.P99[i] = Point{Time: at}

		if a := acc[i]; a.n > 0 {
			n := float64(a.n)
			s.P50[i].Value = a.p50 / n
			s.P95[i].Value = a.p95 / n
			s.P99[i].Value = a.p99 / n
		}
	}
	return s
}

// TargetOverlay emits, for every bucket x-coordinate of s, the mean target
// across the given operations that have a definition. Operations without a
// definition are skipped; with none left every value is 0.
func TargetOverlay(s Series, table *slo.Table, ops []string) Overlay {
	var p50, p95, p99 float64
	var n int
	for _, op := range ops {
		def, ok := table.Get(op)
		if !ok {
			continue
		}
		p50 += def.P50Target
		p95 += def.P95Target
		p99 += def.P99Target
		n++
	}
	if n > 0 {
		p50 /= float64(n)
		p95 /= float64(n)
		p99 /= float64(n)
	}

	o := Overlay{
		P50: make([]Point, len(s.P50)),
		P95: make([]Point, len(s.P95)),
		P99: make([]Point, len(s.P99)),
	}
	for i, pt := range s.P50 {
		o.P50[i] = Point{Time: pt.Time, Value: p50}
	}
	for i, pt := range s.P95 {
		o.P95[i] = Point{Time: pt.Time, Value: p95}
	}
	for i, pt := range s.P99 {
		o.P99[i] = Point{Time: pt.Time, Value: p99}
	}
	return o
}
