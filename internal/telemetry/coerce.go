package telemetry

import (
	"math"
	"strings"
	"time"

	"github.com/spf13/cast"
)

// CoerceNumber converts a loosely typed value into a float64.
// Numbers and numeric strings are accepted; anything else, including booleans,
// NaN and infinities, yields def.
func CoerceNumber(v any, def float64) float64 {
	switch n := v.(type) {
	case nil, bool:
		return def
	case string:
		n = strings.TrimSpace(n)
		if n == "" {
			return def
		}
		v = n
	}

	f, err := cast.ToFloat64E(v)
	if err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
		return def
	}
	return f
}

// CoerceTimestamp resolves a timestamp of unknown shape to epoch milliseconds.
// Accepted: epoch-ms numbers or numeric strings, time.Time, MillisConverter,
// maps carrying a "seconds" (or "_seconds") field, and ISO-like date strings.
// Anything unresolvable returns 0; callers fall back to ingestion time.
func CoerceTimestamp(v any) int64 {
	var ms float64

	switch t := v.(type) {
	case nil:
		return 0
	case time.Time:
		if t.IsZero() {
			return 0
		}
		return t.UnixMilli()
	case *time.Time:
		if t == nil || t.IsZero() {
			return 0
		}
		return t.UnixMilli()
	case MillisConverter:
		ms = float64(t.Millis())
	case map[string]any:
		ms = secondsObjectMillis(t)
	case RawRecord:
		ms = secondsObjectMillis(t)
	case string:
		ms = stringMillis(t)
	default:
		ms = CoerceNumber(v, 0)
	}

	if math.IsNaN(ms) || ms <= 0 {
		return 0
	}
	return int64(ms)
}

func secondsObjectMillis(m map[string]any) float64 {
	secs, ok := m["seconds"]
	if !ok {
		secs, ok = m["_seconds"]
	}
	if !ok {
		return 0
	}

	s := CoerceNumber(secs, math.NaN())
	if math.IsNaN(s) {
		return 0
	}

	nanos, ok := m["nanoseconds"]
	if !ok {
		nanos = m["_nanoseconds"]
	}
	return s*1000 + CoerceNumber(nanos, 0)/1e6
}

func stringMillis(s string) float64 {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0
	}
	if n := CoerceNumber(s, math.NaN()); !math.IsNaN(n) {
		return n
	}
	ts, err := cast.ToTimeInDefaultLocationE(s, time.UTC)
	if err != nil || ts.IsZero() {
		return 0
	}
	return float64(ts.UnixMilli())
}

// NormalizeErrorRate maps an error rate onto a fraction. Values above 1 are
// read as whole-number percentages; negatives clamp to 0. Exactly 1 is a
// 100% fraction. The result is not re-clamped, so 150 becomes 1.5.
func NormalizeErrorRate(x float64) float64 {
	switch {
	case math.IsNaN(x):
		return 0
	case x > 1:
		return x / 100
	case x < 0:
		return 0
	default:
		return x
	}
}
