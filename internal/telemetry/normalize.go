package telemetry

import (
	"math"
	"strings"
	"time"
)

// aliases maps historical operation names onto their canonical identifier.
var aliases = map[string]string{
	"checkins_query":        "checkin_query",
	"checkin-query":         "checkin_query",
	"checkinQuery":          "checkin_query",
	"query_checkins":        "checkin_query",
	"getCheckins":           "checkin_query",
	"checkins.list":         "checkin_query",
	"checkin_create":        "checkin_write",
	"createCheckin":         "checkin_write",
	"checkins.add":          "checkin_write",
	"venues_search":         "venue_search",
	"venue-search":          "venue_search",
	"searchVenues":          "venue_search",
	"venues.nearby":         "venue_search",
	"venue_details":         "venue_detail",
	"getVenue":              "venue_detail",
	"venues.get":            "venue_detail",
	"user_profile_fetch":    "profile_load",
	"getUserProfile":        "profile_load",
	"profile-load":          "profile_load",
	"favorites_list":        "favorites_query",
	"getFavorites":          "favorites_query",
	"auth_session_refresh":  "session_refresh",
	"refreshSession":        "session_refresh",
	"subscription_status":   "subscription_check",
	"getSubscriptionStatus": "subscription_check",
}

// ResolveOperation returns the canonical name for an operation. Unknown names
// pass through trimmed; canonical names map to themselves.
func ResolveOperation(name string) string {
	trimmed := strings.TrimSpace(name)
	if canonical, ok := aliases[trimmed]; ok {
		return canonical
	}
	return trimmed
}

// Normalize turns a raw record into a MetricPoint. The second return value is
// false when the record has no resolvable operation name; such records are
// dropped by callers without raising an error.
func Normalize(rec RawRecord, src Source, ingestedAt time.Time) (MetricPoint, bool) {
	op := ResolveOperation(rec.str("operation", "name", "op", "metric"))
	if op == "" {
		return MetricPoint{}, false
	}

	count := nonNegative(CoerceNumber(rec.first("count", "calls", "total"), 0))
	errCount := nonNegative(CoerceNumber(rec.first("errorCount", "error_count", "errors"), 0))

	var errorRate float64
	if raw, ok := rec.lookup("errorRate", "error_rate"); ok {
		errorRate = NormalizeErrorRate(CoerceNumber(raw, 0))
	} else if count > 0 {
		errorRate = errCount / count
	}

	p := MetricPoint{
		Operation:  op,
		Count:      int64(count),
		ErrorCount: int64(errCount),
		ErrorRate:  errorRate,
		AvgMs:      nonNegative(CoerceNumber(rec.first("avgMs", "avg_ms", "avg", "mean"), 0)),
		P50:        nonNegative(CoerceNumber(rec.first("p50", "p50Ms", "p50_ms"), 0)),
		P95:        nonNegative(CoerceNumber(rec.first("p95", "p95Ms", "p95_ms"), 0)),
		P99:        nonNegative(CoerceNumber(rec.first("p99", "p99Ms", "p99_ms"), 0)),
		MaxMs:      nonNegative(CoerceNumber(rec.first("maxMs", "max_ms", "max"), 0)),
		LastMs:     nonNegative(CoerceNumber(rec.first("lastMs", "last_ms", "last"), 0)),
		Source:     src,
	}

	if ms := CoerceTimestamp(rec.Timestamp()); ms > 0 {
		p.Timestamp = time.UnixMilli(ms)
	} else {
		p.Timestamp = ingestedAt
	}

	return p, true
}

// NormalizeAll normalizes a batch, silently dropping unusable records.
func NormalizeAll(recs []RawRecord, src Source, ingestedAt time.Time) []MetricPoint {
	points := make([]MetricPoint, 0, len(recs))
	for _, rec := range recs {
		if p, ok := Normalize(rec, src, ingestedAt); ok {
			points = append(points, p)
		}
	}
	return points
}

// Timestamp returns the raw value of the first timestamp-like field, or nil.
func (r RawRecord) Timestamp() any {
	return r.first("timestamp", "ts", "time", "createdAt", "created_at", "updatedAt")
}

// lookup returns the value of the first present key.
func (r RawRecord) lookup(keys ...string) (any, bool) {
	for _, k := range keys {
		if v, ok := r[k]; ok && v != nil {
			return v, true
		}
	}
	return nil, false
}

func (r RawRecord) first(keys ...string) any {
	v, _ := r.lookup(keys...)
	return v
}

// str returns the first non-blank string value among keys.
func (r RawRecord) str(keys ...string) string {
	for _, k := range keys {
		if s, ok := r[k].(string); ok && strings.TrimSpace(s) != "" {
			return s
		}
	}
	return ""
}

func nonNegative(f float64) float64 {
	if f < 0 || math.IsNaN(f) {
		return 0
	}
	return f
}
