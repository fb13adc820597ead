package local

import (
	"context"
	"sync/atomic"

	"github.com/samijaber1/aegis-perf/internal/telemetry"
)

// CacheTracker counts cache outcomes for a local cache. It is safe for
// concurrent use.
type CacheTracker struct {
	hits      atomic.Int64
	misses    atomic.Int64
	evictions atomic.Int64
	size      atomic.Int64
}

// NewCacheTracker creates an empty tracker
func NewCacheTracker() *CacheTracker {
	return &CacheTracker{}
}

func (c *CacheTracker) Hit()            { c.hits.Add(1) }
func (c *CacheTracker) Miss()           { c.misses.Add(1) }
func (c *CacheTracker) Evict()          { c.evictions.Add(1) }
func (c *CacheTracker) SetSize(n int64) { c.size.Store(n) }

// Stats returns the counters; AvgHitRate is the lifetime hit ratio
func (c *CacheTracker) Stats(ctx context.Context) (telemetry.CacheStats, error) {
	if err := ctx.Err(); err != nil {
		return telemetry.CacheStats{}, err
	}
	s := telemetry.CacheStats{
		Hits:      c.hits.Load(),
		Misses:    c.misses.Load(),
		Evictions: c.evictions.Load(),
		Size:      c.size.Load(),
	}
	if total := s.Hits + s.Misses; total > 0 {
		s.AvgHitRate = float64(s.Hits) / float64(total)
	}
	return s, nil
}

// HitRate returns the current hit ratio, 0 before any lookups
func (c *CacheTracker) HitRate() float64 {
	hits, misses := c.hits.Load(), c.misses.Load()
	if hits+misses == 0 {
		return 0
	}
	return float64(hits) / float64(hits+misses)
}
