package scheduler

import (
	"sync"
	"time"

	"github.com/samijaber1/aegis-perf/internal/dashboard"
)

// CacheObserver receives cache outcomes; local.CacheTracker implements it
type CacheObserver interface {
	Hit()
	Miss()
	Evict()
	SetSize(n int64)
}

// SnapshotState is a cached dashboard build
type SnapshotState struct {
	Snapshot  *dashboard.Snapshot
	UpdatedAt time.Time
	TTL       time.Duration
}

// IsStale returns true if the cached state is older than its TTL
func (s *SnapshotState) IsStale(now time.Time) bool {
	return now.Sub(s.UpdatedAt) > s.TTL
}

// SnapshotCache is a thread-safe cache of dashboard builds keyed by view
type SnapshotCache struct {
	mu       sync.RWMutex
	states   map[string]*SnapshotState
	ttl      time.Duration
	observer CacheObserver
}

// NewSnapshotCache creates a new snapshot cache. observer may be nil.
func NewSnapshotCache(ttl time.Duration, observer CacheObserver) *SnapshotCache {
	return &SnapshotCache{
		states:   make(map[string]*SnapshotState),
		ttl:      ttl,
		observer: observer,
	}
}

// Get retrieves a fresh cached snapshot
func (c *SnapshotCache) Get(key string, now time.Time) (*dashboard.Snapshot, bool) {
	c.mu.RLock()
	state, exists := c.states[key]
	c.mu.RUnlock()

	if !exists || state.IsStale(now) {
		c.miss()
		return nil, false
	}
	c.hit()
	return state.Snapshot, true
}

// Set stores a snapshot built at now
func (c *SnapshotCache) Set(key string, snap *dashboard.Snapshot, now time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.states[key] = &SnapshotState{Snapshot: snap, UpdatedAt: now, TTL: c.ttl}
	c.resize()
}

// GetOrBuild returns the cached snapshot for key or builds and stores one
func (c *SnapshotCache) GetOrBuild(key string, now time.Time, build func() *dashboard.Snapshot) *dashboard.Snapshot {
	if snap, ok := c.Get(key, now); ok {
		return snap
	}
	snap := build()
	c.Set(key, snap, now)
	return snap
}

// Delete removes a cached snapshot
func (c *SnapshotCache) Delete(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, ok := c.states[key]; ok {
		delete(c.states, key)
		c.evict(1)
		c.resize()
	}
}

// Clear removes all cached snapshots
func (c *SnapshotCache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.evict(len(c.states))
	c.states = make(map[string]*SnapshotState)
	c.resize()
}

// Size returns the number of cached snapshots
func (c *SnapshotCache) Size() int {
	c.mu.RLock()
	defer c.mu.RUnlock()

	return len(c.states)
}

func (c *SnapshotCache) hit() {
	if c.observer != nil {
		c.observer.Hit()
	}
}

func (c *SnapshotCache) miss() {
	if c.observer != nil {
		c.observer.Miss()
	}
}

// evict and resize are called with mu held
func (c *SnapshotCache) evict(n int) {
	if c.observer == nil {
		return
	}
	for i := 0; i < n; i++ {
		c.observer.Evict()
	}
}

func (c *SnapshotCache) resize() {
	if c.observer != nil {
		c.observer.SetSize(int64(len(c.states)))
	}
}
