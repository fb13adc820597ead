package synthetic

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/samijaber1/aegis-perf/internal/telemetry"
)

// Fixture represents a local snapshot fixture file
type Fixture struct {
	Records    []telemetry.RawRecord `json:"records"`
	CacheStats telemetry.CacheStats  `json:"cacheStats"`
}

// Adapter is a synthetic local source that replays a JSON fixture. Records
// carrying an "ageMinutes" field are stamped relative to the adapter clock
// so fixtures stay inside the trailing window.
type Adapter struct {
	mu      sync.RWMutex
	fixture *Fixture
	now     func() time.Time
}

// NewAdapter creates a new synthetic adapter
func NewAdapter() *Adapter {
	return &Adapter{
		fixture: &Fixture{},
		now:     time.Now,
	}
}

// WithClock overrides the clock used for relative timestamps
func (a *Adapter) WithClock(now func() time.Time) *Adapter {
	a.now = now
	return a
}

// LoadFixture loads a snapshot fixture from a JSON file
func (a *Adapter) LoadFixture(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read fixture: %w", err)
	}

	var fixture Fixture
	if err := json.Unmarshal(data, &fixture); err != nil {
		return fmt.Errorf("failed to parse fixture: %w", err)
	}

	a.SetFixture(&fixture)
	return nil
}

// SetFixture directly sets the fixture (useful for testing)
func (a *Adapter) SetFixture(fixture *Fixture) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.fixture = fixture
}

// Snapshot returns a copy of the fixture records
func (a *Adapter) Snapshot(ctx context.Context) ([]telemetry.RawRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	a.mu.RLock()
	defer a.mu.RUnlock()

	now := a.now()
	out := make([]telemetry.RawRecord, 0, len(a.fixture.Records))
	for _, rec := range a.fixture.Records {
		cp := make(telemetry.RawRecord, len(rec))
		for k, v := range rec {
			cp[k] = v
		}
		if age, ok := cp["ageMinutes"]; ok {
			mins := telemetry.CoerceNumber(age, 0)
			cp["timestamp"] = now.Add(-time.Duration(mins * float64(time.Minute)))
			delete(cp, "ageMinutes")
		}
		out = append(out, cp)
	}
	return out, nil
}

// Stats returns the fixture cache statistics
func (a *Adapter) Stats(ctx context.Context) (telemetry.CacheStats, error) {
	if err := ctx.Err(); err != nil {
		return telemetry.CacheStats{}, err
	}
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.fixture.CacheStats, nil
}

// HitRate returns the fixture's current hit rate
func (a *Adapter) HitRate() float64 {
	a.mu.RLock()
	defer a.mu.RUnlock()

	s := a.fixture.CacheStats
	if total := s.Hits + s.Misses; total > 0 {
		return float64(s.Hits) / float64(total)
	}
	return s.AvgHitRate
}
