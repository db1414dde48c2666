// Package profile implements the in-memory backend profile store.
package profile

import (
	"fmt"
	"sync"
	"time"

	"github.com/mvalko/scrape-orchestrator/internal/metrics"
	"github.com/mvalko/scrape-orchestrator/internal/orchestrator"
)

// Store owns one BackendProfile per registered backend. Registration happens
// at startup; RecordOutcome is the only runtime mutator, so derived fields
// can never drift from the raw counters.
type Store struct {
	mu       sync.RWMutex
	profiles map[orchestrator.BackendID]*orchestrator.BackendProfile
	order    []orchestrator.BackendID
	clock    orchestrator.Clock
}

// New constructs an empty Store.
func New(clock orchestrator.Clock) *Store {
	return &Store{
		profiles: make(map[orchestrator.BackendID]*orchestrator.BackendProfile),
		clock:    clock,
	}
}

// Register adds a backend profile. Duplicate registration is a configuration
// error surfaced to the caller.
func (s *Store) Register(id orchestrator.BackendID, unitCost, initialSuccessRate float64) error {
	if id == "" {
		return fmt.Errorf("backend id is required")
	}
	if unitCost < 0 {
		return fmt.Errorf("backend %q: unit cost must be >= 0", id)
	}
	if initialSuccessRate <= 0 || initialSuccessRate > 1 {
		initialSuccessRate = 1
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.profiles[id]; exists {
		return fmt.Errorf("backend %q already registered", id)
	}
	s.profiles[id] = &orchestrator.BackendProfile{
		ID:                 id,
		UnitCost:           unitCost,
		InitialSuccessRate: initialSuccessRate,
		Order:              len(s.order),
	}
	s.order = append(s.order, id)
	return nil
}

// All returns snapshot copies of every profile in registration order.
// Readers tolerate slightly stale snapshots; selection is a heuristic.
func (s *Store) All() []orchestrator.BackendProfile {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]orchestrator.BackendProfile, 0, len(s.order))
	for _, id := range s.order {
		out = append(out, *s.profiles[id])
	}
	return out
}

// Get returns a snapshot of one profile.
func (s *Store) Get(id orchestrator.BackendID) (orchestrator.BackendProfile, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.profiles[id]
	if !ok {
		return orchestrator.BackendProfile{}, fmt.Errorf("%w: %q", orchestrator.ErrUnknownBackend, id)
	}
	return *p, nil
}

// RecordOutcome increments the counters for one completed attempt and updates
// the running latency average in a single critical section. An unknown id is
// a programming error: backends are statically registered before any attempt
// can reference them.
func (s *Store) RecordOutcome(id orchestrator.BackendID, success bool, cost float64, duration time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.profiles[id]
	if !ok {
		panic(fmt.Sprintf("profile: record outcome for unregistered backend %q", id))
	}
	p.TotalAttempts++
	if success {
		p.TotalSuccesses++
	}
	p.AvgDuration += (duration - p.AvgDuration) / time.Duration(p.TotalAttempts)
	p.LastUsedAt = s.clock.Now()
	metrics.ObserveAttempt(string(id), success, cost, duration)
}

// Stats reduces the profiles to per-backend report stats.
func (s *Store) Stats() map[orchestrator.BackendID]orchestrator.BackendStats {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[orchestrator.BackendID]orchestrator.BackendStats, len(s.profiles))
	for id, p := range s.profiles {
		out[id] = orchestrator.BackendStats{
			Attempts:    p.TotalAttempts,
			Successes:   p.TotalSuccesses,
			AvgDuration: p.AvgDuration,
		}
	}
	return out
}
