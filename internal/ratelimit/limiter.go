// Package ratelimit implements the per-backend admission gate using token
// buckets.
package ratelimit

import (
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/mvalko/scrape-orchestrator/internal/orchestrator"
)

// Settings configures one backend's bucket. A positive MinInterval expresses
// a fixed minimum gap between attempts (burst forced to 1); otherwise RPS and
// Burst describe a conventional token bucket. Zero values mean unlimited.
type Settings struct {
	MinInterval time.Duration
	RPS         float64
	Burst       int
}

// Limiter gates attempts per backend. Allow is non-blocking and consumes the
// slot it grants atomically, so two concurrent jobs can never both claim the
// same token.
type Limiter struct {
	mu       sync.Mutex
	limiters map[orchestrator.BackendID]*rate.Limiter
}

// New creates an empty Limiter.
func New() *Limiter {
	return &Limiter{
		limiters: make(map[orchestrator.BackendID]*rate.Limiter),
	}
}

// Configure installs the bucket for a backend. Later attempts against an
// unconfigured backend are always allowed.
func (l *Limiter) Configure(id orchestrator.BackendID, s Settings) {
	limit := rate.Inf
	burst := s.Burst
	switch {
	case s.MinInterval > 0:
		limit = rate.Every(s.MinInterval)
		burst = 1
	case s.RPS > 0:
		limit = rate.Limit(s.RPS)
		if burst <= 0 {
			burst = 1
		}
	default:
		if burst <= 0 {
			burst = 1
		}
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.limiters[id] = rate.NewLimiter(limit, burst)
}

// Allow reports whether an attempt against the backend may be issued now,
// consuming one token if so. Check and consume happen atomically inside the
// underlying limiter.
func (l *Limiter) Allow(id orchestrator.BackendID) bool {
	l.mu.Lock()
	limiter, ok := l.limiters[id]
	l.mu.Unlock()
	if !ok {
		return true
	}
	return limiter.Allow()
}
