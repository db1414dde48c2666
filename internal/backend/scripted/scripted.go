// Package scripted provides a deterministic backend for tests and dry runs.
package scripted

import (
	"context"
	"sync"
	"time"

	"github.com/mvalko/scrape-orchestrator/internal/orchestrator"
)

// Backend replays a scripted sequence of outcomes. Once the script runs out
// it keeps returning the last entry, so a single-entry script behaves as a
// constant backend.
type Backend struct {
	mu      sync.Mutex
	script  []orchestrator.Outcome
	next    int
	targets []string
}

// New builds a Backend from the given outcome script.
func New(script ...orchestrator.Outcome) *Backend {
	return &Backend{script: script}
}

// Constant builds a Backend that always reports the same outcome.
func Constant(success bool, cost float64, duration time.Duration) *Backend {
	return New(orchestrator.Outcome{Success: success, Cost: cost, Duration: duration})
}

// Attempt replays the next scripted outcome and records the target.
func (b *Backend) Attempt(_ context.Context, target string) orchestrator.Outcome {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.targets = append(b.targets, target)
	if len(b.script) == 0 {
		return orchestrator.Outcome{}
	}
	out := b.script[b.next]
	if b.next < len(b.script)-1 {
		b.next++
	}
	return out
}

// Targets returns the targets attempted so far.
func (b *Backend) Targets() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]string, len(b.targets))
	copy(out, b.targets)
	return out
}
