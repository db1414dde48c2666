// Package backend wires backend IDs to their collaborator implementations.
package backend

import (
	"fmt"
	"sync"

	"github.com/mvalko/scrape-orchestrator/internal/orchestrator"
)

// Registry maps backend IDs to collaborators. Entries are installed once at
// startup; resolving an unknown ID is a configuration error and fails fast.
type Registry struct {
	mu       sync.RWMutex
	backends map[orchestrator.BackendID]orchestrator.Backend
}

// NewRegistry creates an empty Registry.
func NewRegistry() *Registry {
	return &Registry{
		backends: make(map[orchestrator.BackendID]orchestrator.Backend),
	}
}

// Register installs a collaborator under the given ID.
func (r *Registry) Register(id orchestrator.BackendID, b orchestrator.Backend) error {
	if id == "" {
		return fmt.Errorf("backend id is required")
	}
	if b == nil {
		return fmt.Errorf("backend %q: collaborator is required", id)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.backends[id]; exists {
		return fmt.Errorf("backend %q already registered", id)
	}
	r.backends[id] = b
	return nil
}

// Resolve returns the collaborator for an ID.
func (r *Registry) Resolve(id orchestrator.BackendID) (orchestrator.Backend, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	b, ok := r.backends[id]
	if !ok {
		return nil, fmt.Errorf("%w: %q", orchestrator.ErrUnknownBackend, id)
	}
	return b, nil
}

// Len reports the number of registered collaborators.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.backends)
}
