package rules

import (
	"fmt"
	"sync"

	"github.com/jason-s-yu/tabletop/internal/models"
)

// Registry selects an Engine by game type.
type Registry struct {
	mu      sync.RWMutex
	engines map[models.GameType]Engine
}

// NewRegistry returns a registry holding the given engines.
func NewRegistry(engines ...Engine) *Registry {
	r := &Registry{engines: make(map[models.GameType]Engine)}
	for _, e := range engines {
		r.Register(e)
	}
	return r
}

// Register adds or replaces the engine for e.Type().
func (r *Registry) Register(e Engine) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.engines[e.Type()] = e
}

// Get returns the engine for gameType.
func (r *Registry) Get(gameType models.GameType) (Engine, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.engines[gameType]
	if !ok {
		return nil, fmt.Errorf("unsupported game type %q", gameType)
	}
	return e, nil
}

// Types lists the registered game types.
func (r *Registry) Types() []models.GameType {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]models.GameType, 0, len(r.engines))
	for t := range r.engines {
		out = append(out, t)
	}
	return out
}
