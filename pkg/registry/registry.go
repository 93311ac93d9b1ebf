package registry

import (
	"sort"
	"sync"

	"github.com/syncbridge/syncbridge/pkg/types"
)

// Registry is the in-memory table of provider configuration. Writes
// are serialized; reads are concurrent.
type Registry struct {
	mu        sync.RWMutex
	providers map[string]*types.ProviderConfig
}

// New returns an empty registry.
func New() *Registry {
	return &Registry{providers: make(map[string]*types.ProviderConfig)}
}

// Register validates, normalizes and upserts a provider.
func (r *Registry) Register(cfg *types.ProviderConfig) error {
	cfg.Normalize()
	if err := cfg.Validate(); err != nil {
		return err
	}

	r.mu.Lock()
	r.providers[cfg.Name] = cfg
	r.mu.Unlock()
	return nil
}

// Deregister removes a provider, reporting whether it existed.
func (r *Registry) Deregister(name string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.providers[name]
	delete(r.providers, name)
	return ok
}

// Get returns the configuration for a provider.
func (r *Registry) Get(name string) (*types.ProviderConfig, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	cfg, ok := r.providers[name]
	return cfg, ok
}

// List returns all provider names, sorted.
func (r *Registry) List() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.providers))
	for name := range r.providers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Len returns the number of registered providers.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.providers)
}
