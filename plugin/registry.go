package plugin

import (
	"fmt"
	"slices"
	"sync"
)

// Registry holds middleware in registration order.
type Registry struct {
	mu    sync.RWMutex
	items []*Middleware
}

// NewRegistry creates a registry pre-filled with mws.
func NewRegistry(mws ...*Middleware) (*Registry, error) {
	r := &Registry{}
	for _, m := range mws {
		if err := r.Register(m); err != nil {
			return nil, err
		}
	}
	return r, nil
}

// Register appends a middleware. Names must be unique.
func (r *Registry) Register(m *Middleware) error {
	if m == nil || m.Name == "" {
		return fmt.Errorf("middleware must have a name")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, existing := range r.items {
		if existing.Name == m.Name {
			return fmt.Errorf("middleware %q already registered", m.Name)
		}
	}
	r.items = append(r.items, m)
	return nil
}

// List returns the middleware in registration order.
func (r *Registry) List() []*Middleware {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return slices.Clone(r.items)
}

// Unregister removes a middleware by name.
func (r *Registry) Unregister(name string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i, m := range r.items {
		if m.Name == name {
			r.items = slices.Delete(r.items, i, i+1)
			return nil
		}
	}
	return fmt.Errorf("middleware %q not found", name)
}
