package model

import (
	"fmt"
	"sort"
	"sync"
)

type (
	// Registry maps model names to their descriptor and adapter. Registries are
	// built explicitly at startup and injected into agents; lookups are safe
	// for concurrent use.
	Registry struct {
		mu      sync.RWMutex
		entries map[string]Entry
		labels  map[string]string
	}

	// Entry binds a descriptor to the adapter serving it.
	Entry struct {
		Descriptor Descriptor
		Adapter    Adapter
	}
)

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		entries: make(map[string]Entry),
		labels:  make(map[string]string),
	}
}

// Register adds a model. It returns a ValidationError when the name is empty,
// the adapter is nil or the name is already registered.
func (r *Registry) Register(d Descriptor, a Adapter) error {
	if d.Name == "" {
		return NewValidationError("model name is required")
	}
	if a == nil {
		return NewValidationError("model %q: adapter is required", d.Name)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.entries[d.Name]; ok {
		return NewValidationError("model %q already registered", d.Name)
	}
	r.entries[d.Name] = Entry{Descriptor: d, Adapter: a}
	if d.Label != "" {
		r.labels[d.Label] = d.Name
	}
	return nil
}

// Lookup returns the entry registered under name. name may also be a label.
func (r *Registry) Lookup(name string) (Entry, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if e, ok := r.entries[name]; ok {
		return e, nil
	}
	if n, ok := r.labels[name]; ok {
		return r.entries[n], nil
	}
	return Entry{}, fmt.Errorf("%w: %q", ErrUnknownModel, name)
}

// Descriptors returns the registered descriptors sorted by name.
func (r *Registry) Descriptors() []Descriptor {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Descriptor, 0, len(r.entries))
	for _, e := range r.entries {
		out = append(out, e.Descriptor)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}
