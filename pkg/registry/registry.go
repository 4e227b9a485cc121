// Package registry holds the set of registered factories. It is plain,
// unsynchronized data: the Injector's loop goroutine is its only caller,
// the same way juju's dependency engine keeps its manifolds map as a
// bare field on engine rather than behind its own lock.
package registry

import (
	"github.com/cuemby/loom/pkg/enginerrors"
	"github.com/cuemby/loom/pkg/host"
	"github.com/cuemby/loom/pkg/item"
)

// Dependency is one resolved (key, value) pair handed to a factory's
// Start recipe, in the same order as the factory's Requires list.
type Dependency struct {
	Key   item.Key
	Value any
}

// StartFunc is a factory's start recipe. It receives the factory's own
// Args (opaque configuration supplied at registration) and the resolved
// dependency tuple, and must return a live worker handle or an error.
// The recipe is expected to perform its own call into a *host.Host to
// spawn the worker; the Injector only asks for and receives the handle.
type StartFunc func(args any, deps []Dependency) (*host.Handle, error)

// Factory is a recipe for producing a worker once a particular
// combination of items is available.
type Factory struct {
	ID       string
	Requires []item.Key
	Provides []item.Key
	Args     any
	Start    StartFunc
}

// Registry is the set of currently registered factories, in registration
// order (order matters for the determinism property: re-matching after a
// push must visit dependent factories in a stable sequence).
type Registry struct {
	byID  map[string]*Factory
	order []string
}

// New returns an empty Registry.
func New() *Registry {
	return &Registry{byID: make(map[string]*Factory)}
}

// Add registers a new factory. Returns enginerrors.AlreadyRegistered if
// the ID is already in use, or enginerrors.InvalidFactory if the factory
// is malformed.
func (r *Registry) Add(f *Factory) error {
	if f.ID == "" {
		return enginerrors.New(enginerrors.InvalidFactory, nil)
	}
	if f.Start == nil {
		return enginerrors.New(enginerrors.InvalidFactory, nil)
	}
	if _, exists := r.byID[f.ID]; exists {
		return enginerrors.New(enginerrors.AlreadyRegistered, nil)
	}
	r.byID[f.ID] = f
	r.order = append(r.order, f.ID)
	return nil
}

// Remove unregisters a factory by ID. Running workers spawned from it
// are untouched: removal only stops future matching.
func (r *Registry) Remove(id string) error {
	if _, exists := r.byID[id]; !exists {
		return enginerrors.New(enginerrors.NotFound, nil)
	}
	delete(r.byID, id)
	for i, existing := range r.order {
		if existing == id {
			r.order = append(r.order[:i], r.order[i+1:]...)
			break
		}
	}
	return nil
}

// Lookup returns the factory registered under id, if any.
func (r *Registry) Lookup(id string) (*Factory, bool) {
	f, ok := r.byID[id]
	return f, ok
}

// All returns every registered factory, in registration order.
func (r *Registry) All() []*Factory {
	out := make([]*Factory, 0, len(r.order))
	for _, id := range r.order {
		out = append(out, r.byID[id])
	}
	return out
}

// DependingOn returns, in registration order, every factory that
// requires the given key.
func (r *Registry) DependingOn(key item.Key) []*Factory {
	var out []*Factory
	for _, id := range r.order {
		f := r.byID[id]
		for _, k := range f.Requires {
			if k == key {
				out = append(out, f)
				break
			}
		}
	}
	return out
}
