package backend

import (
	"fmt"
	"slices"
	"sync"
)

// Factory builds a backend for a connection reference. It must not dial:
// connections are opened on first I/O.
type Factory func(ref string, r Resolver) (Backend, error)

// Registry maps a backend type tag to its Factory.
type Registry struct {
	mu        sync.RWMutex
	factories map[string]Factory
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{factories: map[string]Factory{}}
}

// Default holds the built-in variants, registered from each variant's init.
var Default = NewRegistry()

// Register binds a type tag to its factory, replacing any previous binding.
func (g *Registry) Register(tag string, f Factory) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.factories[tag] = f
}

// New returns a fresh backend instance for the given type tag.
func (g *Registry) New(tag, ref string, r Resolver) (Backend, error) {
	g.mu.RLock()
	f, ok := g.factories[tag]
	g.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("backend type not found: %s", tag)
	}
	return f(ref, r)
}

// Tags lists the registered type tags in sorted order.
func (g *Registry) Tags() []string {
	g.mu.RLock()
	defer g.mu.RUnlock()
	tags := make([]string, 0, len(g.factories))
	for t := range g.factories {
		tags = append(tags, t)
	}
	slices.Sort(tags)
	return tags
}

// Register binds a type tag in the Default registry.
func Register(tag string, f Factory) { Default.Register(tag, f) }

// New builds a backend from the Default registry.
func New(tag, ref string, r Resolver) (Backend, error) { return Default.New(tag, ref, r) }
