// Package pattern defines the coordination pattern contract and the domain
// model shared by every engine component: agents, resources, constraints,
// execution state, and results.
package pattern

import (
	"context"
	"fmt"
	"sort"
	"sync"
)

// Pattern is the contract every coordination pattern implements. Execute
// may suspend on agent communication or I/O and must honor ctx
// cancellation. Validate is the pattern-specific check the executor
// composes with the generic validation engine. Rollback is a best-effort
// undo invoked when a retry attempt fails and rollback is enabled.
type Pattern interface {
	Execute(ctx context.Context, pc *Context) (*Result, error)
	Validate(ctx context.Context, pc *Context) (*ValidationResult, error)
	Rollback(ctx context.Context, pc *Context) error
	Metadata() Metadata
}

// Registry maps pattern ids to implementations. Lookups by category or
// capability are linear scans over metadata; pattern counts are in the
// tens, not thousands.
type Registry struct {
	mu       sync.RWMutex
	patterns map[string]Pattern
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{patterns: make(map[string]Pattern)}
}

// Register adds a pattern keyed by its metadata id.
func (r *Registry) Register(p Pattern) error {
	md := p.Metadata()
	if md.ID == "" {
		return fmt.Errorf("register pattern: empty id")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.patterns[md.ID]; exists {
		return fmt.Errorf("register pattern: %s already registered", md.ID)
	}
	r.patterns[md.ID] = p
	return nil
}

// Get looks up a pattern by id.
func (r *Registry) Get(id string) (Pattern, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.patterns[id]
	return p, ok
}

// List returns the metadata of every registered pattern, sorted by id.
func (r *Registry) List() []Metadata {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Metadata, 0, len(r.patterns))
	for _, p := range r.patterns {
		out = append(out, p.Metadata())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// FindByCategory returns the metadata of patterns in the given category.
func (r *Registry) FindByCategory(cat Category) []Metadata {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []Metadata
	for _, p := range r.patterns {
		if md := p.Metadata(); md.Category == cat {
			out = append(out, md)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// FindByCapability returns the metadata of patterns requiring the named
// capability.
func (r *Registry) FindByCapability(capability string) []Metadata {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []Metadata
	for _, p := range r.patterns {
		md := p.Metadata()
		for _, c := range md.RequiredCapabilities {
			if c == capability {
				out = append(out, md)
				break
			}
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}
