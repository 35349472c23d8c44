// Package engine contains the component registry, the dependency-ordered
// scheduler, the result normalizer, and the consolidated report assembly.
// One scheduler runs one session at a time; the worker pool runs several
// schedulers in parallel over the shared provider registries.
package engine

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/insightlabs/marketscope/pkg/models"
)

var (
	// ErrCyclicDependency rejects a registration that would close a cycle.
	ErrCyclicDependency = errors.New("cyclic component dependency")

	// ErrDuplicateComponent rejects re-registration of a name.
	ErrDuplicateComponent = errors.New("component already registered")

	// ErrUnknownDependency surfaces at order time when a component names a
	// dependency that was never registered.
	ErrUnknownDependency = errors.New("unknown component dependency")
)

// Input is what an executor receives: the job plus the results of its
// declared dependencies (which may be error sentinels).
type Input struct {
	SessionID string
	Job       models.JobRequest
	Previous  map[string]models.ComponentResult
}

// Executor runs one component. The returned value may be a document
// (map), a sequence, or a scalar; the normalizer coerces the shape.
type Executor func(ctx context.Context, input Input) (any, error)

// Validator accepts or rejects a normalized ok result. A false return
// records the component as validation_failed.
type Validator func(result models.ComponentResult) bool

// Component is one registered analytical stage.
type Component struct {
	Name         string
	Dependencies []string
	Required     bool
	Executor     Executor
	Validator    Validator
}

// ComponentRegistry holds the component graph. Registration is expected at
// startup; Order may be called concurrently afterwards.
type ComponentRegistry struct {
	mu         sync.RWMutex
	components map[string]Component
}

// NewComponentRegistry creates an empty registry.
func NewComponentRegistry() *ComponentRegistry {
	return &ComponentRegistry{components: make(map[string]Component)}
}

// Register adds a component. Registration fails if the name is taken or if
// the new edge set closes a dependency cycle.
func (r *ComponentRegistry) Register(c Component) error {
	if c.Name == "" || c.Executor == nil {
		return fmt.Errorf("component name and executor are required")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.components[c.Name]; exists {
		return fmt.Errorf("%w: %s", ErrDuplicateComponent, c.Name)
	}

	r.components[c.Name] = c
	if _, err := topoOrderLocked(r.components); err != nil {
		delete(r.components, c.Name)
		return err
	}
	return nil
}

// Get returns a registered component.
func (r *ComponentRegistry) Get(name string) (Component, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.components[name]
	return c, ok
}

// Names returns all registered component names, sorted.
func (r *ComponentRegistry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.components))
	for name := range r.components {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Required returns the names of components marked required, sorted.
func (r *ComponentRegistry) Required() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var names []string
	for name, c := range r.components {
		if c.Required {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	return names
}

// Order returns the stable topological execution order: Kahn's algorithm
// with alphabetical selection among ready components, so equal-level
// components always run in the same order.
func (r *ComponentRegistry) Order() ([]Component, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for name, c := range r.components {
		for _, dep := range c.Dependencies {
			if _, known := r.components[dep]; !known {
				return nil, fmt.Errorf("%w: %s needs %s", ErrUnknownDependency, name, dep)
			}
		}
	}

	names, err := topoOrderLocked(r.components)
	if err != nil {
		return nil, err
	}
	ordered := make([]Component, len(names))
	for i, name := range names {
		ordered[i] = r.components[name]
	}
	return ordered, nil
}

func topoOrderLocked(components map[string]Component) ([]string, error) {
	indegree := make(map[string]int, len(components))
	dependents := make(map[string][]string)

	for name, c := range components {
		if _, ok := indegree[name]; !ok {
			indegree[name] = 0
		}
		for _, dep := range c.Dependencies {
			if _, known := components[dep]; !known {
				// Unregistered dependencies cannot form a cycle yet; they
				// are rejected when the full order is computed at run time.
				continue
			}
			indegree[name]++
			dependents[dep] = append(dependents[dep], name)
		}
	}

	// Ready set kept sorted for the stable alphabetical tie-break.
	var ready []string
	for name, deg := range indegree {
		if deg == 0 {
			ready = append(ready, name)
		}
	}
	sort.Strings(ready)

	order := make([]string, 0, len(components))
	for len(ready) > 0 {
		name := ready[0]
		ready = ready[1:]
		order = append(order, name)

		released := dependents[name]
		sort.Strings(released)
		for _, next := range released {
			indegree[next]--
			if indegree[next] == 0 {
				ready = insertSorted(ready, next)
			}
		}
	}

	if len(order) != len(components) {
		return nil, ErrCyclicDependency
	}
	return order, nil
}

func insertSorted(s []string, v string) []string {
	i := sort.SearchStrings(s, v)
	s = append(s, "")
	copy(s[i+1:], s[i:])
	s[i] = v
	return s
}
