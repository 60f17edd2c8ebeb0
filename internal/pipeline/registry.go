// Package pipeline implements the audit execution engine: the component
// registry, dependency resolution, the persisted-state runner, and the
// primary/resume drivers built on top of it.
package pipeline

import (
	"context"
	"fmt"

	"github.com/sitescope/siteaudit/internal/audit"
)

// RunFunc executes one component against a read-only input. It must report
// failure through the error return; the runner converts panics to failures as
// a backstop.
type RunFunc func(ctx context.Context, in audit.ComponentInput) (audit.ComponentOutput, error)

// StoreFunc merges a component's output into the result bag. It must be pure:
// replace the owned field, touch nothing else.
type StoreFunc func(bag audit.ResultBag, data any) audit.ResultBag

// Descriptor declares one component: its dependencies, its unit of work, its
// result merge, and the key observers see on lifecycle events. EventKey empty
// means internal only.
type Descriptor struct {
	Key          audit.ComponentKey
	Dependencies []audit.ComponentKey
	Run          RunFunc
	Store        StoreFunc
	EventKey     string
}

// Registry is the immutable component table built once at startup.
type Registry struct {
	keys        []audit.ComponentKey
	descriptors map[audit.ComponentKey]Descriptor
}

// NewRegistry validates the descriptor set and fails fast on duplicates,
// undeclared dependencies, or dependency cycles. A cycle is a configuration
// error and must surface at process startup, not per audit.
func NewRegistry(descriptors []Descriptor) (*Registry, error) {
	r := &Registry{
		descriptors: make(map[audit.ComponentKey]Descriptor, len(descriptors)),
	}
	for _, d := range descriptors {
		if d.Key == "" {
			return nil, fmt.Errorf("descriptor with empty key")
		}
		if _, exists := r.descriptors[d.Key]; exists {
			return nil, fmt.Errorf("duplicate component %q", d.Key)
		}
		if d.Run == nil || d.Store == nil {
			return nil, fmt.Errorf("component %q missing run or store", d.Key)
		}
		r.descriptors[d.Key] = d
		r.keys = append(r.keys, d.Key)
	}
	for _, d := range descriptors {
		for _, dep := range d.Dependencies {
			if _, ok := r.descriptors[dep]; !ok {
				return nil, fmt.Errorf("component %q depends on unknown component %q", d.Key, dep)
			}
		}
	}
	if cycle := r.findCycle(); cycle != "" {
		return nil, fmt.Errorf("dependency cycle involving component %q", cycle)
	}
	return r, nil
}

func (r *Registry) findCycle() audit.ComponentKey {
	const (
		unvisited = iota
		visiting
		done
	)
	state := make(map[audit.ComponentKey]int, len(r.keys))
	var visit func(key audit.ComponentKey) audit.ComponentKey
	visit = func(key audit.ComponentKey) audit.ComponentKey {
		switch state[key] {
		case visiting:
			return key
		case done:
			return ""
		}
		state[key] = visiting
		for _, dep := range r.descriptors[key].Dependencies {
			if bad := visit(dep); bad != "" {
				return bad
			}
		}
		state[key] = done
		return ""
	}
	for _, key := range r.keys {
		if bad := visit(key); bad != "" {
			return bad
		}
	}
	return ""
}

// Descriptor returns the descriptor for key.
func (r *Registry) Descriptor(key audit.ComponentKey) (Descriptor, bool) {
	d, ok := r.descriptors[key]
	return d, ok
}

// Keys returns every registered key in registration order.
func (r *Registry) Keys() []audit.ComponentKey {
	out := make([]audit.ComponentKey, len(r.keys))
	copy(out, r.keys)
	return out
}

// Order produces a dependency-respecting linear order over exactly the
// requested keys. The sort is stable: keys with no unmet dependency among each
// other keep their caller-supplied relative order. The resolver never
// auto-includes keys the caller did not ask for; a dependency outside the
// requested set imposes no ordering edge and is instead checked against the
// completed set when the component runs.
func (r *Registry) Order(requested []audit.ComponentKey) ([]audit.ComponentKey, error) {
	inSet := make(map[audit.ComponentKey]bool, len(requested))
	for _, key := range requested {
		if _, ok := r.descriptors[key]; !ok {
			return nil, fmt.Errorf("unknown component %q", key)
		}
		if inSet[key] {
			return nil, fmt.Errorf("component %q requested twice", key)
		}
		inSet[key] = true
	}

	placed := make(map[audit.ComponentKey]bool, len(requested))
	remaining := append([]audit.ComponentKey(nil), requested...)
	order := make([]audit.ComponentKey, 0, len(requested))
	for len(remaining) > 0 {
		progressed := false
		next := remaining[:0]
		for _, key := range remaining {
			ready := true
			for _, dep := range r.descriptors[key].Dependencies {
				if inSet[dep] && !placed[dep] {
					ready = false
					break
				}
			}
			if ready {
				order = append(order, key)
				placed[key] = true
				progressed = true
			} else {
				next = append(next, key)
			}
		}
		remaining = next
		if !progressed {
			// Unreachable once NewRegistry rejected cycles, kept as a guard
			// against future registry mutations.
			return nil, fmt.Errorf("unresolvable dependency order for %v", remaining)
		}
	}
	return order, nil
}

// Satisfied reports whether every declared dependency of key is in completed.
func (r *Registry) Satisfied(key audit.ComponentKey, completed map[audit.ComponentKey]bool) bool {
	for _, dep := range r.descriptors[key].Dependencies {
		if !completed[dep] {
			return false
		}
	}
	return true
}
