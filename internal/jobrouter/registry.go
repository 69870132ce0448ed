package jobrouter

import (
	"errors"
	"fmt"
	"sort"
)

// Jobs maps job kinds to their definitions.
type Jobs map[string]Definition

// Registry holds the job kinds known to a router. Registration happens
// before the router is built; once sealed the registry is read-only and
// safe for concurrent use without locking.
type Registry struct {
	defs   map[string]Definition
	sealed bool
}

// NewRegistry builds a sealed registry from jobs. Empty kinds and nil
// definitions are rejected.
func NewRegistry(jobs Jobs) (*Registry, error) {
	r := &Registry{defs: make(map[string]Definition, len(jobs))}
	for kind, def := range jobs {
		if err := r.Register(kind, def); err != nil {
			return nil, err
		}
	}
	return r, nil
}

// Register adds a kind. It fails on an empty kind, a nil definition, a
// kind already present, or a sealed registry.
func (r *Registry) Register(kind string, def Definition) error {
	if r.sealed {
		return fmt.Errorf("register %q: %w", kind, ErrSealed)
	}
	if kind == "" {
		return errors.New("job kind must not be empty")
	}
	if def == nil {
		return fmt.Errorf("job kind %q: nil definition", kind)
	}
	if _, ok := r.defs[kind]; ok {
		return fmt.Errorf("%w: %s", ErrDuplicateJobKind, kind)
	}
	r.defs[kind] = def
	return nil
}

// Resolve returns the definition for kind or ErrUnknownJobKind.
func (r *Registry) Resolve(kind string) (Definition, error) {
	def, ok := r.defs[kind]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownJobKind, kind)
	}
	return def, nil
}

// Kinds lists the registered kinds in sorted order.
func (r *Registry) Kinds() []string {
	kinds := make([]string, 0, len(r.defs))
	for kind := range r.defs {
		kinds = append(kinds, kind)
	}
	sort.Strings(kinds)
	return kinds
}

// Len returns the number of registered kinds.
func (r *Registry) Len() int {
	return len(r.defs)
}

// Seal freezes the registry.
func (r *Registry) Seal() {
	r.sealed = true
}
