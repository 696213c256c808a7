// Package registry maps (interface, variant) names to factories that turn
// declarative configuration (e.g. parsed YAML) into concrete instances —
// the mechanism recipes are assembled from.
package registry

import (
	"fmt"
	"sync"

	"github.com/oriys/fetchengine/internal/ferrors"
)

// Factory validates raw params and constructs a T from them. Validate
// should be called before Create; Create may assume params already passed
// Validate.
type Factory[T any] interface {
	Validate(params map[string]any) error
	Create(params map[string]any) (T, error)
}

// Registry is a typed, name-indexed set of factories for one interface
// (e.g. BundleLocator, BundleLoader, FileFilter). Each interface gets its
// own Registry[T] instance rather than one registry keyed by interface
// name, so callers get compile-time typed results.
type Registry[T any] struct {
	mu        sync.RWMutex
	factories map[string]Factory[T]
}

// New creates an empty registry.
func New[T any]() *Registry[T] {
	return &Registry[T]{factories: make(map[string]Factory[T])}
}

// Register adds a factory under variant. Registering the same variant
// twice replaces the prior factory.
func (r *Registry[T]) Register(variant string, f Factory[T]) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.factories[variant] = f
}

// Build validates params against the named variant's factory and, on
// success, constructs the instance.
func (r *Registry[T]) Build(variant string, params map[string]any) (T, error) {
	var zero T
	r.mu.RLock()
	f, ok := r.factories[variant]
	r.mu.RUnlock()
	if !ok {
		return zero, ferrors.New(ferrors.Validation, "registry", fmt.Errorf("unknown variant %q", variant))
	}
	if err := f.Validate(params); err != nil {
		return zero, ferrors.New(ferrors.Validation, "registry", err).WithField(variant)
	}
	return f.Create(params)
}

// Variants lists the registered variant names.
func (r *Registry[T]) Variants() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.factories))
	for name := range r.factories {
		out = append(out, name)
	}
	return out
}

// InvalidArgument builds a Validation-kind error naming the offending
// field, for use inside Factory.Validate implementations.
func InvalidArgument(field, reason string) error {
	return ferrors.New(ferrors.Validation, "registry", fmt.Errorf("%s", reason)).WithField(field)
}
