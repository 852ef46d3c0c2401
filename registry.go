package rorm

import (
	"fmt"
	"reflect"
	"sync"
)

// ModelResolver maps string references to model types. Through relations and
// pivot models name their counterpart by reference so definitions stay free
// of import cycles; the resolver turns the reference back into a type.
//
// A resolver is an explicit value: construct one, register models, and hand
// it to queries with WithResolver. Nothing registers implicitly.
type ModelResolver struct {
	mu    sync.RWMutex
	types map[string]reflect.Type
}

// NewModelResolver creates an empty resolver.
func NewModelResolver() *ModelResolver {
	return &ModelResolver{types: make(map[string]reflect.Type)}
}

// Register binds a reference to the model's type. The model may be passed as
// a value or pointer; registering the same reference again overwrites it.
func (r *ModelResolver) Register(reference string, model any) {
	typ := reflect.TypeOf(model)
	for typ.Kind() == reflect.Pointer {
		typ = typ.Elem()
	}
	r.mu.Lock()
	r.types[reference] = typ
	r.mu.Unlock()
}

// Resolve returns the type registered under reference.
// Returns ErrUnresolvedRelatedModel when the reference is unknown.
func (r *ModelResolver) Resolve(reference string) (reflect.Type, error) {
	r.mu.RLock()
	typ, ok := r.types[reference]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnresolvedRelatedModel, reference)
	}
	return typ, nil
}

// References returns the registered reference names, for introspection.
func (r *ModelResolver) References() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	refs := make([]string, 0, len(r.types))
	for ref := range r.types {
		refs = append(refs, ref)
	}
	return refs
}
