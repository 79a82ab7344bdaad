// Package transform provides the pluggable value-transform registry.
//
// A transform is a pure string → string function. Transforms are created by
// factories registered under a name; each factory publishes a CUE schema its
// options must satisfy, and receives the describe of the field it will be
// applied to so that it can adapt (for example, truncating to field length).
package transform

import (
	"encoding/json"
	"fmt"
	"sort"
	"sync"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	cueerrors "cuelang.org/go/cue/errors"

	"github.com/davidmreed/amaxa-sub000/internal/schema"
)

// Func transforms one value.
type Func func(string) string

// Factory builds transforms of one kind.
type Factory interface {
	// OptionsSchema returns a CUE expression that the options map must
	// unify with. Use close({}) for transforms without options.
	OptionsSchema() string

	// New creates the transform for field with already-validated options.
	New(field schema.Field, options map[string]any) (Func, error)
}

// FactoryFunc adapts a plain constructor with no options into a Factory.
type FactoryFunc func(field schema.Field) Func

func (f FactoryFunc) OptionsSchema() string { return "close({})" }

func (f FactoryFunc) New(field schema.Field, _ map[string]any) (Func, error) {
	return f(field), nil
}

// Registry maps transform names to factories.
type Registry struct {
	mu        sync.RWMutex
	factories map[string]Factory
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{factories: make(map[string]Factory)}
}

// Register adds a factory. Registering a name twice is an error.
func (r *Registry) Register(name string, f Factory) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.factories[name]; exists {
		return fmt.Errorf("transform %q already registered", name)
	}
	r.factories[name] = f
	return nil
}

// Names returns the registered names in sorted order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.factories))
	for name := range r.factories {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Validate checks options against the named transform's schema without
// building it.
func (r *Registry) Validate(name string, options map[string]any) error {
	f, err := r.lookup(name)
	if err != nil {
		return err
	}
	return validateOptions(name, f.OptionsSchema(), options)
}

// Build validates options and creates the named transform for field.
func (r *Registry) Build(name string, field schema.Field, options map[string]any) (Func, error) {
	f, err := r.lookup(name)
	if err != nil {
		return nil, err
	}
	if err := validateOptions(name, f.OptionsSchema(), options); err != nil {
		return nil, err
	}
	fn, err := f.New(field, options)
	if err != nil {
		return nil, fmt.Errorf("transform %q on field %s: %w", name, field.Name, err)
	}
	return fn, nil
}

func (r *Registry) lookup(name string) (Factory, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	f, ok := r.factories[name]
	if !ok {
		return nil, fmt.Errorf("unknown transform %q", name)
	}
	return f, nil
}

// validateOptions unifies the JSON form of options with the CUE schema.
func validateOptions(name, schemaSrc string, options map[string]any) error {
	if options == nil {
		options = map[string]any{}
	}
	data, err := json.Marshal(options)
	if err != nil {
		return fmt.Errorf("transform %q: encode options: %w", name, err)
	}

	ctx := cuecontext.New()
	schemaVal := ctx.CompileString(schemaSrc)
	if err := schemaVal.Err(); err != nil {
		return fmt.Errorf("transform %q: invalid options schema: %w", name, err)
	}
	optsVal := ctx.CompileBytes(data)
	if err := optsVal.Err(); err != nil {
		return fmt.Errorf("transform %q: options: %w", name, err)
	}
	if err := schemaVal.Unify(optsVal).Validate(cue.Concrete(true)); err != nil {
		return fmt.Errorf("transform %q: invalid options: %s", name, cueerrors.Details(err, nil))
	}
	return nil
}
