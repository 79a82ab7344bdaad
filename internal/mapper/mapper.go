// Package mapper renames record keys and applies value transforms.
package mapper

import (
	"github.com/davidmreed/amaxa-sub000/internal/schema"
	"github.com/davidmreed/amaxa-sub000/internal/transform"
)

// Mapper holds the per-object key renames and transform chains.
//
// Transforms are keyed by the source key (the key before renaming).
// Keys without a rename or transform pass through unchanged.
type Mapper struct {
	names      map[string]string
	transforms map[string][]transform.Func
}

// New returns an empty mapper.
func New() *Mapper {
	return &Mapper{
		names:      make(map[string]string),
		transforms: make(map[string][]transform.Func),
	}
}

// Rename maps key from to key to.
func (m *Mapper) Rename(from, to string) {
	m.names[from] = to
}

// AddTransform appends fn to the chain for key.
func (m *Mapper) AddTransform(key string, fn transform.Func) {
	m.transforms[key] = append(m.transforms[key], fn)
}

// MapKey returns the renamed form of key.
func (m *Mapper) MapKey(key string) string {
	if m == nil {
		return key
	}
	if to, ok := m.names[key]; ok {
		return to
	}
	return key
}

// Transform returns a new record with renamed keys and transformed values.
// A nil mapper returns a copy of r.
func (m *Mapper) Transform(r schema.Record) schema.Record {
	if m == nil {
		return r.Clone()
	}
	out := make(schema.Record, len(r))
	for k, v := range r {
		for _, fn := range m.transforms[k] {
			v = fn(v)
		}
		out[m.MapKey(k)] = v
	}
	return out
}

// Empty reports whether the mapper would leave every record unchanged.
func (m *Mapper) Empty() bool {
	return m == nil || (len(m.names) == 0 && len(m.transforms) == 0)
}
