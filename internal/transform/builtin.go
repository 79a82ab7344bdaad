package transform

import (
	"fmt"
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
	"golang.org/x/text/unicode/norm"

	"github.com/davidmreed/amaxa-sub000/internal/schema"
)

// Default returns a registry populated with the built-in transforms.
func Default() *Registry {
	r := NewRegistry()
	for name, f := range builtins() {
		// Names are distinct; Register cannot fail on a fresh registry.
		_ = r.Register(name, f)
	}
	return r
}

func builtins() map[string]Factory {
	return map[string]Factory{
		"strip": FactoryFunc(func(schema.Field) Func {
			return strings.TrimSpace
		}),
		"lowercase": FactoryFunc(func(schema.Field) Func {
			c := cases.Lower(language.Und)
			return c.String
		}),
		"uppercase": FactoryFunc(func(schema.Field) Func {
			c := cases.Upper(language.Und)
			return c.String
		}),
		"title": FactoryFunc(func(schema.Field) Func {
			c := cases.Title(language.Und)
			return c.String
		}),
		"compress-whitespace": FactoryFunc(func(schema.Field) Func {
			return func(v string) string {
				return strings.Join(strings.Fields(v), " ")
			}
		}),
		"normalize": FactoryFunc(func(schema.Field) Func {
			return norm.NFC.String
		}),
		"prefix": affixFactory{prepend: true},
		"suffix": affixFactory{},
		"truncate": truncateFactory{},
	}
}

// affixFactory adds a constant to the start or end of non-empty values.
type affixFactory struct {
	prepend bool
}

func (affixFactory) OptionsSchema() string {
	return "close({value: string})"
}

func (f affixFactory) New(_ schema.Field, options map[string]any) (Func, error) {
	value, _ := options["value"].(string)
	return func(v string) string {
		if v == "" {
			return v
		}
		if f.prepend {
			return value + v
		}
		return v + value
	}, nil
}

// truncateFactory cuts values to a maximum number of characters. Without a
// length option the field's describe length applies.
type truncateFactory struct{}

func (truncateFactory) OptionsSchema() string {
	return "close({length?: int & >0})"
}

func (truncateFactory) New(field schema.Field, options map[string]any) (Func, error) {
	limit := field.Length
	if raw, ok := options["length"]; ok {
		n, err := intOption(raw)
		if err != nil {
			return nil, err
		}
		limit = n
	}
	if limit <= 0 {
		return nil, fmt.Errorf("no length option and field has no length")
	}
	return func(v string) string {
		runes := []rune(v)
		if len(runes) <= limit {
			return v
		}
		return string(runes[:limit])
	}, nil
}

func intOption(raw any) (int, error) {
	switch n := raw.(type) {
	case int:
		return n, nil
	case int64:
		return int(n), nil
	case float64:
		return int(n), nil
	default:
		return 0, fmt.Errorf("expected integer, got %T", raw)
	}
}
