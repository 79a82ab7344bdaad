package engine

import (
	"fmt"
	"strings"

	"github.com/davidmreed/amaxa-sub000/internal/schema"
)

// primitivize converts a record string into the value sent to the API.
// Empty strings become null; unsupported types are always null.
func primitivize(f schema.Field, value string) (any, error) {
	if f.Type.Unsupported() {
		return nil, nil
	}
	switch f.Type {
	case schema.TypeBoolean:
		switch strings.ToLower(strings.TrimSpace(value)) {
		case "true", "yes", "1":
			return true, nil
		case "false", "no", "0", "":
			return false, nil
		default:
			return nil, fmt.Errorf("%q is not a valid boolean for %s", value, f.Name)
		}
	default:
		if value == "" {
			return nil, nil
		}
		return value, nil
	}
}
