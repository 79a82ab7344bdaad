package schema

import "fmt"

// FieldGroup selects fields by capability instead of by name.
type FieldGroup string

const (
	GroupReadable  FieldGroup = "readable"
	GroupWriteable FieldGroup = "writeable"
	GroupSmart     FieldGroup = "smart"
)

// Direction distinguishes the two operation kinds where a choice depends on it.
type Direction int

const (
	Extract Direction = iota + 1
	Load
)

func (d Direction) String() string {
	switch d {
	case Extract:
		return "extract"
	case Load:
		return "load"
	default:
		return fmt.Sprintf("direction(%d)", int(d))
	}
}

// Select returns the names of fields in d that belong to group, in describe
// order. Unsupported types are always excluded; Id is always included.
//
// The smart group resolves to readable fields on extract and writeable
// fields on load.
func (g FieldGroup) Select(d ObjectDescribe, dir Direction) ([]string, error) {
	var keep func(Field) bool
	switch g {
	case GroupReadable:
		keep = readable
	case GroupWriteable:
		keep = writeable
	case GroupSmart:
		if dir == Load {
			keep = writeable
		} else {
			keep = readable
		}
	default:
		return nil, fmt.Errorf("unknown field group %q", string(g))
	}

	names := []string{IDField}
	for _, f := range d.Fields {
		if f.Name == IDField || f.Type.Unsupported() {
			continue
		}
		if keep(f) {
			names = append(names, f.Name)
		}
	}
	return names, nil
}

func readable(f Field) bool {
	return f.Queryable && f.Accessible
}

func writeable(f Field) bool {
	return f.Createable
}
