// Package schema defines the record and describe model shared by every
// layer: records as flat string maps, and object/field descriptors with the
// semantic type and capability flags the engine classifies lookups by.
package schema

import "strings"

// IDField is the implicit identifier field present on every record.
const IDField = "Id"

// Record maps field (or column) names to values. An absent key and an empty
// string both represent null.
type Record map[string]string

// Clone returns an independent copy of r.
func (r Record) Clone() Record {
	c := make(Record, len(r))
	for k, v := range r {
		c[k] = v
	}
	return c
}

// FieldType is the semantic type of a field, drawn from a closed set.
type FieldType string

const (
	TypeString      FieldType = "string"
	TypeBoolean     FieldType = "boolean"
	TypeInteger     FieldType = "integer"
	TypeDouble      FieldType = "double"
	TypeDate        FieldType = "date"
	TypeDateTime    FieldType = "datetime"
	TypeReference   FieldType = "reference"
	TypeID          FieldType = "id"
	TypeBase64      FieldType = "base64"
	TypeAddress     FieldType = "address"
	TypeGeolocation FieldType = "geolocation"
	TypeOther       FieldType = "other"
)

// Unsupported reports whether values of this type cannot be loaded through
// the bulk API. Such fields are excluded from field groups and sent as null.
func (t FieldType) Unsupported() bool {
	switch t {
	case TypeBase64, TypeAddress, TypeGeolocation:
		return true
	default:
		return false
	}
}

// TypeFromAPI maps a raw describe type name onto the semantic set.
func TypeFromAPI(raw string) FieldType {
	switch strings.ToLower(raw) {
	case "string", "textarea", "picklist", "multipicklist", "combobox",
		"email", "phone", "url", "encryptedstring", "time":
		return TypeString
	case "boolean":
		return TypeBoolean
	case "int", "integer", "long":
		return TypeInteger
	case "double", "currency", "percent":
		return TypeDouble
	case "date":
		return TypeDate
	case "datetime":
		return TypeDateTime
	case "reference":
		return TypeReference
	case "id":
		return TypeID
	case "base64":
		return TypeBase64
	case "address":
		return TypeAddress
	case "location", "geolocation":
		return TypeGeolocation
	default:
		return TypeOther
	}
}

// Field describes one field of an object type.
type Field struct {
	Name        string    `json:"name" yaml:"name"`
	Type        FieldType `json:"type" yaml:"type"`
	ReferenceTo []string  `json:"referenceTo,omitempty" yaml:"reference-to,omitempty"`
	Length      int       `json:"length,omitempty" yaml:"length,omitempty"`
	Createable  bool      `json:"createable" yaml:"createable"`
	Updateable  bool      `json:"updateable" yaml:"updateable"`
	Queryable   bool      `json:"queryable" yaml:"queryable"`
	Accessible  bool      `json:"accessible" yaml:"accessible"`
}

// IsReference reports whether the field holds record ids of other objects.
func (f Field) IsReference() bool {
	return f.Type == TypeReference && len(f.ReferenceTo) > 0
}

// IsPolymorphic reports whether the field may reference more than one type.
func (f Field) IsPolymorphic() bool {
	return len(f.ReferenceTo) > 1
}

// References reports whether sobject is among the field's targets.
func (f Field) References(sobject string) bool {
	for _, t := range f.ReferenceTo {
		if t == sobject {
			return true
		}
	}
	return false
}

// ObjectSummary is one entry of the global describe.
type ObjectSummary struct {
	Name       string `json:"name" yaml:"name"`
	KeyPrefix  string `json:"keyPrefix" yaml:"key-prefix"`
	Queryable  bool   `json:"queryable" yaml:"queryable"`
	Createable bool   `json:"createable" yaml:"createable"`
	Updateable bool   `json:"updateable" yaml:"updateable"`
}

// ObjectDescribe is the full describe of an object type. Fields keep the
// order in which the remote API reported them.
type ObjectDescribe struct {
	Name   string  `json:"name" yaml:"name"`
	Fields []Field `json:"fields" yaml:"fields"`
}

// FieldMap indexes the describe by field name.
func (d ObjectDescribe) FieldMap() map[string]Field {
	m := make(map[string]Field, len(d.Fields))
	for _, f := range d.Fields {
		m[f.Name] = f
	}
	return m
}
