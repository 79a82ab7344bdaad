package testutil

import "github.com/davidmreed/amaxa-sub000/internal/schema"

// Describe builds an object describe with an Id field followed by fields.
func Describe(name string, fields ...schema.Field) schema.ObjectDescribe {
	all := append([]schema.Field{{
		Name: schema.IDField, Type: schema.TypeID, Queryable: true, Accessible: true,
	}}, fields...)
	return schema.ObjectDescribe{Name: name, Fields: all}
}

// Text returns a fully permissioned string field.
func Text(name string) schema.Field {
	return Field(name, schema.TypeString)
}

// Field returns a fully permissioned field of the given type.
func Field(name string, t schema.FieldType) schema.Field {
	return schema.Field{
		Name: name, Type: t, Length: 255,
		Createable: true, Updateable: true, Queryable: true, Accessible: true,
	}
}

// Lookup returns a fully permissioned reference field.
func Lookup(name string, targets ...string) schema.Field {
	f := Field(name, schema.TypeReference)
	f.Length = 18
	f.ReferenceTo = targets
	return f
}
