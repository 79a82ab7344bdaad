package schema

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func accountDescribe() ObjectDescribe {
	return ObjectDescribe{
		Name: "Account",
		Fields: []Field{
			{Name: "Id", Type: TypeID, Queryable: true, Accessible: true},
			{Name: "Name", Type: TypeString, Createable: true, Updateable: true, Queryable: true, Accessible: true},
			{Name: "ParentId", Type: TypeReference, ReferenceTo: []string{"Account"}, Createable: true, Updateable: true, Queryable: true, Accessible: true},
			{Name: "BillingAddress", Type: TypeAddress, Queryable: true, Accessible: true},
			{Name: "LastModifiedDate", Type: TypeDateTime, Queryable: true, Accessible: true},
		},
	}
}

func TestTypeFromAPI(t *testing.T) {
	cases := map[string]FieldType{
		"picklist":  TypeString,
		"textarea":  TypeString,
		"boolean":   TypeBoolean,
		"int":       TypeInteger,
		"currency":  TypeDouble,
		"date":      TypeDate,
		"datetime":  TypeDateTime,
		"reference": TypeReference,
		"id":        TypeID,
		"base64":    TypeBase64,
		"address":   TypeAddress,
		"location":  TypeGeolocation,
		"anyType":   TypeOther,
	}
	for raw, want := range cases {
		assert.Equal(t, want, TypeFromAPI(raw), raw)
	}
}

func TestFieldGroups(t *testing.T) {
	d := accountDescribe()

	readable, err := GroupReadable.Select(d, Extract)
	require.NoError(t, err)
	assert.Equal(t, []string{"Id", "Name", "ParentId", "LastModifiedDate"}, readable)

	writeable, err := GroupWriteable.Select(d, Load)
	require.NoError(t, err)
	assert.Equal(t, []string{"Id", "Name", "ParentId"}, writeable)

	smartExtract, err := GroupSmart.Select(d, Extract)
	require.NoError(t, err)
	assert.Equal(t, readable, smartExtract)

	smartLoad, err := GroupSmart.Select(d, Load)
	require.NoError(t, err)
	assert.Equal(t, writeable, smartLoad)

	_, err = FieldGroup("everything").Select(d, Extract)
	require.Error(t, err)
}

func TestFieldHelpers(t *testing.T) {
	f := Field{Name: "WhatId", Type: TypeReference, ReferenceTo: []string{"Account", "Opportunity"}}
	assert.True(t, f.IsReference())
	assert.True(t, f.IsPolymorphic())
	assert.True(t, f.References("Opportunity"))
	assert.False(t, f.References("Contact"))

	m := accountDescribe().FieldMap()
	assert.Equal(t, TypeReference, m["ParentId"].Type)
}

func TestRecordClone(t *testing.T) {
	r := Record{"Id": "1", "Name": "x"}
	c := r.Clone()
	c["Name"] = "y"
	assert.Equal(t, "x", r["Name"])
}
