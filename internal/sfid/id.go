// Package sfid implements record identifiers for the remote data store.
//
// Identifiers come in two forms: a 15-character case-sensitive body and an
// 18-character form that appends a 3-character case-insensitive checksum
// suffix. All identifiers are held in their 18-character form so that
// equality and map hashing work regardless of which form was supplied.
package sfid

import (
	"errors"
	"fmt"
	"strings"
)

// suffixAlphabet maps a 5-bit uppercase mask to a suffix character.
const suffixAlphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZ012345"

// PrefixLength is the number of leading characters identifying the object type.
const PrefixLength = 3

// ErrInvalidID is returned when an identifier is not 15 or 18 characters long.
var ErrInvalidID = errors.New("invalid record id")

// ID is an immutable 18-character record identifier.
//
// The zero value represents "no id" and is never produced by New.
type ID struct {
	s string
}

// New canonicalizes s into an ID.
// Accepts 15-character ids (the suffix is derived) and 18-character ids
// (kept as-is). Any other length fails with ErrInvalidID.
func New(s string) (ID, error) {
	switch len(s) {
	case 18:
		return ID{s: s}, nil
	case 15:
		return ID{s: s + suffix(s)}, nil
	default:
		return ID{}, fmt.Errorf("%w: %q has length %d", ErrInvalidID, s, len(s))
	}
}

// MustNew is like New but panics on invalid input. Intended for tests and
// constants.
func MustNew(s string) ID {
	id, err := New(s)
	if err != nil {
		panic(err)
	}
	return id
}

// suffix derives the 3-character checksum for a 15-character body.
// Each 5-character group contributes one character: bit j of the group's
// mask is set iff character j is an uppercase ASCII letter.
func suffix(body string) string {
	var b strings.Builder
	b.Grow(3)
	for group := 0; group < 3; group++ {
		mask := 0
		for j := 0; j < 5; j++ {
			c := body[group*5+j]
			if c >= 'A' && c <= 'Z' {
				mask |= 1 << j
			}
		}
		b.WriteByte(suffixAlphabet[mask])
	}
	return b.String()
}

// String returns the 18-character form.
func (id ID) String() string {
	return id.s
}

// IsZero reports whether id is the zero ID.
func (id ID) IsZero() bool {
	return id.s == ""
}

// Prefix returns the 3-character key prefix that identifies the object type.
func (id ID) Prefix() string {
	if len(id.s) < PrefixLength {
		return ""
	}
	return id.s[:PrefixLength]
}

// Equal reports whether id denotes the same record as raw, which may be in
// either the 15- or 18-character form.
func (id ID) Equal(raw string) bool {
	other, err := New(raw)
	if err != nil {
		return false
	}
	return other == id
}

// MarshalText implements encoding.TextMarshaler.
func (id ID) MarshalText() ([]byte, error) {
	return []byte(id.s), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (id *ID) UnmarshalText(b []byte) error {
	parsed, err := New(string(b))
	if err != nil {
		return err
	}
	*id = parsed
	return nil
}
