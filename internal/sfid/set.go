package sfid

import "sort"

// Set is an unordered set of identifiers.
type Set map[ID]struct{}

// NewSet returns a set containing ids.
func NewSet(ids ...ID) Set {
	s := make(Set, len(ids))
	for _, id := range ids {
		s[id] = struct{}{}
	}
	return s
}

// Add inserts id. Returns true if id was not already present.
func (s Set) Add(id ID) bool {
	if _, ok := s[id]; ok {
		return false
	}
	s[id] = struct{}{}
	return true
}

// Has reports whether id is in the set.
func (s Set) Has(id ID) bool {
	_, ok := s[id]
	return ok
}

// Remove deletes id from the set.
func (s Set) Remove(id ID) {
	delete(s, id)
}

// Len returns the number of ids.
func (s Set) Len() int {
	return len(s)
}

// Clone returns an independent copy.
func (s Set) Clone() Set {
	c := make(Set, len(s))
	for id := range s {
		c[id] = struct{}{}
	}
	return c
}

// Union adds every id in other to s.
func (s Set) Union(other Set) {
	for id := range other {
		s[id] = struct{}{}
	}
}

// Sorted returns the ids in lexical order. Used wherever iteration order
// reaches the remote API or an output file so that runs are reproducible.
func (s Set) Sorted() []ID {
	out := make([]ID, 0, len(s))
	for id := range s {
		out = append(out, id)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].s < out[j].s })
	return out
}
