package testutil

import (
	"fmt"
	"sync"

	"github.com/davidmreed/amaxa-sub000/internal/sfid"
)

// IDSequence issues deterministic record ids per key prefix.
//
// The first id for prefix "001" is 001000000000001 in its 18-character form.
// The same sequence of calls always yields the same ids, which keeps golden
// files stable.
//
// Thread-safety: All methods are safe for concurrent use via internal mutex.
type IDSequence struct {
	mu   sync.Mutex
	base int
	seq  map[string]int
}

// NewIDSequence creates a sequence whose counters start after base. Two
// orgs built with different bases never issue the same id.
func NewIDSequence(base int) *IDSequence {
	return &IDSequence{base: base, seq: make(map[string]int)}
}

// Next returns the next id for prefix.
func (s *IDSequence) Next(prefix string) sfid.ID {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.seq[prefix]++
	return ID(prefix, s.base+s.seq[prefix])
}

// Reset restarts every counter.
func (s *IDSequence) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.seq = make(map[string]int)
}

// ID builds the id with the given prefix and number.
func ID(prefix string, n int) sfid.ID {
	return sfid.MustNew(fmt.Sprintf("%s%012d", prefix, n))
}
