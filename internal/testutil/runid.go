package testutil

// FixedRunID generates the same run id every time.
//
// Unlike engine.FixedGenerator which returns ids in sequence, this generator
// never runs out, so a scenario may start any number of operations and still
// produce byte-identical logs.
//
// Thread-safety: FixedRunID is stateless and safe for concurrent use.
type FixedRunID struct {
	id string
}

// NewFixedRunID creates a fixed run id generator. If id is empty, Generate
// returns "test-run".
func NewFixedRunID(id string) *FixedRunID {
	if id == "" {
		id = "test-run"
	}
	return &FixedRunID{id: id}
}

// Generate returns the fixed run id.
func (g *FixedRunID) Generate() string {
	return g.id
}
