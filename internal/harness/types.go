package harness

import (
	"github.com/davidmreed/amaxa-sub000/internal/engine"
	"github.com/davidmreed/amaxa-sub000/internal/filestore"
	"github.com/davidmreed/amaxa-sub000/internal/testutil"
)

// Result is the outcome of a scenario execution.
type Result struct {
	// Pass indicates overall test success.
	// True if every assertion holds.
	Pass bool `json:"pass"`

	// Errors contains assertion failure messages.
	// Empty if Pass is true.
	Errors []string `json:"errors,omitempty"`

	// PhaseErrors are the errors each phase recorded, by phase name.
	PhaseErrors map[string][]*engine.Error `json:"-"`

	// Files is the file store after the last phase.
	Files *filestore.Memory `json:"-"`

	// Orgs are the source and target orgs, by org name.
	Orgs map[string]*testutil.FakeOrg `json:"-"`
}

// NewResult creates a new passing result.
func NewResult() *Result {
	return &Result{
		Pass:        true,
		Errors:      []string{},
		PhaseErrors: make(map[string][]*engine.Error),
		Orgs:        make(map[string]*testutil.FakeOrg),
	}
}

// AddError adds a validation error and marks the result as failed.
func (r *Result) AddError(err string) {
	r.Errors = append(r.Errors, err)
	r.Pass = false
}
