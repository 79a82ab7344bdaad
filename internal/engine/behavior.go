package engine

import "fmt"

// SelfLookupBehavior controls whether extraction follows self references.
type SelfLookupBehavior string

const (
	TraceAll  SelfLookupBehavior = "trace-all"
	TraceNone SelfLookupBehavior = "trace-none"
)

// ParseSelfLookupBehavior parses a configured value.
func ParseSelfLookupBehavior(s string) (SelfLookupBehavior, error) {
	switch b := SelfLookupBehavior(s); b {
	case TraceAll, TraceNone:
		return b, nil
	default:
		return "", fmt.Errorf("unknown self-lookup behavior %q", s)
	}
}

// OutsideLookupBehavior controls how a reference to a record outside the
// operation is handled.
type OutsideLookupBehavior string

const (
	DropRecord OutsideLookupBehavior = "drop-record"
	DropField  OutsideLookupBehavior = "drop-field"
	Include    OutsideLookupBehavior = "include"
	// Recurse behaves as Include; no step is synthesized for the target.
	Recurse    OutsideLookupBehavior = "recurse"
	ErrorOnRef OutsideLookupBehavior = "error"
)

// ParseOutsideLookupBehavior parses a configured value.
func ParseOutsideLookupBehavior(s string) (OutsideLookupBehavior, error) {
	switch b := OutsideLookupBehavior(s); b {
	case DropRecord, DropField, Include, Recurse, ErrorOnRef:
		return b, nil
	default:
		return "", fmt.Errorf("unknown outside-lookup behavior %q", s)
	}
}

// ExtractScope selects the records an extraction step starts from.
type ExtractScope int

const (
	// ScopeAll extracts every record of the type.
	ScopeAll ExtractScope = iota + 1
	// ScopeQuery extracts the records matching a WHERE clause.
	ScopeQuery
	// ScopeDescendants extracts records referencing already-extracted
	// records of earlier steps.
	ScopeDescendants
	// ScopeSelected extracts a fixed set of ids.
	ScopeSelected
)

func (s ExtractScope) String() string {
	switch s {
	case ScopeAll:
		return "all"
	case ScopeQuery:
		return "query"
	case ScopeDescendants:
		return "descendants"
	case ScopeSelected:
		return "selected"
	default:
		return fmt.Sprintf("scope(%d)", int(s))
	}
}

// InputValidation controls how strictly a load checks its input columns.
type InputValidation string

const (
	// ValidateNone skips column checks.
	ValidateNone InputValidation = "none"
	// ValidateDefault requires an Id column and every column to be in scope.
	ValidateDefault InputValidation = "default"
	// ValidateStrict requires the columns to equal the field scope.
	ValidateStrict InputValidation = "strict"
)

// ParseInputValidation parses a configured value.
func ParseInputValidation(s string) (InputValidation, error) {
	switch v := InputValidation(s); v {
	case ValidateNone, ValidateDefault, ValidateStrict:
		return v, nil
	default:
		return "", fmt.Errorf("unknown input validation %q", s)
	}
}

// FieldBehavior overrides the step's lookup behaviors for one field. Self
// applies only if the field is a self lookup; Outside applies only to
// references leaving the operation. Zero values defer to the step.
type FieldBehavior struct {
	Self    SelfLookupBehavior
	Outside OutsideLookupBehavior
}
