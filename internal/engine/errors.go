package engine

import (
	"errors"
	"fmt"
	"strings"

	"github.com/davidmreed/amaxa-sub000/internal/connection"
)

// Kind categorizes engine errors.
type Kind string

const (
	// KindConfiguration rejects an operation before any I/O.
	KindConfiguration Kind = "CONFIGURATION"

	// KindAuthentication indicates the remote API rejected the session.
	KindAuthentication Kind = "AUTHENTICATION"

	// KindSchemaMismatch indicates a missing or non-permissible field.
	KindSchemaMismatch Kind = "SCHEMA_MISMATCH"

	// KindInputValidation indicates input columns do not fit the field scope.
	KindInputValidation Kind = "INPUT_VALIDATION"

	// KindBadData indicates a value could not be coerced for loading.
	KindBadData Kind = "BAD_DATA"

	// KindOutsideReference indicates a reference outside the operation under
	// the error policy.
	KindOutsideReference Kind = "OUTSIDE_REFERENCE"

	// KindUnresolvedDependency indicates a required record could not be retrieved.
	KindUnresolvedDependency Kind = "UNRESOLVED_DEPENDENCY"

	// KindRemoteFailure indicates a bulk job failure, timeout, or per-record
	// API error.
	KindRemoteFailure Kind = "REMOTE_FAILURE"
)

// Error is an engine error, either tied to one record or to a whole step.
type Error struct {
	// Kind identifies the error category.
	Kind Kind

	// SObject is the affected object type, if any.
	SObject string

	// RecordID is the affected record's id as it appeared in the input or
	// the remote API. Empty for step-level errors.
	RecordID string

	// Message is a human-readable description.
	Message string

	// Err is the underlying cause, if any.
	Err error
}

// Error implements the error interface.
func (e *Error) Error() string {
	switch {
	case e.SObject != "" && e.RecordID != "":
		return fmt.Sprintf("%s: %s %s: %s", e.Kind, e.SObject, e.RecordID, e.Message)
	case e.SObject != "":
		return fmt.Sprintf("%s: %s: %s", e.Kind, e.SObject, e.Message)
	default:
		return fmt.Sprintf("%s: %s", e.Kind, e.Message)
	}
}

// Unwrap returns the underlying cause.
func (e *Error) Unwrap() error {
	return e.Err
}

// IsKind reports whether err is, or wraps, an *Error of the given kind.
func IsKind(err error, kind Kind) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind == kind
	}
	return false
}

// remoteError classifies an error returned by the Connection.
func remoteError(sobject string, err error) *Error {
	kind := KindRemoteFailure
	if errors.Is(err, connection.ErrAuthentication) {
		kind = KindAuthentication
	}
	return &Error{Kind: kind, SObject: sobject, Message: err.Error(), Err: err}
}

// RunError is returned by Run when the operation recorded errors.
type RunError struct {
	Errors []*Error
}

// Error implements the error interface.
func (e *RunError) Error() string {
	if len(e.Errors) == 1 {
		return "operation failed: " + e.Errors[0].Error()
	}
	var b strings.Builder
	fmt.Fprintf(&b, "operation failed with %d errors", len(e.Errors))
	if len(e.Errors) > 0 {
		b.WriteString("; first: ")
		b.WriteString(e.Errors[0].Error())
	}
	return b.String()
}

// Unwrap exposes the recorded errors to errors.Is and errors.As.
func (e *RunError) Unwrap() []error {
	out := make([]error, len(e.Errors))
	for i, err := range e.Errors {
		out[i] = err
	}
	return out
}
