// Package connection adapts a low-level remote API into the record streams
// the engine consumes.
//
// The API interface mirrors the remote endpoints one call at a time: describe,
// REST query, composite retrieve, and the Bulk API job/batch lifecycle.
// Client layers the engine-facing behavior on top: id chunking under the
// platform caps, splitting DML into batches, polling jobs to completion
// under a timeout, and normalizing raw JSON values into record strings.
package connection

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// Platform limits.
const (
	// MaxRetrieveIDs is the per-request id cap of the composite retrieve call.
	MaxRetrieveIDs = 2000
	// MaxWhereLength bounds the length of a generated SOQL WHERE clause.
	MaxWhereLength = 4000
	// MaxBatchSize is the largest bulk batch the platform accepts.
	MaxBatchSize = 10000
)

// DateTimeLayout is the ISO-8601 form datetime values are normalized to.
const DateTimeLayout = "2006-01-02T15:04:05.000+0000"

var (
	// ErrAuthentication is returned when the remote API rejects the session.
	ErrAuthentication = errors.New("authentication failed")
	// ErrTimeout is returned when a bulk job does not finish in time.
	ErrTimeout = errors.New("bulk job timed out")
	// ErrBatchFailed is returned when the platform fails a whole batch.
	ErrBatchFailed = errors.New("bulk batch failed")
)

// Mode is the Bulk API concurrency mode.
type Mode string

const (
	Serial   Mode = "Serial"
	Parallel Mode = "Parallel"
)

// Payload is one record submitted for insert or update. A nil value sends
// null.
type Payload map[string]any

// BulkOptions carries the per-step Bulk API settings.
type BulkOptions struct {
	BatchSize    int
	Timeout      time.Duration
	PollInterval time.Duration
	Mode         Mode
}

// DefaultBulkOptions returns the platform defaults.
func DefaultBulkOptions() BulkOptions {
	return BulkOptions{
		BatchSize:    MaxBatchSize,
		Timeout:      600 * time.Second,
		PollInterval: 5 * time.Second,
		Mode:         Parallel,
	}
}

func (o BulkOptions) batchSize() int {
	if o.BatchSize <= 0 || o.BatchSize > MaxBatchSize {
		return MaxBatchSize
	}
	return o.BatchSize
}

// RecordError is one error the platform reported for a record.
type RecordError struct {
	StatusCode           string   `json:"statusCode"`
	Message              string   `json:"message"`
	Fields               []string `json:"fields,omitempty"`
	ExtendedErrorDetails string   `json:"extendedErrorDetails,omitempty"`
}

func (e RecordError) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s: %s", e.StatusCode, e.Message)
	if len(e.Fields) > 0 {
		fmt.Fprintf(&b, " (%s)", strings.Join(e.Fields, ", "))
	}
	if e.ExtendedErrorDetails != "" {
		b.WriteString(" ")
		b.WriteString(e.ExtendedErrorDetails)
	}
	return b.String()
}

// Result is the outcome of one record of a DML batch.
type Result struct {
	Success bool          `json:"success"`
	Created bool          `json:"created"`
	ID      string        `json:"id"`
	Errors  []RecordError `json:"errors,omitempty"`
}

// ErrorMessage joins the record's errors one per line.
func (r Result) ErrorMessage() string {
	parts := make([]string, len(r.Errors))
	for i, e := range r.Errors {
		parts[i] = e.String()
	}
	return strings.Join(parts, "\n")
}

// Operation is a Bulk API job operation.
type Operation string

const (
	OpQuery  Operation = "query"
	OpInsert Operation = "insert"
	OpUpdate Operation = "update"
)

// JobSpec describes a bulk job to create.
type JobSpec struct {
	Object    string
	Operation Operation
	Mode      Mode
}

// BatchState is the processing state of a bulk batch.
type BatchState string

const (
	BatchQueued       BatchState = "Queued"
	BatchInProgress   BatchState = "InProgress"
	BatchCompleted    BatchState = "Completed"
	BatchFailed       BatchState = "Failed"
	BatchNotProcessed BatchState = "Not Processed"
)

// Done reports whether the batch reached a terminal state.
func (s BatchState) Done() bool {
	return s == BatchCompleted || s == BatchFailed || s == BatchNotProcessed
}

// BatchInfo is the status of one batch.
type BatchInfo struct {
	ID      string
	State   BatchState
	Message string
}

// QueryPage is one page of a REST query.
type QueryPage struct {
	Records        []map[string]any
	Done           bool
	NextRecordsURL string
}
