package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/davidmreed/amaxa-sub000/internal/filestore"
	"github.com/davidmreed/amaxa-sub000/internal/schema"
	"github.com/davidmreed/amaxa-sub000/internal/sfid"
)

// Observer receives per-record outcomes, for metrics.
type Observer interface {
	RecordExtracted(sobject string)
	RecordLoaded(sobject string)
	RecordFailed(sobject string, kind Kind)
}

type nopObserver struct{}

func (nopObserver) RecordExtracted(string)    {}
func (nopObserver) RecordLoaded(string)       {}
func (nopObserver) RecordFailed(string, Kind) {}

// Option configures an operation.
type Option func(*options)

type options struct {
	logger   *slog.Logger
	runIDs   RunIDGenerator
	observer Observer
	journal  Journal
	state    *LoadState
}

// WithLogger sets the logger. Default: slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(o *options) {
		o.logger = l
	}
}

// WithRunIDGenerator sets the run id source. Default: UUIDv7Generator.
func WithRunIDGenerator(g RunIDGenerator) Option {
	return func(o *options) {
		o.runIDs = g
	}
}

// WithObserver registers an observer of record outcomes.
func WithObserver(obs Observer) Option {
	return func(o *options) {
		o.observer = obs
	}
}

// WithJournal makes a load record every id mapping and stage change as it
// happens. Ignored by extraction.
func WithJournal(j Journal) Option {
	return func(o *options) {
		o.journal = j
	}
}

// WithLoadState resumes a load from a previously saved state. Ignored by
// extraction.
func WithLoadState(s LoadState) Option {
	return func(o *options) {
		o.state = &s
	}
}

func buildOptions(opts []Option) options {
	o := options{
		logger:   slog.Default(),
		runIDs:   UUIDv7Generator{},
		observer: nopObserver{},
	}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// Operation holds the state shared by the steps of one run: the describe
// cache, the key prefix map, the file store, and the error log.
//
// Operation state is owned by the single goroutine calling Run.
type Operation struct {
	conn      Connection
	files     filestore.FileStore
	direction schema.Direction
	logger    *slog.Logger
	observer  Observer
	runID     string

	steps     []*Step
	positions map[string]int
	describes map[string]schema.ObjectDescribe
	prefixes  map[string]string

	errors []*Error
}

func newOperation(conn Connection, files filestore.FileStore, dir schema.Direction, o options) *Operation {
	runID := o.runIDs.Generate()
	return &Operation{
		conn:      conn,
		files:     files,
		direction: dir,
		runID:     runID,
		logger:    o.logger.With("run_id", runID, "operation", dir.String()),
		observer:  o.observer,
		positions: make(map[string]int),
		describes: make(map[string]schema.ObjectDescribe),
		prefixes:  make(map[string]string),
	}
}

// add registers a step. Steps keep the order in which they are added.
func (o *Operation) add(s *Step) error {
	if s.SObject == "" {
		return &Error{Kind: KindConfiguration, Message: "step has no object type"}
	}
	if _, dup := o.positions[s.SObject]; dup {
		return &Error{Kind: KindConfiguration, SObject: s.SObject, Message: "object type appears in more than one step"}
	}
	s.op = o
	s.position = len(o.steps)
	o.positions[s.SObject] = s.position
	o.steps = append(o.steps, s)
	return nil
}

// RunID returns the id this run logs under.
func (o *Operation) RunID() string { return o.runID }

// Errors returns the errors recorded so far.
func (o *Operation) Errors() []*Error {
	return append([]*Error(nil), o.errors...)
}

// TypeForID maps an id to its object type through the key prefix.
func (o *Operation) TypeForID(id sfid.ID) (string, bool) {
	t, ok := o.prefixes[id.Prefix()]
	return t, ok
}

func (o *Operation) describe(ctx context.Context, sobject string) (schema.ObjectDescribe, error) {
	if d, ok := o.describes[sobject]; ok {
		return d, nil
	}
	d, err := o.conn.DescribeObject(ctx, sobject)
	if err != nil {
		return schema.ObjectDescribe{}, remoteError(sobject, err)
	}
	o.describes[sobject] = d
	return d, nil
}

// initialize loads the key prefix map, then resolves and verifies every
// step. All schema problems are reported together.
func (o *Operation) initialize(ctx context.Context) error {
	summaries, err := o.conn.GlobalDescribe(ctx)
	if err != nil {
		return remoteError("", err)
	}
	known := make(map[string]bool, len(summaries))
	for _, s := range summaries {
		known[s.Name] = true
		if s.KeyPrefix != "" {
			o.prefixes[s.KeyPrefix] = s.Name
		}
	}

	var errs []error
	for _, s := range o.steps {
		if !known[s.SObject] {
			errs = append(errs, &Error{Kind: KindSchemaMismatch, SObject: s.SObject, Message: "object type does not exist or is not accessible"})
			continue
		}
		if err := s.initialize(ctx); err != nil {
			errs = append(errs, err)
			continue
		}
		errs = append(errs, s.verify()...)
	}
	return errors.Join(errs...)
}

// recordError appends a per-record or step-level error.
func (o *Operation) recordError(e *Error) {
	o.errors = append(o.errors, e)
	o.observer.RecordFailed(e.SObject, e.Kind)
	o.logger.Warn("record error", "kind", string(e.Kind), "sobject", e.SObject, "id", e.RecordID, "message", e.Message)
}

func (o *Operation) addError(kind Kind, sobject, id, format string, args ...any) {
	o.recordError(&Error{Kind: kind, SObject: sobject, RecordID: id, Message: fmt.Sprintf(format, args...)})
}

// finish closes the file store and converts recorded errors into the run's
// result.
func (o *Operation) finish(runErr error) error {
	closeErr := o.files.Close()
	if closeErr != nil {
		closeErr = fmt.Errorf("close file store: %w", closeErr)
	}
	if runErr == nil && len(o.errors) > 0 {
		runErr = &RunError{Errors: o.Errors()}
	}
	if runErr != nil && closeErr != nil {
		return errors.Join(runErr, closeErr)
	}
	if runErr != nil {
		return runErr
	}
	return closeErr
}
