package engine

import (
	"context"
	"errors"
	"fmt"
	"iter"

	"github.com/davidmreed/amaxa-sub000/internal/connection"
	"github.com/davidmreed/amaxa-sub000/internal/filestore"
	"github.com/davidmreed/amaxa-sub000/internal/schema"
	"github.com/davidmreed/amaxa-sub000/internal/sfid"
)

// Result file columns.
const (
	ResultOriginalID = "Original Id"
	ResultNewID      = "New Id"
	ResultError      = "Error"
)

// ResultHeader is the header of every result file.
var ResultHeader = []string{ResultOriginalID, ResultNewID, ResultError}

// LoadStep loads one object type.
type LoadStep struct {
	Step

	InputValidation InputValidation

	ld      *LoadOperation
	results filestore.Writer
}

// LoadOperation inserts the records of every step, then patches the lookups
// that could not be set at insert time.
type LoadOperation struct {
	*Operation

	steps   []*LoadStep
	state   LoadState
	journal Journal
}

// NewLoadOperation builds a load over steps, in order. WithLoadState resumes
// from a saved state.
func NewLoadOperation(conn Connection, files filestore.FileStore, steps []*LoadStep, opts ...Option) (*LoadOperation, error) {
	o := buildOptions(opts)
	op := &LoadOperation{
		Operation: newOperation(conn, files, schema.Load, o),
		state:     NewLoadState(),
		journal:   o.journal,
	}
	if o.state != nil {
		op.state = o.state.Clone()
		if op.state.IDMap == nil {
			op.state.IDMap = make(map[sfid.ID]sfid.ID)
		}
		if op.state.Stage == 0 {
			op.state.Stage = StageInserts
		}
	}
	for _, s := range steps {
		if err := op.add(&s.Step); err != nil {
			return nil, err
		}
		if s.InputValidation == "" {
			s.InputValidation = ValidateDefault
		}
		s.ld = op
		op.steps = append(op.steps, s)
	}
	return op, nil
}

// State returns a copy of the resumable state. It reflects every successful
// insert made so far.
func (op *LoadOperation) State() LoadState {
	return op.state.Clone()
}

// NewID returns the id an old id was loaded as.
func (op *LoadOperation) NewID(old sfid.ID) (sfid.ID, bool) {
	id, ok := op.state.IDMap[old]
	return id, ok
}

func (op *LoadOperation) register(ctx context.Context, sobject string, oldID, newID sfid.ID) error {
	if _, exists := op.state.IDMap[oldID]; exists {
		return nil
	}
	op.state.IDMap[oldID] = newID
	if op.journal != nil {
		if err := op.journal.RecordMapping(ctx, sobject, oldID, newID); err != nil {
			return fmt.Errorf("journal mapping %s: %w", oldID, err)
		}
	}
	return nil
}

func (op *LoadOperation) setStage(ctx context.Context, stage Stage) error {
	op.state.Stage = stage
	if op.journal != nil {
		if err := op.journal.RecordStage(ctx, stage); err != nil {
			return fmt.Errorf("journal stage: %w", err)
		}
	}
	return nil
}

// Run initializes and validates every step, then executes both phases. The
// file store is closed on every path. Recorded errors are returned as a
// *RunError.
func (op *LoadOperation) Run(ctx context.Context) error {
	if err := op.initialize(ctx); err != nil {
		return op.finish(err)
	}
	var errs []error
	for _, s := range op.steps {
		errs = append(errs, s.validateInput(ctx)...)
	}
	if err := errors.Join(errs...); err != nil {
		return op.finish(err)
	}
	op.logger.Info("load started", "steps", len(op.steps), "stage", op.state.Stage.String(), "mapped", len(op.state.IDMap))
	return op.finish(op.execute(ctx))
}

func (op *LoadOperation) execute(ctx context.Context) error {
	if op.state.Stage == StageInserts {
		for _, s := range op.steps {
			if stop, err := op.settle(s.SObject, s.insert(ctx)); stop {
				return err
			}
		}
		if err := op.setStage(ctx, StageDependents); err != nil {
			return err
		}
	}
	for _, s := range op.steps {
		if stop, err := op.settle(s.SObject, s.updateDependents(ctx)); stop {
			return err
		}
	}
	op.logger.Info("load finished", "mapped", len(op.state.IDMap))
	return nil
}

// settle records a step's outcome and reports whether the operation must
// stop. Engine errors are recorded; anything else is returned as fatal.
func (op *LoadOperation) settle(sobject string, err error) (bool, error) {
	if err != nil {
		var e *Error
		if !errors.As(err, &e) {
			return true, err
		}
		op.recordError(e)
	}
	if len(op.errors) > 0 {
		op.logger.Error("load stopped", "sobject", sobject, "errors", len(op.errors))
		return true, nil
	}
	return false, nil
}

// validateInput checks the input header against the field scope.
func (s *LoadStep) validateInput(ctx context.Context) []error {
	if s.InputValidation == ValidateNone {
		return nil
	}
	r, err := s.ld.files.Reader(ctx, s.SObject)
	if err != nil {
		return []error{&Error{Kind: KindConfiguration, SObject: s.SObject, Message: err.Error(), Err: err}}
	}
	invalid := func(format string, args ...any) error {
		return &Error{Kind: KindInputValidation, SObject: s.SObject, Message: fmt.Sprintf(format, args...)}
	}

	var errs []error
	fields := make(map[string]bool)
	for _, col := range r.Header() {
		f := s.Mapper.MapKey(col)
		fields[f] = true
		if !s.inScope(f) {
			errs = append(errs, invalid("input column %s is not in the field scope", col))
		}
	}
	if !fields[schema.IDField] {
		errs = append(errs, invalid("input has no %s column", schema.IDField))
	}
	if s.InputValidation == ValidateStrict {
		for _, f := range s.scope {
			if !fields[f] && f != schema.IDField {
				errs = append(errs, invalid("field %s has no input column", f))
			}
		}
	}
	return errs
}

func (s *LoadStep) resultWriter(ctx context.Context) (filestore.Writer, error) {
	if s.results != nil {
		return s.results, nil
	}
	w, err := s.ld.files.Writer(ctx, s.SObject, filestore.Result, ResultHeader)
	if err != nil {
		return nil, &Error{Kind: KindConfiguration, SObject: s.SObject, Message: err.Error(), Err: err}
	}
	s.results = w
	return w, nil
}

// inputs yields each input record after column mapping and transforms.
func (s *LoadStep) inputs(ctx context.Context) iter.Seq2[schema.Record, error] {
	return func(yield func(schema.Record, error) bool) {
		r, err := s.ld.files.Reader(ctx, s.SObject)
		if err != nil {
			yield(nil, &Error{Kind: KindConfiguration, SObject: s.SObject, Message: err.Error(), Err: err})
			return
		}
		for rec, err := range r.Records() {
			if err != nil {
				yield(nil, &Error{Kind: KindBadData, SObject: s.SObject, Message: err.Error(), Err: err})
				return
			}
			if !yield(s.Mapper.Transform(rec), nil) {
				return
			}
		}
	}
}

// deferred reports whether a reference cannot be set until every record is
// inserted: it targets this type or a later step.
func deferred(t target) bool {
	return t.self || (t.inOp && t.later)
}

// mapReference translates a reference to its new id, applying the outside
// lookup behavior when the target was not loaded. It returns false, with an
// error recorded, when the record must not be written.
func (s *LoadStep) mapReference(field string, t target, raw string, old sfid.ID) (any, bool) {
	if newID, ok := s.ld.state.IDMap[t.id]; ok {
		return newID.String(), true
	}
	switch s.outsideBehavior(field) {
	case DropField:
		return nil, true
	case DropRecord:
		s.ld.addError(KindOutsideReference, s.SObject, old.String(), "outside reference in %s: %s (record dropped)", field, raw)
		return nil, false
	case ErrorOnRef:
		s.ld.addError(KindOutsideReference, s.SObject, old.String(), "outside reference in %s: %s", field, raw)
		return nil, false
	default:
		return raw, true
	}
}

// prepareInsert builds the insert payload of one record. It returns false
// if the record is skipped, either already loaded or rejected with an
// error.
func (s *LoadStep) prepareInsert(rec schema.Record) (sfid.ID, connection.Payload, bool) {
	op := s.ld
	old, err := sfid.New(rec[schema.IDField])
	if err != nil {
		op.addError(KindBadData, s.SObject, rec[schema.IDField], "invalid record id")
		return sfid.ID{}, nil, false
	}
	if _, loaded := op.state.IDMap[old]; loaded {
		return old, nil, false
	}

	payload := make(connection.Payload)
	for _, name := range s.scope {
		value, present := rec[name]
		if name == schema.IDField || !present {
			continue
		}
		f := s.fields[name]
		if f.IsReference() && value != "" {
			t, err := s.classify(value)
			if err != nil {
				op.addError(KindBadData, s.SObject, old.String(), "invalid reference in %s: %q", name, value)
				return old, nil, false
			}
			if deferred(t) {
				continue
			}
			mapped, ok := s.mapReference(name, t, value, old)
			if !ok {
				return old, nil, false
			}
			payload[name] = mapped
			continue
		}
		v, err := primitivize(f, value)
		if err != nil {
			op.addError(KindBadData, s.SObject, old.String(), "%v", err)
			return old, nil, false
		}
		payload[name] = v
	}
	return old, payload, true
}

// insert submits every record not yet loaded, with deferred lookups
// omitted, and registers the ids the target issued.
func (s *LoadStep) insert(ctx context.Context) error {
	op := s.ld
	results, err := s.resultWriter(ctx)
	if err != nil {
		return err
	}

	var olds []sfid.ID
	var payloads []connection.Payload
	for rec, err := range s.inputs(ctx) {
		if err != nil {
			return err
		}
		old, payload, ok := s.prepareInsert(rec)
		if ok {
			olds = append(olds, old)
			payloads = append(payloads, payload)
		}
	}
	if len(payloads) == 0 {
		op.logger.Info("nothing to insert", "sobject", s.SObject)
		return nil
	}
	op.logger.Info("inserting", "sobject", s.SObject, "records", len(payloads))

	i := 0
	for res, err := range op.conn.BulkInsert(ctx, s.SObject, payloads, s.Options) {
		if err != nil {
			return remoteError(s.SObject, err)
		}
		if i >= len(olds) {
			break
		}
		old := olds[i]
		i++
		row := schema.Record{ResultOriginalID: old.String()}
		if res.Success {
			newID, err := sfid.New(res.ID)
			if err != nil {
				op.addError(KindRemoteFailure, s.SObject, old.String(), "invalid id returned: %q", res.ID)
				continue
			}
			if err := op.register(ctx, s.SObject, old, newID); err != nil {
				return err
			}
			row[ResultNewID] = newID.String()
			op.observer.RecordLoaded(s.SObject)
		} else {
			row[ResultError] = res.ErrorMessage()
			op.addError(KindRemoteFailure, s.SObject, old.String(), "%s", res.ErrorMessage())
		}
		if err := results.Write(row); err != nil {
			return fmt.Errorf("write result for %s: %w", s.SObject, err)
		}
	}
	for ; i < len(olds); i++ {
		op.addError(KindRemoteFailure, s.SObject, olds[i].String(), "no result returned")
	}
	return nil
}

// updateDependents re-reads the input and patches every deferred lookup of
// records that were inserted.
func (s *LoadStep) updateDependents(ctx context.Context) error {
	op := s.ld
	lookups := s.deferredLookups()
	if len(lookups) == 0 {
		return nil
	}
	results, err := s.resultWriter(ctx)
	if err != nil {
		return err
	}

	var olds []sfid.ID
	var payloads []connection.Payload
	for rec, err := range s.inputs(ctx) {
		if err != nil {
			return err
		}
		old, err := sfid.New(rec[schema.IDField])
		if err != nil {
			continue
		}
		newID, ok := op.state.IDMap[old]
		if !ok {
			continue
		}
		update := connection.Payload{}
		skip := false
		for _, name := range lookups {
			value := rec[name]
			if value == "" {
				continue
			}
			t, err := s.classify(value)
			if err != nil || !deferred(t) {
				continue
			}
			mapped, ok := s.mapReference(name, t, value, old)
			if !ok {
				skip = true
				break
			}
			if mapped != nil {
				update[name] = mapped
			}
		}
		if skip || len(update) == 0 {
			continue
		}
		update[schema.IDField] = newID.String()
		olds = append(olds, old)
		payloads = append(payloads, update)
	}
	if len(payloads) == 0 {
		return nil
	}
	op.logger.Info("updating dependent lookups", "sobject", s.SObject, "records", len(payloads))

	i := 0
	for res, err := range op.conn.BulkUpdate(ctx, s.SObject, payloads, s.Options) {
		if err != nil {
			return remoteError(s.SObject, err)
		}
		if i >= len(olds) {
			break
		}
		old := olds[i]
		i++
		if res.Success {
			continue
		}
		newID := op.state.IDMap[old]
		row := schema.Record{ResultOriginalID: old.String(), ResultNewID: newID.String(), ResultError: res.ErrorMessage()}
		if err := results.Write(row); err != nil {
			return fmt.Errorf("write result for %s: %w", s.SObject, err)
		}
		op.addError(KindRemoteFailure, s.SObject, old.String(), "%s", res.ErrorMessage())
	}
	for ; i < len(olds); i++ {
		op.addError(KindRemoteFailure, s.SObject, olds[i].String(), "no result returned for dependent update")
	}
	return nil
}
