package engine

import (
	"context"
	"fmt"
	"iter"
	"strings"

	"github.com/davidmreed/amaxa-sub000/internal/filestore"
	"github.com/davidmreed/amaxa-sub000/internal/schema"
	"github.com/davidmreed/amaxa-sub000/internal/sfid"
)

// ExtractionStep extracts one object type.
type ExtractionStep struct {
	Step

	Scope ExtractScope
	// Where is the SOQL condition of ScopeQuery.
	Where string
	// IDs seeds ScopeSelected.
	IDs []sfid.ID

	ex  *ExtractOperation
	out filestore.Writer
}

// ExtractOperation walks its steps in order, following references so that
// the extracted dataset is closed under the configured lookups.
type ExtractOperation struct {
	*Operation

	steps []*ExtractionStep

	extracted    map[string]sfid.Set
	required     map[string]sfid.Set
	unresolvable map[string]sfid.Set
	rejected     map[string]sfid.Set
}

// NewExtractOperation builds an extraction over steps, in order.
func NewExtractOperation(conn Connection, files filestore.FileStore, steps []*ExtractionStep, opts ...Option) (*ExtractOperation, error) {
	op := &ExtractOperation{
		Operation:    newOperation(conn, files, schema.Extract, buildOptions(opts)),
		extracted:    make(map[string]sfid.Set),
		required:     make(map[string]sfid.Set),
		unresolvable: make(map[string]sfid.Set),
		rejected:     make(map[string]sfid.Set),
	}
	for _, s := range steps {
		if err := op.add(&s.Step); err != nil {
			return nil, err
		}
		if s.Scope == 0 {
			s.Scope = ScopeAll
		}
		if s.Scope == ScopeQuery && strings.TrimSpace(s.Where) == "" {
			return nil, &Error{Kind: KindConfiguration, SObject: s.SObject, Message: "query scope requires a WHERE clause"}
		}
		s.ex = op
		op.steps = append(op.steps, s)
		op.extracted[s.SObject] = sfid.NewSet()
		op.required[s.SObject] = sfid.NewSet()
		op.unresolvable[s.SObject] = sfid.NewSet()
		op.rejected[s.SObject] = sfid.NewSet()
	}
	return op, nil
}

// ExtractedIDs returns a copy of the ids extracted for sobject.
func (op *ExtractOperation) ExtractedIDs(sobject string) sfid.Set {
	return op.extracted[sobject].Clone()
}

// RequiredIDs returns a copy of the ids still pending for sobject.
func (op *ExtractOperation) RequiredIDs(sobject string) sfid.Set {
	return op.required[sobject].Clone()
}

// IDsForReference returns the union of the extracted ids of every
// in-operation type field of sobject may reference.
func (op *ExtractOperation) IDsForReference(sobject, field string) sfid.Set {
	out := sfid.NewSet()
	d, ok := op.describes[sobject]
	if !ok {
		return out
	}
	f, ok := d.FieldMap()[field]
	if !ok {
		return out
	}
	for _, t := range f.ReferenceTo {
		if set, ok := op.extracted[t]; ok {
			out.Union(set)
		}
	}
	return out
}

// addDependency queues id for extraction under sobject unless it is already
// extracted or known to be unavailable.
func (op *ExtractOperation) addDependency(sobject string, id sfid.ID) {
	required, ok := op.required[sobject]
	if !ok {
		return
	}
	if op.extracted[sobject].Has(id) || op.unresolvable[sobject].Has(id) {
		return
	}
	if op.rejected[sobject].Has(id) {
		op.dropDependency(sobject, id)
		return
	}
	required.Add(id)
}

// dropDependency reports a required record that was dropped by its outside
// lookup behavior.
func (op *ExtractOperation) dropDependency(sobject string, id sfid.ID) {
	op.unresolvable[sobject].Add(id)
	op.addError(KindUnresolvedDependency, sobject, id.String(), "required record dropped by outside lookup behavior")
}

// pending returns the required ids of sobject not yet settled.
func (op *ExtractOperation) pending(sobject string) sfid.Set {
	out := sfid.NewSet()
	for id := range op.required[sobject] {
		if !op.extracted[sobject].Has(id) {
			out.Add(id)
		}
	}
	return out
}

// Run initializes every step, then executes the extraction. The file store
// is closed on every path. Recorded errors are returned as a *RunError.
func (op *ExtractOperation) Run(ctx context.Context) error {
	if err := op.initialize(ctx); err != nil {
		return op.finish(err)
	}
	op.logger.Info("extraction started", "steps", len(op.steps))
	return op.finish(op.execute(ctx))
}

func (op *ExtractOperation) execute(ctx context.Context) error {
	for _, s := range op.steps {
		if err := s.execute(ctx); err != nil {
			op.recordError(err)
		}
		if len(op.errors) > 0 {
			op.logger.Error("extraction stopped", "sobject", s.SObject, "errors", len(op.errors))
			return nil
		}
	}

	// Dependencies registered against steps that already ran are resolved
	// until nothing is pending.
	for {
		progressed := false
		for _, s := range op.steps {
			if op.pending(s.SObject).Len() == 0 {
				continue
			}
			progressed = true
			op.logger.Debug("resolving late dependencies", "sobject", s.SObject)
			if err := s.resolve(ctx); err != nil {
				op.recordError(err)
			}
			if len(op.errors) > 0 {
				return nil
			}
		}
		if !progressed {
			break
		}
	}

	for _, s := range op.steps {
		op.logger.Info("extracted", "sobject", s.SObject, "records", op.extracted[s.SObject].Len())
	}
	return nil
}

func (s *ExtractionStep) execute(ctx context.Context) *Error {
	op := s.ex
	w, err := op.files.Writer(ctx, s.SObject, filestore.Output, s.columns())
	if err != nil {
		return &Error{Kind: KindConfiguration, SObject: s.SObject, Message: err.Error(), Err: err}
	}
	s.out = w
	op.logger.Info("extracting", "sobject", s.SObject, "scope", s.Scope.String())

	switch s.Scope {
	case ScopeAll, ScopeQuery:
		soql := fmt.Sprintf("SELECT %s FROM %s", strings.Join(s.scope, ", "), s.SObject)
		if s.Scope == ScopeQuery {
			soql += " WHERE " + s.Where
		}
		if e := s.drain(op.conn.BulkQuery(ctx, s.SObject, soql, s.datetimeFields(), s.Options)); e != nil {
			return e
		}
	case ScopeDescendants:
		for _, field := range s.descendentLookups {
			if e := s.lookupPass(ctx, field, op.IDsForReference(s.SObject, field)); e != nil {
				return e
			}
		}
	case ScopeSelected:
		for _, id := range s.IDs {
			op.addDependency(s.SObject, id)
		}
	}

	if e := s.resolve(ctx); e != nil {
		return e
	}

	traced := s.tracedSelfLookups()
	if len(traced) == 0 || s.Scope == ScopeAll {
		return nil
	}
	for {
		before := op.extracted[s.SObject].Len()
		for _, field := range traced {
			if e := s.lookupPass(ctx, field, op.extracted[s.SObject]); e != nil {
				return e
			}
		}
		if e := s.resolve(ctx); e != nil {
			return e
		}
		if op.extracted[s.SObject].Len() == before {
			return nil
		}
	}
}

func (s *ExtractionStep) tracedSelfLookups() []string {
	var out []string
	for _, f := range s.selfLookups {
		if s.selfBehavior(f) == TraceAll {
			out = append(out, f)
		}
	}
	return out
}

// lookupPass stores the records whose field references one of ids.
func (s *ExtractionStep) lookupPass(ctx context.Context, field string, ids sfid.Set) *Error {
	if ids.Len() == 0 {
		return nil
	}
	return s.drain(s.ex.conn.QueryByReference(ctx, s.SObject, s.scope, field, ids.Sorted()))
}

// resolve retrieves every pending dependency of this step by id and reports
// the ones that do not exist.
func (s *ExtractionStep) resolve(ctx context.Context) *Error {
	op := s.ex
	pending := op.pending(s.SObject)
	if pending.Len() == 0 {
		return nil
	}
	ids := pending.Sorted()
	if e := s.drain(op.conn.RetrieveByID(ctx, s.SObject, ids, s.scope)); e != nil {
		return e
	}
	for _, id := range ids {
		op.required[s.SObject].Remove(id)
		if op.extracted[s.SObject].Has(id) || op.rejected[s.SObject].Has(id) {
			continue
		}
		op.unresolvable[s.SObject].Add(id)
		op.addError(KindUnresolvedDependency, s.SObject, id.String(), "unable to retrieve required record")
	}
	return nil
}

func (s *ExtractionStep) drain(records iter.Seq2[schema.Record, error]) *Error {
	for rec, err := range records {
		if err != nil {
			return remoteError(s.SObject, err)
		}
		if e := s.store(rec); e != nil {
			return e
		}
	}
	return nil
}

// store writes one record at most once and registers the records it
// references.
func (s *ExtractionStep) store(rec schema.Record) *Error {
	op := s.ex
	id, err := sfid.New(rec[schema.IDField])
	if err != nil {
		op.addError(KindBadData, s.SObject, rec[schema.IDField], "invalid record id")
		return nil
	}
	if op.extracted[s.SObject].Has(id) || op.rejected[s.SObject].Has(id) {
		return nil
	}

	out := make(schema.Record, len(s.scope))
	for _, f := range s.scope {
		out[f] = rec[f]
	}
	out[schema.IDField] = id.String()

	var deps []target
	var dropped []string
	drop, refused := false, false
	for _, field := range s.allLookups {
		raw := rec[field]
		if raw == "" {
			continue
		}
		t, err := s.classify(raw)
		if err != nil {
			op.addError(KindBadData, s.SObject, id.String(), "invalid reference in %s: %q", field, raw)
			continue
		}
		out[field] = t.id.String()
		switch {
		case t.self:
			if s.selfBehavior(field) == TraceAll {
				deps = append(deps, t)
			}
		case t.inOp:
			deps = append(deps, t)
		default:
			switch s.outsideBehavior(field) {
			case DropField:
				out[field] = ""
				dropped = append(dropped, field)
			case DropRecord:
				drop = true
			case ErrorOnRef:
				if !refused {
					op.addError(KindOutsideReference, s.SObject, id.String(), "outside reference in %s", field)
				}
				refused = true
			}
		}
	}

	if drop || refused {
		op.rejected[s.SObject].Add(id)
		switch {
		case refused:
			op.unresolvable[s.SObject].Add(id)
		case op.required[s.SObject].Has(id):
			op.dropDependency(s.SObject, id)
		}
		op.required[s.SObject].Remove(id)
		op.logger.Debug("record not written", "sobject", s.SObject, "id", id.String())
		return nil
	}

	for _, t := range deps {
		op.addDependency(t.sobject, t.id)
	}
	row := s.Mapper.Transform(out)
	for _, field := range dropped {
		row[s.Mapper.MapKey(field)] = ""
	}
	if err := s.out.Write(row); err != nil {
		return &Error{Kind: KindConfiguration, SObject: s.SObject, Message: fmt.Sprintf("write output: %v", err), Err: err}
	}
	op.extracted[s.SObject].Add(id)
	op.required[s.SObject].Remove(id)
	op.observer.RecordExtracted(s.SObject)
	return nil
}
