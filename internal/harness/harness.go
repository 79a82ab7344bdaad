package harness

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/davidmreed/amaxa-sub000/internal/config"
	"github.com/davidmreed/amaxa-sub000/internal/connection"
	"github.com/davidmreed/amaxa-sub000/internal/engine"
	"github.com/davidmreed/amaxa-sub000/internal/filestore"
	"github.com/davidmreed/amaxa-sub000/internal/schema"
	"github.com/davidmreed/amaxa-sub000/internal/testutil"
	"github.com/davidmreed/amaxa-sub000/internal/transform"
)

// Id numbering of the two orgs. Target ids never collide with source ids.
const (
	sourceBase = 0
	targetBase = 1000
)

// Harness is the scenario execution engine.
// It runs phases with fixed run ids against in-memory orgs and files.
type Harness struct {
	scenario *Scenario
	op       *config.Operation
	files    *filestore.Memory
	source   *testutil.FakeOrg
	target   *testutil.FakeOrg
	runIDs   engine.RunIDGenerator
	logger   *slog.Logger
}

// Run executes a scenario and returns the result.
//
// Each scenario runs against fresh orgs and a fresh file store.
//
// Execution flow:
// 1. Build the source and target orgs from the declared objects
// 2. Seed the source org and place input files
// 3. Run each phase through the same steps the CLI builds
// 4. Evaluate assertions
//
// Errors recorded by a phase do not fail Run; assertions decide whether
// they were expected. Run returns an error only when the scenario cannot
// be executed at all.
func Run(scenario *Scenario) (*Result, error) {
	op, err := config.ParseOperation([]byte(scenario.Operation))
	if err != nil {
		return nil, fmt.Errorf("operation: %w", err)
	}

	h := &Harness{
		scenario: scenario,
		op:       op,
		files:    filestore.NewMemory(),
		source:   buildOrg(sourceBase, scenario.Objects),
		target:   buildOrg(targetBase, scenario.Objects),
		runIDs:   testutil.NewFixedRunID(scenario.RunID),
		logger:   slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
	for sobject, records := range scenario.Source {
		for _, r := range records {
			h.source.Put(sobject, schema.Record(r))
		}
	}
	for name, content := range scenario.Inputs {
		h.files.Put(name, content)
	}
	if len(scenario.FailInserts) > 0 {
		h.target.FailInserts(failRules(scenario.FailInserts))
	}

	result := NewResult()
	result.Files = h.files
	result.Orgs[OrgSource] = h.source
	result.Orgs[OrgTarget] = h.target

	ctx := context.Background()
	for _, phase := range scenario.Phases {
		errs, err := h.runPhase(ctx, phase)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", phase, err)
		}
		result.PhaseErrors[phase] = append(result.PhaseErrors[phase], errs...)
	}

	for _, a := range scenario.Assertions {
		if err := evaluate(result, a); err != nil {
			result.AddError(err.Error())
		}
	}
	return result, nil
}

func buildOrg(base int, objects []ObjectSpec) *testutil.FakeOrg {
	org := testutil.NewFakeOrg(base)
	for _, o := range objects {
		fields := make([]schema.Field, 0, len(o.Fields))
		for _, fs := range o.Fields {
			f := testutil.Field(fs.Name, schema.FieldType(fs.Type))
			if len(fs.ReferenceTo) > 0 {
				f.ReferenceTo = fs.ReferenceTo
			}
			if fs.Length > 0 {
				f.Length = fs.Length
			}
			fields = append(fields, f)
		}
		org.AddObject(o.Prefix, testutil.Describe(o.Name, fields...))
	}
	return org
}

func failRules(rules []FailRule) testutil.FailFunc {
	return func(sobject string, p connection.Payload) *connection.RecordError {
		for _, r := range rules {
			if r.SObject == sobject && connection.Stringify(p[r.Field]) == r.Value {
				return &connection.RecordError{StatusCode: r.Status, Message: r.Message}
			}
		}
		return nil
	}
}

// runPhase runs one extract or load. Recorded errors are returned as the
// phase's errors; configuration problems are returned as err.
func (h *Harness) runPhase(ctx context.Context, phase string) ([]*engine.Error, error) {
	files := filestore.New(h.files, h.op.Files())
	opts := []engine.Option{
		engine.WithLogger(h.logger),
		engine.WithRunIDGenerator(h.runIDs),
	}

	var (
		runErr error
		errs   []*engine.Error
	)
	switch phase {
	case PhaseExtract:
		steps, err := h.op.ExtractSteps(ctx, transform.Default(), h.source)
		if err != nil {
			return nil, err
		}
		ex, err := engine.NewExtractOperation(h.source, files, steps, opts...)
		if err != nil {
			return nil, err
		}
		runErr = ex.Run(ctx)
		errs = ex.Errors()
	case PhaseLoad:
		steps, err := h.op.LoadSteps(ctx, transform.Default(), h.target)
		if err != nil {
			return nil, err
		}
		ld, err := engine.NewLoadOperation(h.target, files, steps, opts...)
		if err != nil {
			return nil, err
		}
		runErr = ld.Run(ctx)
		errs = ld.Errors()
	default:
		return nil, fmt.Errorf("unknown phase %q", phase)
	}

	var re *engine.RunError
	if runErr != nil && !errors.As(runErr, &re) {
		// Setup failures are returned joined rather than recorded.
		errs = append(errs, setupErrors(runErr)...)
	}
	return errs, nil
}

func setupErrors(err error) []*engine.Error {
	list := []error{err}
	if joined, ok := err.(interface{ Unwrap() []error }); ok {
		list = joined.Unwrap()
	}
	out := make([]*engine.Error, 0, len(list))
	for _, e := range list {
		var ee *engine.Error
		if errors.As(e, &ee) {
			out = append(out, ee)
			continue
		}
		out = append(out, &engine.Error{Kind: engine.KindRemoteFailure, Message: e.Error(), Err: e})
	}
	return out
}
