package engine

import (
	"context"
	"fmt"
	"slices"

	"github.com/davidmreed/amaxa-sub000/internal/connection"
	"github.com/davidmreed/amaxa-sub000/internal/mapper"
	"github.com/davidmreed/amaxa-sub000/internal/schema"
	"github.com/davidmreed/amaxa-sub000/internal/sfid"
)

// Step is the part of a step shared by extraction and load: the object
// type, its field scope, lookup behaviors, and the lookup classification
// derived when the owning operation initializes.
type Step struct {
	SObject string

	// Fields lists the field scope. Empty means FieldGroup decides.
	Fields     []string
	FieldGroup schema.FieldGroup

	SelfLookupBehavior    SelfLookupBehavior
	OutsideLookupBehavior OutsideLookupBehavior
	FieldBehaviors        map[string]FieldBehavior

	Options connection.BulkOptions
	Mapper  *mapper.Mapper

	op       *Operation
	position int
	fields   map[string]schema.Field
	scope    []string

	allLookups        []string
	selfLookups       []string
	descendentLookups []string
	dependentLookups  []string
}

// DescendentLookups returns the references with a target that is an
// earlier step.
func (s *Step) DescendentLookups() []string { return slices.Clone(s.descendentLookups) }

// DependentLookups returns the references with a target that is a later
// step.
func (s *Step) DependentLookups() []string { return slices.Clone(s.dependentLookups) }

// initialize resolves the field scope and classifies lookups. Called by the
// operation once all steps are registered and described.
func (s *Step) initialize(ctx context.Context) error {
	d, err := s.op.describe(ctx, s.SObject)
	if err != nil {
		return err
	}
	s.fields = d.FieldMap()

	scope := s.Fields
	if len(scope) == 0 {
		group := s.FieldGroup
		if group == "" {
			group = schema.GroupSmart
		}
		scope, err = group.Select(d, s.op.direction)
		if err != nil {
			return &Error{Kind: KindConfiguration, SObject: s.SObject, Message: err.Error()}
		}
	}
	s.scope = []string{schema.IDField}
	for _, f := range scope {
		if f != schema.IDField && !slices.Contains(s.scope, f) {
			s.scope = append(s.scope, f)
		}
	}

	s.allLookups, s.selfLookups, s.descendentLookups, s.dependentLookups = nil, nil, nil, nil
	for _, name := range s.scope {
		f, ok := s.fields[name]
		if !ok || !f.IsReference() {
			continue
		}
		s.allLookups = append(s.allLookups, name)
		if f.References(s.SObject) {
			s.selfLookups = append(s.selfLookups, name)
		}
		earlier, later := false, false
		for _, target := range f.ReferenceTo {
			pos, inOp := s.op.positions[target]
			if !inOp || target == s.SObject {
				continue
			}
			if pos < s.position {
				earlier = true
			} else {
				later = true
			}
		}
		if earlier {
			s.descendentLookups = append(s.descendentLookups, name)
		}
		if later {
			s.dependentLookups = append(s.dependentLookups, name)
		}
	}
	return nil
}

// verify checks the field scope against the describe. Fields must exist;
// extraction needs them readable and queryable in bulk, load needs them
// createable, and deferred lookups must be updateable.
func (s *Step) verify() []error {
	var errs []error
	mismatch := func(format string, args ...any) {
		errs = append(errs, &Error{Kind: KindSchemaMismatch, SObject: s.SObject, Message: fmt.Sprintf(format, args...)})
	}
	for _, name := range s.scope {
		f, ok := s.fields[name]
		if !ok {
			mismatch("field %s does not exist or is not accessible", name)
			continue
		}
		if name == schema.IDField {
			continue
		}
		switch s.op.direction {
		case schema.Extract:
			if !f.Queryable || !f.Accessible {
				mismatch("field %s is not readable", name)
			}
			if f.Type.Unsupported() {
				mismatch("field %s has unsupported type %s", name, f.Type)
			}
		case schema.Load:
			if !f.Createable {
				mismatch("field %s is not createable", name)
			}
		}
	}
	if s.op.direction == schema.Load {
		for _, name := range s.deferredLookups() {
			if f, ok := s.fields[name]; ok && !f.Updateable {
				mismatch("lookup %s must be updateable to be populated after insert", name)
			}
		}
	}
	return errs
}

func (s *Step) deferredLookups() []string {
	var out []string
	for _, name := range s.allLookups {
		if slices.Contains(s.selfLookups, name) || slices.Contains(s.dependentLookups, name) {
			out = append(out, name)
		}
	}
	return out
}

func (s *Step) inScope(field string) bool {
	return slices.Contains(s.scope, field)
}

func (s *Step) selfBehavior(field string) SelfLookupBehavior {
	if fb, ok := s.FieldBehaviors[field]; ok && fb.Self != "" && slices.Contains(s.selfLookups, field) {
		return fb.Self
	}
	if s.SelfLookupBehavior == "" {
		return TraceAll
	}
	return s.SelfLookupBehavior
}

func (s *Step) outsideBehavior(field string) OutsideLookupBehavior {
	if fb, ok := s.FieldBehaviors[field]; ok && fb.Outside != "" {
		return fb.Outside
	}
	if s.OutsideLookupBehavior == "" {
		return Include
	}
	return s.OutsideLookupBehavior
}

// target classifies one reference value relative to this step.
type target struct {
	id      sfid.ID
	sobject string
	self    bool
	inOp    bool
	later   bool
}

func (s *Step) classify(raw string) (target, error) {
	id, err := sfid.New(raw)
	if err != nil {
		return target{}, err
	}
	t := target{id: id}
	t.sobject, _ = s.op.TypeForID(id)
	if t.sobject == s.SObject {
		t.self = true
		t.inOp = true
		return t, nil
	}
	if pos, ok := s.op.positions[t.sobject]; ok && t.sobject != "" {
		t.inOp = true
		t.later = pos > s.position
	}
	return t, nil
}

func (s *Step) columns() []string {
	out := make([]string, len(s.scope))
	for i, f := range s.scope {
		out[i] = s.Mapper.MapKey(f)
	}
	return out
}

func (s *Step) datetimeFields() []string {
	var out []string
	for _, name := range s.scope {
		if s.fields[name].Type == schema.TypeDateTime {
			out = append(out, name)
		}
	}
	return out
}
