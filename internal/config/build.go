package config

import (
	"context"
	"errors"
	"os"

	"github.com/davidmreed/amaxa-sub000/internal/connection"
	"github.com/davidmreed/amaxa-sub000/internal/engine"
	"github.com/davidmreed/amaxa-sub000/internal/filestore"
	"github.com/davidmreed/amaxa-sub000/internal/mapper"
	"github.com/davidmreed/amaxa-sub000/internal/schema"
	"github.com/davidmreed/amaxa-sub000/internal/sfid"
	"github.com/davidmreed/amaxa-sub000/internal/transform"
)

// Describer supplies object describes to transforms that adapt to their
// field, such as truncate.
type Describer interface {
	DescribeObject(ctx context.Context, sobject string) (schema.ObjectDescribe, error)
}

// Files maps each step's object type to its data and result files.
func (op *Operation) Files() map[string]filestore.Files {
	out := make(map[string]filestore.Files, len(op.Steps))
	for _, s := range op.Steps {
		out[s.SObject] = filestore.Files{Data: s.FileName(), Result: s.ResultFileName()}
	}
	return out
}

// Backend opens the configured storage. Without an s3 section files are
// resolved against dir.
func (op *Operation) Backend(ctx context.Context, dir string) (filestore.Backend, error) {
	return op.backend(ctx, dir, os.Getenv)
}

func (op *Operation) backend(ctx context.Context, dir string, getenv func(string) string) (filestore.Backend, error) {
	if op.Storage.S3 == nil {
		return filestore.NewDir(dir), nil
	}
	s3 := op.Storage.S3
	cfg := filestore.S3Config{
		Bucket:    s3.Bucket,
		Prefix:    s3.Prefix,
		Region:    s3.Region,
		Endpoint:  s3.Endpoint,
		PathStyle: s3.PathStyle,
	}
	if (s3.AccessKeyEnv == "") != (s3.SecretKeyEnv == "") {
		return nil, invalid("storage: access-key-env and secret-key-env must be set together")
	}
	if s3.AccessKeyEnv != "" {
		cfg.AccessKeyID = getenv(s3.AccessKeyEnv)
		cfg.SecretAccessKey = getenv(s3.SecretKeyEnv)
		if cfg.AccessKeyID == "" || cfg.SecretAccessKey == "" {
			return nil, invalid("storage: environment variables %s and %s must be set", s3.AccessKeyEnv, s3.SecretKeyEnv)
		}
	}
	b, err := filestore.NewS3(ctx, cfg)
	if err != nil {
		return nil, invalid("storage: %v", err)
	}
	return b, nil
}

// ExtractSteps builds the extraction steps. Mappers rename fields to
// columns and transform values on the way out.
func (op *Operation) ExtractSteps(ctx context.Context, reg *transform.Registry, d Describer) ([]*engine.ExtractionStep, error) {
	out := make([]*engine.ExtractionStep, 0, len(op.Steps))
	for i, sc := range op.Steps {
		base, err := op.step(ctx, i, reg, d, schema.Extract)
		if err != nil {
			return nil, err
		}
		es := &engine.ExtractionStep{Step: base, Scope: engine.ScopeAll}
		if x := sc.Extract; x != nil {
			switch {
			case x.Descendents:
				es.Scope = engine.ScopeDescendants
			case x.Query != "":
				es.Scope = engine.ScopeQuery
				es.Where = x.Query
			case len(x.IDs) > 0:
				es.Scope = engine.ScopeSelected
				for _, raw := range x.IDs {
					id, err := sfid.New(raw)
					if err != nil {
						return nil, invalid("%s: extract id %q: %v", sc.SObject, raw, err)
					}
					es.IDs = append(es.IDs, id)
				}
			}
		}
		out = append(out, es)
	}
	return out, nil
}

// LoadSteps builds the load steps. Mappers rename columns to fields and
// transform values on the way in.
func (op *Operation) LoadSteps(ctx context.Context, reg *transform.Registry, d Describer) ([]*engine.LoadStep, error) {
	out := make([]*engine.LoadStep, 0, len(op.Steps))
	for i, sc := range op.Steps {
		base, err := op.step(ctx, i, reg, d, schema.Load)
		if err != nil {
			return nil, err
		}
		ls := &engine.LoadStep{Step: base, InputValidation: engine.ValidateDefault}
		if sc.InputValidation != "" {
			v, err := engine.ParseInputValidation(sc.InputValidation)
			if err != nil {
				return nil, invalid("%s: %v", sc.SObject, err)
			}
			ls.InputValidation = v
		}
		out = append(out, ls)
	}
	return out, nil
}

func (op *Operation) step(ctx context.Context, i int, reg *transform.Registry, d Describer, dir schema.Direction) (engine.Step, error) {
	sc := op.Steps[i]
	s := engine.Step{
		SObject:    sc.SObject,
		FieldGroup: schema.FieldGroup(sc.FieldGroup),
		Options:    op.BulkOptions(i),
	}
	var err error
	if sc.SelfLookupBehavior != "" {
		if s.SelfLookupBehavior, err = engine.ParseSelfLookupBehavior(sc.SelfLookupBehavior); err != nil {
			return s, invalid("%s: %v", sc.SObject, err)
		}
	}
	if sc.OutsideLookupBehavior != "" {
		if s.OutsideLookupBehavior, err = engine.ParseOutsideLookupBehavior(sc.OutsideLookupBehavior); err != nil {
			return s, invalid("%s: %v", sc.SObject, err)
		}
	}

	var fields map[string]schema.Field
	m := mapper.New()
	for _, fc := range sc.Fields {
		s.Fields = append(s.Fields, fc.Field)

		var fb engine.FieldBehavior
		if fc.SelfLookupBehavior != "" {
			if fb.Self, err = engine.ParseSelfLookupBehavior(fc.SelfLookupBehavior); err != nil {
				return s, invalid("%s.%s: %v", sc.SObject, fc.Field, err)
			}
		}
		if fc.OutsideLookupBehavior != "" {
			if fb.Outside, err = engine.ParseOutsideLookupBehavior(fc.OutsideLookupBehavior); err != nil {
				return s, invalid("%s.%s: %v", sc.SObject, fc.Field, err)
			}
		}
		if fb != (engine.FieldBehavior{}) {
			if s.FieldBehaviors == nil {
				s.FieldBehaviors = make(map[string]engine.FieldBehavior)
			}
			s.FieldBehaviors[fc.Field] = fb
		}

		// The source key is the field on extract and the column on load.
		source := fc.Field
		if fc.Column != "" {
			if dir == schema.Load {
				source = fc.Column
				m.Rename(fc.Column, fc.Field)
			} else {
				m.Rename(fc.Field, fc.Column)
			}
		}

		if len(fc.Transforms) == 0 {
			continue
		}
		if fields == nil {
			fields, err = describeFields(ctx, d, sc.SObject)
			if err != nil {
				return s, err
			}
		}
		field, ok := fields[fc.Field]
		if !ok {
			field = schema.Field{Name: fc.Field}
		}
		for _, tc := range fc.Transforms {
			fn, err := reg.Build(tc.Name, field, tc.Options)
			if err != nil {
				return s, invalid("%s.%s: %v", sc.SObject, fc.Field, err)
			}
			m.AddTransform(source, fn)
		}
	}
	if !m.Empty() {
		s.Mapper = m
	}
	return s, nil
}

func describeFields(ctx context.Context, d Describer, sobject string) (map[string]schema.Field, error) {
	if d == nil {
		return map[string]schema.Field{}, nil
	}
	desc, err := d.DescribeObject(ctx, sobject)
	if err != nil {
		kind := engine.KindRemoteFailure
		if errors.Is(err, connection.ErrAuthentication) {
			kind = engine.KindAuthentication
		}
		return nil, &engine.Error{Kind: kind, SObject: sobject, Message: err.Error(), Err: err}
	}
	return desc.FieldMap(), nil
}

// CheckTransforms verifies that every configured transform exists and that
// its options fit its schema, without building any of them.
func (op *Operation) CheckTransforms(reg *transform.Registry) error {
	var p problems
	for _, sc := range op.Steps {
		for _, fc := range sc.Fields {
			for _, tc := range fc.Transforms {
				if err := reg.Validate(tc.Name, tc.Options); err != nil {
					p.add("%s.%s: %v", sc.SObject, fc.Field, err)
				}
			}
		}
	}
	return p.err()
}
