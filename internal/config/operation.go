package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/davidmreed/amaxa-sub000/internal/connection"
	"github.com/davidmreed/amaxa-sub000/internal/sfid"
)

// Operation is a decoded operation document.
type Operation struct {
	Version int          `yaml:"version"`
	Options Options      `yaml:"options"`
	Storage Storage      `yaml:"storage"`
	Steps   []StepConfig `yaml:"operation"`
}

// Options are the Bulk API settings. Unset values inherit: step options
// from the operation, operation options from the platform defaults.
type Options struct {
	BatchSize    *int   `yaml:"bulk-api-batch-size"`
	Timeout      *int   `yaml:"bulk-api-timeout"`
	PollInterval *int   `yaml:"bulk-api-poll-interval"`
	Mode         string `yaml:"bulk-api-mode"`
	APIVersion   string `yaml:"api-version"`
}

// Storage selects where data files live. The zero value means the
// directory of the operation document.
type Storage struct {
	S3 *S3Storage `yaml:"s3"`
}

// S3Storage keeps data files as objects in one bucket.
type S3Storage struct {
	Bucket    string `yaml:"bucket"`
	Prefix    string `yaml:"prefix"`
	Region    string `yaml:"region"`
	Endpoint  string `yaml:"endpoint"`
	PathStyle bool   `yaml:"path-style"`

	// Environment variables holding static credentials. Both or neither.
	AccessKeyEnv string `yaml:"access-key-env"`
	SecretKeyEnv string `yaml:"secret-key-env"`
}

// StepConfig configures one object type.
type StepConfig struct {
	SObject               string         `yaml:"sobject"`
	File                  string         `yaml:"file"`
	ResultFile            string         `yaml:"result-file"`
	Fields                []FieldConfig  `yaml:"fields"`
	FieldGroup            string         `yaml:"field-group"`
	Extract               *ExtractConfig `yaml:"extract"`
	InputValidation       string         `yaml:"input-validation"`
	SelfLookupBehavior    string         `yaml:"self-lookup-behavior"`
	OutsideLookupBehavior string         `yaml:"outside-lookup-behavior"`
	Options               *Options       `yaml:"options"`
}

// FieldConfig is a field name or a field with column mapping, transforms,
// and behavior overrides.
type FieldConfig struct {
	Field                 string            `yaml:"field"`
	Column                string            `yaml:"column"`
	Transforms            []TransformConfig `yaml:"transforms"`
	SelfLookupBehavior    string            `yaml:"self-lookup-behavior"`
	OutsideLookupBehavior string            `yaml:"outside-lookup-behavior"`
}

// UnmarshalYAML accepts a bare field name or a mapping.
func (f *FieldConfig) UnmarshalYAML(value *yaml.Node) error {
	if value.Kind == yaml.ScalarNode {
		*f = FieldConfig{Field: value.Value}
		return nil
	}
	type plain FieldConfig
	return value.Decode((*plain)(f))
}

// TransformConfig names a registered transform and its options.
type TransformConfig struct {
	Name    string         `yaml:"name"`
	Options map[string]any `yaml:"options"`
}

// UnmarshalYAML accepts a bare transform name or a mapping.
func (t *TransformConfig) UnmarshalYAML(value *yaml.Node) error {
	if value.Kind == yaml.ScalarNode {
		*t = TransformConfig{Name: value.Value}
		return nil
	}
	type plain TransformConfig
	return value.Decode((*plain)(t))
}

// ExtractConfig selects the records an extraction step starts from.
// Exactly one member is set.
type ExtractConfig struct {
	All         bool     `yaml:"all"`
	Descendents bool     `yaml:"descendents"`
	Query       string   `yaml:"query"`
	IDs         []string `yaml:"ids"`
}

// ReadOperation loads and validates the operation document at path.
func ReadOperation(path string) (*Operation, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, invalid("read operation: %v", err)
	}
	return ParseOperation(data)
}

// ParseOperation validates and decodes an operation document.
func ParseOperation(data []byte) (*Operation, error) {
	if err := checkSchema("#Operation", data); err != nil {
		return nil, err
	}
	var op Operation
	if err := decodeStrict(data, &op); err != nil {
		return nil, err
	}
	if err := op.check(); err != nil {
		return nil, err
	}
	return &op, nil
}

func (op *Operation) check() error {
	var p problems
	seen := make(map[string]bool)
	for i, s := range op.Steps {
		if seen[s.SObject] {
			p.add("operation[%d]: %s appears in more than one step", i, s.SObject)
		}
		seen[s.SObject] = true
		if len(s.Fields) > 0 && s.FieldGroup != "" {
			p.add("operation[%d] (%s): fields and field-group are mutually exclusive", i, s.SObject)
		}
		columns := make(map[string]string)
		for _, f := range s.Fields {
			col := f.Column
			if col == "" {
				col = f.Field
			}
			if prev, dup := columns[col]; dup {
				p.add("operation[%d] (%s): fields %s and %s map to the same column %s", i, s.SObject, prev, f.Field, col)
			}
			columns[col] = f.Field
		}
		if s.Extract != nil {
			for _, raw := range s.Extract.IDs {
				if _, err := sfid.New(raw); err != nil {
					p.add("operation[%d] (%s): extract id %q: %v", i, s.SObject, raw, err)
				}
			}
		}
	}
	return p.err()
}

// FileName returns the data file of a step.
func (s StepConfig) FileName() string {
	if s.File != "" {
		return s.File
	}
	return s.SObject + ".csv"
}

// ResultFileName returns the result file of a step.
func (s StepConfig) ResultFileName() string {
	if s.ResultFile != "" {
		return s.ResultFile
	}
	return s.SObject + "-results.csv"
}

// BulkOptions resolves the options of step i.
func (op *Operation) BulkOptions(i int) connection.BulkOptions {
	out := connection.DefaultBulkOptions()
	apply := func(o *Options) {
		if o == nil {
			return
		}
		if o.BatchSize != nil {
			out.BatchSize = *o.BatchSize
		}
		if o.Timeout != nil {
			out.Timeout = time.Duration(*o.Timeout) * time.Second
		}
		if o.PollInterval != nil {
			out.PollInterval = time.Duration(*o.PollInterval) * time.Second
		}
		if o.Mode != "" {
			out.Mode = connection.Mode(o.Mode)
		}
	}
	apply(&op.Options)
	if i >= 0 && i < len(op.Steps) {
		apply(op.Steps[i].Options)
	}
	return out
}

// String describes the operation for logs.
func (op *Operation) String() string {
	return fmt.Sprintf("operation v%d with %d steps", op.Version, len(op.Steps))
}
