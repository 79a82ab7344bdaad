package harness

import (
	"bytes"
	"fmt"
	"os"
	"slices"

	"gopkg.in/yaml.v3"

	"github.com/davidmreed/amaxa-sub000/internal/schema"
)

// Phase names.
const (
	PhaseExtract = "extract"
	PhaseLoad    = "load"
)

// Org names.
const (
	OrgSource = "source"
	OrgTarget = "target"
)

// Scenario defines one extract/load run and its expectations.
type Scenario struct {
	// Name uniquely identifies this scenario and names its golden file.
	Name string `yaml:"name"`

	// Description explains what this scenario validates.
	Description string `yaml:"description"`

	// RunID is the fixed run id. Defaults to "test-run".
	RunID string `yaml:"run_id,omitempty"`

	// Objects are the object types both orgs share.
	Objects []ObjectSpec `yaml:"objects"`

	// Source holds the records of the source org, by object type.
	Source map[string][]map[string]string `yaml:"source,omitempty"`

	// Inputs are files placed in the file store before the first phase.
	Inputs map[string]string `yaml:"inputs,omitempty"`

	// Operation is the operation document.
	Operation string `yaml:"operation"`

	// Phases run in order. Each is extract or load.
	Phases []string `yaml:"phases"`

	// FailInserts makes matching inserts into the target org fail.
	FailInserts []FailRule `yaml:"fail_inserts,omitempty"`

	// Assertions validate the orgs and errors after the last phase.
	Assertions []Assertion `yaml:"assertions"`
}

// ObjectSpec describes one object type.
type ObjectSpec struct {
	Name   string      `yaml:"name"`
	Prefix string      `yaml:"prefix"`
	Fields []FieldSpec `yaml:"fields"`
}

// FieldSpec describes one field. Fields are fully permissioned.
type FieldSpec struct {
	Name        string   `yaml:"name"`
	Type        string   `yaml:"type"`
	ReferenceTo []string `yaml:"reference-to,omitempty"`
	Length      int      `yaml:"length,omitempty"`
}

// FailRule rejects inserts of sobject whose field equals value.
type FailRule struct {
	SObject string `yaml:"sobject"`
	Field   string `yaml:"field"`
	Value   string `yaml:"value"`
	Status  string `yaml:"status"`
	Message string `yaml:"message"`
}

// Assertion validates the outcome of a scenario.
type Assertion struct {
	// Type is one of the Assert* constants.
	Type string `yaml:"type"`

	// Phase selects the phase (errors).
	Phase string `yaml:"phase,omitempty"`

	// Org selects the org (record_count, final_state, reference, call_*).
	// Defaults to target.
	Org string `yaml:"org,omitempty"`

	// SObject is the object type (record_count, final_state, reference,
	// call_count).
	SObject string `yaml:"sobject,omitempty"`

	// Where selects one record by field values (final_state, reference).
	Where map[string]string `yaml:"where,omitempty"`

	// Expect contains expected field values (final_state). Subset match.
	Expect map[string]string `yaml:"expect,omitempty"`

	// Field is the lookup checked by reference.
	Field string `yaml:"field,omitempty"`

	// Target and TargetWhere select the record the lookup must point at.
	Target      string            `yaml:"target,omitempty"`
	TargetWhere map[string]string `yaml:"target_where,omitempty"`

	// Op is the remote operation (call_count): query, retrieve, reference,
	// insert, or update.
	Op string `yaml:"op,omitempty"`

	// Count is the expected number of records, calls, or errors.
	Count int `yaml:"count"`

	// Kinds are the expected error kinds, in order (errors).
	Kinds []string `yaml:"kinds,omitempty"`

	// Calls is the expected call order as "op sobject" (call_order).
	Calls []string `yaml:"calls,omitempty"`
}

// Assertion type constants.
const (
	AssertErrors      = "errors"
	AssertRecordCount = "record_count"
	AssertFinalState  = "final_state"
	AssertReference   = "reference"
	AssertCallCount   = "call_count"
	AssertCallOrder   = "call_order"
)

var fieldTypes = []schema.FieldType{
	schema.TypeString, schema.TypeBoolean, schema.TypeInteger, schema.TypeDouble,
	schema.TypeDate, schema.TypeDateTime, schema.TypeReference, schema.TypeBase64,
	schema.TypeAddress, schema.TypeGeolocation, schema.TypeOther,
}

// LoadScenario reads and parses a scenario YAML file.
// Returns an error if the file doesn't exist, is malformed,
// contains unknown fields (typos), or is missing required fields.
func LoadScenario(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read scenario file: %w", err)
	}
	return ParseScenario(data)
}

// ParseScenario parses and validates a scenario document.
func ParseScenario(data []byte) (*Scenario, error) {
	var scenario Scenario
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&scenario); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}

	if err := validateScenario(&scenario); err != nil {
		return nil, fmt.Errorf("invalid scenario: %w", err)
	}

	return &scenario, nil
}

// validateScenario checks that required fields are present and valid.
func validateScenario(s *Scenario) error {
	if s.Name == "" {
		return fmt.Errorf("name is required")
	}
	if s.Description == "" {
		return fmt.Errorf("description is required")
	}
	if s.Operation == "" {
		return fmt.Errorf("operation is required")
	}
	if len(s.Objects) == 0 {
		return fmt.Errorf("objects list is required and must be non-empty")
	}
	if len(s.Phases) == 0 {
		return fmt.Errorf("phases list is required and must be non-empty")
	}
	if len(s.Assertions) == 0 {
		return fmt.Errorf("assertions list is required and must be non-empty")
	}

	known := make(map[string]bool, len(s.Objects))
	for i, o := range s.Objects {
		if o.Name == "" || len(o.Prefix) != 3 {
			return fmt.Errorf("objects[%d]: name and a 3-character prefix are required", i)
		}
		if known[o.Name] {
			return fmt.Errorf("objects[%d]: duplicate object %s", i, o.Name)
		}
		known[o.Name] = true
		for j, f := range o.Fields {
			if f.Name == "" {
				return fmt.Errorf("objects[%d].fields[%d]: name is required", i, j)
			}
			if !slices.Contains(fieldTypes, schema.FieldType(f.Type)) {
				return fmt.Errorf("objects[%d].fields[%d]: unknown type %q", i, j, f.Type)
			}
		}
	}
	for name := range s.Source {
		if !known[name] {
			return fmt.Errorf("source: unknown object %s", name)
		}
	}
	for i, p := range s.Phases {
		if p != PhaseExtract && p != PhaseLoad {
			return fmt.Errorf("phases[%d]: unknown phase %q", i, p)
		}
	}
	for i, r := range s.FailInserts {
		if r.SObject == "" || r.Field == "" || r.Status == "" {
			return fmt.Errorf("fail_inserts[%d]: sobject, field, and status are required", i)
		}
	}

	for i := range s.Assertions {
		a := &s.Assertions[i]
		if err := validateAssertion(i, a); err != nil {
			return err
		}
		for _, name := range []string{a.SObject, a.Target} {
			if name != "" && !known[name] {
				return fmt.Errorf("assertions[%d]: unknown object %s", i, name)
			}
		}
	}
	return nil
}

// validateAssertion validates a single assertion based on its type.
func validateAssertion(index int, a *Assertion) error {
	if a.Type == "" {
		return fmt.Errorf("assertions[%d]: type is required", index)
	}
	if a.Org == "" {
		a.Org = OrgTarget
	}
	if a.Org != OrgSource && a.Org != OrgTarget {
		return fmt.Errorf("assertions[%d]: unknown org %q", index, a.Org)
	}

	switch a.Type {
	case AssertErrors:
		if a.Phase != PhaseExtract && a.Phase != PhaseLoad {
			return fmt.Errorf("assertions[%d]: errors requires phase extract or load", index)
		}
	case AssertRecordCount:
		if a.SObject == "" {
			return fmt.Errorf("assertions[%d]: record_count requires sobject", index)
		}
	case AssertFinalState:
		if a.SObject == "" || len(a.Where) == 0 || len(a.Expect) == 0 {
			return fmt.Errorf("assertions[%d]: final_state requires sobject, where, and expect", index)
		}
	case AssertReference:
		if a.SObject == "" || len(a.Where) == 0 || a.Field == "" || a.Target == "" || len(a.TargetWhere) == 0 {
			return fmt.Errorf("assertions[%d]: reference requires sobject, where, field, target, and target_where", index)
		}
	case AssertCallCount:
		if a.Op == "" || a.SObject == "" {
			return fmt.Errorf("assertions[%d]: call_count requires op and sobject", index)
		}
	case AssertCallOrder:
		if len(a.Calls) < 2 {
			return fmt.Errorf("assertions[%d]: call_order requires at least 2 calls", index)
		}
	default:
		return fmt.Errorf("assertions[%d]: unknown assertion type %q", index, a.Type)
	}
	return nil
}
