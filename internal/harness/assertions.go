package harness

import (
	"fmt"
	"sort"
	"strings"

	"github.com/davidmreed/amaxa-sub000/internal/schema"
	"github.com/davidmreed/amaxa-sub000/internal/testutil"
)

// AssertionError is returned when an assertion fails.
// It carries the org's calls to help debug the failure.
type AssertionError struct {
	Type     string          // Assertion type for categorization
	Expected string          // Human-readable expected outcome
	Actual   string          // Human-readable actual outcome
	Calls    []testutil.Call // Calls the org received
}

// Error implements the error interface.
func (e *AssertionError) Error() string {
	var buf strings.Builder

	fmt.Fprintf(&buf, "Assertion failed: %s\n", e.Type)
	fmt.Fprintf(&buf, "  Expected: %s\n", e.Expected)
	fmt.Fprintf(&buf, "  Actual: %s\n", e.Actual)

	if len(e.Calls) > 0 {
		fmt.Fprintf(&buf, "\nCalls:\n")
		for i, c := range e.Calls {
			fmt.Fprintf(&buf, "  [%d] %s %s (%d records)\n", i+1, c.Op, c.SObject, c.Records)
		}
	}
	return buf.String()
}

// evaluate checks a single assertion against the result.
func evaluate(result *Result, a Assertion) error {
	switch a.Type {
	case AssertErrors:
		return assertErrors(result, a)
	case AssertRecordCount:
		return assertRecordCount(result, a)
	case AssertFinalState:
		return assertFinalState(result, a)
	case AssertReference:
		return assertReference(result, a)
	case AssertCallCount:
		return assertCallCount(result, a)
	case AssertCallOrder:
		return assertCallOrder(result, a)
	default:
		return fmt.Errorf("unknown assertion type: %s", a.Type)
	}
}

func org(result *Result, a Assertion) (*testutil.FakeOrg, error) {
	o, ok := result.Orgs[a.Org]
	if !ok {
		return nil, fmt.Errorf("%s: unknown org %q", a.Type, a.Org)
	}
	return o, nil
}

func assertErrors(result *Result, a Assertion) error {
	errs := result.PhaseErrors[a.Phase]
	kinds := make([]string, len(errs))
	for i, e := range errs {
		kinds[i] = string(e.Kind)
	}

	if len(errs) != a.Count {
		return &AssertionError{
			Type:     a.Type,
			Expected: fmt.Sprintf("%d error(s) in %s", a.Count, a.Phase),
			Actual:   fmt.Sprintf("%d error(s): %s", len(errs), joinErrors(result, a.Phase)),
		}
	}
	if len(a.Kinds) > 0 && strings.Join(a.Kinds, ",") != strings.Join(kinds, ",") {
		return &AssertionError{
			Type:     a.Type,
			Expected: fmt.Sprintf("kinds %v in %s", a.Kinds, a.Phase),
			Actual:   fmt.Sprintf("kinds %v", kinds),
		}
	}
	return nil
}

func joinErrors(result *Result, phase string) string {
	msgs := make([]string, 0, len(result.PhaseErrors[phase]))
	for _, e := range result.PhaseErrors[phase] {
		msgs = append(msgs, e.Error())
	}
	return strings.Join(msgs, "; ")
}

func assertRecordCount(result *Result, a Assertion) error {
	o, err := org(result, a)
	if err != nil {
		return err
	}
	n := len(o.Records(a.SObject))
	if n != a.Count {
		return &AssertionError{
			Type:     a.Type,
			Expected: fmt.Sprintf("%d %s record(s) in %s", a.Count, a.SObject, a.Org),
			Actual:   fmt.Sprintf("%d record(s)", n),
			Calls:    o.Calls(),
		}
	}
	return nil
}

// find returns the single record of sobject matching every where value.
func find(o *testutil.FakeOrg, sobject string, where map[string]string) (schema.Record, error) {
	var found []schema.Record
	for _, r := range o.Records(sobject) {
		if matches(r, where) {
			found = append(found, r)
		}
	}
	switch len(found) {
	case 0:
		return nil, fmt.Errorf("no %s record matches %s", sobject, formatFields(where))
	case 1:
		return found[0], nil
	default:
		return nil, fmt.Errorf("%d %s records match %s", len(found), sobject, formatFields(where))
	}
}

func matches(r schema.Record, fields map[string]string) bool {
	for k, v := range fields {
		if r[k] != v {
			return false
		}
	}
	return true
}

// formatFields renders a field map with sorted keys.
func formatFields(fields map[string]string) string {
	keys := make([]string, 0, len(fields))
	for k := range fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	parts := make([]string, len(keys))
	for i, k := range keys {
		parts[i] = fmt.Sprintf("%s=%q", k, fields[k])
	}
	return "{" + strings.Join(parts, ", ") + "}"
}

func assertFinalState(result *Result, a Assertion) error {
	o, err := org(result, a)
	if err != nil {
		return err
	}
	r, err := find(o, a.SObject, a.Where)
	if err != nil {
		return &AssertionError{
			Type:     a.Type,
			Expected: fmt.Sprintf("%s record matching %s", a.SObject, formatFields(a.Where)),
			Actual:   err.Error(),
			Calls:    o.Calls(),
		}
	}
	if !matches(r, a.Expect) {
		actual := make(map[string]string, len(a.Expect))
		for k := range a.Expect {
			actual[k] = r[k]
		}
		return &AssertionError{
			Type:     a.Type,
			Expected: formatFields(a.Expect),
			Actual:   formatFields(actual),
		}
	}
	return nil
}

func assertReference(result *Result, a Assertion) error {
	o, err := org(result, a)
	if err != nil {
		return err
	}
	r, err := find(o, a.SObject, a.Where)
	if err != nil {
		return &AssertionError{Type: a.Type, Expected: "referencing record", Actual: err.Error()}
	}
	target, err := find(o, a.Target, a.TargetWhere)
	if err != nil {
		return &AssertionError{Type: a.Type, Expected: "referenced record", Actual: err.Error()}
	}
	if r[a.Field] != target["Id"] {
		return &AssertionError{
			Type:     a.Type,
			Expected: fmt.Sprintf("%s.%s = %s", a.SObject, a.Field, target["Id"]),
			Actual:   fmt.Sprintf("%s.%s = %q", a.SObject, a.Field, r[a.Field]),
		}
	}
	return nil
}

func assertCallCount(result *Result, a Assertion) error {
	o, err := org(result, a)
	if err != nil {
		return err
	}
	n := o.CountCalls(a.Op, a.SObject)
	if n != a.Count {
		return &AssertionError{
			Type:     a.Type,
			Expected: fmt.Sprintf("%d %s call(s) for %s", a.Count, a.Op, a.SObject),
			Actual:   fmt.Sprintf("%d call(s)", n),
			Calls:    o.Calls(),
		}
	}
	return nil
}

// assertCallOrder checks that the calls appear in order, not necessarily
// adjacent.
func assertCallOrder(result *Result, a Assertion) error {
	o, err := org(result, a)
	if err != nil {
		return err
	}
	calls := o.Calls()
	next := 0
	for _, c := range calls {
		if next < len(a.Calls) && c.Op+" "+c.SObject == a.Calls[next] {
			next++
		}
	}
	if next < len(a.Calls) {
		return &AssertionError{
			Type:     a.Type,
			Expected: fmt.Sprintf("calls in order %v", a.Calls),
			Actual:   fmt.Sprintf("%q not found after %v", a.Calls[next], a.Calls[:next]),
			Calls:    calls,
		}
	}
	return nil
}
