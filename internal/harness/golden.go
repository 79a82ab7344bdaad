package harness

import (
	"bytes"
	"testing"

	"github.com/sebdah/goldie/v2"
)

// Snapshot renders every file in the result's file store, sorted by name,
// each under a "== name ==" header.
func Snapshot(result *Result) []byte {
	var buf bytes.Buffer
	for _, name := range result.Files.Names() {
		buf.WriteString("== " + name + " ==\n")
		buf.WriteString(result.Files.Contents(name))
	}
	return buf.Bytes()
}

// RunWithGolden executes a scenario and compares its files against a golden
// file stored in testdata/golden/{scenario.Name}.golden.
//
// To regenerate golden files, run:
//
//	go test ./internal/harness -update
//
// Returns error if scenario execution fails. Test failure (via goldie)
// occurs if the files don't match the golden file.
func RunWithGolden(t *testing.T, scenario *Scenario) (*Result, error) {
	t.Helper()

	result, err := Run(scenario)
	if err != nil {
		return nil, err
	}
	AssertGolden(t, scenario.Name, result)
	return result, nil
}

// AssertGolden compares the files of an existing result against a golden
// file without re-running the scenario.
func AssertGolden(t *testing.T, scenarioName string, result *Result) {
	t.Helper()

	g := goldie.New(t,
		goldie.WithFixtureDir("testdata/golden"),
		goldie.WithNameSuffix(".golden"),
	)
	g.Assert(t, scenarioName, Snapshot(result))
}
