package cli

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/davidmreed/amaxa-sub000/internal/connection"
	"github.com/davidmreed/amaxa-sub000/internal/engine"
	"github.com/davidmreed/amaxa-sub000/internal/state"
	"github.com/davidmreed/amaxa-sub000/internal/store"
	"github.com/davidmreed/amaxa-sub000/internal/testutil"
)

// accountInput is a parent and child whose lookups point at each other.
func accountInput() string {
	return strings.Join([]string{
		"Id,Name,ParentId",
		srcA1.String() + ",A1," + srcA2.String(),
		srcA2.String() + ",A2," + srcA1.String(),
	}, "\n") + "\n"
}

func loadWorkspace(t *testing.T) workspace {
	t.Helper()
	w := newWorkspace(t, accountOperation)
	w.write(t, "Account.csv", accountInput())
	return w
}

// rejectName makes inserts of the named account fail while *enabled.
func rejectName(org *testutil.FakeOrg, name string, enabled *bool) {
	org.FailInserts(func(_ string, p connection.Payload) *connection.RecordError {
		if *enabled && p["Name"] == name {
			return &connection.RecordError{StatusCode: "DUPLICATE_VALUE", Message: "duplicate name"}
		}
		return nil
	})
}

func TestLoad_Success(t *testing.T) {
	org := accountOrg(1000)
	w := loadWorkspace(t)

	res := execute(t, testRoot(org, nil), "load", "-c", w.path("creds.yml"),
		"--metrics-file", w.path("amaxa.prom"), w.path("op.yml"))
	require.Equal(t, ExitSuccess, res.code, res.stdout+res.stderr)
	assert.Equal(t, "✓ load test-run completed\n", res.stdout)

	rows := w.rows(t, "Account-results.csv")
	require.Len(t, rows, 3)
	assert.Equal(t, engine.ResultHeader, rows[0])
	assert.Equal(t, srcA1.String(), rows[1][0])
	assert.Equal(t, srcA2.String(), rows[2][0])

	loaded := org.Records("Account")
	require.Len(t, loaded, 2)
	assert.Equal(t, loaded[1]["Id"], loaded[0]["ParentId"])
	assert.Equal(t, loaded[0]["Id"], loaded[1]["ParentId"])

	assert.NoFileExists(t, state.PathFor(w.path("op.yml")))
	assert.Contains(t, w.read(t, "amaxa.prom"), `amaxa_records_loaded_total{sobject="Account"} 2`)
}

func TestLoad_FailureSavesStateAndResumes(t *testing.T) {
	org := accountOrg(1000)
	failing := true
	rejectName(org, "A2", &failing)
	w := loadWorkspace(t)
	statePath := state.PathFor(w.path("op.yml"))

	res := execute(t, testRoot(org, nil), "load", "-c", w.path("creds.yml"), w.path("op.yml"))
	require.Equal(t, ExitFailure, res.code)
	assert.Contains(t, res.stdout, "✗ load test-run failed with 1 error(s); state saved to "+statePath)
	assert.Contains(t, res.stdout, "DUPLICATE_VALUE: duplicate name")

	saved, err := state.Read(statePath)
	require.NoError(t, err)
	assert.Equal(t, engine.StageInserts, saved.Stage)
	require.Len(t, saved.IDMap, 1)
	assert.Contains(t, saved.IDMap, srcA1)

	failing = false
	res = execute(t, testRoot(org, nil), "load", "-c", w.path("creds.yml"), "--state", statePath, w.path("op.yml"))
	require.Equal(t, ExitSuccess, res.code, res.stdout+res.stderr)

	calls := org.Calls()
	var inserts []testutil.Call
	for _, c := range calls {
		if c.Op == "insert" {
			inserts = append(inserts, c)
		}
	}
	require.Len(t, inserts, 2)
	assert.Equal(t, 1, inserts[1].Records, "the resumed run inserts only the unmapped record")
	assert.Len(t, org.Records("Account"), 2)

	rows := w.rows(t, "Account-results.csv")
	require.Len(t, rows, 4, "results are appended under the original header")
	assert.Equal(t, engine.ResultHeader, rows[0])
	assert.Equal(t, []string{srcA2.String(), "", "DUPLICATE_VALUE: duplicate name"}, rows[2])
	assert.Equal(t, srcA2.String(), rows[3][0])
	assert.NotEmpty(t, rows[3][1])
}

func TestLoad_JournalResumesWithoutStateFile(t *testing.T) {
	org := accountOrg(1000)
	failing := true
	rejectName(org, "A2", &failing)
	w := loadWorkspace(t)
	journal := w.path("load.db")

	res := execute(t, testRoot(org, nil), "load", "-c", w.path("creds.yml"), "--journal", journal, w.path("op.yml"))
	require.Equal(t, ExitFailure, res.code)

	failing = false
	res = execute(t, testRoot(org, nil), "load", "-c", w.path("creds.yml"), "--journal", journal, w.path("op.yml"))
	require.Equal(t, ExitSuccess, res.code, res.stdout+res.stderr)
	assert.Len(t, org.Records("Account"), 2)

	st, err := store.Open(journal)
	require.NoError(t, err)
	defer st.Close()
	counts, err := st.CountMappings(context.Background())
	require.NoError(t, err)
	assert.Equal(t, map[string]int{"Account": 2}, counts)

	loadState, err := st.LoadState(context.Background())
	require.NoError(t, err)
	assert.Equal(t, engine.StageDependents, loadState.Stage)
}

func TestLoad_BadStateFile(t *testing.T) {
	org := accountOrg(1000)
	w := loadWorkspace(t)
	w.write(t, "broken.state.yml", "version: 7\n")

	res := execute(t, testRoot(org, nil), "load", "-c", w.path("creds.yml"), "--state", w.path("broken.state.yml"), w.path("op.yml"))
	assert.Equal(t, ExitCommandError, res.code)
	assert.Contains(t, res.stdout, "read state")
	assert.Empty(t, org.Calls())
}

func TestLoad_JSONOutput(t *testing.T) {
	org := accountOrg(1000)
	w := loadWorkspace(t)

	res := execute(t, testRoot(org, nil), "--format", "json", "load", "-c", w.path("creds.yml"), w.path("op.yml"))
	require.Equal(t, ExitSuccess, res.code, res.stdout+res.stderr)
	assert.JSONEq(t, `{"status":"ok","data":{"operation":"load","run_id":"test-run"},"run_id":"test-run"}`, res.stdout)
}
