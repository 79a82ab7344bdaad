package cli

import (
	"bytes"
	"context"
	"encoding/csv"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/davidmreed/amaxa-sub000/internal/config"
	"github.com/davidmreed/amaxa-sub000/internal/engine"
	"github.com/davidmreed/amaxa-sub000/internal/testutil"
)

const testCredentials = `version: 1
credentials:
  instance-url: https://example.my.salesforce.com
  access-token: token
  api-version: "52.0"
`

const accountOperation = `version: 2
operation:
  - sobject: Account
    fields: [Name, ParentId]
    extract:
      all: true
`

var (
	srcA1 = testutil.ID("001", 1)
	srcA2 = testutil.ID("001", 2)
)

// accountOrg registers Account with a self lookup.
func accountOrg(base int) *testutil.FakeOrg {
	org := testutil.NewFakeOrg(base)
	org.AddObject("001", testutil.Describe("Account",
		testutil.Text("Name"),
		testutil.Lookup("ParentId", "Account"),
	))
	return org
}

// workspace is a temp directory holding an operation and credentials.
type workspace struct {
	dir string
}

func newWorkspace(t *testing.T, operation string) workspace {
	t.Helper()
	w := workspace{dir: t.TempDir()}
	w.write(t, "op.yml", operation)
	w.write(t, "creds.yml", testCredentials)
	return w
}

func (w workspace) path(name string) string {
	return filepath.Join(w.dir, name)
}

func (w workspace) write(t *testing.T, name, content string) {
	t.Helper()
	require.NoError(t, os.WriteFile(w.path(name), []byte(content), 0o644))
}

func (w workspace) read(t *testing.T, name string) string {
	t.Helper()
	data, err := os.ReadFile(w.path(name))
	require.NoError(t, err)
	return string(data)
}

func (w workspace) rows(t *testing.T, name string) [][]string {
	t.Helper()
	rows, err := csv.NewReader(strings.NewReader(w.read(t, name))).ReadAll()
	require.NoError(t, err)
	return rows
}

// testRoot builds root options that connect to org and record the
// credentials they were given.
func testRoot(org *testutil.FakeOrg, seen *config.Credentials) *RootOptions {
	return &RootOptions{
		RunIDs: testutil.NewFixedRunID(""),
		Connect: func(_ context.Context, creds config.Credentials, _ *slog.Logger) (engine.Connection, error) {
			if seen != nil {
				*seen = creds
			}
			return org, nil
		},
	}
}

type result struct {
	code   int
	stdout string
	stderr string
}

func execute(t *testing.T, opts *RootOptions, args ...string) result {
	t.Helper()
	stdout, stderr := &bytes.Buffer{}, &bytes.Buffer{}
	cmd := newRootCommand(opts)
	cmd.SetOut(stdout)
	cmd.SetErr(stderr)
	cmd.SetArgs(args)
	code := Execute(cmd)
	return result{code: code, stdout: stdout.String(), stderr: stderr.String()}
}
