package engine

import (
	"encoding/csv"
	"io"
	"log/slog"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/davidmreed/amaxa-sub000/internal/filestore"
	"github.com/davidmreed/amaxa-sub000/internal/schema"
	"github.com/davidmreed/amaxa-sub000/internal/testutil"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testOptions(extra ...Option) []Option {
	return append([]Option{WithLogger(quietLogger()), WithRunIDGenerator(testutil.NewFixedRunID(""))}, extra...)
}

// newStore maps each object to <name>.csv and <name>-results.csv.
func newStore(mem *filestore.Memory, opts []filestore.Option, sobjects ...string) *filestore.CSVStore {
	files := make(map[string]filestore.Files, len(sobjects))
	for _, s := range sobjects {
		files[s] = filestore.Files{Data: s + ".csv", Result: s + "-results.csv"}
	}
	return filestore.New(mem, files, opts...)
}

// readCSV parses a CSV file from mem into records keyed by header.
func readCSV(t *testing.T, mem *filestore.Memory, name string) []schema.Record {
	t.Helper()
	rows, err := csv.NewReader(strings.NewReader(mem.Contents(name))).ReadAll()
	require.NoError(t, err)
	if len(rows) == 0 {
		return nil
	}
	var out []schema.Record
	for _, row := range rows[1:] {
		rec := make(schema.Record, len(row))
		for i, col := range rows[0] {
			rec[col] = row[i]
		}
		out = append(out, rec)
	}
	return out
}

func header(t *testing.T, mem *filestore.Memory, name string) []string {
	t.Helper()
	rows, err := csv.NewReader(strings.NewReader(mem.Contents(name))).ReadAll()
	require.NoError(t, err)
	require.NotEmpty(t, rows)
	return rows[0]
}

func ids(records []schema.Record) []string {
	out := make([]string, len(records))
	for i, r := range records {
		out[i] = r[schema.IDField]
	}
	return out
}

func kinds(errs []*Error) []Kind {
	out := make([]Kind, len(errs))
	for i, e := range errs {
		out[i] = e.Kind
	}
	return out
}

// salesOrg registers Account (001) with a self lookup, Contact (003) with a
// lookup to Account, and User (005) which operations leave out.
func salesOrg(base int) *testutil.FakeOrg {
	org := testutil.NewFakeOrg(base)
	org.AddObject("001", testutil.Describe("Account",
		testutil.Text("Name"),
		testutil.Lookup("ParentId", "Account"),
		testutil.Lookup("OwnerId", "User"),
	))
	org.AddObject("003", testutil.Describe("Contact",
		testutil.Text("LastName"),
		testutil.Lookup("AccountId", "Account"),
		testutil.Lookup("ReportsToId", "Contact"),
		testutil.Lookup("OwnerId", "User"),
		testutil.Field("DoNotCall", schema.TypeBoolean),
	))
	org.AddObject("005", testutil.Describe("User", testutil.Text("Username")))
	return org
}
