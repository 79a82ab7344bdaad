package engine

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/davidmreed/amaxa-sub000/internal/connection"
	"github.com/davidmreed/amaxa-sub000/internal/filestore"
	"github.com/davidmreed/amaxa-sub000/internal/mapper"
	"github.com/davidmreed/amaxa-sub000/internal/schema"
	"github.com/davidmreed/amaxa-sub000/internal/sfid"
	"github.com/davidmreed/amaxa-sub000/internal/testutil"
)

func runExtract(t *testing.T, org *testutil.FakeOrg, mem *filestore.Memory, steps ...*ExtractionStep) (*ExtractOperation, error) {
	t.Helper()
	names := make([]string, len(steps))
	for i, s := range steps {
		names[i] = s.SObject
	}
	op, err := NewExtractOperation(org, newStore(mem, nil, names...), steps, testOptions()...)
	require.NoError(t, err)
	return op, op.Run(context.Background())
}

func TestExtract_SelfLookupHierarchy(t *testing.T) {
	org := salesOrg(0)
	a1 := org.Put("Account", schema.Record{"Name": "A1"})
	a2 := org.Put("Account", schema.Record{"Name": "A2", "ParentId": a1.String()[:15]})
	a3 := org.Put("Account", schema.Record{"Name": "A3", "ParentId": a2.String()})
	org.Put("Account", schema.Record{"Name": "Unrelated"})
	mem := filestore.NewMemory()

	op, err := runExtract(t, org, mem, &ExtractionStep{
		Step:  Step{SObject: "Account", Fields: []string{"Name", "ParentId"}},
		Scope: ScopeSelected,
		IDs:   []sfid.ID{a3},
	})
	require.NoError(t, err)

	assert.Equal(t, sfid.NewSet(a1, a2, a3), op.ExtractedIDs("Account"))
	out := readCSV(t, mem, "Account.csv")
	assert.ElementsMatch(t, []string{a1.String(), a2.String(), a3.String()}, ids(out))
	assert.Equal(t, []string{"Id", "Name", "ParentId"}, header(t, mem, "Account.csv"))

	for _, r := range out {
		if r["Id"] == a2.String() {
			assert.Equal(t, a1.String(), r["ParentId"], "references are written in 18-character form")
		}
	}
}

func TestExtract_TraceNoneDoesNotFollowParents(t *testing.T) {
	org := salesOrg(0)
	a1 := org.Put("Account", schema.Record{"Name": "A1"})
	a2 := org.Put("Account", schema.Record{"Name": "A2", "ParentId": a1.String()})
	mem := filestore.NewMemory()

	op, err := runExtract(t, org, mem, &ExtractionStep{
		Step:  Step{SObject: "Account", Fields: []string{"Name", "ParentId"}, SelfLookupBehavior: TraceNone},
		Scope: ScopeSelected,
		IDs:   []sfid.ID{a2},
	})
	require.NoError(t, err)

	assert.Equal(t, sfid.NewSet(a2), op.ExtractedIDs("Account"))
	out := readCSV(t, mem, "Account.csv")
	require.Len(t, out, 1)
	assert.Equal(t, a1.String(), out[0]["ParentId"])
}

func TestExtract_DescendantsWithOutsideReferenceDropField(t *testing.T) {
	org := salesOrg(0)
	a1 := org.Put("Account", schema.Record{"Name": "A1"})
	u1 := org.Put("User", schema.Record{"Username": "u@example.com"})
	c1 := org.Put("Contact", schema.Record{"LastName": "C1", "AccountId": a1.String(), "OwnerId": u1.String()})
	org.Put("Contact", schema.Record{"LastName": "Orphan"})
	mem := filestore.NewMemory()

	op, err := runExtract(t, org, mem,
		&ExtractionStep{Step: Step{SObject: "Account", Fields: []string{"Name"}}, Scope: ScopeAll},
		&ExtractionStep{
			Step:  Step{SObject: "Contact", Fields: []string{"LastName", "AccountId", "OwnerId"}, OutsideLookupBehavior: DropField},
			Scope: ScopeDescendants,
		},
	)
	require.NoError(t, err)
	assert.Empty(t, op.Errors())

	out := readCSV(t, mem, "Contact.csv")
	require.Len(t, out, 1)
	assert.Equal(t, c1.String(), out[0]["Id"])
	assert.Equal(t, a1.String(), out[0]["AccountId"])
	assert.Equal(t, "", out[0]["OwnerId"])
	assert.Equal(t, 1, org.CountCalls("reference", "Contact"))
}

func TestExtract_UnknownPrefixIsOutsideReference(t *testing.T) {
	org := salesOrg(0)
	org.Put("Account", schema.Record{"Name": "A1"})
	c1 := org.Put("Contact", schema.Record{"LastName": "C1", "AccountId": "00X000000000001"})
	mem := filestore.NewMemory()

	_, err := runExtract(t, org, mem,
		&ExtractionStep{Step: Step{SObject: "Account", Fields: []string{"Name"}}},
		&ExtractionStep{Step: Step{SObject: "Contact", Fields: []string{"LastName", "AccountId"}, OutsideLookupBehavior: DropField}},
	)
	require.NoError(t, err)

	out := readCSV(t, mem, "Contact.csv")
	require.Len(t, out, 1)
	assert.Equal(t, c1.String(), out[0]["Id"])
	assert.Equal(t, "", out[0]["AccountId"])
}

func TestExtract_OutsideReferenceBehaviors(t *testing.T) {
	org := salesOrg(0)
	u1 := org.Put("User", schema.Record{"Username": "u@example.com"})
	owned := org.Put("Account", schema.Record{"Name": "Owned", "OwnerId": u1.String()})
	plain := org.Put("Account", schema.Record{"Name": "Plain"})

	cases := []struct {
		behavior OutsideLookupBehavior
		written  []string
		owner    string
		errs     []Kind
	}{
		{Include, []string{owned.String(), plain.String()}, u1.String(), nil},
		{Recurse, []string{owned.String(), plain.String()}, u1.String(), nil},
		{DropField, []string{owned.String(), plain.String()}, "", nil},
		{DropRecord, []string{plain.String()}, "", nil},
		{ErrorOnRef, []string{plain.String()}, "", []Kind{KindOutsideReference}},
	}
	for _, tc := range cases {
		t.Run(string(tc.behavior), func(t *testing.T) {
			mem := filestore.NewMemory()
			op, err := runExtract(t, org, mem, &ExtractionStep{
				Step: Step{SObject: "Account", Fields: []string{"Name", "OwnerId"}, OutsideLookupBehavior: tc.behavior},
			})
			if tc.errs == nil {
				require.NoError(t, err)
			} else {
				var runErr *RunError
				require.ErrorAs(t, err, &runErr)
			}
			assert.Equal(t, tc.errs, nilIfEmpty(kinds(op.Errors())))

			out := readCSV(t, mem, "Account.csv")
			assert.ElementsMatch(t, tc.written, ids(out))
			assert.Equal(t, len(out), op.ExtractedIDs("Account").Len())
			for _, r := range out {
				if r["Id"] == owned.String() {
					assert.Equal(t, tc.owner, r["OwnerId"])
				}
			}
		})
	}
}

func nilIfEmpty(k []Kind) []Kind {
	if len(k) == 0 {
		return nil
	}
	return k
}

func TestExtract_ErrorBehaviorReportsOncePerRecord(t *testing.T) {
	org := salesOrg(0)
	u1 := org.Put("User", schema.Record{"Username": "u"})
	c1 := org.Put("Contact", schema.Record{"LastName": "C1", "AccountId": "00X000000000001", "OwnerId": u1.String()})
	mem := filestore.NewMemory()

	op, err := runExtract(t, org, mem, &ExtractionStep{
		Step: Step{SObject: "Contact", Fields: []string{"LastName", "AccountId", "OwnerId"}, OutsideLookupBehavior: ErrorOnRef},
	})
	require.Error(t, err)

	errs := op.Errors()
	require.Len(t, errs, 1)
	assert.Equal(t, KindOutsideReference, errs[0].Kind)
	assert.Equal(t, c1.String(), errs[0].RecordID)
	assert.Contains(t, errs[0].Message, "outside reference in AccountId")
	assert.Empty(t, readCSV(t, mem, "Contact.csv"))
}

func TestExtract_FieldOverrideAppliesToOutsideReferences(t *testing.T) {
	org := salesOrg(0)
	u1 := org.Put("User", schema.Record{"Username": "u"})
	org.Put("Account", schema.Record{"Name": "A", "OwnerId": u1.String()})
	mem := filestore.NewMemory()

	op, err := runExtract(t, org, mem, &ExtractionStep{
		Step: Step{
			SObject:               "Account",
			Fields:                []string{"Name", "OwnerId"},
			OutsideLookupBehavior: ErrorOnRef,
			FieldBehaviors:        map[string]FieldBehavior{"OwnerId": {Outside: DropField}},
		},
	})
	require.NoError(t, err)
	assert.Empty(t, op.Errors())
	out := readCSV(t, mem, "Account.csv")
	require.Len(t, out, 1)
	assert.Equal(t, "", out[0]["OwnerId"])
}

func TestExtract_DroppedDependencyIsReported(t *testing.T) {
	org := salesOrg(0)
	u1 := org.Put("User", schema.Record{"Username": "u"})
	a1 := org.Put("Account", schema.Record{"Name": "A1", "OwnerId": u1.String()})
	c1 := org.Put("Contact", schema.Record{"LastName": "C1", "AccountId": a1.String()})
	mem := filestore.NewMemory()

	op, err := runExtract(t, org, mem,
		&ExtractionStep{
			Step:  Step{SObject: "Contact", Fields: []string{"LastName", "AccountId"}},
			Scope: ScopeSelected,
			IDs:   []sfid.ID{c1},
		},
		&ExtractionStep{
			Step:  Step{SObject: "Account", Fields: []string{"Name", "OwnerId"}, OutsideLookupBehavior: DropRecord},
			Scope: ScopeSelected,
		},
	)
	var runErr *RunError
	require.ErrorAs(t, err, &runErr)

	errs := op.Errors()
	require.Len(t, errs, 1)
	assert.Equal(t, KindUnresolvedDependency, errs[0].Kind)
	assert.Equal(t, "Account", errs[0].SObject)
	assert.Equal(t, a1.String(), errs[0].RecordID)
	assert.Contains(t, errs[0].Message, "dropped")
	assert.Zero(t, op.ExtractedIDs("Account").Len())
	assert.Empty(t, readCSV(t, mem, "Account.csv"))
}

func TestExtract_DependencyOnEarlierDroppedRecordIsReported(t *testing.T) {
	org := salesOrg(0)
	u1 := org.Put("User", schema.Record{"Username": "u"})
	a1 := org.Put("Account", schema.Record{"Name": "A1", "OwnerId": u1.String()})
	org.Put("Contact", schema.Record{"LastName": "C1", "AccountId": a1.String()})
	org.Put("Contact", schema.Record{"LastName": "C2", "AccountId": a1.String()})
	mem := filestore.NewMemory()

	op, err := runExtract(t, org, mem,
		&ExtractionStep{Step: Step{SObject: "Account", Fields: []string{"Name", "OwnerId"}, OutsideLookupBehavior: DropRecord}},
		&ExtractionStep{Step: Step{SObject: "Contact", Fields: []string{"LastName", "AccountId"}}},
	)
	require.Error(t, err)

	errs := op.Errors()
	require.Len(t, errs, 1, "reported once however many records reference it")
	assert.Equal(t, KindUnresolvedDependency, errs[0].Kind)
	assert.Equal(t, a1.String(), errs[0].RecordID)
	assert.Empty(t, readCSV(t, mem, "Account.csv"))
}

func TestExtract_DropFieldSkipsTransforms(t *testing.T) {
	org := salesOrg(0)
	u1 := org.Put("User", schema.Record{"Username": "u"})
	org.Put("Account", schema.Record{"Name": "A1", "OwnerId": u1.String()})
	mem := filestore.NewMemory()
	m := mapper.New()
	m.Rename("OwnerId", "Owner")
	m.AddTransform("OwnerId", func(v string) string { return "user:" + v })
	m.AddTransform("Name", strings.ToLower)

	_, err := runExtract(t, org, mem, &ExtractionStep{
		Step: Step{SObject: "Account", Fields: []string{"Name", "OwnerId"}, Mapper: m, OutsideLookupBehavior: DropField},
	})
	require.NoError(t, err)

	out := readCSV(t, mem, "Account.csv")
	require.Len(t, out, 1)
	assert.Equal(t, "a1", out[0]["Name"])
	assert.Equal(t, "", out[0]["Owner"])
}

func TestExtract_BulkQueryUsesStepTimeout(t *testing.T) {
	org := salesOrg(0)
	org.Put("Account", schema.Record{"Name": "A1"})

	_, err := runExtract(t, org, filestore.NewMemory(), &ExtractionStep{
		Step: Step{SObject: "Account", Fields: []string{"Name"}, Options: connection.BulkOptions{Timeout: 42 * time.Second}},
	})
	require.NoError(t, err)

	calls := org.Calls()
	require.Len(t, calls, 1)
	assert.Equal(t, "query", calls[0].Op)
	assert.Equal(t, 42*time.Second, calls[0].Timeout)
}

func TestExtract_DependentLookupOrdering(t *testing.T) {
	org := salesOrg(0)
	a1 := org.Put("Account", schema.Record{"Name": "A1"})
	org.Put("Account", schema.Record{"Name": "A2"})
	c1 := org.Put("Contact", schema.Record{"LastName": "C1", "AccountId": a1.String()})
	mem := filestore.NewMemory()

	contact := &ExtractionStep{
		Step:  Step{SObject: "Contact", Fields: []string{"LastName", "AccountId"}},
		Scope: ScopeSelected,
		IDs:   []sfid.ID{c1},
	}
	account := &ExtractionStep{Step: Step{SObject: "Account", Fields: []string{"Name"}}, Scope: ScopeSelected}

	op, err := runExtract(t, org, mem, contact, account)
	require.NoError(t, err)

	assert.Equal(t, []string{"AccountId"}, contact.DependentLookups())
	assert.Empty(t, contact.DescendentLookups())
	assert.Equal(t, sfid.NewSet(a1), op.ExtractedIDs("Account"))
	assert.Empty(t, op.RequiredIDs("Account"))
	assert.Equal(t, []string{a1.String()}, ids(readCSV(t, mem, "Account.csv")))
	assert.Equal(t, 1, org.CountCalls("retrieve", "Account"))
}

func TestExtract_LateDependenciesAreReplayed(t *testing.T) {
	org := salesOrg(0)
	a1 := org.Put("Account", schema.Record{"Name": "A1"})
	org.Put("Account", schema.Record{"Name": "A2"})
	org.Put("Contact", schema.Record{"LastName": "C1", "AccountId": a1.String()})
	mem := filestore.NewMemory()

	op, err := runExtract(t, org, mem,
		&ExtractionStep{Step: Step{SObject: "Account", Fields: []string{"Name"}}, Scope: ScopeSelected},
		&ExtractionStep{Step: Step{SObject: "Contact", Fields: []string{"LastName", "AccountId"}}},
	)
	require.NoError(t, err)

	assert.Equal(t, sfid.NewSet(a1), op.ExtractedIDs("Account"))
	assert.Equal(t, []string{a1.String()}, ids(readCSV(t, mem, "Account.csv")))
}

func TestExtract_UnresolvedDependency(t *testing.T) {
	org := salesOrg(0)
	a1 := org.Put("Account", schema.Record{"Name": "A1"})
	missing := testutil.ID("001", 77)
	mem := filestore.NewMemory()

	op, err := runExtract(t, org, mem, &ExtractionStep{
		Step:  Step{SObject: "Account", Fields: []string{"Name"}},
		Scope: ScopeSelected,
		IDs:   []sfid.ID{a1, missing},
	})
	var runErr *RunError
	require.ErrorAs(t, err, &runErr)
	require.Len(t, runErr.Errors, 1)
	assert.Equal(t, KindUnresolvedDependency, runErr.Errors[0].Kind)
	assert.Equal(t, missing.String(), runErr.Errors[0].RecordID)

	// Every registered dependency is either extracted or reported.
	assert.True(t, op.ExtractedIDs("Account").Has(a1))
	assert.Empty(t, op.RequiredIDs("Account"))
}

func TestExtract_QueryScope(t *testing.T) {
	org := salesOrg(0)
	org.Put("Account", schema.Record{"Name": "A1"})
	a2 := org.Put("Account", schema.Record{"Name": "A2"})
	org.DefineWhere("Account", "Name = 'A2'", func(r schema.Record) bool { return r["Name"] == "A2" })
	mem := filestore.NewMemory()

	_, err := runExtract(t, org, mem, &ExtractionStep{
		Step:  Step{SObject: "Account", Fields: []string{"Name"}},
		Scope: ScopeQuery,
		Where: "Name = 'A2'",
	})
	require.NoError(t, err)
	assert.Equal(t, []string{a2.String()}, ids(readCSV(t, mem, "Account.csv")))

	calls := org.Calls()
	require.NotEmpty(t, calls)
	assert.Equal(t, "SELECT Id, Name FROM Account WHERE Name = 'A2'", calls[0].Detail)
}

func TestExtract_QueryScopeNeedsWhere(t *testing.T) {
	_, err := NewExtractOperation(salesOrg(0), newStore(filestore.NewMemory(), nil, "Account"),
		[]*ExtractionStep{{Step: Step{SObject: "Account"}, Scope: ScopeQuery}}, testOptions()...)
	assert.True(t, IsKind(err, KindConfiguration))
}

func TestExtract_DuplicateStep(t *testing.T) {
	_, err := NewExtractOperation(salesOrg(0), newStore(filestore.NewMemory(), nil, "Account"),
		[]*ExtractionStep{{Step: Step{SObject: "Account"}}, {Step: Step{SObject: "Account"}}}, testOptions()...)
	assert.True(t, IsKind(err, KindConfiguration))
}

func TestExtract_AllScopeWritesEachRecordOnce(t *testing.T) {
	org := salesOrg(0)
	var parent sfid.ID
	for i := range 5 {
		r := schema.Record{"Name": fmt.Sprintf("A%d", i)}
		if i > 0 {
			r["ParentId"] = parent.String()
		}
		parent = org.Put("Account", r)
	}
	mem := filestore.NewMemory()

	op, err := runExtract(t, org, mem, &ExtractionStep{Step: Step{SObject: "Account", Fields: []string{"Name", "ParentId"}}})
	require.NoError(t, err)

	out := readCSV(t, mem, "Account.csv")
	seen := make(map[string]bool)
	for _, id := range ids(out) {
		assert.False(t, seen[id], "id %s written twice", id)
		seen[id] = true
	}
	assert.Len(t, out, 5)
	assert.Equal(t, 5, op.ExtractedIDs("Account").Len())
	assert.Zero(t, org.CountCalls("retrieve", "Account"))
}

func TestExtract_SchemaMismatchStopsBeforeQuerying(t *testing.T) {
	org := salesOrg(0)
	mem := filestore.NewMemory()

	_, err := runExtract(t, org, mem, &ExtractionStep{Step: Step{SObject: "Account", Fields: []string{"Name", "Nope__c"}}})
	require.Error(t, err)
	assert.True(t, IsKind(err, KindSchemaMismatch))
	assert.Contains(t, err.Error(), "Nope__c")
	assert.Zero(t, org.CountCalls("query", "Account"))
}

func TestExtract_UnknownObject(t *testing.T) {
	_, err := runExtract(t, salesOrg(0), filestore.NewMemory(), &ExtractionStep{Step: Step{SObject: "Opportunity"}})
	assert.True(t, IsKind(err, KindSchemaMismatch))
}

func TestExtract_RemoteFailureStopsOperation(t *testing.T) {
	org := salesOrg(0)
	org.FailBulk(errors.New("service unavailable"))
	mem := filestore.NewMemory()

	op, err := runExtract(t, org, mem,
		&ExtractionStep{Step: Step{SObject: "Account", Fields: []string{"Name"}}},
		&ExtractionStep{Step: Step{SObject: "Contact", Fields: []string{"LastName"}}},
	)
	require.Error(t, err)
	assert.Equal(t, []Kind{KindRemoteFailure}, kinds(op.Errors()))
	assert.False(t, mem.Exists("Contact.csv"), "later steps do not run")
}

func TestExtract_AuthenticationFailure(t *testing.T) {
	org := salesOrg(0)
	org.FailBulk(fmt.Errorf("query: %w", connection.ErrAuthentication))

	_, err := runExtract(t, org, filestore.NewMemory(), &ExtractionStep{Step: Step{SObject: "Account", Fields: []string{"Name"}}})
	assert.True(t, IsKind(err, KindAuthentication))
}

func TestExtract_FieldGroupAndColumnMapping(t *testing.T) {
	org := salesOrg(0)
	org.Put("Account", schema.Record{"Name": "A1"})
	mem := filestore.NewMemory()
	m := mapper.New()
	m.Rename("Name", "Account Name")

	_, err := runExtract(t, org, mem, &ExtractionStep{
		Step: Step{SObject: "Account", FieldGroup: schema.GroupReadable, Mapper: m, OutsideLookupBehavior: Include},
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"Id", "Account Name", "ParentId", "OwnerId"}, header(t, mem, "Account.csv"))
	assert.Equal(t, "A1", readCSV(t, mem, "Account.csv")[0]["Account Name"])
}

type countingObserver struct {
	extracted, loaded map[string]int
	failed            map[Kind]int
}

func newCountingObserver() *countingObserver {
	return &countingObserver{extracted: map[string]int{}, loaded: map[string]int{}, failed: map[Kind]int{}}
}

func (c *countingObserver) RecordExtracted(s string)      { c.extracted[s]++ }
func (c *countingObserver) RecordLoaded(s string)         { c.loaded[s]++ }
func (c *countingObserver) RecordFailed(_ string, k Kind) { c.failed[k]++ }

func TestExtract_Observer(t *testing.T) {
	org := salesOrg(0)
	org.Put("Account", schema.Record{"Name": "A1"})
	org.Put("Account", schema.Record{"Name": "A2"})
	obs := newCountingObserver()

	op, err := NewExtractOperation(org, newStore(filestore.NewMemory(), nil, "Account"),
		[]*ExtractionStep{{Step: Step{SObject: "Account", Fields: []string{"Name"}}}},
		testOptions(WithObserver(obs))...)
	require.NoError(t, err)
	require.NoError(t, op.Run(context.Background()))
	assert.Equal(t, 2, obs.extracted["Account"])
	assert.Equal(t, "test-run", op.RunID())
}
