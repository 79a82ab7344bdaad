package salesforce

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/davidmreed/amaxa-sub000/internal/connection"
	"github.com/davidmreed/amaxa-sub000/internal/schema"
)

func newTestClient(t *testing.T, mux *http.ServeMux) *Client {
	t.Helper()
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	c, err := New(srv.URL, "tok", WithHTTPClient(srv.Client()), WithAPIVersion("52.0"))
	require.NoError(t, err)
	return c
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}

func TestNew_Validation(t *testing.T) {
	_, err := New("not a url", "tok")
	require.Error(t, err)

	_, err = New("https://example.my.salesforce.com", "")
	require.ErrorIs(t, err, connection.ErrAuthentication)

	_, err = New("https://example.my.salesforce.com", "tok", WithAPIVersion("52"))
	require.Error(t, err)
}

func TestDescribe(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /services/data/v52.0/sobjects/", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer tok", r.Header.Get("Authorization"))
		writeJSON(w, map[string]any{"sobjects": []map[string]any{
			{"name": "Account", "keyPrefix": "001", "queryable": true, "createable": true, "updateable": true},
		}})
	})
	mux.HandleFunc("GET /services/data/v52.0/sobjects/Account/describe", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, map[string]any{"name": "Account", "fields": []map[string]any{
			{"name": "Id", "type": "id", "createable": false, "updateable": false},
			{"name": "ParentId", "type": "reference", "referenceTo": []string{"Account"}, "createable": true, "updateable": true},
			{"name": "BillingAddress", "type": "address"},
			{"name": "Legacy__c", "type": "string", "deprecatedAndHidden": true},
		}})
	})
	c := newTestClient(t, mux)

	g, err := c.GlobalDescribe(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []schema.ObjectSummary{{Name: "Account", KeyPrefix: "001", Queryable: true, Createable: true, Updateable: true}}, g)

	d, err := c.DescribeObject(context.Background(), "Account")
	require.NoError(t, err)
	require.Len(t, d.Fields, 4)
	assert.Equal(t, schema.TypeReference, d.Fields[1].Type)
	assert.Equal(t, []string{"Account"}, d.Fields[1].ReferenceTo)
	assert.Equal(t, schema.TypeAddress, d.Fields[2].Type)
	assert.False(t, d.Fields[3].Accessible)
}

func TestQueryAndQueryMore(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /services/data/v52.0/query", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "SELECT Id FROM Contact", r.URL.Query().Get("q"))
		writeJSON(w, map[string]any{
			"done": false, "nextRecordsUrl": "/services/data/v52.0/query/01g-2000",
			"records": []map[string]any{{"attributes": map[string]any{"type": "Contact"}, "Id": "003000000000001AAA"}},
		})
	})
	mux.HandleFunc("GET /services/data/v52.0/query/01g-2000", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, map[string]any{"done": true, "records": []map[string]any{{"Id": "003000000000002AAA"}}})
	})
	c := newTestClient(t, mux)

	p, err := c.Query(context.Background(), "SELECT Id FROM Contact")
	require.NoError(t, err)
	assert.False(t, p.Done)
	require.Len(t, p.Records, 1)

	p, err = c.QueryMore(context.Background(), p.NextRecordsURL)
	require.NoError(t, err)
	assert.True(t, p.Done)
	assert.Equal(t, "003000000000002AAA", p.Records[0]["Id"])
}

func TestRetrieve(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /services/data/v52.0/composite/sobjects/Account", func(w http.ResponseWriter, r *http.Request) {
		var body struct {
			IDs    []string `json:"ids"`
			Fields []string `json:"fields"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, []string{"Id", "Name"}, body.Fields)
		writeJSON(w, []any{map[string]any{"Id": body.IDs[0], "Name": "Acme"}, nil})
	})
	c := newTestClient(t, mux)

	rows, err := c.Retrieve(context.Background(), "Account", []string{"a", "b"}, []string{"Id", "Name"})
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, "Acme", rows[0]["Name"])
	assert.Nil(t, rows[1])
}

func TestBulkJobLifecycle(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /services/async/52.0/job", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "tok", r.Header.Get("X-SFDC-Session"))
		var in jobInfo
		require.NoError(t, json.NewDecoder(r.Body).Decode(&in))
		assert.Equal(t, jobInfo{Operation: "insert", Object: "Account", ContentType: "JSON", ConcurrencyMode: "Serial"}, in)
		writeJSON(w, jobInfo{ID: "750x", State: "Open"})
	})
	mux.HandleFunc("POST /services/async/52.0/job/750x/batch", func(w http.ResponseWriter, r *http.Request) {
		var recs []map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&recs))
		assert.Equal(t, []map[string]any{{"Name": "Acme", "ParentId": nil}}, recs)
		writeJSON(w, batchInfo{ID: "751x", JobID: "750x", State: "Queued"})
	})
	mux.HandleFunc("POST /services/async/52.0/job/750x", func(w http.ResponseWriter, r *http.Request) {
		var in jobInfo
		require.NoError(t, json.NewDecoder(r.Body).Decode(&in))
		assert.Equal(t, "Closed", in.State)
		writeJSON(w, jobInfo{ID: "750x", State: "Closed"})
	})
	mux.HandleFunc("GET /services/async/52.0/job/750x/batch/751x", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, batchInfo{ID: "751x", State: "Completed"})
	})
	mux.HandleFunc("GET /services/async/52.0/job/750x/batch/751x/result", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, []map[string]any{{
			"success": false, "created": false, "id": nil,
			"errors": []map[string]any{{"statusCode": "REQUIRED_FIELD_MISSING", "message": "missing", "fields": []string{"Name"}}},
		}})
	})
	c := newTestClient(t, mux)
	ctx := context.Background()

	job, err := c.CreateJob(ctx, connection.JobSpec{Object: "Account", Operation: connection.OpInsert, Mode: connection.Serial})
	require.NoError(t, err)
	batch, err := c.AddBatch(ctx, job, []connection.Payload{{"Name": "Acme", "ParentId": nil}})
	require.NoError(t, err)
	require.NoError(t, c.CloseJob(ctx, job))

	info, err := c.BatchStatus(ctx, job, batch)
	require.NoError(t, err)
	assert.Equal(t, connection.BatchCompleted, info.State)

	results, err := c.BatchResults(ctx, job, batch)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.False(t, results[0].Success)
	assert.Equal(t, "REQUIRED_FIELD_MISSING: missing (Name)", results[0].ErrorMessage())
}

func TestBulkQueryResults(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /services/async/52.0/job/750q/batch", func(w http.ResponseWriter, r *http.Request) {
		b, _ := io.ReadAll(r.Body)
		assert.Equal(t, "SELECT Id FROM Account", string(b))
		writeJSON(w, batchInfo{ID: "751q", State: "Queued"})
	})
	mux.HandleFunc("GET /services/async/52.0/job/750q/batch/751q/result", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, []string{"752a"})
	})
	mux.HandleFunc("GET /services/async/52.0/job/750q/batch/751q/result/752a", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`[{"Id":"001000000000001AAA","CreatedDate":1262304000000}]`))
	})
	c := newTestClient(t, mux)
	ctx := context.Background()

	batch, err := c.AddQueryBatch(ctx, "750q", "SELECT Id FROM Account")
	require.NoError(t, err)
	ids, err := c.QueryResultIDs(ctx, "750q", batch)
	require.NoError(t, err)
	rows, err := c.QueryResult(ctx, "750q", batch, ids[0])
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, json.Number("1262304000000"), rows[0]["CreatedDate"])
}

func TestErrorsMapToAuthentication(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /services/data/v52.0/sobjects/", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		w.Write([]byte(`[{"errorCode":"INVALID_SESSION_ID","message":"Session expired or invalid"}]`))
	})
	mux.HandleFunc("GET /services/async/52.0/job/750x/batch/751x", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		w.Write([]byte(`{"exceptionCode":"InvalidBatch","exceptionMessage":"no such batch"}`))
	})
	c := newTestClient(t, mux)

	_, err := c.GlobalDescribe(context.Background())
	require.ErrorIs(t, err, connection.ErrAuthentication)
	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, "INVALID_SESSION_ID", apiErr.Code)

	_, err = c.BatchStatus(context.Background(), "750x", "751x")
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, "InvalidBatch", apiErr.Code)
	assert.NotErrorIs(t, err, connection.ErrAuthentication)
}

func TestEndToEndThroughConnectionClient(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /services/async/52.0/job", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, jobInfo{ID: "750e"})
	})
	mux.HandleFunc("POST /services/async/52.0/job/750e/batch", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, batchInfo{ID: "751e", State: "Queued"})
	})
	mux.HandleFunc("POST /services/async/52.0/job/750e", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, jobInfo{ID: "750e", State: "Closed"})
	})
	mux.HandleFunc("GET /services/async/52.0/job/750e/batch/751e", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, batchInfo{ID: "751e", State: "Completed"})
	})
	mux.HandleFunc("GET /services/async/52.0/job/750e/batch/751e/result", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, []string{"r"})
	})
	mux.HandleFunc("GET /services/async/52.0/job/750e/batch/751e/result/r", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`[{"attributes":{"type":"Account"},"Id":"001000000000001AAA","LastModifiedDate":1262304000000,"AnnualRevenue":1.5}]`))
	})
	client := connection.NewClient(newTestClient(t, mux))

	var recs []schema.Record
	for rec, err := range client.BulkQuery(context.Background(), "Account", "SELECT Id FROM Account", []string{"LastModifiedDate"}, connection.DefaultBulkOptions()) {
		require.NoError(t, err)
		recs = append(recs, rec)
	}
	assert.Equal(t, []schema.Record{{
		"Id":               "001000000000001AAA",
		"LastModifiedDate": "2010-01-01T00:00:00.000+0000",
		"AnnualRevenue":    "1.5",
	}}, recs)
}
