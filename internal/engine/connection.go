package engine

import (
	"context"
	"iter"

	"github.com/davidmreed/amaxa-sub000/internal/connection"
	"github.com/davidmreed/amaxa-sub000/internal/schema"
	"github.com/davidmreed/amaxa-sub000/internal/sfid"
)

// Connection is the remote API surface the engine consumes. Iterators are
// lazy: each pull may block on network I/O or poll sleeps.
//
// Implemented by connection.Client and, in tests, testutil.FakeOrg.
type Connection interface {
	GlobalDescribe(ctx context.Context) ([]schema.ObjectSummary, error)
	DescribeObject(ctx context.Context, sobject string) (schema.ObjectDescribe, error)

	// BulkQuery runs under the timeout and poll interval of opts.
	BulkQuery(ctx context.Context, sobject, soql string, datetimeFields []string, opts connection.BulkOptions) iter.Seq2[schema.Record, error]

	// BulkInsert and BulkUpdate yield exactly one result per record, in
	// input order.
	BulkInsert(ctx context.Context, sobject string, records []connection.Payload, opts connection.BulkOptions) iter.Seq2[connection.Result, error]
	BulkUpdate(ctx context.Context, sobject string, records []connection.Payload, opts connection.BulkOptions) iter.Seq2[connection.Result, error]

	// RetrieveByID yields the subset of ids that exist.
	RetrieveByID(ctx context.Context, sobject string, ids []sfid.ID, fields []string) iter.Seq2[schema.Record, error]

	// QueryByReference yields records whose idField holds one of ids.
	QueryByReference(ctx context.Context, sobject string, fields []string, idField string, ids []sfid.ID) iter.Seq2[schema.Record, error]
}

var _ Connection = (*connection.Client)(nil)
