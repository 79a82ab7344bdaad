// Package testutil provides deterministic test doubles: an in-memory org
// that serves the engine's Connection, id sequences, and fixed run ids.
package testutil

import (
	"context"
	"fmt"
	"iter"
	"strings"
	"sync"
	"time"

	"github.com/davidmreed/amaxa-sub000/internal/connection"
	"github.com/davidmreed/amaxa-sub000/internal/schema"
	"github.com/davidmreed/amaxa-sub000/internal/sfid"
)

// Call records one bulk or query call made against a FakeOrg.
type Call struct {
	Op      string
	SObject string
	Records int
	Detail  string
	// Timeout is the bulk timeout a query ran under.
	Timeout time.Duration
}

// FailFunc decides whether a DML record fails. Returning nil lets it succeed.
type FailFunc func(sobject string, p connection.Payload) *connection.RecordError

// FakeOrg is an in-memory org. It implements the engine's Connection: bulk
// queries are answered from stored records, inserts issue ids from an
// IDSequence, and retrieves return only records that exist.
//
// WHERE clauses are not parsed; each clause a test uses is registered with
// DefineWhere.
type FakeOrg struct {
	mu      sync.Mutex
	ids     *IDSequence
	order   []string
	objects map[string]*fakeObject
	wheres  map[string]func(schema.Record) bool

	failInsert FailFunc
	failUpdate FailFunc
	bulkErr    error
	calls      []Call
}

type fakeObject struct {
	describe schema.ObjectDescribe
	prefix   string
	records  []schema.Record
	index    map[sfid.ID]int
}

// NewFakeOrg creates an empty org issuing ids numbered after base.
func NewFakeOrg(base int) *FakeOrg {
	return &FakeOrg{
		ids:     NewIDSequence(base),
		objects: make(map[string]*fakeObject),
		wheres:  make(map[string]func(schema.Record) bool),
	}
}

// AddObject registers an object type with its key prefix.
func (o *FakeOrg) AddObject(prefix string, d schema.ObjectDescribe) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if _, ok := o.objects[d.Name]; !ok {
		o.order = append(o.order, d.Name)
	}
	o.objects[d.Name] = &fakeObject{describe: d, prefix: prefix, index: make(map[sfid.ID]int)}
}

// Put stores r directly. If r has no Id one is issued. Returns the id.
func (o *FakeOrg) Put(sobject string, r schema.Record) sfid.ID {
	o.mu.Lock()
	defer o.mu.Unlock()
	obj := o.mustObject(sobject)
	return o.put(obj, r.Clone())
}

func (o *FakeOrg) put(obj *fakeObject, r schema.Record) sfid.ID {
	var id sfid.ID
	if raw := r[schema.IDField]; raw != "" {
		id = sfid.MustNew(raw)
	} else {
		id = o.ids.Next(obj.prefix)
	}
	r[schema.IDField] = id.String()
	if i, ok := obj.index[id]; ok {
		obj.records[i] = r
		return id
	}
	obj.index[id] = len(obj.records)
	obj.records = append(obj.records, r)
	return id
}

func (o *FakeOrg) mustObject(sobject string) *fakeObject {
	obj, ok := o.objects[sobject]
	if !ok {
		panic(fmt.Sprintf("FakeOrg: unknown object %s", sobject))
	}
	return obj
}

// Records returns copies of the stored records of sobject in insertion order.
func (o *FakeOrg) Records(sobject string) []schema.Record {
	o.mu.Lock()
	defer o.mu.Unlock()
	obj := o.mustObject(sobject)
	out := make([]schema.Record, len(obj.records))
	for i, r := range obj.records {
		out[i] = r.Clone()
	}
	return out
}

// Record returns a copy of one stored record.
func (o *FakeOrg) Record(sobject string, id sfid.ID) (schema.Record, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	obj := o.mustObject(sobject)
	i, ok := obj.index[id]
	if !ok {
		return nil, false
	}
	return obj.records[i].Clone(), true
}

// DefineWhere registers the predicate a WHERE clause stands for.
func (o *FakeOrg) DefineWhere(sobject, where string, fn func(schema.Record) bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.wheres[sobject+"|"+where] = fn
}

// FailInserts installs a per-record insert failure hook.
func (o *FakeOrg) FailInserts(fn FailFunc) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.failInsert = fn
}

// FailUpdates installs a per-record update failure hook.
func (o *FakeOrg) FailUpdates(fn FailFunc) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.failUpdate = fn
}

// FailBulk makes every following bulk call fail with err. nil clears it.
func (o *FakeOrg) FailBulk(err error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.bulkErr = err
}

// Calls returns the calls made so far.
func (o *FakeOrg) Calls() []Call {
	o.mu.Lock()
	defer o.mu.Unlock()
	return append([]Call(nil), o.calls...)
}

// CountCalls returns how many calls of op were made for sobject.
func (o *FakeOrg) CountCalls(op, sobject string) int {
	n := 0
	for _, c := range o.Calls() {
		if c.Op == op && c.SObject == sobject {
			n++
		}
	}
	return n
}

func (o *FakeOrg) record(c Call) {
	o.calls = append(o.calls, c)
}

// GlobalDescribe lists the registered objects.
func (o *FakeOrg) GlobalDescribe(context.Context) ([]schema.ObjectSummary, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	out := make([]schema.ObjectSummary, 0, len(o.order))
	for _, name := range o.order {
		obj := o.objects[name]
		out = append(out, schema.ObjectSummary{Name: name, KeyPrefix: obj.prefix, Queryable: true, Createable: true, Updateable: true})
	}
	return out, nil
}

// DescribeObject returns the registered describe.
func (o *FakeOrg) DescribeObject(_ context.Context, sobject string) (schema.ObjectDescribe, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	obj, ok := o.objects[sobject]
	if !ok {
		return schema.ObjectDescribe{}, fmt.Errorf("sObject type '%s' is not supported", sobject)
	}
	return obj.describe, nil
}

func project(r schema.Record, fields []string) schema.Record {
	out := make(schema.Record, len(fields))
	for _, f := range fields {
		out[f] = r[f]
	}
	return out
}

func seq(records []schema.Record, err error) iter.Seq2[schema.Record, error] {
	return func(yield func(schema.Record, error) bool) {
		if err != nil {
			yield(nil, err)
			return
		}
		for _, r := range records {
			if !yield(r, nil) {
				return
			}
		}
	}
}

// BulkQuery answers "SELECT a, b FROM T [WHERE cond]".
func (o *FakeOrg) BulkQuery(_ context.Context, sobject, soql string, _ []string, opts connection.BulkOptions) iter.Seq2[schema.Record, error] {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.record(Call{Op: "query", SObject: sobject, Detail: soql, Timeout: opts.Timeout})
	if o.bulkErr != nil {
		return seq(nil, o.bulkErr)
	}

	rest, ok := strings.CutPrefix(soql, "SELECT ")
	if !ok {
		return seq(nil, fmt.Errorf("malformed query %q", soql))
	}
	list, rest, ok := strings.Cut(rest, " FROM ")
	if !ok {
		return seq(nil, fmt.Errorf("malformed query %q", soql))
	}
	from, where, hasWhere := strings.Cut(rest, " WHERE ")
	if from != sobject {
		return seq(nil, fmt.Errorf("query is on %s, not %s", from, sobject))
	}
	match := func(schema.Record) bool { return true }
	if hasWhere {
		fn, ok := o.wheres[sobject+"|"+where]
		if !ok {
			return seq(nil, fmt.Errorf("MALFORMED_QUERY: unknown condition %q", where))
		}
		match = fn
	}
	fields := strings.Split(list, ", ")
	var out []schema.Record
	for _, r := range o.mustObject(sobject).records {
		if match(r) {
			out = append(out, project(r, fields))
		}
	}
	return seq(out, nil)
}

// RetrieveByID returns the records among ids that exist, in id order.
func (o *FakeOrg) RetrieveByID(_ context.Context, sobject string, ids []sfid.ID, fields []string) iter.Seq2[schema.Record, error] {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.record(Call{Op: "retrieve", SObject: sobject, Records: len(ids)})
	obj := o.mustObject(sobject)
	var out []schema.Record
	for _, id := range ids {
		if i, ok := obj.index[id]; ok {
			out = append(out, project(obj.records[i], fields))
		}
	}
	return seq(out, nil)
}

// QueryByReference returns the records whose idField holds one of ids.
func (o *FakeOrg) QueryByReference(_ context.Context, sobject string, fields []string, idField string, ids []sfid.ID) iter.Seq2[schema.Record, error] {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.record(Call{Op: "reference", SObject: sobject, Records: len(ids), Detail: idField})
	want := sfid.NewSet(ids...)
	var out []schema.Record
	for _, r := range o.mustObject(sobject).records {
		ref, err := sfid.New(r[idField])
		if err == nil && want.Has(ref) {
			out = append(out, project(r, fields))
		}
	}
	return seq(out, nil)
}

func results(rs []connection.Result, err error) iter.Seq2[connection.Result, error] {
	return func(yield func(connection.Result, error) bool) {
		if err != nil {
			yield(connection.Result{}, err)
			return
		}
		for _, r := range rs {
			if !yield(r, nil) {
				return
			}
		}
	}
}

func failure(e *connection.RecordError) connection.Result {
	return connection.Result{Errors: []connection.RecordError{*e}}
}

// BulkInsert stores each record that the failure hook lets through.
func (o *FakeOrg) BulkInsert(_ context.Context, sobject string, records []connection.Payload, _ connection.BulkOptions) iter.Seq2[connection.Result, error] {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.record(Call{Op: "insert", SObject: sobject, Records: len(records)})
	if o.bulkErr != nil {
		return results(nil, o.bulkErr)
	}
	obj := o.mustObject(sobject)
	out := make([]connection.Result, len(records))
	for i, p := range records {
		if o.failInsert != nil {
			if e := o.failInsert(sobject, p); e != nil {
				out[i] = failure(e)
				continue
			}
		}
		r := make(schema.Record, len(p))
		for k, v := range p {
			if k != schema.IDField {
				r[k] = connection.Stringify(v)
			}
		}
		id := o.put(obj, r)
		out[i] = connection.Result{Success: true, Created: true, ID: id.String()}
	}
	return results(out, nil)
}

// BulkUpdate merges each record into the stored record with its Id.
func (o *FakeOrg) BulkUpdate(_ context.Context, sobject string, records []connection.Payload, _ connection.BulkOptions) iter.Seq2[connection.Result, error] {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.record(Call{Op: "update", SObject: sobject, Records: len(records)})
	if o.bulkErr != nil {
		return results(nil, o.bulkErr)
	}
	obj := o.mustObject(sobject)
	out := make([]connection.Result, len(records))
	for i, p := range records {
		id, err := sfid.New(connection.Stringify(p[schema.IDField]))
		idx, ok := obj.index[id]
		if err != nil || !ok {
			out[i] = failure(&connection.RecordError{StatusCode: "ENTITY_IS_DELETED", Message: "entity is deleted"})
			continue
		}
		if o.failUpdate != nil {
			if e := o.failUpdate(sobject, p); e != nil {
				out[i] = failure(e)
				continue
			}
		}
		for k, v := range p {
			if k != schema.IDField {
				obj.records[idx][k] = connection.Stringify(v)
			}
		}
		out[i] = connection.Result{Success: true, ID: id.String()}
	}
	return results(out, nil)
}
