package connection

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"iter"
	"log/slog"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/davidmreed/amaxa-sub000/internal/schema"
	"github.com/davidmreed/amaxa-sub000/internal/sfid"
)

// API is the low-level surface of the remote service. Implementations make
// exactly one remote call per method.
type API interface {
	GlobalDescribe(ctx context.Context) ([]schema.ObjectSummary, error)
	DescribeObject(ctx context.Context, sobject string) (schema.ObjectDescribe, error)

	// Query runs a REST query; QueryMore follows a page's NextRecordsURL.
	Query(ctx context.Context, soql string) (QueryPage, error)
	QueryMore(ctx context.Context, nextRecordsURL string) (QueryPage, error)

	// Retrieve fetches up to MaxRetrieveIDs records by id. The result holds
	// one entry per requested id, nil where the record does not exist.
	Retrieve(ctx context.Context, sobject string, ids []string, fields []string) ([]map[string]any, error)

	CreateJob(ctx context.Context, spec JobSpec) (string, error)
	AddBatch(ctx context.Context, jobID string, records []Payload) (string, error)
	AddQueryBatch(ctx context.Context, jobID string, soql string) (string, error)
	CloseJob(ctx context.Context, jobID string) error
	BatchStatus(ctx context.Context, jobID, batchID string) (BatchInfo, error)
	// BatchResults returns one result per submitted record, in order.
	BatchResults(ctx context.Context, jobID, batchID string) ([]Result, error)
	QueryResultIDs(ctx context.Context, jobID, batchID string) ([]string, error)
	QueryResult(ctx context.Context, jobID, batchID, resultID string) ([]map[string]any, error)
}

// MinPollInterval is the shortest wait between two batch status polls.
const MinPollInterval = 250 * time.Millisecond

// Client implements the engine's connection on top of an API.
type Client struct {
	api    API
	logger *slog.Logger
	sleep  func(ctx context.Context, d time.Duration) error

	mu        sync.Mutex
	global    []schema.ObjectSummary
	describes map[string]schema.ObjectDescribe
}

// Option configures a Client.
type Option func(*Client)

// WithLogger sets the client's logger.
func WithLogger(l *slog.Logger) Option {
	return func(c *Client) {
		c.logger = l
	}
}

// WithSleep replaces the poll sleep. Tests use it to avoid real waits.
func WithSleep(fn func(ctx context.Context, d time.Duration) error) Option {
	return func(c *Client) {
		c.sleep = fn
	}
}

// NewClient wraps api.
func NewClient(api API, opts ...Option) *Client {
	c := &Client{
		api:       api,
		logger:    slog.Default(),
		sleep:     sleepContext,
		describes: make(map[string]schema.ObjectDescribe),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// GlobalDescribe returns the object summaries, cached after the first call.
func (c *Client) GlobalDescribe(ctx context.Context) ([]schema.ObjectSummary, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.global != nil {
		return c.global, nil
	}
	g, err := c.api.GlobalDescribe(ctx)
	if err != nil {
		return nil, fmt.Errorf("global describe: %w", err)
	}
	c.global = g
	return g, nil
}

// DescribeObject returns the describe of sobject, cached per type.
func (c *Client) DescribeObject(ctx context.Context, sobject string) (schema.ObjectDescribe, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if d, ok := c.describes[sobject]; ok {
		return d, nil
	}
	d, err := c.api.DescribeObject(ctx, sobject)
	if err != nil {
		return schema.ObjectDescribe{}, fmt.Errorf("describe %s: %w", sobject, err)
	}
	c.describes[sobject] = d
	return d, nil
}

// BulkQuery runs soql as a bulk query job and yields its records. Values of
// datetimeFields arrive as epoch milliseconds and are formatted with
// DateTimeLayout. Only the timeout and poll interval of opts apply.
func (c *Client) BulkQuery(ctx context.Context, sobject, soql string, datetimeFields []string, opts BulkOptions) iter.Seq2[schema.Record, error] {
	return func(yield func(schema.Record, error) bool) {
		ctx, cancel := withTimeout(ctx, opts.Timeout)
		defer cancel()

		jobID, err := c.api.CreateJob(ctx, JobSpec{Object: sobject, Operation: OpQuery, Mode: Parallel})
		if err != nil {
			yield(nil, fmt.Errorf("create query job for %s: %w", sobject, err))
			return
		}
		batchID, err := c.api.AddQueryBatch(ctx, jobID, soql)
		if err != nil {
			yield(nil, fmt.Errorf("add query batch for %s: %w", sobject, err))
			return
		}
		if err := c.api.CloseJob(ctx, jobID); err != nil {
			yield(nil, fmt.Errorf("close job %s: %w", jobID, err))
			return
		}
		c.logger.Debug("bulk query submitted", "sobject", sobject, "job", jobID)

		if err := c.await(ctx, jobID, batchID, opts.PollInterval); err != nil {
			yield(nil, err)
			return
		}
		resultIDs, err := c.api.QueryResultIDs(ctx, jobID, batchID)
		if err != nil {
			yield(nil, fmt.Errorf("list query results of job %s: %w", jobID, err))
			return
		}
		datetimes := make(map[string]bool, len(datetimeFields))
		for _, f := range datetimeFields {
			datetimes[f] = true
		}
		for _, rid := range resultIDs {
			rows, err := c.api.QueryResult(ctx, jobID, batchID, rid)
			if err != nil {
				yield(nil, fmt.Errorf("fetch query result %s of job %s: %w", rid, jobID, err))
				return
			}
			for _, row := range rows {
				if !yield(normalize(row, datetimes), nil) {
					return
				}
			}
		}
	}
}

// BulkInsert inserts records and yields one result per record, in order.
func (c *Client) BulkInsert(ctx context.Context, sobject string, records []Payload, opts BulkOptions) iter.Seq2[Result, error] {
	return c.dml(ctx, OpInsert, sobject, records, opts)
}

// BulkUpdate updates records and yields one result per record, in order.
func (c *Client) BulkUpdate(ctx context.Context, sobject string, records []Payload, opts BulkOptions) iter.Seq2[Result, error] {
	return c.dml(ctx, OpUpdate, sobject, records, opts)
}

func (c *Client) dml(ctx context.Context, op Operation, sobject string, records []Payload, opts BulkOptions) iter.Seq2[Result, error] {
	return func(yield func(Result, error) bool) {
		if len(records) == 0 {
			return
		}
		ctx, cancel := withTimeout(ctx, opts.Timeout)
		defer cancel()
		mode := opts.Mode
		if mode == "" {
			mode = Parallel
		}
		jobID, err := c.api.CreateJob(ctx, JobSpec{Object: sobject, Operation: op, Mode: mode})
		if err != nil {
			yield(Result{}, fmt.Errorf("create %s job for %s: %w", op, sobject, err))
			return
		}

		type batch struct {
			id   string
			size int
		}
		size := opts.batchSize()
		var batches []batch
		for start := 0; start < len(records); start += size {
			end := min(start+size, len(records))
			id, err := c.api.AddBatch(ctx, jobID, records[start:end])
			if err != nil {
				yield(Result{}, fmt.Errorf("add batch to job %s: %w", jobID, err))
				return
			}
			batches = append(batches, batch{id: id, size: end - start})
		}
		if err := c.api.CloseJob(ctx, jobID); err != nil {
			yield(Result{}, fmt.Errorf("close job %s: %w", jobID, err))
			return
		}
		c.logger.Debug("bulk job submitted", "sobject", sobject, "operation", string(op),
			"job", jobID, "batches", len(batches), "records", len(records))

		for _, b := range batches {
			if err := c.await(ctx, jobID, b.id, opts.PollInterval); err != nil {
				yield(Result{}, err)
				return
			}
			results, err := c.api.BatchResults(ctx, jobID, b.id)
			if err != nil {
				yield(Result{}, fmt.Errorf("fetch results of batch %s: %w", b.id, err))
				return
			}
			if len(results) != b.size {
				yield(Result{}, fmt.Errorf("batch %s returned %d results for %d records", b.id, len(results), b.size))
				return
			}
			for _, r := range results {
				if !yield(r, nil) {
					return
				}
			}
		}
	}
}

// withTimeout bounds ctx by d. A zero d leaves it unbounded.
func withTimeout(ctx context.Context, d time.Duration) (context.Context, context.CancelFunc) {
	if d <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, d)
}

// await polls a batch until it reaches a terminal state, waiting at least
// MinPollInterval between polls.
func (c *Client) await(ctx context.Context, jobID, batchID string, poll time.Duration) error {
	poll = max(poll, MinPollInterval)
	for {
		info, err := c.api.BatchStatus(ctx, jobID, batchID)
		if err != nil {
			if errors.Is(err, context.DeadlineExceeded) {
				return fmt.Errorf("%w: job %s", ErrTimeout, jobID)
			}
			return fmt.Errorf("poll batch %s: %w", batchID, err)
		}
		switch info.State {
		case BatchCompleted:
			return nil
		case BatchFailed, BatchNotProcessed:
			return fmt.Errorf("%w: batch %s of job %s: %s", ErrBatchFailed, batchID, jobID, info.Message)
		}
		if err := c.sleep(ctx, poll); err != nil {
			if errors.Is(err, context.DeadlineExceeded) {
				return fmt.Errorf("%w: job %s", ErrTimeout, jobID)
			}
			return err
		}
	}
}

// RetrieveByID yields the records among ids that exist, fetching at most
// MaxRetrieveIDs per request.
func (c *Client) RetrieveByID(ctx context.Context, sobject string, ids []sfid.ID, fields []string) iter.Seq2[schema.Record, error] {
	return func(yield func(schema.Record, error) bool) {
		for start := 0; start < len(ids); start += MaxRetrieveIDs {
			end := min(start+MaxRetrieveIDs, len(ids))
			chunk := make([]string, 0, end-start)
			for _, id := range ids[start:end] {
				chunk = append(chunk, id.String())
			}
			rows, err := c.api.Retrieve(ctx, sobject, chunk, fields)
			if err != nil {
				yield(nil, fmt.Errorf("retrieve %s: %w", sobject, err))
				return
			}
			for _, row := range rows {
				if row == nil {
					continue
				}
				if !yield(normalize(row, nil), nil) {
					return
				}
			}
		}
	}
}

// QueryByReference yields records of sobject whose idField holds one of ids.
// The id list is split so that every WHERE clause stays under
// MaxWhereLength once the fixed part of the query is accounted for.
func (c *Client) QueryByReference(ctx context.Context, sobject string, fields []string, idField string, ids []sfid.ID) iter.Seq2[schema.Record, error] {
	return func(yield func(schema.Record, error) bool) {
		skeleton := fmt.Sprintf("SELECT %s FROM %s WHERE %s IN ()", strings.Join(fields, ", "), sobject, idField)
		for _, clause := range whereChunks(idField, ids, MaxWhereLength-len(skeleton)) {
			soql := fmt.Sprintf("SELECT %s FROM %s WHERE %s", strings.Join(fields, ", "), sobject, clause)
			for rec, err := range c.query(ctx, soql) {
				if !yield(rec, err) || err != nil {
					return
				}
			}
		}
	}
}

// whereChunks splits ids into "field IN ('a','b')" clauses no longer than
// limit, counting only the quoted id list.
func whereChunks(idField string, ids []sfid.ID, limit int) []string {
	var clauses []string
	var cur []string
	length := 0
	flush := func() {
		if len(cur) > 0 {
			clauses = append(clauses, fmt.Sprintf("%s IN (%s)", idField, strings.Join(cur, ",")))
			cur = nil
			length = 0
		}
	}
	for _, id := range ids {
		quoted := "'" + id.String() + "'"
		add := len(quoted)
		if len(cur) > 0 {
			add++
		}
		if len(cur) > 0 && length+add > limit {
			flush()
			add = len(quoted)
		}
		cur = append(cur, quoted)
		length += add
	}
	flush()
	return clauses
}

func (c *Client) query(ctx context.Context, soql string) iter.Seq2[schema.Record, error] {
	return func(yield func(schema.Record, error) bool) {
		page, err := c.api.Query(ctx, soql)
		for {
			if err != nil {
				yield(nil, fmt.Errorf("query: %w", err))
				return
			}
			for _, row := range page.Records {
				if !yield(normalize(row, nil), nil) {
					return
				}
			}
			if page.Done || page.NextRecordsURL == "" {
				return
			}
			page, err = c.api.QueryMore(ctx, page.NextRecordsURL)
		}
	}
}

// normalize converts a raw JSON row into a record. The attributes key is
// dropped and nested values are rendered as JSON.
func normalize(row map[string]any, datetimes map[string]bool) schema.Record {
	rec := make(schema.Record, len(row))
	for k, v := range row {
		if k == "attributes" {
			continue
		}
		if datetimes[k] {
			rec[k] = formatDateTime(v)
			continue
		}
		rec[k] = Stringify(v)
	}
	return rec
}

// Stringify renders a raw JSON value as a record string. nil becomes "".
func Stringify(v any) string {
	switch x := v.(type) {
	case nil:
		return ""
	case string:
		return x
	case bool:
		return strconv.FormatBool(x)
	case float64:
		return strconv.FormatFloat(x, 'f', -1, 64)
	case json.Number:
		return x.String()
	case int:
		return strconv.Itoa(x)
	case int64:
		return strconv.FormatInt(x, 10)
	default:
		b, err := json.Marshal(x)
		if err != nil {
			return fmt.Sprint(x)
		}
		return string(b)
	}
}

func formatDateTime(v any) string {
	var ms int64
	switch x := v.(type) {
	case nil:
		return ""
	case float64:
		ms = int64(x)
	case json.Number:
		n, err := x.Int64()
		if err != nil {
			return x.String()
		}
		ms = n
	case int64:
		ms = x
	case int:
		ms = int64(x)
	case string:
		n, err := strconv.ParseInt(x, 10, 64)
		if err != nil {
			return x
		}
		ms = n
	default:
		return Stringify(v)
	}
	return FormatEpochMillis(ms)
}

// FormatEpochMillis formats an epoch-millisecond timestamp in UTC.
func FormatEpochMillis(ms int64) string {
	return time.UnixMilli(ms).UTC().Format(DateTimeLayout)
}
