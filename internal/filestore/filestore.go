// Package filestore provides the record streams an operation reads from and
// writes to.
//
// Each object type has three logical channels: input (records to load),
// output (extracted records) and result (per-record load outcomes). Records
// are serialized as CSV with a header row. Where the bytes live is decided
// by a Backend: a local directory, process memory, or an S3 bucket.
package filestore

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"iter"
	"sync"

	"github.com/davidmreed/amaxa-sub000/internal/schema"
)

// Channel identifies one of the record streams of an object type.
type Channel int

const (
	Input Channel = iota + 1
	Output
	Result
)

func (c Channel) String() string {
	switch c {
	case Input:
		return "input"
	case Output:
		return "output"
	case Result:
		return "result"
	default:
		return fmt.Sprintf("channel(%d)", int(c))
	}
}

// Files names the data and result files of one object type. Input and
// output channels both use Data; which one applies depends on the operation.
type Files struct {
	Data   string
	Result string
}

// Reader iterates over the records of an input file.
type Reader interface {
	// Header returns the column names in file order.
	Header() []string
	// Records yields each row keyed by column name.
	Records() iter.Seq2[schema.Record, error]
}

// Writer appends records to an output or result file.
type Writer interface {
	// Write emits r's values in header order. Keys not in the header are
	// ignored; missing keys are written as empty.
	Write(r schema.Record) error
}

// FileStore is the engine-facing view of the record files.
type FileStore interface {
	Reader(ctx context.Context, sobject string) (Reader, error)
	Writer(ctx context.Context, sobject string, ch Channel, header []string) (Writer, error)
	Close() error
}

// Backend opens named byte streams.
type Backend interface {
	OpenRead(ctx context.Context, name string) (io.ReadCloser, error)
	// OpenWrite truncates name unless appending. The returned bool reports
	// whether the stream already held data, in which case no header is written.
	OpenWrite(ctx context.Context, name string, appending bool) (io.WriteCloser, bool, error)
}

// Option configures a CSVStore.
type Option func(*CSVStore)

// WithAppendResults makes result files open in append mode, without
// rewriting the header if the file already has content. Used when resuming
// a load.
func WithAppendResults() Option {
	return func(s *CSVStore) {
		s.appendResults = true
	}
}

// CSVStore implements FileStore over a Backend.
type CSVStore struct {
	backend       Backend
	files         map[string]Files
	appendResults bool

	mu      sync.Mutex
	writers map[writerKey]*csvWriter
	closers []io.Closer
	closed  bool
}

type writerKey struct {
	sobject string
	ch      Channel
}

// New creates a CSV file store over backend. files maps object names to
// their file names.
func New(backend Backend, files map[string]Files, opts ...Option) *CSVStore {
	s := &CSVStore{
		backend: backend,
		files:   make(map[string]Files, len(files)),
		writers: make(map[writerKey]*csvWriter),
	}
	for k, v := range files {
		s.files[k] = v
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *CSVStore) name(sobject string, ch Channel) (string, error) {
	f, ok := s.files[sobject]
	if !ok {
		return "", fmt.Errorf("no files configured for %s", sobject)
	}
	name := f.Data
	if ch == Result {
		name = f.Result
	}
	if name == "" {
		return "", fmt.Errorf("no %s file configured for %s", ch, sobject)
	}
	return name, nil
}

// Reader opens a fresh reader over sobject's input file. Each call starts
// from the beginning of the file.
func (s *CSVStore) Reader(ctx context.Context, sobject string) (Reader, error) {
	name, err := s.name(sobject, Input)
	if err != nil {
		return nil, err
	}
	rc, err := s.backend.OpenRead(ctx, name)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", name, err)
	}
	s.track(rc)

	cr := csv.NewReader(rc)
	cr.ReuseRecord = false
	header, err := cr.Read()
	if errors.Is(err, io.EOF) {
		return &csvReader{name: name}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read header of %s: %w", name, err)
	}
	return &csvReader{name: name, header: header, r: cr}, nil
}

// Writer returns the writer for sobject's channel, opening it on first use.
// Later calls return the same writer and ignore header.
func (s *CSVStore) Writer(ctx context.Context, sobject string, ch Channel, header []string) (Writer, error) {
	if ch == Input {
		return nil, fmt.Errorf("cannot write to the input channel")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, fmt.Errorf("file store closed")
	}
	key := writerKey{sobject: sobject, ch: ch}
	if w, ok := s.writers[key]; ok {
		return w, nil
	}

	name, err := s.name(sobject, ch)
	if err != nil {
		return nil, err
	}
	appending := ch == Result && s.appendResults
	wc, hasData, err := s.backend.OpenWrite(ctx, name, appending)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", name, err)
	}
	w := &csvWriter{header: append([]string(nil), header...), cw: csv.NewWriter(wc), wc: wc}
	if !hasData {
		if err := w.cw.Write(w.header); err != nil {
			_ = wc.Close()
			return nil, fmt.Errorf("write header of %s: %w", name, err)
		}
	}
	s.writers[key] = w
	s.closers = append(s.closers, w)
	return w, nil
}

func (s *CSVStore) track(c io.Closer) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closers = append(s.closers, c)
}

// Close flushes every writer and releases all handles. Safe to call more
// than once.
func (s *CSVStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	var errs []error
	for _, c := range s.closers {
		if err := c.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	s.closers = nil
	return errors.Join(errs...)
}

type csvReader struct {
	name   string
	header []string
	r      *csv.Reader
}

func (r *csvReader) Header() []string {
	return append([]string(nil), r.header...)
}

func (r *csvReader) Records() iter.Seq2[schema.Record, error] {
	return func(yield func(schema.Record, error) bool) {
		if r.r == nil {
			return
		}
		for {
			row, err := r.r.Read()
			if errors.Is(err, io.EOF) {
				return
			}
			if err != nil {
				yield(nil, fmt.Errorf("read %s: %w", r.name, err))
				return
			}
			rec := make(schema.Record, len(r.header))
			for i, col := range r.header {
				if i < len(row) {
					rec[col] = row[i]
				}
			}
			if !yield(rec, nil) {
				return
			}
		}
	}
}

type csvWriter struct {
	header []string
	cw     *csv.Writer
	wc     io.WriteCloser
	row    []string
}

func (w *csvWriter) Write(r schema.Record) error {
	if w.row == nil {
		w.row = make([]string, len(w.header))
	}
	for i, col := range w.header {
		w.row[i] = r[col]
	}
	return w.cw.Write(w.row)
}

func (w *csvWriter) Close() error {
	w.cw.Flush()
	if err := w.cw.Error(); err != nil {
		_ = w.wc.Close()
		return err
	}
	return w.wc.Close()
}
