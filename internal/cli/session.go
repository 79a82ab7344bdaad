package cli

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/davidmreed/amaxa-sub000/internal/config"
	"github.com/davidmreed/amaxa-sub000/internal/connection"
	"github.com/davidmreed/amaxa-sub000/internal/engine"
	"github.com/davidmreed/amaxa-sub000/internal/filestore"
	"github.com/davidmreed/amaxa-sub000/internal/metrics"
	"github.com/davidmreed/amaxa-sub000/internal/salesforce"
)

// ConnectFunc opens a connection to the org the credentials describe.
type ConnectFunc func(ctx context.Context, creds config.Credentials, logger *slog.Logger) (engine.Connection, error)

// ConnectSalesforce connects through the REST and Bulk APIs.
func ConnectSalesforce(_ context.Context, creds config.Credentials, logger *slog.Logger) (engine.Connection, error) {
	var opts []salesforce.Option
	if creds.APIVersion != "" {
		opts = append(opts, salesforce.WithAPIVersion(creds.APIVersion))
	}
	api, err := salesforce.New(creds.InstanceURL, creds.AccessToken, opts...)
	if err != nil {
		return nil, err
	}
	return connection.NewClient(api, connection.WithLogger(logger)), nil
}

// RunSummary is the outcome of one extract or load.
type RunSummary struct {
	Operation string   `json:"operation"`
	RunID     string   `json:"run_id"`
	Errors    []string `json:"errors,omitempty"`
	StateFile string   `json:"state_file,omitempty"`
}

// Failed reports whether the run recorded any error.
func (s *RunSummary) Failed() bool {
	return len(s.Errors) > 0
}

func (s *RunSummary) String() string {
	if !s.Failed() {
		return fmt.Sprintf("✓ %s %s completed", s.Operation, s.RunID)
	}
	msg := fmt.Sprintf("✗ %s %s failed with %d error(s)", s.Operation, s.RunID, len(s.Errors))
	if s.StateFile != "" {
		msg += "; state saved to " + s.StateFile
	}
	return msg
}

// session is the setup shared by extract and load: documents read,
// connection open, logger and metrics ready.
type session struct {
	opts     *RootOptions
	out      *OutputFormatter
	logger   *slog.Logger
	path     string
	op       *config.Operation
	conn     engine.Connection
	recorder *metrics.Recorder
	started  time.Time
}

func newFormatter(opts *RootOptions, cmd *cobra.Command) *OutputFormatter {
	return &OutputFormatter{
		Format:    opts.Format,
		Writer:    cmd.OutOrStdout(),
		ErrWriter: cmd.ErrOrStderr(),
		Verbose:   opts.Verbose,
	}
}

func newLogger(opts *RootOptions, cmd *cobra.Command) *slog.Logger {
	level := slog.LevelInfo
	if opts.Verbose {
		level = slog.LevelDebug
	}
	return slog.New(slog.NewTextHandler(cmd.ErrOrStderr(), &slog.HandlerOptions{Level: level}))
}

// commandContext derives a context cancelled on SIGINT or SIGTERM.
func commandContext(cmd *cobra.Command) (context.Context, context.CancelFunc) {
	parent := cmd.Context()
	if parent == nil {
		parent = context.Background()
	}
	return signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
}

func openSession(ctx context.Context, opts *RootOptions, cmd *cobra.Command, path, credentialsPath string) (*session, error) {
	s := &session{
		opts:     opts,
		out:      newFormatter(opts, cmd),
		logger:   newLogger(opts, cmd),
		path:     path,
		recorder: metrics.NewRecorder(),
		started:  time.Now(),
	}

	op, err := config.ReadOperation(path)
	if err != nil {
		return nil, s.fail(ErrCodeConfiguration, WrapExitError(ExitCommandError, "invalid operation", err))
	}
	s.op = op
	s.out.VerboseLog("Read %d step(s) from %s", len(op.Steps), path)

	creds, err := config.ReadCredentials(credentialsPath)
	if err != nil {
		return nil, s.fail(ErrCodeConfiguration, WrapExitError(ExitCommandError, "invalid credentials", err))
	}
	if op.Options.APIVersion != "" {
		creds.APIVersion = op.Options.APIVersion
	}

	connect := opts.Connect
	if connect == nil {
		connect = ConnectSalesforce
	}
	conn, err := connect(ctx, creds, s.logger)
	if err != nil {
		return nil, s.fail(ErrCodeConfiguration, WrapExitError(ExitCommandError, "connect", err))
	}
	s.conn = conn
	return s, nil
}

// fail writes err to the command output and returns it.
func (s *session) fail(code string, err *ExitError) error {
	_ = s.out.Error(code, err.Error(), nil)
	return err
}

func (s *session) fileStore(ctx context.Context, appendResults bool) (*filestore.CSVStore, error) {
	backend, err := s.op.Backend(ctx, filepath.Dir(s.path))
	if err != nil {
		return nil, s.fail(ErrCodeConfiguration, WrapExitError(ExitCommandError, "open storage", err))
	}
	var opts []filestore.Option
	if appendResults {
		opts = append(opts, filestore.WithAppendResults())
	}
	return filestore.New(backend, s.op.Files(), opts...), nil
}

func (s *session) engineOptions() []engine.Option {
	opts := []engine.Option{
		engine.WithLogger(s.logger),
		engine.WithObserver(s.recorder),
	}
	if s.opts.RunIDs != nil {
		opts = append(opts, engine.WithRunIDGenerator(s.opts.RunIDs))
	}
	return opts
}

// summarize turns the result of Run into a summary. Recorded errors come
// from the *engine.RunError; setup failures are split out of their join.
func summarize(operation, runID string, runErr error) *RunSummary {
	s := &RunSummary{Operation: operation, RunID: runID}
	if runErr == nil {
		return s
	}
	var re *engine.RunError
	if errors.As(runErr, &re) {
		for _, e := range re.Errors {
			s.Errors = append(s.Errors, e.Error())
		}
		return s
	}
	if joined, ok := runErr.(interface{ Unwrap() []error }); ok {
		for _, e := range joined.Unwrap() {
			s.Errors = append(s.Errors, e.Error())
		}
		return s
	}
	s.Errors = []string{strings.TrimSpace(runErr.Error())}
	return s
}

// finish records the run duration, writes metrics when asked, and reports
// the summary. The returned error carries the exit code.
func (s *session) finish(summary *RunSummary, runErr error, metricsFile string) error {
	s.recorder.ObserveDuration(summary.Operation, time.Since(s.started))
	if metricsFile != "" {
		if err := s.recorder.WriteTextfile(metricsFile); err != nil {
			s.logger.Error("writing metrics failed", "path", metricsFile, "error", err)
			summary.Errors = append(summary.Errors, err.Error())
			if runErr == nil {
				runErr = err
			}
		}
	}
	if err := s.out.Report(summary); err != nil {
		return WrapExitError(ExitCommandError, "write output", err)
	}
	if runErr == nil {
		return nil
	}
	return classify(fmt.Sprintf("%s failed", summary.Operation), runErr)
}
