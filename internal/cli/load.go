package cli

import (
	"context"

	"github.com/spf13/cobra"

	"github.com/davidmreed/amaxa-sub000/internal/engine"
	"github.com/davidmreed/amaxa-sub000/internal/state"
	"github.com/davidmreed/amaxa-sub000/internal/store"
)

// LoadOptions holds flags for the load command.
type LoadOptions struct {
	*RootOptions
	Credentials string
	State       string
	Journal     string
	MetricsFile string
}

// NewLoadCommand creates the load command.
func NewLoadCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &LoadOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "load <operation.yml>",
		Short: "Load CSV files into an org",
		Long: `Load the CSV files an operation describes into the org.

Records are inserted step by step with lookups rewritten to the new ids.
Lookups that point at records loaded later are patched in a second pass.
Each step writes a result file mapping original ids to new ids, or to the
error that stopped the record.

When a load fails its progress is saved next to the operation document as
<name>.state.yml. Pass that file to --state to resume without inserting
any record twice. With --journal every mapping is also recorded in a
SQLite database as it happens, which resumes even a load that was killed.

Example:
  amaxa load --credentials creds.yml accounts.yml
  amaxa load --credentials creds.yml --state accounts.state.yml accounts.yml
  amaxa load --credentials creds.yml --journal accounts.db accounts.yml`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runLoad(opts, args[0], cmd)
		},
	}

	cmd.Flags().StringVarP(&opts.Credentials, "credentials", "c", "", "path to the credentials document (required)")
	cmd.Flags().StringVar(&opts.State, "state", "", "resume from a saved state file")
	cmd.Flags().StringVar(&opts.Journal, "journal", "", "path to a SQLite id journal, created if missing")
	cmd.Flags().StringVar(&opts.MetricsFile, "metrics-file", "", "write Prometheus textfile metrics to this path")
	_ = cmd.MarkFlagRequired("credentials")

	return cmd
}

func runLoad(opts *LoadOptions, path string, cmd *cobra.Command) error {
	ctx, cancel := commandContext(cmd)
	defer cancel()

	s, err := openSession(ctx, opts.RootOptions, cmd, path, opts.Credentials)
	if err != nil {
		return err
	}
	engineOpts := s.engineOptions()

	var resume *engine.LoadState
	if opts.State != "" {
		st, err := state.Read(opts.State)
		if err != nil {
			return s.fail(ErrCodeConfiguration, WrapExitError(ExitCommandError, "read state", err))
		}
		resume = &st
	}

	if opts.Journal != "" {
		journal, err := store.Open(opts.Journal)
		if err != nil {
			return s.fail(ErrCodeNotFound, WrapExitError(ExitCommandError, "open journal", err))
		}
		defer func() {
			if closeErr := journal.Close(); closeErr != nil {
				s.logger.Error("error closing journal", "error", closeErr)
			}
		}()
		if resume == nil {
			st, err := journalState(ctx, journal)
			if err != nil {
				return s.fail(ErrCodeConfiguration, WrapExitError(ExitCommandError, "read journal", err))
			}
			resume = st
		}
		engineOpts = append(engineOpts, engine.WithJournal(journal))
	}

	if resume != nil {
		s.logger.Info("resuming load", "stage", resume.Stage.String(), "mapped", len(resume.IDMap))
		engineOpts = append(engineOpts, engine.WithLoadState(*resume))
	}

	steps, err := s.op.LoadSteps(ctx, opts.registry(), s.conn)
	if err != nil {
		return s.fail(ErrCodeConfiguration, classify("build steps", err))
	}
	files, err := s.fileStore(ctx, resume != nil)
	if err != nil {
		return err
	}
	ld, err := engine.NewLoadOperation(s.conn, files, steps, engineOpts...)
	if err != nil {
		_ = files.Close()
		return s.fail(ErrCodeConfiguration, classify("invalid operation", err))
	}

	s.logger.Info("loading", "path", path, "steps", len(steps), "run_id", ld.RunID())
	runErr := ld.Run(ctx)
	summary := summarize("load", ld.RunID(), runErr)
	if runErr != nil {
		statePath := state.PathFor(path)
		if err := state.Write(statePath, ld.State()); err != nil {
			s.logger.Error("saving load state failed", "path", statePath, "error", err)
			summary.Errors = append(summary.Errors, err.Error())
		} else {
			s.logger.Info("load state saved", "path", statePath)
			summary.StateFile = statePath
		}
	}
	return s.finish(summary, runErr, opts.MetricsFile)
}

// journalState returns the journal's state, or nil when the journal holds
// no progress.
func journalState(ctx context.Context, journal *store.Store) (*engine.LoadState, error) {
	st, err := journal.LoadState(ctx)
	if err != nil {
		return nil, err
	}
	if st.Stage == engine.StageInserts && len(st.IDMap) == 0 {
		return nil, nil
	}
	return &st, nil
}
