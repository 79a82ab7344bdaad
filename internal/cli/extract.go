package cli

import (
	"github.com/spf13/cobra"

	"github.com/davidmreed/amaxa-sub000/internal/engine"
)

// ExtractOptions holds flags for the extract command.
type ExtractOptions struct {
	*RootOptions
	Credentials string
	MetricsFile string
}

// NewExtractCommand creates the extract command.
func NewExtractCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ExtractOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "extract <operation.yml>",
		Short: "Extract records from an org into CSV files",
		Long: `Extract the records an operation describes from the org.

Each step writes one CSV file, named after its object type unless the step
sets file. Lookups to object types later in the operation are followed so
that every referenced record is extracted too.

Example:
  amaxa extract --credentials creds.yml accounts.yml
  amaxa extract --credentials creds.yml --metrics-file amaxa.prom accounts.yml`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runExtract(opts, args[0], cmd)
		},
	}

	cmd.Flags().StringVarP(&opts.Credentials, "credentials", "c", "", "path to the credentials document (required)")
	cmd.Flags().StringVar(&opts.MetricsFile, "metrics-file", "", "write Prometheus textfile metrics to this path")
	_ = cmd.MarkFlagRequired("credentials")

	return cmd
}

func runExtract(opts *ExtractOptions, path string, cmd *cobra.Command) error {
	ctx, cancel := commandContext(cmd)
	defer cancel()

	s, err := openSession(ctx, opts.RootOptions, cmd, path, opts.Credentials)
	if err != nil {
		return err
	}

	steps, err := s.op.ExtractSteps(ctx, opts.registry(), s.conn)
	if err != nil {
		return s.fail(ErrCodeConfiguration, classify("build steps", err))
	}
	files, err := s.fileStore(ctx, false)
	if err != nil {
		return err
	}
	ex, err := engine.NewExtractOperation(s.conn, files, steps, s.engineOptions()...)
	if err != nil {
		_ = files.Close()
		return s.fail(ErrCodeConfiguration, classify("invalid operation", err))
	}

	s.logger.Info("extracting", "path", path, "steps", len(steps), "run_id", ex.RunID())
	runErr := ex.Run(ctx)
	return s.finish(summarize("extract", ex.RunID(), runErr), runErr, opts.MetricsFile)
}
