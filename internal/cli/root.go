package cli

import (
	"errors"
	"fmt"
	"slices"

	"github.com/spf13/cobra"

	"github.com/davidmreed/amaxa-sub000/internal/engine"
	"github.com/davidmreed/amaxa-sub000/internal/transform"
)

// RootOptions holds global flags for all commands, plus the seams tests
// use to replace the org connection and run ids.
type RootOptions struct {
	Verbose bool
	Format  string // "json" | "text"

	// Connect opens the org connection. If nil, defaults to the REST and
	// Bulk API client.
	Connect ConnectFunc

	// RunIDs overrides the run id generator (for testing).
	// If nil, defaults to UUIDv7Generator.
	RunIDs engine.RunIDGenerator

	// Transforms is the transform registry. If nil, defaults to the
	// built-in transforms.
	Transforms *transform.Registry
}

// ValidFormats defines the allowed output formats.
var ValidFormats = []string{"text", "json"}

// NewRootCommand creates the root command for the amaxa CLI.
func NewRootCommand() *cobra.Command {
	return newRootCommand(&RootOptions{})
}

func newRootCommand(opts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "amaxa",
		Short: "amaxa - multi-object data loader for Salesforce",
		Long: `Extract and load networks of related Salesforce records.

An operation document lists object types in dependency order. Extraction
follows lookups between them to pull a consistent slice of an org into CSV
files; loading inserts those files into another org and rewrites every
lookup to the newly created ids.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if !isValidFormat(opts.Format) {
				return fmt.Errorf("invalid format %q: must be one of %v", opts.Format, ValidFormats)
			}
			return nil
		},
	}

	cmd.PersistentFlags().BoolVarP(&opts.Verbose, "verbose", "v", false, "verbose output")
	cmd.PersistentFlags().StringVar(&opts.Format, "format", "text", "output format (json|text)")

	cmd.AddCommand(NewExtractCommand(opts))
	cmd.AddCommand(NewLoadCommand(opts))
	cmd.AddCommand(NewValidateCommand(opts))

	return cmd
}

// Execute runs cmd and returns the process exit code. Commands report
// their own failures; errors raised by cobra itself, such as an unknown
// flag or a missing argument, are printed here as command errors.
func Execute(cmd *cobra.Command) int {
	err := cmd.Execute()
	if err == nil {
		return ExitSuccess
	}
	var exitErr *ExitError
	if errors.As(err, &exitErr) {
		return exitErr.Code
	}
	fmt.Fprintln(cmd.ErrOrStderr(), "Error:", err)
	return ExitCommandError
}

func isValidFormat(format string) bool {
	return slices.Contains(ValidFormats, format)
}

func (o *RootOptions) registry() *transform.Registry {
	if o.Transforms != nil {
		return o.Transforms
	}
	return transform.Default()
}
