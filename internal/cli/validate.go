package cli

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/davidmreed/amaxa-sub000/internal/config"
)

// ValidationError is one problem found in a document.
type ValidationError struct {
	Document string `json:"document"`
	Code     string `json:"code"`
	Message  string `json:"message"`
}

// ValidationResult holds validation results.
type ValidationResult struct {
	Valid  bool              `json:"valid"`
	Steps  int               `json:"steps,omitempty"`
	Errors []ValidationError `json:"errors,omitempty"`
}

// ValidateOptions holds flags for the validate command.
type ValidateOptions struct {
	*RootOptions
	Credentials string
}

// NewValidateCommand creates the validate command.
func NewValidateCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ValidateOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "validate <operation.yml>",
		Short: "Validate documents without connecting",
		Long: `Validate an operation document, and optionally a credentials document,
without connecting to an org.

Checks the document schema, cross-field rules, and every transform and its
options. Field names are not checked against the org; extract and load do
that before any data moves.`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runValidate(opts, args[0], cmd)
		},
	}

	cmd.Flags().StringVarP(&opts.Credentials, "credentials", "c", "", "also validate this credentials document")

	return cmd
}

func runValidate(opts *ValidateOptions, path string, cmd *cobra.Command) error {
	formatter := newFormatter(opts.RootOptions, cmd)

	var result ValidationResult
	op, err := config.ReadOperation(path)
	if err != nil {
		result.Errors = append(result.Errors, validationErrors(path, err)...)
	} else {
		formatter.VerboseLog("Read %d step(s) from %s", len(op.Steps), path)
		result.Steps = len(op.Steps)
		if err := op.CheckTransforms(opts.registry()); err != nil {
			result.Errors = append(result.Errors, validationErrors(path, err)...)
		}
	}

	if opts.Credentials != "" {
		if _, err := config.ReadCredentials(opts.Credentials); err != nil {
			result.Errors = append(result.Errors, validationErrors(opts.Credentials, err)...)
		}
	}

	if len(result.Errors) > 0 {
		return outputValidationErrors(formatter, result)
	}
	result.Valid = true
	return outputValidateSuccess(formatter, result)
}

// validationErrors splits a joined error into one entry per problem.
func validationErrors(document string, err error) []ValidationError {
	errs := []error{err}
	if joined, ok := err.(interface{ Unwrap() []error }); ok {
		errs = joined.Unwrap()
	}
	out := make([]ValidationError, 0, len(errs))
	for _, e := range errs {
		out = append(out, ValidationError{Document: document, Code: ErrCodeConfiguration, Message: e.Error()})
	}
	return out
}

func outputValidateSuccess(formatter *OutputFormatter, result ValidationResult) error {
	if formatter.Format == "json" {
		return formatter.Success(result)
	}

	fmt.Fprintf(formatter.Writer, "✓ Operation valid (%d step(s))\n", result.Steps)
	return nil
}

// outputValidationErrors outputs every problem found.
func outputValidationErrors(formatter *OutputFormatter, result ValidationResult) error {
	errs := result.Errors
	if formatter.Format == "json" {
		response := CLIResponse{
			Status: "error",
			Data:   result,
			Error: &CLIError{
				Code:    errs[0].Code,
				Message: errs[0].Message,
			},
		}

		encoder := json.NewEncoder(formatter.Writer)
		encoder.SetIndent("", "  ")
		if err := encoder.Encode(response); err != nil {
			return err
		}
		return NewExitError(ExitCommandError, fmt.Sprintf("validation failed with %d error(s)", len(errs)))
	}

	fmt.Fprintln(formatter.Writer, "✗ Validation failed")
	fmt.Fprintln(formatter.Writer)

	for _, e := range errs {
		fmt.Fprintf(formatter.Writer, "%s\n  %s: %s\n\n", e.Document, e.Code, e.Message)
	}

	return NewExitError(ExitCommandError, fmt.Sprintf("validation failed with %d error(s)", len(errs)))
}
