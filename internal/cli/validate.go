package cli

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"

	"github.com/spf13/cobra"

	"github.com/roach88/strata/internal/definition"
)

// ValidationResult holds validation results.
type ValidationResult struct {
	Valid       bool                         `json:"valid"`
	Collections []string                     `json:"collections,omitempty"`
	Errors      []definition.ValidationError `json:"errors,omitempty"`
}

// ValidateOptions holds flags for the validate command.
type ValidateOptions struct {
	Fixtures string
}

// NewValidateCommand creates the validate command.
func NewValidateCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ValidateOptions{}

	cmd := &cobra.Command{
		Use:   "validate <definition.cue>",
		Short: "Validate a definition without serving it",
		Long: `Validate a CUE datasource definition.

Checks the file against the definition schema, then checks that every
relation resolves to declared collections and columns. With --fixtures
the fixture file is checked against the definition too.`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runValidate(cmd, rootOpts, opts, args[0])
		},
	}

	cmd.Flags().StringVar(&opts.Fixtures, "fixtures", "", "YAML fixture file to check")
	return cmd
}

func runValidate(cmd *cobra.Command, rootOpts *RootOptions, opts *ValidateOptions, path string) error {
	formatter := newFormatter(rootOpts, cmd.OutOrStdout())
	logger := rootOpts.logger()

	def, err := definition.Load(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			_ = formatter.Error(ErrCodeNotFound, fmt.Sprintf("definition not found: %s", path), nil)
			return WrapExitError(ExitCommandError, ErrCodeNotFound, err)
		}
		return outputValidationErrors(formatter, []definition.ValidationError{compileFailure(err)})
	}
	logger.Debug("definition compiled", "path", path, "collections", len(def.Collections))

	problems := definition.Validate(def)
	if opts.Fixtures != "" && len(problems) == 0 {
		if _, err := definition.LoadFixtures(opts.Fixtures, def); err != nil {
			problems = append(problems, definition.ValidationError{
				Field:   "fixtures",
				Message: err.Error(),
				Code:    ErrCodeLoadFailed,
			})
		}
	}
	if len(problems) > 0 {
		return outputValidationErrors(formatter, problems)
	}

	if formatter.Format == "json" {
		return formatter.Success(ValidationResult{Valid: true, Collections: def.Names()})
	}
	fmt.Fprintf(formatter.Writer, "✓ Definition valid (%d collections)\n", len(def.Collections))
	return nil
}

// compileFailure converts a load error to a validation error, keeping the
// line when the error carries a position.
func compileFailure(err error) definition.ValidationError {
	out := definition.ValidationError{Field: "definition", Message: err.Error(), Code: definition.ErrCompile}
	var compileErr *definition.CompileError
	if errors.As(err, &compileErr) {
		out.Field = compileErr.Field
		out.Message = compileErr.Message
		if compileErr.Pos.IsValid() {
			out.Line = compileErr.Pos.Line()
		}
	}
	return out
}

// outputValidationErrors outputs multiple validation errors.
func outputValidationErrors(formatter *OutputFormatter, errs []definition.ValidationError) error {
	failure := NewExitError(ExitFailure, fmt.Sprintf("validation failed with %d error(s)", len(errs)))

	if formatter.Format == "json" {
		response := CLIResponse{
			Status: "error",
			Data:   ValidationResult{Valid: false, Errors: errs},
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
		return failure
	}

	fmt.Fprintln(formatter.Writer, "✗ Validation failed")
	fmt.Fprintln(formatter.Writer)
	for _, err := range errs {
		if err.Line > 0 {
			fmt.Fprintf(formatter.Writer, "line %d\n", err.Line)
		}
		fmt.Fprintf(formatter.Writer, "  %s: %s: %s\n\n", err.Code, err.Field, err.Message)
	}
	return failure
}
