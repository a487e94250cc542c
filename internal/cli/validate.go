package cli

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/roach88/diel/internal/compiler"
)

// ValidationResult holds validation results.
type ValidationResult struct {
	Valid     bool                       `json:"valid"`
	Relations int                        `json:"relations,omitempty"`
	Errors    []compiler.ValidationError `json:"errors,omitempty"`
}

// NewValidateCommand creates the validate command.
func NewValidateCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "validate [program]",
		Short: "Check a program without planning it",
		Long: `Check a DIEL program's declarations without planning it.

Reports every problem found: duplicate names, missing columns or
selections, constraints on unknown columns, reserved column names and
dependency cycles.`,
		Args:          cobra.MaximumNArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runValidate(rootOpts, args, cmd)
		},
	}

	return cmd
}

func runValidate(opts *RootOptions, args []string, cmd *cobra.Command) error {
	formatter := newFormatter(opts, cmd.OutOrStdout(), cmd.ErrOrStderr())

	cfg, err := loadConfig(opts)
	if err != nil {
		_ = formatter.Error(ErrCodeConfig, err.Error(), nil)
		return err
	}
	path, err := programPath(args, cfg)
	if err != nil {
		_ = formatter.Error(ErrCodeNotFound, err.Error(), nil)
		return err
	}

	ast, err := LoadProgram(path)
	if err != nil {
		// Program errors found while reading the CUE are validation
		// failures; missing files are command errors.
		var loadErr *LoadError
		if errors.As(err, &loadErr) && loadErr.Pos.IsValid() {
			_ = outputValidationErrors(formatter, []compiler.ValidationError{{
				Field:   fmt.Sprintf("%s:%d", loadErr.Pos.Filename(), loadErr.Pos.Line()),
				Message: loadErr.Message,
				Code:    loadErr.Code,
			}})
			return NewExitError(ExitFailure, "validation failed")
		}
		return outputLoadError(formatter, err)
	}
	formatter.VerboseLog("Validating %d relation(s) from %s", len(ast.Relations), path)

	if verrs := compiler.Validate(ast); len(verrs) > 0 {
		_ = outputValidationErrors(formatter, verrs)
		return NewExitError(ExitFailure, fmt.Sprintf("%d validation error(s)", len(verrs)))
	}

	if formatter.JSON() {
		return formatter.Success(ValidationResult{Valid: true, Relations: len(ast.Relations)})
	}
	fmt.Fprintf(formatter.Writer, "%s Program is valid (%d relation(s))\n", Pass("✓"), len(ast.Relations))
	return nil
}

// outputValidationErrors reports validation errors in the configured
// format.
func outputValidationErrors(formatter *OutputFormatter, errs []compiler.ValidationError) error {
	if formatter.JSON() {
		return formatter.Error("E100", fmt.Sprintf("%d validation error(s)", len(errs)), ValidationResult{Valid: false, Errors: errs})
	}
	fmt.Fprintf(formatter.Writer, "%s Validation failed with %d error(s):\n\n", Fail("✗"), len(errs))
	for _, e := range errs {
		fmt.Fprintf(formatter.Writer, "  [%s] %s: %s\n", e.Code, e.Field, e.Message)
	}
	return nil
}
