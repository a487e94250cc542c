package cli

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/roach88/diel/internal/compiler"
	"github.com/roach88/diel/internal/config"
	"github.com/roach88/diel/internal/ir"
	"github.com/roach88/diel/internal/querysql"
	"github.com/roach88/diel/internal/report"
)

// CompileOptions holds flags for the compile command.
type CompileOptions struct {
	*RootOptions
	Output string // plan file path
}

// CompilationStats holds summary statistics.
type CompilationStats struct {
	RelationCount  int
	OutputCount    int
	EngineCount    int
	ShipmentCount  int
	StatementCount int
}

// NewCompileCommand creates the compile command.
func NewCompileCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &CompileOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "compile [program]",
		Short: "Compile a DIEL program to per-engine SQL",
		Long: `Compile a DIEL program into the statements every engine executes at
setup: tables, views, triggers and outputs, plus the shipping plan.

Remote engines are taken from the configuration file, numbered from 2
in the order listed.`,
		Args:          cobra.MaximumNArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runCompile(opts, args, cmd)
		},
	}

	cmd.Flags().StringVarP(&opts.Output, "output", "o", "", "write the plan as JSON to this file")

	return cmd
}

func runCompile(opts *CompileOptions, args []string, cmd *cobra.Command) error {
	formatter := newFormatter(opts.RootOptions, cmd.OutOrStdout(), cmd.ErrOrStderr())

	plan, err := buildPlan(cmd.Context(), opts.RootOptions, args, formatter)
	if err != nil {
		return err
	}

	if opts.Output != "" {
		if err := writePlanToFile(plan, opts.Output); err != nil {
			_ = formatter.Error(ErrCodeWriteFailed, fmt.Sprintf("writing output file: %v", err), nil)
			return WrapExitError(ExitCommandError, "write failed", err)
		}
		formatter.VerboseLog("Wrote plan to %s", opts.Output)
	}

	return outputCompileSuccess(formatter, plan, calculateStats(plan))
}

// buildPlan loads the configuration and program and compiles it, reporting
// failures through formatter.
func buildPlan(ctx context.Context, opts *RootOptions, args []string, formatter *OutputFormatter) (*compiler.Plan, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	cfg, err := loadConfig(opts)
	if err != nil {
		_ = formatter.Error(ErrCodeConfig, err.Error(), nil)
		return nil, err
	}
	path, err := programPath(args, cfg)
	if err != nil {
		_ = formatter.Error(ErrCodeNotFound, err.Error(), nil)
		return nil, err
	}

	formatter.VerboseLog("Loading program %s", path)
	ast, err := LoadProgram(path)
	if err != nil {
		return nil, outputLoadError(formatter, err)
	}
	formatter.VerboseLog("Loaded %d relation(s)", len(ast.Relations))

	if verrs := compiler.Validate(ast); len(verrs) > 0 {
		_ = outputValidationErrors(formatter, verrs)
		return nil, NewExitError(ExitFailure, fmt.Sprintf("%d validation error(s)", len(verrs)))
	}

	copts, err := compileOptions(cfg, formatter.GetErrWriter(), opts.Verbose)
	if err != nil {
		_ = formatter.Error(ErrCodeConfig, err.Error(), nil)
		return nil, WrapExitError(ExitCommandError, "invalid configuration", err)
	}
	plan, err := compiler.Compile(ctx, ast, copts)
	if err != nil {
		_ = formatter.Error(ErrCodeCompile, err.Error(), nil)
		return nil, WrapExitError(ExitFailure, "compilation failed", err)
	}
	return plan, nil
}

// compileOptions derives compiler options from the configuration without
// connecting to any engine.
func compileOptions(cfg config.Config, logOut io.Writer, verbose bool) (compiler.Options, error) {
	policy, err := compiler.OwnerPolicyByName(cfg.OwnerPolicy)
	if err != nil {
		return compiler.Options{}, err
	}
	level := slog.LevelWarn
	if verbose {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(logOut, &slog.HandlerOptions{Level: level}))

	dialects := make(map[ir.DbID]querysql.Dialect, len(cfg.Remotes))
	for i, spec := range cfg.Remotes {
		dialects[ir.DbID(i+2)] = spec.Dialect()
	}
	return compiler.Options{
		Reporter:               report.New(true, logger),
		Policy:                 policy,
		Dialects:               dialects,
		DisableMaterialization: cfg.Materialization.Disabled,
		IncrementalScope:       cfg.Materialization.IncrementalScope,
		DisableAsync:           cfg.Materialization.DisableAsync,
		CheckConstraints:       cfg.CheckConstraints,
	}, nil
}

// calculateStats computes summary statistics from a plan.
func calculateStats(plan *compiler.Plan) CompilationStats {
	stats := CompilationStats{
		RelationCount: len(plan.Ast.Relations),
		OutputCount:   len(plan.Outputs()),
		EngineCount:   len(plan.Engines),
	}
	for _, ds := range plan.Distributions {
		for _, d := range ds {
			if d.IsCrossEngine() {
				stats.ShipmentCount++
			}
		}
	}
	for _, e := range plan.Engines {
		stats.StatementCount += len(e.Statements)
	}
	return stats
}

func outputCompileSuccess(formatter *OutputFormatter, plan *compiler.Plan, stats CompilationStats) error {
	if formatter.JSON() {
		return formatter.Success(plan)
	}

	w := formatter.Writer
	fmt.Fprintf(w, "%s Compiled %d relation(s), %d output(s) across %d engine(s)\n\n",
		Pass("✓"), stats.RelationCount, stats.OutputCount, stats.EngineCount)

	for _, e := range plan.Engines {
		fmt.Fprintf(w, "%s\n", Heading(fmt.Sprintf("Engine %d (%s):", e.ID, e.Dialect)))
		for _, stmt := range e.Statements {
			fmt.Fprintf(w, "  %s;\n", stmt)
		}
		fmt.Fprintln(w)
	}
	if len(plan.AsyncOutputs) > 0 {
		fmt.Fprintf(w, "Async outputs: %v\n", plan.AsyncOutputs)
	}
	fmt.Fprintf(w, "%d statement(s), %d shipment(s)\n", stats.StatementCount, stats.ShipmentCount)
	return nil
}

// outputLoadError reports a load failure and returns the matching exit
// error.
func outputLoadError(formatter *OutputFormatter, err error) error {
	var loadErr *LoadError
	if !errors.As(err, &loadErr) {
		loadErr = &LoadError{Code: ErrCodeGeneric, Message: err.Error()}
	}
	var details any
	if loadErr.Pos.IsValid() {
		details = map[string]any{
			"file":   loadErr.Pos.Filename(),
			"line":   loadErr.Pos.Line(),
			"column": loadErr.Pos.Column(),
		}
	}
	_ = formatter.Error(loadErr.Code, loadErr.Message, details)
	return WrapExitError(ExitCommandError, "failed to load program", loadErr)
}

// writePlanToFile writes the plan to a file as indented JSON.
func writePlanToFile(plan *compiler.Plan, path string) error {
	data, err := json.MarshalIndent(plan, "", "  ")
	if err != nil {
		return fmt.Errorf("marshaling plan: %w", err)
	}
	return os.WriteFile(path, append(data, '\n'), 0o644)
}
