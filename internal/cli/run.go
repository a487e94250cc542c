package cli

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/roach88/diel/internal/engine"
	"github.com/roach88/diel/internal/querysql"
)

// RunOptions holds flags for the run command.
type RunOptions struct {
	*RootOptions
	Inputs   string   // JSON-lines file, "-" or empty for stdin
	Database string   // overrides local.path
	Watch    []string // outputs to print; all when empty
}

// InputLine is one line of the run command's input stream.
type InputLine struct {
	Event string          `json:"event"`
	Row   engine.Record   `json:"row,omitempty"`
	Rows  []engine.Record `json:"rows,omitempty"`
}

// OutputUpdate is one printed output refresh.
type OutputUpdate struct {
	Output   string           `json:"output"`
	Timestep int64            `json:"timestep"`
	Columns  []string         `json:"columns"`
	Rows     []map[string]any `json:"rows"`
}

// NewRunCommand creates the run command.
func NewRunCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &RunOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "run [program]",
		Short: "Run a program, reading inputs as JSON lines",
		Long: `Set up every engine for a DIEL program, then read inputs as JSON lines
and print each output whenever it changes.

Each line names an event table and one row or several:

  {"event": "clicks", "row": {"x": 1}}
  {"event": "clicks", "rows": [{"x": 2}, {"x": 3}]}

Example:
  diel run --config diel.yaml --inputs events.jsonl
  echo '{"event":"clicks","row":{"x":1}}' | diel run ./program.cue`,
		Args:          cobra.MaximumNArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runProgram(opts, args, cmd)
		},
	}

	cmd.Flags().StringVarP(&opts.Inputs, "inputs", "i", "", "JSON-lines input file (default stdin)")
	cmd.Flags().StringVar(&opts.Database, "db", "", "local SQLite database (default from config, else in memory)")
	cmd.Flags().StringSliceVar(&opts.Watch, "watch", nil, "outputs to print (default all)")

	return cmd
}

// openRuntime loads the configuration and program and sets up a runtime.
// The returned cleanup closes the runtime and the log file.
func openRuntime(ctx context.Context, opts *RootOptions, args []string, dbPath string, logOut io.Writer) (*engine.Runtime, *slog.Logger, func(), error) {
	cfg, err := loadConfig(opts)
	if err != nil {
		return nil, nil, nil, err
	}
	if dbPath != "" {
		cfg.Local.Path = dbPath
	}
	path, err := programPath(args, cfg)
	if err != nil {
		return nil, nil, nil, err
	}
	logger, logCloser, err := newLogger(opts, cfg, logOut)
	if err != nil {
		return nil, nil, nil, err
	}

	ast, err := LoadProgram(path)
	if err != nil {
		_ = logCloser.Close()
		return nil, nil, nil, WrapExitError(ExitCommandError, "failed to load program", err)
	}
	logger.Info("program loaded", "path", path, "relations", len(ast.Relations))

	rt, err := engine.New(cfg, ast, engine.WithLogger(logger))
	if err != nil {
		_ = logCloser.Close()
		return nil, nil, nil, WrapExitError(ExitCommandError, "invalid configuration", err)
	}
	cleanup := func() {
		if err := rt.Close(); err != nil {
			logger.Error("error closing runtime", "error", err)
		}
		_ = logCloser.Close()
	}
	if err := rt.Setup(ctx); err != nil {
		cleanup()
		return nil, nil, nil, WrapExitError(ExitFailure, "setup failed", err)
	}
	return rt, logger, cleanup, nil
}

func runProgram(opts *RunOptions, args []string, cmd *cobra.Command) error {
	formatter := newFormatter(opts.RootOptions, cmd.OutOrStdout(), cmd.ErrOrStderr())

	// Use command's context if available (for testing), otherwise create one
	parentCtx := cmd.Context()
	if parentCtx == nil {
		parentCtx = context.Background()
	}
	ctx, cancel := context.WithCancel(parentCtx)
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	rt, logger, cleanup, err := openRuntime(ctx, opts.RootOptions, args, opts.Database, cmd.ErrOrStderr())
	if err != nil {
		return err
	}
	defer cleanup()

	go func() {
		select {
		case sig := <-sigChan:
			logger.Info("received signal, shutting down", "signal", sig)
			cancel()
		case <-ctx.Done():
		}
	}()

	printer := &updatePrinter{formatter: formatter, rt: rt}
	watch := opts.Watch
	if len(watch) == 0 {
		watch = rt.Outputs()
	}
	for _, name := range watch {
		if err := rt.BindOutput(name, printer.print); err != nil {
			return WrapExitError(ExitCommandError, "cannot watch output", err)
		}
	}

	in, closeIn, err := openInputs(opts.Inputs, cmd.InOrStdin())
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to open inputs", err)
	}
	defer closeIn()

	n, err := feedInputs(ctx, rt, in, logger)
	rt.Wait()
	if err != nil && !errors.Is(err, context.Canceled) {
		return WrapExitError(ExitFailure, fmt.Sprintf("input %d", n+1), err)
	}
	formatter.VerboseLog("Processed %d input(s), last timestep %d", n, rt.Timestep())
	logger.Info("runtime stopped", "inputs", n, "timestep", rt.Timestep())
	return nil
}

func openInputs(path string, stdin io.Reader) (io.Reader, func(), error) {
	if path == "" || path == "-" {
		return stdin, func() {}, nil
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, nil, err
	}
	return f, func() { _ = f.Close() }, nil
}

// feedInputs applies every input line in order and returns how many
// were accepted. In non-strict runs a rejected input is logged and
// skipped by the runtime, so only strict failures stop the stream.
func feedInputs(ctx context.Context, rt *engine.Runtime, r io.Reader, logger *slog.Logger) (int, error) {
	dec := json.NewDecoder(r)
	n := 0
	for {
		if err := ctx.Err(); err != nil {
			return n, err
		}
		var line InputLine
		if err := dec.Decode(&line); err != nil {
			if errors.Is(err, io.EOF) {
				return n, nil
			}
			return n, fmt.Errorf("decode input: %w", err)
		}
		if line.Event == "" {
			return n, fmt.Errorf("input without event")
		}
		records := line.Rows
		if line.Row != nil {
			records = append([]engine.Record{line.Row}, records...)
		}
		if err := rt.NewInputMany(ctx, line.Event, records); err != nil {
			return n, err
		}
		logger.Debug("input accepted", "event", line.Event, "rows", len(records), "timestep", rt.Timestep())
		n++
	}
}

// updatePrinter prints output refreshes. Callbacks arrive from shipment
// workers, so writes are serialized.
type updatePrinter struct {
	mu        sync.Mutex
	formatter *OutputFormatter
	rt        *engine.Runtime
}

func (p *updatePrinter) print(output string, res *querysql.Result) {
	p.mu.Lock()
	defer p.mu.Unlock()

	ts := p.rt.Timestep()
	if p.formatter.JSON() {
		update := OutputUpdate{Output: output, Timestep: ts, Columns: res.Columns, Rows: resultRecords(res)}
		_ = json.NewEncoder(p.formatter.Writer).Encode(update)
		return
	}
	fmt.Fprintf(p.formatter.Writer, "%s\n", Heading(fmt.Sprintf("%s @ %d", output, ts)))
	p.formatter.ResultTable(res)
}

func resultRecords(res *querysql.Result) []map[string]any {
	out := make([]map[string]any, len(res.Rows))
	for i, row := range res.Rows {
		rec := make(map[string]any, len(res.Columns))
		for j, col := range res.Columns {
			v := row[j]
			if b, ok := v.([]byte); ok {
				v = string(b)
			}
			rec[col] = v
		}
		out[i] = rec
	}
	return out
}
