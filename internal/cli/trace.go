package cli

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/roach88/diel/internal/ir"
	"github.com/roach88/diel/internal/store"
)

// TraceOptions holds flags for the trace command.
type TraceOptions struct {
	*RootOptions
	Database string
	Event    string // optional - filter to one event table
	Since    int64  // first timestep shown
}

// TraceResult holds the ledger view.
type TraceResult struct {
	Entries []store.LedgerEntry `json:"entries"`
	Stats   TraceStats          `json:"stats"`
}

// TraceStats holds summary statistics for the ledger.
type TraceStats struct {
	Inputs       int            `json:"inputs"`
	LastTimestep int64          `json:"last_timestep"`
	PerEvent     map[string]int `json:"per_event"`
}

// NewTraceCommand creates the trace command.
func NewTraceCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &TraceOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "trace",
		Short: "Show the input ledger of a local database",
		Long: `Show the ledger of a local database: every accepted input with its
timestep, event table, wall-clock time and the timestep of the request
it answers.

Examples:
  diel trace --db ./diel.db
  diel trace --db ./diel.db --event clicks --since 10
  diel trace --db ./diel.db --format json`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runTrace(opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Database, "db", "", "local SQLite database (default local.path from config)")
	cmd.Flags().StringVar(&opts.Event, "event", "", "only show inputs to this event table")
	cmd.Flags().Int64Var(&opts.Since, "since", 0, "only show inputs from this timestep on")

	return cmd
}

func runTrace(opts *TraceOptions, cmd *cobra.Command) error {
	formatter := newFormatter(opts.RootOptions, cmd.OutOrStdout(), cmd.ErrOrStderr())

	path := opts.Database
	if path == "" {
		cfg, err := loadConfig(opts.RootOptions)
		if err != nil {
			return err
		}
		path = cfg.Local.Path
	}
	if path == "" {
		_ = formatter.Error(ErrCodeNotFound, "no database given: pass --db or set local.path", nil)
		return NewExitError(ExitCommandError, "no database given")
	}

	st, err := store.Open(path)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to open database", err)
	}
	defer st.Close()

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	result, err := buildTrace(ctx, st, opts.Event, opts.Since)
	if err != nil {
		return WrapExitError(ExitFailure, "failed to read ledger", err)
	}

	if formatter.JSON() {
		return formatter.Success(result)
	}
	return outputTraceText(formatter, result)
}

func buildTrace(ctx context.Context, st *store.Store, event string, since int64) (TraceResult, error) {
	entries, err := st.Inputs(ctx)
	if err != nil {
		return TraceResult{}, err
	}
	result := TraceResult{
		Entries: []store.LedgerEntry{},
		Stats:   TraceStats{PerEvent: make(map[string]int)},
	}
	for _, e := range entries {
		if e.Timestep < since || (event != "" && !ir.SameName(e.Relation, event)) {
			continue
		}
		result.Entries = append(result.Entries, e)
		result.Stats.PerEvent[e.Relation]++
		result.Stats.LastTimestep = max(result.Stats.LastTimestep, e.Timestep)
	}
	result.Stats.Inputs = len(result.Entries)
	return result, nil
}

func outputTraceText(formatter *OutputFormatter, result TraceResult) error {
	w := formatter.Writer
	if len(result.Entries) == 0 {
		fmt.Fprintln(w, "No inputs recorded.")
		return nil
	}

	rows := make([][]string, len(result.Entries))
	for i, e := range result.Entries {
		req := ""
		if e.RequestTimestep != 0 {
			req = strconv.FormatInt(e.RequestTimestep, 10)
		}
		rows[i] = []string{
			strconv.FormatInt(e.Timestep, 10),
			e.Relation,
			time.UnixMilli(e.Timestamp).UTC().Format(time.RFC3339Nano),
			req,
		}
	}
	formatter.Table([]string{"timestep", "event", "time", "request"}, rows)

	fmt.Fprintln(w)
	fmt.Fprintf(w, "%d input(s), last timestep %d\n", result.Stats.Inputs, result.Stats.LastTimestep)
	for _, name := range sortedMapKeys(result.Stats.PerEvent) {
		fmt.Fprintf(w, "  %s: %d\n", name, result.Stats.PerEvent[name])
	}
	return nil
}
