package harness

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"

	"github.com/roach88/diel/internal/compiler"
	"github.com/roach88/diel/internal/config"
	"github.com/roach88/diel/internal/engine"
	"github.com/roach88/diel/internal/ir"
	"github.com/roach88/diel/internal/querysql"
	"github.com/roach88/diel/internal/remote"
	"github.com/roach88/diel/internal/testutil"
)

// Harness is the test execution engine for one scenario.
type Harness struct {
	rt     *engine.Runtime
	logger *slog.Logger

	mu        sync.Mutex
	refreshes map[string]int
}

// Option configures Run.
type Option func(*options)

type options struct {
	logger *slog.Logger
}

// WithLogger routes runtime logs to l. Logs are discarded by default.
func WithLogger(l *slog.Logger) Option {
	return func(o *options) { o.logger = l }
}

// Run executes a test scenario and returns the result. An error means
// the scenario could not be run at all; failed expectations are
// reported in the result.
func Run(scenario *Scenario, opts ...Option) (*Result, error) {
	o := options{logger: slog.New(slog.NewTextHandler(io.Discard, nil))}
	for _, opt := range opts {
		opt(&o)
	}
	ctx := context.Background()

	program, err := loadProgram(scenario)
	if err != nil {
		return nil, err
	}

	cfg := config.Default()
	if scenario.Config != nil {
		cfg = *scenario.Config
	}
	cfg.Local.Path = ""

	clock := testutil.NewWallClock(testutil.Epoch, 1000)
	engineOpts := []engine.Option{engine.WithLogger(o.logger), engine.WithWallClock(clock.Now)}
	for i := 0; i < scenario.Workers; i++ {
		w, err := remote.OpenWorker("")
		if err != nil {
			return nil, fmt.Errorf("open worker %d: %w", i, err)
		}
		engineOpts = append(engineOpts, engine.WithRemote(w))
	}

	rt, err := engine.New(cfg, program, engineOpts...)
	if err != nil {
		return nil, err
	}
	defer rt.Close()
	if err := rt.Setup(ctx); err != nil {
		return nil, fmt.Errorf("failed to set up runtime: %w", err)
	}

	h := &Harness{rt: rt, logger: o.logger, refreshes: make(map[string]int)}
	for i, e := range scenario.Setup {
		if err := h.exec(ctx, e); err != nil {
			return nil, fmt.Errorf("setup[%d]: %w", i, err)
		}
	}
	for _, name := range rt.Outputs() {
		if err := h.bind(name); err != nil {
			return nil, err
		}
	}
	rt.Wait()

	result := NewResult()
	for i, step := range scenario.Steps {
		if err := h.runStep(ctx, i, step, result); err != nil {
			return nil, fmt.Errorf("steps[%d]: %w", i, err)
		}
	}

	for _, msg := range EvaluateAssertions(ctx, rt, scenario.Assertions) {
		result.AddError(msg)
	}
	h.mu.Lock()
	for k, v := range h.refreshes {
		result.Refreshes[k] = v
	}
	h.mu.Unlock()
	return result, nil
}

func loadProgram(s *Scenario) (*ir.Ast, error) {
	if s.Source != "" {
		return compiler.ParseProgram([]byte(s.Source), s.Name+".cue")
	}
	if s.Program == "" {
		return nil, fmt.Errorf("scenario %s has no program", s.Name)
	}
	return compiler.LoadProgram(s.Program)
}

func (h *Harness) bind(name string) error {
	return h.rt.BindOutput(name, func(output string, _ *querysql.Result) {
		h.mu.Lock()
		h.refreshes[output]++
		h.mu.Unlock()
	})
}

// runStep performs one step, drains shipments, records the trace event
// and checks the step's expectations.
func (h *Harness) runStep(ctx context.Context, i int, step Step, result *Result) error {
	event := TraceEvent{Step: i}
	var stepErr error
	switch {
	case step.Input != "":
		event.Type, event.Target = EventInput, step.Input
		stepErr = h.rt.NewInputMany(ctx, step.Input, stepRecords(step))
	case step.Exec != nil:
		event.Type, event.Target = EventExec, fmt.Sprintf("engine %d", engineID(step.Exec.Engine))
		stepErr = h.exec(ctx, *step.Exec)
	case step.AddOutput != nil:
		event.Type, event.Target = EventAddOutput, step.AddOutput.Name
		stepErr = h.rt.AddOutput(ctx, step.AddOutput.Name, step.AddOutput.SQL)
		if stepErr == nil {
			stepErr = h.bind(step.AddOutput.Name)
		}
	default:
		return fmt.Errorf("no action")
	}
	h.rt.Wait()
	event.Timestep = h.rt.Timestep()

	switch {
	case stepErr != nil && step.Error == "":
		result.AddError(fmt.Sprintf("step %d (%s %s): unexpected error: %v", i, event.Type, event.Target, stepErr))
		event.Error = stepErr.Error()
	case stepErr != nil:
		event.Error = stepErr.Error()
		if !strings.Contains(stepErr.Error(), step.Error) {
			result.AddError(fmt.Sprintf("step %d: error %q does not contain %q", i, stepErr, step.Error))
		}
	case step.Error != "":
		result.AddError(fmt.Sprintf("step %d: expected an error containing %q", i, step.Error))
	}

	snapshot, err := h.snapshot(ctx)
	if err != nil {
		return err
	}
	event.Outputs = snapshot
	result.Trace = append(result.Trace, event)

	for _, name := range sortedKeys(step.Expect) {
		got, ok := snapshot[ir.Canonical(name)]
		if !ok {
			result.AddError(fmt.Sprintf("step %d: output %q is not defined", i, name))
			continue
		}
		if err := matchRows(got, step.Expect[name]); err != nil {
			result.AddError(fmt.Sprintf("step %d: output %s: %v", i, name, err))
		}
	}
	return nil
}

func stepRecords(step Step) []engine.Record {
	if step.Row != nil {
		return []engine.Record{step.Row}
	}
	records := make([]engine.Record, len(step.Rows))
	for i, r := range step.Rows {
		records[i] = r
	}
	return records
}

// snapshot reads every output, rows in a stable order.
func (h *Harness) snapshot(ctx context.Context) (map[string][]map[string]any, error) {
	out := make(map[string][]map[string]any)
	for _, name := range h.rt.Outputs() {
		res, err := h.rt.Output(ctx, name)
		if err != nil {
			return nil, fmt.Errorf("read output %s: %w", name, err)
		}
		out[name] = sortedRecords(res)
	}
	return out, nil
}

func engineID(n int) ir.DbID {
	if n <= int(ir.LocalDbID) {
		return ir.LocalDbID
	}
	return ir.DbID(n)
}

// exec runs SQL on one engine, in order with its shipments.
func (h *Harness) exec(ctx context.Context, e Exec) error {
	id := engineID(e.Engine)
	if id == ir.LocalDbID {
		return h.rt.Store().Exec(ctx, e.SQL)
	}
	conn, ok := h.rt.Remote(id)
	if !ok {
		return fmt.Errorf("engine %d is not connected", id)
	}
	return conn.InOrder(func() error {
		return conn.Remote().Exec(ctx, e.SQL)
	})
}

// query reads table from one engine.
func query(ctx context.Context, rt *engine.Runtime, engineNum int, table string) (*querysql.Result, error) {
	q := "SELECT * FROM " + table
	id := engineID(engineNum)
	if id == ir.LocalDbID {
		return rt.Store().Query(ctx, q)
	}
	conn, ok := rt.Remote(id)
	if !ok {
		return nil, fmt.Errorf("engine %d is not connected", id)
	}
	var res *querysql.Result
	err := conn.InOrder(func() error {
		var err error
		res, err = conn.Remote().Query(ctx, q)
		return err
	})
	return res, err
}
