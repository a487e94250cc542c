package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"slices"
	"sync"

	"github.com/panjf2000/ants/v2"

	"github.com/roach88/diel/internal/compiler"
	"github.com/roach88/diel/internal/config"
	"github.com/roach88/diel/internal/ir"
	"github.com/roach88/diel/internal/querysql"
	"github.com/roach88/diel/internal/remote"
	"github.com/roach88/diel/internal/report"
	"github.com/roach88/diel/internal/store"
)

// InitTimestep is the request timestep of setup messages and of the
// priming shipments sent when an output is bound.
const InitTimestep int64 = 1

// OutputFunc receives the current rows of a bound output. It is called
// after every input that can change the output, and whenever rows the
// output depends on arrive from a remote engine, possibly from a
// shipment goroutine.
type OutputFunc func(output string, rows *querysql.Result)

// Runtime is the physical execution coordinator.
//
// Thread-safety model:
//   - NewInput, NewInputMany, AddOutput and AddView are serialized.
//   - BindOutput and the read accessors are safe from any goroutine.
//   - Shipments run on the pool; the local store is single-connection,
//     so their writes interleave with inputs at statement granularity.
type Runtime struct {
	cfg      config.Config
	program  *ir.Ast
	logger   *slog.Logger
	reporter *report.Reporter
	policy   compiler.OwnerPolicy
	extra    []remote.Remote

	pool   *ants.Pool
	tasks  sync.WaitGroup
	ctx    context.Context // cancelled by Close; shipments run under it
	cancel context.CancelFunc

	store *store.Store
	clock *Clock
	now   func() int64 // ledger wall-clock stamp, unix milliseconds
	conns map[ir.DbID]*remote.Conn
	ids   []ir.DbID // remote ids in order

	inputMu sync.Mutex // serializes inputs and incremental compiles

	mu         sync.Mutex
	plan       *compiler.Plan
	callbacks  map[string]OutputFunc
	stmts      map[string]*store.Stmt
	staticSent map[compiler.ShipTarget]bool
	closed     bool
}

// Option configures a Runtime.
type Option func(*Runtime)

// WithLogger sets the logger. The default is slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(rt *Runtime) { rt.logger = l }
}

// WithWallClock replaces the wall clock that stamps ledger entries.
func WithWallClock(now func() int64) Option {
	return func(rt *Runtime) { rt.now = now }
}

// WithRemote adds an already connected engine after the configured
// ones. The runtime takes ownership and closes it.
func WithRemote(r remote.Remote) Option {
	return func(rt *Runtime) { rt.extra = append(rt.extra, r) }
}

// New creates a runtime for program. Nothing is opened until Setup.
func New(cfg config.Config, program *ir.Ast, opts ...Option) (*Runtime, error) {
	if program == nil {
		return nil, report.ErrArgNull.New("program")
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	policy, err := compiler.OwnerPolicyByName(cfg.OwnerPolicy)
	if err != nil {
		return nil, err
	}

	rt := &Runtime{
		cfg:        cfg,
		program:    program,
		logger:     slog.Default(),
		policy:     policy,
		clock:      NewClock(),
		now:        ir.NowMillis,
		conns:      make(map[ir.DbID]*remote.Conn),
		callbacks:  make(map[string]OutputFunc),
		stmts:      make(map[string]*store.Stmt),
		staticSent: make(map[compiler.ShipTarget]bool),
	}
	for _, opt := range opts {
		opt(rt)
	}
	rt.reporter = report.New(cfg.Strict, rt.logger)

	rt.pool, err = ants.NewPool(cfg.ShipWorkers, ants.WithPanicHandler(func(v any) {
		rt.logger.Error("shipment panicked", "panic", v)
	}))
	if err != nil {
		return nil, fmt.Errorf("shipment pool: %w", err)
	}
	rt.ctx, rt.cancel = context.WithCancel(context.Background())
	return rt, nil
}

// Setup opens every engine, compiles the program against what the
// engines already hold, and executes the definitions.
func (rt *Runtime) Setup(ctx context.Context) error {
	rt.mu.Lock()
	switch {
	case rt.closed:
		rt.mu.Unlock()
		return errClosed()
	case rt.store != nil:
		rt.mu.Unlock()
		return &RuntimeError{Code: ErrCodeAlreadySetUp, Message: "Setup called twice"}
	}
	rt.mu.Unlock()

	st, err := store.Open(rt.cfg.Local.Path)
	if err != nil {
		return fmt.Errorf("open local store: %w", err)
	}
	rt.mu.Lock()
	rt.store = st
	rt.mu.Unlock()

	if err := rt.connect(ctx); err != nil {
		return err
	}

	ast, err := rt.introspect(ctx)
	if err != nil {
		return err
	}
	plan, err := compiler.Compile(ctx, ast, rt.compileOptions())
	if err != nil {
		return fmt.Errorf("compile: %w", err)
	}
	rt.logger.Info("program compiled",
		"version", plan.Version,
		"relations", len(plan.Ast.Relations),
		"engines", len(plan.Engines),
		"async_outputs", plan.AsyncOutputs)

	if err := rt.define(ctx, plan); err != nil {
		return err
	}

	last, err := st.LastTimestep(ctx)
	if err != nil {
		return err
	}
	rt.clock = NewClockAt(last)

	rt.mu.Lock()
	defer rt.mu.Unlock()
	rt.plan = plan
	return rt.prepareOutputs(ctx, plan)
}

func (rt *Runtime) compileOptions() compiler.Options {
	dialects := make(map[ir.DbID]querysql.Dialect, len(rt.conns))
	for id, c := range rt.conns {
		dialects[id] = c.Dialect()
	}
	return compiler.Options{
		Reporter:               rt.reporter,
		Policy:                 rt.policy,
		Dialects:               dialects,
		DisableMaterialization: rt.cfg.Materialization.Disabled,
		IncrementalScope:       rt.cfg.Materialization.IncrementalScope,
		DisableAsync:           rt.cfg.Materialization.DisableAsync,
		CheckConstraints:       rt.cfg.CheckConstraints,
	}
}

// prepareOutputs prepares SELECT * for every output not yet prepared.
// Callers hold rt.mu.
func (rt *Runtime) prepareOutputs(ctx context.Context, plan *compiler.Plan) error {
	for _, o := range plan.Outputs() {
		if _, ok := rt.stmts[o.Name]; ok {
			continue
		}
		stmt, err := rt.store.Prepare(ctx, "SELECT * FROM "+o.Name)
		if err != nil {
			return fmt.Errorf("prepare output %s: %w", o.Name, err)
		}
		rt.stmts[o.Name] = stmt
	}
	return nil
}

// Plan returns the compiled plan in effect.
func (rt *Runtime) Plan() *compiler.Plan {
	rt.mu.Lock()
	defer rt.mu.Unlock()
	return rt.plan
}

func (rt *Runtime) ready() (*compiler.Plan, error) {
	rt.mu.Lock()
	defer rt.mu.Unlock()
	if rt.closed {
		return nil, errClosed()
	}
	if rt.plan == nil {
		return nil, errNotSetUp()
	}
	return rt.plan, nil
}

// Store returns the local store, nil before Setup.
func (rt *Runtime) Store() *store.Store {
	rt.mu.Lock()
	defer rt.mu.Unlock()
	return rt.store
}

// Remote returns the connection to engine id.
func (rt *Runtime) Remote(id ir.DbID) (*remote.Conn, bool) {
	c, ok := rt.conns[id]
	return c, ok
}

// InputAt returns the ledger entry of the input stamped ts. It returns
// sql.ErrNoRows when there is none.
func (rt *Runtime) InputAt(ctx context.Context, ts int64) (store.LedgerEntry, error) {
	if _, err := rt.ready(); err != nil {
		return store.LedgerEntry{}, err
	}
	return rt.store.InputAt(ctx, ts)
}

// Timestep returns the last timestep handed out.
func (rt *Runtime) Timestep() int64 {
	return rt.clock.Current()
}

// Outputs returns the output names in declaration order.
func (rt *Runtime) Outputs() []string {
	plan := rt.Plan()
	if plan == nil {
		return nil
	}
	var names []string
	for _, o := range plan.Outputs() {
		names = append(names, o.Name)
	}
	return names
}

// Scales returns the chart scales configured for output.
func (rt *Runtime) Scales(output string) (config.Scale, error) {
	s, ok := rt.cfg.Scales[output]
	if !ok {
		return config.Scale{}, rt.reporter.User(report.ErrUndefinedScale.New(output))
	}
	return s, nil
}

// Wait blocks until every submitted shipment has finished.
func (rt *Runtime) Wait() {
	rt.tasks.Wait()
}

// Close waits for pending shipments, then releases the pool, every
// prepared statement, every remote and the local store.
func (rt *Runtime) Close() error {
	rt.mu.Lock()
	if rt.closed {
		rt.mu.Unlock()
		return nil
	}
	rt.closed = true
	rt.mu.Unlock()

	rt.tasks.Wait()
	rt.cancel()
	rt.pool.Release()

	var errs []error
	rt.mu.Lock()
	for _, name := range slices.Sorted(maps.Keys(rt.stmts)) {
		if err := rt.stmts[name].Close(); err != nil {
			errs = append(errs, fmt.Errorf("close output %s: %w", name, err))
		}
	}
	rt.mu.Unlock()
	for _, id := range rt.ids {
		if err := rt.conns[id].Close(); err != nil {
			errs = append(errs, fmt.Errorf("close remote %d: %w", id, err))
		}
	}
	if len(rt.ids) == 0 {
		for _, r := range rt.extra {
			errs = append(errs, r.Close())
		}
	}
	if rt.store != nil {
		if err := rt.store.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
