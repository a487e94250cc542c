package compiler

import (
	"context"
	"fmt"
	"maps"
	"slices"
	"strings"

	"github.com/opentracing/opentracing-go"

	"github.com/roach88/diel/internal/ir"
	"github.com/roach88/diel/internal/querysql"
	"github.com/roach88/diel/internal/report"
)

// Options configures a compilation.
type Options struct {
	Reporter *report.Reporter
	Policy   OwnerPolicy

	// Dialects maps engine id to its SQL dialect. Engines not listed are SQLite.
	Dialects map[ir.DbID]querysql.Dialect

	// DisableMaterialization leaves shared views as views.
	DisableMaterialization bool
	// IncrementalScope scopes program inserts to the triggering row.
	IncrementalScope bool
	// CheckConstraints generates validation queries for declared constraints.
	CheckConstraints bool
	// DisableAsync keeps remotely computed outputs as plain outputs.
	DisableAsync bool
}

func (o Options) dialect(id ir.DbID) querysql.Dialect {
	if d, ok := o.Dialects[id]; ok {
		return d
	}
	return querysql.SQLite
}

// EnginePlan is everything one engine must execute at setup, in order:
// tables, views in dependency order, programs, outputs, then one-shot
// commands. Cleanup drops what Statements create, in reverse.
type EnginePlan struct {
	ID         ir.DbID          `json:"id"`
	Dialect    querysql.Dialect `json:"dialect"`
	Relations  []string         `json:"relations"`
	Statements []string         `json:"statements"`
	Cleanup    []string         `json:"cleanup,omitempty"`

	keys  []string            // definition keys in creation order
	defs  map[string][]string // key -> creating statements
	drops map[string][]string // key -> dropping statements
}

func (ep *EnginePlan) add(key string, create, drop []string) {
	if _, ok := ep.defs[key]; !ok {
		ep.keys = append(ep.keys, key)
	}
	ep.defs[key] = create
	ep.drops[key] = drop
	ep.Statements = append(ep.Statements, create...)
	ep.Cleanup = append(slices.Clone(drop), ep.Cleanup...)
}

// Plan is a compiled program. It is immutable once returned; adding a
// relation produces a new Plan.
type Plan struct {
	Ast           *ir.Ast                         `json:"-"`
	Tree          DependencyTree                  `json:"-"`
	Order         []string                        `json:"order"`
	Distributions map[string][]SingleDistribution `json:"distributions"` // keyed by planned relation
	Placement     map[string]ir.DbID              `json:"placement"`
	Engines       []*EnginePlan                   `json:"engines"`
	Routing       map[string][]ShipTarget         `json:"routing"`
	Constraints   []ConstraintQuery               `json:"constraints,omitempty"`
	AsyncOutputs  []string                        `json:"async_outputs,omitempty"`
	Version       string                          `json:"version"`

	// Source is the program as given, before any pass ran.
	Source *ir.Ast `json:"-"`
	opts   Options
}

// Engine returns the plan for engine id.
func (p *Plan) Engine(id ir.DbID) (*EnginePlan, bool) {
	for _, e := range p.Engines {
		if e.ID == id {
			return e, true
		}
	}
	return nil, false
}

// Outputs returns the output relations in declaration order.
func (p *Plan) Outputs() []*ir.Relation {
	return p.Ast.RelationsOfKind(ir.Output)
}

// OutputsDependingOn returns outputs whose dependency set includes event.
func (p *Plan) OutputsDependingOn(event string) []string {
	var out []string
	for _, o := range p.Outputs() {
		if DependsTransitively(p.Tree, o.Name, event) {
			out = append(out, o.Name)
		}
	}
	return out
}

// Forwards lists the hops that leave engine from once relation shipped
// has arrived there: every relation computed on from that depends on
// shipped and is needed on another engine. Entries are unique and
// sorted by planned relation.
func (p *Plan) Forwards(from ir.DbID, shipped string) []ShipTarget {
	var out []ShipTarget
	for _, name := range slices.Sorted(maps.Keys(p.Distributions)) {
		for _, d := range p.Distributions[name] {
			if d.From != from || !d.IsCrossEngine() || d.Relation == shipped {
				continue
			}
			t := ShipTarget{Destination: d.To, Relation: d.Relation}
			if DependsTransitively(p.Tree, d.Relation, shipped) && !slices.Contains(out, t) {
				out = append(out, t)
			}
		}
	}
	return out
}

// Returns lists the relations computed on engine dest that must be read
// back to the local engine after relation shipped arrives there.
func (p *Plan) Returns(dest ir.DbID, shipped string) []string {
	var out []string
	for _, t := range p.Forwards(dest, shipped) {
		if t.Destination == ir.LocalDbID && !slices.Contains(out, t.Relation) {
			out = append(out, t.Relation)
		}
	}
	return out
}

// StaticDependencies returns the remote base relations output depends on
// that no input ever ships: the ones to prime when the output is bound.
func (p *Plan) StaticDependencies(output string) []ShipTarget {
	var out []ShipTarget
	for _, d := range p.Distributions[output] {
		if !d.IsCrossEngine() || d.From == ir.LocalDbID {
			continue
		}
		if r, ok := p.Ast.Relation(d.Relation); ok && r.Kind == ir.OriginalTable {
			t := ShipTarget{Destination: d.To, Relation: d.Relation}
			if !slices.Contains(out, t) {
				out = append(out, t)
			}
		}
	}
	return out
}

func span(ctx context.Context, name string) (opentracing.Span, context.Context) {
	return opentracing.StartSpanFromContext(ctx, "diel.compile."+name)
}

// Compile runs the middle-end over ast: dependency graph, acyclicity,
// topological order, normalization, distribution planning, the async
// output policy, materialization, constraint queries, and per-engine
// SQL. Base relations must carry the engine they live on.
//
// Cycles, undefined relations and malformed selections abort the
// compilation in both modes; lenient mode only lets per-relation
// problems (a missing alias on one shared view, a planner failure for
// one output) be logged and skipped.
func Compile(ctx context.Context, ast *ir.Ast, opts Options) (*Plan, error) {
	if opts.Reporter == nil {
		opts.Reporter = report.New(true, nil)
	}
	if opts.Policy == nil {
		opts.Policy = MaxOwner
	}
	root, ctx := span(ctx, "program")
	defer root.Finish()

	tree, order, err := analyze(ctx, ast, opts)
	if err != nil {
		return nil, err
	}

	sp, _ := span(ctx, "normalize")
	normalized, err := Normalize(ast, order)
	sp.Finish()
	if err != nil {
		return nil, fmt.Errorf("normalize: %w", err)
	}

	var async []string
	if !opts.DisableAsync {
		aug := Augment(tree, normalized)
		plans, err := planOutputs(ctx, normalized, aug, opts)
		if err != nil {
			return nil, err
		}
		placement := mergePlacement(normalized, plans)
		normalized, async, err = ApplyAsyncPolicy(normalized, placement)
		if err != nil {
			return nil, fmt.Errorf("async policy: %w", err)
		}
		if len(async) > 0 {
			if tree, order, err = analyze(ctx, normalized, opts); err != nil {
				return nil, err
			}
		}
	}

	final := normalized
	if !opts.DisableMaterialization {
		sp, _ := span(ctx, "materialize")
		final, err = Materialize(normalized, Augment(tree, normalized), order, MaterializeOptions{
			NativeMaterializedViews: opts.dialect(ir.LocalDbID).SupportsMaterializedViews(),
			IncrementalScope:        opts.IncrementalScope,
			Reporter:                opts.Reporter,
		})
		sp.Finish()
		if err != nil {
			return nil, fmt.Errorf("materialize: %w", err)
		}
	}

	aug := Augment(tree, final)
	plans, err := planOutputs(ctx, final, aug, opts)
	if err != nil {
		return nil, err
	}

	plan := &Plan{
		Ast:           final,
		Tree:          aug,
		Order:         order,
		Distributions: plans,
		Placement:     mergePlacement(final, plans),
		Routing:       make(map[string][]ShipTarget),
		AsyncOutputs:  async,
		Source:        ast,
		opts:          opts,
	}

	all := make([][]SingleDistribution, 0, len(plans))
	for _, name := range slices.Sorted(maps.Keys(plans)) {
		all = append(all, plans[name])
	}
	for _, ev := range final.RelationsOfKind(ir.EventTable) {
		if targets := RelationsToShip(all, aug, ev.RemoteID, ev.Name); len(targets) > 0 {
			plan.Routing[ev.Name] = targets
		}
	}

	sp, _ = span(ctx, "emit")
	err = plan.emit()
	sp.Finish()
	if err != nil {
		return nil, err
	}

	if opts.CheckConstraints {
		local := querysql.NewSQLCompiler(opts.dialect(ir.LocalDbID))
		for _, name := range order {
			r, ok := final.Relation(name)
			if !ok || plan.Placement[name] != ir.LocalDbID {
				continue
			}
			qs, err := ConstraintQueries(r, local)
			if err != nil {
				if err := opts.Reporter.Internal(err); err != nil {
					return nil, err
				}
				continue
			}
			plan.Constraints = append(plan.Constraints, qs...)
		}
	}

	version, err := ir.PlanHash(plan.Engines)
	if err != nil {
		return nil, err
	}
	plan.Version = version
	root.SetTag("diel.version", version)
	return plan, nil
}

// analyze builds the dependency tree, rejects cycles and orders it.
func analyze(ctx context.Context, ast *ir.Ast, opts Options) (DependencyTree, []string, error) {
	sp, _ := span(ctx, "dependencies")
	defer sp.Finish()

	tree, err := BuildDependencyTree(ast, opts.Reporter)
	if err != nil {
		return nil, nil, fmt.Errorf("dependencies: %w", err)
	}
	if err := CheckAcyclic(tree); err != nil {
		_ = opts.Reporter.User(err)
		return nil, nil, err
	}
	order, err := TopoSort(tree)
	if err != nil {
		return nil, nil, err
	}
	return tree, order, nil
}

// planOutputs plans every output, then every derived relation no
// output reaches, so each derived relation lands where its inputs are.
// The result is keyed by the planned relation.
func planOutputs(ctx context.Context, ast *ir.Ast, aug DependencyTree, opts Options) (map[string][]SingleDistribution, error) {
	sp, _ := span(ctx, "distribute")
	defer sp.Finish()

	plans := make(map[string][]SingleDistribution)
	covered := make(map[string]bool)
	plan := func(name string) error {
		d, err := PlanDistribution(name, aug, opts.Policy)
		if err != nil {
			if err := opts.Reporter.Internal(err); err != nil {
				return fmt.Errorf("plan %s: %w", name, err)
			}
			return nil
		}
		plans[name] = d
		for rel := range Placement(d) {
			covered[rel] = true
		}
		return nil
	}
	for _, out := range ast.RelationsOfKind(ir.Output) {
		if err := plan(out.Name); err != nil {
			return nil, err
		}
	}
	for _, r := range ast.Relations {
		if r.Kind.IsDerived() && !covered[r.Name] {
			if err := plan(r.Name); err != nil {
				return nil, err
			}
		}
	}
	return plans, nil
}

// mergePlacement combines per-output placements. Relations no plan
// reaches live where their rows are (base) or locally (derived).
func mergePlacement(ast *ir.Ast, plans map[string][]SingleDistribution) map[string]ir.DbID {
	placement := make(map[string]ir.DbID)
	for _, name := range slices.Sorted(maps.Keys(plans)) {
		for rel, id := range Placement(plans[name]) {
			if _, ok := placement[rel]; !ok {
				placement[rel] = id
			}
		}
	}
	for _, r := range ast.Relations {
		if _, ok := placement[r.Name]; ok {
			continue
		}
		if r.Kind.IsBase() && r.RemoteID != 0 {
			placement[r.Name] = r.RemoteID
		} else {
			placement[r.Name] = ir.LocalDbID
		}
	}
	return placement
}

func (p *Plan) engineIDs() []ir.DbID {
	ids := map[ir.DbID]bool{ir.LocalDbID: true}
	for _, id := range p.Placement {
		ids[id] = true
	}
	for _, r := range p.Ast.Relations {
		if r.RemoteID != 0 {
			ids[r.RemoteID] = true
		}
	}
	return slices.Sorted(maps.Keys(ids))
}

// copies returns, per engine, the relations shipped to it from another
// engine, in the order first shipped.
func (p *Plan) copies() map[ir.DbID][]string {
	out := make(map[ir.DbID][]string)
	for _, name := range slices.Sorted(maps.Keys(p.Distributions)) {
		for _, d := range p.Distributions[name] {
			if d.IsCrossEngine() && p.Placement[d.Relation] != d.To && !slices.Contains(out[d.To], d.Relation) {
				out[d.To] = append(out[d.To], d.Relation)
			}
		}
	}
	return out
}

// CopyRelation is the table an engine keeps for a relation shipped to
// it. Copies of event views carry the request_timestep of the input
// that produced them.
func CopyRelation(r *ir.Relation) *ir.Relation {
	cp := r.Clone()
	cp.Kind = ir.OriginalTable
	cp.Selection = nil
	cp.Constraints = nil
	cp.Materialized = false
	cp.Triggers = nil
	cp.Existing = false
	for i := range cp.Columns {
		cp.Columns[i].Constraints = ir.ColumnConstraints{}
		cp.Columns[i].Default = nil
	}
	if r.Kind == ir.EventView || r.Kind == ir.Output {
		if _, ok := cp.Column(ColRequestTimestep); !ok {
			cp.Columns = append(cp.Columns, ir.Column{Name: ColRequestTimestep, Type: ir.TypeNumber})
		}
	}
	return cp
}

func (p *Plan) emit() error {
	copies := p.copies()
	for _, id := range p.engineIDs() {
		c := querysql.NewSQLCompiler(p.opts.dialect(id))
		ep := &EnginePlan{ID: id, Dialect: c.Dialect, defs: make(map[string][]string), drops: make(map[string][]string)}

		define := func(r *ir.Relation) error {
			stmts, err := c.Define(r)
			if err != nil {
				return fmt.Errorf("engine %d: %w", id, err)
			}
			ep.Relations = append(ep.Relations, r.Name)
			ep.add(r.Name, stmts, []string{c.Drop(r)})
			return nil
		}

		// tables: declared base relations, copies, derived tables
		for _, r := range p.Ast.Relations {
			if r.Kind.IsBase() && !r.Existing && r.RemoteID == id {
				if err := define(r); err != nil {
					return err
				}
			}
		}
		for _, name := range copies[id] {
			r, ok := p.Ast.Relation(name)
			if !ok {
				return report.ErrRelationNotFound.New(name)
			}
			if err := define(CopyRelation(r)); err != nil {
				return err
			}
		}
		for _, name := range p.Order {
			if r, ok := p.Ast.Relation(name); ok && r.Kind == ir.DerivedTable && p.Placement[name] == id {
				if err := define(r); err != nil {
					return err
				}
			}
		}

		// views and event views in dependency order
		for _, name := range p.Order {
			r, ok := p.Ast.Relation(name)
			if !ok || p.Placement[name] != id {
				continue
			}
			if r.Kind == ir.View || r.Kind == ir.EventView {
				if err := define(r); err != nil {
					return err
				}
			}
		}

		// programs: each command runs where the relation it writes lives
		progs, err := p.programsOn(id, copies[id])
		if err != nil {
			return err
		}
		for _, prog := range progs {
			stmts, err := c.CreateProgram(prog)
			if err != nil {
				return err
			}
			ep.add("program:"+prog.Trigger, stmts, c.DropProgram(prog))
		}

		// outputs
		for _, name := range p.Order {
			r, ok := p.Ast.Relation(name)
			if ok && r.Kind == ir.Output && p.Placement[name] == id {
				if err := define(r); err != nil {
					return err
				}
			}
		}

		for _, cmd := range p.Ast.Commands {
			if p.Placement[cmd.Target()] != id {
				continue
			}
			s, err := c.Command(cmd)
			if err != nil {
				return err
			}
			ep.add(commandKey(cmd.Target(), s), []string{s}, nil)
		}

		if len(ep.Statements) > 0 || id == ir.LocalDbID {
			p.Engines = append(p.Engines, ep)
		}
	}
	return nil
}

// programsOn regroups the program commands that write relations on
// engine id by the table that fires them there: the trigger itself when
// it lives on id or is copied there, otherwise every copy on id derived
// from it. A relation written by two programs fired by the same table
// keeps the commands of the first.
func (p *Plan) programsOn(id ir.DbID, copies []string) ([]*ir.Program, error) {
	var out []*ir.Program
	byTrigger := make(map[string]*ir.Program)
	covered := make(map[string]bool)
	for _, prog := range p.Ast.Programs {
		var cmds []ir.Command
		for _, cmd := range prog.Commands {
			if p.Placement[cmd.Target()] == id {
				cmds = append(cmds, cmd)
			}
		}
		if len(cmds) == 0 {
			continue
		}
		triggers := p.firedBy(id, prog.Trigger, copies)
		if len(triggers) == 0 {
			return nil, report.ErrMissingEngine.New(prog.Trigger)
		}
		for _, t := range triggers {
			if t != prog.Trigger && readsNewRow(cmds) {
				return nil, report.ErrNotImplemented.New("incremental refresh of " + cmds[0].Target() + " from copy " + t)
			}
			local, ok := byTrigger[t]
			if !ok {
				local = &ir.Program{Trigger: t}
				byTrigger[t] = local
				out = append(out, local)
			}
			var added []string
			for _, cmd := range cmds {
				key := t + "\x00" + cmd.Target()
				if covered[key] && !slices.Contains(added, key) {
					continue
				}
				covered[key] = true
				added = append(added, key)
				local.Commands = append(local.Commands, cmd)
			}
		}
	}
	return out, nil
}

// firedBy lists the relations on engine id whose writes stand for writes
// to trigger.
func (p *Plan) firedBy(id ir.DbID, trigger string, copies []string) []string {
	if p.Placement[trigger] == id || slices.Contains(copies, trigger) {
		return []string{trigger}
	}
	var out []string
	for _, name := range copies {
		if DependsTransitively(p.Tree, name, trigger) {
			out = append(out, name)
		}
	}
	return out
}

// readsNewRow reports whether any insert was scoped to the row that
// fired its program.
func readsNewRow(cmds []ir.Command) bool {
	for _, cmd := range cmds {
		ins, ok := cmd.(ir.InsertCommand)
		if !ok || ins.Selection == nil {
			continue
		}
		names, _ := ReferencedRelations(ins.Relation, ins.Selection)
		if slices.Contains(names, NewRowRelation) {
			return true
		}
	}
	return false
}

func commandKey(target, stmt string) string {
	return "command:" + target + ":" + stmt
}

// Delta is the work one engine must do to move from one plan to the
// next: drop the definitions that changed or disappeared, then run the
// new or changed ones.
type Delta struct {
	Engine  ir.DbID  `json:"engine"`
	Drop    []string `json:"drop,omitempty"`
	Execute []string `json:"execute,omitempty"`
}

// Empty reports whether the delta has nothing to run.
func (d Delta) Empty() bool { return len(d.Drop) == 0 && len(d.Execute) == 0 }

// AddRelation compiles the plan's program with r added (or replacing
// the relation of the same name) and returns the new plan with the
// per-engine deltas from p. p itself is unchanged.
func (p *Plan) AddRelation(ctx context.Context, r *ir.Relation) (*Plan, []Delta, error) {
	src := p.Source.Clone()
	src.Replace(r)
	next, err := Compile(ctx, src, p.opts)
	if err != nil {
		return nil, nil, err
	}
	return next, Diff(p, next), nil
}

// Diff returns the deltas that turn the engines set up by prev into the
// ones next describes. One-shot commands already run by prev are
// repeated only when their target relation is recreated.
func Diff(prev, next *Plan) []Delta {
	var out []Delta
	for _, ne := range next.Engines {
		d := Delta{Engine: ne.ID}
		pe, ok := prev.Engine(ne.ID)
		if !ok {
			d.Execute = slices.Clone(ne.Statements)
			out = append(out, d)
			continue
		}
		for i := len(pe.keys) - 1; i >= 0; i-- {
			k := pe.keys[i]
			if nd, ok := ne.defs[k]; !ok || !slices.Equal(nd, pe.defs[k]) {
				d.Drop = append(d.Drop, pe.drops[k]...)
			}
		}
		rebuilt := make(map[string]bool)
		for _, k := range ne.keys {
			od, ok := pe.defs[k]
			changed := !ok || !slices.Equal(od, ne.defs[k])
			if target, isCmd := strings.CutPrefix(k, "command:"); isCmd {
				target, _, _ = strings.Cut(target, ":")
				changed = changed || rebuilt[target]
			}
			if changed {
				rebuilt[k] = true
				d.Execute = append(d.Execute, ne.defs[k]...)
			}
		}
		if !d.Empty() {
			out = append(out, d)
		}
	}
	return out
}
