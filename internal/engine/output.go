package engine

import (
	"context"
	"fmt"
	"slices"

	"github.com/roach88/diel/internal/compiler"
	"github.com/roach88/diel/internal/ir"
	"github.com/roach88/diel/internal/querysql"
	"github.com/roach88/diel/internal/remote"
	"github.com/roach88/diel/internal/report"
)

// BindOutput registers fn to receive output's rows, replacing any
// earlier callback. Remote tables the output reads that no input ever
// ships are requested once, the first time an output needing them is
// bound.
func (rt *Runtime) BindOutput(output string, fn OutputFunc) error {
	plan, err := rt.ready()
	if err != nil {
		return err
	}
	name := ir.Canonical(output)
	if r, ok := plan.Ast.Relation(name); !ok || r.Kind != ir.Output {
		return rt.reporter.User(report.ErrUndefinedOutput.New(output))
	}

	var prime []compiler.ShipTarget
	rt.mu.Lock()
	rt.callbacks[name] = fn
	for _, t := range plan.StaticDependencies(name) {
		if !rt.staticSent[t] {
			rt.staticSent[t] = true
			prime = append(prime, t)
		}
	}
	rt.mu.Unlock()

	for _, t := range prime {
		rt.prime(plan, t)
	}
	return nil
}

// Output reads output's current rows.
func (rt *Runtime) Output(ctx context.Context, output string) (*querysql.Result, error) {
	plan, err := rt.ready()
	if err != nil {
		return nil, err
	}
	name := ir.Canonical(output)
	if r, ok := plan.Ast.Relation(name); !ok || r.Kind != ir.Output {
		return nil, rt.reporter.User(report.ErrUndefinedOutput.New(output))
	}
	return rt.readOutput(ctx, name)
}

// View reads the current rows of any relation the local engine holds:
// inputs, tables, views, outputs and copies shipped from remotes.
func (rt *Runtime) View(ctx context.Context, relation string) (*querysql.Result, error) {
	plan, err := rt.ready()
	if err != nil {
		return nil, err
	}
	name := ir.Canonical(relation)
	r, declared := plan.Ast.Relation(name)
	if declared && r.Kind == ir.Output {
		return rt.readOutput(ctx, name)
	}
	held := declared && r.Existing && r.RemoteID == ir.LocalDbID
	if ep, ok := plan.Engine(ir.LocalDbID); ok && slices.Contains(ep.Relations, name) {
		held = true
	}
	if !held {
		return nil, rt.reporter.User(report.ErrUndefinedView.New(relation))
	}
	res, err := rt.store.Query(ctx, "SELECT * FROM "+name)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", name, err)
	}
	return res, nil
}

func (rt *Runtime) readOutput(ctx context.Context, name string) (*querysql.Result, error) {
	rt.mu.Lock()
	stmt, ok := rt.stmts[name]
	rt.mu.Unlock()
	if !ok {
		return nil, report.ErrRelationNotFound.New(name)
	}
	res, err := stmt.Query(ctx)
	if err != nil {
		return nil, fmt.Errorf("read output %s: %w", name, err)
	}
	return res, nil
}

// refresh re-reads the named outputs that have callbacks and invokes
// them in the order given.
func (rt *Runtime) refresh(ctx context.Context, plan *compiler.Plan, outputs []string) error {
	for _, name := range outputs {
		rt.mu.Lock()
		fn := rt.callbacks[name]
		rt.mu.Unlock()
		if fn == nil {
			continue
		}
		res, err := rt.readOutput(ctx, name)
		if err != nil {
			if err := rt.reporter.Internal(err); err != nil {
				return err
			}
			continue
		}
		fn(name, res)
	}
	return nil
}

// affectedOutputs lists the outputs that change when relation changes,
// relation itself included when it is an output.
func affectedOutputs(plan *compiler.Plan, relation string) []string {
	out := plan.OutputsDependingOn(relation)
	if r, ok := plan.Ast.Relation(relation); ok && r.Kind == ir.Output && !slices.Contains(out, relation) {
		out = append(out, relation)
	}
	return out
}

// prime ships a static remote table to the engine that reads it.
func (rt *Runtime) prime(plan *compiler.Plan, t compiler.ShipTarget) {
	rel, ok := plan.Ast.Relation(t.Relation)
	if !ok {
		rt.logger.Error("priming unknown relation", "relation", t.Relation)
		return
	}
	src, ok := rt.conns[rel.RemoteID]
	if !ok {
		_ = rt.reporter.Internal(report.ErrMissingEngine.New(t.Relation))
		return
	}
	rt.submit(func(ctx context.Context) {
		var res *querysql.Result
		err := src.InOrder(func() error {
			var err error
			res, err = src.Send(ctx, remote.ShipRelationMessage(t.Relation, InitTimestep))
			return err
		})
		if err == nil {
			err = rt.arrive(ctx, plan, t, res, InitTimestep)
		}
		if err != nil {
			rt.reporter.Transport(err, "relation", t.Relation, "from", int(src.ID), "to", int(t.Destination))
			rt.forgetStatic(t)
		}
	})
}

// forgetStatic lets the next BindOutput retry a failed priming.
func (rt *Runtime) forgetStatic(t compiler.ShipTarget) {
	rt.mu.Lock()
	defer rt.mu.Unlock()
	delete(rt.staticSent, t)
}

// CheckConstraints runs every constraint query and reports violations.
// It returns an error only when a query cannot run.
func (rt *Runtime) CheckConstraints(ctx context.Context) error {
	plan, err := rt.ready()
	if err != nil {
		return err
	}
	for _, q := range plan.Constraints {
		res, err := rt.store.Query(ctx, q.SQL)
		if err != nil {
			if err := rt.reporter.Internal(fmt.Errorf("constraint %q on %s: %w", q.Label, q.Relation, err)); err != nil {
				return err
			}
			continue
		}
		rt.ReportConstraintResult(q, res)
	}
	return nil
}

// ReportConstraintResult logs a violation when res is not empty.
func (rt *Runtime) ReportConstraintResult(q compiler.ConstraintQuery, res *querysql.Result) bool {
	if res.Len() == 0 {
		return false
	}
	rt.logger.Warn("constraint violated",
		"relation", q.Relation,
		"constraint", q.Label,
		"rows", res.Len(),
		"timestep", rt.clock.Current())
	return true
}
