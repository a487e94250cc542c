package engine

import (
	"context"
	"fmt"

	"github.com/roach88/diel/internal/compiler"
	"github.com/roach88/diel/internal/ir"
	"github.com/roach88/diel/internal/remote"
)

// AddOutput defines a new output from a SELECT statement while the
// runtime is live. Only the definitions that change are executed.
func (rt *Runtime) AddOutput(ctx context.Context, name, sql string) error {
	return rt.addRelation(ctx, name, ir.Output, sql)
}

// AddView defines a new view from a SELECT statement while the runtime
// is live. A view that becomes shared may be materialized.
func (rt *Runtime) AddView(ctx context.Context, name, sql string) error {
	return rt.addRelation(ctx, name, ir.View, sql)
}

func (rt *Runtime) addRelation(ctx context.Context, name string, kind ir.RelationKind, sql string) error {
	rt.inputMu.Lock()
	defer rt.inputMu.Unlock()

	plan, err := rt.ready()
	if err != nil {
		return err
	}
	name = ir.Canonical(name)
	if name == "" {
		return &RuntimeError{Code: ErrCodeBadRelation, Message: "relation name is empty"}
	}
	if existing, ok := plan.Ast.Relation(name); ok && existing.Kind.IsBase() {
		return &RuntimeError{Code: ErrCodeBadRelation, Message: "cannot replace a " + existing.Kind.String(), Relation: name}
	}
	sel, err := compiler.ParseSelection(sql)
	if err != nil {
		return &RuntimeError{Code: ErrCodeBadRelation, Message: err.Error(), Relation: name}
	}

	r := &ir.Relation{Name: name, Kind: kind, Selection: sel, Constraints: ir.DefaultConstraints()}
	next, deltas, err := plan.AddRelation(ctx, r)
	if err != nil {
		return fmt.Errorf("add %s %s: %w", kind, name, err)
	}
	for _, d := range deltas {
		if err := rt.apply(ctx, d); err != nil {
			return fmt.Errorf("add %s %s: %w", kind, name, err)
		}
	}

	rt.mu.Lock()
	rt.plan = next
	err = rt.prepareOutputs(ctx, next)
	rt.mu.Unlock()
	if err != nil {
		return err
	}
	rt.logger.Info("relation added", "relation", name, "kind", kind.String(), "version", next.Version, "deltas", len(deltas))
	return nil
}

// apply runs one engine's delta.
func (rt *Runtime) apply(ctx context.Context, d compiler.Delta) error {
	if d.Engine == ir.LocalDbID {
		if len(d.Drop) > 0 {
			if err := rt.store.Exec(ctx, d.Drop...); err != nil {
				return err
			}
		}
		if len(d.Execute) == 0 {
			return nil
		}
		return rt.store.Exec(ctx, d.Execute...)
	}

	conn, ok := rt.conns[d.Engine]
	if !ok {
		return fmt.Errorf("engine %d is not connected", d.Engine)
	}
	ts := rt.clock.Current()
	return conn.InOrder(func() error {
		if _, err := conn.Send(ctx, remote.NewMessage(remote.ExecStatements, "", ts, d.Drop...)); err != nil {
			return err
		}
		_, err := conn.Send(ctx, remote.NewMessage(remote.DefineRelations, "", ts, d.Execute...))
		return err
	})
}
