package engine

import (
	"context"
	"slices"

	"github.com/roach88/diel/internal/compiler"
	"github.com/roach88/diel/internal/ir"
	"github.com/roach88/diel/internal/querysql"
	"github.com/roach88/diel/internal/remote"
	"github.com/roach88/diel/internal/report"
)

// submit queues fn on the shipment pool. fn runs under the runtime's
// context.
func (rt *Runtime) submit(fn func(ctx context.Context)) {
	rt.tasks.Add(1)
	err := rt.pool.Submit(func() {
		defer rt.tasks.Done()
		fn(rt.ctx)
	})
	if err != nil {
		rt.tasks.Done()
		rt.logger.Error("shipment not queued", "error", err)
	}
}

// spawn runs fn on its own goroutine. Shipments use it for follow-up
// work so that pool workers never wait on the pool.
func (rt *Runtime) spawn(fn func(ctx context.Context)) {
	rt.tasks.Add(1)
	go func() {
		defer rt.tasks.Done()
		fn(rt.ctx)
	}()
}

// ship queues the routing table entries for event. Each shipment reads
// the relation's local rows when it runs, not when it is queued.
func (rt *Runtime) ship(plan *compiler.Plan, event string, ts int64) {
	for _, t := range plan.Routing[event] {
		conn, ok := rt.conns[t.Destination]
		if !ok {
			_ = rt.reporter.Internal(report.ErrMissingEngine.New(t.Relation))
			continue
		}
		rt.submit(func(ctx context.Context) {
			err := conn.InOrder(func() error {
				res, err := rt.store.Query(ctx, "SELECT * FROM "+t.Relation)
				if err != nil {
					return err
				}
				return rt.deliver(ctx, plan, conn, t.Relation, res, ts)
			})
			if err != nil {
				rt.reporter.Transport(err, "relation", t.Relation, "remote", int(conn.ID), "request_timestep", ts)
			}
		})
	}
}

// deliver replaces relation on conn's engine with res, then forwards
// whatever that engine computes from it. Callers run it inside
// conn.InOrder.
func (rt *Runtime) deliver(ctx context.Context, plan *compiler.Plan, conn *remote.Conn, relation string, res *querysql.Result, ts int64) error {
	res = stamp(plan, relation, res, ts)
	msg := remote.NewMessage(remote.UpdateRelation, relation, ts,
		querysql.ShipStatements(relation, res.Columns, res.Rows)...)
	if _, err := conn.Send(ctx, msg); err != nil {
		return err
	}
	return rt.forward(ctx, plan, conn, relation, ts)
}

// forward reads back every relation conn's engine computes from shipped
// and delivers it where the plan needs it. Rows bound for the local
// engine are written at once; rows bound for another remote go out on
// a separate goroutine so that two remotes never wait on each other.
func (rt *Runtime) forward(ctx context.Context, plan *compiler.Plan, conn *remote.Conn, shipped string, ts int64) error {
	for _, t := range plan.Forwards(conn.ID, shipped) {
		res, err := conn.Send(ctx, remote.ShipRelationMessage(t.Relation, ts))
		if err != nil {
			return err
		}
		if t.Destination == ir.LocalDbID {
			if err := rt.receive(ctx, plan, t.Relation, res, ts); err != nil {
				return err
			}
			continue
		}
		rt.spawn(func(ctx context.Context) {
			if err := rt.arrive(ctx, plan, t, res, ts); err != nil {
				rt.reporter.Transport(err, "relation", t.Relation, "from", int(conn.ID), "to", int(t.Destination))
			}
		})
	}
	return nil
}

// arrive hands rows of t.Relation to t.Destination.
func (rt *Runtime) arrive(ctx context.Context, plan *compiler.Plan, t compiler.ShipTarget, res *querysql.Result, ts int64) error {
	if t.Destination == ir.LocalDbID {
		return rt.receive(ctx, plan, t.Relation, res, ts)
	}
	dest, ok := rt.conns[t.Destination]
	if !ok {
		return report.ErrMissingEngine.New(t.Relation)
	}
	return dest.InOrder(func() error {
		return rt.deliver(ctx, plan, dest, t.Relation, res, ts)
	})
}

// receive writes rows shipped back from a remote into the local copy of
// relation and refreshes the outputs reading it. Async views keep the
// answer to every request; other copies are replaced.
func (rt *Runtime) receive(ctx context.Context, plan *compiler.Plan, relation string, res *querysql.Result, ts int64) error {
	res = stamp(plan, relation, res, ts)
	var err error
	if isAsyncView(plan, relation) {
		err = rt.store.Append(ctx, relation, res.Columns, res.Rows)
	} else {
		err = rt.store.Replace(ctx, relation, res.Columns, res.Rows)
	}
	if err != nil {
		return err
	}
	rt.logger.Debug("relation received", "relation", relation, "rows", res.Len(), "request_timestep", ts)
	return rt.refresh(ctx, plan, affectedOutputs(plan, relation))
}

// stamp adds the request_timestep column to rows of an event view or
// output, whose copies record the input that produced them.
func stamp(plan *compiler.Plan, relation string, res *querysql.Result, ts int64) *querysql.Result {
	r, ok := plan.Ast.Relation(relation)
	if !ok || (r.Kind != ir.EventView && r.Kind != ir.Output) {
		return res
	}
	if slices.Contains(res.Columns, compiler.ColRequestTimestep) {
		return res
	}
	out := &querysql.Result{
		Columns: append(slices.Clone(res.Columns), compiler.ColRequestTimestep),
		Rows:    make([][]any, len(res.Rows)),
	}
	for i, row := range res.Rows {
		out.Rows[i] = append(slices.Clone(row), ts)
	}
	return out
}

func isAsyncView(plan *compiler.Plan, relation string) bool {
	for _, o := range plan.AsyncOutputs {
		if compiler.AsyncViewName(o) == relation {
			return true
		}
	}
	return false
}
