package engine

import (
	"context"
	"fmt"

	"golang.org/x/sync/errgroup"

	"github.com/roach88/diel/internal/compiler"
	"github.com/roach88/diel/internal/ir"
	"github.com/roach88/diel/internal/querysql"
	"github.com/roach88/diel/internal/remote"
	"github.com/roach88/diel/internal/report"
)

// connect opens every configured remote concurrently. Engines are
// numbered from 2 in configuration order, followed by the remotes given
// with WithRemote. Any failure closes what was opened.
func (rt *Runtime) connect(ctx context.Context) error {
	opened := make([]remote.Remote, len(rt.cfg.Remotes))
	g, gctx := errgroup.WithContext(ctx)
	for i, spec := range rt.cfg.Remotes {
		id := ir.DbID(i + 2)
		g.Go(func() error {
			r, err := remote.Open(gctx, spec, rt.logger)
			if err != nil {
				return report.ErrRemoteUnreachable.Wrap(err, int(id))
			}
			opened[i] = r
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		for _, r := range opened {
			if r != nil {
				_ = r.Close()
			}
		}
		return err
	}

	for i, r := range append(opened, rt.extra...) {
		id := ir.DbID(i + 2)
		rt.conns[id] = remote.NewConn(id, r, rt.logger)
		rt.ids = append(rt.ids, id)
		rt.logger.Info("remote connected", "remote", int(id), "dialect", r.Dialect().String())
	}
	return nil
}

// introspect returns the program extended with the tables the engines
// already hold. A declared relation wins over a discovered table of the
// same name; a declared base relation found on its own engine is marked
// existing so it is neither created nor dropped. A discovered table on
// two engines is a duplicate.
func (rt *Runtime) introspect(ctx context.Context) (*ir.Ast, error) {
	type engineTables struct {
		id     ir.DbID
		tables []querysql.TableSchema
	}

	local, err := rt.store.Tables(ctx)
	if err != nil {
		return nil, err
	}
	found := []engineTables{{id: ir.LocalDbID, tables: local}}
	for _, id := range rt.ids {
		tables, err := remote.Tables(ctx, rt.conns[id].Remote())
		if err != nil {
			return nil, report.ErrRemoteQuery.Wrap(err, int(id), "introspection")
		}
		found = append(found, engineTables{id: id, tables: tables})
	}

	ast := rt.program.Clone()
	owners := make(map[string]ir.DbID)
	for _, et := range found {
		for _, t := range et.tables {
			r := t.Relation(et.id)
			if decl, ok := ast.Relation(r.Name); ok {
				if decl.Kind.IsBase() && decl.RemoteID == et.id && !decl.Existing {
					cp := decl.Clone()
					cp.Existing = true
					ast.Replace(cp)
				}
				continue
			}
			if prev, dup := owners[r.Name]; dup {
				if err := rt.reporter.Internal(report.ErrDuplicateRelation.New(r.Name, int(prev), int(et.id))); err != nil {
					return nil, err
				}
				continue
			}
			owners[r.Name] = et.id
		}
	}
	for _, et := range found {
		for _, t := range et.tables {
			r := t.Relation(et.id)
			if owners[r.Name] == et.id {
				ast.Relations = append(ast.Relations, r)
				rt.logger.Debug("table discovered", "relation", r.Name, "engine", int(et.id))
			}
		}
	}
	return ast, nil
}

// define executes every engine's definitions: leftovers from an earlier
// session are dropped first, then the statements run in plan order. The
// local engine goes first; remotes are defined concurrently and awaited.
// Socket remotes also get the plan's clean-up, run when the session
// ends.
func (rt *Runtime) define(ctx context.Context, plan *compiler.Plan) error {
	g, gctx := errgroup.WithContext(ctx)
	for _, ep := range plan.Engines {
		if ep.ID == ir.LocalDbID {
			rt.dropLeftovers(ctx, ep)
			if err := rt.store.Exec(ctx, ep.Statements...); err != nil {
				return fmt.Errorf("define local relations: %w", err)
			}
			rt.logger.Debug("local relations defined", "relations", ep.Relations)
			continue
		}

		conn, ok := rt.conns[ep.ID]
		if !ok {
			return report.ErrMissingEngine.New(fmt.Sprintf("engine %d", ep.ID))
		}
		g.Go(func() error {
			for _, stmt := range ep.Cleanup {
				if _, err := conn.Send(gctx, remote.NewMessage(remote.ExecStatements, "", InitTimestep, stmt)); err != nil {
					rt.logger.Debug("leftover drop failed", "remote", int(ep.ID), "error", err)
				}
			}
			if _, err := conn.Send(gctx, remote.NewMessage(remote.DefineRelations, "", InitTimestep, ep.Statements...)); err != nil {
				return err
			}
			if _, ok := conn.Remote().(remote.Cleaner); ok && len(ep.Cleanup) > 0 {
				msg := remote.NewMessage(remote.CleanUpQueries, "", InitTimestep, ep.Cleanup...)
				msg.AwaitAck = false
				if _, err := conn.Send(gctx, msg); err != nil {
					rt.reporter.Transport(err, "remote", int(ep.ID))
				}
			}
			rt.logger.Debug("remote relations defined", "remote", int(ep.ID), "relations", ep.Relations)
			return nil
		})
	}
	return g.Wait()
}

// dropLeftovers runs the local clean-up statements one by one. They all
// use IF EXISTS, so on a fresh database they drop nothing.
func (rt *Runtime) dropLeftovers(ctx context.Context, ep *compiler.EnginePlan) {
	for _, stmt := range ep.Cleanup {
		if err := rt.store.Exec(ctx, stmt); err != nil {
			rt.logger.Debug("leftover drop failed", "statement", stmt, "error", err)
		}
	}
}
