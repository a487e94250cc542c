package engine

import (
	"context"
	"fmt"

	"github.com/roach88/diel/internal/compiler"
	"github.com/roach88/diel/internal/ir"
	"github.com/roach88/diel/internal/report"
	"github.com/roach88/diel/internal/store"
)

// Record is one input row keyed by column name.
type Record map[string]any

// NewInput accepts one row for event.
func (rt *Runtime) NewInput(ctx context.Context, event string, record Record) error {
	return rt.NewInputMany(ctx, event, []Record{record})
}

// NewInputMany accepts rows for event as a single input: they share one
// timestep.
//
// Every declared column must be present in every record; extra keys are
// ignored. Values are coerced to the column types. In lenient mode a bad
// input is logged and dropped and NewInputMany returns nil.
//
// Once the rows are stored, bound outputs that depend on event are
// refreshed, constraint checks run if enabled, and shipments to remote
// engines are queued. NewInputMany does not wait for shipments.
func (rt *Runtime) NewInputMany(ctx context.Context, event string, records []Record) error {
	return rt.input(ctx, event, 0, records)
}

// NewInputFor accepts rows for event as the answer to the earlier input
// stamped requestTimestep. The rows get their own timestep but carry
// requestTimestep, and so do the remote results they produce.
func (rt *Runtime) NewInputFor(ctx context.Context, event string, requestTimestep int64, records ...Record) error {
	return rt.input(ctx, event, requestTimestep, records)
}

// input stores records under the next timestep. A zero requestTs makes
// the input its own request.
func (rt *Runtime) input(ctx context.Context, event string, requestTs int64, records []Record) error {
	rt.inputMu.Lock()
	defer rt.inputMu.Unlock()

	plan, err := rt.ready()
	if err != nil {
		return err
	}

	rel, ok := plan.Ast.Relation(ir.Canonical(event))
	if !ok || rel.Kind != ir.EventTable {
		return rt.reporter.User(report.ErrUndefinedEvent.New(event))
	}
	cols := inputColumns(rel)
	names := make([]string, len(cols))
	for i, c := range cols {
		names[i] = c.Name
	}

	rows := make([][]any, 0, len(records))
	for _, rec := range records {
		row, err := coerceRecord(rel.Name, cols, rec)
		if err != nil {
			return rt.reporter.User(err)
		}
		rows = append(rows, row)
	}

	// the timestep is taken only once the write succeeds
	ts := rt.clock.Peek()
	if requestTs == 0 {
		requestTs = ts
	}
	if requestTs < 1 || requestTs > ts {
		return rt.reporter.User(report.ErrRequestTimestep.New(requestTs, ts))
	}
	err = rt.store.WriteInput(ctx, store.Input{
		Relation:        rel.Name,
		Timestep:        ts,
		RequestTimestep: requestTs,
		Timestamp:       rt.now(),
		Columns:         names,
		Rows:            rows,
	})
	if err != nil {
		return fmt.Errorf("input %s at timestep %d: %w", rel.Name, ts, err)
	}
	rt.clock.Next()
	rt.logger.Debug("input accepted", "event", rel.Name, "timestep", ts, "request_timestep", requestTs, "rows", len(rows))

	if err := rt.refresh(ctx, plan, plan.OutputsDependingOn(rel.Name)); err != nil {
		return err
	}
	if rt.cfg.CheckConstraints {
		if err := rt.CheckConstraints(ctx); err != nil {
			return err
		}
	}
	rt.ship(plan, rel.Name, requestTs)
	return nil
}

// inputColumns are the columns an input supplies: all but the implicit
// timestep columns.
func inputColumns(rel *ir.Relation) []ir.Column {
	var cols []ir.Column
	for _, c := range rel.Columns {
		if c.Name == compiler.ColTimestep || c.Name == compiler.ColRequestTimestep {
			continue
		}
		cols = append(cols, c)
	}
	return cols
}

func coerceRecord(event string, cols []ir.Column, rec Record) ([]any, error) {
	row := make([]any, len(cols))
	for i, c := range cols {
		v, ok := lookup(rec, c.Name)
		if !ok {
			return nil, report.ErrMissingInputField.New(event, c.Name)
		}
		cv, err := ir.Coerce(c.Type, v)
		if err != nil {
			return nil, report.ErrInvalidValue.New(event, c.Name, err.Error())
		}
		row[i] = cv
	}
	return row, nil
}

// lookup finds column in rec, comparing keys by canonical form.
func lookup(rec Record, column string) (any, bool) {
	if v, ok := rec[column]; ok {
		return v, true
	}
	for k, v := range rec {
		if ir.SameName(k, column) {
			return v, true
		}
	}
	return nil, false
}
