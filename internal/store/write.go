package store

import (
	"context"
	"fmt"
	"strings"

	"github.com/roach88/diel/internal/querysql"
)

// Input is one accepted input: rows for an event table, stamped with the
// timestep the runtime clock assigned.
type Input struct {
	Relation        string
	Timestep        int64
	RequestTimestep int64
	Timestamp       int64 // unix milliseconds, informational only
	Columns         []string
	Rows            [][]any
}

// WriteInput inserts the input's rows into its event table, each with
// timestep and request_timestep appended, and records it in the ledger.
// Both happen in one transaction, so the event table's triggers see a
// ledger that already lists the input.
func (s *Store) WriteInput(ctx context.Context, in Input) error {
	if in.Relation == "" {
		return fmt.Errorf("write input: relation is empty")
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("write input: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO allInputs (timestep, inputRelation, timestamp, request_timestep)
		VALUES (?, ?, ?, ?)
	`, in.Timestep, in.Relation, in.Timestamp, in.RequestTimestep)
	if err != nil {
		return fmt.Errorf("write input ledger: %w", err)
	}

	cols := append(append([]string{}, in.Columns...), "timestep", "request_timestep")
	marks := strings.TrimSuffix(strings.Repeat("?, ", len(cols)), ", ")
	stmt, err := tx.PrepareContext(ctx, fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)",
		in.Relation, strings.Join(cols, ", "), marks))
	if err != nil {
		return fmt.Errorf("write input %s: %w", in.Relation, err)
	}
	defer stmt.Close()

	for _, row := range in.Rows {
		if len(row) != len(in.Columns) {
			return fmt.Errorf("write input %s: row has %d values for %d columns", in.Relation, len(row), len(in.Columns))
		}
		args := append(append(make([]any, 0, len(cols)), row...), in.Timestep, in.RequestTimestep)
		if _, err := stmt.ExecContext(ctx, args...); err != nil {
			return fmt.Errorf("write input %s: %w", in.Relation, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("write input: %w", err)
	}
	return nil
}

// Replace swaps the contents of relation for rows. Used for relations
// shipped back from remote engines.
func (s *Store) Replace(ctx context.Context, relation string, columns []string, rows [][]any) error {
	return s.Exec(ctx, querysql.ShipStatements(relation, columns, rows)...)
}

// Append adds rows to relation without touching existing ones.
func (s *Store) Append(ctx context.Context, relation string, columns []string, rows [][]any) error {
	if len(rows) == 0 {
		return nil
	}
	return s.Exec(ctx, querysql.Insert(relation, columns, rows))
}
