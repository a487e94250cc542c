package store

import (
	"context"
	"fmt"

	"github.com/mattn/go-sqlite3"
)

// LedgerEntry is one row of the input ledger.
type LedgerEntry struct {
	Timestep        int64  `json:"timestep"`
	Relation        string `json:"inputRelation"`
	Timestamp       int64  `json:"timestamp"`
	RequestTimestep int64  `json:"request_timestep"`
}

// Inputs returns the ledger in timestep order.
//
// Returns an empty slice (not nil) when no input was accepted yet.
func (s *Store) Inputs(ctx context.Context) ([]LedgerEntry, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT timestep, inputRelation, timestamp, COALESCE(request_timestep, 0)
		FROM allInputs
		ORDER BY timestep ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("query ledger: %w", err)
	}
	defer rows.Close()

	entries := []LedgerEntry{}
	for rows.Next() {
		var e LedgerEntry
		if err := rows.Scan(&e.Timestep, &e.Relation, &e.Timestamp, &e.RequestTimestep); err != nil {
			return nil, fmt.Errorf("scan ledger: %w", err)
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate ledger: %w", err)
	}
	return entries, nil
}

// InputAt returns the ledger entry of the input stamped ts.
//
// Returns sql.ErrNoRows if no input has that timestep.
func (s *Store) InputAt(ctx context.Context, ts int64) (LedgerEntry, error) {
	var e LedgerEntry
	err := s.db.QueryRowContext(ctx, `
		SELECT timestep, inputRelation, timestamp, COALESCE(request_timestep, 0)
		FROM allInputs
		WHERE timestep = ?
	`, ts).Scan(&e.Timestep, &e.Relation, &e.Timestamp, &e.RequestTimestep)
	if err != nil {
		return LedgerEntry{}, err
	}
	return e, nil
}

// LastTimestep returns the largest timestep in the ledger, 0 if empty.
// A runtime reopening a file database resumes its clock from here.
func (s *Store) LastTimestep(ctx context.Context) (int64, error) {
	var ts int64
	if err := s.db.QueryRowContext(ctx, "SELECT COALESCE(MAX(timestep), 0) FROM allInputs").Scan(&ts); err != nil {
		return 0, fmt.Errorf("last timestep: %w", err)
	}
	return ts, nil
}

// Export serializes the whole main database into the SQLite file format.
func (s *Store) Export(ctx context.Context) ([]byte, error) {
	conn, err := s.db.Conn(ctx)
	if err != nil {
		return nil, fmt.Errorf("export: %w", err)
	}
	defer conn.Close()

	var out []byte
	err = conn.Raw(func(driverConn any) error {
		sc, ok := driverConn.(*sqlite3.SQLiteConn)
		if !ok {
			return fmt.Errorf("unexpected driver connection %T", driverConn)
		}
		b, err := sc.Serialize("main")
		if err != nil {
			return err
		}
		out = b
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("export: %w", err)
	}
	return out, nil
}
