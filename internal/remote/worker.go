package remote

import (
	"context"
	"database/sql"
	"fmt"

	_ "modernc.org/sqlite"

	"github.com/roach88/diel/internal/querysql"
)

// Worker is an in-process SQLite engine (modernc.org/sqlite, pure Go).
// It stands in for a browser worker database: a separate engine with
// its own tables that only sees what is shipped to it.
type Worker struct {
	db *sql.DB
}

// OpenWorker opens the SQLite database at dsn, or a private in-memory
// database when dsn is empty.
func OpenWorker(dsn string) (*Worker, error) {
	if dsn == "" {
		dsn = ":memory:"
	}
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open worker: %w", err)
	}
	// One connection keeps an in-memory database alive and serializes writes.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("open worker: %w", err)
	}
	return &Worker{db: db}, nil
}

// Dialect is SQLite.
func (w *Worker) Dialect() querysql.Dialect { return querysql.SQLite }

// Exec runs stmts in one transaction.
func (w *Worker) Exec(ctx context.Context, stmts ...string) error {
	tx, err := w.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	for _, s := range stmts {
		if _, err := tx.ExecContext(ctx, s); err != nil {
			tx.Rollback()
			return fmt.Errorf("exec %q: %w", s, err)
		}
	}
	return tx.Commit()
}

// Query runs query and reads all rows.
func (w *Worker) Query(ctx context.Context, query string) (*querysql.Result, error) {
	rows, err := w.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("query %q: %w", query, err)
	}
	return querysql.ScanRows(rows)
}

// Close closes the database.
func (w *Worker) Close() error {
	return w.db.Close()
}
