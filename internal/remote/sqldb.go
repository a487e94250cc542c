package remote

import (
	"context"
	"database/sql"
	"fmt"

	_ "github.com/go-sql-driver/mysql"
	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/roach88/diel/internal/querysql"
	"github.com/roach88/diel/internal/report"
)

// SQLDB is a Postgres or MySQL server reached through database/sql.
type SQLDB struct {
	db      *sql.DB
	dialect querysql.Dialect
}

func driverName(d querysql.Dialect) (string, error) {
	switch d {
	case querysql.Postgres:
		return "pgx", nil
	case querysql.MySQL:
		return "mysql", nil
	}
	return "", fmt.Errorf("no server driver for %s", d)
}

// OpenSQL connects to a Postgres (pgx) or MySQL server. The connection
// is checked before returning.
func OpenSQL(ctx context.Context, d querysql.Dialect, dsn string) (*SQLDB, error) {
	driver, err := driverName(d)
	if err != nil {
		return nil, err
	}
	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", d, err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, report.ErrRemoteUnreachable.Wrap(err, 0)
	}
	return &SQLDB{db: db, dialect: d}, nil
}

// Dialect is the server's dialect.
func (s *SQLDB) Dialect() querysql.Dialect { return s.dialect }

// Exec runs stmts one at a time in a transaction. MySQL commits DDL
// implicitly, so only data statements are atomic there.
func (s *SQLDB) Exec(ctx context.Context, stmts ...string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	for _, stmt := range stmts {
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			tx.Rollback()
			return fmt.Errorf("exec %q: %w", stmt, err)
		}
	}
	return tx.Commit()
}

// Query runs query and reads all rows.
func (s *SQLDB) Query(ctx context.Context, query string) (*querysql.Result, error) {
	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("query %q: %w", query, err)
	}
	return querysql.ScanRows(rows)
}

// Close closes the connection pool.
func (s *SQLDB) Close() error {
	return s.db.Close()
}
