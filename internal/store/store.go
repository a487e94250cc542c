package store

import (
	"context"
	"database/sql"
	_ "embed"
	"fmt"

	_ "github.com/mattn/go-sqlite3"

	"github.com/roach88/diel/internal/querysql"
)

//go:embed schema.sql
var schemaSQL string

// Schema version tracking:
// 0 - Initial schema (ledger only)
// 1 - Added index on allInputs.inputRelation
const currentSchemaVersion = 1

// LedgerTable is the name of the input ledger. It is internal to the
// runtime and never introspected as a program relation.
const LedgerTable = "allInputs"

// MemoryPath opens a private in-memory database.
const MemoryPath = ":memory:"

// Store is the local SQLite engine.
type Store struct {
	db   *sql.DB
	path string
}

// Open creates or opens a SQLite database at the given path
// (MemoryPath for an in-memory one). Applies required pragmas and
// migrations automatically.
//
// This function is idempotent - safe to call multiple times.
func Open(path string) (*Store, error) {
	if path == "" {
		path = MemoryPath
	}
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	// SQLite only supports one writer at a time, and an in-memory
	// database lives exactly as long as its one connection.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	if err := applyPragmas(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to apply pragmas: %w", err)
	}
	if err := applySchema(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to apply schema: %w", err)
	}
	return &Store{db: db, path: path}, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

// DB returns the underlying sql.DB for direct queries.
// Use with caution - prefer using Store methods when available.
func (s *Store) DB() *sql.DB {
	return s.db
}

// Path returns the path the store was opened with.
func (s *Store) Path() string {
	return s.path
}

// Dialect is always SQLite.
func (s *Store) Dialect() querysql.Dialect {
	return querysql.SQLite
}

func applyPragmas(db *sql.DB) error {
	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA busy_timeout = 5000",
		"PRAGMA foreign_keys = ON",
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			return fmt.Errorf("failed to execute %q: %w", pragma, err)
		}
	}
	return nil
}

// applySchema creates the ledger if it doesn't exist and runs migrations.
func applySchema(db *sql.DB) error {
	if _, err := db.Exec(schemaSQL); err != nil {
		return fmt.Errorf("failed to execute schema: %w", err)
	}
	if err := runMigrations(db); err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}
	return nil
}

// runMigrations applies incremental schema migrations based on user_version.
func runMigrations(db *sql.DB) error {
	var version int
	if err := db.QueryRow("PRAGMA user_version").Scan(&version); err != nil {
		return fmt.Errorf("get user_version: %w", err)
	}
	if version < 1 {
		if _, err := db.Exec(`CREATE INDEX IF NOT EXISTS idx_allinputs_relation ON allInputs(inputRelation, timestep)`); err != nil {
			return fmt.Errorf("migrate to v1: %w", err)
		}
	}
	if _, err := db.Exec(fmt.Sprintf("PRAGMA user_version = %d", currentSchemaVersion)); err != nil {
		return fmt.Errorf("set user_version: %w", err)
	}
	return nil
}

// verifyPragma checks that a pragma is set to the expected value.
// Used for testing.
func (s *Store) verifyPragma(name, expected string) error {
	var value string
	if err := s.db.QueryRow("PRAGMA " + name).Scan(&value); err != nil {
		return fmt.Errorf("failed to query %s: %w", name, err)
	}
	if value != expected {
		return fmt.Errorf("%s = %q, expected %q", name, value, expected)
	}
	return nil
}

// Exec runs statements in order inside one transaction. A statement may
// itself hold several semicolon-separated statements.
func (s *Store) Exec(ctx context.Context, stmts ...string) error {
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
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

// Query runs a query and reads every row.
func (s *Store) Query(ctx context.Context, query string, args ...any) (*querysql.Result, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query %q: %w", query, err)
	}
	return querysql.ScanRows(rows)
}

// Stmt is a prepared query bound to the store.
type Stmt struct {
	stmt  *sql.Stmt
	query string
}

// Prepare compiles query for repeated use.
func (s *Store) Prepare(ctx context.Context, query string) (*Stmt, error) {
	st, err := s.db.PrepareContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("prepare %q: %w", query, err)
	}
	return &Stmt{stmt: st, query: query}, nil
}

// Query runs the statement with args bound.
func (st *Stmt) Query(ctx context.Context, args ...any) (*querysql.Result, error) {
	rows, err := st.stmt.QueryContext(ctx, args...)
	if err != nil {
		return nil, fmt.Errorf("query %q: %w", st.query, err)
	}
	return querysql.ScanRows(rows)
}

// Close releases the statement.
func (st *Stmt) Close() error {
	return st.stmt.Close()
}

// Tables introspects the user tables, leaving out the ledger.
func (s *Store) Tables(ctx context.Context) ([]querysql.TableSchema, error) {
	res, err := s.Query(ctx, querysql.SQLite.IntrospectQuery())
	if err != nil {
		return nil, fmt.Errorf("introspect: %w", err)
	}
	return querysql.Tables(res, LedgerTable), nil
}
