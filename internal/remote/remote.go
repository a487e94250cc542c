// Package remote connects the runtime to engines other than the local
// one: an in-process SQLite worker, a websocket socket server, or a
// Postgres or MySQL database.
//
// Every engine is driven through the same Remote interface. The runtime
// talks to it in protocol Messages (define relations, update a shipped
// relation, ship a relation back, clean up, exec, query) sent through a
// Conn, which orders the messages bound for one engine.
package remote

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/roach88/diel/internal/querysql"
)

// Remote is one SQL engine the runtime can execute statements on.
type Remote interface {
	// Dialect is the SQL dialect the engine speaks.
	Dialect() querysql.Dialect
	// Exec runs statements in order.
	Exec(ctx context.Context, stmts ...string) error
	// Query runs one query and reads all rows.
	Query(ctx context.Context, query string) (*querysql.Result, error)
	Close() error
}

// Poster is implemented by remotes that can send statements without
// waiting for the engine to acknowledge them.
type Poster interface {
	Post(stmts ...string) error
}

// Cleaner is implemented by remotes that can defer statements until the
// session ends.
type Cleaner interface {
	Cleanup(stmts ...string) error
}

// Tables introspects the user tables of r.
func Tables(ctx context.Context, r Remote) ([]querysql.TableSchema, error) {
	res, err := r.Query(ctx, r.Dialect().IntrospectQuery())
	if err != nil {
		return nil, fmt.Errorf("introspect: %w", err)
	}
	return querysql.Tables(res), nil
}

// Kind selects the Remote implementation for a configured engine.
type Kind string

const (
	KindWorker   Kind = "worker"
	KindSocket   Kind = "socket"
	KindPostgres Kind = "postgres"
	KindMySQL    Kind = "mysql"
)

// Spec configures one remote engine.
type Spec struct {
	Kind Kind `yaml:"kind" toml:"kind" json:"kind"`
	// DSN is the database to open: a SQLite path for workers (empty for
	// in-memory), a connection string for Postgres and MySQL.
	DSN string `yaml:"dsn,omitempty" toml:"dsn" json:"dsn,omitempty"`
	// URL and DBName address a socket server and the database on it.
	URL    string `yaml:"url,omitempty" toml:"url" json:"url,omitempty"`
	DBName string `yaml:"dbName,omitempty" toml:"dbName" json:"dbName,omitempty"`
}

// Dialect is the SQL dialect of the engine spec describes, known
// without connecting.
func (s Spec) Dialect() querysql.Dialect {
	switch s.Kind {
	case KindPostgres:
		return querysql.Postgres
	case KindMySQL:
		return querysql.MySQL
	}
	return querysql.SQLite
}

// Open connects to the engine spec describes.
func Open(ctx context.Context, spec Spec, logger *slog.Logger) (Remote, error) {
	switch spec.Kind {
	case KindWorker, "":
		return OpenWorker(spec.DSN)
	case KindSocket:
		return DialSocket(ctx, spec.URL, spec.DBName, logger)
	case KindPostgres:
		return OpenSQL(ctx, querysql.Postgres, spec.DSN)
	case KindMySQL:
		return OpenSQL(ctx, querysql.MySQL, spec.DSN)
	}
	return nil, fmt.Errorf("unknown remote kind %q", spec.Kind)
}
