// Package querysql renders DIEL IR as SQL text for each supported engine
// dialect.
//
// Rendering is deterministic: the same IR always produces byte-identical
// SQL, which the golden tests and plan hashing rely on.
package querysql

import (
	"fmt"
	"strings"

	"github.com/roach88/diel/internal/ir"
)

// Dialect selects engine-specific DDL and type names.
type Dialect int

const (
	// SQLite has no materialized views; shared views become tables kept
	// up to date by row triggers.
	SQLite Dialect = iota
	// Postgres supports materialized views refreshed by statement triggers.
	Postgres
	// MySQL uses row triggers like SQLite.
	MySQL
)

func (d Dialect) String() string {
	switch d {
	case SQLite:
		return "sqlite"
	case Postgres:
		return "postgres"
	case MySQL:
		return "mysql"
	}
	return fmt.Sprintf("Dialect(%d)", int(d))
}

// ParseDialect maps a configured dialect name.
func ParseDialect(s string) (Dialect, error) {
	switch strings.ToLower(s) {
	case "", "sqlite", "sqlite3":
		return SQLite, nil
	case "postgres", "postgresql", "pg":
		return Postgres, nil
	case "mysql":
		return MySQL, nil
	}
	return 0, fmt.Errorf("unknown dialect %q", s)
}

// SupportsMaterializedViews reports whether the engine keeps
// materialized views natively.
func (d Dialect) SupportsMaterializedViews() bool {
	return d == Postgres
}

// ColumnType returns the engine column type for a DIEL data type.
// Timestamps are stored as unix milliseconds everywhere.
func (d Dialect) ColumnType(t ir.DataType) string {
	switch d {
	case Postgres:
		switch t {
		case ir.TypeNumber:
			return "DOUBLE PRECISION"
		case ir.TypeBoolean:
			return "BOOLEAN"
		case ir.TypeTimestamp:
			return "BIGINT"
		}
		return "TEXT"
	case MySQL:
		switch t {
		case ir.TypeNumber:
			return "DOUBLE"
		case ir.TypeBoolean:
			return "BOOLEAN"
		case ir.TypeTimestamp:
			return "BIGINT"
		}
		return "TEXT"
	}
	switch t {
	case ir.TypeString:
		return "TEXT"
	case ir.TypeNumber:
		return "NUMERIC"
	case ir.TypeBoolean:
		return "BOOLEAN"
	case ir.TypeTimestamp:
		return "TIMESTAMP"
	}
	return ""
}

// DataTypeOf maps an engine column type reported by schema
// introspection back to a DIEL data type. Unrecognized types are strings.
func DataTypeOf(engineType string) ir.DataType {
	t := strings.ToLower(strings.TrimSpace(engineType))
	if i := strings.IndexByte(t, '('); i >= 0 {
		t = t[:i]
	}
	switch {
	case t == "":
		return ir.TypeUnknown
	case strings.HasPrefix(t, "bool"), t == "tinyint":
		return ir.TypeBoolean
	case strings.Contains(t, "int"), strings.Contains(t, "real"), strings.Contains(t, "floa"),
		strings.Contains(t, "doub"), strings.Contains(t, "num"), strings.Contains(t, "dec"):
		return ir.TypeNumber
	case strings.Contains(t, "time"), strings.Contains(t, "date"):
		return ir.TypeTimestamp
	}
	return ir.TypeString
}
