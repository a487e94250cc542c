package querysql

import (
	"database/sql"
	"fmt"
	"sort"
	"strconv"
	"time"

	"github.com/roach88/diel/internal/ir"
)

// Result holds the rows of one query in column order. Values are
// normalized: text is string, integers int64, reals float64, and
// timestamps unix milliseconds.
type Result struct {
	Columns []string `json:"columns"`
	Rows    [][]any  `json:"rows"`
}

// Row is one result row keyed by column name.
type Row map[string]any

// Records returns the rows keyed by column name.
func (r *Result) Records() []Row {
	out := make([]Row, len(r.Rows))
	for i, vals := range r.Rows {
		row := make(Row, len(r.Columns))
		for j, c := range r.Columns {
			if j < len(vals) {
				row[c] = vals[j]
			}
		}
		out[i] = row
	}
	return out
}

// Len returns the number of rows.
func (r *Result) Len() int {
	if r == nil {
		return 0
	}
	return len(r.Rows)
}

// ScanRows reads every row of rows and closes it.
func ScanRows(rows *sql.Rows) (*Result, error) {
	defer rows.Close()
	cols, err := rows.Columns()
	if err != nil {
		return nil, fmt.Errorf("columns: %w", err)
	}
	res := &Result{Columns: cols, Rows: [][]any{}}
	for rows.Next() {
		vals := make([]any, len(cols))
		ptrs := make([]any, len(cols))
		for i := range vals {
			ptrs[i] = &vals[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, fmt.Errorf("scan: %w", err)
		}
		for i, v := range vals {
			vals[i] = NormalizeValue(v)
		}
		res.Rows = append(res.Rows, vals)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate rows: %w", err)
	}
	return res, nil
}

// NormalizeValue maps driver values onto the representations every
// engine agrees on.
func NormalizeValue(v any) any {
	switch x := v.(type) {
	case []byte:
		return string(x)
	case time.Time:
		return x.UnixMilli()
	case int:
		return int64(x)
	case int32:
		return int64(x)
	case float32:
		return float64(x)
	case bool:
		if x {
			return int64(1)
		}
		return int64(0)
	case interface{ Int64() (int64, error) }:
		// json.Number and similar
		if n, err := x.Int64(); err == nil {
			return n
		}
		if s, ok := v.(fmt.Stringer); ok {
			if f, err := strconv.ParseFloat(s.String(), 64); err == nil {
				return f
			}
		}
	}
	return v
}

// TableSchema is one table found by schema introspection.
type TableSchema struct {
	Name    string         `json:"name"`
	Columns []ColumnSchema `json:"columns"`
}

// ColumnSchema is one introspected column with its engine type name.
type ColumnSchema struct {
	Name string `json:"name"`
	Type string `json:"type"`
}

// Relation converts the table into an existing original table owned by
// engine id.
func (t TableSchema) Relation(id ir.DbID) *ir.Relation {
	r := &ir.Relation{
		Name:        ir.Canonical(t.Name),
		Kind:        ir.OriginalTable,
		RemoteID:    id,
		Existing:    true,
		Constraints: ir.DefaultConstraints(),
	}
	for _, c := range t.Columns {
		r.Columns = append(r.Columns, ir.Column{Name: ir.Canonical(c.Name), Type: DataTypeOf(c.Type)})
	}
	return r
}

// IntrospectQuery lists (table, column, type) for every user table, in
// table then column order.
func (d Dialect) IntrospectQuery() string {
	switch d {
	case Postgres:
		return "SELECT table_name, column_name, data_type FROM information_schema.columns " +
			"WHERE table_schema = current_schema() ORDER BY table_name, ordinal_position"
	case MySQL:
		return "SELECT table_name, column_name, column_type FROM information_schema.columns " +
			"WHERE table_schema = DATABASE() ORDER BY table_name, ordinal_position"
	}
	return "SELECT m.name, p.name, p.type FROM sqlite_master m JOIN pragma_table_info(m.name) p " +
		"WHERE m.type = 'table' AND m.name NOT LIKE 'sqlite_%' ORDER BY m.name, p.cid"
}

// Tables groups the rows of an IntrospectQuery result by table, skipping
// the names in exclude. Tables come back sorted by name.
func Tables(res *Result, exclude ...string) []TableSchema {
	skip := make(map[string]bool, len(exclude))
	for _, n := range exclude {
		skip[n] = true
	}
	byName := make(map[string]*TableSchema)
	var names []string
	for _, row := range res.Rows {
		if len(row) < 3 {
			continue
		}
		name, col, typ := fmt.Sprint(row[0]), fmt.Sprint(row[1]), fmt.Sprint(row[2])
		if skip[name] {
			continue
		}
		t, ok := byName[name]
		if !ok {
			t = &TableSchema{Name: name}
			byName[name] = t
			names = append(names, name)
		}
		t.Columns = append(t.Columns, ColumnSchema{Name: col, Type: typ})
	}
	sort.Strings(names)
	out := make([]TableSchema, len(names))
	for i, n := range names {
		out[i] = *byName[n]
	}
	return out
}
