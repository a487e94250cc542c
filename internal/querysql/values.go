package querysql

import (
	"encoding/hex"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Value renders a Go value read from or bound for an engine as a SQL
// literal. Used to build shipment bodies, which travel as SQL text.
func Value(v any) string {
	switch x := v.(type) {
	case nil:
		return "NULL"
	case string:
		return QuoteString(x)
	case []byte:
		return "X'" + hex.EncodeToString(x) + "'"
	case bool:
		if x {
			return "1"
		}
		return "0"
	case int:
		return strconv.Itoa(x)
	case int32:
		return strconv.FormatInt(int64(x), 10)
	case int64:
		return strconv.FormatInt(x, 10)
	case float32:
		return strconv.FormatFloat(float64(x), 'g', -1, 32)
	case float64:
		return strconv.FormatFloat(x, 'g', -1, 64)
	case time.Time:
		return strconv.FormatInt(x.UnixMilli(), 10)
	}
	return QuoteString(fmt.Sprint(v))
}

// Ship renders the body of a shipment that replaces the contents of
// relation with rows: a DELETE followed by one multi-row INSERT, as a
// single script. With no rows only the DELETE is emitted.
func Ship(relation string, columns []string, rows [][]any) string {
	return strings.Join(ShipStatements(relation, columns, rows), ";\n") + ";"
}

// ShipStatements is Ship as separate statements, for engines that run
// one statement per call.
func ShipStatements(relation string, columns []string, rows [][]any) []string {
	stmts := []string{"DELETE FROM " + relation}
	if len(rows) == 0 {
		return stmts
	}
	return append(stmts, Insert(relation, columns, rows))
}

// Insert renders one multi-row INSERT of rows into relation.
func Insert(relation string, columns []string, rows [][]any) string {
	var b strings.Builder
	b.WriteString("INSERT INTO ")
	b.WriteString(relation)
	if len(columns) > 0 {
		b.WriteString(" (")
		b.WriteString(strings.Join(columns, ", "))
		b.WriteString(")")
	}
	b.WriteString(" VALUES ")
	for i, row := range rows {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString("(")
		for j, v := range row {
			if j > 0 {
				b.WriteString(", ")
			}
			b.WriteString(Value(v))
		}
		b.WriteString(")")
	}
	return b.String()
}
