package querysql

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/roach88/diel/internal/ir"
)

// TestValue_Literals renders Go values as SQL literals.
func TestValue_Literals(t *testing.T) {
	ts := time.UnixMilli(1700000000123)
	for _, tt := range []struct {
		in   any
		want string
	}{
		{nil, "NULL"},
		{"o'k", "'o''k'"},
		{[]byte{0xde, 0xad}, "X'dead'"},
		{true, "1"},
		{int64(42), "42"},
		{7, "7"},
		{1.5, "1.5"},
		{ts, "1700000000123"},
	} {
		assert.Equal(t, tt.want, Value(tt.in))
	}
}

// TestShip_Body replaces contents with a delete then one insert.
func TestShip_Body(t *testing.T) {
	got := Ship("clicks", []string{"x", "timestep"}, [][]any{{int64(1), int64(3)}, {nil, int64(3)}})
	assert.Equal(t, "DELETE FROM clicks;\nINSERT INTO clicks (x, timestep) VALUES (1, 3), (NULL, 3);", got)
}

// TestShip_Empty only clears the relation.
func TestShip_Empty(t *testing.T) {
	assert.Equal(t, "DELETE FROM clicks;", Ship("clicks", []string{"x"}, nil))
}

// TestParseDialect_Names accepts common spellings.
func TestParseDialect_Names(t *testing.T) {
	for in, want := range map[string]Dialect{"": SQLite, "sqlite3": SQLite, "PG": Postgres, "postgresql": Postgres, "mysql": MySQL} {
		got, err := ParseDialect(in)
		assert.NoError(t, err)
		assert.Equal(t, want, got, in)
	}
	_, err := ParseDialect("oracle")
	assert.Error(t, err)
}

// TestDataTypeOf_Introspection maps engine column types back.
func TestDataTypeOf_Introspection(t *testing.T) {
	for in, want := range map[string]ir.DataType{
		"INTEGER":          ir.TypeNumber,
		"varchar(20)":      ir.TypeString,
		"tinyint(1)":       ir.TypeBoolean,
		"boolean":          ir.TypeBoolean,
		"double precision": ir.TypeNumber,
		"timestamp":        ir.TypeTimestamp,
		"":                 ir.TypeUnknown,
		"blob":             ir.TypeString,
	} {
		assert.Equal(t, want, DataTypeOf(in), in)
	}
}
