package ir

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestCoerce_Types converts input values per declared column type.
func TestCoerce_Types(t *testing.T) {
	tests := []struct {
		name string
		typ  DataType
		in   any
		want any
	}{
		{"int stays int", TypeNumber, 3, int64(3)},
		{"integral float becomes int", TypeNumber, 4.0, int64(4)},
		{"fraction stays float", TypeNumber, 2.5, 2.5},
		{"numeric string", TypeNumber, "7", int64(7)},
		{"string from number", TypeString, 12, "12"},
		{"bool true", TypeBoolean, true, int64(1)},
		{"bool from string", TypeBoolean, "false", int64(0)},
		{"timestamp millis", TypeTimestamp, int64(1700000000000), int64(1700000000000)},
		{"timestamp rfc3339", TypeTimestamp, "2024-01-02T03:04:05Z", int64(1704164645000)},
		{"nil passes", TypeNumber, nil, nil},
		{"unknown passes", TypeUnknown, "x", "x"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Coerce(tt.typ, tt.in)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

// TestCoerce_Invalid rejects values that cannot be converted.
func TestCoerce_Invalid(t *testing.T) {
	_, err := Coerce(TypeNumber, "twelve")
	assert.Error(t, err)
	_, err = Coerce(TypeBoolean, "maybe")
	assert.Error(t, err)
}
