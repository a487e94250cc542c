package ir

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestPlanHash_Stable hashes equal values equally and different values differently.
func TestPlanHash_Stable(t *testing.T) {
	a, err := PlanHash([]string{"CREATE TABLE t (a NUMERIC)"})
	require.NoError(t, err)
	b, err := PlanHash([]string{"CREATE TABLE t (a NUMERIC)"})
	require.NoError(t, err)
	c, err := PlanHash([]string{"CREATE TABLE t (b NUMERIC)"})
	require.NoError(t, err)

	assert.Equal(t, a, b)
	assert.NotEqual(t, a, c)
	assert.Len(t, a, 16)
}
