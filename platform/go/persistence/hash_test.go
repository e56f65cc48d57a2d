package persistence

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestComputeQueryHash(t *testing.T) {
	t.Parallel()

	base := ComputeQueryHash("SELECT 1")
	require.Len(t, base, 64)

	require.Equal(t, base, ComputeQueryHash("  SELECT 1  \n"))
	require.NotEqual(t, base, ComputeQueryHash("SELECT 2"))
}
