package seed

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestHeightsAscendingAndDeduplicated(t *testing.T) {
	heights, err := Heights()
	require.NoError(t, err)
	require.NotEmpty(t, heights)

	seen := make(map[int64]struct{}, len(heights))
	for i, h := range heights {
		if i > 0 {
			require.Greater(t, h, heights[i-1], "heights must be strictly ascending")
		}
		_, dup := seen[h]
		require.False(t, dup, "height %d appears twice", h)
		seen[h] = struct{}{}
	}
}

func TestHeightsIncludesGenesisBlock(t *testing.T) {
	heights, err := Heights()
	require.NoError(t, err)
	require.Equal(t, int64(0), heights[0])
}
