package nnets

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestShuffleOrder(t *testing.T) {
	// 16 channels, step 2: blocks 0, 2, 1, 3.
	order, err := ShuffleOrder(16, 2)
	require.NoError(t, err)
	assert.Equal(t, []int{
		0, 1, 2, 3,
		8, 9, 10, 11,
		4, 5, 6, 7,
		12, 13, 14, 15,
	}, order)
}

func TestShuffleOrderIdentity(t *testing.T) {
	for _, channels := range []int{4, 8, 12, 32, 100} {
		order, err := ShuffleOrder(channels, 1)
		require.NoError(t, err)
		for i, c := range order {
			assert.Equal(t, i, c)
		}
	}
}

func TestShuffleOrderErrors(t *testing.T) {
	_, err := ShuffleOrder(12, 2)
	assert.Error(t, err)
	_, err = ShuffleOrder(16, 0)
	assert.Error(t, err)
	_, err = ShuffleOrder(0, 1)
	assert.Error(t, err)
	_, err = InverseShuffleStep(10, 1)
	assert.Error(t, err)
}

func TestShuffleRoundTrip(t *testing.T) {
	for channels := 4; channels <= 96; channels += 4 {
		blocks := channels / ShuffleBlock
		for step := 1; step <= blocks; step++ {
			if blocks%step != 0 {
				continue
			}
			forward, err := ShuffleOrder(channels, step)
			require.NoError(t, err)
			inverseStep, err := InverseShuffleStep(channels, step)
			require.NoError(t, err)
			backward, err := ShuffleOrder(channels, inverseStep)
			require.NoError(t, err)

			// y[i] = x[forward[i]], z[j] = y[backward[j]] = x[forward[backward[j]]].
			for j := range backward {
				require.Equal(t, j, forward[backward[j]], "channels=%d step=%d", channels, step)
			}
		}
	}
}

func TestShuffleIsPermutation(t *testing.T) {
	order, err := ShuffleOrder(48, 3)
	require.NoError(t, err)
	seen := make(map[int]bool)
	for _, c := range order {
		assert.False(t, seen[c], "channel %d repeated", c)
		seen[c] = true
	}
	assert.Len(t, seen, 48)
}
