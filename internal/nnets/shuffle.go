package nnets

import (
	"github.com/pkg/errors"
)

// ShuffleBlock is the number of channels moved together by a shuffle.
const ShuffleBlock = 4

func checkShuffle(channels, step int) error {
	if step <= 0 {
		return errors.Errorf("invalid shuffle step %d", step)
	}
	if channels <= 0 || channels%(ShuffleBlock*step) != 0 {
		return errors.Errorf("shuffle step %d requires a multiple of %d channels, got %d",
			step, ShuffleBlock*step, channels)
	}
	return nil
}

// ShuffleOrder returns the channel permutation applied by a shuffle with the
// given step: output channel i is read from input channel order[i].
//
// Channels move in blocks of four. With d = channels/4 blocks, output block i
// is taken from input block (i*step mod d) + (i*step div d).
func ShuffleOrder(channels, step int) ([]int, error) {
	if err := checkShuffle(channels, step); err != nil {
		return nil, err
	}
	blocks := channels / ShuffleBlock
	order := make([]int, 0, channels)
	for i := 0; i < blocks; i++ {
		src := (i*step)%blocks + (i*step)/blocks
		for c := 0; c < ShuffleBlock; c++ {
			order = append(order, src*ShuffleBlock+c)
		}
	}
	return order, nil
}

// InverseShuffleStep returns the step whose shuffle undoes a shuffle of the
// given step on the given number of channels.
//
// The permutation transposes a step x (d/step) arrangement of blocks, so the
// inverse is the shuffle of step d/step.
func InverseShuffleStep(channels, step int) (int, error) {
	if err := checkShuffle(channels, step); err != nil {
		return 0, err
	}
	return channels / (ShuffleBlock * step), nil
}
