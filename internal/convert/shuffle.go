package convert

import (
	"github.com/born-ml/nnexport/internal/graph"
)

// resolveShuffle binds a shuffle layer to the operation output feeding it.
// The consumers read that output through a connection carrying the step.
func (c *converter) resolveShuffle(n *graph.Node, l graph.Shuffle) error {
	in, err := c.input(n, 0)
	if err != nil {
		return err
	}
	if in.IsModelInput() {
		return reject(n, ReasonInputShuffle, "shuffle of %s", n.Inbound[0].Name)
	}
	if in.Shuffle != 0 {
		return reject(n, ReasonChainedShuffle, "input %s is already shuffled with step %d", n.Inbound[0].Name, in.Shuffle)
	}

	c.bind(n, Binding{
		Operation: in.Operation,
		Output:    in.Output,
		Shuffle:   l.Step,
		Gain:      in.Gain,
	})
	return nil
}
