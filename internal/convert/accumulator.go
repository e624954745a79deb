package convert

import (
	"github.com/sirupsen/logrus"

	"github.com/born-ml/nnexport/internal/graph"
	"github.com/born-ml/nnexport/internal/nnets"
)

// accumulator collects the layers fused into one Conv2D operation.
// It is idle when conv is nil.
type accumulator struct {
	conv  *graph.Node
	layer graph.Conv2D
	// tail is the last layer absorbed so far.
	tail *graph.Node

	batchNorm bool
	residual  *Binding
	add       *graph.Node
}

func (a *accumulator) idle() bool {
	return a.conv == nil
}

// openConv2D starts an accumulation and writes the raw convolution weights.
func (c *converter) openConv2D(n *graph.Node, l graph.Conv2D) error {
	if l.KernelSize[0] != l.KernelSize[1] {
		return reject(n, ReasonNonSquareKernel, "kernel %dx%d", l.KernelSize[0], l.KernelSize[1])
	}
	if l.Strides[0] != l.Strides[1] {
		return reject(n, ReasonNonSquareKernel, "strides %dx%d", l.Strides[0], l.Strides[1])
	}
	if l.Kernel == nil {
		return reject(n, ReasonUnsupportedLayer, "convolution without kernel")
	}

	name := c.name(n)
	c.blobs.Set(name+nnets.FiltersSuffix, l.Kernel.Clone())
	if l.UseBias {
		if l.Bias == nil {
			return reject(n, ReasonUnsupportedLayer, "bias enabled but missing")
		}
		c.blobs.Set(name+nnets.BiasSuffix, l.Bias.Clone())
	}

	c.acc = accumulator{conv: n, layer: l, tail: n}
	return nil
}

// accumulate handles a layer following an open convolution.
func (c *converter) accumulate(n *graph.Node) error {
	switch l := n.Layer.(type) {
	case graph.BatchNorm:
		return c.foldBatchNorm(n, l)
	case graph.Add:
		return c.addResidual(n)
	case graph.Activation:
		return c.closeConv2D(n, l)
	}
	return reject(n, ReasonWithinAccumulation, "%s layer after %s", n.Kind(), c.acc.conv.Name)
}

func (c *converter) foldBatchNorm(n *graph.Node, l graph.BatchNorm) error {
	conv := c.acc.conv
	if c.acc.batchNorm {
		return reject(n, ReasonBatchNormRedefined, "after %s", conv.Name)
	}
	if c.acc.residual != nil {
		return reject(n, ReasonWithinAccumulation, "batch normalization after the residual add of %s", conv.Name)
	}
	if len(n.Inbound) != 1 || n.Inbound[0] != c.acc.tail {
		return reject(n, ReasonWithinAccumulation, "batch normalization does not follow %s", conv.Name)
	}
	if c.acc.layer.UseBias {
		return reject(n, ReasonBiasWithBatchNorm, "after %s", conv.Name)
	}

	name := c.name(conv)
	filters, _ := c.blobs.Get(name + nnets.FiltersSuffix)
	scaled, bias, err := FoldBatchNorm(filters, l, c.acc.layer.Depthwise)
	if err != nil {
		return reject(n, ReasonBatchNormChannels, "%v", err)
	}
	c.blobs.Set(name+nnets.FiltersSuffix, scaled)
	c.blobs.Set(name+nnets.BiasSuffix, bias)

	c.acc.batchNorm = true
	c.acc.tail = n
	c.log.WithFields(logrus.Fields{"layer": n.Name, "conv": conv.Name}).Debug("folded batch normalization")
	return nil
}

func (c *converter) addResidual(n *graph.Node) error {
	conv := c.acc.conv
	if c.acc.residual != nil {
		return reject(n, ReasonResidualRedefined, "after %s", conv.Name)
	}
	if len(n.Inbound) != 2 {
		return reject(n, ReasonResidualTerms, "%d terms", len(n.Inbound))
	}

	var skip *graph.Node
	var main *graph.Node
	for _, term := range n.Inbound {
		if _, ok := c.bindings[term]; ok {
			if skip != nil {
				return reject(n, ReasonResidualTerms, "both terms are exported")
			}
			skip = term
		} else {
			main = term
		}
	}
	if skip == nil {
		return reject(n, ReasonResidualTerms, "no term is exported to provide a connection to %s", conv.Name)
	}
	if main != c.acc.tail {
		return reject(n, ReasonResidualTerms, "term %s does not belong to %s", main.Name, conv.Name)
	}

	b := c.bindings[skip]
	if b.IsModelInput() {
		return reject(n, ReasonInputShuffle, "residual from %s", skip.Name)
	}
	c.acc.residual = &b
	c.acc.add = n
	c.acc.tail = n
	return nil
}

// closeConv2D emits the fused operation once the activation is known.
func (c *converter) closeConv2D(n *graph.Node, l graph.Activation) error {
	conv := c.acc.conv
	if len(n.Inbound) != 1 || n.Inbound[0] != c.acc.tail {
		return reject(n, ReasonWithinAccumulation, "activation does not follow %s", conv.Name)
	}
	activation, outGain, err := activationGain(n, l)
	if err != nil {
		return err
	}

	in, err := c.input(conv, 0)
	if err != nil {
		return err
	}
	if c.acc.residual != nil && c.acc.residual.Gain != outGain {
		return reject(c.acc.add, ReasonGainMismatch, "residual gain %v, %s output gain %v",
			c.acc.residual.Gain, conv.Name, outGain)
	}

	layer := c.acc.layer
	name := c.name(conv)
	useBias := layer.UseBias || c.acc.batchNorm

	filters, _ := c.blobs.Get(name + nnets.FiltersSuffix)
	scaleBlob(filters, outGain/in.Gain)
	if useBias {
		bias, _ := c.blobs.Get(name + nnets.BiasSuffix)
		scaleBlob(bias, outGain)
	}

	op := &nnets.Conv2D{
		Name:           name,
		KernelSize:     layer.KernelSize[0],
		InputChannels:  conv.Inbound[0].Shape[2],
		OutputChannels: layer.Filters,
		Stride:         layer.Strides[0],
		Padding:        padding(layer.Padding),
		UseBias:        useBias,
		Groups:         layer.Groups,
		Activation:     activation,
	}
	if err := c.appendOp(op, in); err != nil {
		return err
	}
	if c.acc.residual != nil {
		if err := c.connect(*c.acc.residual, name, 1); err != nil {
			return err
		}
	}

	c.log.WithFields(logrus.Fields{
		"layer":      conv.Name,
		"activation": n.Name,
		"batch_norm": c.acc.batchNorm,
		"residual":   c.acc.residual != nil,
		"gain":       outGain,
	}).Debug("fused convolution")

	c.bind(n, Binding{Operation: name, Gain: outGain})
	c.closed[n] = conv
	c.acc = accumulator{}
	return nil
}

func padding(p graph.Padding) nnets.Padding {
	if p == graph.PaddingSame {
		return nnets.PaddingSame
	}
	return nnets.PaddingValid
}
