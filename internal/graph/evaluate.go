package graph

import (
	"math"

	"github.com/pkg/errors"

	"github.com/born-ml/nnexport/internal/backend/cpu"
	"github.com/born-ml/nnexport/internal/nnets"
	"github.com/born-ml/nnexport/internal/tensor"
)

// Evaluate computes the natural output of every layer for the given inputs,
// keyed by layer name. Inputs are keyed by Input layer name.
func Evaluate(g *Graph, inputs map[string]*tensor.RawTensor) (map[string]*tensor.RawTensor, error) {
	order, err := dependencyOrder(g)
	if err != nil {
		return nil, err
	}

	backend := cpu.New()
	values := make(map[string]*tensor.RawTensor, len(g.Nodes))
	for _, n := range order {
		args := make([]*tensor.RawTensor, len(n.Inbound))
		for i, in := range n.Inbound {
			args[i] = values[in.Name]
		}
		out, err := evaluateNode(backend, n, args, inputs)
		if err != nil {
			return nil, errors.WithMessagef(err, "layer %q", n.Name)
		}
		values[n.Name] = out
	}
	return values, nil
}

func evaluateNode(backend *cpu.CPUBackend, n *Node, args []*tensor.RawTensor, inputs map[string]*tensor.RawTensor) (*tensor.RawTensor, error) {
	if _, ok := n.Layer.(Input); !ok && len(args) == 0 {
		return nil, errors.New("layer has no input")
	}

	switch l := n.Layer.(type) {
	case Input:
		x, ok := inputs[n.Name]
		if !ok {
			return nil, errors.New("no value for input")
		}
		if !x.Shape().Equal(l.Shape) {
			return nil, errors.Errorf("input has shape %v, expected %v", x.Shape(), l.Shape)
		}
		return x, nil

	case Conv2D:
		if l.Strides[0] != l.Strides[1] {
			return nil, errors.New("unequal strides are not evaluated")
		}
		var bias []float32
		if l.UseBias {
			bias = l.Bias.AsFloat32()
		}
		return backend.Conv2D(args[0], l.Kernel, bias, l.Strides[0], l.Groups, l.Padding == PaddingSame), nil

	case Dense:
		matrix, err := l.Kernel.Permute(1, 0)
		if err != nil {
			return nil, err
		}
		var bias []float32
		if l.UseBias {
			bias = l.Bias.AsFloat32()
		}
		return backend.Dense(args[0], matrix, bias), nil

	case Pooling2D:
		if l.PoolSize[0] != l.PoolSize[1] || l.Strides[0] != l.Strides[1] {
			return nil, errors.New("only square pooling with equal strides is evaluated")
		}
		same := l.Padding == PaddingSame
		if l.Operator == PoolMax {
			return backend.MaxPool2D(args[0], l.PoolSize[0], l.Strides[0], same), nil
		}
		return backend.AvgPool2D(args[0], l.PoolSize[0], l.Strides[0], same), nil

	case GlobalPooling2D:
		return globalPool(args[0], l.Operator), nil

	case Activation:
		return backend.Map(args[0], l.Apply), nil

	case BatchNorm:
		return batchNorm(args[0], l), nil

	case Add:
		if len(args) != 2 {
			return nil, errors.Errorf("add takes 2 inputs, got %d", len(args))
		}
		return backend.Add(args[0], args[1]), nil

	case Flatten:
		return backend.Flatten(args[0]), nil

	case Softmax:
		return backend.Softmax(args[0]), nil

	case Shuffle:
		shape := args[0].Shape()
		order, err := nnets.ShuffleOrder(shape[len(shape)-1], l.Step)
		if err != nil {
			return nil, err
		}
		return backend.GatherChannels(args[0], order), nil
	}
	return nil, errors.Errorf("cannot evaluate %s layer", n.Kind())
}

func globalPool(x *tensor.RawTensor, op PoolingOperator) *tensor.RawTensor {
	shape := x.Shape()
	c := shape[len(shape)-1]
	pixels := x.NumElements() / c
	result, _ := tensor.NewRaw(tensor.Shape{1, 1, c})
	src := x.AsFloat32()
	dst := result.AsFloat32()
	for ch := 0; ch < c; ch++ {
		acc := float32(math.Inf(-1))
		if op == PoolAverage {
			acc = 0
		}
		for p := 0; p < pixels; p++ {
			v := src[p*c+ch]
			if op == PoolAverage {
				acc += v
			} else if v > acc {
				acc = v
			}
		}
		if op == PoolAverage {
			acc /= float32(pixels)
		}
		dst[ch] = acc
	}
	return result
}

func batchNorm(x *tensor.RawTensor, bn BatchNorm) *tensor.RawTensor {
	result := x.Clone()
	data := result.AsFloat32()
	c := len(bn.Gamma)
	for i, v := range data {
		ch := i % c
		scale := bn.Gamma[ch] / float32(math.Sqrt(float64(bn.Variance[ch]+bn.Epsilon)))
		data[i] = (v-bn.Mean[ch])*scale + bn.Beta[ch]
	}
	return result
}

// dependencyOrder sorts nodes so that every node follows its inbound nodes.
func dependencyOrder(g *Graph) ([]*Node, error) {
	pending := make(map[*Node]int, len(g.Nodes))
	var ready []*Node
	for _, n := range g.Nodes {
		pending[n] = len(n.Inbound)
		if len(n.Inbound) == 0 {
			ready = append(ready, n)
		}
	}

	order := make([]*Node, 0, len(g.Nodes))
	for len(ready) > 0 {
		n := ready[0]
		ready = ready[1:]
		order = append(order, n)
		for _, next := range n.Outbound {
			pending[next]--
			if pending[next] == 0 {
				ready = append(ready, next)
			}
		}
	}
	if len(order) != len(g.Nodes) {
		return nil, errors.New("graph has a cycle")
	}
	return order, nil
}
