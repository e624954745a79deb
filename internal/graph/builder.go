package graph

import (
	"github.com/pkg/errors"

	"github.com/born-ml/nnexport/internal/backend/cpu"
	"github.com/born-ml/nnexport/internal/tensor"
)

// Builder assembles a graph layer by layer.
//
// Each method returns the new node. The first error is kept and reported by
// Build; once an error occurred, methods return nil and do nothing.
//
//	b := graph.NewBuilder()
//	x := b.Input("input", 32, 32, 3)
//	x = b.Conv2D("conv", x, kernel, nil, 1, graph.PaddingSame)
//	x = b.BatchNormalization("bn", x, gamma, beta, mean, variance, 1e-3)
//	x = b.Activation("act", x, graph.ActivationBRelu6)
//	g, err := b.Build(x)
type Builder struct {
	graph *Graph
	err   error
}

// NewBuilder creates a builder for an empty graph.
func NewBuilder() *Builder {
	return &Builder{graph: newGraph()}
}

// Err returns the first error encountered.
func (b *Builder) Err() error {
	return b.err
}

// Layer adds a layer consuming the given inputs.
func (b *Builder) Layer(name string, layer Layer, inputs ...*Node) *Node {
	if b.err != nil {
		return nil
	}
	if name == "" {
		b.err = errors.Errorf("%s layer has no name", KindOf(layer))
		return nil
	}
	if _, exists := b.graph.byName[name]; exists {
		b.err = errors.Errorf("duplicate layer name %q", name)
		return nil
	}
	for i, in := range inputs {
		if in == nil {
			b.err = errors.Errorf("layer %q: input %d is nil", name, i)
			return nil
		}
	}

	shape, err := inferShape(layer, inputs)
	if err != nil {
		b.err = errors.WithMessagef(err, "layer %q", name)
		return nil
	}

	n := &Node{Name: name, Layer: layer, Shape: shape}
	for _, in := range inputs {
		b.graph.Connect(in, n)
	}
	b.graph.add(n)
	if _, ok := layer.(Input); ok {
		b.graph.Inputs = append(b.graph.Inputs, n)
	}
	return n
}

// Input adds a model input of shape [height, width, channels].
func (b *Builder) Input(name string, shape ...int) *Node {
	return b.Layer(name, Input{Shape: tensor.Shape(shape).Clone()})
}

// Conv2D adds a convolution with a [kh, kw, in/groups, filters] kernel.
// The group count is deduced from the kernel and the input channels.
// A nil bias disables it.
func (b *Builder) Conv2D(name string, x *Node, kernel, bias *tensor.RawTensor, stride int, padding Padding) *Node {
	if b.err != nil || x == nil || kernel == nil {
		return b.Layer(name, Conv2D{}, x)
	}
	ks := kernel.Shape()
	layer := Conv2D{
		Strides: [2]int{stride, stride},
		Padding: padding,
		UseBias: bias != nil,
		Kernel:  kernel,
		Bias:    bias,
		Groups:  1,
	}
	if len(ks) == 4 {
		layer.KernelSize = [2]int{ks[0], ks[1]}
		layer.Filters = ks[3]
		if c := x.Shape[len(x.Shape)-1]; ks[2] > 0 && c%ks[2] == 0 {
			layer.Groups = c / ks[2]
		}
	}
	return b.Layer(name, layer, x)
}

// DepthwiseConv2D adds a depthwise convolution with a [kh, kw, in, multiplier] kernel.
func (b *Builder) DepthwiseConv2D(name string, x *Node, kernel, bias *tensor.RawTensor, stride int, padding Padding) *Node {
	if b.err != nil || x == nil || kernel == nil {
		return b.Layer(name, Conv2D{Depthwise: true}, x)
	}
	ks := kernel.Shape()
	layer := Conv2D{
		Strides:   [2]int{stride, stride},
		Padding:   padding,
		UseBias:   bias != nil,
		Depthwise: true,
		Kernel:    kernel,
		Bias:      bias,
	}
	if len(ks) == 4 {
		layer.KernelSize = [2]int{ks[0], ks[1]}
		layer.Filters = ks[2] * ks[3]
		layer.Groups = ks[2]
	}
	return b.Layer(name, layer, x)
}

// Dense adds a fully connected layer with a [in, units] kernel.
func (b *Builder) Dense(name string, x *Node, kernel, bias *tensor.RawTensor) *Node {
	layer := Dense{UseBias: bias != nil, Kernel: kernel, Bias: bias}
	if kernel != nil && len(kernel.Shape()) == 2 {
		layer.Units = kernel.Shape()[1]
	}
	return b.Layer(name, layer, x)
}

// MaxPooling2D adds a square max pooling.
func (b *Builder) MaxPooling2D(name string, x *Node, size, stride int, padding Padding) *Node {
	return b.Layer(name, Pooling2D{
		Operator: PoolMax,
		PoolSize: [2]int{size, size},
		Strides:  [2]int{stride, stride},
		Padding:  padding,
	}, x)
}

// AveragePooling2D adds a square average pooling.
func (b *Builder) AveragePooling2D(name string, x *Node, size, stride int, padding Padding) *Node {
	return b.Layer(name, Pooling2D{
		Operator: PoolAverage,
		PoolSize: [2]int{size, size},
		Strides:  [2]int{stride, stride},
		Padding:  padding,
	}, x)
}

// GlobalMaxPooling2D adds a global max pooling.
func (b *Builder) GlobalMaxPooling2D(name string, x *Node) *Node {
	return b.Layer(name, GlobalPooling2D{Operator: PoolMax}, x)
}

// GlobalAveragePooling2D adds a global average pooling.
func (b *Builder) GlobalAveragePooling2D(name string, x *Node) *Node {
	return b.Layer(name, GlobalPooling2D{Operator: PoolAverage}, x)
}

// Activation adds a nonlinearity.
func (b *Builder) Activation(name string, x *Node, fn ActivationFunc) *Node {
	return b.Layer(name, Activation{Func: fn}, x)
}

// BoundedReLU adds clip(x, 0, maxValue).
func (b *Builder) BoundedReLU(name string, x *Node, maxValue float32) *Node {
	return b.Layer(name, Activation{Func: ActivationBoundedRelu, MaxValue: maxValue}, x)
}

// BatchNormalization adds an inference-mode batch normalization.
func (b *Builder) BatchNormalization(name string, x *Node, gamma, beta, mean, variance []float32, epsilon float32) *Node {
	return b.Layer(name, BatchNorm{Gamma: gamma, Beta: beta, Mean: mean, Variance: variance, Epsilon: epsilon}, x)
}

// Add adds the elementwise sum of two layers.
func (b *Builder) Add(name string, x, y *Node) *Node {
	return b.Layer(name, Add{}, x, y)
}

// Flatten adds a flattening layer.
func (b *Builder) Flatten(name string, x *Node) *Node {
	return b.Layer(name, Flatten{}, x)
}

// Softmax adds a softmax layer.
func (b *Builder) Softmax(name string, x *Node) *Node {
	return b.Layer(name, Softmax{}, x)
}

// Shuffle adds a channel shuffle. 4*step must divide the channel count.
func (b *Builder) Shuffle(name string, x *Node, step int) *Node {
	return b.Layer(name, Shuffle{Step: step}, x)
}

// Build returns the graph with the given declared outputs.
func (b *Builder) Build(outputs ...*Node) (*Graph, error) {
	if b.err != nil {
		return nil, b.err
	}
	if len(b.graph.Inputs) == 0 {
		return nil, errors.New("graph has no input")
	}
	for i, out := range outputs {
		if out == nil {
			return nil, errors.Errorf("output %d is nil", i)
		}
		if n, ok := b.graph.byName[out.Name]; !ok || n != out {
			return nil, errors.Errorf("output %q does not belong to the graph", out.Name)
		}
	}
	b.graph.Outputs = append([]*Node(nil), outputs...)
	return b.graph, nil
}

func inferShape(layer Layer, inputs []*Node) (tensor.Shape, error) {
	arity := 1
	switch layer.(type) {
	case Input:
		arity = 0
	case Add:
		arity = 2
	}
	if len(inputs) != arity {
		return nil, errors.Errorf("%s takes %d input(s), got %d", KindOf(layer), arity, len(inputs))
	}
	var in tensor.Shape
	if arity > 0 {
		in = inputs[0].Shape
	}

	switch l := layer.(type) {
	case Input:
		if len(l.Shape) != 3 {
			return nil, errors.Errorf("input shape must be [H,W,C], got %v", l.Shape)
		}
		if err := l.Shape.Validate(); err != nil {
			return nil, err
		}
		return l.Shape.Clone(), nil

	case Conv2D:
		return conv2DShape(l, in)

	case Dense:
		if l.Kernel == nil || len(l.Kernel.Shape()) != 2 {
			return nil, errors.New("dense kernel must be [in, units]")
		}
		ks := l.Kernel.Shape()
		if ks[0] != in.NumElements() {
			return nil, errors.Errorf("dense kernel expects %d inputs, got shape %v", ks[0], in)
		}
		if l.Units != ks[1] {
			return nil, errors.Errorf("dense kernel has %d units, layer declares %d", ks[1], l.Units)
		}
		if err := checkBias(l.UseBias, l.Bias, l.Units); err != nil {
			return nil, err
		}
		return tensor.Shape{l.Units}, nil

	case Pooling2D:
		if len(in) != 3 {
			return nil, errors.Errorf("pooling expects [H,W,C] input, got %v", in)
		}
		return window(in, l.PoolSize, l.Strides, l.Padding, in[2])

	case GlobalPooling2D:
		if len(in) != 3 {
			return nil, errors.Errorf("global pooling expects [H,W,C] input, got %v", in)
		}
		return tensor.Shape{1, 1, in[2]}, nil

	case Activation:
		if l.Func == ActivationBoundedRelu && !(l.MaxValue > 0) {
			return nil, errors.Errorf("bounded ReLU needs a positive max value, got %v", l.MaxValue)
		}
		return in.Clone(), nil

	case BatchNorm:
		c := in[len(in)-1]
		for _, p := range [][]float32{l.Gamma, l.Beta, l.Mean, l.Variance} {
			if len(p) != c {
				return nil, errors.Errorf("batch normalization parameters must have %d entries, got %d", c, len(p))
			}
		}
		return in.Clone(), nil

	case Add:
		if !in.Equal(inputs[1].Shape) {
			return nil, errors.Errorf("cannot add shapes %v and %v", in, inputs[1].Shape)
		}
		return in.Clone(), nil

	case Flatten:
		return tensor.Shape{in.NumElements()}, nil

	case Softmax, Unsupported:
		return in.Clone(), nil

	case Shuffle:
		c := in[len(in)-1]
		if l.Step <= 0 || c%(4*l.Step) != 0 {
			return nil, errors.Errorf("shuffle step %d requires a multiple of %d channels, got %d", l.Step, 4*l.Step, c)
		}
		return in.Clone(), nil
	}
	return nil, errors.Errorf("unknown layer type %T", layer)
}

func conv2DShape(l Conv2D, in tensor.Shape) (tensor.Shape, error) {
	if len(in) != 3 {
		return nil, errors.Errorf("convolution expects [H,W,C] input, got %v", in)
	}
	if l.Kernel == nil || len(l.Kernel.Shape()) != 4 {
		return nil, errors.New("convolution kernel must be 4D")
	}
	ks := l.Kernel.Shape()
	c := in[2]
	if ks[0] != l.KernelSize[0] || ks[1] != l.KernelSize[1] {
		return nil, errors.Errorf("kernel %v does not match kernel size %v", ks, l.KernelSize)
	}
	if l.Depthwise {
		if ks[2] != c || l.Groups != c || l.Filters != c*ks[3] {
			return nil, errors.Errorf("depthwise kernel %v does not match %d input channels", ks, c)
		}
	} else {
		if l.Groups <= 0 || c%l.Groups != 0 || ks[2] != c/l.Groups {
			return nil, errors.Errorf("kernel %v does not match %d input channels in %d groups", ks, c, l.Groups)
		}
		if l.Filters != ks[3] || l.Filters%l.Groups != 0 {
			return nil, errors.Errorf("kernel %v does not match %d filters in %d groups", ks, l.Filters, l.Groups)
		}
	}
	if err := checkBias(l.UseBias, l.Bias, l.Filters); err != nil {
		return nil, err
	}
	return window(in, l.KernelSize, l.Strides, l.Padding, l.Filters)
}

func window(in tensor.Shape, size, strides [2]int, padding Padding, channels int) (tensor.Shape, error) {
	if size[0] <= 0 || size[1] <= 0 || strides[0] <= 0 || strides[1] <= 0 {
		return nil, errors.Errorf("invalid window %v with strides %v", size, strides)
	}
	h, _ := cpu.OutputSize(in[0], size[0], strides[0], padding == PaddingSame)
	w, _ := cpu.OutputSize(in[1], size[1], strides[1], padding == PaddingSame)
	if h <= 0 || w <= 0 {
		return nil, errors.Errorf("window %v does not fit input %v", size, in)
	}
	return tensor.Shape{h, w, channels}, nil
}

func checkBias(useBias bool, bias *tensor.RawTensor, n int) error {
	if !useBias {
		if bias != nil {
			return errors.New("bias given for a layer without bias")
		}
		return nil
	}
	if bias == nil || bias.NumElements() != n {
		return errors.Errorf("bias must have %d entries", n)
	}
	return nil
}
