package graph

import (
	"github.com/born-ml/nnexport/internal/tensor"
)

// Padding is the zero-padding policy of sliding-window layers.
type Padding int

const (
	// PaddingValid applies the window only where it fits entirely.
	PaddingValid Padding = iota
	// PaddingSame pads the input so that the output size is ceil(input/stride).
	PaddingSame
)

func (p Padding) String() string {
	if p == PaddingSame {
		return "same"
	}
	return "valid"
}

// PoolingOperator selects the reduction of pooling layers.
type PoolingOperator int

const (
	PoolMax PoolingOperator = iota
	PoolAverage
)

func (p PoolingOperator) String() string {
	if p == PoolAverage {
		return "average"
	}
	return "max"
}

// ActivationFunc enumerates the supported nonlinearities.
type ActivationFunc int

const (
	// ActivationClip is the identity clipped to [0, 1].
	ActivationClip ActivationFunc = iota
	// ActivationBRelu6 is 0.167*x clipped to [0, 1].
	ActivationBRelu6
	// ActivationHardSigmoid is clip(0.2*x + 0.5, 0, 1).
	ActivationHardSigmoid
	// ActivationBoundedRelu is clip(x, 0, MaxValue).
	ActivationBoundedRelu
)

func (f ActivationFunc) String() string {
	switch f {
	case ActivationClip:
		return "clip"
	case ActivationBRelu6:
		return "brelu6"
	case ActivationHardSigmoid:
		return "hard_sigmoid"
	case ActivationBoundedRelu:
		return "bounded_relu"
	default:
		return "unknown"
	}
}

// Layer is the payload of a graph node. The set of layers is closed; layers
// are stored by value.
type Layer interface {
	layer()
}

// Input is a model input of the given HWC shape.
type Input struct {
	Shape tensor.Shape
}

// Conv2D is a 2D convolution.
//
// Kernel is [kh, kw, in/Groups, Filters]. A depthwise convolution has
// Depthwise set, Groups equal to the input channel count and a
// [kh, kw, in, multiplier] kernel; Filters is then in*multiplier.
// Bias is nil unless UseBias is set.
type Conv2D struct {
	KernelSize [2]int
	Strides    [2]int
	Padding    Padding
	Filters    int
	UseBias    bool
	Groups     int
	Depthwise  bool
	Kernel     *tensor.RawTensor
	Bias       *tensor.RawTensor
}

// Dense is a fully connected layer with a [in, Units] kernel.
type Dense struct {
	Units   int
	UseBias bool
	Kernel  *tensor.RawTensor
	Bias    *tensor.RawTensor
}

// Pooling2D is a local pooling layer.
type Pooling2D struct {
	Operator PoolingOperator
	PoolSize [2]int
	Strides  [2]int
	Padding  Padding
}

// GlobalPooling2D reduces every channel to a single value.
type GlobalPooling2D struct {
	Operator PoolingOperator
}

// Activation applies a nonlinearity. MaxValue is only used by ActivationBoundedRelu.
type Activation struct {
	Func     ActivationFunc
	MaxValue float32
}

// Apply evaluates the activation on a single value.
func (a Activation) Apply(x float32) float32 {
	lo, hi := float32(0), float32(1)
	switch a.Func {
	case ActivationBRelu6:
		x *= 0.167
	case ActivationHardSigmoid:
		x = 0.2*x + 0.5
	case ActivationBoundedRelu:
		hi = a.MaxValue
	}
	if x < lo {
		return lo
	}
	if x > hi {
		return hi
	}
	return x
}

// BatchNorm is an inference-mode batch normalization over the last axis.
type BatchNorm struct {
	Gamma    []float32
	Beta     []float32
	Mean     []float32
	Variance []float32
	Epsilon  float32
}

// Add sums two inputs of the same shape.
type Add struct{}

// Flatten reshapes its input into a vector.
type Flatten struct{}

// Softmax normalizes its input into a probability distribution.
type Softmax struct{}

// Shuffle permutes channels by blocks of four with the given step.
type Shuffle struct {
	Step int
}

// Unsupported stands for a layer type the converter does not know.
// It passes its input shape through.
type Unsupported struct {
	Type string
}

func (Input) layer()           {}
func (Conv2D) layer()          {}
func (Dense) layer()           {}
func (Pooling2D) layer()       {}
func (GlobalPooling2D) layer() {}
func (Activation) layer()      {}
func (BatchNorm) layer()       {}
func (Add) layer()             {}
func (Flatten) layer()         {}
func (Softmax) layer()         {}
func (Shuffle) layer()         {}
func (Unsupported) layer()     {}
