package nnets

import (
	"strings"

	"github.com/pkg/errors"
)

// Padding is the zero-padding policy of sliding-window operations.
type Padding int

const (
	// PaddingValid uses no padding: the output shrinks by kernel-1.
	PaddingValid Padding = iota
	// PaddingSame pads so that the output size is ceil(input/stride).
	PaddingSame
)

// String returns the listing representation of the padding.
func (p Padding) String() string {
	switch p {
	case PaddingValid:
		return "valid"
	case PaddingSame:
		return "same"
	default:
		return "unknown"
	}
}

// ParsePadding parses a padding name, ignoring case.
func ParsePadding(s string) (Padding, error) {
	switch strings.ToLower(s) {
	case "valid":
		return PaddingValid, nil
	case "same":
		return PaddingSame, nil
	}
	return 0, errors.Errorf("invalid padding %q", s)
}

// ActivationFunction is the nonlinearity applied by a Conv2D operation.
// All functions produce values in [0, 1].
type ActivationFunction int

const (
	// ActivationDefault clips its input to [0, 1].
	ActivationDefault ActivationFunction = iota
	// ActivationBRelu6 computes 0.167*x clipped to [0, 1].
	ActivationBRelu6
	// ActivationSigmoidLike computes the piecewise-linear sigmoid clip(0.2*x + 0.5, 0, 1).
	ActivationSigmoidLike
)

// BRelu6Slope is the multiplier applied by ActivationBRelu6 before clipping.
const BRelu6Slope = 0.167

// String returns the listing representation of the activation.
func (a ActivationFunction) String() string {
	switch a {
	case ActivationDefault:
		return "default"
	case ActivationBRelu6:
		return "brelu6"
	case ActivationSigmoidLike:
		return "sigmoid_like"
	default:
		return "unknown"
	}
}

// Apply evaluates the activation on a single value.
func (a ActivationFunction) Apply(x float32) float32 {
	switch a {
	case ActivationBRelu6:
		x *= BRelu6Slope
	case ActivationSigmoidLike:
		x = 0.2*x + 0.5
	}
	if x < 0 {
		return 0
	}
	if x > 1 {
		return 1
	}
	return x
}

// ParseActivation parses an activation name, ignoring case.
func ParseActivation(s string) (ActivationFunction, error) {
	switch strings.ToLower(s) {
	case "default":
		return ActivationDefault, nil
	case "brelu6":
		return ActivationBRelu6, nil
	case "sigmoid_like":
		return ActivationSigmoidLike, nil
	}
	return 0, errors.Errorf("invalid activation function %q", s)
}

// PoolingOperator selects the reduction of a Pooling2D operation.
type PoolingOperator int

const (
	// PoolingMax takes the maximum over the window.
	PoolingMax PoolingOperator = iota
	// PoolingAverage takes the mean over the window.
	PoolingAverage
)

// String returns the listing representation of the operator.
func (p PoolingOperator) String() string {
	switch p {
	case PoolingMax:
		return "max"
	case PoolingAverage:
		return "average"
	default:
		return "unknown"
	}
}

// ParsePoolingOperator parses a pooling operator name, ignoring case.
func ParsePoolingOperator(s string) (PoolingOperator, error) {
	switch strings.ToLower(s) {
	case "max":
		return PoolingMax, nil
	case "average", "avg":
		return PoolingAverage, nil
	}
	return 0, errors.Errorf("invalid pooling operator %q", s)
}
