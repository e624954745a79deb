package convert

import (
	"fmt"

	"github.com/pkg/errors"

	"github.com/born-ml/nnexport/internal/graph"
)

// Reason classifies a conversion failure.
type Reason int

const (
	ReasonUnsupportedLayer Reason = iota + 1
	ReasonUnsupportedActivation
	ReasonInvalidActivation
	ReasonNonSquareKernel
	ReasonNonSquarePooling
	ReasonGlobalPoolingShape
	ReasonMissingActivation
	ReasonActivationRedefined
	ReasonBatchNormRedefined
	ReasonResidualRedefined
	ReasonResidualTerms
	ReasonBiasWithBatchNorm
	ReasonBatchNormChannels
	ReasonWithinAccumulation
	ReasonNotInAccumulation
	ReasonGainMismatch
	ReasonSoftmaxGain
	ReasonNonUnityOutputGain
	ReasonChainedShuffle
	ReasonDanglingShuffle
	ReasonInputShuffle
	ReasonUnreachableLayer
	ReasonInputNotExported
	ReasonOutputNotExported
)

var reasonText = map[Reason]string{
	ReasonUnsupportedLayer:      "unsupported layer type",
	ReasonUnsupportedActivation: "unsupported activation function",
	ReasonInvalidActivation:     "invalid activation parameters",
	ReasonNonSquareKernel:       "square Conv2D kernels with equal strides are supported only",
	ReasonNonSquarePooling:      "square 2D pooling with equal strides is supported only",
	ReasonGlobalPoolingShape:    "global pooling is supported on square inputs only",
	ReasonMissingActivation:     "activation function is missing",
	ReasonActivationRedefined:   "activation function is redefined",
	ReasonBatchNormRedefined:    "another batch normalization is present",
	ReasonResidualRedefined:     "residual connection is already used",
	ReasonResidualTerms:         "residual add must have one exported term and one term from the convolution",
	ReasonBiasWithBatchNorm:     "bias defined when exporting batch normalization",
	ReasonBatchNormChannels:     "batch normalization does not match the convolution channels",
	ReasonWithinAccumulation:    "cannot export this layer within a Conv2D block",
	ReasonNotInAccumulation:     "layer is only supported after Conv2D",
	ReasonGainMismatch:          "gain mismatch, cannot export residual connection",
	ReasonSoftmaxGain:           "softmax input has non-unity gain",
	ReasonNonUnityOutputGain:    "model output has non-unity gain",
	ReasonChainedShuffle:        "cannot have multiple Shuffle layers connected",
	ReasonDanglingShuffle:       "a layer after Shuffle is required",
	ReasonInputShuffle:          "model input cannot feed a shuffle or a residual connection directly",
	ReasonUnreachableLayer:      "the layer was not discovered during model scanning",
	ReasonInputNotExported:      "layer input is not exported",
	ReasonOutputNotExported:     "model output is not exported",
}

func (r Reason) String() string {
	if s, ok := reasonText[r]; ok {
		return s
	}
	return fmt.Sprintf("reason(%d)", int(r))
}

// ConversionError reports why a graph cannot be converted.
type ConversionError struct {
	// Layer is the name of the offending layer.
	Layer  string
	Reason Reason
	// Detail adds context to the reason, if any.
	Detail string
}

func (e *ConversionError) Error() string {
	if e.Detail == "" {
		return fmt.Sprintf("cannot convert %q: %s", e.Layer, e.Reason)
	}
	return fmt.Sprintf("cannot convert %q: %s: %s", e.Layer, e.Reason, e.Detail)
}

// AsConversionError extracts a *ConversionError from err.
func AsConversionError(err error) (*ConversionError, bool) {
	var ce *ConversionError
	if errors.As(err, &ce) {
		return ce, true
	}
	return nil, false
}

func reject(n *graph.Node, reason Reason, format string, args ...any) error {
	name := "<nil>"
	if n != nil {
		name = n.Name
	}
	return errors.WithStack(&ConversionError{
		Layer:  name,
		Reason: reason,
		Detail: fmt.Sprintf(format, args...),
	})
}
