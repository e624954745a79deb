package convert

import (
	"math"

	"github.com/pkg/errors"

	"github.com/born-ml/nnexport/internal/graph"
	"github.com/born-ml/nnexport/internal/tensor"
)

// FoldBatchNorm folds a batch normalization into the filters of the
// convolution it follows. It returns the scaled filters and the bias that
// replaces the normalization; the input filters are left untouched.
//
// Per output channel:
//
//	scale = gamma / sqrt(variance + epsilon)
//	bias  = beta - mean * scale
//
// Filters are [kh, kw, in/groups, out], or [kh, kw, in, multiplier] when
// depthwise is set, in which case the scale runs along the input channel axis.
func FoldBatchNorm(filters *tensor.RawTensor, bn graph.BatchNorm, depthwise bool) (*tensor.RawTensor, *tensor.RawTensor, error) {
	shape := filters.Shape()
	if len(shape) != 4 {
		return nil, nil, errors.Errorf("filters must be 4D, got %v", shape)
	}
	channels := shape[3]
	if depthwise {
		channels = shape[2] * shape[3]
	}
	for _, p := range [][]float32{bn.Gamma, bn.Beta, bn.Mean, bn.Variance} {
		if len(p) != channels {
			return nil, nil, errors.Errorf("%d batch normalization channels for %d convolution channels", len(p), channels)
		}
	}

	scale := make([]float32, channels)
	bias := make([]float32, channels)
	for i := range scale {
		scale[i] = bn.Gamma[i] / float32(math.Sqrt(float64(bn.Variance[i]+bn.Epsilon)))
		bias[i] = -bn.Mean[i]*scale[i] + bn.Beta[i]
	}

	scaled := filters.Clone()
	if depthwise && shape[3] > 1 {
		// Output channel c*multiplier+m is the innermost index of the last two axes.
		data := scaled.AsFloat32()
		for i := range data {
			data[i] *= scale[i%channels]
		}
	} else {
		axis := 3
		if depthwise {
			axis = 2
		}
		if err := scaled.ScaleAxis(axis, scale); err != nil {
			return nil, nil, err
		}
	}

	biasTensor, err := tensor.FromFloat32(bias, tensor.Shape{channels})
	if err != nil {
		return nil, nil, err
	}
	return scaled, biasTensor, nil
}
