package cpu

import (
	"math"

	"github.com/born-ml/nnexport/internal/tensor"
)

// Clip clamps v into [lo, hi].
func Clip(v, lo, hi float32) float32 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// Softmax computes softmax over all elements of x.
// Softmax(x_i) = exp(x_i - max) / sum(exp(x_j - max)).
func (cpu *CPUBackend) Softmax(x *tensor.RawTensor) *tensor.RawTensor {
	result := x.Clone()
	data := result.AsFloat32()

	maxVal := float32(math.Inf(-1))
	for _, v := range data {
		if v > maxVal {
			maxVal = v
		}
	}
	sum := float64(0)
	for i, v := range data {
		e := math.Exp(float64(v - maxVal))
		data[i] = float32(e)
		sum += e
	}
	for i := range data {
		data[i] = float32(float64(data[i]) / sum)
	}
	return result
}
