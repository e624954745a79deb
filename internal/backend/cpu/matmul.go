package cpu

import (
	"fmt"

	"github.com/born-ml/nnexport/internal/tensor"
)

// Dense computes matrix · x + bias for a flattened input.
//
// Matrix shape: [units, inputs]; bias is optional (nil) and has units entries.
// Output shape: [units]
func (cpu *CPUBackend) Dense(x, matrix *tensor.RawTensor, bias []float32) *tensor.RawTensor {
	matrixShape := matrix.Shape()
	if len(matrixShape) != 2 {
		panic(fmt.Sprintf("dense: matrix must be 2D [units,inputs], got %dD", len(matrixShape)))
	}
	units, inputs := matrixShape[0], matrixShape[1]
	if x.NumElements() != inputs {
		panic(fmt.Sprintf("dense: input has %d elements, matrix expects %d", x.NumElements(), inputs))
	}
	if bias != nil && len(bias) != units {
		panic(fmt.Sprintf("dense: bias has %d entries, want %d", len(bias), units))
	}

	output, err := tensor.NewRaw(tensor.Shape{units})
	if err != nil {
		panic(fmt.Sprintf("dense: %v", err))
	}
	in := x.AsFloat32()
	m := matrix.AsFloat32()
	out := output.AsFloat32()
	for u := 0; u < units; u++ {
		sum := float32(0)
		if bias != nil {
			sum = bias[u]
		}
		row := m[u*inputs : (u+1)*inputs]
		for i, v := range in {
			sum += row[i] * v
		}
		out[u] = sum
	}
	return output
}
