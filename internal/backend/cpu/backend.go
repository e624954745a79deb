// Package cpu implements the float32 reference kernels used to evaluate source
// layer graphs and exported operator graphs on the CPU.
//
// All kernels work on a single image in HWC layout ([height, width, channels])
// without a batch dimension. Shape contract violations panic: callers validate
// user-provided models before dispatching to the backend.
package cpu

import (
	"fmt"

	"github.com/born-ml/nnexport/internal/parallel"
	"github.com/born-ml/nnexport/internal/tensor"
)

// CPUBackend implements the reference kernels.
//
// Convolution and pooling split output rows across goroutines according to
// the backend's parallel configuration. Every row is computed independently,
// so results do not depend on the split.
type CPUBackend struct {
	parallel parallel.Config
}

// New creates a new CPU backend using all available cores.
func New() *CPUBackend {
	return NewWithConfig(parallel.DefaultConfig())
}

// NewWithConfig creates a CPU backend with an explicit parallel configuration.
func NewWithConfig(cfg parallel.Config) *CPUBackend {
	return &CPUBackend{parallel: cfg}
}

// Name returns the backend name.
func (cpu *CPUBackend) Name() string {
	return "CPU"
}

// Add performs element-wise addition of two tensors of the same shape.
func (cpu *CPUBackend) Add(a, b *tensor.RawTensor) *tensor.RawTensor {
	if !a.Shape().Equal(b.Shape()) {
		panic(fmt.Sprintf("add: shapes %v and %v differ", a.Shape(), b.Shape()))
	}
	result := a.Clone()
	dst := result.AsFloat32()
	for i, v := range b.AsFloat32() {
		dst[i] += v
	}
	return result
}

// Map applies fn to every element and returns a new tensor.
func (cpu *CPUBackend) Map(x *tensor.RawTensor, fn func(float32) float32) *tensor.RawTensor {
	result := x.Clone()
	data := result.AsFloat32()
	for i, v := range data {
		data[i] = fn(v)
	}
	return result
}

// Flatten reshapes a tensor into a vector, keeping the HWC element order.
func (cpu *CPUBackend) Flatten(x *tensor.RawTensor) *tensor.RawTensor {
	result, err := x.Reshape(tensor.Shape{x.NumElements()})
	if err != nil {
		panic(fmt.Sprintf("flatten: %v", err))
	}
	return result
}

// GatherChannels reorders the last axis: output channel i is input channel order[i].
func (cpu *CPUBackend) GatherChannels(x *tensor.RawTensor, order []int) *tensor.RawTensor {
	shape := x.Shape()
	channels := shape[len(shape)-1]
	if len(order) != channels {
		panic(fmt.Sprintf("gather: %d indices for %d channels", len(order), channels))
	}

	result, err := tensor.NewRaw(shape)
	if err != nil {
		panic(fmt.Sprintf("gather: %v", err))
	}
	src := x.AsFloat32()
	dst := result.AsFloat32()
	for pixel := 0; pixel < len(src)/channels; pixel++ {
		base := pixel * channels
		for i, c := range order {
			dst[base+i] = src[base+c]
		}
	}
	return result
}
