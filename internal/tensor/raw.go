package tensor

import (
	"fmt"
	"math"
	"unsafe"
)

// RawTensor is a contiguous row-major float32 tensor with an explicit shape.
//
// Unlike the reference-counted tensors of a training framework, a RawTensor
// owns its buffer exclusively: fusion steps rescale weights in place.
type RawTensor struct {
	data   []byte
	shape  Shape
	stride []int
}

// NewRaw creates a zero-filled tensor with the given shape.
func NewRaw(shape Shape) (*RawTensor, error) {
	if err := shape.Validate(); err != nil {
		return nil, fmt.Errorf("invalid shape: %w", err)
	}
	return &RawTensor{
		data:   make([]byte, shape.NumElements()*Float32.Size()),
		shape:  shape.Clone(),
		stride: shape.ComputeStrides(),
	}, nil
}

// FromFloat32 creates a tensor holding a copy of values.
func FromFloat32(values []float32, shape Shape) (*RawTensor, error) {
	t, err := NewRaw(shape)
	if err != nil {
		return nil, err
	}
	if len(values) != t.NumElements() {
		return nil, fmt.Errorf("got %d values for shape %v (%d elements)", len(values), shape, t.NumElements())
	}
	copy(t.AsFloat32(), values)
	return t, nil
}

// Shape returns the tensor's shape.
func (r *RawTensor) Shape() Shape {
	return r.shape
}

// Strides returns the tensor's memory strides.
func (r *RawTensor) Strides() []int {
	return r.stride
}

// NumElements returns the total number of elements.
func (r *RawTensor) NumElements() int {
	return r.shape.NumElements()
}

// ByteSize returns the total memory size in bytes.
func (r *RawTensor) ByteSize() int {
	return len(r.data)
}

// Data returns the raw little-endian byte slice.
// WARNING: Direct access to underlying memory. Use with caution.
func (r *RawTensor) Data() []byte {
	return r.data
}

// AsFloat32 interprets the data as []float32.
func (r *RawTensor) AsFloat32() []float32 {
	//nolint:gosec // unsafe.Slice for zero-copy access, bounds checked by NumElements()
	return unsafe.Slice((*float32)(unsafe.Pointer(&r.data[0])), r.NumElements())
}

// Clone returns a deep copy of the tensor.
func (r *RawTensor) Clone() *RawTensor {
	data := make([]byte, len(r.data))
	copy(data, r.data)
	return &RawTensor{
		data:   data,
		shape:  r.shape.Clone(),
		stride: append([]int(nil), r.stride...),
	}
}

// Equal reports whether both tensors have the same shape and bit-identical values.
func (r *RawTensor) Equal(other *RawTensor) bool {
	if other == nil || !r.shape.Equal(other.shape) {
		return false
	}
	a, b := r.AsFloat32(), other.AsFloat32()
	for i := range a {
		if math.Float32bits(a[i]) != math.Float32bits(b[i]) {
			return false
		}
	}
	return true
}

// Reshape returns a copy of the tensor viewed with a new shape of the same size.
func (r *RawTensor) Reshape(shape Shape) (*RawTensor, error) {
	if err := shape.Validate(); err != nil {
		return nil, fmt.Errorf("invalid shape: %w", err)
	}
	if shape.NumElements() != r.NumElements() {
		return nil, fmt.Errorf("cannot reshape %v into %v", r.shape, shape)
	}
	out := r.Clone()
	out.shape = shape.Clone()
	out.stride = shape.ComputeStrides()
	return out, nil
}

// Scale multiplies every element by factor in place.
func (r *RawTensor) Scale(factor float32) {
	data := r.AsFloat32()
	for i := range data {
		data[i] *= factor
	}
}

// ScaleAxis multiplies the slice at index i along axis by scale[i], in place.
func (r *RawTensor) ScaleAxis(axis int, scale []float32) error {
	if axis < 0 || axis >= len(r.shape) {
		return fmt.Errorf("axis %d out of range for shape %v", axis, r.shape)
	}
	if r.shape[axis] != len(scale) {
		return fmt.Errorf("axis %d has size %d, got %d scale factors", axis, r.shape[axis], len(scale))
	}

	// View the tensor as [outer, len(scale), inner].
	inner := r.stride[axis]
	outer := r.NumElements() / (inner * len(scale))
	data := r.AsFloat32()
	for o := 0; o < outer; o++ {
		for i, s := range scale {
			base := (o*len(scale) + i) * inner
			for k := 0; k < inner; k++ {
				data[base+k] *= s
			}
		}
	}
	return nil
}

// Permute returns a new tensor with axes reordered so that output axis i is input axis perm[i].
func (r *RawTensor) Permute(perm ...int) (*RawTensor, error) {
	if len(perm) != len(r.shape) {
		return nil, fmt.Errorf("permutation %v does not match rank %d", perm, len(r.shape))
	}
	seen := make([]bool, len(perm))
	outShape := make(Shape, len(perm))
	for i, p := range perm {
		if p < 0 || p >= len(perm) || seen[p] {
			return nil, fmt.Errorf("invalid permutation %v", perm)
		}
		seen[p] = true
		outShape[i] = r.shape[p]
	}

	out, err := NewRaw(outShape)
	if err != nil {
		return nil, err
	}
	src := r.AsFloat32()
	dst := out.AsFloat32()
	index := make([]int, len(outShape))
	for flat := range dst {
		// Decompose the output flat index, then gather through the input strides.
		rem := flat
		for i := range outShape {
			index[i] = rem / out.stride[i]
			rem %= out.stride[i]
		}
		offset := 0
		for i, p := range perm {
			offset += index[i] * r.stride[p]
		}
		dst[flat] = src[offset]
	}
	return out, nil
}
