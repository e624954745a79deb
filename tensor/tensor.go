// Copyright 2025 Born ML Framework. All rights reserved.
// Use of this source code is governed by an Apache 2.0
// license that can be found in the LICENSE file.

package tensor

import (
	"github.com/born-ml/nnexport/internal/tensor"
)

// RawTensor is a dense float32 tensor.
//
// RawTensor provides:
//   - Shape information via Shape() and NumElements()
//   - Direct data access via AsFloat32()
//   - Deep copies via Clone()
//
// Example:
//
//	raw, _ := tensor.NewRaw(tensor.Shape{2, 3})
//	data := raw.AsFloat32()
//	clone := raw.Clone()
type RawTensor = tensor.RawTensor

// Shape is the extent of every axis, outermost first.
type Shape = tensor.Shape

// DataType is the storage type of serialized weights.
type DataType = tensor.DataType

// Storage types.
const (
	Float32 = tensor.Float32
	Float16 = tensor.Float16
)

// NewRaw allocates a zero-filled tensor.
func NewRaw(shape Shape) (*RawTensor, error) {
	return tensor.NewRaw(shape)
}

// FromFloat32 creates a tensor holding a copy of values.
// The number of values must match the shape.
func FromFloat32(values []float32, shape Shape) (*RawTensor, error) {
	return tensor.FromFloat32(values, shape)
}

// MustFromFloat32 is like FromFloat32 but panics on error.
func MustFromFloat32(values []float32, shape Shape) *RawTensor {
	raw, err := tensor.FromFloat32(values, shape)
	if err != nil {
		panic(err)
	}
	return raw
}
