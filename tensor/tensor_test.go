// Copyright 2025 Born ML Framework. All rights reserved.
// Use of this source code is governed by an Apache 2.0
// license that can be found in the LICENSE file.

package tensor_test

import (
	"testing"

	"github.com/born-ml/nnexport/tensor"
)

// TestRawTensorAPI verifies RawTensor type alias exposes expected API.
func TestRawTensorAPI(t *testing.T) {
	raw, err := tensor.NewRaw(tensor.Shape{2, 3})
	if err != nil {
		t.Fatalf("NewRaw failed: %v", err)
	}

	if !raw.Shape().Equal(tensor.Shape{2, 3}) {
		t.Errorf("Shape() = %v, want [2 3]", raw.Shape())
	}
	if n := raw.NumElements(); n != 6 {
		t.Errorf("NumElements() = %d, want 6", n)
	}
	if size := raw.ByteSize(); size != 6*4 {
		t.Errorf("ByteSize() = %d, want %d", size, 6*4)
	}
	for i, v := range raw.AsFloat32() {
		if v != 0 {
			t.Errorf("AsFloat32()[%d] = %v, want 0", i, v)
		}
	}
}

func TestFromFloat32Copies(t *testing.T) {
	values := []float32{1, 2, 3, 4}
	raw, err := tensor.FromFloat32(values, tensor.Shape{2, 2})
	if err != nil {
		t.Fatalf("FromFloat32 failed: %v", err)
	}

	values[0] = 42
	if got := raw.AsFloat32()[0]; got != 1 {
		t.Errorf("tensor shares the caller's slice: got %v, want 1", got)
	}

	if _, err := tensor.FromFloat32(values, tensor.Shape{3}); err == nil {
		t.Error("FromFloat32 accepted 4 values for shape [3]")
	}
}

func TestMustFromFloat32Panics(t *testing.T) {
	defer func() {
		if r := recover(); r == nil {
			t.Error("MustFromFloat32 did not panic on a size mismatch")
		}
	}()
	tensor.MustFromFloat32([]float32{1}, tensor.Shape{2})
}

func TestStorageTypes(t *testing.T) {
	if tensor.Float32.Size() != 4 {
		t.Errorf("Float32.Size() = %d, want 4", tensor.Float32.Size())
	}
	if tensor.Float16.Size() != 2 {
		t.Errorf("Float16.Size() = %d, want 2", tensor.Float16.Size())
	}
}
