package cpu

import (
	"testing"

	"github.com/born-ml/nnexport/internal/tensor"
)

func sequence(n int) []float32 {
	values := make([]float32, n)
	for i := range values {
		values[i] = float32(i + 1)
	}
	return values
}

func TestMaxPool2D(t *testing.T) {
	backend := New()

	input := mustRaw(t, sequence(16), tensor.Shape{4, 4, 1})
	output := backend.MaxPool2D(input, 2, 2, false)

	if !output.Shape().Equal(tensor.Shape{2, 2, 1}) {
		t.Fatalf("Expected shape [2 2 1], got %v", output.Shape())
	}
	assertClose(t, []float32{6, 8, 14, 16}, output.AsFloat32(), 0)
}

func TestMaxPool2D_NegativeWithPadding(t *testing.T) {
	backend := New()

	// Padding must not introduce zeros into the maximum.
	input := mustRaw(t, []float32{-1, -2, -3, -4, -5, -6, -7, -8, -9}, tensor.Shape{3, 3, 1})
	output := backend.MaxPool2D(input, 2, 2, true)

	if !output.Shape().Equal(tensor.Shape{2, 2, 1}) {
		t.Fatalf("Expected shape [2 2 1], got %v", output.Shape())
	}
	assertClose(t, []float32{-1, -3, -7, -9}, output.AsFloat32(), 0)
}

func TestAvgPool2D(t *testing.T) {
	backend := New()

	// Two interleaved channels.
	input := mustRaw(t, []float32{
		1, 10, 2, 20,
		3, 30, 4, 40,
	}, tensor.Shape{2, 2, 2})
	output := backend.AvgPool2D(input, 2, 2, false)

	assertClose(t, []float32{2.5, 25}, output.AsFloat32(), 1e-6)
}

func TestAvgPool2D_SameExcludesPadding(t *testing.T) {
	backend := New()

	input := mustRaw(t, sequence(9), tensor.Shape{3, 3, 1})
	output := backend.AvgPool2D(input, 2, 2, true)

	// Windows: {1,2,4,5}, {3,6}, {7,8}, {9}.
	assertClose(t, []float32{3, 4.5, 7.5, 9}, output.AsFloat32(), 1e-6)
}

func TestPool2D_InvalidStride(t *testing.T) {
	backend := New()
	defer func() {
		if r := recover(); r == nil {
			t.Error("Expected panic for zero stride")
		}
	}()
	backend.MaxPool2D(mustRaw(t, sequence(4), tensor.Shape{2, 2, 1}), 2, 0, false)
}
