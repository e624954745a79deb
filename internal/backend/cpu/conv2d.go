package cpu

import (
	"fmt"

	"github.com/born-ml/nnexport/internal/parallel"
	"github.com/born-ml/nnexport/internal/tensor"
)

// OutputSize computes the output extent of a sliding window along one axis
// and the zero padding inserted before the first element.
//
// VALID padding: out = (in - kernel) / stride + 1, no padding.
// SAME padding:  out = ceil(in / stride), the total padding is split with the
// smaller half before the data.
func OutputSize(in, kernel, stride int, same bool) (out, padBefore int) {
	if !same {
		if in < kernel {
			return 0, 0
		}
		return (in-kernel)/stride + 1, 0
	}
	out = (in + stride - 1) / stride
	total := (out-1)*stride + kernel - in
	if total < 0 {
		total = 0
	}
	return out, total / 2
}

// Conv2D performs a grouped 2D convolution.
//
// Input shape:  [H, W, C_in]
// Kernel shape: [K_h, K_w, C_in / groups, C_out], or the depthwise layout
// [K_h, K_w, C_in, multiplier] with groups == C_in; both share the same memory
// order, so the kernel is indexed as a flat [K_h][K_w][C_in/groups][C_out] array.
// Bias is optional (nil) and has C_out entries.
// Output shape: [H_out, W_out, C_out]
func (cpu *CPUBackend) Conv2D(input, kernel *tensor.RawTensor, bias []float32, stride, groups int, same bool) *tensor.RawTensor {
	inputShape := input.Shape()
	kernelShape := kernel.Shape()

	if len(inputShape) != 3 {
		panic(fmt.Sprintf("conv2d: input must be 3D [H,W,C], got %dD", len(inputShape)))
	}
	if len(kernelShape) != 4 {
		panic(fmt.Sprintf("conv2d: kernel must be 4D [K_h,K_w,C_in,C_out], got %dD", len(kernelShape)))
	}
	if stride <= 0 || groups <= 0 {
		panic(fmt.Sprintf("conv2d: invalid stride %d or groups %d", stride, groups))
	}

	H, W, CIn := inputShape[0], inputShape[1], inputShape[2]
	KH, KW := kernelShape[0], kernelShape[1]
	if CIn%groups != 0 {
		panic(fmt.Sprintf("conv2d: %d input channels not divisible into %d groups", CIn, groups))
	}
	CInG := CIn / groups
	if kernel.NumElements()%(KH*KW*CInG) != 0 {
		panic(fmt.Sprintf("conv2d: kernel %v does not match %d input channels per group", kernelShape, CInG))
	}
	COut := kernel.NumElements() / (KH * KW * CInG)
	if COut%groups != 0 {
		panic(fmt.Sprintf("conv2d: %d output channels not divisible into %d groups", COut, groups))
	}
	COutG := COut / groups
	if bias != nil && len(bias) != COut {
		panic(fmt.Sprintf("conv2d: bias has %d entries, want %d", len(bias), COut))
	}

	HOut, padTop := OutputSize(H, KH, stride, same)
	WOut, padLeft := OutputSize(W, KW, stride, same)
	if HOut <= 0 || WOut <= 0 {
		panic(fmt.Sprintf("conv2d: kernel %dx%d too large for input %dx%d", KH, KW, H, W))
	}

	output, err := tensor.NewRaw(tensor.Shape{HOut, WOut, COut})
	if err != nil {
		panic(fmt.Sprintf("conv2d: failed to create output tensor: %v", err))
	}

	in := input.AsFloat32()
	k := kernel.AsFloat32()
	out := output.AsFloat32()

	parallel.Each(HOut, cpu.parallel, func(y int) {
		for x := 0; x < WOut; x++ {
			dst := out[(y*WOut+x)*COut : (y*WOut+x+1)*COut]
			if bias != nil {
				copy(dst, bias)
			}
			for i := 0; i < KH; i++ {
				iy := y*stride + i - padTop
				if iy < 0 || iy >= H {
					continue
				}
				for j := 0; j < KW; j++ {
					ix := x*stride + j - padLeft
					if ix < 0 || ix >= W {
						continue
					}
					pixel := in[(iy*W+ix)*CIn : (iy*W+ix+1)*CIn]
					taps := k[(i*KW+j)*CInG*COut : (i*KW+j+1)*CInG*COut]
					for o := 0; o < COut; o++ {
						g := o / COutG
						sum := float32(0)
						for c := 0; c < CInG; c++ {
							sum += pixel[g*CInG+c] * taps[c*COut+o]
						}
						dst[o] += sum
					}
				}
			}
		}
	})

	return output
}
