package cpu

import (
	"fmt"
	"math"

	"github.com/born-ml/nnexport/internal/parallel"
	"github.com/born-ml/nnexport/internal/tensor"
)

// MaxPool2D performs 2D max pooling over an HWC input.
//
// Padded positions never win the maximum.
//
// Example (2x2 pool, stride=2, one channel):
//
//	Input: [[1,2,3,4],    Output: [[6,8],
//	        [5,6,7,8],             [14,16]]
//	        [9,10,11,12],
//	        [13,14,15,16]]
func (cpu *CPUBackend) MaxPool2D(input *tensor.RawTensor, size, stride int, same bool) *tensor.RawTensor {
	return cpu.pool2D("maxpool2d", input, size, stride, same, true)
}

// AvgPool2D performs 2D average pooling over an HWC input.
//
// Only positions inside the input are averaged, so SAME padding does not
// pull border values towards zero.
func (cpu *CPUBackend) AvgPool2D(input *tensor.RawTensor, size, stride int, same bool) *tensor.RawTensor {
	return cpu.pool2D("avgpool2d", input, size, stride, same, false)
}

func (cpu *CPUBackend) pool2D(op string, input *tensor.RawTensor, size, stride int, same, isMax bool) *tensor.RawTensor {
	inputShape := input.Shape()
	if len(inputShape) != 3 {
		panic(fmt.Sprintf("%s: expected 3D input [H,W,C], got %dD", op, len(inputShape)))
	}
	if size <= 0 {
		panic(fmt.Sprintf("%s: invalid kernel size %d", op, size))
	}
	if stride <= 0 {
		panic(fmt.Sprintf("%s: invalid stride %d", op, stride))
	}

	H, W, C := inputShape[0], inputShape[1], inputShape[2]
	HOut, padTop := OutputSize(H, size, stride, same)
	WOut, padLeft := OutputSize(W, size, stride, same)
	if HOut <= 0 || WOut <= 0 {
		panic(fmt.Sprintf("%s: kernel size %d too large for input %dx%d", op, size, H, W))
	}

	output, err := tensor.NewRaw(tensor.Shape{HOut, WOut, C})
	if err != nil {
		panic(fmt.Sprintf("%s: %v", op, err))
	}
	in := input.AsFloat32()
	out := output.AsFloat32()

	parallel.Each(HOut, cpu.parallel, func(y int) {
		for x := 0; x < WOut; x++ {
			for c := 0; c < C; c++ {
				acc := float32(0)
				if isMax {
					acc = float32(math.Inf(-1))
				}
				count := 0
				for i := 0; i < size; i++ {
					iy := y*stride + i - padTop
					if iy < 0 || iy >= H {
						continue
					}
					for j := 0; j < size; j++ {
						ix := x*stride + j - padLeft
						if ix < 0 || ix >= W {
							continue
						}
						v := in[(iy*W+ix)*C+c]
						if isMax {
							if v > acc {
								acc = v
							}
						} else {
							acc += v
						}
						count++
					}
				}
				if !isMax && count > 0 {
					acc /= float32(count)
				}
				out[(y*WOut+x)*C+c] = acc
			}
		}
	})

	return output
}
