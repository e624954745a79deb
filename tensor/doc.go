// Copyright 2025 Born ML Framework. All rights reserved.
// Use of this source code is governed by an Apache 2.0
// license that can be found in the LICENSE file.

// Package tensor exposes the dense float32 tensors used to pass weights to
// the converter.
//
// # Overview
//
// Tensors hold a single image or a weight array in row-major order. Images
// use the HWC layout ([height, width, channels]) without a batch dimension,
// convolution kernels use [kernel_h, kernel_w, in_channels, out_channels] and
// dense kernels use [in_features, out_features].
//
// # Basic Usage
//
//	import (
//	    "github.com/born-ml/nnexport/convert"
//	    "github.com/born-ml/nnexport/tensor"
//	)
//
//	func main() {
//	    kernel, err := tensor.FromFloat32(weights, tensor.Shape{3, 3, 16, 32})
//	    if err != nil {
//	        log.Fatal(err)
//	    }
//
//	    b := convert.NewBuilder()
//	    x := b.Input("image", 32, 32, 16)
//	    y := b.Conv2D("conv", x, kernel, nil, 1, convert.PaddingSame)
//	    ...
//	}
//
// # Storage Types
//
// Computation is always float32. Float16 only describes how weights are
// stored on disk by the converter.
package tensor
