// Package convert turns a layer graph into an operator graph for the
// fixed-range inference backend.
//
// The backend stores every activation in [0, 1]. Convert walks the layer graph
// from its inputs and fuses each convolution with the batch normalization,
// residual addition and activation that follow it into a single Conv2D
// operation. Batch normalization statistics are folded into the filters and
// the bias. Along the way every layer output gets a Binding that records the
// operation producing it and the gain of the stored values: the factor by which
// a stored value must be divided to recover its natural value. Weights are
// rescaled so that gains compose, and every declared output must end with a
// gain of exactly 1. Shuffle layers do not produce operations; they become a
// shuffle step on the connections reading their input.
//
// Any unsupported construct aborts the conversion with a *ConversionError
// naming the offending layer. Blobs written before the failure stay in the
// store and must be discarded by the caller.
package convert
