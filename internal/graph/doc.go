// Package graph describes trained networks as graphs of named layers.
//
// A Graph is the input of the converter: layers in the channel-last
// convention of the common training frameworks (HWC activations, kernels as
// [kh, kw, in, out]) connected by inbound and outbound edges. Graphs are
// assembled with a Builder, which infers the output shape of every layer and
// validates weight shapes, and traversed with Walk. Evaluate computes the
// natural floating-point output of a graph and serves as the reference for
// exported models.
package graph
