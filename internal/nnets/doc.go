// Package nnets models the operator graph consumed by the fixed-range
// inference backend.
//
// A Model is an ordered list of operations (Conv2D, Dense, Pooling2D, Softmax)
// plus the connections between them. Weights are not part of the model: they
// live in a blob store under names derived from the operation names (see
// FiltersSuffix and friends).
//
// Activations stored between operations are confined to [0, 1]; every edge of
// the graph carries values that may have been multiplied by a per-edge gain.
// The package also provides:
//
//   - a YAML listing format compatible with the backend's model reader,
//   - the block-of-4 channel shuffle used on connections,
//   - Infer, a CPU emulator of the backend used to validate exported models.
package nnets
