package convert

import (
	"github.com/born-ml/nnexport/internal/blobstore"
	"github.com/born-ml/nnexport/internal/nnets"
)

// Binding tells where the output of a layer lives in the operator graph.
type Binding struct {
	// Operation is the name of the producing operation; empty for a model input.
	Operation string
	// Output is the output index of the operation.
	Output int
	// Shuffle is the shuffle step a consumer applies when reading, 0 for none.
	Shuffle int
	// Gain is the factor between stored and natural values: natural = stored / Gain.
	Gain float32
}

// IsModelInput reports whether the binding refers to the model input rather
// than an operation output.
func (b Binding) IsModelInput() bool {
	return b.Operation == ""
}

// connection returns the connection feeding an input slot of dest from b.
func (b Binding) connection(dest string, slot int) nnets.Connection {
	return nnets.Connection{
		Source:  b.Operation,
		Dest:    dest,
		Output:  b.Output,
		Input:   slot,
		Shuffle: b.Shuffle,
	}
}

// OutputBinding is the binding of a declared model output.
type OutputBinding struct {
	Layer string
	Binding
}

// Result is a converted model.
type Result struct {
	Model   *nnets.Model
	Blobs   *blobstore.Store
	Outputs []OutputBinding

	bindings map[string]Binding
}

// Binding returns the binding of a layer. Layers absorbed by a fused
// operation (convolutions, batch normalizations, residual adds) have none;
// the activation closing the block holds it.
func (r *Result) Binding(layer string) (Binding, bool) {
	b, ok := r.bindings[layer]
	return b, ok
}
