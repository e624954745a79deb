// Package convert exports trained convolutional networks to the nnets
// operator graph format.
//
// A network is either built in Go with a [Builder] or imported from an ONNX
// file. Conversion fuses each convolution with the batch normalization,
// residual add and activation that follow it, folds the normalization into
// the weights, and rescales the weights so that every stored activation fits
// the [0, 1] range of the backend.
//
// # Example Usage
//
//	import "github.com/born-ml/nnexport/convert"
//
//	res, err := convert.ConvertONNXFile("mobilenet.onnx", convert.DefaultOptions())
//	if err != nil {
//	    if ce, ok := convert.AsConversionError(err); ok {
//	        log.Fatalf("layer %s: %s", ce.Layer, ce.Reason)
//	    }
//	    log.Fatal(err)
//	}
//	err = convert.Save(res, "model.yaml", "model.safetensors", convert.DefaultSaveOptions())
//
// # Supported Layers
//
//   - Conv2D (regular, grouped, depthwise), closed by an activation
//   - BatchNormalization and residual Add inside a Conv2D block
//   - Activations: clip, brelu6, hard sigmoid, bounded ReLU
//   - MaxPooling2D, AveragePooling2D and their global variants
//   - Dense, Flatten, Softmax, channel Shuffle
package convert

import (
	"github.com/pkg/errors"

	"github.com/born-ml/nnexport/internal/blobstore"
	internalconvert "github.com/born-ml/nnexport/internal/convert"
	"github.com/born-ml/nnexport/internal/graph"
	"github.com/born-ml/nnexport/internal/nnets"
	"github.com/born-ml/nnexport/internal/onnx"
	"github.com/born-ml/nnexport/internal/tensor"
)

// Options configures a conversion.
type Options = internalconvert.Options

// Result is a converted model: the operator graph, its weight blobs and the
// binding of every exported layer.
type Result = internalconvert.Result

// Binding tells where the output of a layer lives in the operator graph.
type Binding = internalconvert.Binding

// ConversionError reports the layer that prevents a conversion and why.
type ConversionError = internalconvert.ConversionError

// Reason classifies a conversion failure.
type Reason = internalconvert.Reason

// Graph is a layer graph.
type Graph = graph.Graph

// Builder assembles a layer graph with shape inference.
type Builder = graph.Builder

// ImportOptions configures ONNX import.
type ImportOptions = onnx.ImportOptions

// Node is a layer in a graph under construction.
type Node = graph.Node

// Padding is the zero-padding policy of sliding-window layers.
type Padding = graph.Padding

// ActivationFunc selects the nonlinearity of an Activation layer.
type ActivationFunc = graph.ActivationFunc

// Padding policies.
const (
	PaddingValid = graph.PaddingValid
	PaddingSame  = graph.PaddingSame
)

// Activations accepted by Builder.Activation.
const (
	ActivationClip        = graph.ActivationClip
	ActivationBRelu6      = graph.ActivationBRelu6
	ActivationHardSigmoid = graph.ActivationHardSigmoid
)

// DefaultOptions returns the default conversion options.
func DefaultOptions() Options {
	return internalconvert.DefaultOptions()
}

// DefaultImportOptions returns the default ONNX import options.
func DefaultImportOptions() ImportOptions {
	return onnx.DefaultImportOptions()
}

// NewBuilder returns an empty layer graph builder.
func NewBuilder() *Builder {
	return graph.NewBuilder()
}

// AsConversionError extracts a *ConversionError from err.
func AsConversionError(err error) (*ConversionError, bool) {
	return internalconvert.AsConversionError(err)
}

// Convert converts a layer graph.
func Convert(g *Graph, opts Options) (*Result, error) {
	return internalconvert.Convert(g, opts)
}

// ConvertONNX imports and converts an ONNX model from raw bytes.
func ConvertONNX(data []byte, opts Options) (*Result, error) {
	model, err := onnx.Parse(data)
	if err != nil {
		return nil, err
	}
	return convertModel(model, opts)
}

// ConvertONNXFile imports and converts an ONNX model file.
func ConvertONNXFile(path string, opts Options) (*Result, error) {
	model, err := onnx.ParseFile(path)
	if err != nil {
		return nil, err
	}
	return convertModel(model, opts)
}

func convertModel(model *onnx.ModelProto, opts Options) (*Result, error) {
	importOpts := onnx.DefaultImportOptions()
	if opts.Logger != nil {
		importOpts.Logger = opts.Logger
	}
	g, err := onnx.Import(model, importOpts)
	if err != nil {
		return nil, errors.WithMessage(err, "failed to import model")
	}
	return internalconvert.Convert(g, opts)
}

// SaveOptions configures how a converted model is written.
type SaveOptions struct {
	// Half stores the weights as IEEE 754 half precision.
	Half bool

	// Metadata is stored in the header of the weights file.
	Metadata map[string]string
}

// DefaultSaveOptions returns full precision storage without metadata.
func DefaultSaveOptions() SaveOptions {
	return SaveOptions{}
}

// Save writes the operator listing to modelPath and the weights to dataPath
// in SafeTensors format.
func Save(res *Result, modelPath, dataPath string, opts SaveOptions) error {
	if res == nil {
		return errors.New("nil result")
	}
	if err := nnets.WriteListingFile(modelPath, res.Model); err != nil {
		return errors.Wrap(err, "failed to write model listing")
	}
	wopts := blobstore.DefaultWriteOptions()
	if opts.Half {
		wopts.DType = tensor.Float16
	}
	wopts.Metadata = opts.Metadata
	if err := blobstore.WriteSafeTensorsFile(dataPath, res.Blobs, wopts); err != nil {
		return errors.Wrap(err, "failed to write weights")
	}
	return nil
}
