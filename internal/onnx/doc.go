// Package onnx imports ONNX models into layer graphs.
//
// ONNX (Open Neural Network Exchange) is an open format for representing deep learning models.
// Model files are decoded with the protobuf wire-format primitives of
// google.golang.org/protobuf/encoding/protowire; no generated code is needed.
//
// Key components:
//   - ModelProto, GraphProto, NodeProto, TensorProto: the decoded model
//   - Import: builds a graph.Graph in height-width-channel layout
//   - Registry: per-operator import handlers, extensible through ImportOptions.CustomOps
//
// Supported operators: Conv (grouped and depthwise), BatchNormalization, Clip,
// HardSigmoid, Add, MaxPool, AveragePool, GlobalMaxPool, GlobalAveragePool,
// Flatten, Reshape (as flatten), Gemm, Softmax, Identity, Dropout, Constant,
// and the custom-domain operators nnexport.BRelu6, nnexport.Clip and
// nnexport.Shuffle.
//
// Example usage:
//
//	model, err := onnx.ParseFile("mobilenet.onnx")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	g, err := onnx.Import(model, onnx.DefaultImportOptions())
//	if err != nil {
//	    log.Fatal(err)
//	}
//	fmt.Printf("Graph with %d layers\n", len(g.Nodes))
package onnx
