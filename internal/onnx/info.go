package onnx

import (
	"sort"
)

// ModelInfo contains basic information about an ONNX model without importing it.
type ModelInfo struct {
	IRVersion       int64
	OpsetVersion    int64
	ProducerName    string
	ProducerVersion string
	InputNames      []string
	OutputNames     []string
	NodeCount       int
	WeightCount     int
	// OpCounts counts the nodes per operator.
	OpCounts map[string]int
}

// Info extracts basic information from a parsed model.
func Info(proto *ModelProto) *ModelInfo {
	info := &ModelInfo{
		IRVersion:       proto.IRVersion,
		OpsetVersion:    proto.Opset(),
		ProducerName:    proto.ProducerName,
		ProducerVersion: proto.ProducerVersion,
		OpCounts:        make(map[string]int),
	}
	if proto.Graph == nil {
		return info
	}

	// Inputs are graph inputs minus initializers.
	initNames := make(map[string]bool)
	for i := range proto.Graph.Initializers {
		initNames[proto.Graph.Initializers[i].Name] = true
	}
	for i := range proto.Graph.Inputs {
		if !initNames[proto.Graph.Inputs[i].Name] {
			info.InputNames = append(info.InputNames, proto.Graph.Inputs[i].Name)
		}
	}
	for _, output := range proto.Graph.Outputs {
		info.OutputNames = append(info.OutputNames, output.Name)
	}

	info.NodeCount = len(proto.Graph.Nodes)
	info.WeightCount = len(proto.Graph.Initializers)
	for i := range proto.Graph.Nodes {
		info.OpCounts[opKey(&proto.Graph.Nodes[i])]++
	}
	return info
}

// GetModelInfo extracts basic info from an ONNX file.
func GetModelInfo(path string) (*ModelInfo, error) {
	proto, err := ParseFile(path)
	if err != nil {
		return nil, err
	}
	return Info(proto), nil
}

// Ops returns the operators used by the model in sorted order.
func (m *ModelInfo) Ops() []string {
	ops := make([]string, 0, len(m.OpCounts))
	for op := range m.OpCounts {
		ops = append(ops, op)
	}
	sort.Strings(ops)
	return ops
}

// ListSupportedOps returns all importable ONNX operators.
func ListSupportedOps() []string {
	return NewRegistry().SupportedOps()
}
