package onnx

import (
	"encoding/binary"
	"math"

	"github.com/pkg/errors"
	"github.com/x448/float16"
)

// ONNX protobuf data structures. Only the fields needed to import a model are
// decoded; the others are skipped by the parser.

// ModelProto represents an ONNX model.
type ModelProto struct {
	IRVersion       int64               // IR version (e.g., 7, 8, 9)
	OpsetImport     []OperatorSetID     // Opset version(s)
	ProducerName    string              // Framework name (e.g., "pytorch", "tf2onnx")
	ProducerVersion string              // Framework version
	Domain          string              // Model domain
	ModelVersion    int64               // Model version number
	DocString       string              // Model description
	Graph           *GraphProto         // Computation graph
	MetadataProps   []StringStringEntry // Key-value metadata
}

// GraphProto represents the computation graph.
type GraphProto struct {
	Name         string           // Graph name
	Nodes        []NodeProto      // Operation nodes
	Inputs       []ValueInfoProto // Graph inputs
	Outputs      []ValueInfoProto // Graph outputs
	Initializers []TensorProto    // Weight tensors
	DocString    string           // Graph description
	ValueInfo    []ValueInfoProto // Intermediate tensor info
}

// NodeProto represents a single operation.
type NodeProto struct {
	Name       string           // Node name (optional)
	OpType     string           // Operation type (e.g., "Conv", "Gemm", "Clip")
	Inputs     []string         // Input tensor names
	Outputs    []string         // Output tensor names
	Attributes []AttributeProto // Operation attributes
	Domain     string           // Custom domain (empty for default)
	DocString  string           // Node description
}

// TensorProto represents a tensor (weights/initializers).
type TensorProto struct {
	Name       string    // Tensor name
	DataType   int32     // Element data type
	Dims       []int64   // Tensor shape
	RawData    []byte    // Raw little-endian data (most common)
	FloatData  []float32 // Float32 data (legacy)
	Int32Data  []int32   // Int32 data, also carries float16 bits
	Int64Data  []int64   // Int64 data (legacy)
	DoubleData []float64 // Float64 data (legacy)
	DocString  string    // Tensor description
}

// ValueInfoProto describes input/output tensor specifications.
type ValueInfoProto struct {
	Name      string     // Tensor name
	Type      *TypeProto // Tensor type information
	DocString string     // Description
}

// TypeProto describes tensor type.
type TypeProto struct {
	TensorType *TensorTypeProto // Tensor type (most common)
}

// TensorTypeProto describes tensor shape and element type.
type TensorTypeProto struct {
	ElemType int32             // Element data type
	Shape    *TensorShapeProto // Tensor shape
}

// TensorShapeProto describes tensor dimensions.
type TensorShapeProto struct {
	Dims []DimensionProto // Dimensions
}

// DimensionProto describes a single dimension.
type DimensionProto struct {
	DimValue int64  // Static dimension value (e.g., 224 for image size)
	DimParam string // Dynamic dimension name (e.g., "batch_size")
}

// AttributeProto represents node attributes.
type AttributeProto struct {
	Name      string       // Attribute name
	Type      int32        // Attribute type
	F         float32      // FLOAT value
	I         int64        // INT value
	S         []byte       // STRING value
	T         *TensorProto // TENSOR value
	Floats    []float32    // FLOATS array
	Ints      []int64      // INTS array
	Strings   [][]byte     // STRINGS array
	DocString string       // Description
}

// OperatorSetID identifies opset version.
type OperatorSetID struct {
	Domain  string // Operator domain (empty for default)
	Version int64  // Opset version number
}

// StringStringEntry represents key-value metadata.
type StringStringEntry struct {
	Key   string
	Value string
}

// ONNX data types (TensorProto.DataType).
const (
	TensorProtoUndefined = 0
	TensorProtoFloat     = 1  // float32
	TensorProtoUint8     = 2  // uint8
	TensorProtoInt8      = 3  // int8
	TensorProtoInt32     = 6  // int32
	TensorProtoInt64     = 7  // int64
	TensorProtoFloat16   = 10 // float16
	TensorProtoDouble    = 11 // float64
)

// ONNX attribute types (AttributeProto.Type).
const (
	AttributeProtoUndefined = 0
	AttributeProtoFloat     = 1 // FLOAT
	AttributeProtoInt       = 2 // INT
	AttributeProtoString    = 3 // STRING
	AttributeProtoTensor    = 4 // TENSOR
	AttributeProtoFloats    = 6 // FLOATS
	AttributeProtoInts      = 7 // INTS
	AttributeProtoStrings   = 8 // STRINGS
)

// Opset returns the version of the default operator set, 0 if not declared.
func (m *ModelProto) Opset() int64 {
	for _, opset := range m.OpsetImport {
		if opset.Domain == "" || opset.Domain == "ai.onnx" {
			return opset.Version
		}
	}
	return 0
}

// Attr returns the attribute with the given name, or nil.
func (n *NodeProto) Attr(name string) *AttributeProto {
	for i := range n.Attributes {
		if n.Attributes[i].Name == name {
			return &n.Attributes[i]
		}
	}
	return nil
}

// AttrInt returns an integer attribute or a default value.
func (n *NodeProto) AttrInt(name string, defaultVal int64) int64 {
	if a := n.Attr(name); a != nil {
		return a.I
	}
	return defaultVal
}

// AttrInts returns an integer array attribute.
func (n *NodeProto) AttrInts(name string) []int64 {
	if a := n.Attr(name); a != nil {
		return a.Ints
	}
	return nil
}

// AttrFloat returns a float attribute or a default value.
func (n *NodeProto) AttrFloat(name string, defaultVal float32) float32 {
	if a := n.Attr(name); a != nil {
		return a.F
	}
	return defaultVal
}

// AttrString returns a string attribute or a default value.
func (n *NodeProto) AttrString(name, defaultVal string) string {
	if a := n.Attr(name); a != nil {
		return string(a.S)
	}
	return defaultVal
}

// Input returns the i-th input name, empty if the input is omitted.
func (n *NodeProto) Input(i int) string {
	if i < len(n.Inputs) {
		return n.Inputs[i]
	}
	return ""
}

// NumElements returns the number of elements described by the dims.
func (t *TensorProto) NumElements() int {
	n := 1
	for _, d := range t.Dims {
		n *= int(d)
	}
	return n
}

// Float32s decodes the tensor values as float32, widening or narrowing the
// stored type.
func (t *TensorProto) Float32s() ([]float32, error) {
	n := t.NumElements()
	out := make([]float32, 0, n)

	switch t.DataType {
	case TensorProtoFloat:
		if len(t.RawData) > 0 {
			if len(t.RawData) != 4*n {
				return nil, errors.Errorf("tensor %q: %d raw bytes for %d float32 values", t.Name, len(t.RawData), n)
			}
			for i := 0; i < n; i++ {
				out = append(out, math.Float32frombits(binary.LittleEndian.Uint32(t.RawData[4*i:])))
			}
		} else {
			out = append(out, t.FloatData...)
		}
	case TensorProtoFloat16:
		if len(t.RawData) > 0 {
			if len(t.RawData) != 2*n {
				return nil, errors.Errorf("tensor %q: %d raw bytes for %d float16 values", t.Name, len(t.RawData), n)
			}
			for i := 0; i < n; i++ {
				out = append(out, float16.Frombits(binary.LittleEndian.Uint16(t.RawData[2*i:])).Float32())
			}
		} else {
			for _, v := range t.Int32Data {
				out = append(out, float16.Frombits(uint16(v)).Float32())
			}
		}
	case TensorProtoDouble:
		if len(t.RawData) > 0 {
			if len(t.RawData) != 8*n {
				return nil, errors.Errorf("tensor %q: %d raw bytes for %d float64 values", t.Name, len(t.RawData), n)
			}
			for i := 0; i < n; i++ {
				out = append(out, float32(math.Float64frombits(binary.LittleEndian.Uint64(t.RawData[8*i:]))))
			}
		} else {
			for _, v := range t.DoubleData {
				out = append(out, float32(v))
			}
		}
	default:
		return nil, errors.Errorf("tensor %q: data type %d is not a floating point type", t.Name, t.DataType)
	}

	if len(out) != n {
		return nil, errors.Errorf("tensor %q: %d values for shape %v", t.Name, len(out), t.Dims)
	}
	return out, nil
}

// Int64s decodes an integer tensor such as a Reshape target shape.
func (t *TensorProto) Int64s() ([]int64, error) {
	n := t.NumElements()
	var out []int64

	switch t.DataType {
	case TensorProtoInt64:
		if len(t.RawData) > 0 {
			if len(t.RawData) != 8*n {
				return nil, errors.Errorf("tensor %q: %d raw bytes for %d int64 values", t.Name, len(t.RawData), n)
			}
			for i := 0; i < n; i++ {
				out = append(out, int64(binary.LittleEndian.Uint64(t.RawData[8*i:])))
			}
		} else {
			out = append(out, t.Int64Data...)
		}
	case TensorProtoInt32:
		if len(t.RawData) > 0 {
			if len(t.RawData) != 4*n {
				return nil, errors.Errorf("tensor %q: %d raw bytes for %d int32 values", t.Name, len(t.RawData), n)
			}
			for i := 0; i < n; i++ {
				out = append(out, int64(int32(binary.LittleEndian.Uint32(t.RawData[4*i:]))))
			}
		} else {
			for _, v := range t.Int32Data {
				out = append(out, int64(v))
			}
		}
	default:
		return nil, errors.Errorf("tensor %q: data type %d is not an integer type", t.Name, t.DataType)
	}

	if len(out) != n {
		return nil, errors.Errorf("tensor %q: %d values for shape %v", t.Name, len(out), t.Dims)
	}
	return out, nil
}
