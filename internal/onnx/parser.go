package onnx

import (
	"math"
	"os"

	"github.com/pkg/errors"
	"google.golang.org/protobuf/encoding/protowire"
)

// ParseFile parses an ONNX model from file.
//
//nolint:gosec // G304: Path is provided by user, file inclusion is intentional for ONNX model loading
func ParseFile(path string) (*ModelProto, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrap(err, "failed to read file")
	}
	return Parse(data)
}

// Parse parses an ONNX model from bytes.
func Parse(data []byte) (*ModelProto, error) {
	if len(data) == 0 {
		return nil, errors.New("empty model data")
	}
	model := &ModelProto{}
	if err := readModelProto(data, model); err != nil {
		return nil, errors.Wrap(err, "failed to parse model")
	}
	return model, nil
}

// field is one decoded protobuf field. Only the value matching typ is set.
type field struct {
	num     protowire.Number
	typ     protowire.Type
	varint  uint64
	fixed32 uint32
	fixed64 uint64
	bytes   []byte
}

// readFields decodes the fields of a message and passes them to fn in order.
func readFields(b []byte, fn func(f field) error) error {
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return errors.Wrap(protowire.ParseError(n), "invalid tag")
		}
		b = b[n:]

		f := field{num: num, typ: typ}
		switch typ {
		case protowire.VarintType:
			f.varint, n = protowire.ConsumeVarint(b)
		case protowire.Fixed32Type:
			f.fixed32, n = protowire.ConsumeFixed32(b)
		case protowire.Fixed64Type:
			f.fixed64, n = protowire.ConsumeFixed64(b)
		case protowire.BytesType:
			f.bytes, n = protowire.ConsumeBytes(b)
		default:
			n = protowire.ConsumeFieldValue(num, typ, b)
		}
		if n < 0 {
			return errors.Wrapf(protowire.ParseError(n), "field %d", num)
		}
		b = b[n:]

		if err := fn(f); err != nil {
			return err
		}
	}
	return nil
}

func (f field) expect(typ protowire.Type) error {
	if f.typ != typ {
		return errors.Errorf("field %d: wire type %d, expected %d", f.num, f.typ, typ)
	}
	return nil
}

func (f field) int64() (int64, error) {
	if err := f.expect(protowire.VarintType); err != nil {
		return 0, err
	}
	return int64(f.varint), nil
}

func (f field) string() (string, error) {
	if err := f.expect(protowire.BytesType); err != nil {
		return "", err
	}
	return string(f.bytes), nil
}

func (f field) float32() (float32, error) {
	if err := f.expect(protowire.Fixed32Type); err != nil {
		return 0, err
	}
	return math.Float32frombits(f.fixed32), nil
}

// appendInt64s appends a repeated integer field, packed or not.
func (f field) appendInt64s(dst []int64) ([]int64, error) {
	if f.typ == protowire.VarintType {
		return append(dst, int64(f.varint)), nil
	}
	if err := f.expect(protowire.BytesType); err != nil {
		return nil, err
	}
	b := f.bytes
	for len(b) > 0 {
		v, n := protowire.ConsumeVarint(b)
		if n < 0 {
			return nil, errors.Wrapf(protowire.ParseError(n), "field %d", f.num)
		}
		dst = append(dst, int64(v))
		b = b[n:]
	}
	return dst, nil
}

// appendFloat32s appends a repeated float field, packed or not.
func (f field) appendFloat32s(dst []float32) ([]float32, error) {
	if f.typ == protowire.Fixed32Type {
		return append(dst, math.Float32frombits(f.fixed32)), nil
	}
	if err := f.expect(protowire.BytesType); err != nil {
		return nil, err
	}
	if len(f.bytes)%4 != 0 {
		return nil, errors.Errorf("field %d: packed floats of %d bytes", f.num, len(f.bytes))
	}
	b := f.bytes
	for len(b) > 0 {
		v, n := protowire.ConsumeFixed32(b)
		dst = append(dst, math.Float32frombits(v))
		b = b[n:]
	}
	return dst, nil
}

// appendFloat64s appends a repeated double field, packed or not.
func (f field) appendFloat64s(dst []float64) ([]float64, error) {
	if f.typ == protowire.Fixed64Type {
		return append(dst, math.Float64frombits(f.fixed64)), nil
	}
	if err := f.expect(protowire.BytesType); err != nil {
		return nil, err
	}
	if len(f.bytes)%8 != 0 {
		return nil, errors.Errorf("field %d: packed doubles of %d bytes", f.num, len(f.bytes))
	}
	b := f.bytes
	for len(b) > 0 {
		v, n := protowire.ConsumeFixed64(b)
		dst = append(dst, math.Float64frombits(v))
		b = b[n:]
	}
	return dst, nil
}

// message decodes an embedded message field with read.
func message[T any](f field, read func([]byte, *T) error) (T, error) {
	var m T
	if err := f.expect(protowire.BytesType); err != nil {
		return m, err
	}
	err := read(f.bytes, &m)
	return m, err
}

func readModelProto(b []byte, m *ModelProto) error {
	return readFields(b, func(f field) error {
		var err error
		switch f.num {
		case 1: // ir_version
			m.IRVersion, err = f.int64()
		case 2: // producer_name
			m.ProducerName, err = f.string()
		case 3: // producer_version
			m.ProducerVersion, err = f.string()
		case 4: // domain
			m.Domain, err = f.string()
		case 5: // model_version
			m.ModelVersion, err = f.int64()
		case 6: // doc_string
			m.DocString, err = f.string()
		case 7: // graph
			var g GraphProto
			g, err = message(f, readGraphProto)
			m.Graph = &g
		case 8: // opset_import
			var opset OperatorSetID
			opset, err = message(f, readOperatorSetID)
			m.OpsetImport = append(m.OpsetImport, opset)
		case 14: // metadata_props
			var entry StringStringEntry
			entry, err = message(f, readStringStringEntry)
			m.MetadataProps = append(m.MetadataProps, entry)
		}
		return errors.WithMessage(err, "model")
	})
}

func readGraphProto(b []byte, m *GraphProto) error {
	return readFields(b, func(f field) error {
		var err error
		switch f.num {
		case 1: // node
			var node NodeProto
			node, err = message(f, readNodeProto)
			m.Nodes = append(m.Nodes, node)
		case 2: // name
			m.Name, err = f.string()
		case 5: // initializer
			var t TensorProto
			t, err = message(f, readTensorProto)
			m.Initializers = append(m.Initializers, t)
		case 10: // doc_string
			m.DocString, err = f.string()
		case 11: // input
			var v ValueInfoProto
			v, err = message(f, readValueInfoProto)
			m.Inputs = append(m.Inputs, v)
		case 12: // output
			var v ValueInfoProto
			v, err = message(f, readValueInfoProto)
			m.Outputs = append(m.Outputs, v)
		case 13: // value_info
			var v ValueInfoProto
			v, err = message(f, readValueInfoProto)
			m.ValueInfo = append(m.ValueInfo, v)
		}
		return errors.WithMessage(err, "graph")
	})
}

func readNodeProto(b []byte, m *NodeProto) error {
	return readFields(b, func(f field) error {
		var err error
		var s string
		switch f.num {
		case 1: // input
			s, err = f.string()
			m.Inputs = append(m.Inputs, s)
		case 2: // output
			s, err = f.string()
			m.Outputs = append(m.Outputs, s)
		case 3: // name
			m.Name, err = f.string()
		case 4: // op_type
			m.OpType, err = f.string()
		case 5: // attribute
			var a AttributeProto
			a, err = message(f, readAttributeProto)
			m.Attributes = append(m.Attributes, a)
		case 6: // doc_string
			m.DocString, err = f.string()
		case 7: // domain
			m.Domain, err = f.string()
		}
		return errors.WithMessage(err, "node")
	})
}

func readTensorProto(b []byte, m *TensorProto) error {
	return readFields(b, func(f field) error {
		var err error
		switch f.num {
		case 1: // dims
			m.Dims, err = f.appendInt64s(m.Dims)
		case 2: // data_type
			var v int64
			v, err = f.int64()
			m.DataType = int32(v)
		case 4: // float_data
			m.FloatData, err = f.appendFloat32s(m.FloatData)
		case 5: // int32_data
			var vs []int64
			vs, err = f.appendInt64s(nil)
			for _, v := range vs {
				m.Int32Data = append(m.Int32Data, int32(v))
			}
		case 7: // int64_data
			m.Int64Data, err = f.appendInt64s(m.Int64Data)
		case 8: // name
			m.Name, err = f.string()
		case 9: // raw_data
			if err = f.expect(protowire.BytesType); err == nil {
				m.RawData = append([]byte(nil), f.bytes...)
			}
		case 10: // double_data
			m.DoubleData, err = f.appendFloat64s(m.DoubleData)
		case 12: // doc_string
			m.DocString, err = f.string()
		}
		return errors.WithMessage(err, "tensor")
	})
}

func readValueInfoProto(b []byte, m *ValueInfoProto) error {
	return readFields(b, func(f field) error {
		var err error
		switch f.num {
		case 1: // name
			m.Name, err = f.string()
		case 2: // type
			var t TypeProto
			t, err = message(f, readTypeProto)
			m.Type = &t
		case 3: // doc_string
			m.DocString, err = f.string()
		}
		return errors.WithMessage(err, "value info")
	})
}

func readTypeProto(b []byte, m *TypeProto) error {
	return readFields(b, func(f field) error {
		if f.num != 1 { // tensor_type
			return nil
		}
		t, err := message(f, readTensorTypeProto)
		m.TensorType = &t
		return err
	})
}

func readTensorTypeProto(b []byte, m *TensorTypeProto) error {
	return readFields(b, func(f field) error {
		var err error
		switch f.num {
		case 1: // elem_type
			var v int64
			v, err = f.int64()
			m.ElemType = int32(v)
		case 2: // shape
			var s TensorShapeProto
			s, err = message(f, readTensorShapeProto)
			m.Shape = &s
		}
		return err
	})
}

func readTensorShapeProto(b []byte, m *TensorShapeProto) error {
	return readFields(b, func(f field) error {
		if f.num != 1 { // dim
			return nil
		}
		d, err := message(f, readDimensionProto)
		m.Dims = append(m.Dims, d)
		return err
	})
}

func readDimensionProto(b []byte, m *DimensionProto) error {
	return readFields(b, func(f field) error {
		var err error
		switch f.num {
		case 1: // dim_value
			m.DimValue, err = f.int64()
		case 2: // dim_param
			m.DimParam, err = f.string()
		}
		return err
	})
}

func readAttributeProto(b []byte, m *AttributeProto) error {
	return readFields(b, func(f field) error {
		var err error
		switch f.num {
		case 1: // name
			m.Name, err = f.string()
		case 2: // f
			m.F, err = f.float32()
		case 3: // i
			m.I, err = f.int64()
		case 4: // s
			if err = f.expect(protowire.BytesType); err == nil {
				m.S = append([]byte(nil), f.bytes...)
			}
		case 5: // t
			var t TensorProto
			t, err = message(f, readTensorProto)
			m.T = &t
		case 7: // floats
			m.Floats, err = f.appendFloat32s(m.Floats)
		case 8: // ints
			m.Ints, err = f.appendInt64s(m.Ints)
		case 9: // strings
			if err = f.expect(protowire.BytesType); err == nil {
				m.Strings = append(m.Strings, append([]byte(nil), f.bytes...))
			}
		case 13: // doc_string
			m.DocString, err = f.string()
		case 20: // type
			var v int64
			v, err = f.int64()
			m.Type = int32(v)
		}
		return errors.WithMessagef(err, "attribute %q", m.Name)
	})
}

func readOperatorSetID(b []byte, m *OperatorSetID) error {
	return readFields(b, func(f field) error {
		var err error
		switch f.num {
		case 1: // domain
			m.Domain, err = f.string()
		case 2: // version
			m.Version, err = f.int64()
		}
		return err
	})
}

func readStringStringEntry(b []byte, m *StringStringEntry) error {
	return readFields(b, func(f field) error {
		var err error
		switch f.num {
		case 1: // key
			m.Key, err = f.string()
		case 2: // value
			m.Value, err = f.string()
		}
		return err
	})
}
