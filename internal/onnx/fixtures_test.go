package onnx

import (
	"encoding/binary"
	"math"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/require"
	"google.golang.org/protobuf/encoding/protowire"

	"github.com/born-ml/nnexport/internal/graph"
)

// pb is an encoded protobuf message under construction.
type pb []byte

func (m pb) varint(num protowire.Number, v int64) pb {
	m = protowire.AppendTag(m, num, protowire.VarintType)
	return protowire.AppendVarint(m, uint64(v))
}

func (m pb) str(num protowire.Number, s string) pb {
	m = protowire.AppendTag(m, num, protowire.BytesType)
	return protowire.AppendString(m, s)
}

func (m pb) bytes(num protowire.Number, b []byte) pb {
	m = protowire.AppendTag(m, num, protowire.BytesType)
	return protowire.AppendBytes(m, b)
}

func (m pb) msg(num protowire.Number, sub pb) pb {
	return m.bytes(num, sub)
}

func (m pb) float(num protowire.Number, f float32) pb {
	m = protowire.AppendTag(m, num, protowire.Fixed32Type)
	return protowire.AppendFixed32(m, math.Float32bits(f))
}

func (m pb) packedInts(num protowire.Number, vs ...int64) pb {
	var p []byte
	for _, v := range vs {
		p = protowire.AppendVarint(p, uint64(v))
	}
	return m.bytes(num, p)
}

func (m pb) packedFloats(num protowire.Number, vs ...float32) pb {
	var p []byte
	for _, v := range vs {
		p = protowire.AppendFixed32(p, math.Float32bits(v))
	}
	return m.bytes(num, p)
}

func rawFloat32(values []float32) []byte {
	b := make([]byte, 4*len(values))
	for i, v := range values {
		binary.LittleEndian.PutUint32(b[4*i:], math.Float32bits(v))
	}
	return b
}

func floatTensor(name string, dims []int64, values []float32) pb {
	return pb{}.packedInts(1, dims...).varint(2, TensorProtoFloat).str(8, name).bytes(9, rawFloat32(values))
}

func int64Tensor(name string, values ...int64) pb {
	return pb{}.packedInts(1, int64(len(values))).varint(2, TensorProtoInt64).str(8, name).packedInts(7, values...)
}

// valueInfo describes a float tensor; negative dims are dynamic.
func valueInfo(name string, dims ...int64) pb {
	var shape pb
	for _, d := range dims {
		if d < 0 {
			shape = shape.msg(1, pb{}.str(2, "N"))
		} else {
			shape = shape.msg(1, pb{}.varint(1, d))
		}
	}
	tensorType := pb{}.varint(1, TensorProtoFloat).msg(2, shape)
	return pb{}.str(1, name).msg(2, pb{}.msg(1, tensorType))
}

func attrInt(name string, v int64) pb {
	return pb{}.str(1, name).varint(20, AttributeProtoInt).varint(3, v)
}

func attrInts(name string, vs ...int64) pb {
	return pb{}.str(1, name).varint(20, AttributeProtoInts).packedInts(8, vs...)
}

func attrFloat(name string, f float32) pb {
	return pb{}.str(1, name).varint(20, AttributeProtoFloat).float(2, f)
}

func attrString(name, s string) pb {
	return pb{}.str(1, name).varint(20, AttributeProtoString).str(4, s)
}

func attrTensor(name string, t pb) pb {
	return pb{}.str(1, name).varint(20, AttributeProtoTensor).msg(5, t)
}

// fixture assembles an ONNX model.
type fixture struct {
	opset   int64
	nodes   []pb
	inits   []pb
	inputs  []pb
	outputs []pb
}

func newFixture() *fixture {
	return &fixture{opset: 13}
}

func (f *fixture) node(op, name string, inputs, outputs []string, attrs ...pb) {
	f.nodeIn("", op, name, inputs, outputs, attrs...)
}

func (f *fixture) nodeIn(domain, op, name string, inputs, outputs []string, attrs ...pb) {
	n := pb{}
	for _, in := range inputs {
		n = n.str(1, in)
	}
	for _, out := range outputs {
		n = n.str(2, out)
	}
	n = n.str(3, name).str(4, op)
	for _, a := range attrs {
		n = n.msg(5, a)
	}
	if domain != "" {
		n = n.str(7, domain)
	}
	f.nodes = append(f.nodes, n)
}

func (f *fixture) init(name string, dims []int64, values []float32) {
	f.inits = append(f.inits, floatTensor(name, dims, values))
}

func (f *fixture) input(name string, dims ...int64) {
	f.inputs = append(f.inputs, valueInfo(name, dims...))
}

func (f *fixture) output(name string) {
	f.outputs = append(f.outputs, pb{}.str(1, name))
}

func (f *fixture) bytes() []byte {
	g := pb{}.str(2, "test")
	for _, n := range f.nodes {
		g = g.msg(1, n)
	}
	for _, t := range f.inits {
		g = g.msg(5, t)
	}
	for _, in := range f.inputs {
		g = g.msg(11, in)
	}
	for _, out := range f.outputs {
		g = g.msg(12, out)
	}
	return pb{}.
		varint(1, 8).
		str(2, "nnexport-test").
		str(3, "1.0").
		msg(7, g).
		msg(8, pb{}.str(1, "").varint(2, f.opset))
}

func (f *fixture) parse(t *testing.T) *ModelProto {
	t.Helper()
	model, err := Parse(f.bytes())
	require.NoError(t, err)
	return model
}

func (f *fixture) importGraph(t *testing.T) (*graph.Graph, error) {
	t.Helper()
	return Import(f.parse(t), testImportOptions())
}

func testImportOptions() ImportOptions {
	logger, _ := test.NewNullLogger()
	logger.SetLevel(logrus.DebugLevel)
	opts := DefaultImportOptions()
	opts.Logger = logger
	return opts
}

// sequence returns n values starting at start with the given step.
func sequence(n int, start, step float32) []float32 {
	values := make([]float32, n)
	for i := range values {
		values[i] = start + float32(i)*step
	}
	return values
}
