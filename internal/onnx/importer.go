package onnx

import (
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/born-ml/nnexport/internal/graph"
	"github.com/born-ml/nnexport/internal/tensor"
)

// ImportOptions configures model import.
type ImportOptions struct {
	// CustomOps provides additional or replacement operator handlers.
	CustomOps map[string]OpHandler

	// Logger receives a debug trace per imported node.
	// Nil means the logrus standard logger.
	Logger logrus.FieldLogger
}

// DefaultImportOptions returns default import options.
func DefaultImportOptions() ImportOptions {
	return ImportOptions{
		Logger: logrus.StandardLogger(),
	}
}

// Context is the state of an import, passed to operator handlers.
type Context struct {
	b      *graph.Builder
	opset  int64
	inits  map[string]*TensorProto
	values map[string]*graph.Node
	// flattened records the [H, W, C] shape a flattened layer was produced
	// from; Gemm weights are stored in channel-major order.
	flattened map[*graph.Node]tensor.Shape
	log       logrus.FieldLogger
}

// Builder returns the layer graph builder.
func (c *Context) Builder() *graph.Builder {
	return c.b
}

// Opset returns the default operator set version of the model.
func (c *Context) Opset() int64 {
	return c.opset
}

// Initializer returns a constant tensor by name.
func (c *Context) Initializer(name string) (*TensorProto, bool) {
	t, ok := c.inits[name]
	return t, ok
}

// Weights decodes a constant tensor into a float32 tensor.
func (c *Context) Weights(name string) (*tensor.RawTensor, error) {
	t, ok := c.inits[name]
	if !ok {
		return nil, errors.Errorf("input %q is not a constant", name)
	}
	values, err := t.Float32s()
	if err != nil {
		return nil, err
	}
	shape := tensor.ShapeFromInt64(t.Dims)
	if len(shape) == 0 {
		shape = tensor.Shape{1}
	}
	return tensor.FromFloat32(values, shape)
}

// Scalar decodes a constant tensor holding a single value.
func (c *Context) Scalar(name string) (float32, error) {
	t, ok := c.inits[name]
	if !ok {
		return 0, errors.Errorf("input %q is not a constant", name)
	}
	values, err := t.Float32s()
	if err != nil {
		return 0, err
	}
	if len(values) != 1 {
		return 0, errors.Errorf("input %q has %d values, expected a scalar", name, len(values))
	}
	return values[0], nil
}

// Input returns the layer producing the i-th input of a node.
func (c *Context) Input(node *NodeProto, i int) (*graph.Node, error) {
	name := node.Input(i)
	if name == "" {
		return nil, errors.Errorf("missing input %d", i)
	}
	n, ok := c.values[name]
	if !ok {
		if _, isConst := c.inits[name]; isConst {
			return nil, unsupportedAttr("constant input %q", name)
		}
		return nil, errors.Errorf("input %q is not produced by any node", name)
	}
	return n, nil
}

// Define binds the first output of a node to a layer.
func (c *Context) Define(node *NodeProto, n *graph.Node) {
	if len(node.Outputs) > 0 && n != nil {
		c.values[node.Outputs[0]] = n
	}
}

// DefineConstant binds the first output of a node to a constant tensor.
func (c *Context) DefineConstant(node *NodeProto, t *TensorProto) {
	if len(node.Outputs) > 0 {
		c.inits[node.Outputs[0]] = t
	}
}

// Flattened reports the [H, W, C] shape a flattened layer was produced from.
func (c *Context) Flattened(n *graph.Node) (tensor.Shape, bool) {
	s, ok := c.flattened[n]
	return s, ok
}

func (c *Context) markFlattened(n *graph.Node, from tensor.Shape) {
	if n != nil && len(from) == 3 && from[0]*from[1] > 1 {
		c.flattened[n] = from.Clone()
	}
}

// LayerName returns the layer name of a node: its name, or the name of its
// first output for anonymous nodes.
func LayerName(node *NodeProto) string {
	if node.Name != "" {
		return node.Name
	}
	if len(node.Outputs) > 0 {
		return node.Outputs[0]
	}
	return node.OpType
}

// Import builds a layer graph from an ONNX model.
//
// Inputs are converted from NCHW to height-width-channel order; weights are
// permuted accordingly. The graph outputs become the declared outputs.
func Import(model *ModelProto, opts ImportOptions) (*graph.Graph, error) {
	if model == nil || model.Graph == nil {
		return nil, errors.New("model has no graph")
	}
	if opts.Logger == nil {
		opts.Logger = logrus.StandardLogger()
	}

	registry := NewRegistry()
	for opType, handler := range opts.CustomOps {
		registry.Register(opType, handler)
	}

	g := model.Graph
	ctx := &Context{
		b:         graph.NewBuilder(),
		opset:     model.Opset(),
		inits:     make(map[string]*TensorProto, len(g.Initializers)),
		values:    make(map[string]*graph.Node),
		flattened: make(map[*graph.Node]tensor.Shape),
		log:       opts.Logger,
	}
	for i := range g.Initializers {
		ctx.inits[g.Initializers[i].Name] = &g.Initializers[i]
	}

	for i := range g.Inputs {
		in := &g.Inputs[i]
		if _, isConst := ctx.inits[in.Name]; isConst {
			continue
		}
		shape, err := inputShape(in)
		if err != nil {
			return nil, errors.WithMessagef(err, "input %q", in.Name)
		}
		ctx.values[in.Name] = ctx.b.Input(in.Name, shape...)
	}

	for _, node := range topologicalSort(g.Nodes) {
		name := LayerName(&node)
		handler, ok := registry.Get(&node)
		if !ok {
			return nil, errors.Wrapf(ErrUnsupportedOperator, "node %q: %s", name, opKey(&node))
		}
		if err := handler(ctx, &node); err != nil {
			return nil, errors.WithMessagef(err, "node %q (%s)", name, node.OpType)
		}
		if err := ctx.b.Err(); err != nil {
			return nil, errors.WithMessagef(err, "node %q (%s)", name, node.OpType)
		}
		ctx.log.WithFields(logrus.Fields{"node": name, "op": opKey(&node)}).Debug("imported node")
	}

	outputs := make([]*graph.Node, 0, len(g.Outputs))
	for _, out := range g.Outputs {
		n, ok := ctx.values[out.Name]
		if !ok {
			return nil, errors.Errorf("output %q is not produced by any node", out.Name)
		}
		outputs = append(outputs, n)
	}
	return ctx.b.Build(outputs...)
}

// inputShape converts an NCHW or CHW input description to [H, W, C].
func inputShape(in *ValueInfoProto) ([]int, error) {
	if in.Type == nil || in.Type.TensorType == nil || in.Type.TensorType.Shape == nil {
		return nil, errors.New("input has no shape")
	}
	dims := in.Type.TensorType.Shape.Dims
	switch len(dims) {
	case 4:
		if n := dims[0]; n.DimParam == "" && n.DimValue != 1 {
			return nil, errors.Errorf("batch size %d, only 1 is supported", n.DimValue)
		}
		dims = dims[1:]
	case 3:
	default:
		return nil, errors.Errorf("input of rank %d, expected NCHW or CHW", len(dims))
	}
	for _, d := range dims {
		if d.DimValue <= 0 {
			return nil, errors.Errorf("dynamic input dimension %q", d.DimParam)
		}
	}
	c, h, w := int(dims[0].DimValue), int(dims[1].DimValue), int(dims[2].DimValue)
	return []int{h, w, c}, nil
}

// topologicalSort sorts nodes in execution order.
// Ensures dependencies are imported before dependents.
func topologicalSort(nodes []NodeProto) []NodeProto {
	outputToNode := make(map[string]int)
	for i := range nodes {
		for _, output := range nodes[i].Outputs {
			outputToNode[output] = i
		}
	}

	visited := make([]bool, len(nodes))
	result := make([]NodeProto, 0, len(nodes))

	var visit func(i int)
	visit = func(i int) {
		if visited[i] {
			return
		}
		visited[i] = true

		for _, input := range nodes[i].Inputs {
			if depIdx, ok := outputToNode[input]; ok {
				visit(depIdx)
			}
		}

		result = append(result, nodes[i])
	}

	for i := range nodes {
		visit(i)
	}

	return result
}
