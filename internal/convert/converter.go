package convert

import (
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/born-ml/nnexport/internal/blobstore"
	"github.com/born-ml/nnexport/internal/graph"
	"github.com/born-ml/nnexport/internal/nnets"
)

// converter is the state of one conversion.
type converter struct {
	opts  Options
	log   logrus.FieldLogger
	model *nnets.Model
	blobs *blobstore.Store

	bindings map[*graph.Node]Binding
	acc      accumulator
	// closed maps the activation ending each fused block to its convolution.
	closed map[*graph.Node]*graph.Node
}

// Convert converts a layer graph into an operator graph and its weights.
func Convert(g *graph.Graph, opts Options) (*Result, error) {
	if g == nil {
		return nil, errors.New("nil graph")
	}
	if opts.Logger == nil {
		opts.Logger = logrus.StandardLogger()
	}
	if opts.Store == nil {
		opts.Store = blobstore.New()
	}

	c := &converter{
		opts:     opts,
		log:      opts.Logger,
		model:    nnets.NewModel(),
		blobs:    opts.Store,
		bindings: make(map[*graph.Node]Binding, len(g.Nodes)),
		closed:   make(map[*graph.Node]*graph.Node),
	}

	order, err := graph.Walk(g, c.visit)
	if err != nil {
		return nil, err
	}
	if err := c.check(g, order); err != nil {
		return nil, err
	}
	return c.export(g)
}

func (c *converter) visit(n *graph.Node) error {
	c.log.WithFields(logrus.Fields{"layer": n.Name, "kind": n.Kind()}).Debug("visiting layer")

	if !c.acc.idle() {
		return c.accumulate(n)
	}

	switch l := n.Layer.(type) {
	case graph.Input:
		c.bind(n, Binding{Gain: 1})
		return nil
	case graph.Conv2D:
		return c.openConv2D(n, l)
	case graph.Dense:
		return c.dense(n, l)
	case graph.Pooling2D:
		return c.pooling(n, l)
	case graph.GlobalPooling2D:
		return c.globalPooling(n, l)
	case graph.Flatten:
		return c.passThrough(n)
	case graph.Softmax:
		return c.softmax(n)
	case graph.Shuffle:
		return c.resolveShuffle(n, l)
	case graph.Activation:
		if len(n.Inbound) == 1 {
			if conv, ok := c.closed[n.Inbound[0]]; ok {
				return reject(n, ReasonActivationRedefined, "for %s", conv.Name)
			}
		}
		return reject(n, ReasonNotInAccumulation, "%s layer", n.Kind())
	case graph.BatchNorm, graph.Add:
		return reject(n, ReasonNotInAccumulation, "%s layer", n.Kind())
	case graph.Unsupported:
		return reject(n, ReasonUnsupportedLayer, "%s", l.Type)
	}
	return reject(n, ReasonUnsupportedLayer, "%T", n.Layer)
}

func (c *converter) dense(n *graph.Node, l graph.Dense) error {
	in, err := c.input(n, 0)
	if err != nil {
		return err
	}
	if l.Kernel == nil {
		return reject(n, ReasonUnsupportedLayer, "dense layer without kernel")
	}

	// The backend expects a [units, inputs] matrix.
	matrix, err := l.Kernel.Permute(1, 0)
	if err != nil {
		return reject(n, ReasonUnsupportedLayer, "%v", err)
	}
	unscaleBlob(matrix, in.Gain)

	name := c.name(n)
	c.blobs.Set(name+nnets.MatrixSuffix, matrix)
	if l.UseBias {
		if l.Bias == nil {
			return reject(n, ReasonUnsupportedLayer, "bias enabled but missing")
		}
		c.blobs.Set(name+nnets.BiasSuffix, l.Bias.Clone())
	}

	if err := c.appendOp(&nnets.Dense{Name: name, Units: l.Units, UseBias: l.UseBias}, in); err != nil {
		return err
	}
	c.bind(n, Binding{Operation: name, Gain: 1})
	return nil
}

func (c *converter) pooling(n *graph.Node, l graph.Pooling2D) error {
	if l.PoolSize[0] != l.PoolSize[1] || l.Strides[0] != l.Strides[1] {
		return reject(n, ReasonNonSquarePooling, "pool %v strides %v", l.PoolSize, l.Strides)
	}
	return c.emitPooling(n, l.Operator, l.PoolSize[0], l.Strides[0], padding(l.Padding))
}

func (c *converter) globalPooling(n *graph.Node, l graph.GlobalPooling2D) error {
	if _, err := c.input(n, 0); err != nil {
		return err
	}
	shape := n.Inbound[0].Shape
	if len(shape) != 3 || shape[0] != shape[1] {
		return reject(n, ReasonGlobalPoolingShape, "input %v", shape)
	}
	return c.emitPooling(n, l.Operator, shape[0], 1, nnets.PaddingValid)
}

func (c *converter) emitPooling(n *graph.Node, op graph.PoolingOperator, size, stride int, pad nnets.Padding) error {
	in, err := c.input(n, 0)
	if err != nil {
		return err
	}
	operator := nnets.PoolingMax
	if op == graph.PoolAverage {
		operator = nnets.PoolingAverage
	}
	name := c.name(n)
	err = c.appendOp(&nnets.Pooling2D{
		Name:     name,
		Operator: operator,
		Size:     size,
		Stride:   stride,
		Padding:  pad,
	}, in)
	if err != nil {
		return err
	}
	c.bind(n, Binding{Operation: name, Gain: in.Gain})
	return nil
}

func (c *converter) passThrough(n *graph.Node) error {
	in, err := c.input(n, 0)
	if err != nil {
		return err
	}
	c.bind(n, in)
	return nil
}

func (c *converter) softmax(n *graph.Node) error {
	in, err := c.input(n, 0)
	if err != nil {
		return err
	}
	if in.Gain != 1 {
		return reject(n, ReasonSoftmaxGain, "gain %v", in.Gain)
	}
	name := c.name(n)
	if err := c.appendOp(&nnets.Softmax{Name: name}, in); err != nil {
		return err
	}
	c.bind(n, Binding{Operation: name, Gain: 1})
	return nil
}

// input returns the binding of the index-th input of a layer.
func (c *converter) input(n *graph.Node, index int) (Binding, error) {
	if index >= len(n.Inbound) {
		return Binding{}, reject(n, ReasonInputNotExported, "layer has no input %d", index)
	}
	src := n.Inbound[index]
	b, ok := c.bindings[src]
	if !ok {
		return Binding{}, reject(n, ReasonInputNotExported, "layer input %s is not exported", src.Name)
	}
	return b, nil
}

func (c *converter) bind(n *graph.Node, b Binding) {
	c.bindings[n] = b
}

func (c *converter) name(n *graph.Node) string {
	return c.opts.Prefix + n.Name
}

// appendOp adds an operation fed by in on input slot 0.
func (c *converter) appendOp(op nnets.Operation, in Binding) error {
	if err := c.model.Append(op); err != nil {
		return errors.Wrap(err, "failed to add operation")
	}
	return c.connect(in, op.ID(), 0)
}

// connect adds a connection from b unless b is the model input, which the
// backend feeds to operations without incoming connection.
func (c *converter) connect(b Binding, dest string, slot int) error {
	if b.IsModelInput() {
		return nil
	}
	if err := c.model.AddConnection(b.connection(dest, slot)); err != nil {
		return errors.Wrap(err, "failed to add connection")
	}
	return nil
}

// check validates the state reached at the end of the walk.
func (c *converter) check(g *graph.Graph, order []*graph.Node) error {
	if !c.acc.idle() {
		return reject(c.acc.conv, ReasonMissingActivation, "")
	}
	for _, n := range order {
		if _, ok := n.Layer.(graph.Shuffle); ok && len(n.Outbound) == 0 {
			return reject(n, ReasonDanglingShuffle, "")
		}
	}
	if missing := graph.Unvisited(g, order); len(missing) > 0 {
		return reject(missing[0], ReasonUnreachableLayer, "")
	}
	return nil
}

func (c *converter) export(g *graph.Graph) (*Result, error) {
	names := c.opts.Outputs
	if names == nil {
		for _, n := range g.Outputs {
			names = append(names, n.Name)
		}
	}

	outputs := make([]OutputBinding, 0, len(names))
	for _, name := range names {
		n, ok := g.Node(name)
		if !ok {
			return nil, errors.WithStack(&ConversionError{Layer: name, Reason: ReasonOutputNotExported, Detail: "no such layer"})
		}
		b, ok := c.bindings[n]
		if !ok || b.IsModelInput() {
			return nil, reject(n, ReasonOutputNotExported, "")
		}
		if b.Gain != 1 {
			return nil, reject(n, ReasonNonUnityOutputGain, "gain %v", b.Gain)
		}
		outputs = append(outputs, OutputBinding{Layer: name, Binding: b})
	}

	bindings := make(map[string]Binding, len(c.bindings))
	for n, b := range c.bindings {
		bindings[n.Name] = b
	}

	c.log.WithFields(logrus.Fields{
		"operations":  c.model.Len(),
		"connections": len(c.model.Connections()),
		"blobs":       c.blobs.Len(),
	}).Debug("conversion complete")

	return &Result{
		Model:    c.model,
		Blobs:    c.blobs,
		Outputs:  outputs,
		bindings: bindings,
	}, nil
}
