package onnx

import (
	"github.com/pkg/errors"

	"github.com/born-ml/nnexport/internal/graph"
)

func (r *Registry) registerShapeOps() {
	r.Register("Add", importAdd)
	r.Register("Flatten", importFlatten)
	r.Register("Reshape", importReshape)
	r.Register("Softmax", importSoftmax)
	r.Register(CustomDomain+".Shuffle", importShuffle)
}

func importAdd(ctx *Context, node *NodeProto) error {
	a, err := ctx.Input(node, 0)
	if err != nil {
		return err
	}
	b, err := ctx.Input(node, 1)
	if err != nil {
		return err
	}
	ctx.Define(node, ctx.b.Add(LayerName(node), a, b))
	return nil
}

func flatten(ctx *Context, node *NodeProto, x *graph.Node) {
	n := ctx.b.Flatten(LayerName(node), x)
	if from, ok := ctx.Flattened(x); ok {
		ctx.markFlattened(n, from)
	} else {
		ctx.markFlattened(n, x.Shape)
	}
	ctx.Define(node, n)
}

func importFlatten(ctx *Context, node *NodeProto) error {
	x, err := ctx.Input(node, 0)
	if err != nil {
		return err
	}
	if axis := node.AttrInt("axis", 1); axis != 1 {
		return unsupportedAttr("flatten axis %d", axis)
	}
	flatten(ctx, node, x)
	return nil
}

// importReshape accepts reshapes to [N, -1] or [N, features] as a flatten.
func importReshape(ctx *Context, node *NodeProto) error {
	x, err := ctx.Input(node, 0)
	if err != nil {
		return err
	}
	t, ok := ctx.Initializer(node.Input(1))
	if !ok {
		return unsupportedAttr("reshape to a computed shape")
	}
	shape, err := t.Int64s()
	if err != nil {
		return err
	}
	if len(shape) != 2 || !(shape[0] == 1 || shape[0] == 0 || shape[0] == -1) {
		return unsupportedAttr("reshape to %v", shape)
	}
	if n := int64(x.Shape.NumElements()); shape[1] != -1 && shape[1] != n {
		return errors.Errorf("cannot reshape %v to %v", x.Shape, shape)
	}
	flatten(ctx, node, x)
	return nil
}

func importSoftmax(ctx *Context, node *NodeProto) error {
	x, err := ctx.Input(node, 0)
	if err != nil {
		return err
	}
	if len(x.Shape) != 1 {
		return unsupportedAttr("softmax of a %v tensor", x.Shape)
	}
	ctx.Define(node, ctx.b.Softmax(LayerName(node), x))
	return nil
}

func importShuffle(ctx *Context, node *NodeProto) error {
	x, err := ctx.Input(node, 0)
	if err != nil {
		return err
	}
	step := node.AttrInt("step", 0)
	if step <= 0 {
		return unsupportedAttr("shuffle step %d", step)
	}
	ctx.Define(node, ctx.b.Shuffle(LayerName(node), x, int(step)))
	return nil
}
