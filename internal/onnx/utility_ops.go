package onnx

import (
	"github.com/pkg/errors"
)

func (r *Registry) registerUtilityOps() {
	r.Register("Identity", importIdentity)
	r.Register("Dropout", importIdentity)
	r.Register("Constant", importConstant)
}

// importIdentity binds the output to the input layer without adding one.
func importIdentity(ctx *Context, node *NodeProto) error {
	if t, ok := ctx.Initializer(node.Input(0)); ok {
		ctx.DefineConstant(node, t)
		return nil
	}
	x, err := ctx.Input(node, 0)
	if err != nil {
		return err
	}
	ctx.Define(node, x)
	return nil
}

func importConstant(ctx *Context, node *NodeProto) error {
	a := node.Attr("value")
	if a == nil || a.T == nil {
		return errors.New("constant without tensor value")
	}
	ctx.DefineConstant(node, a.T)
	return nil
}
