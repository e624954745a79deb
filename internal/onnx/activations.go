package onnx

import (
	"math"

	"github.com/born-ml/nnexport/internal/graph"
)

func (r *Registry) registerActivations() {
	r.Register("Clip", importClip)
	r.Register("HardSigmoid", importHardSigmoid)
	r.Register(CustomDomain+".BRelu6", importActivation(graph.ActivationBRelu6))
	r.Register(CustomDomain+".Clip", importActivation(graph.ActivationClip))
}

func importActivation(fn graph.ActivationFunc) OpHandler {
	return func(ctx *Context, node *NodeProto) error {
		x, err := ctx.Input(node, 0)
		if err != nil {
			return err
		}
		ctx.Define(node, ctx.b.Activation(LayerName(node), x, fn))
		return nil
	}
}

// clipBounds reads the bounds of a Clip node: attributes before opset 11,
// optional constant inputs after.
func clipBounds(ctx *Context, node *NodeProto) (lo, hi float32, err error) {
	lo, hi = float32(math.Inf(-1)), float32(math.Inf(1))
	if ctx.Opset() != 0 && ctx.Opset() < 11 {
		return node.AttrFloat("min", lo), node.AttrFloat("max", hi), nil
	}
	if name := node.Input(1); name != "" {
		if lo, err = ctx.Scalar(name); err != nil {
			return 0, 0, err
		}
	}
	if name := node.Input(2); name != "" {
		if hi, err = ctx.Scalar(name); err != nil {
			return 0, 0, err
		}
	}
	return lo, hi, nil
}

// importClip maps Clip(0, 1) to the plain clip and Clip(0, m) to a bounded
// ReLU with upper bound m.
func importClip(ctx *Context, node *NodeProto) error {
	x, err := ctx.Input(node, 0)
	if err != nil {
		return err
	}
	lo, hi, err := clipBounds(ctx, node)
	if err != nil {
		return err
	}
	if lo != 0 {
		return unsupportedAttr("clip lower bound %v", lo)
	}
	if math.IsInf(float64(hi), 1) || !(hi > 0) {
		return unsupportedAttr("clip upper bound %v", hi)
	}

	name := LayerName(node)
	if hi == 1 {
		ctx.Define(node, ctx.b.Activation(name, x, graph.ActivationClip))
	} else {
		ctx.Define(node, ctx.b.BoundedReLU(name, x, hi))
	}
	return nil
}

func importHardSigmoid(ctx *Context, node *NodeProto) error {
	x, err := ctx.Input(node, 0)
	if err != nil {
		return err
	}
	alpha := node.AttrFloat("alpha", 0.2)
	beta := node.AttrFloat("beta", 0.5)
	if math.Abs(float64(alpha-0.2)) > 1e-6 || math.Abs(float64(beta-0.5)) > 1e-6 {
		return unsupportedAttr("hard sigmoid alpha %v beta %v", alpha, beta)
	}
	ctx.Define(node, ctx.b.Activation(LayerName(node), x, graph.ActivationHardSigmoid))
	return nil
}
