package onnx

import (
	"github.com/pkg/errors"

	"github.com/born-ml/nnexport/internal/backend/cpu"
	"github.com/born-ml/nnexport/internal/graph"
	"github.com/born-ml/nnexport/internal/tensor"
)

func (r *Registry) registerLayerOps() {
	r.Register("Conv", importConv)
	r.Register("BatchNormalization", importBatchNorm)
	r.Register("MaxPool", importPool(graph.PoolMax))
	r.Register("AveragePool", importPool(graph.PoolAverage))
	r.Register("GlobalMaxPool", importGlobalPool(graph.PoolMax))
	r.Register("GlobalAveragePool", importGlobalPool(graph.PoolAverage))
	r.Register("Gemm", importGemm)
}

// spatialInput returns the first input of a node, which must be [H, W, C].
func spatialInput(ctx *Context, node *NodeProto) (*graph.Node, error) {
	x, err := ctx.Input(node, 0)
	if err != nil {
		return nil, err
	}
	if len(x.Shape) != 3 {
		return nil, errors.Errorf("input %q has shape %v, expected a feature map", x.Name, x.Shape)
	}
	return x, nil
}

// pair reads a two-element spatial attribute such as strides.
func pair(node *NodeProto, name string, defaultVal int) ([2]int, error) {
	v := node.AttrInts(name)
	switch len(v) {
	case 0:
		return [2]int{defaultVal, defaultVal}, nil
	case 2:
		return [2]int{int(v[0]), int(v[1])}, nil
	}
	return [2]int{}, unsupportedAttr("%s %v", name, v)
}

// windowPadding maps the auto_pad and pads attributes to a padding mode.
// Explicit pads are accepted when they are zero or equal to the padding the
// same mode would apply to this input.
func windowPadding(node *NodeProto, in tensor.Shape, size, strides [2]int) (graph.Padding, error) {
	switch autoPad := node.AttrString("auto_pad", "NOTSET"); autoPad {
	case "VALID":
		return graph.PaddingValid, nil
	case "SAME_UPPER":
		return graph.PaddingSame, nil
	case "NOTSET", "":
	default:
		return 0, unsupportedAttr("auto_pad %s", autoPad)
	}

	pads := node.AttrInts("pads")
	if len(pads) == 0 {
		return graph.PaddingValid, nil
	}
	if len(pads) != 4 {
		return 0, unsupportedAttr("pads %v", pads)
	}
	zero := true
	for _, p := range pads {
		if p != 0 {
			zero = false
		}
	}
	if zero {
		return graph.PaddingValid, nil
	}
	for axis := 0; axis < 2; axis++ {
		out, before := cpu.OutputSize(in[axis], size[axis], strides[axis], true)
		total := max((out-1)*strides[axis]+size[axis]-in[axis], 0)
		if int(pads[axis]) != before || int(pads[axis+2]) != total-before {
			return 0, unsupportedAttr("pads %v do not match same padding", pads)
		}
	}
	return graph.PaddingSame, nil
}

func checkDilations(node *NodeProto) error {
	for _, d := range node.AttrInts("dilations") {
		if d != 1 {
			return unsupportedAttr("dilations %v", node.AttrInts("dilations"))
		}
	}
	return nil
}

// optionalWeights decodes the i-th input if present.
func optionalWeights(ctx *Context, node *NodeProto, i int) (*tensor.RawTensor, error) {
	name := node.Input(i)
	if name == "" {
		return nil, nil
	}
	return ctx.Weights(name)
}

func importConv(ctx *Context, node *NodeProto) error {
	x, err := spatialInput(ctx, node)
	if err != nil {
		return err
	}
	if err := checkDilations(node); err != nil {
		return err
	}
	w, err := ctx.Weights(node.Input(1))
	if err != nil {
		return err
	}
	ws := w.Shape()
	if len(ws) != 4 {
		return errors.Errorf("weights of shape %v, expected [M, C/group, kH, kW]", ws)
	}
	filters, groupChannels, kh, kw := ws[0], ws[1], ws[2], ws[3]
	channels := x.Shape[2]
	groups := int(node.AttrInt("group", 1))
	if groups <= 0 || channels != groupChannels*groups {
		return errors.Errorf("weights %v do not match %d input channels in %d groups", ws, channels, groups)
	}

	strides, err := pair(node, "strides", 1)
	if err != nil {
		return err
	}
	size := [2]int{kh, kw}
	padding, err := windowPadding(node, x.Shape, size, strides)
	if err != nil {
		return err
	}

	// OIHW to HWIO.
	kernel, err := w.Permute(2, 3, 1, 0)
	if err != nil {
		return err
	}
	bias, err := optionalWeights(ctx, node, 2)
	if err != nil {
		return err
	}
	if bias != nil {
		if bias, err = bias.Reshape(tensor.Shape{filters}); err != nil {
			return err
		}
	}

	layer := graph.Conv2D{
		KernelSize: size,
		Strides:    strides,
		Padding:    padding,
		Filters:    filters,
		UseBias:    bias != nil,
		Groups:     groups,
		Kernel:     kernel,
		Bias:       bias,
	}
	if groups > 1 && groupChannels == 1 {
		// Group c produces outputs c*M/C..(c+1)*M/C-1, the order of a
		// depthwise kernel [kH, kW, C, M/C].
		layer.Depthwise = true
		if layer.Kernel, err = kernel.Reshape(tensor.Shape{kh, kw, channels, filters / channels}); err != nil {
			return err
		}
	}
	ctx.Define(node, ctx.b.Layer(LayerName(node), layer, x))
	return nil
}

func importBatchNorm(ctx *Context, node *NodeProto) error {
	x, err := ctx.Input(node, 0)
	if err != nil {
		return err
	}
	params := make([][]float32, 4)
	for i := range params {
		t, err := ctx.Weights(node.Input(i + 1))
		if err != nil {
			return err
		}
		params[i] = t.AsFloat32()
	}
	epsilon := node.AttrFloat("epsilon", 1e-5)
	n := ctx.b.BatchNormalization(LayerName(node), x, params[0], params[1], params[2], params[3], epsilon)
	ctx.Define(node, n)
	return nil
}

func importPool(op graph.PoolingOperator) OpHandler {
	return func(ctx *Context, node *NodeProto) error {
		x, err := spatialInput(ctx, node)
		if err != nil {
			return err
		}
		if err := checkDilations(node); err != nil {
			return err
		}
		if node.AttrInt("ceil_mode", 0) != 0 {
			return unsupportedAttr("ceil_mode 1")
		}
		size, err := pair(node, "kernel_shape", 0)
		if err != nil {
			return err
		}
		strides, err := pair(node, "strides", 1)
		if err != nil {
			return err
		}
		padding, err := windowPadding(node, x.Shape, size, strides)
		if err != nil {
			return err
		}
		if op == graph.PoolAverage && padding == graph.PaddingSame && node.AttrInt("count_include_pad", 0) != 0 {
			return unsupportedAttr("count_include_pad 1")
		}

		n := ctx.b.Layer(LayerName(node), graph.Pooling2D{
			Operator: op,
			PoolSize: size,
			Strides:  strides,
			Padding:  padding,
		}, x)
		ctx.Define(node, n)
		return nil
	}
}

func importGlobalPool(op graph.PoolingOperator) OpHandler {
	return func(ctx *Context, node *NodeProto) error {
		x, err := spatialInput(ctx, node)
		if err != nil {
			return err
		}
		ctx.Define(node, ctx.b.Layer(LayerName(node), graph.GlobalPooling2D{Operator: op}, x))
		return nil
	}
}

// importGemm imports Y = alpha*A*B + beta*C as a dense layer.
func importGemm(ctx *Context, node *NodeProto) error {
	x, err := ctx.Input(node, 0)
	if err != nil {
		return err
	}
	if node.AttrInt("transA", 0) != 0 {
		return unsupportedAttr("transA 1")
	}
	w, err := ctx.Weights(node.Input(1))
	if err != nil {
		return err
	}
	if len(w.Shape()) != 2 {
		return errors.Errorf("weights of shape %v, expected a matrix", w.Shape())
	}

	kernel := w
	if node.AttrInt("transB", 0) != 0 {
		if kernel, err = w.Permute(1, 0); err != nil {
			return err
		}
	}
	if alpha := node.AttrFloat("alpha", 1); alpha != 1 {
		kernel.Scale(alpha)
	}
	if from, ok := ctx.Flattened(x); ok {
		if kernel, err = channelMajorRows(kernel, from); err != nil {
			return err
		}
	}

	units := kernel.Shape()[1]
	bias, err := optionalWeights(ctx, node, 2)
	if err != nil {
		return err
	}
	if bias != nil {
		if bias.NumElements() != units {
			return unsupportedAttr("bias of shape %v for %d units", bias.Shape(), units)
		}
		if bias, err = bias.Reshape(tensor.Shape{units}); err != nil {
			return err
		}
		if beta := node.AttrFloat("beta", 1); beta != 1 {
			bias.Scale(beta)
		}
	}

	ctx.Define(node, ctx.b.Dense(LayerName(node), x, kernel, bias))
	return nil
}

// channelMajorRows reorders the rows of a [C*H*W, units] matrix, indexed in
// the channel-major order of a flattened NCHW tensor, into the
// height-width-channel order of the layer graph.
func channelMajorRows(kernel *tensor.RawTensor, from tensor.Shape) (*tensor.RawTensor, error) {
	h, w, c := from[0], from[1], from[2]
	rows, units := kernel.Shape()[0], kernel.Shape()[1]
	if rows != h*w*c {
		return nil, errors.Errorf("weights of %d rows for a flattened %v input", rows, from)
	}
	out, err := tensor.NewRaw(kernel.Shape())
	if err != nil {
		return nil, err
	}
	src := kernel.AsFloat32()
	dst := out.AsFloat32()
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			for ch := 0; ch < c; ch++ {
				to := ((y*w+x)*c + ch) * units
				at := ((ch*h+y)*w + x) * units
				copy(dst[to:to+units], src[at:at+units])
			}
		}
	}
	return out, nil
}
