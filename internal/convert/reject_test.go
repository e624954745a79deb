package convert

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/born-ml/nnexport/internal/graph"
	"github.com/born-ml/nnexport/internal/tensor"
)

func TestConvertRejects(t *testing.T) {
	tests := []struct {
		name    string
		build   func(t *testing.T, b *graph.Builder, rng *rand.Rand, x *graph.Node) []*graph.Node
		outputs []string
		layer   string
		reason  Reason
	}{
		{
			name: "conv without activation",
			build: func(t *testing.T, b *graph.Builder, rng *rand.Rand, x *graph.Node) []*graph.Node {
				return []*graph.Node{b.Conv2D("conv", x, uniform(t, rng, -1, 1, 3, 3, 8, 8), nil, 1, graph.PaddingSame)}
			},
			layer:  "conv",
			reason: ReasonMissingActivation,
		},
		{
			name: "two residual adds",
			build: func(t *testing.T, b *graph.Builder, rng *rand.Rand, x *graph.Node) []*graph.Node {
				c1 := b.Conv2D("c1", x, uniform(t, rng, -1, 1, 1, 1, 8, 8), nil, 1, graph.PaddingValid)
				a1 := b.Activation("a1", c1, graph.ActivationClip)
				c2 := b.Conv2D("c2", a1, uniform(t, rng, -1, 1, 1, 1, 8, 8), nil, 1, graph.PaddingValid)
				add1 := b.Add("add1", c2, a1)
				add2 := b.Add("add2", add1, a1)
				return []*graph.Node{b.Activation("a2", add2, graph.ActivationClip)}
			},
			layer:  "add2",
			reason: ReasonResidualRedefined,
		},
		{
			name: "chained shuffles",
			build: func(t *testing.T, b *graph.Builder, rng *rand.Rand, x *graph.Node) []*graph.Node {
				c1 := b.Conv2D("c1", x, uniform(t, rng, -1, 1, 1, 1, 8, 16), nil, 1, graph.PaddingValid)
				a1 := b.Activation("a1", c1, graph.ActivationClip)
				s1 := b.Shuffle("s1", a1, 2)
				s2 := b.Shuffle("s2", s1, 2)
				c2 := b.Conv2D("c2", s2, uniform(t, rng, -1, 1, 1, 1, 16, 8), nil, 1, graph.PaddingValid)
				return []*graph.Node{b.Activation("a2", c2, graph.ActivationClip)}
			},
			layer:  "s2",
			reason: ReasonChainedShuffle,
		},
		{
			name: "batch normalization twice",
			build: func(t *testing.T, b *graph.Builder, rng *rand.Rand, x *graph.Node) []*graph.Node {
				c := b.Conv2D("conv", x, uniform(t, rng, -1, 1, 1, 1, 8, 8), nil, 1, graph.PaddingValid)
				n1 := batchNorm(b, rng, "bn1", c, 8)
				n2 := batchNorm(b, rng, "bn2", n1, 8)
				return []*graph.Node{b.Activation("act", n2, graph.ActivationClip)}
			},
			layer:  "bn2",
			reason: ReasonBatchNormRedefined,
		},
		{
			name: "bias with batch normalization",
			build: func(t *testing.T, b *graph.Builder, rng *rand.Rand, x *graph.Node) []*graph.Node {
				c := b.Conv2D("conv", x, uniform(t, rng, -1, 1, 1, 1, 8, 8), uniform(t, rng, -1, 1, 8), 1, graph.PaddingValid)
				n := batchNorm(b, rng, "bn", c, 8)
				return []*graph.Node{b.Activation("act", n, graph.ActivationClip)}
			},
			layer:  "bn",
			reason: ReasonBiasWithBatchNorm,
		},
		{
			name: "non-square kernel",
			build: func(t *testing.T, b *graph.Builder, rng *rand.Rand, x *graph.Node) []*graph.Node {
				c := b.Layer("conv", graph.Conv2D{
					KernelSize: [2]int{3, 1},
					Strides:    [2]int{1, 1},
					Filters:    8,
					Groups:     1,
					Kernel:     uniform(t, rng, -1, 1, 3, 1, 8, 8),
				}, x)
				return []*graph.Node{b.Activation("act", c, graph.ActivationClip)}
			},
			layer:  "conv",
			reason: ReasonNonSquareKernel,
		},
		{
			name: "unequal strides",
			build: func(t *testing.T, b *graph.Builder, rng *rand.Rand, x *graph.Node) []*graph.Node {
				c := b.Layer("conv", graph.Conv2D{
					KernelSize: [2]int{3, 3},
					Strides:    [2]int{1, 2},
					Filters:    8,
					Groups:     1,
					Kernel:     uniform(t, rng, -1, 1, 3, 3, 8, 8),
				}, x)
				return []*graph.Node{b.Activation("act", c, graph.ActivationClip)}
			},
			layer:  "conv",
			reason: ReasonNonSquareKernel,
		},
		{
			name: "non-square pooling",
			build: func(t *testing.T, b *graph.Builder, rng *rand.Rand, x *graph.Node) []*graph.Node {
				c := b.Conv2D("conv", x, uniform(t, rng, -1, 1, 1, 1, 8, 8), nil, 1, graph.PaddingValid)
				a := b.Activation("act", c, graph.ActivationClip)
				p := b.Layer("pool", graph.Pooling2D{
					Operator: graph.PoolMax,
					PoolSize: [2]int{2, 1},
					Strides:  [2]int{2, 1},
				}, a)
				return []*graph.Node{p}
			},
			layer:  "pool",
			reason: ReasonNonSquarePooling,
		},
		{
			name: "second activation after a block",
			build: func(t *testing.T, b *graph.Builder, rng *rand.Rand, x *graph.Node) []*graph.Node {
				c := b.Conv2D("conv", x, uniform(t, rng, -1, 1, 3, 3, 8, 8), nil, 1, graph.PaddingSame)
				a1 := b.BoundedReLU("act1", c, 6)
				return []*graph.Node{b.BoundedReLU("act2", a1, 6)}
			},
			layer:  "act2",
			reason: ReasonActivationRedefined,
		},
		{
			name: "activation without convolution",
			build: func(t *testing.T, b *graph.Builder, rng *rand.Rand, x *graph.Node) []*graph.Node {
				return []*graph.Node{b.Activation("act", x, graph.ActivationClip)}
			},
			layer:  "act",
			reason: ReasonNotInAccumulation,
		},
		{
			name: "pooling inside a block",
			build: func(t *testing.T, b *graph.Builder, rng *rand.Rand, x *graph.Node) []*graph.Node {
				c := b.Conv2D("conv", x, uniform(t, rng, -1, 1, 1, 1, 8, 8), nil, 1, graph.PaddingValid)
				p := b.MaxPooling2D("pool", c, 2, 2, graph.PaddingValid)
				return []*graph.Node{b.Activation("act", p, graph.ActivationClip)}
			},
			layer:  "pool",
			reason: ReasonWithinAccumulation,
		},
		{
			name: "unsupported layer",
			build: func(t *testing.T, b *graph.Builder, rng *rand.Rand, x *graph.Node) []*graph.Node {
				return []*graph.Node{b.Layer("lstm", graph.Unsupported{Type: "LSTM"}, x)}
			},
			layer:  "lstm",
			reason: ReasonUnsupportedLayer,
		},
		{
			name: "unsupported activation",
			build: func(t *testing.T, b *graph.Builder, rng *rand.Rand, x *graph.Node) []*graph.Node {
				c := b.Conv2D("conv", x, uniform(t, rng, -1, 1, 1, 1, 8, 8), nil, 1, graph.PaddingValid)
				return []*graph.Node{b.Layer("act", graph.Activation{Func: graph.ActivationFunc(42)}, c)}
			},
			layer:  "act",
			reason: ReasonUnsupportedActivation,
		},
		{
			name: "shuffle of the model input",
			build: func(t *testing.T, b *graph.Builder, rng *rand.Rand, x *graph.Node) []*graph.Node {
				s := b.Shuffle("shuffle", x, 2)
				c := b.Conv2D("conv", s, uniform(t, rng, -1, 1, 1, 1, 8, 8), nil, 1, graph.PaddingValid)
				return []*graph.Node{b.Activation("act", c, graph.ActivationClip)}
			},
			layer:  "shuffle",
			reason: ReasonInputShuffle,
		},
		{
			name: "residual from the model input",
			build: func(t *testing.T, b *graph.Builder, rng *rand.Rand, x *graph.Node) []*graph.Node {
				c := b.Conv2D("conv", x, uniform(t, rng, -1, 1, 1, 1, 8, 8), nil, 1, graph.PaddingValid)
				sum := b.Add("add", c, x)
				return []*graph.Node{b.Activation("act", sum, graph.ActivationClip)}
			},
			layer:  "add",
			reason: ReasonInputShuffle,
		},
		{
			name: "dangling shuffle",
			build: func(t *testing.T, b *graph.Builder, rng *rand.Rand, x *graph.Node) []*graph.Node {
				c := b.Conv2D("conv", x, uniform(t, rng, -1, 1, 1, 1, 8, 8), nil, 1, graph.PaddingValid)
				a := b.Activation("act", c, graph.ActivationClip)
				b.Shuffle("shuffle", a, 2)
				return nil
			},
			layer:  "shuffle",
			reason: ReasonDanglingShuffle,
		},
		{
			name: "convolution output used outside its block",
			build: func(t *testing.T, b *graph.Builder, rng *rand.Rand, x *graph.Node) []*graph.Node {
				c := b.Conv2D("conv", x, uniform(t, rng, -1, 1, 1, 1, 8, 8), nil, 1, graph.PaddingValid)
				b.Activation("act", c, graph.ActivationClip)
				return []*graph.Node{b.MaxPooling2D("pool", c, 2, 2, graph.PaddingValid)}
			},
			layer:  "pool",
			reason: ReasonInputNotExported,
		},
		{
			name: "residual add of one term twice",
			build: func(t *testing.T, b *graph.Builder, rng *rand.Rand, x *graph.Node) []*graph.Node {
				c := b.Conv2D("conv", x, uniform(t, rng, -1, 1, 1, 1, 8, 8), nil, 1, graph.PaddingValid)
				sum := b.Add("add", c, c)
				return []*graph.Node{b.Activation("act", sum, graph.ActivationClip)}
			},
			layer:  "add",
			reason: ReasonResidualTerms,
		},
		{
			name: "global pooling of a rectangle",
			build: func(t *testing.T, b *graph.Builder, rng *rand.Rand, x *graph.Node) []*graph.Node {
				c := b.Conv2D("conv", x, uniform(t, rng, -1, 1, 1, 1, 8, 8), nil, 1, graph.PaddingValid)
				a := b.Activation("act", c, graph.ActivationClip)
				return []*graph.Node{b.GlobalAveragePooling2D("gap", a)}
			},
			layer:  "gap",
			reason: ReasonGlobalPoolingShape,
		},
		{
			name: "output with gain",
			build: func(t *testing.T, b *graph.Builder, rng *rand.Rand, x *graph.Node) []*graph.Node {
				c := b.Conv2D("conv", x, uniform(t, rng, -1, 1, 1, 1, 8, 8), nil, 1, graph.PaddingValid)
				return []*graph.Node{b.BoundedReLU("relu", c, 2)}
			},
			layer:  "relu",
			reason: ReasonNonUnityOutputGain,
		},
		{
			name: "residual gain mismatch",
			build: func(t *testing.T, b *graph.Builder, rng *rand.Rand, x *graph.Node) []*graph.Node {
				c1 := b.Conv2D("c1", x, uniform(t, rng, -1, 1, 1, 1, 8, 8), nil, 1, graph.PaddingValid)
				a1 := b.BoundedReLU("a1", c1, 2)
				c2 := b.Conv2D("c2", a1, uniform(t, rng, -1, 1, 1, 1, 8, 8), nil, 1, graph.PaddingValid)
				sum := b.Add("add", c2, a1)
				return []*graph.Node{b.Activation("a2", sum, graph.ActivationClip)}
			},
			layer:  "add",
			reason: ReasonGainMismatch,
		},
		{
			name: "softmax with gain",
			build: func(t *testing.T, b *graph.Builder, rng *rand.Rand, x *graph.Node) []*graph.Node {
				c := b.Conv2D("conv", x, uniform(t, rng, -1, 1, 1, 1, 8, 8), nil, 1, graph.PaddingValid)
				a := b.BoundedReLU("relu", c, 2)
				f := b.Flatten("flatten", a)
				return []*graph.Node{b.Softmax("prob", f)}
			},
			layer:  "prob",
			reason: ReasonSoftmaxGain,
		},
		{
			name: "output absorbed in a block",
			build: func(t *testing.T, b *graph.Builder, rng *rand.Rand, x *graph.Node) []*graph.Node {
				c := b.Conv2D("c1", x, uniform(t, rng, -1, 1, 1, 1, 8, 8), nil, 1, graph.PaddingValid)
				b.Activation("act", c, graph.ActivationClip)
				return nil
			},
			outputs: []string{"c1"},
			layer:   "c1",
			reason:  ReasonOutputNotExported,
		},
		{
			name: "unknown output",
			build: func(t *testing.T, b *graph.Builder, rng *rand.Rand, x *graph.Node) []*graph.Node {
				c := b.Conv2D("conv", x, uniform(t, rng, -1, 1, 1, 1, 8, 8), nil, 1, graph.PaddingValid)
				b.Activation("act", c, graph.ActivationClip)
				return nil
			},
			outputs: []string{"nope"},
			layer:   "nope",
			reason:  ReasonOutputNotExported,
		},
		{
			name: "model input as output",
			build: func(t *testing.T, b *graph.Builder, rng *rand.Rand, x *graph.Node) []*graph.Node {
				return []*graph.Node{x}
			},
			layer:  "input",
			reason: ReasonOutputNotExported,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rng := rand.New(rand.NewSource(1))
			b := graph.NewBuilder()
			x := b.Input("input", 4, 6, 8)
			outputs := tt.build(t, b, rng, x)
			g, err := b.Build(outputs...)
			require.NoError(t, err)

			opts, _ := testOptions()
			opts.Outputs = tt.outputs
			res, err := Convert(g, opts)
			require.Error(t, err)
			assert.Nil(t, res)

			ce, ok := AsConversionError(err)
			require.True(t, ok, "got %v", err)
			assert.Equal(t, tt.reason, ce.Reason, ce.Error())
			assert.Equal(t, tt.layer, ce.Layer)
		})
	}
}

func TestConvertRejectsUnreachableLayer(t *testing.T) {
	rng := rand.New(rand.NewSource(1))
	b := graph.NewBuilder()
	x := b.Input("input", 4, 4, 8)
	c := b.Conv2D("conv", x, uniform(t, rng, -1, 1, 1, 1, 8, 8), nil, 1, graph.PaddingValid)
	a := b.Activation("act", c, graph.ActivationClip)
	g, err := b.Build(a)
	require.NoError(t, err)
	g.AddDetached("orphan", graph.Softmax{}, tensor.Shape{8})

	opts, _ := testOptions()
	_, err = Convert(g, opts)
	ce, ok := AsConversionError(err)
	require.True(t, ok, "got %v", err)
	assert.Equal(t, ReasonUnreachableLayer, ce.Reason)
	assert.Equal(t, "orphan", ce.Layer)
}

func TestConvertNilGraph(t *testing.T) {
	_, err := Convert(nil, DefaultOptions())
	require.Error(t, err)
	_, ok := AsConversionError(err)
	assert.False(t, ok)
}
