package convert

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/born-ml/nnexport/internal/blobstore"
	"github.com/born-ml/nnexport/internal/graph"
	"github.com/born-ml/nnexport/internal/nnets"
	"github.com/born-ml/nnexport/internal/tensor"
)

type modelCase struct {
	name  string
	input []int
	build func(t *testing.T, b *graph.Builder, rng *rand.Rand, x *graph.Node) *graph.Node
	tol   float64
}

var modelCases = []modelCase{
	{
		name:  "conv bias clip",
		input: []int{6, 6, 4},
		build: func(t *testing.T, b *graph.Builder, rng *rand.Rand, x *graph.Node) *graph.Node {
			c := b.Conv2D("conv", x, uniform(t, rng, -0.3, 0.3, 3, 3, 4, 8), uniform(t, rng, -0.1, 0.1, 8), 1, graph.PaddingSame)
			return b.Activation("act", c, graph.ActivationClip)
		},
		tol: 0.001,
	},
	{
		name:  "conv batchnorm brelu6",
		input: []int{7, 7, 4},
		build: func(t *testing.T, b *graph.Builder, rng *rand.Rand, x *graph.Node) *graph.Node {
			c := b.Conv2D("conv", x, uniform(t, rng, -1, 1, 3, 3, 4, 8), nil, 2, graph.PaddingValid)
			n := batchNorm(b, rng, "bn", c, 8)
			return b.Activation("act", n, graph.ActivationBRelu6)
		},
		tol: 0.001,
	},
	{
		name:  "depthwise batchnorm hard sigmoid",
		input: []int{5, 5, 8},
		build: func(t *testing.T, b *graph.Builder, rng *rand.Rand, x *graph.Node) *graph.Node {
			c := b.DepthwiseConv2D("dw", x, uniform(t, rng, -0.5, 0.5, 3, 3, 8, 1), nil, 1, graph.PaddingSame)
			n := batchNorm(b, rng, "bn", c, 8)
			return b.Activation("act", n, graph.ActivationHardSigmoid)
		},
		tol: 0.001,
	},
	{
		name:  "grouped conv batchnorm clip",
		input: []int{8, 8, 8},
		build: func(t *testing.T, b *graph.Builder, rng *rand.Rand, x *graph.Node) *graph.Node {
			c := b.Conv2D("grouped", x, uniform(t, rng, -0.3, 0.3, 3, 3, 2, 8), nil, 2, graph.PaddingSame)
			n := batchNorm(b, rng, "bn", c, 8)
			return b.Activation("act", n, graph.ActivationClip)
		},
		tol: 0.001,
	},
	{
		name:  "bounded relu then conv",
		input: []int{6, 6, 4},
		build: func(t *testing.T, b *graph.Builder, rng *rand.Rand, x *graph.Node) *graph.Node {
			c1 := b.Conv2D("conv1", x, uniform(t, rng, -1, 1, 3, 3, 4, 8), nil, 1, graph.PaddingSame)
			n := batchNorm(b, rng, "bn1", c1, 8)
			a1 := b.BoundedReLU("relu6", n, 6)
			c2 := b.Conv2D("conv2", a1, uniform(t, rng, -0.2, 0.2, 1, 1, 8, 8), uniform(t, rng, 0, 0.2, 8), 1, graph.PaddingValid)
			return b.Activation("act2", c2, graph.ActivationClip)
		},
		tol: 0.001,
	},
	{
		name:  "classifier head",
		input: []int{4, 4, 4},
		build: func(t *testing.T, b *graph.Builder, rng *rand.Rand, x *graph.Node) *graph.Node {
			c := b.Conv2D("conv", x, uniform(t, rng, -1, 1, 3, 3, 4, 8), nil, 1, graph.PaddingSame)
			a := b.BoundedReLU("relu2", c, 2)
			p := b.GlobalAveragePooling2D("gap", a)
			f := b.Flatten("flatten", p)
			d := b.Dense("fc", f, uniform(t, rng, -1, 1, 8, 5), uniform(t, rng, -0.1, 0.1, 5))
			return b.Softmax("prob", d)
		},
		tol: 0.001,
	},
	{
		name:  "residual",
		input: []int{5, 5, 8},
		build: func(t *testing.T, b *graph.Builder, rng *rand.Rand, x *graph.Node) *graph.Node {
			c1 := b.Conv2D("conv1", x, uniform(t, rng, -0.3, 0.3, 1, 1, 8, 8), uniform(t, rng, 0, 0.3, 8), 1, graph.PaddingValid)
			a1 := b.Activation("act1", c1, graph.ActivationClip)
			c2 := b.Conv2D("conv2", a1, uniform(t, rng, -0.3, 0.3, 3, 3, 8, 8), nil, 1, graph.PaddingSame)
			n := batchNorm(b, rng, "bn2", c2, 8)
			sum := b.Add("add", n, a1)
			return b.Activation("act2", sum, graph.ActivationClip)
		},
		tol: 0.001,
	},
	{
		name:  "shuffle",
		input: []int{3, 3, 16},
		build: func(t *testing.T, b *graph.Builder, rng *rand.Rand, x *graph.Node) *graph.Node {
			c1 := b.Conv2D("conv1", x, uniform(t, rng, -0.3, 0.3, 1, 1, 16, 16), uniform(t, rng, 0, 0.3, 16), 1, graph.PaddingValid)
			a1 := b.Activation("act1", c1, graph.ActivationClip)
			s := b.Shuffle("shuffle", a1, 2)
			c2 := b.Conv2D("conv2", s, uniform(t, rng, -0.3, 0.3, 1, 1, 4, 16), nil, 1, graph.PaddingValid)
			return b.Activation("act2", c2, graph.ActivationClip)
		},
		tol: 0.001,
	},
	{
		name:  "pooling",
		input: []int{9, 9, 4},
		build: func(t *testing.T, b *graph.Builder, rng *rand.Rand, x *graph.Node) *graph.Node {
			c := b.Conv2D("conv", x, uniform(t, rng, -0.5, 0.5, 3, 3, 4, 4), nil, 1, graph.PaddingSame)
			a := b.BoundedReLU("relu", c, 4)
			p1 := b.MaxPooling2D("maxpool", a, 2, 2, graph.PaddingSame)
			p2 := b.AveragePooling2D("avgpool", p1, 3, 1, graph.PaddingValid)
			c2 := b.Conv2D("conv2", p2, uniform(t, rng, -0.5, 0.5, 1, 1, 4, 4), nil, 1, graph.PaddingValid)
			return b.Activation("act", c2, graph.ActivationClip)
		},
		tol: 0.001,
	},
}

func buildCase(t *testing.T, tc modelCase, seed int64) (*graph.Graph, *tensor.RawTensor) {
	t.Helper()
	rng := rand.New(rand.NewSource(seed))
	b := graph.NewBuilder()
	x := b.Input("input", tc.input...)
	out := tc.build(t, b, rng, x)
	g, err := b.Build(out)
	require.NoError(t, err)
	return g, uniform(t, rng, -1, 1, tc.input...)
}

func TestConvertMatchesReference(t *testing.T) {
	for _, tc := range modelCases {
		t.Run(tc.name, func(t *testing.T) {
			for seed := int64(1); seed <= 3; seed++ {
				g, input := buildCase(t, tc, seed)
				opts, _ := testOptions()
				res, err := Convert(g, opts)
				require.NoError(t, err)
				assertMatchesReference(t, g, res, input, nnets.StorageFloat32, tc.tol)
			}
		})
	}
}

func TestConvertMatchesReferenceHalfStorage(t *testing.T) {
	for _, tc := range modelCases {
		t.Run(tc.name, func(t *testing.T) {
			g, input := buildCase(t, tc, 42)
			opts, _ := testOptions()
			res, err := Convert(g, opts)
			require.NoError(t, err)
			assertMatchesReference(t, g, res, input, nnets.StorageFloat16, 0.009)
		})
	}
}

func TestConvertDeterministic(t *testing.T) {
	for _, tc := range modelCases {
		t.Run(tc.name, func(t *testing.T) {
			g, _ := buildCase(t, tc, 7)
			opts, _ := testOptions()
			opts.Prefix = "net/"

			first, err := Convert(g, opts)
			require.NoError(t, err)
			second, err := Convert(g, opts)
			require.NoError(t, err)

			assert.Equal(t, first.Model.Operations(), second.Model.Operations())
			assert.Equal(t, first.Model.Connections(), second.Model.Connections())
			assert.True(t, first.Blobs.Equal(second.Blobs))

			a, err := nnets.Serialize(first.Model)
			require.NoError(t, err)
			b, err := nnets.Serialize(second.Model)
			require.NoError(t, err)
			assert.Equal(t, string(a), string(b))
		})
	}
}

func TestConvertConcreteBoundedRelu(t *testing.T) {
	values := make([]float32, 3*3*4*8)
	for i := range values {
		values[i] = float32(i%11)/10 - 0.5
	}
	kernel, err := tensor.FromFloat32(values, tensor.Shape{3, 3, 4, 8})
	require.NoError(t, err)

	b := graph.NewBuilder()
	x := b.Input("input", 5, 5, 4)
	c := b.Conv2D("conv", x, kernel, nil, 1, graph.PaddingValid)
	a := b.BoundedReLU("act", c, 2.0)
	g, err := b.Build()
	require.NoError(t, err)

	opts, _ := testOptions()
	res, err := Convert(g, opts)
	require.NoError(t, err)

	require.Equal(t, 1, res.Model.Len())
	op, ok := res.Model.First().(*nnets.Conv2D)
	require.True(t, ok)
	assert.Equal(t, &nnets.Conv2D{
		Name:           "conv",
		KernelSize:     3,
		InputChannels:  4,
		OutputChannels: 8,
		Stride:         1,
		Padding:        nnets.PaddingValid,
		UseBias:        false,
		Groups:         1,
		Activation:     nnets.ActivationDefault,
	}, op)
	assert.Empty(t, res.Model.Connections())

	filters, ok := res.Blobs.Get("conv/w")
	require.True(t, ok)
	for i, v := range filters.AsFloat32() {
		require.Equal(t, values[i]*0.5, v)
	}
	assert.False(t, res.Blobs.Has("conv/b"))
	// The source kernel is left untouched.
	assert.Equal(t, values, kernel.AsFloat32())

	binding, ok := res.Binding(a.Name)
	require.True(t, ok)
	assert.Equal(t, Binding{Operation: "conv", Gain: 0.5}, binding)
	_, ok = res.Binding("conv")
	assert.False(t, ok)

	// Stored values times 2 recover the natural output.
	inputValues := make([]float32, 5*5*4)
	for i := range inputValues {
		inputValues[i] = float32(i%7) / 7
	}
	input, err := tensor.FromFloat32(inputValues, tensor.Shape{5, 5, 4})
	require.NoError(t, err)
	reference, err := graph.Evaluate(g, map[string]*tensor.RawTensor{"input": input})
	require.NoError(t, err)
	exported, err := nnets.Infer(res.Model, res.Blobs, input, nnets.DefaultInferenceOptions())
	require.NoError(t, err)

	want := reference["act"].AsFloat32()
	got := exported["conv"].AsFloat32()
	require.Len(t, got, 3*3*8)
	for i := range want {
		assert.InDelta(t, want[i], got[i]/binding.Gain, 1e-5)
	}
}

func TestConvertResidualConnections(t *testing.T) {
	g, _ := buildCase(t, modelCases[6], 1)
	opts, _ := testOptions()
	res, err := Convert(g, opts)
	require.NoError(t, err)

	assert.Equal(t, []nnets.Connection{
		{Source: "conv1", Dest: "conv2", Input: 0},
		{Source: "conv1", Dest: "conv2", Input: 1},
	}, res.Model.Connections())

	op, _ := res.Model.Operation("conv2")
	assert.True(t, op.(*nnets.Conv2D).UseBias, "batch normalization enables the bias")
	assert.True(t, res.Blobs.Has("conv2/b"))
}

func TestConvertShuffleConnection(t *testing.T) {
	g, _ := buildCase(t, modelCases[7], 1)
	opts, _ := testOptions()
	res, err := Convert(g, opts)
	require.NoError(t, err)

	assert.Equal(t, 2, res.Model.Len(), "shuffle is not an operation")
	assert.Equal(t, []nnets.Connection{
		{Source: "conv1", Dest: "conv2", Shuffle: 2},
	}, res.Model.Connections())

	b, ok := res.Binding("shuffle")
	require.True(t, ok)
	assert.Equal(t, Binding{Operation: "conv1", Shuffle: 2, Gain: 1}, b)
}

func TestConvertDenseUndoesGain(t *testing.T) {
	g, _ := buildCase(t, modelCases[5], 1)
	fc, _ := g.Node("fc")
	kernel := fc.Layer.(graph.Dense).Kernel

	opts, _ := testOptions()
	res, err := Convert(g, opts)
	require.NoError(t, err)

	gap, ok := res.Binding("gap")
	require.True(t, ok)
	assert.Equal(t, float32(0.5), gap.Gain)
	flat, ok := res.Binding("flatten")
	require.True(t, ok)
	assert.Equal(t, gap, flat, "flatten passes the binding through")

	matrix, ok := res.Blobs.Get("fc/w")
	require.True(t, ok)
	assert.Equal(t, tensor.Shape{5, 8}, matrix.Shape())
	k := kernel.AsFloat32()
	m := matrix.AsFloat32()
	for u := 0; u < 5; u++ {
		for i := 0; i < 8; i++ {
			assert.Equal(t, k[i*5+u]/0.5, m[u*8+i])
		}
	}

	pool, _ := res.Model.Operation("gap")
	assert.Equal(t, &nnets.Pooling2D{Name: "gap", Operator: nnets.PoolingAverage, Size: 4, Stride: 1, Padding: nnets.PaddingValid}, pool)
}

func TestConvertPrefixAndStore(t *testing.T) {
	g, _ := buildCase(t, modelCases[6], 1)
	store := blobstore.New()
	other, err := tensor.FromFloat32([]float32{1}, tensor.Shape{1})
	require.NoError(t, err)
	store.Set("other", other)

	opts, _ := testOptions()
	opts.Prefix = "a/"
	opts.Store = store
	res, err := Convert(g, opts)
	require.NoError(t, err)

	assert.Same(t, store, res.Blobs)
	assert.Equal(t, []string{"a/conv1/b", "a/conv1/w", "a/conv2/b", "a/conv2/w", "other"}, store.Names())
	for _, op := range res.Model.Operations() {
		assert.Contains(t, []string{"a/conv1", "a/conv2"}, op.ID())
	}
	assert.Equal(t, "a/conv1", res.Model.Connections()[0].Source)
	assert.Equal(t, "a/conv2", res.Outputs[0].Operation)
}

func TestConvertLogsFusion(t *testing.T) {
	g, _ := buildCase(t, modelCases[1], 1)
	opts, hook := testOptions()
	_, err := Convert(g, opts)
	require.NoError(t, err)

	var fused, folded bool
	for _, entry := range hook.AllEntries() {
		switch entry.Message {
		case "fused convolution":
			fused = true
			assert.Equal(t, "conv", entry.Data["layer"])
			assert.Equal(t, true, entry.Data["batch_norm"])
		case "folded batch normalization":
			folded = true
		}
	}
	assert.True(t, fused)
	assert.True(t, folded)
}

func TestConvertExplicitOutputs(t *testing.T) {
	g, _ := buildCase(t, modelCases[4], 1)
	opts, _ := testOptions()
	opts.Outputs = []string{"act2", "relu6"}

	_, err := Convert(g, opts)
	ce, ok := AsConversionError(err)
	require.True(t, ok, "got %v", err)
	assert.Equal(t, ReasonNonUnityOutputGain, ce.Reason)
	assert.Equal(t, "relu6", ce.Layer)

	opts.Outputs = []string{}
	res, err := Convert(g, opts)
	require.NoError(t, err)
	assert.Empty(t, res.Outputs)
}
