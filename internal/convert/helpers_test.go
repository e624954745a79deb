package convert

import (
	"math/rand"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/require"

	"github.com/born-ml/nnexport/internal/graph"
	"github.com/born-ml/nnexport/internal/nnets"
	"github.com/born-ml/nnexport/internal/tensor"
)

// uniform returns a tensor with values drawn from [lo, hi).
func uniform(t *testing.T, rng *rand.Rand, lo, hi float32, shape ...int) *tensor.RawTensor {
	t.Helper()
	r, err := tensor.NewRaw(tensor.Shape(shape))
	require.NoError(t, err)
	data := r.AsFloat32()
	for i := range data {
		data[i] = lo + (hi-lo)*rng.Float32()
	}
	return r
}

func uniformSlice(rng *rand.Rand, lo, hi float32, n int) []float32 {
	values := make([]float32, n)
	for i := range values {
		values[i] = lo + (hi-lo)*rng.Float32()
	}
	return values
}

// batchNorm adds a batch normalization with random statistics.
func batchNorm(b *graph.Builder, rng *rand.Rand, name string, x *graph.Node, channels int) *graph.Node {
	return b.BatchNormalization(name, x,
		uniformSlice(rng, 0.5, 1.5, channels),
		uniformSlice(rng, -0.2, 0.2, channels),
		uniformSlice(rng, -0.2, 0.2, channels),
		uniformSlice(rng, 0.5, 1.5, channels),
		1e-3)
}

func testOptions() (Options, *test.Hook) {
	logger, hook := test.NewNullLogger()
	logger.SetLevel(logrus.DebugLevel)
	opts := DefaultOptions()
	opts.Logger = logger
	return opts, hook
}

// assertMatchesReference runs the exported model on the backend emulator and
// compares every declared output with the floating-point reference.
func assertMatchesReference(t *testing.T, g *graph.Graph, res *Result, input *tensor.RawTensor, storage nnets.Storage, tol float64) {
	t.Helper()
	reference, err := graph.Evaluate(g, map[string]*tensor.RawTensor{g.Inputs[0].Name: input})
	require.NoError(t, err)
	exported, err := nnets.Infer(res.Model, res.Blobs, input, nnets.InferenceOptions{Storage: storage})
	require.NoError(t, err)

	require.NotEmpty(t, res.Outputs)
	for _, out := range res.Outputs {
		require.Equal(t, float32(1), out.Gain, out.Layer)
		require.Zero(t, out.Shuffle, out.Layer)

		want := reference[out.Layer].AsFloat32()
		got := exported[out.Operation].AsFloat32()
		require.Len(t, got, len(want), out.Layer)
		for i := range want {
			require.InDelta(t, want[i], got[i], tol, "%s[%d]", out.Layer, i)
		}
	}
}
