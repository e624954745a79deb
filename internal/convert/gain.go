package convert

import (
	"github.com/born-ml/nnexport/internal/graph"
	"github.com/born-ml/nnexport/internal/nnets"
	"github.com/born-ml/nnexport/internal/tensor"
)

// activationGain maps a source activation to the backend activation and the
// gain of the values it stores.
//
// Backend activations clip to [0, 1]. A bounded ReLU with upper bound m is
// run as the default clip on values scaled by 1/m.
func activationGain(n *graph.Node, a graph.Activation) (nnets.ActivationFunction, float32, error) {
	switch a.Func {
	case graph.ActivationClip:
		return nnets.ActivationDefault, 1, nil
	case graph.ActivationBRelu6:
		return nnets.ActivationBRelu6, 1, nil
	case graph.ActivationHardSigmoid:
		return nnets.ActivationSigmoidLike, 1, nil
	case graph.ActivationBoundedRelu:
		if !(a.MaxValue > 0) {
			return 0, 0, reject(n, ReasonInvalidActivation, "upper bound %v", a.MaxValue)
		}
		return nnets.ActivationDefault, 1 / a.MaxValue, nil
	}
	return 0, 0, reject(n, ReasonUnsupportedActivation, "%s", a.Func)
}

// scaleBlob multiplies every weight by factor.
func scaleBlob(t *tensor.RawTensor, factor float32) {
	if factor != 1 {
		t.Scale(factor)
	}
}

// unscaleBlob divides every weight by gain.
func unscaleBlob(t *tensor.RawTensor, gain float32) {
	if gain == 1 {
		return
	}
	data := t.AsFloat32()
	for i := range data {
		data[i] /= gain
	}
}
