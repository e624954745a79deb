package graph

// Kind identifies the variant of a Layer.
type Kind int

const (
	KindUnsupported Kind = iota
	KindInput
	KindConv2D
	KindDense
	KindPooling2D
	KindGlobalPooling2D
	KindActivation
	KindBatchNorm
	KindAdd
	KindFlatten
	KindSoftmax
	KindShuffle
)

var kindNames = [...]string{
	KindUnsupported:     "Unsupported",
	KindInput:           "Input",
	KindConv2D:          "Conv2D",
	KindDense:           "Dense",
	KindPooling2D:       "Pooling2D",
	KindGlobalPooling2D: "GlobalPooling2D",
	KindActivation:      "Activation",
	KindBatchNorm:       "BatchNorm",
	KindAdd:             "Add",
	KindFlatten:         "Flatten",
	KindSoftmax:         "Softmax",
	KindShuffle:         "Shuffle",
}

func (k Kind) String() string {
	if k < 0 || int(k) >= len(kindNames) {
		return "Unknown"
	}
	return kindNames[k]
}

// KindOf returns the kind of a layer.
func KindOf(l Layer) Kind {
	switch l.(type) {
	case Input:
		return KindInput
	case Conv2D:
		return KindConv2D
	case Dense:
		return KindDense
	case Pooling2D:
		return KindPooling2D
	case GlobalPooling2D:
		return KindGlobalPooling2D
	case Activation:
		return KindActivation
	case BatchNorm:
		return KindBatchNorm
	case Add:
		return KindAdd
	case Flatten:
		return KindFlatten
	case Softmax:
		return KindSoftmax
	case Shuffle:
		return KindShuffle
	}
	return KindUnsupported
}
