package nnets

// Blob name suffixes. A blob is stored as <operation name><suffix>.
const (
	FiltersSuffix = "/w"
	BiasSuffix    = "/b"
	MatrixSuffix  = "/w"
)

// Operation type names used in the listing.
const (
	TypeConv2D    = "conv2d"
	TypeDense     = "dense"
	TypePooling2D = "pooling2d"
	TypeSoftmax   = "softmax"
)

// Operation is a node of the exported graph.
//
// The set of operations is closed: Conv2D, Dense, Pooling2D and Softmax.
type Operation interface {
	// ID returns the unique operation name.
	ID() string
	// Type returns the listing type name.
	Type() string

	operation()
}

// Conv2D is a convolution fused with an optional residual input and an
// activation. The residual, if connected to input slot 1, is added before the
// activation.
//
// Filters are stored as [kernel, kernel, InputChannels/Groups, OutputChannels]
// under Name+FiltersSuffix, the bias as [OutputChannels] under Name+BiasSuffix.
type Conv2D struct {
	Name           string
	KernelSize     int
	InputChannels  int
	OutputChannels int
	Stride         int
	Padding        Padding
	UseBias        bool
	Groups         int
	Activation     ActivationFunction
}

// ID returns the operation name.
func (op *Conv2D) ID() string { return op.Name }

// Type returns "conv2d".
func (op *Conv2D) Type() string { return TypeConv2D }

func (op *Conv2D) operation() {}

// Dense is a fully connected layer applied to the flattened input.
// The matrix is stored as [Units, inputs] under Name+MatrixSuffix.
type Dense struct {
	Name    string
	Units   int
	UseBias bool
}

// ID returns the operation name.
func (op *Dense) ID() string { return op.Name }

// Type returns "dense".
func (op *Dense) Type() string { return TypeDense }

func (op *Dense) operation() {}

// Pooling2D is a square-window spatial pooling.
type Pooling2D struct {
	Name     string
	Operator PoolingOperator
	Size     int
	Stride   int
	Padding  Padding
}

// ID returns the operation name.
func (op *Pooling2D) ID() string { return op.Name }

// Type returns "pooling2d".
func (op *Pooling2D) Type() string { return TypePooling2D }

func (op *Pooling2D) operation() {}

// Softmax normalizes its input into a probability distribution.
type Softmax struct {
	Name string
}

// ID returns the operation name.
func (op *Softmax) ID() string { return op.Name }

// Type returns "softmax".
func (op *Softmax) Type() string { return TypeSoftmax }

func (op *Softmax) operation() {}
