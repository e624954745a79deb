package nnets

import (
	"github.com/pkg/errors"
	"github.com/x448/float16"

	"github.com/born-ml/nnexport/internal/backend/cpu"
	"github.com/born-ml/nnexport/internal/blobstore"
	"github.com/born-ml/nnexport/internal/tensor"
)

// Storage is the precision of activations stored between operations.
type Storage int

const (
	// StorageFloat32 keeps full precision.
	StorageFloat32 Storage = iota
	// StorageFloat16 rounds stored activations to IEEE half precision, the
	// way the backend keeps them in half-float textures.
	StorageFloat16
)

// InferenceOptions configures Infer.
type InferenceOptions struct {
	Storage Storage
}

// DefaultInferenceOptions returns full-precision inference options.
func DefaultInferenceOptions() InferenceOptions {
	return InferenceOptions{Storage: StorageFloat32}
}

// Infer runs the model on one HWC input the way the backend does and returns
// the output of every operation by name.
//
// Operations run in dependency order. An operation with no connection on
// input slot 0 reads the model input. Conv2D adds the tensor connected to
// slot 1 to the convolution result before applying its activation. Stored
// Conv2D and Pooling2D outputs are clamped by the activation range of the
// backend; Dense and Softmax outputs are not.
func Infer(m *Model, blobs *blobstore.Store, input *tensor.RawTensor, opts InferenceOptions) (map[string]*tensor.RawTensor, error) {
	if m.Len() == 0 {
		return nil, errors.New("empty model")
	}
	if len(input.Shape()) != 3 {
		return nil, errors.Errorf("input must be [H,W,C], got %v", input.Shape())
	}
	order, err := m.executionOrder()
	if err != nil {
		return nil, err
	}

	e := &executor{
		backend: cpu.New(),
		blobs:   blobs,
		opts:    opts,
		input:   roundStorage(input, opts.Storage),
		outputs: make(map[string]*tensor.RawTensor, m.Len()),
	}
	for _, op := range order {
		out, err := e.run(m, op)
		if err != nil {
			return nil, errors.WithMessagef(err, "%s %q", op.Type(), op.ID())
		}
		e.outputs[op.ID()] = out
	}
	return e.outputs, nil
}

type executor struct {
	backend *cpu.CPUBackend
	blobs   *blobstore.Store
	opts    InferenceOptions
	input   *tensor.RawTensor
	outputs map[string]*tensor.RawTensor
}

func (e *executor) run(m *Model, op Operation) (*tensor.RawTensor, error) {
	inputs := map[int]*tensor.RawTensor{0: e.input}
	for _, c := range m.InputsOf(op.ID()) {
		x, err := e.read(c)
		if err != nil {
			return nil, err
		}
		inputs[c.Input] = x
	}

	switch op := op.(type) {
	case *Conv2D:
		return e.conv2D(op, inputs[0], inputs[1])
	case *Dense:
		return e.dense(op, inputs[0])
	case *Pooling2D:
		return e.pooling2D(op, inputs[0])
	case *Softmax:
		return e.backend.Softmax(e.backend.Flatten(inputs[0])), nil
	}
	return nil, errors.Errorf("unsupported operation type %T", op)
}

// read fetches the tensor a connection delivers, applying its shuffle.
func (e *executor) read(c Connection) (*tensor.RawTensor, error) {
	if c.Output != 0 {
		return nil, errors.Errorf("output %d of %q does not exist", c.Output, c.Source)
	}
	x, ok := e.outputs[c.Source]
	if !ok {
		return nil, errors.Errorf("input %q is not computed", c.Source)
	}
	if c.Shuffle == 0 {
		return x, nil
	}
	shape := x.Shape()
	order, err := ShuffleOrder(shape[len(shape)-1], c.Shuffle)
	if err != nil {
		return nil, errors.WithMessagef(err, "connection %s -> %s", c.Source, c.Dest)
	}
	return e.backend.GatherChannels(x, order), nil
}

func (e *executor) conv2D(op *Conv2D, x, residual *tensor.RawTensor) (*tensor.RawTensor, error) {
	shape := x.Shape()
	if len(shape) != 3 || shape[2] != op.InputChannels {
		return nil, errors.Errorf("expected [H,W,%d] input, got %v", op.InputChannels, shape)
	}
	if op.Groups <= 0 || op.InputChannels%op.Groups != 0 || op.OutputChannels%op.Groups != 0 {
		return nil, errors.Errorf("invalid groups %d", op.Groups)
	}
	same := op.Padding == PaddingSame
	if h, _ := cpu.OutputSize(shape[0], op.KernelSize, op.Stride, same); h <= 0 {
		return nil, errors.Errorf("kernel %d does not fit input %v", op.KernelSize, shape)
	}
	if w, _ := cpu.OutputSize(shape[1], op.KernelSize, op.Stride, same); w <= 0 {
		return nil, errors.Errorf("kernel %d does not fit input %v", op.KernelSize, shape)
	}

	filters, err := e.blob(op.Name+FiltersSuffix, tensor.Shape{
		op.KernelSize, op.KernelSize, op.InputChannels / op.Groups, op.OutputChannels,
	})
	if err != nil {
		return nil, err
	}
	var bias []float32
	if op.UseBias {
		b, err := e.blob(op.Name+BiasSuffix, tensor.Shape{op.OutputChannels})
		if err != nil {
			return nil, err
		}
		bias = b.AsFloat32()
	}

	out := e.backend.Conv2D(x, filters, bias, op.Stride, op.Groups, same)
	if residual != nil {
		if !residual.Shape().Equal(out.Shape()) {
			return nil, errors.Errorf("residual shape %v does not match output %v", residual.Shape(), out.Shape())
		}
		out = e.backend.Add(out, residual)
	}
	return roundStorage(e.backend.Map(out, op.Activation.Apply), e.opts.Storage), nil
}

func (e *executor) dense(op *Dense, x *tensor.RawTensor) (*tensor.RawTensor, error) {
	matrix, err := e.blob(op.Name+MatrixSuffix, tensor.Shape{op.Units, x.NumElements()})
	if err != nil {
		return nil, err
	}
	var bias []float32
	if op.UseBias {
		b, err := e.blob(op.Name+BiasSuffix, tensor.Shape{op.Units})
		if err != nil {
			return nil, err
		}
		bias = b.AsFloat32()
	}
	return e.backend.Dense(x, matrix, bias), nil
}

func (e *executor) pooling2D(op *Pooling2D, x *tensor.RawTensor) (*tensor.RawTensor, error) {
	shape := x.Shape()
	if len(shape) != 3 {
		return nil, errors.Errorf("expected [H,W,C] input, got %v", shape)
	}
	if op.Size <= 0 || op.Stride <= 0 {
		return nil, errors.Errorf("invalid size %d or stride %d", op.Size, op.Stride)
	}
	same := op.Padding == PaddingSame
	h, _ := cpu.OutputSize(shape[0], op.Size, op.Stride, same)
	w, _ := cpu.OutputSize(shape[1], op.Size, op.Stride, same)
	if h <= 0 || w <= 0 {
		return nil, errors.Errorf("window %d does not fit input %v", op.Size, shape)
	}

	var out *tensor.RawTensor
	if op.Operator == PoolingMax {
		out = e.backend.MaxPool2D(x, op.Size, op.Stride, same)
	} else {
		out = e.backend.AvgPool2D(x, op.Size, op.Stride, same)
	}
	return roundStorage(out, e.opts.Storage), nil
}

// blob fetches a weight tensor and views it with the expected shape.
func (e *executor) blob(name string, shape tensor.Shape) (*tensor.RawTensor, error) {
	t, ok := e.blobs.Get(name)
	if !ok {
		return nil, errors.Errorf("blob %q not found", name)
	}
	if t.NumElements() != shape.NumElements() {
		return nil, errors.Errorf("blob %q has shape %v, expected %d elements %v",
			name, t.Shape(), shape.NumElements(), shape)
	}
	if t.Shape().Equal(shape) {
		return t, nil
	}
	return t.Reshape(shape)
}

// executionOrder sorts operations so that every operation comes after the
// sources of its connections. Ties keep insertion order.
func (m *Model) executionOrder() ([]Operation, error) {
	pending := make([]int, len(m.ops))
	consumers := make(map[string][]int)
	for _, c := range m.connections {
		dest := m.index[c.Dest]
		pending[dest]++
		consumers[c.Source] = append(consumers[c.Source], dest)
	}

	done := make([]bool, len(m.ops))
	result := make([]Operation, 0, len(m.ops))
	for len(result) < len(m.ops) {
		next := -1
		for i := range m.ops {
			if !done[i] && pending[i] == 0 {
				next = i
				break
			}
		}
		if next < 0 {
			return nil, errors.New("model has a cycle")
		}
		done[next] = true
		result = append(result, m.ops[next])
		for _, dest := range consumers[m.ops[next].ID()] {
			pending[dest]--
		}
	}
	return result, nil
}

// roundStorage rounds stored values to half precision when requested.
func roundStorage(x *tensor.RawTensor, storage Storage) *tensor.RawTensor {
	if storage != StorageFloat16 {
		return x
	}
	result := x.Clone()
	data := result.AsFloat32()
	for i, v := range data {
		data[i] = float16.Fromfloat32(v).Float32()
	}
	return result
}
