package nnets

import (
	"bytes"
	"os"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

// Listing layout:
//
//	ops:
//	  - _name: conv1
//	    _type: conv2d
//	    kernel_size: 3
//	    ...
//	connections:
//	  - from: conv1
//	    to: conv2
//	    from_output: 0
//	    to_input: 0
//	    shuffle: 0
//
// Keys other than _name and _type are specific to the operation type.
// Missing keys take the defaults of the backend reader.

type encodedListing struct {
	Ops         []any             `yaml:"ops"`
	Connections []connectionEntry `yaml:"connections"`
}

type decodedListing struct {
	Ops         []yaml.Node       `yaml:"ops"`
	Connections []connectionEntry `yaml:"connections"`
}

type opHeader struct {
	Name string `yaml:"_name"`
	Type string `yaml:"_type"`
}

type conv2dEntry struct {
	Name           string `yaml:"_name"`
	Type           string `yaml:"_type"`
	KernelSize     int    `yaml:"kernel_size"`
	InputChannels  int    `yaml:"input_channels"`
	OutputChannels int    `yaml:"output_channels"`
	Stride         int    `yaml:"stride"`
	Padding        string `yaml:"padding"`
	UseBias        bool   `yaml:"use_bias"`
	Groups         int    `yaml:"groups"`
	Activation     string `yaml:"activation"`
}

type denseEntry struct {
	Name       string `yaml:"_name"`
	Type       string `yaml:"_type"`
	OutputDims int    `yaml:"output_dims"`
	UseBias    bool   `yaml:"use_bias"`
}

type pooling2dEntry struct {
	Name     string `yaml:"_name"`
	Type     string `yaml:"_type"`
	Operator string `yaml:"operator"`
	Size     int    `yaml:"size"`
	Stride   int    `yaml:"stride"`
	Padding  string `yaml:"padding"`
}

type connectionEntry struct {
	From       string `yaml:"from"`
	To         string `yaml:"to"`
	FromOutput int    `yaml:"from_output"`
	ToInput    int    `yaml:"to_input"`
	Shuffle    int    `yaml:"shuffle"`
}

// decodeFunc builds an operation from its listing entry.
type decodeFunc func(node *yaml.Node) (Operation, error)

var decoders = map[string]decodeFunc{
	TypeConv2D:    decodeConv2D,
	TypeDense:     decodeDense,
	TypePooling2D: decodePooling2D,
	TypeSoftmax:   decodeSoftmax,
}

// Serialize writes the model listing as YAML.
func Serialize(m *Model) ([]byte, error) {
	doc := encodedListing{
		Ops:         make([]any, 0, len(m.ops)),
		Connections: make([]connectionEntry, 0, len(m.connections)),
	}
	for _, op := range m.ops {
		entry, err := encodeOperation(op)
		if err != nil {
			return nil, err
		}
		doc.Ops = append(doc.Ops, entry)
	}
	for _, c := range m.connections {
		doc.Connections = append(doc.Connections, connectionEntry{
			From:       c.Source,
			To:         c.Dest,
			FromOutput: c.Output,
			ToInput:    c.Input,
			Shuffle:    c.Shuffle,
		})
	}

	var buf bytes.Buffer
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(doc); err != nil {
		return nil, errors.Wrap(err, "failed to encode listing")
	}
	if err := enc.Close(); err != nil {
		return nil, errors.Wrap(err, "failed to encode listing")
	}
	return buf.Bytes(), nil
}

// WriteListingFile serializes the model into a file.
func WriteListingFile(path string, m *Model) error {
	data, err := Serialize(m)
	if err != nil {
		return err
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return errors.Wrapf(err, "failed to write listing %s", path)
	}
	return nil
}

// Deserialize builds a model from a YAML listing.
func Deserialize(data []byte) (*Model, error) {
	var doc decodedListing
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, errors.Wrap(err, "failed to parse listing")
	}

	m := NewModel()
	for i := range doc.Ops {
		node := &doc.Ops[i]
		var header opHeader
		if err := node.Decode(&header); err != nil {
			return nil, errors.Wrapf(err, "operation #%d", i)
		}
		if header.Name == "" {
			return nil, errors.Errorf("operation #%d has no _name", i)
		}
		decode, ok := decoders[header.Type]
		if !ok {
			return nil, errors.Errorf("operation %q: unsupported type %q", header.Name, header.Type)
		}
		op, err := decode(node)
		if err != nil {
			return nil, errors.WithMessagef(err, "operation %q", header.Name)
		}
		if err := m.Append(op); err != nil {
			return nil, err
		}
	}

	for _, c := range doc.Connections {
		err := m.AddConnection(Connection{
			Source:  c.From,
			Dest:    c.To,
			Output:  c.FromOutput,
			Input:   c.ToInput,
			Shuffle: c.Shuffle,
		})
		if err != nil {
			return nil, err
		}
	}
	return m, nil
}

// ReadListingFile loads a model listing from a file.
func ReadListingFile(path string) (*Model, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to read listing %s", path)
	}
	return Deserialize(data)
}

func encodeOperation(op Operation) (any, error) {
	switch op := op.(type) {
	case *Conv2D:
		return conv2dEntry{
			Name:           op.Name,
			Type:           TypeConv2D,
			KernelSize:     op.KernelSize,
			InputChannels:  op.InputChannels,
			OutputChannels: op.OutputChannels,
			Stride:         op.Stride,
			Padding:        op.Padding.String(),
			UseBias:        op.UseBias,
			Groups:         op.Groups,
			Activation:     op.Activation.String(),
		}, nil
	case *Dense:
		return denseEntry{Name: op.Name, Type: TypeDense, OutputDims: op.Units, UseBias: op.UseBias}, nil
	case *Pooling2D:
		return pooling2dEntry{
			Name:     op.Name,
			Type:     TypePooling2D,
			Operator: op.Operator.String(),
			Size:     op.Size,
			Stride:   op.Stride,
			Padding:  op.Padding.String(),
		}, nil
	case *Softmax:
		return opHeader{Name: op.Name, Type: TypeSoftmax}, nil
	}
	return nil, errors.Errorf("cannot serialize operation %q of type %T", op.ID(), op)
}

func decodeConv2D(node *yaml.Node) (Operation, error) {
	entry := conv2dEntry{
		Stride:     1,
		Padding:    PaddingValid.String(),
		UseBias:    true,
		Groups:     1,
		Activation: ActivationDefault.String(),
	}
	if err := node.Decode(&entry); err != nil {
		return nil, errors.Wrap(err, "invalid conv2d entry")
	}
	padding, err := ParsePadding(entry.Padding)
	if err != nil {
		return nil, err
	}
	activation, err := ParseActivation(entry.Activation)
	if err != nil {
		return nil, err
	}
	switch {
	case entry.KernelSize <= 0:
		return nil, errors.Errorf("invalid kernel_size %d", entry.KernelSize)
	case entry.InputChannels <= 0 || entry.OutputChannels <= 0:
		return nil, errors.Errorf("invalid channels %d -> %d", entry.InputChannels, entry.OutputChannels)
	case entry.Stride <= 0:
		return nil, errors.Errorf("invalid stride %d", entry.Stride)
	case entry.Groups <= 0 || entry.InputChannels%entry.Groups != 0 || entry.OutputChannels%entry.Groups != 0:
		return nil, errors.Errorf("invalid groups %d for %d -> %d channels",
			entry.Groups, entry.InputChannels, entry.OutputChannels)
	}
	return &Conv2D{
		Name:           entry.Name,
		KernelSize:     entry.KernelSize,
		InputChannels:  entry.InputChannels,
		OutputChannels: entry.OutputChannels,
		Stride:         entry.Stride,
		Padding:        padding,
		UseBias:        entry.UseBias,
		Groups:         entry.Groups,
		Activation:     activation,
	}, nil
}

func decodeDense(node *yaml.Node) (Operation, error) {
	entry := denseEntry{UseBias: true}
	if err := node.Decode(&entry); err != nil {
		return nil, errors.Wrap(err, "invalid dense entry")
	}
	if entry.OutputDims <= 0 {
		return nil, errors.Errorf("invalid output_dims %d", entry.OutputDims)
	}
	return &Dense{Name: entry.Name, Units: entry.OutputDims, UseBias: entry.UseBias}, nil
}

func decodePooling2D(node *yaml.Node) (Operation, error) {
	entry := pooling2dEntry{Stride: 1, Padding: PaddingValid.String()}
	if err := node.Decode(&entry); err != nil {
		return nil, errors.Wrap(err, "invalid pooling2d entry")
	}
	operator, err := ParsePoolingOperator(entry.Operator)
	if err != nil {
		return nil, err
	}
	padding, err := ParsePadding(entry.Padding)
	if err != nil {
		return nil, err
	}
	if entry.Size <= 0 || entry.Stride <= 0 {
		return nil, errors.Errorf("invalid size %d or stride %d", entry.Size, entry.Stride)
	}
	return &Pooling2D{
		Name:     entry.Name,
		Operator: operator,
		Size:     entry.Size,
		Stride:   entry.Stride,
		Padding:  padding,
	}, nil
}

func decodeSoftmax(node *yaml.Node) (Operation, error) {
	var header opHeader
	if err := node.Decode(&header); err != nil {
		return nil, errors.Wrap(err, "invalid softmax entry")
	}
	return &Softmax{Name: header.Name}, nil
}
