package blobstore

import (
	"bytes"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"os"

	"github.com/pkg/errors"
	"github.com/x448/float16"

	"github.com/born-ml/nnexport/internal/tensor"
)

const metadataKey = "__metadata__"

// SafeTensorHeader represents a tensor in the SafeTensors header.
type SafeTensorHeader struct {
	DType       string   `json:"dtype"`
	Shape       []int64  `json:"shape"`
	DataOffsets [2]int64 `json:"data_offsets"`
}

// WriteOptions configures how blobs are persisted.
type WriteOptions struct {
	// DType is the storage type of every tensor (tensor.Float32 or tensor.Float16).
	DType tensor.DataType

	// Metadata is copied into the header. The checksum key is always overwritten.
	Metadata map[string]string
}

// DefaultWriteOptions returns full precision storage without extra metadata.
func DefaultWriteOptions() WriteOptions {
	return WriteOptions{DType: tensor.Float32}
}

// WriteSafeTensorsFile writes the store into a new file at path.
func WriteSafeTensorsFile(path string, store *Store, opts WriteOptions) error {
	//nolint:gosec // G304: File path comes from user input, which is expected for model saving
	file, err := os.Create(path)
	if err != nil {
		return errors.Wrap(err, "failed to create file")
	}
	if err := WriteSafeTensors(file, store, opts); err != nil {
		_ = file.Close()
		return err
	}
	return file.Close()
}

// WriteSafeTensors writes the store to w.
//
// Tensors are written in alphabetical order by name, so the same store
// always produces the same bytes.
func WriteSafeTensors(w io.Writer, store *Store, opts WriteOptions) error {
	dtype, err := dtypeToSafeTensors(opts.DType)
	if err != nil {
		return err
	}

	// Encode the data section first: its checksum goes into the header.
	var data bytes.Buffer
	header := make(map[string]interface{})
	for _, name := range store.Names() {
		if err := ValidateTensorName(name); err != nil {
			return err
		}
		raw, _ := store.Get(name)
		start := int64(data.Len())
		encodeTensor(&data, raw, opts.DType)
		header[name] = SafeTensorHeader{
			DType:       dtype,
			Shape:       raw.Shape().Int64(),
			DataOffsets: [2]int64{start, int64(data.Len())},
		}
	}

	metadata := make(map[string]string, len(opts.Metadata)+1)
	for k, v := range opts.Metadata {
		metadata[k] = v
	}
	metadata[MetadataChecksumKey] = ComputeChecksum(data.Bytes())
	header[metadataKey] = metadata

	headerJSON, err := json.Marshal(header)
	if err != nil {
		return errors.Wrap(err, "failed to marshal header")
	}

	// Write header size (8 bytes, little-endian uint64)
	if err := binary.Write(w, binary.LittleEndian, uint64(len(headerJSON))); err != nil {
		return errors.Wrap(err, "failed to write header size")
	}
	if _, err := w.Write(headerJSON); err != nil {
		return errors.Wrap(err, "failed to write header")
	}
	if _, err := w.Write(data.Bytes()); err != nil {
		return errors.Wrap(err, "failed to write tensor data")
	}
	return nil
}

// ReadSafeTensorsFile reads a store from the file at path.
func ReadSafeTensorsFile(path string) (*Store, map[string]string, error) {
	//nolint:gosec // G304: Path is provided by user
	file, err := os.Open(path)
	if err != nil {
		return nil, nil, errors.Wrap(err, "failed to open file")
	}
	defer func() {
		_ = file.Close()
	}()
	return ReadSafeTensors(file)
}

// ReadSafeTensors reads a store and its header metadata from r.
func ReadSafeTensors(r io.Reader) (*Store, map[string]string, error) {
	var headerSize uint64
	if err := binary.Read(r, binary.LittleEndian, &headerSize); err != nil {
		return nil, nil, errors.Wrap(err, "failed to read header size")
	}
	if headerSize > MaxHeaderSize {
		return nil, nil, errors.Wrapf(ErrHeaderTooLarge, "%d bytes", headerSize)
	}

	headerJSON := make([]byte, headerSize)
	if _, err := io.ReadFull(r, headerJSON); err != nil {
		return nil, nil, errors.Wrap(err, "failed to read header")
	}
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, nil, errors.Wrap(err, "failed to read tensor data")
	}

	var entries map[string]json.RawMessage
	if err := json.Unmarshal(headerJSON, &entries); err != nil {
		return nil, nil, errors.Wrap(err, "failed to parse header")
	}

	metadata := make(map[string]string)
	if raw, ok := entries[metadataKey]; ok {
		if err := json.Unmarshal(raw, &metadata); err != nil {
			return nil, nil, errors.Wrap(err, "failed to parse metadata")
		}
		delete(entries, metadataKey)
	}
	if sum, ok := metadata[MetadataChecksumKey]; ok {
		if err := ValidateChecksum(data, sum); err != nil {
			return nil, nil, err
		}
	}

	headers := make(map[string]SafeTensorHeader, len(entries))
	spans := make([]tensorSpan, 0, len(entries))
	for name, raw := range entries {
		if err := ValidateTensorName(name); err != nil {
			return nil, nil, err
		}
		var h SafeTensorHeader
		if err := json.Unmarshal(raw, &h); err != nil {
			return nil, nil, errors.Wrapf(err, "failed to parse header of tensor %q", name)
		}
		headers[name] = h
		spans = append(spans, tensorSpan{Name: name, Offset: h.DataOffsets[0], Size: h.DataOffsets[1] - h.DataOffsets[0]})
	}
	if err := validateTensorOffsets(spans, int64(len(data))); err != nil {
		return nil, nil, err
	}

	store := New()
	for name, h := range headers {
		t, err := decodeTensor(name, h, data[h.DataOffsets[0]:h.DataOffsets[1]])
		if err != nil {
			return nil, nil, err
		}
		store.Set(name, t)
	}
	return store, metadata, nil
}

// encodeTensor appends the little-endian encoding of t in the given storage type.
func encodeTensor(buf *bytes.Buffer, t *tensor.RawTensor, dtype tensor.DataType) {
	if dtype == tensor.Float32 {
		buf.Write(t.Data())
		return
	}
	var b [2]byte
	for _, v := range t.AsFloat32() {
		binary.LittleEndian.PutUint16(b[:], float16.Fromfloat32(v).Bits())
		buf.Write(b[:])
	}
}

// decodeTensor builds a float32 tensor out of its stored bytes.
func decodeTensor(name string, h SafeTensorHeader, raw []byte) (*tensor.RawTensor, error) {
	dtype, err := dtypeFromSafeTensors(h.DType)
	if err != nil {
		return nil, errors.WithMessagef(err, "tensor %q", name)
	}
	shape := tensor.ShapeFromInt64(h.Shape)
	if want := shape.NumElements() * dtype.Size(); want != len(raw) {
		return nil, &ValidationError{
			Type:    "size_mismatch",
			Tensor:  name,
			Details: fmt.Sprintf("shape %v needs %d bytes, got %d", shape, want, len(raw)),
		}
	}

	t, err := tensor.NewRaw(shape)
	if err != nil {
		return nil, errors.WithMessagef(err, "tensor %q", name)
	}
	values := t.AsFloat32()
	switch dtype {
	case tensor.Float32:
		for i := range values {
			values[i] = math.Float32frombits(binary.LittleEndian.Uint32(raw[4*i:]))
		}
	case tensor.Float16:
		for i := range values {
			values[i] = float16.Frombits(binary.LittleEndian.Uint16(raw[2*i:])).Float32()
		}
	}
	return t, nil
}

// dtypeToSafeTensors converts a storage type to its SafeTensors dtype string.
func dtypeToSafeTensors(dt tensor.DataType) (string, error) {
	switch dt {
	case tensor.Float32:
		return "F32", nil
	case tensor.Float16:
		return "F16", nil
	default:
		return "", errors.Wrapf(ErrUnsupportedDType, "%s", dt)
	}
}

// dtypeFromSafeTensors converts a SafeTensors dtype string to a storage type.
func dtypeFromSafeTensors(s string) (tensor.DataType, error) {
	switch s {
	case "F32":
		return tensor.Float32, nil
	case "F16":
		return tensor.Float16, nil
	default:
		return 0, errors.Wrapf(ErrUnsupportedDType, "%q", s)
	}
}
