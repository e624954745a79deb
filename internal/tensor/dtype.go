// Package tensor provides the shaped float32 tensors stored as weight blobs.
package tensor

// DataType represents the element type a tensor is stored with.
//
// Tensors are always float32 in memory; Float16 only exists as a storage
// format for serialized blobs.
type DataType int

// Supported data types.
const (
	Float32 DataType = iota
	Float16
)

// Size returns the byte size of the data type.
func (dt DataType) Size() int {
	switch dt {
	case Float32:
		return 4
	case Float16:
		return 2
	default:
		panic("unknown data type")
	}
}

// String returns a human-readable name for the data type.
func (dt DataType) String() string {
	switch dt {
	case Float32:
		return "float32"
	case Float16:
		return "float16"
	default:
		return "unknown"
	}
}
