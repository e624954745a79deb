package blobstore

import (
	"fmt"
	"sort"
	"strings"

	"github.com/pkg/errors"
)

// Validation limits for security and resource protection.
const (
	MaxHeaderSize    = 100 * 1024 * 1024 // 100MB - maximum header size
	MaxTensorCount   = 100_000           // Maximum number of tensors in a file
	MaxTensorNameLen = 4096              // Maximum tensor name length
)

// tensorSpan locates one tensor inside the data section.
type tensorSpan struct {
	Name   string
	Offset int64
	Size   int64
}

// validateTensorOffsets checks for overlapping tensor offsets and out-of-bounds access.
// Malformed files could otherwise make tensors alias each other or read past the data section.
func validateTensorOffsets(spans []tensorSpan, dataSize int64) error {
	if len(spans) > MaxTensorCount {
		return &ValidationError{
			Type:    "too_many_tensors",
			Details: fmt.Sprintf("got %d, max %d", len(spans), MaxTensorCount),
		}
	}

	// Sort tensors by offset for efficient overlap detection.
	sorted := make([]tensorSpan, len(spans))
	copy(sorted, spans)
	sort.Slice(sorted, func(i, j int) bool {
		return sorted[i].Offset < sorted[j].Offset
	})

	for i, t := range sorted {
		if t.Offset < 0 || t.Size < 0 {
			return &ValidationError{
				Type:    "negative_offset",
				Tensor:  t.Name,
				Details: fmt.Sprintf("offset=%d, size=%d (negative values not allowed)", t.Offset, t.Size),
			}
		}

		if t.Offset+t.Size > dataSize {
			return &ValidationError{
				Type:    "out_of_bounds",
				Tensor:  t.Name,
				Details: fmt.Sprintf("offset %d + size %d > data_size %d", t.Offset, t.Size, dataSize),
			}
		}

		if i < len(sorted)-1 {
			next := sorted[i+1]
			if t.Offset+t.Size > next.Offset {
				return &ValidationError{
					Type:    "offset_overlap",
					Tensor:  t.Name,
					Tensor2: next.Name,
					Details: fmt.Sprintf("regions [%d-%d] and [%d-%d] overlap",
						t.Offset, t.Offset+t.Size, next.Offset, next.Offset+next.Size),
				}
			}
		}
	}

	return nil
}

// ValidateTensorName checks that a blob name can be stored safely.
func ValidateTensorName(name string) error {
	if name == "" {
		return errors.Wrap(ErrInvalidTensorName, "empty name")
	}
	if len(name) > MaxTensorNameLen {
		return errors.Wrapf(ErrInvalidTensorName, "%d bytes, max %d", len(name), MaxTensorNameLen)
	}
	if strings.ContainsRune(name, 0) {
		return errors.Wrapf(ErrInvalidTensorName, "%q contains a NUL byte", name)
	}
	if name == metadataKey {
		return errors.Wrapf(ErrInvalidTensorName, "%q is reserved", name)
	}
	return nil
}
