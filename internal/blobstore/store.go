package blobstore

import (
	"sort"

	"github.com/born-ml/nnexport/internal/tensor"
)

// Store is a mapping from blob name to tensor.
//
// A Store is not safe for concurrent use.
type Store struct {
	blobs map[string]*tensor.RawTensor
}

// New creates an empty store.
func New() *Store {
	return &Store{blobs: make(map[string]*tensor.RawTensor)}
}

// Set stores a tensor under name, replacing any previous blob.
func (s *Store) Set(name string, t *tensor.RawTensor) {
	s.blobs[name] = t
}

// Get returns the blob stored under name.
func (s *Store) Get(name string) (*tensor.RawTensor, bool) {
	t, ok := s.blobs[name]
	return t, ok
}

// Has reports whether a blob is stored under name.
func (s *Store) Has(name string) bool {
	_, ok := s.blobs[name]
	return ok
}

// Delete removes the blob stored under name, if any.
func (s *Store) Delete(name string) {
	delete(s.blobs, name)
}

// Len returns the number of blobs.
func (s *Store) Len() int {
	return len(s.blobs)
}

// Names returns all blob names in sorted order.
func (s *Store) Names() []string {
	names := make([]string, 0, len(s.blobs))
	for name := range s.blobs {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Clone returns a deep copy of the store.
func (s *Store) Clone() *Store {
	out := New()
	for name, t := range s.blobs {
		out.blobs[name] = t.Clone()
	}
	return out
}

// Equal reports whether both stores hold the same names with bit-identical tensors.
func (s *Store) Equal(other *Store) bool {
	if other == nil || len(s.blobs) != len(other.blobs) {
		return false
	}
	for name, t := range s.blobs {
		o, ok := other.blobs[name]
		if !ok || !t.Equal(o) {
			return false
		}
	}
	return true
}
