// Package blobstore holds the named weight blobs of an exported model.
//
// A Store maps a blob name to a shaped float32 tensor. The converter writes
// filters, biases and dense matrices into it and rescales them in place while
// fusing layers. Names follow the convention
//
//	<prefix><operation name><role suffix>
//
// where the role suffix distinguishes filters from biases (see package nnets).
//
// Stores are persisted in SafeTensors format:
//
//	[8 bytes: header_size (uint64 LE)]
//	[header_size bytes: JSON header]
//	[tensor data: raw little-endian bytes, name order]
//
// Tensors can be stored as F32 or narrowed to F16 on write; F16 data is
// widened back to float32 on read. The header metadata carries a SHA-256
// checksum of the data section which is verified when present.
//
// Example usage:
//
//	store := blobstore.New()
//	store.Set("conv1/w", filters)
//	f, _ := os.Create("model.safetensors")
//	if err := blobstore.WriteSafeTensors(f, store, blobstore.DefaultWriteOptions()); err != nil {
//	    log.Fatal(err)
//	}
package blobstore
