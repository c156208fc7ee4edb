// Copyright 2025 Wellspring Authors
//
// Test-vector conformance path - reproduces the protocol's published
// BLAKE3 CID test vectors bit-for-bit.
//
// The production CID (see pkg/thought) hashes the full signed-field set
// (type, content, created_by, because, created_at, visibility, source,
// signature). The reference vector generator
// (thread-1/generate_test_vectors.py) hashes a narrower, pre-signature
// four-field subset - type, content, created_by, because - with
// created_by and each because entry as raw 32-byte identifiers rather
// than hex text. ComputeVectorCID reproduces that narrower scheme so the
// nine published vectors can be checked byte-for-byte.

package cid

import (
	"fmt"

	"github.com/wellspring-network/wellspring/pkg/canon"
)

// VectorInput is the four-field CID-relevant subset the reference
// generator hashes. CreatedBy and each Because entry are raw identifier
// bytes (32 bytes for a digest, or the SELF_MARKER/SAMPLE_CREATOR
// sentinels used by the published vectors), encoded as CBOR byte
// strings rather than hex text.
type VectorInput struct {
	Type      string
	Content   canon.Value
	CreatedBy []byte
	Because   [][]byte
}

// ComputeVectorCID hashes canonical_cbor({type, content, created_by,
// because}) under BLAKE3-256, matching generate_test_vectors.py's
// compute_cid exactly.
func ComputeVectorCID(in VectorInput) (CID, error) {
	because := make([]canon.Value, len(in.Because))
	for i, b := range in.Because {
		because[i] = b
	}
	fields := map[string]canon.Value{
		"type":       in.Type,
		"content":    in.Content,
		"created_by": in.CreatedBy,
		"because":    because,
	}
	b, err := canon.Encode(fields)
	if err != nil {
		return CID{}, fmt.Errorf("cid: encode vector input: %w", err)
	}
	return Compute(AlgoBlake3, b)
}
