// Copyright 2025 Wellspring Authors
//
// CID Engine - content identifiers derived from canonical bytes
// Per Wellspring Protocol Section 4.2: CID Engine

package cid

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"

	"lukechampine.com/blake3"
)

// Algo identifies the hash function a CID was derived with. A deployment
// commits to exactly one algorithm; CIDs are always tagged with the
// algorithm they were produced under so a mixed-deployment reader can at
// least recognize a foreign CID rather than silently miscompare it.
type Algo string

const (
	AlgoBlake3 Algo = "blake3-256"
	AlgoSHA256 Algo = "sha256"
)

// DigestSize is the width of both supported digests.
const DigestSize = 32

// multiformat header bytes prepended to the binary wire form: CIDv1 (0x01),
// dag-cbor codec (0x71), hash-function code, digest length (0x20 = 32).
const (
	wireCIDv1   = 0x01
	wireDagCBOR = 0x71
	wireLenByte = 0x20
)

var hashCode = map[Algo]byte{
	AlgoBlake3: 0x1e, // multicodec blake3
	AlgoSHA256: 0x12, // multicodec sha2-256
}

var codeToAlgo = map[byte]Algo{
	0x1e: AlgoBlake3,
	0x12: AlgoSHA256,
}

// CID is a content identifier: a hash-function tag plus a 32-byte digest.
type CID struct {
	Algo   Algo
	Digest [DigestSize]byte
}

// ErrUnsupportedAlgo is returned when a deployment requests an unknown hash.
var ErrUnsupportedAlgo = fmt.Errorf("cid: unsupported algorithm")

// Compute derives the CID of canonical bytes under the given algorithm.
func Compute(algo Algo, canonicalBytes []byte) (CID, error) {
	switch algo {
	case AlgoBlake3:
		sum := blake3.Sum256(canonicalBytes)
		return CID{Algo: AlgoBlake3, Digest: sum}, nil
	case AlgoSHA256:
		return CID{Algo: AlgoSHA256, Digest: sha256.Sum256(canonicalBytes)}, nil
	default:
		return CID{}, ErrUnsupportedAlgo
	}
}

// String renders the CID in its text form: cid:<algo>:<hex>.
func (c CID) String() string {
	return fmt.Sprintf("cid:%s:%s", c.Algo, hex.EncodeToString(c.Digest[:]))
}

// IsZero reports whether c is the zero value (unset).
func (c CID) IsZero() bool {
	return c.Algo == "" && c.Digest == [DigestSize]byte{}
}

// Parse parses a CID from its text form.
func Parse(s string) (CID, error) {
	parts := strings.SplitN(s, ":", 3)
	if len(parts) != 3 || parts[0] != "cid" {
		return CID{}, fmt.Errorf("cid: malformed text form %q", s)
	}
	algo := Algo(parts[1])
	if _, ok := hashCode[algo]; !ok {
		return CID{}, fmt.Errorf("%w: %s", ErrUnsupportedAlgo, algo)
	}
	raw, err := hex.DecodeString(parts[2])
	if err != nil {
		return CID{}, fmt.Errorf("cid: invalid hex digest: %w", err)
	}
	if len(raw) != DigestSize {
		return CID{}, fmt.Errorf("cid: digest must be %d bytes, got %d", DigestSize, len(raw))
	}
	c := CID{Algo: algo}
	copy(c.Digest[:], raw)
	return c, nil
}

// Bytes returns the 36-byte binary wire form: a 4-byte multiformat header
// (CIDv1, dag-cbor codec, hash code, digest length) followed by the
// 32-byte digest.
func (c CID) Bytes() ([]byte, error) {
	code, ok := hashCode[c.Algo]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedAlgo, c.Algo)
	}
	out := make([]byte, 0, 4+DigestSize)
	out = append(out, wireCIDv1, wireDagCBOR, code, wireLenByte)
	out = append(out, c.Digest[:]...)
	return out, nil
}

// FromBytes parses the 36-byte binary wire form produced by Bytes.
func FromBytes(b []byte) (CID, error) {
	if len(b) != 4+DigestSize {
		return CID{}, fmt.Errorf("cid: wire form must be %d bytes, got %d", 4+DigestSize, len(b))
	}
	if b[0] != wireCIDv1 || b[1] != wireDagCBOR || b[3] != wireLenByte {
		return CID{}, fmt.Errorf("cid: unrecognized multiformat header")
	}
	algo, ok := codeToAlgo[b[2]]
	if !ok {
		return CID{}, fmt.Errorf("%w: hash code 0x%02x", ErrUnsupportedAlgo, b[2])
	}
	c := CID{Algo: algo}
	copy(c.Digest[:], b[4:])
	return c, nil
}

// Equal reports whether two CIDs refer to the same content under the same algorithm.
func Equal(a, b CID) bool {
	return a.Algo == b.Algo && a.Digest == b.Digest
}
