// Copyright 2025 Wellspring Authors
//
// Canonical Encoder - deterministic byte representation of thought content
// Per Wellspring Protocol Section 4.1: Canonical Encoder
//
// The encoder commits to a single on-the-wire form: a dag-cbor-style
// canonical CBOR encoding with sorted map keys, shortest-form integers,
// no indefinite-length containers, and NFC-normalized strings. This form
// is used both for hashing (CID Engine) and for the signed message
// (Signer/Verifier).

package canon

import (
	"errors"
	"fmt"
	"math"
	"sort"

	"github.com/fxamacker/cbor/v2"
	"golang.org/x/text/unicode/norm"
)

// EncodeError is returned when content cannot be canonically encoded.
type EncodeError struct {
	Reason string
}

func (e *EncodeError) Error() string {
	return fmt.Sprintf("canon: encode error: %s", e.Reason)
}

func (e *EncodeError) Unwrap() error {
	return ErrNonEncodable
}

// Value is the closed set of types the encoder accepts. Anything outside
// this set (cycles via pointers, structs, channels, funcs) is rejected
// rather than silently coerced.
type Value = interface{}

var encMode cbor.EncMode

func init() {
	opts := cbor.CanonicalEncOptions()
	opts.Sort = cbor.SortCanonical
	opts.Time = cbor.TimeUnix
	mode, err := opts.EncMode()
	if err != nil {
		panic(fmt.Sprintf("canon: failed to build cbor encode mode: %v", err))
	}
	encMode = mode
}

// Encode canonically encodes v, returning the deterministic byte form.
// Map keys are sorted by their canonical CBOR encoding; strings are
// normalized to NFC first; non-finite numbers and non-string map keys
// are rejected.
func Encode(v Value) ([]byte, error) {
	normalized, err := normalize(v, 0)
	if err != nil {
		return nil, err
	}
	b, err := encMode.Marshal(normalized)
	if err != nil {
		return nil, &EncodeError{Reason: err.Error()}
	}
	return b, nil
}

// maxDepth guards against cyclic or pathologically deep structures built
// from map[string]any/[]any (genuine pointer cycles are impossible in
// that representation, but a depth bound keeps pathological input cheap
// to reject deterministically).
const maxDepth = 64

func normalize(v Value, depth int) (Value, error) {
	if depth > maxDepth {
		return nil, &EncodeError{Reason: "structure exceeds maximum nesting depth"}
	}
	switch t := v.(type) {
	case nil:
		return nil, nil
	case bool:
		return t, nil
	case string:
		return norm.NFC.String(t), nil
	case []byte:
		return t, nil
	case float32:
		return normalizeFloat(float64(t))
	case float64:
		return normalizeFloat(t)
	case int:
		return int64(t), nil
	case int32:
		return int64(t), nil
	case int64:
		return t, nil
	case uint64:
		return t, nil
	case map[string]Value:
		return normalizeMap(t, depth)
	case map[string]interface{}:
		return normalizeMap(t, depth)
	case []Value:
		return normalizeSlice(t, depth)
	case []interface{}:
		return normalizeSlice(t, depth)
	default:
		return nil, &EncodeError{Reason: fmt.Sprintf("non-encodable type %T", v)}
	}
}

func normalizeFloat(f float64) (Value, error) {
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return nil, &EncodeError{Reason: "non-finite number"}
	}
	return f, nil
}

func normalizeMap(m map[string]Value, depth int) (Value, error) {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	out := make(map[string]Value, len(m))
	for _, k := range keys {
		nv, err := normalize(m[k], depth+1)
		if err != nil {
			return nil, err
		}
		out[norm.NFC.String(k)] = nv
	}
	return out, nil
}

func normalizeSlice(s []Value, depth int) (Value, error) {
	out := make([]Value, len(s))
	for i, e := range s {
		nv, err := normalize(e, depth+1)
		if err != nil {
			return nil, err
		}
		out[i] = nv
	}
	return out, nil
}

// ErrNonEncodable is a sentinel wrapped by EncodeError for errors.Is checks.
var ErrNonEncodable = errors.New("canon: value not encodable")
