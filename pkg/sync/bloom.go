// Copyright 2025 Wellspring Authors
//
// Bloom exchange - approximate-membership filters over a peer's CID set
// Per Wellspring Protocol Section 4.9, step 2 ("Bloom request")

package sync

import (
	"fmt"

	"github.com/bits-and-blooms/bloom/v3"
)

// DefaultFilterM and DefaultFilterK are the protocol's documented bloom
// parameters.
const (
	DefaultFilterM uint = 95851
	DefaultFilterK uint = 7
)

// Filter wraps a bloom.BloomFilter with the (m, k) parameters carried
// alongside it on the wire, since a receiving peer must build its filter
// with matching parameters to interpret Test results meaningfully.
type Filter struct {
	M uint
	K uint
	f *bloom.BloomFilter
}

// BuildFilter constructs a Filter over cids using m bits and k hash
// functions (0 selects the protocol defaults).
func BuildFilter(cids []string, m, k uint) *Filter {
	if m == 0 {
		m = DefaultFilterM
	}
	if k == 0 {
		k = DefaultFilterK
	}
	bf := bloom.New(m, k)
	for _, c := range cids {
		bf.AddString(c)
	}
	return &Filter{M: m, K: k, f: bf}
}

// Test reports whether cid is (probably) present in the filter. False
// positives are possible; false negatives are not.
func (f *Filter) Test(cid string) bool {
	return f.f.TestString(cid)
}

// Bytes serializes the filter's bit data for the ExchangeBloom wire
// payload.
func (f *Filter) Bytes() ([]byte, error) {
	b, err := f.f.MarshalBinary()
	if err != nil {
		return nil, fmt.Errorf("sync: marshal bloom filter: %w", err)
	}
	return b, nil
}

// FilterFromBytes reconstructs a Filter received over the wire.
func FilterFromBytes(data []byte, m, k uint) (*Filter, error) {
	bf := &bloom.BloomFilter{}
	if err := bf.UnmarshalBinary(data); err != nil {
		return nil, fmt.Errorf("sync: unmarshal bloom filter: %w", err)
	}
	return &Filter{M: m, K: k, f: bf}, nil
}
