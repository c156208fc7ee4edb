// Copyright 2025 Wellspring Authors
//
// Deterministic fallback embedding
// Per Wellspring Protocol Section 4.6, "Deterministic fallback"
//
// When no neural embedding model is configured, content is tokenized
// into words plus character 2- and 3-grams; each token's hash seeds a
// small pseudo-random projection into a fixed-dimension accumulator,
// which is then L2-normalized. Any two implementations that agree on D
// and the hash function produce bit-for-bit identical vectors for the
// same text, which is what lets nodes compare relevance scores without
// sharing an actual ML model.

package index

import (
	"hash/fnv"
	"math"
	"math/rand"
	"strings"
)

// DefaultDimension is the fallback embedding width used when a pool's
// index_config aspect does not specify one.
const DefaultDimension = 128

// Embedder produces a vector representation of text.
type Embedder interface {
	Embed(text string) []float64
	Dimension() int
}

// FallbackEmbedder implements the protocol's deterministic projection.
type FallbackEmbedder struct {
	dim int
}

// NewFallbackEmbedder constructs a deterministic embedder of the given
// dimension. dim <= 0 selects DefaultDimension.
func NewFallbackEmbedder(dim int) *FallbackEmbedder {
	if dim <= 0 {
		dim = DefaultDimension
	}
	return &FallbackEmbedder{dim: dim}
}

func (e *FallbackEmbedder) Dimension() int { return e.dim }

// Embed tokenizes text into words and character 2/3-grams, projects each
// token into the accumulator via a token-seeded random Gaussian vector
// (not normalized per token), sums, and L2-normalizes the result.
func (e *FallbackEmbedder) Embed(text string) []float64 {
	acc := make([]float64, e.dim)
	for _, tok := range tokenize(text) {
		projectToken(tok, acc)
	}
	return l2Normalize(acc)
}

// tokenize lowercases text and emits words plus character 2- and 3-grams
// per word, matching the protocol's "words plus character 2/3-grams"
// description.
func tokenize(text string) []string {
	words := strings.Fields(strings.ToLower(text))
	tokens := make([]string, 0, len(words)*3)
	for _, w := range words {
		tokens = append(tokens, w)
		runes := []rune(w)
		for n := 2; n <= 3; n++ {
			if len(runes) < n {
				continue
			}
			for i := 0; i+n <= len(runes); i++ {
				tokens = append(tokens, string(runes[i:i+n]))
			}
		}
	}
	return tokens
}

// projectToken adds a deterministic pseudo-random vector of independent
// standard-normal components, seeded by tok's FNV-1a hash, into acc. The
// added vector is not normalized.
func projectToken(tok string, acc []float64) {
	h := fnv.New64a()
	_, _ = h.Write([]byte(tok))
	seed := h.Sum64()
	r := rand.New(rand.NewSource(int64(seed)))
	for i := range acc {
		acc[i] += r.NormFloat64()
	}
}

func l2Normalize(v []float64) []float64 {
	var sumSq float64
	for _, x := range v {
		sumSq += x * x
	}
	if sumSq == 0 {
		return v
	}
	norm := math.Sqrt(sumSq)
	out := make([]float64, len(v))
	for i, x := range v {
		out[i] = x / norm
	}
	return out
}

// CosineSimilarity returns 1 - cosine_distance(a, b), assuming both are
// already L2-normalized (as FallbackEmbedder.Embed produces).
func CosineSimilarity(a, b []float64) float64 {
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	var dot float64
	for i := 0; i < n; i++ {
		dot += a[i] * b[i]
	}
	if dot > 1 {
		return 1
	}
	if dot < -1 {
		return -1
	}
	return dot
}
