package services

import (
	"crypto/sha256"
	"encoding/hex"
	"math"
	"math/rand/v2"
)

// EmbeddingVersion identifies the seed-to-vector scheme below. The hash and
// generator choices are frozen: changing either invalidates the
// comparability of every stored vector, so any revision must bump this and
// force a full re-embedding.
const EmbeddingVersion = 1

// Synthesizer deterministically maps (content, filename) to a unit vector of
// fixed dimension. It is a placeholder for a real perceptual model and is
// total: any byte buffer, including an empty one, yields a valid vector.
//
// Scheme (version 1): SHA-256 digests of the content and of the UTF-8
// filename bytes are concatenated, content first, and re-hashed into a
// 32-byte seed. The seed drives the ChaCha8 generator from math/rand/v2,
// which produces identical float sequences on every platform. D draws in
// [-1, 1) are then L2-normalized.
type Synthesizer struct {
	dimension int
}

func NewSynthesizer(dimension int) *Synthesizer {
	return &Synthesizer{dimension: dimension}
}

func (s *Synthesizer) Dimension() int {
	return s.dimension
}

// Synthesize returns a vector with exactly Dimension components, every one
// finite, with Euclidean norm 1. Identical inputs yield bit-identical
// output across process restarts and machines.
func (s *Synthesizer) Synthesize(content []byte, filename string) []float32 {
	rng := rand.New(rand.NewChaCha8(combinedDigest(content, filename)))

	raw := make([]float64, s.dimension)
	var sum float64
	for i := range raw {
		raw[i] = rng.Float64()*2 - 1
		sum += raw[i] * raw[i]
	}

	out := make([]float32, s.dimension)
	if sum == 0 {
		// Degenerate seed; fall back to a fixed axis instead of dividing
		// by zero.
		out[0] = 1
		return out
	}

	norm := math.Sqrt(sum)
	for i, x := range raw {
		out[i] = float32(x / norm)
	}
	return out
}

// combinedDigest folds the two input digests into the generator seed. The
// concatenation is order-sensitive: swapping content and filename produces a
// different seed.
func combinedDigest(content []byte, filename string) [32]byte {
	contentHash := sha256.Sum256(content)
	filenameHash := sha256.Sum256([]byte(filename))

	h := sha256.New()
	h.Write(contentHash[:])
	h.Write(filenameHash[:])

	var seed [32]byte
	copy(seed[:], h.Sum(nil))
	return seed
}

// EmbeddingKey is the content-addressed cache key for a (content, filename)
// pair: the hex form of the combined digest.
func EmbeddingKey(content []byte, filename string) string {
	digest := combinedDigest(content, filename)
	return hex.EncodeToString(digest[:])
}
