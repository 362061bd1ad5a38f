// Copyright 2025 Yukpo
// SPDX-License-Identifier: BUSL-1.1

package cache

import (
	"hash/fnv"
	"math"
	"strings"
)

// Embedder turns a query string into a fixed-dimension vector. The
// production path is reserved for an external embeddings API; the local
// implementation folds word hashes into the vector, which is deterministic
// and cheap while preserving enough signal for near-duplicate queries.
type Embedder interface {
	Embed(text string) []float64
	Dim() int
}

// hashFoldEmbedder is the local embedder: each word adds 1/len(words) at
// the dimension indexed by its FNV hash, then the vector is L2-normalized.
type hashFoldEmbedder struct {
	dim int
}

// NewHashFoldEmbedder creates a local embedder with the given dimension
// (768 in development, 1536 in production).
func NewHashFoldEmbedder(dim int) Embedder {
	return &hashFoldEmbedder{dim: dim}
}

func (e *hashFoldEmbedder) Dim() int { return e.dim }

func (e *hashFoldEmbedder) Embed(text string) []float64 {
	vec := make([]float64, e.dim)

	words := strings.Fields(strings.ToLower(text))
	if len(words) == 0 {
		return vec
	}

	weight := 1.0 / float64(len(words))
	for _, word := range words {
		h := fnv.New32a()
		h.Write([]byte(word))
		vec[int(h.Sum32())%e.dim] += weight
	}

	return normalize(vec)
}

func normalize(vec []float64) []float64 {
	var sum float64
	for _, v := range vec {
		sum += v * v
	}
	if sum == 0 {
		return vec
	}
	norm := math.Sqrt(sum)
	for i := range vec {
		vec[i] /= norm
	}
	return vec
}

// CosineSimilarity computes the cosine of the angle between two vectors.
// Mismatched or empty vectors score zero.
func CosineSimilarity(a, b []float64) float64 {
	if len(a) == 0 || len(a) != len(b) {
		return 0
	}

	var dot, normA, normB float64
	for i := range a {
		dot += a[i] * b[i]
		normA += a[i] * a[i]
		normB += b[i] * b[i]
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}

// JaccardWordOverlap computes the word-set Jaccard index of two strings,
// used by the predicted-response tier.
func JaccardWordOverlap(a, b string) float64 {
	setA := wordSet(a)
	setB := wordSet(b)
	if len(setA) == 0 || len(setB) == 0 {
		return 0
	}

	intersection := 0
	for w := range setA {
		if _, ok := setB[w]; ok {
			intersection++
		}
	}
	union := len(setA) + len(setB) - intersection
	return float64(intersection) / float64(union)
}

func wordSet(s string) map[string]struct{} {
	out := make(map[string]struct{})
	for _, w := range strings.Fields(strings.ToLower(s)) {
		out[w] = struct{}{}
	}
	return out
}
