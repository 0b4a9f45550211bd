package llm

import (
	"context"
	"hash/fnv"
	"math"
)

// LocalEmbedder produces deterministic embeddings from a text hash. It is the
// offline fallback and the default for tests: identical text always yields an
// identical unit vector, and different texts are very unlikely to collide.
//
// The vectors carry no semantic meaning, so similarity between unrelated
// texts hovers near zero while exact duplicates score 1.0. That is enough for
// the retrieval plumbing, dedup, and consolidation paths to behave correctly
// without a model server.
type LocalEmbedder struct {
	dim int
}

// NewLocalEmbedder creates a local embedder with the deployment dimension.
func NewLocalEmbedder(dim int) *LocalEmbedder {
	if dim <= 0 {
		dim = DefaultEmbeddingDim
	}
	return &LocalEmbedder{dim: dim}
}

// Dimensions returns the embedding size.
func (e *LocalEmbedder) Dimensions() int { return e.dim }

// Embed creates a deterministic unit vector from the FNV-1a hash of text.
func (e *LocalEmbedder) Embed(_ context.Context, text string) ([]float32, error) {
	h := fnv.New64a()
	h.Write([]byte(text))
	seed := h.Sum64()

	vec := make([]float32, e.dim)
	for i := range vec {
		// LCG driven by the text hash keeps the output stable per input.
		seed = seed*6364136223846793005 + 1442695040888963407
		vec[i] = float32(int64(seed)) / float32(math.MaxInt64)
	}
	normalize(vec)
	return vec, nil
}

// normalize scales vec to unit length in place.
func normalize(vec []float32) {
	var norm float64
	for _, v := range vec {
		norm += float64(v) * float64(v)
	}
	if norm == 0 {
		return
	}
	scale := float32(1 / math.Sqrt(norm))
	for i := range vec {
		vec[i] *= scale
	}
}

var _ Embedder = (*LocalEmbedder)(nil)
