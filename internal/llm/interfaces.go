// Package llm holds the external collaborator contracts for text generation
// and embedding, the HTTP clients that implement them, and the parsing used
// on generative output.
package llm

import (
	"context"
	"errors"
)

// DefaultEmbeddingDim is the embedding dimension used by the reference
// deployment (all-MiniLM-class models). Every stored and query vector in a
// deployment must share one dimension.
const DefaultEmbeddingDim = 384

var (
	// ErrGeneration indicates a generative call failed (network, provider,
	// circuit open). Extraction callers recover from it locally.
	ErrGeneration = errors.New("generation failed")

	// ErrParse indicates the generative response contained no usable JSON.
	// Extraction callers treat it as zero results, never as fatal.
	ErrParse = errors.New("malformed generative response")
)

// GenerateOptions tune a single generation call.
type GenerateOptions struct {
	Temperature float64
	MaxTokens   int
}

// TextGenerator is the generation collaborator: prompt in, text out.
// Used only by the LLM-assisted extraction path.
type TextGenerator interface {
	Complete(ctx context.Context, prompt string, opts GenerateOptions) (string, error)
	Model() string
}

// Embedder converts text into a fixed-dimension vector.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	Dimensions() int
}
