// Package embedders provides vector encoding of strings with a stable
// dimension. Vectors are unit-normalized so inner product equals cosine
// similarity downstream.
package embedders

import (
	"context"
	"fmt"
	"math"

	"github.com/kaizen-ai/kaizen/pkg/config"
)

// Provider encodes text into fixed-dimension unit vectors. The dimension is
// a property of the configured model and stable for the provider's lifetime.
type Provider interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	Dimension() int
	ModelName() string
	Close() error
}

// NewFromConfig builds the configured provider.
func NewFromConfig(cfg *config.EmbedderConfig) (Provider, error) {
	switch cfg.Type {
	case "openai":
		return NewOpenAIEmbedder(cfg), nil
	case "ollama":
		return NewOllamaEmbedder(cfg), nil
	default:
		return nil, fmt.Errorf("unsupported embedder type: %s", cfg.Type)
	}
}

// normalize scales v to unit length in place and returns it. Zero vectors
// pass through unchanged.
func normalize(v []float32) []float32 {
	var sum float64
	for _, x := range v {
		sum += float64(x) * float64(x)
	}
	if sum == 0 {
		return v
	}
	norm := float32(math.Sqrt(sum))
	for i := range v {
		v[i] /= norm
	}
	return v
}

func checkDimension(got, want int) error {
	if want > 0 && got != want {
		return fmt.Errorf("embedding dimension mismatch: got %d, expected %d", got, want)
	}
	return nil
}
