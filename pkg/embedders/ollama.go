package embedders

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/kaizen-ai/kaizen/pkg/config"
	"github.com/kaizen-ai/kaizen/pkg/httpclient"
)

// Ollama's llama runner crashes when it receives concurrent embedding
// requests, so all calls are serialized through one mutex.
var ollamaEmbedMu sync.Mutex

// OllamaEmbedder calls a local Ollama server's /api/embeddings endpoint.
type OllamaEmbedder struct {
	config     *config.EmbedderConfig
	httpClient *httpclient.Client
}

type ollamaEmbedRequest struct {
	Model  string `json:"model"`
	Prompt string `json:"prompt"`
}

type ollamaEmbedResponse struct {
	Embedding []float32 `json:"embedding"`
}

func NewOllamaEmbedder(cfg *config.EmbedderConfig) *OllamaEmbedder {
	return &OllamaEmbedder{
		config: cfg,
		httpClient: httpclient.New(
			httpclient.WithHTTPClient(&http.Client{
				Timeout: time.Duration(cfg.Timeout) * time.Second,
			}),
		),
	}
}

func (e *OllamaEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	ollamaEmbedMu.Lock()
	defer ollamaEmbedMu.Unlock()

	var response ollamaEmbedResponse
	err := e.httpClient.PostJSON(ctx, e.config.Host+"/api/embeddings", nil,
		ollamaEmbedRequest{Model: e.config.Model, Prompt: text}, &response)
	if err != nil {
		return nil, fmt.Errorf("ollama embedding request failed: %w", err)
	}
	if len(response.Embedding) == 0 {
		return nil, fmt.Errorf("ollama returned an empty embedding")
	}
	if err := checkDimension(len(response.Embedding), e.config.Dimension); err != nil {
		return nil, err
	}
	return normalize(response.Embedding), nil
}

func (e *OllamaEmbedder) Dimension() int    { return e.config.Dimension }
func (e *OllamaEmbedder) ModelName() string { return e.config.Model }
func (e *OllamaEmbedder) Close() error      { return nil }
