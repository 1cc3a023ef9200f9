package embedders

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/kaizen-ai/kaizen/pkg/config"
	"github.com/kaizen-ai/kaizen/pkg/httpclient"
)

// OpenAIEmbedder calls the /embeddings endpoint of an OpenAI-compatible API.
type OpenAIEmbedder struct {
	config     *config.EmbedderConfig
	httpClient *httpclient.Client
}

type openAIEmbedRequest struct {
	Model string `json:"model"`
	Input string `json:"input"`
}

type openAIEmbedResponse struct {
	Data []struct {
		Embedding []float32 `json:"embedding"`
	} `json:"data"`
}

func NewOpenAIEmbedder(cfg *config.EmbedderConfig) *OpenAIEmbedder {
	return &OpenAIEmbedder{
		config: cfg,
		httpClient: httpclient.New(
			httpclient.WithHTTPClient(&http.Client{
				Timeout: time.Duration(cfg.Timeout) * time.Second,
			}),
		),
	}
}

func (e *OpenAIEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	headers := map[string]string{}
	if e.config.APIKey != "" {
		headers["Authorization"] = "Bearer " + e.config.APIKey
	}

	var response openAIEmbedResponse
	err := e.httpClient.PostJSON(ctx, e.config.Host+"/embeddings", headers,
		openAIEmbedRequest{Model: e.config.Model, Input: text}, &response)
	if err != nil {
		return nil, fmt.Errorf("embedding request failed: %w", err)
	}
	if len(response.Data) == 0 {
		return nil, fmt.Errorf("embedding response contained no data")
	}

	vec := response.Data[0].Embedding
	if err := checkDimension(len(vec), e.config.Dimension); err != nil {
		return nil, err
	}
	return normalize(vec), nil
}

func (e *OpenAIEmbedder) Dimension() int    { return e.config.Dimension }
func (e *OpenAIEmbedder) ModelName() string { return e.config.Model }
func (e *OpenAIEmbedder) Close() error      { return nil }
