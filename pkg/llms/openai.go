package llms

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/kaizen-ai/kaizen/pkg/config"
	"github.com/kaizen-ai/kaizen/pkg/httpclient"
)

// OpenAIGateway speaks the OpenAI chat-completions dialect, which litellm
// proxies and most self-hosted servers also expose.
type OpenAIGateway struct {
	config     *config.LLMConfig
	httpClient *httpclient.Client
}

type openAIRequest struct {
	Model          string                `json:"model"`
	Messages       []openAIMessage       `json:"messages"`
	ResponseFormat *openAIResponseFormat `json:"response_format,omitempty"`
	CustomProvider string                `json:"custom_llm_provider,omitempty"`
}

type openAIMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type openAIResponseFormat struct {
	Type       string            `json:"type"`
	JSONSchema *openAIJSONSchema `json:"json_schema,omitempty"`
}

type openAIJSONSchema struct {
	Name   string         `json:"name"`
	Schema map[string]any `json:"schema"`
	Strict bool           `json:"strict,omitempty"`
}

type openAIResponse struct {
	Choices []openAIChoice `json:"choices"`
	Error   *openAIError   `json:"error,omitempty"`
}

type openAIChoice struct {
	Message struct {
		Content string `json:"content"`
	} `json:"message"`
	FinishReason string `json:"finish_reason"`
}

type openAIError struct {
	Message string `json:"message"`
	Type    string `json:"type"`
}

// NewOpenAIGateway builds a gateway from config. Transport retries (429,
// 5xx) are handled by the shared HTTP client; the per-call timeout comes
// from config and is enforced through the request context.
func NewOpenAIGateway(cfg *config.LLMConfig) *OpenAIGateway {
	return &OpenAIGateway{
		config: cfg,
		httpClient: httpclient.New(
			httpclient.WithHTTPClient(&http.Client{
				Timeout: time.Duration(cfg.Timeout) * time.Second,
			}),
			httpclient.WithMaxRetries(cfg.MaxRetries),
			httpclient.WithBaseDelay(2*time.Second),
		),
	}
}

func (g *OpenAIGateway) SupportsResponseSchema() bool {
	return g.config.SchemaConstrained()
}

// Generate performs one model call and returns the raw text content.
// Free-text callers are expected to run CleanResponse before parsing.
func (g *OpenAIGateway) Generate(ctx context.Context, req GenerateRequest) (string, error) {
	request := openAIRequest{
		Model: req.Model,
		Messages: []openAIMessage{
			{Role: "user", Content: req.Prompt},
		},
	}
	if req.Provider != "" {
		request.CustomProvider = req.Provider
	}

	if req.ResponseSchema != nil && g.SupportsResponseSchema() {
		schema, err := reflectSchema(req.ResponseSchema)
		if err != nil {
			return "", fmt.Errorf("failed to build response schema: %w", err)
		}
		request.ResponseFormat = &openAIResponseFormat{
			Type: "json_schema",
			JSONSchema: &openAIJSONSchema{
				Name:   "response",
				Schema: schema,
				Strict: true,
			},
		}
	}

	headers := map[string]string{}
	if g.config.APIKey != "" {
		headers["Authorization"] = "Bearer " + g.config.APIKey
	}

	start := time.Now()
	var response openAIResponse
	err := g.httpClient.PostJSON(ctx, g.config.BaseURL+"/chat/completions", headers, request, &response)
	if err != nil {
		slog.Error("LLM request failed", "model", req.Model, "error", err)
		return "", fmt.Errorf("LLM request failed: %w", err)
	}
	if response.Error != nil {
		return "", fmt.Errorf("LLM API error: %s", response.Error.Message)
	}
	if len(response.Choices) == 0 {
		return "", fmt.Errorf("LLM returned no choices")
	}

	content := response.Choices[0].Message.Content
	slog.Debug("LLM request complete",
		"model", req.Model,
		"duration", time.Since(start),
		"response_length", len(content))
	return content, nil
}
