// Package llms is the uniform model-call surface. A Gateway takes a model
// id, a prompt and an optional structured response schema and returns text.
// It negotiates schema-constrained decoding when the provider supports
// response_format with JSON schema validation, and falls back to free-text
// with response cleaning otherwise.
//
// The gateway never retries malformed model output; that policy lives with
// its callers (conflict resolution and tip consolidation retry up to 3
// times, tip generation swallows failures).
package llms

import "context"

// GenerateRequest is one model call.
type GenerateRequest struct {
	// Model is the provider-side model id.
	Model string

	// Prompt is sent as a single user message.
	Prompt string

	// ResponseSchema, when non-nil, is a Go value whose type is reflected
	// into a JSON schema for constrained decoding. Ignored by providers
	// that do not support response_format.
	ResponseSchema any

	// Provider is an optional routing tag forwarded to litellm-style
	// proxies.
	Provider string
}

// Gateway is the single callable every LLM-consuming component depends on.
type Gateway interface {
	Generate(ctx context.Context, req GenerateRequest) (string, error)

	// SupportsResponseSchema reports whether Generate honors
	// ResponseSchema. Callers that need JSON either way clean and parse
	// the free-text response themselves.
	SupportsResponseSchema() bool
}
