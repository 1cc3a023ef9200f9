// Package tips turns completed trajectories into reusable guidelines and
// periodically consolidates overlapping guidelines into fewer, stronger ones.
//
// Generation is lossy by design: a malformed model response yields zero tips,
// not an error, so one bad completion never fails a sync pass. Consolidation
// is stricter and retries the model before giving up on a cluster.
package tips

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/kaizen-ai/kaizen/pkg/config"
	"github.com/kaizen-ai/kaizen/pkg/llms"
	"github.com/kaizen-ai/kaizen/pkg/schema"
	"github.com/kaizen-ai/kaizen/pkg/trajectory"
)

// Generator extracts tips from trajectories through the gateway.
type Generator struct {
	gateway llms.Gateway
	cfg     *config.LLMConfig
}

// NewGenerator builds a tip generator.
func NewGenerator(gateway llms.Gateway, cfg *config.LLMConfig) *Generator {
	return &Generator{gateway: gateway, cfg: cfg}
}

// Generate parses the conversation and asks the model for tips. A parse
// failure is an error; a malformed or empty model response is not — it
// returns zero tips with the task description intact, logged at warn.
func (g *Generator) Generate(ctx context.Context, messages []trajectory.Message) (*schema.TipGenerationResult, error) {
	parsed, err := trajectory.Parse(messages)
	if err != nil {
		return nil, fmt.Errorf("failed to parse trajectory: %w", err)
	}

	result := &schema.TipGenerationResult{
		Tips:            []schema.Tip{},
		TaskDescription: parsed.TaskInstruction,
	}

	prompt := fmt.Sprintf(generatePromptFormat,
		parsed.TaskInstruction, len(parsed.Steps), parsed.Summary())

	raw, err := g.gateway.Generate(ctx, llms.GenerateRequest{
		Model:          g.cfg.TipsModel,
		Prompt:         prompt,
		ResponseSchema: responseSchema(g.cfg),
		Provider:       g.cfg.CustomProvider,
	})
	if err != nil {
		slog.Warn("tip generation call failed, continuing with no tips", "error", err)
		return result, nil
	}

	tips, err := parseTips(raw)
	if err != nil {
		slog.Warn("tip generation returned malformed output, continuing with no tips", "error", err)
		return result, nil
	}

	result.Tips = tips
	return result, nil
}

// responseSchema returns the structured-output schema when the provider
// supports constrained decoding, nil otherwise.
func responseSchema(cfg *config.LLMConfig) any {
	if cfg.SchemaConstrained() {
		return &schema.TipGenerationResponse{}
	}
	return nil
}

// parseTips cleans and decodes a model response, dropping tips with empty
// content or an unknown category rather than rejecting the whole batch.
func parseTips(raw string) ([]schema.Tip, error) {
	cleaned := llms.CleanResponse(raw)
	var resp schema.TipGenerationResponse
	if err := json.Unmarshal([]byte(cleaned), &resp); err != nil {
		return nil, fmt.Errorf("failed to parse tip response: %w", err)
	}

	tips := make([]schema.Tip, 0, len(resp.Tips))
	for _, tip := range resp.Tips {
		if strings.TrimSpace(tip.Content) == "" {
			continue
		}
		switch tip.Category {
		case schema.TipCategoryStrategy, schema.TipCategoryRecovery, schema.TipCategoryOptimization:
		default:
			slog.Warn("dropping tip with unknown category", "category", tip.Category)
			continue
		}
		tips = append(tips, tip)
	}
	return tips, nil
}
