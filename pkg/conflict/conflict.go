// Package conflict implements the LLM-mediated diff of proposed entities
// against existing similar entities, producing ADD/UPDATE/DELETE/NONE events
// for the backend to apply.
package conflict

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/kaizen-ai/kaizen/pkg/config"
	"github.com/kaizen-ai/kaizen/pkg/llms"
	"github.com/kaizen-ai/kaizen/pkg/schema"
)

const maxAttempts = 3

// Resolver produces entity update events for a backend write. It is an
// interface so backends can be tested without a live model.
type Resolver interface {
	Resolve(ctx context.Context, old, proposed []*schema.RecordedEntity) ([]*schema.EntityUpdate, error)
}

// LLMResolver resolves conflicts through the gateway with bounded retries.
type LLMResolver struct {
	gateway  llms.Gateway
	cfg      *config.LLMConfig
	guidance string
}

// NewLLMResolver builds a resolver. guidance overrides the default memory-
// manager instructions when non-empty.
func NewLLMResolver(gateway llms.Gateway, cfg *config.LLMConfig, guidance string) *LLMResolver {
	if guidance == "" {
		guidance = defaultGuidance
	}
	return &LLMResolver{gateway: gateway, cfg: cfg, guidance: guidance}
}

type resolutionResponse struct {
	Entities []*schema.EntityUpdate `json:"entities"`
}

// Resolve sends simplified views of both entity sets to the model and parses
// the returned event list. Proposed entities must already carry placeholder
// ids (Unprocessed_Entity_i); the metadata of a proposed entity is
// reattached to its ADD event, since the model never sees metadata and must
// not invent it. Events referencing ids in neither set are demoted to NONE.
//
// Up to 3 attempts on any parse or validation failure; the last error is
// returned on exhaustion. An empty proposed set returns nil without a model
// call.
func (r *LLMResolver) Resolve(ctx context.Context, old, proposed []*schema.RecordedEntity) ([]*schema.EntityUpdate, error) {
	if len(proposed) == 0 {
		return nil, nil
	}

	proposedByID := make(map[string]*schema.RecordedEntity, len(proposed))
	for _, e := range proposed {
		proposedByID[e.ID] = e
	}
	oldIDs := make(map[string]struct{}, len(old))
	for _, e := range old {
		oldIDs[e.ID] = struct{}{}
	}

	prompt, err := r.buildPrompt(old, proposed)
	if err != nil {
		return nil, err
	}

	var lastErr error
	for attempt := 0; attempt < maxAttempts; attempt++ {
		updates, err := r.attempt(ctx, prompt, proposedByID, oldIDs)
		if err == nil {
			return updates, nil
		}
		lastErr = err
		slog.Warn("conflict resolution attempt failed",
			"attempt", attempt+1, "error", err)
	}
	return nil, fmt.Errorf("conflict resolution failed after %d attempts: %w", maxAttempts, lastErr)
}

func (r *LLMResolver) attempt(ctx context.Context, prompt string, proposedByID map[string]*schema.RecordedEntity, oldIDs map[string]struct{}) ([]*schema.EntityUpdate, error) {
	raw, err := r.gateway.Generate(ctx, llms.GenerateRequest{
		Model:    r.cfg.ConflictResolutionModel,
		Prompt:   prompt,
		Provider: r.cfg.CustomProvider,
	})
	if err != nil {
		return nil, err
	}

	cleaned := llms.CleanResponse(raw)
	var parsed resolutionResponse
	if err := json.Unmarshal([]byte(cleaned), &parsed); err != nil {
		return nil, fmt.Errorf("failed to parse resolution response: %w", err)
	}

	updates := make([]*schema.EntityUpdate, 0, len(parsed.Entities))
	for _, update := range parsed.Entities {
		if update == nil {
			return nil, fmt.Errorf("resolution response contained a null event")
		}
		if err := update.Validate(); err != nil {
			return nil, err
		}

		switch update.Event {
		case schema.EventAdd:
			source, ok := proposedByID[update.ID]
			if !ok {
				slog.Warn("ADD event references unknown placeholder, treating as NONE", "id", update.ID)
				update.Event = schema.EventNone
				break
			}
			update.Metadata = source.Metadata
		case schema.EventUpdate, schema.EventDelete:
			if _, ok := oldIDs[update.ID]; !ok {
				slog.Warn("event references unknown entity id, treating as NONE",
					"event", update.Event, "id", update.ID)
				update.Event = schema.EventNone
			}
		}
		updates = append(updates, update)
	}
	return updates, nil
}

func (r *LLMResolver) buildPrompt(old, proposed []*schema.RecordedEntity) (string, error) {
	newJSON, err := json.MarshalIndent(schema.SimplifyEntities(proposed), "", "    ")
	if err != nil {
		return "", fmt.Errorf("failed to render proposed entities: %w", err)
	}

	if len(old) == 0 {
		return fmt.Sprintf(promptNoOld, r.guidance, newJSON), nil
	}

	oldJSON, err := json.MarshalIndent(schema.SimplifyEntities(old), "", "    ")
	if err != nil {
		return "", fmt.Errorf("failed to render existing entities: %w", err)
	}
	return fmt.Sprintf(promptWithOld, r.guidance, oldJSON, newJSON), nil
}
