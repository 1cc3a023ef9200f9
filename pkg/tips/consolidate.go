package tips

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/kaizen-ai/kaizen/pkg/config"
	"github.com/kaizen-ai/kaizen/pkg/embedders"
	"github.com/kaizen-ai/kaizen/pkg/llms"
	"github.com/kaizen-ai/kaizen/pkg/schema"
)

const combineMaxAttempts = 3

// entityStore is the slice of the backend consolidation needs.
type entityStore interface {
	SearchEntities(ctx context.Context, namespaceID, query string, filters map[string]any, limit int) ([]*schema.RecordedEntity, error)
	UpdateEntities(ctx context.Context, namespaceID string, entities []*schema.Entity, resolve bool) ([]*schema.EntityUpdate, error)
	DeleteEntity(ctx context.Context, namespaceID, entityID string) error
}

// Consolidator merges clusters of overlapping guidelines.
type Consolidator struct {
	store    entityStore
	embedder embedders.Provider
	gateway  llms.Gateway
	cfg      *config.LLMConfig
}

// NewConsolidator builds a consolidator over the given store.
func NewConsolidator(store entityStore, embedder embedders.Provider, gateway llms.Gateway, cfg *config.LLMConfig) *Consolidator {
	return &Consolidator{store: store, embedder: embedder, gateway: gateway, cfg: cfg}
}

// Consolidate fetches all guidelines in the namespace, clusters them by task
// description, and replaces each cluster with its merged tips.
//
// Replacement is two-phase per cluster: merged tips are inserted first
// (resolve=false), then the originals are deleted. A cluster whose merge
// produced zero tips is skipped and its originals kept. Phase-two delete
// failures are logged and left behind; there is no rollback, so a crash
// between phases leaves duplicates rather than losing guidelines.
func (c *Consolidator) Consolidate(ctx context.Context, namespaceID string, threshold float64) (*schema.ConsolidationResult, error) {
	entities, err := c.store.SearchEntities(ctx, namespaceID, "",
		map[string]any{"type": schema.EntityTypeGuideline}, MaxClusterEntities)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch guidelines: %w", err)
	}
	if len(entities) == MaxClusterEntities {
		slog.Warn("guideline fetch hit the consolidation limit, some tips may be skipped",
			"limit", MaxClusterEntities)
	}

	clusters, err := ClusterEntities(ctx, c.embedder, entities, threshold)
	if err != nil {
		return nil, fmt.Errorf("failed to cluster guidelines: %w", err)
	}

	result := &schema.ConsolidationResult{}
	for _, cluster := range clusters {
		merged, err := c.CombineCluster(ctx, cluster)
		if err != nil {
			slog.Error("cluster consolidation failed, keeping originals",
				"cluster_size", len(cluster), "error", err)
			continue
		}
		if len(merged) == 0 {
			slog.Warn("cluster merge produced no tips, keeping originals",
				"cluster_size", len(cluster))
			continue
		}

		if err := c.replaceCluster(ctx, namespaceID, cluster, merged); err != nil {
			slog.Error("failed to insert merged tips, keeping originals",
				"cluster_size", len(cluster), "error", err)
			continue
		}

		result.ClustersFound++
		result.TipsBefore += len(cluster)
		result.TipsAfter += len(merged)
	}
	return result, nil
}

// CombineCluster asks the model to merge one cluster's tips, retrying up to
// 3 times on malformed output.
func (c *Consolidator) CombineCluster(ctx context.Context, cluster []*schema.RecordedEntity) ([]schema.Tip, error) {
	prompt, err := c.buildCombinePrompt(cluster)
	if err != nil {
		return nil, err
	}

	var lastErr error
	for attempt := 0; attempt < combineMaxAttempts; attempt++ {
		raw, err := c.gateway.Generate(ctx, llms.GenerateRequest{
			Model:          c.cfg.TipsModel,
			Prompt:         prompt,
			ResponseSchema: responseSchema(c.cfg),
			Provider:       c.cfg.CustomProvider,
		})
		if err == nil {
			var tips []schema.Tip
			tips, err = parseTips(raw)
			if err == nil {
				return tips, nil
			}
		}
		lastErr = err
		slog.Warn("tip consolidation attempt failed",
			"attempt", attempt+1, "error", err)
	}
	return nil, fmt.Errorf("tip consolidation failed after %d attempts: %w", combineMaxAttempts, lastErr)
}

// replaceCluster inserts merged tips, then deletes the originals. The insert
// is all-or-nothing from the caller's view; deletes are best-effort.
func (c *Consolidator) replaceCluster(ctx context.Context, namespaceID string, cluster []*schema.RecordedEntity, merged []schema.Tip) error {
	taskDescription := firstTaskDescription(cluster)
	originalIDs := make([]string, 0, len(cluster))
	for _, original := range cluster {
		originalIDs = append(originalIDs, original.ID)
	}

	entities := make([]*schema.Entity, 0, len(merged))
	for _, tip := range merged {
		entities = append(entities, &schema.Entity{
			Type:    schema.EntityTypeGuideline,
			Content: tip.Content,
			Metadata: map[string]any{
				"rationale":                    tip.Rationale,
				"category":                     string(tip.Category),
				"trigger":                      tip.Trigger,
				schema.MetadataTaskDescription: taskDescription,
				"consolidated_from":            originalIDs,
			},
		})
	}

	if _, err := c.store.UpdateEntities(ctx, namespaceID, entities, false); err != nil {
		return err
	}

	for _, original := range cluster {
		if err := c.store.DeleteEntity(ctx, namespaceID, original.ID); err != nil {
			slog.Error("failed to delete consolidated original",
				"entity_id", original.ID, "error", err)
		}
	}
	return nil
}

func (c *Consolidator) buildCombinePrompt(cluster []*schema.RecordedEntity) (string, error) {
	type clusterTip struct {
		Content   string `json:"content"`
		Rationale string `json:"rationale,omitempty"`
		Category  string `json:"category,omitempty"`
		Trigger   string `json:"trigger,omitempty"`
	}

	tips := make([]clusterTip, 0, len(cluster))
	for _, e := range cluster {
		rationale, _ := e.Metadata["rationale"].(string)
		category, _ := e.Metadata["category"].(string)
		trigger, _ := e.Metadata["trigger"].(string)
		tips = append(tips, clusterTip{
			Content:   schema.SerializeContent(e.Content),
			Rationale: rationale,
			Category:  category,
			Trigger:   trigger,
		})
	}
	tipsJSON, err := json.MarshalIndent(tips, "", "    ")
	if err != nil {
		return "", fmt.Errorf("failed to render cluster tips: %w", err)
	}

	var descriptions []string
	for _, desc := range dedupeTaskDescriptions(cluster) {
		descriptions = append(descriptions, "- "+desc)
	}
	return fmt.Sprintf(combinePromptFormat, strings.Join(descriptions, "\n"), tipsJSON), nil
}

// dedupeTaskDescriptions returns the cluster's distinct task descriptions in
// first-seen order.
func dedupeTaskDescriptions(cluster []*schema.RecordedEntity) []string {
	seen := make(map[string]struct{}, len(cluster))
	var out []string
	for _, e := range cluster {
		desc, _ := e.Metadata[schema.MetadataTaskDescription].(string)
		if desc == "" {
			continue
		}
		if _, ok := seen[desc]; ok {
			continue
		}
		seen[desc] = struct{}{}
		out = append(out, desc)
	}
	return out
}

func firstTaskDescription(cluster []*schema.RecordedEntity) string {
	for _, e := range cluster {
		if desc, _ := e.Metadata[schema.MetadataTaskDescription].(string); desc != "" {
			return desc
		}
	}
	return ""
}
