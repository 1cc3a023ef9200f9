// Package sync pulls LLM-request spans from a Phoenix-compatible trace
// store, reconstructs conversations from their gen_ai.* attributes, persists
// them as trajectory entities and feeds them to tip generation.
package sync

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/kaizen-ai/kaizen/pkg/config"
	"github.com/kaizen-ai/kaizen/pkg/httpclient"
	"github.com/kaizen-ai/kaizen/pkg/schema"
	"github.com/kaizen-ai/kaizen/pkg/tips"
	"github.com/kaizen-ai/kaizen/pkg/trajectory"
)

const (
	// spanPageSize is the per-request page size for span fetches.
	spanPageSize = 100

	// processedScanLimit bounds the dedupe scan over persisted trajectories.
	processedScanLimit = 10000

	// llmRequestSpanName is the logical span name marking an LLM request.
	llmRequestSpanName = "litellm_request"
)

// store is the slice of the entity store the worker needs.
type store interface {
	GetNamespace(ctx context.Context, namespaceID string) (*schema.Namespace, error)
	CreateNamespace(ctx context.Context, namespaceID string) (*schema.Namespace, error)
	SearchEntities(ctx context.Context, namespaceID, query string, filters map[string]any, limit int) ([]*schema.RecordedEntity, error)
	UpdateEntities(ctx context.Context, namespaceID string, entities []*schema.Entity, resolve bool) ([]*schema.EntityUpdate, error)
}

// Worker syncs one trace-store project into one namespace.
type Worker struct {
	http        *httpclient.Client
	store       store
	generator   *tips.Generator
	baseURL     string
	project     string
	namespaceID string
}

// NewWorker builds a sync worker against the configured trace store.
func NewWorker(cfg *config.Config, st store, generator *tips.Generator) *Worker {
	timeout := time.Duration(cfg.Phoenix.Timeout) * time.Second
	return &Worker{
		http:        httpclient.New(httpclient.WithHTTPClient(&http.Client{Timeout: timeout})),
		store:       st,
		generator:   generator,
		baseURL:     strings.TrimRight(cfg.Phoenix.URL, "/"),
		project:     cfg.Phoenix.Project,
		namespaceID: cfg.NamespaceID,
	}
}

// span is the trace-store span shape the worker consumes.
type span struct {
	Name       string         `json:"name"`
	StatusCode string         `json:"status_code"`
	StartTime  string         `json:"start_time"`
	Context    spanContext    `json:"context"`
	Attributes map[string]any `json:"attributes"`
}

type spanContext struct {
	TraceID string `json:"trace_id"`
	SpanID  string `json:"span_id"`
}

type spanPage struct {
	Data       []span `json:"data"`
	NextCursor string `json:"next_cursor"`
}

// Sync fetches up to limit spans, skips already-persisted and non-LLM spans,
// and persists a trajectory plus generated guidelines per new span. Per-span
// failures are collected into the result; only fetch and namespace failures
// abort the pass.
func (w *Worker) Sync(ctx context.Context, limit int, includeErrors bool) (*schema.SyncResult, error) {
	slog.Info("starting sync",
		"source", w.baseURL, "project", w.project, "namespace", w.namespaceID)

	if err := w.ensureNamespace(ctx); err != nil {
		return nil, err
	}

	spans, err := w.fetchSpans(ctx, limit)
	if err != nil {
		return nil, err
	}
	slog.Info("fetched spans", "count", len(spans))

	processedIDs, err := w.processedSpanIDs(ctx)
	if err != nil {
		return nil, err
	}
	slog.Info("loaded processed span ids", "count", len(processedIDs))

	result := &schema.SyncResult{Errors: []string{}}
	for _, s := range spans {
		if s.Name != llmRequestSpanName {
			continue
		}
		if !includeErrors && s.StatusCode == "ERROR" {
			continue
		}
		if _, done := processedIDs[s.Context.SpanID]; done {
			result.Skipped++
			continue
		}
		if !hasPromptAttributes(s.Attributes) {
			continue
		}

		messages := cleanMessages(extractMessages(s.Attributes))
		if len(messages) == 0 {
			continue
		}

		tipCount, err := w.processSpan(ctx, s, messages)
		if err != nil {
			msg := fmt.Sprintf("error processing span %s: %v", s.Context.SpanID, err)
			slog.Error("span processing failed", "span_id", s.Context.SpanID, "error", err)
			result.Errors = append(result.Errors, msg)
			continue
		}
		result.Processed++
		result.TipsGenerated += tipCount
		slog.Info("processed span", "span_id", s.Context.SpanID, "tips", tipCount)
	}

	slog.Info("sync complete",
		"processed", result.Processed, "skipped", result.Skipped,
		"tips_generated", result.TipsGenerated, "errors", len(result.Errors))
	return result, nil
}

// ensureNamespace creates the target namespace if missing.
func (w *Worker) ensureNamespace(ctx context.Context) error {
	_, err := w.store.GetNamespace(ctx, w.namespaceID)
	if err == nil {
		return nil
	}
	var notFound *schema.NamespaceNotFoundError
	if !errors.As(err, &notFound) {
		return fmt.Errorf("failed to check namespace: %w", err)
	}
	if _, err := w.store.CreateNamespace(ctx, w.namespaceID); err != nil {
		return fmt.Errorf("failed to create namespace: %w", err)
	}
	slog.Info("created namespace", "namespace", w.namespaceID)
	return nil
}

// fetchSpans paginates until limit spans, an empty page, or the cursor runs
// out.
func (w *Worker) fetchSpans(ctx context.Context, limit int) ([]span, error) {
	var spans []span
	cursor := ""

	for {
		pageSize := limit - len(spans)
		if pageSize > spanPageSize {
			pageSize = spanPageSize
		}
		u := fmt.Sprintf("%s/v1/projects/%s/spans?limit=%d",
			w.baseURL, url.PathEscape(w.project), pageSize)
		if cursor != "" {
			u += "&cursor=" + url.QueryEscape(cursor)
		}

		var page spanPage
		if err := w.http.GetJSON(ctx, u, nil, &page); err != nil {
			return nil, fmt.Errorf("failed to fetch spans: %w", err)
		}

		// An empty page ends the walk even with a cursor; a source that
		// keeps handing back the same cursor would otherwise spin forever.
		if len(page.Data) == 0 {
			return spans, nil
		}
		spans = append(spans, page.Data...)
		cursor = page.NextCursor
		if cursor == "" || len(spans) >= limit {
			return spans, nil
		}
	}
}

// processedSpanIDs loads span ids already persisted as trajectory entities.
// A missing namespace yields an empty set.
func (w *Worker) processedSpanIDs(ctx context.Context) (map[string]struct{}, error) {
	entities, err := w.store.SearchEntities(ctx, w.namespaceID, "",
		map[string]any{"type": schema.EntityTypeTrajectory}, processedScanLimit)
	if err != nil {
		var notFound *schema.NamespaceNotFoundError
		if errors.As(err, &notFound) {
			return map[string]struct{}{}, nil
		}
		return nil, fmt.Errorf("failed to load processed spans: %w", err)
	}

	ids := make(map[string]struct{}, len(entities))
	for _, e := range entities {
		if id, _ := e.Metadata["span_id"].(string); id != "" {
			ids[id] = struct{}{}
		}
	}
	return ids, nil
}

// processSpan persists the trajectory entity and the guidelines generated
// from it. Returns the number of tips produced.
func (w *Worker) processSpan(ctx context.Context, s span, messages []trajectory.Message) (int, error) {
	entity := &schema.Entity{
		Type:    schema.EntityTypeTrajectory,
		Content: messages,
		Metadata: map[string]any{
			"trace_id":      s.Context.TraceID,
			"span_id":       s.Context.SpanID,
			"model":         spanModel(s.Attributes),
			"timestamp":     s.StartTime,
			"message_count": len(messages),
			"usage":         spanUsage(s.Attributes),
		},
	}
	if _, err := w.store.UpdateEntities(ctx, w.namespaceID, []*schema.Entity{entity}, false); err != nil {
		return 0, fmt.Errorf("failed to persist trajectory: %w", err)
	}

	generated, err := w.generator.Generate(ctx, messages)
	if err != nil {
		return 0, fmt.Errorf("failed to generate tips: %w", err)
	}
	if len(generated.Tips) == 0 {
		return 0, nil
	}

	tipEntities := make([]*schema.Entity, 0, len(generated.Tips))
	for _, tip := range generated.Tips {
		tipEntities = append(tipEntities, &schema.Entity{
			Type:    schema.EntityTypeGuideline,
			Content: tip.Content,
			Metadata: map[string]any{
				"category":                     string(tip.Category),
				"rationale":                    tip.Rationale,
				"trigger":                      tip.Trigger,
				"source_trace_id":              s.Context.TraceID,
				"source_span_id":               s.Context.SpanID,
				schema.MetadataTaskDescription: generated.TaskDescription,
			},
		})
	}
	if _, err := w.store.UpdateEntities(ctx, w.namespaceID, tipEntities, true); err != nil {
		return 0, fmt.Errorf("failed to persist guidelines: %w", err)
	}
	return len(generated.Tips), nil
}

func hasPromptAttributes(attrs map[string]any) bool {
	for key := range attrs {
		if strings.HasPrefix(key, "gen_ai.prompt.") {
			return true
		}
	}
	return false
}

// extractMessages rebuilds the conversation from indexed prompt and
// completion attributes, prompts first, both in index order.
func extractMessages(attrs map[string]any) []trajectory.Message {
	var messages []trajectory.Message
	for _, section := range []string{"gen_ai.prompt.", "gen_ai.completion."} {
		for _, i := range attributeIndices(attrs, section) {
			role, _ := attrs[fmt.Sprintf("%s%d.role", section, i)].(string)
			content, ok := attrs[fmt.Sprintf("%s%d.content", section, i)]
			if role == "" || !ok || content == nil {
				continue
			}
			messages = append(messages, trajectory.Flatten(role, parseContent(content))...)
		}
	}
	return messages
}

// attributeIndices lists the numeric indices present under a flat attribute
// prefix, sorted ascending.
func attributeIndices(attrs map[string]any, prefix string) []int {
	seen := make(map[int]struct{})
	for key := range attrs {
		if !strings.HasPrefix(key, prefix) || !strings.HasSuffix(key, ".role") {
			continue
		}
		middle := strings.TrimSuffix(strings.TrimPrefix(key, prefix), ".role")
		idx, err := strconv.Atoi(middle)
		if err != nil {
			continue
		}
		seen[idx] = struct{}{}
	}

	indices := make([]int, 0, len(seen))
	for idx := range seen {
		indices = append(indices, idx)
	}
	sort.Ints(indices)
	return indices
}

// parseContent decodes string content that carries serialized block lists.
// Content that is not valid JSON stays a plain string.
func parseContent(content any) any {
	s, ok := content.(string)
	if !ok {
		return content
	}
	var parsed any
	if err := json.Unmarshal([]byte(s), &parsed); err != nil {
		return s
	}
	switch parsed.(type) {
	case []any, map[string]any:
		return parsed
	}
	return s
}

// cleanMessages strips system-reminder regions and drops messages that end
// up with no content and no tool calls.
func cleanMessages(messages []trajectory.Message) []trajectory.Message {
	cleaned := make([]trajectory.Message, 0, len(messages))
	for _, msg := range messages {
		if s, ok := msg.Content.(string); ok {
			s = trajectory.StripSystemReminders(s)
			if s == "" && len(msg.ToolCalls) == 0 {
				continue
			}
			msg.Content = s
		} else if msg.Content == nil && len(msg.ToolCalls) == 0 {
			continue
		}
		cleaned = append(cleaned, msg)
	}
	return cleaned
}

func spanModel(attrs map[string]any) string {
	if model, _ := attrs["gen_ai.request.model"].(string); model != "" {
		return model
	}
	return "unknown"
}

func spanUsage(attrs map[string]any) map[string]any {
	return map[string]any{
		"prompt_tokens":     attrs["gen_ai.usage.prompt_tokens"],
		"completion_tokens": attrs["gen_ai.usage.completion_tokens"],
		"total_tokens":      attrs["llm.usage.total_tokens"],
	}
}
