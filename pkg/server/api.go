package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sort"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/kaizen-ai/kaizen/pkg/schema"
)

// apiRouter is the REST surface backing the dashboard UI and scripting.
//
// Status mapping: 400 validation and store failures, 404 missing namespace,
// 409 namespace collision, 422 typed-metadata validation for guideline and
// policy entities.
func (s *Server) apiRouter() http.Handler {
	r := chi.NewRouter()

	r.Get("/dashboard", s.handleDashboard)
	r.Get("/namespaces", s.handleListNamespaces)
	r.Post("/namespaces", s.handleCreateNamespace)

	r.Route("/namespaces/{namespace}", func(r chi.Router) {
		r.Get("/", s.handleGetNamespace)
		r.Delete("/", s.handleDeleteNamespace)
		r.Get("/entities", s.handleListEntities)
		r.Post("/entities", s.handleCreateEntity)
		r.Delete("/entities/{entity}", s.handleDeleteEntity)
		r.Post("/search", s.handleSearchEntities)
	})

	r.Post("/sync", s.handleSync)
	r.Post("/consolidate", s.handleConsolidate)
	return r
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("failed to encode response", "error", err)
	}
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]any{"success": false, "error": message})
}

// writeStoreError maps typed store errors onto HTTP statuses.
func writeStoreError(w http.ResponseWriter, err error) {
	var notFound *schema.NamespaceNotFoundError
	var alreadyExists *schema.NamespaceAlreadyExistsError
	switch {
	case errors.As(err, &notFound):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.As(err, &alreadyExists):
		writeError(w, http.StatusConflict, err.Error())
	default:
		writeError(w, http.StatusBadRequest, err.Error())
	}
}

func queryInt(r *http.Request, name string, fallback int) int {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return fallback
	}
	v, err := strconv.Atoi(raw)
	if err != nil || v <= 0 {
		return fallback
	}
	return v
}

func (s *Server) handleDashboard(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	health := true
	if _, err := s.client.Ready(ctx); err != nil {
		slog.Error("health probe failed", "error", err)
		health = false
	}

	namespaces, err := s.client.ListNamespaces(ctx, 1000)
	if err != nil {
		slog.Error("failed to list namespaces", "error", err)
		namespaces = nil
	}

	totalEntities := 0
	typeBreakdown := map[string]int{}
	type recentEntity struct {
		ID        string `json:"id"`
		Type      string `json:"type"`
		Content   string `json:"content"`
		Namespace string `json:"namespace"`
		CreatedAt string `json:"created_at"`
	}
	var recent []recentEntity

	for _, ns := range namespaces {
		if ns.NumEntities != nil {
			totalEntities += *ns.NumEntities
		}
		entities, err := s.client.SearchEntities(ctx, ns.ID, "", nil, 10)
		if err != nil {
			slog.Error("failed to sample namespace entities", "namespace", ns.ID, "error", err)
			continue
		}
		for _, e := range entities {
			typeBreakdown[e.Type]++
			snippet := schema.SerializeContent(e.Content)
			if len(snippet) > 100 {
				snippet = snippet[:100] + "..."
			}
			recent = append(recent, recentEntity{
				ID:        e.ID,
				Type:      e.Type,
				Content:   snippet,
				Namespace: ns.ID,
				CreatedAt: e.CreatedAt.Format("2006-01-02T15:04:05Z07:00"),
			})
		}
	}

	sort.Slice(recent, func(i, j int) bool { return recent[i].CreatedAt > recent[j].CreatedAt })
	if len(recent) > 10 {
		recent = recent[:10]
	}

	breakdown := make([]map[string]any, 0, len(typeBreakdown))
	for entityType, count := range typeBreakdown {
		breakdown = append(breakdown, map[string]any{"type": entityType, "count": count})
	}
	sort.Slice(breakdown, func(i, j int) bool {
		return breakdown[i]["type"].(string) < breakdown[j]["type"].(string)
	})

	writeJSON(w, http.StatusOK, map[string]any{
		"health":          health,
		"namespace_count": len(namespaces),
		"total_entities":  totalEntities,
		"type_breakdown":  breakdown,
		"recent_entities": recent,
	})
}

func (s *Server) handleListNamespaces(w http.ResponseWriter, r *http.Request) {
	namespaces, err := s.client.ListNamespaces(r.Context(), queryInt(r, "limit", 1000))
	if err != nil {
		writeStoreError(w, err)
		return
	}
	if namespaces == nil {
		namespaces = []*schema.Namespace{}
	}
	writeJSON(w, http.StatusOK, namespaces)
}

func (s *Server) handleCreateNamespace(w http.ResponseWriter, r *http.Request) {
	var req struct {
		NamespaceID string `json:"namespace_id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	ns, err := s.client.CreateNamespace(r.Context(), req.NamespaceID)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "namespace_id": ns.ID})
}

func (s *Server) handleGetNamespace(w http.ResponseWriter, r *http.Request) {
	ns, err := s.client.GetNamespace(r.Context(), chi.URLParam(r, "namespace"))
	if err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, ns)
}

func (s *Server) handleDeleteNamespace(w http.ResponseWriter, r *http.Request) {
	if err := s.client.DeleteNamespace(r.Context(), chi.URLParam(r, "namespace")); err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true})
}

func (s *Server) handleListEntities(w http.ResponseWriter, r *http.Request) {
	filters := map[string]any{}
	if entityType := r.URL.Query().Get("type"); entityType != "" {
		filters["type"] = entityType
	}

	entities, err := s.client.SearchEntities(r.Context(), chi.URLParam(r, "namespace"),
		"", filters, queryInt(r, "limit", 100))
	if err != nil {
		writeStoreError(w, err)
		return
	}
	if entities == nil {
		entities = []*schema.RecordedEntity{}
	}
	writeJSON(w, http.StatusOK, entities)
}

func (s *Server) handleCreateEntity(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Type     string         `json:"type"`
		Content  any            `json:"content"`
		Metadata map[string]any `json:"metadata"`
		Resolve  bool           `json:"resolve"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Type == "" || req.Content == nil {
		writeError(w, http.StatusBadRequest, "type and content are required")
		return
	}
	if err := validateTypedMetadata(req.Type, schema.SerializeContent(req.Content), req.Metadata); err != nil {
		writeError(w, http.StatusUnprocessableEntity, err.Error())
		return
	}

	entity := &schema.Entity{Type: req.Type, Content: req.Content, Metadata: req.Metadata}
	updates, err := s.client.UpdateEntities(r.Context(), chi.URLParam(r, "namespace"),
		[]*schema.Entity{entity}, req.Resolve)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	if len(updates) == 0 {
		writeError(w, http.StatusBadRequest, "entity creation returned no updates")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "updates": updates})
}

func (s *Server) handleDeleteEntity(w http.ResponseWriter, r *http.Request) {
	err := s.client.DeleteEntity(r.Context(), chi.URLParam(r, "namespace"), chi.URLParam(r, "entity"))
	if err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true})
}

func (s *Server) handleSearchEntities(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Query   string         `json:"query"`
		Filters map[string]any `json:"filters"`
		Limit   int            `json:"limit"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Limit <= 0 {
		req.Limit = 10
	}

	entities, err := s.client.SearchEntities(r.Context(), chi.URLParam(r, "namespace"),
		req.Query, req.Filters, req.Limit)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	if entities == nil {
		entities = []*schema.RecordedEntity{}
	}
	writeJSON(w, http.StatusOK, entities)
}

func (s *Server) handleSync(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Limit         int  `json:"limit"`
		IncludeErrors bool `json:"include_errors"`
	}
	if r.Body != nil {
		// Body is optional; defaults apply when absent or empty.
		_ = json.NewDecoder(r.Body).Decode(&req)
	}
	if req.Limit <= 0 {
		req.Limit = 100
	}

	result, err := s.worker.Sync(r.Context(), req.Limit, req.IncludeErrors)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (s *Server) handleConsolidate(w http.ResponseWriter, r *http.Request) {
	var req struct {
		NamespaceID string  `json:"namespace_id"`
		Threshold   float64 `json:"threshold"`
	}
	if r.Body != nil {
		_ = json.NewDecoder(r.Body).Decode(&req)
	}
	if req.NamespaceID == "" {
		req.NamespaceID = s.cfg.NamespaceID
	}

	result, err := s.client.ConsolidateTips(r.Context(), req.NamespaceID, req.Threshold)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// validateTypedMetadata enforces the structured schemas of guideline and
// policy entities before insertion. Other types carry free-form metadata.
func validateTypedMetadata(entityType, content string, metadata map[string]any) error {
	switch entityType {
	case schema.EntityTypeGuideline:
		category, _ := metadata["category"].(string)
		switch schema.TipCategory(category) {
		case schema.TipCategoryStrategy, schema.TipCategoryRecovery, schema.TipCategoryOptimization:
		default:
			return fmt.Errorf("invalid guideline metadata: category must be one of strategy, recovery, optimization")
		}
		if rationale, _ := metadata["rationale"].(string); rationale == "" {
			return fmt.Errorf("invalid guideline metadata: rationale is required")
		}
	case schema.EntityTypePolicy:
		raw, err := json.Marshal(metadata)
		if err != nil {
			return fmt.Errorf("invalid policy metadata: %v", err)
		}
		var policy schema.Policy
		if err := json.Unmarshal(raw, &policy); err != nil {
			return fmt.Errorf("invalid policy metadata: %v", err)
		}
		policy.Content = content
		if err := policy.Validate(); err != nil {
			return fmt.Errorf("invalid policy metadata: %v", err)
		}
	}
	return nil
}
