package backend

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/kaizen-ai/kaizen/pkg/conflict"
	"github.com/kaizen-ai/kaizen/pkg/config"
	"github.com/kaizen-ai/kaizen/pkg/schema"
)

// FilesystemBackend stores one JSON document per namespace and searches by
// case-insensitive substring match. No embeddings are involved.
//
// A single process-wide mutex guards all mutations; reads hold it only long
// enough to snapshot the document. Deliberately simple, not scalable.
type FilesystemBackend struct {
	dataDir  string
	resolver conflict.Resolver
	mu       sync.Mutex
}

type namespaceDocument struct {
	ID          string         `json:"id"`
	CreatedAt   time.Time      `json:"created_at"`
	NextID      int64          `json:"next_id"`
	NumEntities int            `json:"num_entities"`
	Entities    []storedEntity `json:"entities"`
}

type storedEntity struct {
	ID        string         `json:"id"`
	Type      string         `json:"type"`
	Content   any            `json:"content"`
	CreatedAt time.Time      `json:"created_at"`
	Metadata  map[string]any `json:"metadata"`
}

// NewFilesystemBackend creates the data directory if needed. The resolver
// may be nil when conflict resolution is never requested.
func NewFilesystemBackend(cfg *config.FilesystemConfig, resolver conflict.Resolver) (*FilesystemBackend, error) {
	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create data directory %s: %w", cfg.DataDir, err)
	}
	return &FilesystemBackend{dataDir: cfg.DataDir, resolver: resolver}, nil
}

func (b *FilesystemBackend) namespaceFile(namespaceID string) string {
	return filepath.Join(b.dataDir, namespaceID+".json")
}

func (b *FilesystemBackend) load(namespaceID string) (*namespaceDocument, error) {
	data, err := os.ReadFile(b.namespaceFile(namespaceID))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, &schema.NamespaceNotFoundError{NamespaceID: namespaceID}
		}
		return nil, schema.NewStoreError("failed to read namespace %s: %v", namespaceID, err)
	}
	var doc namespaceDocument
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, schema.NewStoreError("corrupt namespace file %s: %v", namespaceID, err)
	}
	return &doc, nil
}

func (b *FilesystemBackend) save(doc *namespaceDocument) error {
	doc.NumEntities = len(doc.Entities)
	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return schema.NewStoreError("failed to encode namespace %s: %v", doc.ID, err)
	}
	if err := os.WriteFile(b.namespaceFile(doc.ID), data, 0o644); err != nil {
		return schema.NewStoreError("failed to write namespace %s: %v", doc.ID, err)
	}
	return nil
}

func (b *FilesystemBackend) Ready(ctx context.Context) (map[string]any, error) {
	return map[string]any{"status": "ok", "data_dir": b.dataDir}, nil
}

func (b *FilesystemBackend) CreateNamespace(ctx context.Context, namespaceID string) (*schema.Namespace, error) {
	if namespaceID == "" {
		namespaceID = "ns_" + strings.ReplaceAll(uuid.NewString(), "-", "_")
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if _, err := os.Stat(b.namespaceFile(namespaceID)); err == nil {
		return nil, &schema.NamespaceAlreadyExistsError{NamespaceID: namespaceID}
	}

	now := time.Now().UTC()
	doc := &namespaceDocument{ID: namespaceID, CreatedAt: now, NextID: 1, Entities: []storedEntity{}}
	if err := b.save(doc); err != nil {
		return nil, err
	}

	count := 0
	return &schema.Namespace{ID: namespaceID, CreatedAt: now, NumEntities: &count}, nil
}

func (b *FilesystemBackend) GetNamespace(ctx context.Context, namespaceID string) (*schema.Namespace, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	doc, err := b.load(namespaceID)
	if err != nil {
		return nil, err
	}
	count := len(doc.Entities)
	return &schema.Namespace{ID: doc.ID, CreatedAt: doc.CreatedAt, NumEntities: &count}, nil
}

func (b *FilesystemBackend) ListNamespaces(ctx context.Context, limit int) ([]*schema.Namespace, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	matches, err := filepath.Glob(filepath.Join(b.dataDir, "*.json"))
	if err != nil {
		return nil, schema.NewStoreError("failed to scan data directory: %v", err)
	}

	namespaces := make([]*schema.Namespace, 0, len(matches))
	for _, path := range matches {
		data, err := os.ReadFile(path)
		if err != nil {
			continue
		}
		var doc namespaceDocument
		if err := json.Unmarshal(data, &doc); err != nil || doc.ID == "" {
			// Unrelated JSON files in the data dir are skipped.
			continue
		}
		count := len(doc.Entities)
		namespaces = append(namespaces, &schema.Namespace{ID: doc.ID, CreatedAt: doc.CreatedAt, NumEntities: &count})
		if len(namespaces) >= limit {
			break
		}
	}
	return namespaces, nil
}

// DeleteNamespace removes the namespace file. A missing namespace is a
// silent success, matching the cleanup use pattern.
func (b *FilesystemBackend) DeleteNamespace(ctx context.Context, namespaceID string) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	err := os.Remove(b.namespaceFile(namespaceID))
	if err != nil && !os.IsNotExist(err) {
		return schema.NewStoreError("failed to delete namespace %s: %v", namespaceID, err)
	}
	return nil
}

func (b *FilesystemBackend) UpdateEntities(ctx context.Context, namespaceID string, entities []*schema.Entity, resolve bool) ([]*schema.EntityUpdate, error) {
	if len(entities) == 0 {
		return []*schema.EntityUpdate{}, nil
	}

	now := time.Now().UTC()
	entityType, proposed, err := prepareBatch(entities, now)
	if err != nil {
		return nil, err
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	doc, err := b.load(namespaceID)
	if err != nil {
		return nil, err
	}

	var updates []*schema.EntityUpdate
	if resolve {
		if b.resolver == nil {
			return nil, schema.NewStoreError("conflict resolution requested but no resolver configured")
		}

		var old []*schema.RecordedEntity
		for _, e := range entities {
			similar := searchDocument(doc, schema.SerializeContent(e.Content), nil, conflictCandidateLimit)
			old = append(old, similar...)
		}

		updates, err = b.resolver.Resolve(ctx, old, proposed)
		if err != nil {
			return nil, err
		}

		for _, update := range updates {
			switch update.Event {
			case schema.EventAdd:
				id := strconv.FormatInt(doc.NextID, 10)
				doc.NextID++
				doc.Entities = append(doc.Entities, storedEntity{
					ID:        id,
					Type:      entityType,
					Content:   update.Content,
					CreatedAt: now,
					Metadata:  update.Metadata,
				})
				update.ID = id
			case schema.EventUpdate:
				for i := range doc.Entities {
					if doc.Entities[i].ID == update.ID {
						// Metadata is preserved; the resolver never
						// sees it and must not replace it.
						doc.Entities[i].Content = update.Content
						doc.Entities[i].CreatedAt = now
						break
					}
				}
			case schema.EventDelete:
				doc.Entities = removeEntity(doc.Entities, update.ID)
			case schema.EventNone:
			}
		}
	} else {
		updates = make([]*schema.EntityUpdate, 0, len(proposed))
		for _, e := range proposed {
			id := strconv.FormatInt(doc.NextID, 10)
			doc.NextID++
			doc.Entities = append(doc.Entities, storedEntity{
				ID:        id,
				Type:      entityType,
				Content:   e.Content,
				CreatedAt: now,
				Metadata:  e.Metadata,
			})
			updates = append(updates, &schema.EntityUpdate{
				ID:       id,
				Type:     entityType,
				Content:  e.Content,
				Event:    schema.EventAdd,
				Metadata: e.Metadata,
			})
		}
	}

	if err := b.save(doc); err != nil {
		return nil, err
	}
	return updates, nil
}

func (b *FilesystemBackend) SearchEntities(ctx context.Context, namespaceID, query string, filters map[string]any, limit int) ([]*schema.RecordedEntity, error) {
	if limit <= 0 {
		limit = DefaultSearchLimit
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	doc, err := b.load(namespaceID)
	if err != nil {
		return nil, err
	}
	return searchDocument(doc, query, filters, limit), nil
}

// searchDocument applies equality filters, then an optional case-insensitive
// substring match on the serialized content. Top-level fields are checked
// before metadata keys of the same name; a top-level match shadows metadata.
func searchDocument(doc *namespaceDocument, query string, filters map[string]any, limit int) []*schema.RecordedEntity {
	entities := doc.Entities

	if len(filters) > 0 {
		filtered := entities[:0:0]
		for _, e := range entities {
			if matchesFilters(&e, filters) {
				filtered = append(filtered, e)
			}
		}
		entities = filtered
	}

	var results []*schema.RecordedEntity
	queryLower := strings.ToLower(query)
	for _, e := range entities {
		if query != "" && !strings.Contains(strings.ToLower(schema.SerializeContent(e.Content)), queryLower) {
			continue
		}
		results = append(results, recordedFromStored(e))
		if len(results) >= limit {
			break
		}
	}
	return results
}

func matchesFilters(e *storedEntity, filters map[string]any) bool {
	for key, want := range filters {
		var got any
		switch key {
		case "id":
			got = e.ID
		case "type":
			got = e.Type
		case "content":
			got = e.Content
		default:
			if e.Metadata != nil {
				got = e.Metadata[key]
			}
		}
		if fmt.Sprint(got) != fmt.Sprint(want) {
			return false
		}
	}
	return true
}

func recordedFromStored(e storedEntity) *schema.RecordedEntity {
	metadata := e.Metadata
	if metadata == nil {
		metadata = map[string]any{}
	}
	return &schema.RecordedEntity{
		Entity: schema.Entity{
			Type:     e.Type,
			Content:  e.Content,
			Metadata: metadata,
		},
		ID:        e.ID,
		CreatedAt: e.CreatedAt,
	}
}

func removeEntity(entities []storedEntity, id string) []storedEntity {
	out := entities[:0]
	for _, e := range entities {
		if e.ID != id {
			out = append(out, e)
		}
	}
	return out
}

func (b *FilesystemBackend) DeleteEntity(ctx context.Context, namespaceID, entityID string) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	doc, err := b.load(namespaceID)
	if err != nil {
		return err
	}

	before := len(doc.Entities)
	doc.Entities = removeEntity(doc.Entities, entityID)
	if len(doc.Entities) == before {
		return schema.NewStoreError("entity %q not found", entityID)
	}
	return b.save(doc)
}

func (b *FilesystemBackend) Close() error { return nil }
