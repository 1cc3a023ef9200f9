// Package backend contains the entity store contract and its two
// implementations: a JSON-file-per-namespace store with substring search and
// a qdrant-backed semantic store with a sqlite side table for namespace
// records.
package backend

import (
	"context"
	"time"

	"github.com/kaizen-ai/kaizen/pkg/schema"
)

// DefaultSearchLimit caps searches that do not specify a limit.
const DefaultSearchLimit = 10

// conflictCandidateLimit bounds how many similar entities are fetched per
// proposed entity before conflict resolution.
const conflictCandidateLimit = 10

// Backend is the store contract consumed by the facade client and every
// adapter.
//
// DeleteNamespace on a missing id is a silent no-op for the filesystem
// backend and a NamespaceNotFoundError for the qdrant backend; adapters
// treat both outcomes as success.
type Backend interface {
	// Ready probes backend health and reports connection details.
	Ready(ctx context.Context) (map[string]any, error)

	// CreateNamespace creates a namespace. An empty id is auto-generated
	// with an "ns_" prefix and a uuid.
	CreateNamespace(ctx context.Context, namespaceID string) (*schema.Namespace, error)

	// GetNamespace returns the namespace with NumEntities populated.
	GetNamespace(ctx context.Context, namespaceID string) (*schema.Namespace, error)

	ListNamespaces(ctx context.Context, limit int) ([]*schema.Namespace, error)

	// DeleteNamespace removes a namespace and all its entities.
	DeleteNamespace(ctx context.Context, namespaceID string) error

	// UpdateEntities writes a non-empty batch of same-type entities. With
	// resolve=false the result is one ADD per input, in input order, each
	// carrying its newly assigned id. With resolve=true the result is the
	// conflict resolver's event list in emission order.
	UpdateEntities(ctx context.Context, namespaceID string, entities []*schema.Entity, resolve bool) ([]*schema.EntityUpdate, error)

	// SearchEntities returns up to limit entities, ordered by relevance
	// when query is non-empty and in insertion order otherwise. Filters
	// are equality conjuncts on top-level fields and metadata keys.
	SearchEntities(ctx context.Context, namespaceID, query string, filters map[string]any, limit int) ([]*schema.RecordedEntity, error)

	// DeleteEntity removes one entity by id.
	DeleteEntity(ctx context.Context, namespaceID, entityID string) error

	Close() error
}

// prepareBatch validates a write batch and wraps it in recorded entities
// carrying placeholder ids for the conflict resolver. Metadata defaults to
// an empty map so stored entities never carry null metadata.
func prepareBatch(entities []*schema.Entity, now time.Time) (string, []*schema.RecordedEntity, error) {
	entityType := entities[0].Type
	for _, e := range entities {
		if e.Type != entityType {
			return "", nil, schema.NewStoreError("all entities must have the same type")
		}
	}

	proposed := make([]*schema.RecordedEntity, 0, len(entities))
	for i, e := range entities {
		metadata := e.Metadata
		if metadata == nil {
			metadata = map[string]any{}
		}
		proposed = append(proposed, &schema.RecordedEntity{
			Entity: schema.Entity{
				Type:     e.Type,
				Content:  e.Content,
				Metadata: metadata,
			},
			ID:        schema.PlaceholderID(i),
			CreatedAt: now,
		})
	}
	return entityType, proposed, nil
}
