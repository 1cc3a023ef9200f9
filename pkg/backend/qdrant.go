package backend

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/qdrant/go-client/qdrant"

	"github.com/kaizen-ai/kaizen/pkg/conflict"
	"github.com/kaizen-ai/kaizen/pkg/config"
	"github.com/kaizen-ai/kaizen/pkg/embedders"
	"github.com/kaizen-ai/kaizen/pkg/schema"
)

// QdrantBackend indexes entities per namespace as qdrant collections and
// keeps namespace records in a sqlite side table. Entity counts always come
// live from the index.
//
// Point ids are 64-bit integers exposed as decimal strings. Concurrent
// writers may interleave; unlike the filesystem backend there is no
// cross-call ordering guarantee.
type QdrantBackend struct {
	client   *qdrant.Client
	names    *namespaceDB
	embedder embedders.Provider
	resolver conflict.Resolver
	idSeq    atomic.Uint64
}

// NewQdrantBackend connects to qdrant and opens the namespace table.
func NewQdrantBackend(cfg *config.QdrantConfig, embedder embedders.Provider, resolver conflict.Resolver) (*QdrantBackend, error) {
	client, err := qdrant.NewClient(&qdrant.Config{
		Host:   cfg.Host,
		Port:   cfg.Port,
		APIKey: cfg.APIKey,
		UseTLS: cfg.UseTLS,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create qdrant client: %w", err)
	}

	names, err := openNamespaceDB(cfg.SQLitePath)
	if err != nil {
		client.Close()
		return nil, err
	}

	b := &QdrantBackend{
		client:   client,
		names:    names,
		embedder: embedder,
		resolver: resolver,
	}
	b.idSeq.Store(uint64(time.Now().UnixNano()))
	return b, nil
}

// nextPointID hands out unique 64-bit ids. Seeded from the clock so
// restarts do not collide with previous runs.
func (b *QdrantBackend) nextPointID() uint64 {
	return b.idSeq.Add(1)
}

func (b *QdrantBackend) Ready(ctx context.Context) (map[string]any, error) {
	collections, err := b.client.ListCollections(ctx)
	if err != nil {
		return nil, schema.NewStoreError("qdrant unavailable: %v", err)
	}
	return map[string]any{"status": "ok", "collections": len(collections)}, nil
}

func (b *QdrantBackend) validateNamespace(ctx context.Context, namespaceID string) error {
	exists, err := b.client.CollectionExists(ctx, namespaceID)
	if err != nil {
		return schema.NewStoreError("failed to check namespace %s: %v", namespaceID, err)
	}
	if !exists {
		return &schema.NamespaceNotFoundError{NamespaceID: namespaceID}
	}
	return nil
}

func (b *QdrantBackend) CreateNamespace(ctx context.Context, namespaceID string) (*schema.Namespace, error) {
	if namespaceID == "" {
		namespaceID = "ns_" + strings.ReplaceAll(uuid.NewString(), "-", "_")
	}

	exists, err := b.client.CollectionExists(ctx, namespaceID)
	if err != nil {
		return nil, schema.NewStoreError("failed to check namespace %s: %v", namespaceID, err)
	}
	if !exists {
		err = b.client.CreateCollection(ctx, &qdrant.CreateCollection{
			CollectionName: namespaceID,
			VectorsConfig: qdrant.NewVectorsConfig(&qdrant.VectorParams{
				Size: uint64(b.embedder.Dimension()),
				// Vectors are unit-normalized, so dot product ranks
				// identically to cosine.
				Distance: qdrant.Distance_Dot,
			}),
		})
		if err != nil && !strings.Contains(err.Error(), "already exists") {
			return nil, schema.NewStoreError("failed to create collection %s: %v", namespaceID, err)
		}
	}

	// The sqlite record is authoritative for create collisions.
	ns, err := b.names.create(namespaceID)
	if err != nil {
		return nil, err
	}
	count := 0
	ns.NumEntities = &count
	return ns, nil
}

func (b *QdrantBackend) countEntities(ctx context.Context, namespaceID string) (int, error) {
	count, err := b.client.Count(ctx, &qdrant.CountPoints{
		CollectionName: namespaceID,
		Exact:          qdrant.PtrOf(true),
	})
	if err != nil {
		return 0, schema.NewStoreError("failed to count entities in %s: %v", namespaceID, err)
	}
	return int(count), nil
}

func (b *QdrantBackend) GetNamespace(ctx context.Context, namespaceID string) (*schema.Namespace, error) {
	if err := b.validateNamespace(ctx, namespaceID); err != nil {
		return nil, err
	}
	ns, err := b.names.get(namespaceID)
	if err != nil {
		return nil, err
	}
	count, err := b.countEntities(ctx, namespaceID)
	if err != nil {
		return nil, err
	}
	ns.NumEntities = &count
	return ns, nil
}

func (b *QdrantBackend) ListNamespaces(ctx context.Context, limit int) ([]*schema.Namespace, error) {
	namespaces, err := b.names.list(limit)
	if err != nil {
		return nil, err
	}
	for _, ns := range namespaces {
		// Counts are best effort; a namespace whose collection is gone
		// still lists, just without a count.
		if count, err := b.countEntities(ctx, ns.ID); err == nil {
			c := count
			ns.NumEntities = &c
		}
	}
	return namespaces, nil
}

// DeleteNamespace drops the collection, then the side record. The two steps
// are sequential; a failure between them leaves an orphan record that the
// next delete clears. Missing namespaces raise NamespaceNotFoundError
// (unlike the filesystem backend); adapters treat both as success.
func (b *QdrantBackend) DeleteNamespace(ctx context.Context, namespaceID string) error {
	if err := b.validateNamespace(ctx, namespaceID); err != nil {
		return err
	}
	if err := b.client.DeleteCollection(ctx, namespaceID); err != nil {
		return schema.NewStoreError("failed to drop collection %s: %v", namespaceID, err)
	}
	return b.names.delete(namespaceID)
}

func (b *QdrantBackend) upsertPoint(ctx context.Context, namespaceID string, id uint64, entityType, content string, createdAt time.Time, metadata map[string]any) error {
	vector, err := b.embedder.Embed(ctx, content)
	if err != nil {
		return schema.NewStoreError("failed to embed content: %v", err)
	}

	payload, err := buildPayload(entityType, content, createdAt, metadata)
	if err != nil {
		return err
	}

	_, err = b.client.Upsert(ctx, &qdrant.UpsertPoints{
		CollectionName: namespaceID,
		Points: []*qdrant.PointStruct{{
			Id:      qdrant.NewIDNum(id),
			Vectors: qdrant.NewVectors(vector...),
			Payload: payload,
		}},
	})
	if err != nil {
		return schema.NewStoreError("failed to upsert entity: %v", err)
	}
	return nil
}

func buildPayload(entityType, content string, createdAt time.Time, metadata map[string]any) (map[string]*qdrant.Value, error) {
	if metadata == nil {
		metadata = map[string]any{}
	}
	// Round-trip through JSON so payload values are plain types qdrant
	// understands.
	raw, err := json.Marshal(metadata)
	if err != nil {
		return nil, schema.NewStoreError("failed to encode metadata: %v", err)
	}
	var plain map[string]any
	if err := json.Unmarshal(raw, &plain); err != nil {
		return nil, schema.NewStoreError("failed to normalize metadata: %v", err)
	}

	fields := map[string]any{
		"type":       entityType,
		"content":    content,
		"created_at": createdAt.Unix(),
		"metadata":   plain,
	}
	payload := make(map[string]*qdrant.Value, len(fields))
	for key, value := range fields {
		val, err := qdrant.NewValue(value)
		if err != nil {
			return nil, schema.NewStoreError("failed to convert payload field %s: %v", key, err)
		}
		payload[key] = val
	}
	return payload, nil
}

func (b *QdrantBackend) UpdateEntities(ctx context.Context, namespaceID string, entities []*schema.Entity, resolve bool) ([]*schema.EntityUpdate, error) {
	if len(entities) == 0 {
		return []*schema.EntityUpdate{}, nil
	}
	if err := b.validateNamespace(ctx, namespaceID); err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	entityType, proposed, err := prepareBatch(entities, now)
	if err != nil {
		return nil, err
	}

	if !resolve {
		updates := make([]*schema.EntityUpdate, 0, len(proposed))
		for _, e := range proposed {
			id := b.nextPointID()
			if err := b.upsertPoint(ctx, namespaceID, id, entityType, schema.SerializeContent(e.Content), now, e.Metadata); err != nil {
				return nil, err
			}
			updates = append(updates, &schema.EntityUpdate{
				ID:       strconv.FormatUint(id, 10),
				Type:     entityType,
				Content:  e.Content,
				Event:    schema.EventAdd,
				Metadata: e.Metadata,
			})
		}
		return updates, nil
	}

	if b.resolver == nil {
		return nil, schema.NewStoreError("conflict resolution requested but no resolver configured")
	}

	var old []*schema.RecordedEntity
	for _, e := range entities {
		similar, err := b.SearchEntities(ctx, namespaceID, schema.SerializeContent(e.Content), nil, conflictCandidateLimit)
		if err != nil {
			return nil, err
		}
		old = append(old, similar...)
	}

	updates, err := b.resolver.Resolve(ctx, old, proposed)
	if err != nil {
		return nil, err
	}

	for _, update := range updates {
		contentStr := schema.SerializeContent(update.Content)
		switch update.Event {
		case schema.EventAdd:
			id := b.nextPointID()
			if err := b.upsertPoint(ctx, namespaceID, id, entityType, contentStr, now, update.Metadata); err != nil {
				return nil, err
			}
			update.ID = strconv.FormatUint(id, 10)
		case schema.EventUpdate:
			id, err := strconv.ParseUint(update.ID, 10, 64)
			if err != nil {
				return nil, schema.NewStoreError("invalid entity ID: %s, entity IDs must be numeric", update.ID)
			}
			// Qdrant upserts replace the whole point, so the existing
			// metadata is read back first; the resolver never sees
			// metadata and must not clobber it.
			existing, err := b.getPoint(ctx, namespaceID, id)
			if err != nil {
				return nil, err
			}
			if err := b.upsertPoint(ctx, namespaceID, id, entityType, contentStr, now, existing.Metadata); err != nil {
				return nil, err
			}
		case schema.EventDelete:
			if err := b.DeleteEntity(ctx, namespaceID, update.ID); err != nil {
				return nil, err
			}
		case schema.EventNone:
		}
	}
	return updates, nil
}

func (b *QdrantBackend) getPoint(ctx context.Context, namespaceID string, id uint64) (*schema.RecordedEntity, error) {
	points, err := b.client.Get(ctx, &qdrant.GetPoints{
		CollectionName: namespaceID,
		Ids:            []*qdrant.PointId{qdrant.NewIDNum(id)},
		WithPayload:    qdrant.NewWithPayload(true),
	})
	if err != nil {
		return nil, schema.NewStoreError("failed to fetch entity %d: %v", id, err)
	}
	if len(points) == 0 {
		return nil, schema.NewStoreError("entity with ID %d not found in namespace %s", id, namespaceID)
	}
	return recordedFromPayload(pointIDString(points[0].Id), points[0].Payload), nil
}

func (b *QdrantBackend) SearchEntities(ctx context.Context, namespaceID, query string, filters map[string]any, limit int) ([]*schema.RecordedEntity, error) {
	if limit <= 0 {
		limit = DefaultSearchLimit
	}
	if err := b.validateNamespace(ctx, namespaceID); err != nil {
		return nil, err
	}

	filter := buildFilter(filters)

	if query == "" {
		points, err := b.client.Scroll(ctx, &qdrant.ScrollPoints{
			CollectionName: namespaceID,
			Filter:         filter,
			Limit:          qdrant.PtrOf(uint32(limit)),
			WithPayload:    qdrant.NewWithPayload(true),
		})
		if err != nil {
			return nil, schema.NewStoreError("failed to scroll entities: %v", err)
		}
		results := make([]*schema.RecordedEntity, 0, len(points))
		for _, p := range points {
			results = append(results, recordedFromPayload(pointIDString(p.Id), p.Payload))
		}
		return results, nil
	}

	vector, err := b.embedder.Embed(ctx, query)
	if err != nil {
		return nil, schema.NewStoreError("failed to embed query: %v", err)
	}

	points, err := b.client.Query(ctx, &qdrant.QueryPoints{
		CollectionName: namespaceID,
		Query:          qdrant.NewQuery(vector...),
		Filter:         filter,
		Limit:          qdrant.PtrOf(uint64(limit)),
		WithPayload:    qdrant.NewWithPayload(true),
	})
	if err != nil {
		return nil, schema.NewStoreError("failed to search entities: %v", err)
	}

	results := make([]*schema.RecordedEntity, 0, len(points))
	for _, p := range points {
		results = append(results, recordedFromPayload(pointIDString(p.Id), p.Payload))
	}
	return results, nil
}

func (b *QdrantBackend) DeleteEntity(ctx context.Context, namespaceID, entityID string) error {
	id, err := strconv.ParseUint(entityID, 10, 64)
	if err != nil {
		return schema.NewStoreError("invalid entity ID: %s, entity IDs must be numeric", entityID)
	}
	if err := b.validateNamespace(ctx, namespaceID); err != nil {
		return err
	}

	// Existence check first so a missing id is an error, not a no-op.
	if _, err := b.getPoint(ctx, namespaceID, id); err != nil {
		return err
	}

	_, err = b.client.Delete(ctx, &qdrant.DeletePoints{
		CollectionName: namespaceID,
		Points: &qdrant.PointsSelector{
			PointsSelectorOneOf: &qdrant.PointsSelector_Points{
				Points: &qdrant.PointsIdsList{
					Ids: []*qdrant.PointId{qdrant.NewIDNum(id)},
				},
			},
		},
	})
	if err != nil {
		return schema.NewStoreError("failed to delete entity %s: %v", entityID, err)
	}
	return nil
}

func (b *QdrantBackend) Close() error {
	if err := b.names.close(); err != nil {
		return err
	}
	return b.client.Close()
}

// buildFilter turns equality filters into qdrant must-conditions. Top-level
// payload fields are addressed directly; any other key targets the metadata
// object. Nil when no filters: qdrant treats an absent filter as match-all.
func buildFilter(filters map[string]any) *qdrant.Filter {
	if len(filters) == 0 {
		return nil
	}

	conditions := make([]*qdrant.Condition, 0, len(filters))
	for key, value := range filters {
		path := key
		switch key {
		case "type", "content", "created_at":
		default:
			path = "metadata." + key
		}

		var match *qdrant.Match
		switch v := value.(type) {
		case string:
			match = &qdrant.Match{MatchValue: &qdrant.Match_Keyword{Keyword: v}}
		case bool:
			match = &qdrant.Match{MatchValue: &qdrant.Match_Boolean{Boolean: v}}
		case int:
			match = &qdrant.Match{MatchValue: &qdrant.Match_Integer{Integer: int64(v)}}
		case int64:
			match = &qdrant.Match{MatchValue: &qdrant.Match_Integer{Integer: v}}
		case float64:
			if v == float64(int64(v)) {
				match = &qdrant.Match{MatchValue: &qdrant.Match_Integer{Integer: int64(v)}}
			} else {
				match = &qdrant.Match{MatchValue: &qdrant.Match_Keyword{Keyword: fmt.Sprint(v)}}
			}
		default:
			match = &qdrant.Match{MatchValue: &qdrant.Match_Keyword{Keyword: fmt.Sprint(v)}}
		}

		conditions = append(conditions, &qdrant.Condition{
			ConditionOneOf: &qdrant.Condition_Field{
				Field: &qdrant.FieldCondition{Key: path, Match: match},
			},
		})
	}
	return &qdrant.Filter{Must: conditions}
}

func pointIDString(id *qdrant.PointId) string {
	if id == nil {
		return ""
	}
	switch v := id.PointIdOptions.(type) {
	case *qdrant.PointId_Num:
		return strconv.FormatUint(v.Num, 10)
	case *qdrant.PointId_Uuid:
		return v.Uuid
	}
	return ""
}

func recordedFromPayload(id string, payload map[string]*qdrant.Value) *schema.RecordedEntity {
	entity := &schema.RecordedEntity{ID: id}
	entity.Metadata = map[string]any{}

	for key, value := range payload {
		switch key {
		case "type":
			entity.Type = value.GetStringValue()
		case "content":
			entity.Content = schema.DeserializeContent(value.GetStringValue())
		case "created_at":
			entity.CreatedAt = time.Unix(value.GetIntegerValue(), 0).UTC()
		case "metadata":
			if m, ok := valueToAny(value).(map[string]any); ok {
				entity.Metadata = m
			}
		}
	}
	return entity
}

// valueToAny converts a qdrant payload value to plain Go types.
func valueToAny(value *qdrant.Value) any {
	if value == nil {
		return nil
	}
	switch v := value.Kind.(type) {
	case *qdrant.Value_StringValue:
		return v.StringValue
	case *qdrant.Value_IntegerValue:
		return v.IntegerValue
	case *qdrant.Value_DoubleValue:
		return v.DoubleValue
	case *qdrant.Value_BoolValue:
		return v.BoolValue
	case *qdrant.Value_StructValue:
		out := make(map[string]any, len(v.StructValue.Fields))
		for k, f := range v.StructValue.Fields {
			out[k] = valueToAny(f)
		}
		return out
	case *qdrant.Value_ListValue:
		out := make([]any, 0, len(v.ListValue.Values))
		for _, item := range v.ListValue.Values {
			out = append(out, valueToAny(item))
		}
		return out
	default:
		return nil
	}
}
