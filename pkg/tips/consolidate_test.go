package tips

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kaizen-ai/kaizen/pkg/config"
	"github.com/kaizen-ai/kaizen/pkg/schema"
)

// memoryStore is a minimal in-memory entity store for consolidation tests.
type memoryStore struct {
	entities []*schema.RecordedEntity
	nextID   int
	inserted [][]*schema.Entity
	deleted  []string
	failNext bool
}

func newMemoryStore(entities ...*schema.RecordedEntity) *memoryStore {
	return &memoryStore{entities: entities, nextID: 100}
}

func (m *memoryStore) SearchEntities(_ context.Context, _ string, _ string, filters map[string]any, limit int) ([]*schema.RecordedEntity, error) {
	var out []*schema.RecordedEntity
	for _, e := range m.entities {
		if want, ok := filters["type"]; ok && e.Type != want {
			continue
		}
		out = append(out, e)
		if len(out) >= limit {
			break
		}
	}
	return out, nil
}

func (m *memoryStore) UpdateEntities(_ context.Context, _ string, entities []*schema.Entity, _ bool) ([]*schema.EntityUpdate, error) {
	if m.failNext {
		m.failNext = false
		return nil, schema.NewStoreError("write failed")
	}
	m.inserted = append(m.inserted, entities)
	var updates []*schema.EntityUpdate
	for _, e := range entities {
		id := fmt.Sprint(m.nextID)
		m.nextID++
		m.entities = append(m.entities, &schema.RecordedEntity{Entity: *e, ID: id})
		updates = append(updates, &schema.EntityUpdate{ID: id, Type: e.Type, Content: e.Content, Event: schema.EventAdd})
	}
	return updates, nil
}

func (m *memoryStore) DeleteEntity(_ context.Context, _ string, entityID string) error {
	m.deleted = append(m.deleted, entityID)
	for i, e := range m.entities {
		if e.ID == entityID {
			m.entities = append(m.entities[:i], m.entities[i+1:]...)
			return nil
		}
	}
	return schema.NewStoreError("entity %q not found", entityID)
}

func clusterGuideline(id, content, taskDescription string) *schema.RecordedEntity {
	return &schema.RecordedEntity{
		Entity: schema.Entity{
			Type:    schema.EntityTypeGuideline,
			Content: content,
			Metadata: map[string]any{
				schema.MetadataTaskDescription: taskDescription,
				"category":                     "strategy",
				"rationale":                    "because",
				"trigger":                      "when relevant",
			},
		},
		ID: id,
	}
}

func TestConsolidate(t *testing.T) {
	cfg := &config.LLMConfig{TipsModel: "test-model"}
	ctx := context.Background()

	similar := &fakeEmbedder{vectors: map[string][]float32{
		"task a": {1, 0, 0},
		"task b": {1, 0, 0},
		"task c": {0, 1, 0},
	}}

	t.Run("merges_cluster_and_deletes_originals", func(t *testing.T) {
		store := newMemoryStore(
			clusterGuideline("1", "tip one", "task a"),
			clusterGuideline("2", "tip one, reworded", "task b"),
			clusterGuideline("3", "unrelated tip", "task c"),
		)
		gw := &fakeGateway{responses: []string{
			`{"tips": [{"content": "merged tip", "rationale": "combined", "category": "strategy", "trigger": "always"}]}`,
		}}

		result, err := NewConsolidator(store, similar, gw, cfg).Consolidate(ctx, "ns", 0.80)
		require.NoError(t, err)
		assert.Equal(t, 1, result.ClustersFound)
		assert.Equal(t, 2, result.TipsBefore)
		assert.Equal(t, 1, result.TipsAfter)

		// Insert happened before the deletes.
		require.Len(t, store.inserted, 1)
		require.Len(t, store.inserted[0], 1)
		merged := store.inserted[0][0]
		assert.Equal(t, "merged tip", merged.Content)
		assert.Equal(t, "task a", merged.Metadata[schema.MetadataTaskDescription])
		assert.ElementsMatch(t, []string{"1", "2"}, merged.Metadata["consolidated_from"])
		assert.ElementsMatch(t, []string{"1", "2"}, store.deleted)

		// Untouched singleton survives.
		remaining, err := store.SearchEntities(ctx, "ns", "", map[string]any{"type": schema.EntityTypeGuideline}, 100)
		require.NoError(t, err)
		ids := make([]string, 0, len(remaining))
		for _, e := range remaining {
			ids = append(ids, e.ID)
		}
		assert.Contains(t, ids, "3")
		assert.NotContains(t, ids, "1")
	})

	t.Run("empty_merge_keeps_originals", func(t *testing.T) {
		store := newMemoryStore(
			clusterGuideline("1", "tip one", "task a"),
			clusterGuideline("2", "tip two", "task b"),
		)
		gw := &fakeGateway{responses: []string{`{"tips": []}`}}

		result, err := NewConsolidator(store, similar, gw, cfg).Consolidate(ctx, "ns", 0.80)
		require.NoError(t, err)
		assert.Zero(t, result.ClustersFound)
		assert.Zero(t, result.TipsBefore)
		assert.Empty(t, store.inserted)
		assert.Empty(t, store.deleted)
	})

	t.Run("merge_failure_keeps_originals", func(t *testing.T) {
		store := newMemoryStore(
			clusterGuideline("1", "tip one", "task a"),
			clusterGuideline("2", "tip two", "task b"),
		)
		gw := &fakeGateway{responses: []string{"never json"}}

		result, err := NewConsolidator(store, similar, gw, cfg).Consolidate(ctx, "ns", 0.80)
		require.NoError(t, err)
		assert.Zero(t, result.ClustersFound)
		// Three attempts before giving up on the cluster.
		assert.Equal(t, 3, gw.calls)
		assert.Empty(t, store.deleted)
	})

	t.Run("insert_failure_keeps_originals", func(t *testing.T) {
		store := newMemoryStore(
			clusterGuideline("1", "tip one", "task a"),
			clusterGuideline("2", "tip two", "task b"),
		)
		store.failNext = true
		gw := &fakeGateway{responses: []string{
			`{"tips": [{"content": "merged", "rationale": "r", "category": "strategy", "trigger": "t"}]}`,
		}}

		result, err := NewConsolidator(store, similar, gw, cfg).Consolidate(ctx, "ns", 0.80)
		require.NoError(t, err)
		assert.Zero(t, result.ClustersFound)
		assert.Empty(t, store.deleted)
		assert.Len(t, store.entities, 2)
	})

	t.Run("no_clusters_is_a_noop", func(t *testing.T) {
		store := newMemoryStore(clusterGuideline("1", "tip one", "task a"))
		gw := &fakeGateway{responses: []string{`{"tips": []}`}}

		result, err := NewConsolidator(store, similar, gw, cfg).Consolidate(ctx, "ns", 0.80)
		require.NoError(t, err)
		assert.Zero(t, result.ClustersFound)
		assert.Zero(t, gw.calls)
	})
}

func TestCombineClusterRetries(t *testing.T) {
	cfg := &config.LLMConfig{TipsModel: "test-model"}
	gw := &fakeGateway{responses: []string{
		"not json",
		`{"tips": [{"content": "merged", "rationale": "r", "category": "recovery", "trigger": "t"}]}`,
	}}
	c := NewConsolidator(newMemoryStore(), nil, gw, cfg)

	tips, err := c.CombineCluster(context.Background(), []*schema.RecordedEntity{
		clusterGuideline("1", "a", "task a"),
		clusterGuideline("2", "b", "task a"),
	})
	require.NoError(t, err)
	assert.Equal(t, 2, gw.calls)
	require.Len(t, tips, 1)
	assert.Equal(t, schema.TipCategoryRecovery, tips[0].Category)
}

func TestDedupeTaskDescriptions(t *testing.T) {
	got := dedupeTaskDescriptions([]*schema.RecordedEntity{
		clusterGuideline("1", "a", "task a"),
		clusterGuideline("2", "b", "task b"),
		clusterGuideline("3", "c", "task a"),
	})
	assert.Equal(t, []string{"task a", "task b"}, got)
}
