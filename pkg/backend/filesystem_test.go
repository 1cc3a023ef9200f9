package backend

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kaizen-ai/kaizen/pkg/config"
	"github.com/kaizen-ai/kaizen/pkg/conflict"
	"github.com/kaizen-ai/kaizen/pkg/schema"
)

// scriptedResolver returns a fixed event list and records its inputs.
type scriptedResolver struct {
	updates  []*schema.EntityUpdate
	err      error
	old      []*schema.RecordedEntity
	proposed []*schema.RecordedEntity
}

func (r *scriptedResolver) Resolve(_ context.Context, old, proposed []*schema.RecordedEntity) ([]*schema.EntityUpdate, error) {
	r.old = old
	r.proposed = proposed
	return r.updates, r.err
}

func newTestBackend(t *testing.T, resolver conflict.Resolver) *FilesystemBackend {
	t.Helper()
	b, err := NewFilesystemBackend(&config.FilesystemConfig{DataDir: t.TempDir()}, resolver)
	require.NoError(t, err)
	return b
}

func TestNamespaceLifecycle(t *testing.T) {
	b := newTestBackend(t, nil)
	ctx := context.Background()

	ns, err := b.CreateNamespace(ctx, "agents")
	require.NoError(t, err)
	assert.Equal(t, "agents", ns.ID)
	require.NotNil(t, ns.NumEntities)
	assert.Zero(t, *ns.NumEntities)

	t.Run("duplicate_create_conflicts", func(t *testing.T) {
		_, err := b.CreateNamespace(ctx, "agents")
		var alreadyExists *schema.NamespaceAlreadyExistsError
		require.True(t, errors.As(err, &alreadyExists))
	})

	t.Run("auto_generated_id", func(t *testing.T) {
		ns, err := b.CreateNamespace(ctx, "")
		require.NoError(t, err)
		assert.Contains(t, ns.ID, "ns_")
	})

	t.Run("get_unknown_namespace", func(t *testing.T) {
		_, err := b.GetNamespace(ctx, "ghost")
		var notFound *schema.NamespaceNotFoundError
		require.True(t, errors.As(err, &notFound))
	})

	t.Run("list", func(t *testing.T) {
		namespaces, err := b.ListNamespaces(ctx, 10)
		require.NoError(t, err)
		assert.Len(t, namespaces, 2)
	})

	t.Run("delete_then_missing_is_noop", func(t *testing.T) {
		require.NoError(t, b.DeleteNamespace(ctx, "agents"))
		// Second delete of the same namespace still succeeds.
		require.NoError(t, b.DeleteNamespace(ctx, "agents"))
		_, err := b.GetNamespace(ctx, "agents")
		assert.Error(t, err)
	})
}

func TestUpdateEntitiesWithoutResolution(t *testing.T) {
	b := newTestBackend(t, nil)
	ctx := context.Background()
	_, err := b.CreateNamespace(ctx, "ns")
	require.NoError(t, err)

	updates, err := b.UpdateEntities(ctx, "ns", []*schema.Entity{
		{Type: "note", Content: "first", Metadata: map[string]any{"k": "v"}},
		{Type: "note", Content: "second"},
	}, false)
	require.NoError(t, err)

	// One ADD per input, in input order, with sequential decimal ids.
	require.Len(t, updates, 2)
	assert.Equal(t, schema.EventAdd, updates[0].Event)
	assert.Equal(t, "1", updates[0].ID)
	assert.Equal(t, "first", updates[0].Content)
	assert.Equal(t, "2", updates[1].ID)

	t.Run("mixed_types_rejected", func(t *testing.T) {
		_, err := b.UpdateEntities(ctx, "ns", []*schema.Entity{
			{Type: "note", Content: "a"},
			{Type: "guideline", Content: "b"},
		}, false)
		var storeErr *schema.StoreError
		require.True(t, errors.As(err, &storeErr))
		assert.Contains(t, err.Error(), "same type")
	})

	t.Run("empty_batch_is_noop", func(t *testing.T) {
		updates, err := b.UpdateEntities(ctx, "ns", nil, false)
		require.NoError(t, err)
		assert.Empty(t, updates)
	})

	t.Run("unknown_namespace", func(t *testing.T) {
		_, err := b.UpdateEntities(ctx, "ghost", []*schema.Entity{{Type: "note", Content: "x"}}, false)
		var notFound *schema.NamespaceNotFoundError
		require.True(t, errors.As(err, &notFound))
	})

	t.Run("ids_continue_after_insert", func(t *testing.T) {
		updates, err := b.UpdateEntities(ctx, "ns", []*schema.Entity{{Type: "note", Content: "third"}}, false)
		require.NoError(t, err)
		assert.Equal(t, "3", updates[0].ID)
	})
}

func TestUpdateEntitiesWithResolution(t *testing.T) {
	ctx := context.Background()

	t.Run("applies_event_list", func(t *testing.T) {
		resolver := &scriptedResolver{}
		b := newTestBackend(t, resolver)
		_, err := b.CreateNamespace(ctx, "ns")
		require.NoError(t, err)

		seed, err := b.UpdateEntities(ctx, "ns", []*schema.Entity{
			{Type: "guideline", Content: "old tip", Metadata: map[string]any{"category": "strategy"}},
			{Type: "guideline", Content: "stale tip"},
		}, false)
		require.NoError(t, err)

		resolver.updates = []*schema.EntityUpdate{
			{ID: schema.PlaceholderID(0), Type: "guideline", Content: "fresh tip", Event: schema.EventAdd,
				Metadata: map[string]any{"category": "recovery"}},
			{ID: seed[0].ID, Type: "guideline", Content: "old tip, revised", Event: schema.EventUpdate},
			{ID: seed[1].ID, Type: "guideline", Content: "stale tip", Event: schema.EventDelete},
		}

		updates, err := b.UpdateEntities(ctx, "ns", []*schema.Entity{
			{Type: "guideline", Content: "fresh tip", Metadata: map[string]any{"category": "recovery"}},
		}, true)
		require.NoError(t, err)
		require.Len(t, updates, 3)

		// ADD got a real id assigned.
		assert.NotEqual(t, schema.PlaceholderID(0), updates[0].ID)

		entities, err := b.SearchEntities(ctx, "ns", "", nil, 10)
		require.NoError(t, err)
		require.Len(t, entities, 2)

		byID := map[string]*schema.RecordedEntity{}
		for _, e := range entities {
			byID[e.ID] = e
		}
		// UPDATE replaced content but preserved the original metadata.
		updated := byID[seed[0].ID]
		require.NotNil(t, updated)
		assert.Equal(t, "old tip, revised", updated.Content)
		assert.Equal(t, "strategy", updated.Metadata["category"])
		// DELETE removed the stale entity.
		assert.NotContains(t, byID, seed[1].ID)
	})

	t.Run("resolver_sees_placeholders", func(t *testing.T) {
		resolver := &scriptedResolver{updates: []*schema.EntityUpdate{}}
		b := newTestBackend(t, resolver)
		_, err := b.CreateNamespace(ctx, "ns")
		require.NoError(t, err)

		_, err = b.UpdateEntities(ctx, "ns", []*schema.Entity{
			{Type: "note", Content: "a"},
			{Type: "note", Content: "b"},
		}, true)
		require.NoError(t, err)
		require.Len(t, resolver.proposed, 2)
		assert.Equal(t, schema.PlaceholderID(0), resolver.proposed[0].ID)
		assert.Equal(t, schema.PlaceholderID(1), resolver.proposed[1].ID)
	})

	t.Run("no_resolver_configured", func(t *testing.T) {
		b := newTestBackend(t, nil)
		_, err := b.CreateNamespace(ctx, "ns")
		require.NoError(t, err)

		_, err = b.UpdateEntities(ctx, "ns", []*schema.Entity{{Type: "note", Content: "x"}}, true)
		var storeErr *schema.StoreError
		require.True(t, errors.As(err, &storeErr))
	})
}

func TestSearchEntities(t *testing.T) {
	b := newTestBackend(t, nil)
	ctx := context.Background()
	_, err := b.CreateNamespace(ctx, "ns")
	require.NoError(t, err)

	_, err = b.UpdateEntities(ctx, "ns", []*schema.Entity{
		{Type: "guideline", Content: "Always pin dependency versions", Metadata: map[string]any{"category": "strategy"}},
		{Type: "guideline", Content: "Retry transient network failures", Metadata: map[string]any{"category": "recovery"}},
	}, false)
	require.NoError(t, err)
	_, err = b.UpdateEntities(ctx, "ns", []*schema.Entity{
		{Type: "note", Content: "the deploy pipeline is slow"},
	}, false)
	require.NoError(t, err)

	t.Run("substring_match_is_case_insensitive", func(t *testing.T) {
		results, err := b.SearchEntities(ctx, "ns", "RETRY", nil, 10)
		require.NoError(t, err)
		require.Len(t, results, 1)
		assert.Equal(t, "Retry transient network failures", results[0].Content)
	})

	t.Run("type_filter", func(t *testing.T) {
		results, err := b.SearchEntities(ctx, "ns", "", map[string]any{"type": "guideline"}, 10)
		require.NoError(t, err)
		assert.Len(t, results, 2)
	})

	t.Run("metadata_filter", func(t *testing.T) {
		results, err := b.SearchEntities(ctx, "ns", "", map[string]any{"category": "recovery"}, 10)
		require.NoError(t, err)
		require.Len(t, results, 1)
		assert.Equal(t, "Retry transient network failures", results[0].Content)
	})

	t.Run("no_query_returns_insertion_order", func(t *testing.T) {
		results, err := b.SearchEntities(ctx, "ns", "", nil, 10)
		require.NoError(t, err)
		require.Len(t, results, 3)
		assert.Equal(t, "1", results[0].ID)
		assert.Equal(t, "2", results[1].ID)
		assert.Equal(t, "3", results[2].ID)
	})

	t.Run("limit_applies", func(t *testing.T) {
		results, err := b.SearchEntities(ctx, "ns", "", nil, 2)
		require.NoError(t, err)
		assert.Len(t, results, 2)
	})

	t.Run("no_match", func(t *testing.T) {
		results, err := b.SearchEntities(ctx, "ns", "kubernetes", nil, 10)
		require.NoError(t, err)
		assert.Empty(t, results)
	})
}

func TestDeleteEntity(t *testing.T) {
	b := newTestBackend(t, nil)
	ctx := context.Background()
	_, err := b.CreateNamespace(ctx, "ns")
	require.NoError(t, err)

	updates, err := b.UpdateEntities(ctx, "ns", []*schema.Entity{{Type: "note", Content: "x"}}, false)
	require.NoError(t, err)

	require.NoError(t, b.DeleteEntity(ctx, "ns", updates[0].ID))

	t.Run("missing_entity", func(t *testing.T) {
		err := b.DeleteEntity(ctx, "ns", updates[0].ID)
		var storeErr *schema.StoreError
		require.True(t, errors.As(err, &storeErr))
		assert.Contains(t, err.Error(), "not found")
	})

	t.Run("missing_namespace", func(t *testing.T) {
		err := b.DeleteEntity(ctx, "ghost", "1")
		var notFound *schema.NamespaceNotFoundError
		require.True(t, errors.As(err, &notFound))
	})
}

func TestPersistenceAcrossReopen(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()

	b1, err := NewFilesystemBackend(&config.FilesystemConfig{DataDir: dir}, nil)
	require.NoError(t, err)
	_, err = b1.CreateNamespace(ctx, "ns")
	require.NoError(t, err)
	_, err = b1.UpdateEntities(ctx, "ns", []*schema.Entity{
		{Type: "note", Content: map[string]any{"nested": "object"}},
	}, false)
	require.NoError(t, err)
	require.NoError(t, b1.Close())

	b2, err := NewFilesystemBackend(&config.FilesystemConfig{DataDir: dir}, nil)
	require.NoError(t, err)
	entities, err := b2.SearchEntities(ctx, "ns", "", nil, 10)
	require.NoError(t, err)
	require.Len(t, entities, 1)
	assert.Equal(t, map[string]any{"nested": "object"}, entities[0].Content)

	ns, err := b2.GetNamespace(ctx, "ns")
	require.NoError(t, err)
	require.NotNil(t, ns.NumEntities)
	assert.Equal(t, 1, *ns.NumEntities)
}
