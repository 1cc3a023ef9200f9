// Package client is the facade adapters call into. It wires the configured
// backend, embedder, gateway and resolver together and exposes the entity
// store surface plus the tip pipeline entry points.
package client

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/kaizen-ai/kaizen/pkg/backend"
	"github.com/kaizen-ai/kaizen/pkg/config"
	"github.com/kaizen-ai/kaizen/pkg/conflict"
	"github.com/kaizen-ai/kaizen/pkg/embedders"
	"github.com/kaizen-ai/kaizen/pkg/llms"
	"github.com/kaizen-ai/kaizen/pkg/schema"
	"github.com/kaizen-ai/kaizen/pkg/tips"
)

// Client is a stateless facade over one backend. All retries, locking and
// LLM calls live inside the components it wires.
type Client struct {
	cfg          *config.Config
	backend      backend.Backend
	embedder     embedders.Provider
	gateway      llms.Gateway
	consolidator *tips.Consolidator
}

// New builds a client from configuration: gateway, embedder, resolver and
// the selected backend.
func New(cfg *config.Config) (*Client, error) {
	gateway := llms.NewOpenAIGateway(&cfg.LLM)
	resolver := conflict.NewLLMResolver(gateway, &cfg.LLM, "")

	embedder, err := embedders.NewFromConfig(&cfg.Embedder)
	if err != nil {
		return nil, err
	}

	var store backend.Backend
	switch cfg.Backend {
	case config.BackendFilesystem:
		store, err = backend.NewFilesystemBackend(&cfg.Filesystem, resolver)
	case config.BackendQdrant:
		store, err = backend.NewQdrantBackend(&cfg.Qdrant, embedder, resolver)
	default:
		err = fmt.Errorf("unsupported backend %q", cfg.Backend)
	}
	if err != nil {
		embedder.Close()
		return nil, err
	}

	c := &Client{
		cfg:      cfg,
		backend:  store,
		embedder: embedder,
		gateway:  gateway,
	}
	c.consolidator = tips.NewConsolidator(store, embedder, gateway, &cfg.LLM)
	return c, nil
}

// Gateway exposes the wired LLM gateway for components built on top of the
// client, such as the sync worker's tip generator.
func (c *Client) Gateway() llms.Gateway { return c.gateway }

// Ready probes backend health.
func (c *Client) Ready(ctx context.Context) (map[string]any, error) {
	return c.backend.Ready(ctx)
}

// CreateNamespace creates a namespace, auto-generating an id when empty.
func (c *Client) CreateNamespace(ctx context.Context, namespaceID string) (*schema.Namespace, error) {
	return c.backend.CreateNamespace(ctx, namespaceID)
}

// GetNamespace returns namespace details with a live entity count.
func (c *Client) GetNamespace(ctx context.Context, namespaceID string) (*schema.Namespace, error) {
	return c.backend.GetNamespace(ctx, namespaceID)
}

// ListNamespaces returns up to limit namespaces.
func (c *Client) ListNamespaces(ctx context.Context, limit int) ([]*schema.Namespace, error) {
	return c.backend.ListNamespaces(ctx, limit)
}

// DeleteNamespace removes a namespace and its entities. A missing namespace
// is treated as success regardless of backend.
func (c *Client) DeleteNamespace(ctx context.Context, namespaceID string) error {
	err := c.backend.DeleteNamespace(ctx, namespaceID)
	var notFound *schema.NamespaceNotFoundError
	if errors.As(err, &notFound) {
		return nil
	}
	return err
}

// UpdateEntities writes a batch, optionally through conflict resolution.
func (c *Client) UpdateEntities(ctx context.Context, namespaceID string, entities []*schema.Entity, resolve bool) ([]*schema.EntityUpdate, error) {
	return c.backend.UpdateEntities(ctx, namespaceID, entities, resolve)
}

// SearchEntities queries a namespace.
func (c *Client) SearchEntities(ctx context.Context, namespaceID, query string, filters map[string]any, limit int) ([]*schema.RecordedEntity, error) {
	return c.backend.SearchEntities(ctx, namespaceID, query, filters, limit)
}

// DeleteEntity removes one entity by id.
func (c *Client) DeleteEntity(ctx context.Context, namespaceID, entityID string) error {
	return c.backend.DeleteEntity(ctx, namespaceID, entityID)
}

// NamespaceExists reports whether the namespace exists.
func (c *Client) NamespaceExists(ctx context.Context, namespaceID string) (bool, error) {
	_, err := c.backend.GetNamespace(ctx, namespaceID)
	if err == nil {
		return true, nil
	}
	var notFound *schema.NamespaceNotFoundError
	if errors.As(err, &notFound) {
		return false, nil
	}
	return false, err
}

// EnsureNamespace creates the namespace if it does not exist yet.
func (c *Client) EnsureNamespace(ctx context.Context, namespaceID string) error {
	exists, err := c.NamespaceExists(ctx, namespaceID)
	if err != nil || exists {
		return err
	}
	_, err = c.backend.CreateNamespace(ctx, namespaceID)
	var alreadyExists *schema.NamespaceAlreadyExistsError
	if errors.As(err, &alreadyExists) {
		// Lost a create race; the namespace is there either way.
		return nil
	}
	return err
}

// ClusterTips groups the namespace's guidelines by task-description
// similarity without modifying anything.
func (c *Client) ClusterTips(ctx context.Context, namespaceID string, threshold float64) ([][]*schema.RecordedEntity, error) {
	entities, err := c.backend.SearchEntities(ctx, namespaceID, "",
		map[string]any{"type": schema.EntityTypeGuideline}, tips.MaxClusterEntities)
	if err != nil {
		return nil, err
	}
	if len(entities) == tips.MaxClusterEntities {
		slog.Warn("guideline fetch hit the clustering limit, some tips may be skipped",
			"limit", tips.MaxClusterEntities)
	}
	return tips.ClusterEntities(ctx, c.embedder, entities, threshold)
}

// ConsolidateTips clusters and merges the namespace's guidelines. A zero
// threshold falls back to the configured one.
func (c *Client) ConsolidateTips(ctx context.Context, namespaceID string, threshold float64) (*schema.ConsolidationResult, error) {
	if threshold == 0 {
		threshold = c.cfg.ClusteringThreshold
	}
	return c.consolidator.Consolidate(ctx, namespaceID, threshold)
}

// Close releases the backend and the embedder.
func (c *Client) Close() error {
	err := c.backend.Close()
	if closeErr := c.embedder.Close(); err == nil {
		err = closeErr
	}
	return err
}
