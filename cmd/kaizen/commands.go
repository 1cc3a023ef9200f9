package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/kaizen-ai/kaizen/pkg/schema"
	"github.com/kaizen-ai/kaizen/pkg/server"
	tracesync "github.com/kaizen-ai/kaizen/pkg/sync"
	"github.com/kaizen-ai/kaizen/pkg/tips"
)

// ServeCmd starts the HTTP/MCP server.
type ServeCmd struct {
	Addr string `help:"Listen address (overrides KAIZEN_HTTP_ADDR)."`
}

func (c *ServeCmd) Run(cli *CLI) error {
	cfg, kc, err := loadClient(cli)
	if err != nil {
		return err
	}
	defer kc.Close()

	if c.Addr != "" {
		cfg.HTTPAddr = c.Addr
	}
	return server.New(cfg, kc).Run(context.Background())
}

// SyncCmd runs the trace-store sync once, or on an interval.
type SyncCmd struct {
	Limit         int           `help:"Maximum number of spans to fetch." default:"100"`
	Interval      time.Duration `help:"Repeat the sync on this interval (0 runs once)."`
	IncludeErrors bool          `name:"include-errors" help:"Include failed/error spans."`
}

func (c *SyncCmd) Run(cli *CLI) error {
	cfg, kc, err := loadClient(cli)
	if err != nil {
		return err
	}
	defer kc.Close()

	generator := tips.NewGenerator(kc.Gateway(), &cfg.LLM)
	worker := tracesync.NewWorker(cfg, kc, generator)
	ctx := context.Background()

	runOnce := func() error {
		result, err := worker.Sync(ctx, c.Limit, c.IncludeErrors)
		if err != nil {
			return err
		}
		return printJSON(result)
	}

	if c.Interval <= 0 {
		return runOnce()
	}

	ticker := time.NewTicker(c.Interval)
	defer ticker.Stop()
	for {
		if err := runOnce(); err != nil {
			slog.Error("sync pass failed", "error", err)
		}
		<-ticker.C
	}
}

// NamespaceCmd groups namespace management subcommands.
type NamespaceCmd struct {
	List   NamespaceListCmd   `cmd:"" help:"List namespaces."`
	Create NamespaceCreateCmd `cmd:"" help:"Create a namespace."`
	Delete NamespaceDeleteCmd `cmd:"" help:"Delete a namespace and all its entities."`
	Info   NamespaceInfoCmd   `cmd:"" help:"Show namespace details."`
}

type NamespaceListCmd struct {
	Limit int `help:"Maximum number of namespaces." default:"100"`
}

func (c *NamespaceListCmd) Run(cli *CLI) error {
	_, kc, err := loadClient(cli)
	if err != nil {
		return err
	}
	defer kc.Close()

	namespaces, err := kc.ListNamespaces(context.Background(), c.Limit)
	if err != nil {
		return err
	}
	if namespaces == nil {
		namespaces = []*schema.Namespace{}
	}
	return printJSON(namespaces)
}

type NamespaceCreateCmd struct {
	ID string `arg:"" optional:"" help:"Namespace id (auto-generated when omitted)."`
}

func (c *NamespaceCreateCmd) Run(cli *CLI) error {
	_, kc, err := loadClient(cli)
	if err != nil {
		return err
	}
	defer kc.Close()

	ns, err := kc.CreateNamespace(context.Background(), c.ID)
	if err != nil {
		return err
	}
	return printJSON(ns)
}

type NamespaceDeleteCmd struct {
	ID string `arg:"" help:"Namespace id."`
}

func (c *NamespaceDeleteCmd) Run(cli *CLI) error {
	_, kc, err := loadClient(cli)
	if err != nil {
		return err
	}
	defer kc.Close()

	if err := kc.DeleteNamespace(context.Background(), c.ID); err != nil {
		return err
	}
	fmt.Printf("Namespace %s deleted\n", c.ID)
	return nil
}

type NamespaceInfoCmd struct {
	ID string `arg:"" help:"Namespace id."`
}

func (c *NamespaceInfoCmd) Run(cli *CLI) error {
	_, kc, err := loadClient(cli)
	if err != nil {
		return err
	}
	defer kc.Close()

	ns, err := kc.GetNamespace(context.Background(), c.ID)
	if err != nil {
		return err
	}
	return printJSON(ns)
}

// EntityCmd groups entity management subcommands.
type EntityCmd struct {
	List   EntityListCmd   `cmd:"" help:"List entities in a namespace."`
	Add    EntityAddCmd    `cmd:"" help:"Add an entity."`
	Delete EntityDeleteCmd `cmd:"" help:"Delete an entity by id."`
	Search EntitySearchCmd `cmd:"" help:"Search entities."`
	Show   EntityShowCmd   `cmd:"" help:"Show one entity by id."`

	Namespace string `help:"Namespace id (defaults to KAIZEN_NAMESPACE_ID)."`
}

// namespaceOrDefault resolves the target namespace for entity commands.
func (c *EntityCmd) namespaceOrDefault(configured string) string {
	if c.Namespace != "" {
		return c.Namespace
	}
	return configured
}

type EntityListCmd struct {
	Type  string `help:"Filter by entity type."`
	Limit int    `help:"Maximum number of entities." default:"100"`
}

func (c *EntityListCmd) Run(cli *CLI, parent *EntityCmd) error {
	cfg, kc, err := loadClient(cli)
	if err != nil {
		return err
	}
	defer kc.Close()

	filters := map[string]any{}
	if c.Type != "" {
		filters["type"] = c.Type
	}
	entities, err := kc.SearchEntities(context.Background(),
		parent.namespaceOrDefault(cfg.NamespaceID), "", filters, c.Limit)
	if err != nil {
		return err
	}
	if entities == nil {
		entities = []*schema.RecordedEntity{}
	}
	return printJSON(entities)
}

type EntityAddCmd struct {
	Content  string `arg:"" help:"Entity content."`
	Type     string `help:"Entity type." default:"note"`
	Metadata string `help:"JSON metadata object."`
	Resolve  bool   `help:"Run LLM conflict resolution against similar entities."`
}

func (c *EntityAddCmd) Run(cli *CLI, parent *EntityCmd) error {
	cfg, kc, err := loadClient(cli)
	if err != nil {
		return err
	}
	defer kc.Close()

	metadata := map[string]any{}
	if c.Metadata != "" {
		if err := json.Unmarshal([]byte(c.Metadata), &metadata); err != nil {
			return fmt.Errorf("invalid --metadata JSON: %w", err)
		}
	}

	entity := &schema.Entity{Type: c.Type, Content: c.Content, Metadata: metadata}
	updates, err := kc.UpdateEntities(context.Background(),
		parent.namespaceOrDefault(cfg.NamespaceID), []*schema.Entity{entity}, c.Resolve)
	if err != nil {
		return err
	}
	return printJSON(updates)
}

type EntityDeleteCmd struct {
	ID string `arg:"" help:"Entity id."`
}

func (c *EntityDeleteCmd) Run(cli *CLI, parent *EntityCmd) error {
	cfg, kc, err := loadClient(cli)
	if err != nil {
		return err
	}
	defer kc.Close()

	namespace := parent.namespaceOrDefault(cfg.NamespaceID)
	if err := kc.DeleteEntity(context.Background(), namespace, c.ID); err != nil {
		return err
	}
	fmt.Printf("Entity %s deleted from %s\n", c.ID, namespace)
	return nil
}

type EntitySearchCmd struct {
	Query string `arg:"" help:"Search query."`
	Type  string `help:"Filter by entity type."`
	Limit int    `help:"Maximum number of results." default:"10"`
}

func (c *EntitySearchCmd) Run(cli *CLI, parent *EntityCmd) error {
	cfg, kc, err := loadClient(cli)
	if err != nil {
		return err
	}
	defer kc.Close()

	filters := map[string]any{}
	if c.Type != "" {
		filters["type"] = c.Type
	}
	entities, err := kc.SearchEntities(context.Background(),
		parent.namespaceOrDefault(cfg.NamespaceID), c.Query, filters, c.Limit)
	if err != nil {
		return err
	}
	if entities == nil {
		entities = []*schema.RecordedEntity{}
	}
	return printJSON(entities)
}

type EntityShowCmd struct {
	ID string `arg:"" help:"Entity id."`
}

func (c *EntityShowCmd) Run(cli *CLI, parent *EntityCmd) error {
	cfg, kc, err := loadClient(cli)
	if err != nil {
		return err
	}
	defer kc.Close()

	// Backends key search on content, not id, so scan and match.
	entities, err := kc.SearchEntities(context.Background(),
		parent.namespaceOrDefault(cfg.NamespaceID), "", nil, 1000)
	if err != nil {
		return err
	}
	for _, e := range entities {
		if e.ID == c.ID {
			return printJSON(e)
		}
	}
	return fmt.Errorf("entity %s not found", c.ID)
}

// ConsolidateCmd clusters and merges guidelines in a namespace.
type ConsolidateCmd struct {
	Namespace string  `help:"Namespace id (defaults to KAIZEN_NAMESPACE_ID)."`
	Threshold float64 `help:"Cosine similarity threshold (defaults to KAIZEN_CLUSTERING_THRESHOLD)."`
}

func (c *ConsolidateCmd) Run(cli *CLI) error {
	cfg, kc, err := loadClient(cli)
	if err != nil {
		return err
	}
	defer kc.Close()

	namespace := c.Namespace
	if namespace == "" {
		namespace = cfg.NamespaceID
	}
	result, err := kc.ConsolidateTips(context.Background(), namespace, c.Threshold)
	if err != nil {
		return err
	}
	return printJSON(result)
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
