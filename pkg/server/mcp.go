package server

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/google/uuid"
	"github.com/mark3labs/mcp-go/mcp"
	mcpserver "github.com/mark3labs/mcp-go/server"

	"github.com/kaizen-ai/kaizen/pkg/schema"
	"github.com/kaizen-ai/kaizen/pkg/tips"
	"github.com/kaizen-ai/kaizen/pkg/trajectory"
)

// mcpServer registers the four agent-facing tools. Handlers never return
// protocol errors for domain failures; those serialize to {"success": false,
// "error": ...} envelopes so agents can read them as tool output.
func (s *Server) mcpServer() *mcpserver.MCPServer {
	srv := mcpserver.NewMCPServer("kaizen", "1.0.0")

	srv.AddTool(mcp.NewTool("get_guidelines",
		mcp.WithDescription("Get relevant guidelines for a given task. Provide a task description and receive applicable best practices."),
		mcp.WithString("task", mcp.Required(), mcp.Description("A description of the task you want guidelines for")),
	), s.handleGetGuidelines)

	srv.AddTool(mcp.NewTool("save_trajectory",
		mcp.WithDescription("Save a full agent trajectory and generate tips from it."),
		mcp.WithString("trajectory_data", mcp.Required(), mcp.Description("A JSON-formatted conversation (list of messages)")),
		mcp.WithString("task_id", mcp.Description("Optional identifier for the task")),
	), s.handleSaveTrajectory)

	srv.AddTool(mcp.NewTool("create_entity",
		mcp.WithDescription("Create a single entity in the namespace."),
		mcp.WithString("content", mcp.Required(), mcp.Description("The searchable text or structured data for the entity")),
		mcp.WithString("entity_type", mcp.Required(), mcp.Description("The type of the entity (e.g. guideline, note, fact)")),
		mcp.WithString("metadata", mcp.Description("Optional JSON string of arbitrary metadata")),
		mcp.WithBoolean("enable_conflict_resolution", mcp.Description("Check for conflicts with existing entities via the LLM")),
	), s.handleCreateEntityTool)

	srv.AddTool(mcp.NewTool("delete_entity",
		mcp.WithDescription("Delete a specific entity by its id."),
		mcp.WithString("entity_id", mcp.Required(), mcp.Description("The unique identifier of the entity to delete")),
	), s.handleDeleteEntityTool)

	return srv
}

func toolJSON(v any) *mcp.CallToolResult {
	b, err := json.Marshal(v)
	if err != nil {
		return mcp.NewToolResultText(fmt.Sprintf(`{"success":false,"error":%q}`, err.Error()))
	}
	return mcp.NewToolResultText(string(b))
}

func toolFailure(err error) *mcp.CallToolResult {
	return toolJSON(map[string]any{"success": false, "error": err.Error()})
}

func (s *Server) handleGetGuidelines(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	task, err := req.RequireString("task")
	if err != nil {
		return toolFailure(err), nil
	}
	slog.Info("fetching guidelines", "task", task)

	results, err := s.client.SearchEntities(ctx, s.cfg.NamespaceID, task,
		map[string]any{"type": schema.EntityTypeGuideline}, 10)
	if err != nil {
		return toolFailure(err), nil
	}

	lines := []string{fmt.Sprintf("# Guidelines for: %s\n", task)}
	for i, guideline := range results {
		lines = append(lines, fmt.Sprintf("%d. %s", i+1, schema.SerializeContent(guideline.Content)))
	}
	return mcp.NewToolResultText(strings.Join(lines, "\n")), nil
}

func (s *Server) handleSaveTrajectory(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	data, err := req.RequireString("trajectory_data")
	if err != nil {
		return toolFailure(err), nil
	}
	taskID := req.GetString("task_id", "")
	if taskID == "" {
		taskID = uuid.NewString()
	}

	var messages []trajectory.Message
	if err := json.Unmarshal([]byte(data), &messages); err != nil {
		return toolFailure(fmt.Errorf("invalid trajectory_data: %w", err)), nil
	}
	if len(messages) == 0 {
		return toolFailure(fmt.Errorf("trajectory_data contains no messages")), nil
	}

	// Each message becomes its own trajectory entity so callers can filter
	// the conversation back out by task_id. The original message rides along
	// in metadata.
	entities := make([]*schema.Entity, 0, len(messages))
	for _, msg := range messages {
		entities = append(entities, &schema.Entity{
			Type:    schema.EntityTypeTrajectory,
			Content: schema.SerializeContent(msg.Content),
			Metadata: map[string]any{
				"task_id": taskID,
				"message": msg,
			},
		})
	}
	if _, err := s.client.UpdateEntities(ctx, s.cfg.NamespaceID, entities, false); err != nil {
		return toolFailure(err), nil
	}

	generator := tips.NewGenerator(s.client.Gateway(), &s.cfg.LLM)
	generated, err := generator.Generate(ctx, messages)
	if err != nil {
		return toolFailure(err), nil
	}

	if len(generated.Tips) > 0 {
		tipEntities := make([]*schema.Entity, 0, len(generated.Tips))
		for _, tip := range generated.Tips {
			tipEntities = append(tipEntities, &schema.Entity{
				Type:    schema.EntityTypeGuideline,
				Content: tip.Content,
				Metadata: map[string]any{
					"category":                     string(tip.Category),
					"rationale":                    tip.Rationale,
					"trigger":                      tip.Trigger,
					schema.MetadataTaskDescription: generated.TaskDescription,
					"source_task_id":               taskID,
					"creation_mode":                "auto-mcp",
				},
			})
		}
		if _, err := s.client.UpdateEntities(ctx, s.cfg.NamespaceID, tipEntities, true); err != nil {
			return toolFailure(err), nil
		}
	}

	stored, err := s.client.SearchEntities(ctx, s.cfg.NamespaceID, "",
		map[string]any{"type": schema.EntityTypeTrajectory, "task_id": taskID}, 1000)
	if err != nil {
		return toolFailure(err), nil
	}
	return toolJSON(stored), nil
}

func (s *Server) handleCreateEntityTool(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	content, err := req.RequireString("content")
	if err != nil {
		return toolFailure(err), nil
	}
	entityType, err := req.RequireString("entity_type")
	if err != nil {
		return toolFailure(err), nil
	}
	resolve := req.GetBool("enable_conflict_resolution", false)

	metadata := map[string]any{}
	if raw := req.GetString("metadata", ""); raw != "" {
		if err := json.Unmarshal([]byte(raw), &metadata); err != nil {
			return toolFailure(fmt.Errorf("invalid JSON in metadata: %w", err)), nil
		}
	}
	// Manually created guidelines and policies are tagged for provenance.
	if entityType == schema.EntityTypeGuideline || entityType == schema.EntityTypePolicy {
		if _, ok := metadata["creation_mode"]; !ok {
			metadata["creation_mode"] = "manual"
		}
	}

	entity := &schema.Entity{Type: entityType, Content: content, Metadata: metadata}
	updates, err := s.client.UpdateEntities(ctx, s.cfg.NamespaceID, []*schema.Entity{entity}, resolve)
	if err != nil {
		return toolFailure(err), nil
	}
	if len(updates) == 0 {
		return toolFailure(fmt.Errorf("entity creation returned no updates")), nil
	}

	update := updates[0]
	return toolJSON(map[string]any{
		"event":    update.Event,
		"id":       update.ID,
		"type":     update.Type,
		"content":  update.Content,
		"metadata": update.Metadata,
	}), nil
}

func (s *Server) handleDeleteEntityTool(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	entityID, err := req.RequireString("entity_id")
	if err != nil {
		return toolFailure(err), nil
	}
	slog.Info("deleting entity", "entity_id", entityID)

	if err := s.client.DeleteEntity(ctx, s.cfg.NamespaceID, entityID); err != nil {
		return toolFailure(err), nil
	}
	return toolJSON(map[string]any{
		"success": true,
		"message": fmt.Sprintf("Entity %s deleted successfully", entityID),
	}), nil
}
