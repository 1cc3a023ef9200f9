package server

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kaizen-ai/kaizen/pkg/client"
	"github.com/kaizen-ai/kaizen/pkg/config"
	"github.com/kaizen-ai/kaizen/pkg/schema"
)

// newTestServer backs the tool handlers with a filesystem store and a canned
// OpenAI-compatible model endpoint.
func newTestServer(t *testing.T, llmResponse string) *Server {
	t.Helper()
	llm := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{
			"choices": []map[string]any{
				{"message": map[string]any{"content": llmResponse}},
			},
		})
	}))
	t.Cleanup(llm.Close)

	cfg := &config.Config{
		Backend:     config.BackendFilesystem,
		NamespaceID: "ns",
		Filesystem:  config.FilesystemConfig{DataDir: t.TempDir()},
	}
	cfg.SetDefaults()
	cfg.LLM.BaseURL = llm.URL

	c, err := client.New(cfg)
	require.NoError(t, err)
	t.Cleanup(func() { c.Close() })
	require.NoError(t, c.EnsureNamespace(context.Background(), "ns"))

	return New(cfg, c)
}

func callToolRequest(args map[string]any) mcp.CallToolRequest {
	req := mcp.CallToolRequest{}
	req.Params.Arguments = args
	return req
}

func resultText(t *testing.T, res *mcp.CallToolResult) string {
	t.Helper()
	require.Len(t, res.Content, 1)
	text, ok := res.Content[0].(mcp.TextContent)
	require.True(t, ok)
	return text.Text
}

func TestHandleSaveTrajectory(t *testing.T) {
	s := newTestServer(t, `{"tips": []}`)
	ctx := context.Background()

	messages := []map[string]any{
		{"role": "user", "content": "fix the login bug"},
		{"role": "assistant", "content": "Patched the session check."},
	}
	data, err := json.Marshal(messages)
	require.NoError(t, err)

	res, err := s.handleSaveTrajectory(ctx, callToolRequest(map[string]any{
		"trajectory_data": string(data),
		"task_id":         "task-1",
	}))
	require.NoError(t, err)

	// The tool returns the stored trajectory entities, one per message.
	var stored []*schema.RecordedEntity
	require.NoError(t, json.Unmarshal([]byte(resultText(t, res)), &stored))
	require.Len(t, stored, 2)
	contents := make([]any, 0, len(stored))
	for _, e := range stored {
		assert.Equal(t, schema.EntityTypeTrajectory, e.Type)
		assert.Equal(t, "task-1", e.Metadata["task_id"])
		assert.NotNil(t, e.Metadata["message"])
		contents = append(contents, e.Content)
	}
	assert.Contains(t, contents, "fix the login bug")
	assert.Contains(t, contents, "Patched the session check.")

	// The conversation is filterable back out of the store by task_id.
	found, err := s.client.SearchEntities(ctx, "ns", "",
		map[string]any{"type": schema.EntityTypeTrajectory, "task_id": "task-1"}, 10)
	require.NoError(t, err)
	assert.Len(t, found, 2)
}

func TestHandleSaveTrajectoryRejectsBadInput(t *testing.T) {
	s := newTestServer(t, `{"tips": []}`)

	res, err := s.handleSaveTrajectory(context.Background(), callToolRequest(map[string]any{
		"trajectory_data": "not json",
	}))
	require.NoError(t, err)

	var envelope map[string]any
	require.NoError(t, json.Unmarshal([]byte(resultText(t, res)), &envelope))
	assert.Equal(t, false, envelope["success"])
	assert.Contains(t, envelope["error"], "invalid trajectory_data")
}
