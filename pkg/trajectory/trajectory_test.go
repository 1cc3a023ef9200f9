package trajectory

import (
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParse(t *testing.T) {
	t.Run("flat_dialect", func(t *testing.T) {
		parsed, err := Parse([]Message{
			{Role: "user", Content: "fix the failing test"},
			{Role: "assistant", Content: "I will look at the test output first."},
			{Role: "assistant", ToolCalls: []ToolCall{{
				ID: "t1", Type: "function",
				Function: FunctionCall{Name: "run_tests", Arguments: `{"path": "./...", "verbose": true}`},
			}}},
			{Role: "tool", ToolCallID: "t1", Content: "FAIL: TestFoo"},
		})
		require.NoError(t, err)
		assert.Equal(t, "fix the failing test", parsed.TaskInstruction)
		require.Len(t, parsed.Steps, 3)
		assert.Equal(t, StepReasoning, parsed.Steps[0].Kind)
		assert.Equal(t, StepAction, parsed.Steps[1].Kind)
		assert.Equal(t, "run_tests(path=./..., verbose=true)", parsed.Steps[1].Content)
		assert.Equal(t, StepObservation, parsed.Steps[2].Kind)
		assert.Equal(t, "FAIL: TestFoo", parsed.Steps[2].Content)
	})

	t.Run("blocks_dialect", func(t *testing.T) {
		parsed, err := Parse([]Message{
			{Role: "user", Content: "summarize the report"},
			{Role: "assistant", Content: []any{
				map[string]any{"type": "thinking", "thinking": "the report has three sections"},
				map[string]any{"type": "text", "text": "Reading it now."},
				map[string]any{"type": "tool_use", "name": "read_file", "input": map[string]any{"path": "report.md"}},
			}},
			{Role: "user", Content: []any{
				map[string]any{"type": "tool_result", "tool_use_id": "t1", "content": "# Report"},
			}},
		})
		require.NoError(t, err)
		require.Len(t, parsed.Steps, 4)
		assert.Equal(t, StepReasoning, parsed.Steps[0].Kind)
		assert.Equal(t, StepReasoning, parsed.Steps[1].Kind)
		assert.Equal(t, "read_file(path=report.md)", parsed.Steps[2].Content)
		assert.Equal(t, StepObservation, parsed.Steps[3].Kind)
	})

	t.Run("no_user_message_falls_back_to_sentinel", func(t *testing.T) {
		parsed, err := Parse([]Message{
			{Role: "assistant", Content: "hello"},
		})
		require.NoError(t, err)
		assert.Equal(t, TaskUnknown, parsed.TaskInstruction)
	})

	t.Run("non_string_first_user_content_errors", func(t *testing.T) {
		_, err := Parse([]Message{
			{Role: "user", Content: []any{map[string]any{"type": "text", "text": "x"}}},
		})
		assert.Error(t, err)
	})

	t.Run("nil_assistant_content_skipped", func(t *testing.T) {
		parsed, err := Parse([]Message{
			{Role: "user", Content: "task"},
			{Role: "assistant"},
		})
		require.NoError(t, err)
		assert.Empty(t, parsed.Steps)
	})

	t.Run("no_content_placeholder_skipped", func(t *testing.T) {
		parsed, err := Parse([]Message{
			{Role: "user", Content: "task"},
			{Role: "assistant", Content: []any{
				map[string]any{"type": "text", "text": "(no content)"},
			}},
		})
		require.NoError(t, err)
		assert.Empty(t, parsed.Steps)
	})
}

func TestFormatCallSortsArguments(t *testing.T) {
	got := formatCall("query", `{"zeta": 1, "alpha": "x", "mid": true}`)
	assert.Equal(t, "query(alpha=x, mid=true, zeta=1)", got)

	assert.Equal(t, "noop()", formatCall("noop", ""))
	assert.Equal(t, "noop()", formatCall("noop", "{}"))
}

func TestSummary(t *testing.T) {
	t.Run("renders_steps", func(t *testing.T) {
		p := &Parsed{Steps: []Step{
			{Kind: StepReasoning, Content: "think"},
			{Kind: StepAction, Content: "do()"},
		}}
		summary := p.Summary()
		assert.Contains(t, summary, "### Step 1 — reasoning")
		assert.Contains(t, summary, "### Step 2 — action")
	})

	t.Run("truncates_long_step_content", func(t *testing.T) {
		p := &Parsed{Steps: []Step{{Kind: StepObservation, Content: strings.Repeat("x", 3000)}}}
		summary := p.Summary()
		assert.Less(t, len(summary), 2200)
	})

	t.Run("truncates_on_rune_boundary", func(t *testing.T) {
		// 3-byte runes never align with the 2000-byte cut.
		p := &Parsed{Steps: []Step{{Kind: StepObservation, Content: strings.Repeat("世", 700)}}}
		summary := p.Summary()
		assert.True(t, utf8.ValidString(summary))
		assert.Contains(t, summary, "…")
	})

	t.Run("caps_step_count", func(t *testing.T) {
		steps := make([]Step, 60)
		for i := range steps {
			steps[i] = Step{Kind: StepReasoning, Content: "s"}
		}
		summary := (&Parsed{Steps: steps}).Summary()
		assert.Contains(t, summary, "### Step 50")
		assert.NotContains(t, summary, "### Step 51")
		assert.Contains(t, summary, "10 more steps omitted")
	})
}

func TestStripSystemReminders(t *testing.T) {
	t.Run("inline", func(t *testing.T) {
		got := StripSystemReminders("before <system-reminder>noise</system-reminder> after")
		assert.Equal(t, "before  after", got)
	})

	t.Run("multiline", func(t *testing.T) {
		got := StripSystemReminders("keep\n<system-reminder>\nline1\nline2\n</system-reminder>\n")
		assert.Equal(t, "keep", got)
	})

	t.Run("only_reminder_becomes_empty", func(t *testing.T) {
		assert.Equal(t, "", StripSystemReminders("<system-reminder>x</system-reminder>"))
	})
}

func TestFlatten(t *testing.T) {
	t.Run("string_content", func(t *testing.T) {
		msgs := Flatten("user", "hello")
		require.Len(t, msgs, 1)
		assert.Equal(t, "user", msgs[0].Role)
		assert.Equal(t, "hello", msgs[0].Content)
	})

	t.Run("assistant_blocks_collapse", func(t *testing.T) {
		msgs := Flatten("assistant", []any{
			map[string]any{"type": "thinking", "thinking": "plan"},
			map[string]any{"type": "text", "text": "first"},
			map[string]any{"type": "text", "text": "second"},
			map[string]any{"type": "tool_use", "id": "t1", "name": "grep", "input": map[string]any{"q": "x"}},
		})
		require.Len(t, msgs, 1)
		assert.Equal(t, "plan", msgs[0].Thinking)
		assert.Equal(t, "first\n\nsecond", msgs[0].Content)
		require.Len(t, msgs[0].ToolCalls, 1)
		assert.Equal(t, "grep", msgs[0].ToolCalls[0].Function.Name)
	})

	t.Run("tool_results_expand", func(t *testing.T) {
		msgs := Flatten("user", []any{
			map[string]any{"type": "tool_result", "tool_use_id": "t1", "content": "ok"},
			map[string]any{"type": "tool_result", "tool_use_id": "t2", "content": "fail"},
		})
		require.Len(t, msgs, 2)
		assert.Equal(t, "tool", msgs[0].Role)
		assert.Equal(t, "t1", msgs[0].ToolCallID)
		assert.Equal(t, "ok", msgs[0].Content)
		assert.Equal(t, "t2", msgs[1].ToolCallID)
	})
}
