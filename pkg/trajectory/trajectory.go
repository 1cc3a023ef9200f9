// Package trajectory canonicalizes agent conversations from heterogeneous
// provider formats into a task instruction plus a flat step sequence, and
// renders the step sequence as markdown for prompting.
//
// Two dialects are understood: a "blocks" dialect whose message content is a
// list of typed blocks (text, thinking, tool_use, tool_result) and a "flat"
// dialect with string content plus tool_calls.
package trajectory

import (
	"encoding/json"
	"fmt"
	"regexp"
	"sort"
	"strings"
	"unicode/utf8"
)

// TaskUnknown is the sentinel task instruction used when a trajectory has no
// user message.
const TaskUnknown = "Task description unknown"

const (
	maxSummarySteps       = 50
	maxStepSummaryLength  = 2000
	summaryTruncationMark = "…"
)

// Message is the loose union of provider message shapes. Content is a
// string in the flat dialect and a []any of block maps in the blocks
// dialect.
type Message struct {
	Role       string     `json:"role"`
	Content    any        `json:"content,omitempty"`
	Thinking   string     `json:"thinking,omitempty"`
	ToolCalls  []ToolCall `json:"tool_calls,omitempty"`
	ToolCallID string     `json:"tool_call_id,omitempty"`
}

// ToolCall is a flat-dialect function invocation.
type ToolCall struct {
	ID       string       `json:"id"`
	Type     string       `json:"type"`
	Function FunctionCall `json:"function"`
}

// FunctionCall carries the function name and its JSON-encoded arguments.
type FunctionCall struct {
	Name      string `json:"name"`
	Arguments string `json:"arguments"`
}

// StepKind classifies a canonical step.
type StepKind string

const (
	StepReasoning   StepKind = "reasoning"
	StepAction      StepKind = "action"
	StepObservation StepKind = "observation"
)

// Step is one canonical trajectory step.
type Step struct {
	Kind    StepKind `json:"kind"`
	Content string   `json:"content"`
}

// Parsed is the canonical form of a conversation.
type Parsed struct {
	TaskInstruction string `json:"task_instruction"`
	Steps           []Step `json:"steps"`
}

// Parse canonicalizes messages. The first user message supplies the task
// instruction and must carry string content; a trajectory without any user
// message falls back to the TaskUnknown sentinel. Assistant messages with
// unknown content shapes are skipped silently (empty content is common from
// tool-calling patterns).
func Parse(messages []Message) (*Parsed, error) {
	parsed := &Parsed{TaskInstruction: TaskUnknown}

	taskFound := false
	for _, msg := range messages {
		switch msg.Role {
		case "user":
			if !taskFound {
				s, ok := msg.Content.(string)
				if !ok {
					return nil, fmt.Errorf("first user message content must be a string, got %T", msg.Content)
				}
				parsed.TaskInstruction = s
				taskFound = true
				continue
			}
			parsed.Steps = append(parsed.Steps, blockSteps(msg.Content)...)

		case "assistant":
			if msg.Thinking != "" {
				parsed.Steps = append(parsed.Steps, Step{Kind: StepReasoning, Content: msg.Thinking})
			}
			switch content := msg.Content.(type) {
			case string:
				if content != "" {
					parsed.Steps = append(parsed.Steps, Step{Kind: StepReasoning, Content: content})
				}
			case []any:
				parsed.Steps = append(parsed.Steps, blockSteps(content)...)
			case nil:
				// Tool-calling assistants commonly send no content.
			default:
				// Unknown shape, skip.
			}
			for _, call := range msg.ToolCalls {
				parsed.Steps = append(parsed.Steps, Step{Kind: StepAction, Content: formatCall(call.Function.Name, call.Function.Arguments)})
			}

		case "tool":
			if s, ok := msg.Content.(string); ok && s != "" {
				parsed.Steps = append(parsed.Steps, Step{Kind: StepObservation, Content: s})
			}
		}
	}
	return parsed, nil
}

// blockSteps converts blocks-dialect content into steps.
func blockSteps(content any) []Step {
	blocks, ok := content.([]any)
	if !ok {
		return nil
	}

	var steps []Step
	for _, raw := range blocks {
		block, ok := raw.(map[string]any)
		if !ok {
			continue
		}
		switch block["type"] {
		case "text":
			if text, _ := block["text"].(string); text != "" && text != "(no content)" {
				steps = append(steps, Step{Kind: StepReasoning, Content: text})
			}
		case "thinking":
			if thinking, _ := block["thinking"].(string); thinking != "" {
				steps = append(steps, Step{Kind: StepReasoning, Content: thinking})
			}
		case "tool_use":
			name, _ := block["name"].(string)
			args, _ := json.Marshal(block["input"])
			steps = append(steps, Step{Kind: StepAction, Content: formatCall(name, string(args))})
		case "tool_result":
			steps = append(steps, Step{Kind: StepObservation, Content: stringifyToolResult(block["content"])})
		}
	}
	return steps
}

// formatCall renders a function call as name(k=v, …). Argument keys are
// sorted for determinism.
func formatCall(name, argsJSON string) string {
	var args map[string]any
	if err := json.Unmarshal([]byte(argsJSON), &args); err != nil || len(args) == 0 {
		return name + "()"
	}

	keys := make([]string, 0, len(args))
	for k := range args {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, fmt.Sprintf("%s=%v", k, args[k]))
	}
	return fmt.Sprintf("%s(%s)", name, strings.Join(parts, ", "))
}

func stringifyToolResult(content any) string {
	switch v := content.(type) {
	case string:
		return v
	case nil:
		return ""
	default:
		b, err := json.Marshal(v)
		if err != nil {
			return fmt.Sprint(v)
		}
		return string(b)
	}
}

// Summary renders up to 50 steps as markdown, truncating each step's
// content to 2,000 characters.
func (p *Parsed) Summary() string {
	var sb strings.Builder
	for i, step := range p.Steps {
		if i >= maxSummarySteps {
			fmt.Fprintf(&sb, "\n_(%d more steps omitted)_\n", len(p.Steps)-maxSummarySteps)
			break
		}
		content := step.Content
		if len(content) > maxStepSummaryLength {
			cut := maxStepSummaryLength
			// Back up to a rune boundary so the cut never emits invalid UTF-8.
			for cut > 0 && !utf8.RuneStart(content[cut]) {
				cut--
			}
			content = content[:cut] + summaryTruncationMark
		}
		fmt.Fprintf(&sb, "### Step %d — %s\n%s\n\n", i+1, step.Kind, content)
	}
	return strings.TrimSpace(sb.String())
}

var systemReminderPattern = regexp.MustCompile(`(?s)<system-reminder>.*?</system-reminder>`)

// StripSystemReminders removes injected system-reminder regions, inline or
// multi-line, and trims the result.
func StripSystemReminders(content string) string {
	return strings.TrimSpace(systemReminderPattern.ReplaceAllString(content, ""))
}
