package trajectory

import "encoding/json"

// Flatten converts one provider message (role plus blocks- or flat-dialect
// content) into flat-dialect messages. Assistant block lists collapse into a
// single message carrying text, thinking and tool calls; user messages made
// of tool_result blocks expand into individual tool messages keyed by
// tool_call_id.
func Flatten(role string, content any) []Message {
	if s, ok := content.(string); ok {
		return []Message{{Role: role, Content: s}}
	}

	blocks, ok := content.([]any)
	if !ok {
		if content == nil {
			return []Message{{Role: role, Content: ""}}
		}
		b, err := json.Marshal(content)
		if err != nil {
			return nil
		}
		return []Message{{Role: role, Content: string(b)}}
	}

	var texts []string
	var thinking []string
	var toolCalls []ToolCall
	var toolResults []Message

	for _, raw := range blocks {
		block, ok := raw.(map[string]any)
		if !ok {
			if s, ok := raw.(string); ok && s != "" {
				texts = append(texts, s)
			}
			continue
		}
		switch block["type"] {
		case "text":
			if text, _ := block["text"].(string); text != "" && text != "(no content)" {
				texts = append(texts, text)
			}
		case "thinking":
			if t, _ := block["thinking"].(string); t != "" {
				thinking = append(thinking, t)
			}
		case "tool_use":
			id, _ := block["id"].(string)
			name, _ := block["name"].(string)
			args, _ := json.Marshal(block["input"])
			toolCalls = append(toolCalls, ToolCall{
				ID:   id,
				Type: "function",
				Function: FunctionCall{
					Name:      name,
					Arguments: string(args),
				},
			})
		case "tool_result":
			id, _ := block["tool_use_id"].(string)
			toolResults = append(toolResults, Message{
				Role:       "tool",
				ToolCallID: id,
				Content:    stringifyToolResult(block["content"]),
			})
		}
	}

	if role == "assistant" {
		msg := Message{Role: "assistant", ToolCalls: toolCalls}
		if len(thinking) > 0 {
			msg.Thinking = joinParagraphs(thinking)
		}
		if len(texts) > 0 {
			msg.Content = joinParagraphs(texts)
		}
		return []Message{msg}
	}

	if role == "user" && len(toolResults) > 0 {
		return toolResults
	}

	return []Message{{Role: role, Content: joinParagraphs(texts)}}
}

func joinParagraphs(parts []string) string {
	out := ""
	for i, p := range parts {
		if i > 0 {
			out += "\n\n"
		}
		out += p
	}
	return out
}
