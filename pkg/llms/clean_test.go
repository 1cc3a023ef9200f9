package llms

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCleanResponse(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  string
	}{
		{
			name:  "plain_json_unchanged",
			input: `{"tips": []}`,
			want:  `{"tips": []}`,
		},
		{
			name:  "json_fence",
			input: "```json\n{\"tips\": []}\n```",
			want:  `{"tips": []}`,
		},
		{
			name:  "untagged_fence",
			input: "```\n{\"a\": 1}\n```",
			want:  `{"a": 1}`,
		},
		{
			name:  "single_line_fence",
			input: "```json {\"a\": 1}```",
			want:  `{"a": 1}`,
		},
		{
			name:  "thinking_region_removed",
			input: "<thinking>let me reason</thinking>{\"a\": 1}",
			want:  `{"a": 1}`,
		},
		{
			name:  "think_tag_removed",
			input: "<think>hmm</think>\n{\"a\": 1}",
			want:  `{"a": 1}`,
		},
		{
			name:  "reflection_removed",
			input: "{\"a\": 1}<reflection>was that right?</reflection>",
			want:  `{"a": 1}`,
		},
		{
			name:  "fence_then_thinking",
			input: "```json\n<thinking>x</thinking>{\"a\": 1}\n```",
			want:  `{"a": 1}`,
		},
		{
			name:  "inner_fence_preserved",
			input: "{\"code\": \"```py\"}",
			want:  "{\"code\": \"```py\"}",
		},
		{
			name:  "whitespace_trimmed",
			input: "  \n {\"a\": 1} \n ",
			want:  `{"a": 1}`,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, CleanResponse(tt.input))
		})
	}
}
