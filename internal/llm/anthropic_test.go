package llm

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuildAnthropicMessagesCarriesPreambleWithToolCalls(t *testing.T) {
	messages := []Message{
		{Role: RoleUser, Content: "where is the config?"},
		{
			Role:    RoleAssistant,
			Content: "checking the index first",
			ToolCalls: []ToolRequest{
				{ID: "c1", Name: "lookup", Args: map[string]interface{}{"key": "config"}},
			},
		},
		{
			Role:        RoleTool,
			ToolResults: []ToolResult{{ID: "c1", Name: "lookup", Content: "/etc/app.yaml"}},
		},
	}

	out := buildAnthropicMessages(messages)
	require.Len(t, out, 3)
	assert.Len(t, out[1].Content, 2, "preamble text block plus tool_use block")
	assert.Len(t, out[2].Content, 1, "tool results travel in a following user message")
}

func TestBuildAnthropicMessagesSystemHandledSeparately(t *testing.T) {
	messages := []Message{
		{Role: RoleSystem, Content: "be terse"},
		{Role: RoleUser, Content: "hello"},
	}

	out := buildAnthropicMessages(messages)
	require.Len(t, out, 1, "system prompts never appear in the message list")

	blocks := extractSystemBlocks(messages)
	require.Len(t, blocks, 1)
	assert.Equal(t, "be terse", blocks[0].Text)
}
