package anthropic

import (
	"testing"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/turnwheel/turnwheel/pkg/chat"
	"github.com/turnwheel/turnwheel/pkg/model/provider"
	"github.com/turnwheel/turnwheel/pkg/tools"
)

func TestNewClientValidation(t *testing.T) {
	t.Parallel()

	_, err := NewClient(Config{Model: "claude-sonnet-4-0"})
	require.Error(t, err)

	_, err = NewClient(Config{APIKey: "key"})
	require.Error(t, err)

	c, err := NewClient(Config{APIKey: "key", Model: "claude-sonnet-4-0"})
	require.NoError(t, err)
	assert.Equal(t, "anthropic/claude-sonnet-4-0", c.ID())
}

func TestConvertMessages(t *testing.T) {
	t.Parallel()

	messages := []chat.Message{
		{Role: chat.MessageRoleSystem, Content: "be terse"},
		{Role: chat.MessageRoleUser, Content: "look this up"},
		{
			Role:    chat.MessageRoleAssistant,
			Content: "on it",
			ToolCalls: []chat.MessageToolCall{
				{ID: "c1", Name: "search", Arguments: `{"q":"go"}`},
				{ID: "c2", Name: "search", Arguments: `{"q":"yaml"}`},
			},
		},
		{Role: chat.MessageRoleTool, ToolCallID: "c1", Content: "result one"},
		{Role: chat.MessageRoleTool, ToolCallID: "c2", Content: "result two"},
		{Role: chat.MessageRoleAssistant, Content: "done"},
	}

	out := convertMessages(messages)

	// System is excluded and both tool results collapse into one user message.
	require.Len(t, out, 4)
	assert.Equal(t, anthropic.MessageParamRoleUser, out[0].Role)
	assert.Equal(t, anthropic.MessageParamRoleAssistant, out[1].Role)
	assert.Equal(t, anthropic.MessageParamRoleUser, out[2].Role)
	require.Len(t, out[2].Content, 2)
	assert.Equal(t, anthropic.MessageParamRoleAssistant, out[3].Role)
}

func TestConvertMessagesDropsOrphanedToolResults(t *testing.T) {
	t.Parallel()

	messages := []chat.Message{
		{Role: chat.MessageRoleTool, ToolCallID: "gone", Content: "stale result"},
		{Role: chat.MessageRoleUser, Content: "hello"},
	}

	out := convertMessages(messages)
	require.Len(t, out, 1)
	assert.Equal(t, anthropic.MessageParamRoleUser, out[0].Role)
	require.Len(t, out[0].Content, 1)
	assert.NotNil(t, out[0].Content[0].OfText)
}

func TestConvertMessagesSkipsEmptyContent(t *testing.T) {
	t.Parallel()

	messages := []chat.Message{
		{Role: chat.MessageRoleUser, Content: "   "},
		{Role: chat.MessageRoleAssistant, Content: ""},
	}
	assert.Empty(t, convertMessages(messages))
}

func TestAssistantBlocksOrdering(t *testing.T) {
	t.Parallel()

	msg := &chat.Message{
		Role:    chat.MessageRoleAssistant,
		Content: "answer",
		ThinkingBlocks: []chat.ThinkingBlock{
			{Content: "reasoning", Signature: "sig-1"},
			{Content: "unsigned block", Signature: ""},
		},
		ToolCalls: []chat.MessageToolCall{
			{ID: "c1", Name: "search", Arguments: `{"q":"go"}`},
		},
	}

	blocks := assistantBlocks(msg)
	// Unsigned thinking blocks are not re-sent.
	require.Len(t, blocks, 3)
	assert.NotNil(t, blocks[0].OfThinking)
	assert.NotNil(t, blocks[1].OfText)
	require.NotNil(t, blocks[2].OfToolUse)
	assert.Equal(t, "c1", blocks[2].OfToolUse.ID)
}

func TestAssistantBlocksMalformedArgumentsBecomeEmptyObject(t *testing.T) {
	t.Parallel()

	msg := &chat.Message{
		Role:      chat.MessageRoleAssistant,
		ToolCalls: []chat.MessageToolCall{{ID: "c1", Name: "search", Arguments: `{"broken`}},
	}

	blocks := assistantBlocks(msg)
	require.Len(t, blocks, 1)
	require.NotNil(t, blocks[0].OfToolUse)
	assert.Equal(t, map[string]any{}, blocks[0].OfToolUse.Input)
}

func TestConvertTools(t *testing.T) {
	t.Parallel()

	out, err := convertTools([]tools.Tool{
		{
			Name:        "search",
			Description: "finds things",
			Parameters: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"q": map[string]any{"type": "string"},
				},
				"required": []any{"q"},
			},
		},
	})
	require.NoError(t, err)
	require.Len(t, out, 1)
	require.NotNil(t, out[0].OfTool)
	assert.Equal(t, "search", out[0].OfTool.Name)
	assert.Contains(t, out[0].OfTool.InputSchema.Properties, "q")
}

func TestConvertInputSchemaNilDefaultsToObject(t *testing.T) {
	t.Parallel()

	schema, err := convertInputSchema(nil)
	require.NoError(t, err)
	assert.Equal(t, "object", string(schema.Type))
}

func TestBuildParams(t *testing.T) {
	t.Parallel()

	c, err := NewClient(Config{APIKey: "key", Model: "claude-sonnet-4-0"})
	require.NoError(t, err)

	params, err := c.buildParams(provider.Request{
		System:         "be terse",
		Messages:       []chat.Message{{Role: chat.MessageRoleUser, Content: "hi"}},
		MaxTokens:      4096,
		ThinkingBudget: 2048,
	})
	require.NoError(t, err)

	assert.Equal(t, int64(4096), params.MaxTokens)
	require.Len(t, params.System, 1)
	assert.Equal(t, "be terse", params.System[0].Text)
	require.NotNil(t, params.Thinking.OfEnabled)
	assert.Equal(t, int64(2048), params.Thinking.OfEnabled.BudgetTokens)
}

func TestBuildParamsDefaultsAndGuards(t *testing.T) {
	t.Parallel()

	c, err := NewClient(Config{APIKey: "key", Model: "claude-sonnet-4-0"})
	require.NoError(t, err)

	// Default max tokens is applied.
	params, err := c.buildParams(provider.Request{
		Messages: []chat.Message{{Role: chat.MessageRoleUser, Content: "hi"}},
	})
	require.NoError(t, err)
	assert.Equal(t, int64(defaultMaxTokens), params.MaxTokens)

	// A thinking budget below the service minimum is ignored.
	params, err = c.buildParams(provider.Request{
		Messages:       []chat.Message{{Role: chat.MessageRoleUser, Content: "hi"}},
		ThinkingBudget: 100,
	})
	require.NoError(t, err)
	assert.Nil(t, params.Thinking.OfEnabled)

	// No sendable messages is an error, not an empty request.
	_, err = c.buildParams(provider.Request{
		Messages: []chat.Message{{Role: chat.MessageRoleSystem, Content: "sys"}},
	})
	require.Error(t, err)
}
