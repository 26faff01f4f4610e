package turns

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/turnwheel/turnwheel/pkg/chat"
)

func TestParse(t *testing.T) {
	t.Parallel()

	resp := &chat.Response{
		ID: "msg_1",
		Content: []chat.ContentBlock{
			{Type: chat.ContentBlockTypeThinking, Thinking: "Plan first. ", Signature: "sig-a"},
			{Type: chat.ContentBlockTypeText, Text: "Here is "},
			{Type: chat.ContentBlockTypeText, Text: "the answer."},
			{Type: chat.ContentBlockTypeToolUse, ID: "t1", Name: "search", Input: `{"q":"go"}`},
		},
		StopReason: chat.StopReasonToolUse,
		Usage:      chat.Usage{InputTokens: 10, OutputTokens: 20},
	}

	turn := Parse(resp)

	assert.Equal(t, "msg_1", turn.ID)
	assert.Equal(t, "Here is the answer.", turn.Text)
	assert.Equal(t, "Plan first. ", turn.Thinking)
	require.Len(t, turn.ThinkingBlocks, 1)
	assert.Equal(t, "sig-a", turn.ThinkingBlocks[0].Signature)
	require.Len(t, turn.ToolCalls, 1)
	assert.Equal(t, "t1", turn.ToolCalls[0].ID)
	assert.Equal(t, `{"q":"go"}`, turn.ToolCalls[0].Arguments)
	assert.Equal(t, chat.StopReasonToolUse, turn.StopReason)
	assert.Equal(t, int64(10), turn.Usage.InputTokens)
}

func TestParseUnknownBlockTypesAreSkipped(t *testing.T) {
	t.Parallel()

	resp := &chat.Response{
		Content: []chat.ContentBlock{
			{Type: "server_tool_use"},
			{Type: chat.ContentBlockTypeText, Text: "ok"},
		},
		StopReason: chat.StopReasonEndTurn,
	}

	turn := Parse(resp)
	assert.Equal(t, "ok", turn.Text)
	assert.Empty(t, turn.ToolCalls)
}

func TestParseDefaultsThinkingSignature(t *testing.T) {
	t.Parallel()

	resp := &chat.Response{
		Content: []chat.ContentBlock{
			{Type: chat.ContentBlockTypeThinking, Thinking: "hmm"},
		},
		StopReason: chat.StopReasonEndTurn,
	}

	turn := Parse(resp)
	require.Len(t, turn.ThinkingBlocks, 1)
	assert.Equal(t, defaultThinkingSignature, turn.ThinkingBlocks[0].Signature)
}

func TestParseClampsNegativeUsage(t *testing.T) {
	t.Parallel()

	resp := &chat.Response{
		StopReason: chat.StopReasonEndTurn,
		Usage:      chat.Usage{InputTokens: -5, OutputTokens: 7},
	}

	turn := Parse(resp)
	assert.Equal(t, int64(0), turn.Usage.InputTokens)
	assert.Equal(t, int64(7), turn.Usage.OutputTokens)
}
