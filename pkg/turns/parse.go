package turns

import (
	"log/slog"

	"github.com/turnwheel/turnwheel/pkg/chat"
	"github.com/turnwheel/turnwheel/pkg/tools"
)

// defaultThinkingSignature is used when the service emits a thinking block
// without a signature, so the block can still be preserved and re-sent.
const defaultThinkingSignature = "unsigned"

// Parse reconstructs a ParsedTurn from one complete response. Content blocks
// are folded in order; unknown block types are logged and skipped, never
// fatal.
func Parse(resp *chat.Response) *ParsedTurn {
	turn := &ParsedTurn{
		ID:         resp.ID,
		StopReason: resp.StopReason,
		Usage:      clampUsage(resp.Usage),
	}

	var text, thinking []byte
	for i := range resp.Content {
		block := &resp.Content[i]
		switch block.Type {
		case chat.ContentBlockTypeText:
			text = append(text, block.Text...)

		case chat.ContentBlockTypeThinking:
			thinking = append(thinking, block.Thinking...)
			signature := block.Signature
			if signature == "" {
				signature = defaultThinkingSignature
			}
			turn.ThinkingBlocks = append(turn.ThinkingBlocks, chat.ThinkingBlock{
				Content:   block.Thinking,
				Signature: signature,
			})

		case chat.ContentBlockTypeToolUse:
			turn.ToolCalls = append(turn.ToolCalls, tools.ToolCall{
				ID:        block.ID,
				Name:      block.Name,
				Arguments: rawArguments(block.Input),
			})

		default:
			slog.Debug("Skipping unknown content block type", "type", block.Type, "index", i)
		}
	}

	turn.Text = string(text)
	turn.Thinking = string(thinking)
	return turn
}

// clampUsage floors every counter at zero. Some gateways report deltas or
// omit fields; usage must never go negative.
func clampUsage(u chat.Usage) chat.Usage {
	return chat.Usage{
		InputTokens:    max(u.InputTokens, 0),
		OutputTokens:   max(u.OutputTokens, 0),
		ThinkingTokens: max(u.ThinkingTokens, 0),
	}
}
