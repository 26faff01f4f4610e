package anthropic

import (
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/packages/ssestream"

	"github.com/turnwheel/turnwheel/pkg/chat"
)

// streamAdapter translates the Anthropic SSE stream into normalized events.
type streamAdapter struct {
	stream *ssestream.Stream[anthropic.MessageStreamEventUnion]
}

func newStreamAdapter(stream *ssestream.Stream[anthropic.MessageStreamEventUnion]) *streamAdapter {
	return &streamAdapter{stream: stream}
}

// Recv returns the next normalized event. It returns io.EOF once the
// underlying stream is exhausted.
func (a *streamAdapter) Recv() (chat.StreamEvent, error) {
	if !a.stream.Next() {
		if err := a.stream.Err(); err != nil {
			return chat.StreamEvent{}, fmt.Errorf("anthropic stream: %w", err)
		}
		return chat.StreamEvent{}, io.EOF
	}

	event := a.stream.Current()
	out := chat.StreamEvent{Timestamp: time.Now()}

	switch eventVariant := event.AsAny().(type) {
	case anthropic.MessageStartEvent:
		out.Type = chat.StreamEventMessageStart
		out.MessageID = eventVariant.Message.ID
		out.Usage = &chat.Usage{
			InputTokens:  eventVariant.Message.Usage.InputTokens,
			OutputTokens: eventVariant.Message.Usage.OutputTokens,
		}

	case anthropic.ContentBlockStartEvent:
		out.Type = chat.StreamEventContentBlockStart
		out.Index = int(eventVariant.Index)
		switch block := eventVariant.ContentBlock.AsAny().(type) {
		case anthropic.ToolUseBlock:
			out.BlockType = chat.ContentBlockTypeToolUse
			out.ToolID = block.ID
			out.ToolName = block.Name
		case anthropic.ThinkingBlock:
			out.BlockType = chat.ContentBlockTypeThinking
			out.ThinkingDelta = block.Thinking
			out.SignatureDelta = block.Signature
		case anthropic.TextBlock:
			out.BlockType = chat.ContentBlockTypeText
			out.TextDelta = block.Text
		default:
			out.BlockType = chat.ContentBlockType(eventVariant.ContentBlock.Type)
		}

	case anthropic.ContentBlockDeltaEvent:
		out.Type = chat.StreamEventContentBlockDelta
		out.Index = int(eventVariant.Index)
		switch deltaVariant := eventVariant.Delta.AsAny().(type) {
		case anthropic.TextDelta:
			out.TextDelta = deltaVariant.Text
		case anthropic.ThinkingDelta:
			out.ThinkingDelta = deltaVariant.Thinking
		case anthropic.SignatureDelta:
			out.SignatureDelta = deltaVariant.Signature
		case anthropic.InputJSONDelta:
			out.InputJSONDelta = deltaVariant.PartialJSON
		default:
			slog.Debug("Unknown content delta type, skipping", "type", eventVariant.Delta.Type)
		}

	case anthropic.ContentBlockStopEvent:
		out.Type = chat.StreamEventContentBlockStop
		out.Index = int(eventVariant.Index)

	case anthropic.MessageDeltaEvent:
		out.Type = chat.StreamEventMessageDelta
		out.StopReason = chat.StopReason(eventVariant.Delta.StopReason)
		out.Usage = &chat.Usage{
			InputTokens:  eventVariant.Usage.InputTokens,
			OutputTokens: eventVariant.Usage.OutputTokens,
		}

	case anthropic.MessageStopEvent:
		out.Type = chat.StreamEventMessageStop

	default:
		slog.Debug("Unknown stream event type, skipping", "type", event.Type)
		out.Type = chat.StreamEventType(event.Type)
	}

	return out, nil
}

// Close closes the underlying stream.
func (a *streamAdapter) Close() {
	if a.stream != nil {
		a.stream.Close()
	}
}
