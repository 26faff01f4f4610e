package turns

import (
	"encoding/json"
	"strings"

	"github.com/tidwall/gjson"

	"github.com/turnwheel/turnwheel/pkg/chat"
	"github.com/turnwheel/turnwheel/pkg/tools"
)

// ParsedTurn is the structured decomposition of one completed turn, whether
// it arrived as a single response or was reconstructed from a stream. It is
// folded into history once and then discarded.
type ParsedTurn struct {
	ID             string
	Text           string
	Thinking       string
	ThinkingBlocks []chat.ThinkingBlock
	ToolCalls      []tools.ToolCall
	StopReason     chat.StopReason
	Usage          chat.Usage
}

// completionPhrases is the deprecated free-text completion fallback. The
// explicit completion tool and terminal stop reasons take precedence; this
// list is only consulted when neither is conclusive.
var completionPhrases = []string{
	"task is complete",
	"task complete",
	"i have completed the task",
	"nothing further to do",
}

// IsComplete reports whether this turn ends the conversation. It is a pure
// function of the turn: terminal stop reasons and a call to the designated
// completion tool are authoritative; free-text matching is a last-resort
// fallback for services that report neither.
func (t *ParsedTurn) IsComplete(completionTool string) bool {
	switch t.StopReason {
	case chat.StopReasonEndTurn, chat.StopReasonStopSequence:
		return true
	}

	if completionTool != "" {
		for _, call := range t.ToolCalls {
			if call.Name == completionTool {
				return true
			}
		}
	}

	if len(t.ToolCalls) == 0 && t.StopReason != chat.StopReasonMaxTokens {
		lower := strings.ToLower(t.Text)
		for _, phrase := range completionPhrases {
			if strings.Contains(lower, phrase) {
				return true
			}
		}
	}

	return false
}

func (t *ParsedTurn) HasToolCalls() bool {
	return len(t.ToolCalls) > 0
}

// AssistantMessage converts the turn into its history representation,
// preserving thinking blocks verbatim.
func (t *ParsedTurn) AssistantMessage() chat.Message {
	msg := chat.Message{
		Role:           chat.MessageRoleAssistant,
		Content:        t.Text,
		ThinkingBlocks: t.ThinkingBlocks,
	}
	for _, call := range t.ToolCalls {
		msg.ToolCalls = append(msg.ToolCalls, chat.MessageToolCall{
			ID:        call.ID,
			Name:      call.Name,
			Arguments: call.Arguments,
		})
	}
	return msg
}

// SanitizeParameters normalizes a tool-call input of any shape into an
// argument object. It is total: whatever the service sent, the caller gets a
// non-nil map.
func SanitizeParameters(input any) map[string]any {
	switch v := input.(type) {
	case nil:
		return map[string]any{}
	case map[string]any:
		if v == nil {
			return map[string]any{}
		}
		return v
	case json.RawMessage:
		return sanitizeRawJSON(string(v))
	case []byte:
		return sanitizeRawJSON(string(v))
	case string:
		return sanitizeRawJSON(v)
	default:
		return map[string]any{"input": v}
	}
}

func sanitizeRawJSON(raw string) map[string]any {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return map[string]any{}
	}

	if gjson.Valid(trimmed) && strings.HasPrefix(trimmed, "{") {
		var out map[string]any
		if err := json.Unmarshal([]byte(trimmed), &out); err == nil && out != nil {
			return out
		}
	}

	// Not an object: keep the raw payload so nothing is silently dropped.
	return map[string]any{"input": raw}
}

// rawArguments renders a provider-decoded tool input back to its raw JSON
// string form for history storage.
func rawArguments(input any) string {
	switch v := input.(type) {
	case nil:
		return ""
	case string:
		return v
	case json.RawMessage:
		return string(v)
	case []byte:
		return string(v)
	default:
		data, err := json.Marshal(v)
		if err != nil {
			return ""
		}
		return string(data)
	}
}
