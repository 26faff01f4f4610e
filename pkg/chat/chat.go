package chat

import "time"

type MessageRole string

const (
	MessageRoleSystem    MessageRole = "system"
	MessageRoleUser      MessageRole = "user"
	MessageRoleAssistant MessageRole = "assistant"
	MessageRoleTool      MessageRole = "tool"
)

// Message is one entry of conversation history. Once appended to a session it
// is never mutated.
type Message struct {
	Role    MessageRole `json:"role"`
	Content string      `json:"content"`

	// ThinkingBlocks carries the assistant's reasoning segments verbatim so
	// they can be re-sent to the service. They are never parsed for control
	// flow.
	ThinkingBlocks []ThinkingBlock `json:"thinking_blocks,omitempty"`

	// ToolCalls is set on assistant messages that request tool invocations.
	ToolCalls []MessageToolCall `json:"tool_calls,omitempty"`

	// ToolCallID pairs a tool message with the call that produced it.
	ToolCallID string `json:"tool_call_id,omitempty"`
	IsError    bool   `json:"is_error,omitempty"`

	CreatedAt string `json:"created_at,omitempty"`
}

// MessageToolCall is the history-facing shape of a requested tool call.
// Arguments holds the raw JSON exactly as the service sent it.
type MessageToolCall struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Arguments string `json:"arguments"`
}

// ThinkingBlock is an opaque reasoning segment. The signature is a
// verification token issued by the service; we store it and hand it back
// untouched.
type ThinkingBlock struct {
	Content   string `json:"content"`
	Signature string `json:"signature"`
}

type StopReason string

const (
	StopReasonEndTurn      StopReason = "end_turn"
	StopReasonStopSequence StopReason = "stop_sequence"
	StopReasonToolUse      StopReason = "tool_use"
	StopReasonMaxTokens    StopReason = "max_tokens"
)

// Usage aggregates token counters for one turn. Missing counters stay zero.
type Usage struct {
	InputTokens    int64 `json:"input_tokens"`
	OutputTokens   int64 `json:"output_tokens"`
	ThinkingTokens int64 `json:"thinking_tokens"`
}

// Add merges partial usage reports. Counters only ever grow.
func (u *Usage) Add(other Usage) {
	u.InputTokens += other.InputTokens
	u.OutputTokens += other.OutputTokens
	u.ThinkingTokens += other.ThinkingTokens
}

func (u Usage) Total() int64 {
	return u.InputTokens + u.OutputTokens + u.ThinkingTokens
}

type ContentBlockType string

const (
	ContentBlockTypeText     ContentBlockType = "text"
	ContentBlockTypeThinking ContentBlockType = "thinking"
	ContentBlockTypeToolUse  ContentBlockType = "tool_use"
)

// ContentBlock is the provider-normalized shape of one response block.
// Providers translate their wire types into this at the edge so the rest of
// the system never sees vendor SDK types.
type ContentBlock struct {
	Type ContentBlockType

	// Text blocks
	Text string

	// Thinking blocks
	Thinking  string
	Signature string

	// Tool-use blocks. Input is left as whatever the provider decoded:
	// raw JSON, a map, a bare string, or nil.
	ID    string
	Name  string
	Input any
}

// Response is one complete (non-streamed) turn from the model service.
type Response struct {
	ID         string
	Model      string
	Content    []ContentBlock
	StopReason StopReason
	Usage      Usage
}

type StreamEventType string

const (
	StreamEventMessageStart      StreamEventType = "message_start"
	StreamEventContentBlockStart StreamEventType = "content_block_start"
	StreamEventContentBlockDelta StreamEventType = "content_block_delta"
	StreamEventContentBlockStop  StreamEventType = "content_block_stop"
	StreamEventMessageDelta      StreamEventType = "message_delta"
	StreamEventMessageStop       StreamEventType = "message_stop"
	StreamEventError             StreamEventType = "error"
)

// StreamEvent is the provider-normalized incremental event. Exactly one
// delta field is populated per event, depending on Type and BlockType.
type StreamEvent struct {
	Type      StreamEventType
	Index     int
	Timestamp time.Time

	// message_start
	MessageID string

	// content_block_start
	BlockType ContentBlockType
	ToolID    string
	ToolName  string

	// content_block_delta
	TextDelta      string
	ThinkingDelta  string
	SignatureDelta string
	InputJSONDelta string

	// message_delta / message_stop
	Usage      *Usage
	StopReason StopReason

	// error
	Err error
}

// MessageStream yields normalized events for one in-flight turn, strictly in
// arrival order. Recv returns io.EOF once the stream is exhausted.
type MessageStream interface {
	Recv() (StreamEvent, error)
	Close()
}
