package turns

import (
	"log/slog"
	"strings"
	"time"

	"github.com/turnwheel/turnwheel/pkg/chat"
	"github.com/turnwheel/turnwheel/pkg/tools"
)

// Phase is the accumulator's position in the turn lifecycle.
type Phase string

const (
	PhaseStarting  Phase = "starting"
	PhaseStreaming Phase = "streaming"
	PhaseThinking  Phase = "thinking"
	PhaseToolUse   Phase = "tool_use"
	PhaseComplete  Phase = "complete"
	PhaseError     Phase = "error"
)

// Signal is an output emitted by the accumulator while folding an event.
// Modeling outputs as values keeps the reducer directly unit-testable
// without an event-loop harness.
type Signal interface {
	isSignal()
}

// TextSignal carries freshly arrived response text.
type TextSignal struct {
	Text string
}

// ThinkingSignal carries freshly arrived reasoning text.
type ThinkingSignal struct {
	Text string
}

// TurnSignal carries the finalized turn. Emitted exactly once, on
// message_stop.
type TurnSignal struct {
	Turn *ParsedTurn
}

// ErrorSignal carries a stream error. The accumulator is terminal afterwards.
type ErrorSignal struct {
	Err error
}

func (TextSignal) isSignal()     {}
func (ThinkingSignal) isSignal() {}
func (TurnSignal) isSignal()     {}
func (ErrorSignal) isSignal()    {}

// blockState tracks one in-flight content block by stream index.
type blockState struct {
	typ       chat.ContentBlockType
	thinking  strings.Builder
	signature strings.Builder
	toolIndex int // position in toolCalls for tool_use blocks
	toolArgs  strings.Builder
	closed    bool
}

// Accumulator reconstructs a ParsedTurn from an ordered event sequence. It is
// an explicit reducer: Apply folds one event and returns the signals that
// event produced. One accumulator serves exactly one in-flight turn and is
// owned by its orchestrator; nothing is shared between conversations.
type Accumulator struct {
	phase      Phase
	messageID  string
	startTime  time.Time
	text       strings.Builder
	thinking   strings.Builder
	blocks     map[int]*blockState
	thinkBlks  []chat.ThinkingBlock
	toolCalls  []tools.ToolCall
	usage      chat.Usage
	stopReason chat.StopReason
	err        error
	progress   ProgressTracker
	finalTurn  *ParsedTurn
}

func NewAccumulator() *Accumulator {
	now := time.Now()
	return &Accumulator{
		phase:     PhaseStarting,
		startTime: now,
		blocks:    make(map[int]*blockState),
		progress:  newProgressTracker(now),
	}
}

func (a *Accumulator) Phase() Phase { return a.phase }

func (a *Accumulator) MessageID() string { return a.messageID }

func (a *Accumulator) Err() error { return a.err }

// Turn returns the finalized turn, or nil before message_stop.
func (a *Accumulator) Turn() *ParsedTurn { return a.finalTurn }

func (a *Accumulator) terminal() bool {
	return a.phase == PhaseComplete || a.phase == PhaseError
}

// Apply folds one event into the accumulator, strictly in arrival order.
// Events after a terminal state are ignored with a diagnostic; they must
// never crash the turn.
func (a *Accumulator) Apply(ev chat.StreamEvent) []Signal {
	if a.terminal() {
		slog.Debug("Ignoring event after terminal state", "type", ev.Type, "phase", a.phase, "message_id", a.messageID)
		return nil
	}

	a.progress.Observe(ev)

	switch ev.Type {
	case chat.StreamEventMessageStart:
		a.messageID = ev.MessageID
		a.usage = chat.Usage{}
		if ev.Usage != nil {
			a.usage = clampUsage(*ev.Usage)
		}
		return nil

	case chat.StreamEventContentBlockStart:
		return a.applyBlockStart(ev)

	case chat.StreamEventContentBlockDelta:
		return a.applyBlockDelta(ev)

	case chat.StreamEventContentBlockStop:
		a.closeBlock(ev.Index)
		return nil

	case chat.StreamEventMessageDelta:
		if ev.Usage != nil {
			a.mergeUsage(*ev.Usage)
		}
		if ev.StopReason != "" {
			a.stopReason = ev.StopReason
		}
		return nil

	case chat.StreamEventMessageStop:
		return a.finalize()

	case chat.StreamEventError:
		a.phase = PhaseError
		a.err = ev.Err
		return []Signal{ErrorSignal{Err: ev.Err}}

	default:
		slog.Debug("Skipping unknown stream event type", "type", ev.Type)
		return nil
	}
}

func (a *Accumulator) applyBlockStart(ev chat.StreamEvent) []Signal {
	block := &blockState{typ: ev.BlockType, toolIndex: -1}
	a.blocks[ev.Index] = block

	switch ev.BlockType {
	case chat.ContentBlockTypeToolUse:
		block.toolIndex = len(a.toolCalls)
		a.toolCalls = append(a.toolCalls, tools.ToolCall{ID: ev.ToolID, Name: ev.ToolName})
		a.phase = PhaseToolUse
	case chat.ContentBlockTypeThinking:
		a.phase = PhaseThinking
	default:
		a.phase = PhaseStreaming
	}

	// A start event may already carry the block's initial content; fold it
	// like any delta so nothing is dropped.
	return a.applyBlockDelta(ev)
}

func (a *Accumulator) applyBlockDelta(ev chat.StreamEvent) []Signal {
	var signals []Signal

	if ev.TextDelta != "" {
		a.text.WriteString(ev.TextDelta)
		a.phase = PhaseStreaming
		signals = append(signals, TextSignal{Text: ev.TextDelta})
	}
	if ev.ThinkingDelta != "" {
		a.thinking.WriteString(ev.ThinkingDelta)
		a.phase = PhaseThinking
		if block := a.blocks[ev.Index]; block != nil {
			block.thinking.WriteString(ev.ThinkingDelta)
		}
		signals = append(signals, ThinkingSignal{Text: ev.ThinkingDelta})
	}
	if ev.SignatureDelta != "" {
		if block := a.blocks[ev.Index]; block != nil {
			block.signature.WriteString(ev.SignatureDelta)
		}
	}
	if ev.InputJSONDelta != "" {
		a.phase = PhaseToolUse
		if block := a.blocks[ev.Index]; block != nil && block.toolIndex >= 0 {
			block.toolArgs.WriteString(ev.InputJSONDelta)
		}
	}
	return signals
}

// closeBlock flushes one content block. Thinking blocks are preserved
// individually, with a default signature when the service omitted one.
func (a *Accumulator) closeBlock(index int) {
	block := a.blocks[index]
	if block == nil || block.closed {
		return
	}
	block.closed = true

	switch block.typ {
	case chat.ContentBlockTypeThinking:
		signature := block.signature.String()
		if signature == "" {
			signature = defaultThinkingSignature
		}
		a.thinkBlks = append(a.thinkBlks, chat.ThinkingBlock{
			Content:   block.thinking.String(),
			Signature: signature,
		})
	case chat.ContentBlockTypeToolUse:
		if block.toolIndex >= 0 && block.toolIndex < len(a.toolCalls) {
			a.toolCalls[block.toolIndex].Arguments = block.toolArgs.String()
		}
	}
}

func (a *Accumulator) finalize() []Signal {
	a.closeOpenBlocks()

	stopReason := a.stopReason
	if stopReason == "" {
		stopReason = chat.StopReasonEndTurn
	}

	a.finalTurn = &ParsedTurn{
		ID:             a.messageID,
		Text:           a.text.String(),
		Thinking:       a.thinking.String(),
		ThinkingBlocks: a.thinkBlks,
		ToolCalls:      a.toolCalls,
		StopReason:     stopReason,
		Usage:          a.usage,
	}
	a.phase = PhaseComplete
	return []Signal{TurnSignal{Turn: a.finalTurn}}
}

// Cancel stops the turn immediately, flushing whatever has accumulated
// instead of discarding it. The returned turn carries all text and thinking
// received so far.
func (a *Accumulator) Cancel() *ParsedTurn {
	if a.terminal() {
		return a.finalTurn
	}

	a.closeOpenBlocks()
	a.finalTurn = &ParsedTurn{
		ID:             a.messageID,
		Text:           a.text.String(),
		Thinking:       a.thinking.String(),
		ThinkingBlocks: a.thinkBlks,
		ToolCalls:      a.toolCalls,
		StopReason:     chat.StopReasonEndTurn,
		Usage:          a.usage,
	}
	a.phase = PhaseComplete
	a.progress.MarkComplete()
	return a.finalTurn
}

func (a *Accumulator) closeOpenBlocks() {
	for index, block := range a.blocks {
		if !block.closed {
			a.closeBlock(index)
		}
	}
}

// mergeUsage folds a partial usage report. Counters are monotone: the service
// reports cumulative totals, so we keep the maximum seen per counter.
func (a *Accumulator) mergeUsage(u chat.Usage) {
	u = clampUsage(u)
	a.usage.InputTokens = max(a.usage.InputTokens, u.InputTokens)
	a.usage.OutputTokens = max(a.usage.OutputTokens, u.OutputTokens)
	a.usage.ThinkingTokens = max(a.usage.ThinkingTokens, u.ThinkingTokens)
}

// Progress reports the current phase, token estimate and elapsed time,
// derived from a trailing window of recent events.
func (a *Accumulator) Progress(now time.Time) Progress {
	return a.progress.Snapshot(now)
}
