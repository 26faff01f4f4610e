package turns

import (
	"time"

	"github.com/turnwheel/turnwheel/pkg/chat"
)

// progressWindow is how many recent events the tracker remembers. Phase is
// derived from this trailing window rather than the full event history so a
// snapshot stays O(1) no matter how long the turn runs.
const progressWindow = 16

// tokenCharsPerToken is the pre-authoritative estimate divisor: roughly four
// emitted characters per token until the service reports real usage.
const tokenCharsPerToken = 4

// Progress is the payload handed to progress callbacks.
type Progress struct {
	Phase          Phase
	Message        string
	TokensEstimate int64
	ElapsedMs      int64
}

// eventKind is the compressed per-event category stored in the ring.
type eventKind uint8

const (
	kindOther eventKind = iota
	kindText
	kindThinking
	kindToolUse
	kindComplete
)

// ProgressTracker derives a live progress signal from a trailing window of
// stream events.
type ProgressTracker struct {
	start    time.Time
	ring     [progressWindow]eventKind
	pos      int
	count    int
	chars    int64
	usage    *chat.Usage
	complete bool
}

func newProgressTracker(start time.Time) ProgressTracker {
	return ProgressTracker{start: start}
}

func (p *ProgressTracker) Observe(ev chat.StreamEvent) {
	kind := kindOther
	switch ev.Type {
	case chat.StreamEventContentBlockDelta:
		switch {
		case ev.ThinkingDelta != "":
			kind = kindThinking
			p.chars += int64(len(ev.ThinkingDelta))
		case ev.InputJSONDelta != "":
			kind = kindToolUse
			p.chars += int64(len(ev.InputJSONDelta))
		case ev.TextDelta != "":
			kind = kindText
			p.chars += int64(len(ev.TextDelta))
		}
	case chat.StreamEventContentBlockStart:
		switch ev.BlockType {
		case chat.ContentBlockTypeToolUse:
			kind = kindToolUse
		case chat.ContentBlockTypeThinking:
			kind = kindThinking
		case chat.ContentBlockTypeText:
			kind = kindText
		}
	case chat.StreamEventMessageStop:
		kind = kindComplete
		p.complete = true
	case chat.StreamEventMessageDelta:
		if ev.Usage != nil {
			u := clampUsage(*ev.Usage)
			p.usage = &u
		}
	}

	p.ring[p.pos] = kind
	p.pos = (p.pos + 1) % progressWindow
	if p.count < progressWindow {
		p.count++
	}
}

// MarkComplete forces the terminal phase, used on cancellation.
func (p *ProgressTracker) MarkComplete() {
	p.complete = true
}

// Snapshot computes the current progress. Phase priority is fixed:
// complete > thinking > tool_use > streaming > starting.
func (p *ProgressTracker) Snapshot(now time.Time) Progress {
	return Progress{
		Phase:          p.phase(),
		TokensEstimate: p.tokensEstimate(),
		ElapsedMs:      now.Sub(p.start).Milliseconds(),
	}
}

func (p *ProgressTracker) phase() Phase {
	if p.complete {
		return PhaseComplete
	}

	var sawThinking, sawToolUse, sawText bool
	for i := range p.count {
		switch p.ring[i] {
		case kindThinking:
			sawThinking = true
		case kindToolUse:
			sawToolUse = true
		case kindText:
			sawText = true
		}
	}

	switch {
	case sawThinking:
		return PhaseThinking
	case sawToolUse:
		return PhaseToolUse
	case sawText:
		return PhaseStreaming
	default:
		return PhaseStarting
	}
}

// tokensEstimate prefers the service-reported usage once available; until
// then it estimates from emitted characters.
func (p *ProgressTracker) tokensEstimate() int64 {
	if p.usage != nil {
		return p.usage.Total()
	}
	return p.chars / tokenCharsPerToken
}
