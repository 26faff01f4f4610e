package runtime

import (
	"sync"

	"github.com/turnwheel/turnwheel/pkg/turns"
)

// outputGate owns partial-output delivery for one turn across its retry
// attempts. One mutex spans buffer drains and callback invocation, so chunks
// reach the consumer in drain order and the callbacks never run
// concurrently. Delivered-rune counters survive rearm: when a failed attempt
// is retried, the replayed stream is delivered only past the point the
// consumer has already seen.
type outputGate struct {
	mu   sync.Mutex
	mode turns.DrainMode

	onText     func(string)
	onThinking func(string)

	textBuf     *turns.OutputBuffer
	thinkingBuf *turns.OutputBuffer

	seenText     int
	sentText     int
	seenThinking int
	sentThinking int
}

func newOutputGate(mode turns.DrainMode, onText, onThinking func(string)) *outputGate {
	return &outputGate{
		mode:        mode,
		onText:      onText,
		onThinking:  onThinking,
		textBuf:     turns.NewOutputBuffer(mode),
		thinkingBuf: turns.NewOutputBuffer(mode),
	}
}

// rearm resets per-attempt state for a retry of the same turn. Whatever the
// failed attempt buffered but never delivered is discarded; the delivered
// counters stay, so the new attempt skips straight to fresh output.
func (g *outputGate) rearm() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.textBuf = turns.NewOutputBuffer(g.mode)
	g.thinkingBuf = turns.NewOutputBuffer(g.mode)
	g.seenText = 0
	g.seenThinking = 0
}

func (g *outputGate) PushText(s string) {
	g.mu.Lock()
	g.textBuf.Push(s)
	g.mu.Unlock()
}

func (g *outputGate) PushThinking(s string) {
	g.mu.Lock()
	g.thinkingBuf.Push(s)
	g.mu.Unlock()
}

// drain hands up to maxChars from each buffer to its callback; negative
// maxChars delivers everything buffered.
func (g *outputGate) drain(maxChars int) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.onText != nil {
		g.emit(g.onText, g.textBuf.Drain(maxChars), &g.seenText, &g.sentText)
	}
	if g.onThinking != nil {
		g.emit(g.onThinking, g.thinkingBuf.Drain(maxChars), &g.seenThinking, &g.sentThinking)
	}
}

// flush empties both buffers regardless of pacing.
func (g *outputGate) flush() {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.onText != nil {
		g.emit(g.onText, g.textBuf.Flush(), &g.seenText, &g.sentText)
	}
	if g.onThinking != nil {
		g.emit(g.onThinking, g.thinkingBuf.Flush(), &g.seenThinking, &g.sentThinking)
	}
}

// emit delivers the part of chunk past what an earlier attempt of this turn
// already handed to the consumer. Called with g.mu held.
func (g *outputGate) emit(out func(string), chunk string, seen, sent *int) {
	if chunk == "" {
		return
	}
	runes := []rune(chunk)
	*seen += len(runes)
	if *seen <= *sent {
		return
	}
	fresh := runes[len(runes)-(*seen-*sent):]
	*sent = *seen
	out(string(fresh))
}
