package turns

import "sync"

type DrainMode int

const (
	// DrainImmediate hands text to the caller as soon as it arrives.
	DrainImmediate DrainMode = iota
	// DrainTypewriter releases a bounded number of characters per drain
	// call, letting the caller pace output with its own timer.
	DrainTypewriter
)

// OutputBuffer decouples accumulated text from its delivery cadence. The
// buffer holds no timers: in typewriter mode the caller decides when and how
// much to drain, which keeps pacing deterministic in tests. Flush must leave
// zero bytes behind.
type OutputBuffer struct {
	mu      sync.Mutex
	mode    DrainMode
	pending []rune
}

func NewOutputBuffer(mode DrainMode) *OutputBuffer {
	return &OutputBuffer{mode: mode}
}

func (b *OutputBuffer) Push(s string) {
	if s == "" {
		return
	}
	b.mu.Lock()
	b.pending = append(b.pending, []rune(s)...)
	b.mu.Unlock()
}

// Drain returns the next chunk. In immediate mode that is everything
// pending; in typewriter mode it is at most maxChars characters.
func (b *OutputBuffer) Drain(maxChars int) string {
	b.mu.Lock()
	defer b.mu.Unlock()

	if len(b.pending) == 0 {
		return ""
	}

	n := len(b.pending)
	if b.mode == DrainTypewriter && maxChars >= 0 && maxChars < n {
		n = maxChars
	}

	out := string(b.pending[:n])
	b.pending = b.pending[n:]
	return out
}

// Flush empties the buffer regardless of mode. Used on content_block_stop
// and on cancellation so no output is lost.
func (b *OutputBuffer) Flush() string {
	b.mu.Lock()
	defer b.mu.Unlock()

	out := string(b.pending)
	b.pending = b.pending[:0]
	return out
}

func (b *OutputBuffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.pending)
}
