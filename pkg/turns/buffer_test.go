package turns

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestOutputBufferImmediateDrainsEverything(t *testing.T) {
	t.Parallel()

	buf := NewOutputBuffer(DrainImmediate)
	buf.Push("Hello, ")
	buf.Push("world!")

	assert.Equal(t, "Hello, world!", buf.Drain(-1))
	assert.Equal(t, "", buf.Drain(-1))
	assert.Equal(t, 0, buf.Len())
}

func TestOutputBufferTypewriterPacesOutput(t *testing.T) {
	t.Parallel()

	buf := NewOutputBuffer(DrainTypewriter)
	buf.Push("abcd")

	assert.Equal(t, "a", buf.Drain(1))
	assert.Equal(t, "bc", buf.Drain(2))
	assert.Equal(t, "d", buf.Drain(10))
	assert.Equal(t, "", buf.Drain(1))
}

func TestOutputBufferFlushLeavesNothingBehind(t *testing.T) {
	t.Parallel()

	buf := NewOutputBuffer(DrainTypewriter)
	buf.Push("some pending text")
	_ = buf.Drain(4)

	assert.Equal(t, " pending text", buf.Flush())
	assert.Equal(t, 0, buf.Len())
	assert.Equal(t, "", buf.Flush())
}

func TestOutputBufferHandlesMultibyteRunes(t *testing.T) {
	t.Parallel()

	buf := NewOutputBuffer(DrainTypewriter)
	buf.Push("héllo")

	assert.Equal(t, "h", buf.Drain(1))
	assert.Equal(t, "é", buf.Drain(1))
	assert.Equal(t, "llo", buf.Flush())
}
