package provider

import (
	"fmt"
	"sync"
	"time"

	"github.com/turnwheel/turnwheel/pkg/chat"
)

// ErrStreamIdle is returned by an idle-guarded stream when no event arrives
// within the configured ceiling. It classifies as a timeout, so the retry
// policy treats it as transient.
var ErrStreamIdle = fmt.Errorf("stream idle timeout: no event received")

type recvResult struct {
	ev  chat.StreamEvent
	err error
}

// idleTimeoutStream guards a MessageStream against streaming inactivity.
// Recv is pumped on a goroutine so a stalled upstream cannot block the
// consumer past the ceiling.
type idleTimeoutStream struct {
	inner     chat.MessageStream
	timeout   time.Duration
	results   chan recvResult
	done      chan struct{}
	closeOnce sync.Once
	failed    bool
}

// WithIdleTimeout wraps stream so Recv fails with ErrStreamIdle when the
// service goes silent for longer than timeout. A zero timeout disables the
// guard.
func WithIdleTimeout(stream chat.MessageStream, timeout time.Duration) chat.MessageStream {
	if timeout <= 0 {
		return stream
	}

	s := &idleTimeoutStream{
		inner:   stream,
		timeout: timeout,
		results: make(chan recvResult),
		done:    make(chan struct{}),
	}
	go s.pump()
	return s
}

func (s *idleTimeoutStream) pump() {
	for {
		ev, err := s.inner.Recv()
		select {
		case s.results <- recvResult{ev: ev, err: err}:
			if err != nil {
				return
			}
		case <-s.done:
			return
		}
	}
}

func (s *idleTimeoutStream) Recv() (chat.StreamEvent, error) {
	if s.failed {
		return chat.StreamEvent{}, ErrStreamIdle
	}

	timer := time.NewTimer(s.timeout)
	defer timer.Stop()

	select {
	case res := <-s.results:
		return res.ev, res.err
	case <-timer.C:
		s.failed = true
		s.Close()
		return chat.StreamEvent{}, ErrStreamIdle
	}
}

// Close may be called from multiple goroutines.
func (s *idleTimeoutStream) Close() {
	s.closeOnce.Do(func() {
		close(s.done)
		s.inner.Close()
	})
}
