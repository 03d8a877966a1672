package signal

import (
	"context"
	"sync"

	"github.com/dkeye/voicecall/internal/domain"
	wire "github.com/dkeye/voicecall/internal/signal"
)

// Stream is an unbounded FIFO of inbound envelopes for one prefix. The
// reader never blocks the connection and a slow stream never delays another.
type Stream struct {
	prefix string
	wake   chan struct{}

	mu     sync.Mutex
	queue  []wire.Envelope
	closed bool
}

func newStream(prefix string) *Stream {
	return &Stream{prefix: prefix, wake: make(chan struct{}, 1)}
}

func (s *Stream) Prefix() string { return s.prefix }

func (s *Stream) push(env wire.Envelope) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.queue = append(s.queue, env)
	s.mu.Unlock()
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

// Next blocks until an envelope is available, the stream is closed
// (domain.ErrStopped) or ctx is done.
func (s *Stream) Next(ctx context.Context) (wire.Envelope, error) {
	for {
		s.mu.Lock()
		if len(s.queue) > 0 {
			env := s.queue[0]
			s.queue[0] = wire.Envelope{}
			s.queue = s.queue[1:]
			s.mu.Unlock()
			return env, nil
		}
		closed := s.closed
		s.mu.Unlock()
		if closed {
			return wire.Envelope{}, domain.ErrStopped
		}

		select {
		case <-ctx.Done():
			return wire.Envelope{}, ctx.Err()
		case <-s.wake:
		}
	}
}

func (s *Stream) Close() {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	select {
	case s.wake <- struct{}{}:
	default:
	}
}
