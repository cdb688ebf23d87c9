package push

import (
	"errors"
	"sync"

	"github.com/google/uuid"
)

var (
	ErrClosed       = errors.New("connection closed")
	ErrSlowConsumer = errors.New("connection buffer full")
)

// Stream is a Conn backed by a bounded queue that an HTTP handler drains.
// Send never blocks: a full queue fails the write and the registry drops the
// connection.
type Stream struct {
	id     string
	queue  chan []byte
	done   chan struct{}
	closer sync.Once
}

// NewStream creates a stream with room for buffer undelivered payloads.
func NewStream(buffer int) *Stream {
	if buffer < 1 {
		buffer = 1
	}
	return &Stream{
		id:    uuid.NewString(),
		queue: make(chan []byte, buffer),
		done:  make(chan struct{}),
	}
}

func (s *Stream) ID() string { return s.id }

func (s *Stream) Send(payload []byte) error {
	select {
	case <-s.done:
		return ErrClosed
	default:
	}

	select {
	case s.queue <- payload:
		return nil
	default:
		return ErrSlowConsumer
	}
}

// Close ends the stream. It is safe to call more than once.
func (s *Stream) Close() {
	s.closer.Do(func() { close(s.done) })
}

// Messages yields queued payloads in order.
func (s *Stream) Messages() <-chan []byte { return s.queue }

// Done is closed once the stream has been closed.
func (s *Stream) Done() <-chan struct{} { return s.done }
