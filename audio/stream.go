package audio

import (
	"sync"
	"time"

	"github.com/charmbracelet/log"
)

// Packet is one Opus frame from the microphone.
type Packet struct {
	Payload []byte
	Samples uint32
}

func (p Packet) Duration() time.Duration {
	if p.Samples == 0 {
		return 20 * time.Millisecond
	}
	return time.Duration(p.Samples) * time.Second / SampleRate
}

// Stream fans microphone packets out to independent subscribers. A slow
// subscriber loses packets instead of stalling the others.
type Stream struct {
	mu     sync.Mutex
	subs   []chan Packet
	muted  bool
	closed bool
	closer func() error
	done   chan struct{}
	log    *log.Logger
}

func NewStream(closer func() error, logger *log.Logger) *Stream {
	if logger == nil {
		logger = log.Default()
	}
	return &Stream{
		closer: closer,
		done:   make(chan struct{}),
		log:    logger,
	}
}

func (s *Stream) Subscribe(buffer int) <-chan Packet {
	ch := make(chan Packet, buffer)
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		close(ch)
		return ch
	}
	s.subs = append(s.subs, ch)
	return ch
}

func (s *Stream) Unsubscribe(ch <-chan Packet) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, sub := range s.subs {
		if sub == ch {
			s.subs = append(s.subs[:i], s.subs[i+1:]...)
			close(sub)
			return
		}
	}
}

// Publish delivers p to every subscriber. While muted the payload is
// replaced by a silent frame so consumers keep their timing.
func (s *Stream) Publish(p Packet) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	if s.muted {
		p.Payload = SilentFrame
	}
	for _, sub := range s.subs {
		select {
		case sub <- p:
		default:
			s.log.Warn("mic packet dropped", "samples", p.Samples)
		}
	}
}

func (s *Stream) SetMuted(muted bool) {
	s.mu.Lock()
	s.muted = muted
	s.mu.Unlock()
}

// Done is closed once the stream has ended.
func (s *Stream) Done() <-chan struct{} {
	return s.done
}

// Close ends every subscription and releases the source. Safe to call
// more than once.
func (s *Stream) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	for _, sub := range s.subs {
		close(sub)
	}
	s.subs = nil
	close(s.done)
	s.mu.Unlock()

	if s.closer != nil {
		return s.closer()
	}
	return nil
}
