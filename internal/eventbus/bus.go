// Package eventbus fans out small in-process signals (ticks finished,
// messages sent) to whoever wants them, typically the debug logger.
package eventbus

import (
	"slices"
	"sync"
	"time"
)

const (
	TypeTickDone   = "tick.done"
	TypeTickFailed = "tick.failed"
	TypeTickSkip   = "tick.skipped"
	TypeSent       = "message.sent"
	TypeSendFailed = "message.failed"
)

const defaultBuffer = 8

// Event is published without blocking. Slow subscribers lose events.
type Event struct {
	Type string
	Time time.Time
	Data any
}

// TickEvent describes one monitor run.
type TickEvent struct {
	Task     string        `json:"task"`
	Duration time.Duration `json:"duration"`
	Error    string        `json:"error,omitempty"`
}

// SendEvent describes one outbound message attempt.
type SendEvent struct {
	ChatID int64  `json:"chat_id"`
	Bytes  int    `json:"bytes"`
	Error  string `json:"error,omitempty"`
}

type Bus interface {
	Publish(e Event)
	Subscribe(buffer int) (ch <-chan Event, unsubscribe func())
}

func New() Bus { return &bus{} }

type bus struct {
	mu   sync.Mutex
	subs []*subscriber
}

type subscriber struct {
	mu     sync.Mutex
	ch     chan Event
	closed bool
}

// offer is a non-blocking send that is a no-op once the subscriber is closed.
func (s *subscriber) offer(e Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	select {
	case s.ch <- e:
	default:
	}
}

func (s *subscriber) close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.closed {
		s.closed = true
		close(s.ch)
	}
}

func (b *bus) Publish(e Event) {
	if e.Time.IsZero() {
		e.Time = time.Now()
	}
	b.mu.Lock()
	subs := b.subs
	b.mu.Unlock()
	for _, s := range subs {
		s.offer(e)
	}
}

func (b *bus) Subscribe(buffer int) (<-chan Event, func()) {
	if buffer <= 0 {
		buffer = defaultBuffer
	}
	s := &subscriber{ch: make(chan Event, buffer)}

	b.mu.Lock()
	// copy on write so Publish can iterate without the lock
	b.subs = append(slices.Clip(b.subs), s)
	b.mu.Unlock()

	return s.ch, func() {
		b.mu.Lock()
		b.subs = slices.DeleteFunc(slices.Clone(b.subs), func(x *subscriber) bool { return x == s })
		b.mu.Unlock()
		s.close()
	}
}
