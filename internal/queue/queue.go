// Package queue is the outbound message queue: any number of producers,
// one consumer, strict FIFO, and Push never blocks.
package queue

import (
	"context"
	"errors"
	"sync"
)

var ErrClosed = errors.New("queue closed")

// Message is one outbound (recipient, text) pair. Plain text is sent without
// any parse mode.
type Message struct {
	ChatID int64
	Text   string
	Plain  bool
}

type Queue struct {
	mu     sync.Mutex
	items  []Message
	head   int
	closed bool
	// ready holds a token whenever items may be non-empty or the queue closed.
	ready chan struct{}
}

func New() *Queue {
	return &Queue{ready: make(chan struct{}, 1)}
}

// Push appends a markdown message. It returns ErrClosed after Close;
// otherwise it never fails.
func (q *Queue) Push(chatID int64, text string) error {
	return q.PushMessage(Message{ChatID: chatID, Text: text})
}

// PushPlain appends a message that must not be parsed as markdown.
func (q *Queue) PushPlain(chatID int64, text string) error {
	return q.PushMessage(Message{ChatID: chatID, Text: text, Plain: true})
}

func (q *Queue) PushMessage(m Message) error {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return ErrClosed
	}
	q.items = append(q.items, m)
	q.mu.Unlock()
	q.signal()
	return nil
}

// Pop blocks until a message is available, ctx is done, or the queue is
// closed and fully drained.
func (q *Queue) Pop(ctx context.Context) (Message, error) {
	for {
		q.mu.Lock()
		if q.head < len(q.items) {
			m := q.items[q.head]
			q.items[q.head] = Message{}
			q.head++
			// compact once the consumed prefix dominates
			if q.head > 64 && q.head*2 >= len(q.items) {
				q.items = append([]Message(nil), q.items[q.head:]...)
				q.head = 0
			}
			more := q.head < len(q.items)
			q.mu.Unlock()
			if more {
				q.signal()
			}
			return m, nil
		}
		closed := q.closed
		q.mu.Unlock()
		if closed {
			q.signal()
			return Message{}, ErrClosed
		}

		select {
		case <-ctx.Done():
			return Message{}, ctx.Err()
		case <-q.ready:
		}
	}
}

// TryPop returns the next message without waiting.
func (q *Queue) TryPop() (Message, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.head >= len(q.items) {
		return Message{}, false
	}
	m := q.items[q.head]
	q.items[q.head] = Message{}
	q.head++
	return m, true
}

func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items) - q.head
}

// Close stops intake. Messages already queued can still be popped.
func (q *Queue) Close() {
	q.mu.Lock()
	q.closed = true
	q.mu.Unlock()
	q.signal()
}

func (q *Queue) signal() {
	select {
	case q.ready <- struct{}{}:
	default:
	}
}

// ChatForwarder pushes log records to one chat as plain text. It satisfies
// logx.Forwarder.
type ChatForwarder struct {
	Queue  *Queue
	ChatID int64
}

func (f ChatForwarder) Forward(text string) {
	if f.Queue == nil || f.ChatID == 0 {
		return
	}
	_ = f.Queue.PushPlain(f.ChatID, text)
}
