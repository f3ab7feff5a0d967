// Package inbox implements the per-recipient delivery queue: an unbounded
// FIFO that any number of goroutines may append to and a single consumer
// drains, blocking while it is empty.
package inbox

import (
	"context"
	"errors"
	"sync"

	"github.com/Tyrowin/relaychat/internal/protocol"
)

// ErrShutdown is returned by Dequeue once the inbox has been shut down.
var ErrShutdown = errors.New("inbox shut down")

// Inbox is an unbounded multi-producer, single-consumer message queue.
type Inbox struct {
	mu     sync.Mutex
	items  []protocol.Message
	closed bool

	// ready holds at most one pending wake-up for the consumer.
	ready chan struct{}
	done  chan struct{}
}

// New creates an empty, open inbox.
func New() *Inbox {
	return &Inbox{
		ready: make(chan struct{}, 1),
		done:  make(chan struct{}),
	}
}

// Enqueue appends msg to the tail. It never blocks. Messages enqueued
// after Shutdown are dropped.
func (q *Inbox) Enqueue(msg protocol.Message) {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return
	}
	q.items = append(q.items, msg)
	q.mu.Unlock()

	q.notify()
}

func (q *Inbox) notify() {
	select {
	case q.ready <- struct{}{}:
	default:
	}
}

// Dequeue removes and returns the head of the queue, waiting until a
// message is available, the inbox is shut down, or ctx is done.
// Only one goroutine may call Dequeue at a time.
func (q *Inbox) Dequeue(ctx context.Context) (protocol.Message, error) {
	for {
		q.mu.Lock()
		if q.closed {
			q.mu.Unlock()
			return protocol.Message{}, ErrShutdown
		}
		if len(q.items) > 0 {
			msg := q.items[0]
			q.items[0] = protocol.Message{}
			q.items = q.items[1:]
			if len(q.items) == 0 {
				q.items = nil
			}
			q.mu.Unlock()
			return msg, nil
		}
		q.mu.Unlock()

		select {
		case <-q.ready:
		case <-q.done:
		case <-ctx.Done():
			return protocol.Message{}, ctx.Err()
		}
	}
}

// Shutdown wakes a blocked consumer with ErrShutdown and discards any
// pending messages. It is safe to call more than once.
func (q *Inbox) Shutdown() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return
	}
	q.closed = true
	q.items = nil
	close(q.done)
}

// Done is closed when the inbox is shut down.
func (q *Inbox) Done() <-chan struct{} {
	return q.done
}

// Len returns the number of pending messages.
func (q *Inbox) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}
