package msgbus

import (
	"context"
	"sync/atomic"

	"tradecore/pkg/exception"
)

// Post is a send or publish handed to the runner from another goroutine.
type Post struct {
	Kind    CommandKind
	Topic   string
	Message any
}

// Inbox is a bounded, non-blocking queue feeding the runner.
type Inbox struct {
	ch     chan Post
	closed atomic.Bool
}

func NewInbox(capacity int) *Inbox {
	if capacity <= 0 {
		capacity = 1
	}
	return &Inbox{ch: make(chan Post, capacity)}
}

// TryPost enqueues without blocking.
func (q *Inbox) TryPost(p Post) error {
	if q.closed.Load() {
		return exception.ErrBusQueueClosed
	}
	select {
	case q.ch <- p:
		return nil
	default:
		return exception.ErrBusQueueFull
	}
}

// Close stops the inbox from accepting new posts. Posts already queued can
// still be drained.
func (q *Inbox) Close() {
	if q.closed.CompareAndSwap(false, true) {
		close(q.ch)
	}
}

func (q *Inbox) Len() int { return len(q.ch) }

// next blocks for a post until ctx is done or the inbox is closed and empty.
func (q *Inbox) next(ctx context.Context) (Post, bool) {
	select {
	case <-ctx.Done():
		return Post{}, false
	case p, ok := <-q.ch:
		return p, ok
	}
}

// poll returns a queued post without blocking.
func (q *Inbox) poll() (Post, bool) {
	select {
	case p, ok := <-q.ch:
		return p, ok
	default:
		return Post{}, false
	}
}
