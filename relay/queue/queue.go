package queue

import (
	"errors"
	"sync"

	"github.com/ozontech/rrelay/relay/framepool"
)

var ErrClosed = errors.New("submission queue closed")

// Queue is the FIFO between the producer and the pipeline goroutine.
// After Close, Pop keeps returning queued frames until the queue is empty.
type Queue struct {
	cond   *sync.Cond
	items  []*framepool.FrameBuffer
	closed bool
}

func New() *Queue {
	return &Queue{
		items: make([]*framepool.FrameBuffer, 0, 4),
		cond:  sync.NewCond(&sync.Mutex{}),
	}
}

func (q *Queue) Push(b *framepool.FrameBuffer) error {
	q.cond.L.Lock()
	if q.closed {
		q.cond.L.Unlock()
		return ErrClosed
	}
	q.items = append(q.items, b)
	q.cond.L.Unlock()

	q.cond.Signal()
	return nil
}

// Pop blocks until a frame is queued. ok is false once the queue is closed and
// drained.
func (q *Queue) Pop() (b *framepool.FrameBuffer, ok bool) {
	q.cond.L.Lock()
	defer q.cond.L.Unlock()

	for len(q.items) == 0 {
		if q.closed {
			return nil, false
		}
		q.cond.Wait()
	}
	b = q.items[0]
	q.items[0] = nil
	q.items = q.items[1:]
	return b, true
}

// Len is the instantaneous depth; it may be stale by the time it is used.
func (q *Queue) Len() int {
	q.cond.L.Lock()
	defer q.cond.L.Unlock()
	return len(q.items)
}

// Close stops new pushes and wakes every waiter. Safe to call more than once.
func (q *Queue) Close() {
	q.cond.L.Lock()
	q.closed = true
	q.cond.L.Unlock()

	q.cond.Broadcast()
}

// Drain closes the queue and removes every frame still queued, so the caller
// can release them.
func (q *Queue) Drain() []*framepool.FrameBuffer {
	q.cond.L.Lock()
	q.closed = true
	items := q.items
	q.items = nil
	q.cond.L.Unlock()

	q.cond.Broadcast()
	return items
}
