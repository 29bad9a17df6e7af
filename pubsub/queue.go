package pubsub

import (
	"context"
	"sync"
	"time"

	"github.com/vx-labs/broker/brokererr"
)

// queue is the bounded, mutex-guarded ring buffer shared by Publisher
// and Subscriber, grounded on broker/listener/inflight/queue.go's
// slice-backed message list plus its mutex+notify wakeup. Unlike the
// teacher's MessageList (which scans for inflight/consumed flags),
// this is a plain FIFO: ordering and redelivery are already handled
// one layer up, by package channel.
type queue[T any] struct {
	mu       sync.Mutex
	items    []T
	capacity int
	readable *Flare // fired whenever items becomes non-empty
	writable *Flare // fired whenever items has spare capacity
}

func newQueue[T any](capacity int) *queue[T] {
	q := &queue[T]{
		capacity: capacity,
		readable: NewFlare(),
		writable: NewFlare(),
	}
	q.writable.Fire() // empty queue starts writable
	return q
}

func (q *queue[T]) len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

func (q *queue[T]) pending() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.capacity - len(q.items)
}

// tryPush appends item if there is spare capacity, reporting false if
// the queue is full.
func (q *queue[T]) tryPush(item T) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.items) >= q.capacity {
		return false
	}
	q.items = append(q.items, item)
	q.readable.Fire()
	if len(q.items) >= q.capacity {
		q.writable.Extinguish()
	}
	return true
}

// push blocks until there is spare capacity or ctx is done.
func (q *queue[T]) push(ctx context.Context, item T) error {
	for {
		if q.tryPush(item) {
			return nil
		}
		select {
		case <-q.writable.Watch():
		case <-ctx.Done():
			return brokererr.Wrap(brokererr.RequestTimeout, ctx.Err(), "push canceled while queue full")
		}
	}
}

func (q *queue[T]) tryPop() (T, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	var zero T
	if len(q.items) == 0 {
		return zero, false
	}
	item := q.items[0]
	q.items = q.items[1:]
	q.writable.Fire()
	if len(q.items) == 0 {
		q.readable.Extinguish()
	}
	return item, true
}

// pop blocks until an item is available or ctx is done.
func (q *queue[T]) pop(ctx context.Context) (T, error) {
	for {
		if item, ok := q.tryPop(); ok {
			return item, nil
		}
		select {
		case <-q.readable.Watch():
		case <-ctx.Done():
			var zero T
			return zero, brokererr.Wrap(brokererr.RequestTimeout, ctx.Err(), "pop canceled while queue empty")
		}
	}
}

// popTimeout blocks up to d for an item.
func (q *queue[T]) popTimeout(d time.Duration) (T, bool) {
	ctx, cancel := context.WithTimeout(context.Background(), d)
	defer cancel()
	item, err := q.pop(ctx)
	return item, err == nil
}

// drain empties the queue immediately, discarding everything buffered
// (the "drop_all_on_destruction" shutdown mode).
func (q *queue[T]) drain() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.items = nil
	q.writable.Fire()
	q.readable.Extinguish()
}
