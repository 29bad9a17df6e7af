package pubsub

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/vx-labs/broker/brokererr"
)

// ShutdownMode selects how a Subscriber's Close behaves: Cooperative
// lets whatever is already buffered drain to existing readers;
// Immediate drops it, matching the "drop_all_on_destruction" knob
// spec.md §5 calls out for tearing down a subscriber that no longer
// has a consumer to serve.
type ShutdownMode int

const (
	Cooperative ShutdownMode = iota
	Immediate
)

// Subscriber is a bounded, many-producers/one-consumer queue of
// payload T: any number of Publisher handles obtained via NewPublisher
// share its single underlying bounded buffer. Grounded on
// broker/listener/inflight/queue.go's mutex-guarded message list with
// a flare-style notify channel standing in for the original's raw
// condition variable.
type Subscriber[T any] struct {
	q        *queue[T]
	consumed uint64 // atomic
	rate     *RateCounter

	mu     sync.Mutex
	closed bool
}

// NewSubscriber builds a Subscriber with the given bounded capacity.
func NewSubscriber[T any](capacity int) *Subscriber[T] {
	return &Subscriber[T]{
		q:    newQueue[T](capacity),
		rate: NewRateCounter(),
	}
}

// NewPublisher returns a new Publisher handle feeding this subscriber.
// Multiple handles from the same Subscriber implement the MPSC case;
// exactly one handle implements SPSC.
func (s *Subscriber[T]) NewPublisher() *Publisher[T] {
	return &Publisher[T]{sub: s, rate: NewRateCounter()}
}

func (s *Subscriber[T]) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// Get blocks until a payload is available or ctx is done.
func (s *Subscriber[T]) Get(ctx context.Context) (T, error) {
	item, err := s.q.pop(ctx)
	if err == nil {
		atomic.AddUint64(&s.consumed, 1)
	}
	return item, err
}

// GetTimeout blocks up to d for a payload.
func (s *Subscriber[T]) GetTimeout(d time.Duration) (T, bool) {
	item, ok := s.q.popTimeout(d)
	if ok {
		atomic.AddUint64(&s.consumed, 1)
	}
	return item, ok
}

// TryGet returns immediately, reporting false if nothing is buffered.
func (s *Subscriber[T]) TryGet() (T, bool) {
	item, ok := s.q.tryPop()
	if ok {
		atomic.AddUint64(&s.consumed, 1)
	}
	return item, ok
}

// drainUpTo pops up to max buffered items without blocking; max <= 0
// means no limit (drain everything currently buffered).
func (s *Subscriber[T]) drainUpTo(max int) []T {
	var out []T
	for max <= 0 || len(out) < max {
		item, ok := s.q.tryPop()
		if !ok {
			break
		}
		out = append(out, item)
	}
	if len(out) > 0 {
		atomic.AddUint64(&s.consumed, uint64(len(out)))
	}
	return out
}

// GetN blocks until at least one payload is available or ctx is done,
// then returns up to n buffered payloads without blocking further
// (spec.md §4.6's "up to N items" retrieval form).
func (s *Subscriber[T]) GetN(ctx context.Context, n int) ([]T, error) {
	first, err := s.Get(ctx)
	if err != nil {
		return nil, err
	}
	out := append([]T{first}, s.drainUpTo(n-1)...)
	return out, nil
}

// GetNTimeout blocks up to d for the first payload, then returns up to
// n buffered payloads without blocking further.
func (s *Subscriber[T]) GetNTimeout(d time.Duration, n int) ([]T, bool) {
	first, ok := s.GetTimeout(d)
	if !ok {
		return nil, false
	}
	return append([]T{first}, s.drainUpTo(n-1)...), true
}

// TryGetN returns immediately with up to n currently buffered
// payloads, reporting false if none were available.
func (s *Subscriber[T]) TryGetN(n int) ([]T, bool) {
	out := s.drainUpTo(n)
	return out, len(out) > 0
}

// GetAll blocks until at least one payload is available or ctx is
// done, then returns every payload currently buffered (spec.md §4.6's
// "all available items" retrieval form).
func (s *Subscriber[T]) GetAll(ctx context.Context) ([]T, error) {
	first, err := s.Get(ctx)
	if err != nil {
		return nil, err
	}
	return append([]T{first}, s.drainUpTo(0)...), nil
}

// GetAllTimeout blocks up to d for the first payload, then returns
// every payload currently buffered.
func (s *Subscriber[T]) GetAllTimeout(d time.Duration) ([]T, bool) {
	first, ok := s.GetTimeout(d)
	if !ok {
		return nil, false
	}
	return append([]T{first}, s.drainUpTo(0)...), true
}

// TryGetAll returns immediately with every payload currently buffered,
// reporting false if the queue was empty.
func (s *Subscriber[T]) TryGetAll() ([]T, bool) {
	out := s.drainUpTo(0)
	return out, len(out) > 0
}

// Consumed returns the cumulative count of payloads retrieved.
func (s *Subscriber[T]) Consumed() uint64 { return atomic.LoadUint64(&s.consumed) }

// SampleRate records a rate-counter sample; call on a fixed 1 Hz
// cadence from the owning actor's ticker.
func (s *Subscriber[T]) SampleRate() { s.rate.Sample(s.Consumed()) }

// Stats reports the counters spec.md §5 names for a subscriber.
func (s *Subscriber[T]) Stats() Stats {
	return Stats{
		Capacity: s.q.capacity,
		Buffered: s.q.len(),
		Pending:  s.q.pending(),
		Rate:     s.rate.Rate(),
	}
}

// Close tears down the subscriber. Cooperative leaves whatever is
// already buffered for any in-flight Get call to finish draining;
// Immediate discards it right away.
func (s *Subscriber[T]) Close(mode ShutdownMode) {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	if mode == Immediate {
		s.q.drain()
	}
}

// Publisher is a handle to a Subscriber's shared queue, tracking its
// own produced counter and rate independent of any other Publisher
// feeding the same Subscriber.
type Publisher[T any] struct {
	sub      *Subscriber[T]
	produced uint64 // atomic
	rate     *RateCounter
}

// Publish blocks until the shared queue has room or ctx is done.
func (p *Publisher[T]) Publish(ctx context.Context, item T) error {
	if p.sub.isClosed() {
		return brokererr.New(brokererr.InvalidStatus, "publish on a closed subscriber")
	}
	if err := p.sub.q.push(ctx, item); err != nil {
		return err
	}
	atomic.AddUint64(&p.produced, 1)
	return nil
}

// TryPublish returns immediately, reporting false if the shared queue
// is full or the subscriber has been closed.
func (p *Publisher[T]) TryPublish(item T) bool {
	if p.sub.isClosed() {
		return false
	}
	if !p.sub.q.tryPush(item) {
		return false
	}
	atomic.AddUint64(&p.produced, 1)
	return true
}

// Produced returns the cumulative count of payloads this handle has
// pushed.
func (p *Publisher[T]) Produced() uint64 { return atomic.LoadUint64(&p.produced) }

// SampleRate records a rate-counter sample for this handle; call on a
// fixed 1 Hz cadence.
func (p *Publisher[T]) SampleRate() { p.rate.Sample(p.Produced()) }

// Stats reports this handle's own produced rate alongside the shared
// queue's capacity/buffered/pending counters.
func (p *Publisher[T]) Stats() Stats {
	st := p.sub.Stats()
	st.Rate = p.rate.Rate()
	return st
}

// Stats is the counter set spec.md §5 requires of both a publisher and
// a subscriber.
type Stats struct {
	Capacity int
	Buffered int
	Pending  int
	Rate     float64
}
