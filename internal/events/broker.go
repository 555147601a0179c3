package events

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	publishedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "vkd_events_published_total",
		Help: "Items published to an event broker.",
	}, []string{"broker"})
	droppedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "vkd_events_dropped_total",
		Help: "Items discarded because a subscriber fell behind.",
	}, []string{"broker"})
)

// Broker is a bounded fan-out of T to any number of subscribers.
// The zero value is not usable; use NewBroker.
type Broker[T any] struct {
	name     string
	capacity int

	mu     sync.RWMutex
	subs   map[uint64]*Subscription[T]
	nextID uint64
	closed bool
}

// Subscription receives items published after it was created.
type Subscription[T any] struct {
	id     uint64
	ch     chan T
	broker *Broker[T]

	// serializes deliveries so drop-oldest cannot interleave with another send
	mu      sync.Mutex
	dropped atomic.Uint64
}

// NewBroker returns a broker whose subscribers buffer up to capacity items.
func NewBroker[T any](name string, capacity int) *Broker[T] {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Broker[T]{
		name:     name,
		capacity: capacity,
		subs:     make(map[uint64]*Subscription[T]),
	}
}

// Subscribe registers a new subscriber. On a closed broker the returned
// subscription's channel is already closed.
func (b *Broker[T]) Subscribe() *Subscription[T] {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.nextID++
	s := &Subscription[T]{id: b.nextID, ch: make(chan T, b.capacity), broker: b}
	if b.closed {
		close(s.ch)
		return s
	}
	b.subs[s.id] = s
	return s
}

// Publish delivers v to every subscriber without blocking.
func (b *Broker[T]) Publish(v T) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return
	}
	publishedTotal.WithLabelValues(b.name).Inc()
	for _, s := range b.subs {
		s.deliver(v)
	}
}

// Subscribers returns the number of live subscriptions.
func (b *Broker[T]) Subscribers() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}

// Close ends every subscription. Later publishes are ignored.
func (b *Broker[T]) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	for id, s := range b.subs {
		delete(b.subs, id)
		close(s.ch)
	}
}

func (s *Subscription[T]) deliver(v T) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for {
		select {
		case s.ch <- v:
			return
		default:
		}
		select {
		case <-s.ch:
			s.dropped.Add(1)
			droppedTotal.WithLabelValues(s.broker.name).Inc()
		default:
		}
	}
}

// C is closed when the subscription ends.
func (s *Subscription[T]) C() <-chan T {
	return s.ch
}

// Dropped counts items this subscriber lost to overflow.
func (s *Subscription[T]) Dropped() uint64 {
	return s.dropped.Load()
}

// Close unsubscribes and closes C. It is safe to call more than once.
func (s *Subscription[T]) Close() {
	b := s.broker
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.subs[s.id]; !ok {
		return
	}
	delete(b.subs, s.id)
	close(s.ch)
}

// Forward calls fn for every item on sub until ctx is done or the
// subscription ends, then closes sub.
func Forward[T any](ctx context.Context, sub *Subscription[T], fn func(T)) {
	defer sub.Close()
	for {
		select {
		case <-ctx.Done():
			return
		case v, ok := <-sub.C():
			if !ok {
				return
			}
			fn(v)
		}
	}
}
