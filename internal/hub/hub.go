// Package hub fans published values out to any number of subscribers.
//
// Every subscription owns a bounded buffer. Publish never waits on a
// subscriber: when a buffer is full its oldest value is discarded to make
// room, so a slow reader sees gaps but never reordering.
package hub

import (
	"errors"
	"sync"
	"sync/atomic"
)

// ErrClosed is returned by Publish and Subscribe after Close.
var ErrClosed = errors.New("hub: closed")

// DefaultCapacity is the per-subscriber buffer used when New is given a non-positive size.
const DefaultCapacity = 16

// Hub is a multi-subscriber broadcast point. The zero value is not usable; call New.
type Hub[T any] struct {
	capacity int

	mu     sync.Mutex
	subs   map[*Subscription[T]]struct{}
	closed bool

	published atomic.Uint64
	dropped   atomic.Uint64
}

// New returns a hub whose subscriptions buffer up to capacity values.
func New[T any](capacity int) *Hub[T] {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Hub[T]{
		capacity: capacity,
		subs:     make(map[*Subscription[T]]struct{}),
	}
}

// Subscription receives every value published after it was created.
type Subscription[T any] struct {
	hub     *Hub[T]
	ch      chan T
	dropped atomic.Uint64
	once    sync.Once
}

// Subscribe registers a new subscription.
func (h *Hub[T]) Subscribe() (*Subscription[T], error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return nil, ErrClosed
	}
	s := &Subscription[T]{hub: h, ch: make(chan T, h.capacity)}
	h.subs[s] = struct{}{}
	return s, nil
}

// Publish hands v to every current subscriber and returns how many there were.
// Zero subscribers is not an error.
func (h *Hub[T]) Publish(v T) (int, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return 0, ErrClosed
	}
	h.published.Add(1)
	for s := range h.subs {
		if !s.offer(v) {
			h.dropped.Add(1)
		}
	}
	return len(h.subs), nil
}

// offer enqueues v, evicting the oldest buffered value if the buffer is full.
// It reports false when a value had to be evicted. Callers hold h.mu, so the
// buffer cannot be refilled between the eviction and the send.
func (s *Subscription[T]) offer(v T) bool {
	select {
	case s.ch <- v:
		return true
	default:
	}
	evicted := false
	select {
	case <-s.ch:
		evicted = true
	default:
	}
	select {
	case s.ch <- v:
	default:
	}
	if evicted {
		s.dropped.Add(1)
	}
	return !evicted
}

// Close ends every subscription and rejects later calls. Subscribers see
// their channel closed once they have drained what was buffered.
func (h *Hub[T]) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return
	}
	h.closed = true
	for s := range h.subs {
		delete(h.subs, s)
		close(s.ch)
	}
}

// Subscribers returns the number of live subscriptions.
func (h *Hub[T]) Subscribers() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs)
}

// Published returns the number of values accepted by Publish.
func (h *Hub[T]) Published() uint64 { return h.published.Load() }

// Dropped returns the number of values evicted across all subscriptions.
func (h *Hub[T]) Dropped() uint64 { return h.dropped.Load() }

// C is the channel values are delivered on. It is closed by Close on either
// the subscription or the hub.
func (s *Subscription[T]) C() <-chan T { return s.ch }

// Dropped returns how many values this subscription lost to lag.
func (s *Subscription[T]) Dropped() uint64 { return s.dropped.Load() }

// Close unsubscribes. It is safe to call more than once and after the hub closed.
func (s *Subscription[T]) Close() {
	s.once.Do(func() {
		h := s.hub
		h.mu.Lock()
		defer h.mu.Unlock()
		if _, ok := h.subs[s]; ok {
			delete(h.subs, s)
			close(s.ch)
		}
	})
}
