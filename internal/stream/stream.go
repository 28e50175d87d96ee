// Package stream provides live subscriptions: teardown handles that run
// exactly once, and a fan-out hub that replays the latest value.
package stream

import (
	"context"
	"sync"
)

// Unsubscribe deregisters a listener.
type Unsubscribe func()

// Once wraps teardown so that it runs at most once, however many times the
// returned handle is called.
func Once(teardown func()) Unsubscribe {
	var once sync.Once
	return func() {
		once.Do(func() {
			if teardown != nil {
				teardown()
			}
		})
	}
}

// Bind ties unsub to ctx: it runs when ctx ends or when the returned handle
// is called, whichever comes first.
func Bind(ctx context.Context, unsub Unsubscribe) Unsubscribe {
	unsub = Once(unsub)
	stop := context.AfterFunc(ctx, unsub)
	return Once(func() {
		stop()
		unsub()
	})
}

// Gate runs callbacks until it is closed. Close waits for a callback that
// is already running, so nothing passed to Do runs after Close returns.
// Close must not be called from inside a callback.
type Gate struct {
	mu     sync.Mutex
	closed bool
}

// Do runs fn unless the gate is closed.
func (g *Gate) Do(fn func()) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.closed {
		return
	}
	fn()
}

// Close stops further callbacks.
func (g *Gate) Close() {
	g.mu.Lock()
	g.closed = true
	g.mu.Unlock()
}

// Hub fans values out to subscribers. Each subscriber is fed by its own
// goroutine; values published faster than a subscriber consumes them are
// coalesced, so a slow subscriber only ever sees the latest one.
type Hub[T any] struct {
	mu      sync.Mutex
	current T
	has     bool
	nextID  uint64
	subs    map[uint64]*subscriber[T]
}

// NewHub returns an empty hub. New subscribers get nothing until the first
// Publish.
func NewHub[T any]() *Hub[T] {
	return &Hub[T]{subs: make(map[uint64]*subscriber[T])}
}

// Publish records v as the current value and offers it to every subscriber.
func (h *Hub[T]) Publish(v T) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.current, h.has = v, true
	for _, s := range h.subs {
		s.offer(v)
	}
}

// Current returns the last published value.
func (h *Hub[T]) Current() (T, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.current, h.has
}

// Subscribe registers fn. If a value has been published, fn receives it
// first. fn is never called concurrently with itself.
func (h *Hub[T]) Subscribe(fn func(T)) Unsubscribe {
	s := &subscriber[T]{
		fn:   fn,
		wake: make(chan struct{}, 1),
		done: make(chan struct{}),
	}

	h.mu.Lock()
	id := h.nextID
	h.nextID++
	h.subs[id] = s
	if h.has {
		s.offer(h.current)
	}
	h.mu.Unlock()

	go s.run()

	return Once(func() {
		h.mu.Lock()
		delete(h.subs, id)
		h.mu.Unlock()
		close(s.done)
	})
}

// Len reports the number of registered subscribers.
func (h *Hub[T]) Len() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs)
}

type subscriber[T any] struct {
	fn func(T)

	mu      sync.Mutex
	pending T
	has     bool

	wake chan struct{}
	done chan struct{}
}

func (s *subscriber[T]) offer(v T) {
	s.mu.Lock()
	s.pending, s.has = v, true
	s.mu.Unlock()
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

func (s *subscriber[T]) run() {
	for {
		select {
		case <-s.done:
			return
		case <-s.wake:
		}

		s.mu.Lock()
		v, ok := s.pending, s.has
		var zero T
		s.pending, s.has = zero, false
		s.mu.Unlock()
		if !ok {
			continue
		}

		select {
		case <-s.done:
			return
		default:
		}
		s.fn(v)
	}
}
