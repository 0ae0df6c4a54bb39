// Package eventbus provides listener registries and an ordered,
// single-worker event bus.
package eventbus

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/rs/zerolog/log"
)

// Handler receives events.
type Handler[T any] func(T)

type listener[T any] struct {
	handler Handler[T]
	removed atomic.Bool
}

// Registry is a copy-on-write set of handlers. Subscribing and
// unsubscribing are safe at any time, including from inside a handler.
type Registry[T any] struct {
	mu        sync.Mutex
	listeners []*listener[T]
}

// Subscribe registers h and returns a function that removes it. h is not
// called for events dispatched after unsubscribe returns; a Notify already
// running on another goroutine may still reach it once.
func (r *Registry[T]) Subscribe(h Handler[T]) (unsubscribe func()) {
	l := &listener[T]{handler: h}

	r.mu.Lock()
	next := make([]*listener[T], len(r.listeners), len(r.listeners)+1)
	copy(next, r.listeners)
	r.listeners = append(next, l)
	r.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			l.removed.Store(true)
			r.mu.Lock()
			defer r.mu.Unlock()
			next := make([]*listener[T], 0, len(r.listeners))
			for _, existing := range r.listeners {
				if existing != l {
					next = append(next, existing)
				}
			}
			r.listeners = next
		})
	}
}

// Len returns the number of registered handlers.
func (r *Registry[T]) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.listeners)
}

// Notify calls every handler registered at call time, in registration
// order. A panicking handler is logged and does not stop the others.
func (r *Registry[T]) Notify(event T) {
	r.mu.Lock()
	snapshot := r.listeners
	r.mu.Unlock()

	for _, l := range snapshot {
		if l.removed.Load() {
			continue
		}
		callSafely(l.handler, event)
	}
}

// Clear removes all handlers.
func (r *Registry[T]) Clear() {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, l := range r.listeners {
		l.removed.Store(true)
	}
	r.listeners = nil
}

func callSafely[T any](h Handler[T], event T) {
	defer func() {
		if rec := recover(); rec != nil {
			log.Error().
				Interface("panic", rec).
				Interface("event", event).
				Msg("Event handler panicked")
		}
	}()
	h(event)
}

// Bus delivers published events to its registry from a single worker
// goroutine, strictly in publish order. The queue is unbounded, so Publish
// never blocks and never drops while the bus is open.
type Bus[T any] struct {
	Registry[T]

	mu      sync.Mutex
	queue   []T
	wake    chan struct{}
	closing bool
	done    chan struct{}
}

// New creates a bus and starts its worker.
func New[T any]() *Bus[T] {
	b := &Bus[T]{
		wake: make(chan struct{}, 1),
		done: make(chan struct{}),
	}
	go b.worker()
	return b
}

// Publish enqueues an event. It returns false if the bus is closed.
func (b *Bus[T]) Publish(event T) bool {
	b.mu.Lock()
	if b.closing {
		b.mu.Unlock()
		log.Warn().Interface("event", event).Msg("Event bus closing, dropping event")
		return false
	}
	b.queue = append(b.queue, event)
	b.mu.Unlock()

	select {
	case b.wake <- struct{}{}:
	default:
	}
	return true
}

// Pending returns the number of queued, undelivered events.
func (b *Bus[T]) Pending() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.queue)
}

func (b *Bus[T]) worker() {
	defer close(b.done)

	for {
		b.mu.Lock()
		if len(b.queue) == 0 {
			if b.closing {
				b.mu.Unlock()
				return
			}
			b.mu.Unlock()
			<-b.wake
			continue
		}
		event := b.queue[0]
		var zero T
		b.queue[0] = zero
		b.queue = b.queue[1:]
		b.mu.Unlock()

		b.Notify(event)
	}
}

// Close stops accepting events, delivers what is already queued and waits
// for the worker until ctx expires.
func (b *Bus[T]) Close(ctx context.Context) {
	b.mu.Lock()
	alreadyClosing := b.closing
	b.closing = true
	b.mu.Unlock()

	if !alreadyClosing {
		select {
		case b.wake <- struct{}{}:
		default:
		}
	}

	select {
	case <-b.done:
		log.Debug().Msg("Event bus worker stopped gracefully")
	case <-ctx.Done():
		log.Warn().Int("pending", b.Pending()).Msg("Event bus shutdown timed out, some events may be lost")
	}
}
