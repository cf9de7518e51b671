package eventbus

import (
	"context"
	"log/slog"
	"slices"
	"sync"
	"sync/atomic"

	"lotus-md/internal/domain"
)

// anyType marks a subscription registered through SubscribeAll.
const anyType domain.EventType = ""

type subscription struct {
	id        uint64
	eventType domain.EventType
	handler   domain.EventHandler
}

func (s subscription) matches(t domain.EventType) bool {
	return s.eventType == anyType || s.eventType == t
}

// Bus is an in-process, goroutine-safe event bus. Handlers run on their own
// goroutine with a context detached from the publisher's cancellation, so a
// finished dispatch never cuts short a greeter or a stats subscriber.
type Bus struct {
	mu     sync.RWMutex
	subs   []subscription
	nextID atomic.Uint64
	logger *slog.Logger
	wg     sync.WaitGroup
	closed atomic.Bool
}

var _ domain.EventBus = (*Bus)(nil)

// New creates an event bus.
func New(logger *slog.Logger) *Bus {
	return &Bus{logger: logger.With("component", "eventbus")}
}

// Publish fans event out to every matching subscriber. Typed subscribers are
// invoked before catch-all ones. Events published after Close are dropped.
func (b *Bus) Publish(ctx context.Context, event domain.Event) {
	if b.closed.Load() {
		return
	}

	b.mu.RLock()
	var typed, all []subscription
	for _, s := range b.subs {
		switch {
		case s.eventType == anyType:
			all = append(all, s)
		case s.eventType == event.Type:
			typed = append(typed, s)
		}
	}
	b.mu.RUnlock()

	hctx := context.WithoutCancel(ctx)
	for _, s := range append(typed, all...) {
		b.dispatch(hctx, event, s)
	}
}

func (b *Bus) dispatch(ctx context.Context, event domain.Event, sub subscription) {
	b.wg.Add(1)
	go func() {
		defer b.wg.Done()
		defer func() {
			if r := recover(); r != nil {
				b.logger.Error("event handler panicked",
					"event", string(event.Type),
					"chat", event.ChatID,
					"panic", r,
				)
			}
		}()
		sub.handler(ctx, event)
	}()
}

// Subscribe registers a handler for one event type and returns its
// unsubscribe function.
func (b *Bus) Subscribe(eventType domain.EventType, handler domain.EventHandler) func() {
	return b.add(eventType, handler)
}

// SubscribeAll registers a handler that receives every event.
func (b *Bus) SubscribeAll(handler domain.EventHandler) func() {
	return b.add(anyType, handler)
}

func (b *Bus) add(eventType domain.EventType, handler domain.EventHandler) func() {
	id := b.nextID.Add(1)

	b.mu.Lock()
	b.subs = append(b.subs, subscription{id: id, eventType: eventType, handler: handler})
	b.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			b.mu.Lock()
			defer b.mu.Unlock()
			b.subs = slices.DeleteFunc(b.subs, func(s subscription) bool { return s.id == id })
		})
	}
}

// Subscribers returns how many handlers would receive an event of type t.
func (b *Bus) Subscribers(t domain.EventType) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	n := 0
	for _, s := range b.subs {
		if s.matches(t) {
			n++
		}
	}
	return n
}

// Close stops accepting events and waits for in-flight handlers.
// It is idempotent.
func (b *Bus) Close() {
	if b.closed.Swap(true) {
		return
	}
	b.wg.Wait()
}
