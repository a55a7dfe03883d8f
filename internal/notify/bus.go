package notify

import (
	"fmt"
	"sync"

	"thesis_messaging/pkg/logger"
)

// Bus is an in-process publish/subscribe hub. Publish runs handlers
// synchronously in the publisher's goroutine; a panicking handler is logged
// and does not affect the others.
type Bus struct {
	mu     sync.RWMutex
	subs   map[string]map[uint64]func(Event)
	nextID uint64
	log    logger.Logger
}

func NewBus(log logger.Logger) *Bus {
	return &Bus{
		subs: make(map[string]map[uint64]func(Event)),
		log:  log,
	}
}

// Subscribe registers fn for events with the given name. The returned
// function removes the subscription.
func (b *Bus) Subscribe(name string, fn func(Event)) func() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.nextID++
	id := b.nextID
	if b.subs[name] == nil {
		b.subs[name] = make(map[uint64]func(Event))
	}
	b.subs[name][id] = fn

	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		delete(b.subs[name], id)
	}
}

// On subscribes a handler typed by its event.
func On[T Event](b *Bus, fn func(T)) func() {
	var zero T
	return b.Subscribe(zero.Name(), func(e Event) {
		if typed, ok := e.(T); ok {
			fn(typed)
		}
	})
}

func (b *Bus) Publish(e Event) {
	b.mu.RLock()
	handlers := make([]func(Event), 0, len(b.subs[e.Name()]))
	for _, fn := range b.subs[e.Name()] {
		handlers = append(handlers, fn)
	}
	b.mu.RUnlock()

	for _, fn := range handlers {
		b.call(fn, e)
	}
}

func (b *Bus) call(fn func(Event), e Event) {
	defer func() {
		if r := recover(); r != nil {
			b.log.Error("Bus handler panicked", "event", e.Name(), "panic", fmt.Sprint(r))
		}
	}()
	fn(e)
}
