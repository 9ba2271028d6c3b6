// Package bus carries normalized inbound messages from channel adapters to
// the ingest pipeline and fans server events out to subscribers.
package bus

import (
	"context"
	"log/slog"
	"sync"
)

const inboundBuffer = 256

// MessageBus is the in-process message and event hub.
type MessageBus struct {
	inbound chan InboundMessage

	mu          sync.RWMutex
	subscribers map[string]EventHandler
}

// New creates a MessageBus with a bounded inbound queue.
func New() *MessageBus {
	return &MessageBus{
		inbound:     make(chan InboundMessage, inboundBuffer),
		subscribers: make(map[string]EventHandler),
	}
}

// PublishInbound queues a normalized inbound message for the pipeline.
// Blocks when the queue is full so a slow pipeline backpressures the
// channel adapters instead of dropping messages.
func (b *MessageBus) PublishInbound(msg InboundMessage) {
	b.inbound <- msg
}

// ConsumeInbound blocks for the next inbound message. The second return is
// false once ctx is cancelled.
func (b *MessageBus) ConsumeInbound(ctx context.Context) (InboundMessage, bool) {
	select {
	case <-ctx.Done():
		return InboundMessage{}, false
	case msg := <-b.inbound:
		return msg, true
	}
}

// Subscribe registers an event handler under id, replacing any previous
// handler with the same id.
func (b *MessageBus) Subscribe(id string, handler EventHandler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.subscribers[id] = handler
}

// Unsubscribe removes the handler registered under id.
func (b *MessageBus) Unsubscribe(id string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.subscribers, id)
}

// Broadcast delivers an event to every subscriber. Handlers run inline;
// a panicking handler is isolated so one bad subscriber cannot take down
// the publisher.
func (b *MessageBus) Broadcast(event Event) {
	b.mu.RLock()
	handlers := make([]EventHandler, 0, len(b.subscribers))
	for _, h := range b.subscribers {
		handlers = append(handlers, h)
	}
	b.mu.RUnlock()

	for _, h := range handlers {
		func() {
			defer func() {
				if r := recover(); r != nil {
					slog.Error("event handler panicked", "event", event.Name, "panic", r)
				}
			}()
			h(event)
		}()
	}
}
