// Package bus is the explicit publish/subscribe fabric between the order
// service, the book aggregator and the distribution layer. Handlers are
// invoked synchronously in subscription order; a failing handler is
// isolated and never blocks delivery to the rest.
package bus

import (
	"sync"

	"go.uber.org/zap"
)

// Handler receives every event published on a subscribed topic.
type Handler func(topic string, payload any)

// Unsubscribe removes the handler it was returned for. Safe to call more
// than once.
type Unsubscribe func()

type Bus struct {
	mu   sync.RWMutex
	subs map[string]map[uint64]Handler
	next uint64
	log  *zap.SugaredLogger
}

func New(log *zap.SugaredLogger) *Bus {
	return &Bus{
		subs: make(map[string]map[uint64]Handler),
		log:  log,
	}
}

// Subscribe registers a handler for one topic.
func (b *Bus) Subscribe(topic string, h Handler) Unsubscribe {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.subs[topic] == nil {
		b.subs[topic] = make(map[uint64]Handler)
	}
	id := b.next
	b.next++
	b.subs[topic][id] = h

	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		if hs, ok := b.subs[topic]; ok {
			delete(hs, id)
			if len(hs) == 0 {
				delete(b.subs, topic)
			}
		}
	}
}

// Publish delivers the payload to every handler subscribed to the topic
// on the calling goroutine. Events published from one goroutine are
// observed in publication order.
func (b *Bus) Publish(topic string, payload any) {
	b.mu.RLock()
	handlers := make([]Handler, 0, len(b.subs[topic]))
	for _, h := range b.subs[topic] {
		handlers = append(handlers, h)
	}
	b.mu.RUnlock()

	for _, h := range handlers {
		b.dispatch(topic, payload, h)
	}
}

// dispatch shields the publisher from a panicking handler.
func (b *Bus) dispatch(topic string, payload any, h Handler) {
	defer func() {
		if r := recover(); r != nil {
			b.log.Errorw("event_handler_panic", "topic", topic, "panic", r)
		}
	}()
	h(topic, payload)
}

// SubscriberCount reports the number of handlers on a topic.
func (b *Bus) SubscriberCount(topic string) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs[topic])
}
