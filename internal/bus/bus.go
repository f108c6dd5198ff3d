package bus

import (
	"strings"
	"sync"
)

// Event is a message published on the bus.
type Event struct {
	Topic   string
	Payload interface{}
}

// Handler receives a published event. Handlers run synchronously on the
// publisher's goroutine, in subscription order.
type Handler func(Event)

// Subscription represents an active subscription.
type Subscription struct {
	id      int
	prefix  string
	handler Handler
}

// Bus is a simple in-process pub/sub bus with topic prefix matching.
// Dispatch is synchronous: Publish invokes every matching handler in the
// order the subscriptions were created, then returns.
type Bus struct {
	mu     sync.RWMutex
	subs   []*Subscription
	nextID int
}

// New creates a new Bus.
func New() *Bus {
	return &Bus{}
}

// Subscribe registers a handler for events whose topic starts with the given
// prefix. An empty prefix matches all topics.
func (b *Bus) Subscribe(topicPrefix string, h Handler) *Subscription {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.nextID++
	sub := &Subscription{
		id:      b.nextID,
		prefix:  topicPrefix,
		handler: h,
	}
	b.subs = append(b.subs, sub)
	return sub
}

// Unsubscribe removes a subscription. Safe to call more than once.
func (b *Bus) Unsubscribe(sub *Subscription) {
	if sub == nil {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()

	for i, s := range b.subs {
		if s.id == sub.id {
			b.subs = append(b.subs[:i], b.subs[i+1:]...)
			return
		}
	}
}

// Publish delivers an event to all matching subscribers, synchronously and
// in subscription order. A handler that subscribes or unsubscribes during
// dispatch affects only later publishes.
func (b *Bus) Publish(topic string, payload interface{}) {
	event := Event{
		Topic:   topic,
		Payload: payload,
	}

	b.mu.RLock()
	matched := make([]*Subscription, 0, len(b.subs))
	for _, sub := range b.subs {
		if sub.prefix == "" || strings.HasPrefix(topic, sub.prefix) {
			matched = append(matched, sub)
		}
	}
	b.mu.RUnlock()

	for _, sub := range matched {
		sub.handler(event)
	}
}

// SubscriberCount returns the number of active subscriptions.
func (b *Bus) SubscriberCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}
