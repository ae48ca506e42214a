// Package eventbus provides a process-wide, topic-based publish/subscribe
// channel. Surfaces that must react to shared state changes subscribe here
// instead of holding references to one another.
package eventbus

import (
	"context"
	"errors"
	"reflect"
	"sync"

	"feedsync/internal/observability"
)

// Topic names used across the client.
const (
	TopicFollowing = "following:changed"
)

// ErrInvalidListener is returned by Subscribe for nil listeners and for
// listeners whose dynamic type cannot be compared, such as struct values
// holding funcs or slices.
var ErrInvalidListener = errors.New("eventbus: listener must be a non-nil comparable value")

// Listener receives events for the topics it is subscribed to. Listener values
// are compared by identity, so implementations must be comparable (pointer
// receivers are the usual choice).
type Listener interface {
	HandleEvent(topic string, payload any)
}

// Subscription is a function listener registered through SubscribeFunc. The
// pointer is the listener identity.
type Subscription struct {
	bus   *Bus
	topic string
	fn    func(payload any)
}

// HandleEvent implements Listener.
func (s *Subscription) HandleEvent(_ string, payload any) {
	s.fn(payload)
}

// Unsubscribe detaches the subscription. Calling it more than once is a no-op.
func (s *Subscription) Unsubscribe() {
	s.bus.Unsubscribe(s.topic, s)
}

// Bus delivers payloads synchronously to every listener registered for a topic.
type Bus struct {
	mu        sync.RWMutex
	listeners map[string][]Listener
	log       *observability.SyncLogger
}

// New creates an empty Bus.
func New() *Bus {
	return &Bus{
		listeners: make(map[string][]Listener),
		log:       observability.NewSyncLogger("eventbus"),
	}
}

// Subscribe registers l for topic. Registering the same listener twice keeps
// the original position.
func (b *Bus) Subscribe(topic string, l Listener) error {
	if !isComparable(l) {
		return ErrInvalidListener
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, existing := range b.listeners[topic] {
		if existing == l {
			return nil
		}
	}
	b.listeners[topic] = append(b.listeners[topic], l)
	return nil
}

func isComparable(l Listener) bool {
	if l == nil {
		return false
	}
	return reflect.TypeOf(l).Comparable()
}

// SubscribeFunc registers fn for topic and returns its handle.
func (b *Bus) SubscribeFunc(topic string, fn func(payload any)) *Subscription {
	s := &Subscription{bus: b, topic: topic, fn: fn}
	_ = b.Subscribe(topic, s) // a pointer is always comparable
	return s
}

// Unsubscribe removes l from topic. Unknown listeners are ignored.
func (b *Bus) Unsubscribe(topic string, l Listener) {
	if !isComparable(l) {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	current := b.listeners[topic]
	for i, existing := range current {
		if existing != l {
			continue
		}
		next := make([]Listener, 0, len(current)-1)
		next = append(next, current[:i]...)
		next = append(next, current[i+1:]...)
		if len(next) == 0 {
			delete(b.listeners, topic)
		} else {
			b.listeners[topic] = next
		}
		return
	}
}

// Publish delivers payload to the listeners registered for topic at call
// time, in registration order.
func (b *Bus) Publish(topic string, payload any) {
	b.PublishExcept(topic, payload, nil)
}

// PublishExcept is Publish but skips the given listener.
func (b *Bus) PublishExcept(topic string, payload any, skip Listener) {
	b.mu.RLock()
	snapshot := b.listeners[topic]
	b.mu.RUnlock()

	if !isComparable(skip) {
		skip = nil
	}
	for _, l := range snapshot {
		if skip != nil && l == skip {
			continue
		}
		b.deliver(topic, l, payload)
	}
}

// ListenerCount returns how many listeners are registered for topic.
func (b *Bus) ListenerCount(topic string) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.listeners[topic])
}

func (b *Bus) deliver(topic string, l Listener, payload any) {
	defer func() {
		if r := recover(); r != nil {
			observability.BusListenerPanics.WithLabelValues(topic).Inc()
			b.log.LogPanic(context.Background(), r, map[string]interface{}{"topic": topic})
		}
	}()
	l.HandleEvent(topic, payload)
}
