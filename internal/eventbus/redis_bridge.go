package eventbus

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"runtime/debug"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const bridgeChannelPrefix = "feedsync:bus:"

// Relayed is implemented by payloads that can carry the origin of a remote
// publication. The bridge never forwards a payload whose RelayedFrom is set,
// so an event applied from Redis is not echoed back.
type Relayed interface {
	RelayedFrom() string
}

type envelope struct {
	Origin  string          `json:"origin"`
	Scope   string          `json:"scope,omitempty"`
	Topic   string          `json:"topic"`
	Payload json.RawMessage `json:"payload"`
}

// RemoteHandler receives a payload published by another process on topic.
// origin identifies the publishing bridge and scope the owner it published
// for.
type RemoteHandler func(origin, scope string, payload []byte)

// RedisBridge mirrors selected bus topics through Redis pub/sub so several
// client processes of the same user observe each other's changes.
type RedisBridge struct {
	bus    *Bus
	rdb    *redis.Client
	origin string
	topics []string

	mu       sync.RWMutex
	handlers map[string]RemoteHandler
	scope    func() string
}

// NewRedisBridge creates a bridge for the given topics. A nil client yields a
// bridge whose Start is a no-op.
func NewRedisBridge(bus *Bus, rdb *redis.Client, topics ...string) *RedisBridge {
	return &RedisBridge{
		bus:      bus,
		rdb:      rdb,
		origin:   uuid.NewString(),
		topics:   topics,
		handlers: make(map[string]RemoteHandler),
	}
}

// Origin returns the identifier stamped on everything this bridge publishes.
func (r *RedisBridge) Origin() string { return r.origin }

// SetScope restricts the bridge to one owner, usually the logged-in user.
// Publications are stamped with scope() and nothing is forwarded while it is
// empty; remote messages are dropped unless their scope matches the current
// one.
func (r *RedisBridge) SetScope(scope func() string) {
	r.mu.Lock()
	r.scope = scope
	r.mu.Unlock()
}

// currentScope reports the scope and whether one is configured.
func (r *RedisBridge) currentScope() (string, bool) {
	r.mu.RLock()
	fn := r.scope
	r.mu.RUnlock()
	if fn == nil {
		return "", false
	}
	return fn(), true
}

// HandleRemote registers the handler for remote publications on topic.
func (r *RedisBridge) HandleRemote(topic string, h RemoteHandler) {
	r.mu.Lock()
	r.handlers[topic] = h
	r.mu.Unlock()
}

// HandleEvent implements Listener: local publications are forwarded to Redis.
func (r *RedisBridge) HandleEvent(topic string, payload any) {
	if rel, ok := payload.(Relayed); ok && rel.RelayedFrom() != "" {
		return
	}
	if err := r.publish(context.Background(), topic, payload); err != nil {
		log.Printf("bus bridge: failed to forward %s: %v", topic, err)
	}
}

func (r *RedisBridge) publish(ctx context.Context, topic string, payload any) error {
	if r.rdb == nil {
		return nil
	}
	scope, scoped := r.currentScope()
	if scoped && scope == "" {
		return nil
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal payload: %w", err)
	}
	msg, err := json.Marshal(envelope{Origin: r.origin, Scope: scope, Topic: topic, Payload: raw})
	if err != nil {
		return fmt.Errorf("marshal envelope: %w", err)
	}
	return r.rdb.Publish(ctx, ChannelFor(topic), msg).Err()
}

// Start subscribes the bridge to the local bus and to the Redis channels of
// its topics. Incoming messages are dispatched until ctx is cancelled.
func (r *RedisBridge) Start(ctx context.Context) error {
	if r.rdb == nil || len(r.topics) == 0 {
		return nil
	}
	channels := make([]string, 0, len(r.topics))
	for _, t := range r.topics {
		channels = append(channels, ChannelFor(t))
	}
	sub := r.rdb.Subscribe(ctx, channels...)
	// Wait for the subscription to be confirmed so nothing published right
	// after Start is missed.
	if _, err := sub.Receive(ctx); err != nil {
		_ = sub.Close()
		return fmt.Errorf("subscribe bus bridge: %w", err)
	}
	for _, t := range r.topics {
		if err := r.bus.Subscribe(t, r); err != nil {
			_ = sub.Close()
			return fmt.Errorf("subscribe bus bridge: %w", err)
		}
	}
	ch := sub.Channel()

	go func() {
		defer func() { _ = sub.Close() }()
		defer func() {
			for _, t := range r.topics {
				r.bus.Unsubscribe(t, r)
			}
		}()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-ch:
				if !ok {
					return
				}
				r.dispatch(msg.Payload)
			}
		}
	}()

	return nil
}

func (r *RedisBridge) dispatch(raw string) {
	defer func() {
		if rec := recover(); rec != nil {
			log.Printf("PANIC in bus bridge: %v\n%s", rec, debug.Stack())
		}
	}()
	var env envelope
	if err := json.Unmarshal([]byte(raw), &env); err != nil {
		log.Printf("bus bridge: invalid envelope: %v", err)
		return
	}
	if env.Origin == r.origin {
		return
	}
	if scope, scoped := r.currentScope(); scoped && (scope == "" || env.Scope != scope) {
		return
	}
	r.mu.RLock()
	h := r.handlers[env.Topic]
	r.mu.RUnlock()
	if h != nil {
		h(env.Origin, env.Scope, env.Payload)
	}
}

// ChannelFor derives the Redis channel name for a bus topic.
func ChannelFor(topic string) string {
	return bridgeChannelPrefix + strings.ReplaceAll(topic, " ", "_")
}
