// Package session tracks the logged-in identity and provides the opaque
// key/value storage the client persists small values in.
package session

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"strings"
	"sync"
	"time"

	"github.com/redis/go-redis/extra/redisotel/v9"
	"github.com/redis/go-redis/v9"
)

// ErrNotFound is returned by Storage.Get for missing keys.
var ErrNotFound = errors.New("key not found")

// Storage is an opaque key/value store. Implementations need not be durable.
type Storage interface {
	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key, val string, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
}

// MemoryStorage is an in-process Storage. TTLs are honoured lazily on read.
type MemoryStorage struct {
	mu      sync.Mutex
	values  map[string]string
	expires map[string]time.Time
}

// NewMemoryStorage returns an empty MemoryStorage.
func NewMemoryStorage() *MemoryStorage {
	return &MemoryStorage{
		values:  make(map[string]string),
		expires: make(map[string]time.Time),
	}
}

func (m *MemoryStorage) Get(_ context.Context, key string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if exp, ok := m.expires[key]; ok && time.Now().After(exp) {
		delete(m.values, key)
		delete(m.expires, key)
		return "", ErrNotFound
	}
	v, ok := m.values[key]
	if !ok {
		return "", ErrNotFound
	}
	return v, nil
}

func (m *MemoryStorage) Set(_ context.Context, key, val string, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.values[key] = val
	if ttl > 0 {
		m.expires[key] = time.Now().Add(ttl)
	} else {
		delete(m.expires, key)
	}
	return nil
}

func (m *MemoryStorage) Delete(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.values, key)
	delete(m.expires, key)
	return nil
}

// RedisStorage is a Storage backed by Redis.
type RedisStorage struct {
	rdb    *redis.Client
	prefix string
}

// NewRedisStorage wraps rdb; every key is namespaced with prefix.
func NewRedisStorage(rdb *redis.Client, prefix string) *RedisStorage {
	return &RedisStorage{rdb: rdb, prefix: prefix}
}

func (r *RedisStorage) Get(ctx context.Context, key string) (string, error) {
	s, err := r.rdb.Get(ctx, r.prefix+key).Result()
	if errors.Is(err, redis.Nil) {
		return "", ErrNotFound
	}
	return s, err
}

func (r *RedisStorage) Set(ctx context.Context, key, val string, ttl time.Duration) error {
	return r.rdb.Set(ctx, r.prefix+key, val, ttl).Err()
}

func (r *RedisStorage) Delete(ctx context.Context, key string) error {
	return r.rdb.Del(ctx, r.prefix+key).Err()
}

// NewRedisClient builds a client from a REDIS_URL-like string: either a plain
// host:port or a redis:// / rediss:// URL. It returns nil when raw is empty
// or the server does not answer a ping, in which case callers fall back to
// MemoryStorage.
func NewRedisClient(ctx context.Context, raw string) *redis.Client {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil
	}
	var opts *redis.Options
	if strings.Contains(raw, "://") {
		parsed, err := redis.ParseURL(raw)
		if err != nil {
			log.Printf("Redis connection warning: invalid REDIS_URL %q: %v (continuing with in-memory storage)", raw, err)
			return nil
		}
		opts = parsed
	} else {
		opts = &redis.Options{Addr: raw}
	}

	client := redis.NewClient(opts)
	if err := redisotel.InstrumentTracing(client); err != nil {
		log.Printf("Redis tracing disabled: %v", err)
	}
	pingCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		log.Printf("Redis connection warning: %v (continuing with in-memory storage)", err)
		_ = client.Close()
		return nil
	}
	return client
}

// GetJSON reads key and unmarshals it into dest.
// Returns (true, nil) if found and unmarshaled, (false, nil) if not found.
func GetJSON(ctx context.Context, s Storage, key string, dest any) (bool, error) {
	raw, err := s.Get(ctx, key)
	if errors.Is(err, ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if err := json.Unmarshal([]byte(raw), dest); err != nil {
		return false, err
	}
	return true, nil
}

// SetJSON marshals v and stores it under key with ttl.
func SetJSON(ctx context.Context, s Storage, key string, v any, ttl time.Duration) error {
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return s.Set(ctx, key, string(b), ttl)
}
