package cache

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// ErrNotFound indicates the key is absent from the backing store.
var ErrNotFound = errors.New("key not found")

// Store is the backing storage contract. Implementations must be safe
// for concurrent use; concurrent writes to the same key resolve as
// last writer wins.
type Store interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, data []byte, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
}

// RedisStore backs the cache with Redis. TTL enforcement is delegated
// to Redis key expiry.
type RedisStore struct {
	client *redis.Client
}

// NewRedisStore creates a Redis-backed store.
func NewRedisStore(client *redis.Client) *RedisStore {
	if client == nil {
		panic("redis client cannot be nil")
	}
	return &RedisStore{client: client}
}

// Get retrieves the raw bytes stored under key.
func (s *RedisStore) Get(ctx context.Context, key string) ([]byte, error) {
	data, err := s.client.Get(ctx, key).Bytes()
	if err != nil {
		if err == redis.Nil {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("redis get: %w", err)
	}
	return data, nil
}

// Set stores data under key with the given TTL.
func (s *RedisStore) Set(ctx context.Context, key string, data []byte, ttl time.Duration) error {
	if err := s.client.Set(ctx, key, data, ttl).Err(); err != nil {
		return fmt.Errorf("redis set: %w", err)
	}
	return nil
}

// Delete removes key from the store.
func (s *RedisStore) Delete(ctx context.Context, key string) error {
	if err := s.client.Del(ctx, key).Err(); err != nil {
		return fmt.Errorf("redis del: %w", err)
	}
	return nil
}

// MemoryStore is an in-process Store for deployments without Redis.
// Expiry is lazy: stale entries are dropped on read.
type MemoryStore struct {
	mu    sync.Mutex
	items map[string]memoryItem
}

type memoryItem struct {
	data      []byte
	expiresAt time.Time
}

// NewMemoryStore creates an empty in-process store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{items: make(map[string]memoryItem)}
}

// Get returns the stored bytes if present and not expired.
func (s *MemoryStore) Get(_ context.Context, key string) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	item, ok := s.items[key]
	if !ok {
		return nil, ErrNotFound
	}
	if !item.expiresAt.IsZero() && !time.Now().Before(item.expiresAt) {
		delete(s.items, key)
		return nil, ErrNotFound
	}
	return item.data, nil
}

// Set stores data under key until ttl elapses. A zero ttl stores the
// entry without store-level expiry; the manager still honors the
// entry's own expiry on read.
func (s *MemoryStore) Set(_ context.Context, key string, data []byte, ttl time.Duration) error {
	var expiresAt time.Time
	if ttl > 0 {
		expiresAt = time.Now().Add(ttl)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.items[key] = memoryItem{data: data, expiresAt: expiresAt}
	return nil
}

// Delete removes key from the store.
func (s *MemoryStore) Delete(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.items, key)
	return nil
}

// Len returns the number of stored entries, expired or not.
func (s *MemoryStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.items)
}
