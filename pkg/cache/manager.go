package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/quantora/marketdata-client/pkg/quote"
)

var (
	// ErrCacheMiss indicates the requested key was not found or the
	// entry was expired.
	ErrCacheMiss = errors.New("cache miss")

	// ErrUnavailable indicates the backing store failed. Callers must
	// treat it as a miss and go to the provider, never as a fetch
	// failure.
	ErrUnavailable = errors.New("cache unavailable")
)

// Manager fronts a Store with entry serialization, lazy expiry, and
// metrics. It is TTL-agnostic: callers compute the TTL per request
// granularity and the manager honors what it is given.
type Manager struct {
	store  Store
	logger zerolog.Logger
}

// NewManager creates a cache manager over the given store.
func NewManager(store Store, logger zerolog.Logger) *Manager {
	if store == nil {
		panic("cache store cannot be nil")
	}
	return &Manager{store: store, logger: logger}
}

// Get retrieves the cached entry for the request identity.
// Returns ErrCacheMiss if absent or expired, ErrUnavailable if the
// backend failed.
func (m *Manager) Get(ctx context.Context, req quote.FetchRequest) (*Entry, error) {
	key := req.Key()

	data, err := m.store.Get(ctx, key)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			missesTotal.Inc()
			return nil, ErrCacheMiss
		}
		errorsTotal.WithLabelValues("get").Inc()
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	var entry Entry
	if err := json.Unmarshal(data, &entry); err != nil {
		// Corrupted entry: drop it and treat as a miss.
		errorsTotal.WithLabelValues("get").Inc()
		_ = m.store.Delete(ctx, key)
		missesTotal.Inc()
		return nil, ErrCacheMiss
	}

	// Lazy expiry for backends without native TTL enforcement.
	if entry.IsExpired() {
		_ = m.store.Delete(ctx, key)
		missesTotal.Inc()
		return nil, ErrCacheMiss
	}

	hitsTotal.Inc()
	m.logger.Debug().
		Str("key", key).
		Dur("ttl", entry.TTL()).
		Msg("Cache hit")

	return &entry, nil
}

// Put stores candles for the request identity with the given TTL.
// A non-positive TTL stores nothing.
func (m *Manager) Put(ctx context.Context, req quote.FetchRequest, candles []quote.Candle, ttl time.Duration) error {
	if ttl <= 0 {
		return nil
	}

	key := req.Key()
	now := time.Now()
	entry := Entry{
		Key:        key,
		Candles:    candles,
		InsertedAt: now,
		ExpiresAt:  now.Add(ttl),
	}

	data, err := json.Marshal(entry)
	if err != nil {
		errorsTotal.WithLabelValues("put").Inc()
		return fmt.Errorf("marshal cache entry: %w", err)
	}

	if err := m.store.Set(ctx, key, data, ttl); err != nil {
		errorsTotal.WithLabelValues("put").Inc()
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	sizeBytes.Add(float64(len(data)))
	m.logger.Debug().
		Str("key", key).
		Dur("ttl", ttl).
		Int("candles", len(candles)).
		Msg("Cached fetch result")

	return nil
}

// Invalidate removes the cached entry for the request identity.
func (m *Manager) Invalidate(ctx context.Context, req quote.FetchRequest) error {
	if err := m.store.Delete(ctx, req.Key()); err != nil {
		errorsTotal.WithLabelValues("delete").Inc()
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return nil
}
