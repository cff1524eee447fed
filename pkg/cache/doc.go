// Package cache provides the TTL cache in front of the market-data
// provider.
//
// The manager serializes candle payloads as JSON entries and fronts a
// pluggable Store backend:
//
// - RedisStore for shared deployments (TTL enforced by Redis expiry)
// - MemoryStore for in-process use (lazy expiry on read)
//
// The manager itself is TTL-agnostic: callers pick the TTL per request
// granularity (see TTLPolicy) and the manager honors it. Reads of an
// expired entry behave identically to a miss. A failing backend
// surfaces as ErrUnavailable, which the fetch pipeline treats as a
// miss and never as a fetch failure.
//
// # Basic Usage
//
//	store := cache.NewRedisStore(redisClient)
//	manager := cache.NewManager(store, logging.NewLogger("cache"))
//
//	req := quote.FetchRequest{
//		Symbol:      "AAPL",
//		Granularity: quote.GranularityDaily,
//		Range:       quote.Range{Start: start, End: end},
//	}
//
//	entry, err := manager.Get(ctx, req)
//	if errors.Is(err, cache.ErrCacheMiss) {
//		// go to the provider, then:
//		ttl := cache.DefaultTTLPolicy().For(req.Granularity)
//		_ = manager.Put(ctx, req, candles, ttl)
//	}
//
// # Metrics
//
// The package exports Prometheus metrics:
//
//   - marketdata_cache_hits_total
//   - marketdata_cache_misses_total
//   - marketdata_cache_written_bytes_total
//   - marketdata_cache_errors_total{operation}
package cache
