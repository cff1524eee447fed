// Package fetcher composes the resilience pipeline into one fetch
// API: cache check, sliding-window admission, circuit breaking,
// bounded retries, and the provider call itself. Batch fetches fan
// out over a bounded worker pool and fan partial results back in.
package fetcher

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"

	"github.com/quantora/marketdata-client/pkg/breaker"
	"github.com/quantora/marketdata-client/pkg/cache"
	"github.com/quantora/marketdata-client/pkg/provider"
	"github.com/quantora/marketdata-client/pkg/quote"
	"github.com/quantora/marketdata-client/pkg/ratelimit"
	"github.com/quantora/marketdata-client/pkg/retry"
)

// Prometheus metrics for fetch operations.
var (
	fetchesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "marketdata_fetches_total",
		Help: "Total fetches by status and source",
	}, []string{"status", "source"})

	fetchDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "marketdata_fetch_duration_seconds",
		Help:    "Fetch duration by source",
		Buckets: []float64{0.001, 0.01, 0.1, 0.5, 1, 2, 5, 10, 30},
	}, []string{"source"})

	successRateGauge = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "marketdata_fetch_success_rate",
		Help: "Successful live fetches over attempted live fetches",
	})
)

// Config holds the pipeline configuration. All knobs are externally
// supplied; nothing is hard-coded or ambient.
type Config struct {
	// MaxRequestsPerWindow and Window bound provider admissions.
	MaxRequestsPerWindow int
	Window               time.Duration

	// WaitForSlot selects blocking admission. Batch jobs want to
	// wait; latency-sensitive callers set false to fail fast with a
	// rate-limited result.
	WaitForSlot bool

	// FailureThreshold and Cooldown configure the circuit breaker.
	FailureThreshold int
	Cooldown         time.Duration

	// MaxAttempts, BaseDelay and MaxDelay configure retries.
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration

	// MaxConcurrency bounds in-flight fetches per batch call.
	MaxConcurrency int

	// TTL maps granularity to cache validity.
	TTL cache.TTLPolicy

	// Classifier decides which provider errors are retryable.
	// Defaults to provider.Classify.
	Classifier retry.Classifier
}

// DefaultConfig returns a safe default pipeline configuration.
func DefaultConfig() Config {
	return Config{
		MaxRequestsPerWindow: 60,
		Window:               time.Minute,
		WaitForSlot:          true,
		FailureThreshold:     5,
		Cooldown:             30 * time.Second,
		MaxAttempts:          3,
		BaseDelay:            500 * time.Millisecond,
		MaxDelay:             10 * time.Second,
		MaxConcurrency:       8,
		TTL:                  cache.DefaultTTLPolicy(),
		Classifier:           provider.Classify,
	}
}

// Fetcher is the orchestration façade. It owns one rate limiter and
// one circuit breaker for its provider, so sharing a Fetcher per
// provider identity shares the provider's real budget. The cache is
// an external collaborator and may be shared more widely.
type Fetcher struct {
	provider provider.Provider
	cache    *cache.Manager
	limiter  *ratelimit.Limiter
	breaker  *breaker.Breaker
	policy   retry.Policy
	classify retry.Classifier
	config   Config
	logger   zerolog.Logger

	attempted atomic.Int64
	succeeded atomic.Int64
}

// New creates a fetcher over the given provider. cacheManager may be
// nil to run without a cache.
func New(p provider.Provider, cacheManager *cache.Manager, cfg Config, logger zerolog.Logger) (*Fetcher, error) {
	if p == nil {
		return nil, errors.New("provider is required")
	}

	def := DefaultConfig()
	if cfg.MaxRequestsPerWindow <= 0 {
		cfg.MaxRequestsPerWindow = def.MaxRequestsPerWindow
	}
	if cfg.Window <= 0 {
		cfg.Window = def.Window
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = def.MaxAttempts
	}
	if cfg.BaseDelay <= 0 {
		cfg.BaseDelay = def.BaseDelay
	}
	if cfg.MaxDelay <= 0 {
		cfg.MaxDelay = def.MaxDelay
	}
	if cfg.MaxConcurrency <= 0 {
		cfg.MaxConcurrency = def.MaxConcurrency
	}
	if cfg.TTL == (cache.TTLPolicy{}) {
		cfg.TTL = def.TTL
	}
	if cfg.Classifier == nil {
		cfg.Classifier = provider.Classify
	}

	return &Fetcher{
		provider: p,
		cache:    cacheManager,
		limiter:  ratelimit.New(cfg.MaxRequestsPerWindow, cfg.Window, logger),
		breaker: breaker.New(breaker.Config{
			FailureThreshold: cfg.FailureThreshold,
			Cooldown:         cfg.Cooldown,
		}, logger),
		policy: retry.Policy{
			MaxAttempts: cfg.MaxAttempts,
			BaseDelay:   cfg.BaseDelay,
			MaxDelay:    cfg.MaxDelay,
		},
		classify: cfg.Classifier,
		config:   cfg,
		logger:   logger,
	}, nil
}

// FetchOne runs the full pipeline for a single request: cache check,
// admission, circuit-protected retried provider call, cache write.
func (f *Fetcher) FetchOne(ctx context.Context, req quote.FetchRequest) quote.FetchResult {
	start := time.Now()

	// Cache first. A failing cache degrades to a miss, never to a
	// fetch failure.
	if f.cache != nil {
		entry, err := f.cache.Get(ctx, req)
		switch {
		case err == nil:
			fetchesTotal.WithLabelValues(string(quote.StatusCached), string(quote.SourceCache)).Inc()
			fetchDuration.WithLabelValues(string(quote.SourceCache)).Observe(time.Since(start).Seconds())
			return quote.FetchResult{
				Request: req,
				Status:  quote.StatusCached,
				Candles: entry.Candles,
				Latency: time.Since(start),
				Source:  quote.SourceCache,
			}
		case errors.Is(err, cache.ErrUnavailable):
			f.logger.Warn().Err(err).Str("key", req.Key()).Msg("Cache unavailable, going to provider")
		}
	}

	candles, err := f.fetchLive(ctx, req)
	if err != nil {
		kind := errorKind(err)
		fetchesTotal.WithLabelValues(string(quote.StatusError), string(quote.SourceLive)).Inc()
		f.logger.Warn().
			Err(err).
			Str("key", req.Key()).
			Str("error_kind", string(kind)).
			Msg("Fetch failed")
		return quote.FetchResult{
			Request:   req,
			Status:    quote.StatusError,
			ErrorKind: kind,
			Err:       err,
			Latency:   time.Since(start),
		}
	}

	if f.cache != nil {
		ttl := f.config.TTL.For(req.Granularity)
		if err := f.cache.Put(ctx, req, candles, ttl); err != nil {
			f.logger.Warn().Err(err).Str("key", req.Key()).Msg("Cache write failed")
		}
	}

	fetchesTotal.WithLabelValues(string(quote.StatusOK), string(quote.SourceLive)).Inc()
	fetchDuration.WithLabelValues(string(quote.SourceLive)).Observe(time.Since(start).Seconds())

	return quote.FetchResult{
		Request: req,
		Status:  quote.StatusOK,
		Candles: candles,
		Latency: time.Since(start),
		Source:  quote.SourceLive,
	}
}

// fetchLive runs admission, breaker, retry and the provider call.
func (f *Fetcher) fetchLive(ctx context.Context, req quote.FetchRequest) ([]quote.Candle, error) {
	if f.config.WaitForSlot {
		if err := f.limiter.Acquire(ctx); err != nil {
			return nil, err
		}
	} else {
		if err := f.limiter.TryAcquire(); err != nil {
			return nil, err
		}
	}

	f.attempted.Add(1)

	var candles []quote.Candle
	err := f.breaker.Do(ctx, func(ctx context.Context) error {
		return f.policy.Do(ctx, f.classify, f.logger, func(ctx context.Context) error {
			var fetchErr error
			candles, fetchErr = f.provider.Fetch(ctx, req)
			return fetchErr
		})
	})
	if err != nil {
		f.publishSuccessRate()
		return nil, err
	}

	f.succeeded.Add(1)
	f.publishSuccessRate()
	return candles, nil
}

// FetchBatch fans FetchOne out over the request set with at most
// maxConcurrency in-flight fetches (0 uses the configured default).
// One item's failure never aborts the batch: every request gets an
// entry in the result map, keyed by its identity. Requests not
// started before ctx expires are marked with a timeout result.
func (f *Fetcher) FetchBatch(ctx context.Context, reqs []quote.FetchRequest, maxConcurrency int) map[string]quote.FetchResult {
	if maxConcurrency <= 0 {
		maxConcurrency = f.config.MaxConcurrency
	}
	if maxConcurrency > len(reqs) {
		maxConcurrency = len(reqs)
	}

	start := time.Now()
	results := make(map[string]quote.FetchResult, len(reqs))
	if len(reqs) == 0 {
		return results
	}

	var mu sync.Mutex
	jobs := make(chan quote.FetchRequest)

	var wg sync.WaitGroup
	for i := 0; i < maxConcurrency; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for req := range jobs {
				var result quote.FetchResult
				if err := ctx.Err(); err != nil {
					// Deadline hit before this item started.
					result = quote.FetchResult{
						Request:   req,
						Status:    quote.StatusError,
						ErrorKind: quote.KindTimeout,
						Err:       err,
					}
				} else {
					result = f.FetchOne(ctx, req)
				}

				mu.Lock()
				results[req.Key()] = result
				mu.Unlock()
			}
		}()
	}

	for _, req := range reqs {
		jobs <- req
	}
	close(jobs)
	wg.Wait()

	ok := 0
	for _, r := range results {
		if r.OK() {
			ok++
		}
	}
	f.logger.Info().
		Int("requests", len(reqs)).
		Int("ok", ok).
		Int("failed", len(results)-ok).
		Dur("duration", time.Since(start)).
		Msg("Batch fetch complete")

	return results
}

// SuccessRate returns successful over attempted live fetches since
// the fetcher was created. Cache hits are not counted; the rate
// reflects provider health so callers can back off at a higher level.
func (f *Fetcher) SuccessRate() float64 {
	attempted := f.attempted.Load()
	if attempted == 0 {
		return 0
	}
	return float64(f.succeeded.Load()) / float64(attempted)
}

// BreakerState exposes the circuit state for operability.
func (f *Fetcher) BreakerState() breaker.State {
	return f.breaker.State()
}

func (f *Fetcher) publishSuccessRate() {
	successRateGauge.Set(f.SuccessRate())
}

// errorKind maps a pipeline error onto the taxonomy.
func errorKind(err error) quote.ErrorKind {
	switch {
	case errors.Is(err, ratelimit.ErrLimitExceeded):
		return quote.KindRateLimited
	case errors.Is(err, breaker.ErrCircuitOpen):
		return quote.KindCircuitOpen
	case errors.Is(err, retry.ErrRetriesExhausted):
		return quote.KindRetriesExhausted
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		return quote.KindTimeout
	}

	var pe *provider.Error
	if errors.As(err, &pe) {
		return pe.Kind
	}
	return quote.KindTransient
}
