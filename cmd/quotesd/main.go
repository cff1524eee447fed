// Command quotesd exposes the market-data pipeline as a small HTTP
// service: /v1/candles serves quote history through the cache and
// resilience stack, /metrics exposes Prometheus metrics.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/quantora/marketdata-client/pkg/cache"
	"github.com/quantora/marketdata-client/pkg/fetcher"
	"github.com/quantora/marketdata-client/pkg/logging"
	"github.com/quantora/marketdata-client/pkg/provider"
	"github.com/quantora/marketdata-client/pkg/quote"
)

type config struct {
	Port      string `env:"PORT" envDefault:"8080"`
	RedisURL  string `env:"REDIS_URL"`
	LogLevel  string `env:"LOG_LEVEL" envDefault:"info"`
	LogPretty bool   `env:"LOG_PRETTY" envDefault:"false"`

	ProviderBaseURL string        `env:"PROVIDER_BASE_URL,required"`
	ProviderAPIKey  string        `env:"PROVIDER_API_KEY"`
	ProviderTimeout time.Duration `env:"PROVIDER_TIMEOUT" envDefault:"15s"`

	MaxRequestsPerWindow int           `env:"RATE_LIMIT_MAX" envDefault:"60"`
	Window               time.Duration `env:"RATE_LIMIT_WINDOW" envDefault:"1m"`
	FailureThreshold     int           `env:"BREAKER_THRESHOLD" envDefault:"5"`
	Cooldown             time.Duration `env:"BREAKER_COOLDOWN" envDefault:"30s"`
	MaxAttempts          int           `env:"RETRY_MAX_ATTEMPTS" envDefault:"3"`
	MaxConcurrency       int           `env:"MAX_CONCURRENCY" envDefault:"8"`
}

func main() {
	var cfg config
	if err := env.Parse(&cfg); err != nil {
		fmt.Printf("invalid configuration: %v\n", err)
		return
	}

	logger := logging.Setup(logging.Config{
		Level:  logging.LogLevel(cfg.LogLevel),
		Pretty: cfg.LogPretty,
	})

	var redisClient *redis.Client
	var cacheManager *cache.Manager
	if cfg.RedisURL != "" {
		redisClient = redis.NewClient(&redis.Options{Addr: cfg.RedisURL})
		if err := redisClient.Ping(context.Background()).Err(); err != nil {
			logger.Fatal().Err(err).Str("addr", cfg.RedisURL).Msg("Failed to connect to Redis")
		}
		logger.Info().Str("addr", cfg.RedisURL).Msg("Connected to Redis")
		cacheManager = cache.NewManager(cache.NewRedisStore(redisClient), logger)
	} else {
		logger.Info().Msg("No REDIS_URL configured, using in-process cache")
		cacheManager = cache.NewManager(cache.NewMemoryStore(), logger)
	}

	httpProvider, err := provider.NewHTTPProvider(provider.HTTPConfig{
		BaseURL: cfg.ProviderBaseURL,
		APIKey:  cfg.ProviderAPIKey,
		Timeout: cfg.ProviderTimeout,
	}, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("Failed to create provider")
	}

	fetchCfg := fetcher.DefaultConfig()
	fetchCfg.MaxRequestsPerWindow = cfg.MaxRequestsPerWindow
	fetchCfg.Window = cfg.Window
	fetchCfg.FailureThreshold = cfg.FailureThreshold
	fetchCfg.Cooldown = cfg.Cooldown
	fetchCfg.MaxAttempts = cfg.MaxAttempts
	fetchCfg.MaxConcurrency = cfg.MaxConcurrency

	f, err := fetcher.New(httpProvider, cacheManager, fetchCfg, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("Failed to create fetcher")
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/health", healthHandler)
	mux.HandleFunc("/ready", readyHandler(redisClient))
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/v1/candles", candlesHandler(f, logger))

	addr := ":" + cfg.Port
	logger.Info().Str("addr", addr).Msg("Starting quotesd")
	if err := http.ListenAndServe(addr, mux); err != nil {
		logger.Fatal().Err(err).Msg("Server failed")
	}
}

func healthHandler(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	fmt.Fprintf(w, "OK")
}

// readyHandler reports ready once the cache backend answers. With no
// Redis configured the in-process cache is always ready.
func readyHandler(redisClient *redis.Client) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if redisClient != nil {
			if err := redisClient.Ping(r.Context()).Err(); err != nil {
				http.Error(w, "cache backend unavailable", http.StatusServiceUnavailable)
				return
			}
		}
		w.WriteHeader(http.StatusOK)
		fmt.Fprintf(w, "OK")
	}
}

// candlesHandler serves GET /v1/candles?symbol=...&granularity=...&start=...&end=...
func candlesHandler(f *fetcher.Fetcher, logger zerolog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		req, err := parseCandlesRequest(r)
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}

		result := f.FetchOne(r.Context(), req)
		if !result.OK() {
			status := http.StatusBadGateway
			switch result.ErrorKind {
			case quote.KindFatal:
				status = http.StatusNotFound
			case quote.KindRateLimited, quote.KindCircuitOpen:
				status = http.StatusServiceUnavailable
			case quote.KindTimeout:
				status = http.StatusGatewayTimeout
			}
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(status)
			json.NewEncoder(w).Encode(map[string]string{
				"error":      result.Err.Error(),
				"error_kind": string(result.ErrorKind),
			})
			return
		}

		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(result); err != nil {
			logger.Warn().Err(err).Msg("Failed to write response")
		}
	}
}

func parseCandlesRequest(r *http.Request) (quote.FetchRequest, error) {
	q := r.URL.Query()

	start, err := time.Parse(time.RFC3339, q.Get("start"))
	if err != nil {
		return quote.FetchRequest{}, fmt.Errorf("invalid start: %w", err)
	}
	end, err := time.Parse(time.RFC3339, q.Get("end"))
	if err != nil {
		return quote.FetchRequest{}, fmt.Errorf("invalid end: %w", err)
	}

	req := quote.FetchRequest{
		Symbol:      q.Get("symbol"),
		Granularity: quote.Granularity(q.Get("granularity")),
		Range:       quote.Range{Start: start, End: end},
	}
	if err := req.Validate(); err != nil {
		return quote.FetchRequest{}, err
	}
	return req, nil
}
