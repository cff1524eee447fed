// Package retry wraps a single provider call with bounded retries
// using exponential backoff and full jitter. The retryable-vs-fatal
// decision is an injected classifier so callers can adapt it per
// provider.
package retry

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
)

// Prometheus metrics for retry operations.
var (
	retriesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "marketdata_retries_total",
		Help: "Total number of retry attempts",
	})

	retryBackoffSeconds = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "marketdata_retry_backoff_seconds",
		Help:    "Backoff duration before retry attempts",
		Buckets: []float64{0.05, 0.1, 0.5, 1, 2, 5, 10, 30},
	})

	retryExhaustedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "marketdata_retry_exhausted_total",
		Help: "Total number of times retry attempts were exhausted",
	})
)

// ErrRetriesExhausted is returned when all attempts are spent. It
// wraps the last retryable error.
var ErrRetriesExhausted = errors.New("retry attempts exhausted")

// Class is the retry classification of an error.
type Class int

const (
	// ClassFatal errors are returned immediately without retrying.
	ClassFatal Class = iota

	// ClassRetryable errors trigger another attempt after backoff.
	ClassRetryable
)

// Classifier decides whether an error is worth retrying.
type Classifier func(error) Class

// Policy holds the retry configuration.
type Policy struct {
	// MaxAttempts is the total number of attempts, including the first.
	MaxAttempts int

	// BaseDelay is the backoff cap for the first retry.
	BaseDelay time.Duration

	// MaxDelay caps the exponential growth of the backoff.
	MaxDelay time.Duration
}

// DefaultPolicy returns a safe default retry policy.
func DefaultPolicy() Policy {
	return Policy{
		MaxAttempts: 3,
		BaseDelay:   500 * time.Millisecond,
		MaxDelay:    10 * time.Second,
	}
}

// Delay returns the randomized backoff before the given retry, where
// attempt counts the attempt that just failed (1-based). Full jitter:
// uniform in [0, min(base*2^(attempt-1), max)].
func (p Policy) Delay(attempt int) time.Duration {
	limit := p.BaseDelay << (attempt - 1)
	if limit > p.MaxDelay || limit <= 0 {
		limit = p.MaxDelay
	}
	if limit <= 0 {
		return 0
	}
	return time.Duration(rand.Int63n(int64(limit) + 1))
}

// Do runs op, retrying retryable failures up to MaxAttempts. Fatal
// failures are returned as-is after the first occurrence. Backoff
// waits honor ctx; cancellation surfaces the ctx error.
func (p Policy) Do(ctx context.Context, classify Classifier, logger zerolog.Logger, op func(context.Context) error) error {
	if p.MaxAttempts < 1 {
		p.MaxAttempts = 1
	}
	if classify == nil {
		classify = func(error) Class { return ClassFatal }
	}

	var lastErr error

	for attempt := 1; attempt <= p.MaxAttempts; attempt++ {
		err := op(ctx)
		if err == nil {
			if attempt > 1 {
				logger.Info().Int("attempt", attempt).Msg("Call succeeded after retry")
			}
			return nil
		}

		lastErr = err

		if classify(err) != ClassRetryable {
			return err
		}

		if attempt >= p.MaxAttempts {
			break
		}

		delay := p.Delay(attempt)
		retriesTotal.Inc()
		retryBackoffSeconds.Observe(delay.Seconds())

		logger.Warn().
			Err(err).
			Int("attempt", attempt).
			Dur("backoff", delay).
			Msg("Retrying after backoff")

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}

	retryExhaustedTotal.Inc()
	logger.Warn().
		Err(lastErr).
		Int("max_attempts", p.MaxAttempts).
		Msg("Retry attempts exhausted")

	return fmt.Errorf("%w after %d attempts: %w", ErrRetriesExhausted, p.MaxAttempts, lastErr)
}
