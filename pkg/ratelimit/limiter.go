// Package ratelimit implements sliding-window admission control in
// front of the market-data provider. The limiter counts admissions in
// a trailing window and either suspends callers until capacity frees
// up or fails fast, depending on how they acquire.
package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
)

// Prometheus metrics for admission control.
var (
	admissionsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "marketdata_ratelimit_admissions_total",
		Help: "Total admissions granted by the sliding-window limiter",
	})

	rejectionsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "marketdata_ratelimit_rejections_total",
		Help: "Total non-blocking acquisitions rejected at the window cap",
	})

	waitSeconds = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "marketdata_ratelimit_wait_seconds",
		Help:    "Time blocking callers spent waiting for window capacity",
		Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 2, 5, 10, 30},
	})
)

// ErrLimitExceeded is returned by TryAcquire when the window is full.
var ErrLimitExceeded = errors.New("rate limit exceeded")

// Limiter is a sliding-window admission controller. All state is
// guarded by a single mutex so concurrent callers observe a consistent
// window.
type Limiter struct {
	mu     sync.Mutex
	max    int
	window time.Duration
	grants []time.Time

	// now is swappable for tests.
	now func() time.Time

	logger zerolog.Logger
}

// New creates a limiter admitting at most maxPerWindow weighted
// admissions in any trailing window.
func New(maxPerWindow int, window time.Duration, logger zerolog.Logger) *Limiter {
	if maxPerWindow <= 0 {
		panic(fmt.Sprintf("ratelimit: maxPerWindow must be positive, got %d", maxPerWindow))
	}
	if window <= 0 {
		panic(fmt.Sprintf("ratelimit: window must be positive, got %v", window))
	}
	return &Limiter{
		max:    maxPerWindow,
		window: window,
		grants: make([]time.Time, 0, maxPerWindow),
		now:    time.Now,
		logger: logger,
	}
}

// prune drops grant timestamps that have left the trailing window.
// Caller must hold mu.
func (l *Limiter) prune(now time.Time) {
	cutoff := now.Add(-l.window)
	i := 0
	for i < len(l.grants) && !l.grants[i].After(cutoff) {
		i++
	}
	if i > 0 {
		l.grants = append(l.grants[:0], l.grants[i:]...)
	}
}

// admit records weight admissions if they fit. On refusal it returns
// the duration until the oldest in-window grant exits the window.
// Caller must hold mu.
func (l *Limiter) admit(now time.Time, weight int) (bool, time.Duration) {
	l.prune(now)

	if len(l.grants)+weight <= l.max {
		for i := 0; i < weight; i++ {
			l.grants = append(l.grants, now)
		}
		return true, 0
	}

	wait := l.grants[0].Add(l.window).Sub(now)
	if wait < 0 {
		wait = 0
	}
	return false, wait
}

// TryAcquire attempts one admission without blocking. It returns
// ErrLimitExceeded when the window is at capacity.
func (l *Limiter) TryAcquire() error {
	return l.TryAcquireN(1)
}

// TryAcquireN attempts a weighted admission without blocking.
func (l *Limiter) TryAcquireN(weight int) error {
	if err := checkWeight(weight, l.max); err != nil {
		return err
	}

	l.mu.Lock()
	ok, _ := l.admit(l.now(), weight)
	l.mu.Unlock()

	if !ok {
		rejectionsTotal.Inc()
		l.logger.Debug().Int("weight", weight).Msg("Admission rejected at window cap")
		return ErrLimitExceeded
	}

	admissionsTotal.Inc()
	return nil
}

// Acquire blocks until one admission is granted or ctx is done.
func (l *Limiter) Acquire(ctx context.Context) error {
	return l.AcquireN(ctx, 1)
}

// AcquireN blocks until a weighted admission is granted or ctx is
// done. Waiting callers re-check capacity each time the oldest grant
// exits the window.
func (l *Limiter) AcquireN(ctx context.Context, weight int) error {
	if err := checkWeight(weight, l.max); err != nil {
		return err
	}

	start := l.now()
	waited := false

	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		l.mu.Lock()
		ok, wait := l.admit(l.now(), weight)
		l.mu.Unlock()

		if ok {
			admissionsTotal.Inc()
			if waited {
				elapsed := l.now().Sub(start)
				waitSeconds.Observe(elapsed.Seconds())
				l.logger.Debug().
					Dur("waited", elapsed).
					Int("weight", weight).
					Msg("Admission granted after wait")
			}
			return nil
		}

		waited = true
		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
}

// InWindow returns the number of admissions currently counted in the
// trailing window.
func (l *Limiter) InWindow() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.prune(l.now())
	return len(l.grants)
}

func checkWeight(weight, max int) error {
	if weight <= 0 {
		return fmt.Errorf("weight must be positive, got %d", weight)
	}
	if weight > max {
		return fmt.Errorf("weight %d exceeds window capacity %d", weight, max)
	}
	return nil
}
