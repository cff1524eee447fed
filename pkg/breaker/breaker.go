// Package breaker implements a circuit breaker that isolates the
// system from a persistently failing provider. Calls pass through
// while the circuit is Closed, are rejected while Open, and a single
// probe is allowed through HalfOpen after the cooldown elapses.
package breaker

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
)

// Prometheus metrics for circuit breaker activity.
var (
	stateGauge = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "marketdata_breaker_state",
		Help: "Current circuit state (0=closed, 1=open, 2=half-open)",
	})

	rejectionsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "marketdata_breaker_rejections_total",
		Help: "Calls rejected while the circuit was open",
	})

	transitionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "marketdata_breaker_transitions_total",
		Help: "Circuit state transitions by target state",
	}, []string{"to"})
)

// ErrCircuitOpen is returned when a call is rejected without reaching
// the wrapped operation.
var ErrCircuitOpen = errors.New("circuit open")

// State is the circuit state.
type State int

const (
	// StateClosed indicates normal operation.
	StateClosed State = iota

	// StateOpen indicates calls are rejected for the cooldown period.
	StateOpen

	// StateHalfOpen indicates a single trial probe is permitted.
	StateHalfOpen
)

// String implements fmt.Stringer.
func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// Config controls the state transition thresholds.
type Config struct {
	// FailureThreshold is the number of consecutive failures that
	// trips the circuit open.
	FailureThreshold int

	// Cooldown is how long the circuit stays open before allowing a
	// half-open probe.
	Cooldown time.Duration
}

// DefaultConfig returns safe breaker defaults.
func DefaultConfig() Config {
	return Config{
		FailureThreshold: 5,
		Cooldown:         30 * time.Second,
	}
}

// Breaker guards calls to the provider. All state is mutated under a
// single mutex; the wrapped operation itself runs outside the lock.
type Breaker struct {
	mu                  sync.Mutex
	config              Config
	state               State
	consecutiveFailures int
	openedAt            time.Time
	probeInFlight       bool

	// now is swappable for tests.
	now func() time.Time

	logger zerolog.Logger
}

// New creates a breaker in the Closed state.
func New(cfg Config, logger zerolog.Logger) *Breaker {
	if cfg.FailureThreshold <= 0 {
		cfg.FailureThreshold = DefaultConfig().FailureThreshold
	}
	if cfg.Cooldown <= 0 {
		cfg.Cooldown = DefaultConfig().Cooldown
	}
	return &Breaker{
		config: cfg,
		state:  StateClosed,
		now:    time.Now,
		logger: logger,
	}
}

// Do executes op under the circuit's protection. While Open it
// returns ErrCircuitOpen without calling op; in HalfOpen only one
// probe runs at a time and concurrent callers are rejected.
func (b *Breaker) Do(ctx context.Context, op func(context.Context) error) error {
	probe, err := b.allow()
	if err != nil {
		rejectionsTotal.Inc()
		return err
	}

	opErr := op(ctx)
	b.record(opErr == nil, probe)
	return opErr
}

// allow decides whether a call may proceed and whether it is the
// half-open probe.
func (b *Breaker) allow() (probe bool, err error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case StateClosed:
		return false, nil

	case StateOpen:
		if b.now().Sub(b.openedAt) < b.config.Cooldown {
			return false, ErrCircuitOpen
		}
		b.transition(StateHalfOpen)
		b.probeInFlight = true
		return true, nil

	case StateHalfOpen:
		if b.probeInFlight {
			return false, ErrCircuitOpen
		}
		b.probeInFlight = true
		return true, nil
	}

	return false, nil
}

// record applies a call outcome to the circuit state.
func (b *Breaker) record(success, probe bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if probe {
		b.probeInFlight = false
		if success {
			b.consecutiveFailures = 0
			b.transition(StateClosed)
		} else {
			b.openedAt = b.now()
			b.transition(StateOpen)
		}
		return
	}

	// Outcome of a regular closed-state call. Calls admitted before a
	// trip completed are counted against the closed state as well.
	if success {
		b.consecutiveFailures = 0
		return
	}

	b.consecutiveFailures++
	if b.state == StateClosed && b.consecutiveFailures >= b.config.FailureThreshold {
		b.openedAt = b.now()
		b.transition(StateOpen)
	}
}

// transition moves to the target state. Caller must hold mu.
func (b *Breaker) transition(to State) {
	if b.state == to {
		return
	}

	from := b.state
	b.state = to
	stateGauge.Set(float64(to))
	transitionsTotal.WithLabelValues(to.String()).Inc()

	evt := b.logger.Info()
	if to == StateOpen {
		evt = b.logger.Warn()
	}
	evt.
		Str("from", from.String()).
		Str("to", to.String()).
		Int("consecutive_failures", b.consecutiveFailures).
		Msg("Circuit state changed")
}

// State returns the current circuit state. An Open circuit whose
// cooldown has elapsed still reports Open until the next call promotes
// it to HalfOpen.
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// ConsecutiveFailures returns the current failure streak.
func (b *Breaker) ConsecutiveFailures() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.consecutiveFailures
}
