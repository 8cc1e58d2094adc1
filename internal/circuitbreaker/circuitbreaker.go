// Package circuitbreaker wraps calls with a per-key failure breaker:
// after MaxFailures consecutive failures the breaker opens and rejects
// calls until Timeout elapses, then allows MaxRequests trial calls
// through in a half-open state before either closing (success) or
// re-opening (failure).
package circuitbreaker

import (
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/bikeshrana/pi5-trading-engine/internal/apperr"
)

// State is the breaker's current disposition.
type State string

const (
	StateClosed   State = "CLOSED"
	StateOpen     State = "OPEN"
	StateHalfOpen State = "HALF_OPEN"
)

// Config parameterizes one named breaker.
type Config struct {
	Name        string
	MaxFailures int
	Timeout     time.Duration
	MaxRequests int
	Logger      zerolog.Logger
}

// Metrics is the snapshot returned by GetMetrics.
type Metrics struct {
	State           State
	Failures        int
	Successes       int
	ConsecutiveFail int
	OpenedAt        time.Time
}

// CircuitBreaker guards calls through a single upstream dependency.
type CircuitBreaker struct {
	cfg Config

	mu              sync.Mutex
	state           State
	consecutiveFail int
	failures        int
	successes       int
	openedAt        time.Time
	halfOpenInFlight int
}

// New constructs a breaker in the CLOSED state.
func New(cfg Config) *CircuitBreaker {
	if cfg.MaxFailures <= 0 {
		cfg.MaxFailures = 5
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.MaxRequests <= 0 {
		cfg.MaxRequests = 1
	}
	return &CircuitBreaker{cfg: cfg, state: StateClosed}
}

// Execute runs fn if the breaker currently allows calls through,
// recording the outcome against the breaker's state machine.
func (cb *CircuitBreaker) Execute(fn func() error) error {
	if err := cb.before(); err != nil {
		return err
	}
	err := fn()
	cb.after(err)
	return err
}

func (cb *CircuitBreaker) before() error {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state {
	case StateOpen:
		if time.Since(cb.openedAt) < cb.cfg.Timeout {
			return apperr.Transientf("circuit breaker %q is open", cb.cfg.Name)
		}
		cb.state = StateHalfOpen
		cb.halfOpenInFlight = 0
		cb.cfg.Logger.Info().Str("breaker", cb.cfg.Name).Msg("circuit breaker half-open trial")
	case StateHalfOpen:
		if cb.halfOpenInFlight >= cb.cfg.MaxRequests {
			return apperr.Transientf("circuit breaker %q is half-open and at capacity", cb.cfg.Name)
		}
	}
	cb.halfOpenInFlight++
	return nil
}

func (cb *CircuitBreaker) after(err error) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if err != nil {
		cb.failures++
		cb.consecutiveFail++
		if cb.state == StateHalfOpen || cb.consecutiveFail >= cb.cfg.MaxFailures {
			cb.state = StateOpen
			cb.openedAt = time.Now()
			cb.cfg.Logger.Warn().Str("breaker", cb.cfg.Name).Int("consecutive_failures", cb.consecutiveFail).Msg("circuit breaker opened")
		}
		return
	}

	cb.successes++
	cb.consecutiveFail = 0
	if cb.state == StateHalfOpen {
		cb.state = StateClosed
		cb.cfg.Logger.Info().Str("breaker", cb.cfg.Name).Msg("circuit breaker closed")
	}
}

// State returns the breaker's current state.
func (cb *CircuitBreaker) State() State {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.state
}

// GetMetrics returns a point-in-time snapshot for the Metrics (N)
// component and diagnostic endpoints.
func (cb *CircuitBreaker) GetMetrics() Metrics {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return Metrics{
		State:           cb.state,
		Failures:        cb.failures,
		Successes:       cb.successes,
		ConsecutiveFail: cb.consecutiveFail,
		OpenedAt:        cb.openedAt,
	}
}

// DefaultBrokerConfig is the breaker config wrapping Broker Adapter
// calls (spec SPEC_FULL.md §4.14): broker calls should fail fast on a
// string of errors and retry after a short cooldown.
func DefaultBrokerConfig() Config {
	return Config{MaxFailures: 5, Timeout: 30 * time.Second, MaxRequests: 2}
}
