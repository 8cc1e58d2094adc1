package circuitbreaker

import (
	"github.com/rs/zerolog"
	"sync"
)

// Manager manages multiple named circuit breakers, one per key.
type Manager struct {
	mu       sync.RWMutex
	breakers map[string]*CircuitBreaker
	logger   zerolog.Logger
}

// NewManager creates a new circuit breaker manager.
func NewManager(logger zerolog.Logger) *Manager {
	return &Manager{
		breakers: make(map[string]*CircuitBreaker),
		logger:   logger,
	}
}

// GetOrCreate gets an existing circuit breaker or creates a new one.
func (m *Manager) GetOrCreate(name string, config Config) *CircuitBreaker {
	m.mu.RLock()
	if breaker, exists := m.breakers[name]; exists {
		m.mu.RUnlock()
		return breaker
	}
	m.mu.RUnlock()

	m.mu.Lock()
	defer m.mu.Unlock()

	if breaker, exists := m.breakers[name]; exists {
		return breaker
	}

	config.Name = name
	config.Logger = m.logger
	breaker := New(config)
	m.breakers[name] = breaker

	m.logger.Info().
		Str("breaker", name).
		Int("max_failures", config.MaxFailures).
		Dur("timeout", config.Timeout).
		Msg("created circuit breaker")

	return breaker
}

// Get returns an existing circuit breaker.
func (m *Manager) Get(name string) (*CircuitBreaker, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	breaker, exists := m.breakers[name]
	return breaker, exists
}

// AllMetrics returns metrics for every tracked breaker, keyed by name.
func (m *Manager) AllMetrics() map[string]Metrics {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make(map[string]Metrics, len(m.breakers))
	for name, breaker := range m.breakers {
		out[name] = breaker.GetMetrics()
	}
	return out
}
