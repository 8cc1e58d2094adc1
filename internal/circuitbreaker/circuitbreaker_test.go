package circuitbreaker

import (
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBreakerOpensAfterConsecutiveFailures(t *testing.T) {
	cb := New(Config{MaxFailures: 3, Timeout: 20 * time.Millisecond, MaxRequests: 1, Logger: zerolog.Nop()})

	boom := errors.New("boom")
	for i := 0; i < 3; i++ {
		err := cb.Execute(func() error { return boom })
		require.ErrorIs(t, err, boom)
	}
	assert.Equal(t, StateOpen, cb.State())

	err := cb.Execute(func() error { return nil })
	require.Error(t, err, "open breaker must reject calls before the timeout elapses")
}

func TestBreakerHalfOpenRecovers(t *testing.T) {
	cb := New(Config{MaxFailures: 1, Timeout: 10 * time.Millisecond, MaxRequests: 1, Logger: zerolog.Nop()})

	require.Error(t, cb.Execute(func() error { return errors.New("boom") }))
	assert.Equal(t, StateOpen, cb.State())

	time.Sleep(15 * time.Millisecond)

	require.NoError(t, cb.Execute(func() error { return nil }))
	assert.Equal(t, StateClosed, cb.State(), "a successful half-open trial call closes the breaker")
}

func TestManagerGetOrCreateIsIdempotent(t *testing.T) {
	m := NewManager(zerolog.Nop())
	a := m.GetOrCreate("CON.F.ES", DefaultBrokerConfig())
	b := m.GetOrCreate("CON.F.ES", DefaultBrokerConfig())
	assert.Same(t, a, b)

	_, ok := m.Get("unknown")
	assert.False(t, ok)
}
