package series

import (
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBarBuilderRollsOverOnNewMinute(t *testing.T) {
	s := New("CON.F.ES")
	b := NewBarBuilder(s, zerolog.Nop())
	base := time.Date(2026, 1, 1, 9, 30, 0, 0, time.UTC)

	require.NoError(t, b.OnTrade(100, 10, base))
	require.NoError(t, b.OnTrade(101, 5, base.Add(10*time.Second)))
	require.NoError(t, b.OnTrade(99, 5, base.Add(20*time.Second)))
	assert.Equal(t, 1, s.Count())

	require.NoError(t, b.OnTrade(102, 1, base.Add(time.Minute)))
	assert.Equal(t, 2, s.Count())

	first, err := s.GetBar(0)
	require.NoError(t, err)
	assert.Equal(t, 100.0, first.Open)
	assert.Equal(t, 101.0, first.High)
	assert.Equal(t, 99.0, first.Low)
	assert.Equal(t, 99.0, first.Close)
	assert.Equal(t, int64(20), first.Volume)

	second, err := s.GetBar(1)
	require.NoError(t, err)
	assert.Equal(t, 102.0, second.Open)
}

func TestBarBuilderDropsOutOfOrderTrade(t *testing.T) {
	s := New("CON.F.ES")
	b := NewBarBuilder(s, zerolog.Nop())
	base := time.Date(2026, 1, 1, 9, 31, 0, 0, time.UTC)

	require.NoError(t, b.OnTrade(100, 10, base))
	err := b.OnTrade(50, 1, base.Add(-time.Minute))
	require.NoError(t, err)
	assert.Equal(t, 1, s.Count())

	last, err := s.GetLast()
	require.NoError(t, err)
	assert.Equal(t, 100.0, last.Close)
}

func TestBarBuilderProducesNoBarsForGaps(t *testing.T) {
	s := New("CON.F.ES")
	b := NewBarBuilder(s, zerolog.Nop())
	base := time.Date(2026, 1, 1, 9, 30, 0, 0, time.UTC)

	require.NoError(t, b.OnTrade(100, 10, base))
	require.NoError(t, b.OnTrade(105, 10, base.Add(10*time.Minute)))
	assert.Equal(t, 2, s.Count())
}
