package algorithm

import (
	"math"
	"testing"
	"time"

	"github.com/bikeshrana/pi5-trading-engine/internal/series"
	"github.com/bikeshrana/pi5-trading-engine/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func buildSeries(t *testing.T, closes []float64) *series.Series {
	t.Helper()
	s := series.New("CON.F.ES")
	base := time.Date(2026, 1, 1, 9, 30, 0, 0, time.UTC)
	for i, c := range closes {
		require.NoError(t, s.Append(types.Bar{
			Timestamp: base.Add(time.Duration(i) * time.Minute),
			Open: c, High: c, Low: c, Close: c, Volume: 100,
		}))
	}
	return s
}

func TestComputeSMAWritesIndicatorSequence(t *testing.T) {
	s := buildSeries(t, []float64{1, 2, 3, 4, 5})
	a := Algorithm{
		Name: "sma-test",
		Indicators: []IndicatorConfig{
			{Name: "SMA3", Type: IndicatorSMA, Parameters: map[string]any{"period": 3.0, "source": "close"}},
		},
	}
	require.NoError(t, Compute(s, a))

	v, err := s.GetIndicatorValue("SMA3", 2)
	require.NoError(t, err)
	assert.InDelta(t, 2.0, v, 1e-9)
}

func TestComputeMACDWritesDerivedSequences(t *testing.T) {
	closes := make([]float64, 60)
	for i := range closes {
		closes[i] = 100 + float64(i)*0.3
	}
	s := buildSeries(t, closes)
	a := Algorithm{
		Name: "macd-test",
		Indicators: []IndicatorConfig{
			{Name: "MACD1", Type: IndicatorMACD, Parameters: map[string]any{"fast": 12.0, "slow": 26.0, "signal": 9.0}},
		},
	}
	require.NoError(t, Compute(s, a))

	assert.True(t, s.HasIndicator("MACD1"))
	assert.True(t, s.HasIndicator("MACD1_Signal"))
	assert.True(t, s.HasIndicator("MACD1_Histogram"))

	v, err := s.GetIndicatorValue("MACD1_Histogram", 59)
	require.NoError(t, err)
	assert.False(t, math.IsNaN(v))
}

func TestComputeDifferenceReferencesOtherIndicators(t *testing.T) {
	s := buildSeries(t, []float64{1, 2, 3, 4, 5, 6, 7, 8})
	a := Algorithm{
		Name: "diff-test",
		Indicators: []IndicatorConfig{
			{Name: "Fast", Type: IndicatorSMA, Parameters: map[string]any{"period": 2.0}},
			{Name: "Slow", Type: IndicatorSMA, Parameters: map[string]any{"period": 4.0}},
			{Name: "Spread", Type: IndicatorDifference, Parameters: map[string]any{"indicator1": "Fast", "indicator2": "Slow"}},
		},
	}
	require.NoError(t, Compute(s, a))

	v, err := s.GetIndicatorValue("Spread", 7)
	require.NoError(t, err)
	assert.False(t, math.IsNaN(v))
}
