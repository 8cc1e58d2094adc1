package series

import (
	"testing"
	"time"

	"github.com/bikeshrana/pi5-trading-engine/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAppendRequiresStrictlyIncreasingTimestamps(t *testing.T) {
	s := New("CON.F.ES")
	base := time.Date(2026, 1, 1, 9, 30, 0, 0, time.UTC)
	require.NoError(t, s.Append(types.Bar{Timestamp: base, Open: 10, High: 11, Low: 9, Close: 10, Volume: 1}))

	err := s.Append(types.Bar{Timestamp: base, Open: 10, High: 11, Low: 9, Close: 10, Volume: 1})
	assert.Error(t, err)

	require.NoError(t, s.Append(types.Bar{Timestamp: base.Add(time.Minute), Open: 10, High: 11, Low: 9, Close: 10, Volume: 1}))
	assert.Equal(t, 2, s.Count())
}

func TestAppendRejectsInvalidOHLC(t *testing.T) {
	s := New("CON.F.ES")
	err := s.Append(types.Bar{Timestamp: time.Now(), Open: 10, High: 9, Low: 11, Close: 10, Volume: 1})
	assert.Error(t, err)
}

func TestUpdateLastWidensRangeAndAccumulatesVolume(t *testing.T) {
	s := New("CON.F.ES")
	base := time.Now().Truncate(time.Minute)
	require.NoError(t, s.Append(types.Bar{Timestamp: base, Open: 100, High: 100, Low: 100, Close: 100, Volume: 5}))
	require.NoError(t, s.UpdateLast(101, 99, 100.5, 3))

	last, err := s.GetLast()
	require.NoError(t, err)
	assert.Equal(t, 100.0, last.Open)
	assert.Equal(t, 101.0, last.High)
	assert.Equal(t, 99.0, last.Low)
	assert.Equal(t, 100.5, last.Close)
	assert.Equal(t, int64(8), last.Volume)
}

func TestGetPriceDataSelectors(t *testing.T) {
	s := New("CON.F.ES")
	base := time.Now().Truncate(time.Minute)
	require.NoError(t, s.Append(types.Bar{Timestamp: base, Open: 10, High: 20, Low: 5, Close: 15, Volume: 100}))

	median, err := s.GetPriceData(string(SourceMedian))
	require.NoError(t, err)
	assert.InDelta(t, 12.5, median[0], 1e-9)

	typical, err := s.GetPriceData(string(SourceTypical))
	require.NoError(t, err)
	assert.InDelta(t, (20.0+5.0+15.0)/3.0, typical[0], 1e-9)

	weighted, err := s.GetPriceData(string(SourceWeighted))
	require.NoError(t, err)
	assert.InDelta(t, (20.0+5.0+2*15.0)/4.0, weighted[0], 1e-9)

	vol, err := s.GetPriceData(string(SourceVolume))
	require.NoError(t, err)
	assert.InDelta(t, 100.0, vol[0], 1e-9)

	_, err = s.GetPriceData("nonexistent")
	assert.Error(t, err)
}

func TestIndicatorAlignmentPadsLeft(t *testing.T) {
	s := New("CON.F.ES")
	base := time.Now().Truncate(time.Minute)
	for i := 0; i < 5; i++ {
		require.NoError(t, s.Append(types.Bar{
			Timestamp: base.Add(time.Duration(i) * time.Minute),
			Open: 10, High: 11, Low: 9, Close: 10, Volume: 1,
		}))
	}
	// an indicator with period 3 only has 3 defined values out of 5 bars.
	require.NoError(t, s.SetIndicator("SMA3", []float64{10, 10, 10}))

	seq, err := s.GetIndicator("SMA3")
	require.NoError(t, err)
	require.Len(t, seq, 5)
	assert.False(t, indicatorDefined(seq[0]))
	assert.False(t, indicatorDefined(seq[1]))
	assert.True(t, indicatorDefined(seq[2]))

	v, err := s.GetIndicatorValue("SMA3", 4)
	require.NoError(t, err)
	assert.Equal(t, 10.0, v)
}

func indicatorDefined(v float64) bool {
	return v == v // false for NaN
}

func TestSetIndicatorRejectsSequenceLongerThanSeries(t *testing.T) {
	s := New("CON.F.ES")
	base := time.Now().Truncate(time.Minute)
	require.NoError(t, s.Append(types.Bar{Timestamp: base, Open: 10, High: 11, Low: 9, Close: 10, Volume: 1}))
	require.NoError(t, s.Validate())

	err := s.SetIndicator("bad", []float64{1, 2, 3, 4, 5})
	assert.Error(t, err)
}
