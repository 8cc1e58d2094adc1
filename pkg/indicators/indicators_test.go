package indicators

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSMA(t *testing.T) {
	x := []float64{1, 2, 3, 4, 5}
	out := SMA(x, 3)
	require.False(t, IsDefined(out[0]))
	require.False(t, IsDefined(out[1]))
	assert.InDelta(t, 2.0, out[2], 1e-9)
	assert.InDelta(t, 3.0, out[3], 1e-9)
	assert.InDelta(t, 4.0, out[4], 1e-9)
}

// TestEMALaw verifies testable property 4: the EMA recurrence holds to
// within 1e-9 for every defined index beyond the seed.
func TestEMALaw(t *testing.T) {
	x := []float64{10, 11, 12, 11, 10, 9, 10, 11, 12, 13, 14, 15, 16, 17, 18, 19, 20, 21, 22, 23}
	p := 5
	out := EMA(x, p)
	k := 2.0 / float64(p+1)
	for i := p; i < len(x); i++ {
		require.True(t, IsDefined(out[i]))
		expected := x[i]*k + out[i-1]*(1-k)
		assert.InDelta(t, expected, out[i], 1e-9)
	}
}

// TestRSIScenarioS2 reproduces spec scenario S2: RSI(14) over a 14-bar
// monotonic decline is oversold (<30) at bar 13, and the one-bar rally
// at bar 14 lifts it to exactly 50.
func TestRSIScenarioS2(t *testing.T) {
	close := []float64{100, 99, 98, 97, 96, 95, 94, 93, 92, 91, 90, 89, 88, 87, 100}
	out := RSI(close, 14)
	require.True(t, IsDefined(out[13]))
	assert.Less(t, out[13], 30.0)
	require.True(t, IsDefined(out[14]))
	assert.InDelta(t, 50.0, out[14], 1e-9)
}

func TestMACDComposesFromEMA(t *testing.T) {
	x := make([]float64, 60)
	for i := range x {
		x[i] = 100 + float64(i)*0.5
	}
	res := MACD(x, 12, 26, 9)
	fast := EMA(x, 12)
	slow := EMA(x, 26)
	for i := range x {
		if IsDefined(fast[i]) && IsDefined(slow[i]) {
			assert.InDelta(t, fast[i]-slow[i], res.MACD[i], 1e-9)
		}
	}
}

func TestStochasticZeroRangeIsFifty(t *testing.T) {
	h := []float64{10, 10, 10}
	l := []float64{10, 10, 10}
	c := []float64{10, 10, 10}
	out := StochasticK(h, l, c, 3)
	assert.InDelta(t, 50.0, out[2], 1e-9)
}

func TestMFIAllNegativeFlowIsZero(t *testing.T) {
	// Strictly declining typical price: all flow is negative, so MFI must be 0.
	n := 6
	h := make([]float64, n)
	l := make([]float64, n)
	c := make([]float64, n)
	v := make([]int64, n)
	for i := 0; i < n; i++ {
		p := float64(100 - i)
		h[i], l[i], c[i] = p, p, p
		v[i] = 1000
	}
	out := MFI(h, l, c, v, 4)
	require.True(t, IsDefined(out[4]))
	assert.InDelta(t, 0.0, out[4], 1e-9)
}

func TestStrengthFlatWindowIsFifty(t *testing.T) {
	x := []float64{5, 5, 5, 5, 5}
	out := Strength(x, 3)
	assert.InDelta(t, 50.0, out[4], 1e-9)
}

func TestSDPopulationStdDev(t *testing.T) {
	x := []float64{2, 4, 4, 4, 5, 5, 7, 9}
	out := SD(x, 8)
	assert.InDelta(t, 2.0, out[7], 1e-9)
}

func TestDifferenceAndSlope(t *testing.T) {
	a := []float64{1, 2, 3, Undefined}
	b := []float64{1, 1, 1, 1}
	diff := Difference(a, b)
	assert.InDelta(t, 0.0, diff[0], 1e-9)
	assert.InDelta(t, 1.0, diff[1], 1e-9)
	assert.InDelta(t, 2.0, diff[2], 1e-9)
	assert.False(t, IsDefined(diff[3]))

	x := []float64{1, 2, 4, 7, 11}
	sl := Slope(x, 2)
	assert.False(t, IsDefined(sl[0]))
	assert.False(t, IsDefined(sl[1]))
	assert.InDelta(t, 3.0, sl[2], 1e-9)
	assert.InDelta(t, 5.0, sl[3], 1e-9)
	assert.InDelta(t, 7.0, sl[4], 1e-9)
}

func TestUndefinedIsNaN(t *testing.T) {
	assert.True(t, math.IsNaN(Undefined))
}
