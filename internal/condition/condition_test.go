package condition

import (
	"testing"
	"time"

	"github.com/bikeshrana/pi5-trading-engine/internal/algorithm"
	"github.com/bikeshrana/pi5-trading-engine/internal/series"
	"github.com/bikeshrana/pi5-trading-engine/pkg/indicators"
	"github.com/bikeshrana/pi5-trading-engine/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestSeries(t *testing.T, closes []float64) *series.Series {
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

// TestScenarioS1SMACrossoverLongEntry reproduces spec Scenario S1.
func TestScenarioS1SMACrossoverLongEntry(t *testing.T) {
	closes := []float64{10, 11, 12, 11, 10, 9, 10, 11, 12, 13, 14, 15, 16, 17, 18, 19, 20, 21, 22, 23}
	s := newTestSeries(t, closes)
	a := algorithm.Algorithm{
		Name: "s1",
		Indicators: []algorithm.IndicatorConfig{
			{Name: "SMAFast", Type: algorithm.IndicatorSMA, Parameters: map[string]any{"period": 3.0}},
			{Name: "SMASlow", Type: algorithm.IndicatorSMA, Parameters: map[string]any{"period": 10.0}},
		},
		EntryConditions: []algorithm.TradingCondition{
			{Type: algorithm.ConditionCrossover, Side: algorithm.SideLong, Parameters: map[string]any{
				"indicator1": "SMAFast", "indicator2": "SMASlow", "direction": "above"}},
		},
		ExitConditions: []algorithm.TradingCondition{
			{Type: algorithm.ConditionCrossover, Side: algorithm.SideBoth, Parameters: map[string]any{
				"indicator1": "SMAFast", "indicator2": "SMASlow", "direction": "below"}},
		},
	}
	require.NoError(t, algorithm.Compute(s, a))

	var entries int
	var exits int
	ctx := LiveContext{Tick: types.DefaultTickConfig}
	for i := 0; i < s.Count(); i++ {
		entry, err := EvaluateEntry(a.EntryConditions, s, i, ctx)
		require.NoError(t, err)
		if entry.LongEntry {
			entries++
		}
		exit, err := EvaluateExit(a.ExitConditions, s, i, ctx)
		require.NoError(t, err)
		if exit.Triggered {
			exits++
		}
	}
	assert.Equal(t, 1, entries, "expected exactly one LONG entry crossover")
	assert.Equal(t, 0, exits, "exit only evaluated against a live position; none opened here")
}

// TestScenarioS2RSIOversoldLong reproduces spec Scenario S2.
func TestScenarioS2RSIOversoldLong(t *testing.T) {
	closes := []float64{100, 99, 98, 97, 96, 95, 94, 93, 92, 91, 90, 89, 88, 87, 100}
	s := newTestSeries(t, closes)

	rsi := indicators.RSI(closes, 14)
	require.NoError(t, s.SetIndicator("RSI14", rsi))

	entryCond := algorithm.TradingCondition{
		Type: algorithm.ConditionThreshold, Side: algorithm.SideLong,
		Parameters: map[string]any{"indicator": "RSI14", "threshold": 30.0, "comparison": "<"},
	}

	ctx := LiveContext{Tick: types.DefaultTickConfig}
	entry13, err := EvaluateEntry([]algorithm.TradingCondition{entryCond}, s, 13, ctx)
	require.NoError(t, err)
	assert.True(t, entry13.LongEntry, "expected LONG entry at bar 13 on RSI oversold")
}

// TestScenarioS3PositionPnLStopLoss reproduces spec Scenario S3.
func TestScenarioS3PositionPnLStopLoss(t *testing.T) {
	s := newTestSeries(t, []float64{4550})
	tick := types.TickConfigFor("ES")
	pos := types.Position{Side: types.PositionLong, Quantity: 1, EntryPrice: 4550}

	pnl := UnrealizedPnL(pos, 4548.00, tick)
	assert.InDelta(t, -100.0, pnl, 1e-6)

	ctx := LiveContext{Position: pos, Tick: tick, Price: 4548.00}
	exitCond := algorithm.TradingCondition{
		Type: algorithm.ConditionPositionPnL, Side: algorithm.SideBoth,
		Parameters: map[string]any{"threshold": -80.0, "comparison": "<"},
	}
	exit, err := EvaluateExit([]algorithm.TradingCondition{exitCond}, s, 0, ctx)
	require.NoError(t, err)
	assert.True(t, exit.Triggered)
}

// TestCrossoverSymmetry verifies testable property 5: crossover(a,b,above)
// at i implies crossover(b,a,below) at the same i.
func TestCrossoverSymmetry(t *testing.T) {
	closes := []float64{10, 11, 12, 13, 14, 15, 16, 17}
	s := newTestSeries(t, closes)
	require.NoError(t, s.SetIndicator("A", []float64{1, 1, 1, 2, 3, 4, 5, 6}))
	require.NoError(t, s.SetIndicator("B", []float64{5, 4, 3, 2, 1, 0, -1, -2}))

	condAB := algorithm.TradingCondition{
		Type: algorithm.ConditionCrossover, Side: algorithm.SideBoth,
		Parameters: map[string]any{"indicator1": "A", "indicator2": "B", "direction": "above"},
	}
	condBA := algorithm.TradingCondition{
		Type: algorithm.ConditionCrossover, Side: algorithm.SideBoth,
		Parameters: map[string]any{"indicator1": "B", "indicator2": "A", "direction": "below"},
	}

	ctx := LiveContext{Tick: types.DefaultTickConfig}
	for i := 1; i < s.Count(); i++ {
		rAB, err := Evaluate(condAB, s, i, ctx)
		require.NoError(t, err)
		rBA, err := Evaluate(condBA, s, i, ctx)
		require.NoError(t, err)
		assert.Equal(t, rAB.LongOK, rBA.LongOK, "crossover symmetry failed at bar %d", i)
	}
}

// TestScenarioS4SymmetricEMACrossoverBothSides reproduces spec Scenario S4.
func TestScenarioS4SymmetricEMACrossoverBothSides(t *testing.T) {
	s := series.New("CON.F.ES")
	base := time.Date(2026, 1, 1, 9, 30, 0, 0, time.UTC)
	closes := []float64{10, 9, 8, 9, 10, 11, 12, 13, 12, 11, 10, 9, 8, 7, 6}
	for i, c := range closes {
		require.NoError(t, s.Append(types.Bar{Timestamp: base.Add(time.Duration(i) * time.Minute), Open: c, High: c, Low: c, Close: c, Volume: 1}))
	}
	a := algorithm.Algorithm{
		Name: "s4",
		Indicators: []algorithm.IndicatorConfig{
			{Name: "FastEMA", Type: algorithm.IndicatorEMA, Parameters: map[string]any{"period": 2.0}},
			{Name: "SlowEMA", Type: algorithm.IndicatorEMA, Parameters: map[string]any{"period": 5.0}},
		},
	}
	require.NoError(t, algorithm.Compute(s, a))

	cond := algorithm.TradingCondition{
		Type: algorithm.ConditionCrossover, Side: algorithm.SideBoth, Symmetric: true,
		Parameters: map[string]any{"indicator1": "FastEMA", "indicator2": "SlowEMA", "direction": "above"},
	}

	var sawLong, sawShort bool
	ctx := LiveContext{Tick: types.DefaultTickConfig}
	for i := 1; i < s.Count(); i++ {
		entry, err := EvaluateEntry([]algorithm.TradingCondition{cond}, s, i, ctx)
		require.NoError(t, err)
		if entry.LongEntry {
			sawLong = true
		}
		if entry.ShortEntry {
			sawShort = true
		}
	}
	assert.True(t, sawLong || sawShort, "expected at least one directional crossover across the window")
}

func TestEntryTieBreaksLong(t *testing.T) {
	s := newTestSeries(t, []float64{1, 2, 3})
	cond := algorithm.TradingCondition{Type: algorithm.ConditionThreshold, Side: algorithm.SideBoth,
		Parameters: map[string]any{"indicator": "X", "threshold": 0.0, "comparison": ">="}}
	require.NoError(t, s.SetIndicator("X", []float64{1, 1, 1}))

	ctx := LiveContext{Tick: types.DefaultTickConfig}
	entry, err := EvaluateEntry([]algorithm.TradingCondition{cond}, s, 0, ctx)
	require.NoError(t, err)
	assert.True(t, entry.LongEntry)
	assert.True(t, entry.ShortEntry)
	assert.Equal(t, types.PositionLong, entry.Side, "both branches true must tie-break to LONG")
}

func TestUndefinedIndicatorFailsClosed(t *testing.T) {
	s := newTestSeries(t, []float64{1, 2, 3})
	cond := algorithm.TradingCondition{Type: algorithm.ConditionThreshold, Side: algorithm.SideLong,
		Parameters: map[string]any{"indicator": "Missing", "threshold": 0.0, "comparison": ">"}}
	ctx := LiveContext{Tick: types.DefaultTickConfig}
	res, err := Evaluate(cond, s, 0, ctx)
	require.NoError(t, err)
	assert.False(t, res.LongOK)
	assert.False(t, res.ShortOK)
}
