package backtest

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bikeshrana/pi5-trading-engine/internal/algorithm"
	"github.com/bikeshrana/pi5-trading-engine/internal/core/events"
	"github.com/bikeshrana/pi5-trading-engine/internal/series"
	"github.com/bikeshrana/pi5-trading-engine/pkg/types"
)

func buildTestSeries(t *testing.T, closes []float64) *series.Series {
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

func testAlgorithm() algorithm.Algorithm {
	return algorithm.Algorithm{
		Name: "backtest-sma-crossover",
		Indicators: []algorithm.IndicatorConfig{
			{Name: "SMAFast", Type: algorithm.IndicatorSMA, Parameters: map[string]any{"period": 3.0}},
			{Name: "SMASlow", Type: algorithm.IndicatorSMA, Parameters: map[string]any{"period": 10.0}},
		},
		EntryConditions: []algorithm.TradingCondition{
			{Type: algorithm.ConditionCrossover, Side: algorithm.SideLong,
				Parameters: map[string]any{"indicator1": "SMAFast", "indicator2": "SMASlow", "direction": "above"}},
		},
		ExitConditions: []algorithm.TradingCondition{
			{Type: algorithm.ConditionCrossover, Side: algorithm.SideBoth,
				Parameters: map[string]any{"indicator1": "SMAFast", "indicator2": "SMASlow", "direction": "below"}},
		},
	}
}

func stripTradeIDs(trades []types.ClosedTrade) []types.ClosedTrade {
	out := make([]types.ClosedTrade, len(trades))
	for i, t := range trades {
		t.ID = ""
		out[i] = t
	}
	return out
}

func runToCompletion(t *testing.T, ex *Executor, id string, alg algorithm.Algorithm, s *series.Series) *Results {
	t.Helper()
	done := make(chan *Results, 1)
	require.NoError(t, ex.RunBacktest(context.Background(), id, alg, s, nil, func(r *Results) { done <- r }))
	select {
	case r := <-done:
		return r
	case <-time.After(5 * time.Second):
		t.Fatal("backtest did not complete")
		return nil
	}
}

// TestScenarioS5BacktestDeterminism reproduces spec Scenario S5:
// identical Series + identical Algorithm must yield identical trades
// and results.
func TestScenarioS5BacktestDeterminism(t *testing.T) {
	closes := []float64{10, 11, 12, 11, 10, 9, 10, 11, 12, 13, 14, 15, 16, 17, 18, 19, 20, 21, 22, 23, 22, 21, 20, 19, 18, 17, 16, 15, 14, 13}
	alg := testAlgorithm()
	cfg := Config{StartingCapital: 10000, Tick: types.TickConfigFor("ES")}

	bus := events.New(16, zerolog.Nop())
	defer bus.Close()
	ex := NewExecutor(bus, zerolog.Nop())

	id1, err := ex.CreateBacktest(cfg)
	require.NoError(t, err)
	r1 := runToCompletion(t, ex, id1, alg, buildTestSeries(t, closes))

	id2, err := ex.CreateBacktest(cfg)
	require.NoError(t, err)
	r2 := runToCompletion(t, ex, id2, alg, buildTestSeries(t, closes))

	b1, err := ex.GetBacktest(id1)
	require.NoError(t, err)
	b2, err := ex.GetBacktest(id2)
	require.NoError(t, err)

	assert.Equal(t, stripTradeIDs(b1.Snapshot().Trades), stripTradeIDs(b2.Snapshot().Trades), "trades must be identical except for the backtest-scoped id")
	assert.Equal(t, r1.TotalTrades, r2.TotalTrades)
	assert.InDelta(t, r1.TotalPnL, r2.TotalPnL, 1e-9)
	assert.InDelta(t, r1.EndingCapital, r2.EndingCapital, 1e-9)
	assert.Equal(t, r1.EquityCurve, r2.EquityCurve)
}

func TestBacktestClosesOpenPositionAtEnd(t *testing.T) {
	closes := []float64{10, 11, 12, 11, 10, 9, 10, 11, 12, 13, 14, 15, 16, 17, 18, 19, 20, 21, 22, 23}
	alg := testAlgorithm()
	cfg := Config{StartingCapital: 10000, Tick: types.TickConfigFor("ES")}

	bus := events.New(16, zerolog.Nop())
	defer bus.Close()
	ex := NewExecutor(bus, zerolog.Nop())

	id, err := ex.CreateBacktest(cfg)
	require.NoError(t, err)
	r := runToCompletion(t, ex, id, alg, buildTestSeries(t, closes))

	b, err := ex.GetBacktest(id)
	require.NoError(t, err)
	snap := b.Snapshot()
	assert.Equal(t, StatusCompleted, snap.Status)
	assert.Equal(t, float64(100), snap.Progress)
	require.GreaterOrEqual(t, r.TotalTrades, 1, "entry should have fired and been force-closed at the final bar")
}

func TestStopBacktestHaltsEarly(t *testing.T) {
	closes := make([]float64, 5000)
	for i := range closes {
		closes[i] = float64(10 + i%5)
	}
	alg := testAlgorithm()
	cfg := Config{StartingCapital: 10000, Tick: types.DefaultTickConfig}

	bus := events.New(16, zerolog.Nop())
	defer bus.Close()
	ex := NewExecutor(bus, zerolog.Nop())

	id, err := ex.CreateBacktest(cfg)
	require.NoError(t, err)

	done := make(chan *Results, 1)
	require.NoError(t, ex.RunBacktest(context.Background(), id, alg, buildTestSeries(t, closes), nil, func(r *Results) { done <- r }))
	require.NoError(t, ex.StopBacktest(id))

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("stopped backtest did not complete")
	}

	b, err := ex.GetBacktest(id)
	require.NoError(t, err)
	assert.Equal(t, StatusStopped, b.Status())
}

func TestDeleteAndGetUnknownBacktest(t *testing.T) {
	bus := events.New(16, zerolog.Nop())
	defer bus.Close()
	ex := NewExecutor(bus, zerolog.Nop())

	_, err := ex.GetBacktest("missing")
	assert.Error(t, err)
	assert.Error(t, ex.DeleteBacktest("missing"))
}
