package store

import (
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bikeshrana/pi5-trading-engine/internal/algorithm"
	"github.com/bikeshrana/pi5-trading-engine/pkg/types"
)

func TestAlgorithmRoundTrip(t *testing.T) {
	s, err := New(t.TempDir(), zerolog.Nop())
	require.NoError(t, err)

	alg := algorithm.Algorithm{
		Name:    "sma-cross",
		Version: 1,
		Indicators: []algorithm.IndicatorConfig{
			{Name: "SMAFast", Type: algorithm.IndicatorSMA, Parameters: map[string]any{"period": 3.0}},
		},
	}
	require.NoError(t, s.SaveAlgorithm(alg))

	got, err := s.LoadAlgorithm("sma-cross")
	require.NoError(t, err)
	assert.Equal(t, alg.Name, got.Name)
	assert.Equal(t, alg.Indicators, got.Indicators)

	list, err := s.ListAlgorithms()
	require.NoError(t, err)
	require.Len(t, list, 1)

	require.NoError(t, s.DeleteAlgorithm("sma-cross"))
	_, err = s.LoadAlgorithm("sma-cross")
	assert.Error(t, err)
}

func TestLoadAlgorithmMissingIsNotFound(t *testing.T) {
	s, err := New(t.TempDir(), zerolog.Nop())
	require.NoError(t, err)
	_, err = s.LoadAlgorithm("nope")
	assert.Error(t, err)
}

func TestInstancesDocumentMissingFileReturnsEmpty(t *testing.T) {
	s, err := New(t.TempDir(), zerolog.Nop())
	require.NoError(t, err)

	doc, err := s.LoadInstances()
	require.NoError(t, err)
	assert.Empty(t, doc.Instances)
}

func TestInstancesRoundTrip(t *testing.T) {
	s, err := New(t.TempDir(), zerolog.Nop())
	require.NoError(t, err)

	cfgs := []InstanceConfig{{ID: "inst-1", Name: "first", Symbol: "ES", ContractID: "CON.F.ES", AlgorithmName: "sma-cross"}}
	require.NoError(t, s.SaveInstances(cfgs))

	doc, err := s.LoadInstances()
	require.NoError(t, err)
	require.Len(t, doc.Instances, 1)
	assert.Equal(t, "inst-1", doc.Instances[0].ID)
	assert.False(t, doc.LastSaved.IsZero())
}

func TestBacktestResultsAppendIsCumulative(t *testing.T) {
	s, err := New(t.TempDir(), zerolog.Nop())
	require.NoError(t, err)

	require.NoError(t, s.AppendBacktestResult(BacktestResultSnapshot{BacktestID: "b1", Status: "COMPLETED"}))
	require.NoError(t, s.AppendBacktestResult(BacktestResultSnapshot{BacktestID: "b2", Status: "STOPPED"}))

	results, err := s.ListBacktestResults()
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.Equal(t, "b1", results[0].BacktestID)
	assert.Equal(t, "b2", results[1].BacktestID)
}

func TestDeleteBacktestResult(t *testing.T) {
	s, err := New(t.TempDir(), zerolog.Nop())
	require.NoError(t, err)

	require.NoError(t, s.AppendBacktestResult(BacktestResultSnapshot{BacktestID: "b1", Status: "COMPLETED"}))
	require.NoError(t, s.AppendBacktestResult(BacktestResultSnapshot{BacktestID: "b2", Status: "STOPPED"}))

	require.NoError(t, s.DeleteBacktestResult("b1"))
	results, err := s.ListBacktestResults()
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "b2", results[0].BacktestID)

	err = s.DeleteBacktestResult("b1")
	assert.Error(t, err)
}

func TestHistoricalBarsRoundTrip(t *testing.T) {
	s, err := New(t.TempDir(), zerolog.Nop())
	require.NoError(t, err)

	day := time.Date(2026, 7, 29, 0, 0, 0, 0, time.UTC)
	bars := []types.Bar{{Timestamp: day, Open: 1, High: 2, Low: 0.5, Close: 1.5, Volume: 10}}
	require.NoError(t, s.SaveHistoricalBars("ES", day, bars))

	got, err := s.LoadHistoricalBars("ES", day)
	require.NoError(t, err)
	assert.Equal(t, bars, got)

	missing, err := s.LoadHistoricalBars("ES", day.AddDate(0, 0, 1))
	require.NoError(t, err)
	assert.Empty(t, missing)

	require.NoError(t, s.DeleteHistoricalBars("ES", day))
	afterDelete, err := s.LoadHistoricalBars("ES", day)
	require.NoError(t, err)
	assert.Empty(t, afterDelete)
}

func TestBacktestDefinitionRoundTrip(t *testing.T) {
	s, err := New(t.TempDir(), zerolog.Nop())
	require.NoError(t, err)

	def := BacktestDefinition{ID: "bt-1", Name: "sma cross Q1", Symbol: "ES", AlgorithmName: "sma-cross", CreatedAt: time.Now().UTC()}
	require.NoError(t, s.SaveBacktestDefinition(def))

	got, err := s.LoadBacktestDefinition("bt-1")
	require.NoError(t, err)
	assert.Equal(t, def.Name, got.Name)

	list, err := s.ListBacktestDefinitions()
	require.NoError(t, err)
	require.Len(t, list, 1)

	require.NoError(t, s.DeleteBacktestDefinition("bt-1"))
	_, err = s.LoadBacktestDefinition("bt-1")
	assert.Error(t, err)
}

func TestConnectionDocumentRoundTrip(t *testing.T) {
	s, err := New(t.TempDir(), zerolog.Nop())
	require.NoError(t, err)

	doc, err := s.LoadConnection()
	require.NoError(t, err)
	assert.Empty(t, doc.BaseURL)

	require.NoError(t, s.SaveConnection(ConnectionDocument{BaseURL: "https://broker.local", Autoconnect: true}))
	doc, err = s.LoadConnection()
	require.NoError(t, err)
	assert.Equal(t, "https://broker.local", doc.BaseURL)
	assert.True(t, doc.Autoconnect)
}
