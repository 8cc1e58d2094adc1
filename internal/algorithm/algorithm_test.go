package algorithm

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidateRejectsDuplicateIndicatorNames(t *testing.T) {
	a := Algorithm{
		Name: "dup-test",
		Indicators: []IndicatorConfig{
			{Name: "Fast", Type: IndicatorSMA, Parameters: map[string]any{"period": 3.0}},
			{Name: "Fast", Type: IndicatorSMA, Parameters: map[string]any{"period": 10.0}},
		},
	}
	assert.Error(t, a.Validate())
}

func TestValidateRejectsUnknownIndicatorReference(t *testing.T) {
	a := Algorithm{
		Name: "ref-test",
		Indicators: []IndicatorConfig{
			{Name: "Fast", Type: IndicatorSMA, Parameters: map[string]any{"period": 3.0}},
		},
		EntryConditions: []TradingCondition{
			{Type: ConditionThreshold, Side: SideLong, Parameters: map[string]any{"indicator": "DoesNotExist", "threshold": 1.0, "comparison": ">"}},
		},
	}
	assert.Error(t, a.Validate())
}

func TestValidateAcceptsMACDDerivedNames(t *testing.T) {
	a := Algorithm{
		Name: "macd-test",
		Indicators: []IndicatorConfig{
			{Name: "MACD1", Type: IndicatorMACD, Parameters: map[string]any{"fast": 12.0, "slow": 26.0, "signal": 9.0}},
		},
		EntryConditions: []TradingCondition{
			{Type: ConditionCrossover, Side: SideLong, Parameters: map[string]any{"indicator1": "MACD1", "indicator2": "MACD1_Signal", "direction": "above"}},
		},
	}
	require.NoError(t, a.Validate())
}

func TestValidateRejectsUnknownIndicatorType(t *testing.T) {
	a := Algorithm{
		Name:       "bad-type",
		Indicators: []IndicatorConfig{{Name: "X", Type: "BOGUS"}},
	}
	assert.Error(t, a.Validate())
}

func TestValidateRejectsEmptyName(t *testing.T) {
	a := Algorithm{Name: ""}
	assert.Error(t, a.Validate())
}
