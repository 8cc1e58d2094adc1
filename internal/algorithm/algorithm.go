// Package algorithm implements the declarative algorithm model: ordered
// indicator configs and two ordered condition lists, validated at load
// and evaluated by the Condition Engine.
package algorithm

import (
	"fmt"
	"time"

	"github.com/bikeshrana/pi5-trading-engine/internal/apperr"
)

// IndicatorType names one of the spec §4.1 indicator kinds.
type IndicatorType string

const (
	IndicatorSMA         IndicatorType = "SMA"
	IndicatorEMA         IndicatorType = "EMA"
	IndicatorRSI         IndicatorType = "RSI"
	IndicatorMACD        IndicatorType = "MACD"
	IndicatorStochasticK IndicatorType = "STOCHASTICK"
	IndicatorStochasticD IndicatorType = "STOCHASTICD"
	IndicatorATR         IndicatorType = "ATR"
	IndicatorVWAP        IndicatorType = "VWAP"
	IndicatorMFI         IndicatorType = "MFI"
	IndicatorSD          IndicatorType = "SD"
	IndicatorPO          IndicatorType = "PO"
	IndicatorSlope       IndicatorType = "SLOPE"
	IndicatorDifference  IndicatorType = "DIFFERENCE"
	IndicatorStrength    IndicatorType = "STRENGTH"
)

var validIndicatorTypes = map[IndicatorType]bool{
	IndicatorSMA: true, IndicatorEMA: true, IndicatorRSI: true, IndicatorMACD: true,
	IndicatorStochasticK: true, IndicatorStochasticD: true, IndicatorATR: true,
	IndicatorVWAP: true, IndicatorMFI: true, IndicatorSD: true, IndicatorPO: true,
	IndicatorSlope: true, IndicatorDifference: true, IndicatorStrength: true,
}

// IndicatorConfig declares one named indicator instance (spec §3).
type IndicatorConfig struct {
	Name        string         `json:"name"`
	Type        IndicatorType  `json:"type"`
	Parameters  map[string]any `json:"parameters"`
	Description string         `json:"description,omitempty"`
}

// DerivedNames returns the extra sequence names this indicator
// synthesizes — MACD additionally produces <name>_Signal and
// <name>_Histogram (spec §3).
func (c IndicatorConfig) DerivedNames() []string {
	if c.Type == IndicatorMACD {
		return []string{c.Name + "_Signal", c.Name + "_Histogram"}
	}
	return nil
}

// ConditionType names one of the spec §4.4 condition kinds.
type ConditionType string

const (
	ConditionThreshold    ConditionType = "threshold"
	ConditionCrossover    ConditionType = "crossover"
	ConditionSlope        ConditionType = "slope"
	ConditionPositionPnL  ConditionType = "position-pnl"
)

// Side names a position side, or BOTH for side-agnostic conditions.
type Side string

const (
	SideLong  Side = "LONG"
	SideShort Side = "SHORT"
	SideBoth  Side = "BOTH"
)

// LogicalOperator is stored with each TradingCondition. The Condition
// Engine does not read it: entry lists always combine with AND and exit
// lists take the first match.
type LogicalOperator string

const (
	OpAND LogicalOperator = "AND"
	OpOR  LogicalOperator = "OR"
)

// TradingCondition is one predicate in an entry or exit list (spec §3).
type TradingCondition struct {
	Type            ConditionType   `json:"type"`
	Side            Side            `json:"side"`
	Symmetric       bool            `json:"symmetric"`
	Parameters      map[string]any  `json:"parameters"`
	LogicalOperator LogicalOperator `json:"logicalOperator"`
}

// Indicator returns the "indicator" parameter, used by threshold/slope.
func (c TradingCondition) Indicator() (string, bool) {
	v, ok := c.Parameters["indicator"].(string)
	return v, ok
}

// Indicator1 returns the "indicator1" parameter, used by crossover.
func (c TradingCondition) Indicator1() (string, bool) {
	v, ok := c.Parameters["indicator1"].(string)
	return v, ok
}

// Indicator2 returns the "indicator2" parameter, used by crossover.
func (c TradingCondition) Indicator2() (string, bool) {
	v, ok := c.Parameters["indicator2"].(string)
	return v, ok
}

// Threshold returns the "threshold" parameter as a float64.
func (c TradingCondition) Threshold() (float64, bool) {
	return numberParam(c.Parameters, "threshold")
}

// Comparison returns the "comparison" parameter, used by threshold and
// position-pnl.
func (c TradingCondition) Comparison() (string, bool) {
	v, ok := c.Parameters["comparison"].(string)
	return v, ok
}

// Direction returns the "direction" parameter, used by crossover/slope.
func (c TradingCondition) Direction() (string, bool) {
	v, ok := c.Parameters["direction"].(string)
	return v, ok
}

func numberParam(params map[string]any, key string) (float64, bool) {
	v, ok := params[key]
	if !ok {
		return 0, false
	}
	switch n := v.(type) {
	case float64:
		return n, true
	case int:
		return float64(n), true
	default:
		return 0, false
	}
}

// Algorithm is the full declarative strategy definition (spec §3).
type Algorithm struct {
	Name             string             `json:"name"`
	Description      string             `json:"description,omitempty"`
	Version          int                `json:"version"`
	Indicators       []IndicatorConfig  `json:"indicators"`
	EntryConditions  []TradingCondition `json:"entryConditions"`
	ExitConditions   []TradingCondition `json:"exitConditions"`
	CreatedTime      time.Time          `json:"createdTime"`
	LastModifiedTime time.Time          `json:"lastModifiedTime"`
	Favorite         bool               `json:"favorite"`
}

// Validate enforces spec §3's Algorithm invariants: unique indicator
// names, known indicator types, and that every indicator reference in
// any condition matches a configured name (including derived MACD
// names).
func (a Algorithm) Validate() error {
	if a.Name == "" {
		return apperr.Validationf("algorithm name must not be empty")
	}

	seen := make(map[string]bool, len(a.Indicators))
	known := make(map[string]bool)
	for _, ind := range a.Indicators {
		if ind.Name == "" {
			return apperr.Validationf("algorithm %q: indicator config with empty name", a.Name)
		}
		if seen[ind.Name] {
			return apperr.Validationf("algorithm %q: duplicate indicator name %q", a.Name, ind.Name)
		}
		if !validIndicatorTypes[ind.Type] {
			return apperr.Validationf("algorithm %q: indicator %q has unknown type %q", a.Name, ind.Name, ind.Type)
		}
		seen[ind.Name] = true
		known[ind.Name] = true
		for _, derived := range ind.DerivedNames() {
			known[derived] = true
		}
	}

	for _, cond := range append(append([]TradingCondition{}, a.EntryConditions...), a.ExitConditions...) {
		for _, ref := range conditionReferences(cond) {
			if !known[ref] {
				return apperr.Validationf("algorithm %q: condition references unknown indicator %q", a.Name, ref)
			}
		}
	}

	return nil
}

func conditionReferences(c TradingCondition) []string {
	var refs []string
	if v, ok := c.Indicator(); ok && v != "" {
		refs = append(refs, v)
	}
	if v, ok := c.Indicator1(); ok && v != "" {
		refs = append(refs, v)
	}
	if v, ok := c.Indicator2(); ok && v != "" {
		refs = append(refs, v)
	}
	return refs
}

// String implements fmt.Stringer for debug logging.
func (a Algorithm) String() string {
	return fmt.Sprintf("Algorithm{name=%s, version=%d, indicators=%d, entry=%d, exit=%d}",
		a.Name, a.Version, len(a.Indicators), len(a.EntryConditions), len(a.ExitConditions))
}
