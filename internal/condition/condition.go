// Package condition implements the Condition Engine: evaluating a list
// of TradingConditions against a Series at a bar index, with symmetric
// LONG/SHORT mirroring, AND-aggregated entry conditions (LONG
// tie-break) and ordered first-match exit conditions.
package condition

import (
	"fmt"
	"math"

	"github.com/bikeshrana/pi5-trading-engine/internal/algorithm"
	"github.com/bikeshrana/pi5-trading-engine/internal/apperr"
	"github.com/bikeshrana/pi5-trading-engine/internal/series"
	"github.com/bikeshrana/pi5-trading-engine/pkg/types"
)

// equalityTolerance is the absolute tolerance used for == and != threshold
// comparisons (spec §4.4, §9 Numeric type).
const equalityTolerance = 1e-4

// Result is one condition's evaluation outcome.
type Result struct {
	LongOK  bool
	ShortOK bool
	Text    string
}

// LiveContext supplies the position-pnl condition with the inputs it
// needs beyond the Series (spec §4.4): the live position and tick
// configuration for the instance's contract.
type LiveContext struct {
	Position types.Position
	Tick     types.TickConfig
	Price    float64
}

// Evaluate runs a single TradingCondition against series at bar index
// i. Fails closed (both sides false, empty text) if any referenced
// indicator is undefined or missing, per spec §4.4.
func Evaluate(c algorithm.TradingCondition, s *series.Series, i int, ctx LiveContext) (Result, error) {
	switch c.Type {
	case algorithm.ConditionThreshold:
		return evalThreshold(c, s, i)
	case algorithm.ConditionCrossover:
		return evalCrossover(c, s, i)
	case algorithm.ConditionSlope:
		return evalSlope(c, s, i)
	case algorithm.ConditionPositionPnL:
		return evalPositionPnL(c, ctx)
	default:
		return Result{}, apperr.Validationf("unknown condition type %q", c.Type)
	}
}

func evalThreshold(c algorithm.TradingCondition, s *series.Series, i int) (Result, error) {
	name, ok := c.Indicator()
	if !ok || name == "" {
		return Result{}, apperr.Validationf("threshold condition missing indicator parameter")
	}
	threshold, ok := c.Threshold()
	if !ok {
		return Result{}, apperr.Validationf("threshold condition missing threshold parameter")
	}
	comparison, ok := c.Comparison()
	if !ok {
		return Result{}, apperr.Validationf("threshold condition missing comparison parameter")
	}

	v, err := indicatorValueOrFalse(s, name, i)
	if err != nil || math.IsNaN(v) {
		return Result{}, nil //nolint:nilerr // undefined indicator fails closed, not an error
	}

	asGiven := compare(v, threshold, comparison)
	text := fmt.Sprintf("%s %s %.4f (value=%.4f)", name, comparison, threshold, v)

	if !c.Symmetric {
		return sideResult(c.Side, asGiven, text), nil
	}

	mirroredCmp := mirrorComparison(comparison)
	mirrored := compare(v, threshold, mirroredCmp)
	return Result{LongOK: asGiven, ShortOK: mirrored, Text: text}, nil
}

func evalCrossover(c algorithm.TradingCondition, s *series.Series, i int) (Result, error) {
	if i < 1 {
		return Result{}, nil
	}
	name1, ok1 := c.Indicator1()
	name2, ok2 := c.Indicator2()
	if !ok1 || !ok2 || name1 == "" || name2 == "" {
		return Result{}, apperr.Validationf("crossover condition missing indicator1/indicator2 parameters")
	}
	direction, ok := c.Direction()
	if !ok {
		return Result{}, apperr.Validationf("crossover condition missing direction parameter")
	}

	a0, err := indicatorValueOrFalse(s, name1, i-1)
	if err != nil {
		return Result{}, nil //nolint:nilerr
	}
	a1, err := indicatorValueOrFalse(s, name1, i)
	if err != nil {
		return Result{}, nil //nolint:nilerr
	}
	b0, err := indicatorValueOrFalse(s, name2, i-1)
	if err != nil {
		return Result{}, nil //nolint:nilerr
	}
	b1, err := indicatorValueOrFalse(s, name2, i)
	if err != nil {
		return Result{}, nil //nolint:nilerr
	}
	if anyNaN(a0, a1, b0, b1) {
		return Result{}, nil
	}

	crossedAbove := a0 <= b0 && a1 > b1
	crossedBelow := a0 >= b0 && a1 < b1

	text := fmt.Sprintf("%s crossed %s %s", name1, direction, name2)

	if !c.Symmetric {
		met := crossedAbove
		if direction == "below" {
			met = crossedBelow
		}
		return sideResult(c.Side, met, text), nil
	}

	if direction == "below" {
		return Result{LongOK: crossedBelow, ShortOK: crossedAbove, Text: text}, nil
	}
	return Result{LongOK: crossedAbove, ShortOK: crossedBelow, Text: text}, nil
}

func evalSlope(c algorithm.TradingCondition, s *series.Series, i int) (Result, error) {
	name, ok := c.Indicator()
	if !ok || name == "" {
		return Result{}, apperr.Validationf("slope condition missing indicator parameter")
	}
	direction, ok := c.Direction()
	if !ok {
		return Result{}, apperr.Validationf("slope condition missing direction parameter")
	}
	threshold, _ := c.Threshold()

	v, err := indicatorValueOrFalse(s, name, i)
	if err != nil || math.IsNaN(v) {
		return Result{}, nil //nolint:nilerr
	}

	up := v > threshold
	down := v < threshold
	text := fmt.Sprintf("%s slope %s %.4f (value=%.4f)", name, direction, threshold, v)

	// Per spec §9 Design Notes: the symmetric flag mirrors the predicate
	// for the opposite side — do not conflate "direction" with "side" as
	// the original source's evaluateSlopeCondition did.
	if !c.Symmetric {
		met := up
		if direction == "down" {
			met = down
		}
		return sideResult(c.Side, met, text), nil
	}

	if direction == "down" {
		return Result{LongOK: down, ShortOK: up, Text: text}, nil
	}
	return Result{LongOK: up, ShortOK: down, Text: text}, nil
}

func evalPositionPnL(c algorithm.TradingCondition, ctx LiveContext) (Result, error) {
	threshold, ok := c.Threshold()
	if !ok {
		return Result{}, apperr.Validationf("position-pnl condition missing threshold parameter")
	}
	comparison, ok := c.Comparison()
	if !ok {
		return Result{}, apperr.Validationf("position-pnl condition missing comparison parameter")
	}
	if ctx.Position.Side == types.PositionNone {
		return Result{}, nil
	}

	pnl := UnrealizedPnL(ctx.Position, ctx.Price, ctx.Tick)
	met := compare(pnl, threshold, comparison)
	text := fmt.Sprintf("unrealized pnl %s %.4f (pnl=%.4f)", comparison, threshold, pnl)

	if ctx.Position.Side == types.PositionLong {
		return Result{LongOK: met, Text: text}, nil
	}
	return Result{ShortOK: met, Text: text}, nil
}

// UnrealizedPnL computes the live unrealized P&L of position at the
// given price, in account currency, using the contract's tick mapping
// (spec §4.4 position-pnl, worked in scenario S3).
func UnrealizedPnL(p types.Position, price float64, tick types.TickConfig) float64 {
	var pointDiff float64
	switch p.Side {
	case types.PositionLong:
		pointDiff = price - p.EntryPrice
	case types.PositionShort:
		pointDiff = p.EntryPrice - price
	default:
		return 0
	}
	return tick.PointsToCurrency(pointDiff, p.Quantity)
}

func indicatorValueOrFalse(s *series.Series, name string, i int) (float64, error) {
	v, err := s.GetIndicatorValue(name, i)
	if err != nil {
		return 0, err
	}
	return v, nil
}

func anyNaN(vs ...float64) bool {
	for _, v := range vs {
		if math.IsNaN(v) {
			return true
		}
	}
	return false
}

func sideResult(side algorithm.Side, met bool, text string) Result {
	switch side {
	case algorithm.SideLong:
		return Result{LongOK: met, Text: text}
	case algorithm.SideShort:
		return Result{ShortOK: met, Text: text}
	default: // BOTH
		return Result{LongOK: met, ShortOK: met, Text: text}
	}
}

func mirrorComparison(cmp string) string {
	switch cmp {
	case ">":
		return "<="
	case ">=":
		return "<"
	case "<":
		return ">="
	case "<=":
		return ">"
	case "==":
		return "!="
	case "!=":
		return "=="
	default:
		return cmp
	}
}

func compare(v, threshold float64, cmp string) bool {
	switch cmp {
	case ">":
		return v > threshold
	case ">=":
		return v >= threshold
	case "<":
		return v < threshold
	case "<=":
		return v <= threshold
	case "==":
		return math.Abs(v-threshold) <= equalityTolerance
	case "!=":
		return math.Abs(v-threshold) > equalityTolerance
	default:
		return false
	}
}
