package condition

import (
	"strings"

	"github.com/bikeshrana/pi5-trading-engine/internal/algorithm"
	"github.com/bikeshrana/pi5-trading-engine/internal/series"
	"github.com/bikeshrana/pi5-trading-engine/pkg/types"
)

// EntryDecision is the outcome of evaluating an ordered entry condition
// list at a bar index (spec §4.4 Entry aggregation).
type EntryDecision struct {
	LongEntry  bool
	ShortEntry bool
	Side       types.PositionSide // LONG or SHORT once tie-broken, NONE if neither fired
	Text       string
}

// EvaluateEntry combines conditions with logical AND across the
// ordered list. If both LONG and SHORT branches are simultaneously
// satisfied, LONG wins (spec §4.4, §9 tie-break).
func EvaluateEntry(conditions []algorithm.TradingCondition, s *series.Series, i int, ctx LiveContext) (EntryDecision, error) {
	if len(conditions) == 0 {
		return EntryDecision{Side: types.PositionNone}, nil
	}

	longOK := true
	shortOK := true
	var texts []string

	for _, c := range conditions {
		res, err := Evaluate(c, s, i, ctx)
		if err != nil {
			return EntryDecision{}, err
		}
		if sideAdmitsLong(c.Side) {
			longOK = longOK && res.LongOK
		} else {
			longOK = false
		}
		if sideAdmitsShort(c.Side) {
			shortOK = shortOK && res.ShortOK
		} else {
			shortOK = false
		}
		if res.Text != "" {
			texts = append(texts, res.Text)
		}
	}

	d := EntryDecision{LongEntry: longOK, ShortEntry: shortOK, Side: types.PositionNone, Text: strings.Join(texts, "; ")}
	switch {
	case longOK:
		d.Side = types.PositionLong
	case shortOK:
		d.Side = types.PositionShort
	}
	return d, nil
}

// ExitDecision is the outcome of evaluating an ordered exit condition
// list (spec §4.4 Exit aggregation).
type ExitDecision struct {
	Triggered bool
	Text      string
}

// EvaluateExit walks exit conditions in order; the first one whose
// predicate is met AND whose applicable side matches the current
// position side (or BOTH) triggers the exit.
func EvaluateExit(conditions []algorithm.TradingCondition, s *series.Series, i int, ctx LiveContext) (ExitDecision, error) {
	for _, c := range conditions {
		res, err := Evaluate(c, s, i, ctx)
		if err != nil {
			return ExitDecision{}, err
		}

		met, ok := metForSide(c.Side, ctx.Position.Side, res)
		if ok && met {
			return ExitDecision{Triggered: true, Text: res.Text}, nil
		}
	}
	return ExitDecision{}, nil
}

func sideAdmitsLong(side algorithm.Side) bool {
	return side == algorithm.SideLong || side == algorithm.SideBoth
}

func sideAdmitsShort(side algorithm.Side) bool {
	return side == algorithm.SideShort || side == algorithm.SideBoth
}

// metForSide resolves whether res applies to the live position's side.
// ok is false if the condition's side does not cover the live position
// at all (e.g. a LONG-only exit condition while SHORT).
func metForSide(condSide algorithm.Side, posSide types.PositionSide, res Result) (met bool, ok bool) {
	switch posSide {
	case types.PositionLong:
		if condSide == algorithm.SideLong || condSide == algorithm.SideBoth {
			return res.LongOK, true
		}
	case types.PositionShort:
		if condSide == algorithm.SideShort || condSide == algorithm.SideBoth {
			return res.ShortOK, true
		}
	}
	return false, false
}
