// Package backtest implements the Backtest Executor: a single,
// long-lived owner of the backtest set that replays an Algorithm
// against a historical Series bar-by-bar, reproducing the Condition
// Engine decisions the Live Instance Runtime would have made and
// accumulating BacktestResults.
package backtest

import (
	"context"
	"fmt"
	"math"
	goruntime "runtime"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/bikeshrana/pi5-trading-engine/internal/algorithm"
	"github.com/bikeshrana/pi5-trading-engine/internal/apperr"
	"github.com/bikeshrana/pi5-trading-engine/internal/condition"
	"github.com/bikeshrana/pi5-trading-engine/internal/core/events"
	"github.com/bikeshrana/pi5-trading-engine/internal/series"
	"github.com/bikeshrana/pi5-trading-engine/pkg/types"
)

// Status is a BacktestInstance's lifecycle state (spec §3).
type Status string

const (
	StatusCreated   Status = "CREATED"
	StatusRunning   Status = "RUNNING"
	StatusCompleted Status = "COMPLETED"
	StatusFailed    Status = "FAILED"
	StatusStopped   Status = "STOPPED"
)

const (
	// progressEvery/yieldEvery implement spec §4.7 step 2: "Every 100
	// bars call onProgress; every 1000 bars yield."
	progressEvery = 100
	yieldEvery    = 1000
)

// Config is the static definition of one backtest run (spec §3
// BacktestInstance, minus the ephemeral status/progress/results the
// Executor owns). Quantity sizes every simulated fill; the spec names
// no per-backtest sizing knob beyond Position.quantity, so it defaults
// to 1 (same documented choice as runtime.Config.Quantity).
type Config struct {
	DefinitionID    string
	AlgorithmName   string
	Symbol          string
	ContractID      string
	StartDate       time.Time
	EndDate         time.Time
	LagTicks        int
	StartingCapital float64
	Commission      float64
	Quantity        int
	Tick            types.TickConfig
}

// Results is BacktestResults (spec §3), computed once the run
// completes or is stopped; a failed run has no Results.
type Results struct {
	TotalTrades     int
	Wins            int
	Losses          int
	WinRate         float64
	TotalPnL        float64
	AveragePnL      float64
	LargestWin      float64
	LargestLoss     float64
	ProfitFactor    float64
	MaxDrawdown     float64
	MaxDrawdownPct  float64
	AverageDuration time.Duration
	TotalCommission float64
	EndingCapital   float64
	EquityCurve     []float64
	DrawdownCurve   []float64
}

// LogEntry mirrors runtime.LogEntry for the backtest's own log ring
// (spec §3 BacktestInstance.logs).
type LogEntry struct {
	Time    time.Time
	Level   string
	Message string
}

// Snapshot is the read-only view of a Backtest exposed to callers
// (the Control API, tests).
type Snapshot struct {
	ID       string
	Config   Config
	Status   Status
	Progress float64
	Results  *Results
	Logs     []LogEntry
	Trades   []types.ClosedTrade
}

// Backtest is one BacktestInstance (spec §3).
type Backtest struct {
	ID     string
	Config Config

	mu       sync.Mutex
	status   Status
	progress float64
	results  *Results
	logs     []LogEntry
	trades   []types.ClosedTrade
	position types.Position
	cancel   context.CancelFunc
}

// Status reports the current lifecycle state.
func (b *Backtest) Status() Status {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.status
}

// Snapshot returns a consistent read-only copy of the backtest's
// current state.
func (b *Backtest) Snapshot() Snapshot {
	b.mu.Lock()
	defer b.mu.Unlock()
	return Snapshot{
		ID:       b.ID,
		Config:   b.Config,
		Status:   b.status,
		Progress: b.progress,
		Results:  b.results,
		Logs:     append([]LogEntry(nil), b.logs...),
		Trades:   append([]types.ClosedTrade(nil), b.trades...),
	}
}

func (b *Backtest) appendLog(level, msg string) {
	b.mu.Lock()
	b.logs = append(b.logs, LogEntry{Time: time.Now().UTC(), Level: level, Message: msg})
	b.mu.Unlock()
}

// Executor is the Backtest Executor (spec §4.7).
type Executor struct {
	logger zerolog.Logger
	bus    *events.Bus

	mu        sync.Mutex
	backtests map[string]*Backtest
}

// NewExecutor constructs an empty Backtest Executor.
func NewExecutor(bus *events.Bus, logger zerolog.Logger) *Executor {
	return &Executor{
		logger:    logger.With().Str("component", "backtest_executor").Logger(),
		bus:       bus,
		backtests: make(map[string]*Backtest),
	}
}

// CreateBacktest registers a new BacktestInstance in CREATED status and
// returns its id.
func (e *Executor) CreateBacktest(cfg Config) (string, error) {
	if cfg.Quantity == 0 {
		cfg.Quantity = 1
	}
	id := uuid.NewString()
	b := &Backtest{ID: id, Config: cfg, status: StatusCreated, position: types.Position{Side: types.PositionNone}}
	e.mu.Lock()
	e.backtests[id] = b
	e.mu.Unlock()
	return id, nil
}

// GetBacktest returns the BacktestInstance for id.
func (e *Executor) GetBacktest(id string) (*Backtest, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	b, ok := e.backtests[id]
	if !ok {
		return nil, apperr.NotFoundf("backtest %s not found", id)
	}
	return b, nil
}

// DeleteBacktest removes a backtest from the set.
func (e *Executor) DeleteBacktest(id string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if _, ok := e.backtests[id]; !ok {
		return apperr.NotFoundf("backtest %s not found", id)
	}
	delete(e.backtests, id)
	return nil
}

// StopBacktest requests cooperative cancellation of a running backtest
// (spec §4.7 "stopBacktest(id)"); the run loop observes this at its
// next iteration boundary.
func (e *Executor) StopBacktest(id string) error {
	b, err := e.GetBacktest(id)
	if err != nil {
		return err
	}
	b.mu.Lock()
	var cancel context.CancelFunc
	if b.status == StatusRunning {
		b.status = StatusStopped
		cancel = b.cancel
	}
	b.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	return nil
}

// RunBacktest starts spec §4.7's replay algorithm in a background
// goroutine and returns once it has started (not once it completes);
// onProgress and onComplete are invoked from that goroutine.
func (e *Executor) RunBacktest(ctx context.Context, id string, alg algorithm.Algorithm, s *series.Series, onProgress func(float64), onComplete func(*Results)) error {
	b, err := e.GetBacktest(id)
	if err != nil {
		return err
	}

	b.mu.Lock()
	if b.status == StatusRunning {
		b.mu.Unlock()
		return apperr.Conflictf("backtest %s already running", id)
	}
	runCtx, cancel := context.WithCancel(ctx)
	b.status = StatusRunning
	b.cancel = cancel
	b.position = types.Position{Side: types.PositionNone}
	b.trades = nil
	b.results = nil
	b.progress = 0
	b.mu.Unlock()

	if err := algorithm.Compute(s, alg); err != nil {
		cancel()
		b.mu.Lock()
		b.status = StatusFailed
		b.mu.Unlock()
		return apperr.Wrap(apperr.CodeOf(err), err, "backtest %s: compute indicators", id)
	}

	go e.run(runCtx, b, alg, s, onProgress, onComplete)
	return nil
}

// run implements spec §4.7's algorithm steps 2-4. Identical (Series,
// Algorithm) inputs always produce identical trades and results
// (spec §8 determinism, scenario S5): nothing here depends on wall
// clock or goroutine scheduling order, only on the bar index i.
func (e *Executor) run(ctx context.Context, b *Backtest, alg algorithm.Algorithm, s *series.Series, onProgress func(float64), onComplete func(*Results)) {
	defer func() {
		if rec := recover(); rec != nil {
			b.appendLog("ERROR", fmt.Sprintf("panic in backtest run: %v", rec))
			b.mu.Lock()
			b.status = StatusFailed
			b.mu.Unlock()
		}
	}()

	count := s.Count()
	capital := b.Config.StartingCapital
	var equityCurve, drawdownCurve []float64
	var peak float64 = capital
	stopped := false

	for i := 0; i < count; i++ {
		b.mu.Lock()
		status := b.status
		b.mu.Unlock()
		if status == StatusStopped {
			stopped = true
			break
		}
		select {
		case <-ctx.Done():
			stopped = true
		default:
		}
		if stopped {
			break
		}

		bar, err := s.GetBar(i)
		if err != nil {
			b.appendLog("ERROR", fmt.Sprintf("get bar %d: %v", i, err))
			continue
		}
		// A future version may honor lagTicks by shifting execution by
		// one bar (spec §4.7 step 2 parenthetical); this executor always
		// fills at the evaluated bar's own close.
		execPrice := bar.Close

		b.mu.Lock()
		liveCtx := condition.LiveContext{Position: b.position, Tick: b.Config.Tick, Price: execPrice}
		if b.position.Side == types.PositionNone {
			decision, derr := condition.EvaluateEntry(alg.EntryConditions, s, i, liveCtx)
			if derr == nil && decision.Side != types.PositionNone {
				b.position = types.Position{Side: decision.Side, Quantity: b.Config.Quantity, EntryPrice: execPrice, EntryTime: bar.Timestamp}
			}
		} else {
			decision, derr := condition.EvaluateExit(alg.ExitConditions, s, i, liveCtx)
			if derr == nil && decision.Triggered {
				tradeID := fmt.Sprintf("%s-trade-%d", b.ID, len(b.trades)+1)
				trade := closeBacktestPosition(tradeID, b.position, execPrice, bar.Timestamp, b.Config.Commission, b.Config.Tick, decision.Text)
				b.trades = append(b.trades, trade)
				capital += trade.PnL
				if capital > peak {
					peak = capital
				}
				equityCurve = append(equityCurve, capital)
				drawdownCurve = append(drawdownCurve, peak-capital)
				b.position = types.Position{Side: types.PositionNone}
			}
		}
		b.progress = float64(i+1) / float64(count) * 100
		progress := b.progress
		b.mu.Unlock()

		if (i+1)%progressEvery == 0 {
			if onProgress != nil {
				onProgress(progress)
			}
			if e.bus != nil {
				e.bus.Publish(ctx, events.NewBacktestUpdateEvent(b.ID, string(StatusRunning), progress))
			}
		}
		if (i+1)%yieldEvery == 0 {
			goruntime.Gosched()
		}
	}

	// Close any open position at the last close (spec §4.7 step 3),
	// whether the loop ran to completion or was stopped early.
	b.mu.Lock()
	if b.position.Side != types.PositionNone && count > 0 {
		last, _ := s.GetLast()
		tradeID := fmt.Sprintf("%s-trade-%d", b.ID, len(b.trades)+1)
		trade := closeBacktestPosition(tradeID, b.position, last.Close, last.Timestamp, b.Config.Commission, b.Config.Tick, "end of backtest")
		b.trades = append(b.trades, trade)
		capital += trade.PnL
		if capital > peak {
			peak = capital
		}
		equityCurve = append(equityCurve, capital)
		drawdownCurve = append(drawdownCurve, peak-capital)
		b.position = types.Position{Side: types.PositionNone}
	}
	trades := append([]types.ClosedTrade(nil), b.trades...)
	if stopped {
		b.status = StatusStopped
	} else {
		b.status = StatusCompleted
	}
	b.progress = 100
	b.mu.Unlock()

	results := computeResults(trades, capital, equityCurve, drawdownCurve)
	b.mu.Lock()
	b.results = results
	finalStatus := b.status
	b.mu.Unlock()

	if onComplete != nil {
		onComplete(results)
	}
	if e.bus != nil {
		e.bus.Publish(ctx, events.NewBacktestUpdateEvent(b.ID, string(finalStatus), 100))
	}
}

// closeBacktestPosition mirrors runtime.closePositionLocked's P&L
// formula (spec §4.5 step 5, reused verbatim by §4.7 step 2). The
// trade id is caller-assigned (backtestID-trade-N) rather than a
// random uuid so two runs of the same Series+Algorithm produce trade
// records that differ only in the backtest-ID prefix of their ids
// (spec §8 scenario S5).
func closeBacktestPosition(id string, pos types.Position, exitPrice float64, exitTime time.Time, commission float64, tick types.TickConfig, text string) types.ClosedTrade {
	var pointDiff float64
	if pos.Side == types.PositionLong {
		pointDiff = exitPrice - pos.EntryPrice
	} else {
		pointDiff = pos.EntryPrice - exitPrice
	}
	pnl := tick.PointsToCurrency(pointDiff, pos.Quantity) - commission

	var pnlPercent float64
	if pos.EntryPrice != 0 {
		pnlPercent = pointDiff / pos.EntryPrice * 100
	}

	return types.ClosedTrade{
		ID:         id,
		EntryTime:  pos.EntryTime,
		ExitTime:   exitTime,
		Side:       pos.Side,
		EntryPrice: pos.EntryPrice,
		ExitPrice:  exitPrice,
		Quantity:   pos.Quantity,
		PnL:        pnl,
		PnLPercent: pnlPercent,
		Commission: commission,
		ExitSignal: text,
		Duration:   exitTime.Sub(pos.EntryTime),
	}
}

// computeResults derives BacktestResults (spec §3) from the recorded
// trades and the equity/drawdown curves sampled at each close.
func computeResults(trades []types.ClosedTrade, endingCapital float64, equityCurve, drawdownCurve []float64) *Results {
	r := &Results{EndingCapital: endingCapital, EquityCurve: equityCurve, DrawdownCurve: drawdownCurve}
	r.TotalTrades = len(trades)
	if r.TotalTrades == 0 {
		return r
	}

	var grossProfit, grossLoss float64
	var totalDurationNS float64
	largestWin := math.Inf(-1)
	largestLoss := math.Inf(1)

	for _, t := range trades {
		r.TotalPnL += t.PnL
		r.TotalCommission += t.Commission
		totalDurationNS += float64(t.Duration)
		if t.PnL >= 0 {
			r.Wins++
			grossProfit += t.PnL
			if t.PnL > largestWin {
				largestWin = t.PnL
			}
		} else {
			r.Losses++
			grossLoss += -t.PnL
			if t.PnL < largestLoss {
				largestLoss = t.PnL
			}
		}
	}
	if r.Wins > 0 {
		r.LargestWin = largestWin
	}
	if r.Losses > 0 {
		r.LargestLoss = largestLoss
	}

	r.WinRate = float64(r.Wins) / float64(r.TotalTrades) * 100
	r.AveragePnL = r.TotalPnL / float64(r.TotalTrades)
	r.AverageDuration = time.Duration(totalDurationNS / float64(r.TotalTrades))

	switch {
	case grossLoss == 0 && grossProfit > 0:
		r.ProfitFactor = math.Inf(1)
	case grossLoss == 0:
		r.ProfitFactor = 0
	default:
		r.ProfitFactor = grossProfit / grossLoss
	}

	for i, dd := range drawdownCurve {
		if dd > r.MaxDrawdown {
			r.MaxDrawdown = dd
			if peakAtI := equityCurve[i] + dd; peakAtI != 0 {
				r.MaxDrawdownPct = dd / peakAtI * 100
			}
		}
	}
	return r
}
