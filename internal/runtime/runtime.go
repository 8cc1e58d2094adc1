// Package runtime implements the Live Instance Runtime: the per-instance
// task that owns one Series, one Position and one set of running
// totals, drives trades through the Bar Builder, the algorithm's
// indicators and the Condition Engine, and emits Event Bus notifications
// for the Control API's event stream.
package runtime

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/bikeshrana/pi5-trading-engine/internal/algorithm"
	"github.com/bikeshrana/pi5-trading-engine/internal/apperr"
	"github.com/bikeshrana/pi5-trading-engine/internal/broker"
	"github.com/bikeshrana/pi5-trading-engine/internal/condition"
	"github.com/bikeshrana/pi5-trading-engine/internal/core/events"
	"github.com/bikeshrana/pi5-trading-engine/internal/series"
	"github.com/bikeshrana/pi5-trading-engine/pkg/types"
)

// Status is the Live Instance Runtime's lifecycle state (spec §4.5:
// "STOPPED -> start() -> RUNNING -> pause() -> PAUSED -> resume() ->
// RUNNING -> stop() -> STOPPED. Terminal on dispose()").
type Status string

const (
	StatusStopped Status = "STOPPED"
	StatusRunning Status = "RUNNING"
	StatusPaused  Status = "PAUSED"
)

const (
	// historyLookback is how far back the Runtime backfills Series on
	// start when it is empty (spec §4.5 start step 2: "last 7 calendar
	// days at 1-minute granularity").
	historyLookback = 7 * 24 * time.Hour
	historyTimeframe = "1m"
	// minBarsForCompute is the warmup floor below which indicators are
	// not recomputed (spec §4.5 step 2: "If count >= 20").
	minBarsForCompute = 20
	// logRingCapacity bounds the per-instance log buffer (spec §3
	// Instance.logs: "bounded ring (<=1000)").
	logRingCapacity = 1000
)

// Totals accumulates closed-trade performance for the instance
// (spec §3 Instance.totals).
type Totals struct {
	PnL    float64
	Trades int
	Wins   int
	Losses int
}

// Config is the static identity and risk configuration for one Runtime
// (spec §3 Instance, minus the ephemeral Series/Position/totals fields
// the Runtime owns directly). Quantity is the fixed contract count
// submitted per order; the spec names no per-instance sizing knob
// beyond Position.quantity, so New defaults it to 1 (documented open
// decision, see DESIGN.md).
type Config struct {
	InstanceID      string
	Name            string
	Symbol          string
	ContractID      string
	AccountID       string
	AlgorithmName   string
	SimulationMode  bool
	StartingCapital float64
	Commission      float64
	Quantity        int
	Tick            types.TickConfig
}

// LogEntry is one record in the instance's bounded log ring
// (spec §3 Instance.logs).
type LogEntry struct {
	Time    time.Time
	Level   string
	Message string
}

// StateSnapshot is the polled-field set the Instance Manager compares
// across ticks to decide whether to emit instanceStateChanged
// (spec §4.8).
type StateSnapshot struct {
	InstanceID   string
	Status       Status
	Position     types.Position
	Totals       Totals
	CurrentPrice float64
	SeriesCount  int
}

// orderIntent is computed while the Runtime's mutex is held and
// submitted to the Broker Adapter only after it is released, so a slow
// broker round trip never blocks Pause/Stop/Snapshot callers.
type orderIntent struct {
	side broker.OrderSide
}

// Runtime is the Live Instance Runtime. One Runtime is created per
// Instance by the Instance Manager and lives for the instance's
// lifetime.
type Runtime struct {
	cfg    Config
	broker broker.Broker
	bus    *events.Bus
	logger zerolog.Logger

	mu         sync.Mutex
	status     Status
	algorithm  *algorithm.Algorithm
	series     *series.Series
	barBuilder *series.BarBuilder
	position   types.Position
	totals     Totals
	trades     []types.ClosedTrade
	logs       []LogEntry
	startTime  time.Time
	lastSignal time.Time
	currentPx  float64

	runCtx    context.Context
	runCancel context.CancelFunc
	sub       broker.SubscriptionHandle
}

// New constructs a Runtime in the STOPPED state with an empty Series.
func New(cfg Config, br broker.Broker, bus *events.Bus, logger zerolog.Logger) *Runtime {
	if cfg.Quantity == 0 {
		cfg.Quantity = 1
	}
	s := series.New(cfg.ContractID)
	return &Runtime{
		cfg:        cfg,
		broker:     br,
		bus:        bus,
		logger:     logger.With().Str("component", "runtime").Str("instance_id", cfg.InstanceID).Logger(),
		status:     StatusStopped,
		series:     s,
		barBuilder: series.NewBarBuilder(s, logger),
		position:   types.Position{Side: types.PositionNone},
	}
}

// BindAlgorithm attaches the algorithm the Runtime evaluates on each
// trade (spec §4.5 start step 1: "If no algorithm bound, fail").
func (r *Runtime) BindAlgorithm(a algorithm.Algorithm) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.algorithm = &a
}

// Status returns the current lifecycle state.
func (r *Runtime) Status() Status {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.status
}

// Series exposes the instance's bar store. Callers must treat it as
// read-only; only the Runtime's own goroutine mutates it.
func (r *Runtime) Series() *series.Series {
	return r.series
}

// Trades returns a copy of every closed trade recorded so far.
func (r *Runtime) Trades() []types.ClosedTrade {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]types.ClosedTrade(nil), r.trades...)
}

// Logs returns a copy of the bounded log ring.
func (r *Runtime) Logs() []LogEntry {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]LogEntry(nil), r.logs...)
}

// ChartDataPoint is one bar plus its computed indicator values, keyed
// by indicator name, for the Control API's chart-data route.
type ChartDataPoint struct {
	Bar        types.Bar          `json:"bar"`
	Indicators map[string]float64 `json:"indicators"`
}

// ChartData returns every bar the instance has accumulated alongside
// the indicator values computed for it, for the Control API's
// GET /instances/:id/chart-data route (spec §6).
func (r *Runtime) ChartData() []ChartDataPoint {
	r.mu.Lock()
	alg := r.algorithm
	r.mu.Unlock()

	n := r.series.Count()
	bars, err := r.series.Slice(0, n)
	if err != nil {
		return nil
	}

	var names []string
	if alg != nil {
		for _, ind := range alg.Indicators {
			names = append(names, ind.Name)
			names = append(names, ind.DerivedNames()...)
		}
	}

	points := make([]ChartDataPoint, len(bars))
	for i, bar := range bars {
		point := ChartDataPoint{Bar: bar, Indicators: make(map[string]float64, len(names))}
		for _, name := range names {
			if v, err := r.series.GetIndicatorValue(name, i); err == nil {
				point.Indicators[name] = v
			}
		}
		points[i] = point
	}
	return points
}

// Snapshot returns the fields the Instance Manager's polling timer
// tracks for change detection (spec §4.8).
func (r *Runtime) Snapshot() StateSnapshot {
	r.mu.Lock()
	defer r.mu.Unlock()
	return StateSnapshot{
		InstanceID:   r.cfg.InstanceID,
		Status:       r.status,
		Position:     r.position,
		Totals:       r.totals,
		CurrentPrice: r.currentPx,
		SeriesCount:  r.series.Count(),
	}
}

// Start implements spec §4.5 "On start".
func (r *Runtime) Start(ctx context.Context) error {
	r.mu.Lock()
	if r.algorithm == nil {
		r.mu.Unlock()
		return apperr.Validationf("runtime %s: no algorithm bound", r.cfg.InstanceID)
	}
	status := r.status
	r.mu.Unlock()
	if status == StatusRunning {
		return nil
	}

	if r.series.Count() == 0 {
		end := time.Now().UTC()
		start := end.Add(-historyLookback)
		bars, err := r.broker.GetHistoricalBars(ctx, r.cfg.ContractID, historyTimeframe, start, end)
		if err != nil {
			return apperr.Wrap(apperr.CodeOf(err), err, "runtime %s: load historical bars", r.cfg.InstanceID)
		}
		for _, bar := range bars {
			if err := r.series.Append(bar); err != nil {
				return apperr.Internalf("runtime %s: seed historical bar: %v", r.cfg.InstanceID, err)
			}
		}
	}

	runCtx, cancel := context.WithCancel(context.Background())
	sub, err := r.broker.SubscribeTrades(ctx, r.cfg.ContractID, r.onTrade)
	if err != nil {
		cancel()
		return apperr.Wrap(apperr.CodeOf(err), err, "runtime %s: subscribe trade stream", r.cfg.InstanceID)
	}

	r.mu.Lock()
	r.sub = sub
	r.runCtx = runCtx
	r.runCancel = cancel
	r.status = StatusRunning
	r.startTime = time.Now().UTC()
	r.mu.Unlock()

	r.publishStateChanged()
	return nil
}

// Pause suspends trade handling without releasing the subscription
// (spec §4.5 states).
func (r *Runtime) Pause() error {
	r.mu.Lock()
	if r.status != StatusRunning {
		r.mu.Unlock()
		return apperr.Conflictf("runtime %s: cannot pause from %s", r.cfg.InstanceID, r.status)
	}
	r.status = StatusPaused
	r.mu.Unlock()
	r.publishStateChanged()
	return nil
}

// Resume returns to RUNNING from PAUSED.
func (r *Runtime) Resume() error {
	r.mu.Lock()
	if r.status != StatusPaused {
		r.mu.Unlock()
		return apperr.Conflictf("runtime %s: cannot resume from %s", r.cfg.InstanceID, r.status)
	}
	r.status = StatusRunning
	r.mu.Unlock()
	r.publishStateChanged()
	return nil
}

// Stop cancels the subscription (ref-counted by the Broker Adapter) and
// preserves Series and totals (spec §4.5 "On stop").
func (r *Runtime) Stop() error {
	r.mu.Lock()
	if r.status == StatusStopped {
		r.mu.Unlock()
		return nil
	}
	sub := r.sub
	cancel := r.runCancel
	r.sub = nil
	r.status = StatusStopped
	r.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if sub != nil {
		if err := sub.Close(); err != nil {
			r.logError(fmt.Sprintf("unsubscribe trade stream: %v", err))
		}
	}
	r.publishStateChanged()
	return nil
}

// Dispose is equivalent to Stop: it keeps the Series and totals, and it
// does not mark the Runtime as disposed.
func (r *Runtime) Dispose() error {
	return r.Stop()
}

// onTrade is the broker.TradeConsumer bound at Start. Failure policy
// (spec §4.5): any error in trade handling is caught, logged to the
// instance ring, and never transitions the state.
func (r *Runtime) onTrade(t types.Trade) {
	defer func() {
		if rec := recover(); rec != nil {
			r.logError(fmt.Sprintf("panic in trade handling: %v", rec))
		}
	}()

	r.mu.Lock()
	running := r.status == StatusRunning
	r.mu.Unlock()
	if !running {
		return
	}

	intent, err := r.handleTrade(t)
	if err != nil {
		r.logError(err.Error())
		return
	}
	if intent != nil {
		r.submitOrder(*intent)
	}
}

// handleTrade runs one pass of spec §4.5's per-trade pipeline: Bar
// Builder, conditional indicator recompute, Condition Engine, position
// transition, and event emission. It returns an orderIntent when a live
// (non-simulation) entry or exit fired, deferred to the caller so the
// broker round trip happens outside the Runtime's mutex.
func (r *Runtime) handleTrade(t types.Trade) (*orderIntent, error) {
	r.mu.Lock()

	beforeCount := r.series.Count()
	if err := r.barBuilder.OnTrade(t.Price, t.Size, t.Timestamp); err != nil {
		r.mu.Unlock()
		return nil, fmt.Errorf("bar builder: %w", err)
	}
	r.currentPx = t.Price
	afterCount := r.series.Count()
	isNewBar := afterCount > beforeCount

	if afterCount == 0 {
		r.mu.Unlock()
		return nil, nil
	}

	if afterCount >= minBarsForCompute {
		if err := algorithm.Compute(r.series, *r.algorithm); err != nil {
			r.mu.Unlock()
			return nil, fmt.Errorf("compute indicators: %w", err)
		}
	}

	i := afterCount - 1
	liveCtx := condition.LiveContext{Position: r.position, Tick: r.cfg.Tick, Price: t.Price}

	var intent *orderIntent
	var signalEvt events.Event

	if r.position.Side == types.PositionNone {
		decision, err := condition.EvaluateEntry(r.algorithm.EntryConditions, r.series, i, liveCtx)
		if err != nil {
			r.mu.Unlock()
			return nil, fmt.Errorf("evaluate entry: %w", err)
		}
		if decision.Side != types.PositionNone {
			r.position = types.Position{Side: decision.Side, Quantity: r.cfg.Quantity, EntryPrice: t.Price, EntryTime: t.Timestamp}
			r.lastSignal = t.Timestamp
			signalEvt = events.NewInstanceSignalEvent(r.cfg.InstanceID, events.SignalEntry, string(decision.Side), t.Price, decision.Text)
			if !r.cfg.SimulationMode {
				intent = &orderIntent{side: orderSideForEntry(decision.Side)}
			}
		}
	} else {
		decision, err := condition.EvaluateExit(r.algorithm.ExitConditions, r.series, i, liveCtx)
		if err != nil {
			r.mu.Unlock()
			return nil, fmt.Errorf("evaluate exit: %w", err)
		}
		if decision.Triggered {
			closedSide := r.closePositionLocked(t.Price, decision.Text)
			signalEvt = events.NewInstanceSignalEvent(r.cfg.InstanceID, events.SignalExit, string(closedSide), t.Price, decision.Text)
			if !r.cfg.SimulationMode {
				intent = &orderIntent{side: orderSideForExit(closedSide)}
			}
		}
	}

	bar, _ := r.series.GetBar(i)
	dataEvt := events.NewInstanceDataUpdateEvent(r.cfg.InstanceID, bar, isNewBar)
	r.mu.Unlock()

	r.bus.Publish(r.runCtx, dataEvt)
	if signalEvt != nil {
		r.bus.Publish(r.runCtx, signalEvt)
	}

	return intent, nil
}

// closePositionLocked realizes the open position's P&L (spec §4.5 step
// 5 formula), appends the closed Trade, updates totals, and resets the
// position to NONE. Must be called with r.mu held; returns the side
// that was closed.
func (r *Runtime) closePositionLocked(exitPrice float64, text string) types.PositionSide {
	pos := r.position

	var pointDiff float64
	if pos.Side == types.PositionLong {
		pointDiff = exitPrice - pos.EntryPrice
	} else {
		pointDiff = pos.EntryPrice - exitPrice
	}
	pnl := r.cfg.Tick.PointsToCurrency(pointDiff, pos.Quantity) - r.cfg.Commission

	var pnlPercent float64
	if pos.EntryPrice != 0 {
		pnlPercent = pointDiff / pos.EntryPrice * 100
	}

	now := time.Now().UTC()
	trade := types.ClosedTrade{
		ID:         uuid.NewString(),
		EntryTime:  pos.EntryTime,
		ExitTime:   now,
		Side:       pos.Side,
		EntryPrice: pos.EntryPrice,
		ExitPrice:  exitPrice,
		Quantity:   pos.Quantity,
		PnL:        pnl,
		PnLPercent: pnlPercent,
		Commission: r.cfg.Commission,
		ExitSignal: text,
		Duration:   now.Sub(pos.EntryTime),
	}
	r.trades = append(r.trades, trade)
	r.totals.PnL += pnl
	r.totals.Trades++
	if pnl >= 0 {
		r.totals.Wins++
	} else {
		r.totals.Losses++
	}
	r.lastSignal = now
	r.position = types.Position{Side: types.PositionNone}
	return pos.Side
}

// submitOrder places a live MARKET order for an entry or exit signal
// (spec §4.5 steps 4-5: "If live mode, also submit a MARKET order").
// Broker errors are typed Transient/Permanent by the adapter; either
// way the Runtime only logs them, per §4.6's error policy.
func (r *Runtime) submitOrder(intent orderIntent) {
	res, err := r.broker.PlaceOrder(r.runCtx, broker.OrderRequest{
		AccountID:  r.cfg.AccountID,
		ContractID: r.cfg.ContractID,
		Side:       intent.side,
		Quantity:   r.cfg.Quantity,
		Type:       broker.OrderMarket,
		CustomTag:  r.cfg.InstanceID,
	})
	if err != nil {
		r.logError(fmt.Sprintf("place order failed: %v", err))
		return
	}
	if !res.Success {
		r.logError(fmt.Sprintf("order rejected: %s", res.Error))
	}
}

func orderSideForEntry(side types.PositionSide) broker.OrderSide {
	if side == types.PositionShort {
		return broker.OrderSell
	}
	return broker.OrderBuy
}

func orderSideForExit(side types.PositionSide) broker.OrderSide {
	if side == types.PositionShort {
		return broker.OrderBuy
	}
	return broker.OrderSell
}

func (r *Runtime) publishStateChanged() {
	snap := r.Snapshot()
	r.mu.Lock()
	ctx := r.runCtx
	r.mu.Unlock()
	if ctx == nil {
		ctx = context.Background()
	}
	r.bus.Publish(ctx, events.NewInstanceStateChangedEvent(r.cfg.InstanceID, snap))
}

func (r *Runtime) logError(msg string) {
	r.appendLog("ERROR", msg)
	r.logger.Error().Msg(msg)
}

func (r *Runtime) appendLog(level, msg string) {
	r.mu.Lock()
	r.logs = append(r.logs, LogEntry{Time: time.Now().UTC(), Level: level, Message: msg})
	if len(r.logs) > logRingCapacity {
		r.logs = r.logs[len(r.logs)-logRingCapacity:]
	}
	ctx := r.runCtx
	r.mu.Unlock()

	if ctx == nil {
		ctx = context.Background()
	}
	r.bus.Publish(ctx, events.NewInstanceLogEvent(r.cfg.InstanceID, level, msg))
}
