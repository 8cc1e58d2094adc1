// Package instance implements the Instance Manager: the single
// long-lived owner of the instance set and algorithm catalog, which
// constructs and owns every Runtime, persists instance definitions to
// the Document Store, and runs a 1-second polling timer that diffs
// each RUNNING instance's tracked state and emits instanceStateChanged
// on change.
package instance

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/bikeshrana/pi5-trading-engine/internal/apperr"
	"github.com/bikeshrana/pi5-trading-engine/internal/broker"
	"github.com/bikeshrana/pi5-trading-engine/internal/core/events"
	"github.com/bikeshrana/pi5-trading-engine/internal/runtime"
	"github.com/bikeshrana/pi5-trading-engine/internal/store"
	"github.com/bikeshrana/pi5-trading-engine/pkg/types"
)

// pollInterval is the Instance Manager's state-snapshot cadence
// (spec §4.8: "every 1 second").
const pollInterval = 1 * time.Second

// managedInstance bundles a live Runtime with the definition fields the
// Manager persists and the last snapshot it polled, for change
// detection.
type managedInstance struct {
	cfg  store.InstanceConfig
	tick types.TickConfig
	rt   *runtime.Runtime
	last trackedState
}

// trackedState is the subset of fields spec §4.8 names as triggering
// instanceStateChanged: "{status, totals.pnl, unrealizedPnL,
// totals.trades, wins, losses, currentPrice, position fields,
// series.count}".
type trackedState struct {
	Status        runtime.Status
	PnL           float64
	UnrealizedPnL float64
	Trades        int
	Wins          int
	Losses        int
	CurrentPrice  float64
	PositionSide  types.PositionSide
	PositionQty   int
	PositionEntry float64
	SeriesCount   int
}

func snapshotToTracked(snap runtime.StateSnapshot, tick types.TickConfig) trackedState {
	return trackedState{
		Status:        snap.Status,
		PnL:           snap.Totals.PnL,
		UnrealizedPnL: unrealizedPnL(snap.Position, snap.CurrentPrice, tick),
		Trades:        snap.Totals.Trades,
		Wins:          snap.Totals.Wins,
		Losses:        snap.Totals.Losses,
		CurrentPrice:  snap.CurrentPrice,
		PositionSide:  snap.Position.Side,
		PositionQty:   snap.Position.Quantity,
		PositionEntry: snap.Position.EntryPrice,
		SeriesCount:   snap.SeriesCount,
	}
}

func unrealizedPnL(pos types.Position, currentPrice float64, tick types.TickConfig) float64 {
	if pos.Side == types.PositionNone {
		return 0
	}
	var pointDiff float64
	if pos.Side == types.PositionLong {
		pointDiff = currentPrice - pos.EntryPrice
	} else {
		pointDiff = pos.EntryPrice - currentPrice
	}
	return tick.PointsToCurrency(pointDiff, pos.Quantity)
}

// State is the external view of one instance's polled state, combining
// the Runtime's StateSnapshot with the derived UnrealizedPnL field spec
// §4.8 tracks alongside it.
type State struct {
	runtime.StateSnapshot
	UnrealizedPnL float64 `json:"unrealizedPnL"`
}

// Patch carries the optional fields updateInstance may change while an
// instance is STOPPED; nil fields are left unchanged.
type Patch struct {
	Name            *string
	AccountID       *string
	SimulationMode  *bool
	StartingCapital *float64
	Commission      *float64
}

// Manager is the Instance Manager (I).
type Manager struct {
	broker broker.Broker
	bus    *events.Bus
	store  *store.Store
	logger zerolog.Logger

	mu        sync.RWMutex
	instances map[string]*managedInstance

	pollCancel context.CancelFunc
	pollDone   chan struct{}
}

// New constructs an empty Instance Manager.
func New(br broker.Broker, bus *events.Bus, st *store.Store, logger zerolog.Logger) *Manager {
	return &Manager{
		broker:    br,
		bus:       bus,
		store:     st,
		logger:    logger.With().Str("component", "instance_manager").Logger(),
		instances: make(map[string]*managedInstance),
	}
}

// LoadPersisted restores the instance set from the Document Store on
// process start, constructing (but not starting) a Runtime for each
// persisted definition.
func (m *Manager) LoadPersisted() error {
	doc, err := m.store.LoadInstances()
	if err != nil {
		return err
	}
	for _, cfg := range doc.Instances {
		if _, err := m.createLocked(cfg, false); err != nil {
			m.logger.Error().Err(err).Str("instance_id", cfg.ID).Msg("failed to restore persisted instance")
		}
	}
	return nil
}

// CreateInstance validates that algorithmName names an existing
// algorithm, constructs a Runtime bound to it, registers it, and
// optionally persists the updated instance set (spec §4.8
// createInstance).
func (m *Manager) CreateInstance(cfg store.InstanceConfig, save bool) (string, error) {
	if cfg.ID == "" {
		cfg.ID = uuid.NewString()
	}
	return m.createLocked(cfg, save)
}

func (m *Manager) createLocked(cfg store.InstanceConfig, save bool) (string, error) {
	alg, err := m.store.LoadAlgorithm(cfg.AlgorithmName)
	if err != nil {
		return "", apperr.Validationf("instance %s: algorithm %q not found", cfg.ID, cfg.AlgorithmName)
	}

	tick := types.TickConfigFor(cfg.Symbol)
	rt := runtime.New(runtime.Config{
		InstanceID:      cfg.ID,
		Name:            cfg.Name,
		Symbol:          cfg.Symbol,
		ContractID:      cfg.ContractID,
		AccountID:       cfg.AccountID,
		AlgorithmName:   cfg.AlgorithmName,
		SimulationMode:  cfg.SimulationMode,
		StartingCapital: cfg.StartingCapital,
		Commission:      cfg.Commission,
		Tick:            tick,
	}, m.broker, m.bus, m.logger)
	rt.BindAlgorithm(alg)

	m.mu.Lock()
	if _, exists := m.instances[cfg.ID]; exists {
		m.mu.Unlock()
		return "", apperr.Conflictf("instance %q already exists", cfg.ID)
	}
	m.instances[cfg.ID] = &managedInstance{cfg: cfg, tick: tick, rt: rt}
	m.mu.Unlock()

	if save {
		if err := m.persistLocked(); err != nil {
			return "", err
		}
	}

	m.bus.Publish(context.Background(), events.NewInstanceCreatedEvent(cfg.ID))
	return cfg.ID, nil
}

// StartInstance starts the named instance's Runtime.
func (m *Manager) StartInstance(ctx context.Context, id string) error {
	mi, err := m.get(id)
	if err != nil {
		return err
	}
	return mi.rt.Start(ctx)
}

// StopInstance stops the named instance's Runtime.
func (m *Manager) StopInstance(id string) error {
	mi, err := m.get(id)
	if err != nil {
		return err
	}
	return mi.rt.Stop()
}

// PauseInstance pauses the named instance's Runtime.
func (m *Manager) PauseInstance(id string) error {
	mi, err := m.get(id)
	if err != nil {
		return err
	}
	return mi.rt.Pause()
}

// ResumeInstance resumes the named instance's Runtime.
func (m *Manager) ResumeInstance(id string) error {
	mi, err := m.get(id)
	if err != nil {
		return err
	}
	return mi.rt.Resume()
}

// DeleteInstance stops and removes the named instance, persisting the
// updated instance set.
func (m *Manager) DeleteInstance(id string) error {
	mi, err := m.get(id)
	if err != nil {
		return err
	}
	if err := mi.rt.Dispose(); err != nil {
		return err
	}

	m.mu.Lock()
	delete(m.instances, id)
	m.mu.Unlock()

	if err := m.persistLocked(); err != nil {
		return err
	}
	m.bus.Publish(context.Background(), events.NewInstanceDeletedEvent(id))
	return nil
}

// UpdateInstance applies patch to the stopped instance named id and
// persists the updated instance set (spec §4.8 updateInstance).
func (m *Manager) UpdateInstance(id string, patch Patch) error {
	mi, err := m.get(id)
	if err != nil {
		return err
	}
	if mi.rt.Status() != runtime.StatusStopped {
		return apperr.Conflictf("instance %q must be stopped to update", id)
	}

	m.mu.Lock()
	if patch.Name != nil {
		mi.cfg.Name = *patch.Name
	}
	if patch.AccountID != nil {
		mi.cfg.AccountID = *patch.AccountID
	}
	if patch.SimulationMode != nil {
		mi.cfg.SimulationMode = *patch.SimulationMode
	}
	if patch.StartingCapital != nil {
		mi.cfg.StartingCapital = *patch.StartingCapital
	}
	if patch.Commission != nil {
		mi.cfg.Commission = *patch.Commission
	}
	m.mu.Unlock()

	return m.persistLocked()
}

// GetAllInstances returns every instance's persisted definition.
func (m *Manager) GetAllInstances() []store.InstanceConfig {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]store.InstanceConfig, 0, len(m.instances))
	for _, mi := range m.instances {
		out = append(out, mi.cfg)
	}
	return out
}

// GetAllInstanceStates returns every instance's current polled state.
func (m *Manager) GetAllInstanceStates() []State {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]State, 0, len(m.instances))
	for _, mi := range m.instances {
		snap := mi.rt.Snapshot()
		out = append(out, State{StateSnapshot: snap, UnrealizedPnL: unrealizedPnL(snap.Position, snap.CurrentPrice, mi.tick)})
	}
	return out
}

// GetInstanceState returns one instance's current polled state.
func (m *Manager) GetInstanceState(id string) (State, error) {
	mi, err := m.get(id)
	if err != nil {
		return State{}, err
	}
	snap := mi.rt.Snapshot()
	return State{StateSnapshot: snap, UnrealizedPnL: unrealizedPnL(snap.Position, snap.CurrentPrice, mi.tick)}, nil
}

// GetRuntime returns the underlying Runtime for chart-data/logs/trades
// read endpoints.
func (m *Manager) GetRuntime(id string) (*runtime.Runtime, error) {
	mi, err := m.get(id)
	if err != nil {
		return nil, err
	}
	return mi.rt, nil
}

func (m *Manager) get(id string) (*managedInstance, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	mi, ok := m.instances[id]
	if !ok {
		return nil, apperr.NotFoundf("instance %q not found", id)
	}
	return mi, nil
}

// persistLocked writes the current instance set's definitions to the
// Document Store. Subscription ref-counting for the underlying trade
// stream is not duplicated here: every Runtime calls
// broker.SubscribeTrades(contractId) independently, and the Broker
// Adapter's own subscriptionRegistry (internal/broker/refcount.go)
// already guarantees at most one upstream subscription per contractId,
// fanning dispatched trades out to every subscribed Runtime.
func (m *Manager) persistLocked() error {
	m.mu.RLock()
	cfgs := make([]store.InstanceConfig, 0, len(m.instances))
	for _, mi := range m.instances {
		cfgs = append(cfgs, mi.cfg)
	}
	m.mu.RUnlock()
	return m.store.SaveInstances(cfgs)
}

// StartPolling launches the 1-second state-snapshot timer (spec §4.8).
// It runs until ctx is cancelled or StopPolling is called.
func (m *Manager) StartPolling(ctx context.Context) {
	pollCtx, cancel := context.WithCancel(ctx)
	m.pollCancel = cancel
	m.pollDone = make(chan struct{})
	go m.pollLoop(pollCtx)
}

// StopPolling halts the polling timer and waits for its goroutine to
// exit.
func (m *Manager) StopPolling() {
	if m.pollCancel == nil {
		return
	}
	m.pollCancel()
	<-m.pollDone
}

func (m *Manager) pollLoop(ctx context.Context) {
	defer close(m.pollDone)
	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			m.pollOnce(ctx)
		case <-ctx.Done():
			return
		}
	}
}

func (m *Manager) pollOnce(ctx context.Context) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for id, mi := range m.instances {
		snap := mi.rt.Snapshot()
		if snap.Status != runtime.StatusRunning {
			continue
		}
		tracked := snapshotToTracked(snap, mi.tick)
		if tracked == mi.last {
			continue
		}
		mi.last = tracked

		state := State{StateSnapshot: snap, UnrealizedPnL: tracked.UnrealizedPnL}
		m.bus.Publish(ctx, events.NewInstanceStateChangedEvent(id, state))
	}
}

// AlgorithmExists reports whether name identifies a persisted algorithm
// (helper for the Control API's instance-creation validation error
// path, mirroring createInstance's own check).
func (m *Manager) AlgorithmExists(name string) bool {
	_, err := m.store.LoadAlgorithm(name)
	return err == nil
}
