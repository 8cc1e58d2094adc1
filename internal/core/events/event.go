// Package events implements the typed in-process pub/sub used by the
// Live Instance Runtime, Backtest Executor and Instance Manager to
// notify Control API subscribers.
package events

import "time"

// Type names one of the event-stream event kinds.
type Type string

const (
	TypeInstanceStates        Type = "instanceStates"
	TypeInstanceStateChanged  Type = "instanceStateChanged"
	TypeInstanceSignal        Type = "instanceSignal"
	TypeInstanceLog           Type = "instanceLog"
	TypeInstanceDataUpdate    Type = "instanceDataUpdate"
	TypeInstanceCreated       Type = "instanceCreated"
	TypeInstanceDeleted       Type = "instanceDeleted"
	TypeBacktestUpdate        Type = "backtestUpdate"
)

// Event is the base interface implemented by every published event.
// Instance events carry an instanceId and backtest events a backtestId;
// the instanceStates snapshot carries the list of instance states instead.
type Event interface {
	Type() Type
	Timestamp() time.Time
}

// Base provides the common Type/Timestamp fields embedded by every
// concrete event.
type Base struct {
	EventType Type
	EventTime time.Time
}

func (e Base) Type() Type           { return e.EventType }
func (e Base) Timestamp() time.Time { return e.EventTime }

func newBase(t Type) Base {
	return Base{EventType: t, EventTime: time.Now()}
}

// InstanceStatesEvent is the initial full-snapshot push sent to a
// newly-connected subscriber.
type InstanceStatesEvent struct {
	Base
	States []any
}

func NewInstanceStatesEvent(states []any) *InstanceStatesEvent {
	return &InstanceStatesEvent{Base: newBase(TypeInstanceStates), States: states}
}

// InstanceStateChangedEvent is emitted whenever the Instance Manager's
// 1-second polling timer observes a tracked field change (spec §4.8).
type InstanceStateChangedEvent struct {
	Base
	InstanceID string
	State      any
}

func NewInstanceStateChangedEvent(instanceID string, state any) *InstanceStateChangedEvent {
	return &InstanceStateChangedEvent{Base: newBase(TypeInstanceStateChanged), InstanceID: instanceID, State: state}
}

// SignalKind distinguishes entry from exit signals (spec §4.5).
type SignalKind string

const (
	SignalEntry SignalKind = "ENTRY"
	SignalExit  SignalKind = "EXIT"
)

// InstanceSignalEvent carries an ENTRY or EXIT signal emitted by a
// Runtime.
type InstanceSignalEvent struct {
	Base
	InstanceID string
	Kind       SignalKind
	Side       string
	Price      float64
	Text       string
}

func NewInstanceSignalEvent(instanceID string, kind SignalKind, side string, price float64, text string) *InstanceSignalEvent {
	return &InstanceSignalEvent{
		Base:       newBase(TypeInstanceSignal),
		InstanceID: instanceID,
		Kind:       kind,
		Side:       side,
		Price:      price,
		Text:       text,
	}
}

// InstanceLogEvent mirrors an entry appended to an instance's ring
// buffer.
type InstanceLogEvent struct {
	Base
	InstanceID string
	Level      string
	Message    string
}

func NewInstanceLogEvent(instanceID, level, message string) *InstanceLogEvent {
	return &InstanceLogEvent{Base: newBase(TypeInstanceLog), InstanceID: instanceID, Level: level, Message: message}
}

// InstanceDataUpdateEvent is emitted once per processed trade batch
// (spec §4.5 step 6).
type InstanceDataUpdateEvent struct {
	Base
	InstanceID string
	Bar        any
	IsNewBar   bool
}

func NewInstanceDataUpdateEvent(instanceID string, bar any, isNewBar bool) *InstanceDataUpdateEvent {
	return &InstanceDataUpdateEvent{Base: newBase(TypeInstanceDataUpdate), InstanceID: instanceID, Bar: bar, IsNewBar: isNewBar}
}

// InstanceCreatedEvent is emitted by the Instance Manager on
// createInstance.
type InstanceCreatedEvent struct {
	Base
	InstanceID string
}

func NewInstanceCreatedEvent(instanceID string) *InstanceCreatedEvent {
	return &InstanceCreatedEvent{Base: newBase(TypeInstanceCreated), InstanceID: instanceID}
}

// InstanceDeletedEvent is emitted by the Instance Manager on
// deleteInstance.
type InstanceDeletedEvent struct {
	Base
	InstanceID string
}

func NewInstanceDeletedEvent(instanceID string) *InstanceDeletedEvent {
	return &InstanceDeletedEvent{Base: newBase(TypeInstanceDeleted), InstanceID: instanceID}
}

// BacktestUpdateEvent is emitted by the Backtest Executor's
// onProgress/onComplete callbacks.
type BacktestUpdateEvent struct {
	Base
	BacktestID string
	Status     string
	Progress   float64
}

func NewBacktestUpdateEvent(backtestID, status string, progress float64) *BacktestUpdateEvent {
	return &BacktestUpdateEvent{Base: newBase(TypeBacktestUpdate), BacktestID: backtestID, Status: status, Progress: progress}
}
