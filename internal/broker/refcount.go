package broker

import (
	"sync"

	"github.com/bikeshrana/pi5-trading-engine/pkg/types"
)

// streamOpener opens the single upstream trade stream for a contract;
// it is called exactly once per contract while at least one consumer
// is registered, and the returned closer is invoked exactly once when
// the last consumer unsubscribes (spec §4.6, §5, tested by scenario
// S6).
type streamOpener func(contractID string, dispatch func(types.Trade)) (closer func() error, err error)

// subscriptionRegistry owns the contractId -> {refcount, consumer-set}
// map guarded by one lock (spec §5 Shared resources). Both broker
// implementations embed one of these rather than duplicating the
// bookkeeping.
type subscriptionRegistry struct {
	mu     sync.Mutex
	open   streamOpener
	states map[string]*contractSubscription
}

type contractSubscription struct {
	refcount  int
	consumers map[int]TradeConsumer
	nextID    int
	closer    func() error
}

func newSubscriptionRegistry(open streamOpener) *subscriptionRegistry {
	return &subscriptionRegistry{open: open, states: make(map[string]*contractSubscription)}
}

type handle struct {
	reg        *subscriptionRegistry
	contractID string
	consumerID int
	closed     bool
	mu         sync.Mutex
}

func (h *handle) Close() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return nil
	}
	h.closed = true
	return h.reg.unsubscribe(h.contractID, h.consumerID)
}

func (r *subscriptionRegistry) subscribe(contractID string, consumer TradeConsumer) (SubscriptionHandle, error) {
	r.mu.Lock()
	state, ok := r.states[contractID]
	if !ok {
		state = &contractSubscription{consumers: make(map[int]TradeConsumer)}
		r.states[contractID] = state
	}

	id := state.nextID
	state.nextID++
	state.consumers[id] = consumer
	state.refcount++
	firstSubscriber := state.refcount == 1
	r.mu.Unlock()

	if firstSubscriber {
		closer, err := r.open(contractID, func(t types.Trade) { r.dispatch(contractID, t) })
		if err != nil {
			r.mu.Lock()
			delete(state.consumers, id)
			state.refcount--
			if state.refcount == 0 {
				delete(r.states, contractID)
			}
			r.mu.Unlock()
			return nil, err
		}
		r.mu.Lock()
		state.closer = closer
		r.mu.Unlock()
	}

	return &handle{reg: r, contractID: contractID, consumerID: id}, nil
}

func (r *subscriptionRegistry) dispatch(contractID string, t types.Trade) {
	r.mu.Lock()
	state, ok := r.states[contractID]
	if !ok {
		r.mu.Unlock()
		return
	}
	consumers := make([]TradeConsumer, 0, len(state.consumers))
	for _, c := range state.consumers {
		consumers = append(consumers, c)
	}
	r.mu.Unlock()

	for _, c := range consumers {
		c(t)
	}
}

func (r *subscriptionRegistry) unsubscribe(contractID string, consumerID int) error {
	r.mu.Lock()
	state, ok := r.states[contractID]
	if !ok {
		r.mu.Unlock()
		return nil
	}
	delete(state.consumers, consumerID)
	state.refcount--
	lastUnsubscribe := state.refcount == 0
	closer := state.closer
	if lastUnsubscribe {
		delete(r.states, contractID)
	}
	r.mu.Unlock()

	if lastUnsubscribe && closer != nil {
		return closer()
	}
	return nil
}

// refcountFor reports the current consumer count for contractID (test
// and metrics hook; zero if the contract has no active subscribers).
func (r *subscriptionRegistry) refcountFor(contractID string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	if state, ok := r.states[contractID]; ok {
		return state.refcount
	}
	return 0
}
