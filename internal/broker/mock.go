package broker

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/bikeshrana/pi5-trading-engine/pkg/types"
	"github.com/rs/zerolog"
)

// MockBroker is the simulation/backtest/test Broker Adapter
// implementation (spec §4.6: "One production and one mock
// implementation"). Accounts, contracts and historical bars are seeded
// by the caller; SubscribeTrades registers consumers in the same
// ref-counted registry the HTTPBroker uses and Inject delivers trades to
// them, so tests can exercise scenario S6 (ref-counted subscription)
// against either implementation interchangeably.
type MockBroker struct {
	logger zerolog.Logger
	subs   *subscriptionRegistry

	mu          sync.RWMutex
	accounts    []Account
	contracts   []Contract
	historical  map[string][]types.Bar
	orderSeq    atomic.Int64
	placedOrders []OrderRequest
}

// NewMockBroker constructs an empty mock broker; use the Seed* methods
// to populate fixture data before use.
func NewMockBroker(logger zerolog.Logger) *MockBroker {
	b := &MockBroker{
		logger:     logger.With().Str("component", "mock_broker").Logger(),
		historical: make(map[string][]types.Bar),
	}
	b.subs = newSubscriptionRegistry(b.openStream)
	return b
}

// SeedAccounts installs fixture accounts returned by GetAccounts.
func (b *MockBroker) SeedAccounts(accounts []Account) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.accounts = accounts
}

// SeedContracts installs fixture contracts returned by SearchContracts.
func (b *MockBroker) SeedContracts(contracts []Contract) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.contracts = contracts
}

// SeedHistoricalBars installs the bars GetHistoricalBars returns for
// contractID, irrespective of the requested date range (tests pass in
// exactly the window they want back).
func (b *MockBroker) SeedHistoricalBars(contractID string, bars []types.Bar) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.historical[contractID] = bars
}

func (b *MockBroker) Authenticate(ctx context.Context) (AuthToken, error) {
	return AuthToken{Token: "mock-token", Expiry: time.Now().Add(time.Hour)}, nil
}

func (b *MockBroker) GetAccounts(ctx context.Context, onlyActive bool) ([]Account, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if !onlyActive {
		return append([]Account(nil), b.accounts...), nil
	}
	out := make([]Account, 0, len(b.accounts))
	for _, a := range b.accounts {
		if a.Active {
			out = append(out, a)
		}
	}
	return out, nil
}

func (b *MockBroker) SearchContracts(ctx context.Context, query string, live bool) ([]Contract, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return append([]Contract(nil), b.contracts...), nil
}

func (b *MockBroker) GetHistoricalBars(ctx context.Context, contractID, timeframe string, startUTC, endUTC time.Time) ([]types.Bar, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return append([]types.Bar(nil), b.historical[contractID]...), nil
}

func (b *MockBroker) PlaceOrder(ctx context.Context, req OrderRequest) (OrderResult, error) {
	b.mu.Lock()
	b.placedOrders = append(b.placedOrders, req)
	b.mu.Unlock()
	id := b.orderSeq.Add(1)
	return OrderResult{Success: true, OrderID: fmt.Sprintf("MOCK-%d", id)}, nil
}

// PlacedOrders returns every order submitted via PlaceOrder, for test
// assertions.
func (b *MockBroker) PlacedOrders() []OrderRequest {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return append([]OrderRequest(nil), b.placedOrders...)
}

func (b *MockBroker) SubscribeTrades(ctx context.Context, contractID string, consumer TradeConsumer) (SubscriptionHandle, error) {
	return b.subs.subscribe(contractID, consumer)
}

// RefCount exposes the current subscriber count for contractID
// (scenario S6 assertions).
func (b *MockBroker) RefCount(contractID string) int {
	return b.subs.refcountFor(contractID)
}

// openStream is a no-op upstream for the mock: trades are injected
// directly via Inject rather than an external feed.
func (b *MockBroker) openStream(contractID string, dispatch func(types.Trade)) (func() error, error) {
	b.logger.Debug().Str("contract_id", contractID).Msg("mock stream opened")
	return func() error {
		b.logger.Debug().Str("contract_id", contractID).Msg("mock stream closed")
		return nil
	}, nil
}

// Inject delivers a synthetic trade to every current subscriber of
// contractID, for driving the Live Instance Runtime in tests.
func (b *MockBroker) Inject(contractID string, t types.Trade) {
	b.subs.dispatch(contractID, t)
}
