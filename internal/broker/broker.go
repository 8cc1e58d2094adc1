// Package broker implements the Broker Adapter: a single interface for
// authentication, historical bars, ref-counted trade streaming, order
// placement and account/contract lookups, with one production-shaped
// HTTP/WebSocket implementation and one in-memory mock for tests and
// backtests.
package broker

import (
	"context"
	"time"

	"github.com/bikeshrana/pi5-trading-engine/pkg/types"
)

// AuthToken is a cached bearer credential with an expiry (spec §4.6:
// "authenticate() -> {token, expiry}").
type AuthToken struct {
	Token  string
	Expiry time.Time
}

// Account is one broker trading account.
type Account struct {
	ID     string
	Name   string
	Active bool
}

// Contract describes a tradable futures symbol (spec Glossary).
type Contract struct {
	ID       string
	Symbol   string
	Exchange string
	Tick     types.TickConfig
}

// OrderSide is the direction of a submitted order.
type OrderSide string

const (
	OrderBuy  OrderSide = "BUY"
	OrderSell OrderSide = "SELL"
)

// OrderType names the order's execution style. The engine only ever
// submits MARKET orders (spec §4.5); LIMIT is modeled for completeness
// of the adapter surface.
type OrderType string

const (
	OrderMarket OrderType = "MARKET"
	OrderLimit  OrderType = "LIMIT"
)

// OrderRequest is the input to PlaceOrder (spec §4.6).
type OrderRequest struct {
	AccountID  string
	ContractID string
	Side       OrderSide
	Quantity   int
	Type       OrderType
	CustomTag  string
}

// OrderResult is PlaceOrder's output (spec §4.6:
// "{success, orderId?, error?}").
type OrderResult struct {
	Success bool
	OrderID string
	Error   string
}

// TradeConsumer receives trade prints for a subscribed contract.
type TradeConsumer func(types.Trade)

// SubscriptionHandle cancels a trade-stream subscription; Close is
// idempotent.
type SubscriptionHandle interface {
	Close() error
}

// Broker is the engine-wide market-data and order-routing interface
// (spec §4.6). Implementations: *HTTPBroker (production) and
// *MockBroker (simulation/backtest/tests).
type Broker interface {
	Authenticate(ctx context.Context) (AuthToken, error)
	GetAccounts(ctx context.Context, onlyActive bool) ([]Account, error)
	SearchContracts(ctx context.Context, query string, live bool) ([]Contract, error)
	GetHistoricalBars(ctx context.Context, contractID, timeframe string, startUTC, endUTC time.Time) ([]types.Bar, error)
	SubscribeTrades(ctx context.Context, contractID string, consumer TradeConsumer) (SubscriptionHandle, error)
	PlaceOrder(ctx context.Context, req OrderRequest) (OrderResult, error)
}
