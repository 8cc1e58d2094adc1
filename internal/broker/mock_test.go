package broker

import (
	"context"
	"testing"
	"time"

	"github.com/bikeshrana/pi5-trading-engine/pkg/types"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestScenarioS6RefCountedSubscription reproduces spec Scenario S6.
func TestScenarioS6RefCountedSubscription(t *testing.T) {
	b := NewMockBroker(zerolog.Nop())
	ctx := context.Background()
	contractID := "CON.F.ES"

	var received1, received2 int
	h1, err := b.SubscribeTrades(ctx, contractID, func(types.Trade) { received1++ })
	require.NoError(t, err)
	assert.Equal(t, 1, b.RefCount(contractID))

	h2, err := b.SubscribeTrades(ctx, contractID, func(types.Trade) { received2++ })
	require.NoError(t, err)
	assert.Equal(t, 2, b.RefCount(contractID), "both subscribers should be counted against the one contract")

	b.Inject(contractID, types.Trade{Price: 100, Size: 1, Timestamp: time.Now()})
	assert.Equal(t, 1, received1)
	assert.Equal(t, 1, received2)

	require.NoError(t, h1.Close())
	assert.Equal(t, 1, b.RefCount(contractID), "stream remains open while one consumer remains")

	b.Inject(contractID, types.Trade{Price: 101, Size: 1, Timestamp: time.Now()})
	assert.Equal(t, 1, received1, "unsubscribed consumer receives nothing further")
	assert.Equal(t, 2, received2)

	require.NoError(t, h2.Close())
	assert.Equal(t, 0, b.RefCount(contractID), "stream closes exactly once the last consumer unsubscribes")

	require.NoError(t, h2.Close(), "Close must be idempotent")
}

func TestMockBrokerHistoricalBarsAndOrders(t *testing.T) {
	b := NewMockBroker(zerolog.Nop())
	ctx := context.Background()

	seeded := []types.Bar{{Timestamp: time.Now(), Open: 1, High: 1, Low: 1, Close: 1, Volume: 1}}
	b.SeedHistoricalBars("CON.F.ES", seeded)

	got, err := b.GetHistoricalBars(ctx, "CON.F.ES", "1m", time.Now().Add(-time.Hour), time.Now())
	require.NoError(t, err)
	assert.Len(t, got, 1)

	res, err := b.PlaceOrder(ctx, OrderRequest{AccountID: "ACC1", ContractID: "CON.F.ES", Side: OrderBuy, Quantity: 1, Type: OrderMarket})
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.Len(t, b.PlacedOrders(), 1)
}

func TestMockBrokerAuthenticate(t *testing.T) {
	b := NewMockBroker(zerolog.Nop())
	tok, err := b.Authenticate(context.Background())
	require.NoError(t, err)
	assert.NotEmpty(t, tok.Token)
	assert.True(t, tok.Expiry.After(time.Now()))
}
