package gateway

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lczhang/crossarb/internal/domain"
)

func TestSimTakerFillSettlesBalances(t *testing.T) {
	sim := NewSim("binance", 0.001, 0.002)
	sim.SetBalance(domain.QuoteAsset, 1000)

	ack, err := sim.PlaceOrder(context.Background(), "BTC", domain.SideBuy, 100, 2, domain.OrderKindTaker)
	require.NoError(t, err)
	assert.Equal(t, domain.OrderFilled, ack.Status)

	balances, err := sim.GetBalance(context.Background())
	require.NoError(t, err)
	assert.InDelta(t, 1000-2*100*1.002, balances[domain.QuoteAsset].Available, domain.Epsilon)
	assert.InDelta(t, 2, balances["BTC"].Available, domain.Epsilon)
}

func TestSimPartialTakerFill(t *testing.T) {
	sim := NewSim("okx", 0.001, 0.001)
	sim.SetBalance(domain.QuoteAsset, 10000)
	sim.FillRatio = 0.7

	ack, err := sim.PlaceOrder(context.Background(), "ETH", domain.SideBuy, 2000, 1, domain.OrderKindTaker)
	require.NoError(t, err)
	assert.Equal(t, domain.OrderPartiallyFilled, ack.Status)

	state, err := sim.OrderState(context.Background(), "ETH", ack.OrderID)
	require.NoError(t, err)
	assert.InDelta(t, 0.7, state.FilledAmount, domain.Epsilon)
}

func TestSimMakerRestsUntilFilled(t *testing.T) {
	sim := NewSim("binance", 0.001, 0.001)
	sim.SetBalance("BTC", 5)

	ack, err := sim.PlaceOrder(context.Background(), "BTC", domain.SideSell, 105, 3, domain.OrderKindMaker)
	require.NoError(t, err)
	assert.Equal(t, domain.OrderSubmitted, ack.Status)

	sim.FillMaker(ack.OrderID, 3, true)
	state, err := sim.OrderState(context.Background(), "BTC", ack.OrderID)
	require.NoError(t, err)
	assert.Equal(t, domain.OrderFilled, state.Status)
	assert.InDelta(t, 3, state.FilledAmount, domain.Epsilon)
}

func TestSimCancelResting(t *testing.T) {
	sim := NewSim("binance", 0.001, 0.001)
	sim.SetBalance(domain.QuoteAsset, 1000)

	ack, err := sim.PlaceOrder(context.Background(), "BTC", domain.SideBuy, 90, 1, domain.OrderKindMaker)
	require.NoError(t, err)

	ok, err := sim.CancelOrder(context.Background(), "BTC", ack.OrderID)
	require.NoError(t, err)
	assert.True(t, ok)

	// Second cancel is a no-op on a terminal order.
	ok, err = sim.CancelOrder(context.Background(), "BTC", ack.OrderID)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestSimRejectsOnInsufficientFunds(t *testing.T) {
	sim := NewSim("okx", 0.001, 0.001)
	sim.SetBalance(domain.QuoteAsset, 10)

	_, err := sim.PlaceOrder(context.Background(), "BTC", domain.SideBuy, 100, 1, domain.OrderKindTaker)
	require.ErrorIs(t, err, domain.ErrInsufficientBalance)
}
