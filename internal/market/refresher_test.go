package market

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lczhang/crossarb/internal/book"
	"github.com/lczhang/crossarb/internal/domain"
	"github.com/lczhang/crossarb/internal/gateway"
)

func depthFor(coin string, ask, bid float64) domain.DepthSnapshot {
	return domain.DepthSnapshot{
		Coin:      coin,
		Asks:      []domain.PriceLevel{{Price: ask, Amount: 10}},
		Bids:      []domain.PriceLevel{{Price: bid, Amount: 10}},
		Timestamp: time.Now().UTC(),
	}
}

func TestRefreshAllPopulatesStoreAndBook(t *testing.T) {
	simA := gateway.NewSim("binance", 0.001, 0.001)
	simA.SetBalance(domain.QuoteAsset, 1000)
	simA.SetDepth(depthFor("BTC", 100, 99))

	simB := gateway.NewSim("okx", 0.001, 0.001)
	simB.SetBalance(domain.QuoteAsset, 500)
	simB.SetDepth(depthFor("BTC", 101, 100.5))

	store := NewStore(time.Minute)
	bk := book.New()
	r := NewRefresher(
		[]domain.Gateway{simA, simB}, []string{"BTC"},
		store, bk, nil, time.Second, 0, 2, slog.New(slog.NewTextHandler(io.Discard, nil)),
	)

	r.RefreshAll(context.Background())

	snaps := store.ForCoin("BTC")
	require.Len(t, snaps, 2)
	assert.InDelta(t, 100, snaps["binance"].Asks[0].Price, domain.Epsilon)
	assert.InDelta(t, 1000, bk.Available("binance", domain.QuoteAsset), domain.Epsilon)
	assert.InDelta(t, 500, bk.Available("okx", domain.QuoteAsset), domain.Epsilon)
	assert.True(t, simA.Venue().Connected())
}

func TestRefreshMarksFailingVenueDisconnected(t *testing.T) {
	sim := gateway.NewSim("okx", 0.001, 0.001)
	sim.Fail["get_balance"] = errors.New("dial tcp: connection refused")

	store := NewStore(time.Minute)
	r := NewRefresher(
		[]domain.Gateway{sim}, []string{"BTC"},
		store, book.New(), nil, time.Second, 0, 1, slog.New(slog.NewTextHandler(io.Discard, nil)),
	)

	r.RefreshAll(context.Background())
	assert.False(t, sim.Venue().Connected())
	assert.Empty(t, store.ForCoin("BTC"))
}

func TestRefreshTruncatesDepthToConfiguredLevels(t *testing.T) {
	sim := gateway.NewSim("binance", 0.001, 0.001)
	sim.SetBalance(domain.QuoteAsset, 1000)
	sim.SetDepth(domain.DepthSnapshot{
		Coin: "BTC",
		Asks: []domain.PriceLevel{
			{Price: 100, Amount: 1}, {Price: 101, Amount: 1},
			{Price: 102, Amount: 1}, {Price: 103, Amount: 1},
		},
		Bids: []domain.PriceLevel{
			{Price: 99, Amount: 1}, {Price: 98, Amount: 1},
			{Price: 97, Amount: 1},
		},
		Timestamp: time.Now().UTC(),
	})

	store := NewStore(time.Minute)
	r := NewRefresher(
		[]domain.Gateway{sim}, []string{"BTC"},
		store, book.New(), nil, time.Second, 2, 1, slog.New(slog.NewTextHandler(io.Discard, nil)),
	)

	r.RefreshAll(context.Background())

	snap, ok := store.Get("BTC", "binance")
	require.True(t, ok)
	assert.Len(t, snap.Asks, 2)
	assert.Len(t, snap.Bids, 2)
	assert.InDelta(t, 100, snap.Asks[0].Price, domain.Epsilon)
}

func TestStoreWithholdsStaleSnapshots(t *testing.T) {
	store := NewStore(50 * time.Millisecond)
	snap := depthFor("ETH", 2000, 1999)
	snap.Venue = "binance"
	snap.Timestamp = time.Now().UTC().Add(-time.Second)
	store.Put(snap)

	_, ok := store.Get("ETH", "binance")
	assert.False(t, ok)
}
