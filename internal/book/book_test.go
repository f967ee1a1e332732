package book

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lczhang/crossarb/internal/domain"
)

func TestFreezeRelease(t *testing.T) {
	b := New()
	b.Deposit("binance", domain.QuoteAsset, 1000)

	require.NoError(t, b.Freeze("binance", domain.QuoteAsset, 300))
	bal := b.Balance("binance", domain.QuoteAsset)
	assert.InDelta(t, 700, bal.Available, domain.Epsilon)
	assert.InDelta(t, 300, bal.Frozen, domain.Epsilon)

	require.NoError(t, b.Release("binance", domain.QuoteAsset, 300))
	bal = b.Balance("binance", domain.QuoteAsset)
	assert.InDelta(t, 1000, bal.Available, domain.Epsilon)
	assert.InDelta(t, 0, bal.Frozen, domain.Epsilon)
}

func TestFreezeInsufficient(t *testing.T) {
	b := New()
	b.Deposit("okx", domain.QuoteAsset, 50)

	err := b.Freeze("okx", domain.QuoteAsset, 100)
	require.ErrorIs(t, err, domain.ErrInsufficientBalance)

	// Nothing moved.
	bal := b.Balance("okx", domain.QuoteAsset)
	assert.InDelta(t, 50, bal.Available, domain.Epsilon)
	assert.InDelta(t, 0, bal.Frozen, domain.Epsilon)
}

func TestDoubleReleaseFails(t *testing.T) {
	b := New()
	b.Deposit("binance", "BTC", 2)
	require.NoError(t, b.Freeze("binance", "BTC", 1.5))
	require.NoError(t, b.Release("binance", "BTC", 1.5))

	err := b.Release("binance", "BTC", 1.5)
	require.ErrorIs(t, err, domain.ErrFrozenReleased)
}

func TestSpendFrozen(t *testing.T) {
	b := New()
	b.Deposit("binance", domain.QuoteAsset, 500)
	require.NoError(t, b.Freeze("binance", domain.QuoteAsset, 200))
	require.NoError(t, b.SpendFrozen("binance", domain.QuoteAsset, 200))

	bal := b.Balance("binance", domain.QuoteAsset)
	assert.InDelta(t, 300, bal.Available, domain.Epsilon)
	assert.InDelta(t, 0, bal.Frozen, domain.Epsilon)
}

func TestWithdrawInsufficient(t *testing.T) {
	b := New()
	b.Deposit("okx", "ETH", 1)
	require.ErrorIs(t, b.Withdraw("okx", "ETH", 2), domain.ErrInsufficientBalance)
	require.NoError(t, b.Withdraw("okx", "ETH", 1))
	assert.InDelta(t, 0, b.Available("okx", "ETH"), domain.Epsilon)
}

func TestUnhedgedDeltaAveragesEntry(t *testing.T) {
	b := New()

	got := b.ApplyUnhedgedDelta("BTC", "binance", 1, 100)
	assert.InDelta(t, 1, got, domain.Epsilon)

	got = b.ApplyUnhedgedDelta("BTC", "binance", 1, 110)
	assert.InDelta(t, 2, got, domain.Epsilon)

	positions := b.UnhedgedForCoin("BTC")
	require.Len(t, positions, 1)
	assert.InDelta(t, 105, positions[0].EntryPrice, domain.Epsilon)
}

func TestUnhedgedDeltaRemovesNearZero(t *testing.T) {
	b := New()
	b.ApplyUnhedgedDelta("ETH", "okx", 3, 2000)
	got := b.ApplyUnhedgedDelta("ETH", "okx", -3, 2010)

	assert.Zero(t, got)
	assert.Empty(t, b.UnhedgedForCoin("ETH"))
}

func TestUnhedgedDeltaSignFlipResetsEntry(t *testing.T) {
	b := New()
	b.ApplyUnhedgedDelta("SOL", "binance", 2, 100)
	got := b.ApplyUnhedgedDelta("SOL", "binance", -5, 90)

	assert.InDelta(t, -3, got, domain.Epsilon)
	positions := b.UnhedgedForCoin("SOL")
	require.Len(t, positions, 1)
	assert.InDelta(t, 90, positions[0].EntryPrice, domain.Epsilon)
}

func TestShortLifecycle(t *testing.T) {
	b := New()
	b.OpenShort("BTC", "binance-futures", 1, 100)
	b.OpenShort("BTC", "binance-futures", 1, 120)

	shorts := b.ShortsForCoin("BTC")
	require.Len(t, shorts, 1)
	assert.InDelta(t, 2, shorts[0].Size, domain.Epsilon)
	assert.InDelta(t, 110, shorts[0].EntryPrice, domain.Epsilon)

	closed := b.ReduceShort("BTC", "binance-futures", 5)
	assert.InDelta(t, 2, closed, domain.Epsilon)
	assert.Empty(t, b.ShortsForCoin("BTC"))
}

func TestPauseCoin(t *testing.T) {
	b := New()
	_, paused := b.Paused("BTC")
	assert.False(t, paused)

	b.PauseCoin("BTC", "reconciliation mismatch")
	reason, paused := b.Paused("BTC")
	assert.True(t, paused)
	assert.Equal(t, "reconciliation mismatch", reason)

	b.ResumeCoin("BTC")
	_, paused = b.Paused("BTC")
	assert.False(t, paused)
}

func TestSnapshotIsCopy(t *testing.T) {
	b := New()
	b.Deposit("binance", domain.QuoteAsset, 100)
	b.ApplyUnhedgedDelta("BTC", "binance", 1, 50)

	snap := b.Snapshot()
	snap.Balances["binance"][domain.QuoteAsset] = domain.Balance{Available: 0}
	snap.Unhedged[0].Amount = 99

	assert.InDelta(t, 100, b.Available("binance", domain.QuoteAsset), domain.Epsilon)
	assert.InDelta(t, 1, b.Unhedged("BTC", "binance"), domain.Epsilon)
}

func TestApplyVenueBalancesKeepsLocalHolds(t *testing.T) {
	b := New()
	b.Deposit("binance", domain.QuoteAsset, 1000)
	require.NoError(t, b.Freeze("binance", domain.QuoteAsset, 300))

	// Venue reports the full amount as available; it does not know about
	// the engine-side hold backing a resting order.
	b.ApplyVenueBalances("binance", map[string]domain.Balance{
		domain.QuoteAsset: {Available: 1000},
	})

	bal := b.Balance("binance", domain.QuoteAsset)
	assert.InDelta(t, 700, bal.Available, domain.Epsilon)
	assert.InDelta(t, 300, bal.Frozen, domain.Epsilon)

	// Venue-reported holds are taken as-is once they cover the local hold.
	b.ApplyVenueBalances("binance", map[string]domain.Balance{
		domain.QuoteAsset: {Available: 600, Frozen: 400},
	})
	bal = b.Balance("binance", domain.QuoteAsset)
	assert.InDelta(t, 600, bal.Available, domain.Epsilon)
	assert.InDelta(t, 400, bal.Frozen, domain.Epsilon)
}
