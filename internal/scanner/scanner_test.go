package scanner

import (
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lczhang/crossarb/internal/book"
	"github.com/lczhang/crossarb/internal/domain"
)

func newTestScanner(cfg Config, venues ...*domain.Venue) *Scanner {
	return New(cfg, venues, slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func snap(coin, venue string, askPrice, askAmt, bidPrice, bidAmt float64) domain.DepthSnapshot {
	return domain.DepthSnapshot{
		Coin:      coin,
		Venue:     venue,
		Asks:      []domain.PriceLevel{{Price: askPrice, Amount: askAmt}},
		Bids:      []domain.PriceLevel{{Price: bidPrice, Amount: bidAmt}},
		Timestamp: time.Now().UTC(),
	}
}

func fundedBook() *book.Book {
	bk := book.New()
	bk.Deposit("venueA", domain.QuoteAsset, 100000)
	bk.Deposit("venueB", domain.QuoteAsset, 100000)
	bk.Deposit("venueA", "XYZ", 100)
	bk.Deposit("venueB", "XYZ", 100)
	return bk
}

func TestScanAcceptsSpreadAboveThreshold(t *testing.T) {
	a := domain.NewVenue("venueA", 0.001, 0.001)
	b := domain.NewVenue("venueB", 0.001, 0.001)
	s := newTestScanner(Config{MinProfitRate: 0.005, MaxPosition: 50}, a, b)

	depths := map[string]domain.DepthSnapshot{
		"venueA": snap("XYZ", "venueA", 100, 10, 99, 10),
		"venueB": snap("XYZ", "venueB", 103, 10, 102, 10),
	}

	opp, ok := s.Scan("XYZ", depths, fundedBook())
	require.True(t, ok)
	assert.Equal(t, "venueA", opp.BuyVenue)
	assert.Equal(t, "venueB", opp.SellVenue)

	// 102*0.999 - 100*1.001 = 101.898 - 100.1 = 1.798
	assert.InDelta(t, 1.798, opp.Spread, 1e-6)
	assert.InDelta(t, 1.798/100.1, opp.ProfitRate, 1e-9)
	assert.InDelta(t, 10, opp.Size, domain.Epsilon)
}

func TestScanRejectsSpreadBelowThreshold(t *testing.T) {
	a := domain.NewVenue("venueA", 0.001, 0.001)
	b := domain.NewVenue("venueB", 0.001, 0.001)
	s := newTestScanner(Config{MinProfitRate: 0.02}, a, b)

	depths := map[string]domain.DepthSnapshot{
		"venueA": snap("XYZ", "venueA", 100, 10, 99, 10),
		"venueB": snap("XYZ", "venueB", 103, 10, 102, 10),
	}

	_, ok := s.Scan("XYZ", depths, fundedBook())
	assert.False(t, ok)
}

func TestScanRejectsNegativeSpread(t *testing.T) {
	a := domain.NewVenue("venueA", 0.001, 0.001)
	b := domain.NewVenue("venueB", 0.001, 0.001)
	s := newTestScanner(Config{MinProfitRate: 0}, a, b)

	depths := map[string]domain.DepthSnapshot{
		"venueA": snap("XYZ", "venueA", 100, 10, 99.5, 10),
		"venueB": snap("XYZ", "venueB", 100.4, 10, 100.05, 10),
	}

	// 100.05*0.999 - 100*1.001 < 0 once fees are paid.
	_, ok := s.Scan("XYZ", depths, fundedBook())
	assert.False(t, ok)
}

func TestScanSizeBoundedByLiquidityBalanceAndCap(t *testing.T) {
	a := domain.NewVenue("venueA", 0.001, 0.001)
	b := domain.NewVenue("venueB", 0.001, 0.001)

	depths := map[string]domain.DepthSnapshot{
		"venueA": snap("XYZ", "venueA", 100, 40, 99, 40),
		"venueB": snap("XYZ", "venueB", 103, 25, 102, 25),
	}

	// Liquidity bound: min(40, 25) = 25.
	s := newTestScanner(Config{MinProfitRate: 0.005, MaxPosition: 100}, a, b)
	opp, ok := s.Scan("XYZ", depths, fundedBook())
	require.True(t, ok)
	assert.InDelta(t, 25, opp.Size, domain.Epsilon)

	// Balance bound: 1000 USDT buys ~9.98 units at 100*1.001.
	bk := book.New()
	bk.Deposit("venueA", domain.QuoteAsset, 1000)
	bk.Deposit("venueB", "XYZ", 100)
	opp, ok = s.Scan("XYZ", depths, bk)
	require.True(t, ok)
	assert.InDelta(t, 1000/(100*1.001), opp.Size, 1e-6)

	// Position cap bound.
	s = newTestScanner(Config{MinProfitRate: 0.005, MaxPosition: 5}, a, b)
	opp, ok = s.Scan("XYZ", depths, fundedBook())
	require.True(t, ok)
	assert.InDelta(t, 5, opp.Size, domain.Epsilon)
}

func TestScanPicksMaximizingPair(t *testing.T) {
	a := domain.NewVenue("venueA", 0.001, 0.001)
	b := domain.NewVenue("venueB", 0.001, 0.001)
	c := domain.NewVenue("venueC", 0.001, 0.001)
	s := newTestScanner(Config{MinProfitRate: 0.005, MaxPosition: 100}, a, b, c)

	bk := fundedBook()
	bk.Deposit("venueC", domain.QuoteAsset, 100000)
	bk.Deposit("venueC", "XYZ", 100)

	depths := map[string]domain.DepthSnapshot{
		"venueA": snap("XYZ", "venueA", 100, 10, 99, 10),
		"venueB": snap("XYZ", "venueB", 103, 10, 102, 10),
		"venueC": snap("XYZ", "venueC", 104, 30, 103.5, 30),
	}

	// A->C has both a wider spread and more size than A->B.
	opp, ok := s.Scan("XYZ", depths, bk)
	require.True(t, ok)
	assert.Equal(t, "venueA", opp.BuyVenue)
	assert.Equal(t, "venueC", opp.SellVenue)
}

func TestScanTieBreaksOnBuyVenueQuote(t *testing.T) {
	a := domain.NewVenue("venueA", 0.001, 0.001)
	b := domain.NewVenue("venueB", 0.001, 0.001)
	s := newTestScanner(Config{MinProfitRate: 0.005, MaxPosition: 50}, a, b)

	// Mirrored books: both directions score identically.
	depths := map[string]domain.DepthSnapshot{
		"venueA": snap("XYZ", "venueA", 100, 10, 101.9, 10),
		"venueB": snap("XYZ", "venueB", 100, 10, 101.9, 10),
	}

	bk := book.New()
	bk.Deposit("venueA", domain.QuoteAsset, 100000)
	bk.Deposit("venueB", domain.QuoteAsset, 50000)
	bk.Deposit("venueA", "XYZ", 100)
	bk.Deposit("venueB", "XYZ", 100)

	opp, ok := s.Scan("XYZ", depths, bk)
	require.True(t, ok)
	assert.Equal(t, "venueA", opp.BuyVenue)
	assert.Equal(t, "venueB", opp.SellVenue)
}

func TestScanSkipsDisconnectedVenue(t *testing.T) {
	a := domain.NewVenue("venueA", 0.001, 0.001)
	b := domain.NewVenue("venueB", 0.001, 0.001)
	b.SetConnected(false)
	s := newTestScanner(Config{MinProfitRate: 0.005}, a, b)

	depths := map[string]domain.DepthSnapshot{
		"venueA": snap("XYZ", "venueA", 100, 10, 99, 10),
		"venueB": snap("XYZ", "venueB", 103, 10, 102, 10),
	}

	_, ok := s.Scan("XYZ", depths, fundedBook())
	assert.False(t, ok)
}

func TestScanRejectsDustSize(t *testing.T) {
	a := domain.NewVenue("venueA", 0.001, 0.001)
	b := domain.NewVenue("venueB", 0.001, 0.001)
	s := newTestScanner(Config{MinProfitRate: 0.005, MinTradeAmount: 1}, a, b)

	depths := map[string]domain.DepthSnapshot{
		"venueA": snap("XYZ", "venueA", 100, 0.5, 99, 0.5),
		"venueB": snap("XYZ", "venueB", 103, 0.5, 102, 0.5),
	}

	_, ok := s.Scan("XYZ", depths, fundedBook())
	assert.False(t, ok)
}
