package engine

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lczhang/crossarb/internal/book"
	"github.com/lczhang/crossarb/internal/domain"
	"github.com/lczhang/crossarb/internal/gateway"
	"github.com/lczhang/crossarb/internal/market"
	"github.com/lczhang/crossarb/internal/scanner"
)

type memRecorder struct {
	mu   sync.Mutex
	recs []domain.TradeRecord
}

func (m *memRecorder) Record(_ context.Context, rec domain.TradeRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.recs = append(m.recs, rec)
	return nil
}

func (m *memRecorder) records() []domain.TradeRecord {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]domain.TradeRecord(nil), m.recs...)
}

func discard() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

func fastExecCfg() ExecutorConfig {
	return ExecutorConfig{PollInterval: time.Millisecond, LegTimeout: 20 * time.Millisecond}
}

func testOpp(size float64) scanner.Opportunity {
	return scanner.Opportunity{
		Coin:        "XYZ",
		BuyVenue:    "venueA",
		SellVenue:   "venueB",
		BuyPrice:    100,
		SellPrice:   102,
		BuyFeeRate:  0.001,
		SellFeeRate: 0.001,
		Size:        size,
	}
}

func TestExecuteBothLegsFilled(t *testing.T) {
	buySim := gateway.NewSim("venueA", 0.001, 0.001)
	buySim.SetBalance(domain.QuoteAsset, 100000)
	sellSim := gateway.NewSim("venueB", 0.001, 0.001)
	sellSim.SetBalance("XYZ", 100)

	rec := &memRecorder{}
	bk := book.New()
	ex := NewExecutor(fastExecCfg(),
		map[string]domain.Gateway{"venueA": buySim, "venueB": sellSim},
		nil, bk, rec, discard())

	require.NoError(t, ex.Execute(context.Background(), testOpp(10)))

	recs := rec.records()
	require.Len(t, recs, 1)
	r := recs[0]
	assert.Equal(t, domain.TradeArbitrage, r.Type)
	assert.Equal(t, domain.TradeSuccess, r.Status)
	assert.InDelta(t, 10, r.Amount, domain.Epsilon)
	assert.InDelta(t, 10*(102-100), r.GrossProfit, 1e-6)
	assert.InDelta(t, r.GrossProfit-r.Fees, r.NetProfit, 1e-9)
	assert.Empty(t, bk.UnhedgedForCoin("XYZ"))
}

func TestExecuteUnevenFillCreatesUnhedgedPosition(t *testing.T) {
	buySim := gateway.NewSim("venueA", 0.001, 0.001)
	buySim.SetBalance(domain.QuoteAsset, 100000)
	sellSim := gateway.NewSim("venueB", 0.001, 0.001)
	sellSim.SetBalance("XYZ", 100)
	sellSim.FillRatio = 0.7 // sell leg fills 7 of 10

	rec := &memRecorder{}
	bk := book.New()
	ex := NewExecutor(fastExecCfg(),
		map[string]domain.Gateway{"venueA": buySim, "venueB": sellSim},
		nil, bk, rec, discard())

	require.NoError(t, ex.Execute(context.Background(), testOpp(10)))

	// Matched 7 units succeed, surplus 3 on the buy venue is tracked long.
	recs := rec.records()
	require.Len(t, recs, 1)
	assert.InDelta(t, 7, recs[0].Amount, domain.Epsilon)
	assert.Equal(t, domain.TradeSuccess, recs[0].Status)
	assert.InDelta(t, 3, bk.Unhedged("XYZ", "venueA"), domain.Epsilon)
}

func TestExecuteFailedLegKeepsCounterFill(t *testing.T) {
	buySim := gateway.NewSim("venueA", 0.001, 0.001)
	buySim.SetBalance(domain.QuoteAsset, 100000)
	sellSim := gateway.NewSim("venueB", 0.001, 0.001)
	sellSim.Fail["place_order"] = errors.New("venue timeout")

	rec := &memRecorder{}
	bk := book.New()
	ex := NewExecutor(fastExecCfg(),
		map[string]domain.Gateway{"venueA": buySim, "venueB": sellSim},
		nil, bk, rec, discard())

	require.NoError(t, ex.Execute(context.Background(), testOpp(5)))

	// The buy fill is never discarded and the failure is still audited.
	assert.InDelta(t, 5, bk.Unhedged("XYZ", "venueA"), domain.Epsilon)
	recs := rec.records()
	require.Len(t, recs, 1)
	assert.Equal(t, domain.TradeFailed, recs[0].Status)
}

func TestExecuteAbortsOnPriceDrift(t *testing.T) {
	buySim := gateway.NewSim("venueA", 0.001, 0.001)
	buySim.SetBalance(domain.QuoteAsset, 100000)
	sellSim := gateway.NewSim("venueB", 0.001, 0.001)
	sellSim.SetBalance("XYZ", 100)

	depths := market.NewStore(time.Minute)
	depths.Put(domain.DepthSnapshot{
		Coin: "XYZ", Venue: "venueA",
		Asks:      []domain.PriceLevel{{Price: 103, Amount: 10}}, // moved above 100*(1+0.01)
		Bids:      []domain.PriceLevel{{Price: 99, Amount: 10}},
		Timestamp: time.Now().UTC(),
	})

	cfg := fastExecCfg()
	cfg.MaxPriceDrift = 0.01
	rec := &memRecorder{}
	ex := NewExecutor(cfg,
		map[string]domain.Gateway{"venueA": buySim, "venueB": sellSim},
		depths, book.New(), rec, discard())

	require.NoError(t, ex.Execute(context.Background(), testOpp(10)))

	assert.Empty(t, rec.records())
	balances, err := buySim.GetBalance(context.Background())
	require.NoError(t, err)
	assert.InDelta(t, 100000, balances[domain.QuoteAsset].Available, domain.Epsilon)
}
