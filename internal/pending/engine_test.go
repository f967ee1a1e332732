package pending

import (
	"context"
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

type fixture struct {
	engine  *Engine
	buySim  *gateway.Sim
	sellSim *gateway.Sim
	depths  *market.Store
	book    *book.Book
	rec     *memRecorder
}

func newFixture(t *testing.T, cfg Config) *fixture {
	t.Helper()
	buySim := gateway.NewSim("venueA", 0.001, 0.002)
	buySim.SetBalance(domain.QuoteAsset, 100000)
	sellSim := gateway.NewSim("venueB", 0.001, 0.002)
	sellSim.SetBalance("XYZ", 100)

	depths := market.NewStore(time.Minute)
	bk := book.New()
	bk.Deposit("venueA", domain.QuoteAsset, 100000)
	bk.Deposit("venueB", "XYZ", 100)

	rec := &memRecorder{}
	eng := NewEngine(cfg,
		map[string]domain.Gateway{"venueA": buySim, "venueB": sellSim},
		depths, bk, rec, nil, nil, slog.New(slog.NewTextHandler(io.Discard, nil)))
	return &fixture{engine: eng, buySim: buySim, sellSim: sellSim, depths: depths, book: bk, rec: rec}
}

func (f *fixture) setEdge(buyBid, buyAsk, sellBid, sellAsk float64) {
	now := time.Now().UTC()
	f.depths.Put(domain.DepthSnapshot{
		Coin: "XYZ", Venue: "venueA",
		Asks:      []domain.PriceLevel{{Price: buyAsk, Amount: 50}},
		Bids:      []domain.PriceLevel{{Price: buyBid, Amount: 50}},
		Timestamp: now,
	})
	f.depths.Put(domain.DepthSnapshot{
		Coin: "XYZ", Venue: "venueB",
		Asks:      []domain.PriceLevel{{Price: sellAsk, Amount: 50}},
		Bids:      []domain.PriceLevel{{Price: sellBid, Amount: 50}},
		Timestamp: now,
	})
}

func defaultCfg() Config {
	return Config{
		MinProfitRate:       0.005,
		CancelThreshold:     0.001,
		MaxUnfavorablePolls: 2,
		MaxLifetime:         time.Hour,
		MaxAmount:           5,
		MinAmount:           0.1,
	}
}

func TestCreateFreezesQuoteExactlyOnce(t *testing.T) {
	f := newFixture(t, defaultCfg())
	f.setEdge(100, 100.5, 101.8, 102)

	f.engine.PollCoin(context.Background(), "XYZ")

	require.True(t, f.engine.HasOpen("XYZ"))
	open := f.engine.Open()
	require.Len(t, open, 1)
	po := open[0]
	assert.Equal(t, domain.PendingForward, po.Direction)
	assert.InDelta(t, 5*100*1.001, po.FrozenAmount, 1e-6)

	bal := f.book.Balance("venueA", domain.QuoteAsset)
	assert.InDelta(t, po.FrozenAmount, bal.Frozen, 1e-6)
	assert.InDelta(t, 100000-po.FrozenAmount, bal.Available, 1e-6)

	// Polling while PENDING must not freeze again.
	f.engine.PollCoin(context.Background(), "XYZ")
	bal = f.book.Balance("venueA", domain.QuoteAsset)
	assert.InDelta(t, po.FrozenAmount, bal.Frozen, 1e-6)
}

func TestReverseDirectionFreezesCoin(t *testing.T) {
	f := newFixture(t, defaultCfg())
	// No quote to back a forward order.
	f.book.ApplyVenueBalances("venueA", map[string]domain.Balance{})
	f.setEdge(100, 100.5, 101.8, 102)

	f.engine.PollCoin(context.Background(), "XYZ")

	open := f.engine.Open()
	require.Len(t, open, 1)
	po := open[0]
	assert.Equal(t, domain.PendingReverse, po.Direction)
	assert.Equal(t, "XYZ", po.FrozenAsset)
	assert.Equal(t, "venueB", po.FrozenVenue)
	assert.InDelta(t, 5, po.FrozenAmount, domain.Epsilon)
	assert.InDelta(t, 5, f.book.Balance("venueB", "XYZ").Frozen, domain.Epsilon)
}

func TestUnfavorablePollsCancelAndRelease(t *testing.T) {
	f := newFixture(t, defaultCfg())
	f.setEdge(100, 100.5, 101.8, 102)
	f.engine.PollCoin(context.Background(), "XYZ")
	require.True(t, f.engine.HasOpen("XYZ"))

	// Edge collapses: sell side bid drops below cost.
	f.setEdge(100, 100.5, 100, 100.2)
	for i := 0; i < 3; i++ {
		f.engine.PollCoin(context.Background(), "XYZ")
	}

	assert.False(t, f.engine.HasOpen("XYZ"))
	bal := f.book.Balance("venueA", domain.QuoteAsset)
	assert.InDelta(t, 100000, bal.Available, 1e-6)
	assert.InDelta(t, 0, bal.Frozen, 1e-6)

	recs := f.rec.records()
	require.Len(t, recs, 1)
	assert.Equal(t, domain.TradePendingForward, recs[0].Type)
	assert.Equal(t, domain.TradeCancelled, recs[0].Status)
}

func TestBothLegsFilledEmitsSuccess(t *testing.T) {
	f := newFixture(t, defaultCfg())
	f.setEdge(100, 100.5, 101.8, 102)
	f.engine.PollCoin(context.Background(), "XYZ")

	open := f.engine.Open()
	require.Len(t, open, 1)
	po := open[0]
	f.buySim.FillMaker(po.BuyOrderID, po.Amount, true)
	f.sellSim.FillMaker(po.SellOrderID, po.Amount, true)

	f.engine.PollCoin(context.Background(), "XYZ")

	assert.False(t, f.engine.HasOpen("XYZ"))
	recs := f.rec.records()
	require.Len(t, recs, 1)
	assert.Equal(t, domain.TradePendingForward, recs[0].Type)
	assert.Equal(t, domain.TradeSuccess, recs[0].Status)
	assert.InDelta(t, recs[0].GrossProfit-recs[0].Fees, recs[0].NetProfit, 1e-9)

	// Frozen funds were consumed by the buy, not returned.
	bal := f.book.Balance("venueA", domain.QuoteAsset)
	assert.InDelta(t, 0, bal.Frozen, 1e-6)
	assert.InDelta(t, 100000-po.FrozenAmount, bal.Available, 1e-6)
}

type memPendingStore struct {
	mu     sync.Mutex
	orders map[string]domain.PendingOrder
}

func newMemPendingStore() *memPendingStore {
	return &memPendingStore{orders: make(map[string]domain.PendingOrder)}
}

func (m *memPendingStore) Create(_ context.Context, po domain.PendingOrder) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.orders[po.ID] = po
	return nil
}

func (m *memPendingStore) Update(_ context.Context, po domain.PendingOrder) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.orders[po.ID] = po
	return nil
}

func (m *memPendingStore) ListOpen(_ context.Context) ([]domain.PendingOrder, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.PendingOrder
	for _, po := range m.orders {
		if !po.Status.Terminal() {
			out = append(out, po)
		}
	}
	return out, nil
}

func (m *memPendingStore) get(id string) (domain.PendingOrder, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	po, ok := m.orders[id]
	return po, ok
}

func TestRestoreRefreezesOpenOrder(t *testing.T) {
	f := newFixture(t, defaultCfg())
	f.setEdge(100, 100.5, 101.8, 102)

	store := newMemPendingStore()
	f.engine.store = store
	f.engine.PollCoin(context.Background(), "XYZ")
	open := f.engine.Open()
	require.Len(t, open, 1)
	po := open[0]

	// A fresh process has the venue balance but not the previous hold.
	restarted := newFixture(t, defaultCfg())
	restarted.engine.store = store
	require.NoError(t, restarted.engine.Restore(context.Background()))

	require.True(t, restarted.engine.HasOpen("XYZ"))
	bal := restarted.book.Balance("venueA", domain.QuoteAsset)
	assert.InDelta(t, po.FrozenAmount, bal.Frozen, 1e-6)
	assert.InDelta(t, 100000-po.FrozenAmount, bal.Available, 1e-6)

	// The restored order keeps polling as if never interrupted.
	restarted.setEdge(100, 100.5, 101.8, 102)
	restarted.engine.PollCoin(context.Background(), "XYZ")
	assert.True(t, restarted.engine.HasOpen("XYZ"))
}

func TestRestoreFailsOrderWhenFundsGone(t *testing.T) {
	f := newFixture(t, defaultCfg())
	f.setEdge(100, 100.5, 101.8, 102)

	store := newMemPendingStore()
	f.engine.store = store
	f.engine.PollCoin(context.Background(), "XYZ")
	open := f.engine.Open()
	require.Len(t, open, 1)
	po := open[0]

	// The restarted process finds the quote balance drained.
	restarted := newFixture(t, defaultCfg())
	restarted.engine.store = store
	restarted.book.ApplyVenueBalances("venueA", map[string]domain.Balance{})
	require.NoError(t, restarted.engine.Restore(context.Background()))

	assert.False(t, restarted.engine.HasOpen("XYZ"))
	stored, ok := store.get(po.ID)
	require.True(t, ok)
	assert.Equal(t, domain.PendingStatusFailed, stored.Status)

	// No release for funds that were never re-frozen.
	assert.InDelta(t, 0, restarted.book.Balance("venueA", domain.QuoteAsset).Frozen, 1e-9)

	recs := restarted.rec.records()
	require.Len(t, recs, 1)
	assert.Equal(t, domain.TradeFailed, recs[0].Status)
}

func TestRestoreSkipsTerminalOrders(t *testing.T) {
	store := newMemPendingStore()
	store.orders["done"] = domain.PendingOrder{
		ID: "done", Coin: "XYZ", Status: domain.PendingStatusFilled,
	}

	f := newFixture(t, defaultCfg())
	f.engine.store = store
	require.NoError(t, f.engine.Restore(context.Background()))

	assert.False(t, f.engine.HasOpen("XYZ"))
	assert.InDelta(t, 0, f.book.Balance("venueA", domain.QuoteAsset).Frozen, 1e-9)
}

func TestFillAtBetterPriceReleasesExcessFrozen(t *testing.T) {
	f := newFixture(t, defaultCfg())
	f.setEdge(100, 100.5, 101.8, 102)
	f.engine.PollCoin(context.Background(), "XYZ")

	open := f.engine.Open()
	require.Len(t, open, 1)
	po := open[0]

	// The buy leg improves by 2 quote per coin; the hold was taken at the
	// resting limit.
	improved := po.BuyPrice - 2
	f.buySim.FillMakerAt(po.BuyOrderID, po.Amount, improved, true)
	f.sellSim.FillMaker(po.SellOrderID, po.Amount, true)

	f.engine.PollCoin(context.Background(), "XYZ")

	require.False(t, f.engine.HasOpen("XYZ"))
	consumed := po.Amount * improved * (1 + po.BuyFeeRate)
	excess := po.FrozenAmount - consumed

	bal := f.book.Balance("venueA", domain.QuoteAsset)
	assert.InDelta(t, 0, bal.Frozen, 1e-6)
	assert.InDelta(t, 100000-po.FrozenAmount+excess, bal.Available, 1e-6)
}

func TestMaxLifetimeFailsAndEscalatesPartialFill(t *testing.T) {
	f := newFixture(t, defaultCfg())
	f.setEdge(100, 100.5, 101.8, 102)
	f.engine.PollCoin(context.Background(), "XYZ")
	open := f.engine.Open()
	require.Len(t, open, 1)
	po := open[0]

	// Half the buy leg filled before the order stalled out.
	f.buySim.FillMaker(po.BuyOrderID, po.Amount/2, false)
	f.engine.cfg.MaxLifetime = -time.Second

	f.engine.PollCoin(context.Background(), "XYZ")

	assert.False(t, f.engine.HasOpen("XYZ"))
	recs := f.rec.records()
	require.Len(t, recs, 1)
	assert.Equal(t, domain.TradeFailed, recs[0].Status)

	// Frozen released and the partial fill now tracked as exposure.
	bal := f.book.Balance("venueA", domain.QuoteAsset)
	assert.InDelta(t, 0, bal.Frozen, 1e-6)
	assert.InDelta(t, po.Amount/2, f.book.Unhedged("XYZ", "venueA"), domain.Epsilon)
}
