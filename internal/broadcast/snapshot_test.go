package broadcast

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lczhang/crossarb/internal/book"
	"github.com/lczhang/crossarb/internal/domain"
	"github.com/lczhang/crossarb/internal/ledger"
	"github.com/lczhang/crossarb/internal/market"
)

type memBus struct {
	published map[string][][]byte
}

func (m *memBus) Publish(_ context.Context, channel string, payload []byte) error {
	if m.published == nil {
		m.published = make(map[string][][]byte)
	}
	m.published[channel] = append(m.published[channel], payload)
	return nil
}

func (m *memBus) Subscribe(context.Context, string) (<-chan []byte, error) { return nil, nil }
func (m *memBus) StreamAppend(context.Context, string, []byte) error       { return nil }
func (m *memBus) StreamRead(context.Context, string, string, int) ([]domain.StreamMessage, error) {
	return nil, nil
}

func newBuilderFixture() (*Builder, *memBus, *ledger.Ledger, *book.Book) {
	venue := domain.NewVenue("venueA", 0.001, 0.002)
	bk := book.New()
	bk.Deposit("venueA", domain.QuoteAsset, 10000)

	depths := market.NewStore(time.Minute)
	depths.Put(domain.DepthSnapshot{
		Coin: "XYZ", Venue: "venueA",
		Asks:      []domain.PriceLevel{{Price: 101, Amount: 5}},
		Bids:      []domain.PriceLevel{{Price: 100, Amount: 5}},
		Timestamp: time.Now().UTC(),
	})

	ldg := ledger.New(10000, nil, nil, slog.New(slog.NewTextHandler(io.Discard, nil)))
	bus := &memBus{}
	b := NewBuilder(ldg, bk, depths, nil, []*domain.Venue{venue}, []string{"XYZ"}, bus, 10, slog.New(slog.NewTextHandler(io.Discard, nil)))
	return b, bus, ldg, bk
}

func TestBuildSnapshotShape(t *testing.T) {
	b, _, ldg, bk := newBuilderFixture()
	require.NoError(t, ldg.Record(context.Background(), domain.TradeRecord{
		ID: "t1", Type: domain.TradeArbitrage, Coin: "XYZ",
		GrossProfit: 5, Fees: 1, NetProfit: 4, Status: domain.TradeSuccess,
	}))
	bk.ApplyUnhedgedDelta("XYZ", "venueA", 2, 100)

	snap := b.Build()

	assert.InDelta(t, 10000, snap.AccountOverview.CurrentBalance, 1e-9)
	assert.Equal(t, int64(1), snap.TradeStats.TotalTrades)
	require.Len(t, snap.RecentTrades, 1)
	assert.NotEmpty(t, snap.RecentTrades[0].Formatted)
	require.Len(t, snap.Positions.Unhedged, 1)
	assert.InDelta(t, 0.002, snap.Fees["venueA"]["taker"], 1e-12)
	assert.Contains(t, snap.Depths["XYZ"], "venueA")
	assert.InDelta(t, 10000, snap.Balances["venueA"][domain.QuoteAsset], 1e-9)
	assert.False(t, snap.Timestamp.IsZero())
}

func TestMarksUseBestBidAcrossVenues(t *testing.T) {
	b, _, _, _ := newBuilderFixture()
	b.depths.Put(domain.DepthSnapshot{
		Coin: "XYZ", Venue: "venueB",
		Bids:      []domain.PriceLevel{{Price: 100.5, Amount: 1}},
		Asks:      []domain.PriceLevel{{Price: 101.5, Amount: 1}},
		Timestamp: time.Now().UTC(),
	})

	marks := b.Marks()
	assert.InDelta(t, 100.5, marks["XYZ"], 1e-9)
}

func TestPublishTickSendsValidJSON(t *testing.T) {
	b, bus, _, _ := newBuilderFixture()

	b.PublishTick(context.Background())

	payloads := bus.published[SnapshotChannel]
	require.Len(t, payloads, 1)

	var snap Snapshot
	require.NoError(t, json.Unmarshal(payloads[0], &snap))
	assert.NotNil(t, snap.Balances)
}
