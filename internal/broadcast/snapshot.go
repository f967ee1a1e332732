// Package broadcast builds the per-tick dashboard snapshot and fans it out
// over the signal bus. Consumers tolerate partial snapshots; every field is
// additive.
package broadcast

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/lczhang/crossarb/internal/book"
	"github.com/lczhang/crossarb/internal/domain"
	"github.com/lczhang/crossarb/internal/ledger"
	"github.com/lczhang/crossarb/internal/market"
)

// SnapshotChannel is the bus channel carrying tick snapshots.
const SnapshotChannel = "snapshot"

// PendingSource exposes the live pending orders. The pending engine
// implements it.
type PendingSource interface {
	Open() []domain.PendingOrder
}

// TradeView is a TradeRecord with its human-readable rendering attached.
type TradeView struct {
	domain.TradeRecord
	Formatted string `json:"formatted"`
}

// Positions groups both exposure kinds.
type Positions struct {
	Unhedged []domain.UnhedgedPosition     `json:"unhedgedPositions"`
	Shorts   []domain.FuturesShortPosition `json:"futuresShortPositions"`
}

// Snapshot is the wire shape consumed by the dashboard.
type Snapshot struct {
	AccountOverview domain.AccountOverview                     `json:"accountOverview"`
	TradeStats      domain.TradeStats                          `json:"tradeStats"`
	Positions       Positions                                  `json:"positions"`
	PendingOrders   []domain.PendingOrder                      `json:"pendingOrders"`
	RecentTrades    []TradeView                                `json:"recentTrades"`
	Depths          map[string]map[string]domain.DepthSnapshot `json:"depths"`
	Fees            map[string]map[string]float64              `json:"fees"`
	Balances        map[string]map[string]float64              `json:"balances"`
	FrozenBalances  map[string]map[string]float64              `json:"frozenBalances"`
	Timestamp       time.Time                                  `json:"timestamp"`
}

// Builder assembles snapshots from live components.
type Builder struct {
	ledger       *ledger.Ledger
	book         *book.Book
	depths       *market.Store
	pending      PendingSource
	venues       []*domain.Venue
	coins        []string
	bus          domain.SignalBus
	recentTrades int
	logger       *slog.Logger
}

// NewBuilder wires the snapshot builder. pending and bus may be nil.
func NewBuilder(
	ldg *ledger.Ledger,
	bk *book.Book,
	depths *market.Store,
	pending PendingSource,
	venues []*domain.Venue,
	coins []string,
	bus domain.SignalBus,
	recentTrades int,
	logger *slog.Logger,
) *Builder {
	if recentTrades <= 0 {
		recentTrades = 50
	}
	return &Builder{
		ledger:       ldg,
		book:         bk,
		depths:       depths,
		pending:      pending,
		venues:       venues,
		coins:        coins,
		bus:          bus,
		recentTrades: recentTrades,
		logger:       logger.With(slog.String("component", "broadcast")),
	}
}

// Build assembles one snapshot from current state.
func (b *Builder) Build() Snapshot {
	bookSnap := b.book.Snapshot()
	marks := b.Marks()

	snap := Snapshot{
		AccountOverview: b.ledger.Overview(bookSnap, marks),
		TradeStats:      b.ledger.Stats(),
		Positions: Positions{
			Unhedged: bookSnap.Unhedged,
			Shorts:   bookSnap.Shorts,
		},
		Depths:         make(map[string]map[string]domain.DepthSnapshot, len(b.coins)),
		Fees:           make(map[string]map[string]float64, len(b.venues)),
		Balances:       make(map[string]map[string]float64),
		FrozenBalances: make(map[string]map[string]float64),
		Timestamp:      time.Now().UTC(),
	}
	if snap.Positions.Unhedged == nil {
		snap.Positions.Unhedged = []domain.UnhedgedPosition{}
	}
	if snap.Positions.Shorts == nil {
		snap.Positions.Shorts = []domain.FuturesShortPosition{}
	}

	if b.pending != nil {
		snap.PendingOrders = b.pending.Open()
	}
	if snap.PendingOrders == nil {
		snap.PendingOrders = []domain.PendingOrder{}
	}

	recent := b.ledger.Recent(b.recentTrades)
	snap.RecentTrades = make([]TradeView, 0, len(recent))
	for _, rec := range recent {
		snap.RecentTrades = append(snap.RecentTrades, TradeView{TradeRecord: rec, Formatted: rec.Formatted()})
	}

	for _, coin := range b.coins {
		snap.Depths[coin] = b.depths.ForCoin(coin)
	}
	for _, venue := range b.venues {
		snap.Fees[venue.Name] = map[string]float64{
			"maker": venue.MakerFee,
			"taker": venue.TakerFee,
		}
	}
	for venue, assets := range bookSnap.Balances {
		avail := make(map[string]float64, len(assets))
		frozen := make(map[string]float64, len(assets))
		for asset, bal := range assets {
			avail[asset] = bal.Available
			if bal.Frozen > domain.Epsilon {
				frozen[asset] = bal.Frozen
			}
		}
		snap.Balances[venue] = avail
		snap.FrozenBalances[venue] = frozen
	}
	return snap
}

// Marks returns each coin's reference price, the best bid seen across
// venues.
func (b *Builder) Marks() map[string]float64 {
	marks := make(map[string]float64, len(b.coins))
	for _, coin := range b.coins {
		for _, snap := range b.depths.ForCoin(coin) {
			if bid, ok := snap.BestBid(); ok && bid.Price > marks[coin] {
				marks[coin] = bid.Price
			}
		}
	}
	return marks
}

// PublishTick builds and publishes one snapshot. Implements the
// coordinator's tick publisher.
func (b *Builder) PublishTick(ctx context.Context) {
	if b.bus == nil {
		return
	}
	snap := b.Build()
	payload, err := json.Marshal(snap)
	if err != nil {
		b.logger.Error("snapshot marshal failed", slog.String("error", err.Error()))
		return
	}
	if err := b.bus.Publish(ctx, SnapshotChannel, payload); err != nil {
		b.logger.Warn("snapshot publish failed", slog.String("error", err.Error()))
	}
}
