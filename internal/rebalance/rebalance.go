// Package rebalance corrects venue-level inventory skew. It runs on a slower
// cadence than the scanner and only when a coin has no open hedge or pending
// action. Rebalancing trades are not profit-seeking; their records carry
// whatever cost the move incurred.
package rebalance

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/lczhang/crossarb/internal/book"
	"github.com/lczhang/crossarb/internal/domain"
	"github.com/lczhang/crossarb/internal/market"
)

// Recorder receives the REBALANCE TradeRecords.
type Recorder interface {
	Record(ctx context.Context, rec domain.TradeRecord) error
}

// Config shapes rebalancing decisions.
type Config struct {
	// TargetShare is each venue's desired fraction of a coin's total
	// inventory; venues absent from the map share the remainder equally.
	TargetShare map[string]float64
	// Tolerance is the allowed |share - target| drift before acting.
	Tolerance float64
	// MinTradeAmount and MaxTradeAmount bound one rebalancing move.
	MinTradeAmount float64
	MaxTradeAmount float64
	// PollInterval and OrderTimeout bound the taker order polls.
	PollInterval time.Duration
	OrderTimeout time.Duration
}

// Rebalancer moves inventory from the most over-weighted venue to the most
// under-weighted one. RebalanceCoin must run under the coin's actor.
type Rebalancer struct {
	cfg      Config
	gateways map[string]domain.Gateway
	depths   *market.Store
	book     *book.Book
	recorder Recorder
	logger   *slog.Logger
}

// New builds a Rebalancer over the venue gateways, keyed by name.
func New(
	cfg Config,
	gateways map[string]domain.Gateway,
	depths *market.Store,
	bk *book.Book,
	recorder Recorder,
	logger *slog.Logger,
) *Rebalancer {
	return &Rebalancer{
		cfg:      cfg,
		gateways: gateways,
		depths:   depths,
		book:     bk,
		recorder: recorder,
		logger:   logger.With(slog.String("component", "rebalancer")),
	}
}

// RebalanceCoin measures venue shares for one coin and, when drift exceeds
// tolerance, sells on the over-weighted venue and buys on the under-weighted
// one. Open exposure defers the move to a later cycle.
func (r *Rebalancer) RebalanceCoin(ctx context.Context, coin string) {
	if len(r.book.UnhedgedForCoin(coin)) > 0 {
		r.logger.Debug("open exposure, rebalance deferred", slog.String("coin", coin))
		return
	}

	holdings := make(map[string]float64, len(r.gateways))
	total := 0.0
	for venue := range r.gateways {
		amt := r.book.Balance(venue, coin).Total()
		holdings[venue] = amt
		total += amt
	}
	if total <= domain.Epsilon {
		return
	}

	over, under, drift := r.worstSkew(holdings, total)
	if drift <= r.cfg.Tolerance || over == "" || under == "" {
		return
	}

	amount := (holdings[over]/total - r.targetShare(over)) * total
	if r.cfg.MaxTradeAmount > 0 && amount > r.cfg.MaxTradeAmount {
		amount = r.cfg.MaxTradeAmount
	}
	if amount < r.cfg.MinTradeAmount {
		return
	}

	r.move(ctx, coin, over, under, amount)
}

// worstSkew finds the venues furthest above and below target.
func (r *Rebalancer) worstSkew(holdings map[string]float64, total float64) (over, under string, drift float64) {
	var maxOver, maxUnder float64
	for venue, amt := range holdings {
		diff := amt/total - r.targetShare(venue)
		if diff > maxOver {
			maxOver, over = diff, venue
		}
		if -diff > maxUnder {
			maxUnder, under = -diff, venue
		}
	}
	drift = maxOver
	if maxUnder > drift {
		drift = maxUnder
	}
	return over, under, drift
}

func (r *Rebalancer) targetShare(venue string) float64 {
	if share, ok := r.cfg.TargetShare[venue]; ok {
		return share
	}
	assigned := 0.0
	named := 0
	for _, share := range r.cfg.TargetShare {
		assigned += share
		named++
	}
	rest := len(r.gateways) - named
	if rest <= 0 {
		return 0
	}
	return (1 - assigned) / float64(rest)
}

// move sells on the over venue and buys on the under venue at best taker
// prices, bounded by top-of-book liquidity.
func (r *Rebalancer) move(ctx context.Context, coin, over, under string, amount float64) {
	log := r.logger.With(
		slog.String("coin", coin),
		slog.String("from", over),
		slog.String("to", under),
	)

	overSnap, ok := r.depths.Get(coin, over)
	if !ok {
		return
	}
	underSnap, ok := r.depths.Get(coin, under)
	if !ok {
		return
	}
	bid, okBid := overSnap.BestBid()
	ask, okAsk := underSnap.BestAsk()
	if !okBid || !okAsk {
		return
	}
	amount = minf(amount, minf(bid.Amount, ask.Amount))
	if amount < r.cfg.MinTradeAmount {
		return
	}

	sellFilled, sellPrice := r.taker(ctx, r.gateways[over], coin, domain.SideSell, bid.Price, amount, log)
	if sellFilled <= domain.Epsilon {
		return
	}
	buyFilled, buyPrice := r.taker(ctx, r.gateways[under], coin, domain.SideBuy, ask.Price, sellFilled, log)

	matched := minf(sellFilled, buyFilled)
	if diff := sellFilled - buyFilled; diff > domain.Epsilon {
		// The buy side shorted us; track the gap rather than dropping it.
		r.book.ApplyUnhedgedDelta(coin, over, -diff, sellPrice)
	}
	if matched <= domain.Epsilon {
		return
	}

	sellFee := r.gateways[over].Venue().Fee(domain.FeeTaker)
	buyFee := r.gateways[under].Venue().Fee(domain.FeeTaker)
	fees := matched*sellPrice*sellFee + matched*buyPrice*buyFee
	gross := matched * (sellPrice - buyPrice)
	rec := domain.TradeRecord{
		ID:          uuid.New().String(),
		Time:        time.Now().UTC(),
		Type:        domain.TradeRebalance,
		Coin:        coin,
		BuyVenue:    under,
		SellVenue:   over,
		Amount:      matched,
		BuyPrice:    buyPrice,
		SellPrice:   sellPrice,
		Fees:        fees,
		GrossProfit: gross,
		NetProfit:   gross - fees,
		Status:      domain.TradeSuccess,
	}
	if err := r.recorder.Record(ctx, rec); err != nil {
		log.Error("trade record append failed", slog.String("error", err.Error()))
	}
	log.Info("inventory rebalanced",
		slog.Float64("amount", matched),
		slog.Float64("net_cost", -rec.NetProfit),
	)
}

// taker places a taker order and polls it briefly to a terminal state.
func (r *Rebalancer) taker(ctx context.Context, gw domain.Gateway, coin string, side domain.OrderSide, price, amount float64, log *slog.Logger) (float64, float64) {
	ack, err := gw.PlaceOrder(ctx, coin, side, price, amount, domain.OrderKindTaker)
	if err != nil {
		log.Warn("rebalance order failed",
			slog.String("side", string(side)),
			slog.String("error", err.Error()),
		)
		return 0, price
	}

	deadline := time.Now().Add(r.cfg.OrderTimeout)
	for {
		state, err := gw.OrderState(ctx, coin, ack.OrderID)
		if err == nil && state.Status.Terminal() {
			return state.FilledAmount, priceOr(state.AvgPrice, price)
		}
		if time.Now().After(deadline) {
			if _, cerr := gw.CancelOrder(ctx, coin, ack.OrderID); cerr != nil {
				log.Error("rebalance cancel failed", slog.String("error", cerr.Error()))
			}
			if state, err := gw.OrderState(ctx, coin, ack.OrderID); err == nil {
				return state.FilledAmount, priceOr(state.AvgPrice, price)
			}
			return 0, price
		}
		select {
		case <-ctx.Done():
			return 0, price
		case <-time.After(r.cfg.PollInterval):
		}
	}
}

func priceOr(avg, fallback float64) float64 {
	if avg > 0 {
		return avg
	}
	return fallback
}

func minf(a, b float64) float64 {
	if a < b {
		return a
	}
	return b
}
