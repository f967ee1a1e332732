package engine

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/lczhang/crossarb/internal/book"
	"github.com/lczhang/crossarb/internal/domain"
	"github.com/lczhang/crossarb/internal/market"
)

// HedgePolicy decides between unwinding exposure directly on spot and
// offsetting it with a futures short. Costs are expected, not realized,
// so the weights are tunable rather than derived.
type HedgePolicy struct {
	// FuturesVenue names the venue used for short hedges; empty disables
	// the short path entirely.
	FuturesVenue string
	// FuturesFeeRate is the taker fee applied to futures orders.
	FuturesFeeRate float64
	// FundingCostRate is the expected funding drag added to a short's cost.
	FundingCostRate float64
	// MinHedgeAmount leaves dust positions alone.
	MinHedgeAmount float64
}

// Resolver offsets outstanding unhedged positions, one coin at a time,
// under that coin's actor.
type Resolver struct {
	policy   HedgePolicy
	gateways map[string]domain.Gateway
	depths   *market.Store
	book     *book.Book
	recorder Recorder
	cfg      ExecutorConfig
	logger   *slog.Logger
}

// NewResolver builds a Resolver sharing the executor's leg configuration.
func NewResolver(
	policy HedgePolicy,
	cfg ExecutorConfig,
	gateways map[string]domain.Gateway,
	depths *market.Store,
	bk *book.Book,
	recorder Recorder,
	logger *slog.Logger,
) *Resolver {
	return &Resolver{
		policy:   policy,
		cfg:      cfg,
		gateways: gateways,
		depths:   depths,
		book:     bk,
		recorder: recorder,
		logger:   logger.With(slog.String("component", "hedge_resolver")),
	}
}

// ResolveCoin evaluates every outstanding position for one coin and executes
// the cheaper offset for each. Partial offsets shrink the position; a fully
// offset position is removed by the book. Open futures shorts are evaluated
// on every cycle as well, so a hedge outlives its spot inventory by at most
// one resolution pass.
func (r *Resolver) ResolveCoin(ctx context.Context, coin string) {
	for _, pos := range r.book.UnhedgedForCoin(coin) {
		if absf(pos.Amount) < r.policy.MinHedgeAmount {
			continue
		}
		r.resolve(ctx, pos)
	}
	r.resolveShorts(ctx, coin)
}

// resolveShorts buys back short hedges that no longer earn their keep: the
// spot inventory they offset is gone, or the funding drag exceeds the
// one-time cost of closing.
func (r *Resolver) resolveShorts(ctx context.Context, coin string) {
	shorts := r.book.ShortsForCoin(coin)
	if len(shorts) == 0 {
		return
	}
	backing := r.book.SpotHolding(coin, r.policy.FuturesVenue)
	for _, pos := range shorts {
		covered := minf(pos.Size, backing)
		backing -= covered
		toClose := pos.Size - covered
		if r.policy.FundingCostRate > r.policy.FuturesFeeRate {
			toClose = pos.Size
		}
		if toClose < r.policy.MinHedgeAmount {
			continue
		}
		r.closeShort(ctx, pos, toClose)
	}
}

// closeShort buys back part of a futures short on its own venue.
func (r *Resolver) closeShort(ctx context.Context, pos domain.FuturesShortPosition, amount float64) {
	log := r.logger.With(
		slog.String("coin", pos.Coin),
		slog.String("venue", pos.Venue),
		slog.Float64("size", pos.Size),
	)
	gw, ok := r.gateways[pos.Venue]
	if !ok {
		log.Warn("short venue has no gateway, close deferred")
		return
	}
	snap, ok := r.depths.Get(pos.Coin, pos.Venue)
	if !ok {
		log.Debug("no depth for short venue, close deferred")
		return
	}
	ask, ok := snap.BestAsk()
	if !ok {
		log.Debug("short venue quotes no ask, close deferred")
		return
	}

	amount = minf(amount, ask.Amount)
	runner := newLegRunner(gw, r.cfg.PollInterval, r.cfg.LegTimeout, r.logger)
	res := runner.Run(ctx, pos.Coin, domain.SideBuy, ask.Price, amount, domain.OrderKindTaker)
	if res.Filled <= domain.Epsilon {
		if res.Err != nil {
			log.Warn("short close failed", slog.String("error", res.Err.Error()))
		}
		return
	}

	price := priceOr(res.AvgPrice, ask.Price)
	closed := r.book.ReduceShort(pos.Coin, pos.Venue, res.Filled)
	fees := closed * price * r.policy.FuturesFeeRate
	gross := closed * (pos.EntryPrice - price)
	r.record(ctx, domain.TradeRecord{
		ID:          uuid.New().String(),
		Time:        time.Now().UTC(),
		Type:        domain.TradeHedgeBuy,
		Coin:        pos.Coin,
		BuyVenue:    pos.Venue,
		SellVenue:   pos.Venue,
		Amount:      closed,
		BuyPrice:    price,
		SellPrice:   pos.EntryPrice,
		Fees:        fees,
		GrossProfit: gross,
		NetProfit:   gross - fees,
		Status:      domain.TradeSuccess,
	}, log)
	log.Info("short hedge closed",
		slog.Float64("closed", closed),
		slog.Float64("remaining", pos.Size-closed),
	)
}

func (r *Resolver) resolve(ctx context.Context, pos domain.UnhedgedPosition) {
	log := r.logger.With(
		slog.String("coin", pos.Coin),
		slog.String("venue", pos.Venue),
		slog.Float64("amount", pos.Amount),
	)

	if pos.Amount > 0 {
		r.resolveLong(ctx, pos, log)
		return
	}
	r.resolveShortExposure(ctx, pos, log)
}

// resolveLong sells long spot inventory, either directly on the best bid or
// by opening a futures short, whichever costs less.
func (r *Resolver) resolveLong(ctx context.Context, pos domain.UnhedgedPosition, log *slog.Logger) {
	venue, bid, ok := r.bestBid(pos.Coin)
	if !ok {
		log.Debug("no venue quoting a bid, hedge deferred")
		return
	}

	directFee := r.gatewayFee(venue)
	directCost := pos.Amount * bid.Price * directFee
	shortCost := pos.Amount * bid.Price * (r.policy.FuturesFeeRate + r.policy.FundingCostRate)

	if r.policy.FuturesVenue != "" && shortCost < directCost {
		r.openShort(ctx, pos, bid.Price, log)
		return
	}

	amount := minf(pos.Amount, bid.Amount)
	gw := r.gateways[venue]
	runner := newLegRunner(gw, r.cfg.PollInterval, r.cfg.LegTimeout, r.logger)
	res := runner.Run(ctx, pos.Coin, domain.SideSell, bid.Price, amount, domain.OrderKindTaker)
	if res.Filled <= domain.Epsilon {
		if res.Err != nil {
			log.Warn("direct unwind failed", slog.String("error", res.Err.Error()))
		}
		return
	}

	price := priceOr(res.AvgPrice, bid.Price)
	left := r.book.ApplyUnhedgedDelta(pos.Coin, pos.Venue, -res.Filled, price)
	fees := res.Filled * price * directFee
	gross := res.Filled * (price - pos.EntryPrice)
	r.record(ctx, domain.TradeRecord{
		ID:          uuid.New().String(),
		Time:        time.Now().UTC(),
		Type:        domain.TradeHedgeSell,
		Coin:        pos.Coin,
		BuyVenue:    pos.Venue,
		SellVenue:   venue,
		Amount:      res.Filled,
		BuyPrice:    pos.EntryPrice,
		SellPrice:   price,
		Fees:        fees,
		GrossProfit: gross,
		NetProfit:   gross - fees,
		Status:      domain.TradeSuccess,
	}, log)
	log.Info("long exposure unwound",
		slog.Float64("filled", res.Filled),
		slog.Float64("remaining", left),
	)
}

// resolveShortExposure buys back negative spot exposure on the best ask.
func (r *Resolver) resolveShortExposure(ctx context.Context, pos domain.UnhedgedPosition, log *slog.Logger) {
	venue, ask, ok := r.bestAsk(pos.Coin)
	if !ok {
		log.Debug("no venue quoting an ask, hedge deferred")
		return
	}

	short := -pos.Amount
	amount := minf(short, ask.Amount)
	gw := r.gateways[venue]
	runner := newLegRunner(gw, r.cfg.PollInterval, r.cfg.LegTimeout, r.logger)
	res := runner.Run(ctx, pos.Coin, domain.SideBuy, ask.Price, amount, domain.OrderKindTaker)
	if res.Filled <= domain.Epsilon {
		if res.Err != nil {
			log.Warn("buy-back failed", slog.String("error", res.Err.Error()))
		}
		return
	}

	price := priceOr(res.AvgPrice, ask.Price)
	left := r.book.ApplyUnhedgedDelta(pos.Coin, pos.Venue, res.Filled, price)
	fee := r.gatewayFee(venue)
	fees := res.Filled * price * fee
	gross := res.Filled * (pos.EntryPrice - price)
	r.record(ctx, domain.TradeRecord{
		ID:          uuid.New().String(),
		Time:        time.Now().UTC(),
		Type:        domain.TradeHedgeBuy,
		Coin:        pos.Coin,
		BuyVenue:    venue,
		SellVenue:   pos.Venue,
		Amount:      res.Filled,
		BuyPrice:    price,
		SellPrice:   pos.EntryPrice,
		Fees:        fees,
		GrossProfit: gross,
		NetProfit:   gross - fees,
		Status:      domain.TradeSuccess,
	}, log)
	log.Info("short exposure bought back",
		slog.Float64("filled", res.Filled),
		slog.Float64("remaining", left),
	)
}

// openShort offsets a long spot position with a futures short instead of
// selling the inventory.
func (r *Resolver) openShort(ctx context.Context, pos domain.UnhedgedPosition, mark float64, log *slog.Logger) {
	gw, ok := r.gateways[r.policy.FuturesVenue]
	if !ok {
		log.Warn("futures venue has no gateway, falling back next cycle",
			slog.String("futures_venue", r.policy.FuturesVenue))
		return
	}
	runner := newLegRunner(gw, r.cfg.PollInterval, r.cfg.LegTimeout, r.logger)
	res := runner.Run(ctx, pos.Coin, domain.SideSell, mark, pos.Amount, domain.OrderKindTaker)
	if res.Filled <= domain.Epsilon {
		if res.Err != nil {
			log.Warn("short hedge failed", slog.String("error", res.Err.Error()))
		}
		return
	}

	price := priceOr(res.AvgPrice, mark)
	r.book.OpenShort(pos.Coin, r.policy.FuturesVenue, res.Filled, price)
	r.book.ApplyUnhedgedDelta(pos.Coin, pos.Venue, -res.Filled, price)
	fees := res.Filled * price * r.policy.FuturesFeeRate
	r.record(ctx, domain.TradeRecord{
		ID:        uuid.New().String(),
		Time:      time.Now().UTC(),
		Type:      domain.TradeHedgeSell,
		Coin:      pos.Coin,
		BuyVenue:  pos.Venue,
		SellVenue: r.policy.FuturesVenue,
		Amount:    res.Filled,
		BuyPrice:  pos.EntryPrice,
		SellPrice: price,
		Fees:      fees,
		NetProfit: -fees,
		Status:    domain.TradeSuccess,
	}, log)
	log.Info("short hedge opened",
		slog.Float64("size", res.Filled),
		slog.Float64("price", price),
	)
}

func (r *Resolver) bestBid(coin string) (string, domain.PriceLevel, bool) {
	var (
		bestVenue string
		best      domain.PriceLevel
		found     bool
	)
	for venue, snap := range r.depths.ForCoin(coin) {
		gw, ok := r.gateways[venue]
		if !ok || !gw.Venue().Connected() {
			continue
		}
		bid, ok := snap.BestBid()
		if !ok {
			continue
		}
		if !found || bid.Price > best.Price {
			bestVenue, best, found = venue, bid, true
		}
	}
	return bestVenue, best, found
}

func (r *Resolver) bestAsk(coin string) (string, domain.PriceLevel, bool) {
	var (
		bestVenue string
		best      domain.PriceLevel
		found     bool
	)
	for venue, snap := range r.depths.ForCoin(coin) {
		gw, ok := r.gateways[venue]
		if !ok || !gw.Venue().Connected() {
			continue
		}
		ask, ok := snap.BestAsk()
		if !ok {
			continue
		}
		if !found || ask.Price < best.Price {
			bestVenue, best, found = venue, ask, true
		}
	}
	return bestVenue, best, found
}

func (r *Resolver) gatewayFee(venue string) float64 {
	if gw, ok := r.gateways[venue]; ok {
		return gw.Venue().Fee(domain.FeeTaker)
	}
	return 0
}

func (r *Resolver) record(ctx context.Context, rec domain.TradeRecord, log *slog.Logger) {
	if err := r.recorder.Record(ctx, rec); err != nil {
		log.Error("trade record append failed", slog.String("error", err.Error()))
	}
}

func absf(v float64) float64 {
	if v < 0 {
		return -v
	}
	return v
}
