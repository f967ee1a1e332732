package engine

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/lczhang/crossarb/internal/book"
	"github.com/lczhang/crossarb/internal/domain"
	"github.com/lczhang/crossarb/internal/market"
	"github.com/lczhang/crossarb/internal/scanner"
)

// Recorder receives every terminal TradeRecord. The ledger implements it.
type Recorder interface {
	Record(ctx context.Context, rec domain.TradeRecord) error
}

// ExecutorConfig bounds a single opportunity execution.
type ExecutorConfig struct {
	PollInterval time.Duration
	LegTimeout   time.Duration
	// MaxPriceDrift aborts execution when the market has moved against the
	// scanned prices by more than this fraction before orders go out.
	MaxPriceDrift float64
}

// Executor turns accepted opportunities into venue orders. Both legs are
// submitted concurrently and polled to terminal states; matched quantity
// produces an ARBITRAGE record, unmatched quantity becomes an unhedged
// position.
type Executor struct {
	cfg      ExecutorConfig
	gateways map[string]domain.Gateway
	depths   *market.Store
	book     *book.Book
	recorder Recorder
	logger   *slog.Logger
}

// NewExecutor builds an Executor over the venue gateways, keyed by name.
func NewExecutor(
	cfg ExecutorConfig,
	gateways map[string]domain.Gateway,
	depths *market.Store,
	bk *book.Book,
	recorder Recorder,
	logger *slog.Logger,
) *Executor {
	return &Executor{
		cfg:      cfg,
		gateways: gateways,
		depths:   depths,
		book:     bk,
		recorder: recorder,
		logger:   logger.With(slog.String("component", "executor")),
	}
}

// Execute runs both legs of opp. The caller must hold the coin's actor so
// book mutations for this coin are serialized.
func (e *Executor) Execute(ctx context.Context, opp scanner.Opportunity) error {
	log := e.logger.With(
		slog.String("coin", opp.Coin),
		slog.String("buy_venue", opp.BuyVenue),
		slog.String("sell_venue", opp.SellVenue),
	)

	buyGW, ok := e.gateways[opp.BuyVenue]
	if !ok {
		return domain.ErrNotFound
	}
	sellGW, ok := e.gateways[opp.SellVenue]
	if !ok {
		return domain.ErrNotFound
	}

	if drifted, why := e.drifted(opp); drifted {
		log.Info("skipping opportunity, price drift", slog.String("reason", why))
		return nil
	}

	// Both legs at once so the spread cannot close between them.
	var (
		wg        sync.WaitGroup
		buy, sell legResult
	)
	wg.Add(2)
	go func() {
		defer wg.Done()
		runner := newLegRunner(buyGW, e.cfg.PollInterval, e.cfg.LegTimeout, e.logger)
		buy = runner.Run(ctx, opp.Coin, domain.SideBuy, opp.BuyPrice, opp.Size, domain.OrderKindTaker)
	}()
	go func() {
		defer wg.Done()
		runner := newLegRunner(sellGW, e.cfg.PollInterval, e.cfg.LegTimeout, e.logger)
		sell = runner.Run(ctx, opp.Coin, domain.SideSell, opp.SellPrice, opp.Size, domain.OrderKindTaker)
	}()
	wg.Wait()

	return e.settle(ctx, opp, buy, sell, log)
}

// settle books matched and unmatched fills. Matched quantity yields a
// SUCCESS record; any leftover fill on either side becomes an unhedged
// position so no fill is ever untracked.
func (e *Executor) settle(ctx context.Context, opp scanner.Opportunity, buy, sell legResult, log *slog.Logger) error {
	matched := minf(buy.Filled, sell.Filled)

	if matched > domain.Epsilon {
		buyPrice := priceOr(buy.AvgPrice, opp.BuyPrice)
		sellPrice := priceOr(sell.AvgPrice, opp.SellPrice)
		fees := matched*buyPrice*opp.BuyFeeRate + matched*sellPrice*opp.SellFeeRate
		gross := matched * (sellPrice - buyPrice)
		rec := domain.TradeRecord{
			ID:          uuid.New().String(),
			Time:        time.Now().UTC(),
			Type:        domain.TradeArbitrage,
			Coin:        opp.Coin,
			BuyVenue:    opp.BuyVenue,
			SellVenue:   opp.SellVenue,
			Amount:      matched,
			BuyPrice:    buyPrice,
			SellPrice:   sellPrice,
			Fees:        fees,
			GrossProfit: gross,
			NetProfit:   gross - fees,
			Status:      domain.TradeSuccess,
		}
		if err := e.recorder.Record(ctx, rec); err != nil {
			return err
		}
		log.Info("arbitrage executed",
			slog.Float64("matched", matched),
			slog.Float64("net_profit", rec.NetProfit),
		)
	}

	if over := buy.Filled - matched; over > domain.Epsilon {
		left := e.book.ApplyUnhedgedDelta(opp.Coin, opp.BuyVenue, over, priceOr(buy.AvgPrice, opp.BuyPrice))
		log.Warn("buy leg over-filled, exposure tracked",
			slog.Float64("unmatched", over),
			slog.Float64("position", left),
		)
	}
	if over := sell.Filled - matched; over > domain.Epsilon {
		left := e.book.ApplyUnhedgedDelta(opp.Coin, opp.SellVenue, -over, priceOr(sell.AvgPrice, opp.SellPrice))
		log.Warn("sell leg over-filled, exposure tracked",
			slog.Float64("unmatched", over),
			slog.Float64("position", left),
		)
	}

	if buy.Err != nil || sell.Err != nil {
		rec := domain.TradeRecord{
			ID:        uuid.New().String(),
			Time:      time.Now().UTC(),
			Type:      domain.TradeArbitrage,
			Coin:      opp.Coin,
			BuyVenue:  opp.BuyVenue,
			SellVenue: opp.SellVenue,
			Amount:    opp.Size - matched,
			BuyPrice:  opp.BuyPrice,
			SellPrice: opp.SellPrice,
			Status:    domain.TradeFailed,
		}
		if err := e.recorder.Record(ctx, rec); err != nil {
			return err
		}
		log.Warn("execution leg failed",
			slog.Any("buy_error", buy.Err),
			slog.Any("sell_error", sell.Err),
		)
	}
	return nil
}

// drifted re-checks current top-of-book against the scanned prices.
func (e *Executor) drifted(opp scanner.Opportunity) (bool, string) {
	if e.cfg.MaxPriceDrift <= 0 || e.depths == nil {
		return false, ""
	}
	if snap, ok := e.depths.Get(opp.Coin, opp.BuyVenue); ok {
		if ask, ok := snap.BestAsk(); ok && ask.Price > opp.BuyPrice*(1+e.cfg.MaxPriceDrift) {
			return true, "buy price moved up"
		}
	}
	if snap, ok := e.depths.Get(opp.Coin, opp.SellVenue); ok {
		if bid, ok := snap.BestBid(); ok && bid.Price < opp.SellPrice*(1-e.cfg.MaxPriceDrift) {
			return true, "sell price moved down"
		}
	}
	return false, ""
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
