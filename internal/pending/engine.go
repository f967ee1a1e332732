// Package pending manages resting-order arbitrage: maker orders on both
// venues of a pair, with quote or coin balance frozen for the life of the
// order. Every pending order freezes funds exactly once at creation and
// releases them exactly once at its terminal status; both transitions are
// guarded by the status field.
package pending

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/lczhang/crossarb/internal/book"
	"github.com/lczhang/crossarb/internal/domain"
	"github.com/lczhang/crossarb/internal/market"
	"github.com/lczhang/crossarb/internal/notify"
)

// Recorder receives terminal TradeRecords.
type Recorder interface {
	Record(ctx context.Context, rec domain.TradeRecord) error
}

// Alerter routes escalations to operators. The notify package implements it.
type Alerter interface {
	Notify(ctx context.Context, event, title, message string, fields ...notify.Field) error
}

// Config shapes pending-order creation and polling.
type Config struct {
	// MinProfitRate is the minimum expected edge ratio at creation. Resting
	// orders pay maker fees, so this is usually set tighter than the taker
	// scan threshold.
	MinProfitRate float64
	// CancelThreshold cancels when the re-evaluated edge ratio stays below
	// it for MaxUnfavorablePolls consecutive polls.
	CancelThreshold     float64
	MaxUnfavorablePolls int
	// MaxLifetime fails a pending order that never resolved.
	MaxLifetime time.Duration
	// MaxAmount caps the size of one pending order, in coin units.
	MaxAmount float64
	// MinAmount rejects dust.
	MinAmount float64
}

// Engine holds at most one open pending order per coin. PollCoin must be
// called under the coin's actor.
type Engine struct {
	cfg      Config
	gateways map[string]domain.Gateway
	depths   *market.Store
	book     *book.Book
	recorder Recorder
	store    domain.PendingOrderStore
	alerter  Alerter
	logger   *slog.Logger

	mu   sync.Mutex
	open map[string]*domain.PendingOrder // by coin
}

// NewEngine builds the pending-order engine. store and alerter may be nil.
func NewEngine(
	cfg Config,
	gateways map[string]domain.Gateway,
	depths *market.Store,
	bk *book.Book,
	recorder Recorder,
	store domain.PendingOrderStore,
	alerter Alerter,
	logger *slog.Logger,
) *Engine {
	return &Engine{
		cfg:      cfg,
		gateways: gateways,
		depths:   depths,
		book:     bk,
		recorder: recorder,
		store:    store,
		alerter:  alerter,
		logger:   logger.With(slog.String("component", "pending_engine")),
		open:     make(map[string]*domain.PendingOrder),
	}
}

// HasOpen reports whether the coin has a live pending order.
func (e *Engine) HasOpen(coin string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	_, ok := e.open[coin]
	return ok
}

// Open returns copies of all live pending orders, for the snapshot builder.
func (e *Engine) Open() []domain.PendingOrder {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]domain.PendingOrder, 0, len(e.open))
	for _, po := range e.open {
		out = append(out, *po)
	}
	return out
}

// Restore re-adopts pending orders persisted by a previous run, re-freezing
// their backing funds in the account book. Orders that cannot be re-adopted
// are failed, which cancels their venue legs and escalates any partial fills.
// Call before polling starts.
func (e *Engine) Restore(ctx context.Context) error {
	if e.store == nil {
		return nil
	}
	orders, err := e.store.ListOpen(ctx)
	if err != nil {
		return fmt.Errorf("list open pending orders: %w", err)
	}
	restored := 0
	for i := range orders {
		po := orders[i]
		if po.Status != domain.PendingStatusPending {
			continue
		}
		log := e.logger.With(slog.String("coin", po.Coin), slog.String("pending_id", po.ID))

		e.mu.Lock()
		_, dup := e.open[po.Coin]
		e.mu.Unlock()
		if dup {
			e.terminate(ctx, &po, "coin already holds an open pending order", false, log)
			continue
		}
		if _, ok := e.gateways[po.BuyVenue]; !ok {
			e.terminate(ctx, &po, "buy venue no longer configured", false, log)
			continue
		}
		if _, ok := e.gateways[po.SellVenue]; !ok {
			e.terminate(ctx, &po, "sell venue no longer configured", false, log)
			continue
		}
		// The startup book does not carry the previous process's holds, so
		// the freeze is taken again here.
		if err := e.book.Freeze(po.FrozenVenue, po.FrozenAsset, po.FrozenAmount); err != nil {
			e.terminate(ctx, &po, "funds could not be re-frozen: "+err.Error(), false, log)
			continue
		}

		e.mu.Lock()
		e.open[po.Coin] = &po
		e.mu.Unlock()
		restored++
		log.Info("pending order restored",
			slog.Float64("amount", po.Amount),
			slog.Float64("frozen_amount", po.FrozenAmount),
		)
	}
	if len(orders) > 0 {
		e.logger.Info("pending order restore complete",
			slog.Int("found", len(orders)),
			slog.Int("restored", restored),
		)
	}
	return nil
}

// PollCoin advances the coin's open pending order one step, or looks for a
// new resting opportunity when none is open.
func (e *Engine) PollCoin(ctx context.Context, coin string) {
	e.mu.Lock()
	po := e.open[coin]
	e.mu.Unlock()

	if po != nil {
		e.poll(ctx, po)
		return
	}
	e.tryCreate(ctx, coin)
}

// tryCreate looks for a maker-fee edge across venue pairs and opens a
// pending order when one clears the threshold and funds can be frozen.
func (e *Engine) tryCreate(ctx context.Context, coin string) {
	cand, ok := e.evaluate(coin)
	if !ok {
		return
	}
	log := e.logger.With(
		slog.String("coin", coin),
		slog.String("buy_venue", cand.BuyVenue),
		slog.String("sell_venue", cand.SellVenue),
		slog.String("direction", string(cand.Direction)),
	)

	// Freeze happens exactly once, before any order goes out.
	if err := e.book.Freeze(cand.FrozenVenue, cand.FrozenAsset, cand.FrozenAmount); err != nil {
		log.Debug("cannot freeze funds for pending order", slog.String("error", err.Error()))
		return
	}

	buyGW := e.gateways[cand.BuyVenue]
	sellGW := e.gateways[cand.SellVenue]
	buyAck, err := buyGW.PlaceOrder(ctx, coin, domain.SideBuy, cand.BuyPrice, cand.Amount, domain.OrderKindMaker)
	if err != nil {
		e.mustRelease(cand, log)
		log.Warn("pending buy leg placement failed", slog.String("error", err.Error()))
		return
	}
	sellAck, err := sellGW.PlaceOrder(ctx, coin, domain.SideSell, cand.SellPrice, cand.Amount, domain.OrderKindMaker)
	if err != nil {
		if _, cerr := buyGW.CancelOrder(ctx, coin, buyAck.OrderID); cerr != nil {
			log.Error("orphan buy leg cancel failed", slog.String("error", cerr.Error()))
		}
		e.mustRelease(cand, log)
		log.Warn("pending sell leg placement failed", slog.String("error", err.Error()))
		return
	}
	cand.BuyOrderID = buyAck.OrderID
	cand.SellOrderID = sellAck.OrderID

	e.mu.Lock()
	e.open[coin] = cand
	e.mu.Unlock()

	if e.store != nil {
		if err := e.store.Create(ctx, *cand); err != nil {
			log.Warn("pending order persist failed", slog.String("error", err.Error()))
		}
	}
	log.Info("pending order created",
		slog.Float64("amount", cand.Amount),
		slog.Float64("buy_price", cand.BuyPrice),
		slog.Float64("sell_price", cand.SellPrice),
		slog.Float64("potential_profit", cand.PotentialProfit),
		slog.Float64("frozen_amount", cand.FrozenAmount),
	)
}

// evaluate scans venue pairs with maker fees, joining the buy side at the
// best bid and the sell side at the best ask.
func (e *Engine) evaluate(coin string) (*domain.PendingOrder, bool) {
	depths := e.depths.ForCoin(coin)
	var best *domain.PendingOrder

	for buyVenue, buyDepth := range depths {
		buyGW, ok := e.gateways[buyVenue]
		if !ok || !buyGW.Venue().Connected() {
			continue
		}
		buyLevel, ok := buyDepth.BestBid()
		if !ok {
			continue
		}
		for sellVenue, sellDepth := range depths {
			if sellVenue == buyVenue {
				continue
			}
			sellGW, ok := e.gateways[sellVenue]
			if !ok || !sellGW.Venue().Connected() {
				continue
			}
			sellLevel, ok := sellDepth.BestAsk()
			if !ok {
				continue
			}

			buyFee := buyGW.Venue().Fee(domain.FeeMaker)
			sellFee := sellGW.Venue().Fee(domain.FeeMaker)
			buyCost := buyLevel.Price * (1 + buyFee)
			edge := sellLevel.Price*(1-sellFee) - buyCost
			if edge <= 0 || edge/buyCost < e.cfg.MinProfitRate {
				continue
			}

			cand, ok := e.sized(coin, buyVenue, sellVenue, buyLevel.Price, sellLevel.Price, buyFee, sellFee, edge)
			if !ok {
				continue
			}
			if best == nil || cand.PotentialProfit > best.PotentialProfit {
				best = cand
			}
		}
	}
	return best, best != nil
}

// sized picks the direction by which balance can back the order: FORWARD
// freezes quote on the buy venue, REVERSE freezes coin on the sell venue.
func (e *Engine) sized(coin, buyVenue, sellVenue string, buyPrice, sellPrice, buyFee, sellFee, edge float64) (*domain.PendingOrder, bool) {
	amount := e.cfg.MaxAmount

	quote := e.book.Available(buyVenue, domain.QuoteAsset)
	if cost := buyPrice * (1 + buyFee); quote/cost < amount {
		amount = quote / cost
	}

	direction := domain.PendingForward
	frozenVenue, frozenAsset := buyVenue, domain.QuoteAsset
	if amount < e.cfg.MinAmount {
		// Not enough quote to back a forward order; try holding the coin
		// on the sell side instead.
		amount = e.cfg.MaxAmount
		if have := e.book.Available(sellVenue, coin); have < amount {
			amount = have
		}
		if amount < e.cfg.MinAmount {
			return nil, false
		}
		direction = domain.PendingReverse
		frozenVenue, frozenAsset = sellVenue, coin
	}

	frozen := amount
	if direction == domain.PendingForward {
		frozen = amount * buyPrice * (1 + buyFee)
	}
	return &domain.PendingOrder{
		ID:              uuid.New().String(),
		Coin:            coin,
		BuyVenue:        buyVenue,
		SellVenue:       sellVenue,
		Amount:          amount,
		BuyPrice:        buyPrice,
		SellPrice:       sellPrice,
		BuyFeeRate:      buyFee,
		SellFeeRate:     sellFee,
		Direction:       direction,
		PotentialProfit: edge * amount,
		FrozenAmount:    frozen,
		FrozenAsset:     frozenAsset,
		FrozenVenue:     frozenVenue,
		Status:          domain.PendingStatusPending,
		CreatedAt:       time.Now().UTC(),
	}, true
}

// poll drives one open pending order: lifetime cap, leg fill check, then
// edge re-evaluation with the unfavorable-poll counter.
func (e *Engine) poll(ctx context.Context, po *domain.PendingOrder) {
	log := e.logger.With(slog.String("coin", po.Coin), slog.String("pending_id", po.ID))

	if time.Since(po.CreatedAt) > e.cfg.MaxLifetime {
		e.fail(ctx, po, "max lifetime exceeded", log)
		return
	}

	buyState, err := e.gateways[po.BuyVenue].OrderState(ctx, po.Coin, po.BuyOrderID)
	if err != nil {
		log.Warn("buy leg poll failed", slog.String("error", err.Error()))
		return
	}
	sellState, err := e.gateways[po.SellVenue].OrderState(ctx, po.Coin, po.SellOrderID)
	if err != nil {
		log.Warn("sell leg poll failed", slog.String("error", err.Error()))
		return
	}

	if buyState.Status == domain.OrderFilled && sellState.Status == domain.OrderFilled {
		e.fill(ctx, po, buyState, sellState, log)
		return
	}

	po.PriceUpdates++
	if e.unfavorable(po) {
		po.UnfavorablePolls++
	} else {
		po.UnfavorablePolls = 0
	}
	if po.UnfavorablePolls > e.cfg.MaxUnfavorablePolls {
		e.cancel(ctx, po, buyState, sellState, log)
		return
	}
	e.persist(ctx, po, log)
}

// unfavorable re-prices the pair at current top-of-book.
func (e *Engine) unfavorable(po *domain.PendingOrder) bool {
	buySnap, okA := e.depths.Get(po.Coin, po.BuyVenue)
	sellSnap, okB := e.depths.Get(po.Coin, po.SellVenue)
	if !okA || !okB {
		return true
	}
	ask, okA := buySnap.BestAsk()
	bid, okB := sellSnap.BestBid()
	if !okA || !okB {
		return true
	}
	buyCost := ask.Price * (1 + po.BuyFeeRate)
	edge := bid.Price*(1-po.SellFeeRate) - buyCost
	return edge/buyCost < e.cfg.CancelThreshold
}

// fill settles a fully matched pending order. Only the frozen funds the
// venue actually consumed are spent; a fill at a better effective price
// returns the excess hold immediately.
func (e *Engine) fill(ctx context.Context, po *domain.PendingOrder, buy, sell domain.OrderState, log *slog.Logger) {
	if !e.transition(po, domain.PendingStatusFilled) {
		return
	}

	buyPrice := priceOr(buy.AvgPrice, po.BuyPrice)
	sellPrice := priceOr(sell.AvgPrice, po.SellPrice)
	amount := minf(buy.FilledAmount, sell.FilledAmount)

	consumed := amount
	if po.Direction == domain.PendingForward {
		consumed = amount * buyPrice * (1 + po.BuyFeeRate)
	}
	if consumed > po.FrozenAmount {
		consumed = po.FrozenAmount
	}
	if err := e.book.SpendFrozen(po.FrozenVenue, po.FrozenAsset, consumed); err != nil {
		log.Error("frozen spend failed", slog.String("error", err.Error()))
	}
	if excess := po.FrozenAmount - consumed; excess > domain.Epsilon {
		if err := e.book.Release(po.FrozenVenue, po.FrozenAsset, excess); err != nil {
			log.Error("excess frozen release failed", slog.String("error", err.Error()))
		}
	}

	fees := amount*buyPrice*po.BuyFeeRate + amount*sellPrice*po.SellFeeRate
	gross := amount * (sellPrice - buyPrice)

	e.record(ctx, domain.TradeRecord{
		ID:          uuid.New().String(),
		Time:        time.Now().UTC(),
		Type:        tradeType(po.Direction),
		Coin:        po.Coin,
		BuyVenue:    po.BuyVenue,
		SellVenue:   po.SellVenue,
		Amount:      amount,
		BuyPrice:    buyPrice,
		SellPrice:   sellPrice,
		Fees:        fees,
		GrossProfit: gross,
		NetProfit:   gross - fees,
		Status:      domain.TradeSuccess,
	}, log)
	e.close(ctx, po, log)
	log.Info("pending order filled", slog.Float64("amount", amount), slog.Float64("net_profit", gross-fees))
}

// cancel revokes both legs and returns the frozen funds. Partial fills
// discovered during cancellation become unhedged positions.
func (e *Engine) cancel(ctx context.Context, po *domain.PendingOrder, buy, sell domain.OrderState, log *slog.Logger) {
	if !e.transition(po, domain.PendingStatusCancelled) {
		return
	}
	e.cancelLegs(ctx, po, log)
	e.mustRelease(po, log)
	e.escalatePartials(po, buy, sell, log)

	e.record(ctx, domain.TradeRecord{
		ID:        uuid.New().String(),
		Time:      time.Now().UTC(),
		Type:      tradeType(po.Direction),
		Coin:      po.Coin,
		BuyVenue:  po.BuyVenue,
		SellVenue: po.SellVenue,
		Amount:    po.Amount,
		BuyPrice:  po.BuyPrice,
		SellPrice: po.SellPrice,
		Status:    domain.TradeCancelled,
	}, log)
	e.close(ctx, po, log)
	log.Info("pending order cancelled",
		slog.Int("price_updates", po.PriceUpdates),
		slog.Float64("released", po.FrozenAmount),
	)
}

// fail terminates a pending order that could not resolve in time and
// escalates to operators.
func (e *Engine) fail(ctx context.Context, po *domain.PendingOrder, reason string, log *slog.Logger) {
	e.terminate(ctx, po, reason, true, log)
}

// terminate fails a pending order. release must be false when the order's
// funds were never frozen in this process, as for orders recovered from the
// store that could not be re-frozen.
func (e *Engine) terminate(ctx context.Context, po *domain.PendingOrder, reason string, release bool, log *slog.Logger) {
	if !e.transition(po, domain.PendingStatusFailed) {
		return
	}
	var buy, sell domain.OrderState
	if gw, ok := e.gateways[po.BuyVenue]; ok {
		if state, err := gw.OrderState(ctx, po.Coin, po.BuyOrderID); err == nil {
			buy = state
		}
	}
	if gw, ok := e.gateways[po.SellVenue]; ok {
		if state, err := gw.OrderState(ctx, po.Coin, po.SellOrderID); err == nil {
			sell = state
		}
	}
	e.cancelLegs(ctx, po, log)
	if release {
		e.mustRelease(po, log)
	}
	e.escalatePartials(po, buy, sell, log)

	e.record(ctx, domain.TradeRecord{
		ID:        uuid.New().String(),
		Time:      time.Now().UTC(),
		Type:      tradeType(po.Direction),
		Coin:      po.Coin,
		BuyVenue:  po.BuyVenue,
		SellVenue: po.SellVenue,
		Amount:    po.Amount,
		BuyPrice:  po.BuyPrice,
		SellPrice: po.SellPrice,
		Status:    domain.TradeFailed,
	}, log)
	e.close(ctx, po, log)

	log.Error("pending order failed", slog.String("reason", reason))
	if e.alerter != nil {
		err := e.alerter.Notify(ctx, notify.EventPendingFailed, "Pending order failed", reason,
			notify.Field{Key: "order_id", Value: po.ID},
			notify.Field{Key: "coin", Value: po.Coin},
			notify.Field{Key: "buy_venue", Value: po.BuyVenue},
			notify.Field{Key: "sell_venue", Value: po.SellVenue},
			notify.Field{Key: "amount", Value: fmt.Sprintf("%.6f", po.Amount)},
		)
		if err != nil {
			log.Warn("escalation alert failed", slog.String("error", err.Error()))
		}
	}
}

// transition is the only way a pending order leaves PENDING.
func (e *Engine) transition(po *domain.PendingOrder, to domain.PendingStatus) bool {
	if po.Status != domain.PendingStatusPending {
		return false
	}
	po.Status = to
	return true
}

func (e *Engine) cancelLegs(ctx context.Context, po *domain.PendingOrder, log *slog.Logger) {
	if gw, ok := e.gateways[po.BuyVenue]; ok {
		if _, err := gw.CancelOrder(ctx, po.Coin, po.BuyOrderID); err != nil {
			log.Error("buy leg cancel failed", slog.String("error", err.Error()))
		}
	}
	if gw, ok := e.gateways[po.SellVenue]; ok {
		if _, err := gw.CancelOrder(ctx, po.Coin, po.SellOrderID); err != nil {
			log.Error("sell leg cancel failed", slog.String("error", err.Error()))
		}
	}
}

// escalatePartials routes any one-sided fills into the account book so the
// hedge resolver can offset them.
func (e *Engine) escalatePartials(po *domain.PendingOrder, buy, sell domain.OrderState, log *slog.Logger) {
	if buy.FilledAmount > domain.Epsilon {
		e.book.ApplyUnhedgedDelta(po.Coin, po.BuyVenue, buy.FilledAmount, priceOr(buy.AvgPrice, po.BuyPrice))
		log.Warn("buy leg partial fill escalated", slog.Float64("filled", buy.FilledAmount))
	}
	if sell.FilledAmount > domain.Epsilon {
		e.book.ApplyUnhedgedDelta(po.Coin, po.SellVenue, -sell.FilledAmount, priceOr(sell.AvgPrice, po.SellPrice))
		log.Warn("sell leg partial fill escalated", slog.Float64("filled", sell.FilledAmount))
	}
}

// mustRelease returns the frozen funds, flagging the coin for review when
// even the release fails.
func (e *Engine) mustRelease(po *domain.PendingOrder, log *slog.Logger) {
	if err := e.book.Release(po.FrozenVenue, po.FrozenAsset, po.FrozenAmount); err != nil {
		e.book.PauseCoin(po.Coin, "frozen release failed: "+err.Error())
		log.Error("frozen release failed, coin paused", slog.String("error", err.Error()))
	}
}

func (e *Engine) close(ctx context.Context, po *domain.PendingOrder, log *slog.Logger) {
	e.mu.Lock()
	delete(e.open, po.Coin)
	e.mu.Unlock()
	e.persist(ctx, po, log)
}

func (e *Engine) persist(ctx context.Context, po *domain.PendingOrder, log *slog.Logger) {
	if e.store == nil {
		return
	}
	if err := e.store.Update(ctx, *po); err != nil {
		log.Warn("pending order persist failed", slog.String("error", err.Error()))
	}
}

func (e *Engine) record(ctx context.Context, rec domain.TradeRecord, log *slog.Logger) {
	if err := e.recorder.Record(ctx, rec); err != nil {
		log.Error("trade record append failed", slog.String("error", err.Error()))
	}
}

func tradeType(d domain.PendingDirection) domain.TradeType {
	if d == domain.PendingReverse {
		return domain.TradePendingReverse
	}
	return domain.TradePendingForward
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
