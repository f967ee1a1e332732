// Package engine executes accepted opportunities, resolves leftover exposure
// and drives the per-coin trading loop. Each leg of a two-sided action is an
// explicit state machine polled to a terminal state; uneven fills always end
// up in the account book, never dropped.
package engine

import (
	"context"
	"log/slog"
	"time"

	"github.com/lczhang/crossarb/internal/domain"
)

// legResult is the terminal outcome of one leg.
type legResult struct {
	OrderID  string
	Status   domain.OrderStatus
	Filled   float64
	AvgPrice float64
	Err      error
}

// legRunner places one order and polls it to a terminal status. On timeout
// the order is cancelled and whatever filled before cancellation is kept.
type legRunner struct {
	gw           domain.Gateway
	pollInterval time.Duration
	timeout      time.Duration
	logger       *slog.Logger
}

func newLegRunner(gw domain.Gateway, pollInterval, timeout time.Duration, logger *slog.Logger) *legRunner {
	return &legRunner{
		gw:           gw,
		pollInterval: pollInterval,
		timeout:      timeout,
		logger:       logger.With(slog.String("component", "leg"), slog.String("venue", gw.Venue().Name)),
	}
}

// Run executes the leg to completion. A placement failure returns a FAILED
// result with zero fill; a poll failure after placement falls back to
// cancellation so the venue cannot keep filling an order we stopped watching.
func (l *legRunner) Run(ctx context.Context, coin string, side domain.OrderSide, price, amount float64, kind domain.OrderKind) legResult {
	log := l.logger.With(
		slog.String("coin", coin),
		slog.String("side", string(side)),
		slog.Float64("price", price),
		slog.Float64("amount", amount),
	)

	ack, err := l.gw.PlaceOrder(ctx, coin, side, price, amount, kind)
	if err != nil {
		log.Warn("order placement failed", slog.String("error", err.Error()))
		return legResult{Status: domain.OrderFailed, Err: err}
	}
	log.Debug("order placed", slog.String("order_id", ack.OrderID), slog.String("status", string(ack.Status)))

	if ack.Status.Terminal() {
		state, err := l.gw.OrderState(ctx, coin, ack.OrderID)
		if err != nil {
			return legResult{OrderID: ack.OrderID, Status: ack.Status, Err: err}
		}
		return legResult{OrderID: ack.OrderID, Status: state.Status, Filled: state.FilledAmount, AvgPrice: state.AvgPrice}
	}
	return l.poll(ctx, coin, ack.OrderID, log)
}

func (l *legRunner) poll(ctx context.Context, coin, orderID string, log *slog.Logger) legResult {
	deadline := time.Now().Add(l.timeout)
	var last domain.OrderState
	last.OrderID = orderID

	for {
		state, err := l.gw.OrderState(ctx, coin, orderID)
		if err != nil {
			log.Warn("order poll failed, cancelling", slog.String("error", err.Error()))
			return l.cancel(ctx, coin, orderID, last, err)
		}
		last = state
		if state.Status.Terminal() {
			return legResult{OrderID: orderID, Status: state.Status, Filled: state.FilledAmount, AvgPrice: state.AvgPrice}
		}
		if time.Now().After(deadline) {
			log.Warn("order timed out, cancelling", slog.Float64("filled", state.FilledAmount))
			return l.cancel(ctx, coin, orderID, last, nil)
		}
		select {
		case <-ctx.Done():
			return l.cancel(context.WithoutCancel(ctx), coin, orderID, last, ctx.Err())
		case <-time.After(l.pollInterval):
		}
	}
}

// cancel revokes the order and reports the portion that had already filled.
// The fill observed at cancel time is re-read when possible so late fills
// are not lost.
func (l *legRunner) cancel(ctx context.Context, coin, orderID string, last domain.OrderState, cause error) legResult {
	if _, err := l.gw.CancelOrder(ctx, coin, orderID); err != nil {
		l.logger.Error("order cancel failed",
			slog.String("order_id", orderID),
			slog.String("error", err.Error()),
		)
	} else if state, err := l.gw.OrderState(ctx, coin, orderID); err == nil {
		last = state
	}

	status := domain.OrderCancelled
	if cause != nil {
		status = domain.OrderFailed
	}
	return legResult{OrderID: orderID, Status: status, Filled: last.FilledAmount, AvgPrice: last.AvgPrice, Err: cause}
}
