// Package gateway provides venue gateway decorators and a simulated venue.
// The retry decorator wraps any domain.Gateway with bounded exponential
// back-off and optional rate limiting; the simulator backs paper mode and
// tests.
package gateway

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/lczhang/crossarb/internal/domain"
)

// RetryConfig bounds the retry decorator.
type RetryConfig struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
	// RateLimit allows at most this many venue calls per RateWindow when a
	// limiter is attached; zero disables throttling.
	RateLimit  int
	RateWindow time.Duration
}

// DefaultRetryConfig matches the venue call budget used in live trading.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxAttempts: 3,
		BaseDelay:   200 * time.Millisecond,
		MaxDelay:    2 * time.Second,
	}
}

// RetryGateway wraps an inner gateway with bounded retries. Rejections
// (domain.ErrOrderRejected) are terminal and never retried; transport
// errors are retried until the attempt budget runs out, after which the
// last error is wrapped in domain.ErrRetryExhausted.
type RetryGateway struct {
	inner   domain.Gateway
	cfg     RetryConfig
	limiter domain.RateLimiter
	logger  *slog.Logger
}

// NewRetryGateway decorates inner. limiter may be nil.
func NewRetryGateway(inner domain.Gateway, cfg RetryConfig, limiter domain.RateLimiter, logger *slog.Logger) *RetryGateway {
	if cfg.MaxAttempts < 1 {
		cfg.MaxAttempts = 1
	}
	return &RetryGateway{
		inner:   inner,
		cfg:     cfg,
		limiter: limiter,
		logger:  logger.With(slog.String("component", "retry_gateway"), slog.String("venue", inner.Venue().Name)),
	}
}

func (g *RetryGateway) Venue() *domain.Venue { return g.inner.Venue() }

func (g *RetryGateway) GetBalance(ctx context.Context) (map[string]domain.Balance, error) {
	var out map[string]domain.Balance
	err := g.do(ctx, "get_balance", func(ctx context.Context) error {
		var err error
		out, err = g.inner.GetBalance(ctx)
		return err
	})
	return out, err
}

func (g *RetryGateway) GetDepth(ctx context.Context, coin string) (domain.DepthSnapshot, error) {
	var out domain.DepthSnapshot
	err := g.do(ctx, "get_depth", func(ctx context.Context) error {
		var err error
		out, err = g.inner.GetDepth(ctx, coin)
		return err
	})
	return out, err
}

func (g *RetryGateway) PlaceOrder(ctx context.Context, coin string, side domain.OrderSide, price, amount float64, kind domain.OrderKind) (domain.OrderAck, error) {
	var out domain.OrderAck
	err := g.do(ctx, "place_order", func(ctx context.Context) error {
		var err error
		out, err = g.inner.PlaceOrder(ctx, coin, side, price, amount, kind)
		return err
	})
	return out, err
}

func (g *RetryGateway) OrderState(ctx context.Context, coin, orderID string) (domain.OrderState, error) {
	var out domain.OrderState
	err := g.do(ctx, "order_state", func(ctx context.Context) error {
		var err error
		out, err = g.inner.OrderState(ctx, coin, orderID)
		return err
	})
	return out, err
}

func (g *RetryGateway) CancelOrder(ctx context.Context, coin, orderID string) (bool, error) {
	var out bool
	err := g.do(ctx, "cancel_order", func(ctx context.Context) error {
		var err error
		out, err = g.inner.CancelOrder(ctx, coin, orderID)
		return err
	})
	return out, err
}

func (g *RetryGateway) do(ctx context.Context, op string, call func(context.Context) error) error {
	var lastErr error
	delay := g.cfg.BaseDelay
	for attempt := 1; attempt <= g.cfg.MaxAttempts; attempt++ {
		if err := g.waitLimiter(ctx); err != nil {
			return err
		}
		lastErr = call(ctx)
		if lastErr == nil {
			return nil
		}
		if !retryable(lastErr) {
			return lastErr
		}
		if attempt == g.cfg.MaxAttempts {
			break
		}
		g.logger.Warn("venue call failed, retrying",
			slog.String("op", op),
			slog.Int("attempt", attempt),
			slog.String("error", lastErr.Error()),
		)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
		delay *= 2
		if delay > g.cfg.MaxDelay {
			delay = g.cfg.MaxDelay
		}
	}
	return fmt.Errorf("%s after %d attempts: %w: %w", op, g.cfg.MaxAttempts, domain.ErrRetryExhausted, lastErr)
}

func (g *RetryGateway) waitLimiter(ctx context.Context) error {
	if g.limiter == nil || g.cfg.RateLimit <= 0 {
		return nil
	}
	for {
		ok, err := g.limiter.Allow(ctx, g.inner.Venue().Name, g.cfg.RateLimit, g.cfg.RateWindow)
		if err != nil {
			// Limiter backend trouble must not stall trading.
			g.logger.Warn("rate limiter unavailable", slog.String("error", err.Error()))
			return nil
		}
		if ok {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(50 * time.Millisecond):
		}
	}
}

func retryable(err error) bool {
	if errors.Is(err, domain.ErrOrderRejected) || errors.Is(err, domain.ErrInsufficientBalance) {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	return true
}
