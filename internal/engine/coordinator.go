package engine

import (
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"
	"time"

	"github.com/lczhang/crossarb/internal/book"
	"github.com/lczhang/crossarb/internal/market"
	"github.com/lczhang/crossarb/internal/scanner"
)

// PendingEngine is the slice of the pending-order engine the tick loop
// drives. Implemented by the pending package.
type PendingEngine interface {
	// PollCoin advances the coin's open pending orders one step and may
	// create a new one when a resting opportunity exists.
	PollCoin(ctx context.Context, coin string)
	// HasOpen reports whether the coin has a live pending order.
	HasOpen(coin string) bool
}

// Rebalancer corrects venue-level inventory skew. Implemented by the
// rebalance package.
type Rebalancer interface {
	RebalanceCoin(ctx context.Context, coin string)
}

// TickPublisher receives a notification after every completed tick so the
// dashboard snapshot can be rebuilt.
type TickPublisher interface {
	PublishTick(ctx context.Context)
}

// CoordinatorConfig shapes the tick loop.
type CoordinatorConfig struct {
	TickInterval time.Duration
	// RebalanceEveryNTicks runs the rebalancer on every Nth tick for each
	// coin; zero disables rebalancing.
	RebalanceEveryNTicks int
}

// Coordinator drives scan, execute, hedge, pending and rebalance work for
// every configured coin. Each coin gets a dedicated actor goroutine, so all
// book mutations for one coin are serialized while coins run in parallel. A
// panic inside an actor pauses that coin and leaves the rest trading.
type Coordinator struct {
	cfg       CoordinatorConfig
	coins     []string
	depths    *market.Store
	book      *book.Book
	scanner   *scanner.Scanner
	executor  *Executor
	resolver  *Resolver
	pending   PendingEngine
	rebalance Rebalancer
	publisher TickPublisher
	logger    *slog.Logger

	work map[string]chan struct{}
}

// NewCoordinator wires the per-coin pipeline. pending, rebalance and
// publisher may be nil when the corresponding stage is disabled.
func NewCoordinator(
	cfg CoordinatorConfig,
	coins []string,
	depths *market.Store,
	bk *book.Book,
	sc *scanner.Scanner,
	executor *Executor,
	resolver *Resolver,
	pending PendingEngine,
	rebalance Rebalancer,
	publisher TickPublisher,
	logger *slog.Logger,
) *Coordinator {
	work := make(map[string]chan struct{}, len(coins))
	for _, coin := range coins {
		work[coin] = make(chan struct{}, 1)
	}
	return &Coordinator{
		cfg:       cfg,
		coins:     coins,
		depths:    depths,
		book:      bk,
		scanner:   sc,
		executor:  executor,
		resolver:  resolver,
		pending:   pending,
		rebalance: rebalance,
		publisher: publisher,
		logger:    logger.With(slog.String("component", "coordinator")),
		work:      work,
	}
}

// Run starts one actor per coin and ticks until ctx is cancelled. A coin
// still busy with its previous tick skips the new one rather than queueing.
func (c *Coordinator) Run(ctx context.Context) error {
	c.logger.Info("coordinator starting",
		slog.Duration("tick_interval", c.cfg.TickInterval),
		slog.Int("coins", len(c.coins)),
	)

	done := make(chan string, len(c.coins))
	for _, coin := range c.coins {
		go c.actor(ctx, coin, done)
	}

	ticker := time.NewTicker(c.cfg.TickInterval)
	defer ticker.Stop()

	running := len(c.coins)
	for {
		select {
		case <-ctx.Done():
			for running > 0 {
				<-done
				running--
			}
			c.logger.Info("coordinator stopped")
			return ctx.Err()
		case <-ticker.C:
			for _, coin := range c.coins {
				select {
				case c.work[coin] <- struct{}{}:
				default:
					c.logger.Debug("coin busy, tick skipped", slog.String("coin", coin))
				}
			}
			if c.publisher != nil {
				c.publisher.PublishTick(ctx)
			}
		}
	}
}

// actor owns every book mutation for one coin.
func (c *Coordinator) actor(ctx context.Context, coin string, done chan<- string) {
	defer func() { done <- coin }()

	tick := 0
	for {
		select {
		case <-ctx.Done():
			return
		case <-c.work[coin]:
			tick++
			c.runTick(ctx, coin, tick)
		}
	}
}

func (c *Coordinator) runTick(ctx context.Context, coin string, tick int) {
	defer func() {
		if rec := recover(); rec != nil {
			reason := fmt.Sprintf("actor panic: %v", rec)
			c.book.PauseCoin(coin, reason)
			c.logger.Error("coin actor panicked, coin paused",
				slog.String("coin", coin),
				slog.String("panic", fmt.Sprint(rec)),
				slog.String("stack", string(debug.Stack())),
			)
		}
	}()

	if reason, paused := c.book.Paused(coin); paused {
		c.logger.Debug("coin paused, tick skipped",
			slog.String("coin", coin),
			slog.String("reason", reason),
		)
		return
	}

	depths := c.depths.ForCoin(coin)
	if len(depths) >= 2 {
		if opp, ok := c.scanner.Scan(coin, depths, c.book); ok {
			if err := c.executor.Execute(ctx, opp); err != nil {
				c.logger.Error("opportunity execution failed",
					slog.String("coin", coin),
					slog.String("error", err.Error()),
				)
			}
		}
	}

	c.resolver.ResolveCoin(ctx, coin)

	if c.pending != nil {
		c.pending.PollCoin(ctx, coin)
	}

	if c.rebalance != nil && c.cfg.RebalanceEveryNTicks > 0 && tick%c.cfg.RebalanceEveryNTicks == 0 {
		if c.pending == nil || !c.pending.HasOpen(coin) {
			c.rebalance.RebalanceCoin(ctx, coin)
		}
	}
}
