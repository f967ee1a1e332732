package app

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/lczhang/crossarb/internal/domain"
	"github.com/lczhang/crossarb/internal/notify"
	"github.com/lczhang/crossarb/internal/server"
	"github.com/lczhang/crossarb/internal/server/handler"
	"github.com/lczhang/crossarb/internal/server/ws"
)

// reconcileInterval paces the books-versus-ledger consistency check.
const reconcileInterval = time.Minute

// Engine lock parameters. Only one trading instance may hold venue accounts
// at a time; the lock is refreshed at a third of its TTL so a healthy
// instance never loses it.
const (
	engineLockKey = "engine"
	engineLockTTL = 30 * time.Second
)

// TradingMode runs the full engine: market refresh, per-coin trading actors,
// periodic reconciliation, and the HTTP/WebSocket surface. Trade and paper
// modes differ only in the gateways Wire constructed.
func (a *App) TradingMode(ctx context.Context, deps *Dependencies) error {
	var lk domain.Lock
	if deps.LockManager != nil {
		var err error
		lk, err = deps.LockManager.Acquire(ctx, engineLockKey, engineLockTTL)
		if err != nil {
			return fmt.Errorf("acquire engine lock: %w", err)
		}
		defer lk.Release()
	}

	a.logger.InfoContext(ctx, "starting trading mode",
		slog.Int("venues", len(deps.Venues)),
		slog.Any("coins", a.cfg.Coins),
	)

	// Restore needs venue balances in the book before it can re-freeze, so
	// the first market sweep runs synchronously.
	deps.Refresher.RefreshAll(ctx)
	if deps.Pending != nil {
		if err := deps.Pending.Restore(ctx); err != nil {
			a.logger.WarnContext(ctx, "pending order restore failed", slog.String("error", err.Error()))
		}
	}

	g, ctx := errgroup.WithContext(ctx)

	if lk != nil {
		g.Go(func() error {
			ticker := time.NewTicker(engineLockTTL / 3)
			defer ticker.Stop()
			for {
				select {
				case <-ctx.Done():
					return ctx.Err()
				case <-ticker.C:
					if err := lk.Refresh(ctx); err != nil {
						return fmt.Errorf("refresh engine lock: %w", err)
					}
				}
			}
		})
	}

	g.Go(func() error {
		return deps.Refresher.Run(ctx)
	})

	g.Go(func() error {
		return deps.Coordinator.Run(ctx)
	})

	g.Go(func() error {
		return a.reconcileLoop(ctx, deps)
	})

	if a.cfg.Server.Enabled {
		a.startHTTPServer(ctx, g, deps)
	}

	return g.Wait()
}

// MonitorMode refreshes market data and serves the API and dashboard
// snapshots without ever placing an order.
func (a *App) MonitorMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting monitor mode")

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return deps.Refresher.Run(ctx)
	})

	// Snapshots are published on the engine tick cadence even though no
	// coordinator is running.
	g.Go(func() error {
		ticker := time.NewTicker(a.cfg.Engine.TickInterval.Duration)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-ticker.C:
				deps.Builder.PublishTick(ctx)
			}
		}
	})

	a.startHTTPServer(ctx, g, deps)

	return g.Wait()
}

// reconcileLoop periodically checks that balances plus positions equal the
// initial balance plus recorded profit. A mismatch halts trading on every
// coin until an operator intervenes.
func (a *App) reconcileLoop(ctx context.Context, deps *Dependencies) error {
	ticker := time.NewTicker(reconcileInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			snap := deps.Book.Snapshot()
			marks := deps.Builder.Marks()
			drift, ok := deps.Ledger.Reconcile(snap, marks, a.cfg.Engine.ReconcileTolerance)
			if ok {
				continue
			}

			reason := fmt.Sprintf("reconciliation mismatch: drift %.4f exceeds tolerance %.4f",
				drift, a.cfg.Engine.ReconcileTolerance)
			for _, coin := range a.cfg.Coins {
				deps.Book.PauseCoin(coin, reason)
			}

			if deps.AuditStore != nil {
				if err := deps.AuditStore.Log(ctx, notify.EventReconcileMismatch, map[string]any{
					"drift":     drift,
					"tolerance": a.cfg.Engine.ReconcileTolerance,
				}); err != nil {
					a.logger.ErrorContext(ctx, "audit log failed", slog.String("error", err.Error()))
				}
			}

			if err := deps.Notifier.Notify(ctx, notify.EventReconcileMismatch,
				"Trading halted", reason,
				notify.Field{Key: "drift", Value: fmt.Sprintf("%.4f", drift)},
				notify.Field{Key: "tolerance", Value: fmt.Sprintf("%.4f", a.cfg.Engine.ReconcileTolerance)},
			); err != nil {
				a.logger.ErrorContext(ctx, "notify failed", slog.String("error", err.Error()))
			}
		}
	}
}

// startHTTPServer builds the handlers, WebSocket hub, and HTTP server, and
// registers their goroutines on g.
func (a *App) startHTTPServer(ctx context.Context, g *errgroup.Group, deps *Dependencies) {
	hub := ws.NewHub(deps.SignalBus, a.cfg.Mode, a.logger)
	g.Go(func() error {
		return hub.Run(ctx)
	})

	handlers := server.Handlers{
		Health: handler.NewHealthHandler(a.logger),
		Status: handler.NewStatusHandler(
			a.cfg.Mode,
			a.cfg.Coins,
			deps.Venues,
			deps.Book,
			deps.Ledger,
			time.Now().UTC(),
		),
		Trades:    handler.NewTradesHandler(deps.Ledger, deps.LedgerStore, a.logger),
		Positions: handler.NewPositionsHandler(deps.Book),
	}

	srv := server.NewServer(server.Config{
		Port:        a.cfg.Server.Port,
		CORSOrigins: a.cfg.Server.CORSOrigins,
		APIKey:      a.cfg.Server.APIKey,
		RateLimit:   a.cfg.Server.RateLimit,
		RateWindow:  a.cfg.Server.RateWindow.Duration,
	}, handlers, hub, deps.RateLimiter, a.logger)

	g.Go(func() error {
		errCh := make(chan error, 1)
		go func() { errCh <- srv.Start() }()

		select {
		case err := <-errCh:
			return err
		case <-ctx.Done():
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			if err := srv.Shutdown(shutdownCtx); err != nil {
				a.logger.Error("server shutdown failed", slog.String("error", err.Error()))
			}
			return ctx.Err()
		}
	})
}
