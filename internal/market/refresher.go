package market

import (
	"context"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/lczhang/crossarb/internal/book"
	"github.com/lczhang/crossarb/internal/domain"
)

// Refresher polls depth and balances from every venue on a fixed cadence.
// Each venue refresh runs in its own goroutine with a shared concurrency
// bound. A venue that errors is marked disconnected and skipped by the
// scanner until a later cycle succeeds.
type Refresher struct {
	gateways    []domain.Gateway
	coins       []string
	store       *Store
	book        *book.Book
	depthCache  domain.DepthCache
	interval    time.Duration
	depthLevels int
	maxParallel int
	logger      *slog.Logger
}

// NewRefresher builds a Refresher. depthCache may be nil when Redis
// mirroring is disabled. depthLevels caps how many price levels per side are
// kept from each snapshot; zero keeps everything the venue returns.
func NewRefresher(
	gateways []domain.Gateway,
	coins []string,
	store *Store,
	bk *book.Book,
	depthCache domain.DepthCache,
	interval time.Duration,
	depthLevels int,
	maxParallel int,
	logger *slog.Logger,
) *Refresher {
	if maxParallel < 1 {
		maxParallel = len(gateways)
	}
	return &Refresher{
		gateways:    gateways,
		coins:       coins,
		store:       store,
		book:        bk,
		depthCache:  depthCache,
		interval:    interval,
		depthLevels: depthLevels,
		maxParallel: maxParallel,
		logger:      logger.With(slog.String("component", "market_refresher")),
	}
}

// Run refreshes once immediately, then on every tick until ctx is done.
func (r *Refresher) Run(ctx context.Context) error {
	r.logger.Info("market refresher starting",
		slog.Duration("interval", r.interval),
		slog.Int("venues", len(r.gateways)),
		slog.Int("coins", len(r.coins)),
	)

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	r.RefreshAll(ctx)
	for {
		select {
		case <-ctx.Done():
			r.logger.Info("market refresher stopping")
			return ctx.Err()
		case <-ticker.C:
			r.RefreshAll(ctx)
		}
	}
}

// RefreshAll refreshes every venue concurrently and waits for the cycle to
// finish. Per-venue errors disconnect that venue but never fail the cycle.
func (r *Refresher) RefreshAll(ctx context.Context) {
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.maxParallel)
	for _, gw := range r.gateways {
		gw := gw
		g.Go(func() error {
			r.refreshVenue(gctx, gw)
			return nil
		})
	}
	_ = g.Wait()
}

func (r *Refresher) refreshVenue(ctx context.Context, gw domain.Gateway) {
	venue := gw.Venue()
	log := r.logger.With(slog.String("venue", venue.Name))

	balances, err := gw.GetBalance(ctx)
	if err != nil {
		r.disconnect(venue, log, "balance refresh failed", err)
		return
	}
	r.book.ApplyVenueBalances(venue.Name, balances)

	for _, coin := range r.coins {
		snap, err := gw.GetDepth(ctx, coin)
		if err != nil {
			r.disconnect(venue, log, "depth refresh failed", err)
			return
		}
		if !snap.Valid() {
			log.Warn("skipping invalid depth snapshot", slog.String("coin", coin))
			continue
		}
		if r.depthLevels > 0 {
			if len(snap.Asks) > r.depthLevels {
				snap.Asks = snap.Asks[:r.depthLevels]
			}
			if len(snap.Bids) > r.depthLevels {
				snap.Bids = snap.Bids[:r.depthLevels]
			}
		}
		r.store.Put(snap)
		if r.depthCache != nil {
			if err := r.depthCache.SetSnapshot(ctx, snap); err != nil {
				log.Warn("depth cache write failed",
					slog.String("coin", coin),
					slog.String("error", err.Error()),
				)
			}
		}
	}

	if !venue.Connected() {
		log.Info("venue reconnected")
	}
	venue.SetConnected(true)
}

func (r *Refresher) disconnect(venue *domain.Venue, log *slog.Logger, msg string, err error) {
	if venue.Connected() {
		log.Warn(msg, slog.String("error", err.Error()))
	}
	venue.SetConnected(false)
}
