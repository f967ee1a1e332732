package app

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/lczhang/crossarb/internal/book"
	"github.com/lczhang/crossarb/internal/broadcast"
	"github.com/lczhang/crossarb/internal/bus"
	"github.com/lczhang/crossarb/internal/cache/redis"
	"github.com/lczhang/crossarb/internal/config"
	"github.com/lczhang/crossarb/internal/domain"
	"github.com/lczhang/crossarb/internal/engine"
	"github.com/lczhang/crossarb/internal/gateway"
	"github.com/lczhang/crossarb/internal/ledger"
	"github.com/lczhang/crossarb/internal/market"
	"github.com/lczhang/crossarb/internal/notify"
	"github.com/lczhang/crossarb/internal/pending"
	"github.com/lczhang/crossarb/internal/rebalance"
	"github.com/lczhang/crossarb/internal/scanner"
	"github.com/lczhang/crossarb/internal/store/postgres"
)

// ledgerSeedLimit bounds how much trade history is reloaded on startup.
const ledgerSeedLimit = 1000

// Dependencies bundles everything the application modes need to operate. It
// is constructed by Wire and torn down by the returned cleanup function.
type Dependencies struct {
	Book        *book.Book
	MarketStore *market.Store
	Venues      []*domain.Venue
	Gateways    map[string]domain.Gateway

	Scanner     *scanner.Scanner
	Executor    *engine.Executor
	Resolver    *engine.Resolver
	Pending     *pending.Engine
	Rebalancer  *rebalance.Rebalancer
	Coordinator *engine.Coordinator
	Refresher   *market.Refresher

	Ledger  *ledger.Ledger
	Builder *broadcast.Builder

	SignalBus   domain.SignalBus
	DepthCache  domain.DepthCache
	RateLimiter domain.RateLimiter
	LockManager domain.LockManager

	LedgerStore  domain.LedgerStore
	PendingStore domain.PendingOrderStore
	AuditStore   domain.AuditStore

	Notifier *notify.Notifier
}

// Wire constructs all concrete dependency implementations from the given
// configuration and returns them together with a cleanup function that
// should be called on shutdown to release resources.
func Wire(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Dependencies, func(), error) {
	var closers []func()
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}

	deps := &Dependencies{}

	// --- Redis (optional) ---
	if cfg.Redis.Enabled {
		redisClient, err := redis.New(ctx, redis.ClientConfig{
			Addr:       cfg.Redis.Addr,
			Password:   cfg.Redis.Password,
			DB:         cfg.Redis.DB,
			PoolSize:   cfg.Redis.PoolSize,
			MaxRetries: cfg.Redis.MaxRetries,
			TLSEnabled: cfg.Redis.TLSEnabled,
		})
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: redis: %w", err)
		}
		closers = append(closers, func() { _ = redisClient.Close() })

		deps.DepthCache = redis.NewDepthCache(redisClient)
		deps.RateLimiter = redis.NewRateLimiter(redisClient)
		deps.LockManager = redis.NewLockManager(redisClient)
		deps.SignalBus = redis.NewSignalBus(redisClient)
	} else {
		deps.SignalBus = bus.NewMemory(0)
	}

	// --- PostgreSQL (optional) ---
	if cfg.Postgres.Enabled {
		pgClient, err := postgres.New(ctx, postgres.ClientConfig{
			DSN:      cfg.Postgres.DSN,
			Host:     cfg.Postgres.Host,
			Port:     cfg.Postgres.Port,
			Database: cfg.Postgres.Database,
			User:     cfg.Postgres.User,
			Password: cfg.Postgres.Password,
			SSLMode:  cfg.Postgres.SSLMode,
			MaxConns: cfg.Postgres.PoolMaxConns,
			MinConns: cfg.Postgres.PoolMinConns,
		})
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: postgres: %w", err)
		}
		closers = append(closers, pgClient.Close)

		if cfg.Postgres.RunMigrations {
			if err := pgClient.RunMigrations(ctx); err != nil {
				cleanup()
				return nil, nil, fmt.Errorf("wire: postgres migrations: %w", err)
			}
		}

		pool := pgClient.Pool()
		deps.LedgerStore = postgres.NewLedgerStore(pool)
		deps.PendingStore = postgres.NewPendingOrderStore(pool)
		deps.AuditStore = postgres.NewAuditStore(pool)
	}

	// --- Notifications ---
	var senders []notify.Sender
	if cfg.Notify.TelegramToken != "" && cfg.Notify.TelegramChatID != "" {
		senders = append(senders, notify.NewTelegramSender(
			cfg.Notify.TelegramToken,
			cfg.Notify.TelegramChatID,
		))
	}
	if cfg.Notify.DiscordWebhookURL != "" {
		senders = append(senders, notify.NewDiscordSender(cfg.Notify.DiscordWebhookURL))
	}
	deps.Notifier = notify.NewNotifier(senders, cfg.Notify.Events, logger)

	// --- Venues and gateways ---
	deps.Gateways = make(map[string]domain.Gateway, len(cfg.Venues))
	gatewayList := make([]domain.Gateway, 0, len(cfg.Venues))
	for _, vc := range cfg.Venues {
		gw, err := buildGateway(cfg.Mode, vc)
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: venue %s: %w", vc.Name, err)
		}
		wrapped := gateway.NewRetryGateway(gw, gateway.RetryConfig{
			MaxAttempts: cfg.Executor.RetryMaxAttempts,
			BaseDelay:   cfg.Executor.RetryBaseDelay.Duration,
			MaxDelay:    cfg.Executor.RetryMaxDelay.Duration,
			RateLimit:   cfg.Executor.RateLimit,
			RateWindow:  cfg.Executor.RateWindow.Duration,
		}, deps.RateLimiter, logger)
		deps.Gateways[vc.Name] = wrapped
		gatewayList = append(gatewayList, wrapped)
		deps.Venues = append(deps.Venues, wrapped.Venue())
	}

	// --- Core state and market data ---
	deps.Book = book.New()
	deps.MarketStore = market.NewStore(cfg.Market.MaxStale.Duration)
	deps.Refresher = market.NewRefresher(
		gatewayList,
		cfg.Coins,
		deps.MarketStore,
		deps.Book,
		deps.DepthCache,
		cfg.Market.RefreshInterval.Duration,
		cfg.Market.DepthLevels,
		cfg.Market.MaxParallel,
		logger,
	)

	// --- Ledger, seeded from persisted history when available ---
	deps.Ledger = ledger.New(cfg.InitialBalance, deps.LedgerStore, deps.SignalBus, logger)
	if deps.AuditStore != nil {
		deps.Ledger.SetAudit(deps.AuditStore)
	}
	if deps.LedgerStore != nil {
		recs, err := deps.LedgerStore.ListRecent(ctx, ledgerSeedLimit)
		if err != nil {
			logger.WarnContext(ctx, "ledger seed failed, starting empty",
				slog.String("error", err.Error()),
			)
		} else {
			// ListRecent returns newest first; the ledger wants append order.
			for i, j := 0, len(recs)-1; i < j; i, j = i+1, j-1 {
				recs[i], recs[j] = recs[j], recs[i]
			}
			deps.Ledger.Load(recs)
		}
	}

	// --- Trading components ---
	deps.Scanner = scanner.New(scanner.Config{
		MinProfitRate:  cfg.Scanner.MinProfitRate,
		MaxPosition:    cfg.Scanner.MaxPosition,
		MinTradeAmount: cfg.Scanner.MinTradeAmount,
	}, deps.Venues, logger)

	execCfg := engine.ExecutorConfig{
		PollInterval:  cfg.Executor.PollInterval.Duration,
		LegTimeout:    cfg.Executor.LegTimeout.Duration,
		MaxPriceDrift: cfg.Executor.MaxPriceDrift,
	}
	deps.Executor = engine.NewExecutor(execCfg, deps.Gateways, deps.MarketStore, deps.Book, deps.Ledger, logger)

	deps.Resolver = engine.NewResolver(engine.HedgePolicy{
		FuturesVenue:    cfg.Hedge.FuturesVenue,
		FuturesFeeRate:  cfg.Hedge.FuturesFeeRate,
		FundingCostRate: cfg.Hedge.FundingCostRate,
		MinHedgeAmount:  cfg.Hedge.MinHedgeAmount,
	}, execCfg, deps.Gateways, deps.MarketStore, deps.Book, deps.Ledger, logger)

	if cfg.Pending.Enabled {
		deps.Pending = pending.NewEngine(pending.Config{
			MinProfitRate:       cfg.Pending.MinProfitRate,
			CancelThreshold:     cfg.Pending.CancelThreshold,
			MaxUnfavorablePolls: cfg.Pending.MaxUnfavorablePolls,
			MaxLifetime:         cfg.Pending.MaxLifetime.Duration,
			MaxAmount:           cfg.Pending.MaxAmount,
			MinAmount:           cfg.Pending.MinAmount,
		}, deps.Gateways, deps.MarketStore, deps.Book, deps.Ledger, deps.PendingStore, deps.Notifier, logger)
	}

	deps.Rebalancer = rebalance.New(rebalance.Config{
		TargetShare:    cfg.Rebalance.TargetShare,
		Tolerance:      cfg.Rebalance.Tolerance,
		MinTradeAmount: cfg.Rebalance.MinTradeAmount,
		MaxTradeAmount: cfg.Rebalance.MaxTradeAmount,
		PollInterval:   cfg.Rebalance.PollInterval.Duration,
		OrderTimeout:   cfg.Rebalance.OrderTimeout.Duration,
	}, deps.Gateways, deps.MarketStore, deps.Book, deps.Ledger, logger)

	// --- Broadcast ---
	var pendingSrc broadcast.PendingSource
	if deps.Pending != nil {
		pendingSrc = deps.Pending
	}
	deps.Builder = broadcast.NewBuilder(
		deps.Ledger,
		deps.Book,
		deps.MarketStore,
		pendingSrc,
		deps.Venues,
		cfg.Coins,
		deps.SignalBus,
		50,
		logger,
	)

	// --- Coordinator ---
	var pendingEngine engine.PendingEngine
	if deps.Pending != nil {
		pendingEngine = deps.Pending
	}
	var rebalancer engine.Rebalancer
	if cfg.Rebalance.EveryNTicks > 0 {
		rebalancer = deps.Rebalancer
	}
	deps.Coordinator = engine.NewCoordinator(engine.CoordinatorConfig{
		TickInterval:         cfg.Engine.TickInterval.Duration,
		RebalanceEveryNTicks: cfg.Rebalance.EveryNTicks,
	}, cfg.Coins, deps.MarketStore, deps.Book, deps.Scanner, deps.Executor,
		deps.Resolver, pendingEngine, rebalancer, deps.Builder, logger)

	return deps, cleanup, nil
}

// buildGateway constructs one venue gateway for the given mode. Paper and
// monitor modes run simulated venues seeded from the config; trade mode
// looks up the live adapter registered for the venue name.
func buildGateway(mode string, vc config.VenueConfig) (domain.Gateway, error) {
	switch strings.ToLower(mode) {
	case "trade":
		return gateway.NewLive(gateway.LiveConfig{
			Name:         vc.Name,
			MakerFeeRate: vc.MakerFeeRate,
			TakerFeeRate: vc.TakerFeeRate,
			APIKey:       vc.APIKey,
			APISecret:    vc.APISecret,
			BaseURL:      vc.BaseURL,
		})
	default:
		sim := gateway.NewSim(vc.Name, vc.MakerFeeRate, vc.TakerFeeRate)
		if vc.FillRatio > 0 {
			sim.FillRatio = vc.FillRatio
		}
		if vc.QuoteBalance > 0 {
			sim.SetBalance(domain.QuoteAsset, vc.QuoteBalance)
		}
		for coin, amount := range vc.CoinBalances {
			sim.SetBalance(coin, amount)
		}
		return sim, nil
	}
}
