// Package config defines the top-level configuration for the arbitrage
// engine and provides validation helpers.
package config

import (
	"fmt"
	"strings"
	"time"
)

// Config is the root configuration structure. Fields are populated from a
// TOML file and then optionally overridden by CROSSARB_* environment
// variables.
type Config struct {
	Venues    []VenueConfig   `toml:"venues"`
	Coins     []string        `toml:"coins"`
	Market    MarketConfig    `toml:"market"`
	Scanner   ScannerConfig   `toml:"scanner"`
	Executor  ExecutorConfig  `toml:"executor"`
	Hedge     HedgeConfig     `toml:"hedge"`
	Pending   PendingConfig   `toml:"pending"`
	Rebalance RebalanceConfig `toml:"rebalance"`
	Engine    EngineConfig    `toml:"engine"`
	Redis     RedisConfig     `toml:"redis"`
	Postgres  PostgresConfig  `toml:"postgres"`
	Server    ServerConfig    `toml:"server"`
	Notify    NotifyConfig    `toml:"notify"`

	Mode           string  `toml:"mode"`
	LogLevel       string  `toml:"log_level"`
	InitialBalance float64 `toml:"initial_balance"`
}

// VenueConfig describes one exchange the engine trades on.
type VenueConfig struct {
	Name         string  `toml:"name"`
	MakerFeeRate float64 `toml:"maker_fee_rate"`
	TakerFeeRate float64 `toml:"taker_fee_rate"`

	// Paper-mode seeding: starting balances and the simulated fill ratio
	// for taker orders (1.0 fills fully).
	QuoteBalance float64            `toml:"quote_balance"`
	CoinBalances map[string]float64 `toml:"coin_balances"`
	FillRatio    float64            `toml:"fill_ratio"`

	// API credentials for live trading. Unused in paper and monitor modes.
	APIKey    string `toml:"api_key"`
	APISecret string `toml:"api_secret"`
	BaseURL   string `toml:"base_url"`
}

// MarketConfig controls depth and balance polling.
type MarketConfig struct {
	RefreshInterval duration `toml:"refresh_interval"`
	MaxParallel     int      `toml:"max_parallel"`
	DepthLevels     int      `toml:"depth_levels"`
	MaxStale        duration `toml:"max_stale"`
}

// ScannerConfig holds opportunity detection thresholds.
type ScannerConfig struct {
	MinProfitRate  float64 `toml:"min_profit_rate"`
	MaxPosition    float64 `toml:"max_position"`
	MinTradeAmount float64 `toml:"min_trade_amount"`
}

// ExecutorConfig bounds leg execution and venue call retries.
type ExecutorConfig struct {
	PollInterval  duration `toml:"poll_interval"`
	LegTimeout    duration `toml:"leg_timeout"`
	MaxPriceDrift float64  `toml:"max_price_drift"`

	RetryMaxAttempts int      `toml:"retry_max_attempts"`
	RetryBaseDelay   duration `toml:"retry_base_delay"`
	RetryMaxDelay    duration `toml:"retry_max_delay"`
	RateLimit        int      `toml:"rate_limit"`
	RateWindow       duration `toml:"rate_window"`
}

// HedgeConfig controls how unhedged exposure is offset.
type HedgeConfig struct {
	FuturesVenue    string  `toml:"futures_venue"`
	FuturesFeeRate  float64 `toml:"futures_fee_rate"`
	FundingCostRate float64 `toml:"funding_cost_rate"`
	MinHedgeAmount  float64 `toml:"min_hedge_amount"`
}

// PendingConfig controls the maker-order engine.
type PendingConfig struct {
	Enabled             bool     `toml:"enabled"`
	MinProfitRate       float64  `toml:"min_profit_rate"`
	CancelThreshold     float64  `toml:"cancel_threshold"`
	MaxUnfavorablePolls int      `toml:"max_unfavorable_polls"`
	MaxLifetime         duration `toml:"max_lifetime"`
	MaxAmount           float64  `toml:"max_amount"`
	MinAmount           float64  `toml:"min_amount"`
}

// RebalanceConfig controls inventory redistribution across venues.
type RebalanceConfig struct {
	EveryNTicks    int                `toml:"every_n_ticks"`
	TargetShare    map[string]float64 `toml:"target_share"`
	Tolerance      float64            `toml:"tolerance"`
	MinTradeAmount float64            `toml:"min_trade_amount"`
	MaxTradeAmount float64            `toml:"max_trade_amount"`
	PollInterval   duration           `toml:"poll_interval"`
	OrderTimeout   duration           `toml:"order_timeout"`
}

// EngineConfig holds coordinator-level parameters.
type EngineConfig struct {
	TickInterval       duration `toml:"tick_interval"`
	ReconcileTolerance float64  `toml:"reconcile_tolerance"`
}

// RedisConfig holds Redis connection parameters. Disabled leaves the engine
// fully functional with an in-process bus and no depth mirror.
type RedisConfig struct {
	Enabled    bool   `toml:"enabled"`
	Addr       string `toml:"addr"`
	Password   string `toml:"password"`
	DB         int    `toml:"db"`
	PoolSize   int    `toml:"pool_size"`
	MaxRetries int    `toml:"max_retries"`
	TLSEnabled bool   `toml:"tls_enabled"`
}

// PostgresConfig holds PostgreSQL connection parameters for the trade
// ledger, pending order and audit stores.
type PostgresConfig struct {
	Enabled       bool   `toml:"enabled"`
	DSN           string `toml:"dsn"`
	Host          string `toml:"host"`
	Port          int    `toml:"port"`
	Database      string `toml:"database"`
	User          string `toml:"user"`
	Password      string `toml:"password"`
	SSLMode       string `toml:"ssl_mode"`
	PoolMaxConns  int    `toml:"pool_max_conns"`
	PoolMinConns  int    `toml:"pool_min_conns"`
	RunMigrations bool   `toml:"run_migrations"`
}

// ServerConfig holds HTTP server parameters.
type ServerConfig struct {
	Enabled     bool     `toml:"enabled"`
	Port        int      `toml:"port"`
	CORSOrigins []string `toml:"cors_origins"`
	APIKey      string   `toml:"api_key"`
	RateLimit   int      `toml:"rate_limit"`
	RateWindow  duration `toml:"rate_window"`
}

// NotifyConfig holds notification channel credentials.
type NotifyConfig struct {
	TelegramToken     string   `toml:"telegram_token"`
	TelegramChatID    string   `toml:"telegram_chat_id"`
	DiscordWebhookURL string   `toml:"discord_webhook_url"`
	Events            []string `toml:"events"`
}

// duration wraps time.Duration for TOML decoding of strings like "5s".
type duration struct {
	time.Duration
}

// UnmarshalText implements encoding.TextUnmarshaler so the TOML decoder can
// parse duration strings like "5m" or "30s".
func (d *duration) UnmarshalText(text []byte) error {
	var err error
	d.Duration, err = time.ParseDuration(string(text))
	return err
}

// MarshalText implements encoding.TextMarshaler for round-trip encoding.
func (d duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// Defaults returns a Config populated with reasonable default values.
// These match the values in config.example.toml.
func Defaults() Config {
	return Config{
		Coins: []string{"BTC", "ETH"},
		Market: MarketConfig{
			RefreshInterval: duration{2 * time.Second},
			MaxParallel:     4,
			DepthLevels:     10,
			MaxStale:        duration{10 * time.Second},
		},
		Scanner: ScannerConfig{
			MinProfitRate:  0.005,
			MaxPosition:    10,
			MinTradeAmount: 0.001,
		},
		Executor: ExecutorConfig{
			PollInterval:     duration{200 * time.Millisecond},
			LegTimeout:       duration{10 * time.Second},
			MaxPriceDrift:    0.002,
			RetryMaxAttempts: 3,
			RetryBaseDelay:   duration{200 * time.Millisecond},
			RetryMaxDelay:    duration{2 * time.Second},
			RateLimit:        0,
			RateWindow:       duration{time.Second},
		},
		Hedge: HedgeConfig{
			FuturesFeeRate:  0.0005,
			FundingCostRate: 0.0001,
			MinHedgeAmount:  0.001,
		},
		Pending: PendingConfig{
			Enabled:             true,
			MinProfitRate:       0.003,
			CancelThreshold:     0.001,
			MaxUnfavorablePolls: 3,
			MaxLifetime:         duration{10 * time.Minute},
			MaxAmount:           5,
			MinAmount:           0.001,
		},
		Rebalance: RebalanceConfig{
			EveryNTicks:    30,
			Tolerance:      0.1,
			MinTradeAmount: 0.001,
			MaxTradeAmount: 5,
			PollInterval:   duration{200 * time.Millisecond},
			OrderTimeout:   duration{10 * time.Second},
		},
		Engine: EngineConfig{
			TickInterval:       duration{time.Second},
			ReconcileTolerance: 1.0,
		},
		Redis: RedisConfig{
			Enabled:    false,
			Addr:       "localhost:6379",
			DB:         0,
			PoolSize:   20,
			MaxRetries: 3,
			TLSEnabled: false,
		},
		Postgres: PostgresConfig{
			Enabled:       false,
			Host:          "localhost",
			Port:          5432,
			Database:      "crossarb",
			User:          "postgres",
			SSLMode:       "disable",
			PoolMaxConns:  10,
			PoolMinConns:  2,
			RunMigrations: true,
		},
		Server: ServerConfig{
			Enabled:     true,
			Port:        8000,
			CORSOrigins: []string{"http://localhost:3000", "http://localhost:5173"},
			RateWindow:  duration{time.Second},
		},
		Notify: NotifyConfig{
			Events: []string{"pending_failed", "reconcile_mismatch", "coin_paused"},
		},
		Mode:           "paper",
		LogLevel:       "info",
		InitialBalance: 10000,
	}
}

// validModes enumerates the accepted values for Config.Mode.
var validModes = map[string]bool{
	"trade":   true,
	"paper":   true,
	"monitor": true,
}

// validLogLevels enumerates the accepted values for Config.LogLevel.
var validLogLevels = map[string]bool{
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

// Validate checks Config for obviously invalid or missing values and returns
// a combined error describing every problem found.
func (c *Config) Validate() error {
	var errs []string

	if !validModes[strings.ToLower(c.Mode)] {
		errs = append(errs, fmt.Sprintf("unknown mode %q (valid: trade, paper, monitor)", c.Mode))
	}

	if !validLogLevels[strings.ToLower(c.LogLevel)] {
		errs = append(errs, fmt.Sprintf("unknown log_level %q (valid: debug, info, warn, error)", c.LogLevel))
	}

	if c.InitialBalance <= 0 {
		errs = append(errs, "initial_balance must be > 0")
	}

	if len(c.Coins) == 0 {
		errs = append(errs, "coins must not be empty")
	}

	if len(c.Venues) < 2 {
		errs = append(errs, fmt.Sprintf("at least two venues are required, got %d", len(c.Venues)))
	}
	seen := make(map[string]bool, len(c.Venues))
	for i, v := range c.Venues {
		if strings.TrimSpace(v.Name) == "" {
			errs = append(errs, fmt.Sprintf("venues[%d]: name must not be empty", i))
			continue
		}
		if seen[v.Name] {
			errs = append(errs, fmt.Sprintf("venues: duplicate name %q", v.Name))
		}
		seen[v.Name] = true
		if v.MakerFeeRate < 0 || v.MakerFeeRate >= 1 {
			errs = append(errs, fmt.Sprintf("venues[%s]: maker_fee_rate must be in [0, 1)", v.Name))
		}
		if v.TakerFeeRate < 0 || v.TakerFeeRate >= 1 {
			errs = append(errs, fmt.Sprintf("venues[%s]: taker_fee_rate must be in [0, 1)", v.Name))
		}
		if c.Mode == "trade" && (v.APIKey == "" || v.BaseURL == "") {
			errs = append(errs, fmt.Sprintf("venues[%s]: api_key and base_url are required for mode trade", v.Name))
		}
	}

	if c.Hedge.FuturesVenue != "" && !seen[c.Hedge.FuturesVenue] {
		errs = append(errs, fmt.Sprintf("hedge: futures_venue %q is not a configured venue", c.Hedge.FuturesVenue))
	}

	if c.Market.RefreshInterval.Duration <= 0 {
		errs = append(errs, "market: refresh_interval must be > 0")
	}
	if c.Market.DepthLevels < 1 {
		errs = append(errs, "market: depth_levels must be >= 1")
	}

	if c.Scanner.MinProfitRate <= 0 {
		errs = append(errs, "scanner: min_profit_rate must be > 0")
	}
	if c.Scanner.MaxPosition <= 0 {
		errs = append(errs, "scanner: max_position must be > 0")
	}

	if c.Executor.LegTimeout.Duration <= 0 {
		errs = append(errs, "executor: leg_timeout must be > 0")
	}
	if c.Executor.RetryMaxAttempts < 1 {
		errs = append(errs, "executor: retry_max_attempts must be >= 1")
	}

	if c.Pending.Enabled {
		if c.Pending.MinProfitRate <= 0 {
			errs = append(errs, "pending: min_profit_rate must be > 0 when enabled")
		}
		if c.Pending.CancelThreshold >= c.Pending.MinProfitRate {
			errs = append(errs, "pending: cancel_threshold must be below min_profit_rate")
		}
		if c.Pending.MaxUnfavorablePolls < 1 {
			errs = append(errs, "pending: max_unfavorable_polls must be >= 1")
		}
	}

	if c.Rebalance.EveryNTicks > 0 {
		var total float64
		for venue, share := range c.Rebalance.TargetShare {
			if !seen[venue] {
				errs = append(errs, fmt.Sprintf("rebalance: target_share venue %q is not configured", venue))
			}
			if share < 0 || share > 1 {
				errs = append(errs, fmt.Sprintf("rebalance: target_share[%s] must be in [0, 1]", venue))
			}
			total += share
		}
		if total > 1+1e-9 {
			errs = append(errs, "rebalance: target_share values must not sum above 1")
		}
		if c.Rebalance.Tolerance <= 0 || c.Rebalance.Tolerance >= 1 {
			errs = append(errs, "rebalance: tolerance must be in (0, 1)")
		}
	}

	if c.Engine.TickInterval.Duration <= 0 {
		errs = append(errs, "engine: tick_interval must be > 0")
	}

	if c.Redis.Enabled {
		if c.Redis.Addr == "" {
			errs = append(errs, "redis: addr must not be empty when enabled")
		}
		if c.Redis.PoolSize < 1 {
			errs = append(errs, "redis: pool_size must be >= 1")
		}
	}

	if c.Postgres.Enabled && strings.TrimSpace(c.Postgres.DSN) == "" {
		if c.Postgres.Host == "" {
			errs = append(errs, "postgres: host must not be empty (or set postgres.dsn)")
		}
		if c.Postgres.Port <= 0 || c.Postgres.Port > 65535 {
			errs = append(errs, fmt.Sprintf("postgres: port must be 1-65535, got %d", c.Postgres.Port))
		}
		if c.Postgres.Database == "" {
			errs = append(errs, "postgres: database must not be empty")
		}
	}
	if c.Postgres.Enabled {
		if c.Postgres.PoolMaxConns < 1 {
			errs = append(errs, "postgres: pool_max_conns must be >= 1")
		}
		if c.Postgres.PoolMinConns < 0 || c.Postgres.PoolMinConns > c.Postgres.PoolMaxConns {
			errs = append(errs, "postgres: pool_min_conns must be between 0 and pool_max_conns")
		}
	}

	if c.Server.Enabled {
		if c.Server.Port <= 0 || c.Server.Port > 65535 {
			errs = append(errs, fmt.Sprintf("server: port must be 1-65535, got %d", c.Server.Port))
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}
