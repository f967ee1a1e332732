package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func validConfig() Config {
	cfg := Defaults()
	cfg.Venues = []VenueConfig{
		{Name: "alpha", MakerFeeRate: 0.0008, TakerFeeRate: 0.001},
		{Name: "beta", MakerFeeRate: 0.0008, TakerFeeRate: 0.001},
	}
	return cfg
}

func TestValidateAcceptsDefaultsWithVenues(t *testing.T) {
	cfg := validConfig()
	require.NoError(t, cfg.Validate())
}

func TestValidateRejectsBadValues(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{"unknown mode", func(c *Config) { c.Mode = "yolo" }, "unknown mode"},
		{"one venue", func(c *Config) { c.Venues = c.Venues[:1] }, "at least two venues"},
		{"duplicate venue", func(c *Config) { c.Venues[1].Name = "alpha" }, "duplicate name"},
		{"bad fee", func(c *Config) { c.Venues[0].TakerFeeRate = 1.5 }, "taker_fee_rate"},
		{"unknown futures venue", func(c *Config) { c.Hedge.FuturesVenue = "gamma" }, "futures_venue"},
		{"cancel above min", func(c *Config) { c.Pending.CancelThreshold = 0.01 }, "cancel_threshold"},
		{"no coins", func(c *Config) { c.Coins = nil }, "coins must not be empty"},
		{"bad target share", func(c *Config) {
			c.Rebalance.TargetShare = map[string]float64{"alpha": 0.8, "beta": 0.7}
		}, "sum above 1"},
		{"zero balance", func(c *Config) { c.InitialBalance = 0 }, "initial_balance"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(&cfg)
			err := cfg.Validate()
			require.Error(t, err)
			require.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestValidateTradeModeRequiresCredentials(t *testing.T) {
	cfg := validConfig()
	cfg.Mode = "trade"
	err := cfg.Validate()
	require.Error(t, err)
	require.Contains(t, err.Error(), "api_key and base_url are required")

	for i := range cfg.Venues {
		cfg.Venues[i].APIKey = "k"
		cfg.Venues[i].BaseURL = "https://example.com"
	}
	require.NoError(t, cfg.Validate())
}

func TestLoadMergesFileAndEnv(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.toml")
	toml := `
mode = "monitor"
coins = ["SOL"]

[[venues]]
name = "alpha"
taker_fee_rate = 0.001

[[venues]]
name = "beta"
taker_fee_rate = 0.002

[scanner]
min_profit_rate = 0.01

[engine]
tick_interval = "500ms"
`
	require.NoError(t, os.WriteFile(path, []byte(toml), 0o644))

	t.Setenv("CROSSARB_MODE", "paper")
	t.Setenv("CROSSARB_SCANNER_MAX_POSITION", "3.5")
	t.Setenv("CROSSARB_COINS", "BTC, ETH")

	cfg, err := Load(path)
	require.NoError(t, err)

	// Env beats file, file beats defaults.
	require.Equal(t, "paper", cfg.Mode)
	require.InDelta(t, 0.01, cfg.Scanner.MinProfitRate, 1e-9)
	require.InDelta(t, 3.5, cfg.Scanner.MaxPosition, 1e-9)
	require.Equal(t, []string{"BTC", "ETH"}, cfg.Coins)
	require.Equal(t, 500*time.Millisecond, cfg.Engine.TickInterval.Duration)
	// Untouched defaults survive.
	require.Equal(t, 8000, cfg.Server.Port)
}

func TestRedactedConfigHidesSecrets(t *testing.T) {
	cfg := validConfig()
	cfg.Venues[0].APIKey = "super-secret"
	cfg.Postgres.Password = "hunter2"
	cfg.Notify.TelegramToken = "tok"

	red := RedactedConfig(&cfg)

	require.Equal(t, "***", red.Venues[0].APIKey)
	require.Equal(t, "***", red.Postgres.Password)
	require.Equal(t, "***", red.Notify.TelegramToken)
	// Original untouched.
	require.Equal(t, "super-secret", cfg.Venues[0].APIKey)
	// Empty secrets stay empty.
	require.Empty(t, red.Venues[1].APIKey)
}
