package handler

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/lczhang/crossarb/internal/book"
	"github.com/lczhang/crossarb/internal/domain"
	"github.com/lczhang/crossarb/internal/ledger"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestHealthCheck(t *testing.T) {
	h := NewHealthHandler(discardLogger())

	rec := httptest.NewRecorder()
	h.HealthCheck(rec, httptest.NewRequest(http.MethodGet, "/api/health", nil))

	require.Equal(t, http.StatusOK, rec.Code)

	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Equal(t, "ok", body["status"])
}

func TestGetStatusReportsPausedCoinsAndVenues(t *testing.T) {
	bk := book.New()
	bk.PauseCoin("ETH", "reconciliation mismatch")

	venueA := domain.NewVenue("alpha", 0.001, 0.002)
	venueA.SetConnected(true)
	venueB := domain.NewVenue("beta", 0.001, 0.002)

	led := ledger.New(1000, nil, nil, discardLogger())

	h := NewStatusHandler("paper", []string{"BTC", "ETH"},
		[]*domain.Venue{venueA, venueB}, bk, led, time.Now().Add(-time.Minute))

	rec := httptest.NewRecorder()
	h.GetStatus(rec, httptest.NewRequest(http.MethodGet, "/api/status", nil))

	require.Equal(t, http.StatusOK, rec.Code)

	var body struct {
		Mode        string            `json:"mode"`
		Uptime      int64             `json:"uptime_seconds"`
		Venues      map[string]bool   `json:"venues"`
		PausedCoins map[string]string `json:"paused_coins"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Equal(t, "paper", body.Mode)
	require.GreaterOrEqual(t, body.Uptime, int64(59))
	require.True(t, body.Venues["alpha"])
	require.False(t, body.Venues["beta"])
	require.Equal(t, "reconciliation mismatch", body.PausedCoins["ETH"])
	require.NotContains(t, body.PausedCoins, "BTC")
}

func TestListTradesFiltersByCoin(t *testing.T) {
	led := ledger.New(1000, nil, nil, discardLogger())
	ctx := context.Background()

	require.NoError(t, led.Record(ctx, domain.TradeRecord{
		ID: "1", Time: time.Now().UTC(), Type: domain.TradeArbitrage,
		Coin: "BTC", Amount: 1, NetProfit: 2, Status: domain.TradeSuccess,
	}))
	require.NoError(t, led.Record(ctx, domain.TradeRecord{
		ID: "2", Time: time.Now().UTC(), Type: domain.TradeArbitrage,
		Coin: "ETH", Amount: 1, NetProfit: 1, Status: domain.TradeSuccess,
	}))

	h := NewTradesHandler(led, nil, discardLogger())

	rec := httptest.NewRecorder()
	h.ListTrades(rec, httptest.NewRequest(http.MethodGet, "/api/trades?coin=ETH", nil))

	require.Equal(t, http.StatusOK, rec.Code)

	var body struct {
		Trades []domain.TradeRecord `json:"trades"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Len(t, body.Trades, 1)
	require.Equal(t, "ETH", body.Trades[0].Coin)
}

func TestGetStatsAggregates(t *testing.T) {
	led := ledger.New(1000, nil, nil, discardLogger())
	require.NoError(t, led.Record(context.Background(), domain.TradeRecord{
		ID: "1", Time: time.Now().UTC(), Type: domain.TradeArbitrage,
		Coin: "BTC", Amount: 1, NetProfit: 3, Status: domain.TradeSuccess,
	}))

	h := NewTradesHandler(led, nil, discardLogger())

	rec := httptest.NewRecorder()
	h.GetStats(rec, httptest.NewRequest(http.MethodGet, "/api/trades/stats", nil))

	require.Equal(t, http.StatusOK, rec.Code)

	var stats domain.TradeStats
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &stats))
	require.Equal(t, int64(1), stats.TotalTrades)
	require.InDelta(t, 3, stats.TotalProfit, 1e-9)
}

func TestListPositionsReturnsBookCopy(t *testing.T) {
	bk := book.New()
	bk.Deposit("alpha", domain.QuoteAsset, 500)
	bk.ApplyUnhedgedDelta("BTC", "alpha", 0.5, 100)

	h := NewPositionsHandler(bk)

	rec := httptest.NewRecorder()
	h.ListPositions(rec, httptest.NewRequest(http.MethodGet, "/api/positions", nil))

	require.Equal(t, http.StatusOK, rec.Code)

	var body struct {
		Balances map[string]map[string]domain.Balance `json:"balances"`
		Unhedged []domain.UnhedgedPosition            `json:"unhedged"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.InDelta(t, 500, body.Balances["alpha"][domain.QuoteAsset].Available, 1e-9)
	require.Len(t, body.Unhedged, 1)
	require.InDelta(t, 0.5, body.Unhedged[0].Amount, 1e-9)
}

func TestParseLimitBounds(t *testing.T) {
	require.Equal(t, 50, parseLimit(httptest.NewRequest(http.MethodGet, "/api/trades", nil)))
	require.Equal(t, 10, parseLimit(httptest.NewRequest(http.MethodGet, "/api/trades?limit=10", nil)))
	require.Equal(t, 500, parseLimit(httptest.NewRequest(http.MethodGet, "/api/trades?limit=9999", nil)))
	require.Equal(t, 50, parseLimit(httptest.NewRequest(http.MethodGet, "/api/trades?limit=-3", nil)))
}
