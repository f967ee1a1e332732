package handler

import (
	"log/slog"
	"net/http"

	"github.com/lczhang/crossarb/internal/domain"
	"github.com/lczhang/crossarb/internal/ledger"
)

// TradesHandler serves the trade ledger and its aggregated statistics.
type TradesHandler struct {
	ledger *ledger.Ledger
	store  domain.LedgerStore // optional; used for coin-filtered history
	logger *slog.Logger
}

// NewTradesHandler creates a TradesHandler. store may be nil when no
// persistence is configured; coin-filtered queries then fall back to the
// in-memory ledger.
func NewTradesHandler(led *ledger.Ledger, store domain.LedgerStore, logger *slog.Logger) *TradesHandler {
	return &TradesHandler{
		ledger: led,
		store:  store,
		logger: logHandler(logger, "trades"),
	}
}

// ListTrades responds with recent trade records, newest first.
// GET /api/trades?limit=50&coin=BTC
func (h *TradesHandler) ListTrades(w http.ResponseWriter, r *http.Request) {
	limit := parseLimit(r)
	coin := r.URL.Query().Get("coin")

	if coin != "" && h.store != nil {
		recs, err := h.store.ListByCoin(r.Context(), coin, limit)
		if err != nil {
			h.logger.ErrorContext(r.Context(), "list trades by coin failed",
				slog.String("coin", coin),
				slog.String("error", err.Error()),
			)
			writeError(w, http.StatusInternalServerError, "failed to list trades")
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"trades": recs})
		return
	}

	recs := h.ledger.Recent(limit)
	if coin != "" {
		filtered := recs[:0]
		for _, rec := range recs {
			if rec.Coin == coin {
				filtered = append(filtered, rec)
			}
		}
		recs = filtered
	}
	writeJSON(w, http.StatusOK, map[string]any{"trades": recs})
}

// GetStats responds with aggregated per-type trade statistics.
// GET /api/trades/stats
func (h *TradesHandler) GetStats(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.ledger.Stats())
}
