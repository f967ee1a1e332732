package handler

import (
	"net/http"
	"time"

	"github.com/lczhang/crossarb/internal/book"
	"github.com/lczhang/crossarb/internal/domain"
	"github.com/lczhang/crossarb/internal/ledger"
)

// StatusHandler reports the engine mode, venue connectivity, and any coins
// that the coordinator has paused.
type StatusHandler struct {
	Mode      string
	Coins     []string
	Venues    []*domain.Venue
	Book      *book.Book
	Ledger    *ledger.Ledger
	StartedAt time.Time
}

// NewStatusHandler creates a StatusHandler.
func NewStatusHandler(mode string, coins []string, venues []*domain.Venue, bk *book.Book, led *ledger.Ledger, startedAt time.Time) *StatusHandler {
	return &StatusHandler{
		Mode:      mode,
		Coins:     coins,
		Venues:    venues,
		Book:      bk,
		Ledger:    led,
		StartedAt: startedAt,
	}
}

// GetStatus responds with the current engine state.
// GET /api/status
func (h *StatusHandler) GetStatus(w http.ResponseWriter, r *http.Request) {
	venues := make(map[string]bool, len(h.Venues))
	for _, v := range h.Venues {
		venues[v.Name] = v.Connected()
	}

	paused := make(map[string]string)
	for _, coin := range h.Coins {
		if reason, ok := h.Book.Paused(coin); ok {
			paused[coin] = reason
		}
	}

	uptime := int64(time.Since(h.StartedAt).Seconds())
	if uptime < 0 {
		uptime = 0
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"mode":           h.Mode,
		"uptime_seconds": uptime,
		"venues":         venues,
		"paused_coins":   paused,
		"trade_count":    h.Ledger.Count(),
	})
}
