package handler

import (
	"net/http"

	"github.com/lczhang/crossarb/internal/book"
)

// PositionsHandler exposes the coin book: balances, unhedged exposures, and
// open futures shorts.
type PositionsHandler struct {
	book *book.Book
}

// NewPositionsHandler creates a PositionsHandler backed by the given book.
func NewPositionsHandler(bk *book.Book) *PositionsHandler {
	return &PositionsHandler{book: bk}
}

// ListPositions responds with a point-in-time copy of the coin book.
// GET /api/positions
func (h *PositionsHandler) ListPositions(w http.ResponseWriter, r *http.Request) {
	snap := h.book.Snapshot()
	writeJSON(w, http.StatusOK, map[string]any{
		"balances": snap.Balances,
		"unhedged": snap.Unhedged,
		"shorts":   snap.Shorts,
	})
}
