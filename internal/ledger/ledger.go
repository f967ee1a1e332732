// Package ledger keeps the append-only trade history and derives all
// statistics from it. Records are immutable once appended; statistics and
// the account overview are pure functions of the ledger plus a book
// snapshot, so recomputing them never changes the answer.
package ledger

import (
	"context"
	"encoding/json"
	"log/slog"
	"strings"
	"sync"

	"github.com/lczhang/crossarb/internal/book"
	"github.com/lczhang/crossarb/internal/domain"
)

// TradeChannel carries every appended record over the signal bus.
const TradeChannel = "trades"

// TradeStream is the durable stream mirror of TradeChannel.
const TradeStream = "stream:trades"

// Ledger is safe for concurrent use. store and bus are optional mirrors; the
// in-memory log is authoritative for statistics.
type Ledger struct {
	initialBalance float64
	store          domain.LedgerStore
	bus            domain.SignalBus
	audit          domain.AuditStore
	logger         *slog.Logger

	mu   sync.RWMutex
	recs []domain.TradeRecord
}

// New builds a Ledger. store and bus may be nil.
func New(initialBalance float64, store domain.LedgerStore, bus domain.SignalBus, logger *slog.Logger) *Ledger {
	return &Ledger{
		initialBalance: initialBalance,
		store:          store,
		bus:            bus,
		logger:         logger.With(slog.String("component", "ledger")),
	}
}

// SetAudit attaches an audit sink for failed and errored records.
func (l *Ledger) SetAudit(audit domain.AuditStore) { l.audit = audit }

// Record appends one terminal TradeRecord, persists it and publishes it.
// Persistence and publish failures are logged, never allowed to lose the
// in-memory append.
func (l *Ledger) Record(ctx context.Context, rec domain.TradeRecord) error {
	l.mu.Lock()
	l.recs = append(l.recs, rec)
	l.mu.Unlock()

	if l.store != nil {
		if err := l.store.Append(ctx, rec); err != nil {
			l.logger.Error("ledger persist failed",
				slog.String("trade_id", rec.ID),
				slog.String("error", err.Error()),
			)
		}
	}
	if l.bus != nil {
		payload, err := json.Marshal(rec)
		if err == nil {
			if err := l.bus.Publish(ctx, TradeChannel, payload); err != nil {
				l.logger.Warn("trade publish failed", slog.String("error", err.Error()))
			}
			if err := l.bus.StreamAppend(ctx, TradeStream, payload); err != nil {
				l.logger.Warn("trade stream append failed", slog.String("error", err.Error()))
			}
		}
	}

	// Failures leave an audit trail beyond the ledger row.
	if l.audit != nil && (rec.Status == domain.TradeFailed || rec.Status == domain.TradeError) {
		if err := l.audit.Log(ctx, "trade_"+strings.ToLower(string(rec.Status)), map[string]any{
			"trade_id": rec.ID,
			"type":     string(rec.Type),
			"coin":     rec.Coin,
		}); err != nil {
			l.logger.Warn("audit log failed", slog.String("error", err.Error()))
		}
	}

	l.logger.Info("trade recorded",
		slog.String("trade_id", rec.ID),
		slog.String("type", string(rec.Type)),
		slog.String("status", string(rec.Status)),
		slog.String("coin", rec.Coin),
		slog.Float64("net_profit", rec.NetProfit),
	)
	return nil
}

// Recent returns up to n newest records, newest first.
func (l *Ledger) Recent(n int) []domain.TradeRecord {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if n > len(l.recs) {
		n = len(l.recs)
	}
	out := make([]domain.TradeRecord, 0, n)
	for i := len(l.recs) - 1; i >= len(l.recs)-n; i-- {
		out = append(out, l.recs[i])
	}
	return out
}

// Stats recomputes trade statistics from the full ledger.
func (l *Ledger) Stats() domain.TradeStats {
	l.mu.RLock()
	defer l.mu.RUnlock()

	stats := domain.TradeStats{ByType: make(map[domain.TradeType]domain.TypeStats)}
	for _, rec := range l.recs {
		stats.TotalTrades++
		stats.TotalProfit += rec.NetProfit
		stats.TotalFees += rec.Fees

		ts := stats.ByType[rec.Type]
		ts.Count++
		ts.TotalProfit += rec.NetProfit
		if rec.Status.Successful() {
			stats.SuccessTrades++
			ts.Success++
		} else {
			stats.FailedTrades++
			ts.Failed++
		}
		ts.AvgProfit = ts.TotalProfit / float64(ts.Count)
		stats.ByType[rec.Type] = ts
	}
	if stats.TotalTrades > 0 {
		stats.WinRate = float64(stats.SuccessTrades) / float64(stats.TotalTrades)
	}
	return stats
}

// Overview derives the account aggregate from the ledger and a book
// snapshot. marks maps coin to its current reference price; a position in a
// coin with no mark is valued at its entry price.
func (l *Ledger) Overview(snap book.Snapshot, marks map[string]float64) domain.AccountOverview {
	stats := l.Stats()

	var current, liquid, frozen float64
	for _, assets := range snap.Balances {
		for asset, bal := range assets {
			mark := 1.0
			if asset != domain.QuoteAsset {
				mark = markOr(marks, asset, 0)
			}
			liquid += bal.Available * mark
			frozen += bal.Frozen * mark
			if asset == domain.QuoteAsset {
				current += bal.Available
			}
		}
	}

	var unhedgedValue float64
	for _, pos := range snap.Unhedged {
		unhedgedValue += pos.Amount * markOr(marks, pos.Coin, pos.EntryPrice)
	}
	var shortValue float64
	for _, pos := range snap.Shorts {
		// A short's carried value is its unrealized profit and loss.
		shortValue += pos.Size * (pos.EntryPrice - markOr(marks, pos.Coin, pos.EntryPrice))
	}

	total := liquid + frozen + unhedgedValue + shortValue
	overview := domain.AccountOverview{
		InitialBalance:     l.initialBalance,
		CurrentBalance:     current,
		TotalAssetValue:    total,
		TotalProfit:        stats.TotalProfit,
		TotalFees:          stats.TotalFees,
		UnhedgedValue:      unhedgedValue,
		ShortPositionValue: shortValue,
		FrozenAssets:       frozen,
	}
	if l.initialBalance > 0 {
		overview.ProfitRate = stats.TotalProfit / l.initialBalance
	}
	return overview
}

// Reconcile compares the observed asset value against initial balance plus
// recorded profit. A drift beyond tolerance means tracked state and venue
// reality disagree and the mismatch needs review.
func (l *Ledger) Reconcile(snap book.Snapshot, marks map[string]float64, tolerance float64) (float64, bool) {
	overview := l.Overview(snap, marks)
	expected := l.initialBalance + overview.TotalProfit
	drift := overview.TotalAssetValue - expected
	if drift < 0 {
		drift = -drift
	}
	ok := drift <= tolerance
	if !ok {
		l.logger.Error("reconciliation mismatch",
			slog.Float64("expected", expected),
			slog.Float64("observed", overview.TotalAssetValue),
			slog.Float64("drift", drift),
		)
	}
	return drift, ok
}

// Load seeds the in-memory log from persisted records, oldest first. Called
// once at startup before trading begins.
func (l *Ledger) Load(recs []domain.TradeRecord) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.recs = append(l.recs[:0], recs...)
}

// Count returns the number of records appended so far.
func (l *Ledger) Count() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.recs)
}

func markOr(marks map[string]float64, coin string, fallback float64) float64 {
	if mark, ok := marks[coin]; ok && mark > 0 {
		return mark
	}
	return fallback
}
