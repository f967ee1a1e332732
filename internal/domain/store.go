package domain

import (
	"context"
	"time"
)

// LedgerStore persists terminal trade records. The ledger is append-only:
// implementations never update or delete a record.
type LedgerStore interface {
	Append(ctx context.Context, rec TradeRecord) error
	ListRecent(ctx context.Context, limit int) ([]TradeRecord, error)
	ListByCoin(ctx context.Context, coin string, limit int) ([]TradeRecord, error)
	Count(ctx context.Context) (int64, error)
}

// PendingOrderStore persists pending-order state so open resting orders
// survive a restart.
type PendingOrderStore interface {
	Create(ctx context.Context, po PendingOrder) error
	Update(ctx context.Context, po PendingOrder) error
	ListOpen(ctx context.Context) ([]PendingOrder, error)
}

// AuditEntry is a single audit log row.
type AuditEntry struct {
	ID        int64
	Event     string
	Detail    map[string]any
	CreatedAt time.Time
}

// AuditStore persists an append-only audit log. Every rejected order,
// exhausted retry, and reconciliation mismatch lands here so no error is
// silently dropped.
type AuditStore interface {
	Log(ctx context.Context, event string, detail map[string]any) error
	List(ctx context.Context, limit int) ([]AuditEntry, error)
}
