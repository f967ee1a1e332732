package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/lczhang/crossarb/internal/domain"
)

// LedgerStore implements domain.LedgerStore using PostgreSQL. Records are
// insert-only; there is deliberately no update or delete path.
type LedgerStore struct {
	pool *pgxpool.Pool
}

// NewLedgerStore creates a LedgerStore backed by the given connection pool.
func NewLedgerStore(pool *pgxpool.Pool) *LedgerStore {
	return &LedgerStore{pool: pool}
}

const ledgerSelectCols = `id, traded_at, trade_type, coin, buy_venue, sell_venue,
	amount, buy_price, sell_price, fees, gross_profit, net_profit, status`

func scanTradeRecords(rows pgx.Rows) ([]domain.TradeRecord, error) {
	var recs []domain.TradeRecord
	for rows.Next() {
		var r domain.TradeRecord
		if err := rows.Scan(
			&r.ID, &r.Time, &r.Type, &r.Coin, &r.BuyVenue, &r.SellVenue,
			&r.Amount, &r.BuyPrice, &r.SellPrice,
			&r.Fees, &r.GrossProfit, &r.NetProfit, &r.Status,
		); err != nil {
			return nil, err
		}
		recs = append(recs, r)
	}
	return recs, rows.Err()
}

// Append inserts one terminal trade record. Re-inserting the same record ID
// is a no-op, which keeps replays after a crash idempotent.
func (s *LedgerStore) Append(ctx context.Context, rec domain.TradeRecord) error {
	const query = `
		INSERT INTO trade_ledger (
			id, traded_at, trade_type, coin, buy_venue, sell_venue,
			amount, buy_price, sell_price, fees, gross_profit, net_profit, status
		) VALUES (
			$1, $2, $3, $4, $5, $6,
			$7, $8, $9, $10, $11, $12, $13
		) ON CONFLICT (id) DO NOTHING`

	_, err := s.pool.Exec(ctx, query,
		rec.ID, rec.Time, rec.Type, rec.Coin, rec.BuyVenue, rec.SellVenue,
		rec.Amount, rec.BuyPrice, rec.SellPrice,
		rec.Fees, rec.GrossProfit, rec.NetProfit, rec.Status,
	)
	if err != nil {
		return fmt.Errorf("postgres: append trade record %s: %w", rec.ID, err)
	}
	return nil
}

// ListRecent returns up to limit newest records, newest first.
func (s *LedgerStore) ListRecent(ctx context.Context, limit int) ([]domain.TradeRecord, error) {
	query := `SELECT ` + ledgerSelectCols + ` FROM trade_ledger ORDER BY traded_at DESC LIMIT $1`
	rows, err := s.pool.Query(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("postgres: list recent trades: %w", err)
	}
	defer rows.Close()

	recs, err := scanTradeRecords(rows)
	if err != nil {
		return nil, fmt.Errorf("postgres: scan recent trades: %w", err)
	}
	return recs, nil
}

// ListByCoin returns up to limit newest records for one coin, newest first.
func (s *LedgerStore) ListByCoin(ctx context.Context, coin string, limit int) ([]domain.TradeRecord, error) {
	query := `SELECT ` + ledgerSelectCols + ` FROM trade_ledger WHERE coin = $1 ORDER BY traded_at DESC LIMIT $2`
	rows, err := s.pool.Query(ctx, query, coin, limit)
	if err != nil {
		return nil, fmt.Errorf("postgres: list trades by coin: %w", err)
	}
	defer rows.Close()

	recs, err := scanTradeRecords(rows)
	if err != nil {
		return nil, fmt.Errorf("postgres: scan trades by coin: %w", err)
	}
	return recs, nil
}

// Count returns the total number of ledger records.
func (s *LedgerStore) Count(ctx context.Context) (int64, error) {
	var count int64
	if err := s.pool.QueryRow(ctx, `SELECT COUNT(*) FROM trade_ledger`).Scan(&count); err != nil {
		return 0, fmt.Errorf("postgres: count trade records: %w", err)
	}
	return count, nil
}

// Compile-time interface check.
var _ domain.LedgerStore = (*LedgerStore)(nil)
