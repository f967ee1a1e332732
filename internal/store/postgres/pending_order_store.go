package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/lczhang/crossarb/internal/domain"
)

// PendingOrderStore implements domain.PendingOrderStore using PostgreSQL.
// Open pending orders are reloaded at startup so a restart never strands
// frozen funds.
type PendingOrderStore struct {
	pool *pgxpool.Pool
}

// NewPendingOrderStore creates a PendingOrderStore backed by the given pool.
func NewPendingOrderStore(pool *pgxpool.Pool) *PendingOrderStore {
	return &PendingOrderStore{pool: pool}
}

// Create inserts a freshly opened pending order.
func (s *PendingOrderStore) Create(ctx context.Context, po domain.PendingOrder) error {
	const query = `
		INSERT INTO pending_orders (
			id, coin, buy_venue, sell_venue, amount, buy_price, sell_price,
			buy_fee_rate, sell_fee_rate, direction, potential_profit,
			frozen_amount, frozen_asset, frozen_venue,
			buy_order_id, sell_order_id, status, created_at, price_updates
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7,
			$8, $9, $10, $11,
			$12, $13, $14,
			$15, $16, $17, $18, $19
		)`

	_, err := s.pool.Exec(ctx, query,
		po.ID, po.Coin, po.BuyVenue, po.SellVenue, po.Amount, po.BuyPrice, po.SellPrice,
		po.BuyFeeRate, po.SellFeeRate, po.Direction, po.PotentialProfit,
		po.FrozenAmount, po.FrozenAsset, po.FrozenVenue,
		po.BuyOrderID, po.SellOrderID, po.Status, po.CreatedAt, po.PriceUpdates,
	)
	if err != nil {
		return fmt.Errorf("postgres: create pending order %s: %w", po.ID, err)
	}
	return nil
}

// Update persists poll progress and status transitions.
func (s *PendingOrderStore) Update(ctx context.Context, po domain.PendingOrder) error {
	const query = `
		UPDATE pending_orders
		SET status = $2, price_updates = $3, buy_order_id = $4, sell_order_id = $5
		WHERE id = $1`

	tag, err := s.pool.Exec(ctx, query,
		po.ID, po.Status, po.PriceUpdates, po.BuyOrderID, po.SellOrderID,
	)
	if err != nil {
		return fmt.Errorf("postgres: update pending order %s: %w", po.ID, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("postgres: update pending order %s: %w", po.ID, domain.ErrNotFound)
	}
	return nil
}

// ListOpen returns every pending order still in PENDING status, oldest
// first.
func (s *PendingOrderStore) ListOpen(ctx context.Context) ([]domain.PendingOrder, error) {
	const query = `
		SELECT id, coin, buy_venue, sell_venue, amount, buy_price, sell_price,
			buy_fee_rate, sell_fee_rate, direction, potential_profit,
			frozen_amount, frozen_asset, frozen_venue,
			buy_order_id, sell_order_id, status, created_at, price_updates
		FROM pending_orders
		WHERE status = 'PENDING'
		ORDER BY created_at ASC`

	rows, err := s.pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("postgres: list open pending orders: %w", err)
	}
	defer rows.Close()

	var orders []domain.PendingOrder
	for rows.Next() {
		var po domain.PendingOrder
		if err := rows.Scan(
			&po.ID, &po.Coin, &po.BuyVenue, &po.SellVenue, &po.Amount, &po.BuyPrice, &po.SellPrice,
			&po.BuyFeeRate, &po.SellFeeRate, &po.Direction, &po.PotentialProfit,
			&po.FrozenAmount, &po.FrozenAsset, &po.FrozenVenue,
			&po.BuyOrderID, &po.SellOrderID, &po.Status, &po.CreatedAt, &po.PriceUpdates,
		); err != nil {
			return nil, fmt.Errorf("postgres: scan pending order: %w", err)
		}
		orders = append(orders, po)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: list open pending orders rows: %w", err)
	}
	return orders, nil
}

// Compile-time interface check.
var _ domain.PendingOrderStore = (*PendingOrderStore)(nil)
