package domain

import "time"

// PendingDirection distinguishes the two resting-order arbitrage shapes.
type PendingDirection string

const (
	// PendingForward rests a sell on the sell venue and buys on the buy
	// venue; quote balance is frozen on the buy side.
	PendingForward PendingDirection = "FORWARD"
	// PendingReverse rests a buy on the buy venue and sells on the sell
	// venue; coin balance is frozen on the sell side.
	PendingReverse PendingDirection = "REVERSE"
)

// PendingStatus tracks the pending-order lifecycle. Transitions are
// monotonic: once terminal, an order never returns to PENDING.
type PendingStatus string

const (
	PendingStatusPending   PendingStatus = "PENDING"
	PendingStatusFilled    PendingStatus = "FILLED"
	PendingStatusCancelled PendingStatus = "CANCELLED"
	PendingStatusFailed    PendingStatus = "FAILED"
)

// Terminal reports whether the status is final.
func (s PendingStatus) Terminal() bool { return s != PendingStatusPending }

// PendingOrder is one resting-order arbitrage pair. FrozenAmount is reserved
// from the account book exactly once at creation and released exactly once at
// the terminal transition; the release is guarded by the status field so a
// double release cannot happen.
type PendingOrder struct {
	ID              string           `json:"id"`
	Coin            string           `json:"coin"`
	BuyVenue        string           `json:"buy_venue"`
	SellVenue       string           `json:"sell_venue"`
	Amount          float64          `json:"amount"`
	BuyPrice        float64          `json:"buy_price"`
	SellPrice       float64          `json:"sell_price"`
	BuyFeeRate      float64          `json:"buy_fee_rate"`
	SellFeeRate     float64          `json:"sell_fee_rate"`
	Direction       PendingDirection `json:"direction"`
	PotentialProfit float64          `json:"potential_profit"`

	FrozenAmount float64 `json:"frozen_amount"`
	FrozenAsset  string  `json:"frozen_asset"`
	FrozenVenue  string  `json:"frozen_venue"`

	BuyOrderID  string `json:"buy_order_id,omitempty"`
	SellOrderID string `json:"sell_order_id,omitempty"`

	Status           PendingStatus `json:"status"`
	CreatedAt        time.Time     `json:"created_at"`
	PriceUpdates     int           `json:"price_updates"`
	UnfavorablePolls int           `json:"-"`
}
