package domain

import (
	"context"
	"time"
)

// OrderSide indicates whether an order buys or sells the coin.
type OrderSide string

const (
	SideBuy  OrderSide = "buy"
	SideSell OrderSide = "sell"
)

// OrderKind selects how aggressively an order crosses the book.
type OrderKind string

const (
	// OrderKindTaker crosses the spread immediately at the given limit.
	OrderKindTaker OrderKind = "taker"
	// OrderKindMaker rests in the book at the given price.
	OrderKindMaker OrderKind = "maker"
)

// OrderStatus tracks one venue order's lifecycle as seen by the leg state
// machine.
type OrderStatus string

const (
	OrderSubmitted       OrderStatus = "submitted"
	OrderPartiallyFilled OrderStatus = "partially_filled"
	OrderFilled          OrderStatus = "filled"
	OrderCancelled       OrderStatus = "cancelled"
	OrderFailed          OrderStatus = "failed"
)

// Terminal reports whether an order can no longer change state.
func (s OrderStatus) Terminal() bool {
	switch s {
	case OrderFilled, OrderCancelled, OrderFailed:
		return true
	}
	return false
}

// OrderAck is the immediate response to PlaceOrder.
type OrderAck struct {
	OrderID string
	Status  OrderStatus
}

// OrderState is a polled view of one venue order.
type OrderState struct {
	OrderID      string
	Status       OrderStatus
	FilledAmount float64
	AvgPrice     float64
	UpdatedAt    time.Time
}

// Gateway is the uniform per-venue capability contract the core consumes.
// Implementations own authentication, signing, and transport; the core never
// branches on venue identity except for fee and precision lookup. Every call
// is fallible and may time out; a missing response is a retryable failure,
// never a terminal one.
type Gateway interface {
	Venue() *Venue
	GetBalance(ctx context.Context) (map[string]Balance, error)
	GetDepth(ctx context.Context, coin string) (DepthSnapshot, error)
	PlaceOrder(ctx context.Context, coin string, side OrderSide, price, amount float64, kind OrderKind) (OrderAck, error)
	OrderState(ctx context.Context, coin, orderID string) (OrderState, error)
	CancelOrder(ctx context.Context, coin, orderID string) (bool, error)
}
