package gateway

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/lczhang/crossarb/internal/domain"
)

// simOrder is an order resting on the simulated venue.
type simOrder struct {
	state domain.OrderState
	coin  string
	side  domain.OrderSide
	price float64
}

// Sim is an in-memory venue used for paper trading and tests. Taker orders
// fill immediately against the configured fill ratio; maker orders rest as
// SUBMITTED until FillMaker or CancelOrder resolves them. Balances settle
// on fill the way a real venue would report them.
type Sim struct {
	venue *domain.Venue

	mu       sync.Mutex
	balances map[string]domain.Balance
	depths   map[string]domain.DepthSnapshot
	orders   map[string]*simOrder

	// FillRatio scales taker fills: 1 fills fully, 0.5 half-fills.
	FillRatio float64
	// Fail makes the named op return an error, for fault injection.
	Fail map[string]error
}

// NewSim returns a simulated venue with the given fee schedule.
func NewSim(name string, makerFee, takerFee float64) *Sim {
	return &Sim{
		venue:     domain.NewVenue(name, makerFee, takerFee),
		balances:  make(map[string]domain.Balance),
		depths:    make(map[string]domain.DepthSnapshot),
		orders:    make(map[string]*simOrder),
		FillRatio: 1,
		Fail:      make(map[string]error),
	}
}

func (s *Sim) Venue() *domain.Venue { return s.venue }

// SetBalance seeds an available balance.
func (s *Sim) SetBalance(asset string, available float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.balances[asset] = domain.Balance{Available: available}
}

// SetDepth installs the order book returned by GetDepth.
func (s *Sim) SetDepth(snap domain.DepthSnapshot) {
	s.mu.Lock()
	defer s.mu.Unlock()
	snap.Venue = s.venue.Name
	s.depths[snap.Coin] = snap
}

func (s *Sim) GetBalance(ctx context.Context) (map[string]domain.Balance, error) {
	if err := s.failure("get_balance"); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]domain.Balance, len(s.balances))
	for asset, bal := range s.balances {
		out[asset] = bal
	}
	return out, nil
}

func (s *Sim) GetDepth(ctx context.Context, coin string) (domain.DepthSnapshot, error) {
	if err := s.failure("get_depth"); err != nil {
		return domain.DepthSnapshot{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	snap, ok := s.depths[coin]
	if !ok {
		return domain.DepthSnapshot{}, fmt.Errorf("depth for %s: %w", coin, domain.ErrNotFound)
	}
	snap.Timestamp = time.Now().UTC()
	return snap, nil
}

func (s *Sim) PlaceOrder(ctx context.Context, coin string, side domain.OrderSide, price, amount float64, kind domain.OrderKind) (domain.OrderAck, error) {
	if err := s.failure("place_order"); err != nil {
		return domain.OrderAck{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.checkFunds(coin, side, price, amount); err != nil {
		return domain.OrderAck{}, err
	}

	id := uuid.New().String()
	order := &simOrder{
		state: domain.OrderState{OrderID: id, Status: domain.OrderSubmitted, UpdatedAt: time.Now().UTC()},
		coin:  coin,
		side:  side,
		price: price,
	}
	s.orders[id] = order

	if kind == domain.OrderKindTaker {
		s.fill(order, amount*s.FillRatio, price, s.FillRatio >= 1)
	}
	return domain.OrderAck{OrderID: id, Status: order.state.Status}, nil
}

func (s *Sim) OrderState(ctx context.Context, coin, orderID string) (domain.OrderState, error) {
	if err := s.failure("order_state"); err != nil {
		return domain.OrderState{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	order, ok := s.orders[orderID]
	if !ok {
		return domain.OrderState{}, fmt.Errorf("order %s: %w", orderID, domain.ErrNotFound)
	}
	return order.state, nil
}

func (s *Sim) CancelOrder(ctx context.Context, coin, orderID string) (bool, error) {
	if err := s.failure("cancel_order"); err != nil {
		return false, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	order, ok := s.orders[orderID]
	if !ok {
		return false, fmt.Errorf("order %s: %w", orderID, domain.ErrNotFound)
	}
	if order.state.Status.Terminal() {
		return false, nil
	}
	order.state.Status = domain.OrderCancelled
	order.state.UpdatedAt = time.Now().UTC()
	return true, nil
}

// FillMaker resolves a resting maker order with the given filled amount,
// marking it FILLED when amount covers what was asked, PARTIALLY_FILLED
// otherwise. Tests drive pending-order polling with this.
func (s *Sim) FillMaker(orderID string, amount float64, full bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if order, ok := s.orders[orderID]; ok && !order.state.Status.Terminal() {
		s.fill(order, amount, order.price, full)
	}
}

// FillMakerAt fills a resting order at the given price, modelling price
// improvement relative to the resting limit.
func (s *Sim) FillMakerAt(orderID string, amount, price float64, full bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if order, ok := s.orders[orderID]; ok && !order.state.Status.Terminal() {
		s.fill(order, amount, price, full)
	}
}

func (s *Sim) fill(order *simOrder, amount, price float64, full bool) {
	order.state.FilledAmount += amount
	order.state.AvgPrice = price
	if full {
		order.state.Status = domain.OrderFilled
	} else {
		order.state.Status = domain.OrderPartiallyFilled
	}
	order.state.UpdatedAt = time.Now().UTC()
	s.settle(order.coin, order.side, price, amount)
}

// settle adjusts balances for a fill, net of the taker fee.
func (s *Sim) settle(coin string, side domain.OrderSide, price, amount float64) {
	fee := s.venue.TakerFee
	quote := s.balances[domain.QuoteAsset]
	base := s.balances[coin]
	if side == domain.SideBuy {
		quote.Available -= amount * price * (1 + fee)
		base.Available += amount
	} else {
		base.Available -= amount
		quote.Available += amount * price * (1 - fee)
	}
	s.balances[domain.QuoteAsset] = quote
	s.balances[coin] = base
}

func (s *Sim) checkFunds(coin string, side domain.OrderSide, price, amount float64) error {
	if side == domain.SideBuy {
		need := amount * price * (1 + s.venue.TakerFee)
		if s.balances[domain.QuoteAsset].Available+domain.Epsilon < need {
			return fmt.Errorf("buy %s on %s: %w", coin, s.venue.Name, domain.ErrInsufficientBalance)
		}
		return nil
	}
	if s.balances[coin].Available+domain.Epsilon < amount {
		return fmt.Errorf("sell %s on %s: %w", coin, s.venue.Name, domain.ErrInsufficientBalance)
	}
	return nil
}

func (s *Sim) failure(op string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.Fail[op]
}
