package domain

import (
	"fmt"
	"time"
)

// TradeType classifies a ledger entry by the action that produced it.
type TradeType string

const (
	TradeArbitrage      TradeType = "ARBITRAGE"
	TradeHedgeBuy       TradeType = "HEDGE_BUY"
	TradeHedgeSell      TradeType = "HEDGE_SELL"
	TradePendingForward TradeType = "PENDING_FORWARD"
	TradePendingReverse TradeType = "PENDING_REVERSE"
	TradeRebalance      TradeType = "REBALANCE"
)

// TradeStatus is the terminal outcome recorded in the ledger.
type TradeStatus string

const (
	TradeSuccess   TradeStatus = "SUCCESS"
	TradeFailed    TradeStatus = "FAILED"
	TradeError     TradeStatus = "ERROR"
	TradeCancelled TradeStatus = "CANCELLED"
)

// Successful reports whether the status counts as a win for statistics.
func (s TradeStatus) Successful() bool { return s == TradeSuccess }

// TradeRecord is one append-only ledger entry. Records are never mutated
// after their terminal status is assigned; NetProfit always equals
// GrossProfit minus Fees.
type TradeRecord struct {
	ID          string      `json:"id"`
	Time        time.Time   `json:"time"`
	Type        TradeType   `json:"type"`
	Coin        string      `json:"coin"`
	BuyVenue    string      `json:"buy_venue,omitempty"`
	SellVenue   string      `json:"sell_venue,omitempty"`
	Amount      float64     `json:"amount"`
	BuyPrice    float64     `json:"buy_price,omitempty"`
	SellPrice   float64     `json:"sell_price,omitempty"`
	Fees        float64     `json:"fees"`
	GrossProfit float64     `json:"gross_profit"`
	NetProfit   float64     `json:"net_profit"`
	Status      TradeStatus `json:"status"`
}

// Formatted returns the single-line human view shipped with dashboard
// broadcasts.
func (r TradeRecord) Formatted() string {
	switch r.Type {
	case TradeHedgeBuy, TradeHedgeSell:
		venue := r.BuyVenue
		if r.Type == TradeHedgeSell {
			venue = r.SellVenue
		}
		return fmt.Sprintf("%s %s %.6f @ %s net %.4f [%s]",
			r.Type, r.Coin, r.Amount, venue, r.NetProfit, r.Status)
	default:
		return fmt.Sprintf("%s %s %.6f %s@%.6f -> %s@%.6f net %.4f [%s]",
			r.Type, r.Coin, r.Amount,
			r.BuyVenue, r.BuyPrice, r.SellVenue, r.SellPrice,
			r.NetProfit, r.Status)
	}
}
