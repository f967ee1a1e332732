package domain

import "time"

// UnhedgedPosition is spot inventory acquired as a byproduct of unequal leg
// fills and not yet offset. Amount is signed: positive for long inventory
// (buy leg over-filled), negative for short exposure (sell leg over-filled).
// The position is removed once |Amount| falls within Epsilon.
type UnhedgedPosition struct {
	ID         string    `json:"id"`
	Coin       string    `json:"coin"`
	Venue      string    `json:"venue"`
	Amount     float64   `json:"amount"`
	EntryPrice float64   `json:"entry_price"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// Value returns the absolute notional of the position at the given mark price.
func (p UnhedgedPosition) Value(mark float64) float64 {
	v := p.Amount * mark
	if v < 0 {
		return -v
	}
	return v
}

// FuturesShortPosition is a short hedge opened against an UnhedgedPosition
// when a direct unwind would be costlier. Same removal rule as
// UnhedgedPosition.
type FuturesShortPosition struct {
	ID         string    `json:"id"`
	Coin       string    `json:"coin"`
	Venue      string    `json:"venue"`
	Size       float64   `json:"size"`
	EntryPrice float64   `json:"entry_price"`
	OpenedAt   time.Time `json:"opened_at"`
}

// Value returns the notional of the short at its entry price.
func (p FuturesShortPosition) Value() float64 { return p.Size * p.EntryPrice }
