package domain

import "time"

// PriceLevel is a single price+amount entry in a depth snapshot.
type PriceLevel struct {
	Price  float64 `json:"price"`
	Amount float64 `json:"amount"`
}

// DepthSnapshot is the full current order book truth for one (coin, venue)
// pair: asks ascending, bids descending, capped at the configured depth.
// Snapshots are overwritten wholesale on every refresh and never diffed.
type DepthSnapshot struct {
	Coin      string       `json:"coin"`
	Venue     string       `json:"venue"`
	Asks      []PriceLevel `json:"asks"`
	Bids      []PriceLevel `json:"bids"`
	Timestamp time.Time    `json:"timestamp"`
}

// BestAsk returns the lowest ask level, or false when the ask side is empty.
func (d DepthSnapshot) BestAsk() (PriceLevel, bool) {
	if len(d.Asks) == 0 {
		return PriceLevel{}, false
	}
	return d.Asks[0], true
}

// BestBid returns the highest bid level, or false when the bid side is empty.
func (d DepthSnapshot) BestBid() (PriceLevel, bool) {
	if len(d.Bids) == 0 {
		return PriceLevel{}, false
	}
	return d.Bids[0], true
}

// Valid reports whether the snapshot carries at least one level on each side
// with positive prices.
func (d DepthSnapshot) Valid() bool {
	ask, okA := d.BestAsk()
	bid, okB := d.BestBid()
	return okA && okB && ask.Price > 0 && bid.Price > 0
}
