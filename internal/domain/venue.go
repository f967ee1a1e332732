// Package domain defines the core types and interfaces shared by every
// component of the arbitrage engine: venues, depth snapshots, balances,
// positions, pending orders, trade records, and the store/cache contracts
// they are persisted through.
package domain

import "sync/atomic"

// FeeKind selects between maker and taker fee rates.
type FeeKind string

const (
	FeeMaker FeeKind = "maker"
	FeeTaker FeeKind = "taker"
)

// Venue identifies one external trading venue and its fee schedule. Fee rates
// are immutable after construction; the connectivity flag is flipped by the
// gateway layer as calls succeed or fail.
type Venue struct {
	Name     string
	MakerFee float64
	TakerFee float64

	connected atomic.Bool
}

// NewVenue creates a Venue that starts in the connected state.
func NewVenue(name string, makerFee, takerFee float64) *Venue {
	v := &Venue{Name: name, MakerFee: makerFee, TakerFee: takerFee}
	v.connected.Store(true)
	return v
}

// Connected reports whether the venue is currently reachable.
func (v *Venue) Connected() bool { return v.connected.Load() }

// SetConnected updates the connectivity flag. Safe for concurrent use.
func (v *Venue) SetConnected(up bool) { v.connected.Store(up) }

// Fee returns the venue's fee rate for the given kind.
func (v *Venue) Fee(kind FeeKind) float64 {
	if kind == FeeMaker {
		return v.MakerFee
	}
	return v.TakerFee
}
