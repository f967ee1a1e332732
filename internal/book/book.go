// Package book holds the engine's tracked account state: per-venue balances
// with explicit freeze/release accounting, unhedged and short positions, and
// per-coin trading pauses. It is the only cross-coin shared mutable state;
// writers must hold the owning coin's lock, readers get copy-on-read
// snapshots.
package book

import (
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/lczhang/crossarb/internal/domain"
)

func posKey(coin, venue string) string { return coin + "|" + venue }

// Book is safe for concurrent use.
type Book struct {
	mu       sync.RWMutex
	balances map[string]map[string]domain.Balance // venue -> asset -> balance
	unhedged map[string]domain.UnhedgedPosition   // coin|venue
	shorts   map[string]domain.FuturesShortPosition
	paused   map[string]string // coin -> reason
}

// New returns an empty Book.
func New() *Book {
	return &Book{
		balances: make(map[string]map[string]domain.Balance),
		unhedged: make(map[string]domain.UnhedgedPosition),
		shorts:   make(map[string]domain.FuturesShortPosition),
		paused:   make(map[string]string),
	}
}

// ApplyVenueBalances overwrites the tracked balances for one venue with the
// venue-reported set. Funds frozen locally for resting orders are invisible
// to venues that do not report holds, so any local hold beyond the reported
// frozen amount is carried over and deducted from the reported available.
func (b *Book) ApplyVenueBalances(venue string, balances map[string]domain.Balance) {
	b.mu.Lock()
	defer b.mu.Unlock()
	m := make(map[string]domain.Balance, len(balances))
	for asset, bal := range balances {
		if cur, ok := b.balances[venue][asset]; ok && cur.Frozen > bal.Frozen {
			hold := cur.Frozen - bal.Frozen
			bal.Frozen += hold
			bal.Available -= hold
			if bal.Available < 0 {
				bal.Available = 0
			}
		}
		m[asset] = bal
	}
	b.balances[venue] = m
}

// Balance returns the tracked balance for (venue, asset); zero when unknown.
func (b *Book) Balance(venue, asset string) domain.Balance {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.balances[venue][asset]
}

// Available returns the spendable amount for (venue, asset).
func (b *Book) Available(venue, asset string) float64 {
	return b.Balance(venue, asset).Available
}

// Deposit credits available funds.
func (b *Book) Deposit(venue, asset string, amount float64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.credit(venue, asset, amount)
}

// Withdraw debits available funds, failing when they are insufficient.
func (b *Book) Withdraw(venue, asset string, amount float64) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	bal := b.balances[venue][asset]
	if bal.Available+domain.Epsilon < amount {
		return fmt.Errorf("withdraw %.8f %s from %s: %w (available %.8f)",
			amount, asset, venue, domain.ErrInsufficientBalance, bal.Available)
	}
	bal.Available -= amount
	b.set(venue, asset, bal)
	return nil
}

// Freeze moves funds from available to frozen.
func (b *Book) Freeze(venue, asset string, amount float64) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	bal := b.balances[venue][asset]
	if bal.Available+domain.Epsilon < amount {
		return fmt.Errorf("freeze %.8f %s on %s: %w (available %.8f)",
			amount, asset, venue, domain.ErrInsufficientBalance, bal.Available)
	}
	bal.Available -= amount
	bal.Frozen += amount
	b.set(venue, asset, bal)
	return nil
}

// Release moves funds from frozen back to available. Releasing more than is
// frozen indicates a double release and fails with ErrFrozenReleased.
func (b *Book) Release(venue, asset string, amount float64) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	bal := b.balances[venue][asset]
	if bal.Frozen+domain.Epsilon < amount {
		return fmt.Errorf("release %.8f %s on %s: %w (frozen %.8f)",
			amount, asset, venue, domain.ErrFrozenReleased, bal.Frozen)
	}
	bal.Frozen -= amount
	bal.Available += amount
	b.set(venue, asset, bal)
	return nil
}

// SpendFrozen consumes frozen funds that were committed to a now-filled
// order, without returning them to available.
func (b *Book) SpendFrozen(venue, asset string, amount float64) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	bal := b.balances[venue][asset]
	if bal.Frozen+domain.Epsilon < amount {
		return fmt.Errorf("spend frozen %.8f %s on %s: %w (frozen %.8f)",
			amount, asset, venue, domain.ErrFrozenReleased, bal.Frozen)
	}
	bal.Frozen -= amount
	b.set(venue, asset, bal)
	return nil
}

// ApplyUnhedgedDelta shifts the unhedged position for (coin, venue) by delta
// at the given price and returns the resulting amount. Positions within
// Epsilon of zero are removed. Entry price is volume-weighted while the
// position grows and reset when the sign flips.
func (b *Book) ApplyUnhedgedDelta(coin, venue string, delta, price float64) float64 {
	b.mu.Lock()
	defer b.mu.Unlock()

	key := posKey(coin, venue)
	now := time.Now().UTC()
	pos, ok := b.unhedged[key]
	if !ok {
		pos = domain.UnhedgedPosition{
			ID:         uuid.New().String(),
			Coin:       coin,
			Venue:      venue,
			EntryPrice: price,
			CreatedAt:  now,
		}
	}

	prev := pos.Amount
	next := prev + delta
	switch {
	case prev == 0 || sameSign(prev, next) && absf(next) > absf(prev):
		// Growing (or opening): weight the entry price by volume.
		total := absf(prev) + absf(delta)
		if total > domain.Epsilon {
			pos.EntryPrice = (pos.EntryPrice*absf(prev) + price*absf(delta)) / total
		}
	case !sameSign(prev, next) && absf(next) > domain.Epsilon:
		// Crossed through zero: the surviving exposure opened at this price.
		pos.EntryPrice = price
	}
	pos.Amount = next
	pos.UpdatedAt = now

	if absf(pos.Amount) <= domain.Epsilon {
		delete(b.unhedged, key)
		return 0
	}
	b.unhedged[key] = pos
	return pos.Amount
}

// Unhedged returns the current unhedged amount for (coin, venue).
func (b *Book) Unhedged(coin, venue string) float64 {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.unhedged[posKey(coin, venue)].Amount
}

// UnhedgedForCoin returns copies of the coin's unhedged positions.
func (b *Book) UnhedgedForCoin(coin string) []domain.UnhedgedPosition {
	b.mu.RLock()
	defer b.mu.RUnlock()
	var out []domain.UnhedgedPosition
	for _, pos := range b.unhedged {
		if pos.Coin == coin {
			out = append(out, pos)
		}
	}
	return out
}

// OpenShort opens or grows a short hedge for (coin, venue).
func (b *Book) OpenShort(coin, venue string, size, entryPrice float64) {
	b.mu.Lock()
	defer b.mu.Unlock()

	key := posKey(coin, venue)
	pos, ok := b.shorts[key]
	if !ok {
		pos = domain.FuturesShortPosition{
			ID:       uuid.New().String(),
			Coin:     coin,
			Venue:    venue,
			OpenedAt: time.Now().UTC(),
		}
	}
	total := pos.Size + size
	if total > domain.Epsilon {
		pos.EntryPrice = (pos.EntryPrice*pos.Size + entryPrice*size) / total
	}
	pos.Size = total
	b.shorts[key] = pos
}

// ReduceShort shrinks a short hedge, removing it once within Epsilon of zero.
// It returns the size actually closed.
func (b *Book) ReduceShort(coin, venue string, size float64) float64 {
	b.mu.Lock()
	defer b.mu.Unlock()

	key := posKey(coin, venue)
	pos, ok := b.shorts[key]
	if !ok {
		return 0
	}
	closed := size
	if closed > pos.Size {
		closed = pos.Size
	}
	pos.Size -= closed
	if pos.Size <= domain.Epsilon {
		delete(b.shorts, key)
	} else {
		b.shorts[key] = pos
	}
	return closed
}

// SpotHolding sums the coin held on every venue except the excluded one,
// available and frozen alike. The hedge resolver uses it to decide whether a
// futures short still offsets real inventory.
func (b *Book) SpotHolding(coin, exclude string) float64 {
	b.mu.RLock()
	defer b.mu.RUnlock()
	total := 0.0
	for venue, assets := range b.balances {
		if venue == exclude {
			continue
		}
		bal := assets[coin]
		total += bal.Available + bal.Frozen
	}
	return total
}

// ShortsForCoin returns copies of the coin's short positions.
func (b *Book) ShortsForCoin(coin string) []domain.FuturesShortPosition {
	b.mu.RLock()
	defer b.mu.RUnlock()
	var out []domain.FuturesShortPosition
	for _, pos := range b.shorts {
		if pos.Coin == coin {
			out = append(out, pos)
		}
	}
	return out
}

// PauseCoin stops trading for one coin, recording the reason. Used on
// reconciliation mismatches and actor panics; other coins keep trading.
func (b *Book) PauseCoin(coin, reason string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.paused[coin] = reason
}

// ResumeCoin clears a pause.
func (b *Book) ResumeCoin(coin string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.paused, coin)
}

// Paused reports whether the coin is paused and why.
func (b *Book) Paused(coin string) (string, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	reason, ok := b.paused[coin]
	return reason, ok
}

// Snapshot is a read-only copy of the book used by the ledger aggregator and
// the broadcast builder without locking out trading.
type Snapshot struct {
	Balances map[string]map[string]domain.Balance
	Unhedged []domain.UnhedgedPosition
	Shorts   []domain.FuturesShortPosition
}

// Snapshot returns a deep copy of the current state.
func (b *Book) Snapshot() Snapshot {
	b.mu.RLock()
	defer b.mu.RUnlock()

	snap := Snapshot{
		Balances: make(map[string]map[string]domain.Balance, len(b.balances)),
		Unhedged: make([]domain.UnhedgedPosition, 0, len(b.unhedged)),
		Shorts:   make([]domain.FuturesShortPosition, 0, len(b.shorts)),
	}
	for venue, assets := range b.balances {
		m := make(map[string]domain.Balance, len(assets))
		for asset, bal := range assets {
			m[asset] = bal
		}
		snap.Balances[venue] = m
	}
	for _, pos := range b.unhedged {
		snap.Unhedged = append(snap.Unhedged, pos)
	}
	for _, pos := range b.shorts {
		snap.Shorts = append(snap.Shorts, pos)
	}
	return snap
}

func (b *Book) credit(venue, asset string, amount float64) {
	bal := b.balances[venue][asset]
	bal.Available += amount
	b.set(venue, asset, bal)
}

func (b *Book) set(venue, asset string, bal domain.Balance) {
	if b.balances[venue] == nil {
		b.balances[venue] = make(map[string]domain.Balance)
	}
	b.balances[venue][asset] = bal
}

func absf(v float64) float64 {
	if v < 0 {
		return -v
	}
	return v
}

func sameSign(a, b float64) bool {
	return (a >= 0 && b >= 0) || (a <= 0 && b <= 0)
}
