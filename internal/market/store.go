// Package market maintains the live view of venue order books and balances.
// A Refresher polls every venue concurrently each cycle and feeds the
// in-memory Store, the Redis depth cache, and the account book.
package market

import (
	"sync"
	"time"

	"github.com/lczhang/crossarb/internal/domain"
)

// Store holds the latest depth snapshot per (coin, venue). It is the
// scanner's read path; snapshots older than the staleness bound are
// withheld.
type Store struct {
	mu       sync.RWMutex
	depths   map[string]domain.DepthSnapshot // coin|venue
	maxStale time.Duration
}

// NewStore returns a Store that treats snapshots older than maxStale as
// missing.
func NewStore(maxStale time.Duration) *Store {
	return &Store{
		depths:   make(map[string]domain.DepthSnapshot),
		maxStale: maxStale,
	}
}

func (s *Store) key(coin, venue string) string { return coin + "|" + venue }

// Put records a fresh snapshot.
func (s *Store) Put(snap domain.DepthSnapshot) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.depths[s.key(snap.Coin, snap.Venue)] = snap
}

// Get returns the snapshot for (coin, venue) when present and fresh.
func (s *Store) Get(coin, venue string) (domain.DepthSnapshot, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	snap, ok := s.depths[s.key(coin, venue)]
	if !ok {
		return domain.DepthSnapshot{}, false
	}
	if s.maxStale > 0 && time.Since(snap.Timestamp) > s.maxStale {
		return domain.DepthSnapshot{}, false
	}
	return snap, true
}

// ForCoin returns every fresh snapshot for one coin, keyed by venue.
func (s *Store) ForCoin(coin string) map[string]domain.DepthSnapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]domain.DepthSnapshot)
	for _, snap := range s.depths {
		if snap.Coin != coin {
			continue
		}
		if s.maxStale > 0 && time.Since(snap.Timestamp) > s.maxStale {
			continue
		}
		out[snap.Venue] = snap
	}
	return out
}
