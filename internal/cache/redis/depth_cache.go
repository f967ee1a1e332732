package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/lczhang/crossarb/internal/domain"
)

// depthTTL expires mirrored snapshots that the refresher stopped updating,
// so dashboard readers never see a venue's depth long after it disconnected.
const depthTTL = 30 * time.Second

// DepthCache implements domain.DepthCache with one JSON value per
// (coin, venue) pair.
//
// Key schema:
//
//	depth:{coin}:{venue} - JSON-encoded DepthSnapshot, 30s TTL
type DepthCache struct {
	rdb *redis.Client
}

// NewDepthCache creates a DepthCache backed by the given Client.
func NewDepthCache(c *Client) *DepthCache {
	return &DepthCache{rdb: c.Underlying()}
}

func depthKey(coin, venue string) string {
	return "depth:" + coin + ":" + venue
}

// SetSnapshot mirrors one depth snapshot.
func (dc *DepthCache) SetSnapshot(ctx context.Context, snap domain.DepthSnapshot) error {
	payload, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("redis: marshal depth %s/%s: %w", snap.Coin, snap.Venue, err)
	}
	if err := dc.rdb.Set(ctx, depthKey(snap.Coin, snap.Venue), payload, depthTTL).Err(); err != nil {
		return fmt.Errorf("redis: set depth %s/%s: %w", snap.Coin, snap.Venue, err)
	}
	return nil
}

// GetSnapshot returns the mirrored snapshot for (coin, venue), or
// domain.ErrNotFound when none is cached.
func (dc *DepthCache) GetSnapshot(ctx context.Context, coin, venue string) (domain.DepthSnapshot, error) {
	payload, err := dc.rdb.Get(ctx, depthKey(coin, venue)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return domain.DepthSnapshot{}, domain.ErrNotFound
		}
		return domain.DepthSnapshot{}, fmt.Errorf("redis: get depth %s/%s: %w", coin, venue, err)
	}

	var snap domain.DepthSnapshot
	if err := json.Unmarshal(payload, &snap); err != nil {
		return domain.DepthSnapshot{}, fmt.Errorf("redis: unmarshal depth %s/%s: %w", coin, venue, err)
	}
	return snap, nil
}

// Compile-time interface check.
var _ domain.DepthCache = (*DepthCache)(nil)
