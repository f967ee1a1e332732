package domain

import (
	"context"
	"time"
)

// DepthCache mirrors the latest depth snapshots for dashboard consumers.
// The in-memory market store remains authoritative; the cache is best-effort.
type DepthCache interface {
	SetSnapshot(ctx context.Context, snap DepthSnapshot) error
	GetSnapshot(ctx context.Context, coin, venue string) (DepthSnapshot, error)
}

// StreamMessage represents a single entry from a durable stream.
type StreamMessage struct {
	ID      string
	Payload []byte
}

// SignalBus provides pub/sub fan-out for tick snapshots and trade events,
// plus durable ordered streams for consumers that must not miss entries.
type SignalBus interface {
	Publish(ctx context.Context, channel string, payload []byte) error
	Subscribe(ctx context.Context, channel string) (<-chan []byte, error)
	StreamAppend(ctx context.Context, stream string, payload []byte) error
	StreamRead(ctx context.Context, stream string, lastID string, count int) ([]StreamMessage, error)
}

// RateLimiter throttles outbound gateway calls per venue.
type RateLimiter interface {
	Allow(ctx context.Context, key string, limit int, window time.Duration) (bool, error)
}

// Lock is a held distributed lock. Holders refresh well inside the TTL and
// release on shutdown; an expired lock may be taken by another instance.
type Lock interface {
	Refresh(ctx context.Context) error
	// Release frees the lock. Safe to call more than once.
	Release()
}

// LockManager provides distributed locking for deployments running more than
// one engine instance against the same venues.
type LockManager interface {
	Acquire(ctx context.Context, key string, ttl time.Duration) (Lock, error)
}
