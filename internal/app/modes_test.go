package app

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/lczhang/crossarb/internal/config"
	"github.com/lczhang/crossarb/internal/domain"
)

type heldLockManager struct{}

func (heldLockManager) Acquire(ctx context.Context, key string, ttl time.Duration) (domain.Lock, error) {
	return nil, domain.ErrLockHeld
}

func TestTradingModeRefusesWhenEngineLockHeld(t *testing.T) {
	cfg := config.Defaults()
	a := New(&cfg, slog.New(slog.NewTextHandler(io.Discard, nil)))

	err := a.TradingMode(context.Background(), &Dependencies{LockManager: heldLockManager{}})
	require.ErrorIs(t, err, domain.ErrLockHeld)
}
