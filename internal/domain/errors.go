package domain

import "errors"

var (
	ErrNotFound            = errors.New("not found")
	ErrVenueDisconnected   = errors.New("venue disconnected")
	ErrOrderRejected       = errors.New("order rejected by venue")
	ErrRetryExhausted      = errors.New("retry budget exhausted")
	ErrInsufficientBalance = errors.New("insufficient balance")
	ErrFrozenReleased      = errors.New("frozen funds already released")
	ErrCoinPaused          = errors.New("trading paused for coin")
	ErrLockHeld            = errors.New("lock already held")
	ErrLockLost            = errors.New("lock no longer held")
)
