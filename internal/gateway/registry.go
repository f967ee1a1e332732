package gateway

import (
	"fmt"
	"sync"

	"github.com/lczhang/crossarb/internal/domain"
)

// LiveConfig carries one venue's live-trading connection parameters.
type LiveConfig struct {
	Name         string
	MakerFeeRate float64
	TakerFeeRate float64
	APIKey       string
	APISecret    string
	BaseURL      string
}

// LiveFactory builds a gateway speaking a real venue API.
type LiveFactory func(cfg LiveConfig) (domain.Gateway, error)

var (
	liveMu        sync.RWMutex
	liveFactories = make(map[string]LiveFactory)
)

// RegisterLive registers a factory for the named venue. Venue adapter
// packages call this from init so trade mode can construct them by name.
func RegisterLive(name string, f LiveFactory) {
	liveMu.Lock()
	defer liveMu.Unlock()
	liveFactories[name] = f
}

// NewLive constructs the live gateway registered for cfg.Name.
func NewLive(cfg LiveConfig) (domain.Gateway, error) {
	liveMu.RLock()
	f, ok := liveFactories[cfg.Name]
	liveMu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("gateway: no live adapter registered for venue %q", cfg.Name)
	}
	return f(cfg)
}
