// Package scanner evaluates cross-venue depth snapshots for executable
// arbitrage opportunities. Evaluation is pure: it reads depth and balance
// state and returns at most one opportunity per coin per cycle, leaving
// execution to the engine.
package scanner

import (
	"log/slog"

	"github.com/lczhang/crossarb/internal/book"
	"github.com/lczhang/crossarb/internal/domain"
)

// Opportunity is a cross-venue spread worth taking with taker orders on
// both sides.
type Opportunity struct {
	Coin        string  `json:"coin"`
	BuyVenue    string  `json:"buy_venue"`
	SellVenue   string  `json:"sell_venue"`
	BuyPrice    float64 `json:"buy_price"`
	SellPrice   float64 `json:"sell_price"`
	BuyFeeRate  float64 `json:"buy_fee_rate"`
	SellFeeRate float64 `json:"sell_fee_rate"`
	Size        float64 `json:"size"`
	Spread      float64 `json:"spread"`
	ProfitRate  float64 `json:"profit_rate"`
}

// Score orders opportunities within one cycle.
func (o Opportunity) Score() float64 { return o.Spread * o.Size }

// Config bounds what the scanner will accept.
type Config struct {
	// MinProfitRate is the minimum spread/buyCost ratio, e.g. 0.005 for 0.5%.
	MinProfitRate float64
	// MaxPosition caps opportunity size per coin, in coin units.
	MaxPosition float64
	// MinTradeAmount rejects dust-sized opportunities.
	MinTradeAmount float64
}

// Scanner is stateless apart from its configuration and venue fee lookup.
type Scanner struct {
	cfg    Config
	venues map[string]*domain.Venue
	logger *slog.Logger
}

// New builds a Scanner over the given venues.
func New(cfg Config, venues []*domain.Venue, logger *slog.Logger) *Scanner {
	byName := make(map[string]*domain.Venue, len(venues))
	for _, v := range venues {
		byName[v.Name] = v
	}
	return &Scanner{
		cfg:    cfg,
		venues: byName,
		logger: logger.With(slog.String("component", "scanner")),
	}
}

// Scan evaluates every ordered venue pair for one coin and returns the
// opportunity maximizing spread*size, or false when no pair clears the
// profit threshold. Exact score ties prefer the pair whose buy venue holds
// the larger quote balance.
func (s *Scanner) Scan(coin string, depths map[string]domain.DepthSnapshot, bk *book.Book) (Opportunity, bool) {
	var best Opportunity
	found := false

	for buyVenue, buyDepth := range depths {
		bv, ok := s.venues[buyVenue]
		if !ok || !bv.Connected() {
			continue
		}
		ask, ok := buyDepth.BestAsk()
		if !ok {
			continue
		}
		for sellVenue, sellDepth := range depths {
			if sellVenue == buyVenue {
				continue
			}
			sv, ok := s.venues[sellVenue]
			if !ok || !sv.Connected() {
				continue
			}
			bid, ok := sellDepth.BestBid()
			if !ok {
				continue
			}

			buyFee := bv.Fee(domain.FeeTaker)
			sellFee := sv.Fee(domain.FeeTaker)
			buyCost := ask.Price * (1 + buyFee)
			sellRevenue := bid.Price * (1 - sellFee)
			spread := sellRevenue - buyCost
			if spread <= 0 || spread/buyCost < s.cfg.MinProfitRate {
				continue
			}

			size := s.sizeFor(coin, buyVenue, sellVenue, ask, bid, bk)
			if size < s.cfg.MinTradeAmount || size <= domain.Epsilon {
				continue
			}

			cand := Opportunity{
				Coin:        coin,
				BuyVenue:    buyVenue,
				SellVenue:   sellVenue,
				BuyPrice:    ask.Price,
				SellPrice:   bid.Price,
				BuyFeeRate:  buyFee,
				SellFeeRate: sellFee,
				Size:        size,
				Spread:      spread,
				ProfitRate:  spread / buyCost,
			}
			if !found || s.better(cand, best, bk) {
				best = cand
				found = true
			}
		}
	}

	if found {
		s.logger.Debug("opportunity selected",
			slog.String("coin", best.Coin),
			slog.String("buy_venue", best.BuyVenue),
			slog.String("sell_venue", best.SellVenue),
			slog.Float64("spread", best.Spread),
			slog.Float64("profit_rate", best.ProfitRate),
			slog.Float64("size", best.Size),
		)
	}
	return best, found
}

// sizeFor caps the opportunity by top-of-book liquidity on both sides, the
// quote balance on the buy venue, the coin balance on the sell venue, and
// the configured position cap.
func (s *Scanner) sizeFor(coin, buyVenue, sellVenue string, ask, bid domain.PriceLevel, bk *book.Book) float64 {
	size := minf(ask.Amount, bid.Amount)

	buyFee := s.venues[buyVenue].Fee(domain.FeeTaker)
	quote := bk.Available(buyVenue, domain.QuoteAsset)
	if cost := ask.Price * (1 + buyFee); cost > 0 {
		size = minf(size, quote/cost)
	}
	size = minf(size, bk.Available(sellVenue, coin))

	if s.cfg.MaxPosition > 0 {
		size = minf(size, s.cfg.MaxPosition)
	}
	return size
}

func (s *Scanner) better(a, b Opportunity, bk *book.Book) bool {
	sa, sb := a.Score(), b.Score()
	if diff := sa - sb; diff > domain.Epsilon || diff < -domain.Epsilon {
		return sa > sb
	}
	// Exact ties go to the pair whose buy venue holds more quote.
	return bk.Available(a.BuyVenue, domain.QuoteAsset) > bk.Available(b.BuyVenue, domain.QuoteAsset)
}

func minf(a, b float64) float64 {
	if a < b {
		return a
	}
	return b
}
