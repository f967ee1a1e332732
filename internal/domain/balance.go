package domain

// Epsilon is the amount below which a balance or position is treated as zero.
const Epsilon = 1e-8

// QuoteAsset is the settlement currency every coin trades against.
const QuoteAsset = "USDT"

// Balance is the funds held for one (venue, asset) pair. Available plus
// Frozen always equals the venue-reported total; Frozen only changes through
// explicit freeze/release events on the account book.
type Balance struct {
	Available float64 `json:"available"`
	Frozen    float64 `json:"frozen"`
}

// Total returns available plus frozen funds.
func (b Balance) Total() float64 { return b.Available + b.Frozen }
