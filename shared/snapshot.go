package shared

import "time"

// Snapshot represents the derived, point-in-time metric bundle for a symbol.
type Snapshot struct {
	Symbol string
	At     time.Time

	// Price state.
	LastPrice float64
	BidPrice  float64
	BidSize   float64
	AskPrice  float64
	AskSize   float64
	Spread    float64
	Mid       float64

	// Rolling window metrics.
	Momentum     float64
	Volatility   float64
	TapePressure float64
	Volume       float64

	// Buffer depth and data quality.
	TradeCount  int
	QuoteCount  int
	LastTickAt  time.Time
	LastQuoteAt time.Time
	QuoteFresh  bool
}

// Ready asserts the snapshot has sufficient data quality for evaluation.
// Missing or stale quote data leaves spread and tape pressure undefined,
// so the snapshot is not actionable.
func (s *Snapshot) Ready() bool {
	return s.QuoteFresh && s.TradeCount > 0
}
