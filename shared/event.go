package shared

import "time"

// TradeSide represents the classified aggressor side of a trade.
type TradeSide int

const (
	UnknownSide TradeSide = iota
	BuySide
	SellSide
)

// String stringifies the provided trade side.
func (s TradeSide) String() string {
	switch s {
	case BuySide:
		return "buy"
	case SellSide:
		return "sell"
	default:
		return "unknown"
	}
}

// Tick represents a single trade print received from the transport feed.
type Tick struct {
	Symbol     string
	At         time.Time
	SIPAt      time.Time
	Sequence   uint64
	Price      float64
	Size       float64
	Exchange   string
	Conditions []int64
	Tape       string
}

// Quote represents a top-of-book quote update received from the transport feed.
type Quote struct {
	Symbol   string
	At       time.Time
	Sequence uint64
	BidPrice float64
	BidSize  float64
	AskPrice float64
	AskSize  float64
	Exchange string
}

// Spread returns the quoted spread.
func (q *Quote) Spread() float64 {
	return q.AskPrice - q.BidPrice
}

// Mid returns the quote midpoint.
func (q *Quote) Mid() float64 {
	return (q.AskPrice + q.BidPrice) / 2
}
