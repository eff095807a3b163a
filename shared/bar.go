package shared

import "time"

// BarKind represents the aggregation period of a bar.
type BarKind int

const (
	MinuteBar BarKind = iota
	DailyBar
)

// String stringifies the provided bar kind.
func (k BarKind) String() string {
	switch k {
	case MinuteBar:
		return "minute"
	case DailyBar:
		return "daily"
	default:
		return "unknown"
	}
}

// Bar represents an OHLCV aggregate of ticks over a fixed period.
type Bar struct {
	Symbol string
	Kind   BarKind
	Start  time.Time
	Open   float64
	High   float64
	Low    float64
	Close  float64
	Volume float64
}
