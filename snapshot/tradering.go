package snapshot

import (
	"fmt"
	"math"
	"time"

	"github.com/reflexhq/reflex/shared"
)

// tradeEntry represents a recorded trade within the rolling window.
type tradeEntry struct {
	at    time.Time
	price float64
	size  float64
	side  shared.TradeSide

	// ret is the price return from the preceding entry to this one. It is
	// removed from the running sums when the preceding entry is evicted.
	ret    float64
	hasRet bool
}

// tradeRing is a bounded ring buffer of trades with incrementally maintained
// aggregates, keeping snapshot computation free of full-window rescans.
type tradeRing struct {
	data  []tradeEntry
	start int
	count int
	size  int

	volumeSum  float64
	buyVolume  float64
	sellVolume float64
	retSum     float64
	retSumSq   float64
	retCount   int
}

// newTradeRing initializes a new trade ring with the provided capacity.
func newTradeRing(size int) (*tradeRing, error) {
	if size <= 0 {
		return nil, fmt.Errorf("trade ring size must be positive: %d", size)
	}

	return &tradeRing{
		data: make([]tradeEntry, size),
		size: size,
	}, nil
}

// Push adds the provided trade to the ring, evicting the oldest entry when
// at capacity.
func (r *tradeRing) Push(at time.Time, price float64, size float64, side shared.TradeSide) {
	if r.count == r.size {
		r.popFront()
	}

	entry := tradeEntry{at: at, price: price, size: size, side: side}
	if r.count > 0 {
		last := r.data[(r.start+r.count-1)%r.size]
		if last.price != 0 {
			entry.ret = (price - last.price) / last.price
			entry.hasRet = true
		}
	}

	end := (r.start + r.count) % r.size
	r.data[end] = entry
	r.count++

	r.volumeSum += size
	switch side {
	case shared.BuySide:
		r.buyVolume += size
	case shared.SellSide:
		r.sellVolume += size
	}
	if entry.hasRet {
		r.retSum += entry.ret
		r.retSumSq += entry.ret * entry.ret
		r.retCount++
	}
}

// popFront evicts the oldest entry, adjusting the running aggregates.
func (r *tradeRing) popFront() {
	if r.count == 0 {
		return
	}

	front := r.data[r.start]
	r.volumeSum -= front.size
	switch front.side {
	case shared.BuySide:
		r.buyVolume -= front.size
	case shared.SellSide:
		r.sellVolume -= front.size
	}

	r.start = (r.start + 1) % r.size
	r.count--

	// The return edge into the new front leaves the window with its
	// predecessor.
	if r.count > 0 {
		next := &r.data[r.start]
		if next.hasRet {
			r.retSum -= next.ret
			r.retSumSq -= next.ret * next.ret
			r.retCount--
			next.hasRet = false
		}
	}
}

// EvictOlder evicts all entries strictly older than the provided cutoff.
func (r *tradeRing) EvictOlder(cutoff time.Time) {
	for r.count > 0 && r.data[r.start].at.Before(cutoff) {
		r.popFront()
	}
}

// Front returns the oldest entry in the ring.
func (r *tradeRing) Front() (tradeEntry, bool) {
	if r.count == 0 {
		return tradeEntry{}, false
	}

	return r.data[r.start], true
}

// Back returns the newest entry in the ring.
func (r *tradeRing) Back() (tradeEntry, bool) {
	if r.count == 0 {
		return tradeEntry{}, false
	}

	return r.data[(r.start+r.count-1)%r.size], true
}

// Volatility returns the sample standard deviation of consecutive trade-price
// returns over the window.
func (r *tradeRing) Volatility() float64 {
	if r.retCount < 2 {
		return 0
	}

	n := float64(r.retCount)
	variance := (r.retSumSq - (r.retSum*r.retSum)/n) / (n - 1)
	if variance < 0 {
		// Guard against floating point drift in the running sums.
		variance = 0
	}

	return math.Sqrt(variance)
}

// TapePressure returns the signed buy/sell volume imbalance over the window.
func (r *tradeRing) TapePressure() float64 {
	if r.volumeSum == 0 {
		return 0
	}

	return (r.buyVolume - r.sellVolume) / r.volumeSum
}
