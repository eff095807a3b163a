package snapshot

import (
	"fmt"
	"sync"
	"time"

	"github.com/reflexhq/reflex/shared"
)

// symbolRecord holds the rolling buffers and feed bookkeeping for one symbol.
// All mutations to a record are serialized by its mutex.
type symbolRecord struct {
	symbol string
	mtx    sync.Mutex

	trades *tradeRing
	quotes *quoteRing

	lastTickSeq  uint64
	lastQuoteSeq uint64
	lastTickAt   time.Time
	lastQuoteAt  time.Time
	lastPrice    float64
	prevPrice    float64
	outOfOrder   uint64
}

// newSymbolRecord initializes a new symbol record.
func newSymbolRecord(symbol string, tradeCapacity int, quoteCapacity int) (*symbolRecord, error) {
	trades, err := newTradeRing(tradeCapacity)
	if err != nil {
		return nil, fmt.Errorf("creating trade ring: %w", err)
	}

	quotes, err := newQuoteRing(quoteCapacity)
	if err != nil {
		return nil, fmt.Errorf("creating quote ring: %w", err)
	}

	return &symbolRecord{
		symbol: symbol,
		trades: trades,
		quotes: quotes,
	}, nil
}

// classifyTrade classifies the aggressor side of a trade using the prevailing
// quote, falling back to an uptick/downtick test when no quote is available.
func (r *symbolRecord) classifyTrade(price float64) shared.TradeSide {
	quote, ok := r.quotes.Latest()
	if ok {
		switch {
		case price >= quote.AskPrice:
			return shared.BuySide
		case price <= quote.BidPrice:
			return shared.SellSide
		case price > quote.Mid():
			return shared.BuySide
		case price < quote.Mid():
			return shared.SellSide
		}
	}

	switch {
	case r.lastPrice == 0:
		return shared.UnknownSide
	case price > r.lastPrice:
		return shared.BuySide
	case price < r.lastPrice:
		return shared.SellSide
	default:
		return shared.UnknownSide
	}
}

// updateTick applies the provided tick to the record. Out-of-order ticks are
// dropped and counted as a data quality issue.
func (r *symbolRecord) updateTick(tick *shared.Tick, lookback time.Duration) bool {
	r.mtx.Lock()
	defer r.mtx.Unlock()

	if tick.Sequence != 0 && tick.Sequence <= r.lastTickSeq {
		r.outOfOrder++
		return false
	}

	side := r.classifyTrade(tick.Price)
	r.trades.Push(tick.At, tick.Price, tick.Size, side)
	r.trades.EvictOlder(tick.At.Add(-lookback))

	if tick.Sequence != 0 {
		r.lastTickSeq = tick.Sequence
	}
	r.prevPrice = r.lastPrice
	r.lastPrice = tick.Price
	r.lastTickAt = tick.At

	return true
}

// updateQuote applies the provided quote to the record. Out-of-order quotes
// are dropped and counted as a data quality issue.
func (r *symbolRecord) updateQuote(quote *shared.Quote, lookback time.Duration) bool {
	r.mtx.Lock()
	defer r.mtx.Unlock()

	if quote.Sequence != 0 && quote.Sequence <= r.lastQuoteSeq {
		r.outOfOrder++
		return false
	}

	r.quotes.Push(*quote)
	r.quotes.EvictOlder(quote.At.Add(-lookback))

	if quote.Sequence != 0 {
		r.lastQuoteSeq = quote.Sequence
	}
	r.lastQuoteAt = quote.At

	return true
}

// snapshot derives the point-in-time metric bundle for the record.
func (r *symbolRecord) snapshot(now time.Time, lookback time.Duration, quoteFreshness time.Duration) shared.Snapshot {
	r.mtx.Lock()
	defer r.mtx.Unlock()

	r.trades.EvictOlder(now.Add(-lookback))
	r.quotes.EvictOlder(now.Add(-lookback))

	snap := shared.Snapshot{
		Symbol:      r.symbol,
		At:          now,
		LastPrice:   r.lastPrice,
		TradeCount:  r.trades.count,
		QuoteCount:  r.quotes.count,
		LastTickAt:  r.lastTickAt,
		LastQuoteAt: r.lastQuoteAt,
	}

	front, ok := r.trades.Front()
	if ok {
		snap.Momentum = r.lastPrice - front.price
	}

	snap.Volatility = r.trades.Volatility()
	snap.Volume = r.trades.volumeSum

	quote, ok := r.quotes.Latest()
	if ok {
		snap.BidPrice = quote.BidPrice
		snap.BidSize = quote.BidSize
		snap.AskPrice = quote.AskPrice
		snap.AskSize = quote.AskSize
		snap.Spread = quote.Spread()
		snap.Mid = quote.Mid()
		snap.TapePressure = r.trades.TapePressure()
		snap.QuoteFresh = !r.lastQuoteAt.IsZero() && now.Sub(r.lastQuoteAt) <= quoteFreshness
	}

	return snap
}

// outOfOrderCount returns the number of out-of-order events dropped for the
// record.
func (r *symbolRecord) outOfOrderCount() uint64 {
	r.mtx.Lock()
	defer r.mtx.Unlock()

	return r.outOfOrder
}
