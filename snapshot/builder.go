package snapshot

import (
	"context"
	"fmt"
	"time"

	"github.com/reflexhq/reflex/metrics"
	"github.com/reflexhq/reflex/shared"
	"github.com/rs/zerolog"
)

const (
	// bufferSize is the default buffer size for channels.
	bufferSize = 64
	// defaultTradeCapacity is the default trade ring capacity per symbol.
	defaultTradeCapacity = 256
	// defaultQuoteCapacity is the default quote ring capacity per symbol.
	defaultQuoteCapacity = 256
)

// BuilderConfig represents the snapshot builder configuration.
type BuilderConfig struct {
	// Symbols represents the collection of tracked symbols.
	Symbols []string
	// Lookback is the rolling window duration for snapshot metrics.
	Lookback time.Duration
	// QuoteFreshness is the maximum quote age for a snapshot to be ready.
	QuoteFreshness time.Duration
	// TradeCapacity is the trade ring capacity per symbol.
	TradeCapacity int
	// QuoteCapacity is the quote ring capacity per symbol.
	QuoteCapacity int
	// RecordQuality relays a data quality issue for diagnostics.
	RecordQuality func(symbol string, issue string)
	// Logger represents the application logger.
	Logger *zerolog.Logger
}

// Builder converts a stream of tick and quote events into up-to-date
// per-symbol snapshots.
type Builder struct {
	cfg          *BuilderConfig
	records      map[string]*symbolRecord
	tickSignals  chan shared.Tick
	quoteSignals chan shared.Quote
	workers      map[string]chan struct{}
}

// NewBuilder initializes a new snapshot builder.
func NewBuilder(cfg *BuilderConfig) (*Builder, error) {
	if cfg.TradeCapacity == 0 {
		cfg.TradeCapacity = defaultTradeCapacity
	}
	if cfg.QuoteCapacity == 0 {
		cfg.QuoteCapacity = defaultQuoteCapacity
	}

	records := make(map[string]*symbolRecord, len(cfg.Symbols))
	workers := make(map[string]chan struct{})
	for idx := range cfg.Symbols {
		record, err := newSymbolRecord(cfg.Symbols[idx], cfg.TradeCapacity, cfg.QuoteCapacity)
		if err != nil {
			return nil, fmt.Errorf("creating symbol record: %w", err)
		}

		records[cfg.Symbols[idx]] = record
		workers[cfg.Symbols[idx]] = make(chan struct{}, 1)
	}

	return &Builder{
		cfg:          cfg,
		records:      records,
		tickSignals:  make(chan shared.Tick, bufferSize),
		quoteSignals: make(chan shared.Quote, bufferSize),
		workers:      workers,
	}, nil
}

// SendTick relays the provided tick for processing.
func (b *Builder) SendTick(tick shared.Tick) {
	select {
	case b.tickSignals <- tick:
		// do nothing.
	default:
		b.cfg.Logger.Error().Msgf("tick channel at capacity: %d/%d",
			len(b.tickSignals), bufferSize)
	}
}

// SendQuote relays the provided quote for processing.
func (b *Builder) SendQuote(quote shared.Quote) {
	select {
	case b.quoteSignals <- quote:
		// do nothing.
	default:
		b.cfg.Logger.Error().Msgf("quote channel at capacity: %d/%d",
			len(b.quoteSignals), bufferSize)
	}
}

// ApplyTick applies the provided tick synchronously. Replay uses it in place
// of SendTick so events are applied in exactly the recorded order.
func (b *Builder) ApplyTick(tick shared.Tick) {
	b.handleTick(&tick)
}

// ApplyQuote applies the provided quote synchronously. Replay uses it in
// place of SendQuote so events are applied in exactly the recorded order.
func (b *Builder) ApplyQuote(quote shared.Quote) {
	b.handleQuote(&quote)
}

// handleTick processes the provided tick.
func (b *Builder) handleTick(tick *shared.Tick) {
	record, ok := b.records[tick.Symbol]
	if !ok {
		b.cfg.Logger.Error().Msgf("no record found for symbol %s", tick.Symbol)
		return
	}

	applied := record.updateTick(tick, b.cfg.Lookback)
	if !applied {
		metrics.OutOfOrderTotal.WithLabelValues(tick.Symbol).Inc()
		if b.cfg.RecordQuality != nil {
			b.cfg.RecordQuality(tick.Symbol,
				fmt.Sprintf("out-of-order tick dropped, sequence %d", tick.Sequence))
		}
		return
	}

	metrics.TicksTotal.WithLabelValues(tick.Symbol).Inc()
}

// handleQuote processes the provided quote.
func (b *Builder) handleQuote(quote *shared.Quote) {
	record, ok := b.records[quote.Symbol]
	if !ok {
		b.cfg.Logger.Error().Msgf("no record found for symbol %s", quote.Symbol)
		return
	}

	applied := record.updateQuote(quote, b.cfg.Lookback)
	if !applied {
		metrics.OutOfOrderTotal.WithLabelValues(quote.Symbol).Inc()
		if b.cfg.RecordQuality != nil {
			b.cfg.RecordQuality(quote.Symbol,
				fmt.Sprintf("out-of-order quote dropped, sequence %d", quote.Sequence))
		}
		return
	}

	metrics.QuotesTotal.WithLabelValues(quote.Symbol).Inc()
}

// Snapshot derives the point-in-time snapshot for the provided symbol.
func (b *Builder) Snapshot(symbol string, now time.Time) (shared.Snapshot, error) {
	record, ok := b.records[symbol]
	if !ok {
		return shared.Snapshot{}, fmt.Errorf("no record found for symbol %s", symbol)
	}

	return record.snapshot(now, b.cfg.Lookback, b.cfg.QuoteFreshness), nil
}

// OutOfOrderCount returns the number of out-of-order events dropped for the
// provided symbol.
func (b *Builder) OutOfOrderCount(symbol string) uint64 {
	record, ok := b.records[symbol]
	if !ok {
		return 0
	}

	return record.outOfOrderCount()
}

// Run manages the lifecycle processes of the snapshot builder.
func (b *Builder) Run(ctx context.Context) {
	for {
		select {
		case tick := <-b.tickSignals:
			worker, ok := b.workers[tick.Symbol]
			if !ok {
				b.cfg.Logger.Error().Msgf("no worker found for symbol %s", tick.Symbol)
				continue
			}

			// use the dedicated symbol worker to serialize updates.
			worker <- struct{}{}
			go func(tick *shared.Tick) {
				b.handleTick(tick)
				<-worker
			}(&tick)

		case quote := <-b.quoteSignals:
			worker, ok := b.workers[quote.Symbol]
			if !ok {
				b.cfg.Logger.Error().Msgf("no worker found for symbol %s", quote.Symbol)
				continue
			}

			worker <- struct{}{}
			go func(quote *shared.Quote) {
				b.handleQuote(quote)
				<-worker
			}(&quote)

		case <-ctx.Done():
			return
		}
	}
}
