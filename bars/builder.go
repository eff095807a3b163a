package bars

import (
	"context"
	"time"

	"github.com/reflexhq/reflex/shared"
	"github.com/rs/zerolog"
)

const (
	// bufferSize is the default buffer size for channels.
	bufferSize = 128
)

// BuilderConfig represents the bar builder configuration.
type BuilderConfig struct {
	// PersistBar persists the provided completed bar.
	PersistBar func(bar shared.Bar)
	// Logger represents the application logger.
	Logger *zerolog.Logger
}

// Builder aggregates ticks into minute and daily OHLCV bars. A minute bar is
// flushed when the first tick of the next minute arrives; daily bars are
// flushed by the scheduled end-of-day job or on shutdown.
type Builder struct {
	cfg         *BuilderConfig
	minutes     map[string]*shared.Bar
	days        map[string]*shared.Bar
	tickSignals chan shared.Tick
	flushDaily  chan struct{}
}

// NewBuilder initializes a new bar builder.
func NewBuilder(cfg *BuilderConfig) *Builder {
	return &Builder{
		cfg:         cfg,
		minutes:     make(map[string]*shared.Bar),
		days:        make(map[string]*shared.Bar),
		tickSignals: make(chan shared.Tick, bufferSize),
		flushDaily:  make(chan struct{}, 1),
	}
}

// SendTick relays the provided tick for aggregation.
func (b *Builder) SendTick(tick shared.Tick) {
	select {
	case b.tickSignals <- tick:
		// do nothing.
	default:
		b.cfg.Logger.Error().Msgf("bar tick channel at capacity: %d/%d",
			len(b.tickSignals), bufferSize)
	}
}

// FlushDaily signals a flush of all accumulated daily bars.
func (b *Builder) FlushDaily() {
	select {
	case b.flushDaily <- struct{}{}:
		// do nothing.
	default:
		// a flush is already pending.
	}
}

// apply folds the provided tick into the bar.
func apply(bar *shared.Bar, tick *shared.Tick) {
	if tick.Price > bar.High {
		bar.High = tick.Price
	}
	if tick.Price < bar.Low {
		bar.Low = tick.Price
	}
	bar.Close = tick.Price
	bar.Volume += tick.Size
}

// newBar starts a bar of the provided kind from the tick.
func newBar(kind shared.BarKind, start time.Time, tick *shared.Tick) *shared.Bar {
	return &shared.Bar{
		Symbol: tick.Symbol,
		Kind:   kind,
		Start:  start,
		Open:   tick.Price,
		High:   tick.Price,
		Low:    tick.Price,
		Close:  tick.Price,
		Volume: tick.Size,
	}
}

// handleTick folds the provided tick into the symbol's current minute and
// daily bars, flushing completed bars.
func (b *Builder) handleTick(tick *shared.Tick) {
	minuteStart := tick.At.Truncate(time.Minute)
	dayStart := tick.At.Truncate(time.Hour * 24)

	minute, ok := b.minutes[tick.Symbol]
	switch {
	case !ok:
		b.minutes[tick.Symbol] = newBar(shared.MinuteBar, minuteStart, tick)
	case minuteStart.After(minute.Start):
		b.cfg.PersistBar(*minute)
		b.minutes[tick.Symbol] = newBar(shared.MinuteBar, minuteStart, tick)
	case minuteStart.Before(minute.Start):
		// Late tick for an already flushed minute; fold into the daily only.
	default:
		apply(minute, tick)
	}

	day, ok := b.days[tick.Symbol]
	switch {
	case !ok:
		b.days[tick.Symbol] = newBar(shared.DailyBar, dayStart, tick)
	case dayStart.After(day.Start):
		b.cfg.PersistBar(*day)
		b.days[tick.Symbol] = newBar(shared.DailyBar, dayStart, tick)
	case dayStart.Before(day.Start):
		// do nothing.
	default:
		apply(day, tick)
	}
}

// handleFlushDaily flushes all accumulated daily bars.
func (b *Builder) handleFlushDaily() {
	for symbol, day := range b.days {
		b.cfg.PersistBar(*day)
		delete(b.days, symbol)
	}
}

// flushAll flushes all accumulated minute and daily bars.
func (b *Builder) flushAll() {
	for symbol, minute := range b.minutes {
		b.cfg.PersistBar(*minute)
		delete(b.minutes, symbol)
	}

	b.handleFlushDaily()
}

// Run manages the lifecycle processes of the bar builder.
func (b *Builder) Run(ctx context.Context) {
	for {
		select {
		case tick := <-b.tickSignals:
			b.handleTick(&tick)

		case <-b.flushDaily:
			b.handleFlushDaily()

		case <-ctx.Done():
			b.flushAll()
			return
		}
	}
}
