package snapshot

import (
	"math"
	"testing"
	"time"

	"github.com/peterldowns/testy/assert"
	"github.com/reflexhq/reflex/shared"
	"github.com/rs/zerolog/log"
)

func setupBuilder(t *testing.T, symbols ...string) *Builder {
	t.Helper()

	builder, err := NewBuilder(&BuilderConfig{
		Symbols:        symbols,
		Lookback:       time.Second * 5,
		QuoteFreshness: time.Second * 2,
		Logger:         &log.Logger,
	})
	assert.NoError(t, err)

	return builder
}

// deliver applies the provided ticks directly to the symbol record in
// batches of the provided size.
func deliver(t *testing.T, builder *Builder, symbol string, ticks []shared.Tick, batch int) {
	t.Helper()

	record := builder.records[symbol]
	for start := 0; start < len(ticks); start += batch {
		end := start + batch
		if end > len(ticks) {
			end = len(ticks)
		}
		for idx := start; idx < end; idx++ {
			record.updateTick(&ticks[idx], builder.cfg.Lookback)
		}
	}
}

func TestMomentumBatchingInvariance(t *testing.T) {
	symbol := "XYZ"
	now := time.Now().UTC()

	ticks := make([]shared.Tick, 0, 20)
	for idx := range 20 {
		ticks = append(ticks, shared.Tick{
			Symbol:   symbol,
			At:       now.Add(time.Duration(idx) * 100 * time.Millisecond),
			Sequence: uint64(idx + 1),
			Price:    10.00 + float64(idx)*0.02,
			Size:     250,
		})
	}

	// Ensure momentum is identical regardless of the batch size used to
	// deliver the events.
	var snaps []shared.Snapshot
	for _, batch := range []int{1, 4, 20} {
		builder := setupBuilder(t, symbol)
		deliver(t, builder, symbol, ticks, batch)

		snap, err := builder.Snapshot(symbol, ticks[len(ticks)-1].At)
		assert.NoError(t, err)
		snaps = append(snaps, snap)
	}

	// Momentum is the last price minus the price at the window start.
	want := ticks[len(ticks)-1].Price - ticks[0].Price
	for idx := range snaps {
		assert.Equal(t, snaps[idx].Momentum, want)
		assert.Equal(t, snaps[idx].Momentum, snaps[0].Momentum)
	}
}

func TestOutOfOrderTicksDropped(t *testing.T) {
	symbol := "XYZ"
	builder := setupBuilder(t, symbol)
	record := builder.records[symbol]
	now := time.Now().UTC()

	applied := record.updateTick(&shared.Tick{
		Symbol: symbol, At: now, Sequence: 5, Price: 10, Size: 100,
	}, builder.cfg.Lookback)
	assert.True(t, applied)

	// A lower sequence number than the last seen is dropped and counted.
	applied = record.updateTick(&shared.Tick{
		Symbol: symbol, At: now.Add(time.Millisecond), Sequence: 4, Price: 11, Size: 100,
	}, builder.cfg.Lookback)
	assert.False(t, applied)
	assert.Equal(t, builder.OutOfOrderCount(symbol), uint64(1))

	snap, err := builder.Snapshot(symbol, now.Add(time.Millisecond))
	assert.NoError(t, err)
	assert.Equal(t, snap.LastPrice, float64(10))
	assert.Equal(t, snap.TradeCount, 1)
}

func TestSnapshotReadiness(t *testing.T) {
	symbol := "XYZ"
	builder := setupBuilder(t, symbol)
	record := builder.records[symbol]
	now := time.Now().UTC()

	record.updateTick(&shared.Tick{
		Symbol: symbol, At: now, Sequence: 1, Price: 10.29, Size: 100,
	}, builder.cfg.Lookback)

	// Missing quote data leaves the snapshot not ready.
	snap, err := builder.Snapshot(symbol, now)
	assert.NoError(t, err)
	assert.False(t, snap.Ready())

	record.updateQuote(&shared.Quote{
		Symbol: symbol, At: now, Sequence: 1,
		BidPrice: 10.28, BidSize: 500, AskPrice: 10.30, AskSize: 300,
	}, builder.cfg.Lookback)

	snap, err = builder.Snapshot(symbol, now)
	assert.NoError(t, err)
	assert.True(t, snap.Ready())
	assert.True(t, math.Abs(snap.Spread-0.02) < 1e-9)
	assert.True(t, math.Abs(snap.Mid-10.29) < 1e-9)

	// A stale quote demotes the snapshot back to not ready.
	snap, err = builder.Snapshot(symbol, now.Add(time.Second*3))
	assert.NoError(t, err)
	assert.False(t, snap.Ready())
}

func TestTradeClassification(t *testing.T) {
	symbol := "XYZ"
	builder := setupBuilder(t, symbol)
	record := builder.records[symbol]
	now := time.Now().UTC()

	record.updateQuote(&shared.Quote{
		Symbol: symbol, At: now, Sequence: 1,
		BidPrice: 10.00, BidSize: 500, AskPrice: 10.02, AskSize: 300,
	}, builder.cfg.Lookback)

	// A trade at the ask classifies as buy-side, at the bid as sell-side.
	record.updateTick(&shared.Tick{
		Symbol: symbol, At: now, Sequence: 1, Price: 10.02, Size: 300,
	}, builder.cfg.Lookback)
	record.updateTick(&shared.Tick{
		Symbol: symbol, At: now.Add(time.Millisecond), Sequence: 2, Price: 10.00, Size: 100,
	}, builder.cfg.Lookback)

	snap, err := builder.Snapshot(symbol, now.Add(time.Millisecond))
	assert.NoError(t, err)
	assert.True(t, math.Abs(snap.TapePressure-0.5) < 1e-9)
}
