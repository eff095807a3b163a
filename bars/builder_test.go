package bars

import (
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"github.com/peterldowns/testy/assert"
	"github.com/reflexhq/reflex/shared"
	"github.com/rs/zerolog/log"
)

func setupBuilder() (*Builder, *[]shared.Bar) {
	flushed := &[]shared.Bar{}

	builder := NewBuilder(&BuilderConfig{
		PersistBar: func(bar shared.Bar) {
			*flushed = append(*flushed, bar)
		},
		Logger: &log.Logger,
	})

	return builder, flushed
}

func tickAt(symbol string, at time.Time, price float64, size float64) shared.Tick {
	return shared.Tick{
		Symbol: symbol,
		At:     at,
		Price:  price,
		Size:   size,
	}
}

func TestBuilderMinuteBars(t *testing.T) {
	builder, flushed := setupBuilder()
	start := time.Date(2024, 6, 3, 14, 30, 0, 0, time.UTC)

	// Three ticks in one minute, then the first tick of the next minute
	// flushes the completed bar.
	ticks := []shared.Tick{
		tickAt("XYZ", start.Add(time.Second*5), 10.40, 100),
		tickAt("XYZ", start.Add(time.Second*20), 10.55, 200),
		tickAt("XYZ", start.Add(time.Second*45), 10.35, 150),
		tickAt("XYZ", start.Add(time.Second*65), 10.50, 300),
	}
	for idx := range ticks {
		builder.handleTick(&ticks[idx])
	}

	assert.Equal(t, len(*flushed), 1)
	bar := (*flushed)[0]
	assert.Equal(t, bar.Symbol, "XYZ")
	assert.Equal(t, bar.Kind, shared.MinuteBar)
	assert.Equal(t, bar.Start, start)
	assert.Equal(t, bar.Open, 10.40)
	assert.Equal(t, bar.High, 10.55)
	assert.Equal(t, bar.Low, 10.35)
	assert.Equal(t, bar.Close, 10.35)
	assert.Equal(t, bar.Volume, float64(450))
}

func TestBuilderLateTickIgnoredForMinute(t *testing.T) {
	builder, flushed := setupBuilder()
	start := time.Date(2024, 6, 3, 14, 30, 0, 0, time.UTC)

	ticks := []shared.Tick{
		tickAt("XYZ", start.Add(time.Second*5), 10.40, 100),
		tickAt("XYZ", start.Add(time.Second*65), 10.50, 300),
		// Late tick for the already flushed minute.
		tickAt("XYZ", start.Add(time.Second*55), 10.90, 50),
	}
	for idx := range ticks {
		builder.handleTick(&ticks[idx])
	}

	// The flushed minute bar is immutable; the current minute is untouched.
	assert.Equal(t, len(*flushed), 1)
	assert.Equal(t, (*flushed)[0].High, 10.40)
	assert.Equal(t, builder.minutes["XYZ"].High, 10.50)

	// The late tick still folds into the daily bar.
	assert.Equal(t, builder.days["XYZ"].High, 10.90)
	assert.Equal(t, builder.days["XYZ"].Volume, float64(450))
}

func TestBuilderDailyFlush(t *testing.T) {
	builder, flushed := setupBuilder()
	start := time.Date(2024, 6, 3, 14, 30, 0, 0, time.UTC)

	ticks := []shared.Tick{
		tickAt("XYZ", start, 10.40, 100),
		tickAt("ABC", start.Add(time.Second), 55.10, 400),
	}
	for idx := range ticks {
		builder.handleTick(&ticks[idx])
	}

	builder.handleFlushDaily()

	dayStart := start.Truncate(time.Hour * 24)
	want := []shared.Bar{
		{Symbol: "ABC", Kind: shared.DailyBar, Start: dayStart, Open: 55.10,
			High: 55.10, Low: 55.10, Close: 55.10, Volume: 400},
		{Symbol: "XYZ", Kind: shared.DailyBar, Start: dayStart, Open: 10.40,
			High: 10.40, Low: 10.40, Close: 10.40, Volume: 100},
	}
	sortBars := cmpopts.SortSlices(func(a, b shared.Bar) bool {
		return a.Symbol < b.Symbol
	})
	if !cmp.Equal(want, *flushed, sortBars) {
		t.Errorf("mismatching daily bars, got %v", cmp.Diff(want, *flushed, sortBars))
	}

	// A flush clears the accumulators; the next tick starts a new day bar.
	assert.Equal(t, len(builder.days), 0)
}

func TestBuilderFlushAll(t *testing.T) {
	builder, flushed := setupBuilder()
	start := time.Date(2024, 6, 3, 14, 30, 0, 0, time.UTC)

	tick := tickAt("XYZ", start, 10.40, 100)
	builder.handleTick(&tick)

	builder.flushAll()

	// Both the open minute bar and the open daily bar are flushed.
	assert.Equal(t, len(*flushed), 2)
	assert.Equal(t, len(builder.minutes), 0)
	assert.Equal(t, len(builder.days), 0)
}
