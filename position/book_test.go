package position

import (
	"math"
	"testing"
	"time"

	"github.com/peterldowns/testy/assert"
	"github.com/reflexhq/reflex/shared"
)

func testSignal(kind shared.SignalKind, price float64, at time.Time) shared.Signal {
	snap := shared.Snapshot{
		Symbol:    "XYZ",
		At:        at,
		LastPrice: price,
	}

	return shared.NewSignal(kind, snap, []shared.Reason{shared.MomentumBreakout},
		"reflex-momentum", "1.4.2", at)
}

func TestPositionLifecycle(t *testing.T) {
	now := time.Now().UTC()

	entry := testSignal(shared.EntrySignal, 10.40, now)
	pos, err := NewPosition(&entry)
	assert.NoError(t, err)
	assert.Equal(t, pos.Symbol, "XYZ")
	assert.Equal(t, pos.EntryPrice, 10.40)
	assert.Equal(t, pos.AddCount, uint32(0))

	// A non-entry signal cannot start a position.
	exit := testSignal(shared.ExitSignal, 10.40, now)
	_, err = NewPosition(&exit)
	assert.Error(t, err)

	_, err = NewPosition(nil)
	assert.Error(t, err)

	assert.True(t, math.Abs(pos.GainPoints(10.95)-0.55) < 1e-9)
	assert.True(t, math.Abs(pos.DrawdownPoints(10.25)-0.15) < 1e-9)
	assert.Equal(t, pos.HeldFor(now.Add(time.Second*30)), time.Second*30)

	// Adds are capped at the provided maximum.
	err = pos.ApplyAdd(2, now.Add(time.Second))
	assert.NoError(t, err)
	err = pos.ApplyAdd(2, now.Add(time.Second*2))
	assert.NoError(t, err)
	err = pos.ApplyAdd(2, now.Add(time.Second*3))
	assert.Error(t, err)
	assert.Equal(t, pos.AddCount, uint32(2))
}

func TestBookOpenClose(t *testing.T) {
	now := time.Now().UTC()
	cooldown := time.Second * 30
	book := NewBook()

	_, ok := book.Position("XYZ")
	assert.False(t, ok)

	entry := testSignal(shared.EntrySignal, 10.40, now)
	pos, err := book.Open(&entry, cooldown)
	assert.NoError(t, err)

	got, ok := book.Position("XYZ")
	assert.True(t, ok)
	assert.Equal(t, got, pos)

	// Only one open position per symbol.
	dupe := testSignal(shared.EntrySignal, 10.45, now.Add(time.Minute))
	_, err = book.Open(&dupe, cooldown)
	assert.Error(t, err)

	// Closing destroys the position and records the exit time.
	exit := testSignal(shared.ExitSignal, 10.95, now.Add(time.Second*10))
	closed, err := book.Close(&exit, cooldown)
	assert.NoError(t, err)
	assert.Equal(t, closed, pos)

	_, ok = book.Position("XYZ")
	assert.False(t, ok)

	lastExit, ok := book.LastExit("XYZ")
	assert.True(t, ok)
	assert.Equal(t, lastExit, exit.CreatedOn)

	// Closing without an open position fails.
	_, err = book.Close(&exit, cooldown)
	assert.Error(t, err)
}

func TestBookCooldowns(t *testing.T) {
	now := time.Now().UTC()
	cooldown := time.Second * 30
	book := NewBook()

	entry := testSignal(shared.EntrySignal, 10.40, now)
	_, err := book.Open(&entry, cooldown)
	assert.NoError(t, err)

	assert.True(t, book.CooldownActive("XYZ", shared.EntrySignal, cooldown, now.Add(time.Second*10)))
	assert.False(t, book.CooldownActive("XYZ", shared.EntrySignal, cooldown, now.Add(time.Second*31)))
	assert.False(t, book.CooldownActive("XYZ", shared.AddSignal, cooldown, now.Add(time.Second*10)))

	exit := testSignal(shared.ExitSignal, 10.50, now.Add(time.Second*5))
	_, err = book.Close(&exit, cooldown)
	assert.NoError(t, err)

	// Re-entry inside the per-kind entry cooldown is rejected by the book
	// itself.
	reentry := testSignal(shared.EntrySignal, 10.55, now.Add(time.Second*10))
	_, err = book.Open(&reentry, cooldown)
	assert.Error(t, err)

	late := testSignal(shared.EntrySignal, 10.55, now.Add(time.Second*45))
	_, err = book.Open(&late, cooldown)
	assert.NoError(t, err)
}

func TestBookAdds(t *testing.T) {
	now := time.Now().UTC()
	cooldown := time.Second * 15
	book := NewBook()

	// Adds require an open position.
	orphan := testSignal(shared.AddSignal, 10.45, now)
	err := book.Add(&orphan, 2, cooldown)
	assert.Error(t, err)

	entry := testSignal(shared.EntrySignal, 10.40, now)
	_, err = book.Open(&entry, cooldown)
	assert.NoError(t, err)

	first := testSignal(shared.AddSignal, 10.45, now.Add(time.Second*20))
	err = book.Add(&first, 2, cooldown)
	assert.NoError(t, err)

	// The add cooldown is enforced independently of the entry cooldown.
	rapid := testSignal(shared.AddSignal, 10.47, now.Add(time.Second*25))
	err = book.Add(&rapid, 2, cooldown)
	assert.Error(t, err)

	second := testSignal(shared.AddSignal, 10.50, now.Add(time.Second*40))
	err = book.Add(&second, 2, cooldown)
	assert.NoError(t, err)

	// The add limit holds even outside the cooldown window.
	third := testSignal(shared.AddSignal, 10.52, now.Add(time.Minute*2))
	err = book.Add(&third, 2, cooldown)
	assert.Error(t, err)

	pos, ok := book.Position("XYZ")
	assert.True(t, ok)
	assert.Equal(t, pos.AddCount, uint32(2))
}
