package feed

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"time"

	"github.com/rs/zerolog"
	"github.com/tidwall/gjson"

	"github.com/reflexhq/reflex/shared"
)

// ReplayConfig represents the replay feed configuration.
type ReplayConfig struct {
	// FilePath is the filepath to the recorded event log.
	FilePath string
	// Cadence is the virtual evaluation cadence. Recorded event timestamps
	// drive the cycle clock, so two replays of the same data observe the
	// same snapshots on every cycle.
	Cadence time.Duration
	// OnCycle runs one evaluation cycle at the provided virtual time.
	OnCycle func(now time.Time)
	// SendTick relays the provided tick for processing.
	SendTick func(tick shared.Tick)
	// SendQuote relays the provided quote for processing.
	SendQuote func(quote shared.Quote)
	// SignalDone signals that the replay has been fully delivered.
	SignalDone func()
	// Logger represents the application logger.
	Logger *zerolog.Logger
}

// Replay replays a recorded tick/quote event sequence through the same
// ingestion path as the live feed. Events are delivered in recorded order so
// a fresh instance produces identical signals.
type Replay struct {
	cfg *ReplayConfig
}

// NewReplay initializes a new replay feed.
func NewReplay(cfg *ReplayConfig) (*Replay, error) {
	if cfg.FilePath == "" {
		return nil, fmt.Errorf("replay filepath cannot be an empty string")
	}

	_, err := os.Stat(cfg.FilePath)
	if err != nil {
		return nil, fmt.Errorf("locating replay data: %w", err)
	}

	return &Replay{cfg: cfg}, nil
}

// advanceCycles fires an evaluation cycle for every cadence boundary at or
// before the provided event time. The first event seeds the cycle clock.
func (r *Replay) advanceCycles(at time.Time, nextCycle *time.Time) {
	if r.cfg.OnCycle == nil || r.cfg.Cadence <= 0 {
		return
	}

	if nextCycle.IsZero() {
		*nextCycle = at.Add(r.cfg.Cadence)
		return
	}

	for !at.Before(*nextCycle) {
		r.cfg.OnCycle(*nextCycle)
		*nextCycle = nextCycle.Add(r.cfg.Cadence)
	}
}

// Run replays the recorded events.
func (r *Replay) Run(ctx context.Context) {
	file, err := os.Open(r.cfg.FilePath)
	if err != nil {
		r.cfg.Logger.Error().Msgf("opening replay data: %v", err)
		return
	}
	defer file.Close()

	var delivered uint64
	var nextCycle time.Time
	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		select {
		case <-ctx.Done():
			return
		default:
		}

		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}

		event := gjson.ParseBytes(line)
		switch event.Get("ev").String() {
		case tradeEvent:
			tick, err := ParseTick(&event)
			if err != nil {
				r.cfg.Logger.Error().Msgf("parsing replay trade event: %v", err)
				continue
			}
			r.advanceCycles(tick.At, &nextCycle)
			r.cfg.SendTick(tick)
			delivered++

		case quoteEvent:
			quote, err := ParseQuote(&event)
			if err != nil {
				r.cfg.Logger.Error().Msgf("parsing replay quote event: %v", err)
				continue
			}
			r.advanceCycles(quote.At, &nextCycle)
			r.cfg.SendQuote(quote)
			delivered++

		default:
			// unrecognized events are ignored.
		}
	}

	if err := scanner.Err(); err != nil {
		r.cfg.Logger.Error().Msgf("reading replay data: %v", err)
	}

	// A trailing cycle evaluates the events after the last boundary.
	if r.cfg.OnCycle != nil && !nextCycle.IsZero() {
		r.cfg.OnCycle(nextCycle)
	}

	r.cfg.Logger.Info().Msgf("replay delivered %d events", delivered)

	if r.cfg.SignalDone != nil {
		r.cfg.SignalDone()
	}
}
