package model

import (
	"fmt"
	"time"

	"github.com/reflexhq/reflex/position"
	"github.com/reflexhq/reflex/shared"
)

// Filter applies the filter stage to the provided snapshot. It returns
// whether the snapshot passes, and the rejection reason when it does not.
func Filter(snap *shared.Snapshot, cfg *Config, veto *shared.Flag) (bool, string) {
	if !snap.Ready() {
		return false, "snapshot not ready"
	}
	if veto != nil {
		return false, fmt.Sprintf("vetoed by %s flag", veto.Type)
	}
	if snap.Volatility < cfg.MinVolatility {
		return false, fmt.Sprintf("volatility %.4f below minimum %.4f",
			snap.Volatility, cfg.MinVolatility)
	}
	if snap.Volume < cfg.MinVolume {
		return false, fmt.Sprintf("volume %.0f below minimum %.0f",
			snap.Volume, cfg.MinVolume)
	}

	return true, ""
}

// EvaluateEntry decides whether an entry fires for the provided snapshot.
// An entry may not fire within the cooldown window of the symbol's last
// exit.
func EvaluateEntry(snap *shared.Snapshot, cfg *Config, lastExit time.Time, now time.Time) (bool, []shared.Reason) {
	if !lastExit.IsZero() && now.Sub(lastExit) < cfg.Cooldown {
		return false, nil
	}

	if snap.Momentum >= cfg.Threshold {
		return true, []shared.Reason{shared.MomentumBreakout}
	}

	return false, nil
}

// EvaluateExit decides whether an exit fires for the provided snapshot and
// open position. The exit fires on the first satisfied condition.
func EvaluateExit(snap *shared.Snapshot, cfg *Config, pos *position.Position, now time.Time) (bool, []shared.Reason) {
	switch {
	case cfg.TargetPoints > 0 && pos.GainPoints(snap.LastPrice) >= cfg.TargetPoints:
		return true, []shared.Reason{shared.TakeProfitReached}

	case cfg.StopPoints > 0 && pos.DrawdownPoints(snap.LastPrice) >= cfg.StopPoints:
		return true, []shared.Reason{shared.StopLossReached}

	case cfg.BidVolumeThreshold > 0 && snap.BidSize >= cfg.BidVolumeThreshold:
		return true, []shared.Reason{shared.BidVolumeReversal}

	case snap.TapePressure <= cfg.AdversePressure && cfg.AdversePressure != 0:
		return true, []shared.Reason{shared.AdverseTapePressure}

	case cfg.MaxHold > 0 && pos.HeldFor(now) >= cfg.MaxHold:
		return true, []shared.Reason{shared.MaxHoldExpired}
	}

	return false, nil
}

// EvaluateAdd decides whether a scale-in fires for the provided snapshot and
// open position. All add conditions must hold and the add count must be
// below the configured maximum.
func EvaluateAdd(snap *shared.Snapshot, cfg *Config, pos *position.Position) (bool, []shared.Reason) {
	if pos.AddCount >= cfg.MaxAdds {
		return false, nil
	}
	if cfg.AskAbsorbThreshold <= 0 {
		return false, nil
	}

	askAbsorbed := snap.AskSize <= cfg.AskAbsorbThreshold
	narrowSpread := snap.Spread <= cfg.NarrowThreshold
	momentum := snap.Momentum >= cfg.MinMomentumToAdd

	if askAbsorbed && narrowSpread && momentum {
		return true, []shared.Reason{
			shared.AskLiquidityAbsorbed,
			shared.NarrowSpread,
			shared.AddMomentum,
		}
	}

	return false, nil
}
