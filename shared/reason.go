package shared

// Reason represents the reason for a generated signal.
type Reason int

const (
	MomentumBreakout Reason = iota
	TakeProfitReached
	StopLossReached
	BidVolumeReversal
	AdverseTapePressure
	MaxHoldExpired
	AskLiquidityAbsorbed
	NarrowSpread
	AddMomentum
)

// String stringifies the provided reason.
func (r Reason) String() string {
	switch r {
	case MomentumBreakout:
		return "momentum breakout"
	case TakeProfitReached:
		return "take profit reached"
	case StopLossReached:
		return "stop loss reached"
	case BidVolumeReversal:
		return "bid volume reversal"
	case AdverseTapePressure:
		return "adverse tape pressure"
	case MaxHoldExpired:
		return "max hold expired"
	case AskLiquidityAbsorbed:
		return "ask liquidity absorbed"
	case NarrowSpread:
		return "narrow spread"
	case AddMomentum:
		return "add momentum"
	default:
		return "unknown"
	}
}
