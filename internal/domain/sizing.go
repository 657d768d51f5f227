package domain

// SizeTier names the policy that produced a sizing decision.
type SizeTier string

const (
	TierNone           SizeTier = ""
	TierHighConfidence SizeTier = "high_confidence"
	TierOptimal        SizeTier = "optimal"
	TierDefault        SizeTier = "default"
	TierMirrorSell     SizeTier = "mirror_sell"
)

// Skip reasons reported by the sizer and the risk check.
const (
	ReasonNoPosition   = "no_position"
	ReasonCapExceeded  = "cap_exceeded"
	ReasonTierUsed     = "tier_used"
	ReasonBelowMinimum = "below_minimum"
	ReasonBadPrice     = "invalid_price"
	ReasonMaxPositions = "max_positions"
	ReasonMaxExposure  = "max_exposure"
)

// SizingDecision is the sizer's answer for one trade event. For BUY the
// Notional is authoritative; for SELL it is Shares.
type SizingDecision struct {
	Tier     SizeTier
	Notional float64
	Shares   float64
	Skip     bool
	Reason   string
}

// Skipped builds a skip decision.
func Skipped(tier SizeTier, reason string) SizingDecision {
	return SizingDecision{Tier: tier, Skip: true, Reason: reason}
}

// RiskLimits bound the portfolio. Read-only at runtime.
type RiskLimits struct {
	MaxPositions     int
	MaxExposure      float64
	MaxPerInstrument float64
}

// Admission is the risk ledger's answer for one proposed order.
type Admission struct {
	Allowed           bool
	Reason            string
	OpenPositions     int
	Exposure          float64
	ProjectedExposure float64
}
