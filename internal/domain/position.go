package domain

import "time"

// PositionEpsilon is the share count below which a position is considered closed.
const PositionEpsilon = 1e-6

// MarketDescriptor identifies the market an instrument belongs to.
type MarketDescriptor struct {
	ConditionID string `json:"condition_id"`
	Title       string `json:"title"`
	Slug        string `json:"slug"`
	NegRisk     bool   `json:"neg_risk,omitempty"`
}

// Position is a live or simulated holding in one outcome token.
type Position struct {
	InstrumentID  string           `json:"instrument_id"`
	Market        MarketDescriptor `json:"market"`
	Outcome       string           `json:"outcome"`
	Shares        float64          `json:"shares"`
	AvgPrice      float64          `json:"avg_price"`
	EntryValue    float64          `json:"entry_value"`
	CreatedAt     time.Time        `json:"created_at"`
	LastCheckedAt time.Time        `json:"last_checked_at"`
}

// Closed reports whether the residual share count is negligible.
func (p Position) Closed() bool { return p.Shares < PositionEpsilon }

// StopLossState is the lifecycle of a stop-loss record.
type StopLossState string

const (
	StopLossUnarmed   StopLossState = "unarmed"
	StopLossArmed     StopLossState = "armed"
	StopLossTriggered StopLossState = "triggered"
	StopLossRemoved   StopLossState = "removed"
)

// StopLossRecord protects one live position.
type StopLossRecord struct {
	InstrumentID string
	Market       MarketDescriptor
	EntryPrice   float64
	Shares       float64
	EntryTime    time.Time
	TriggerPrice float64
	State        StopLossState
}

// TriggerPrice returns entry * (1 - stopPct).
func TriggerPrice(entry, stopPct float64) float64 {
	return entry * (1 - stopPct)
}
