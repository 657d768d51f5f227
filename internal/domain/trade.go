package domain

import "time"

// TradeEvent is one observed fill by the tracked trader. Immutable once observed.
type TradeEvent struct {
	ID            string
	Side          OrderSide
	InstrumentID  string
	Market        MarketDescriptor
	Outcome       string
	OutcomeIndex  int
	Price         float64
	Size          float64
	Notional      float64
	Timestamp     time.Time
	OrderTypeHint OrderType
}

// CopyTradeStatus is the outcome of handling one trade event.
type CopyTradeStatus string

const (
	CopyTradeExecuted CopyTradeStatus = "executed"
	CopyTradeSkipped  CopyTradeStatus = "skipped"
	CopyTradeFailed   CopyTradeStatus = "failed"
)

// CopyTrade records what the engine decided for one trade event.
type CopyTrade struct {
	EventID          string
	InstrumentID     string
	Side             OrderSide
	Tier             SizeTier
	TraderPrice      float64
	TraderNotional   float64
	IntendedNotional float64
	FilledNotional   float64
	FilledPrice      float64
	FilledShares     float64
	OrderID          string
	Status           CopyTradeStatus
	Reason           string
	CreatedAt        time.Time
}
