package domain

import "strings"

// OrderSide indicates whether this is a buy or sell.
type OrderSide string

const (
	OrderSideBuy  OrderSide = "BUY"
	OrderSideSell OrderSide = "SELL"
)

// ParseSide normalises an upstream side label.
func ParseSide(s string) (OrderSide, bool) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "BUY":
		return OrderSideBuy, true
	case "SELL":
		return OrderSideSell, true
	}
	return "", false
}

// OrderType indicates the time-in-force policy.
type OrderType string

const (
	OrderTypeGTC OrderType = "GTC" // Good-Till-Cancelled
	OrderTypeGTD OrderType = "GTD" // Good-Till-Date
	OrderTypeFOK OrderType = "FOK" // Fill-Or-Kill
)

// IsMarket reports whether the order is routed through the liquidity walk.
func (t OrderType) IsMarket() bool { return t == OrderTypeFOK || t == "" }

// OrderRequest asks the executor to place one order.
//
// For BUY, Amount is the notional in USDC. For SELL, Amount is a share count.
// Price is only honoured for limit orders; market orders take their price
// from the liquidity walk.
type OrderRequest struct {
	InstrumentID string
	Side         OrderSide
	Amount       float64
	Price        float64
	Type         OrderType
	NegRisk      bool
	TickSize     float64
}

// OrderResponse is the confirmed outcome of an executed order.
type OrderResponse struct {
	Success  bool
	OrderID  string
	Status   string
	Price    float64
	Shares   float64
	Notional float64
	Attempts int
}

// Submission is one signed order handed to the venue.
type Submission struct {
	InstrumentID string
	Side         OrderSide
	Price        float64
	Shares       float64
	Type         OrderType
	Nonce        uint64
	NegRisk      bool
}
