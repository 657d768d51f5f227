package domain

import (
	"sort"
	"time"
)

// PriceLevel is a single price+size entry in an orderbook.
type PriceLevel struct {
	Price float64 `json:"price"`
	Size  float64 `json:"size"`
}

// OrderbookSnapshot is a full snapshot of bids and asks for an instrument.
type OrderbookSnapshot struct {
	InstrumentID string       `json:"instrument_id"`
	Bids         []PriceLevel `json:"bids"`
	Asks         []PriceLevel `json:"asks"`
	Timestamp    time.Time    `json:"timestamp"`
}

// Copy returns a deep copy so callers cannot mutate the owner's levels.
func (s OrderbookSnapshot) Copy() OrderbookSnapshot {
	out := s
	out.Bids = append([]PriceLevel(nil), s.Bids...)
	out.Asks = append([]PriceLevel(nil), s.Asks...)
	return out
}

// Age returns how long ago the snapshot was captured.
func (s OrderbookSnapshot) Age(now time.Time) time.Duration {
	return now.Sub(s.Timestamp)
}

// BestBid returns the highest bid, or 0 when the side is empty.
func (s OrderbookSnapshot) BestBid() float64 {
	best := 0.0
	for _, l := range s.Bids {
		if l.Size > 0 && l.Price > best {
			best = l.Price
		}
	}
	return best
}

// BestAsk returns the lowest ask, or 0 when the side is empty.
func (s OrderbookSnapshot) BestAsk() float64 {
	best := 0.0
	for _, l := range s.Asks {
		if l.Size > 0 && (best == 0 || l.Price < best) {
			best = l.Price
		}
	}
	return best
}

// MidPrice returns the bid/ask midpoint, falling back to whichever side exists.
func (s OrderbookSnapshot) MidPrice() float64 {
	bid, ask := s.BestBid(), s.BestAsk()
	switch {
	case bid > 0 && ask > 0:
		return (bid + ask) / 2
	case bid > 0:
		return bid
	default:
		return ask
	}
}

// SortedLevels returns the side consumed by an order of the given side:
// asks ascending for BUY, bids descending for SELL.
func (s OrderbookSnapshot) SortedLevels(side OrderSide) []PriceLevel {
	var levels []PriceLevel
	if side == OrderSideBuy {
		levels = append(levels, s.Asks...)
		sort.SliceStable(levels, func(i, j int) bool { return levels[i].Price < levels[j].Price })
	} else {
		levels = append(levels, s.Bids...)
		sort.SliceStable(levels, func(i, j int) bool { return levels[i].Price > levels[j].Price })
	}
	return levels
}

// ApplyChange sets one level on the given book side. Size 0 removes it.
func (s *OrderbookSnapshot) ApplyChange(side OrderSide, price, size float64) {
	levels := &s.Asks
	if side == OrderSideBuy {
		levels = &s.Bids
	}
	for i, l := range *levels {
		if l.Price == price {
			if size <= 0 {
				*levels = append((*levels)[:i], (*levels)[i+1:]...)
			} else {
				(*levels)[i].Size = size
			}
			return
		}
	}
	if size > 0 {
		*levels = append(*levels, PriceLevel{Price: price, Size: size})
	}
}

// PriceTick is a streamed price observation for one instrument.
type PriceTick struct {
	InstrumentID string
	Price        float64
	Timestamp    time.Time
}
