package executor

import (
	"fmt"

	"github.com/alanyoungcy/copybot/internal/domain"
)

// walkResult is the outcome of one liquidity walk.
type walkResult struct {
	Level    int     // index of the selected level
	Price    float64 // price the order is submitted at
	Notional float64 // BUY: notional to spend
	Shares   float64 // SELL: shares to sell
	Shrunk   bool
}

// walk selects a price level for a market order. levels must already be
// sorted best-first for the order's side. Starting at level, it sums the
// notional resting at and behind the selected level until it covers
// target*buffer. For BUY, target is the notional to spend; for SELL it is a
// share count valued at the selected level's price.
//
// When the remaining depth is short of the buffered target but still worth
// at least minNotional, the order shrinks to what is available.
func walk(levels []domain.PriceLevel, level int, side domain.OrderSide, target, buffer, minNotional float64) (walkResult, error) {
	if level >= len(levels) {
		return walkResult{}, domain.NewFault(domain.FaultInsufficientLiquidity,
			fmt.Sprintf("no price level at index %d (book has %d)", level, len(levels)))
	}
	if buffer < 1 {
		buffer = 1
	}

	price := levels[level].Price
	wantNotional := target
	if side == domain.OrderSideSell {
		wantNotional = target * price
	}
	need := wantNotional * buffer

	var availNotional, availShares float64
	for _, l := range levels[level:] {
		if l.Size <= 0 || l.Price <= 0 {
			continue
		}
		availNotional += l.Size * l.Price
		availShares += l.Size
		if availNotional >= need {
			break
		}
	}

	res := walkResult{Level: level, Price: price, Notional: target, Shares: target}
	if side == domain.OrderSideBuy {
		res.Shares = 0
	} else {
		res.Notional = 0
	}

	if availNotional >= need {
		return res, nil
	}
	if availNotional <= 0 || availNotional < minNotional {
		return walkResult{}, domain.NewFault(domain.FaultInsufficientLiquidity,
			fmt.Sprintf("book depth %.4f below minimum %.4f (wanted %.4f)", availNotional, minNotional, need))
	}

	res.Shrunk = true
	if side == domain.OrderSideBuy {
		res.Notional = min(target, availNotional)
	} else {
		res.Shares = min(target, availShares)
	}
	return res, nil
}
