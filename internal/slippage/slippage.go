package slippage

import "triarb/internal/orderbook"

// Acquire walks normalized levels best-first, converting amountIn at each level's
// price net of the taker fee. The book must absorb the whole input: if it runs out
// first the result is 0, never a partial fill.
func Acquire(amountIn float64, levels []orderbook.Level, fee float64) float64 {
	if amountIn <= 0 {
		return 0
	}
	remaining := amountIn
	var acquired float64
	for _, lvl := range levels {
		if remaining <= lvl.Qty {
			acquired += remaining * lvl.Price * (1 - fee)
			return acquired
		}
		acquired += lvl.Qty * lvl.Price * (1 - fee)
		remaining -= lvl.Qty
	}
	return 0
}

// AveragePrice is the fee-free effective price for amountIn, or 0 if the book cannot absorb it.
func AveragePrice(amountIn float64, levels []orderbook.Level) float64 {
	out := Acquire(amountIn, levels, 0)
	if out == 0 {
		return 0
	}
	return out / amountIn
}
