package strategy

import (
	"triarb/internal/orderbook"
	"triarb/internal/slippage"
)

// RealRate re-prices a surface quote against order books given in leg order.
// Each leg's output feeds the next; any leg the book cannot absorb zeroes the
// chain. ok is true only for a strictly positive real rate.
func RealRate(q SurfaceQuote, books [3]orderbook.L2, fee, start float64) (DepthQuote, bool) {
	if start <= 0 {
		return DepthQuote{}, false
	}
	d := DepthQuote{Surface: q, TakerFee: fee, StartAmount: start}
	amount := start
	for i, leg := range q.Legs {
		levels := orderbook.Normalize(books[i], leg.Direction == BaseToQuote)
		amount = slippage.Acquire(amount, levels, fee)
		d.Acquired[i] = amount
	}
	d.ProfitLoss = amount - start
	d.RealRatePct = ProfitPct(start, amount)
	if d.RealRatePct <= 0 {
		return DepthQuote{}, false
	}
	return d, true
}
