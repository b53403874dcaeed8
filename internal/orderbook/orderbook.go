package orderbook

import "sort"

type Level struct{ Price, Qty float64 }

type L2 struct {
	Bids []Level // sorted desc by price
	Asks []Level // sorted asc by price
}

// Sort restores best-first ordering on both sides.
func (b *L2) Sort() {
	sort.SliceStable(b.Bids, func(i, j int) bool { return b.Bids[i].Price > b.Bids[j].Price })
	sort.SliceStable(b.Asks, func(i, j int) bool { return b.Asks[i].Price < b.Asks[j].Price })
}

// Best returns the top bid and ask; ok is false when either side is empty.
func (b L2) Best() (bid, ask float64, ok bool) {
	if len(b.Bids) == 0 || len(b.Asks) == 0 {
		return 0, 0, false
	}
	return b.Bids[0].Price, b.Asks[0].Price, true
}

// Normalize expresses one side of the book as output per unit of leg input.
// A base_to_quote leg walks the asks inverted, (p, q) -> (1/p, q*p); a
// quote_to_base leg walks the bids unchanged. A zero price stays zero.
func Normalize(book L2, baseToQuote bool) []Level {
	if !baseToQuote {
		out := make([]Level, len(book.Bids))
		copy(out, book.Bids)
		return out
	}
	out := make([]Level, 0, len(book.Asks))
	for _, lvl := range book.Asks {
		var p float64
		if lvl.Price != 0 {
			p = 1 / lvl.Price
		}
		out = append(out, Level{Price: p, Qty: lvl.Qty * lvl.Price})
	}
	return out
}
