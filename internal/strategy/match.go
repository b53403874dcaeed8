package strategy

import (
	"triarb/internal/exchange/common"
	"triarb/internal/graph"
)

type side int

const (
	baseSide side = iota
	quoteSide
)

func (s side) of(p graph.Pair) string {
	if s == baseSide {
		return p.Base
	}
	return p.Quote
}

type slotRef struct {
	pair int // index into Cycle.Pairs
	side side
}

// secondLegSlots is checked in order against the asset held after leg 1.
// The first hit picks leg 2's pair; the remaining pair becomes leg 3.
var secondLegSlots = []slotRef{
	{pair: 1, side: quoteSide},
	{pair: 1, side: baseSide},
	{pair: 2, side: quoteSide},
	{pair: 2, side: baseSide},
}

// thirdLegSlots is checked in order on the remaining pair.
var thirdLegSlots = []side{baseSide, quoteSide}

// convert trades the held side of p: holding base sells into quote at 1/ask,
// holding quote buys base at bid.
func convert(p graph.Pair, t common.Ticker, held side, amount float64) Leg {
	l := Leg{Pair: p}
	if held == baseSide {
		l.From, l.To = p.Base, p.Quote
		l.Direction = BaseToQuote
		l.Rate = invRate(t.Ask)
	} else {
		l.From, l.To = p.Quote, p.Base
		l.Direction = QuoteToBase
		l.Rate = t.Bid
	}
	l.Acquired = amount * l.Rate
	return l
}

func matchSecond(c graph.Cycle, held string) (slotRef, bool) {
	for _, s := range secondLegSlots {
		if s.side.of(c.Pairs[s.pair]) == held {
			return s, true
		}
	}
	return slotRef{}, false
}

func matchThird(p graph.Pair, held string) (side, bool) {
	for _, s := range thirdLegSlots {
		if s.of(p) == held {
			return s, true
		}
	}
	return 0, false
}
