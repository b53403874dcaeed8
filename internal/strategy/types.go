package strategy

import (
	"fmt"

	"triarb/internal/exchange/common"
	"triarb/internal/graph"
)

type Direction string

const (
	BaseToQuote Direction = "base_to_quote"
	QuoteToBase Direction = "quote_to_base"
)

type Rotation string

const (
	Forward Rotation = "forward"
	Reverse Rotation = "reverse"
)

// Snapshot holds best bid/ask for the cycle's pairs, indexed like Cycle.Pairs.
type Snapshot struct {
	Legs [3]common.Ticker
}

// Leg is one conversion step: hold From, trade on Pair, end up with To.
type Leg struct {
	Pair      graph.Pair
	From      string
	To        string
	Direction Direction
	Rate      float64
	Acquired  float64
}

// Side maps the leg direction to the order side the sequencer submits.
func (l Leg) Side() common.OrderSide {
	if l.Direction == BaseToQuote {
		return common.Buy
	}
	return common.Sell
}

type SurfaceQuote struct {
	Cycle       graph.Cycle
	Rotation    Rotation
	Legs        [3]Leg
	StartAmount float64
	ProfitLoss  float64
	ProfitPct   float64
}

func (q SurfaceQuote) StartAsset() string { return q.Legs[0].From }

// Descriptions renders each leg for the trading log.
func (q SurfaceQuote) Descriptions() [3]string {
	var out [3]string
	in := q.StartAmount
	for i, l := range q.Legs {
		if i == 0 {
			out[i] = fmt.Sprintf("Start with %s of %g. Swap at %g for %s acquiring %g.", l.From, in, l.Rate, l.To, l.Acquired)
		} else {
			out[i] = fmt.Sprintf("Swap %g of %s at %g for %s acquiring %g.", in, l.From, l.Rate, l.To, l.Acquired)
		}
		in = l.Acquired
	}
	return out
}

// DepthQuote is a surface quote re-priced against real order book depth and fees.
// It only exists when RealRatePct > 0.
type DepthQuote struct {
	Surface     SurfaceQuote
	TakerFee    float64
	StartAmount float64
	Acquired    [3]float64
	ProfitLoss  float64
	RealRatePct float64
}
