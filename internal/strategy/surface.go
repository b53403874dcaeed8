package strategy

import "triarb/internal/graph"

const surfaceStart = 1.0

var rotations = []Rotation{Forward, Reverse}

// Surface prices the cycle from top-of-book only. Forward is tried first, then
// reverse; the first rotation whose profit exceeds minPct is returned.
func Surface(c graph.Cycle, snap Snapshot, minPct float64) (SurfaceQuote, bool) {
	for _, rot := range rotations {
		q, ok := EvaluateRotation(c, snap, rot)
		if ok && q.ProfitPct > minPct {
			return q, true
		}
	}
	return SurfaceQuote{}, false
}

// EvaluateRotation computes one rotation regardless of profitability.
// ok is false only when the cycle does not chain under the match tables.
func EvaluateRotation(c graph.Cycle, snap Snapshot, rot Rotation) (SurfaceQuote, bool) {
	q := SurfaceQuote{Cycle: c, Rotation: rot, StartAmount: surfaceStart}

	held := baseSide
	if rot == Reverse {
		held = quoteSide
	}
	q.Legs[0] = convert(c.Pairs[0], snap.Legs[0], held, surfaceStart)

	s2, ok := matchSecond(c, q.Legs[0].To)
	if !ok {
		return SurfaceQuote{}, false
	}
	q.Legs[1] = convert(c.Pairs[s2.pair], snap.Legs[s2.pair], s2.side, q.Legs[0].Acquired)

	last := 3 - s2.pair
	s3, ok := matchThird(c.Pairs[last], q.Legs[1].To)
	if !ok {
		return SurfaceQuote{}, false
	}
	q.Legs[2] = convert(c.Pairs[last], snap.Legs[last], s3, q.Legs[1].Acquired)

	q.ProfitLoss = q.Legs[2].Acquired - surfaceStart
	q.ProfitPct = q.ProfitLoss * 100
	return q, true
}
