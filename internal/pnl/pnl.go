package pnl

import (
	"sync"
	"time"
)

// TradeResult is the outcome of one completed three-leg sequence, in units of
// the starting asset.
type TradeResult struct {
	Cycle        string    `json:"cycle"`
	StartAsset   string    `json:"start_asset"`
	StartAmount  float64   `json:"start_amount"`
	PnL          float64   `json:"pnl"`
	FinalBalance float64   `json:"final_balance"`
	PnLPct       float64   `json:"pnl_pct"`
	OrderIDs     []string  `json:"order_ids"`
	StartedAt    time.Time `json:"started_at"`
	FinishedAt   time.Time `json:"finished_at"`
}

// NewResult derives PnL from the final leg's fill.
func NewResult(cycle, asset string, start, final float64) TradeResult {
	r := TradeResult{Cycle: cycle, StartAsset: asset, StartAmount: start, FinalBalance: final, PnL: final - start}
	if start != 0 {
		r.PnLPct = r.PnL / start * 100
	}
	return r
}

// Tracker keeps recent results and running totals per starting asset. It lives
// in memory only.
type Tracker struct {
	mu       sync.Mutex
	limit    int
	results  []TradeResult
	realized map[string]float64
	trades   int
}

func NewTracker(limit int) *Tracker {
	if limit <= 0 {
		limit = 100
	}
	return &Tracker{limit: limit, realized: map[string]float64{}}
}

func (t *Tracker) Record(r TradeResult) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.trades++
	t.realized[r.StartAsset] += r.PnL
	t.results = append(t.results, r)
	if len(t.results) > t.limit {
		t.results = append(t.results[:0:0], t.results[len(t.results)-t.limit:]...)
	}
}

// Realized returns cumulative PnL keyed by starting asset.
func (t *Tracker) Realized() map[string]float64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make(map[string]float64, len(t.realized))
	for k, v := range t.realized {
		out[k] = v
	}
	return out
}

// Snapshot returns the retained results, oldest first.
func (t *Tracker) Snapshot() []TradeResult {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]TradeResult, len(t.results))
	copy(out, t.results)
	return out
}

func (t *Tracker) Trades() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.trades
}
