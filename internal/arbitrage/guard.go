package arbitrage

import (
	"sync"
	"sync/atomic"
)

// TradeGuard admits at most one trade sequence at a time. Callers that lose the
// race drop their opportunity instead of queueing.
type TradeGuard struct {
	mu       sync.Mutex
	inFlight atomic.Bool
}

func NewTradeGuard() *TradeGuard { return &TradeGuard{} }

// TryAcquire never blocks on another sequence: it returns false if one is running.
func (g *TradeGuard) TryAcquire() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.inFlight.Load() {
		return false
	}
	g.inFlight.Store(true)
	return true
}

func (g *TradeGuard) Release() {
	g.mu.Lock()
	g.inFlight.Store(false)
	g.mu.Unlock()
}

// InFlight can be read without the lock.
func (g *TradeGuard) InFlight() bool { return g.inFlight.Load() }
