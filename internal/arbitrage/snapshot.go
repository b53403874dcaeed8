package arbitrage

import (
	"context"
	"errors"
	"sync"

	"triarb/internal/graph"
	"triarb/internal/orderbook"
	"triarb/internal/strategy"
)

// snapshot reads best bid/ask for the three pairs, one after another.
func (e *Engine) snapshot(ctx context.Context, c graph.Cycle) (strategy.Snapshot, error) {
	var s strategy.Snapshot
	for i, p := range c.Pairs {
		t, err := e.ex.GetTicker(ctx, p.Symbol)
		if err != nil {
			return strategy.Snapshot{}, err
		}
		s.Legs[i] = t
	}
	return s, nil
}

// depthQuote fetches the three legs' books concurrently and re-prices the quote.
// ok is false when the books do not support a profitable trade.
func (e *Engine) depthQuote(ctx context.Context, sq strategy.SurfaceQuote) (strategy.DepthQuote, bool, error) {
	var (
		books [3]orderbook.L2
		errs  [3]error
		wg    sync.WaitGroup
	)
	for i, leg := range sq.Legs {
		wg.Add(1)
		go func(i int, symbol string) {
			defer wg.Done()
			books[i], errs[i] = e.ex.GetOrderBook(ctx, symbol, e.cfg.BookDepth)
		}(i, leg.Pair.Symbol)
	}
	wg.Wait()
	if err := errors.Join(errs[:]...); err != nil {
		return strategy.DepthQuote{}, false, err
	}
	start := e.cfg.StartingAmount(sq.StartAsset())
	dq, ok := strategy.RealRate(sq, books, e.TakerFee(), start)
	return dq, ok, nil
}
