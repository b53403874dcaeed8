package orderexec

import (
	"context"
	"errors"
	"fmt"
	"time"

	"triarb/internal/exchange/common"
	"triarb/internal/infra/log"
	"triarb/internal/pnl"
	"triarb/internal/risk"
	"triarb/internal/strategy"
)

var ErrLegFailed = errors.New("order leg failed")

// LegError reports which leg stopped the sequence. Earlier legs stay executed.
type LegError struct {
	Leg    int
	Symbol string
	Err    error
}

func (e *LegError) Error() string { return fmt.Sprintf("leg %d (%s): %v", e.Leg, e.Symbol, e.Err) }
func (e *LegError) Unwrap() error { return e.Err }
func (e *LegError) Is(target error) bool {
	return target == ErrLegFailed
}

// Exchange is what the sequencer trades against.
type Exchange interface {
	risk.Balancer
	SubmitMarketOrder(ctx context.Context, symbol string, side common.OrderSide, amount float64) (common.Order, error)
}

// Sequencer submits the three market orders of a depth quote one after another.
// Each leg is gated on the free balance of the asset it spends; a failed gate or
// order halts the sequence without unwinding.
type Sequencer struct {
	ex     Exchange
	settle time.Duration
	logger log.Logger
	sleep  func(ctx context.Context, d time.Duration) error
}

func NewSequencer(ex Exchange, settle time.Duration, logger log.Logger) *Sequencer {
	return &Sequencer{ex: ex, settle: settle, logger: logger, sleep: sleepCtx}
}

// Execute runs the sequence. The settlement delay after each order stands in
// for fill confirmation; the next leg spends what the previous order reported
// as filled.
func (s *Sequencer) Execute(ctx context.Context, q strategy.DepthQuote) (pnl.TradeResult, error) {
	started := time.Now()
	key := q.Surface.Cycle.Key()
	need := q.StartAmount
	ids := make([]string, 0, len(q.Surface.Legs))
	var last common.Order

	for i, leg := range q.Surface.Legs {
		n := i + 1
		free, err := risk.RequireFree(ctx, s.ex, leg.From, need)
		if err != nil {
			s.logger.Error().Err(err).Str("cycle", key).Int("leg", n).Str("asset", leg.From).
				Float64("free", free).Float64("need", need).Msg("balance gate failed, aborting sequence")
			return pnl.TradeResult{}, fmt.Errorf("leg %d: %w", n, err)
		}
		amount, err := legAmount(leg, need)
		if err != nil {
			return pnl.TradeResult{}, &LegError{Leg: n, Symbol: leg.Pair.Symbol, Err: err}
		}
		ord, err := s.ex.SubmitMarketOrder(ctx, leg.Pair.Symbol, leg.Side(), amount)
		if err != nil {
			s.logger.Error().Err(err).Str("cycle", key).Int("leg", n).Str("symbol", leg.Pair.Symbol).
				Str("side", string(leg.Side())).Float64("amount", amount).Msg("order failed, aborting sequence")
			return pnl.TradeResult{}, &LegError{Leg: n, Symbol: leg.Pair.Symbol, Err: err}
		}
		s.logger.Info().Str("cycle", key).Int("leg", n).Str("symbol", leg.Pair.Symbol).Str("side", string(leg.Side())).
			Float64("amount", amount).Float64("filled", ord.Filled).Str("order_id", ord.ID).Msg("order submitted")
		ids = append(ids, ord.ID)
		last = ord
		need = ord.Filled

		if err := s.sleep(ctx, s.settle); err != nil {
			return pnl.TradeResult{}, &LegError{Leg: n, Symbol: leg.Pair.Symbol, Err: err}
		}
	}

	r := pnl.NewResult(key, q.Surface.StartAsset(), q.StartAmount, last.Filled)
	r.OrderIDs = ids
	r.StartedAt = started
	r.FinishedAt = time.Now()
	return r, nil
}

// legAmount sizes the order: base_to_quote spends the input directly,
// quote_to_base divides it by the leg's surface rate.
func legAmount(l strategy.Leg, input float64) (float64, error) {
	if l.Direction == strategy.BaseToQuote {
		return input, nil
	}
	if l.Rate == 0 {
		return 0, fmt.Errorf("zero rate on %s", l.Pair.Symbol)
	}
	return input / l.Rate, nil
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
