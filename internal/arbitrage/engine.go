package arbitrage

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	"triarb/internal/config"
	"triarb/internal/exchange/common"
	"triarb/internal/graph"
	"triarb/internal/infra/log"
	"triarb/internal/infra/metrics"
	"triarb/internal/pnl"
	"triarb/internal/risk"
	"triarb/internal/strategy"
)

// Trader executes a depth quote; orderexec.Sequencer in production.
type Trader interface {
	Execute(ctx context.Context, q strategy.DepthQuote) (pnl.TradeResult, error)
}

// Journal is the human-readable trading log.
type Journal interface {
	Opportunity(q strategy.DepthQuote) error
	Result(r pnl.TradeResult) error
	Aborted(cycle string, err error) error
}

type Deps struct {
	Exchange common.Client
	Guard    *TradeGuard
	Trader   Trader
	Journal  Journal
	Tracker  *pnl.Tracker
	Logger   log.Logger
	// OnReady is called once cycles are loaded.
	OnReady func(cycles int)
}

type Engine struct {
	cfg     config.Trading
	ex      common.Client
	guard   *TradeGuard
	trader  Trader
	journal Journal
	tracker *pnl.Tracker
	logger  log.Logger
	onReady func(int)

	mu     sync.RWMutex
	cycles []graph.Cycle
	fee    float64
}

func New(cfg config.Trading, d Deps) *Engine {
	g := d.Guard
	if g == nil {
		g = NewTradeGuard()
	}
	tr := d.Tracker
	if tr == nil {
		tr = pnl.NewTracker(0)
	}
	return &Engine{
		cfg:     cfg,
		ex:      d.Exchange,
		guard:   g,
		trader:  d.Trader,
		journal: d.Journal,
		tracker: tr,
		logger:  log.Component(d.Logger, "engine"),
		onReady: d.OnReady,
		fee:     cfg.DefaultTakerFee,
	}
}

// Cycles reports how many cycles the loop evaluates.
func (e *Engine) Cycles() int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return len(e.cycles)
}

func (e *Engine) TakerFee() float64 {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.fee
}

// Prepare loads the persisted cycles and settles the taker fee.
func (e *Engine) Prepare(ctx context.Context) error {
	cycles, err := graph.LoadCycles(e.cfg.CyclesPath)
	if err != nil {
		return fmt.Errorf("load cycles: %w", err)
	}
	fee := e.resolveFee(ctx)
	e.mu.Lock()
	e.cycles = cycles
	e.fee = fee
	e.mu.Unlock()
	metrics.CyclesLoaded.Set(float64(len(cycles)))
	e.logger.Info().Int("cycles", len(cycles)).Float64("taker_fee", fee).Str("path", e.cfg.CyclesPath).Msg("cycles loaded")
	if e.onReady != nil {
		e.onReady(len(cycles))
	}
	return nil
}

func (e *Engine) resolveFee(ctx context.Context) float64 {
	if e.cfg.TakerFeeOverride != nil {
		return *e.cfg.TakerFeeOverride
	}
	if fp, ok := e.ex.(common.FeeProvider); ok {
		fee, err := fp.TakerFee(ctx)
		if err == nil && fee >= 0 && fee < 1 {
			return fee
		}
		e.logger.Warn().Err(err).Float64("default", e.cfg.DefaultTakerFee).Msg("taker fee unavailable, using default")
	}
	return e.cfg.DefaultTakerFee
}

// Run evaluates every cycle each round until ctx is cancelled.
func (e *Engine) Run(ctx context.Context) error {
	if err := e.Prepare(ctx); err != nil {
		return err
	}
	e.logger.Info().Bool("live", e.cfg.Live).Str("exchange", e.ex.Name()).Msg("evaluation loop started")
	for {
		e.RunRound(ctx)
		if err := pause(ctx, e.cfg.RoundPause()); err != nil {
			e.logger.Info().Int("trades", e.tracker.Trades()).Msg("evaluation loop stopped")
			return nil
		}
	}
}

// RunRound starts one goroutine per cycle, staggered, and waits for all of them.
func (e *Engine) RunRound(ctx context.Context) {
	e.mu.RLock()
	cycles := e.cycles
	e.mu.RUnlock()

	var wg sync.WaitGroup
	for i, c := range cycles {
		if i > 0 && pause(ctx, e.cfg.Stagger()) != nil {
			break
		}
		wg.Add(1)
		go func(c graph.Cycle) {
			defer wg.Done()
			e.evaluate(ctx, c)
		}(c)
	}
	wg.Wait()
	metrics.RoundsTotal.Inc()
}

func (e *Engine) evaluate(ctx context.Context, c graph.Cycle) {
	key := c.Key()
	defer func() {
		if r := recover(); r != nil {
			metrics.CyclePanicsTotal.Inc()
			e.logger.Error().Str("cycle", key).Interface("panic", r).Bytes("stack", debug.Stack()).Msg("cycle evaluation panicked")
		}
	}()
	metrics.CyclesEvaluatedTotal.Inc()
	start := time.Now()

	snap, err := e.snapshot(ctx, c)
	if err != nil {
		e.logger.Debug().Err(err).Str("cycle", key).Msg("no price data this round")
		return
	}
	sq, ok := strategy.Surface(c, snap, e.cfg.MinSurfaceRatePct)
	if !ok {
		e.logger.Debug().Str("cycle", key).Msg("no surface opportunity")
		return
	}
	metrics.SurfaceOppsTotal.WithLabelValues(string(sq.Rotation)).Inc()
	metrics.SurfaceRatePct.Observe(sq.ProfitPct)

	dq, ok, err := e.depthQuote(ctx, sq)
	if err != nil {
		e.logger.Debug().Err(err).Str("cycle", key).Msg("no depth data this round")
		return
	}
	if !ok {
		e.logger.Debug().Str("cycle", key).Str("rotation", string(sq.Rotation)).Float64("surface_pct", sq.ProfitPct).Msg("opportunity gone at depth")
		return
	}
	metrics.DepthOppsTotal.Inc()
	metrics.RealRatePct.Observe(dq.RealRatePct)
	metrics.DecisionLatencyMs.Observe(float64(time.Since(start).Microseconds()) / 1000)
	e.logger.Info().Str("cycle", key).Str("rotation", string(sq.Rotation)).Str("start_asset", sq.StartAsset()).
		Float64("start_amount", dq.StartAmount).Float64("surface_pct", sq.ProfitPct).Float64("real_rate_pct", dq.RealRatePct).
		Msg("arbitrage opportunity")
	if e.journal != nil {
		if err := e.journal.Opportunity(dq); err != nil {
			e.logger.Warn().Err(err).Msg("trading log write failed")
		}
	}
	e.execute(ctx, dq)
}

func (e *Engine) execute(ctx context.Context, dq strategy.DepthQuote) {
	key := dq.Surface.Cycle.Key()
	if !e.guard.TryAcquire() {
		metrics.GuardRejectionsTotal.Inc()
		e.logger.Info().Str("cycle", key).Msg("trade in flight, opportunity abandoned")
		return
	}
	defer e.guard.Release()
	metrics.TradeInFlight.Set(1)
	defer metrics.TradeInFlight.Set(0)

	// a started sequence runs to completion even during shutdown
	r, err := e.trader.Execute(context.WithoutCancel(ctx), dq)
	if err != nil {
		outcome := "failed"
		if errors.Is(err, risk.ErrInsufficientBalance) {
			outcome = "insufficient_balance"
		}
		metrics.TradesTotal.WithLabelValues(outcome).Inc()
		e.logger.Error().Err(err).Str("cycle", key).Str("outcome", outcome).Msg("trade sequence aborted")
		if e.journal != nil {
			if jerr := e.journal.Aborted(key, err); jerr != nil {
				e.logger.Warn().Err(jerr).Msg("trading log write failed")
			}
		}
		return
	}
	e.tracker.Record(r)
	metrics.TradesTotal.WithLabelValues("completed").Inc()
	metrics.LastTradePnLPct.Set(r.PnLPct)
	metrics.RealizedPnLByAsset.WithLabelValues(r.StartAsset).Add(r.PnL)
	e.logger.Info().Str("cycle", key).Str("asset", r.StartAsset).Float64("pnl", r.PnL).
		Float64("pnl_pct", r.PnLPct).Float64("final_balance", r.FinalBalance).Msg("trade sequence completed")
	if e.journal != nil {
		if err := e.journal.Result(r); err != nil {
			e.logger.Warn().Err(err).Msg("trading log write failed")
		}
	}
}

func pause(ctx context.Context, d time.Duration) error {
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
