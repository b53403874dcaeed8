package arbitrage

import (
	"bytes"
	"context"
	"errors"
	"math"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"triarb/internal/config"
	"triarb/internal/exchange/common"
	"triarb/internal/exchange/paper"
	"triarb/internal/graph"
	"triarb/internal/infra/log"
	"triarb/internal/infra/metrics"
	"triarb/internal/orderbook"
	"triarb/internal/orderexec"
	"triarb/internal/pnl"
	"triarb/internal/strategy"
	"triarb/internal/tradelog"
)

const testFee = 0.001

// bookFeed serves fixed books; tickers come from the top of each book.
type bookFeed struct {
	mu    sync.Mutex
	books map[string]orderbook.L2
	calls map[string]int
}

func (f *bookFeed) ListMarkets(ctx context.Context) ([]common.Market, error) {
	return []common.Market{
		{Symbol: "BTCUSDT", Base: "BTC", Quote: "USDT"},
		{Symbol: "ETHUSDT", Base: "ETH", Quote: "USDT"},
		{Symbol: "ETHBTC", Base: "ETH", Quote: "BTC"},
	}, nil
}

func (f *bookFeed) GetTicker(ctx context.Context, symbol string) (common.Ticker, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	bid, ask, ok := f.books[symbol].Best()
	if !ok {
		return common.Ticker{}, errors.New("no ticker for " + symbol)
	}
	return common.Ticker{Bid: bid, Ask: ask}, nil
}

func (f *bookFeed) GetOrderBook(ctx context.Context, symbol string, depth int) (orderbook.L2, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls[symbol]++
	b, ok := f.books[symbol]
	if !ok {
		return orderbook.L2{}, errors.New("no book for " + symbol)
	}
	return b, nil
}

// countingExchange records orders on top of the paper exchange.
type countingExchange struct {
	*paper.Exchange
	mu     sync.Mutex
	orders []string
}

func (c *countingExchange) SubmitMarketOrder(ctx context.Context, symbol string, side common.OrderSide, amount float64) (common.Order, error) {
	c.mu.Lock()
	c.orders = append(c.orders, symbol+":"+string(side))
	c.mu.Unlock()
	return c.Exchange.SubmitMarketOrder(ctx, symbol, side, amount)
}

type countingTrader struct {
	calls atomic.Int32
	block chan struct{}
	panic bool
	err   error
}

func (c *countingTrader) Execute(ctx context.Context, q strategy.DepthQuote) (pnl.TradeResult, error) {
	c.calls.Add(1)
	if c.block != nil {
		<-c.block
	}
	if c.panic {
		panic("exchange client exploded")
	}
	if c.err != nil {
		return pnl.TradeResult{}, c.err
	}
	return pnl.NewResult(q.Surface.Cycle.Key(), q.Surface.StartAsset(), q.StartAmount, q.StartAmount), nil
}

func btcEthCycle() graph.Cycle {
	return graph.Cycle{Pairs: [3]graph.Pair{
		{Symbol: "BTCUSDT", Base: "BTC", Quote: "USDT"},
		{Symbol: "ETHUSDT", Base: "ETH", Quote: "USDT"},
		{Symbol: "ETHBTC", Base: "ETH", Quote: "BTC"},
	}}
}

// leg2Input is the USDT reaching leg 2 when starting from 1 BTC.
func leg2Input() float64 { return (1.0 / 50000) * (1 - testFee) }

// profitableBooks give a +2% surface (1/50000 * 3060 / 0.06) and leg-2 depth
// tuned so the fee-adjusted round trip ends at 1.005 BTC.
func profitableBooks() map[string]orderbook.L2 {
	in2 := leg2Input()
	avg := 3000 * 1.005 / math.Pow(1-testFee, 3)
	p2 := 2*avg - 3060
	return map[string]orderbook.L2{
		"BTCUSDT": {
			Bids: []orderbook.Level{{Price: 49990, Qty: 10}},
			Asks: []orderbook.Level{{Price: 50000, Qty: 10}},
		},
		"ETHUSDT": {
			Bids: []orderbook.Level{{Price: 3060, Qty: in2 / 2}, {Price: p2, Qty: 10}},
			Asks: []orderbook.Level{{Price: 3061, Qty: 10}},
		},
		"ETHBTC": {
			Bids: []orderbook.Level{{Price: 0.0599, Qty: 10}},
			Asks: []orderbook.Level{{Price: 0.06, Qty: 10}},
		},
	}
}

func testTrading(t *testing.T) config.Trading {
	t.Helper()
	cfg := config.Load().Trading
	dir := t.TempDir()
	cfg.CyclesPath = filepath.Join(dir, "markets.json")
	cfg.LogPath = filepath.Join(dir, "trading_logs.txt")
	cfg.StartingAmounts = map[string]float64{"BTC": 1}
	fee := testFee
	cfg.TakerFeeOverride = &fee
	cfg.StaggerMs = 0
	cfg.RoundPauseMs = 0
	cfg.SettleDelayMs = 0
	if err := graph.SaveCycles(cfg.CyclesPath, []graph.Cycle{btcEthCycle()}); err != nil {
		t.Fatalf("save cycles: %v", err)
	}
	return cfg
}

func newPaperEngine(t *testing.T, books map[string]orderbook.L2) (*Engine, *countingExchange, *pnl.Tracker) {
	t.Helper()
	cfg := testTrading(t)
	feed := &bookFeed{books: books, calls: map[string]int{}}
	ex := &countingExchange{Exchange: paper.New(feed, map[string]float64{"BTC": 1}, testFee, cfg.BookDepth, log.Nop())}
	j, err := tradelog.Open(cfg.LogPath)
	if err != nil {
		t.Fatalf("journal: %v", err)
	}
	t.Cleanup(func() { _ = j.Close() })
	tracker := pnl.NewTracker(10)
	e := New(cfg, Deps{
		Exchange: ex,
		Trader:   orderexec.NewSequencer(ex, cfg.SettleDelay(), log.Nop()),
		Journal:  j,
		Tracker:  tracker,
		Logger:   log.Nop(),
	})
	if err := e.Prepare(context.Background()); err != nil {
		t.Fatalf("prepare: %v", err)
	}
	return e, ex, tracker
}

func TestEndToEndProfitableCycle(t *testing.T) {
	e, ex, tracker := newPaperEngine(t, profitableBooks())
	e.RunRound(context.Background())

	if len(ex.orders) != 3 {
		t.Fatalf("want 3 orders, got %v", ex.orders)
	}
	want := []string{"BTCUSDT:buy", "ETHUSDT:sell", "ETHBTC:buy"}
	for i, o := range ex.orders {
		if o != want[i] {
			t.Fatalf("order %d = %s, want %s", i, o, want[i])
		}
	}
	res := tracker.Snapshot()
	if len(res) != 1 {
		t.Fatalf("want 1 trade result, got %d", len(res))
	}
	if math.Abs(res[0].PnLPct-0.5) > 1e-6 {
		t.Fatalf("pnl pct = %v, want ~0.5", res[0].PnLPct)
	}
	if res[0].StartAsset != "BTC" || e.guard.InFlight() {
		t.Fatalf("result %+v inFlight=%v", res[0], e.guard.InFlight())
	}
	bals, _ := ex.GetBalances(context.Background())
	if got := common.FreeBalance(bals, "BTC"); math.Abs(got-1.005) > 1e-6 {
		t.Fatalf("BTC after cycle = %v", got)
	}
}

func TestEndToEndThinBookNeverTrades(t *testing.T) {
	books := profitableBooks()
	books["ETHUSDT"] = orderbook.L2{
		Bids: []orderbook.Level{{Price: 3060, Qty: leg2Input() / 2}},
		Asks: []orderbook.Level{{Price: 3061, Qty: 10}},
	}
	cfg := testTrading(t)
	feed := &bookFeed{books: books, calls: map[string]int{}}
	trader := &countingTrader{}
	e := New(cfg, Deps{Exchange: paper.New(feed, map[string]float64{"BTC": 1}, testFee, 20, log.Nop()), Trader: trader, Logger: log.Nop()})
	if err := e.Prepare(context.Background()); err != nil {
		t.Fatal(err)
	}
	e.RunRound(context.Background())
	if trader.calls.Load() != 0 {
		t.Fatalf("sequencer invoked on a thin book")
	}
	if feed.calls["ETHUSDT"] != 1 {
		t.Fatalf("depth engine should have fetched the leg-2 book once, got %d", feed.calls["ETHUSDT"])
	}
}

func TestGuardRejectsWhileTradeInFlight(t *testing.T) {
	cfg := testTrading(t)
	feed := &bookFeed{books: profitableBooks(), calls: map[string]int{}}
	trader := &countingTrader{}
	guard := NewTradeGuard()
	e := New(cfg, Deps{Exchange: paper.New(feed, nil, testFee, 20, log.Nop()), Trader: trader, Guard: guard, Logger: log.Nop()})
	if err := e.Prepare(context.Background()); err != nil {
		t.Fatal(err)
	}
	if !guard.TryAcquire() {
		t.Fatal("guard should be free")
	}
	before := testutil.ToFloat64(metrics.GuardRejectionsTotal)
	e.RunRound(context.Background())
	if trader.calls.Load() != 0 {
		t.Fatalf("opportunity must be abandoned while a trade is in flight")
	}
	if got := testutil.ToFloat64(metrics.GuardRejectionsTotal) - before; got != 1 {
		t.Fatalf("guard rejections delta = %v", got)
	}
	guard.Release()
	e.RunRound(context.Background())
	if trader.calls.Load() != 1 {
		t.Fatalf("after release the next round should trade, calls=%d", trader.calls.Load())
	}
}

func TestOneSequenceAcrossConcurrentCycles(t *testing.T) {
	cfg := testTrading(t)
	// three goroutines race on the same profitable triangle
	c := btcEthCycle()
	if err := graph.SaveCycles(cfg.CyclesPath, []graph.Cycle{c, c, c}); err != nil {
		t.Fatal(err)
	}
	feed := &bookFeed{books: profitableBooks(), calls: map[string]int{}}
	trader := &countingTrader{block: make(chan struct{})}
	e := New(cfg, Deps{Exchange: paper.New(feed, nil, testFee, 20, log.Nop()), Trader: trader, Logger: log.Nop()})
	if err := e.Prepare(context.Background()); err != nil {
		t.Fatal(err)
	}
	before := testutil.ToFloat64(metrics.GuardRejectionsTotal)
	done := make(chan struct{})
	go func() { e.RunRound(context.Background()); close(done) }()
	deadline := time.After(2 * time.Second)
	for trader.calls.Load() == 0 {
		select {
		case <-deadline:
			t.Fatal("no sequence started")
		case <-time.After(5 * time.Millisecond):
		}
	}
	close(trader.block)
	<-done
	if e.guard.InFlight() {
		t.Fatalf("guard left held")
	}
	rejected := testutil.ToFloat64(metrics.GuardRejectionsTotal) - before
	if n := trader.calls.Load(); n < 1 || float64(n)+rejected != 3 {
		t.Fatalf("calls = %d rejected = %v", n, rejected)
	}
}

func TestPanicIsContainedAtCycleBoundary(t *testing.T) {
	cfg := testTrading(t)
	feed := &bookFeed{books: profitableBooks(), calls: map[string]int{}}
	trader := &countingTrader{panic: true}
	e := New(cfg, Deps{Exchange: paper.New(feed, nil, testFee, 20, log.Nop()), Trader: trader, Logger: log.Nop()})
	if err := e.Prepare(context.Background()); err != nil {
		t.Fatal(err)
	}
	before := testutil.ToFloat64(metrics.CyclePanicsTotal)
	e.RunRound(context.Background())
	if got := testutil.ToFloat64(metrics.CyclePanicsTotal) - before; got != 1 {
		t.Fatalf("panics delta = %v", got)
	}
	if e.guard.InFlight() {
		t.Fatalf("guard must be released after a panic")
	}
}

func TestFetchErrorIsNoDataThisRound(t *testing.T) {
	books := profitableBooks()
	delete(books, "ETHBTC")
	cfg := testTrading(t)
	trader := &countingTrader{}
	e := New(cfg, Deps{Exchange: paper.New(&bookFeed{books: books, calls: map[string]int{}}, nil, testFee, 20, log.Nop()), Trader: trader, Logger: log.Nop()})
	if err := e.Prepare(context.Background()); err != nil {
		t.Fatal(err)
	}
	e.RunRound(context.Background())
	if trader.calls.Load() != 0 {
		t.Fatalf("missing prices must not trade")
	}
}

func TestRunStopsOnCancelAndFailsWithoutCycles(t *testing.T) {
	cfg := testTrading(t)
	feed := &bookFeed{books: map[string]orderbook.L2{}, calls: map[string]int{}}
	ready := 0
	e := New(cfg, Deps{Exchange: paper.New(feed, nil, testFee, 20, log.Nop()), Trader: &countingTrader{}, Logger: log.Nop(), OnReady: func(n int) { ready = n }})
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	if err := e.Run(ctx); err != nil {
		t.Fatalf("run: %v", err)
	}
	if ready != 1 || e.Cycles() != 1 || e.TakerFee() != testFee {
		t.Fatalf("ready=%d cycles=%d fee=%v", ready, e.Cycles(), e.TakerFee())
	}

	cfg.CyclesPath = filepath.Join(t.TempDir(), "missing.json")
	e = New(cfg, Deps{Exchange: paper.New(feed, nil, testFee, 20, log.Nop()), Trader: &countingTrader{}, Logger: log.Nop()})
	if err := e.Run(context.Background()); err == nil {
		t.Fatalf("missing cycle store must fail Run")
	}
}

func TestResolveFeeFromExchange(t *testing.T) {
	cfg := testTrading(t)
	cfg.TakerFeeOverride = nil
	feed := &bookFeed{books: map[string]orderbook.L2{}, calls: map[string]int{}}
	e := New(cfg, Deps{Exchange: paper.New(feed, nil, 0.00075, 20, log.Nop()), Logger: log.Nop()})
	if err := e.Prepare(context.Background()); err != nil {
		t.Fatal(err)
	}
	if e.TakerFee() != 0.00075 {
		t.Fatalf("fee = %v", e.TakerFee())
	}
}

// brokenJournal fails every write.
type brokenJournal struct {
	mu      sync.Mutex
	aborted int
}

func (j *brokenJournal) Opportunity(q strategy.DepthQuote) error { return errors.New("disk full") }
func (j *brokenJournal) Result(r pnl.TradeResult) error        { return errors.New("disk full") }
func (j *brokenJournal) Aborted(cycle string, err error) error {
	j.mu.Lock()
	j.aborted++
	j.mu.Unlock()
	return errors.New("disk full")
}

type lockedBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *lockedBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *lockedBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func TestAbortedJournalWriteFailureIsLogged(t *testing.T) {
	cfg := testTrading(t)
	feed := &bookFeed{books: profitableBooks(), calls: map[string]int{}}
	out := &lockedBuffer{}
	j := &brokenJournal{}
	trader := &countingTrader{err: errors.New("order rejected")}
	e := New(cfg, Deps{
		Exchange: paper.New(feed, nil, testFee, 20, log.Nop()),
		Trader:   trader,
		Journal:  j,
		Logger:   log.New(out, "warn"),
	})
	if err := e.Prepare(context.Background()); err != nil {
		t.Fatal(err)
	}
	e.RunRound(context.Background())
	if trader.calls.Load() != 1 || j.aborted != 1 {
		t.Fatalf("calls=%d aborted=%d", trader.calls.Load(), j.aborted)
	}
	// opportunity write and aborted write both fail
	if n := strings.Count(out.String(), "trading log write failed"); n != 2 {
		t.Fatalf("want 2 journal warnings, got %d in %s", n, out.String())
	}
}
