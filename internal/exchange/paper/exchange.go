// Package paper simulates order settlement against live order books for dry runs.
//
// Fills follow the arbitrage leg convention rather than exchange semantics: a buy
// converts the pair's base into its quote by walking the inverted asks, a sell
// converts quote into base by walking the bids, with a sell amount expressed as
// input divided by the best bid. Dry-run fills therefore reproduce depth quotes.
package paper

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/rs/xid"

	"triarb/internal/exchange/common"
	"triarb/internal/infra/log"
	"triarb/internal/orderbook"
	"triarb/internal/slippage"
)

var (
	ErrInsufficientFunds = errors.New("paper: insufficient funds")
	ErrBookTooThin       = errors.New("paper: order book cannot absorb order")
	ErrUnknownSymbol     = errors.New("paper: unknown symbol")
)

// balance tolerance for amounts that went through a divide and multiply
const dustTolerance = 1e-9

type Exchange struct {
	feed   common.MarketData
	fee    float64
	depth  int
	logger log.Logger

	mu       sync.Mutex
	balances map[string]float64
	markets  map[string]common.Market
}

func New(feed common.MarketData, balances map[string]float64, fee float64, depth int, logger log.Logger) *Exchange {
	b := make(map[string]float64, len(balances))
	for k, v := range balances {
		b[k] = v
	}
	if depth <= 0 {
		depth = 20
	}
	return &Exchange{feed: feed, fee: fee, depth: depth, logger: logger, balances: b}
}

func (e *Exchange) Name() string { return "paper" }

func (e *Exchange) ListMarkets(ctx context.Context) ([]common.Market, error) {
	ms, err := e.feed.ListMarkets(ctx)
	if err != nil {
		return nil, err
	}
	e.mu.Lock()
	e.markets = make(map[string]common.Market, len(ms))
	for _, m := range ms {
		e.markets[m.Symbol] = m
	}
	e.mu.Unlock()
	return ms, nil
}

func (e *Exchange) GetTicker(ctx context.Context, symbol string) (common.Ticker, error) {
	return e.feed.GetTicker(ctx, symbol)
}

func (e *Exchange) GetOrderBook(ctx context.Context, symbol string, depth int) (orderbook.L2, error) {
	return e.feed.GetOrderBook(ctx, symbol, depth)
}

func (e *Exchange) TakerFee(ctx context.Context) (float64, error) { return e.fee, nil }

func (e *Exchange) GetBalances(ctx context.Context) ([]common.Balance, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]common.Balance, 0, len(e.balances))
	for a, v := range e.balances {
		out = append(out, common.Balance{Asset: a, Free: v})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Asset < out[j].Asset })
	return out, nil
}

// Credit adds funds, e.g. to seed a dry run.
func (e *Exchange) Credit(asset string, amount float64) {
	e.mu.Lock()
	e.balances[asset] += amount
	e.mu.Unlock()
}

func (e *Exchange) SubmitMarketOrder(ctx context.Context, symbol string, side common.OrderSide, amount float64) (common.Order, error) {
	m, err := e.market(ctx, symbol)
	if err != nil {
		return common.Order{}, err
	}
	book, err := e.feed.GetOrderBook(ctx, symbol, e.depth)
	if err != nil {
		return common.Order{}, fmt.Errorf("paper %s book: %w", symbol, err)
	}

	from, to := m.Base, m.Quote
	input := amount
	levels := orderbook.Normalize(book, true)
	if side == common.Sell {
		if len(book.Bids) == 0 {
			return common.Order{}, fmt.Errorf("%w: %s has no bids", ErrBookTooThin, symbol)
		}
		from, to = m.Quote, m.Base
		input = amount * book.Bids[0].Price
		levels = orderbook.Normalize(book, false)
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	free := e.balances[from]
	if input > free*(1+dustTolerance) {
		return common.Order{}, fmt.Errorf("%w: %s free %v < %v", ErrInsufficientFunds, from, free, input)
	}
	out := slippage.Acquire(input, levels, e.fee)
	if out == 0 {
		return common.Order{}, fmt.Errorf("%w: %s %s %v", ErrBookTooThin, symbol, side, amount)
	}
	if input > free {
		input = free
	}
	e.balances[from] -= input
	e.balances[to] += out

	ord := common.Order{ID: xid.New().String(), Symbol: symbol, Side: side, Amount: amount, Filled: out}
	e.logger.Info().Str("symbol", symbol).Str("side", string(side)).Float64("amount", amount).
		Str("paid", from).Float64("paid_amount", input).Str("got", to).Float64("filled", out).
		Float64("avg_price", slippage.AveragePrice(input, levels)).Msg("paper fill")
	return ord, nil
}

func (e *Exchange) market(ctx context.Context, symbol string) (common.Market, error) {
	e.mu.Lock()
	m, ok := e.markets[symbol]
	loaded := e.markets != nil
	e.mu.Unlock()
	if ok {
		return m, nil
	}
	if !loaded {
		if _, err := e.ListMarkets(ctx); err != nil {
			return common.Market{}, fmt.Errorf("paper markets: %w", err)
		}
		e.mu.Lock()
		m, ok = e.markets[symbol]
		e.mu.Unlock()
		if ok {
			return m, nil
		}
	}
	return common.Market{}, fmt.Errorf("%w: %s", ErrUnknownSymbol, symbol)
}
