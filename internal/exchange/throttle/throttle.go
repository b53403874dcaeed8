package throttle

import (
	"context"
	"errors"
	"time"

	"github.com/jpillora/backoff"

	"triarb/internal/exchange/common"
	"triarb/internal/infra/log"
	"triarb/internal/infra/metrics"
	"triarb/internal/orderbook"
)

// ErrNoFeeRate is returned by TakerFee when the wrapped exchange cannot report one.
var ErrNoFeeRate = errors.New("exchange does not report a taker fee")

// Limiter is the shared request budget.
type Limiter interface {
	Wait(ctx context.Context) error
}

// NoLimit never waits. It is for wrapping an exchange whose upstream calls are
// already throttled.
type NoLimit struct{}

func (NoLimit) Wait(ctx context.Context) error { return ctx.Err() }

// Client gates every call to the wrapped exchange on the limiter and turns
// failures into *common.FetchError. Read calls are retried with backoff; order
// submission is attempted exactly once.
type Client struct {
	next    common.Client
	limiter Limiter
	retries int
	minWait time.Duration
	logger  log.Logger
}

func New(next common.Client, limiter Limiter, retries int, logger log.Logger) *Client {
	if retries < 0 {
		retries = 0
	}
	return &Client{next: next, limiter: limiter, retries: retries, minWait: 100 * time.Millisecond, logger: logger}
}

func (c *Client) Name() string { return c.next.Name() }

func (c *Client) ListMarkets(ctx context.Context) ([]common.Market, error) {
	return read(ctx, c, "list_markets", "", c.next.ListMarkets)
}

func (c *Client) GetTicker(ctx context.Context, symbol string) (common.Ticker, error) {
	return read(ctx, c, "ticker", symbol, func(ctx context.Context) (common.Ticker, error) {
		return c.next.GetTicker(ctx, symbol)
	})
}

func (c *Client) GetOrderBook(ctx context.Context, symbol string, depth int) (orderbook.L2, error) {
	return read(ctx, c, "orderbook", symbol, func(ctx context.Context) (orderbook.L2, error) {
		return c.next.GetOrderBook(ctx, symbol, depth)
	})
}

func (c *Client) GetBalances(ctx context.Context) ([]common.Balance, error) {
	return read(ctx, c, "balances", "", c.next.GetBalances)
}

func (c *Client) TakerFee(ctx context.Context) (float64, error) {
	fp, ok := c.next.(common.FeeProvider)
	if !ok {
		return 0, ErrNoFeeRate
	}
	return read(ctx, c, "fee_rate", "", fp.TakerFee)
}

func (c *Client) SubmitMarketOrder(ctx context.Context, symbol string, side common.OrderSide, amount float64) (common.Order, error) {
	if err := c.wait(ctx); err != nil {
		return common.Order{}, c.fail("order", symbol, err)
	}
	start := time.Now()
	ord, err := c.next.SubmitMarketOrder(ctx, symbol, side, amount)
	metrics.OrderSubmitLatencyMs.Observe(float64(time.Since(start).Microseconds()) / 1000)
	if err != nil {
		metrics.APIErrorsTotal.WithLabelValues(c.next.Name(), "order").Inc()
		return common.Order{}, c.fail("order", symbol, err)
	}
	metrics.OrdersSubmittedTotal.WithLabelValues(string(side)).Inc()
	return ord, nil
}

func (c *Client) wait(ctx context.Context) error {
	start := time.Now()
	err := c.limiter.Wait(ctx)
	metrics.RateLimitWaitMs.Observe(float64(time.Since(start).Microseconds()) / 1000)
	return err
}

func (c *Client) fail(op, symbol string, err error) error {
	return &common.FetchError{Exchange: c.next.Name(), Op: op, Symbol: symbol, Err: err}
}

func read[T any](ctx context.Context, c *Client, op, symbol string, fn func(context.Context) (T, error)) (T, error) {
	var zero T
	b := &backoff.Backoff{Min: c.minWait, Max: 2 * time.Second, Factor: 2, Jitter: true}
	var err error
	for attempt := 0; ; attempt++ {
		if werr := c.wait(ctx); werr != nil {
			return zero, c.fail(op, symbol, werr)
		}
		var v T
		v, err = fn(ctx)
		if err == nil {
			return v, nil
		}
		metrics.APIErrorsTotal.WithLabelValues(c.next.Name(), op).Inc()
		if attempt >= c.retries || ctx.Err() != nil {
			break
		}
		d := b.Duration()
		c.logger.Debug().Err(err).Str("op", op).Str("symbol", symbol).Int("attempt", attempt+1).Dur("backoff", d).Msg("retrying exchange call")
		t := time.NewTimer(d)
		select {
		case <-t.C:
		case <-ctx.Done():
			t.Stop()
			return zero, c.fail(op, symbol, ctx.Err())
		}
	}
	return zero, c.fail(op, symbol, err)
}
