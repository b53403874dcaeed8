package common

import (
	"context"
	"fmt"

	"triarb/internal/orderbook"
)

// Market is one spot instrument as listed by the exchange.
type Market struct {
	Symbol     string `json:"symbol"`
	Base       string `json:"base"`
	Quote      string `json:"quote"`
	Derivative bool   `json:"derivative,omitempty"`
	// Precision steps, e.g. 0.000001. Zero means unknown.
	BaseStep  float64 `json:"base_step,omitempty"`
	QuoteStep float64 `json:"quote_step,omitempty"`
}

type Ticker struct{ Bid, Ask float64 }

type OrderSide string

const (
	Buy  OrderSide = "buy"
	Sell OrderSide = "sell"
)

// Order is the acknowledgement of a submitted market order.
// Filled is the amount of the asset received by the order.
type Order struct {
	ID     string
	Symbol string
	Side   OrderSide
	Amount float64
	Filled float64
}

// Balance represents free funds available for trading.
type Balance struct {
	Asset string
	Free  float64
}

// MarketData is the public, unauthenticated half of an exchange.
type MarketData interface {
	ListMarkets(ctx context.Context) ([]Market, error)
	GetTicker(ctx context.Context, symbol string) (Ticker, error)
	GetOrderBook(ctx context.Context, symbol string, depth int) (orderbook.L2, error)
}

// Client is everything the arbitrage core needs from an exchange.
type Client interface {
	MarketData
	Name() string
	GetBalances(ctx context.Context) ([]Balance, error)
	SubmitMarketOrder(ctx context.Context, symbol string, side OrderSide, amount float64) (Order, error)
}

// Optional capability: account taker fee rate (0.001 = 0.1%).
type FeeProvider interface {
	TakerFee(ctx context.Context) (float64, error)
}

// FreeBalance picks one asset out of a balance list; absent assets are zero.
func FreeBalance(bals []Balance, asset string) float64 {
	for _, b := range bals {
		if b.Asset == asset {
			return b.Free
		}
	}
	return 0
}

// FetchError wraps any failed exchange call. Callers treat it as "no data this round".
type FetchError struct {
	Exchange string
	Op       string
	Symbol   string
	Err      error
}

func (e *FetchError) Error() string {
	if e.Symbol != "" {
		return fmt.Sprintf("%s %s %s: %v", e.Exchange, e.Op, e.Symbol, e.Err)
	}
	return fmt.Sprintf("%s %s: %v", e.Exchange, e.Op, e.Err)
}

func (e *FetchError) Unwrap() error { return e.Err }
