package paper

import (
	"context"
	"errors"
	"math"
	"testing"

	"triarb/internal/exchange/common"
	"triarb/internal/infra/log"
	"triarb/internal/orderbook"
)

type staticFeed struct {
	markets []common.Market
	books   map[string]orderbook.L2
}

func (f staticFeed) ListMarkets(ctx context.Context) ([]common.Market, error) { return f.markets, nil }
func (f staticFeed) GetTicker(ctx context.Context, symbol string) (common.Ticker, error) {
	bid, ask, _ := f.books[symbol].Best()
	return common.Ticker{Bid: bid, Ask: ask}, nil
}
func (f staticFeed) GetOrderBook(ctx context.Context, symbol string, depth int) (orderbook.L2, error) {
	b, ok := f.books[symbol]
	if !ok {
		return orderbook.L2{}, errors.New("no book")
	}
	return b, nil
}

func feed() staticFeed {
	return staticFeed{
		markets: []common.Market{{Symbol: "ETHUSDT", Base: "ETH", Quote: "USDT"}},
		books: map[string]orderbook.L2{"ETHUSDT": {
			Bids: []orderbook.Level{{Price: 3000, Qty: 10}},
			Asks: []orderbook.Level{{Price: 3010, Qty: 10}},
		}},
	}
}

func TestSellConvertsQuoteIntoBase(t *testing.T) {
	ex := New(feed(), map[string]float64{"USDT": 0.001}, 0.001, 20, log.Nop())
	// leg input 0.001 USDT at rate 3000 -> amount 0.001/3000
	ord, err := ex.SubmitMarketOrder(context.Background(), "ETHUSDT", common.Sell, 0.001/3000)
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	want := 0.001 * 3000 * 0.999
	if math.Abs(ord.Filled-want) > 1e-9 {
		t.Fatalf("filled = %v want %v", ord.Filled, want)
	}
	bals, _ := ex.GetBalances(context.Background())
	if got := common.FreeBalance(bals, "ETH"); math.Abs(got-want) > 1e-9 {
		t.Fatalf("ETH balance = %v", got)
	}
	if got := common.FreeBalance(bals, "USDT"); got > 1e-15 {
		t.Fatalf("USDT should be spent, left %v", got)
	}
}

func TestBuyConvertsBaseIntoQuote(t *testing.T) {
	ex := New(feed(), map[string]float64{"ETH": 1}, 0, 20, log.Nop())
	ord, err := ex.SubmitMarketOrder(context.Background(), "ETHUSDT", common.Buy, 0.5)
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if want := 0.5 / 3010; math.Abs(ord.Filled-want) > 1e-15 {
		t.Fatalf("filled = %v want %v", ord.Filled, want)
	}
}

func TestRejectsInsufficientFundsAndThinBook(t *testing.T) {
	ex := New(feed(), map[string]float64{"ETH": 0.1}, 0, 20, log.Nop())
	if _, err := ex.SubmitMarketOrder(context.Background(), "ETHUSDT", common.Buy, 0.2); !errors.Is(err, ErrInsufficientFunds) {
		t.Fatalf("expected insufficient funds, got %v", err)
	}
	ex.Credit("ETH", 1e9)
	// asks hold 10*3010 = 30100 ETH-equivalent in normalized terms
	if _, err := ex.SubmitMarketOrder(context.Background(), "ETHUSDT", common.Buy, 40000); !errors.Is(err, ErrBookTooThin) {
		t.Fatalf("expected thin book, got %v", err)
	}
	if _, err := ex.SubmitMarketOrder(context.Background(), "DOGEUSDT", common.Buy, 1); !errors.Is(err, ErrUnknownSymbol) {
		t.Fatalf("expected unknown symbol, got %v", err)
	}
}
