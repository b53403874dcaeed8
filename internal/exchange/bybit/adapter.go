package bybit

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	jsoniter "github.com/json-iterator/go"
	cmap "github.com/orcaman/concurrent-map"
	"github.com/pkg/errors"
	"github.com/rs/xid"
	"github.com/shopspring/decimal"

	"triarb/internal/config"
	"triarb/internal/exchange/common"
	"triarb/internal/infra/log"
	"triarb/internal/orderbook"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

const (
	category     = "spot"
	maxBookDepth = 200
)

// APIError is a non-zero retCode from the v5 API.
type APIError struct {
	Code    int
	Message string
	Path    string
}

func (e *APIError) Error() string {
	return "bybit " + e.Path + ": retCode " + strconv.Itoa(e.Code) + ": " + e.Message
}

// Adapter talks to the Bybit v5 REST API for spot markets. Order amounts and
// fills are base-asset quantities.
type Adapter struct {
	baseURL    string
	apiKey     string
	secret     string
	recvWindow string
	http       *http.Client
	logger     log.Logger
	// symbol -> common.Market, filled by ListMarkets
	instruments cmap.ConcurrentMap
	now         func() time.Time
}

func New(cfg config.Config, httpClient *http.Client, logger log.Logger) *Adapter {
	rw := cfg.Exchange.RecvWindowMs
	if rw <= 0 {
		rw = 5000
	}
	return &Adapter{
		baseURL:     strings.TrimRight(cfg.Exchange.BaseURL, "/"),
		apiKey:      cfg.Exchange.APIKey,
		secret:      cfg.Exchange.Secret,
		recvWindow:  strconv.Itoa(rw),
		http:        httpClient,
		logger:      logger,
		instruments: cmap.New(),
		now:         time.Now,
	}
}

func (a *Adapter) Name() string { return "bybit" }

func (a *Adapter) sign(ts, payload string) string {
	h := hmac.New(sha256.New, []byte(a.secret))
	h.Write([]byte(ts + a.apiKey + a.recvWindow + payload))
	return hex.EncodeToString(h.Sum(nil))
}

func (a *Adapter) doRequest(ctx context.Context, method, path string, params map[string]string, signed bool, out interface{}) error {
	if signed && (a.apiKey == "" || a.secret == "") {
		return errors.Errorf("bybit %s: api credentials not configured", path)
	}
	var payload, reqURL string
	if method == http.MethodGet {
		q := url.Values{}
		for k, v := range params {
			q.Set(k, v)
		}
		payload = q.Encode()
		reqURL = a.baseURL + path
		if payload != "" {
			reqURL += "?" + payload
		}
	} else {
		b, err := json.Marshal(params)
		if err != nil {
			return errors.Wrap(err, "encode request")
		}
		payload = string(b)
		reqURL = a.baseURL + path
	}

	var body io.Reader
	if method != http.MethodGet {
		body = strings.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, reqURL, body)
	if err != nil {
		return errors.Wrapf(err, "build request %s", path)
	}
	req.Header.Set("Content-Type", "application/json")
	if signed {
		ts := strconv.FormatInt(a.now().UnixMilli(), 10)
		req.Header.Set("X-BAPI-API-KEY", a.apiKey)
		req.Header.Set("X-BAPI-SIGN", a.sign(ts, payload))
		req.Header.Set("X-BAPI-TIMESTAMP", ts)
		req.Header.Set("X-BAPI-RECV-WINDOW", a.recvWindow)
	}

	resp, err := a.http.Do(req)
	if err != nil {
		return errors.Wrapf(err, "bybit %s", path)
	}
	defer func() { _ = resp.Body.Close() }()
	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return errors.Wrapf(err, "read %s", path)
	}
	if resp.StatusCode != http.StatusOK {
		return errors.Errorf("bybit %s: http %d", path, resp.StatusCode)
	}
	var env struct {
		RetCode int                 `json:"retCode"`
		RetMsg  string              `json:"retMsg"`
		Result  jsoniter.RawMessage `json:"result"`
	}
	if err := json.Unmarshal(raw, &env); err != nil {
		return errors.Wrapf(err, "decode %s", path)
	}
	if env.RetCode != 0 {
		return &APIError{Code: env.RetCode, Message: env.RetMsg, Path: path}
	}
	if out == nil {
		return nil
	}
	return errors.Wrapf(json.Unmarshal(env.Result, out), "decode %s result", path)
}

type instrumentPage struct {
	List []struct {
		Symbol        string `json:"symbol"`
		BaseCoin      string `json:"baseCoin"`
		QuoteCoin     string `json:"quoteCoin"`
		Status        string `json:"status"`
		LotSizeFilter struct {
			BasePrecision  string `json:"basePrecision"`
			QuotePrecision string `json:"quotePrecision"`
		} `json:"lotSizeFilter"`
	} `json:"list"`
	NextPageCursor string `json:"nextPageCursor"`
}

// markets keeps trading instruments and caches their precision.
func (p instrumentPage) markets(cache cmap.ConcurrentMap) []common.Market {
	var out []common.Market
	for _, it := range p.List {
		if it.Status != "" && it.Status != "Trading" {
			continue
		}
		m := common.Market{
			Symbol:    it.Symbol,
			Base:      it.BaseCoin,
			Quote:     it.QuoteCoin,
			BaseStep:  parseFloat(it.LotSizeFilter.BasePrecision),
			QuoteStep: parseFloat(it.LotSizeFilter.QuotePrecision),
		}
		cache.Set(m.Symbol, m)
		out = append(out, m)
	}
	return out
}

func (a *Adapter) ListMarkets(ctx context.Context) ([]common.Market, error) {
	var out []common.Market
	cursor := ""
	for {
		params := map[string]string{"category": category}
		if cursor != "" {
			params["cursor"] = cursor
		}
		var res instrumentPage
		if err := a.doRequest(ctx, http.MethodGet, "/v5/market/instruments-info", params, false, &res); err != nil {
			return nil, err
		}
		out = append(out, res.markets(a.instruments)...)
		if res.NextPageCursor == "" || res.NextPageCursor == cursor {
			break
		}
		cursor = res.NextPageCursor
	}
	a.logger.Debug().Int("markets", len(out)).Msg("bybit instruments loaded")
	return out, nil
}

// instrument returns cached metadata for symbol, fetching it on a miss.
func (a *Adapter) instrument(ctx context.Context, symbol string) (common.Market, error) {
	if v, ok := a.instruments.Get(symbol); ok {
		if m, ok := v.(common.Market); ok {
			return m, nil
		}
	}
	var res instrumentPage
	params := map[string]string{"category": category, "symbol": symbol}
	if err := a.doRequest(ctx, http.MethodGet, "/v5/market/instruments-info", params, false, &res); err != nil {
		return common.Market{}, errors.Wrapf(err, "bybit instrument %s", symbol)
	}
	for _, m := range res.markets(a.instruments) {
		if m.Symbol == symbol {
			return m, nil
		}
	}
	return common.Market{}, errors.Errorf("bybit instrument %s: not trading", symbol)
}

func (a *Adapter) GetTicker(ctx context.Context, symbol string) (common.Ticker, error) {
	var res struct {
		List []struct {
			Symbol    string `json:"symbol"`
			Bid1Price string `json:"bid1Price"`
			Ask1Price string `json:"ask1Price"`
		} `json:"list"`
	}
	params := map[string]string{"category": category, "symbol": symbol}
	if err := a.doRequest(ctx, http.MethodGet, "/v5/market/tickers", params, false, &res); err != nil {
		return common.Ticker{}, err
	}
	if len(res.List) == 0 {
		return common.Ticker{}, errors.Errorf("bybit ticker %s: empty list", symbol)
	}
	t := res.List[0]
	return common.Ticker{Bid: parseFloat(t.Bid1Price), Ask: parseFloat(t.Ask1Price)}, nil
}

func (a *Adapter) GetOrderBook(ctx context.Context, symbol string, depth int) (orderbook.L2, error) {
	if depth <= 0 || depth > maxBookDepth {
		depth = maxBookDepth
	}
	var res struct {
		Symbol string     `json:"s"`
		Bids   [][]string `json:"b"`
		Asks   [][]string `json:"a"`
	}
	params := map[string]string{"category": category, "symbol": symbol, "limit": strconv.Itoa(depth)}
	if err := a.doRequest(ctx, http.MethodGet, "/v5/market/orderbook", params, false, &res); err != nil {
		return orderbook.L2{}, err
	}
	book := orderbook.L2{Bids: levels(res.Bids), Asks: levels(res.Asks)}
	book.Sort()
	return book, nil
}

func (a *Adapter) GetBalances(ctx context.Context) ([]common.Balance, error) {
	var res struct {
		List []struct {
			Coin []struct {
				Coin          string `json:"coin"`
				WalletBalance string `json:"walletBalance"`
				Locked        string `json:"locked"`
			} `json:"coin"`
		} `json:"list"`
	}
	params := map[string]string{"accountType": "UNIFIED"}
	if err := a.doRequest(ctx, http.MethodGet, "/v5/account/wallet-balance", params, true, &res); err != nil {
		return nil, err
	}
	var out []common.Balance
	for _, acc := range res.List {
		for _, c := range acc.Coin {
			free := parseFloat(c.WalletBalance) - parseFloat(c.Locked)
			if free < 0 {
				free = 0
			}
			out = append(out, common.Balance{Asset: c.Coin, Free: free})
		}
	}
	return out, nil
}

// SubmitMarketOrder places a spot market order sized in the base asset and
// reads back the executed base quantity.
func (a *Adapter) SubmitMarketOrder(ctx context.Context, symbol string, side common.OrderSide, amount float64) (common.Order, error) {
	qty, err := a.formatQty(ctx, symbol, amount)
	if err != nil {
		return common.Order{}, err
	}
	bside := "Buy"
	if side == common.Sell {
		bside = "Sell"
	}
	link := xid.New().String()
	params := map[string]string{
		"category":    category,
		"symbol":      symbol,
		"side":        bside,
		"orderType":   "Market",
		"qty":         qty,
		"marketUnit":  "baseCoin",
		"orderLinkId": link,
	}
	var res struct {
		OrderID     string `json:"orderId"`
		OrderLinkID string `json:"orderLinkId"`
	}
	if err := a.doRequest(ctx, http.MethodPost, "/v5/order/create", params, true, &res); err != nil {
		return common.Order{}, err
	}
	ord := common.Order{ID: res.OrderID, Symbol: symbol, Side: side, Amount: parseFloat(qty)}
	filled, err := a.executedQty(ctx, symbol, res.OrderID)
	if err != nil {
		// the order is live; assume a full fill rather than stall the sequence
		a.logger.Warn().Err(err).Str("symbol", symbol).Str("order_id", res.OrderID).Msg("fill lookup failed, assuming full fill")
		filled = ord.Amount
	}
	ord.Filled = filled
	return ord, nil
}

func (a *Adapter) executedQty(ctx context.Context, symbol, orderID string) (float64, error) {
	var res struct {
		List []struct {
			CumExecQty  string `json:"cumExecQty"`
			OrderStatus string `json:"orderStatus"`
		} `json:"list"`
	}
	params := map[string]string{"category": category, "symbol": symbol, "orderId": orderID}
	if err := a.doRequest(ctx, http.MethodGet, "/v5/order/realtime", params, true, &res); err != nil {
		return 0, err
	}
	if len(res.List) == 0 {
		return 0, errors.Errorf("bybit order %s not found", orderID)
	}
	return parseFloat(res.List[0].CumExecQty), nil
}

// TakerFee reads the account's spot taker rate.
func (a *Adapter) TakerFee(ctx context.Context) (float64, error) {
	var res struct {
		List []struct {
			Symbol       string `json:"symbol"`
			TakerFeeRate string `json:"takerFeeRate"`
		} `json:"list"`
	}
	if err := a.doRequest(ctx, http.MethodGet, "/v5/account/fee-rate", map[string]string{"category": category}, true, &res); err != nil {
		return 0, err
	}
	if len(res.List) == 0 {
		return 0, errors.New("bybit fee-rate: empty list")
	}
	return parseFloat(res.List[0].TakerFeeRate), nil
}

// formatQty truncates to the instrument's base precision. Unknown instruments
// are looked up first so no order leaves with more decimals than the exchange accepts.
func (a *Adapter) formatQty(ctx context.Context, symbol string, amount float64) (string, error) {
	if amount <= 0 {
		return "", errors.Errorf("bybit order %s: non-positive amount %v", symbol, amount)
	}
	m, err := a.instrument(ctx, symbol)
	if err != nil {
		return "", err
	}
	qty := decimal.NewFromFloat(amount)
	if m.BaseStep > 0 {
		step := decimal.NewFromFloat(m.BaseStep)
		qty = qty.Div(step).Floor().Mul(step)
	}
	if !qty.IsPositive() {
		return "", errors.Errorf("bybit order %s: amount %v below precision", symbol, amount)
	}
	return qty.String(), nil
}

func levels(raw [][]string) []orderbook.Level {
	out := make([]orderbook.Level, 0, len(raw))
	for _, r := range raw {
		if len(r) < 2 {
			continue
		}
		out = append(out, orderbook.Level{Price: parseFloat(r[0]), Qty: parseFloat(r[1])})
	}
	return out
}

func parseFloat(s string) float64 {
	f, _ := strconv.ParseFloat(s, 64)
	return f
}
