package connectors

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"autotrader/src/model"

	"github.com/go-resty/resty/v2"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	logger "github.com/sirupsen/logrus"
)

const (
	defaultRetryBaseDelay  = 500 * time.Millisecond
	defaultRetryMaxBackoff = 4 * time.Second

	// futures quantities fall back to this many decimals when quantityPrecision is unknown
	defaultQuantityDecimals = 8
)

// BinanceClient is a signed REST client bound to one account and one market
// (USDT-M futures or spot).
type BinanceClient struct {
	apiKey    string
	apiSecret string
	futures   bool
	testnet   bool

	baseURL string
	spotURL string

	http   *resty.Client
	public *resty.Client

	rules  *RulesCache
	ticker PublicTicker

	recvWindow    int64
	signedTimeout time.Duration
	priceTimeout  time.Duration
	now           func() time.Time
}

func isRetryableResp(r *resty.Response, err error) bool {
	if err != nil {
		return true
	}
	if r == nil {
		return false
	}
	code := r.StatusCode()
	return code >= 500 || code == http.StatusTooManyRequests || code == http.StatusRequestTimeout
}

// NewBinanceClient builds a client for the account mode. rules and ticker may be nil.
func NewBinanceClient(apiKey, apiSecret string, futures, testnet bool, cfg Config, rules *RulesCache, ticker PublicTicker) *BinanceClient {
	baseURL, spotURL := cfg.baseURLs(futures, testnet)

	public := resty.New().
		SetBaseURL(baseURL).
		SetTimeout(cfg.HTTPTimeout).
		SetRetryCount(cfg.PublicRetryCount).
		SetRetryWaitTime(defaultRetryBaseDelay).
		SetRetryMaxWaitTime(defaultRetryMaxBackoff).
		AddRetryCondition(isRetryableResp)

	return &BinanceClient{
		apiKey:        apiKey,
		apiSecret:     apiSecret,
		futures:       futures,
		testnet:       testnet,
		baseURL:       baseURL,
		spotURL:       spotURL,
		http:          resty.New().SetBaseURL(baseURL).SetTimeout(cfg.HTTPTimeout),
		public:        public,
		rules:         rules,
		ticker:        ticker,
		recvWindow:    cfg.RecvWindow,
		signedTimeout: cfg.HTTPTimeout,
		priceTimeout:  cfg.PriceTimeout,
		now:           time.Now,
	}
}

func (c *BinanceClient) IsFutures() bool { return c.futures }

func (c *BinanceClient) log() *logger.Entry {
	market := "spot"
	if c.futures {
		market = "futures"
	}
	return logger.WithFields(logger.Fields{
		"connector": "binance",
		"market":    market,
		"testnet":   c.testnet,
	})
}

func signQuery(query, secret string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(query))
	return hex.EncodeToString(mac.Sum(nil))
}

type binanceErrorBody struct {
	Code int    `json:"code"`
	Msg  string `json:"msg"`
}

// decodeError turns a non-2xx answer into an ExchangeError.
func decodeError(resp *resty.Response) error {
	var body binanceErrorBody
	if err := json.Unmarshal(resp.Body(), &body); err != nil || (body.Code == 0 && body.Msg == "") {
		return &ExchangeError{
			HTTPStatus: resp.StatusCode(),
			Code:       0,
			Msg:        strings.TrimSpace(string(resp.Body())),
		}
	}
	return &ExchangeError{HTTPStatus: resp.StatusCode(), Code: body.Code, Msg: body.Msg}
}

// doSigned performs one signed request. Signed calls are never retried.
func (c *BinanceClient) doSigned(ctx context.Context, method, path string, params url.Values, out interface{}) error {
	ctx, cancel := context.WithTimeout(ctx, c.signedTimeout)
	defer cancel()

	if params == nil {
		params = url.Values{}
	}
	params.Set("recvWindow", strconv.FormatInt(c.recvWindow, 10))
	params.Set("timestamp", strconv.FormatInt(c.now().UnixMilli(), 10))
	query := params.Encode()
	query += "&signature=" + signQuery(query, c.apiSecret)

	c.log().WithFields(logger.Fields{
		"method": method,
		"path":   path,
		"symbol": params.Get("symbol"),
	}).Debug("Binance signed request")

	// the query is sent exactly as signed
	resp, err := c.http.R().
		SetContext(ctx).
		SetHeader("X-MBX-APIKEY", c.apiKey).
		Execute(method, path+"?"+query)
	if err != nil {
		return &TransportError{Op: method + " " + path, Err: err}
	}
	if resp.IsError() {
		return decodeError(resp)
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(resp.Body(), out); err != nil {
		return &TransportError{Op: "decode " + path, Err: err}
	}
	return nil
}

type tickerPrice struct {
	Symbol string `json:"symbol"`
	Price  string `json:"price"`
}

func (c *BinanceClient) fetchTicker(ctx context.Context, endpoint, symbol string) (float64, error) {
	resp, err := c.http.R().
		SetContext(ctx).
		SetQueryParam("symbol", symbol).
		Get(endpoint)
	if err != nil {
		return 0, &TransportError{Op: "GET " + endpoint, Err: err}
	}
	if resp.IsError() {
		return 0, decodeError(resp)
	}
	var tp tickerPrice
	if err := json.Unmarshal(resp.Body(), &tp); err != nil {
		return 0, &TransportError{Op: "decode ticker", Err: err}
	}
	price, err := strconv.ParseFloat(tp.Price, 64)
	if err != nil || price <= 0 {
		return 0, fmt.Errorf("invalid ticker price %q for %s", tp.Price, symbol)
	}
	return price, nil
}

// GetPrice returns the live price: futures ticker first for futures accounts,
// then the spot ticker, then the public goex ticker.
func (c *BinanceClient) GetPrice(ctx context.Context, symbol string) (float64, error) {
	ctx, cancel := context.WithTimeout(ctx, c.priceTimeout)
	defer cancel()

	symbol = strings.ToUpper(symbol)
	var errs []error

	if c.futures {
		price, err := c.fetchTicker(ctx, c.baseURL+"/fapi/v1/ticker/price", symbol)
		if err == nil {
			return price, nil
		}
		c.log().WithError(err).WithField("symbol", symbol).Warn("Futures ticker failed, trying spot")
		errs = append(errs, err)
	}

	price, err := c.fetchTicker(ctx, c.spotURL+"/api/v3/ticker/price", symbol)
	if err == nil {
		return price, nil
	}
	errs = append(errs, err)

	if c.ticker != nil {
		c.log().WithError(err).WithField("symbol", symbol).Warn("Spot ticker failed, trying public ticker")
		price, err = c.ticker.LastPrice(ctx, symbol)
		if err == nil {
			return price, nil
		}
		errs = append(errs, err)
	}

	return 0, fmt.Errorf("get price %s: %w", symbol, errors.Join(errs...))
}

type futuresAccount struct {
	AvailableBalance   string `json:"availableBalance"`
	TotalWalletBalance string `json:"totalWalletBalance"`
	Assets             []struct {
		Asset            string `json:"asset"`
		AvailableBalance string `json:"availableBalance"`
		WalletBalance    string `json:"walletBalance"`
	} `json:"assets"`
}

type spotAccount struct {
	Balances []struct {
		Asset  string `json:"asset"`
		Free   string `json:"free"`
		Locked string `json:"locked"`
	} `json:"balances"`
}

func parseFloat(s string) float64 {
	f, _ := strconv.ParseFloat(s, 64)
	return f
}

// GetBalance returns the account balances for the client's market.
func (c *BinanceClient) GetBalance(ctx context.Context) (*Balance, error) {
	bal := &Balance{Assets: map[string]float64{}}

	if c.futures {
		var acc futuresAccount
		if err := c.doSigned(ctx, http.MethodGet, "/fapi/v2/account", nil, &acc); err != nil {
			return nil, err
		}
		bal.QuoteAvailable = parseFloat(acc.AvailableBalance)
		bal.QuoteTotal = parseFloat(acc.TotalWalletBalance)
		for _, a := range acc.Assets {
			if a.Asset == "" || a.Asset == model.QuoteAsset {
				continue
			}
			bal.Assets[strings.ToUpper(a.Asset)] = parseFloat(a.AvailableBalance)
		}
		return bal, nil
	}

	var acc spotAccount
	if err := c.doSigned(ctx, http.MethodGet, "/api/v3/account", nil, &acc); err != nil {
		return nil, err
	}
	for _, b := range acc.Balances {
		free := parseFloat(b.Free)
		if strings.ToUpper(b.Asset) == model.QuoteAsset {
			bal.QuoteAvailable = free
			bal.QuoteTotal = free + parseFloat(b.Locked)
			continue
		}
		bal.Assets[strings.ToUpper(b.Asset)] = free
	}
	return bal, nil
}

// ConfigureLeverageAndMargin sets margin type then leverage. Answers that the
// value is already set count as success. Spot clients ignore the call.
func (c *BinanceClient) ConfigureLeverageAndMargin(ctx context.Context, symbol string, leverage int, marginType string) error {
	if !c.futures {
		return nil
	}
	symbol = strings.ToUpper(symbol)

	marginParams := url.Values{}
	marginParams.Set("symbol", symbol)
	marginParams.Set("marginType", strings.ToUpper(marginType))
	if err := c.doSigned(ctx, http.MethodPost, "/fapi/v1/marginType", marginParams, nil); err != nil {
		if !IsNoChange(err) {
			return fmt.Errorf("set margin type %s: %w", symbol, err)
		}
		c.log().WithField("symbol", symbol).Info("Margin type already configured")
	}

	levParams := url.Values{}
	levParams.Set("symbol", symbol)
	levParams.Set("leverage", strconv.Itoa(leverage))
	if err := c.doSigned(ctx, http.MethodPost, "/fapi/v1/leverage", levParams, nil); err != nil {
		if !IsNoChange(err) {
			return fmt.Errorf("set leverage %s: %w", symbol, err)
		}
	}

	c.log().WithFields(logger.Fields{
		"symbol":      symbol,
		"leverage":    leverage,
		"margin_type": marginType,
	}).Info("Leverage and margin configured")
	return nil
}

type orderFill struct {
	Price           string `json:"price"`
	Qty             string `json:"qty"`
	Commission      string `json:"commission"`
	CommissionAsset string `json:"commissionAsset"`
}

type orderResponse struct {
	OrderID             int64       `json:"orderId"`
	ClientOrderID       string      `json:"clientOrderId"`
	Status              string      `json:"status"`
	ExecutedQty         string      `json:"executedQty"`
	AvgPrice            string      `json:"avgPrice"`
	CummulativeQuoteQty string      `json:"cummulativeQuoteQty"`
	TransactTime        int64       `json:"transactTime"`
	UpdateTime          int64       `json:"updateTime"`
	Fills               []orderFill `json:"fills"`
}

func (r orderResponse) report() *model.ExecutionReport {
	rep := &model.ExecutionReport{
		ExchangeOrderID:  strconv.FormatInt(r.OrderID, 10),
		ClientOrderID:    r.ClientOrderID,
		Status:           r.Status,
		ExecutedQuantity: parseFloat(r.ExecutedQty),
		ExecutedPrice:    parseFloat(r.AvgPrice),
	}
	if rep.ExecutedPrice == 0 && rep.ExecutedQuantity > 0 {
		if quote := parseFloat(r.CummulativeQuoteQty); quote > 0 {
			rep.ExecutedPrice = quote / rep.ExecutedQuantity
		}
	}
	for _, f := range r.Fills {
		rep.Fills = append(rep.Fills, model.Fill{
			Price:           parseFloat(f.Price),
			Quantity:        parseFloat(f.Qty),
			Commission:      parseFloat(f.Commission),
			CommissionAsset: f.CommissionAsset,
		})
	}
	ts := r.TransactTime
	if ts == 0 {
		ts = r.UpdateTime
	}
	if ts > 0 {
		rep.TransactTime = time.UnixMilli(ts).UTC()
	}
	return rep
}

// formatQuantity truncates to the given decimals and trims trailing zeros.
func formatQuantity(qty float64, decimals int) string {
	return decimal.NewFromFloat(qty).Truncate(int32(decimals)).String()
}

// NewClientOrderID returns a unique client order id accepted by both markets.
func NewClientOrderID() string {
	return "at-" + strings.ReplaceAll(uuid.NewString(), "-", "")[:28]
}

// SubmitMarketOrder places one MARKET order. It is never retried.
func (c *BinanceClient) SubmitMarketOrder(ctx context.Context, req MarketOrderRequest) (*model.ExecutionReport, error) {
	symbol := strings.ToUpper(req.Symbol)
	params := url.Values{}
	params.Set("symbol", symbol)
	params.Set("side", strings.ToUpper(req.Side))
	params.Set("type", model.OrderTypeMarket)

	clientID := req.ClientOrderID
	if clientID == "" {
		clientID = NewClientOrderID()
	}
	params.Set("newClientOrderId", clientID)

	path := "/api/v3/order"
	if c.futures {
		path = "/fapi/v1/order"
		positionSide := req.PositionSide
		if positionSide == "" {
			positionSide = PositionSideLong
		}
		params.Set("positionSide", positionSide)

		decimals := defaultQuantityDecimals
		if rules, err := c.GetSymbolTradingRules(ctx, symbol); err == nil && rules.HasQuantityPrecision {
			decimals = rules.QuantityPrecision
		}
		params.Set("quantity", formatQuantity(req.Quantity, decimals))
	} else {
		params.Set("newOrderRespType", "FULL")
		if req.QuoteAmount > 0 {
			params.Set("quoteOrderQty", fmt.Sprintf("%.2f", req.QuoteAmount))
		} else {
			params.Set("quantity", formatQuantity(req.Quantity, defaultQuantityDecimals))
		}
	}

	if params.Get("quantity") == "0" {
		return nil, fmt.Errorf("quantity %v for %s truncates to zero", req.Quantity, symbol)
	}

	var resp orderResponse
	if err := c.doSigned(ctx, http.MethodPost, path, params, &resp); err != nil {
		c.log().WithError(err).WithFields(logger.Fields{
			"symbol":          symbol,
			"side":            req.Side,
			"client_order_id": clientID,
		}).Error("Market order failed")
		return nil, err
	}

	rep := resp.report()
	if rep.ClientOrderID == "" {
		rep.ClientOrderID = clientID
	}

	c.log().WithFields(logger.Fields{
		"symbol":   symbol,
		"side":     req.Side,
		"order_id": rep.ExchangeOrderID,
		"status":   rep.Status,
		"qty":      rep.ExecutedQuantity,
	}).Info("Market order executed")
	return rep, nil
}

type exchangeInfo struct {
	Symbols []struct {
		Symbol            string `json:"symbol"`
		PricePrecision    *int   `json:"pricePrecision"`
		QuantityPrecision *int   `json:"quantityPrecision"`
		Filters           []struct {
			FilterType  string `json:"filterType"`
			StepSize    string `json:"stepSize"`
			MinQty      string `json:"minQty"`
			MinNotional string `json:"minNotional"`
			Notional    string `json:"notional"`
		} `json:"filters"`
	} `json:"symbols"`
}

func decimalOrZero(s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero
	}
	return d
}

func (info exchangeInfo) rules() []SymbolRules {
	out := make([]SymbolRules, 0, len(info.Symbols))
	for _, s := range info.Symbols {
		r := SymbolRules{Symbol: s.Symbol}
		if s.PricePrecision != nil {
			r.PricePrecision = *s.PricePrecision
		}
		if s.QuantityPrecision != nil {
			r.QuantityPrecision = *s.QuantityPrecision
			r.HasQuantityPrecision = true
		}
		for _, f := range s.Filters {
			switch f.FilterType {
			case "LOT_SIZE":
				r.StepSize = decimalOrZero(f.StepSize)
				r.MinQty = decimalOrZero(f.MinQty)
			case "MIN_NOTIONAL", "NOTIONAL":
				if f.Notional != "" {
					r.MinNotional = decimalOrZero(f.Notional)
				} else {
					r.MinNotional = decimalOrZero(f.MinNotional)
				}
			}
		}
		out = append(out, r)
	}
	return out
}

// GetSymbolTradingRules returns the symbol filters, served from the shared
// cache while fresh.
func (c *BinanceClient) GetSymbolTradingRules(ctx context.Context, symbol string) (*SymbolRules, error) {
	symbol = strings.ToUpper(symbol)
	key := rulesKey(c.futures, symbol)
	if cached, ok := c.rules.Get(key); ok {
		return &cached, nil
	}

	ctx, cancel := context.WithTimeout(ctx, c.signedTimeout)
	defer cancel()

	req := c.public.R().SetContext(ctx)
	path := "/fapi/v1/exchangeInfo"
	if !c.futures {
		path = "/api/v3/exchangeInfo"
		req = req.SetQueryParam("symbol", symbol)
	}

	resp, err := req.Get(path)
	if err != nil {
		return nil, &TransportError{Op: "GET " + path, Err: err}
	}
	if resp.IsError() {
		return nil, decodeError(resp)
	}

	var info exchangeInfo
	if err := json.Unmarshal(resp.Body(), &info); err != nil {
		return nil, &TransportError{Op: "decode exchangeInfo", Err: err}
	}

	var found *SymbolRules
	for _, r := range info.rules() {
		c.rules.Put(rulesKey(c.futures, r.Symbol), r)
		if r.Symbol == symbol {
			rr := r
			found = &rr
		}
	}
	if found == nil {
		return nil, fmt.Errorf("symbol %s not found in exchangeInfo", symbol)
	}
	return found, nil
}
