// Package binance places and queries spot orders over the Binance REST
// API.
package binance

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/yanun0323/errors"

	"tradecore/internal/decode"
	bdecode "tradecore/internal/decode/binance"
	"tradecore/internal/execution"
	"tradecore/internal/model"
	"tradecore/internal/model/enum"
	"tradecore/internal/network"
	"tradecore/internal/obs"
	"tradecore/pkg/clock"
	"tradecore/pkg/exception"
)

const (
	_binanceBaseUrl        = "https://api.binance.com"
	_binanceBaseUrlTestnet = "https://testnet.binance.vision"
)

// APIKeyHeader carries the API key on every signed or user stream request.
const APIKeyHeader = "X-MBX-APIKEY"

// BaseURL returns the REST root of an environment.
func BaseURL(testnet bool) string {
	if testnet {
		return _binanceBaseUrlTestnet
	}
	return _binanceBaseUrl
}

type Config struct {
	BaseURL    string          `json:"base_url"`
	APIKey     string          `json:"-"`
	APISecret  string          `json:"-"`
	AccountID  model.AccountID `json:"account_id"`
	RecvWindow time.Duration   `json:"recv_window"`
	Timeout    time.Duration   `json:"timeout"`
}

// Delegator is single-attempt: retries and rate limits belong to the order
// gateway.
type Delegator struct {
	cfg         Config
	http        *network.HTTPClient
	decoder     *bdecode.Decoder
	instruments *decode.Instruments
	clock       clock.Clock
}

type Option func(*options)

type options struct {
	client  *http.Client
	clock   clock.Clock
	metrics *obs.Metrics
}

func WithHTTPClient(c *http.Client) Option {
	return func(o *options) { o.client = c }
}

func WithClock(c clock.Clock) Option {
	return func(o *options) { o.clock = c }
}

func WithMetrics(m *obs.Metrics) Option {
	return func(o *options) { o.metrics = m }
}

func NewDelegator(cfg Config, instruments *decode.Instruments, opts ...Option) (*Delegator, error) {
	if instruments == nil || instruments.Venue() != bdecode.Venue {
		return nil, errors.Wrap(exception.ErrOrderUnsupportedVenue, "binance delegator needs binance instruments")
	}
	if cfg.APIKey == "" || cfg.APISecret == "" {
		return nil, errors.Wrap(exception.ErrOrderInvalidRequest, "binance api key and secret are required")
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = _binanceBaseUrl
	}
	if cfg.RecvWindow <= 0 {
		cfg.RecvWindow = 5 * time.Second
	}
	if cfg.AccountID == "" {
		cfg.AccountID = model.AccountID(bdecode.Venue + "-001")
	}

	o := options{clock: clock.Real()}
	for _, opt := range opts {
		opt(&o)
	}
	httpOpts := []network.HTTPOption{
		network.WithHeader(APIKeyHeader, cfg.APIKey),
		network.WithHTTPClock(o.clock),
		network.WithHTTPMetrics(o.metrics),
	}
	if o.client != nil {
		httpOpts = append(httpOpts, network.WithHTTPClient(o.client))
	}
	return &Delegator{
		cfg:         cfg,
		http:        network.NewHTTPClient("binance", network.HTTPConfig{BaseURL: cfg.BaseURL, Timeout: cfg.Timeout}, httpOpts...),
		decoder:     bdecode.New(instruments, bdecode.WithClock(o.clock), bdecode.WithAccount(cfg.AccountID)),
		instruments: instruments,
		clock:       o.clock,
	}, nil
}

func (d *Delegator) Venue() model.Venue { return bdecode.Venue }

func binanceSide(side enum.OrderSide) string {
	switch side {
	case enum.OrderSideSell:
		return "SELL"
	default:
		return "BUY"
	}
}

func binanceTimeInForce(tif enum.TimeInForce) string {
	switch tif {
	case enum.TimeInForceIOC:
		return "IOC"
	case enum.TimeInForceFOK:
		return "FOK"
	default:
		return "GTC"
	}
}

func binanceOrderType(o *model.Order) (string, error) {
	switch o.Type {
	case enum.OrderTypeLimit:
		if o.PostOnly {
			return "LIMIT_MAKER", nil
		}
		return "LIMIT", nil
	case enum.OrderTypeMarket:
		return "MARKET", nil
	case enum.OrderTypeStopMarket:
		return "STOP_LOSS", nil
	case enum.OrderTypeStopLimit:
		return "STOP_LOSS_LIMIT", nil
	case enum.OrderTypeMarketIfTouched:
		return "TAKE_PROFIT", nil
	case enum.OrderTypeLimitIfTouched:
		return "TAKE_PROFIT_LIMIT", nil
	default:
		return "", exception.NewVenueError(exception.CodeInvalidOrder, "binance does not support "+o.Type.String())
	}
}

func (d *Delegator) rawSymbol(id model.InstrumentID) (string, error) {
	if inst, ok := d.instruments.Lookup(string(id.Symbol)); ok && inst.RawSymbol != "" {
		return string(inst.RawSymbol), nil
	}
	if id.Venue != bdecode.Venue {
		return "", exception.NewVenueError(exception.CodeInvalidSymbol, id.String())
	}
	return string(id.Symbol), nil
}

func (d *Delegator) Submit(ctx context.Context, o *model.Order) (model.OrderStatusReport, error) {
	symbol, err := d.rawSymbol(o.InstrumentID)
	if err != nil {
		return model.OrderStatusReport{}, err
	}
	orderType, err := binanceOrderType(o)
	if err != nil {
		return model.OrderStatusReport{}, err
	}

	params := url.Values{}
	params.Set("symbol", symbol)
	params.Set("side", binanceSide(o.Side))
	params.Set("type", orderType)
	params.Set("quantity", o.Quantity.String())
	params.Set("newClientOrderId", string(o.ClientOrderID))
	params.Set("newOrderRespType", "RESULT")
	if o.Type.HasPrice() && o.Price != nil {
		params.Set("price", o.Price.String())
		if orderType != "LIMIT_MAKER" {
			params.Set("timeInForce", binanceTimeInForce(o.TimeInForce))
		}
	}
	if o.Type.HasTrigger() && o.TriggerPrice != nil {
		params.Set("stopPrice", o.TriggerPrice.String())
	}

	body, err := d.signed(ctx, http.MethodPost, "/api/v3/order", params)
	if err != nil {
		return model.OrderStatusReport{}, err
	}
	return d.decodeOrder(body)
}

func (d *Delegator) Cancel(ctx context.Context, o *model.Order) (model.OrderStatusReport, error) {
	symbol, err := d.rawSymbol(o.InstrumentID)
	if err != nil {
		return model.OrderStatusReport{}, err
	}
	params := url.Values{}
	params.Set("symbol", symbol)
	params.Set("origClientOrderId", string(o.ClientOrderID))
	if o.VenueOrderID != "" {
		params.Set("orderId", string(o.VenueOrderID))
	}
	body, err := d.signed(ctx, http.MethodDelete, "/api/v3/order", params)
	if err != nil {
		return model.OrderStatusReport{}, err
	}
	return d.decodeOrder(body)
}

func (d *Delegator) QueryOrder(ctx context.Context, req execution.QueryRequest) (model.OrderStatusReport, error) {
	symbol, err := d.rawSymbol(req.InstrumentID)
	if err != nil {
		return model.OrderStatusReport{}, err
	}
	params := url.Values{}
	params.Set("symbol", symbol)
	switch {
	case req.VenueOrderID != "":
		params.Set("orderId", string(req.VenueOrderID))
	case req.ClientOrderID != "":
		params.Set("origClientOrderId", string(req.ClientOrderID))
	default:
		return model.OrderStatusReport{}, exception.NewVenueError(exception.CodeMissingParameter, "query without order id")
	}
	body, err := d.signed(ctx, http.MethodGet, "/api/v3/order", params)
	if err != nil {
		return model.OrderStatusReport{}, err
	}
	return d.decodeOrder(body)
}

func (d *Delegator) OpenOrders(ctx context.Context, _ execution.OpenOrdersRequest) ([]model.OrderStatusReport, error) {
	body, err := d.signed(ctx, http.MethodGet, "/api/v3/openOrders", url.Values{})
	if err != nil {
		return nil, err
	}
	reports, err := d.decoder.DecodeOrders(body)
	if err != nil {
		return nil, errors.Wrap(err, "binance open orders")
	}
	return reports, nil
}

// MassStatus collects open orders, then per instrument the orders and
// trades updated within lookback. Spot accounts report no positions.
func (d *Delegator) MassStatus(ctx context.Context, lookback time.Duration) (*model.ExecutionMassStatus, error) {
	now := d.clock.Now()
	ms := model.NewExecutionMassStatus(model.ClientID(bdecode.Venue), d.cfg.AccountID, bdecode.Venue, now)

	open, err := d.OpenOrders(ctx, execution.OpenOrdersRequest{Venue: bdecode.Venue, OpenOnly: true})
	if err != nil {
		return nil, err
	}
	ms.AddOrderReports(open...)

	start := strconv.FormatInt(time.Duration(now-int64(lookback)).Milliseconds(), 10)
	for _, inst := range d.instruments.All() {
		params := url.Values{}
		params.Set("symbol", string(inst.RawSymbol))
		params.Set("startTime", start)

		body, err := d.signed(ctx, http.MethodGet, "/api/v3/allOrders", params)
		if err != nil {
			return nil, err
		}
		orders, err := d.decoder.DecodeOrders(body)
		if err != nil {
			return nil, errors.Wrapf(err, "binance orders of %s", inst.RawSymbol)
		}
		ms.AddOrderReports(orders...)

		body, err = d.signed(ctx, http.MethodGet, "/api/v3/myTrades", params)
		if err != nil {
			return nil, err
		}
		fills, err := d.decoder.DecodeTrades(body)
		if err != nil {
			return nil, errors.Wrapf(err, "binance trades of %s", inst.RawSymbol)
		}
		for i := range fills {
			if rep, ok := ms.OrderReports[fills[i].VenueOrderID]; ok {
				fills[i].ClientOrderID = rep.ClientOrderID
			}
		}
		ms.AddFillReports(fills...)
	}
	return ms, nil
}

func (d *Delegator) decodeOrder(body []byte) (model.OrderStatusReport, error) {
	report, err := d.decoder.DecodeOrder(body)
	if err != nil {
		return model.OrderStatusReport{}, errors.Wrap(err, "binance order")
	}
	return report, nil
}

// signed sends a USER_DATA request. The signature must be the last
// parameter, so the query is encoded into the path.
func (d *Delegator) signed(ctx context.Context, method, path string, params url.Values) ([]byte, error) {
	params.Set("timestamp", strconv.FormatInt(time.Duration(d.clock.Now()).Milliseconds(), 10))
	params.Set("recvWindow", strconv.FormatInt(d.cfg.RecvWindow.Milliseconds(), 10))
	query := params.Encode()

	mac := hmac.New(sha256.New, []byte(d.cfg.APISecret))
	_, _ = mac.Write([]byte(query))
	signature := hex.EncodeToString(mac.Sum(nil))

	body, err := d.http.Do(ctx, network.Request{
		Method: method,
		Path:   path + "?" + query + "&signature=" + signature,
	})
	if err != nil {
		return nil, classify(err)
	}
	return body, nil
}
