package rest

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/Checker-Finance/public-sdk/internal/auth"
	"github.com/Checker-Finance/public-sdk/internal/httpclient"
	"github.com/Checker-Finance/public-sdk/internal/metrics"
	"github.com/Checker-Finance/public-sdk/internal/rate"
	"github.com/Checker-Finance/public-sdk/pkg/model"
)

// Rate limiter scopes. Quote polling must not starve order placement.
const (
	scopeMarketData = "marketdata"
	scopeTrading    = "trading"
)

// Client is the flat REST surface of the brokerage API. The subscription
// managers consume it through the narrow QuoteFetcher/OrderFetcher interfaces
// defined in internal/subscription.
type Client struct {
	logger  *zap.Logger
	exec    *httpclient.Executor
	auth    *auth.Manager
	baseURL string
}

// NewClient constructs the REST client.
func NewClient(logger *zap.Logger, authMgr *auth.Manager, rateMgr *rate.Manager, baseURL string, timeout time.Duration, retryMax int) *Client {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	httpClient := &http.Client{Timeout: timeout}
	return &Client{
		logger:  logger,
		exec:    httpclient.New(logger, rateMgr, httpClient, retryMax),
		auth:    authMgr,
		baseURL: strings.TrimRight(baseURL, "/"),
	}
}

// GetAccounts lists the accounts visible to the authenticated user.
// GET /trading/account
func (c *Client) GetAccounts(ctx context.Context) (*model.AccountsResponse, error) {
	var resp model.AccountsResponse
	if err := c.getJSON(ctx, "/trading/account", nil, scopeTrading, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// GetPortfolio returns the holdings of one account.
// GET /trading/{accountId}/portfolio/v2
func (c *Client) GetPortfolio(ctx context.Context, accountID string) (*model.Portfolio, error) {
	var resp model.Portfolio
	if err := c.getJSON(ctx, "/trading/"+accountID+"/portfolio/v2", nil, scopeTrading, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// quotesRequest is the batch quote payload.
type quotesRequest struct {
	Instruments []model.Instrument `json:"instruments"`
}

// quotesResponse wraps the batch quote response.
type quotesResponse struct {
	Quotes []model.Quote `json:"quotes"`
}

// GetQuotes returns current quotes for a batch of instruments. This is the
// single upstream call the price subscription manager makes per tick.
// POST /marketdata/{accountId}/quotes
func (c *Client) GetQuotes(ctx context.Context, accountID string, instruments []model.Instrument) ([]model.Quote, error) {
	var resp quotesResponse
	err := c.postJSON(ctx, "/marketdata/"+accountID+"/quotes", quotesRequest{Instruments: instruments}, scopeMarketData, &resp)
	if err != nil {
		return nil, err
	}
	return resp.Quotes, nil
}

// GetHistory returns one page of account history.
// GET /trading/{accountId}/history
func (c *Client) GetHistory(ctx context.Context, accountID string, req *model.HistoryRequest) (*model.HistoryPage, error) {
	params := url.Values{}
	if req != nil {
		if req.Start != nil {
			params.Set("start", req.Start.Format(time.RFC3339))
		}
		if req.End != nil {
			params.Set("end", req.End.Format(time.RFC3339))
		}
		if req.PageSize > 0 {
			params.Set("pageSize", strconv.Itoa(req.PageSize))
		}
		if req.PageToken != "" {
			params.Set("pageToken", req.PageToken)
		}
	}
	var resp model.HistoryPage
	if err := c.getJSON(ctx, "/trading/"+accountID+"/history", params, scopeTrading, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// GetInstrument returns reference data for one instrument.
// GET /marketdata/instruments/{symbol}/{type}
func (c *Client) GetInstrument(ctx context.Context, instrument model.Instrument) (*model.InstrumentDetails, error) {
	in := instrument.Normalized()
	var resp model.InstrumentDetails
	if err := c.getJSON(ctx, "/marketdata/instruments/"+in.Symbol+"/"+string(in.Type), nil, scopeMarketData, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// GetAllInstruments pages through the instrument master.
// GET /marketdata/instruments
func (c *Client) GetAllInstruments(ctx context.Context, typeFilter model.InstrumentType, pageToken string) (*model.InstrumentsResponse, error) {
	params := url.Values{}
	if typeFilter != "" {
		params.Set("type", string(typeFilter))
	}
	if pageToken != "" {
		params.Set("pageToken", pageToken)
	}
	var resp model.InstrumentsResponse
	if err := c.getJSON(ctx, "/marketdata/instruments", params, scopeMarketData, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// GetOptionExpirations lists option expiration dates for an underlying.
// GET /marketdata/{accountId}/options/expirations/{symbol}
func (c *Client) GetOptionExpirations(ctx context.Context, accountID, symbol string) (*model.OptionExpirationsResponse, error) {
	var resp model.OptionExpirationsResponse
	if err := c.getJSON(ctx, "/marketdata/"+accountID+"/options/expirations/"+symbol, nil, scopeMarketData, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// GetOptionChain returns the chain for one underlying and expiration.
// GET /marketdata/{accountId}/options/chain/{symbol}
func (c *Client) GetOptionChain(ctx context.Context, accountID, symbol, expiration string) (*model.OptionChainResponse, error) {
	params := url.Values{}
	params.Set("expiration", expiration)
	var resp model.OptionChainResponse
	if err := c.getJSON(ctx, "/marketdata/"+accountID+"/options/chain/"+symbol, params, scopeMarketData, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// greeksRequest is the batch greeks payload.
type greeksRequest struct {
	Instruments []model.Instrument `json:"instruments"`
}

// GetOptionGreeks returns greeks for a batch of option contracts.
// POST /marketdata/{accountId}/options/greeks
func (c *Client) GetOptionGreeks(ctx context.Context, accountID string, instruments []model.Instrument) (*model.OptionGreeksResponse, error) {
	var resp model.OptionGreeksResponse
	if err := c.postJSON(ctx, "/marketdata/"+accountID+"/options/greeks", greeksRequest{Instruments: instruments}, scopeMarketData, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// PerformPreflightCalculation estimates the cost of an order before placing it.
// POST /trading/{accountId}/preflight
func (c *Client) PerformPreflightCalculation(ctx context.Context, accountID string, req *model.PreflightRequest) (*model.PreflightResponse, error) {
	var resp model.PreflightResponse
	if err := c.postJSON(ctx, "/trading/"+accountID+"/preflight", req, scopeTrading, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// PlaceOrder submits a single-leg order.
// POST /trading/{accountId}/order
func (c *Client) PlaceOrder(ctx context.Context, accountID string, req *model.OrderRequest) (*model.PlaceOrderResponse, error) {
	var resp model.PlaceOrderResponse
	if err := c.postJSON(ctx, "/trading/"+accountID+"/order", req, scopeTrading, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// PlaceMultilegOrder submits a multi-leg options order.
// POST /trading/{accountId}/order/multileg
func (c *Client) PlaceMultilegOrder(ctx context.Context, accountID string, req *model.MultilegOrderRequest) (*model.PlaceOrderResponse, error) {
	var resp model.PlaceOrderResponse
	if err := c.postJSON(ctx, "/trading/"+accountID+"/order/multileg", req, scopeTrading, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// GetOrder returns the current upstream state of an order.
// GET /trading/{accountId}/order/{orderId}
func (c *Client) GetOrder(ctx context.Context, accountID, orderID string) (*model.Order, error) {
	var resp model.Order
	if err := c.getJSON(ctx, "/trading/"+accountID+"/order/"+orderID, nil, scopeTrading, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// CancelOrder requests cancellation of a working order.
// DELETE /trading/{accountId}/order/{orderId}
func (c *Client) CancelOrder(ctx context.Context, accountID, orderID string) error {
	return c.doJSON(ctx, http.MethodDelete, "/trading/"+accountID+"/order/"+orderID, nil, nil, scopeTrading, nil)
}

// ForceAuthRefresh fetches a new bearer token unconditionally.
func (c *Client) ForceAuthRefresh(ctx context.Context) error {
	return c.auth.ForceRefresh(ctx)
}

func (c *Client) getJSON(ctx context.Context, path string, params url.Values, scope string, out any) error {
	return c.doJSON(ctx, http.MethodGet, path, params, nil, scope, out)
}

func (c *Client) postJSON(ctx context.Context, path string, body any, scope string, out any) error {
	return c.doJSON(ctx, http.MethodPost, path, nil, body, scope, out)
}

func (c *Client) doJSON(ctx context.Context, method, path string, params url.Values, body any, scope string, out any) error {
	fullURL := c.baseURL + path
	if len(params) > 0 {
		fullURL += "?" + params.Encode()
	}

	var reader *bytes.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reader = bytes.NewReader(data)
	} else {
		reader = bytes.NewReader(nil)
	}

	req, err := http.NewRequestWithContext(ctx, method, fullURL, reader)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	if err := c.auth.Authorize(ctx, req); err != nil {
		metrics.IncAPIRequest(scope, "auth_error")
		return err
	}

	start := time.Now()
	err = c.exec.DoJSON(ctx, req, scope, out)
	metrics.ObserveDuration(metrics.APIRequestDuration, start, scope)
	if err != nil {
		metrics.IncAPIRequest(scope, "error")
		return err
	}
	metrics.IncAPIRequest(scope, "ok")
	return nil
}
