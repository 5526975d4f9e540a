// Package public is the entry point of the SDK: a Client that bundles
// authentication, the REST surface, and the price/order subscription
// managers behind one object.
package public

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/Checker-Finance/public-sdk/internal/auth"
	"github.com/Checker-Finance/public-sdk/internal/journal"
	"github.com/Checker-Finance/public-sdk/internal/publisher"
	"github.com/Checker-Finance/public-sdk/internal/rate"
	"github.com/Checker-Finance/public-sdk/internal/rest"
	"github.com/Checker-Finance/public-sdk/internal/subscription"
	"github.com/Checker-Finance/public-sdk/pkg/config"
	"github.com/Checker-Finance/public-sdk/pkg/logger"
	"github.com/Checker-Finance/public-sdk/pkg/model"
	"github.com/Checker-Finance/public-sdk/pkg/secrets"
	"github.com/Checker-Finance/public-sdk/pkg/utils"
)

// Re-exported subscription API, so SDK consumers never import internal
// packages directly.
type (
	SubscriptionConfig = subscription.Config
	SubscriptionStatus = subscription.Status

	PriceChange   = subscription.PriceChange
	PriceHandler  = subscription.PriceHandler
	PriceCallback = subscription.PriceCallback

	OrderKey      = subscription.OrderKey
	OrderUpdate   = subscription.OrderUpdate
	OrderHandler  = subscription.OrderHandler
	OrderCallback = subscription.OrderCallback

	PriceSubscriptionInfo = subscription.Info[model.Instrument]
	OrderSubscriptionInfo = subscription.Info[subscription.OrderKey]
)

// SyncPrice wraps a price handler executed inline on a dispatch worker.
func SyncPrice(fn PriceHandler) PriceCallback { return subscription.SyncPrice(fn) }

// AsyncPrice wraps a price handler routed to the deferred execution loop.
func AsyncPrice(fn PriceHandler) PriceCallback { return subscription.AsyncPrice(fn) }

// SyncOrder wraps an order handler executed inline on a dispatch worker.
func SyncOrder(fn OrderHandler) OrderCallback { return subscription.SyncOrder(fn) }

// AsyncOrder wraps an order handler routed to the deferred execution loop.
func AsyncOrder(fn OrderHandler) OrderCallback { return subscription.AsyncOrder(fn) }

// DefaultSubscriptionConfig returns the default polling configuration.
func DefaultSubscriptionConfig() SubscriptionConfig { return subscription.DefaultConfig() }

// ErrNoAccount is returned when an operation needs an account and neither an
// explicit account id nor a configured default is available.
var ErrNoAccount = errors.New("public: no account id provided and no default account configured")

// ErrNoSecret is returned when the client is constructed without an API
// secret and no secret store lookup is configured.
var ErrNoSecret = errors.New("public: no API secret provided")

// Client is the SDK entry point. Construct one per API secret; it is safe
// for concurrent use.
type Client struct {
	cfg    *config.Config
	logger *zap.Logger
	auth   *auth.Manager
	rest   *rest.Client

	mu     sync.Mutex
	prices *subscription.PriceManager
	orders *subscription.OrderManager

	pub  *publisher.Publisher
	jrnl *journal.Writer
	db   *pgxpool.Pool
}

// New constructs a Client. apiSecret may be empty when cfg names a secret in
// the configured secret store; the secret is then resolved at construction
// time. A nil cfg loads configuration from the environment.
func New(ctx context.Context, cfg *config.Config, apiSecret string) (*Client, error) {
	if cfg == nil {
		cfg = config.Load()
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = config.DefaultBaseURL
	}
	logger.Init(cfg.ServiceName, cfg.Env, cfg.LogLevel)
	log := logger.L()

	if apiSecret == "" && cfg.SecretName != "" {
		provider, err := secrets.NewAWSProvider(cfg.AWSRegion)
		if err != nil {
			return nil, err
		}
		creds, err := secrets.NewResolver(log, provider, cfg.CacheTTL).Resolve(ctx, cfg.SecretName)
		if err != nil {
			return nil, err
		}
		apiSecret = creds.Secret
		if cfg.DefaultAccountID == "" {
			cfg.DefaultAccountID = creds.AccountID
		}
	}
	if apiSecret == "" {
		return nil, ErrNoSecret
	}

	authMgr := auth.NewManager(auth.NewAPIKeyProvider(log, cfg.BaseURL, apiSecret, cfg.TokenValidity))
	rateMgr := rate.NewManager(rate.Config{
		RequestsPerSecond: cfg.RequestsPerSecond,
		Burst:             cfg.Burst,
	})

	c := &Client{
		cfg:    cfg,
		logger: log,
		auth:   authMgr,
		rest:   rest.NewClient(log, authMgr, rateMgr, cfg.BaseURL, cfg.HTTPTimeout, cfg.RetryMax),
	}

	if cfg.NATSURL != "" {
		pub, err := publisher.Connect(log, cfg.NATSURL, cfg.EventSubject, cfg.ServiceName)
		if err != nil {
			log.Warn("client.event_bridge_unavailable", zap.Error(err))
		} else {
			c.pub = pub
		}
	}
	if cfg.DatabaseURL != "" {
		pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
		if err != nil {
			log.Warn("client.journal_unavailable",
				zap.String("dsn", utils.MaskDSN(cfg.DatabaseURL)),
				zap.Error(err))
		} else {
			log.Info("client.journal_enabled", zap.String("dsn", utils.MaskDSN(cfg.DatabaseURL)))
			c.db = pool
			c.jrnl = journal.NewWriter(pool, log, cfg.ServiceName)
		}
	}

	return c, nil
}

// Close stops both subscription managers, closes the optional event bridge
// and journal, and revokes the current access token.
func (c *Client) Close(ctx context.Context) error {
	c.mu.Lock()
	prices, orders := c.prices, c.orders
	c.mu.Unlock()

	if prices != nil {
		prices.Stop()
	}
	if orders != nil {
		orders.Stop()
	}
	if c.pub != nil {
		c.pub.Close()
	}
	if c.db != nil {
		c.db.Close()
	}
	return c.auth.Close(ctx)
}

// resolveAccount applies the account fallback: explicit id, then the
// configured default.
func (c *Client) resolveAccount(accountID string) (string, error) {
	if accountID != "" {
		return accountID, nil
	}
	if c.cfg.DefaultAccountID != "" {
		return c.cfg.DefaultAccountID, nil
	}
	return "", ErrNoAccount
}

// ─── Account and market data ─────────────────────────────────────────────────

// GetAccounts lists the accounts visible to the authenticated user.
func (c *Client) GetAccounts(ctx context.Context) (*model.AccountsResponse, error) {
	return c.rest.GetAccounts(ctx)
}

// GetPortfolio returns the holdings of one account.
func (c *Client) GetPortfolio(ctx context.Context, accountID string) (*model.Portfolio, error) {
	acct, err := c.resolveAccount(accountID)
	if err != nil {
		return nil, err
	}
	return c.rest.GetPortfolio(ctx, acct)
}

// GetQuotes returns current quotes for a batch of instruments.
func (c *Client) GetQuotes(ctx context.Context, accountID string, instruments []model.Instrument) ([]model.Quote, error) {
	acct, err := c.resolveAccount(accountID)
	if err != nil {
		return nil, err
	}
	norm := make([]model.Instrument, len(instruments))
	for i, in := range instruments {
		norm[i] = in.Normalized()
	}
	return c.rest.GetQuotes(ctx, acct, norm)
}

// GetQuote returns the current quote for a single instrument.
func (c *Client) GetQuote(ctx context.Context, accountID string, instrument model.Instrument) (*model.Quote, error) {
	quotes, err := c.GetQuotes(ctx, accountID, []model.Instrument{instrument})
	if err != nil {
		return nil, err
	}
	want := instrument.Normalized()
	for i := range quotes {
		if quotes[i].Instrument.Normalized() == want {
			return &quotes[i], nil
		}
	}
	return nil, errors.New("public: no quote returned for " + want.Symbol)
}

// GetHistory returns one page of account history.
func (c *Client) GetHistory(ctx context.Context, accountID string, req *model.HistoryRequest) (*model.HistoryPage, error) {
	acct, err := c.resolveAccount(accountID)
	if err != nil {
		return nil, err
	}
	return c.rest.GetHistory(ctx, acct, req)
}

// GetInstrument returns reference data for one instrument.
func (c *Client) GetInstrument(ctx context.Context, instrument model.Instrument) (*model.InstrumentDetails, error) {
	return c.rest.GetInstrument(ctx, instrument)
}

// GetAllInstruments pages through the instrument master.
func (c *Client) GetAllInstruments(ctx context.Context, typeFilter model.InstrumentType, pageToken string) (*model.InstrumentsResponse, error) {
	return c.rest.GetAllInstruments(ctx, typeFilter, pageToken)
}

// GetOptionExpirations lists option expiration dates for an underlying.
func (c *Client) GetOptionExpirations(ctx context.Context, accountID, symbol string) (*model.OptionExpirationsResponse, error) {
	acct, err := c.resolveAccount(accountID)
	if err != nil {
		return nil, err
	}
	return c.rest.GetOptionExpirations(ctx, acct, symbol)
}

// GetOptionChain returns the chain for one underlying and expiration.
func (c *Client) GetOptionChain(ctx context.Context, accountID, symbol, expiration string) (*model.OptionChainResponse, error) {
	acct, err := c.resolveAccount(accountID)
	if err != nil {
		return nil, err
	}
	return c.rest.GetOptionChain(ctx, acct, symbol, expiration)
}

// GetOptionGreeks returns greeks for a batch of option contracts.
func (c *Client) GetOptionGreeks(ctx context.Context, accountID string, instruments []model.Instrument) (*model.OptionGreeksResponse, error) {
	acct, err := c.resolveAccount(accountID)
	if err != nil {
		return nil, err
	}
	return c.rest.GetOptionGreeks(ctx, acct, instruments)
}

// ─── Trading ─────────────────────────────────────────────────────────────────

// PerformPreflightCalculation estimates cost and commissions before placing
// an order.
func (c *Client) PerformPreflightCalculation(ctx context.Context, accountID string, req *model.PreflightRequest) (*model.PreflightResponse, error) {
	acct, err := c.resolveAccount(accountID)
	if err != nil {
		return nil, err
	}
	return c.rest.PerformPreflightCalculation(ctx, acct, req)
}

// PlaceOrder submits a single-leg order and returns a handle for tracking it.
// A missing OrderID gets a fresh UUID as the idempotency key.
func (c *Client) PlaceOrder(ctx context.Context, accountID string, req *model.OrderRequest) (*OrderHandle, error) {
	acct, err := c.resolveAccount(accountID)
	if err != nil {
		return nil, err
	}
	if req.OrderID == "" {
		req.OrderID = uuid.NewString()
	}
	resp, err := c.rest.PlaceOrder(ctx, acct, req)
	if err != nil {
		return nil, err
	}
	c.logger.Info("client.order_placed",
		zap.String("order_id", resp.OrderID),
		zap.String("account_id", acct),
		zap.String("symbol", req.Instrument.Symbol))
	return newOrderHandle(c, acct, resp.OrderID), nil
}

// PlaceMultilegOrder submits a multi-leg options order and returns a handle.
func (c *Client) PlaceMultilegOrder(ctx context.Context, accountID string, req *model.MultilegOrderRequest) (*OrderHandle, error) {
	acct, err := c.resolveAccount(accountID)
	if err != nil {
		return nil, err
	}
	if req.OrderID == "" {
		req.OrderID = uuid.NewString()
	}
	resp, err := c.rest.PlaceMultilegOrder(ctx, acct, req)
	if err != nil {
		return nil, err
	}
	return newOrderHandle(c, acct, resp.OrderID), nil
}

// GetOrder returns the current upstream state of an order.
func (c *Client) GetOrder(ctx context.Context, accountID, orderID string) (*model.Order, error) {
	acct, err := c.resolveAccount(accountID)
	if err != nil {
		return nil, err
	}
	return c.rest.GetOrder(ctx, acct, orderID)
}

// CancelOrder requests cancellation of a working order.
func (c *Client) CancelOrder(ctx context.Context, accountID, orderID string) error {
	acct, err := c.resolveAccount(accountID)
	if err != nil {
		return err
	}
	return c.rest.CancelOrder(ctx, acct, orderID)
}

// Order returns a handle for an already-placed order.
func (c *Client) Order(accountID, orderID string) (*OrderHandle, error) {
	acct, err := c.resolveAccount(accountID)
	if err != nil {
		return nil, err
	}
	return newOrderHandle(c, acct, orderID), nil
}

// ─── Price subscriptions ─────────────────────────────────────────────────────

// SubscribePrices registers a callback for price changes on the given
// instruments and returns the subscription id.
func (c *Client) SubscribePrices(instruments []model.Instrument, cb PriceCallback, cfg *SubscriptionConfig) (string, error) {
	if c.pub != nil {
		cb = cb.Tap(c.forwardPriceChange)
	}
	return c.priceManager().Subscribe(instruments, cb, cfg)
}

// UnsubscribePrices removes a price subscription.
func (c *Client) UnsubscribePrices(id string) bool {
	return c.priceManager().Unsubscribe(id)
}

// UnsubscribeAllPrices removes every price subscription.
func (c *Client) UnsubscribeAllPrices() {
	c.priceManager().UnsubscribeAll()
}

// PausePriceSubscription suspends delivery and polling for a subscription.
func (c *Client) PausePriceSubscription(id string) bool {
	return c.priceManager().Pause(id)
}

// ResumePriceSubscription reactivates a paused subscription.
func (c *Client) ResumePriceSubscription(id string) bool {
	return c.priceManager().Resume(id)
}

// SetPricePollingFrequency updates the polling frequency of a subscription.
func (c *Client) SetPricePollingFrequency(id string, seconds float64) (bool, error) {
	return c.priceManager().SetPollingFrequency(id, seconds)
}

// ActivePriceSubscriptions returns the ids of all active price subscriptions.
func (c *Client) ActivePriceSubscriptions() []string {
	return c.priceManager().GetActiveSubscriptions()
}

// PriceSubscriptionInfo returns a snapshot of one price subscription.
func (c *Client) PriceSubscriptionInfo(id string) (PriceSubscriptionInfo, bool) {
	return c.priceManager().GetSubscriptionInfo(id)
}

// ─── Order subscriptions ─────────────────────────────────────────────────────

// SubscribeOrderUpdates registers a callback for status updates of one order.
func (c *Client) SubscribeOrderUpdates(accountID, orderID string, cb OrderCallback, cfg *SubscriptionConfig) (string, error) {
	acct, err := c.resolveAccount(accountID)
	if err != nil {
		return "", err
	}
	return c.orderManager().Subscribe(OrderKey{AccountID: acct, OrderID: orderID}, c.tapOrder(cb), cfg)
}

// UnsubscribeOrderUpdates removes an order subscription.
func (c *Client) UnsubscribeOrderUpdates(id string) bool {
	return c.orderManager().Unsubscribe(id)
}

// ActiveOrderSubscriptions returns the ids of all active order subscriptions.
func (c *Client) ActiveOrderSubscriptions() []string {
	return c.orderManager().GetActiveSubscriptions()
}

// OrderSubscriptionInfo returns a snapshot of one order subscription.
func (c *Client) OrderSubscriptionInfo(id string) (OrderSubscriptionInfo, bool) {
	return c.orderManager().GetSubscriptionInfo(id)
}

// ─── Internal wiring ─────────────────────────────────────────────────────────

func (c *Client) managerOptions() subscription.Options {
	return subscription.Options{
		Workers:     c.cfg.DispatchWorkers,
		QueueSize:   c.cfg.DispatchQueueSize,
		AuthRefresh: c.rest.ForceAuthRefresh,
	}
}

func (c *Client) priceManager() *subscription.PriceManager {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.prices == nil {
		c.prices = subscription.NewPriceManager(c.logger, quoteFetcher{c}, c.managerOptions())
	}
	return c.prices
}

func (c *Client) orderManager() *subscription.OrderManager {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.orders == nil {
		c.orders = subscription.NewOrderManager(c.logger, orderFetcher{c}, c.managerOptions())
	}
	return c.orders
}

// tapOrder attaches event forwarding and terminal-order journaling to an
// order callback when either facility is configured.
func (c *Client) tapOrder(cb OrderCallback) OrderCallback {
	if c.pub == nil && c.jrnl == nil {
		return cb
	}
	return cb.Tap(c.forwardOrderUpdate)
}

func (c *Client) forwardPriceChange(ev PriceChange) {
	if ev.Err != nil {
		return
	}
	_ = c.pub.PublishQuoteChanged(model.QuoteChangedEvent{
		SubscriptionID: ev.SubscriptionID,
		Instrument:     ev.Instrument,
		OldQuote:       ev.OldQuote,
		NewQuote:       ev.NewQuote,
		Timestamp:      ev.At,
	})
}

func (c *Client) forwardOrderUpdate(ev OrderUpdate) {
	if ev.Err != nil || ev.Order == nil {
		return
	}
	if c.pub != nil {
		_ = c.pub.PublishOrderStatusChanged(model.OrderStatusChangedEvent{
			SubscriptionID: ev.SubscriptionID,
			OrderID:        ev.OrderID,
			AccountID:      ev.Order.AccountID,
			OldStatus:      ev.OldStatus,
			NewStatus:      ev.NewStatus,
			Timestamp:      ev.At,
		})
	}
	if c.jrnl != nil && ev.NewStatus.IsTerminal() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = c.jrnl.RecordTerminal(ctx, ev.Order)
	}
}

// quoteFetcher adapts the REST client to the price manager's fetch shape.
type quoteFetcher struct{ c *Client }

func (f quoteFetcher) FetchQuotes(ctx context.Context, instruments []model.Instrument) ([]model.Quote, error) {
	acct, err := f.c.resolveAccount("")
	if err != nil {
		return nil, err
	}
	return f.c.rest.GetQuotes(ctx, acct, instruments)
}

// orderFetcher adapts the REST client to the order manager's fetch shape.
type orderFetcher struct{ c *Client }

func (f orderFetcher) FetchOrder(ctx context.Context, accountID, orderID string) (*model.Order, error) {
	acct, err := f.c.resolveAccount(accountID)
	if err != nil {
		return nil, err
	}
	return f.c.rest.GetOrder(ctx, acct, orderID)
}
