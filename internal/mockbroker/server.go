package mockbroker

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/Checker-Finance/public-sdk/pkg/model"
)

// DefaultAccountID is the single simulated account.
const DefaultAccountID = "MOCK-1"

// Server is a paper-trading stand-in for the brokerage API, close enough in
// shape that the SDK can run against it unchanged during development.
type Server struct {
	logger    *zap.Logger
	store     Store
	quotes    *QuoteEngine
	lifecycle *Lifecycle

	mu     sync.Mutex
	tokens map[string]time.Time
}

// NewServer wires a mock broker over the given store.
func NewServer(logger *zap.Logger, store Store, quotes *QuoteEngine) *Server {
	return &Server{
		logger:    logger,
		store:     store,
		quotes:    quotes,
		lifecycle: NewLifecycle(logger, store, quotes),
		tokens:    make(map[string]time.Time),
	}
}

// Lifecycle exposes the transition timers so tests can shorten them.
func (s *Server) Lifecycle() *Lifecycle { return s.lifecycle }

// App builds the fiber application with all routes registered.
func (s *Server) App() *fiber.App {
	app := fiber.New(fiber.Config{DisableStartupMessage: true})

	app.Get("/metrics", adaptor.HTTPHandler(promhttp.Handler()))
	app.Get("/health", func(c *fiber.Ctx) error {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if err := s.store.HealthCheck(ctx); err != nil {
			return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{
				"status": "degraded",
				"store":  err.Error(),
			})
		}
		return c.JSON(fiber.Map{"status": "ok"})
	})

	app.Post("/personal/access-tokens", s.issueToken)

	api := app.Group("", s.requireAuth)
	api.Get("/trading/account", s.getAccounts)
	api.Get("/trading/:accountId/portfolio/v2", s.getPortfolio)
	api.Post("/marketdata/:accountId/quotes", s.getQuotes)
	api.Get("/marketdata/instruments/:symbol/:type", s.getInstrument)
	api.Get("/marketdata/:accountId/options/expirations/:symbol", s.getOptionExpirations)
	api.Get("/marketdata/:accountId/options/chain/:symbol", s.getOptionChain)
	api.Post("/trading/:accountId/preflight", s.preflight)
	api.Post("/trading/:accountId/order", s.placeOrder)
	api.Post("/trading/:accountId/order/multileg", s.placeMultilegOrder)
	api.Get("/trading/:accountId/order/:orderId", s.getOrder)
	api.Delete("/trading/:accountId/order/:orderId", s.cancelOrder)

	return app
}

// ─── Auth ────────────────────────────────────────────────────────────────────

type tokenRequest struct {
	Secret            string `json:"secret"`
	ValidityInMinutes int    `json:"validityInMinutes"`
}

func (s *Server) issueToken(c *fiber.Ctx) error {
	var req tokenRequest
	if err := c.BodyParser(&req); err != nil || req.Secret == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"message": "secret is required"})
	}
	validity := time.Duration(req.ValidityInMinutes) * time.Minute
	if validity <= 0 {
		validity = 15 * time.Minute
	}

	token := uuid.NewString()
	s.mu.Lock()
	s.tokens[token] = time.Now().Add(validity)
	s.mu.Unlock()

	s.logger.Debug("mockbroker.token_issued", zap.Duration("validity", validity))
	return c.Status(fiber.StatusCreated).JSON(fiber.Map{"accessToken": token})
}

func (s *Server) requireAuth(c *fiber.Ctx) error {
	header := c.Get("Authorization")
	token, ok := strings.CutPrefix(header, "Bearer ")
	if !ok {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"message": "missing bearer token"})
	}

	s.mu.Lock()
	expiry, known := s.tokens[token]
	s.mu.Unlock()
	if !known || time.Now().After(expiry) {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"message": "invalid or expired token"})
	}
	return c.Next()
}

// ─── Accounts and market data ────────────────────────────────────────────────

func (s *Server) getAccounts(c *fiber.Ctx) error {
	return c.JSON(model.AccountsResponse{
		Accounts: []model.Account{
			{AccountID: DefaultAccountID, AccountType: "BROKERAGE", Name: "Mock Brokerage"},
		},
	})
}

func (s *Server) getPortfolio(c *fiber.Ctx) error {
	ctx := c.Context()
	accountID := c.Params("accountId")
	orders, err := s.store.ListOrders(ctx, accountID)
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"message": err.Error()})
	}

	// Net filled quantities into positions.
	net := make(map[model.Instrument]decimal.Decimal)
	for _, o := range orders {
		qty := o.FilledQuantity
		if o.Side == model.SideSell {
			qty = qty.Neg()
		}
		net[o.Instrument.Normalized()] = net[o.Instrument.Normalized()].Add(qty)
	}

	cash := decimal.NewFromInt(100_000)
	portfolio := model.Portfolio{AccountID: accountID, Cash: &cash}
	for in, qty := range net {
		if qty.IsZero() {
			continue
		}
		q := s.quotes.Quote(in)
		var mv *decimal.Decimal
		if q.Last != nil {
			v := q.Last.Mul(qty).Round(2)
			mv = &v
		}
		portfolio.Positions = append(portfolio.Positions, model.Position{
			Instrument:  in,
			Quantity:    qty,
			MarketValue: mv,
		})
	}
	return c.JSON(portfolio)
}

type quotesRequest struct {
	Instruments []model.Instrument `json:"instruments"`
}

func (s *Server) getQuotes(c *fiber.Ctx) error {
	var req quotesRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"message": "invalid request body"})
	}
	if len(req.Instruments) == 0 {
		return c.Status(fiber.StatusUnprocessableEntity).JSON(fiber.Map{"message": "instruments must not be empty"})
	}

	quotes := make([]model.Quote, 0, len(req.Instruments))
	for _, in := range req.Instruments {
		quotes = append(quotes, s.quotes.Quote(in))
	}
	return c.JSON(fiber.Map{"quotes": quotes})
}

func (s *Server) getInstrument(c *fiber.Ctx) error {
	in := model.Instrument{
		Symbol: c.Params("symbol"),
		Type:   model.InstrumentType(c.Params("type")),
	}.Normalized()
	return c.JSON(model.InstrumentDetails{
		Instrument: in,
		Name:       in.Symbol + " (simulated)",
		Exchange:   "MOCK",
		Tradable:   true,
	})
}

func (s *Server) getOptionExpirations(c *fiber.Ctx) error {
	now := time.Now()
	expirations := make([]string, 0, 4)
	for i := 1; i <= 4; i++ {
		expirations = append(expirations, now.AddDate(0, 0, 7*i).Format("2006-01-02"))
	}
	return c.JSON(model.OptionExpirationsResponse{
		Symbol:      strings.ToUpper(c.Params("symbol")),
		Expirations: expirations,
	})
}

func (s *Server) getOptionChain(c *fiber.Ctx) error {
	symbol := strings.ToUpper(c.Params("symbol"))
	expiration := c.Query("expiration")
	underlying := s.quotes.Quote(model.Instrument{Symbol: symbol, Type: model.InstrumentEquity})

	var contracts []model.OptionContract
	if underlying.Last != nil {
		base := underlying.Last.Round(0)
		for i := -2; i <= 2; i++ {
			strike := base.Add(decimal.NewFromInt(int64(i * 5)))
			for _, cp := range []string{"CALL", "PUT"} {
				contracts = append(contracts, model.OptionContract{
					Instrument: model.Instrument{
						Symbol: symbol + expiration + cp + strike.String(),
						Type:   model.InstrumentOption,
					},
					Strike:  strike,
					CallPut: cp,
				})
			}
		}
	}
	return c.JSON(model.OptionChainResponse{
		Symbol:     symbol,
		Expiration: expiration,
		Contracts:  contracts,
	})
}

// ─── Trading ─────────────────────────────────────────────────────────────────

func (s *Server) preflight(c *fiber.Ctx) error {
	var req model.PreflightRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"message": "invalid request body"})
	}
	q := s.quotes.Quote(req.Instrument)
	resp := model.PreflightResponse{}
	if q.Last != nil {
		cost := q.Last.Mul(req.Quantity).Round(2)
		resp.EstimatedCost = &cost
		commission := decimal.Zero
		resp.EstimatedCommission = &commission
	}
	return c.JSON(resp)
}

func (s *Server) placeOrder(c *fiber.Ctx) error {
	var req model.OrderRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"message": "invalid request body"})
	}
	if req.Instrument.Normalized().Symbol == "" {
		return c.Status(fiber.StatusUnprocessableEntity).JSON(fiber.Map{"message": "instrument symbol is required"})
	}
	if !req.Quantity.IsPositive() {
		return c.Status(fiber.StatusUnprocessableEntity).JSON(fiber.Map{"message": "quantity must be positive"})
	}
	if req.Type == model.TypeLimit && req.LimitPrice == nil {
		return c.Status(fiber.StatusUnprocessableEntity).JSON(fiber.Map{"message": "limit orders require limitPrice"})
	}

	order := s.newOrder(c.Params("accountId"), req)
	ctx := c.Context()
	if existing, err := s.store.GetOrder(ctx, order.AccountID, order.OrderID); err == nil {
		// Idempotent replay of the same client order id.
		return c.JSON(model.PlaceOrderResponse{OrderID: existing.OrderID})
	}
	if err := s.store.PutOrder(ctx, order); err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"message": err.Error()})
	}
	s.lifecycle.Track(order)

	s.logger.Info("mockbroker.order_placed",
		zap.String("order_id", order.OrderID),
		zap.String("symbol", order.Instrument.Symbol),
		zap.String("side", string(order.Side)))
	return c.JSON(model.PlaceOrderResponse{OrderID: order.OrderID})
}

func (s *Server) newOrder(accountID string, req model.OrderRequest) model.Order {
	orderID := req.OrderID
	if orderID == "" {
		orderID = uuid.NewString()
	}
	now := time.Now().UTC()
	return model.Order{
		OrderID:        orderID,
		AccountID:      accountID,
		Instrument:     req.Instrument.Normalized(),
		Type:           req.Type,
		Side:           req.Side,
		Status:         model.OrderNew,
		Quantity:       req.Quantity,
		FilledQuantity: decimal.Zero,
		LimitPrice:     req.LimitPrice,
		StopPrice:      req.StopPrice,
		TimeInForce:    req.Expiration.TimeInForce,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
}

func (s *Server) placeMultilegOrder(c *fiber.Ctx) error {
	var req model.MultilegOrderRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"message": "invalid request body"})
	}
	if len(req.Legs) < 2 {
		return c.Status(fiber.StatusUnprocessableEntity).JSON(fiber.Map{"message": "multileg orders require at least two legs"})
	}

	// The simulation tracks the package as one order keyed to the first leg.
	order := s.newOrder(c.Params("accountId"), model.OrderRequest{
		OrderID:    req.OrderID,
		Instrument: req.Legs[0].Instrument,
		Side:       req.Legs[0].Side,
		Type:       req.Type,
		Expiration: req.Expiration,
		Quantity:   req.Quantity,
		LimitPrice: req.LimitPrice,
	})
	if err := s.store.PutOrder(c.Context(), order); err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"message": err.Error()})
	}
	s.lifecycle.Track(order)
	return c.JSON(model.PlaceOrderResponse{OrderID: order.OrderID})
}

func (s *Server) getOrder(c *fiber.Ctx) error {
	order, err := s.store.GetOrder(c.Context(), c.Params("accountId"), c.Params("orderId"))
	if errors.Is(err, ErrOrderNotFound) {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"message": "order not found"})
	} else if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"message": err.Error()})
	}
	return c.JSON(order)
}

func (s *Server) cancelOrder(c *fiber.Ctx) error {
	ctx := c.Context()
	accountID, orderID := c.Params("accountId"), c.Params("orderId")

	order, err := s.store.GetOrder(ctx, accountID, orderID)
	if errors.Is(err, ErrOrderNotFound) {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"message": "order not found"})
	} else if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"message": err.Error()})
	}
	if order.Status.IsTerminal() {
		return c.Status(fiber.StatusUnprocessableEntity).JSON(fiber.Map{
			"message": "order is already " + string(order.Status),
		})
	}

	order.Status = model.OrderCancelled
	order.UpdatedAt = time.Now().UTC()
	if err := s.store.PutOrder(ctx, *order); err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"message": err.Error()})
	}
	s.logger.Info("mockbroker.order_cancelled", zap.String("order_id", orderID))
	return c.SendStatus(fiber.StatusOK)
}
