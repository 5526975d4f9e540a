package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// OrderExpiration describes how long a submitted order stays working.
type OrderExpiration struct {
	TimeInForce    TimeInForce `json:"timeInForce"`
	ExpirationDate *time.Time  `json:"expirationDate,omitempty"`
}

// OrderRequest is the payload for placing a single-leg order. OrderID is a
// client-generated idempotency key (a fresh UUID per attempt).
type OrderRequest struct {
	OrderID    string           `json:"orderId"`
	Instrument Instrument       `json:"instrument"`
	Side       OrderSide        `json:"orderSide"`
	Type       OrderType        `json:"orderType"`
	Expiration OrderExpiration  `json:"expiration"`
	Quantity   decimal.Decimal  `json:"quantity"`
	LimitPrice *decimal.Decimal `json:"limitPrice,omitempty"`
	StopPrice  *decimal.Decimal `json:"stopPrice,omitempty"`
}

// OpenCloseIndicator marks whether an option leg opens or closes a position.
type OpenCloseIndicator string

const (
	OpenPosition  OpenCloseIndicator = "OPEN"
	ClosePosition OpenCloseIndicator = "CLOSE"
)

// OrderLeg is one leg of a multi-leg options order.
type OrderLeg struct {
	Instrument    Instrument         `json:"instrument"`
	Side          OrderSide          `json:"side"`
	RatioQuantity int                `json:"ratioQuantity"`
	OpenClose     OpenCloseIndicator `json:"openCloseIndicator,omitempty"`
}

// MultilegOrderRequest is the payload for placing a multi-leg options order.
type MultilegOrderRequest struct {
	OrderID    string           `json:"orderId"`
	Type       OrderType        `json:"orderType"`
	Expiration OrderExpiration  `json:"expiration"`
	Quantity   decimal.Decimal  `json:"quantity"`
	LimitPrice *decimal.Decimal `json:"limitPrice,omitempty"`
	Legs       []OrderLeg       `json:"legs"`
}

// PlaceOrderResponse is the upstream acknowledgement for a placed order.
type PlaceOrderResponse struct {
	OrderID string `json:"orderId"`
}

// PreflightRequest asks the upstream to price an order before placement.
type PreflightRequest struct {
	Instrument Instrument       `json:"instrument"`
	Side       OrderSide        `json:"orderSide"`
	Type       OrderType        `json:"orderType"`
	Expiration OrderExpiration  `json:"expiration"`
	Quantity   decimal.Decimal  `json:"quantity"`
	LimitPrice *decimal.Decimal `json:"limitPrice,omitempty"`
}

// PreflightResponse carries estimated cost and commissions for an order.
type PreflightResponse struct {
	EstimatedCost       *decimal.Decimal `json:"estimatedCost,omitempty"`
	EstimatedCommission *decimal.Decimal `json:"estimatedCommission,omitempty"`
	EstimatedQuantity   *decimal.Decimal `json:"estimatedQuantity,omitempty"`
	BuyingPowerEffect   *decimal.Decimal `json:"buyingPowerEffect,omitempty"`
	Warnings            []string         `json:"warnings,omitempty"`
}
