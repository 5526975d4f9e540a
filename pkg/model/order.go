package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// OrderStatus is the lifecycle state of an order as reported by the upstream.
type OrderStatus string

const (
	OrderNew             OrderStatus = "NEW"
	OrderPending         OrderStatus = "PENDING"
	OrderPartiallyFilled OrderStatus = "PARTIALLY_FILLED"
	OrderFilled          OrderStatus = "FILLED"
	OrderCancelled       OrderStatus = "CANCELLED"
	OrderRejected        OrderStatus = "REJECTED"
	OrderExpired         OrderStatus = "EXPIRED"
)

// IsTerminal reports whether no further transitions can occur from s.
func (s OrderStatus) IsTerminal() bool {
	switch s {
	case OrderFilled, OrderCancelled, OrderRejected, OrderExpired:
		return true
	}
	return false
}

// OrderSide is the direction of an order.
type OrderSide string

const (
	SideBuy  OrderSide = "BUY"
	SideSell OrderSide = "SELL"
)

// OrderType selects the execution style of an order.
type OrderType string

const (
	TypeMarket    OrderType = "MARKET"
	TypeLimit     OrderType = "LIMIT"
	TypeStop      OrderType = "STOP"
	TypeStopLimit OrderType = "STOP_LIMIT"
)

// TimeInForce controls how long an order remains working.
type TimeInForce string

const (
	TIFDay TimeInForce = "DAY"
	TIFGTC TimeInForce = "GTC"
	TIFIOC TimeInForce = "IOC"
	TIFFOK TimeInForce = "FOK"
)

// OrderFill is one execution against an order.
type OrderFill struct {
	Quantity  decimal.Decimal `json:"quantity"`
	Price     decimal.Decimal `json:"price"`
	Timestamp time.Time       `json:"timestamp"`
}

// Order is the upstream's view of an order. It is the observation the order
// subscription manager diffs between polls.
type Order struct {
	OrderID        string           `json:"orderId"`
	AccountID      string           `json:"accountId,omitempty"`
	Instrument     Instrument       `json:"instrument"`
	Type           OrderType        `json:"type"`
	Side           OrderSide        `json:"side"`
	Status         OrderStatus      `json:"status"`
	Quantity       decimal.Decimal  `json:"quantity"`
	FilledQuantity decimal.Decimal  `json:"filledQuantity"`
	LimitPrice     *decimal.Decimal `json:"limitPrice,omitempty"`
	StopPrice      *decimal.Decimal `json:"stopPrice,omitempty"`
	AveragePrice   *decimal.Decimal `json:"averagePrice,omitempty"`
	Fills          []OrderFill      `json:"fills,omitempty"`
	RejectReason   string           `json:"rejectReason,omitempty"`
	TimeInForce    TimeInForce      `json:"timeInForce,omitempty"`
	CreatedAt      time.Time        `json:"createdAt"`
	UpdatedAt      time.Time        `json:"updatedAt"`
}

// SameObservation reports whether two polls of the same order are
// indistinguishable for change detection: same status, same filled quantity,
// same average price.
func (o Order) SameObservation(other Order) bool {
	return o.Status == other.Status &&
		o.FilledQuantity.Equal(other.FilledQuantity) &&
		decEqual(o.AveragePrice, other.AveragePrice)
}
