package model

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Envelope is the wire wrapper for events forwarded to the message bus.
type Envelope struct {
	ID            uuid.UUID       `json:"id"`
	CorrelationID uuid.UUID       `json:"correlation_id"`
	Topic         string          `json:"topic"`
	EventType     string          `json:"event_type"`
	Version       string          `json:"version"`
	Timestamp     time.Time       `json:"timestamp"`
	Payload       json.RawMessage `json:"payload"`
}

// QuoteChangedEvent is the payload of evt.quote.changed.v1.
type QuoteChangedEvent struct {
	SubscriptionID string     `json:"subscription_id"`
	Instrument     Instrument `json:"instrument"`
	OldQuote       *Quote     `json:"old_quote,omitempty"`
	NewQuote       *Quote     `json:"new_quote,omitempty"`
	Timestamp      time.Time  `json:"timestamp"`
}

// OrderStatusChangedEvent is the payload of evt.order.status_changed.v1.
type OrderStatusChangedEvent struct {
	SubscriptionID string       `json:"subscription_id"`
	OrderID        string       `json:"order_id"`
	AccountID      string       `json:"account_id"`
	OldStatus      *OrderStatus `json:"old_status,omitempty"`
	NewStatus      OrderStatus  `json:"new_status"`
	Timestamp      time.Time    `json:"timestamp"`
}
