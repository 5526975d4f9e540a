package publisher

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
	"go.uber.org/zap"

	"github.com/Checker-Finance/public-sdk/internal/metrics"
	"github.com/Checker-Finance/public-sdk/pkg/model"
)

const (
	subjectQuoteChanged       = "evt.quote.changed.v1"
	subjectOrderStatusChanged = "evt.order.status_changed.v1"
)

// Publisher forwards subscription events to NATS so downstream consumers can
// react to price and order changes without holding their own subscriptions.
// It is optional; the SDK works without a bus.
type Publisher struct {
	logger  *zap.Logger
	nc      *nats.Conn
	js      nats.JetStreamContext
	prefix  string
	service string
}

// New creates a Publisher over an established NATS connection. JetStream is
// used for at-least-once delivery.
func New(logger *zap.Logger, nc *nats.Conn, prefix, service string) (*Publisher, error) {
	js, err := nc.JetStream()
	if err != nil {
		return nil, err
	}
	return &Publisher{
		logger:  logger,
		nc:      nc,
		js:      js,
		prefix:  prefix,
		service: service,
	}, nil
}

// Connect dials NATS and wraps the connection in a Publisher.
func Connect(logger *zap.Logger, url, prefix, service string) (*Publisher, error) {
	nc, err := nats.Connect(url,
		nats.Name(service),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second))
	if err != nil {
		return nil, err
	}
	return New(logger, nc, prefix, service)
}

// PublishQuoteChanged emits one quote change event.
func (p *Publisher) PublishQuoteChanged(ev model.QuoteChangedEvent) error {
	return p.publish(subjectQuoteChanged, "quote.changed", ev)
}

// PublishOrderStatusChanged emits one order status transition event.
func (p *Publisher) PublishOrderStatusChanged(ev model.OrderStatusChangedEvent) error {
	return p.publish(subjectOrderStatusChanged, "order.status_changed", ev)
}

func (p *Publisher) publish(subject, eventType string, payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		p.logger.Error("publisher.marshal_failed",
			zap.String("subject", subject),
			zap.Error(err))
		metrics.IncEventPublish(subject, "marshal_failed")
		return err
	}

	env := model.Envelope{
		ID:            uuid.New(),
		CorrelationID: uuid.New(),
		Topic:         p.prefix + "." + subject,
		EventType:     eventType,
		Version:       "1.0.0",
		Timestamp:     time.Now().UTC(),
		Payload:       data,
	}
	envData, err := json.Marshal(env)
	if err != nil {
		metrics.IncEventPublish(subject, "marshal_failed")
		return err
	}

	msg := &nats.Msg{
		Subject: subject,
		Data:    envData,
		Header: nats.Header{
			"event_type":     []string{eventType},
			"correlation_id": []string{env.CorrelationID.String()},
			"service":        []string{p.service},
			"content_type":   []string{"application/json"},
		},
	}

	if _, err := p.js.PublishMsg(msg); err != nil {
		p.logger.Error("publisher.publish_failed",
			zap.String("subject", subject),
			zap.String("event_type", eventType),
			zap.Error(err))
		metrics.IncEventPublish(subject, "error")
		return err
	}

	metrics.IncEventPublish(subject, "ok")
	return nil
}

// Close drains and closes the NATS connection.
func (p *Publisher) Close() {
	if p.nc != nil && p.nc.IsConnected() {
		p.nc.Close()
	}
}
