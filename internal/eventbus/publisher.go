// Package eventbus forwards decrypted callback events to RabbitMQ.
package eventbus

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/shawn/wecom-gateway/internal/callback"
)

// Channel is the subset of *amqp.Channel the publisher uses.
type Channel interface {
	PublishWithDeferredConfirmWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) (*amqp.DeferredConfirmation, error)
}

// Message is the JSON body published for every event.
type Message struct {
	ID         string            `json:"id"`
	TenantID   string            `json:"tenant_id"`
	Kind       string            `json:"kind"`
	MsgType    string            `json:"msg_type"`
	Event      string            `json:"event,omitempty"`
	ChangeType string            `json:"change_type,omitempty"`
	Fields     map[string]string `json:"fields"`
	ReceivedAt time.Time         `json:"received_at"`
}

// Publisher implements callback.Handler.
type Publisher struct {
	ch       Channel
	exchange string
	now      func() time.Time
}

func NewPublisher(ch Channel, exchange string) *Publisher {
	return &Publisher{ch: ch, exchange: exchange, now: time.Now}
}

// RoutingKey is wecom.<tenant>.<kind>. Tenant IDs are restricted to
// [A-Za-z0-9_-] at registration, so they occupy exactly one word.
func RoutingKey(tenantID string, k callback.Kind) string {
	return "wecom." + tenantID + "." + k.String()
}

func (p *Publisher) HandleEvent(ctx context.Context, tenantID string, ev *callback.Event) error {
	msg := Message{
		ID:         uuid.NewString(),
		TenantID:   tenantID,
		Kind:       ev.Kind.String(),
		MsgType:    ev.MsgType,
		Event:      ev.Event,
		ChangeType: ev.ChangeType,
		Fields:     ev.Fields,
		ReceivedAt: p.now().UTC(),
	}
	body, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("encode event: %w", err)
	}

	dc, err := p.ch.PublishWithDeferredConfirmWithContext(ctx, p.exchange, RoutingKey(tenantID, ev.Kind), false, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		MessageId:    msg.ID,
		Timestamp:    msg.ReceivedAt,
		Type:         msg.Kind,
		Body:         body,
	})
	if err != nil {
		return fmt.Errorf("publish event: %w", err)
	}
	// nil when the channel is not in confirm mode
	if dc == nil {
		return nil
	}
	acked, err := dc.WaitContext(ctx)
	if err != nil {
		return fmt.Errorf("wait for confirm: %w", err)
	}
	if !acked {
		return errors.New("event nacked by broker")
	}
	return nil
}

// Dial connects, declares a durable topic exchange and enables confirms.
// The returned func closes the connection.
func Dial(url, exchange string) (*Publisher, func() error, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, nil, fmt.Errorf("amqp dial: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, nil, fmt.Errorf("amqp channel: %w", err)
	}
	if err := ch.ExchangeDeclare(exchange, amqp.ExchangeTopic, true, false, false, false, nil); err != nil {
		conn.Close()
		return nil, nil, fmt.Errorf("declare exchange %s: %w", exchange, err)
	}
	if err := ch.Confirm(false); err != nil {
		conn.Close()
		return nil, nil, fmt.Errorf("enable confirms: %w", err)
	}
	return NewPublisher(ch, exchange), conn.Close, nil
}
