package rabbitmq

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"conditional-ledger/internal/core/domain"
	"conditional-ledger/internal/core/ports"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/rs/zerolog"
)

const (
	exchangeKind = "topic"
	dialTimeout  = 10 * time.Second
)

// Channel is the part of *amqp.Channel the publisher needs.
type Channel interface {
	ExchangeDeclare(name, kind string, durable, autoDelete, internal, noWait bool, args amqp.Table) error
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
	Close() error
}

// message is the wire envelope for a committed transfer event.
type message struct {
	ID          string              `json:"id"`
	AggregateID string              `json:"aggregate_id"`
	Version     int64               `json:"version"`
	Position    int64               `json:"position"`
	Type        domain.EventType    `json:"type"`
	Payload     domain.EventPayload `json:"payload"`
	OccurredAt  time.Time           `json:"occurred_at"`
}

// Publisher publishes transfer events to a durable topic exchange, routed by event type.
type Publisher struct {
	channel  Channel
	exchange string
	log      zerolog.Logger
}

// NewPublisher declares the exchange and returns a publisher bound to it.
func NewPublisher(ch Channel, exchange string, log zerolog.Logger) (*Publisher, error) {
	if exchange == "" {
		return nil, errors.New("rabbitmq: exchange name is required")
	}
	if err := ch.ExchangeDeclare(
		exchange,     // name
		exchangeKind, // type
		true,         // durable
		false,        // autoDelete
		false,        // internal
		false,        // noWait
		nil,          // args
	); err != nil {
		return nil, fmt.Errorf("declaring exchange %s: %w", exchange, err)
	}
	return &Publisher{channel: ch, exchange: exchange, log: log}, nil
}

// Publish sends evt with its event type as the routing key.
func (p *Publisher) Publish(ctx context.Context, evt domain.Event) error {
	body, err := json.Marshal(message{
		ID:          evt.ID.String(),
		AggregateID: evt.AggregateID.String(),
		Version:     evt.Version,
		Position:    evt.Position,
		Type:        evt.Type,
		Payload:     evt.Payload,
		OccurredAt:  evt.OccurredAt,
	})
	if err != nil {
		return fmt.Errorf("marshaling event %s: %w", evt.ID, err)
	}

	err = p.channel.PublishWithContext(ctx,
		p.exchange,
		string(evt.Type),
		false, // mandatory
		false, // immediate
		amqp.Publishing{
			ContentType:  "application/json",
			DeliveryMode: amqp.Persistent,
			MessageId:    evt.ID.String(),
			Timestamp:    evt.OccurredAt,
			Body:         body,
		},
	)
	if err != nil {
		return fmt.Errorf("publishing event %s: %w", evt.ID, err)
	}

	p.log.Debug().
		Str("event_type", string(evt.Type)).
		Str("transfer_id", evt.AggregateID.String()).
		Int64("position", evt.Position).
		Msg("Event published")
	return nil
}

// Close closes the underlying channel.
func (p *Publisher) Close() error {
	return p.channel.Close()
}

// Dial opens a connection and a channel to the broker.
func Dial(url string) (*amqp.Connection, *amqp.Channel, error) {
	conn, err := amqp.DialConfig(url, amqp.Config{Dial: amqp.DefaultDial(dialTimeout)})
	if err != nil {
		return nil, nil, fmt.Errorf("dialing rabbitmq: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, nil, fmt.Errorf("opening rabbitmq channel: %w", err)
	}
	return conn, ch, nil
}

var _ ports.EventPublisher = (*Publisher)(nil)
