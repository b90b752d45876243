package notify

import (
	"context"
	"encoding/json"
	"sync"

	"storefront/internal/domain/notification"
	"storefront/internal/pkg/config"
	"storefront/internal/pkg/errs"

	amqp "github.com/rabbitmq/amqp091-go"
)

type amqpPublisher interface {
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
	Close() error
}

// AMQPSender publishes events to a topic exchange routed by event kind.
type AMQPSender struct {
	mu       sync.Mutex
	conn     *amqp.Connection
	channel  amqpPublisher
	exchange string
}

func NewAMQPSender(cfg config.NotifyConfig) (*AMQPSender, error) {
	conn, err := amqp.Dial(cfg.AMQPURL)
	if err != nil {
		return nil, errs.Wrap(err, "failed to connect to rabbitmq")
	}
	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, errs.Wrap(err, "failed to open rabbitmq channel")
	}
	if err := ch.ExchangeDeclare(
		cfg.AMQPExchange,
		"topic",
		true,  // durable
		false, // auto-delete
		false, // internal
		false, // no-wait
		nil,
	); err != nil {
		_ = ch.Close()
		_ = conn.Close()
		return nil, errs.Wrap(err, "failed to declare notification exchange")
	}
	s := newAMQPSender(ch, cfg.AMQPExchange)
	s.conn = conn
	return s, nil
}

func newAMQPSender(ch amqpPublisher, exchange string) *AMQPSender {
	return &AMQPSender{channel: ch, exchange: exchange}
}

func (s *AMQPSender) Send(ctx context.Context, ev notification.Event) error {
	body, err := json.Marshal(ev)
	if err != nil {
		return errs.Wrap(err, "failed to encode notification")
	}
	msg := amqp.Publishing{
		DeliveryMode: amqp.Persistent,
		ContentType:  "application/json",
		MessageId:    ev.ID.String(),
		Timestamp:    ev.OccurredAt,
		Type:         string(ev.Kind),
		Body:         body,
		Headers:      amqp.Table{"order_id": ev.OrderID.String()},
	}

	// Channels are not safe for concurrent publishing.
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.channel.PublishWithContext(ctx, s.exchange, routingKey(ev.Kind), false, false, msg); err != nil {
		return errs.Wrap(err, "failed to publish notification to rabbitmq")
	}
	return nil
}

func routingKey(kind notification.Kind) string {
	switch kind {
	case notification.KindOrderConfirmed:
		return "order.confirmed"
	case notification.KindStatusChanged:
		return "order.status_changed"
	default:
		return "order.other"
	}
}

func (s *AMQPSender) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	err := s.channel.Close()
	if s.conn != nil {
		if cerr := s.conn.Close(); err == nil {
			err = cerr
		}
	}
	return err
}
