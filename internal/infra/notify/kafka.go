package notify

import (
	"context"
	"encoding/json"

	"storefront/internal/domain/notification"
	"storefront/internal/pkg/config"
	"storefront/internal/pkg/errs"

	"github.com/segmentio/kafka-go"
)

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaSender publishes events keyed by order so one order's events stay in
// partition order.
type KafkaSender struct {
	writer messageWriter
}

func NewKafkaSender(cfg config.NotifyConfig) *KafkaSender {
	return newKafkaSender(&kafka.Writer{
		Addr:                   kafka.TCP(cfg.KafkaBrokers...),
		Topic:                  cfg.KafkaTopic,
		Balancer:               &kafka.Hash{},
		RequiredAcks:           kafka.RequireAll,
		AllowAutoTopicCreation: true,
	})
}

func newKafkaSender(w messageWriter) *KafkaSender {
	return &KafkaSender{writer: w}
}

func (s *KafkaSender) Send(ctx context.Context, ev notification.Event) error {
	body, err := json.Marshal(ev)
	if err != nil {
		return errs.Wrap(err, "failed to encode notification")
	}
	msg := kafka.Message{
		Key:   []byte(ev.OrderID.String()),
		Value: body,
		Time:  ev.OccurredAt,
		Headers: []kafka.Header{
			{Key: "event_type", Value: []byte(ev.Kind)},
			{Key: "event_id", Value: []byte(ev.ID.String())},
		},
	}
	if err := s.writer.WriteMessages(ctx, msg); err != nil {
		return errs.Wrap(err, "failed to publish notification to kafka")
	}
	return nil
}

func (s *KafkaSender) Close() error {
	return s.writer.Close()
}
