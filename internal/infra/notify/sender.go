package notify

import (
	"storefront/internal/pkg/config"
	"storefront/internal/pkg/errs"
	"storefront/internal/usecase/shared"
)

const (
	TransportLog      = "log"
	TransportKafka    = "kafka"
	TransportRabbitMQ = "rabbitmq"
)

func NewSender(cfg config.NotifyConfig) (shared.NotificationSender, error) {
	switch cfg.Transport {
	case TransportKafka:
		return NewKafkaSender(cfg), nil
	case TransportRabbitMQ:
		return NewAMQPSender(cfg)
	case TransportLog, "":
		return NewLogSender(), nil
	default:
		return nil, errs.Newf("unknown notification transport %q", cfg.Transport)
	}
}
