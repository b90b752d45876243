package notify

import (
	"context"
	"log/slog"

	"storefront/internal/domain/notification"
)

// LogSender writes events to the application log. Used when no broker is
// configured.
type LogSender struct{}

func NewLogSender() *LogSender {
	return &LogSender{}
}

func (s *LogSender) Send(ctx context.Context, ev notification.Event) error {
	slog.InfoContext(ctx, "notification",
		slog.String("event_id", ev.ID.String()),
		slog.String("kind", string(ev.Kind)),
		slog.String("order_id", ev.OrderID.String()),
		slog.String("owner", ev.Owner),
		slog.String("payload", string(ev.Payload)))
	return nil
}

func (s *LogSender) Close() error {
	return nil
}
