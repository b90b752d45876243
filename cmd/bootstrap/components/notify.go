package components

import (
	"context"
	"log/slog"

	"storefront/internal/infra/notify"
	"storefront/internal/pkg/config"
	"storefront/internal/usecase/shared"

	"go.uber.org/fx"
)

var NotifyModule = fx.Module("notify",
	fx.Provide(
		NewNotificationSender,
		fx.Annotate(
			notify.NewRelay,
			fx.As(fx.Self()),
			fx.As(new(shared.NotificationRelay)),
		),
	),
	fx.Invoke(startRelay),
)

func NewNotificationSender(lc fx.Lifecycle, cfg config.NotifyConfig) (shared.NotificationSender, error) {
	sender, err := notify.NewSender(cfg)
	if err != nil {
		return nil, err
	}
	lc.Append(fx.Hook{
		OnStop: func(_ context.Context) error {
			return sender.Close()
		},
	})
	slog.Info("notification sender initialized", slog.String("transport", cfg.Transport))
	return sender, nil
}

func startRelay(lc fx.Lifecycle, relay *notify.Relay) {
	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			relay.Start(ctx)
			return nil
		},
		OnStop: func(_ context.Context) error {
			relay.Stop()
			return nil
		},
	})
}
