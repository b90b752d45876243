package components

import (
	"storefront/internal/handler"
	"storefront/internal/handler/api"
	"storefront/internal/handler/middleware"

	"go.uber.org/fx"
)

var HandlerModule = fx.Module("handler",
	fx.Provide(
		api.NewCheckoutHandler,
		api.NewOrderHandler,
		api.NewWebhookHandler,
		middleware.NewAuthMiddleware,
		func(c *api.CheckoutHandler, o *api.OrderHandler, w *api.WebhookHandler) handler.Handlers {
			return handler.Handlers{Checkout: c, Order: o, Webhook: w}
		},
	),
	fx.Invoke(handler.NewRouter),
)
