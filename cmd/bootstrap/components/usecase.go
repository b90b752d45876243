package components

import (
	"storefront/internal/domain/payment"
	"storefront/internal/domain/pricing"
	"storefront/internal/pkg/clock"
	"storefront/internal/pkg/config"
	"storefront/internal/usecase"
	"storefront/internal/usecase/commands"
	"storefront/internal/usecase/queries"
	"storefront/internal/usecase/shared"

	"go.uber.org/fx"
)

var UseCaseModule = fx.Module("usecase",
	usecaseBaseOption,
	usecaseQueriesModule,
	usecaseValidatorsModule,
	usecaseCommandsModule,
)

var usecaseBaseOption = fx.Provide(
	clock.NewRealClock,
	NewPricingEngine,
)

var usecaseCommandsModule = fx.Module("usecase/commands",
	fx.Provide(
		commands.NewCheckoutUseCase,
		commands.NewOrderStatusUseCase,
		NewPaymentEventCommands,
	),
)

var usecaseQueriesModule = fx.Module("usecase/queries",
	fx.Provide(
		queries.NewOrderQueries,
	),
)

var usecaseValidatorsModule = fx.Module("usecase/validators",
	fx.Provide(
		usecase.NewTokenValidator,
	),
)

func NewPricingEngine(cfg config.CheckoutConfig) (*pricing.Engine, error) {
	return pricing.NewEngine(pricing.Policy{
		FreeShippingThreshold: cfg.FreeShippingThreshold,
		DeliveryFee:           cfg.DeliveryFee,
	})
}

func NewPaymentEventCommands(
	uow shared.UnitOfWork,
	payments payment.Registry,
	checkout commands.CheckoutCommands,
	cfg config.PaymentConfig,
) commands.PaymentEventCommands {
	return commands.NewPaymentEventUseCase(uow, payments, checkout, cfg.WebhookSecret)
}
