package components

import (
	"storefront/internal/domain/payment"
	infrapayment "storefront/internal/infra/payment"
	"storefront/internal/pkg/clock"
	"storefront/internal/pkg/config"
	"storefront/internal/pkg/errs"

	"go.uber.org/fx"
)

const paymentModeSandbox = "sandbox"

var PaymentModule = fx.Module("payment",
	fx.Provide(
		fx.Annotate(
			NewPaymentRegistry,
			fx.As(new(payment.Registry)),
		),
	),
)

// NewPaymentRegistry registers one adapter per provider. Only the sandbox
// provider APIs ship with the service.
func NewPaymentRegistry(cfg config.PaymentConfig, store infrapayment.IntentStore, clk clock.Clock) (*infrapayment.Registry, error) {
	if cfg.Mode != paymentModeSandbox {
		return nil, errs.Newf("unsupported payment mode %q", cfg.Mode)
	}
	sandbox := infrapayment.NewSandbox()
	settings := infrapayment.SettingsFromConfig(cfg)
	return infrapayment.NewRegistry(store,
		infrapayment.NewPayPalGateway(sandbox, store, clk, settings),
		infrapayment.NewCardGateway(sandbox, store, clk, settings),
		infrapayment.NewWalletGateway(sandbox, store, clk, settings),
	), nil
}
