package bootstrap

import (
	"storefront/cmd/bootstrap/components"

	"go.uber.org/fx"
)

var Module = fx.Options(
	ConfigModule,
	LoggerModule,
	DBModule,
	JWTModule,
	components.PersistenceModule,
	components.PaymentModule,
	components.NotifyModule,
	components.UseCaseModule,
	components.JobsModule,
	components.HandlerModule,
)
