package components

import (
	"storefront/internal/infra/db"
	"storefront/internal/infra/notify"
	infrapayment "storefront/internal/infra/payment"
	"storefront/internal/infra/readstore"
	"storefront/internal/infra/repository"
	"storefront/internal/infra/uow"
	"storefront/internal/usecase/queries"

	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/fx"
)

var PersistenceModule = fx.Module("persistence",
	baseOption,
	readstoreModule,
	repositoryModule,
)

var baseOption = fx.Provide(
	NewDBTX,
)

var readstoreModule = fx.Module("persistence/readstore",
	fx.Provide(
		fx.Annotate(
			readstore.NewOrderReadStore,
			fx.As(new(queries.OrderReadStore)),
		),
	),
)

// Payment intents and the outbox are written outside checkout transactions,
// so their repositories sit on the pool rather than behind the UnitOfWork.
var repositoryModule = fx.Module("persistence/repository",
	fx.Provide(
		uow.NewPostgresUoW,
		fx.Annotate(
			repository.NewPaymentIntentRepository,
			fx.As(new(infrapayment.IntentStore)),
		),
		fx.Annotate(
			repository.NewNotificationRepository,
			fx.As(new(notify.OutboxStore)),
		),
	),
)

func NewDBTX(pool *pgxpool.Pool) db.DBTX {
	return pool
}
