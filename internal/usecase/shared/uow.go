package shared

import (
	"context"
	"time"

	"storefront/internal/domain/checkout"
	"storefront/internal/domain/discount"
	"storefront/internal/domain/notification"
	"storefront/internal/domain/order"
	"storefront/internal/domain/payment"
	"storefront/internal/domain/stock"

	"github.com/google/uuid"
)

//go:generate mockgen -source=uow.go -destination=../../../tests/mock/shared/uow_mock.go -package=sharedmock

type UnitOfWork interface {
	// Within: Full transaction for write operations with retry logic
	Within(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error
	// CommandReads: Direct access to command reads for validation outside transactions
	CommandReads() CommandReads
}

type Tx interface {
	Stock() StockLedger
	Discounts() DiscountRepository
	Attempts() AttemptRepository
	Orders() OrderRepository
	Outbox() OutboxRepository
	Reconciliation() ReconciliationRepository
	Reads() CommandReads
}

type CommandReads interface {
	ProductsByIDs(ctx context.Context, ids []uuid.UUID) (map[uuid.UUID]ProductSnapshot, error)
	DiscountByCode(ctx context.Context, code discount.Code) (*discount.DiscountCode, error)
	AttemptByKey(ctx context.Context, key string) (*checkout.Attempt, error)
	AttemptByIntent(ctx context.Context, intentID uuid.UUID) (*checkout.Attempt, error)
	ReservationByID(ctx context.Context, id uuid.UUID) (*stock.Reservation, error)
}

// StockLedger is the only writer of product stock.
type StockLedger interface {
	// Reserve decrements every line or none and returns *stock.InsufficientStockError on shortage.
	Reserve(ctx context.Context, req stock.ReserveRequest) (*stock.Reservation, error)
	Commit(ctx context.Context, reservationID, orderID uuid.UUID) error
	// Release is idempotent; it reports whether stock was credited back.
	Release(ctx context.Context, reservationID uuid.UUID) (bool, error)
	ReturnOrderStock(ctx context.Context, orderID uuid.UUID) (bool, error)
	Expired(ctx context.Context, before time.Time, limit int) ([]stock.Reservation, error)
}

type DiscountRepository interface {
	// LockForHold row-locks the code and counts uses held by active reservations.
	LockForHold(ctx context.Context, code discount.Code) (*discount.DiscountCode, error)
	// IncrementUsage only succeeds while current_uses is below the cap.
	IncrementUsage(ctx context.Context, id uuid.UUID) (bool, error)
}

type AttemptRepository interface {
	Insert(ctx context.Context, a *checkout.Attempt) (bool, error)
	LockByKey(ctx context.Context, key string) (*checkout.Attempt, error)
	// Update writes a only if the stored row is still at generation a.Generation in state from.
	Update(ctx context.Context, a *checkout.Attempt, from checkout.State) (bool, error)
	// Rearm starts a new generation for a failed or expired attempt.
	Rearm(ctx context.Context, a *checkout.Attempt) error
}

type OrderRepository interface {
	Create(ctx context.Context, o *order.Order) error
	IDByProviderRef(ctx context.Context, provider payment.Provider, ref string) (uuid.UUID, error)
	LockByID(ctx context.Context, id uuid.UUID) (*order.Order, error)
	// UpdateStatus moves status from the expected value and appends the history entry.
	UpdateStatus(ctx context.Context, o *order.Order, from order.Status, entry order.HistoryEntry) (bool, error)
}

type OutboxRepository interface {
	Enqueue(ctx context.Context, ev notification.Event) error
}

type ReconciliationRepository interface {
	Open(ctx context.Context, c ReconciliationCase) (uuid.UUID, error)
}

// NotificationSender delivers events to the messaging transport.
type NotificationSender interface {
	Send(ctx context.Context, ev notification.Event) error
	Close() error
}

// NotificationRelay is nudged after commit so queued events go out promptly.
type NotificationRelay interface {
	Wake()
}
