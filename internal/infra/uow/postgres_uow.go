package uow

import (
	"context"
	"crypto/rand"
	"encoding/binary"
	"errors"
	"log/slog"
	"time"

	"storefront/internal/domain/checkout"
	"storefront/internal/domain/discount"
	"storefront/internal/domain/stock"
	"storefront/internal/infra/db"
	"storefront/internal/infra/readstore"
	"storefront/internal/infra/repository"
	"storefront/internal/pkg/errs"
	"storefront/internal/usecase/shared"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

const (
	pgErrCodeSerializationFailure = "40001"
	pgErrCodeDeadlockDetected     = "40P01"
)

var (
	errTransactionBegin   = errs.New("failed to begin transaction")
	errTransactionCommit  = errs.New("failed to commit transaction")
	errMaxRetriesExceeded = errs.New("transaction failed after max retries")
)

type PostgresUoW struct {
	pool *pgxpool.Pool
}

func NewPostgresUoW(pool *pgxpool.Pool) shared.UnitOfWork {
	return &PostgresUoW{pool: pool}
}

// ReadCommitted prevents dirty reads while allowing concurrent writes
func (u *PostgresUoW) Within(ctx context.Context, fn func(ctx context.Context, tx shared.Tx) error) error {
	return u.runInTxWithOptions(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted}, fn)
}

func (u *PostgresUoW) CommandReads() shared.CommandReads {
	return &commandReads{dbtx: u.pool}
}

// Avoids defer accumulation in retry loops to prevent connection leaks
func (u *PostgresUoW) runInTxWithOptions(ctx context.Context, options pgx.TxOptions, fn func(ctx context.Context, tx shared.Tx) error) error {
	const maxRetries = 3
	base := 100 * time.Millisecond

	for attempt := 0; attempt <= maxRetries; attempt++ {
		pgxTx, err := u.pool.BeginTx(ctx, options)
		if err != nil {
			return errs.Mark(err, errTransactionBegin)
		}

		tx := &pgTx{dbtx: pgxTx}

		err = fn(ctx, tx)
		if err == nil {
			if err = pgxTx.Commit(ctx); err == nil {
				return nil
			}
			err = errs.Mark(err, errTransactionCommit)
		}

		if rollbackErr := pgxTx.Rollback(ctx); rollbackErr != nil {
			if !errors.Is(rollbackErr, pgx.ErrTxClosed) {
				slog.Warn("rollback failed", "attempt", attempt+1, "error", rollbackErr.Error())
			}
		}

		if !shouldRetry(err, attempt, maxRetries) {
			if attempt == maxRetries {
				slog.Error("transaction failed after max retries",
					"attempts", attempt+1,
					"error", err.Error())
				return errs.Mark(err, errMaxRetriesExceeded)
			}
			return err
		}

		waitTime := calculateBackoff(attempt, base)

		slog.Warn("retrying transaction due to retryable error",
			"attempt", attempt+1,
			"wait_ms", waitTime.Milliseconds(),
			"error", err.Error())

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(waitTime):
		}
	}

	return errMaxRetriesExceeded
}

func shouldRetry(err error, attempt, maxRetries int) bool {
	return isRetryableError(err) && attempt < maxRetries
}

func calculateBackoff(attempt int, base time.Duration) time.Duration {
	waitTime := time.Duration(1<<attempt) * base
	jitter := cryptoRandInt63n(int64(waitTime / 5))
	return waitTime + time.Duration(jitter)
}

func cryptoRandInt63n(n int64) int64 {
	if n <= 0 {
		return 0
	}
	var buf [8]byte
	if _, err := rand.Read(buf[:]); err != nil {
		// Fallback to a simple calculation if crypto/rand fails
		return 0
	}
	// Safe conversion: mask high bit to ensure positive int64
	uval := binary.BigEndian.Uint64(buf[:]) & 0x7FFFFFFFFFFFFFFF
	// #nosec G115 -- Intentionally safe conversion after masking
	return int64(uval) % n
}

func isRetryableError(err error) bool {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return false
	}

	switch pgErr.Code {
	case pgErrCodeSerializationFailure, pgErrCodeDeadlockDetected:
		return true
	default:
		return false
	}
}

type pgTx struct {
	dbtx db.DBTX

	// Lazy-initialized repositories
	stockRepo          *repository.StockRepository
	discountRepo       *repository.DiscountRepository
	attemptRepo        *repository.AttemptRepository
	orderRepo          *repository.OrderRepository
	outboxRepo         *repository.NotificationRepository
	reconciliationRepo *repository.ReconciliationRepository
	commandReads       *commandReads
}

func (t *pgTx) Stock() shared.StockLedger {
	if t.stockRepo == nil {
		t.stockRepo = repository.NewStockRepository(t.dbtx)
	}
	return t.stockRepo
}

func (t *pgTx) Discounts() shared.DiscountRepository {
	if t.discountRepo == nil {
		t.discountRepo = repository.NewDiscountRepository(t.dbtx)
	}
	return t.discountRepo
}

func (t *pgTx) Attempts() shared.AttemptRepository {
	if t.attemptRepo == nil {
		t.attemptRepo = repository.NewAttemptRepository(t.dbtx)
	}
	return t.attemptRepo
}

func (t *pgTx) Orders() shared.OrderRepository {
	if t.orderRepo == nil {
		t.orderRepo = repository.NewOrderRepository(t.dbtx)
	}
	return t.orderRepo
}

func (t *pgTx) Outbox() shared.OutboxRepository {
	if t.outboxRepo == nil {
		t.outboxRepo = repository.NewNotificationRepository(t.dbtx)
	}
	return t.outboxRepo
}

func (t *pgTx) Reconciliation() shared.ReconciliationRepository {
	if t.reconciliationRepo == nil {
		t.reconciliationRepo = repository.NewReconciliationRepository(t.dbtx)
	}
	return t.reconciliationRepo
}

func (t *pgTx) Reads() shared.CommandReads {
	if t.commandReads == nil {
		t.commandReads = &commandReads{dbtx: t.dbtx}
	}
	return t.commandReads
}

// commandReads serves validation lookups, inside a transaction or on the pool.
type commandReads struct {
	dbtx db.DBTX

	// Lazy-initialized stores
	productStore *readstore.ProductReadStore
	discountRepo *repository.DiscountRepository
	attemptRepo  *repository.AttemptRepository
	stockRepo    *repository.StockRepository
}

func (r *commandReads) ProductsByIDs(ctx context.Context, ids []uuid.UUID) (map[uuid.UUID]shared.ProductSnapshot, error) {
	if r.productStore == nil {
		r.productStore = readstore.NewProductReadStore(r.dbtx)
	}
	return r.productStore.FindByIDs(ctx, ids)
}

func (r *commandReads) DiscountByCode(ctx context.Context, code discount.Code) (*discount.DiscountCode, error) {
	if r.discountRepo == nil {
		r.discountRepo = repository.NewDiscountRepository(r.dbtx)
	}
	return r.discountRepo.FindByCode(ctx, code)
}

func (r *commandReads) AttemptByKey(ctx context.Context, key string) (*checkout.Attempt, error) {
	if r.attemptRepo == nil {
		r.attemptRepo = repository.NewAttemptRepository(r.dbtx)
	}
	return r.attemptRepo.FindByKey(ctx, key)
}

func (r *commandReads) AttemptByIntent(ctx context.Context, intentID uuid.UUID) (*checkout.Attempt, error) {
	if r.attemptRepo == nil {
		r.attemptRepo = repository.NewAttemptRepository(r.dbtx)
	}
	return r.attemptRepo.FindByIntent(ctx, intentID)
}

func (r *commandReads) ReservationByID(ctx context.Context, id uuid.UUID) (*stock.Reservation, error) {
	if r.stockRepo == nil {
		r.stockRepo = repository.NewStockRepository(r.dbtx)
	}
	return r.stockRepo.FindByID(ctx, id)
}
