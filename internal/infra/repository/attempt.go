package repository

import (
	"context"
	"encoding/json"

	"storefront/internal/domain/checkout"
	"storefront/internal/domain/payment"
	"storefront/internal/infra"
	"storefront/internal/infra/db"
	"storefront/internal/pkg/pgconv"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgtype"
)

const (
	attemptColumns = `
		idempotency_key, owner, generation, state, provider, reservation_id, intent_id, order_id,
		snapshot, failure_reason, expires_at, created_at, updated_at`

	insertAttemptSQL = `
		INSERT INTO checkout_attempts (` + attemptColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
		ON CONFLICT (idempotency_key) DO NOTHING`

	updateAttemptSQL = `
		UPDATE checkout_attempts
		SET state = $3, reservation_id = $4, intent_id = $5, order_id = $6, snapshot = $7,
		    failure_reason = $8, expires_at = $9, updated_at = $10
		WHERE idempotency_key = $1 AND generation = $2 AND state = $11`

	rearmAttemptSQL = `
		UPDATE checkout_attempts
		SET owner = $2, generation = $3, state = $4, provider = $5, reservation_id = NULL, intent_id = NULL,
		    order_id = NULL, snapshot = $6, failure_reason = NULL, expires_at = $7, updated_at = $8
		WHERE idempotency_key = $1`
)

type AttemptRepository struct {
	db db.DBTX
}

func NewAttemptRepository(db db.DBTX) *AttemptRepository {
	return &AttemptRepository{db: db}
}

// Insert reports false when an attempt with the same key already exists.
func (r *AttemptRepository) Insert(ctx context.Context, a *checkout.Attempt) (bool, error) {
	snapshot, err := json.Marshal(a.Snapshot)
	if err != nil {
		return false, infra.WrapRepoErr("failed to encode attempt snapshot", err)
	}
	tag, err := r.db.Exec(ctx, insertAttemptSQL,
		a.Key, a.Owner, a.Generation, string(a.State), string(a.Provider),
		pgconv.UUIDPtrToPgtype(a.ReservationID), pgconv.UUIDPtrToPgtype(a.IntentID), pgconv.UUIDPtrToPgtype(a.OrderID),
		snapshot, pgconv.StringPtrToPgtype(a.FailureReason), a.ExpiresAt, a.CreatedAt, a.UpdatedAt,
	)
	if err != nil {
		return false, infra.WrapRepoErr("failed to insert checkout attempt", err)
	}
	return tag.RowsAffected() == 1, nil
}

func (r *AttemptRepository) LockByKey(ctx context.Context, key string) (*checkout.Attempt, error) {
	return scanAttempt(r.db.QueryRow(ctx, `SELECT `+attemptColumns+` FROM checkout_attempts WHERE idempotency_key = $1 FOR UPDATE`, key))
}

func (r *AttemptRepository) FindByKey(ctx context.Context, key string) (*checkout.Attempt, error) {
	return scanAttempt(r.db.QueryRow(ctx, `SELECT `+attemptColumns+` FROM checkout_attempts WHERE idempotency_key = $1`, key))
}

func (r *AttemptRepository) FindByIntent(ctx context.Context, intentID uuid.UUID) (*checkout.Attempt, error) {
	return scanAttempt(r.db.QueryRow(ctx, `SELECT `+attemptColumns+` FROM checkout_attempts WHERE intent_id = $1`, intentID))
}

func (r *AttemptRepository) Update(ctx context.Context, a *checkout.Attempt, from checkout.State) (bool, error) {
	snapshot, err := json.Marshal(a.Snapshot)
	if err != nil {
		return false, infra.WrapRepoErr("failed to encode attempt snapshot", err)
	}
	tag, err := r.db.Exec(ctx, updateAttemptSQL,
		a.Key, a.Generation, string(a.State),
		pgconv.UUIDPtrToPgtype(a.ReservationID), pgconv.UUIDPtrToPgtype(a.IntentID), pgconv.UUIDPtrToPgtype(a.OrderID),
		snapshot, pgconv.StringPtrToPgtype(a.FailureReason), a.ExpiresAt, a.UpdatedAt, string(from),
	)
	if err != nil {
		return false, infra.WrapRepoErr("failed to update checkout attempt", err)
	}
	return tag.RowsAffected() == 1, nil
}

func (r *AttemptRepository) Rearm(ctx context.Context, a *checkout.Attempt) error {
	snapshot, err := json.Marshal(a.Snapshot)
	if err != nil {
		return infra.WrapRepoErr("failed to encode attempt snapshot", err)
	}
	tag, err := r.db.Exec(ctx, rearmAttemptSQL,
		a.Key, a.Owner, a.Generation, string(a.State), string(a.Provider), snapshot, a.ExpiresAt, a.UpdatedAt)
	if err != nil {
		return infra.WrapRepoErr("failed to rearm checkout attempt", err)
	}
	if tag.RowsAffected() == 0 {
		return checkout.ErrAttemptNotFound
	}
	return nil
}

func scanAttempt(row rowScanner) (*checkout.Attempt, error) {
	var (
		a                                checkout.Attempt
		state, provider                  string
		reservationID, intentID, orderID pgtype.UUID
		snapshot                         []byte
		failureReason                    pgtype.Text
	)
	err := row.Scan(&a.Key, &a.Owner, &a.Generation, &state, &provider, &reservationID, &intentID, &orderID,
		&snapshot, &failureReason, &a.ExpiresAt, &a.CreatedAt, &a.UpdatedAt)
	if err != nil {
		if pgconv.IsNoRows(err) {
			return nil, checkout.ErrAttemptNotFound
		}
		return nil, infra.WrapRepoErr("failed to scan checkout attempt", err)
	}
	if err := json.Unmarshal(snapshot, &a.Snapshot); err != nil {
		return nil, infra.WrapRepoErr("failed to decode attempt snapshot", err)
	}
	a.State = checkout.State(state)
	a.Provider = payment.Provider(provider)
	a.ReservationID = pgconv.UUIDPtrFromPgtype(reservationID)
	a.IntentID = pgconv.UUIDPtrFromPgtype(intentID)
	a.OrderID = pgconv.UUIDPtrFromPgtype(orderID)
	a.FailureReason = pgconv.StringPtrFromPgtype(failureReason)
	return &a, nil
}
