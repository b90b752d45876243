package repository

import (
	"context"
	"errors"
	"time"

	"storefront/internal/domain/payment"
	"storefront/internal/infra"
	"storefront/internal/infra/db"
	"storefront/internal/pkg/pgconv"
	"storefront/internal/pkg/ptr"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgtype"
)

const (
	intentColumns = `
		id, provider, external_ref, amount, currency, idempotency_key, status, next_action,
		capture_ref, failure_outcome, failure_reason, created_at, updated_at`

	insertIntentSQL = `
		INSERT INTO payment_intents (` + intentColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, NULL, NULL, NULL, $9, $9)
		ON CONFLICT (idempotency_key) DO NOTHING
		RETURNING ` + intentColumns

	// Every transition leaves CREATED exactly once.
	settleIntentSQL = `
		UPDATE payment_intents
		SET status = $2, capture_ref = $3, failure_outcome = $4, failure_reason = $5, updated_at = $6
		WHERE id = $1 AND status = 'CREATED'`

	// The one exception: a provider capture that landed after the intent was
	// voided or failed locally. The provider is authoritative for money.
	overrideCaptureSQL = `
		UPDATE payment_intents
		SET status = 'CAPTURED', capture_ref = $2, failure_outcome = NULL, failure_reason = NULL, updated_at = $3
		WHERE id = $1 AND status IN ('VOIDED', 'FAILED')`
)

// PaymentIntentRepository persists intents outside any checkout transaction
// so that a rollback never forgets money that moved.
type PaymentIntentRepository struct {
	db db.DBTX
}

func NewPaymentIntentRepository(db db.DBTX) *PaymentIntentRepository {
	return &PaymentIntentRepository{db: db}
}

// Insert returns the stored intent for the idempotency key, which is the
// existing one when a concurrent caller won the race.
func (r *PaymentIntentRepository) Insert(ctx context.Context, in *payment.Intent) (*payment.Intent, error) {
	stored, err := scanIntent(r.db.QueryRow(ctx, insertIntentSQL,
		in.ID, string(in.Provider), pgconv.StringPtrToPgtype(ptr.NonEmpty(in.ExternalRef)),
		pgconv.DecimalToNumeric(in.Amount), in.Currency, in.IdempotencyKey, string(in.Status), in.NextAction, in.CreatedAt,
	))
	if errors.Is(err, payment.ErrIntentNotFound) {
		return r.ByKey(ctx, in.IdempotencyKey)
	}
	return stored, err
}

func (r *PaymentIntentRepository) ByID(ctx context.Context, id uuid.UUID) (*payment.Intent, error) {
	return scanIntent(r.db.QueryRow(ctx, `SELECT `+intentColumns+` FROM payment_intents WHERE id = $1`, id))
}

func (r *PaymentIntentRepository) ByKey(ctx context.Context, key string) (*payment.Intent, error) {
	return scanIntent(r.db.QueryRow(ctx, `SELECT `+intentColumns+` FROM payment_intents WHERE idempotency_key = $1`, key))
}

func (r *PaymentIntentRepository) ByExternalRef(ctx context.Context, provider payment.Provider, ref string) (*payment.Intent, error) {
	return scanIntent(r.db.QueryRow(ctx,
		`SELECT `+intentColumns+` FROM payment_intents WHERE provider = $1 AND external_ref = $2`, string(provider), ref))
}

func (r *PaymentIntentRepository) MarkCaptured(ctx context.Context, id uuid.UUID, captureRef string, at time.Time) (bool, error) {
	return r.settle(ctx, id, payment.StatusCaptured, &captureRef, nil, nil, at)
}

func (r *PaymentIntentRepository) MarkFailed(ctx context.Context, id uuid.UUID, outcome payment.Outcome, reason string, at time.Time) (bool, error) {
	o := string(outcome)
	return r.settle(ctx, id, payment.StatusFailed, nil, &o, &reason, at)
}

func (r *PaymentIntentRepository) MarkVoided(ctx context.Context, id uuid.UUID, at time.Time) (bool, error) {
	return r.settle(ctx, id, payment.StatusVoided, nil, nil, nil, at)
}

// OverrideCaptured records a capture on an intent already voided or failed.
func (r *PaymentIntentRepository) OverrideCaptured(ctx context.Context, id uuid.UUID, captureRef string, at time.Time) (bool, error) {
	tag, err := r.db.Exec(ctx, overrideCaptureSQL, id, captureRef, at)
	if err != nil {
		return false, infra.WrapRepoErr("failed to override payment intent", err)
	}
	return tag.RowsAffected() == 1, nil
}

func (r *PaymentIntentRepository) settle(ctx context.Context, id uuid.UUID, status payment.Status, captureRef, outcome, reason *string, at time.Time) (bool, error) {
	tag, err := r.db.Exec(ctx, settleIntentSQL, id, string(status),
		pgconv.StringPtrToPgtype(captureRef), pgconv.StringPtrToPgtype(outcome), pgconv.StringPtrToPgtype(reason), at)
	if err != nil {
		return false, infra.WrapRepoErr("failed to settle payment intent", err)
	}
	return tag.RowsAffected() == 1, nil
}

func scanIntent(row rowScanner) (*payment.Intent, error) {
	var (
		in                            payment.Intent
		provider, status              string
		externalRef, captureRef       pgtype.Text
		failureOutcome, failureReason pgtype.Text
		amount                        pgtype.Numeric
	)
	err := row.Scan(&in.ID, &provider, &externalRef, &amount, &in.Currency, &in.IdempotencyKey, &status, &in.NextAction,
		&captureRef, &failureOutcome, &failureReason, &in.CreatedAt, &in.UpdatedAt)
	if err != nil {
		if pgconv.IsNoRows(err) {
			return nil, payment.ErrIntentNotFound
		}
		return nil, infra.WrapRepoErr("failed to scan payment intent", err)
	}
	if in.Amount, err = pgconv.DecimalFromNumeric(amount); err != nil {
		return nil, infra.WrapRepoErr("invalid payment intent amount", err)
	}
	in.Provider = payment.Provider(provider)
	in.Status = payment.Status(status)
	in.ExternalRef = externalRef.String
	in.CaptureRef = pgconv.StringPtrFromPgtype(captureRef)
	if failureOutcome.Valid {
		o := payment.Outcome(failureOutcome.String)
		in.FailureOutcome = &o
	}
	in.FailureReason = pgconv.StringPtrFromPgtype(failureReason)
	return &in, nil
}
