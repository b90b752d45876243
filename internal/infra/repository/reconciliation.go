package repository

import (
	"context"

	"storefront/internal/infra"
	"storefront/internal/infra/db"
	"storefront/internal/pkg/pgconv"
	"storefront/internal/usecase/shared"

	"github.com/google/uuid"
)

// An open case per captured payment; reopening only refreshes the reason.
const openReconciliationSQL = `
	INSERT INTO reconciliation_cases (attempt_key, provider, external_ref, intent_id, amount, currency, reason, opened_at)
	VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	ON CONFLICT (provider, external_ref) WHERE status = 'OPEN'
	DO UPDATE SET reason = EXCLUDED.reason
	RETURNING id`

type ReconciliationRepository struct {
	db db.DBTX
}

func NewReconciliationRepository(db db.DBTX) *ReconciliationRepository {
	return &ReconciliationRepository{db: db}
}

func (r *ReconciliationRepository) Open(ctx context.Context, c shared.ReconciliationCase) (uuid.UUID, error) {
	var id uuid.UUID
	err := r.db.QueryRow(ctx, openReconciliationSQL,
		c.AttemptKey, string(c.Provider), c.ExternalRef, c.IntentID,
		pgconv.DecimalToNumeric(c.Amount), c.Currency, c.Reason, c.OpenedAt,
	).Scan(&id)
	if err != nil {
		return uuid.Nil, infra.WrapRepoErr("failed to open reconciliation case", err)
	}
	return id, nil
}
