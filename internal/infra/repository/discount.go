package repository

import (
	"context"

	"storefront/internal/domain/discount"
	"storefront/internal/infra"
	"storefront/internal/infra/db"
	"storefront/internal/pkg/pgconv"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgtype"
)

const (
	selectDiscountSQL = `
		SELECT d.id, d.code, d.percentage, d.active, d.expires_at, d.max_uses, d.current_uses,
		       (SELECT count(*) FROM stock_reservations r WHERE r.discount_id = d.id AND r.status = 'RESERVED')
		FROM discount_codes d
		WHERE upper(d.code) = $1`

	// FOR UPDATE OF d serialises concurrent holds on the same code.
	lockDiscountSQL = `
		SELECT id, code, percentage, active, expires_at, max_uses, current_uses
		FROM discount_codes
		WHERE upper(code) = $1
		FOR UPDATE`

	countDiscountHoldsSQL = `
		SELECT count(*) FROM stock_reservations WHERE discount_id = $1 AND status = 'RESERVED'`

	incrementDiscountUsageSQL = `
		UPDATE discount_codes
		SET current_uses = current_uses + 1, updated_at = now()
		WHERE id = $1 AND (max_uses IS NULL OR current_uses < max_uses)`
)

type DiscountRepository struct {
	db db.DBTX
}

func NewDiscountRepository(db db.DBTX) *DiscountRepository {
	return &DiscountRepository{db: db}
}

func (r *DiscountRepository) FindByCode(ctx context.Context, code discount.Code) (*discount.DiscountCode, error) {
	return scanDiscount(r.db.QueryRow(ctx, selectDiscountSQL, code.String()), true)
}

func (r *DiscountRepository) LockForHold(ctx context.Context, code discount.Code) (*discount.DiscountCode, error) {
	d, err := scanDiscount(r.db.QueryRow(ctx, lockDiscountSQL, code.String()), false)
	if err != nil {
		return nil, err
	}
	var holds int
	if err := r.db.QueryRow(ctx, countDiscountHoldsSQL, d.ID()).Scan(&holds); err != nil {
		return nil, infra.WrapRepoErr("failed to count discount holds", err)
	}
	return discount.Reconstruct(d.ID(), d.Code().String(), d.Percentage().Int(), d.Active(),
		d.ExpiresAt(), d.MaxUses(), d.CurrentUses(), holds)
}

func (r *DiscountRepository) IncrementUsage(ctx context.Context, id uuid.UUID) (bool, error) {
	tag, err := r.db.Exec(ctx, incrementDiscountUsageSQL, id)
	if err != nil {
		return false, infra.WrapRepoErr("failed to increment discount usage", err)
	}
	return tag.RowsAffected() == 1, nil
}

func scanDiscount(row rowScanner, withHolds bool) (*discount.DiscountCode, error) {
	var (
		id          uuid.UUID
		code        string
		percentage  int
		active      bool
		expiresAt   pgtype.Timestamptz
		maxUses     pgtype.Int4
		currentUses int
		holds       int
	)
	dest := []any{&id, &code, &percentage, &active, &expiresAt, &maxUses, &currentUses}
	if withHolds {
		dest = append(dest, &holds)
	}
	if err := row.Scan(dest...); err != nil {
		if pgconv.IsNoRows(err) {
			return nil, discount.ErrNotFound
		}
		return nil, infra.WrapRepoErr("failed to scan discount code", err)
	}

	var limit *int
	if v := pgconv.Int32PtrFromPgtype(maxUses); v != nil {
		m := int(*v)
		limit = &m
	}
	return discount.Reconstruct(id, code, percentage, active, pgconv.TimePtrFromPgtype(expiresAt), limit, currentUses, holds)
}
