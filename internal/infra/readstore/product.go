package readstore

import (
	"context"

	"storefront/internal/infra"
	"storefront/internal/infra/db"
	"storefront/internal/pkg/pgconv"
	"storefront/internal/usecase/shared"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgtype"
)

const selectProductsByIDsSQL = `
	SELECT id, name, price, active, stock, low_stock_threshold
	FROM products
	WHERE id = ANY($1)`

type ProductReadStore struct {
	db db.DBTX
}

func NewProductReadStore(db db.DBTX) *ProductReadStore {
	return &ProductReadStore{db: db}
}

// FindByIDs returns the products that exist; callers detect missing ids by lookup.
func (s *ProductReadStore) FindByIDs(ctx context.Context, ids []uuid.UUID) (map[uuid.UUID]shared.ProductSnapshot, error) {
	rows, err := s.db.Query(ctx, selectProductsByIDsSQL, ids)
	if err != nil {
		return nil, infra.WrapRepoErr("failed to load products", err)
	}
	defer rows.Close()

	out := make(map[uuid.UUID]shared.ProductSnapshot, len(ids))
	for rows.Next() {
		var (
			p     shared.ProductSnapshot
			price pgtype.Numeric
		)
		if err := rows.Scan(&p.ID, &p.Name, &price, &p.Active, &p.Stock, &p.LowStockThreshold); err != nil {
			return nil, infra.WrapRepoErr("failed to scan product", err)
		}
		if p.Price, err = pgconv.DecimalFromNumeric(price); err != nil {
			return nil, infra.WrapRepoErr("invalid product price", err)
		}
		out[p.ID] = p
	}
	if err := rows.Err(); err != nil {
		return nil, infra.WrapRepoErr("failed to iterate products", err)
	}
	return out, nil
}
