package repository

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"storefront/internal/domain/stock"
	"storefront/internal/infra"
	"storefront/internal/infra/db"
	"storefront/internal/pkg/pgconv"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgtype"
)

const (
	insertReservationSQL = `
		INSERT INTO stock_reservations (attempt_key, generation, status, discount_id, expires_at)
		VALUES ($1, $2, 'RESERVED', $3, $4)
		RETURNING id, created_at, updated_at`

	// decrementStockSQL never lets stock go negative: the row is only touched when enough is left.
	decrementStockSQL = `
		UPDATE products
		SET stock = stock - $2, updated_at = now()
		WHERE id = $1 AND active AND stock >= $2
		RETURNING stock, low_stock_threshold, price`

	incrementStockSQL = `
		UPDATE products
		SET stock = stock + $2, updated_at = now()
		WHERE id = $1`

	availableStockSQL = `
		SELECT CASE WHEN active THEN stock ELSE 0 END FROM products WHERE id = $1`

	insertReservationLineSQL = `
		INSERT INTO stock_reservation_lines (reservation_id, product_id, quantity, unit_price)
		VALUES ($1, $2, $3, $4)`

	selectReservationLinesSQL = `
		SELECT product_id, quantity, unit_price
		FROM stock_reservation_lines
		WHERE reservation_id = $1
		ORDER BY product_id`

	selectReservationSQL = `
		SELECT id, attempt_key, generation, status, discount_id, order_id, expires_at, created_at, updated_at
		FROM stock_reservations`

	commitReservationSQL = `
		UPDATE stock_reservations
		SET status = 'COMMITTED', order_id = $2, updated_at = now()
		WHERE id = $1 AND status = $3`

	releaseReservationSQL = `
		UPDATE stock_reservations
		SET status = 'RELEASED', updated_at = now()
		WHERE id = $1 AND status = 'RESERVED'`

	returnOrderReservationsSQL = `
		UPDATE stock_reservations
		SET status = 'RETURNED', updated_at = now()
		WHERE order_id = $1 AND status = 'COMMITTED'
		RETURNING id`
)

type StockRepository struct {
	db db.DBTX
}

func NewStockRepository(db db.DBTX) *StockRepository {
	return &StockRepository{db: db}
}

// Reserve decrements every requested product in id order. All shortages are
// collected so the caller can report them together; the surrounding
// transaction is expected to roll back on error. A second call for the same
// attempt generation returns the reservation already made.
func (r *StockRepository) Reserve(ctx context.Context, req stock.ReserveRequest) (*stock.Reservation, error) {
	req, err := req.Normalize()
	if err != nil {
		return nil, err
	}

	existing, err := scanReservation(r.db.QueryRow(ctx, selectReservationSQL+`
		WHERE attempt_key = $1 AND generation = $2`, req.AttemptKey, req.Generation))
	switch {
	case err == nil:
		if existing.Lines, err = r.lines(ctx, existing.ID); err != nil {
			return nil, err
		}
		return existing, nil
	case !errors.Is(err, stock.ErrReservationNotFound):
		return nil, err
	}

	res := &stock.Reservation{
		AttemptKey: req.AttemptKey,
		Generation: req.Generation,
		Status:     stock.StatusReserved,
		DiscountID: req.DiscountID,
		ExpiresAt:  req.ExpiresAt,
	}
	err = r.db.QueryRow(ctx, insertReservationSQL,
		req.AttemptKey, req.Generation, pgconv.UUIDPtrToPgtype(req.DiscountID), req.ExpiresAt,
	).Scan(&res.ID, &res.CreatedAt, &res.UpdatedAt)
	if err != nil {
		return nil, infra.WrapRepoErr("failed to insert stock reservation", err)
	}

	var shortages []stock.Shortage
	for _, line := range req.Lines {
		var (
			remaining, threshold int
			price                pgtype.Numeric
		)
		err := r.db.QueryRow(ctx, decrementStockSQL, line.ProductID, line.Quantity).Scan(&remaining, &threshold, &price)
		if pgconv.IsNoRows(err) {
			available, err := r.available(ctx, line.ProductID)
			if err != nil {
				return nil, err
			}
			shortages = append(shortages, stock.Shortage{
				ProductID: line.ProductID,
				Requested: line.Quantity,
				Available: available,
			})
			continue
		}
		if err != nil {
			return nil, infra.WrapRepoErr("failed to decrement stock", err)
		}

		unitPrice, err := pgconv.DecimalFromNumeric(price)
		if err != nil {
			return nil, infra.WrapRepoErr("invalid product price", err)
		}
		if remaining <= threshold {
			slog.WarnContext(ctx, "product stock is low",
				slog.String("product_id", line.ProductID.String()),
				slog.Int("remaining", remaining),
				slog.Int("threshold", threshold))
		}

		_, err = r.db.Exec(ctx, insertReservationLineSQL, res.ID, line.ProductID, line.Quantity, pgconv.DecimalToNumeric(unitPrice))
		if err != nil {
			return nil, infra.WrapRepoErr("failed to insert reservation line", err)
		}
		res.Lines = append(res.Lines, stock.Line{ProductID: line.ProductID, Quantity: line.Quantity, UnitPrice: unitPrice})
	}

	if len(shortages) > 0 {
		return nil, &stock.InsufficientStockError{Shortages: shortages}
	}
	return res, nil
}

func (r *StockRepository) available(ctx context.Context, productID uuid.UUID) (int, error) {
	var available int
	err := r.db.QueryRow(ctx, availableStockSQL, productID).Scan(&available)
	if pgconv.IsNoRows(err) {
		return 0, nil
	}
	if err != nil {
		return 0, infra.WrapRepoErr("failed to read available stock", err)
	}
	return available, nil
}

// Commit binds the reservation to its order. A reservation that was released
// in the meantime (payment captured after expiry) is decremented again; if
// stock has gone, InsufficientStockError is returned.
func (r *StockRepository) Commit(ctx context.Context, reservationID, orderID uuid.UUID) error {
	tag, err := r.db.Exec(ctx, commitReservationSQL, reservationID, orderID, string(stock.StatusReserved))
	if err != nil {
		return infra.WrapRepoErr("failed to commit reservation", err)
	}
	if tag.RowsAffected() == 1 {
		return nil
	}

	res, err := r.FindByID(ctx, reservationID)
	if err != nil {
		return err
	}
	switch res.Status {
	case stock.StatusCommitted:
		if res.OrderID != nil && *res.OrderID == orderID {
			return nil
		}
		return stock.ErrNotReserved
	case stock.StatusReleased:
		var shortages []stock.Shortage
		for _, line := range res.Lines {
			var remaining, threshold int
			var price pgtype.Numeric
			err := r.db.QueryRow(ctx, decrementStockSQL, line.ProductID, line.Quantity).Scan(&remaining, &threshold, &price)
			if pgconv.IsNoRows(err) {
				available, err := r.available(ctx, line.ProductID)
				if err != nil {
					return err
				}
				shortages = append(shortages, stock.Shortage{ProductID: line.ProductID, Requested: line.Quantity, Available: available})
				continue
			}
			if err != nil {
				return infra.WrapRepoErr("failed to decrement stock", err)
			}
		}
		if len(shortages) > 0 {
			return &stock.InsufficientStockError{Shortages: shortages}
		}
		if _, err := r.db.Exec(ctx, commitReservationSQL, reservationID, orderID, string(stock.StatusReleased)); err != nil {
			return infra.WrapRepoErr("failed to commit released reservation", err)
		}
		slog.WarnContext(ctx, "re-committed released reservation", slog.String("reservation_id", reservationID.String()))
		return nil
	default:
		return stock.ErrNotReserved
	}
}

func (r *StockRepository) Release(ctx context.Context, reservationID uuid.UUID) (bool, error) {
	tag, err := r.db.Exec(ctx, releaseReservationSQL, reservationID)
	if err != nil {
		return false, infra.WrapRepoErr("failed to release reservation", err)
	}
	if tag.RowsAffected() == 0 {
		if _, err := r.FindByID(ctx, reservationID); err != nil {
			return false, err
		}
		return false, nil
	}
	if err := r.credit(ctx, reservationID); err != nil {
		return false, err
	}
	return true, nil
}

func (r *StockRepository) ReturnOrderStock(ctx context.Context, orderID uuid.UUID) (bool, error) {
	rows, err := r.db.Query(ctx, returnOrderReservationsSQL, orderID)
	if err != nil {
		return false, infra.WrapRepoErr("failed to mark reservations returned", err)
	}
	var ids []uuid.UUID
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return false, infra.WrapRepoErr("failed to scan returned reservation", err)
		}
		ids = append(ids, id)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return false, infra.WrapRepoErr("failed to iterate returned reservations", err)
	}

	for _, id := range ids {
		if err := r.credit(ctx, id); err != nil {
			return false, err
		}
	}
	return len(ids) > 0, nil
}

func (r *StockRepository) credit(ctx context.Context, reservationID uuid.UUID) error {
	lines, err := r.lines(ctx, reservationID)
	if err != nil {
		return err
	}
	for _, line := range lines {
		if _, err := r.db.Exec(ctx, incrementStockSQL, line.ProductID, line.Quantity); err != nil {
			return infra.WrapRepoErr("failed to return stock", err)
		}
	}
	return nil
}

func (r *StockRepository) Expired(ctx context.Context, before time.Time, limit int) ([]stock.Reservation, error) {
	rows, err := r.db.Query(ctx, selectReservationSQL+`
		WHERE status = 'RESERVED' AND expires_at <= $1
		ORDER BY expires_at
		LIMIT $2`, before, limit)
	if err != nil {
		return nil, infra.WrapRepoErr("failed to list expired reservations", err)
	}
	var out []stock.Reservation
	for rows.Next() {
		res, err := scanReservation(rows)
		if err != nil {
			rows.Close()
			return nil, err
		}
		out = append(out, *res)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, infra.WrapRepoErr("failed to iterate expired reservations", err)
	}

	for i := range out {
		if out[i].Lines, err = r.lines(ctx, out[i].ID); err != nil {
			return nil, err
		}
	}
	return out, nil
}

func (r *StockRepository) FindByID(ctx context.Context, id uuid.UUID) (*stock.Reservation, error) {
	res, err := scanReservation(r.db.QueryRow(ctx, selectReservationSQL+` WHERE id = $1`, id))
	if err != nil {
		return nil, err
	}
	if res.Lines, err = r.lines(ctx, id); err != nil {
		return nil, err
	}
	return res, nil
}

func (r *StockRepository) lines(ctx context.Context, reservationID uuid.UUID) ([]stock.Line, error) {
	rows, err := r.db.Query(ctx, selectReservationLinesSQL, reservationID)
	if err != nil {
		return nil, infra.WrapRepoErr("failed to load reservation lines", err)
	}
	defer rows.Close()

	var lines []stock.Line
	for rows.Next() {
		var (
			l     stock.Line
			price pgtype.Numeric
		)
		if err := rows.Scan(&l.ProductID, &l.Quantity, &price); err != nil {
			return nil, infra.WrapRepoErr("failed to scan reservation line", err)
		}
		if l.UnitPrice, err = pgconv.DecimalFromNumeric(price); err != nil {
			return nil, infra.WrapRepoErr("invalid reservation line price", err)
		}
		lines = append(lines, l)
	}
	if err := rows.Err(); err != nil {
		return nil, infra.WrapRepoErr("failed to iterate reservation lines", err)
	}
	return lines, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanReservation(row rowScanner) (*stock.Reservation, error) {
	var (
		res        stock.Reservation
		status     string
		discountID pgtype.UUID
		orderID    pgtype.UUID
	)
	err := row.Scan(&res.ID, &res.AttemptKey, &res.Generation, &status, &discountID, &orderID,
		&res.ExpiresAt, &res.CreatedAt, &res.UpdatedAt)
	if err != nil {
		if pgconv.IsNoRows(err) {
			return nil, stock.ErrReservationNotFound
		}
		return nil, infra.WrapRepoErr("failed to scan reservation", err)
	}
	res.Status = stock.Status(status)
	res.DiscountID = pgconv.UUIDPtrFromPgtype(discountID)
	res.OrderID = pgconv.UUIDPtrFromPgtype(orderID)
	return &res, nil
}
