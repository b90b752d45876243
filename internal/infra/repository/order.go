package repository

import (
	"context"
	"encoding/json"

	"storefront/internal/domain/order"
	"storefront/internal/domain/payment"
	"storefront/internal/infra"
	"storefront/internal/infra/db"
	"storefront/internal/pkg/pgconv"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgtype"
)

const (
	insertOrderSQL = `
		INSERT INTO orders (
			id, user_id, owner, subtotal, discount, delivery_fee, total, currency, status,
			payment_type, provider_ref, discount_code, shipping_address, customer_notes, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)`

	insertOrderItemSQL = `
		INSERT INTO order_items (order_id, line_no, product_id, quantity, unit_price_at_purchase, color, size)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`

	insertOrderHistorySQL = `
		INSERT INTO order_status_history (order_id, status, notes, created_at)
		VALUES ($1, $2, $3, $4)`

	selectOrderIDByProviderRefSQL = `
		SELECT id FROM orders WHERE payment_type = $1 AND provider_ref = $2`

	lockOrderSQL = `
		SELECT id, user_id, owner, status, payment_type, provider_ref, tracking_number, courier_service,
		       estimated_delivery, actual_delivery, created_at, updated_at
		FROM orders
		WHERE id = $1
		FOR UPDATE`

	updateOrderStatusSQL = `
		UPDATE orders
		SET status = $2, tracking_number = $3, courier_service = $4, estimated_delivery = $5,
		    actual_delivery = $6, updated_at = $7
		WHERE id = $1 AND status = $8`
)

type OrderRepository struct {
	db db.DBTX
}

func NewOrderRepository(db db.DBTX) *OrderRepository {
	return &OrderRepository{db: db}
}

func (r *OrderRepository) Create(ctx context.Context, o *order.Order) error {
	address, err := json.Marshal(o.ShippingAddress())
	if err != nil {
		return infra.WrapRepoErr("failed to encode shipping address", err)
	}
	q := o.Quote()
	_, err = r.db.Exec(ctx, insertOrderSQL,
		o.ID(), pgconv.UUIDPtrToPgtype(o.UserID()), o.Owner(),
		pgconv.DecimalToNumeric(q.Subtotal), pgconv.DecimalToNumeric(q.Discount),
		pgconv.DecimalToNumeric(q.DeliveryFee), pgconv.DecimalToNumeric(q.Total),
		o.Currency(), string(o.Status()), string(o.PaymentType()), o.ProviderRef(),
		pgconv.StringPtrToPgtype(o.DiscountCode()), address, pgconv.StringPtrToPgtype(o.CustomerNotes()),
		o.CreatedAt(), o.UpdatedAt(),
	)
	if err != nil {
		return infra.WrapRepoErr("failed to insert order", err)
	}

	for i, item := range o.Items() {
		_, err := r.db.Exec(ctx, insertOrderItemSQL,
			o.ID(), i+1, item.ProductID, item.Quantity, pgconv.DecimalToNumeric(item.UnitPriceAtPurchase),
			pgconv.StringPtrToPgtype(item.Color), pgconv.StringPtrToPgtype(item.Size))
		if err != nil {
			return infra.WrapRepoErr("failed to insert order item", err)
		}
	}

	for _, entry := range o.History() {
		if err := r.appendHistory(ctx, o.ID(), entry); err != nil {
			return err
		}
	}
	return nil
}

func (r *OrderRepository) IDByProviderRef(ctx context.Context, provider payment.Provider, ref string) (uuid.UUID, error) {
	var id uuid.UUID
	err := r.db.QueryRow(ctx, selectOrderIDByProviderRefSQL, string(provider), ref).Scan(&id)
	if err != nil {
		if pgconv.IsNoRows(err) {
			return uuid.Nil, order.ErrNotFound
		}
		return uuid.Nil, infra.WrapRepoErr("failed to find order by provider reference", err)
	}
	return id, nil
}

func (r *OrderRepository) LockByID(ctx context.Context, id uuid.UUID) (*order.Order, error) {
	var (
		orderID                           uuid.UUID
		userID                            pgtype.UUID
		owner, status, paymentType, ref   string
		tracking, courier                 pgtype.Text
		estimatedDelivery, actualDelivery pgtype.Timestamptz
		createdAt, updatedAt              pgtype.Timestamptz
	)
	err := r.db.QueryRow(ctx, lockOrderSQL, id).Scan(&orderID, &userID, &owner, &status, &paymentType, &ref,
		&tracking, &courier, &estimatedDelivery, &actualDelivery, &createdAt, &updatedAt)
	if err != nil {
		if pgconv.IsNoRows(err) {
			return nil, order.ErrNotFound
		}
		return nil, infra.WrapRepoErr("failed to lock order", err)
	}
	return order.Reconstruct(
		orderID,
		pgconv.UUIDPtrFromPgtype(userID),
		owner,
		order.Status(status),
		payment.Provider(paymentType),
		ref,
		pgconv.StringPtrFromPgtype(tracking),
		pgconv.StringPtrFromPgtype(courier),
		pgconv.TimePtrFromPgtype(estimatedDelivery),
		pgconv.TimePtrFromPgtype(actualDelivery),
		createdAt.Time,
		updatedAt.Time,
	), nil
}

// UpdateStatus reports false when another writer moved the order first.
func (r *OrderRepository) UpdateStatus(ctx context.Context, o *order.Order, from order.Status, entry order.HistoryEntry) (bool, error) {
	tag, err := r.db.Exec(ctx, updateOrderStatusSQL,
		o.ID(), string(o.Status()),
		pgconv.StringPtrToPgtype(o.TrackingNumber()), pgconv.StringPtrToPgtype(o.CourierService()),
		pgconv.TimePtrToPgtype(o.EstimatedDelivery()), pgconv.TimePtrToPgtype(o.ActualDelivery()),
		o.UpdatedAt(), string(from),
	)
	if err != nil {
		return false, infra.WrapRepoErr("failed to update order status", err)
	}
	if tag.RowsAffected() == 0 {
		return false, nil
	}
	if err := r.appendHistory(ctx, o.ID(), entry); err != nil {
		return false, err
	}
	return true, nil
}

func (r *OrderRepository) appendHistory(ctx context.Context, orderID uuid.UUID, entry order.HistoryEntry) error {
	_, err := r.db.Exec(ctx, insertOrderHistorySQL, orderID, string(entry.Status), pgconv.StringPtrToPgtype(entry.Notes), entry.CreatedAt)
	if err != nil {
		return infra.WrapRepoErr("failed to append order status history", err)
	}
	return nil
}
