package readstore

import (
	"context"
	"encoding/json"
	"time"

	"storefront/internal/domain/order"
	"storefront/internal/infra"
	"storefront/internal/infra/db"
	"storefront/internal/pkg/pgconv"
	"storefront/internal/usecase/queries"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
)

const (
	selectOrderViewSQL = `
		SELECT id, user_id, owner, status, subtotal, discount, delivery_fee, total, currency, payment_type,
		       provider_ref, discount_code, tracking_number, courier_service, estimated_delivery,
		       actual_delivery, shipping_address, customer_notes, created_at, updated_at
		FROM orders
		WHERE id = $1`

	selectOrderItemViewsSQL = `
		SELECT i.product_id, p.name, i.quantity, i.unit_price_at_purchase, i.color, i.size
		FROM order_items i
		JOIN products p ON p.id = i.product_id
		WHERE i.order_id = $1
		ORDER BY i.line_no`

	selectOrderHistoryViewsSQL = `
		SELECT status, notes, created_at
		FROM order_status_history
		WHERE order_id = $1
		ORDER BY id`

	orderListColumns = `
		SELECT o.id, o.owner, o.status, o.total, o.currency, o.payment_type,
		       (SELECT count(*) FROM order_items i WHERE i.order_id = o.id), o.created_at
		FROM orders o`

	selectOrdersByOwnerFirstPageSQL = orderListColumns + `
		WHERE o.owner = $1
		ORDER BY o.created_at DESC, o.id DESC
		LIMIT $2`

	selectOrdersByOwnerKeysetSQL = orderListColumns + `
		WHERE o.owner = $1 AND (o.created_at, o.id) < ($2, $3)
		ORDER BY o.created_at DESC, o.id DESC
		LIMIT $4`

	selectOrdersFirstPageSQL = orderListColumns + `
		WHERE ($1::text IS NULL OR o.status = $1)
		ORDER BY o.created_at DESC, o.id DESC
		LIMIT $2`

	selectOrdersKeysetSQL = orderListColumns + `
		WHERE ($1::text IS NULL OR o.status = $1) AND (o.created_at, o.id) < ($2, $3)
		ORDER BY o.created_at DESC, o.id DESC
		LIMIT $4`
)

type OrderReadStore struct {
	db db.DBTX
}

func NewOrderReadStore(db db.DBTX) *OrderReadStore {
	return &OrderReadStore{db: db}
}

func (s *OrderReadStore) FindByID(ctx context.Context, id uuid.UUID) (*queries.OrderView, error) {
	var (
		view                                   queries.OrderView
		userID                                 pgtype.UUID
		subtotal, discount, deliveryFee, total pgtype.Numeric
		discountCode, tracking, courier, notes pgtype.Text
		estimatedDelivery, actualDelivery      pgtype.Timestamptz
		address                                []byte
	)
	err := s.db.QueryRow(ctx, selectOrderViewSQL, id).Scan(
		&view.ID, &userID, &view.Owner, &view.Status, &subtotal, &discount, &deliveryFee, &total,
		&view.Currency, &view.PaymentType, &view.ProviderRef, &discountCode, &tracking, &courier,
		&estimatedDelivery, &actualDelivery, &address, &notes, &view.CreatedAt, &view.UpdatedAt,
	)
	if err != nil {
		if pgconv.IsNoRows(err) {
			return nil, infra.WrapRepoErr("order not found", err, infra.KindNotFound)
		}
		return nil, infra.WrapRepoErr("failed to find order by ID", err)
	}

	if view.Subtotal, err = pgconv.DecimalFromNumeric(subtotal); err != nil {
		return nil, infra.WrapRepoErr("invalid order subtotal", err)
	}
	if view.Discount, err = pgconv.DecimalFromNumeric(discount); err != nil {
		return nil, infra.WrapRepoErr("invalid order discount", err)
	}
	if view.DeliveryFee, err = pgconv.DecimalFromNumeric(deliveryFee); err != nil {
		return nil, infra.WrapRepoErr("invalid order delivery fee", err)
	}
	if view.Total, err = pgconv.DecimalFromNumeric(total); err != nil {
		return nil, infra.WrapRepoErr("invalid order total", err)
	}
	if err := json.Unmarshal(address, &view.ShippingAddress); err != nil {
		return nil, infra.WrapRepoErr("failed to decode shipping address", err)
	}
	view.UserID = pgconv.UUIDPtrFromPgtype(userID)
	view.DiscountCode = pgconv.StringPtrFromPgtype(discountCode)
	view.TrackingNumber = pgconv.StringPtrFromPgtype(tracking)
	view.CourierService = pgconv.StringPtrFromPgtype(courier)
	view.CustomerNotes = pgconv.StringPtrFromPgtype(notes)
	view.EstimatedDelivery = pgconv.TimePtrFromPgtype(estimatedDelivery)
	view.ActualDelivery = pgconv.TimePtrFromPgtype(actualDelivery)

	if view.Items, err = s.items(ctx, id); err != nil {
		return nil, err
	}
	if view.History, err = s.history(ctx, id); err != nil {
		return nil, err
	}
	return &view, nil
}

func (s *OrderReadStore) items(ctx context.Context, orderID uuid.UUID) ([]queries.OrderItemView, error) {
	rows, err := s.db.Query(ctx, selectOrderItemViewsSQL, orderID)
	if err != nil {
		return nil, infra.WrapRepoErr("failed to load order items", err)
	}
	defer rows.Close()

	items := []queries.OrderItemView{}
	for rows.Next() {
		var (
			item        queries.OrderItemView
			price       pgtype.Numeric
			color, size pgtype.Text
		)
		if err := rows.Scan(&item.ProductID, &item.ProductName, &item.Quantity, &price, &color, &size); err != nil {
			return nil, infra.WrapRepoErr("failed to scan order item", err)
		}
		if item.UnitPriceAtPurchase, err = pgconv.DecimalFromNumeric(price); err != nil {
			return nil, infra.WrapRepoErr("invalid order item price", err)
		}
		item.Color = pgconv.StringPtrFromPgtype(color)
		item.Size = pgconv.StringPtrFromPgtype(size)
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, infra.WrapRepoErr("failed to iterate order items", err)
	}
	return items, nil
}

func (s *OrderReadStore) history(ctx context.Context, orderID uuid.UUID) ([]queries.OrderHistoryView, error) {
	rows, err := s.db.Query(ctx, selectOrderHistoryViewsSQL, orderID)
	if err != nil {
		return nil, infra.WrapRepoErr("failed to load order history", err)
	}
	defer rows.Close()

	history := []queries.OrderHistoryView{}
	for rows.Next() {
		var (
			h     queries.OrderHistoryView
			notes pgtype.Text
		)
		if err := rows.Scan(&h.Status, &notes, &h.CreatedAt); err != nil {
			return nil, infra.WrapRepoErr("failed to scan order history", err)
		}
		h.Notes = pgconv.StringPtrFromPgtype(notes)
		history = append(history, h)
	}
	if err := rows.Err(); err != nil {
		return nil, infra.WrapRepoErr("failed to iterate order history", err)
	}
	return history, nil
}

func (s *OrderReadStore) FindByOwnerFirstPage(ctx context.Context, owner string, limit int32) ([]*queries.OrderListItem, error) {
	return s.list(ctx, selectOrdersByOwnerFirstPageSQL, owner, limit)
}

func (s *OrderReadStore) FindByOwnerKeyset(ctx context.Context, owner string, lastCreatedAt time.Time, lastID uuid.UUID, limit int32) ([]*queries.OrderListItem, error) {
	return s.list(ctx, selectOrdersByOwnerKeysetSQL, owner, lastCreatedAt, lastID, limit)
}

func (s *OrderReadStore) FindAllFirstPage(ctx context.Context, status *order.Status, limit int32) ([]*queries.OrderListItem, error) {
	return s.list(ctx, selectOrdersFirstPageSQL, statusParam(status), limit)
}

func (s *OrderReadStore) FindAllKeyset(ctx context.Context, status *order.Status, lastCreatedAt time.Time, lastID uuid.UUID, limit int32) ([]*queries.OrderListItem, error) {
	return s.list(ctx, selectOrdersKeysetSQL, statusParam(status), lastCreatedAt, lastID, limit)
}

func (s *OrderReadStore) list(ctx context.Context, sql string, args ...any) ([]*queries.OrderListItem, error) {
	rows, err := s.db.Query(ctx, sql, args...)
	if err != nil {
		return nil, infra.WrapRepoErr("failed to list orders", err)
	}
	result, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (*queries.OrderListItem, error) {
		var (
			item  queries.OrderListItem
			total pgtype.Numeric
		)
		if err := row.Scan(&item.ID, &item.Owner, &item.Status, &total, &item.Currency, &item.PaymentType,
			&item.ItemCount, &item.CreatedAt); err != nil {
			return nil, err
		}
		var err error
		item.Total, err = pgconv.DecimalFromNumeric(total)
		return &item, err
	})
	if err != nil {
		return nil, infra.WrapRepoErr("failed to scan order list", err)
	}
	return result, nil
}

func statusParam(status *order.Status) pgtype.Text {
	if status == nil {
		return pgtype.Text{Valid: false}
	}
	return pgtype.Text{String: string(*status), Valid: true}
}
