package queries

import (
	"context"
	"errors"
	"time"

	"storefront/internal/domain/auth"
	"storefront/internal/domain/order"
	"storefront/internal/infra"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

var (
	ErrOrderNotFound = order.ErrNotFound
	ErrOrderAccess   = errors.New("order access denied")
	ErrInvalidCursor = errors.New("invalid cursor")
	ErrInvalidFilter = errors.New("invalid order filter")
)

type OrderItemView struct {
	ProductID           uuid.UUID       `json:"productId"`
	ProductName         string          `json:"productName"`
	Quantity            int             `json:"quantity"`
	UnitPriceAtPurchase decimal.Decimal `json:"unitPriceAtPurchase"`
	Color               *string         `json:"color,omitempty"`
	Size                *string         `json:"size,omitempty"`
}

type OrderHistoryView struct {
	Status    string    `json:"status"`
	Notes     *string   `json:"notes,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
}

type OrderView struct {
	ID                uuid.UUID          `json:"id"`
	UserID            *uuid.UUID         `json:"userId,omitempty"`
	Owner             string             `json:"owner"`
	Status            string             `json:"status"`
	Subtotal          decimal.Decimal    `json:"subtotal"`
	Discount          decimal.Decimal    `json:"discount"`
	DeliveryFee       decimal.Decimal    `json:"deliveryFee"`
	Total             decimal.Decimal    `json:"total"`
	Currency          string             `json:"currency"`
	PaymentType       string             `json:"paymentType"`
	ProviderRef       string             `json:"providerRef"`
	DiscountCode      *string            `json:"discountCode,omitempty"`
	TrackingNumber    *string            `json:"trackingNumber,omitempty"`
	CourierService    *string            `json:"courierService,omitempty"`
	EstimatedDelivery *time.Time         `json:"estimatedDelivery,omitempty"`
	ActualDelivery    *time.Time         `json:"actualDelivery,omitempty"`
	ShippingAddress   order.Address      `json:"shippingAddress"`
	CustomerNotes     *string            `json:"customerNotes,omitempty"`
	Items             []OrderItemView    `json:"items"`
	History           []OrderHistoryView `json:"history"`
	CreatedAt         time.Time          `json:"createdAt"`
	UpdatedAt         time.Time          `json:"updatedAt"`
}

type OrderListItem struct {
	ID          uuid.UUID       `json:"id"`
	Owner       string          `json:"owner"`
	Status      string          `json:"status"`
	Total       decimal.Decimal `json:"total"`
	Currency    string          `json:"currency"`
	PaymentType string          `json:"paymentType"`
	ItemCount   int             `json:"itemCount"`
	CreatedAt   time.Time       `json:"createdAt"`
}

type OrderFilters struct {
	Status *order.Status
}

//go:generate mockgen -source=order.go -destination=../../../tests/mock/queries/order_mock.go -package=queriesmock

type OrderReadStore interface {
	FindByID(ctx context.Context, id uuid.UUID) (*OrderView, error)
	FindByOwnerFirstPage(ctx context.Context, owner string, limit int32) ([]*OrderListItem, error)
	FindByOwnerKeyset(ctx context.Context, owner string, lastCreatedAt time.Time, lastID uuid.UUID, limit int32) ([]*OrderListItem, error)
	FindAllFirstPage(ctx context.Context, status *order.Status, limit int32) ([]*OrderListItem, error)
	FindAllKeyset(ctx context.Context, status *order.Status, lastCreatedAt time.Time, lastID uuid.UUID, limit int32) ([]*OrderListItem, error)
}

type OrderQueries interface {
	// GetByID returns the order when the actor owns it or is staff.
	GetByID(ctx context.Context, actor auth.Identity, id uuid.UUID) (*OrderView, error)
	ListMine(ctx context.Context, actor auth.Identity, cursor *Cursor, limit int) ([]*OrderListItem, *Cursor, error)
	ListAll(ctx context.Context, filters OrderFilters, cursor *Cursor, limit int) ([]*OrderListItem, *Cursor, error)
}

type orderQueriesImpl struct {
	repo OrderReadStore
}

func NewOrderQueries(repo OrderReadStore) OrderQueries {
	return &orderQueriesImpl{repo: repo}
}

func (q *orderQueriesImpl) GetByID(ctx context.Context, actor auth.Identity, id uuid.UUID) (*OrderView, error) {
	view, err := q.repo.FindByID(ctx, id)
	if err != nil {
		if infra.IsKind(err, infra.KindNotFound) {
			return nil, ErrOrderNotFound
		}
		return nil, err
	}
	if view.Owner != actor.Owner() && !actor.Role.AtLeast(auth.RoleOperator) {
		// Hide existence of other customers' orders.
		return nil, ErrOrderNotFound
	}
	return view, nil
}

func (q *orderQueriesImpl) ListMine(ctx context.Context, actor auth.Identity, cursor *Cursor, limit int) ([]*OrderListItem, *Cursor, error) {
	if actor.UserID == nil && actor.SessionID == "" {
		return nil, nil, ErrOrderAccess
	}
	owner := actor.Owner()
	return paginate(cursor, limit,
		func(n int32) ([]*OrderListItem, error) { return q.repo.FindByOwnerFirstPage(ctx, owner, n) },
		func(at time.Time, id uuid.UUID, n int32) ([]*OrderListItem, error) {
			return q.repo.FindByOwnerKeyset(ctx, owner, at, id, n)
		},
	)
}

func (q *orderQueriesImpl) ListAll(ctx context.Context, filters OrderFilters, cursor *Cursor, limit int) ([]*OrderListItem, *Cursor, error) {
	return paginate(cursor, limit,
		func(n int32) ([]*OrderListItem, error) { return q.repo.FindAllFirstPage(ctx, filters.Status, n) },
		func(at time.Time, id uuid.UUID, n int32) ([]*OrderListItem, error) {
			return q.repo.FindAllKeyset(ctx, filters.Status, at, id, n)
		},
	)
}

// paginate fetches one extra row to decide whether another page exists.
func paginate(
	cursor *Cursor,
	limit int,
	first func(limit int32) ([]*OrderListItem, error),
	after func(lastCreatedAt time.Time, lastID uuid.UUID, limit int32) ([]*OrderListItem, error),
) ([]*OrderListItem, *Cursor, error) {
	limit = ValidateLimit(limit)
	var (
		rows []*OrderListItem
		err  error
	)
	if cursor == nil || cursor.After == "" {
		rows, err = first(int32(limit + 1))
	} else {
		lastCreatedAt, lastID, derr := DecodeAfterCursor(cursor.After)
		if derr != nil {
			return nil, nil, ErrInvalidCursor
		}
		rows, err = after(lastCreatedAt, lastID, int32(limit+1))
	}
	if err != nil {
		return nil, nil, err
	}
	var next *Cursor
	if len(rows) > limit {
		last := rows[limit-1]
		next = &Cursor{After: EncodeAfterCursor(last.CreatedAt, last.ID)}
		rows = rows[:limit]
	}
	return rows, next, nil
}
