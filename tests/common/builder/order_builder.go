//go:build unit || e2e

package builder

import (
	"time"

	"storefront/internal/domain/order"
	"storefront/internal/domain/payment"
	"storefront/internal/usecase/queries"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type OrderBuilder struct {
	ID        uuid.UUID
	UserID    uuid.UUID
	Status    order.Status
	Items     int
	CreatedAt time.Time
}

func NewOrderBuilder() *OrderBuilder {
	return &OrderBuilder{
		ID:        uuid.New(),
		UserID:    uuid.New(),
		Status:    order.StatusPending,
		Items:     1,
		CreatedAt: time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC),
	}
}

func (b *OrderBuilder) With(mutate func(*OrderBuilder)) *OrderBuilder {
	mutate(b)
	return b
}

func (b *OrderBuilder) BuildView() *queries.OrderView {
	userID := b.UserID
	items := make([]queries.OrderItemView, 0, b.Items)
	for i := 0; i < b.Items; i++ {
		items = append(items, queries.OrderItemView{
			ProductID:           uuid.New(),
			ProductName:         "Widget",
			Quantity:            2,
			UnitPriceAtPurchase: decimal.RequireFromString("20.00"),
		})
	}
	return &queries.OrderView{
		ID:          b.ID,
		UserID:      &userID,
		Owner:       "user:" + userID.String(),
		Status:      b.Status.String(),
		Subtotal:    decimal.RequireFromString("40.00"),
		Discount:    decimal.Zero,
		DeliveryFee: decimal.RequireFromString("5.99"),
		Total:       decimal.RequireFromString("45.99"),
		Currency:    "USD",
		PaymentType: payment.ProviderCard.String(),
		ProviderRef: "pi_" + b.ID.String()[:8],
		ShippingAddress: order.Address{
			Name:       "Ada Lovelace",
			Line1:      "12 Analytical Way",
			City:       "London",
			PostalCode: "N1 9GU",
			Country:    "GB",
		},
		Items:     items,
		History:   []queries.OrderHistoryView{{Status: order.StatusPending.String(), CreatedAt: b.CreatedAt}},
		CreatedAt: b.CreatedAt,
		UpdatedAt: b.CreatedAt,
	}
}

func (b *OrderBuilder) BuildListItem() *queries.OrderListItem {
	return &queries.OrderListItem{
		ID:          b.ID,
		Owner:       "user:" + b.UserID.String(),
		Status:      b.Status.String(),
		Total:       decimal.RequireFromString("45.99"),
		Currency:    "USD",
		PaymentType: payment.ProviderCard.String(),
		ItemCount:   b.Items,
		CreatedAt:   b.CreatedAt,
	}
}
