package response

import (
	"time"

	"storefront/internal/domain/order"
	"storefront/internal/usecase/commands"
	"storefront/internal/usecase/queries"

	"github.com/google/uuid"
	"github.com/jinzhu/copier"
	"github.com/shopspring/decimal"
)

type OrderItemResponse struct {
	ProductID           uuid.UUID       `json:"productId"`
	ProductName         string          `json:"productName"`
	Quantity            int             `json:"quantity"`
	UnitPriceAtPurchase decimal.Decimal `json:"unitPriceAtPurchase"`
	Color               *string         `json:"color,omitempty"`
	Size                *string         `json:"size,omitempty"`
}

type OrderHistoryResponse struct {
	Status    string    `json:"status"`
	Notes     *string   `json:"notes,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
}

type OrderResponse struct {
	ID                uuid.UUID              `json:"id"`
	Status            string                 `json:"status"`
	Subtotal          decimal.Decimal        `json:"subtotal"`
	Discount          decimal.Decimal        `json:"discount"`
	DeliveryFee       decimal.Decimal        `json:"deliveryFee"`
	Total             decimal.Decimal        `json:"total"`
	Currency          string                 `json:"currency"`
	PaymentType       string                 `json:"paymentType"`
	DiscountCode      *string                `json:"discountCode,omitempty"`
	TrackingNumber    *string                `json:"trackingNumber,omitempty"`
	CourierService    *string                `json:"courierService,omitempty"`
	EstimatedDelivery *time.Time             `json:"estimatedDelivery,omitempty"`
	ActualDelivery    *time.Time             `json:"actualDelivery,omitempty"`
	ShippingAddress   order.Address          `json:"shippingAddress"`
	CustomerNotes     *string                `json:"customerNotes,omitempty"`
	Items             []OrderItemResponse    `json:"items"`
	History           []OrderHistoryResponse `json:"history"`
	CreatedAt         time.Time              `json:"createdAt"`
	UpdatedAt         time.Time              `json:"updatedAt"`
}

// FromOrderView leaves out the owner and provider reference, which are internal.
func FromOrderView(v *queries.OrderView) (*OrderResponse, error) {
	var res OrderResponse
	if err := copier.Copy(&res, v); err != nil {
		return nil, err
	}
	if res.Items == nil {
		res.Items = []OrderItemResponse{}
	}
	if res.History == nil {
		res.History = []OrderHistoryResponse{}
	}
	return &res, nil
}

type OrderListItemResponse struct {
	ID          uuid.UUID       `json:"id"`
	Status      string          `json:"status"`
	Total       decimal.Decimal `json:"total"`
	Currency    string          `json:"currency"`
	PaymentType string          `json:"paymentType"`
	ItemCount   int             `json:"itemCount"`
	CreatedAt   time.Time       `json:"createdAt"`
}

type OrderListResponse struct {
	Items      []OrderListItemResponse `json:"items"`
	NextCursor *string                 `json:"nextCursor,omitempty"`
}

func FromOrderList(items []*queries.OrderListItem, next *queries.Cursor) (*OrderListResponse, error) {
	res := &OrderListResponse{Items: make([]OrderListItemResponse, 0, len(items))}
	for _, it := range items {
		var out OrderListItemResponse
		if err := copier.Copy(&out, it); err != nil {
			return nil, err
		}
		res.Items = append(res.Items, out)
	}
	if next != nil && next.After != "" {
		after := next.After
		res.NextCursor = &after
	}
	return res, nil
}

type TransitionOrderStatusResponse struct {
	OrderID       uuid.UUID `json:"orderId"`
	From          string    `json:"from"`
	To            string    `json:"to"`
	StockReturned bool      `json:"stockReturned"`
}

func FromTransitionResult(r *commands.TransitionResult) *TransitionOrderStatusResponse {
	return &TransitionOrderStatusResponse{
		OrderID:       r.OrderID,
		From:          r.From.String(),
		To:            r.To.String(),
		StockReturned: r.StockReturned,
	}
}
