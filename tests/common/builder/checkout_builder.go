//go:build unit || e2e

package builder

import (
	"time"

	"storefront/internal/domain/payment"
	"storefront/internal/domain/pricing"
	reqdto "storefront/internal/handler/dto/request"
	"storefront/internal/usecase/commands"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type CheckoutLine struct {
	ProductID uuid.UUID
	Quantity  int
}

type CheckoutBuilder struct {
	Lines         []CheckoutLine
	DiscountCode  *string
	PaymentMethod payment.Provider
	PaymentToken  string
	ExpectedTotal *decimal.Decimal
	Quote         pricing.Quote
	Currency      string
}

func NewCheckoutBuilder() *CheckoutBuilder {
	return &CheckoutBuilder{
		Lines:         []CheckoutLine{{ProductID: uuid.New(), Quantity: 1}},
		PaymentMethod: payment.ProviderCard,
		PaymentToken:  "tok_visa",
		Quote: pricing.Quote{
			Subtotal:    decimal.RequireFromString("40.00"),
			Discount:    decimal.Zero,
			DeliveryFee: decimal.RequireFromString("5.99"),
			Total:       decimal.RequireFromString("45.99"),
		},
		Currency: "USD",
	}
}

func (b *CheckoutBuilder) With(mutate func(*CheckoutBuilder)) *CheckoutBuilder {
	mutate(b)
	return b
}

func (b *CheckoutBuilder) BuildPrepareRequestDTO() reqdto.PrepareCheckoutRequest {
	items := make([]reqdto.CartItemRequest, 0, len(b.Lines))
	for _, l := range b.Lines {
		items = append(items, reqdto.CartItemRequest{ProductID: l.ProductID, Quantity: l.Quantity})
	}
	return reqdto.PrepareCheckoutRequest{
		Items:        items,
		DiscountCode: b.DiscountCode,
		ShippingAddress: reqdto.ShippingAddressRequest{
			Name:       "Ada Lovelace",
			Line1:      "12 Analytical Way",
			City:       "London",
			PostalCode: "N1 9GU",
			Country:    "GB",
		},
		PaymentMethod: b.PaymentMethod.String(),
	}
}

func (b *CheckoutBuilder) BuildRequestDTO() reqdto.CheckoutRequest {
	return reqdto.CheckoutRequest{
		PrepareCheckoutRequest: b.BuildPrepareRequestDTO(),
		PaymentToken:           b.PaymentToken,
		ExpectedTotal:          b.ExpectedTotal,
	}
}

func (b *CheckoutBuilder) BuildResult() *commands.CheckoutResult {
	return &commands.CheckoutResult{
		OrderID:    uuid.New(),
		AttemptKey: "attempt-" + uuid.NewString()[:8],
		Quote:      b.Quote,
		Currency:   b.Currency,
	}
}

func (b *CheckoutBuilder) BuildPrepareResult(orderID *uuid.UUID) *commands.PrepareResult {
	return &commands.PrepareResult{
		AttemptKey:  "attempt-" + uuid.NewString()[:8],
		IntentID:    uuid.New(),
		Provider:    b.PaymentMethod,
		ExternalRef: "ORDER-" + uuid.NewString()[:8],
		NextAction:  "https://sandbox.paypal.example/approve",
		Quote:       b.Quote,
		Currency:    b.Currency,
		ExpiresAt:   time.Now().Add(10 * time.Minute),
		OrderID:     orderID,
	}
}
