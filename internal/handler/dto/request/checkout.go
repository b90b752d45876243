package request

import (
	"strings"

	"storefront/internal/domain/checkout"
	"storefront/internal/domain/order"
	"storefront/internal/domain/payment"
	"storefront/internal/usecase/commands"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type CartItemRequest struct {
	ProductID uuid.UUID `json:"productId" binding:"required"`
	Quantity  int       `json:"quantity" binding:"required,min=1,max=1000"`
	Color     *string   `json:"color,omitempty" binding:"omitempty,max=50"`
	Size      *string   `json:"size,omitempty" binding:"omitempty,max=20"`
}

type ShippingAddressRequest struct {
	Name       string  `json:"name" binding:"required,max=200"`
	Line1      string  `json:"line1" binding:"required,max=200"`
	Line2      *string `json:"line2,omitempty" binding:"omitempty,max=200"`
	City       string  `json:"city" binding:"required,max=100"`
	Region     *string `json:"region,omitempty" binding:"omitempty,max=100"`
	PostalCode string  `json:"postalCode" binding:"required,max=20"`
	Country    string  `json:"country" binding:"required,len=2"`
	Phone      *string `json:"phone,omitempty" binding:"omitempty,max=30"`
}

type PrepareCheckoutRequest struct {
	Items           []CartItemRequest      `json:"items" binding:"required,min=1,max=100,dive"`
	DiscountCode    *string                `json:"discountCode,omitempty" binding:"omitempty,max=50"`
	ShippingAddress ShippingAddressRequest `json:"shippingAddress" binding:"required"`
	CustomerNotes   *string                `json:"customerNotes,omitempty" binding:"omitempty,max=1000"`
	PaymentMethod   string                 `json:"paymentMethod" binding:"required,oneof=PAYPAL CARD WALLET paypal card wallet"`
	Nonce           string                 `json:"nonce,omitempty" binding:"omitempty,max=64"`
}

type CheckoutRequest struct {
	PrepareCheckoutRequest
	// PaymentToken is the provider token, approval id or wallet confirmation obtained by the client.
	PaymentToken    string           `json:"paymentToken,omitempty" binding:"omitempty,max=500"`
	ConfirmedAmount *decimal.Decimal `json:"confirmedAmount,omitempty"`
	ExpectedTotal   *decimal.Decimal `json:"expectedTotal,omitempty"`
}

func (r *PrepareCheckoutRequest) ToCommand() (commands.CheckoutRequest, error) {
	provider, err := payment.ParseProvider(r.PaymentMethod)
	if err != nil {
		return commands.CheckoutRequest{}, err
	}
	cart := make(checkout.Cart, 0, len(r.Items))
	for _, it := range r.Items {
		cart = append(cart, checkout.CartLine{
			ProductID: it.ProductID,
			Quantity:  it.Quantity,
			Color:     it.Color,
			Size:      it.Size,
		})
	}
	return commands.CheckoutRequest{
		Cart:            cart,
		DiscountCode:    trimmed(r.DiscountCode),
		ShippingAddress: r.ShippingAddress.toDomain(),
		CustomerNotes:   trimmed(r.CustomerNotes),
		Provider:        provider,
		Nonce:           r.Nonce,
	}, nil
}

func (r *CheckoutRequest) ToCommand() (commands.CheckoutRequest, error) {
	cmd, err := r.PrepareCheckoutRequest.ToCommand()
	if err != nil {
		return commands.CheckoutRequest{}, err
	}
	cmd.Confirmation = payment.Confirmation{
		Token:           r.PaymentToken,
		ConfirmedAmount: r.ConfirmedAmount,
	}
	cmd.ExpectedTotal = r.ExpectedTotal
	return cmd, nil
}

func (a ShippingAddressRequest) toDomain() order.Address {
	return order.Address{
		Name:       strings.TrimSpace(a.Name),
		Line1:      strings.TrimSpace(a.Line1),
		Line2:      trimmed(a.Line2),
		City:       strings.TrimSpace(a.City),
		Region:     trimmed(a.Region),
		PostalCode: strings.TrimSpace(a.PostalCode),
		Country:    strings.ToUpper(strings.TrimSpace(a.Country)),
		Phone:      trimmed(a.Phone),
	}
}

func trimmed(s *string) *string {
	if s == nil {
		return nil
	}
	v := strings.TrimSpace(*s)
	if v == "" {
		return nil
	}
	return &v
}
