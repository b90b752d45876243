package response

import (
	"time"

	"storefront/internal/domain/pricing"
	"storefront/internal/usecase/commands"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type QuoteResponse struct {
	Subtotal    decimal.Decimal `json:"subtotal"`
	Discount    decimal.Decimal `json:"discount"`
	DeliveryFee decimal.Decimal `json:"deliveryFee"`
	Total       decimal.Decimal `json:"total"`
	Currency    string          `json:"currency"`
}

func fromQuote(q pricing.Quote, currency string) QuoteResponse {
	return QuoteResponse{
		Subtotal:    q.Subtotal,
		Discount:    q.Discount,
		DeliveryFee: q.DeliveryFee,
		Total:       q.Total,
		Currency:    currency,
	}
}

type PrepareCheckoutResponse struct {
	AttemptKey  string        `json:"attemptKey"`
	IntentID    string        `json:"intentId,omitempty"`
	Provider    string        `json:"provider"`
	ExternalRef string        `json:"externalRef,omitempty"`
	NextAction  string        `json:"nextAction,omitempty"`
	Quote       QuoteResponse `json:"quote"`
	ExpiresAt   int64         `json:"expiresAt"`
	OrderID     *string       `json:"orderId,omitempty"`
}

func FromPrepareResult(r *commands.PrepareResult) *PrepareCheckoutResponse {
	res := &PrepareCheckoutResponse{
		AttemptKey:  r.AttemptKey,
		Provider:    r.Provider.String(),
		ExternalRef: r.ExternalRef,
		NextAction:  r.NextAction,
		Quote:       fromQuote(r.Quote, r.Currency),
		ExpiresAt:   unixOrZero(r.ExpiresAt),
	}
	if r.IntentID != uuid.Nil {
		res.IntentID = r.IntentID.String()
	}
	if r.OrderID != nil {
		id := r.OrderID.String()
		res.OrderID = &id
	}
	return res
}

type CheckoutResponse struct {
	OrderID    string        `json:"orderId"`
	AttemptKey string        `json:"attemptKey"`
	Quote      QuoteResponse `json:"quote"`
	Replayed   bool          `json:"replayed"`
}

func FromCheckoutResult(r *commands.CheckoutResult) *CheckoutResponse {
	return &CheckoutResponse{
		OrderID:    r.OrderID.String(),
		AttemptKey: r.AttemptKey,
		Quote:      fromQuote(r.Quote, r.Currency),
		Replayed:   r.Replayed,
	}
}

type PaymentEventResponse struct {
	IntentID string  `json:"intentId"`
	Status   string  `json:"status"`
	OrderID  *string `json:"orderId,omitempty"`
	Released bool    `json:"released"`
}

func FromPaymentEventResult(r *commands.PaymentEventResult) *PaymentEventResponse {
	res := &PaymentEventResponse{
		IntentID: r.IntentID.String(),
		Status:   string(r.Status),
		Released: r.Released,
	}
	if r.OrderID != nil {
		id := r.OrderID.String()
		res.OrderID = &id
	}
	return res
}

func unixOrZero(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.Unix()
}
