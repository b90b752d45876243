package payment

import (
	"context"

	"storefront/internal/domain/payment"
	"storefront/internal/pkg/clock"

	"github.com/shopspring/decimal"
)

const (
	PayPalStatusCreated   = "CREATED"
	PayPalStatusApproved  = "APPROVED"
	PayPalStatusCompleted = "COMPLETED"
	PayPalStatusVoided    = "VOIDED"
	PayPalStatusDeclined  = "DECLINED"
)

type PayPalOrderRequest struct {
	RequestID string
	Amount    decimal.Decimal
	Currency  string
}

type PayPalCaptureRequest struct {
	RequestID  string
	PayerToken string
}

type PayPalOrder struct {
	ID            string
	Status        string
	Amount        decimal.Decimal
	Currency      string
	ApproveURL    string
	CaptureID     string
	DeclineReason string
}

// PayPalAPI is the subset of the PayPal Orders API the store uses.
type PayPalAPI interface {
	CreateOrder(ctx context.Context, req PayPalOrderRequest) (*PayPalOrder, error)
	GetOrder(ctx context.Context, id string) (*PayPalOrder, error)
	CaptureOrder(ctx context.Context, id string, req PayPalCaptureRequest) (*PayPalOrder, error)
	VoidOrder(ctx context.Context, id string) error
}

type paypalOps struct {
	api PayPalAPI
}

func NewPayPalGateway(api PayPalAPI, store IntentStore, clk clock.Clock, s Settings) *Adapter {
	return newAdapter(payment.ProviderPayPal, &paypalOps{api: api}, store, clk, s)
}

func (o *paypalOps) create(ctx context.Context, req payment.IntentRequest) (string, string, error) {
	order, err := o.api.CreateOrder(ctx, PayPalOrderRequest{
		RequestID: req.IdempotencyKey,
		Amount:    req.Amount,
		Currency:  req.Currency,
	})
	if err != nil {
		return "", "", err
	}
	return order.ID, order.ApproveURL, nil
}

func (o *paypalOps) authorized(ctx context.Context, in *payment.Intent, _ payment.Confirmation) (*decimal.Decimal, error) {
	order, err := o.api.GetOrder(ctx, in.ExternalRef)
	if err != nil {
		return nil, err
	}
	switch order.Status {
	case PayPalStatusApproved, PayPalStatusCompleted:
		return &order.Amount, nil
	case PayPalStatusDeclined:
		return nil, declined(order.DeclineReason)
	default:
		return nil, declined("ORDER_NOT_APPROVED")
	}
}

func (o *paypalOps) capture(ctx context.Context, in *payment.Intent, c payment.Confirmation) (string, error) {
	order, err := o.api.CaptureOrder(ctx, in.ExternalRef, PayPalCaptureRequest{
		RequestID:  in.IdempotencyKey,
		PayerToken: c.Token,
	})
	if err != nil {
		return "", err
	}
	if order.Status != PayPalStatusCompleted {
		return "", declined(order.DeclineReason)
	}
	return order.CaptureID, nil
}

func (o *paypalOps) lookup(ctx context.Context, in *payment.Intent) (remoteState, error) {
	order, err := o.api.GetOrder(ctx, in.ExternalRef)
	if err != nil {
		return remoteState{}, err
	}
	st := remoteState{Status: payment.StatusCreated, Amount: order.Amount}
	switch order.Status {
	case PayPalStatusCompleted:
		st.Status = payment.StatusCaptured
		st.CaptureRef = order.CaptureID
	case PayPalStatusVoided:
		st.Status = payment.StatusVoided
	case PayPalStatusDeclined:
		st.Status = payment.StatusFailed
		st.Reason = order.DeclineReason
	}
	return st, nil
}

func (o *paypalOps) void(ctx context.Context, in *payment.Intent) error {
	return o.api.VoidOrder(ctx, in.ExternalRef)
}
