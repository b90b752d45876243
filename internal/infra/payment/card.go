package payment

import (
	"context"

	"storefront/internal/domain/payment"
	"storefront/internal/pkg/clock"

	"github.com/shopspring/decimal"
)

const (
	CardStatusRequiresPaymentMethod = "requires_payment_method"
	CardStatusSucceeded             = "succeeded"
	CardStatusCanceled              = "canceled"
	CardStatusFailed                = "failed"
)

type CardIntentParams struct {
	Amount         decimal.Decimal
	Currency       string
	IdempotencyKey string
}

type CardConfirmParams struct {
	PaymentMethod  string
	IdempotencyKey string
}

type CardIntent struct {
	ID           string
	Status       string
	Amount       decimal.Decimal
	Currency     string
	ClientSecret string
	ChargeID     string
	DeclineCode  string
}

// CardAPI follows the payment-intent model of card processors.
type CardAPI interface {
	CreatePaymentIntent(ctx context.Context, params CardIntentParams) (*CardIntent, error)
	RetrievePaymentIntent(ctx context.Context, id string) (*CardIntent, error)
	ConfirmPaymentIntent(ctx context.Context, id string, params CardConfirmParams) (*CardIntent, error)
	CancelPaymentIntent(ctx context.Context, id string) error
}

type cardOps struct {
	api CardAPI
}

func NewCardGateway(api CardAPI, store IntentStore, clk clock.Clock, s Settings) *Adapter {
	return newAdapter(payment.ProviderCard, &cardOps{api: api}, store, clk, s)
}

func (o *cardOps) create(ctx context.Context, req payment.IntentRequest) (string, string, error) {
	pi, err := o.api.CreatePaymentIntent(ctx, CardIntentParams{
		Amount:         req.Amount,
		Currency:       req.Currency,
		IdempotencyKey: req.IdempotencyKey,
	})
	if err != nil {
		return "", "", err
	}
	return pi.ID, "confirm_card:" + pi.ClientSecret, nil
}

func (o *cardOps) authorized(ctx context.Context, in *payment.Intent, _ payment.Confirmation) (*decimal.Decimal, error) {
	pi, err := o.api.RetrievePaymentIntent(ctx, in.ExternalRef)
	if err != nil {
		return nil, err
	}
	if pi.Status == CardStatusCanceled {
		return nil, declined("intent_canceled")
	}
	return &pi.Amount, nil
}

func (o *cardOps) capture(ctx context.Context, in *payment.Intent, c payment.Confirmation) (string, error) {
	pi, err := o.api.ConfirmPaymentIntent(ctx, in.ExternalRef, CardConfirmParams{
		PaymentMethod:  c.Token,
		IdempotencyKey: in.IdempotencyKey + ":confirm",
	})
	if err != nil {
		return "", err
	}
	if pi.Status != CardStatusSucceeded {
		return "", declined(pi.DeclineCode)
	}
	return pi.ChargeID, nil
}

func (o *cardOps) lookup(ctx context.Context, in *payment.Intent) (remoteState, error) {
	pi, err := o.api.RetrievePaymentIntent(ctx, in.ExternalRef)
	if err != nil {
		return remoteState{}, err
	}
	st := remoteState{Status: payment.StatusCreated, Amount: pi.Amount}
	switch pi.Status {
	case CardStatusSucceeded:
		st.Status = payment.StatusCaptured
		st.CaptureRef = pi.ChargeID
	case CardStatusCanceled:
		st.Status = payment.StatusVoided
	case CardStatusFailed:
		st.Status = payment.StatusFailed
		st.Reason = pi.DeclineCode
	}
	return st, nil
}

func (o *cardOps) void(ctx context.Context, in *payment.Intent) error {
	return o.api.CancelPaymentIntent(ctx, in.ExternalRef)
}
