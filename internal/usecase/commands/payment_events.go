package commands

import (
	"context"
	"crypto/subtle"
	"errors"
	"log/slog"

	"storefront/internal/domain/checkout"
	"storefront/internal/domain/payment"
	"storefront/internal/pkg/errs"
	"storefront/internal/usecase/shared"

	"github.com/google/uuid"
)

//go:generate mockgen -source=payment_events.go -destination=../../../tests/mock/commands/payment_events_mock.go -package=commandsmock

var ErrInvalidWebhookSecret = errs.New("invalid webhook secret")

type PaymentEventInput struct {
	Provider     payment.Provider
	Secret       string
	Notification payment.Notification
}

type PaymentEventResult struct {
	IntentID uuid.UUID
	Status   payment.Status
	OrderID  *uuid.UUID
	Released bool
}

// PaymentEventCommands applies asynchronous provider callbacks. The provider's
// status is authoritative; the callback only tells us which intent to look at.
type PaymentEventCommands interface {
	Handle(ctx context.Context, in PaymentEventInput) (*PaymentEventResult, error)
}

type paymentEventUseCaseImpl struct {
	uow      shared.UnitOfWork
	payments payment.Registry
	checkout CheckoutCommands
	secret   string
}

func NewPaymentEventUseCase(uow shared.UnitOfWork, payments payment.Registry, checkout CheckoutCommands, secret string) PaymentEventCommands {
	return &paymentEventUseCaseImpl{uow: uow, payments: payments, checkout: checkout, secret: secret}
}

func (uc *paymentEventUseCaseImpl) Handle(ctx context.Context, in PaymentEventInput) (*PaymentEventResult, error) {
	if uc.secret == "" || subtle.ConstantTimeCompare([]byte(in.Secret), []byte(uc.secret)) != 1 {
		return nil, ErrInvalidWebhookSecret
	}
	gw, err := uc.payments.Gateway(in.Provider)
	if err != nil {
		return nil, err
	}
	intent, err := gw.ApplyNotification(ctx, in.Notification)
	if err != nil {
		return nil, err
	}

	result := &PaymentEventResult{IntentID: intent.ID, Status: intent.Status}
	switch intent.Status {
	case payment.StatusCaptured:
		orderID, err := uc.checkout.CompleteCaptured(ctx, intent.ID)
		if err != nil {
			return nil, err
		}
		result.OrderID = &orderID
	case payment.StatusFailed, payment.StatusVoided:
		released, err := uc.release(ctx, intent)
		if err != nil {
			return nil, err
		}
		result.Released = released
	}
	return result, nil
}

// release hands the attempt's reservation to the abandon path, which
// re-checks the intent before giving stock back.
func (uc *paymentEventUseCaseImpl) release(ctx context.Context, intent *payment.Intent) (bool, error) {
	a, err := uc.uow.CommandReads().AttemptByIntent(ctx, intent.ID)
	if errors.Is(err, checkout.ErrAttemptNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if a.State.Terminal() || a.ReservationID == nil {
		return false, nil
	}
	res, err := uc.uow.CommandReads().ReservationByID(ctx, *a.ReservationID)
	if err != nil {
		return false, err
	}
	outcome, err := uc.checkout.Abandon(ctx, *res)
	if err != nil {
		return false, err
	}
	slog.InfoContext(ctx, "payment callback settled reservation",
		slog.String("intent_id", intent.ID.String()),
		slog.String("status", string(intent.Status)),
		slog.String("outcome", string(outcome)))
	return outcome == SweepReleased, nil
}
