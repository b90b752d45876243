package commands

import (
	"context"
	"errors"
	"log/slog"

	"storefront/internal/domain/auth"
	"storefront/internal/domain/notification"
	"storefront/internal/domain/order"
	"storefront/internal/infra/metrics"
	"storefront/internal/pkg/clock"
	"storefront/internal/pkg/errs"
	"storefront/internal/usecase/shared"

	"github.com/google/uuid"
)

//go:generate mockgen -source=order_status.go -destination=../../../tests/mock/commands/order_status_mock.go -package=commandsmock

var (
	ErrStaffOnly            = errs.New("order status changes require staff role")
	ErrConcurrentTransition = errs.New("order status changed concurrently")
)

type TransitionInput struct {
	OrderID uuid.UUID
	To      order.Status
	Details order.TransitionDetails
}

type TransitionResult struct {
	OrderID uuid.UUID
	From    order.Status
	To      order.Status
	// StockReturned is true when this transition credited committed stock back.
	StockReturned bool
}

type OrderStatusCommands interface {
	Transition(ctx context.Context, actor auth.Identity, in TransitionInput) (*TransitionResult, error)
}

type orderStatusUseCaseImpl struct {
	uow   shared.UnitOfWork
	relay shared.NotificationRelay
	clock clock.Clock
}

func NewOrderStatusUseCase(uow shared.UnitOfWork, relay shared.NotificationRelay, clk clock.Clock) OrderStatusCommands {
	return &orderStatusUseCaseImpl{uow: uow, relay: relay, clock: clk}
}

func (uc *orderStatusUseCaseImpl) Transition(ctx context.Context, actor auth.Identity, in TransitionInput) (result *TransitionResult, err error) {
	defer func() { metrics.RecordOrderTransition(string(in.To), err == nil) }()

	if !actor.Role.AtLeast(auth.RoleOperator) {
		return nil, ErrStaffOnly
	}

	err = uc.uow.Within(ctx, func(ctx context.Context, tx shared.Tx) error {
		o, err := tx.Orders().LockByID(ctx, in.OrderID)
		if err != nil {
			return err
		}
		from := o.Status()
		now := uc.clock.Now()
		entry, err := o.Transition(in.To, in.Details, now)
		if err != nil {
			return err
		}
		ok, err := tx.Orders().UpdateStatus(ctx, o, from, entry)
		if err != nil {
			return err
		}
		if !ok {
			return ErrConcurrentTransition
		}

		returned := false
		if order.ReturnsStock(in.To) {
			if returned, err = tx.Stock().ReturnOrderStock(ctx, o.ID()); err != nil {
				return err
			}
		}

		ev, err := notification.New(notification.KindStatusChanged, o.ID(), o.Owner(), notification.StatusChangedPayload{
			From:           string(from),
			To:             string(in.To),
			Notes:          in.Details.Notes,
			TrackingNumber: o.TrackingNumber(),
			CourierService: o.CourierService(),
		}, now)
		if err != nil {
			return err
		}
		if err := tx.Outbox().Enqueue(ctx, ev); err != nil {
			return err
		}
		result = &TransitionResult{OrderID: o.ID(), From: from, To: in.To, StockReturned: returned}
		return nil
	})
	if err != nil {
		var invalid *order.InvalidTransitionError
		if !errors.As(err, &invalid) && !errors.Is(err, order.ErrNotFound) {
			slog.ErrorContext(ctx, "order status transition failed",
				slog.String("order_id", in.OrderID.String()),
				slog.String("to", string(in.To)),
				slog.Any("error", err))
		}
		return nil, err
	}

	if uc.relay != nil {
		uc.relay.Wake()
	}
	slog.InfoContext(ctx, "order status changed",
		slog.String("order_id", result.OrderID.String()),
		slog.String("from", string(result.From)),
		slog.String("to", string(result.To)),
		slog.Bool("stock_returned", result.StockReturned))
	return result, nil
}
