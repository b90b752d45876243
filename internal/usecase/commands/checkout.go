package commands

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"storefront/internal/domain/auth"
	"storefront/internal/domain/checkout"
	"storefront/internal/domain/discount"
	"storefront/internal/domain/notification"
	"storefront/internal/domain/order"
	"storefront/internal/domain/payment"
	"storefront/internal/domain/pricing"
	"storefront/internal/domain/stock"
	"storefront/internal/infra/metrics"
	"storefront/internal/pkg/clock"
	"storefront/internal/pkg/config"
	"storefront/internal/pkg/ptr"
	"storefront/internal/usecase/shared"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

//go:generate mockgen -source=checkout.go -destination=../../../tests/mock/commands/checkout_mock.go -package=commandsmock

type CheckoutRequest struct {
	Cart            checkout.Cart
	DiscountCode    *string
	ShippingAddress order.Address
	CustomerNotes   *string
	Provider        payment.Provider
	Confirmation    payment.Confirmation
	// ExpectedTotal is the total the client showed the payer.
	ExpectedTotal *decimal.Decimal
	// Nonce lets a client start a second attempt for an identical cart.
	Nonce string
}

type PrepareResult struct {
	AttemptKey  string
	IntentID    uuid.UUID
	Provider    payment.Provider
	ExternalRef string
	NextAction  string
	Quote       pricing.Quote
	Currency    string
	ExpiresAt   time.Time
	// OrderID is set when the attempt already completed.
	OrderID *uuid.UUID
}

type CheckoutResult struct {
	OrderID    uuid.UUID
	AttemptKey string
	Quote      pricing.Quote
	Currency   string
	Replayed   bool
}

type SweepOutcome string

const (
	SweepReleased  SweepOutcome = "released"
	SweepCompleted SweepOutcome = "completed"
	SweepDeferred  SweepOutcome = "deferred"
)

type CheckoutCommands interface {
	// Prepare reserves stock and creates the payment intent without capturing it.
	Prepare(ctx context.Context, actor auth.Identity, req CheckoutRequest) (*PrepareResult, error)
	Checkout(ctx context.Context, actor auth.Identity, req CheckoutRequest) (*CheckoutResult, error)
	// CompleteCaptured records the order for an intent captured outside the request path.
	CompleteCaptured(ctx context.Context, intentID uuid.UUID) (uuid.UUID, error)
	// Abandon settles an expired reservation: it resolves payment first and only
	// releases stock when no money moved.
	Abandon(ctx context.Context, res stock.Reservation) (SweepOutcome, error)
}

type checkoutUseCaseImpl struct {
	uow      shared.UnitOfWork
	engine   *pricing.Engine
	payments payment.Registry
	relay    shared.NotificationRelay
	clock    clock.Clock
	cfg      config.CheckoutConfig
}

func NewCheckoutUseCase(
	uow shared.UnitOfWork,
	engine *pricing.Engine,
	payments payment.Registry,
	relay shared.NotificationRelay,
	clk clock.Clock,
	cfg config.CheckoutConfig,
) CheckoutCommands {
	return &checkoutUseCaseImpl{
		uow:      uow,
		engine:   engine,
		payments: payments,
		relay:    relay,
		clock:    clk,
		cfg:      cfg,
	}
}

func (uc *checkoutUseCaseImpl) Checkout(ctx context.Context, actor auth.Identity, req CheckoutRequest) (result *CheckoutResult, err error) {
	defer func() { metrics.RecordCheckout("checkout", outcomeLabel(err)) }()

	gw, err := uc.validate(actor, req)
	if err != nil {
		return nil, err
	}
	key := checkout.DeriveKey(req.Cart, actor.Owner(), req.DiscountCode, req.Nonce)
	a, err := uc.claim(ctx, key, actor, req)
	if err != nil {
		return nil, err
	}

	var intent *payment.Intent
	switch a.State {
	case checkout.StateDone:
		return replayed(a), nil
	case checkout.StateAwaitingConfirmation:
		if a.Provider != req.Provider {
			return nil, payment.ErrIntentConflict
		}
		// The prepared attempt stays open; the sweeper releases it if never confirmed.
		if req.ExpectedTotal != nil && !req.ExpectedTotal.Equal(a.Snapshot.Quote.Total) {
			return nil, payment.NewCaptureError(req.Provider, payment.OutcomeAmountMismatch,
				"expected total "+req.ExpectedTotal.String()+" but order totals "+a.Snapshot.Quote.Total.String(), nil)
		}
		if a, intent, err = uc.resume(ctx, a); err != nil {
			return nil, err
		}
	default:
		if a, err = uc.reserve(ctx, a, actor, req); err != nil {
			return nil, err
		}
		if a.Snapshot.Quote.Total.IsZero() {
			return uc.finishWithoutCharge(ctx, a)
		}
		if a, intent, err = uc.createIntent(ctx, gw, a); err != nil {
			return nil, err
		}
	}

	captured, err := gw.Capture(ctx, intent, req.Confirmation)
	if err != nil {
		return nil, uc.paymentFailed(ctx, a, err)
	}
	uc.logTransition(ctx, a, checkout.StateCommitting)

	orderID, err := uc.complete(ctx, a.Key, captured)
	if err != nil {
		return nil, err
	}
	return &CheckoutResult{
		OrderID:    orderID,
		AttemptKey: a.Key,
		Quote:      a.Snapshot.Quote,
		Currency:   a.Snapshot.Currency,
	}, nil
}

func (uc *checkoutUseCaseImpl) Prepare(ctx context.Context, actor auth.Identity, req CheckoutRequest) (result *PrepareResult, err error) {
	defer func() { metrics.RecordCheckout("prepare", outcomeLabel(err)) }()

	gw, err := uc.validate(actor, req)
	if err != nil {
		return nil, err
	}
	key := checkout.DeriveKey(req.Cart, actor.Owner(), req.DiscountCode, req.Nonce)
	a, err := uc.claim(ctx, key, actor, req)
	if err != nil {
		return nil, err
	}
	if a.State == checkout.StateDone || a.State == checkout.StateAwaitingConfirmation {
		return uc.prepared(ctx, a)
	}

	if a, err = uc.reserve(ctx, a, actor, req); err != nil {
		return nil, err
	}
	if a.Snapshot.Quote.Total.IsZero() {
		done, err := uc.finishWithoutCharge(ctx, a)
		if err != nil {
			return nil, err
		}
		return &PrepareResult{
			AttemptKey: a.Key,
			Provider:   a.Provider,
			Quote:      done.Quote,
			Currency:   done.Currency,
			OrderID:    &done.OrderID,
		}, nil
	}

	a, intent, err := uc.createIntent(ctx, gw, a)
	if err != nil {
		return nil, err
	}
	if a, err = uc.advance(ctx, a, checkout.StatePaying, checkout.StateAwaitingConfirmation, nil); err != nil {
		return nil, uc.compensate(ctx, a, err)
	}
	return prepareResult(a, intent), nil
}

func (uc *checkoutUseCaseImpl) validate(actor auth.Identity, req CheckoutRequest) (payment.Gateway, error) {
	if err := actor.RequireVerified(); err != nil {
		return nil, err
	}
	if err := req.Cart.Validate(); err != nil {
		return nil, err
	}
	if err := req.ShippingAddress.Validate(); err != nil {
		return nil, err
	}
	return uc.payments.Gateway(req.Provider)
}

// claim returns the attempt this request owns. A fresh or re-armed attempt is
// in VALIDATING; DONE and AWAITING_CONFIRMATION attempts are returned as-is.
// A payment that stalled without a known outcome is settled first.
func (uc *checkoutUseCaseImpl) claim(ctx context.Context, key string, actor auth.Identity, req CheckoutRequest) (*checkout.Attempt, error) {
	now := uc.clock.Now()
	fresh := &checkout.Attempt{
		Key:        key,
		Owner:      actor.Owner(),
		Generation: 1,
		State:      checkout.StateValidating,
		Provider:   req.Provider,
		Snapshot:   checkout.Snapshot{Cart: req.Cart},
		ExpiresAt:  now.Add(uc.cfg.ReservationTTL),
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	var inserted bool
	err := uc.uow.Within(ctx, func(ctx context.Context, tx shared.Tx) error {
		var err error
		inserted, err = tx.Attempts().Insert(ctx, fresh)
		return err
	})
	if err != nil {
		return nil, err
	}
	if inserted {
		uc.logTransition(ctx, fresh, checkout.StateValidating)
		return fresh, nil
	}

	var waited time.Duration
	for {
		a, busy, err := uc.inspect(ctx, key, req)
		if err != nil {
			return nil, err
		}
		if !busy {
			if a.State == checkout.StatePaying {
				return uc.settleStalled(ctx, a)
			}
			return a, nil
		}
		if waited >= uc.cfg.InFlightWait {
			return nil, ErrCheckoutInProgress
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(uc.cfg.InFlightPoll):
		}
		waited += uc.cfg.InFlightPoll
	}
}

// inspect decides what to do with an existing attempt; busy means another
// request is still working on it.
func (uc *checkoutUseCaseImpl) inspect(ctx context.Context, key string, req CheckoutRequest) (*checkout.Attempt, bool, error) {
	var (
		out  *checkout.Attempt
		busy bool
	)
	err := uc.uow.Within(ctx, func(ctx context.Context, tx shared.Tx) error {
		a, err := tx.Attempts().LockByKey(ctx, key)
		if err != nil {
			return err
		}
		now := uc.clock.Now()
		switch {
		case a.State == checkout.StateDone, a.State == checkout.StateAwaitingConfirmation:
			out = a
		case a.State == checkout.StateFailed,
			a.State == checkout.StateValidating && !now.Before(a.ExpiresAt):
			next := *a
			next.Generation++
			next.State = checkout.StateValidating
			next.Provider = req.Provider
			next.ReservationID = nil
			next.IntentID = nil
			next.OrderID = nil
			next.FailureReason = nil
			next.Snapshot = checkout.Snapshot{Cart: req.Cart}
			next.ExpiresAt = now.Add(uc.cfg.ReservationTTL)
			next.UpdatedAt = now
			if err := tx.Attempts().Rearm(ctx, &next); err != nil {
				return err
			}
			out = &next
		case a.State == checkout.StatePaying && a.IntentID != nil && !now.Before(a.UpdatedAt.Add(uc.stallAfter())):
			out = a
		default:
			busy = true
		}
		return nil
	})
	if err != nil {
		return nil, false, err
	}
	if out != nil && out.State == checkout.StateValidating {
		uc.logTransition(ctx, out, checkout.StateValidating)
	}
	return out, busy, nil
}

func (uc *checkoutUseCaseImpl) stallAfter() time.Duration {
	if uc.cfg.PaymentStallAfter > 0 {
		return uc.cfg.PaymentStallAfter
	}
	return uc.cfg.InFlightWait
}

// settleStalled asks the provider what happened to a capture whose outcome
// was never recorded, then finishes the attempt either way.
func (uc *checkoutUseCaseImpl) settleStalled(ctx context.Context, a *checkout.Attempt) (*checkout.Attempt, error) {
	intent, err := uc.payments.Intent(ctx, *a.IntentID)
	if err != nil {
		return nil, err
	}
	gw, err := uc.payments.Gateway(intent.Provider)
	if err != nil {
		return nil, err
	}
	slog.WarnContext(ctx, "settling stalled payment",
		slog.String("attempt_key", a.Key),
		slog.String("provider", string(intent.Provider)),
		slog.String("intent_id", intent.ID.String()))

	resolved, err := gw.Resolve(ctx, intent)
	if err != nil {
		return nil, stillPending(intent.Provider, err)
	}
	if resolved.Status == payment.StatusCreated {
		// Nothing reached the provider. Close the intent so a late capture cannot land.
		switch err := gw.Void(ctx, resolved); {
		case errors.Is(err, payment.ErrAlreadyCaptured):
			if resolved, err = uc.payments.Intent(ctx, intent.ID); err != nil {
				return nil, err
			}
		case err != nil:
			return nil, stillPending(intent.Provider, err)
		default:
			resolved.Status = payment.StatusVoided
		}
	}

	if resolved.Status == payment.StatusCaptured {
		if _, err := uc.CompleteCaptured(ctx, resolved.ID); err != nil {
			return nil, err
		}
		return uc.uow.CommandReads().AttemptByKey(ctx, a.Key)
	}
	outcome := payment.OutcomeGatewayError
	if resolved.FailureOutcome != nil {
		outcome = *resolved.FailureOutcome
	}
	reason := ptr.Deref(resolved.FailureReason)
	if reason == "" {
		reason = "payment was not captured"
	}
	return nil, uc.compensate(ctx, a, payment.NewCaptureError(resolved.Provider, outcome, reason, nil))
}

func stillPending(provider payment.Provider, err error) *payment.CaptureError {
	ce := payment.NewCaptureError(provider, payment.OutcomeGatewayError, "capture outcome unknown", err)
	ce.Pending = true
	return ce
}

// reserve prices the cart from live data and reserves stock and the discount
// hold in one transaction.
func (uc *checkoutUseCaseImpl) reserve(ctx context.Context, a *checkout.Attempt, actor auth.Identity, req CheckoutRequest) (*checkout.Attempt, error) {
	products, err := uc.uow.CommandReads().ProductsByIDs(ctx, req.Cart.ProductIDs())
	if err != nil {
		return nil, uc.fail(ctx, a, err)
	}
	for _, id := range req.Cart.ProductIDs() {
		if p, ok := products[id]; !ok || !p.Active {
			return nil, uc.fail(ctx, a, ErrProductNotFound)
		}
	}

	var code *discount.Code
	if req.DiscountCode != nil && strings.TrimSpace(*req.DiscountCode) != "" {
		c, err := discount.NewCode(*req.DiscountCode)
		if err != nil {
			return nil, uc.fail(ctx, a, discount.ErrNotFound)
		}
		d, err := uc.uow.CommandReads().DiscountByCode(ctx, c)
		if err != nil {
			return nil, uc.fail(ctx, a, err)
		}
		if err := d.Usable(uc.clock.Now()); err != nil {
			return nil, uc.fail(ctx, a, err)
		}
		code = &c
	}

	uc.logTransition(ctx, a, checkout.StateReserving)
	var updated *checkout.Attempt
	err = uc.uow.Within(ctx, func(ctx context.Context, tx shared.Tx) error {
		cur, err := tx.Attempts().LockByKey(ctx, a.Key)
		if err != nil {
			return err
		}
		if cur.Generation != a.Generation || cur.State != checkout.StateValidating {
			return ErrAttemptConflict
		}
		now := uc.clock.Now()

		snap := checkout.Snapshot{
			UserID:          actor.UserID,
			Cart:            req.Cart,
			Currency:        uc.cfg.Currency,
			ShippingAddress: req.ShippingAddress,
			CustomerNotes:   req.CustomerNotes,
			ExpectedTotal:   req.ExpectedTotal,
		}
		if code != nil {
			d, err := tx.Discounts().LockForHold(ctx, *code)
			if err != nil {
				return err
			}
			if err := d.Usable(now); err != nil {
				return err
			}
			snap.DiscountID = ptr.Of(d.ID())
			snap.DiscountCode = ptr.Of(d.Code().String())
			snap.DiscountPercent = ptr.Of(d.Percentage().Int())
		}

		res, err := tx.Stock().Reserve(ctx, stock.ReserveRequest{
			AttemptKey: a.Key,
			Generation: a.Generation,
			Lines:      stockLines(req.Cart),
			DiscountID: snap.DiscountID,
			ExpiresAt:  now.Add(uc.cfg.ReservationTTL),
		})
		if err != nil {
			return err
		}

		snap.Lines = pricedLines(req.Cart, res)
		if snap.Quote, err = uc.engine.Quote(snap.PricingLines(), snap.DiscountPercent); err != nil {
			return err
		}
		if req.ExpectedTotal != nil && !req.ExpectedTotal.Equal(snap.Quote.Total) {
			return payment.NewCaptureError(req.Provider, payment.OutcomeAmountMismatch,
				"expected total "+req.ExpectedTotal.String()+" but order totals "+snap.Quote.Total.String(), nil)
		}

		cur.Snapshot = snap
		cur.State = checkout.StatePaying
		cur.ReservationID = ptr.Of(res.ID)
		cur.ExpiresAt = res.ExpiresAt
		cur.UpdatedAt = now
		ok, err := tx.Attempts().Update(ctx, cur, checkout.StateValidating)
		if err != nil {
			return err
		}
		if !ok {
			return ErrAttemptConflict
		}
		updated = cur
		return nil
	})
	if err != nil {
		if errors.Is(err, ErrAttemptConflict) {
			return nil, ErrCheckoutInProgress
		}
		// The transaction rolled back, so nothing is reserved.
		return nil, uc.fail(ctx, a, err)
	}
	uc.logTransition(ctx, updated, checkout.StatePaying)
	return updated, nil
}

func stockLines(cart checkout.Cart) []stock.Line {
	lines := make([]stock.Line, 0, len(cart))
	for _, l := range cart {
		lines = append(lines, stock.Line{ProductID: l.ProductID, Quantity: l.Quantity})
	}
	return lines
}

// pricedLines keeps the cart's lines and options and takes unit prices from
// the reservation, which read them under the row lock.
func pricedLines(cart checkout.Cart, res *stock.Reservation) []checkout.PricedLine {
	lines := make([]checkout.PricedLine, 0, len(cart))
	for _, l := range cart {
		price, _ := res.PriceOf(l.ProductID)
		lines = append(lines, checkout.PricedLine{
			ProductID: l.ProductID,
			Quantity:  l.Quantity,
			UnitPrice: price,
			Color:     l.Color,
			Size:      l.Size,
		})
	}
	return lines
}

func (uc *checkoutUseCaseImpl) createIntent(ctx context.Context, gw payment.Gateway, a *checkout.Attempt) (*checkout.Attempt, *payment.Intent, error) {
	intent, err := gw.CreateIntent(ctx, payment.IntentRequest{
		Amount:         a.Snapshot.Quote.Total,
		Currency:       a.Snapshot.Currency,
		IdempotencyKey: a.PaymentKey(),
	})
	if err != nil {
		return nil, nil, uc.compensate(ctx, a, err)
	}
	updated, err := uc.advance(ctx, a, checkout.StatePaying, checkout.StatePaying, func(cur *checkout.Attempt) {
		cur.IntentID = ptr.Of(intent.ID)
	})
	if err != nil {
		if verr := gw.Void(context.WithoutCancel(ctx), intent); verr != nil {
			slog.ErrorContext(ctx, "failed to void unreferenced payment intent",
				slog.String("intent_id", intent.ID.String()), slog.Any("error", verr))
		}
		return nil, nil, uc.compensate(ctx, a, err)
	}
	return updated, intent, nil
}

func (uc *checkoutUseCaseImpl) resume(ctx context.Context, a *checkout.Attempt) (*checkout.Attempt, *payment.Intent, error) {
	if a.IntentID == nil {
		return nil, nil, ErrAttemptConflict
	}
	intent, err := uc.payments.Intent(ctx, *a.IntentID)
	if err != nil {
		return nil, nil, err
	}
	a, err = uc.advance(ctx, a, checkout.StateAwaitingConfirmation, checkout.StatePaying, nil)
	if err != nil {
		if errors.Is(err, ErrAttemptConflict) {
			return nil, nil, ErrCheckoutInProgress
		}
		return nil, nil, err
	}
	return a, intent, nil
}

func (uc *checkoutUseCaseImpl) prepared(ctx context.Context, a *checkout.Attempt) (*PrepareResult, error) {
	if a.IntentID == nil {
		return &PrepareResult{
			AttemptKey: a.Key,
			Provider:   a.Provider,
			Quote:      a.Snapshot.Quote,
			Currency:   a.Snapshot.Currency,
			OrderID:    a.OrderID,
		}, nil
	}
	intent, err := uc.payments.Intent(ctx, *a.IntentID)
	if err != nil {
		return nil, err
	}
	return prepareResult(a, intent), nil
}

func prepareResult(a *checkout.Attempt, intent *payment.Intent) *PrepareResult {
	return &PrepareResult{
		AttemptKey:  a.Key,
		IntentID:    intent.ID,
		Provider:    intent.Provider,
		ExternalRef: intent.ExternalRef,
		NextAction:  intent.NextAction,
		Quote:       a.Snapshot.Quote,
		Currency:    a.Snapshot.Currency,
		ExpiresAt:   a.ExpiresAt,
		OrderID:     a.OrderID,
	}
}

func replayed(a *checkout.Attempt) *CheckoutResult {
	return &CheckoutResult{
		OrderID:    ptr.Deref(a.OrderID),
		AttemptKey: a.Key,
		Quote:      a.Snapshot.Quote,
		Currency:   a.Snapshot.Currency,
		Replayed:   true,
	}
}

// advance moves the attempt between states if nobody else moved it first.
func (uc *checkoutUseCaseImpl) advance(
	ctx context.Context,
	a *checkout.Attempt,
	from, to checkout.State,
	mutate func(*checkout.Attempt),
) (*checkout.Attempt, error) {
	var updated *checkout.Attempt
	err := uc.uow.Within(ctx, func(ctx context.Context, tx shared.Tx) error {
		cur, err := tx.Attempts().LockByKey(ctx, a.Key)
		if err != nil {
			return err
		}
		if cur.Generation != a.Generation || cur.State != from {
			return ErrAttemptConflict
		}
		if mutate != nil {
			mutate(cur)
		}
		cur.State = to
		cur.UpdatedAt = uc.clock.Now()
		ok, err := tx.Attempts().Update(ctx, cur, from)
		if err != nil {
			return err
		}
		if !ok {
			return ErrAttemptConflict
		}
		updated = cur
		return nil
	})
	if err != nil {
		return a, err
	}
	if from != to {
		uc.logTransition(ctx, updated, to)
	}
	return updated, nil
}

// fail closes an attempt that never reserved anything.
func (uc *checkoutUseCaseImpl) fail(ctx context.Context, a *checkout.Attempt, cause error) error {
	_, err := uc.advance(context.WithoutCancel(ctx), a, checkout.StateValidating, checkout.StateFailed, func(cur *checkout.Attempt) {
		cur.FailureReason = ptr.Of(cause.Error())
	})
	if err != nil && !errors.Is(err, ErrAttemptConflict) {
		slog.ErrorContext(ctx, "failed to mark checkout attempt failed",
			slog.String("attempt_key", a.Key), slog.Any("error", err))
	}
	return cause
}

func (uc *checkoutUseCaseImpl) paymentFailed(ctx context.Context, a *checkout.Attempt, err error) error {
	var ce *payment.CaptureError
	if errors.As(err, &ce) && ce.Pending {
		// Money may have moved. The webhook or the sweeper settles it.
		slog.WarnContext(ctx, "capture outcome pending, keeping reservation",
			slog.String("attempt_key", a.Key),
			slog.String("provider", string(a.Provider)),
			slog.Any("error", err))
		return err
	}
	return uc.compensate(ctx, a, err)
}

// compensate releases the reservation and its discount hold and fails the
// attempt in one transaction.
func (uc *checkoutUseCaseImpl) compensate(ctx context.Context, a *checkout.Attempt, cause error) error {
	ctx = context.WithoutCancel(ctx)
	uc.logTransition(ctx, a, checkout.StateReleasing)
	err := uc.uow.Within(ctx, func(ctx context.Context, tx shared.Tx) error {
		cur, err := tx.Attempts().LockByKey(ctx, a.Key)
		if err != nil {
			return err
		}
		if cur.Generation != a.Generation || cur.State.Terminal() {
			return nil
		}
		from := cur.State
		if cur.ReservationID != nil {
			if _, err := tx.Stock().Release(ctx, *cur.ReservationID); err != nil {
				return err
			}
		}
		cur.State = checkout.StateFailed
		cur.FailureReason = ptr.Of(cause.Error())
		cur.UpdatedAt = uc.clock.Now()
		if _, err := tx.Attempts().Update(ctx, cur, from); err != nil {
			return err
		}
		return nil
	})
	if err != nil {
		// The sweeper releases the reservation once it expires.
		slog.ErrorContext(ctx, "failed to release reservation after payment failure",
			slog.String("attempt_key", a.Key), slog.Any("error", err))
		return cause
	}
	uc.logTransition(ctx, a, checkout.StateFailed)
	return cause
}

func (uc *checkoutUseCaseImpl) finishWithoutCharge(ctx context.Context, a *checkout.Attempt) (*CheckoutResult, error) {
	uc.logTransition(ctx, a, checkout.StateCommitting)
	orderID, err := uc.complete(ctx, a.Key, &payment.CapturedPayment{
		Provider:    a.Provider,
		ExternalRef: "nocharge_" + a.PaymentKey(),
		Amount:      decimal.Zero,
		Currency:    a.Snapshot.Currency,
		CapturedAt:  uc.clock.Now(),
	})
	if err != nil {
		return nil, err
	}
	return &CheckoutResult{OrderID: orderID, AttemptKey: a.Key, Quote: a.Snapshot.Quote, Currency: a.Snapshot.Currency}, nil
}

// complete records the order for a captured payment, retrying with backoff.
// Stock is never released here because the money already moved.
func (uc *checkoutUseCaseImpl) complete(ctx context.Context, key string, captured *payment.CapturedPayment) (uuid.UUID, error) {
	ctx = context.WithoutCancel(ctx)
	attempts := max(uc.cfg.PersistRetries, 1)
	backoff := uc.cfg.PersistBackoff

	var lastErr error
	for i := 0; i < attempts; i++ {
		if i > 0 {
			time.Sleep(backoff)
			backoff *= 2
		}
		orderID, err := uc.commitOrder(ctx, key, captured)
		if err == nil {
			if uc.relay != nil {
				uc.relay.Wake()
			}
			return orderID, nil
		}
		lastErr = err
		slog.WarnContext(ctx, "order commit after capture failed",
			slog.String("attempt_key", key),
			slog.String("external_ref", captured.ExternalRef),
			slog.Int("attempt", i+1),
			slog.Any("error", err))
		if !retryableCommitErr(err) {
			break
		}
	}

	caseID := uc.escalate(ctx, key, captured, lastErr)
	return uuid.Nil, &PersistenceAfterCaptureError{
		CaseID:      caseID,
		Provider:    captured.Provider,
		ExternalRef: captured.ExternalRef,
		Err:         lastErr,
	}
}

func retryableCommitErr(err error) bool {
	var shortage *stock.InsufficientStockError
	return !errors.As(err, &shortage) &&
		!errors.Is(err, stock.ErrNotReserved) &&
		!errors.Is(err, ErrAttemptConflict)
}

func (uc *checkoutUseCaseImpl) commitOrder(ctx context.Context, key string, captured *payment.CapturedPayment) (uuid.UUID, error) {
	var orderID uuid.UUID
	err := uc.uow.Within(ctx, func(ctx context.Context, tx shared.Tx) error {
		a, err := tx.Attempts().LockByKey(ctx, key)
		if err != nil {
			return err
		}
		if a.State == checkout.StateDone && a.OrderID != nil {
			orderID = *a.OrderID
			return nil
		}
		if a.State != checkout.StatePaying && a.State != checkout.StateAwaitingConfirmation {
			return ErrAttemptConflict
		}
		if captured.IntentID != uuid.Nil && (a.IntentID == nil || *a.IntentID != captured.IntentID) {
			return ErrAttemptConflict
		}
		if a.ReservationID == nil {
			return ErrAttemptConflict
		}
		now := uc.clock.Now()

		existing, err := tx.Orders().IDByProviderRef(ctx, captured.Provider, captured.ExternalRef)
		switch {
		case err == nil:
			orderID = existing
		case errors.Is(err, order.ErrNotFound):
			o, err := uc.newOrder(a, captured, now)
			if err != nil {
				return err
			}
			if err := tx.Orders().Create(ctx, o); err != nil {
				return err
			}
			if err := uc.consumeDiscount(ctx, tx, a); err != nil {
				return err
			}
			if err := tx.Stock().Commit(ctx, *a.ReservationID, o.ID()); err != nil {
				return err
			}
			ev, err := notification.New(notification.KindOrderConfirmed, o.ID(), o.Owner(), notification.OrderConfirmedPayload{
				Total:       o.Quote().Total.StringFixed(2),
				Currency:    o.Currency(),
				PaymentType: string(o.PaymentType()),
				ItemCount:   len(o.Items()),
			}, now)
			if err != nil {
				return err
			}
			if err := tx.Outbox().Enqueue(ctx, ev); err != nil {
				return err
			}
			orderID = o.ID()
		default:
			return err
		}

		from := a.State
		a.State = checkout.StateDone
		a.OrderID = ptr.Of(orderID)
		a.UpdatedAt = now
		ok, err := tx.Attempts().Update(ctx, a, from)
		if err != nil {
			return err
		}
		if !ok {
			return ErrAttemptConflict
		}
		return nil
	})
	if err != nil {
		return uuid.Nil, err
	}
	slog.InfoContext(ctx, "checkout attempt transition",
		slog.String("attempt_key", key),
		slog.String("state", string(checkout.StateDone)),
		slog.String("provider", string(captured.Provider)),
		slog.String("order_id", orderID.String()))
	return orderID, nil
}

func (uc *checkoutUseCaseImpl) newOrder(a *checkout.Attempt, captured *payment.CapturedPayment, now time.Time) (*order.Order, error) {
	s := a.Snapshot
	return order.New(order.NewParams{
		UserID:          s.UserID,
		Owner:           a.Owner,
		Items:           s.OrderItems(),
		Quote:           s.Quote,
		Currency:        s.Currency,
		PaymentType:     captured.Provider,
		ProviderRef:     captured.ExternalRef,
		DiscountCode:    s.DiscountCode,
		ShippingAddress: s.ShippingAddress,
		CustomerNotes:   s.CustomerNotes,
	}, now)
}

func (uc *checkoutUseCaseImpl) consumeDiscount(ctx context.Context, tx shared.Tx, a *checkout.Attempt) error {
	if a.Snapshot.DiscountID == nil {
		return nil
	}
	ok, err := tx.Discounts().IncrementUsage(ctx, *a.Snapshot.DiscountID)
	if err != nil {
		return err
	}
	if !ok {
		// The hold should make this unreachable; the payment is already captured.
		slog.ErrorContext(ctx, "discount usage cap exceeded at commit",
			slog.String("attempt_key", a.Key),
			slog.String("discount_code", ptr.Deref(a.Snapshot.DiscountCode)))
	}
	return nil
}

func (uc *checkoutUseCaseImpl) escalate(ctx context.Context, key string, captured *payment.CapturedPayment, cause error) *uuid.UUID {
	slog.ErrorContext(ctx, "payment captured but order not recorded, manual reconciliation required",
		slog.String("attempt_key", key),
		slog.String("provider", string(captured.Provider)),
		slog.String("external_ref", captured.ExternalRef),
		slog.String("amount", captured.Amount.String()),
		slog.Any("error", cause))

	var caseID uuid.UUID
	err := uc.uow.Within(ctx, func(ctx context.Context, tx shared.Tx) error {
		var err error
		caseID, err = tx.Reconciliation().Open(ctx, shared.ReconciliationCase{
			AttemptKey:  key,
			Provider:    captured.Provider,
			ExternalRef: captured.ExternalRef,
			IntentID:    captured.IntentID,
			Amount:      captured.Amount,
			Currency:    captured.Currency,
			Reason:      cause.Error(),
			OpenedAt:    uc.clock.Now(),
		})
		return err
	})
	if err != nil {
		slog.ErrorContext(ctx, "failed to open reconciliation case",
			slog.String("external_ref", captured.ExternalRef), slog.Any("error", err))
		return nil
	}
	return &caseID
}

func (uc *checkoutUseCaseImpl) CompleteCaptured(ctx context.Context, intentID uuid.UUID) (uuid.UUID, error) {
	intent, err := uc.payments.Intent(ctx, intentID)
	if err != nil {
		return uuid.Nil, err
	}
	if intent.Status != payment.StatusCaptured {
		return uuid.Nil, ErrIntentNotCaptured
	}
	a, err := uc.uow.CommandReads().AttemptByIntent(ctx, intentID)
	if err != nil {
		return uuid.Nil, err
	}
	if a.State == checkout.StateDone && a.OrderID != nil {
		return *a.OrderID, nil
	}
	return uc.complete(ctx, a.Key, &payment.CapturedPayment{
		IntentID:    intent.ID,
		Provider:    intent.Provider,
		ExternalRef: intent.ExternalRef,
		CaptureRef:  ptr.Deref(intent.CaptureRef),
		Amount:      intent.Amount,
		Currency:    intent.Currency,
		CapturedAt:  intent.UpdatedAt,
	})
}

func (uc *checkoutUseCaseImpl) Abandon(ctx context.Context, res stock.Reservation) (SweepOutcome, error) {
	a, err := uc.uow.CommandReads().AttemptByKey(ctx, res.AttemptKey)
	if err != nil && !errors.Is(err, checkout.ErrAttemptNotFound) {
		return SweepDeferred, err
	}
	if a == nil || a.Generation != res.Generation || a.IntentID == nil {
		return uc.releaseExpired(ctx, a, res)
	}

	intent, err := uc.payments.Intent(ctx, *a.IntentID)
	if err != nil {
		return SweepDeferred, err
	}
	gw, err := uc.payments.Gateway(intent.Provider)
	if err != nil {
		return SweepDeferred, err
	}
	resolved, err := gw.Resolve(ctx, intent)
	if err != nil {
		return SweepDeferred, err
	}

	switch resolved.Status {
	case payment.StatusCaptured:
		return uc.completeSwept(ctx, resolved.ID)
	case payment.StatusCreated:
		if err := gw.Void(ctx, resolved); err != nil {
			if errors.Is(err, payment.ErrAlreadyCaptured) {
				return uc.completeSwept(ctx, resolved.ID)
			}
			return SweepDeferred, err
		}
	}
	return uc.releaseExpired(ctx, a, res)
}

func (uc *checkoutUseCaseImpl) completeSwept(ctx context.Context, intentID uuid.UUID) (SweepOutcome, error) {
	if _, err := uc.CompleteCaptured(ctx, intentID); err != nil {
		return SweepDeferred, err
	}
	return SweepCompleted, nil
}

func (uc *checkoutUseCaseImpl) releaseExpired(ctx context.Context, a *checkout.Attempt, res stock.Reservation) (SweepOutcome, error) {
	err := uc.uow.Within(ctx, func(ctx context.Context, tx shared.Tx) error {
		if _, err := tx.Stock().Release(ctx, res.ID); err != nil {
			return err
		}
		if a == nil {
			return nil
		}
		cur, err := tx.Attempts().LockByKey(ctx, a.Key)
		if err != nil {
			return err
		}
		if cur.Generation != res.Generation || cur.State.Terminal() {
			return nil
		}
		from := cur.State
		cur.State = checkout.StateFailed
		cur.FailureReason = ptr.Of("reservation expired")
		cur.UpdatedAt = uc.clock.Now()
		_, err = tx.Attempts().Update(ctx, cur, from)
		return err
	})
	if err != nil {
		return SweepDeferred, err
	}
	slog.InfoContext(ctx, "expired reservation released",
		slog.String("reservation_id", res.ID.String()),
		slog.String("attempt_key", res.AttemptKey))
	return SweepReleased, nil
}

func (uc *checkoutUseCaseImpl) logTransition(ctx context.Context, a *checkout.Attempt, to checkout.State) {
	slog.InfoContext(ctx, "checkout attempt transition",
		slog.String("attempt_key", a.Key),
		slog.Int("generation", a.Generation),
		slog.String("state", string(to)),
		slog.String("provider", string(a.Provider)))
}

func outcomeLabel(err error) string {
	var shortage *stock.InsufficientStockError
	switch {
	case err == nil:
		return "success"
	case errors.As(err, &shortage):
		return "insufficient_stock"
	case errors.Is(err, discount.ErrInvalidDiscount):
		return "invalid_discount"
	case errors.Is(err, payment.ErrDeclined):
		return "declined"
	case errors.Is(err, payment.ErrAmountMismatch):
		return "amount_mismatch"
	case errors.Is(err, ErrPersistenceFailed):
		return "persistence_after_capture"
	case errors.Is(err, payment.ErrGatewayFailure):
		return "gateway_error"
	case errors.Is(err, ErrCheckoutInProgress):
		return "in_progress"
	default:
		return "error"
	}
}
