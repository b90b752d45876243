package payment

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"storefront/internal/domain/payment"
	"storefront/internal/infra/metrics"
	"storefront/internal/pkg/clock"
	"storefront/internal/pkg/config"
	"storefront/internal/pkg/ptr"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/sony/gobreaker/v2"
	"golang.org/x/sync/singleflight"
)

// IntentStore is the durable record of every intent, written outside any
// checkout transaction.
type IntentStore interface {
	Insert(ctx context.Context, in *payment.Intent) (*payment.Intent, error)
	ByID(ctx context.Context, id uuid.UUID) (*payment.Intent, error)
	ByKey(ctx context.Context, key string) (*payment.Intent, error)
	ByExternalRef(ctx context.Context, provider payment.Provider, ref string) (*payment.Intent, error)
	MarkCaptured(ctx context.Context, id uuid.UUID, captureRef string, at time.Time) (bool, error)
	MarkFailed(ctx context.Context, id uuid.UUID, outcome payment.Outcome, reason string, at time.Time) (bool, error)
	MarkVoided(ctx context.Context, id uuid.UUID, at time.Time) (bool, error)
	// OverrideCaptured moves a VOIDED or FAILED intent to CAPTURED.
	OverrideCaptured(ctx context.Context, id uuid.UUID, captureRef string, at time.Time) (bool, error)
}

// remoteState is the provider's answer to "what happened to this intent".
type remoteState struct {
	Status     payment.Status
	CaptureRef string
	Amount     decimal.Decimal
	Reason     string
}

// providerOps translates the neutral gateway calls into one provider's API.
type providerOps interface {
	create(ctx context.Context, req payment.IntentRequest) (ref, nextAction string, err error)
	// authorized reports the amount the payer approved; nil when the provider
	// exposes none before capture.
	authorized(ctx context.Context, in *payment.Intent, c payment.Confirmation) (*decimal.Decimal, error)
	capture(ctx context.Context, in *payment.Intent, c payment.Confirmation) (captureRef string, err error)
	lookup(ctx context.Context, in *payment.Intent) (remoteState, error)
	void(ctx context.Context, in *payment.Intent) error
}

type Settings struct {
	CallTimeout             time.Duration
	BreakerMaxRequests      uint32
	BreakerInterval         time.Duration
	BreakerTimeout          time.Duration
	BreakerFailureThreshold uint32
	ResolveAttempts         int
	ResolveBackoff          time.Duration
}

func SettingsFromConfig(cfg config.PaymentConfig) Settings {
	return Settings{
		CallTimeout:             cfg.CallTimeout,
		BreakerMaxRequests:      cfg.BreakerMaxRequests,
		BreakerInterval:         cfg.BreakerInterval,
		BreakerTimeout:          cfg.BreakerTimeout,
		BreakerFailureThreshold: cfg.BreakerFailureThreshold,
		ResolveAttempts:         cfg.ResolveAttempts,
		ResolveBackoff:          cfg.ResolveBackoff,
	}
}

// Adapter implements payment.Gateway on top of providerOps and owns what
// every provider shares, from intent persistence to resolving ambiguous
// captures.
type Adapter struct {
	provider payment.Provider
	ops      providerOps
	store    IntentStore
	clock    clock.Clock
	timeout  time.Duration
	breaker  *gobreaker.CircuitBreaker[any]
	flight   singleflight.Group

	resolveAttempts int
	resolveBackoff  time.Duration
}

var _ payment.Gateway = (*Adapter)(nil)

func newAdapter(provider payment.Provider, ops providerOps, store IntentStore, clk clock.Clock, s Settings) *Adapter {
	threshold := s.BreakerFailureThreshold
	if threshold == 0 {
		threshold = 5
	}
	timeout := s.CallTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	attempts := s.ResolveAttempts
	if attempts <= 0 {
		attempts = 3
	}
	breaker := gobreaker.NewCircuitBreaker[any](gobreaker.Settings{
		Name:        string(provider),
		MaxRequests: s.BreakerMaxRequests,
		Interval:    s.BreakerInterval,
		Timeout:     s.BreakerTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= threshold
		},
		// A decline is a healthy provider saying no.
		IsSuccessful: func(err error) bool {
			return err == nil ||
				errors.Is(err, ErrProviderDeclined) ||
				errors.Is(err, ErrProviderNotFound) ||
				errors.Is(err, payment.ErrAlreadyCaptured)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			slog.Warn("payment circuit breaker state changed",
				slog.String("provider", name),
				slog.String("from", from.String()),
				slog.String("to", to.String()))
			metrics.RecordBreakerState(name, float64(to))
		},
	})
	return &Adapter{
		provider: provider,
		ops:      ops,
		store:    store,
		clock:    clk,
		timeout:  timeout,
		breaker:  breaker,

		resolveAttempts: attempts,
		resolveBackoff:  s.ResolveBackoff,
	}
}

func (a *Adapter) Provider() payment.Provider {
	return a.provider
}

// call runs one provider request under the breaker with its own deadline.
func (a *Adapter) call(ctx context.Context, op string, fn func(ctx context.Context) (any, error)) (any, error) {
	ctx, cancel := context.WithTimeout(ctx, a.timeout)
	defer cancel()

	start := time.Now()
	v, err := a.breaker.Execute(func() (any, error) {
		return fn(ctx)
	})
	if err != nil && errors.Is(ctx.Err(), context.DeadlineExceeded) && !errors.Is(err, ErrProviderTimeout) {
		err = errors.Join(ErrProviderTimeout, err)
	}
	metrics.RecordGatewayCall(string(a.provider), op, callResult(err), time.Since(start))
	return v, err
}

func callResult(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, ErrProviderDeclined):
		return "declined"
	case errors.Is(err, gobreaker.ErrOpenState), errors.Is(err, gobreaker.ErrTooManyRequests):
		return "rejected"
	case isAmbiguous(err):
		return "timeout"
	default:
		return "error"
	}
}

func isAmbiguous(err error) bool {
	return errors.Is(err, ErrProviderTimeout) || errors.Is(err, context.DeadlineExceeded)
}

func (a *Adapter) CreateIntent(ctx context.Context, req payment.IntentRequest) (*payment.Intent, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	v, err, _ := a.flight.Do("create:"+req.IdempotencyKey, func() (any, error) {
		existing, err := a.store.ByKey(ctx, req.IdempotencyKey)
		if err == nil {
			if existing.Provider != a.provider || !existing.Amount.Equal(req.Amount) || existing.Currency != req.Currency {
				return nil, payment.ErrIntentConflict
			}
			return existing, nil
		}
		if !errors.Is(err, payment.ErrIntentNotFound) {
			return nil, err
		}

		type created struct{ ref, next string }
		out, err := a.call(ctx, "create", func(ctx context.Context) (any, error) {
			ref, next, err := a.ops.create(ctx, req)
			return created{ref: ref, next: next}, err
		})
		if err != nil {
			return nil, &payment.GatewayError{Provider: a.provider, Op: "create", Err: err}
		}
		c := out.(created)

		now := a.clock.Now()
		stored, err := a.store.Insert(context.WithoutCancel(ctx), &payment.Intent{
			ID:             uuid.New(),
			Provider:       a.provider,
			ExternalRef:    c.ref,
			Amount:         req.Amount,
			Currency:       req.Currency,
			IdempotencyKey: req.IdempotencyKey,
			Status:         payment.StatusCreated,
			NextAction:     c.next,
			CreatedAt:      now,
			UpdatedAt:      now,
		})
		if err != nil {
			return nil, err
		}
		if stored.ExternalRef != c.ref {
			// Lost the insert race to another process.
			a.voidDuplicate(ctx, req, c.ref)
		}
		return stored, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*payment.Intent), nil
}

// voidDuplicate cancels a provider object that no stored intent points at.
func (a *Adapter) voidDuplicate(ctx context.Context, req payment.IntentRequest, ref string) {
	dup := &payment.Intent{
		Provider:       a.provider,
		ExternalRef:    ref,
		Amount:         req.Amount,
		Currency:       req.Currency,
		IdempotencyKey: req.IdempotencyKey,
		Status:         payment.StatusCreated,
	}
	_, err := a.call(context.WithoutCancel(ctx), "void", func(ctx context.Context) (any, error) {
		return nil, a.ops.void(ctx, dup)
	})
	if err != nil && !errors.Is(err, ErrProviderNotFound) {
		slog.ErrorContext(ctx, "failed to void duplicate provider intent",
			slog.String("provider", string(a.provider)), slog.String("external_ref", ref), slog.Any("error", err))
		return
	}
	slog.WarnContext(ctx, "voided duplicate provider intent",
		slog.String("provider", string(a.provider)), slog.String("external_ref", ref))
}

// Capture moves money at most once per intent. A capture whose outcome is
// unknown is resolved with the provider, never retried.
func (a *Adapter) Capture(ctx context.Context, intent *payment.Intent, c payment.Confirmation) (*payment.CapturedPayment, error) {
	v, err, _ := a.flight.Do("capture:"+intent.ID.String(), func() (any, error) {
		return a.capture(ctx, intent.ID, c)
	})
	if err != nil {
		return nil, err
	}
	return v.(*payment.CapturedPayment), nil
}

func (a *Adapter) capture(ctx context.Context, id uuid.UUID, c payment.Confirmation) (*payment.CapturedPayment, error) {
	current, err := a.store.ByID(ctx, id)
	if err != nil {
		return nil, a.captureErr(payment.OutcomeGatewayError, "intent lookup failed", err)
	}
	if current.Status.Final() {
		return a.settled(current)
	}

	if c.ConfirmedAmount != nil && !c.ConfirmedAmount.Equal(current.Amount) {
		return a.fail(ctx, current, payment.OutcomeAmountMismatch, "confirmed amount differs from intent amount")
	}

	v, err := a.call(ctx, "authorize", func(ctx context.Context) (any, error) {
		return a.ops.authorized(ctx, current, c)
	})
	if err != nil {
		if errors.Is(err, ErrProviderDeclined) {
			return a.fail(ctx, current, payment.OutcomeDeclined, declineReason(err))
		}
		return a.fail(ctx, current, payment.OutcomeGatewayError, err.Error())
	}
	if amount, _ := v.(*decimal.Decimal); amount != nil && !amount.Equal(current.Amount) {
		return a.fail(ctx, current, payment.OutcomeAmountMismatch, "provider approved "+amount.String())
	}

	// A void may have landed while the payer was being authorized.
	latest, err := a.store.ByID(ctx, current.ID)
	if err != nil {
		return nil, a.captureErr(payment.OutcomeGatewayError, "intent lookup failed", err)
	}
	if latest.Status.Final() {
		return a.settled(latest)
	}

	v, err = a.call(ctx, "capture", func(ctx context.Context) (any, error) {
		return a.ops.capture(ctx, current, c)
	})
	switch {
	case err == nil:
		return a.markCaptured(ctx, current, v.(string))
	case errors.Is(err, ErrProviderDeclined):
		return a.fail(ctx, current, payment.OutcomeDeclined, declineReason(err))
	case isAmbiguous(err):
		return a.resolveAmbiguous(ctx, current, err)
	default:
		return a.fail(ctx, current, payment.OutcomeGatewayError, err.Error())
	}
}

// resolveAmbiguous asks the provider what the timed-out capture did.
func (a *Adapter) resolveAmbiguous(ctx context.Context, current *payment.Intent, cause error) (*payment.CapturedPayment, error) {
	slog.WarnContext(ctx, "capture outcome unknown, resolving with provider",
		slog.String("provider", string(a.provider)),
		slog.String("intent_id", current.ID.String()),
		slog.Any("error", cause))

	ctx = context.WithoutCancel(ctx)
	var (
		resolved *payment.Intent
		err      error
	)
	for attempt := 1; attempt <= a.resolveAttempts; attempt++ {
		if resolved, err = a.Resolve(ctx, current); err == nil {
			break
		}
		slog.WarnContext(ctx, "capture resolution failed",
			slog.String("intent_id", current.ID.String()),
			slog.Int("attempt", attempt),
			slog.Any("error", err))
		if attempt < a.resolveAttempts {
			time.Sleep(a.resolveBackoff * time.Duration(attempt))
		}
	}
	if err != nil {
		ce := a.captureErr(payment.OutcomeGatewayError, "capture outcome unknown", err)
		ce.Pending = true
		return nil, ce
	}
	if resolved.Status == payment.StatusCreated {
		// The provider never applied the capture.
		return a.fail(ctx, resolved, payment.OutcomeGatewayError, "capture timed out before reaching provider")
	}
	return a.settled(resolved)
}

func (a *Adapter) markCaptured(ctx context.Context, current *payment.Intent, captureRef string) (*payment.CapturedPayment, error) {
	ctx = context.WithoutCancel(ctx)
	if err := a.recordCapture(ctx, current, captureRef); err != nil {
		slog.ErrorContext(ctx, "captured payment could not be recorded",
			slog.String("intent_id", current.ID.String()), slog.String("capture_ref", captureRef), slog.Any("error", err))
		captured := *current
		captured.Status = payment.StatusCaptured
		captured.CaptureRef = &captureRef
		captured.UpdatedAt = a.clock.Now()
		return capturedFrom(&captured), nil
	}
	stored, err := a.store.ByID(ctx, current.ID)
	if err != nil {
		return nil, a.captureErr(payment.OutcomeGatewayError, "intent reload failed", err)
	}
	return a.settled(stored)
}

// recordCapture stores a capture the provider confirmed. The provider wins
// over a local VOIDED or FAILED, which only happens when a void or failure
// raced the capture call.
func (a *Adapter) recordCapture(ctx context.Context, current *payment.Intent, captureRef string) error {
	now := a.clock.Now()
	ok, err := a.store.MarkCaptured(ctx, current.ID, captureRef, now)
	if err != nil || ok {
		return err
	}
	stored, err := a.store.ByID(ctx, current.ID)
	if err != nil {
		return err
	}
	if stored.Status != payment.StatusVoided && stored.Status != payment.StatusFailed {
		return nil
	}
	slog.ErrorContext(ctx, "provider captured an intent already closed locally",
		slog.String("provider", string(a.provider)),
		slog.String("local_status", string(stored.Status)),
		slog.String("intent_id", current.ID.String()),
		slog.String("capture_ref", captureRef))
	_, err = a.store.OverrideCaptured(ctx, current.ID, captureRef, now)
	return err
}

// fail records a definitive failure. When another writer settled the intent
// first, that outcome wins.
func (a *Adapter) fail(ctx context.Context, current *payment.Intent, outcome payment.Outcome, reason string) (*payment.CapturedPayment, error) {
	ctx = context.WithoutCancel(ctx)
	ok, err := a.store.MarkFailed(ctx, current.ID, outcome, reason, a.clock.Now())
	if err != nil {
		return nil, a.captureErr(outcome, reason, err)
	}
	if !ok {
		stored, err := a.store.ByID(ctx, current.ID)
		if err != nil {
			return nil, a.captureErr(outcome, reason, err)
		}
		return a.settled(stored)
	}
	return nil, a.captureErr(outcome, reason, nil)
}

func (a *Adapter) settled(in *payment.Intent) (*payment.CapturedPayment, error) {
	switch in.Status {
	case payment.StatusCaptured:
		return capturedFrom(in), nil
	case payment.StatusFailed:
		outcome := payment.OutcomeGatewayError
		if in.FailureOutcome != nil {
			outcome = *in.FailureOutcome
		}
		return nil, a.captureErr(outcome, ptr.Deref(in.FailureReason), nil)
	case payment.StatusVoided:
		return nil, a.captureErr(payment.OutcomeGatewayError, "intent was voided", nil)
	default:
		ce := a.captureErr(payment.OutcomeGatewayError, "capture not settled", nil)
		ce.Pending = true
		return nil, ce
	}
}

func (a *Adapter) captureErr(outcome payment.Outcome, reason string, err error) *payment.CaptureError {
	return payment.NewCaptureError(a.provider, outcome, reason, err)
}

func capturedFrom(in *payment.Intent) *payment.CapturedPayment {
	return &payment.CapturedPayment{
		IntentID:    in.ID,
		Provider:    in.Provider,
		ExternalRef: in.ExternalRef,
		CaptureRef:  ptr.Deref(in.CaptureRef),
		Amount:      in.Amount,
		Currency:    in.Currency,
		CapturedAt:  in.UpdatedAt,
	}
}

// Resolve settles a CREATED intent from the provider's definitive view.
func (a *Adapter) Resolve(ctx context.Context, intent *payment.Intent) (*payment.Intent, error) {
	current, err := a.store.ByID(ctx, intent.ID)
	if err != nil {
		return nil, err
	}
	if current.Status.Final() {
		return current, nil
	}

	v, err := a.call(ctx, "lookup", func(ctx context.Context) (any, error) {
		return a.ops.lookup(ctx, current)
	})
	if err != nil {
		return nil, &payment.GatewayError{Provider: a.provider, Op: "resolve", Err: err}
	}
	remote := v.(remoteState)

	now := a.clock.Now()
	switch remote.Status {
	case payment.StatusCaptured:
		if !remote.Amount.IsZero() && !remote.Amount.Equal(current.Amount) {
			slog.ErrorContext(ctx, "provider captured a different amount",
				slog.String("intent_id", current.ID.String()),
				slog.String("expected", current.Amount.String()),
				slog.String("captured", remote.Amount.String()))
		}
		err = a.recordCapture(ctx, current, remote.CaptureRef)
	case payment.StatusFailed:
		_, err = a.store.MarkFailed(ctx, current.ID, payment.OutcomeDeclined, remote.Reason, now)
	case payment.StatusVoided:
		_, err = a.store.MarkVoided(ctx, current.ID, now)
	default:
		return current, nil
	}
	if err != nil {
		return nil, err
	}
	return a.store.ByID(ctx, current.ID)
}

func (a *Adapter) Void(ctx context.Context, intent *payment.Intent) error {
	current, err := a.store.ByID(ctx, intent.ID)
	if err != nil {
		return err
	}
	switch current.Status {
	case payment.StatusCaptured:
		return payment.ErrAlreadyCaptured
	case payment.StatusFailed, payment.StatusVoided:
		return nil
	}

	_, err = a.call(ctx, "void", func(ctx context.Context) (any, error) {
		return nil, a.ops.void(ctx, current)
	})
	if err != nil && !errors.Is(err, ErrProviderNotFound) {
		if errors.Is(err, payment.ErrAlreadyCaptured) {
			if _, rerr := a.Resolve(ctx, current); rerr != nil {
				slog.ErrorContext(ctx, "failed to record capture found while voiding", slog.Any("error", rerr))
			}
			return payment.ErrAlreadyCaptured
		}
		return &payment.GatewayError{Provider: a.provider, Op: "void", Err: err}
	}

	ok, err := a.store.MarkVoided(ctx, current.ID, a.clock.Now())
	if err != nil {
		return err
	}
	if !ok {
		stored, err := a.store.ByID(ctx, current.ID)
		if err != nil {
			return err
		}
		if stored.Status == payment.StatusCaptured {
			return payment.ErrAlreadyCaptured
		}
	}
	return nil
}

// ApplyNotification treats a callback as a hint: the amount is checked
// against the intent and the status is re-read from the provider.
func (a *Adapter) ApplyNotification(ctx context.Context, n payment.Notification) (*payment.Intent, error) {
	if n.ExternalRef == "" {
		return nil, payment.ErrIntentNotFound
	}
	current, err := a.store.ByExternalRef(ctx, a.provider, n.ExternalRef)
	if err != nil {
		return nil, err
	}
	if !n.Amount.IsZero() && !n.Amount.Equal(current.Amount) {
		return nil, a.captureErr(payment.OutcomeAmountMismatch, "notification amount "+n.Amount.String()+" differs from intent", nil)
	}
	slog.InfoContext(ctx, "payment notification received",
		slog.String("provider", string(a.provider)),
		slog.String("external_ref", n.ExternalRef),
		slog.String("status", n.Status))
	if current.Status.Final() {
		return current, nil
	}
	return a.Resolve(ctx, current)
}
