package payment

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

var (
	ErrUnsupportedProvider = errors.New("unsupported payment provider")
	ErrIntentNotFound      = errors.New("payment intent not found")
	ErrIntentConflict      = errors.New("idempotency key reused with different parameters")
	ErrAlreadyCaptured     = errors.New("payment intent already captured")
	ErrInvalidAmount       = errors.New("payment amount must be positive")
)

type Provider string

const (
	ProviderPayPal Provider = "PAYPAL"
	ProviderCard   Provider = "CARD"
	ProviderWallet Provider = "WALLET"
)

func ParseProvider(s string) (Provider, error) {
	p := Provider(strings.ToUpper(strings.TrimSpace(s)))
	switch p {
	case ProviderPayPal, ProviderCard, ProviderWallet:
		return p, nil
	default:
		return "", ErrUnsupportedProvider
	}
}

func (p Provider) String() string {
	return string(p)
}

type Status string

const (
	StatusCreated  Status = "CREATED"
	StatusCaptured Status = "CAPTURED"
	StatusFailed   Status = "FAILED"
	StatusVoided   Status = "VOIDED"
)

func (s Status) Final() bool {
	return s == StatusCaptured || s == StatusFailed || s == StatusVoided
}

type IntentRequest struct {
	Amount         decimal.Decimal
	Currency       string
	IdempotencyKey string
}

func (r IntentRequest) Validate() error {
	if !r.Amount.IsPositive() {
		return ErrInvalidAmount
	}
	if r.IdempotencyKey == "" || r.Currency == "" {
		return errors.New("intent request requires currency and idempotency key")
	}
	return nil
}

type Intent struct {
	ID             uuid.UUID
	Provider       Provider
	ExternalRef    string
	Amount         decimal.Decimal
	Currency       string
	IdempotencyKey string
	Status         Status
	// NextAction is provider-neutral guidance for the client, e.g. an approval URL.
	NextAction     string
	CaptureRef     *string
	FailureOutcome *Outcome
	FailureReason  *string
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// Confirmation carries what the client obtained from the provider before capture.
type Confirmation struct {
	Token string
	// ConfirmedAmount is the amount the client or provider callback says was approved.
	ConfirmedAmount *decimal.Decimal
}

type CapturedPayment struct {
	IntentID    uuid.UUID
	Provider    Provider
	ExternalRef string
	CaptureRef  string
	Amount      decimal.Decimal
	Currency    string
	CapturedAt  time.Time
}

// Notification is an asynchronous provider callback in provider-neutral form.
type Notification struct {
	ExternalRef string
	Status      string
	Amount      decimal.Decimal
}

// Gateway is implemented once per provider. No provider type crosses this boundary.
type Gateway interface {
	Provider() Provider
	CreateIntent(ctx context.Context, req IntentRequest) (*Intent, error)
	Capture(ctx context.Context, intent *Intent, confirmation Confirmation) (*CapturedPayment, error)
	// Resolve asks the provider for the definitive status of an intent whose outcome is unknown.
	Resolve(ctx context.Context, intent *Intent) (*Intent, error)
	Void(ctx context.Context, intent *Intent) error
	ApplyNotification(ctx context.Context, n Notification) (*Intent, error)
}

type Registry interface {
	Gateway(provider Provider) (Gateway, error)
	Intent(ctx context.Context, id uuid.UUID) (*Intent, error)
}
