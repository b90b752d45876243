package checkout

import (
	"errors"
	"strconv"
	"time"

	"storefront/internal/domain/order"
	"storefront/internal/domain/payment"
	"storefront/internal/domain/pricing"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

var ErrAttemptNotFound = errors.New("checkout attempt not found")

// State follows one checkout attempt, not the order it produces.
type State string

const (
	StateValidating           State = "VALIDATING"
	StateReserving            State = "RESERVING"
	StatePaying               State = "PAYING"
	StateAwaitingConfirmation State = "AWAITING_CONFIRMATION"
	StateCommitting           State = "COMMITTING"
	StateDone                 State = "DONE"
	StateReleasing            State = "RELEASING"
	StateFailed               State = "FAILED"
)

func (s State) Terminal() bool {
	return s == StateDone || s == StateFailed
}

type Attempt struct {
	Key           string
	Owner         string
	Generation    int
	State         State
	Provider      payment.Provider
	ReservationID *uuid.UUID
	IntentID      *uuid.UUID
	OrderID       *uuid.UUID
	Snapshot      Snapshot
	FailureReason *string
	ExpiresAt     time.Time
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// PaymentKey scopes the payment idempotency key to one generation so that a
// retry after a decline gets a fresh intent while replays of the same
// generation reuse the original one.
func (a *Attempt) PaymentKey() string {
	return a.Key + ":" + strconv.Itoa(a.Generation)
}

// Resumable is true when the attempt is parked waiting for payer approval.
func (a *Attempt) Resumable() bool {
	return a.State == StateAwaitingConfirmation
}

// Snapshot is everything needed to finish the order later, e.g. from a webhook.
type Snapshot struct {
	UserID          *uuid.UUID       `json:"userId,omitempty"`
	Cart            Cart             `json:"cart"`
	Lines           []PricedLine     `json:"lines"`
	DiscountID      *uuid.UUID       `json:"discountId,omitempty"`
	DiscountCode    *string          `json:"discountCode,omitempty"`
	DiscountPercent *int             `json:"discountPercent,omitempty"`
	Quote           pricing.Quote    `json:"quote"`
	Currency        string           `json:"currency"`
	ShippingAddress order.Address    `json:"shippingAddress"`
	CustomerNotes   *string          `json:"customerNotes,omitempty"`
	ExpectedTotal   *decimal.Decimal `json:"expectedTotal,omitempty"`
}

type PricedLine struct {
	ProductID uuid.UUID       `json:"productId"`
	Quantity  int             `json:"quantity"`
	UnitPrice decimal.Decimal `json:"unitPrice"`
	Color     *string         `json:"color,omitempty"`
	Size      *string         `json:"size,omitempty"`
}

func (s Snapshot) PricingLines() []pricing.Line {
	out := make([]pricing.Line, 0, len(s.Lines))
	for _, l := range s.Lines {
		out = append(out, pricing.Line{ProductID: l.ProductID, Quantity: l.Quantity, UnitPrice: l.UnitPrice})
	}
	return out
}

func (s Snapshot) OrderItems() []order.Item {
	items := make([]order.Item, 0, len(s.Lines))
	for _, l := range s.Lines {
		items = append(items, order.Item{
			ProductID:           l.ProductID,
			Quantity:            l.Quantity,
			UnitPriceAtPurchase: l.UnitPrice,
			Color:               l.Color,
			Size:                l.Size,
		})
	}
	return items
}
