package order

import (
	"errors"
	"time"

	"storefront/internal/domain/payment"
	"storefront/internal/domain/pricing"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

var (
	ErrNoItems            = errors.New("order must have at least one item")
	ErrTotalMismatch      = errors.New("order total must equal subtotal - discount + delivery fee")
	ErrMissingProviderRef = errors.New("order requires a captured payment reference")
	ErrMissingTracking    = errors.New("shipping requires a tracking number and courier")
	ErrNotFound           = errors.New("order not found")
)

type Item struct {
	ProductID           uuid.UUID       `json:"productId"`
	Quantity            int             `json:"quantity"`
	UnitPriceAtPurchase decimal.Decimal `json:"unitPriceAtPurchase"`
	Color               *string         `json:"color,omitempty"`
	Size                *string         `json:"size,omitempty"`
}

type HistoryEntry struct {
	Status    Status
	Notes     *string
	CreatedAt time.Time
}

type NewParams struct {
	ID              uuid.UUID
	UserID          *uuid.UUID
	Owner           string
	Items           []Item
	Quote           pricing.Quote
	Currency        string
	PaymentType     payment.Provider
	ProviderRef     string
	DiscountCode    *string
	ShippingAddress Address
	CustomerNotes   *string
}

type Order struct {
	id                uuid.UUID
	userID            *uuid.UUID
	owner             string
	items             []Item
	quote             pricing.Quote
	currency          string
	status            Status
	paymentType       payment.Provider
	providerRef       string
	discountCode      *string
	trackingNumber    *string
	courierService    *string
	estimatedDelivery *time.Time
	actualDelivery    *time.Time
	shippingAddress   Address
	customerNotes     *string
	history           []HistoryEntry
	createdAt         time.Time
	updatedAt         time.Time
}

// New builds a freshly paid order in PENDING with its first history entry.
func New(p NewParams, now time.Time) (*Order, error) {
	if len(p.Items) == 0 {
		return nil, ErrNoItems
	}
	q := p.Quote
	if !q.Total.Equal(q.Subtotal.Sub(q.Discount).Add(q.DeliveryFee)) {
		return nil, ErrTotalMismatch
	}
	if p.ProviderRef == "" {
		return nil, ErrMissingProviderRef
	}
	if err := p.ShippingAddress.Validate(); err != nil {
		return nil, err
	}
	id := p.ID
	if id == uuid.Nil {
		id = uuid.New()
	}
	return &Order{
		id:              id,
		userID:          p.UserID,
		owner:           p.Owner,
		items:           p.Items,
		quote:           q,
		currency:        p.Currency,
		status:          StatusPending,
		paymentType:     p.PaymentType,
		providerRef:     p.ProviderRef,
		discountCode:    p.DiscountCode,
		shippingAddress: p.ShippingAddress,
		customerNotes:   p.CustomerNotes,
		history:         []HistoryEntry{{Status: StatusPending, CreatedAt: now}},
		createdAt:       now,
		updatedAt:       now,
	}, nil
}

// TransitionDetails carries the fields a target status may set.
type TransitionDetails struct {
	Notes             *string
	TrackingNumber    *string
	CourierService    *string
	EstimatedDelivery *time.Time
}

// Transition moves the order and returns the history entry to append.
func (o *Order) Transition(to Status, d TransitionDetails, now time.Time) (HistoryEntry, error) {
	if !CanTransition(o.status, to) {
		return HistoryEntry{}, &InvalidTransitionError{From: o.status, To: to}
	}
	switch to {
	case StatusShipped:
		if d.TrackingNumber == nil || *d.TrackingNumber == "" || d.CourierService == nil || *d.CourierService == "" {
			return HistoryEntry{}, ErrMissingTracking
		}
		o.trackingNumber = d.TrackingNumber
		o.courierService = d.CourierService
		o.estimatedDelivery = d.EstimatedDelivery
	case StatusDelivered:
		at := now
		o.actualDelivery = &at
	}
	entry := HistoryEntry{Status: to, Notes: d.Notes, CreatedAt: now}
	o.status = to
	o.history = append(o.history, entry)
	o.updatedAt = now
	return entry, nil
}

// ReturnsStock reports whether reaching this status gives committed stock back.
func ReturnsStock(to Status) bool {
	return to == StatusCancelled
}

func Reconstruct(
	id uuid.UUID,
	userID *uuid.UUID,
	owner string,
	status Status,
	paymentType payment.Provider,
	providerRef string,
	trackingNumber, courierService *string,
	estimatedDelivery, actualDelivery *time.Time,
	createdAt, updatedAt time.Time,
) *Order {
	return &Order{
		id:                id,
		userID:            userID,
		owner:             owner,
		status:            status,
		paymentType:       paymentType,
		providerRef:       providerRef,
		trackingNumber:    trackingNumber,
		courierService:    courierService,
		estimatedDelivery: estimatedDelivery,
		actualDelivery:    actualDelivery,
		createdAt:         createdAt,
		updatedAt:         updatedAt,
	}
}

func (o *Order) ID() uuid.UUID                 { return o.id }
func (o *Order) UserID() *uuid.UUID            { return o.userID }
func (o *Order) Owner() string                 { return o.owner }
func (o *Order) Items() []Item                 { return o.items }
func (o *Order) Quote() pricing.Quote          { return o.quote }
func (o *Order) Currency() string              { return o.currency }
func (o *Order) Status() Status                { return o.status }
func (o *Order) PaymentType() payment.Provider { return o.paymentType }
func (o *Order) ProviderRef() string           { return o.providerRef }
func (o *Order) DiscountCode() *string         { return o.discountCode }
func (o *Order) TrackingNumber() *string       { return o.trackingNumber }
func (o *Order) CourierService() *string       { return o.courierService }
func (o *Order) EstimatedDelivery() *time.Time { return o.estimatedDelivery }
func (o *Order) ActualDelivery() *time.Time    { return o.actualDelivery }
func (o *Order) ShippingAddress() Address      { return o.shippingAddress }
func (o *Order) CustomerNotes() *string        { return o.customerNotes }
func (o *Order) History() []HistoryEntry       { return o.history }
func (o *Order) CreatedAt() time.Time          { return o.createdAt }
func (o *Order) UpdatedAt() time.Time          { return o.updatedAt }
