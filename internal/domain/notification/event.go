package notification

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

type Kind string

const (
	KindOrderConfirmed Kind = "ORDER_CONFIRMED"
	KindStatusChanged  Kind = "STATUS_CHANGED"
)

// Event is delivered at least once; consumers deduplicate on ID.
type Event struct {
	ID         uuid.UUID       `json:"eventId"`
	Kind       Kind            `json:"kind"`
	OrderID    uuid.UUID       `json:"orderId"`
	Owner      string          `json:"owner"`
	Payload    json.RawMessage `json:"payload"`
	OccurredAt time.Time       `json:"occurredAt"`
}

type OrderConfirmedPayload struct {
	Total       string `json:"total"`
	Currency    string `json:"currency"`
	PaymentType string `json:"paymentType"`
	ItemCount   int    `json:"itemCount"`
}

type StatusChangedPayload struct {
	From           string  `json:"from"`
	To             string  `json:"to"`
	Notes          *string `json:"notes,omitempty"`
	TrackingNumber *string `json:"trackingNumber,omitempty"`
	CourierService *string `json:"courierService,omitempty"`
}

func New(kind Kind, orderID uuid.UUID, owner string, payload any, now time.Time) (Event, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return Event{}, err
	}
	return Event{
		ID:         uuid.New(),
		Kind:       kind,
		OrderID:    orderID,
		Owner:      owner,
		Payload:    raw,
		OccurredAt: now,
	}, nil
}
