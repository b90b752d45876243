//go:build unit

package order_test

import (
	"errors"
	"testing"
	"time"

	"storefront/internal/domain/order"
	"storefront/internal/domain/payment"
	"storefront/internal/domain/pricing"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var t0 = time.Date(2024, 6, 1, 9, 0, 0, 0, time.UTC)

func strPtr(s string) *string {
	return &s
}

func validParams() order.NewParams {
	userID := uuid.New()
	return order.NewParams{
		UserID: &userID,
		Owner:  "user:" + userID.String(),
		Items: []order.Item{{
			ProductID:           uuid.New(),
			Quantity:            2,
			UnitPriceAtPurchase: decimal.NewFromInt(20),
		}},
		Quote: pricing.Quote{
			Subtotal:    decimal.NewFromInt(40),
			Discount:    decimal.Zero,
			DeliveryFee: decimal.RequireFromString("5.99"),
			Total:       decimal.RequireFromString("45.99"),
		},
		Currency:    "USD",
		PaymentType: payment.ProviderCard,
		ProviderRef: "pi_123",
		ShippingAddress: order.Address{
			Name: "Ada Lovelace", Line1: "12 Analytical Way", City: "London", PostalCode: "N1 9GU", Country: "GB",
		},
	}
}

func newOrder(t *testing.T) *order.Order {
	t.Helper()
	o, err := order.New(validParams(), t0)
	require.NoError(t, err)
	return o
}

// assertHistoryConsistent checks the history is ordered and ends at the current status.
func assertHistoryConsistent(t *testing.T, o *order.Order) {
	t.Helper()
	h := o.History()
	require.NotEmpty(t, h)
	for i := 1; i < len(h); i++ {
		assert.False(t, h[i].CreatedAt.Before(h[i-1].CreatedAt), "history out of order at %d", i)
	}
	assert.Equal(t, o.Status(), h[len(h)-1].Status)
}

func TestNew(t *testing.T) {
	t.Run("starts pending with one history entry", func(t *testing.T) {
		o := newOrder(t)
		assert.NotEqual(t, uuid.Nil, o.ID())
		assert.Equal(t, order.StatusPending, o.Status())
		require.Len(t, o.History(), 1)
		assert.Equal(t, t0, o.History()[0].CreatedAt)
		assertHistoryConsistent(t, o)
	})

	cases := []struct {
		name   string
		mutate func(*order.NewParams)
		errIs  error
	}{
		{name: "no items", mutate: func(p *order.NewParams) { p.Items = nil }, errIs: order.ErrNoItems},
		{name: "total does not add up", mutate: func(p *order.NewParams) { p.Quote.Total = decimal.NewFromInt(40) }, errIs: order.ErrTotalMismatch},
		{name: "no provider reference", mutate: func(p *order.NewParams) { p.ProviderRef = "" }, errIs: order.ErrMissingProviderRef},
		{name: "blank city", mutate: func(p *order.NewParams) { p.ShippingAddress.City = "  " }, errIs: order.ErrInvalidAddress},
		{name: "country not two letters", mutate: func(p *order.NewParams) { p.ShippingAddress.Country = "GBR" }, errIs: order.ErrInvalidAddress},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			p := validParams()
			tc.mutate(&p)
			_, err := order.New(p, t0)
			assert.ErrorIs(t, err, tc.errIs)
		})
	}
}

func TestOrder_TransitionLifecycle(t *testing.T) {
	o := newOrder(t)

	_, err := o.Transition(order.StatusProcessing, order.TransitionDetails{Notes: strPtr("packing")}, t0.Add(time.Hour))
	require.NoError(t, err)

	_, err = o.Transition(order.StatusShipped, order.TransitionDetails{}, t0.Add(2*time.Hour))
	require.ErrorIs(t, err, order.ErrMissingTracking)
	assert.Equal(t, order.StatusProcessing, o.Status(), "failed transition must not change status")

	eta := t0.Add(72 * time.Hour)
	entry, err := o.Transition(order.StatusShipped, order.TransitionDetails{
		TrackingNumber:    strPtr("1Z999"),
		CourierService:    strPtr("UPS"),
		EstimatedDelivery: &eta,
	}, t0.Add(3*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, order.StatusShipped, entry.Status)
	assert.Equal(t, "1Z999", *o.TrackingNumber())
	assert.Equal(t, &eta, o.EstimatedDelivery())

	_, err = o.Transition(order.StatusDelivered, order.TransitionDetails{}, t0.Add(48*time.Hour))
	require.NoError(t, err)
	require.NotNil(t, o.ActualDelivery())
	assert.Equal(t, t0.Add(48*time.Hour), *o.ActualDelivery())

	assert.Len(t, o.History(), 4)
	assertHistoryConsistent(t, o)
	assert.True(t, o.Status().Terminal())
}

func TestOrder_TransitionRules(t *testing.T) {
	all := []order.Status{
		order.StatusPending, order.StatusProcessing, order.StatusShipped, order.StatusDelivered, order.StatusCancelled,
	}
	allowed := map[order.Status][]order.Status{
		order.StatusPending:    {order.StatusProcessing, order.StatusCancelled},
		order.StatusProcessing: {order.StatusShipped, order.StatusCancelled},
		order.StatusShipped:    {order.StatusDelivered},
	}

	for _, from := range all {
		for _, to := range all {
			want := false
			for _, a := range allowed[from] {
				if a == to {
					want = true
				}
			}
			assert.Equal(t, want, order.CanTransition(from, to), "%s -> %s", from, to)
		}
	}
}

func TestOrder_CancelAfterShippingIsRejected(t *testing.T) {
	for _, from := range []order.Status{order.StatusShipped, order.StatusDelivered, order.StatusCancelled} {
		t.Run(from.String(), func(t *testing.T) {
			o := order.Reconstruct(uuid.New(), nil, "session:abc", from, payment.ProviderPayPal, "PAY-1",
				nil, nil, nil, nil, t0, t0)

			_, err := o.Transition(order.StatusCancelled, order.TransitionDetails{}, t0.Add(time.Hour))
			require.ErrorIs(t, err, order.ErrInvalidTransition)

			var invalid *order.InvalidTransitionError
			require.True(t, errors.As(err, &invalid))
			assert.Equal(t, from, invalid.From)
			assert.Equal(t, order.StatusCancelled, invalid.To)
			assert.Equal(t, from, o.Status())
		})
	}
}

func TestReturnsStock(t *testing.T) {
	assert.True(t, order.ReturnsStock(order.StatusCancelled))
	assert.False(t, order.ReturnsStock(order.StatusDelivered))
}

func TestParseStatus(t *testing.T) {
	st, err := order.ParseStatus(" shipped ")
	require.NoError(t, err)
	assert.Equal(t, order.StatusShipped, st)

	_, err = order.ParseStatus("RETURNED")
	assert.ErrorIs(t, err, order.ErrUnknownStatus)
}
