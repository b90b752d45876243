//go:build unit

package commands_test

import (
	"context"
	"testing"

	"storefront/internal/domain/checkout"
	"storefront/internal/domain/payment"
	infrapay "storefront/internal/infra/payment"
	"storefront/internal/pkg/ptr"
	"storefront/internal/usecase/commands"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const webhookSecret = "whsec_test"

func (f *checkoutFixture) events() commands.PaymentEventCommands {
	return commands.NewPaymentEventUseCase(f.store, f.registry, f.uc, webhookSecret)
}

// confirmOnClient simulates the payer confirming the card intent directly
// with the provider, outside our capture call.
func (f *checkoutFixture) confirmOnClient(t *testing.T, ref, token string) {
	t.Helper()
	_, err := f.sandbox.ConfirmPaymentIntent(context.Background(), ref, infrapay.CardConfirmParams{
		PaymentMethod:  token,
		IdempotencyKey: ref + ":client",
	})
	if token == infrapay.SandboxTokenOK {
		require.NoError(t, err)
	}
}

func TestPaymentEvents_Handle(t *testing.T) {
	ctx := context.Background()

	t.Run("captured callback completes the order once", func(t *testing.T) {
		f := newCheckoutFixture(t)
		x := f.product("20", 5)
		prepared, err := f.uc.Prepare(ctx, customer(), request(payment.ProviderCard, "", line(x, 1)))
		require.NoError(t, err)
		f.confirmOnClient(t, prepared.ExternalRef, infrapay.SandboxTokenOK)

		in := commands.PaymentEventInput{
			Provider: payment.ProviderCard,
			Secret:   webhookSecret,
			Notification: payment.Notification{
				ExternalRef: prepared.ExternalRef,
				Status:      "payment_intent.succeeded",
				Amount:      prepared.Quote.Total,
			},
		}
		first, err := f.events().Handle(ctx, in)
		require.NoError(t, err)
		require.NotNil(t, first.OrderID)
		assert.Equal(t, payment.StatusCaptured, first.Status)

		second, err := f.events().Handle(ctx, in)
		require.NoError(t, err)
		assert.Equal(t, ptr.Deref(first.OrderID), ptr.Deref(second.OrderID))
		assert.Equal(t, 1, f.store.OrderCount())
		assert.Equal(t, 4, f.store.Product(x).Stock)

		a, _ := f.store.Attempt(prepared.AttemptKey)
		assert.Equal(t, checkout.StateDone, a.State)
	})

	t.Run("failed callback releases the reservation", func(t *testing.T) {
		f := newCheckoutFixture(t)
		x := f.product("20", 5)
		prepared, err := f.uc.Prepare(ctx, customer(), request(payment.ProviderCard, "", line(x, 1)))
		require.NoError(t, err)
		f.confirmOnClient(t, prepared.ExternalRef, infrapay.SandboxTokenDecline)

		res, err := f.events().Handle(ctx, commands.PaymentEventInput{
			Provider:     payment.ProviderCard,
			Secret:       webhookSecret,
			Notification: payment.Notification{ExternalRef: prepared.ExternalRef, Status: "payment_intent.payment_failed"},
		})
		require.NoError(t, err)
		assert.Equal(t, payment.StatusFailed, res.Status)
		assert.True(t, res.Released)
		assert.Equal(t, 5, f.store.Product(x).Stock)

		a, _ := f.store.Attempt(prepared.AttemptKey)
		assert.Equal(t, checkout.StateFailed, a.State)
	})

	t.Run("callback amount that differs from the intent is rejected", func(t *testing.T) {
		f := newCheckoutFixture(t)
		x := f.product("20", 5)
		prepared, err := f.uc.Prepare(ctx, customer(), request(payment.ProviderCard, "", line(x, 1)))
		require.NoError(t, err)

		_, err = f.events().Handle(ctx, commands.PaymentEventInput{
			Provider:     payment.ProviderCard,
			Secret:       webhookSecret,
			Notification: payment.Notification{ExternalRef: prepared.ExternalRef, Amount: dec("1.00")},
		})
		assert.ErrorIs(t, err, payment.ErrAmountMismatch)
		assert.Zero(t, f.store.OrderCount())
	})

	t.Run("wrong secret", func(t *testing.T) {
		f := newCheckoutFixture(t)
		_, err := f.events().Handle(ctx, commands.PaymentEventInput{Provider: payment.ProviderCard, Secret: "guess"})
		assert.ErrorIs(t, err, commands.ErrInvalidWebhookSecret)
	})

	t.Run("unknown reference", func(t *testing.T) {
		f := newCheckoutFixture(t)
		_, err := f.events().Handle(ctx, commands.PaymentEventInput{
			Provider:     payment.ProviderCard,
			Secret:       webhookSecret,
			Notification: payment.Notification{ExternalRef: "pi_missing"},
		})
		assert.ErrorIs(t, err, payment.ErrIntentNotFound)
	})
}
