package request

import (
	"time"

	"storefront/internal/domain/order"
	"storefront/internal/domain/payment"
	"storefront/internal/usecase/commands"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type TransitionOrderStatusRequest struct {
	Status            string     `json:"status" binding:"required"`
	Notes             *string    `json:"notes,omitempty" binding:"omitempty,max=1000"`
	TrackingNumber    *string    `json:"trackingNumber,omitempty" binding:"omitempty,max=100"`
	CourierService    *string    `json:"courierService,omitempty" binding:"omitempty,max=100"`
	EstimatedDelivery *time.Time `json:"estimatedDelivery,omitempty"`
}

func (r *TransitionOrderStatusRequest) ToCommand(orderID uuid.UUID) (commands.TransitionInput, error) {
	to, err := order.ParseStatus(r.Status)
	if err != nil {
		return commands.TransitionInput{}, err
	}
	return commands.TransitionInput{
		OrderID: orderID,
		To:      to,
		Details: order.TransitionDetails{
			Notes:             trimmed(r.Notes),
			TrackingNumber:    trimmed(r.TrackingNumber),
			CourierService:    trimmed(r.CourierService),
			EstimatedDelivery: r.EstimatedDelivery,
		},
	}, nil
}

type PaymentWebhookRequest struct {
	ExternalRef string          `json:"externalRef" binding:"required,max=200"`
	Status      string          `json:"status" binding:"max=100"`
	Amount      decimal.Decimal `json:"amount"`
}

func (r *PaymentWebhookRequest) ToCommand(provider payment.Provider, secret string) commands.PaymentEventInput {
	return commands.PaymentEventInput{
		Provider: provider,
		Secret:   secret,
		Notification: payment.Notification{
			ExternalRef: r.ExternalRef,
			Status:      r.Status,
			Amount:      r.Amount,
		},
	}
}
