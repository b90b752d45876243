package shared

import (
	"time"

	"storefront/internal/domain/payment"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type ProductSnapshot struct {
	ID                uuid.UUID
	Name              string
	Price             decimal.Decimal
	Active            bool
	Stock             int
	LowStockThreshold int
}

type ReconciliationCase struct {
	AttemptKey  string
	Provider    payment.Provider
	ExternalRef string
	IntentID    uuid.UUID
	Amount      decimal.Decimal
	Currency    string
	Reason      string
	OpenedAt    time.Time
}
