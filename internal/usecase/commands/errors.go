package commands

import (
	"fmt"

	"storefront/internal/domain/payment"
	"storefront/internal/pkg/errs"

	"github.com/google/uuid"
)

var (
	ErrCheckoutInProgress  = errs.New("checkout already in progress for this cart")
	ErrProductNotFound     = errs.New("product not found or unavailable")
	ErrUnsupportedProvider = payment.ErrUnsupportedProvider
	ErrPersistenceFailed   = errs.New("payment captured but order could not be recorded")
	ErrAttemptConflict     = errs.New("checkout attempt changed concurrently")
	ErrIntentNotCaptured   = errs.New("payment intent is not captured")
)

// PersistenceAfterCaptureError means money moved but no order exists. It is
// never resolved automatically; CaseID points at the reconciliation record.
type PersistenceAfterCaptureError struct {
	CaseID      *uuid.UUID
	Provider    payment.Provider
	ExternalRef string
	Err         error
}

func (e *PersistenceAfterCaptureError) Error() string {
	return fmt.Sprintf("order not recorded after %s capture %s: %v", e.Provider, e.ExternalRef, e.Err)
}

func (e *PersistenceAfterCaptureError) Unwrap() error {
	return e.Err
}

func (e *PersistenceAfterCaptureError) Is(target error) bool {
	return target == ErrPersistenceFailed
}
