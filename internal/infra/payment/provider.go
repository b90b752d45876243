package payment

import (
	"errors"
	"fmt"
)

// Provider API clients report failures through these sentinels so the
// adapter can tell a refusal from an outage.
var (
	ErrProviderDeclined    = errors.New("provider declined the payment")
	ErrProviderTimeout     = errors.New("provider did not answer in time")
	ErrProviderUnavailable = errors.New("provider unavailable")
	ErrProviderNotFound    = errors.New("provider resource not found")
)

type DeclineError struct {
	Code string
}

func (e *DeclineError) Error() string {
	return fmt.Sprintf("provider declined the payment: %s", e.Code)
}

func (e *DeclineError) Is(target error) bool {
	return target == ErrProviderDeclined
}

func declined(code string) error {
	return &DeclineError{Code: code}
}

func declineReason(err error) string {
	var de *DeclineError
	if errors.As(err, &de) {
		return de.Code
	}
	return err.Error()
}
