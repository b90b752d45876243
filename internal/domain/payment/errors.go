package payment

import (
	"errors"
	"fmt"
)

var (
	ErrDeclined       = errors.New("payment declined")
	ErrGatewayFailure = errors.New("payment gateway error")
	ErrAmountMismatch = errors.New("payment amount mismatch")
)

type Outcome string

const (
	OutcomeDeclined       Outcome = "DECLINED"
	OutcomeGatewayError   Outcome = "GATEWAY_ERROR"
	OutcomeAmountMismatch Outcome = "AMOUNT_MISMATCH"
)

// CaptureError is the only failure shape Capture returns.
type CaptureError struct {
	Outcome  Outcome
	Provider Provider
	Reason   string
	// Pending is set when the provider could not be reached to settle an ambiguous capture.
	Pending bool
	Err     error
}

func (e *CaptureError) Error() string {
	msg := fmt.Sprintf("%s capture %s: %s", e.Provider, e.Outcome, e.Reason)
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *CaptureError) Unwrap() error {
	return e.Err
}

func (e *CaptureError) Is(target error) bool {
	switch e.Outcome {
	case OutcomeDeclined:
		return target == ErrDeclined
	case OutcomeAmountMismatch:
		return target == ErrAmountMismatch
	case OutcomeGatewayError:
		return target == ErrGatewayFailure
	}
	return false
}

func NewCaptureError(provider Provider, outcome Outcome, reason string, err error) *CaptureError {
	return &CaptureError{Outcome: outcome, Provider: provider, Reason: reason, Err: err}
}

// GatewayError wraps failures of non-capture calls (create, resolve, void).
type GatewayError struct {
	Provider Provider
	Op       string
	Err      error
}

func (e *GatewayError) Error() string {
	return fmt.Sprintf("%s %s failed: %v", e.Provider, e.Op, e.Err)
}

func (e *GatewayError) Unwrap() error {
	return e.Err
}

func (e *GatewayError) Is(target error) bool {
	return target == ErrGatewayFailure
}
