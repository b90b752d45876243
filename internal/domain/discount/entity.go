package discount

import (
	"errors"
	"time"

	"github.com/google/uuid"
)

// ErrInvalidDiscount matches every reason a code cannot be applied.
var ErrInvalidDiscount = errors.New("invalid discount code")

type InvalidError struct {
	Reason string
}

func (e *InvalidError) Error() string {
	return "invalid discount code: " + e.Reason
}

func (e *InvalidError) Is(target error) bool {
	return target == ErrInvalidDiscount
}

var (
	ErrNotFound  error = &InvalidError{Reason: "not found"}
	ErrInactive  error = &InvalidError{Reason: "inactive"}
	ErrExpired   error = &InvalidError{Reason: "expired"}
	ErrExhausted error = &InvalidError{Reason: "usage limit reached"}
)

type DiscountCode struct {
	id          uuid.UUID
	code        Code
	percentage  Percentage
	active      bool
	expiresAt   *time.Time
	maxUses     *int
	currentUses int
	// active reservations that will consume a use when their order commits
	holds int
}

func Reconstruct(
	id uuid.UUID,
	code string,
	percentage int,
	active bool,
	expiresAt *time.Time,
	maxUses *int,
	currentUses int,
	holds int,
) (*DiscountCode, error) {
	c, err := NewCode(code)
	if err != nil {
		return nil, err
	}
	p, err := NewPercentage(percentage)
	if err != nil {
		return nil, err
	}
	if maxUses != nil && *maxUses < 1 {
		return nil, ErrInvalidMaxUses
	}
	return &DiscountCode{
		id:          id,
		code:        c,
		percentage:  p,
		active:      active,
		expiresAt:   expiresAt,
		maxUses:     maxUses,
		currentUses: currentUses,
		holds:       holds,
	}, nil
}

// Usable reports whether the code may be applied at t, counting uses already
// held by in-flight reservations against the cap.
func (d *DiscountCode) Usable(t time.Time) error {
	if !d.active {
		return ErrInactive
	}
	if d.expiresAt != nil && !t.Before(*d.expiresAt) {
		return ErrExpired
	}
	if d.maxUses != nil && d.currentUses+d.holds >= *d.maxUses {
		return ErrExhausted
	}
	return nil
}

func (d *DiscountCode) RemainingUses() *int {
	if d.maxUses == nil {
		return nil
	}
	left := *d.maxUses - d.currentUses - d.holds
	if left < 0 {
		left = 0
	}
	return &left
}

func (d *DiscountCode) ID() uuid.UUID          { return d.id }
func (d *DiscountCode) Code() Code             { return d.code }
func (d *DiscountCode) Percentage() Percentage { return d.percentage }
func (d *DiscountCode) Active() bool           { return d.active }
func (d *DiscountCode) ExpiresAt() *time.Time  { return d.expiresAt }
func (d *DiscountCode) MaxUses() *int          { return d.maxUses }
func (d *DiscountCode) CurrentUses() int       { return d.currentUses }
func (d *DiscountCode) Holds() int             { return d.holds }
