package stock

import (
	"bytes"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

var (
	ErrNoLines             = errors.New("reservation has no lines")
	ErrInvalidQuantity     = errors.New("reserved quantity must be at least 1")
	ErrReservationNotFound = errors.New("stock reservation not found")
	ErrNotReserved         = errors.New("stock reservation is not active")
)

type Status string

const (
	StatusReserved  Status = "RESERVED"
	StatusCommitted Status = "COMMITTED"
	StatusReleased  Status = "RELEASED"
	StatusReturned  Status = "RETURNED"
)

type Line struct {
	ProductID uuid.UUID
	Quantity  int
	// UnitPrice is read from the product row inside the reserving transaction.
	UnitPrice decimal.Decimal
}

type ReserveRequest struct {
	AttemptKey string
	Generation int
	Lines      []Line
	DiscountID *uuid.UUID
	ExpiresAt  time.Time
}

// Normalize merges duplicate products and sorts by product id so that
// concurrent reservations lock rows in the same order.
func (r ReserveRequest) Normalize() (ReserveRequest, error) {
	if len(r.Lines) == 0 {
		return r, ErrNoLines
	}
	merged := make(map[uuid.UUID]int, len(r.Lines))
	for _, l := range r.Lines {
		if l.Quantity < 1 {
			return r, ErrInvalidQuantity
		}
		merged[l.ProductID] += l.Quantity
	}
	lines := make([]Line, 0, len(merged))
	for id, q := range merged {
		lines = append(lines, Line{ProductID: id, Quantity: q})
	}
	sort.Slice(lines, func(i, j int) bool {
		return bytes.Compare(lines[i].ProductID[:], lines[j].ProductID[:]) < 0
	})
	r.Lines = lines
	return r, nil
}

// Reservation is the token handed back by Reserve.
type Reservation struct {
	ID         uuid.UUID
	AttemptKey string
	Generation int
	Status     Status
	Lines      []Line
	DiscountID *uuid.UUID
	OrderID    *uuid.UUID
	ExpiresAt  time.Time
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

func (r *Reservation) PriceOf(productID uuid.UUID) (decimal.Decimal, bool) {
	for _, l := range r.Lines {
		if l.ProductID == productID {
			return l.UnitPrice, true
		}
	}
	return decimal.Zero, false
}

func (r *Reservation) Expired(now time.Time) bool {
	return r.Status == StatusReserved && !now.Before(r.ExpiresAt)
}

type Shortage struct {
	ProductID uuid.UUID `json:"productId"`
	Requested int       `json:"requested"`
	Available int       `json:"available"`
}

// InsufficientStockError lists every line that could not be satisfied.
type InsufficientStockError struct {
	Shortages []Shortage
}

func (e *InsufficientStockError) Error() string {
	parts := make([]string, 0, len(e.Shortages))
	for _, s := range e.Shortages {
		parts = append(parts, fmt.Sprintf("%s requested=%d available=%d", s.ProductID, s.Requested, s.Available))
	}
	return "insufficient stock: " + strings.Join(parts, "; ")
}
