package pricing

import (
	"errors"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

var (
	ErrEmptyCart           = errors.New("cart has no lines")
	ErrInvalidQuantity     = errors.New("quantity must be at least 1")
	ErrNegativePrice       = errors.New("unit price cannot be negative")
	ErrInvalidPercentage   = errors.New("discount percentage must be between 1 and 100")
	ErrNegativeDeliveryFee = errors.New("delivery fee cannot be negative")
)

const moneyPlaces = 2

var hundred = decimal.NewFromInt(100)

// Line is one cart line priced with the server-side unit price.
type Line struct {
	ProductID uuid.UUID
	Quantity  int
	UnitPrice decimal.Decimal
}

func (l Line) Amount() decimal.Decimal {
	return l.UnitPrice.Mul(decimal.NewFromInt(int64(l.Quantity)))
}

type Policy struct {
	FreeShippingThreshold decimal.Decimal
	DeliveryFee           decimal.Decimal
}

type Quote struct {
	Subtotal    decimal.Decimal `json:"subtotal"`
	Discount    decimal.Decimal `json:"discount"`
	DeliveryFee decimal.Decimal `json:"deliveryFee"`
	Total       decimal.Decimal `json:"total"`
}

// Equal compares amounts numerically so 40 and 40.00 match.
func (q Quote) Equal(other Quote) bool {
	return q.Subtotal.Equal(other.Subtotal) &&
		q.Discount.Equal(other.Discount) &&
		q.DeliveryFee.Equal(other.DeliveryFee) &&
		q.Total.Equal(other.Total)
}

type Engine struct {
	policy Policy
}

func NewEngine(policy Policy) (*Engine, error) {
	if policy.DeliveryFee.IsNegative() {
		return nil, ErrNegativeDeliveryFee
	}
	return &Engine{policy: policy}, nil
}

func (e *Engine) Policy() Policy {
	return e.policy
}

// Quote is a pure function of its arguments; percentage nil means no usable discount.
func (e *Engine) Quote(lines []Line, percentage *int) (Quote, error) {
	if len(lines) == 0 {
		return Quote{}, ErrEmptyCart
	}

	subtotal := decimal.Zero
	for _, l := range lines {
		if l.Quantity < 1 {
			return Quote{}, ErrInvalidQuantity
		}
		if l.UnitPrice.IsNegative() {
			return Quote{}, ErrNegativePrice
		}
		subtotal = subtotal.Add(l.Amount())
	}
	subtotal = subtotal.Round(moneyPlaces)

	discount := decimal.Zero
	if percentage != nil {
		if *percentage < 1 || *percentage > 100 {
			return Quote{}, ErrInvalidPercentage
		}
		discount = subtotal.Mul(decimal.NewFromInt(int64(*percentage))).Div(hundred).Round(moneyPlaces)
	}

	fee := e.policy.DeliveryFee.Round(moneyPlaces)
	if subtotal.Sub(discount).GreaterThanOrEqual(e.policy.FreeShippingThreshold) {
		fee = decimal.Zero
	}

	total := subtotal.Sub(discount).Add(fee)
	if total.IsNegative() {
		total = decimal.Zero
	}

	return Quote{
		Subtotal:    subtotal,
		Discount:    discount,
		DeliveryFee: fee,
		Total:       total.Round(moneyPlaces),
	}, nil
}
