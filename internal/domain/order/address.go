package order

import (
	"errors"
	"strings"
)

var ErrInvalidAddress = errors.New("shipping address is incomplete")

type Address struct {
	Name       string  `json:"name"`
	Line1      string  `json:"line1"`
	Line2      *string `json:"line2,omitempty"`
	City       string  `json:"city"`
	Region     *string `json:"region,omitempty"`
	PostalCode string  `json:"postalCode"`
	Country    string  `json:"country"`
	Phone      *string `json:"phone,omitempty"`
}

func (a Address) Validate() error {
	for _, f := range []string{a.Name, a.Line1, a.City, a.PostalCode, a.Country} {
		if strings.TrimSpace(f) == "" {
			return ErrInvalidAddress
		}
	}
	if len(strings.TrimSpace(a.Country)) != 2 {
		return ErrInvalidAddress
	}
	return nil
}
