package discount

import (
	"errors"
	"regexp"
	"strings"
)

var (
	ErrInvalidCodeFormat = errors.New("invalid discount code format")
	ErrInvalidPercentage = errors.New("discount percentage must be between 1 and 100")
	ErrInvalidMaxUses    = errors.New("max uses must be positive")
)

var codeRegex = regexp.MustCompile(`^[A-Z0-9_-]{3,32}$`)

// Code is the normalized, case-insensitive form of a discount code.
type Code string

func NewCode(code string) (Code, error) {
	code = strings.TrimSpace(strings.ToUpper(code))
	if !codeRegex.MatchString(code) {
		return Code(""), ErrInvalidCodeFormat
	}
	return Code(code), nil
}

func (c Code) String() string {
	return string(c)
}

type Percentage int

func NewPercentage(p int) (Percentage, error) {
	if p < 1 || p > 100 {
		return 0, ErrInvalidPercentage
	}
	return Percentage(p), nil
}

func (p Percentage) Int() int {
	return int(p)
}
