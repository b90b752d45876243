package checkout

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"sort"
	"strconv"
	"strings"

	"github.com/google/uuid"
)

var (
	ErrEmptyCart       = errors.New("cart is empty")
	ErrInvalidQuantity = errors.New("cart quantity must be at least 1")
	ErrTooManyLines    = errors.New("cart has too many lines")
)

const MaxCartLines = 100

// CartLine is client supplied; it never carries a price.
type CartLine struct {
	ProductID uuid.UUID `json:"productId"`
	Quantity  int       `json:"quantity"`
	Color     *string   `json:"color,omitempty"`
	Size      *string   `json:"size,omitempty"`
}

type Cart []CartLine

func (c Cart) Validate() error {
	if len(c) == 0 {
		return ErrEmptyCart
	}
	if len(c) > MaxCartLines {
		return ErrTooManyLines
	}
	for _, l := range c {
		if l.Quantity < 1 || l.ProductID == uuid.Nil {
			return ErrInvalidQuantity
		}
	}
	return nil
}

func (c Cart) ProductIDs() []uuid.UUID {
	seen := make(map[uuid.UUID]struct{}, len(c))
	ids := make([]uuid.UUID, 0, len(c))
	for _, l := range c {
		if _, ok := seen[l.ProductID]; ok {
			continue
		}
		seen[l.ProductID] = struct{}{}
		ids = append(ids, l.ProductID)
	}
	return ids
}

// canonical is independent of line order and of option letter case.
func (c Cart) canonical() string {
	lines := make([]string, 0, len(c))
	for _, l := range c {
		lines = append(lines, strings.Join([]string{
			l.ProductID.String(),
			strconv.Itoa(l.Quantity),
			strings.ToLower(deref(l.Color)),
			strings.ToLower(deref(l.Size)),
		}, "|"))
	}
	sort.Strings(lines)
	return strings.Join(lines, "\n")
}

// DeriveKey identifies one logical checkout attempt. The optional nonce lets a
// client deliberately start a new attempt for an identical cart.
func DeriveKey(cart Cart, owner string, discountCode *string, nonce string) string {
	code := ""
	if discountCode != nil {
		code = strings.ToUpper(strings.TrimSpace(*discountCode))
	}
	h := sha256.New()
	for _, part := range []string{cart.canonical(), owner, code, nonce} {
		h.Write([]byte(part))
		h.Write([]byte{0})
	}
	return hex.EncodeToString(h.Sum(nil))
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
