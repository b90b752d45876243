package payment

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"storefront/internal/domain/payment"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Sandbox tokens select the provider behaviour on capture.
const (
	SandboxTokenOK      = "tok_ok"
	SandboxTokenDecline = "tok_decline"
	// SandboxTokenTimeout captures the money but loses the response.
	SandboxTokenTimeout = "tok_timeout"
	// SandboxTokenLost times out before the provider applies the capture.
	SandboxTokenLost  = "tok_lost"
	SandboxTokenError = "tok_error"
)

// Sandbox is an in-memory PayPal, card and wallet provider used in sandbox
// mode and in tests.
type Sandbox struct {
	mu sync.Mutex

	autoApprove bool
	lookupDown  bool

	orders    map[string]*PayPalOrder
	orderKeys map[string]string
	cards     map[string]*CardIntent
	cardKeys  map[string]string
	tokens    map[string]WalletToken
	charges   map[string]*WalletCharge
	attempted map[string]bool
	captures  map[string]int
}

var (
	_ PayPalAPI = (*Sandbox)(nil)
	_ CardAPI   = (*Sandbox)(nil)
	_ WalletAPI = (*Sandbox)(nil)
)

func NewSandbox() *Sandbox {
	return &Sandbox{
		autoApprove: true,
		orders:      map[string]*PayPalOrder{},
		orderKeys:   map[string]string{},
		cards:       map[string]*CardIntent{},
		cardKeys:    map[string]string{},
		tokens:      map[string]WalletToken{},
		charges:     map[string]*WalletCharge{},
		attempted:   map[string]bool{},
		captures:    map[string]int{},
	}
}

// SetAutoApprove controls whether new PayPal orders start approved.
func (s *Sandbox) SetAutoApprove(v bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.autoApprove = v
}

// SetLookupDown makes status reads fail for every reference a capture was
// attempted on.
func (s *Sandbox) SetLookupDown(v bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lookupDown = v
}

func (s *Sandbox) Approve(orderID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	o, ok := s.orders[orderID]
	if !ok {
		return ErrProviderNotFound
	}
	if o.Status == PayPalStatusCreated {
		o.Status = PayPalStatusApproved
	}
	return nil
}

// IssueWalletToken returns a token bound to an amount.
func (s *Sandbox) IssueWalletToken(amount decimal.Decimal, currency string) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	tok := "wtok_" + uuid.NewString()
	s.tokens[tok] = WalletToken{Token: tok, Valid: true, Amount: &amount, Currency: currency}
	return tok
}

// Captures reports how many times money moved for a reference.
func (s *Sandbox) Captures(ref string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.captures[ref]
}

// outcome applies the token behaviour. apply runs with the lock held when
// the provider actually moves the money.
func (s *Sandbox) outcome(ctx context.Context, ref, token string, apply func()) error {
	if err := ctx.Err(); err != nil {
		return ErrProviderTimeout
	}
	s.attempted[ref] = true
	switch token {
	case SandboxTokenDecline:
		return declined("card_declined")
	case SandboxTokenError:
		return ErrProviderUnavailable
	case SandboxTokenLost:
		return ErrProviderTimeout
	case SandboxTokenTimeout:
		apply()
		s.captures[ref]++
		return ErrProviderTimeout
	default:
		apply()
		s.captures[ref]++
		return nil
	}
}

func (s *Sandbox) readable(ref string) error {
	if s.lookupDown && s.attempted[ref] {
		return ErrProviderUnavailable
	}
	return nil
}

func (s *Sandbox) CreateOrder(ctx context.Context, req PayPalOrderRequest) (*PayPalOrder, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if id, ok := s.orderKeys[req.RequestID]; ok {
		o := *s.orders[id]
		return &o, nil
	}
	id := "PP-" + uuid.NewString()
	status := PayPalStatusCreated
	if s.autoApprove {
		status = PayPalStatusApproved
	}
	o := &PayPalOrder{
		ID:         id,
		Status:     status,
		Amount:     req.Amount,
		Currency:   req.Currency,
		ApproveURL: fmt.Sprintf("https://sandbox.paypal.test/checkoutnow?token=%s", id),
	}
	s.orders[id] = o
	s.orderKeys[req.RequestID] = id
	out := *o
	return &out, nil
}

func (s *Sandbox) GetOrder(_ context.Context, id string) (*PayPalOrder, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.readable(id); err != nil {
		return nil, err
	}
	o, ok := s.orders[id]
	if !ok {
		return nil, ErrProviderNotFound
	}
	out := *o
	return &out, nil
}

func (s *Sandbox) CaptureOrder(ctx context.Context, id string, req PayPalCaptureRequest) (*PayPalOrder, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	o, ok := s.orders[id]
	if !ok {
		return nil, ErrProviderNotFound
	}
	switch o.Status {
	case PayPalStatusCompleted:
		out := *o
		return &out, nil
	case PayPalStatusVoided:
		return nil, declined("ORDER_VOIDED")
	case PayPalStatusCreated:
		return nil, declined("ORDER_NOT_APPROVED")
	}
	err := s.outcome(ctx, id, req.PayerToken, func() {
		o.Status = PayPalStatusCompleted
		o.CaptureID = "CAP-" + uuid.NewString()
	})
	if err != nil {
		if errors.Is(err, ErrProviderDeclined) {
			o.Status = PayPalStatusDeclined
			o.DeclineReason = declineReason(err)
		}
		return nil, err
	}
	out := *o
	return &out, nil
}

func (s *Sandbox) VoidOrder(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	o, ok := s.orders[id]
	if !ok {
		return ErrProviderNotFound
	}
	if o.Status == PayPalStatusCompleted {
		return payment.ErrAlreadyCaptured
	}
	o.Status = PayPalStatusVoided
	return nil
}

func (s *Sandbox) CreatePaymentIntent(_ context.Context, params CardIntentParams) (*CardIntent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if id, ok := s.cardKeys[params.IdempotencyKey]; ok {
		pi := *s.cards[id]
		return &pi, nil
	}
	id := "pi_" + uuid.NewString()
	pi := &CardIntent{
		ID:           id,
		Status:       CardStatusRequiresPaymentMethod,
		Amount:       params.Amount,
		Currency:     params.Currency,
		ClientSecret: id + "_secret",
	}
	s.cards[id] = pi
	s.cardKeys[params.IdempotencyKey] = id
	out := *pi
	return &out, nil
}

func (s *Sandbox) RetrievePaymentIntent(_ context.Context, id string) (*CardIntent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.readable(id); err != nil {
		return nil, err
	}
	pi, ok := s.cards[id]
	if !ok {
		return nil, ErrProviderNotFound
	}
	out := *pi
	return &out, nil
}

func (s *Sandbox) ConfirmPaymentIntent(ctx context.Context, id string, params CardConfirmParams) (*CardIntent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	pi, ok := s.cards[id]
	if !ok {
		return nil, ErrProviderNotFound
	}
	switch pi.Status {
	case CardStatusSucceeded:
		out := *pi
		return &out, nil
	case CardStatusCanceled:
		return nil, declined("intent_canceled")
	}
	err := s.outcome(ctx, id, params.PaymentMethod, func() {
		pi.Status = CardStatusSucceeded
		pi.ChargeID = "ch_" + uuid.NewString()
	})
	if err != nil {
		if errors.Is(err, ErrProviderDeclined) {
			pi.Status = CardStatusFailed
			pi.DeclineCode = declineReason(err)
		}
		return nil, err
	}
	out := *pi
	return &out, nil
}

func (s *Sandbox) CancelPaymentIntent(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	pi, ok := s.cards[id]
	if !ok {
		return ErrProviderNotFound
	}
	if pi.Status == CardStatusSucceeded {
		return payment.ErrAlreadyCaptured
	}
	pi.Status = CardStatusCanceled
	return nil
}

// VerifyToken accepts the sandbox tokens unbound and issued tokens bound to
// their amount.
func (s *Sandbox) VerifyToken(_ context.Context, token string) (*WalletToken, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if tok, ok := s.tokens[token]; ok {
		return &tok, nil
	}
	switch token {
	case SandboxTokenOK, SandboxTokenDecline, SandboxTokenTimeout, SandboxTokenLost, SandboxTokenError:
		return &WalletToken{Token: token, Valid: true}, nil
	}
	return &WalletToken{Token: token, Valid: false}, nil
}

func (s *Sandbox) Charge(ctx context.Context, req WalletChargeRequest) (*WalletCharge, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if ch, ok := s.charges[req.Reference]; ok && ch.Status == WalletChargeSettled {
		out := *ch
		return &out, nil
	}
	token := req.Token
	if _, issued := s.tokens[token]; issued {
		token = SandboxTokenOK
	}
	ch := &WalletCharge{Reference: req.Reference, Amount: req.Amount}
	err := s.outcome(ctx, req.Reference, token, func() {
		ch.ID = "wch_" + uuid.NewString()
		ch.Status = WalletChargeSettled
		s.charges[req.Reference] = ch
	})
	if err != nil {
		return nil, err
	}
	out := *ch
	return &out, nil
}

func (s *Sandbox) ChargeStatus(_ context.Context, reference string) (*WalletCharge, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.readable(reference); err != nil {
		return nil, err
	}
	ch, ok := s.charges[reference]
	if !ok {
		return nil, ErrProviderNotFound
	}
	out := *ch
	return &out, nil
}
