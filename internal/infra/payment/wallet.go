package payment

import (
	"context"
	"errors"
	"sync"

	"storefront/internal/domain/payment"
	"storefront/internal/pkg/clock"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

const (
	WalletChargeSettled  = "settled"
	WalletChargeDeclined = "declined"
)

type WalletToken struct {
	Token string
	Valid bool
	// Amount is nil when the wallet does not bind the token to an amount.
	Amount   *decimal.Decimal
	Currency string
}

type WalletChargeRequest struct {
	Token     string
	Reference string
	Amount    decimal.Decimal
	Currency  string
}

type WalletCharge struct {
	ID            string
	Reference     string
	Status        string
	Amount        decimal.Decimal
	DeclineReason string
}

// WalletAPI charges device wallet tokens. Charges are keyed by our reference.
type WalletAPI interface {
	VerifyToken(ctx context.Context, token string) (*WalletToken, error)
	Charge(ctx context.Context, req WalletChargeRequest) (*WalletCharge, error)
	ChargeStatus(ctx context.Context, reference string) (*WalletCharge, error)
}

type walletOps struct {
	api WalletAPI
	// voided holds references closed by void; wallets cannot cancel a charge
	// server-side, so later captures under them are refused here.
	voided sync.Map
}

func NewWalletGateway(api WalletAPI, store IntentStore, clk clock.Clock, s Settings) *Adapter {
	return newAdapter(payment.ProviderWallet, &walletOps{api: api}, store, clk, s)
}

// Wallets have no server-side intent; the reference is ours.
func (o *walletOps) create(_ context.Context, _ payment.IntentRequest) (string, string, error) {
	return "wlt_" + uuid.NewString(), "present_wallet_sheet", nil
}

func (o *walletOps) authorized(ctx context.Context, in *payment.Intent, c payment.Confirmation) (*decimal.Decimal, error) {
	if c.Token == "" {
		return nil, declined("missing_token")
	}
	tok, err := o.api.VerifyToken(ctx, c.Token)
	if err != nil {
		return nil, err
	}
	if !tok.Valid {
		return nil, declined("invalid_token")
	}
	if tok.Currency != "" && tok.Currency != in.Currency {
		return nil, declined("currency_mismatch")
	}
	return tok.Amount, nil
}

func (o *walletOps) capture(ctx context.Context, in *payment.Intent, c payment.Confirmation) (string, error) {
	if _, ok := o.voided.Load(in.ExternalRef); ok {
		return "", declined("reference_voided")
	}
	charge, err := o.api.Charge(ctx, WalletChargeRequest{
		Token:     c.Token,
		Reference: in.ExternalRef,
		Amount:    in.Amount,
		Currency:  in.Currency,
	})
	if err != nil {
		return "", err
	}
	if charge.Status != WalletChargeSettled {
		return "", declined(charge.DeclineReason)
	}
	return charge.ID, nil
}

func (o *walletOps) lookup(ctx context.Context, in *payment.Intent) (remoteState, error) {
	charge, err := o.api.ChargeStatus(ctx, in.ExternalRef)
	if errors.Is(err, ErrProviderNotFound) {
		return remoteState{Status: payment.StatusCreated}, nil
	}
	if err != nil {
		return remoteState{}, err
	}
	st := remoteState{Status: payment.StatusCreated, Amount: charge.Amount}
	switch charge.Status {
	case WalletChargeSettled:
		st.Status = payment.StatusCaptured
		st.CaptureRef = charge.ID
	case WalletChargeDeclined:
		st.Status = payment.StatusFailed
		st.Reason = charge.DeclineReason
	}
	return st, nil
}

// void makes sure no charge landed under the reference, then closes it.
func (o *walletOps) void(ctx context.Context, in *payment.Intent) error {
	charge, err := o.api.ChargeStatus(ctx, in.ExternalRef)
	if err != nil && !errors.Is(err, ErrProviderNotFound) {
		return err
	}
	if err == nil && charge.Status == WalletChargeSettled {
		return payment.ErrAlreadyCaptured
	}
	o.voided.Store(in.ExternalRef, struct{}{})
	return nil
}
