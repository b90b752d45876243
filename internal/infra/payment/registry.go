package payment

import (
	"context"

	"storefront/internal/domain/payment"

	"github.com/google/uuid"
)

type Registry struct {
	gateways map[payment.Provider]payment.Gateway
	store    IntentStore
}

var _ payment.Registry = (*Registry)(nil)

func NewRegistry(store IntentStore, gateways ...payment.Gateway) *Registry {
	r := &Registry{
		gateways: make(map[payment.Provider]payment.Gateway, len(gateways)),
		store:    store,
	}
	for _, g := range gateways {
		r.gateways[g.Provider()] = g
	}
	return r
}

func (r *Registry) Gateway(provider payment.Provider) (payment.Gateway, error) {
	g, ok := r.gateways[provider]
	if !ok {
		return nil, payment.ErrUnsupportedProvider
	}
	return g, nil
}

func (r *Registry) Intent(ctx context.Context, id uuid.UUID) (*payment.Intent, error) {
	return r.store.ByID(ctx, id)
}
