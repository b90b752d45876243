package memstore

import (
	"context"
	"sync"
	"time"

	"storefront/internal/domain/payment"

	"github.com/google/uuid"
)

// Intents is an in-memory payment intent store with the same conditional
// settle semantics as the Postgres repository.
type Intents struct {
	mu   sync.Mutex
	byID map[uuid.UUID]*payment.Intent
}

func NewIntents() *Intents {
	return &Intents{byID: map[uuid.UUID]*payment.Intent{}}
}

func (s *Intents) Insert(_ context.Context, in *payment.Intent) (*payment.Intent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, existing := range s.byID {
		if existing.IdempotencyKey == in.IdempotencyKey {
			return clone(existing), nil
		}
	}
	s.byID[in.ID] = clone(in)
	return clone(in), nil
}

func (s *Intents) ByID(_ context.Context, id uuid.UUID) (*payment.Intent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	in, ok := s.byID[id]
	if !ok {
		return nil, payment.ErrIntentNotFound
	}
	return clone(in), nil
}

func (s *Intents) ByKey(_ context.Context, key string) (*payment.Intent, error) {
	return s.find(func(in *payment.Intent) bool { return in.IdempotencyKey == key })
}

func (s *Intents) ByExternalRef(_ context.Context, provider payment.Provider, ref string) (*payment.Intent, error) {
	return s.find(func(in *payment.Intent) bool { return in.Provider == provider && in.ExternalRef == ref })
}

func (s *Intents) find(match func(*payment.Intent) bool) (*payment.Intent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, in := range s.byID {
		if match(in) {
			return clone(in), nil
		}
	}
	return nil, payment.ErrIntentNotFound
}

func (s *Intents) MarkCaptured(_ context.Context, id uuid.UUID, captureRef string, at time.Time) (bool, error) {
	return s.settle(id, at, func(in *payment.Intent) {
		in.Status = payment.StatusCaptured
		in.CaptureRef = &captureRef
	})
}

func (s *Intents) MarkFailed(_ context.Context, id uuid.UUID, outcome payment.Outcome, reason string, at time.Time) (bool, error) {
	return s.settle(id, at, func(in *payment.Intent) {
		in.Status = payment.StatusFailed
		in.FailureOutcome = &outcome
		in.FailureReason = &reason
	})
}

func (s *Intents) MarkVoided(_ context.Context, id uuid.UUID, at time.Time) (bool, error) {
	return s.settle(id, at, func(in *payment.Intent) {
		in.Status = payment.StatusVoided
	})
}

func (s *Intents) OverrideCaptured(_ context.Context, id uuid.UUID, captureRef string, at time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	in, ok := s.byID[id]
	if !ok {
		return false, payment.ErrIntentNotFound
	}
	if in.Status != payment.StatusVoided && in.Status != payment.StatusFailed {
		return false, nil
	}
	in.Status = payment.StatusCaptured
	in.CaptureRef = &captureRef
	in.FailureOutcome = nil
	in.FailureReason = nil
	in.UpdatedAt = at
	return true, nil
}

func (s *Intents) settle(id uuid.UUID, at time.Time, apply func(*payment.Intent)) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	in, ok := s.byID[id]
	if !ok {
		return false, payment.ErrIntentNotFound
	}
	if in.Status != payment.StatusCreated {
		return false, nil
	}
	apply(in)
	in.UpdatedAt = at
	return true, nil
}

func clone(in *payment.Intent) *payment.Intent {
	out := *in
	return &out
}
