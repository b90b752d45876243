//go:build unit

package jobs_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"storefront/internal/domain/auth"
	"storefront/internal/domain/stock"
	"storefront/internal/pkg/clock"
	"storefront/internal/pkg/config"
	"storefront/internal/usecase/commands"
	"storefront/internal/usecase/jobs"
	"storefront/internal/usecase/shared"
	"storefront/tests/common/memstore"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// scriptedCheckout records which reservations were handed over and answers
// from a fixed table.
type scriptedCheckout struct {
	outcomes map[uuid.UUID]commands.SweepOutcome
	failures map[uuid.UUID]error
	seen     []uuid.UUID
}

func (s *scriptedCheckout) Prepare(context.Context, auth.Identity, commands.CheckoutRequest) (*commands.PrepareResult, error) {
	return nil, errors.New("not used")
}

func (s *scriptedCheckout) Checkout(context.Context, auth.Identity, commands.CheckoutRequest) (*commands.CheckoutResult, error) {
	return nil, errors.New("not used")
}

func (s *scriptedCheckout) CompleteCaptured(context.Context, uuid.UUID) (uuid.UUID, error) {
	return uuid.Nil, errors.New("not used")
}

func (s *scriptedCheckout) Abandon(_ context.Context, res stock.Reservation) (commands.SweepOutcome, error) {
	s.seen = append(s.seen, res.ID)
	if err := s.failures[res.ID]; err != nil {
		return "", err
	}
	return s.outcomes[res.ID], nil
}

func reserve(t *testing.T, store *memstore.Store, productID uuid.UUID, key string, expiresAt time.Time) uuid.UUID {
	t.Helper()
	var id uuid.UUID
	err := store.Within(context.Background(), func(ctx context.Context, tx shared.Tx) error {
		res, err := tx.Stock().Reserve(ctx, stock.ReserveRequest{
			AttemptKey: key,
			Generation: 1,
			Lines:      []stock.Line{{ProductID: productID, Quantity: 1}},
			ExpiresAt:  expiresAt,
		})
		if err != nil {
			return err
		}
		id = res.ID
		return nil
	})
	require.NoError(t, err)
	return id
}

func TestReservationSweeper_RunOnce(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	clk := clock.NewMockClock(now)
	store := memstore.NewStore(clk)
	productID := uuid.New()
	store.AddProduct(memstore.Product{ID: productID, Active: true, Stock: 10})

	released := reserve(t, store, productID, "released", now.Add(-time.Minute))
	completed := reserve(t, store, productID, "completed", now.Add(-2*time.Minute))
	deferred := reserve(t, store, productID, "deferred", now.Add(-3*time.Minute))
	broken := reserve(t, store, productID, "broken", now.Add(-4*time.Minute))
	live := reserve(t, store, productID, "live", now.Add(time.Minute))

	script := &scriptedCheckout{
		outcomes: map[uuid.UUID]commands.SweepOutcome{
			released:  commands.SweepReleased,
			completed: commands.SweepCompleted,
			deferred:  commands.SweepDeferred,
		},
		failures: map[uuid.UUID]error{broken: errors.New("provider unreachable")},
	}
	cfg := config.NewTestConfig().Checkout
	sweeper := jobs.NewReservationSweeper(store, script, clk, cfg)

	stats, err := sweeper.RunOnce(ctx)
	require.NoError(t, err)

	assert.Equal(t, jobs.SweepStats{Released: 1, Completed: 1, Deferred: 2}, stats)
	assert.ElementsMatch(t, []uuid.UUID{released, completed, deferred, broken}, script.seen)
	assert.NotContains(t, script.seen, live)
	// Oldest expiry first.
	assert.Equal(t, broken, script.seen[0])
}

func TestReservationSweeper_ReleasesAbandonedCheckout(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	clk := clock.NewMockClock(now)
	store := memstore.NewStore(clk)
	productID := uuid.New()
	store.AddProduct(memstore.Product{ID: productID, Active: true, Stock: 3})

	// A reservation whose attempt never created a payment intent.
	reserve(t, store, productID, "orphan", now.Add(time.Minute))
	require.Equal(t, 2, store.Product(productID).Stock)

	cfg := config.NewTestConfig()
	uc := commands.NewCheckoutUseCase(store, nil, nil, nil, clk, cfg.Checkout)
	sweeper := jobs.NewReservationSweeper(store, uc, clk, cfg.Checkout)

	stats, err := sweeper.RunOnce(ctx)
	require.NoError(t, err)
	assert.Zero(t, stats.Released)

	clk.Add(2 * time.Minute)
	stats, err = sweeper.RunOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Released)
	assert.Equal(t, 3, store.Product(productID).Stock)
	assert.Equal(t, stock.StatusReleased, store.Reservations()[0].Status)

	_, ok := store.Attempt("orphan")
	assert.False(t, ok)
}
