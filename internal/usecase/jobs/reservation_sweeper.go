package jobs

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"storefront/internal/domain/stock"
	"storefront/internal/infra/metrics"
	"storefront/internal/pkg/clock"
	"storefront/internal/pkg/config"
	"storefront/internal/usecase/commands"
	"storefront/internal/usecase/shared"
)

// ReservationSweeper hands expired reservations to the checkout coordinator,
// which decides between completing, voiding and releasing them.
type ReservationSweeper struct {
	uow      shared.UnitOfWork
	checkout commands.CheckoutCommands
	clock    clock.Clock
	interval time.Duration
	batch    int

	stop context.CancelFunc
	done sync.WaitGroup
}

type SweepStats struct {
	Released  int
	Completed int
	Deferred  int
}

func NewReservationSweeper(uow shared.UnitOfWork, checkout commands.CheckoutCommands, clk clock.Clock, cfg config.CheckoutConfig) *ReservationSweeper {
	interval := cfg.SweepInterval
	if interval <= 0 {
		interval = 30 * time.Second
	}
	batch := cfg.SweepBatch
	if batch <= 0 {
		batch = 50
	}
	return &ReservationSweeper{uow: uow, checkout: checkout, clock: clk, interval: interval, batch: batch}
}

func (s *ReservationSweeper) Start(ctx context.Context) {
	ctx, s.stop = context.WithCancel(context.WithoutCancel(ctx))
	s.done.Add(1)
	go func() {
		defer s.done.Done()
		s.Run(ctx)
	}()
}

func (s *ReservationSweeper) Stop() {
	if s.stop != nil {
		s.stop()
	}
	s.done.Wait()
}

func (s *ReservationSweeper) Run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		if _, err := s.RunOnce(ctx); err != nil && ctx.Err() == nil {
			slog.Error("reservation sweep failed", slog.Any("error", err))
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// RunOnce settles one batch of expired reservations. Deferred reservations
// stay RESERVED and come back on the next pass.
func (s *ReservationSweeper) RunOnce(ctx context.Context) (SweepStats, error) {
	var expired []stock.Reservation
	err := s.uow.Within(ctx, func(ctx context.Context, tx shared.Tx) error {
		var err error
		expired, err = tx.Stock().Expired(ctx, s.clock.Now(), s.batch)
		return err
	})
	if err != nil {
		return SweepStats{}, err
	}

	var stats SweepStats
	for _, res := range expired {
		if ctx.Err() != nil {
			break
		}
		outcome, err := s.checkout.Abandon(ctx, res)
		if err != nil {
			slog.Warn("expired reservation left for next sweep",
				slog.String("reservation_id", res.ID.String()),
				slog.String("attempt_key", res.AttemptKey),
				slog.Any("error", err))
			outcome = commands.SweepDeferred
		}
		switch outcome {
		case commands.SweepReleased:
			stats.Released++
		case commands.SweepCompleted:
			stats.Completed++
		default:
			stats.Deferred++
		}
		metrics.RecordSweep(string(outcome))
	}
	if len(expired) > 0 {
		slog.Info("reservation sweep finished",
			slog.Int("released", stats.Released),
			slog.Int("completed", stats.Completed),
			slog.Int("deferred", stats.Deferred))
	}
	return stats, nil
}
