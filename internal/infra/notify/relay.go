package notify

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"storefront/internal/infra/metrics"
	"storefront/internal/infra/repository"
	"storefront/internal/pkg/clock"
	"storefront/internal/pkg/config"
	"storefront/internal/usecase/shared"

	"github.com/google/uuid"
)

const (
	claimLease     = time.Minute
	baseRetryDelay = 2 * time.Second
	maxRetryDelay  = 10 * time.Minute
)

// OutboxStore is the durable queue the relay drains.
type OutboxStore interface {
	ClaimDue(ctx context.Context, now time.Time, lease time.Duration, limit int) ([]repository.PendingNotification, error)
	MarkSent(ctx context.Context, id uuid.UUID, at time.Time) error
	MarkFailed(ctx context.Context, id uuid.UUID, lastError string, retryAt time.Time, maxAttempts int) (bool, error)
}

// Relay delivers outbox events at least once. Delivery never blocks the
// transaction that queued the event.
type Relay struct {
	store       OutboxStore
	sender      shared.NotificationSender
	clock       clock.Clock
	interval    time.Duration
	batch       int
	maxAttempts int

	wake chan struct{}
	stop context.CancelFunc
	done sync.WaitGroup
}

var _ shared.NotificationRelay = (*Relay)(nil)

func NewRelay(store OutboxStore, sender shared.NotificationSender, clk clock.Clock, cfg config.NotifyConfig) *Relay {
	batch := cfg.RelayBatch
	if batch <= 0 {
		batch = 100
	}
	maxAttempts := cfg.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = 10
	}
	interval := cfg.RelayInterval
	if interval <= 0 {
		interval = 2 * time.Second
	}
	return &Relay{
		store:       store,
		sender:      sender,
		clock:       clk,
		interval:    interval,
		batch:       batch,
		maxAttempts: maxAttempts,
		wake:        make(chan struct{}, 1),
	}
}

// Wake schedules an immediate drain without blocking.
func (r *Relay) Wake() {
	select {
	case r.wake <- struct{}{}:
	default:
	}
}

func (r *Relay) Start(ctx context.Context) {
	ctx, r.stop = context.WithCancel(context.WithoutCancel(ctx))
	r.done.Add(1)
	go func() {
		defer r.done.Done()
		r.Run(ctx)
	}()
}

func (r *Relay) Stop() {
	if r.stop != nil {
		r.stop()
	}
	r.done.Wait()
}

func (r *Relay) Run(ctx context.Context) {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()
	for {
		if _, err := r.RunOnce(ctx); err != nil && ctx.Err() == nil {
			slog.Error("notification relay pass failed", slog.Any("error", err))
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		case <-r.wake:
		}
	}
}

// RunOnce drains one batch of due events and returns how many were sent.
func (r *Relay) RunOnce(ctx context.Context) (int, error) {
	pending, err := r.store.ClaimDue(ctx, r.clock.Now(), claimLease, r.batch)
	if err != nil {
		return 0, err
	}
	sent := 0
	for _, p := range pending {
		if ctx.Err() != nil {
			break
		}
		if err := r.sender.Send(ctx, p.Event); err != nil {
			r.failed(ctx, p, err)
			continue
		}
		metrics.RecordNotification(string(p.Event.Kind), true)
		if err := r.store.MarkSent(ctx, p.Event.ID, r.clock.Now()); err != nil {
			// The lease expires and the event is sent again; consumers dedupe on ID.
			slog.Error("failed to mark notification sent",
				slog.String("event_id", p.Event.ID.String()), slog.Any("error", err))
			continue
		}
		sent++
	}
	return sent, nil
}

func (r *Relay) failed(ctx context.Context, p repository.PendingNotification, sendErr error) {
	metrics.RecordNotification(string(p.Event.Kind), false)
	retryAt := r.clock.Now().Add(retryDelay(p.Attempts))
	dead, err := r.store.MarkFailed(ctx, p.Event.ID, sendErr.Error(), retryAt, r.maxAttempts)
	if err != nil {
		slog.Error("failed to record notification failure",
			slog.String("event_id", p.Event.ID.String()), slog.Any("error", err))
		return
	}
	if dead {
		slog.Error("notification abandoned after max attempts",
			slog.String("event_id", p.Event.ID.String()),
			slog.String("kind", string(p.Event.Kind)),
			slog.String("order_id", p.Event.OrderID.String()),
			slog.Any("error", sendErr))
		return
	}
	slog.Warn("notification delivery failed, will retry",
		slog.String("event_id", p.Event.ID.String()),
		slog.Int("attempt", p.Attempts+1),
		slog.Time("retry_at", retryAt),
		slog.Any("error", sendErr))
}

func retryDelay(attempts int) time.Duration {
	d := baseRetryDelay
	for i := 0; i < attempts && d < maxRetryDelay; i++ {
		d *= 2
	}
	return min(d, maxRetryDelay)
}
