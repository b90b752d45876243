//go:build unit

package notify_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"storefront/internal/domain/notification"
	"storefront/internal/infra/notify"
	"storefront/internal/infra/repository"
	"storefront/internal/pkg/clock"
	"storefront/internal/pkg/config"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type outboxRow struct {
	p       repository.PendingNotification
	status  string
	nextRun time.Time
	lastErr string
}

type fakeOutbox struct {
	mu   sync.Mutex
	rows []*outboxRow
}

func (f *fakeOutbox) add(ev notification.Event, at time.Time) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.rows = append(f.rows, &outboxRow{p: repository.PendingNotification{Event: ev}, status: "PENDING", nextRun: at})
}

func (f *fakeOutbox) row(id uuid.UUID) *outboxRow {
	for _, r := range f.rows {
		if r.p.Event.ID == id {
			return r
		}
	}
	return nil
}

func (f *fakeOutbox) ClaimDue(_ context.Context, now time.Time, lease time.Duration, limit int) ([]repository.PendingNotification, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []repository.PendingNotification
	for _, r := range f.rows {
		if len(out) == limit {
			break
		}
		if r.status == "PENDING" && !r.nextRun.After(now) {
			r.nextRun = now.Add(lease)
			out = append(out, r.p)
		}
	}
	return out, nil
}

func (f *fakeOutbox) MarkSent(_ context.Context, id uuid.UUID, _ time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	r := f.row(id)
	r.status = "SENT"
	r.p.Attempts++
	return nil
}

func (f *fakeOutbox) MarkFailed(_ context.Context, id uuid.UUID, lastError string, retryAt time.Time, maxAttempts int) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	r := f.row(id)
	r.p.Attempts++
	r.lastErr = lastError
	r.nextRun = retryAt
	if r.p.Attempts >= maxAttempts {
		r.status = "DEAD"
	}
	return r.status == "DEAD", nil
}

type fakeSender struct {
	mu   sync.Mutex
	fail int
	sent []notification.Event
}

func (s *fakeSender) Send(_ context.Context, ev notification.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fail > 0 {
		s.fail--
		return errors.New("broker unavailable")
	}
	s.sent = append(s.sent, ev)
	return nil
}

func (s *fakeSender) Close() error { return nil }

func (s *fakeSender) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sent)
}

func newEvent(t *testing.T, now time.Time) notification.Event {
	t.Helper()
	ev, err := notification.New(notification.KindOrderConfirmed, uuid.New(), "user:1",
		notification.OrderConfirmedPayload{Total: "10.00", Currency: "USD", PaymentType: "CARD", ItemCount: 1}, now)
	require.NoError(t, err)
	return ev
}

func TestRelay(t *testing.T) {
	start := time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)
	cfg := config.NotifyConfig{RelayInterval: time.Hour, RelayBatch: 10, MaxAttempts: 3}

	t.Run("sends due events once", func(t *testing.T) {
		clk := clock.NewMockClock(start)
		store := &fakeOutbox{}
		sender := &fakeSender{}
		store.add(newEvent(t, start), start)
		store.add(newEvent(t, start), start)

		relay := notify.NewRelay(store, sender, clk, cfg)
		n, err := relay.RunOnce(context.Background())
		require.NoError(t, err)
		assert.Equal(t, 2, n)

		n, err = relay.RunOnce(context.Background())
		require.NoError(t, err)
		assert.Zero(t, n)
		assert.Equal(t, 2, sender.count())
	})

	t.Run("failed delivery is retried with backoff", func(t *testing.T) {
		clk := clock.NewMockClock(start)
		store := &fakeOutbox{}
		sender := &fakeSender{fail: 1}
		ev := newEvent(t, start)
		store.add(ev, start)

		relay := notify.NewRelay(store, sender, clk, cfg)
		n, err := relay.RunOnce(context.Background())
		require.NoError(t, err)
		assert.Zero(t, n)
		assert.Equal(t, "broker unavailable", store.row(ev.ID).lastErr)

		// Not due yet.
		n, _ = relay.RunOnce(context.Background())
		assert.Zero(t, n)

		clk.Add(time.Minute)
		n, err = relay.RunOnce(context.Background())
		require.NoError(t, err)
		assert.Equal(t, 1, n)
		assert.Equal(t, "SENT", store.row(ev.ID).status)
	})

	t.Run("gives up after max attempts", func(t *testing.T) {
		clk := clock.NewMockClock(start)
		store := &fakeOutbox{}
		sender := &fakeSender{fail: 100}
		ev := newEvent(t, start)
		store.add(ev, start)

		relay := notify.NewRelay(store, sender, clk, cfg)
		for i := 0; i < 5; i++ {
			_, err := relay.RunOnce(context.Background())
			require.NoError(t, err)
			clk.Add(time.Hour)
		}
		assert.Equal(t, "DEAD", store.row(ev.ID).status)
		assert.Equal(t, 3, store.row(ev.ID).p.Attempts)
	})

	t.Run("wake triggers a pass without waiting for the ticker", func(t *testing.T) {
		clk := clock.NewMockClock(start)
		store := &fakeOutbox{}
		sender := &fakeSender{}
		relay := notify.NewRelay(store, sender, clk, cfg)
		relay.Start(context.Background())
		defer relay.Stop()

		store.add(newEvent(t, start), start)
		relay.Wake()
		assert.Eventually(t, func() bool { return sender.count() == 1 }, time.Second, 10*time.Millisecond)
	})
}
