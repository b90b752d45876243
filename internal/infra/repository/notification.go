package repository

import (
	"context"
	"time"

	"storefront/internal/domain/notification"
	"storefront/internal/infra"
	"storefront/internal/infra/db"

	"github.com/google/uuid"
)

const (
	enqueueNotificationSQL = `
		INSERT INTO notification_outbox (id, kind, order_id, owner, payload, occurred_at, next_run_at)
		VALUES ($1, $2, $3, $4, $5, $6, $6)`

	// claimNotificationsSQL leases due rows by pushing next_run_at forward so
	// concurrent relays never pick the same event while it is in flight.
	claimNotificationsSQL = `
		UPDATE notification_outbox o
		SET next_run_at = $2
		FROM (
			SELECT id FROM notification_outbox
			WHERE status = 'PENDING' AND next_run_at <= $1
			ORDER BY next_run_at
			LIMIT $3
			FOR UPDATE SKIP LOCKED
		) due
		WHERE o.id = due.id
		RETURNING o.id, o.kind, o.order_id, o.owner, o.payload, o.occurred_at, o.attempts`

	markNotificationSentSQL = `
		UPDATE notification_outbox
		SET status = 'SENT', sent_at = $2, attempts = attempts + 1, last_error = NULL
		WHERE id = $1`

	markNotificationFailedSQL = `
		UPDATE notification_outbox
		SET attempts = attempts + 1, last_error = $2, next_run_at = $3,
		    status = CASE WHEN attempts + 1 >= $4 THEN 'DEAD' ELSE 'PENDING' END
		WHERE id = $1
		RETURNING status`
)

// PendingNotification is an outbox row handed to the relay.
type PendingNotification struct {
	Event    notification.Event
	Attempts int
}

type NotificationRepository struct {
	db db.DBTX
}

func NewNotificationRepository(db db.DBTX) *NotificationRepository {
	return &NotificationRepository{db: db}
}

func (r *NotificationRepository) Enqueue(ctx context.Context, ev notification.Event) error {
	_, err := r.db.Exec(ctx, enqueueNotificationSQL,
		ev.ID, string(ev.Kind), ev.OrderID, ev.Owner, []byte(ev.Payload), ev.OccurredAt)
	if err != nil {
		return infra.WrapRepoErr("failed to enqueue notification", err)
	}
	return nil
}

func (r *NotificationRepository) ClaimDue(ctx context.Context, now time.Time, lease time.Duration, limit int) ([]PendingNotification, error) {
	rows, err := r.db.Query(ctx, claimNotificationsSQL, now, now.Add(lease), limit)
	if err != nil {
		return nil, infra.WrapRepoErr("failed to claim pending notifications", err)
	}
	defer rows.Close()

	var out []PendingNotification
	for rows.Next() {
		var (
			p       PendingNotification
			kind    string
			payload []byte
		)
		if err := rows.Scan(&p.Event.ID, &kind, &p.Event.OrderID, &p.Event.Owner, &payload, &p.Event.OccurredAt, &p.Attempts); err != nil {
			return nil, infra.WrapRepoErr("failed to scan pending notification", err)
		}
		p.Event.Kind = notification.Kind(kind)
		p.Event.Payload = payload
		out = append(out, p)
	}
	if err := rows.Err(); err != nil {
		return nil, infra.WrapRepoErr("failed to iterate pending notifications", err)
	}
	return out, nil
}

func (r *NotificationRepository) MarkSent(ctx context.Context, id uuid.UUID, at time.Time) error {
	if _, err := r.db.Exec(ctx, markNotificationSentSQL, id, at); err != nil {
		return infra.WrapRepoErr("failed to mark notification sent", err)
	}
	return nil
}

// MarkFailed schedules another attempt and reports whether the event is now dead.
func (r *NotificationRepository) MarkFailed(ctx context.Context, id uuid.UUID, lastError string, retryAt time.Time, maxAttempts int) (bool, error) {
	var status string
	err := r.db.QueryRow(ctx, markNotificationFailedSQL, id, lastError, retryAt, maxAttempts).Scan(&status)
	if err != nil {
		return false, infra.WrapRepoErr("failed to mark notification failed", err)
	}
	return status == "DEAD", nil
}
