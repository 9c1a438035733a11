package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/ultima-training/ultima-api/internal/models"
)

// OutboxRepository manages the notification outbox table.
type OutboxRepository struct {
	db *sqlx.DB
}

// NewOutboxRepository constructs the repository.
func NewOutboxRepository(db *sqlx.DB) *OutboxRepository {
	return &OutboxRepository{db: db}
}

// insertNotificationTx writes an outbox row inside an existing transaction.
// Repositories that change enrollment or payment state call this so the
// notification commits or rolls back together with the state change.
func insertNotificationTx(ctx context.Context, tx *sqlx.Tx, notif *models.Notification) error {
	if notif.ID == "" {
		notif.ID = uuid.NewString()
	}
	if notif.Status == "" {
		notif.Status = models.NotificationStatusPending
	}
	if notif.CreatedAt.IsZero() {
		notif.CreatedAt = time.Now().UTC()
	}
	const query = `INSERT INTO notifications (id, kind, recipient_email, subject, body, status, attempts, created_at)
        VALUES (:id, :kind, :recipient_email, :subject, :body, :status, :attempts, :created_at)`
	if _, err := tx.NamedExecContext(ctx, query, notif); err != nil {
		return fmt.Errorf("insert notification: %w", err)
	}
	return nil
}

// Create writes a standalone outbox row outside any transaction.
func (r *OutboxRepository) Create(ctx context.Context, notif *models.Notification) error {
	if notif.ID == "" {
		notif.ID = uuid.NewString()
	}
	if notif.Status == "" {
		notif.Status = models.NotificationStatusPending
	}
	if notif.CreatedAt.IsZero() {
		notif.CreatedAt = time.Now().UTC()
	}
	const query = `INSERT INTO notifications (id, kind, recipient_email, subject, body, status, attempts, created_at)
        VALUES (:id, :kind, :recipient_email, :subject, :body, :status, :attempts, :created_at)`
	if _, err := r.db.NamedExecContext(ctx, query, notif); err != nil {
		return fmt.Errorf("create notification: %w", err)
	}
	return nil
}

// ClaimPending atomically marks up to limit pending rows as in flight by
// bumping attempts, and returns them for delivery. FOR UPDATE SKIP LOCKED
// lets multiple dispatchers run without double-sending.
func (r *OutboxRepository) ClaimPending(ctx context.Context, limit, maxAttempts int) ([]models.Notification, error) {
	if limit <= 0 {
		limit = 20
	}
	const query = `UPDATE notifications SET attempts = attempts + 1
        WHERE id IN (
            SELECT id FROM notifications
            WHERE status = $1 AND attempts < $2
            ORDER BY created_at
            LIMIT $3
            FOR UPDATE SKIP LOCKED
        )
        RETURNING id, kind, recipient_email, subject, body, status, attempts, last_error, created_at, sent_at`
	var claimed []models.Notification
	if err := r.db.SelectContext(ctx, &claimed, query, models.NotificationStatusPending, maxAttempts, limit); err != nil {
		return nil, fmt.Errorf("claim pending notifications: %w", err)
	}
	return claimed, nil
}

// MarkSent records a successful delivery.
func (r *OutboxRepository) MarkSent(ctx context.Context, id string, sentAt time.Time) error {
	const query = `UPDATE notifications SET status = $2, sent_at = $3, last_error = NULL WHERE id = $1`
	if _, err := r.db.ExecContext(ctx, query, id, models.NotificationStatusSent, sentAt); err != nil {
		return fmt.Errorf("mark notification sent: %w", err)
	}
	return nil
}

// MarkFailed records a delivery failure. Rows that exhausted their attempts
// move to the failed status; others stay pending for the next sweep.
func (r *OutboxRepository) MarkFailed(ctx context.Context, id string, attempts, maxAttempts int, cause string) error {
	status := models.NotificationStatusPending
	if attempts >= maxAttempts {
		status = models.NotificationStatusFailed
	}
	const query = `UPDATE notifications SET status = $2, last_error = $3 WHERE id = $1`
	if _, err := r.db.ExecContext(ctx, query, id, status, cause); err != nil {
		return fmt.Errorf("mark notification failed: %w", err)
	}
	return nil
}
