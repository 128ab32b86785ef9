// Package postgres provides the PostgreSQL implementation of the queue
// repository.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/MarcosDelSer/laya-backbone-sub002/internal/domain"
	"github.com/MarcosDelSer/laya-backbone-sub002/internal/queue"
)

// Repository implements queue.Repository using PostgreSQL.
type Repository struct {
	db *pgxpool.Pool
}

// NewRepository creates a new PostgreSQL queue repository.
func NewRepository(db *pgxpool.Pool) *Repository {
	return &Repository{db: db}
}

const notificationColumns = `
	id, recipient_id, type, title, body, channel, status, attempts,
	max_attempts, last_attempt_at, sent_at, read_at, last_error, payload,
	created_at, updated_at
`

// Enqueue inserts a new pending notification.
func (r *Repository) Enqueue(ctx context.Context, n *domain.QueuedNotification) error {
	if n.ID == "" {
		n.ID = uuid.NewString()
	}
	if n.Status == "" {
		n.Status = domain.NotificationStatusPending
	}

	query := `
		INSERT INTO notifications (id, recipient_id, type, title, body, channel, status, max_attempts, payload)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING created_at, updated_at
	`
	err := r.db.QueryRow(ctx, query,
		n.ID,
		n.RecipientID,
		n.Type,
		n.Title,
		n.Body,
		n.Channel,
		n.Status,
		n.MaxAttempts,
		n.Payload,
	).Scan(&n.CreatedAt, &n.UpdatedAt)
	if err != nil {
		return fmt.Errorf("enqueue notification: %w", err)
	}
	return nil
}

// EnqueueBatch inserts several pending notifications in one transaction.
func (r *Repository) EnqueueBatch(ctx context.Context, ns []*domain.QueuedNotification) error {
	if len(ns) == 0 {
		return nil
	}

	tx, err := r.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer func() {
		_ = tx.Rollback(ctx)
	}()

	query := `
		INSERT INTO notifications (id, recipient_id, type, title, body, channel, status, max_attempts, payload)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING created_at, updated_at
	`
	for _, n := range ns {
		if n.ID == "" {
			n.ID = uuid.NewString()
		}
		if n.Status == "" {
			n.Status = domain.NotificationStatusPending
		}
		err := tx.QueryRow(ctx, query,
			n.ID, n.RecipientID, n.Type, n.Title, n.Body,
			n.Channel, n.Status, n.MaxAttempts, n.Payload,
		).Scan(&n.CreatedAt, &n.UpdatedAt)
		if err != nil {
			return fmt.Errorf("enqueue notification %s: %w", n.ID, err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

// FetchPending returns up to limit due rows, oldest first. Read only.
func (r *Repository) FetchPending(ctx context.Context, limit int) ([]*domain.QueuedNotification, error) {
	query := `
		SELECT ` + notificationColumns + `
		FROM notifications
		WHERE status = 'pending' AND attempts < max_attempts
		ORDER BY created_at ASC
		LIMIT $1
	`
	rows, err := r.db.Query(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("fetch pending: %w", err)
	}
	defer rows.Close()

	items := make([]*domain.QueuedNotification, 0)
	for rows.Next() {
		n, err := scanNotification(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, n)
	}
	return items, rows.Err()
}

// Claim atomically transitions a row pending->processing. The conditional
// update is what makes overlapping workers safe: exactly one claim succeeds,
// the others observe zero rows affected.
func (r *Repository) Claim(ctx context.Context, id string) (bool, error) {
	query := `
		UPDATE notifications
		SET status = 'processing', updated_at = NOW()
		WHERE id = $1 AND status = 'pending'
	`
	result, err := r.db.Exec(ctx, query, id)
	if err != nil {
		return false, fmt.Errorf("claim notification: %w", err)
	}
	return result.RowsAffected() == 1, nil
}

// MarkSent finalizes a delivered row.
func (r *Repository) MarkSent(ctx context.Context, id string) error {
	query := `
		UPDATE notifications
		SET status = 'sent', sent_at = NOW(), last_attempt_at = NOW(), last_error = '', updated_at = NOW()
		WHERE id = $1
	`
	result, err := r.db.Exec(ctx, query, id)
	if err != nil {
		return fmt.Errorf("mark sent: %w", err)
	}
	if result.RowsAffected() == 0 {
		return queue.ErrNotificationNotFound
	}
	return nil
}

// MarkFailed terminally fails a row, counting the final attempt.
func (r *Repository) MarkFailed(ctx context.Context, id string, sendErr error) error {
	query := `
		UPDATE notifications
		SET status = 'failed', attempts = attempts + 1, last_error = $2,
		    last_attempt_at = NOW(), updated_at = NOW()
		WHERE id = $1
	`
	result, err := r.db.Exec(ctx, query, id, errString(sendErr))
	if err != nil {
		return fmt.Errorf("mark failed: %w", err)
	}
	if result.RowsAffected() == 0 {
		return queue.ErrNotificationNotFound
	}
	return nil
}

// ReturnForRetry counts the attempt and returns the row to pending.
func (r *Repository) ReturnForRetry(ctx context.Context, id string, sendErr error) error {
	query := `
		UPDATE notifications
		SET status = 'pending', attempts = attempts + 1, last_error = $2,
		    last_attempt_at = NOW(), updated_at = NOW()
		WHERE id = $1 AND status = 'processing'
	`
	result, err := r.db.Exec(ctx, query, id, errString(sendErr))
	if err != nil {
		return fmt.Errorf("return for retry: %w", err)
	}
	if result.RowsAffected() == 0 {
		return queue.ErrNotificationNotFound
	}
	return nil
}

// MarkRead records that a sent notification was opened.
func (r *Repository) MarkRead(ctx context.Context, id string) error {
	query := `
		UPDATE notifications
		SET status = 'read', read_at = NOW(), updated_at = NOW()
		WHERE id = $1 AND status = 'sent'
	`
	result, err := r.db.Exec(ctx, query, id)
	if err != nil {
		return fmt.Errorf("mark read: %w", err)
	}
	if result.RowsAffected() == 0 {
		return queue.ErrNotificationNotFound
	}
	return nil
}

// ResetStuck returns processing rows untouched past the timeout to pending.
func (r *Repository) ResetStuck(ctx context.Context, olderThan time.Duration) (int64, error) {
	cutoff := time.Now().Add(-olderThan)
	query := `
		UPDATE notifications
		SET status = 'pending', attempts = attempts + 1, updated_at = NOW()
		WHERE status = 'processing' AND updated_at < $1
	`
	result, err := r.db.Exec(ctx, query, cutoff)
	if err != nil {
		return 0, fmt.Errorf("reset stuck: %w", err)
	}
	return result.RowsAffected(), nil
}

// Purge deletes terminal rows created before the cutoff. Pending and
// processing rows are never touched.
func (r *Repository) Purge(ctx context.Context, olderThan time.Duration) (int64, error) {
	cutoff := time.Now().Add(-olderThan)
	query := `
		DELETE FROM notifications
		WHERE status IN ('sent', 'failed') AND created_at < $1
	`
	result, err := r.db.Exec(ctx, query, cutoff)
	if err != nil {
		return 0, fmt.Errorf("purge: %w", err)
	}
	return result.RowsAffected(), nil
}

// Stats returns row counts grouped by status.
func (r *Repository) Stats(ctx context.Context) (*queue.Stats, error) {
	query := `SELECT status, COUNT(*) FROM notifications GROUP BY status`
	rows, err := r.db.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("queue stats: %w", err)
	}
	defer rows.Close()

	stats := &queue.Stats{}
	for rows.Next() {
		var status string
		var count int64
		if err := rows.Scan(&status, &count); err != nil {
			return nil, fmt.Errorf("scan stats: %w", err)
		}
		switch domain.NotificationStatus(status) {
		case domain.NotificationStatusPending:
			stats.Pending = count
		case domain.NotificationStatusProcessing:
			stats.Processing = count
		case domain.NotificationStatusSent:
			stats.Sent = count
		case domain.NotificationStatusFailed:
			stats.Failed = count
		case domain.NotificationStatusRead:
			stats.Read = count
		}
	}
	return stats, rows.Err()
}

// GetByID retrieves one notification row.
func (r *Repository) GetByID(ctx context.Context, id string) (*domain.QueuedNotification, error) {
	query := `SELECT ` + notificationColumns + ` FROM notifications WHERE id = $1`
	row := r.db.QueryRow(ctx, query, id)
	n, err := scanNotification(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, queue.ErrNotificationNotFound
		}
		return nil, err
	}
	return n, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanNotification(row rowScanner) (*domain.QueuedNotification, error) {
	var n domain.QueuedNotification
	err := row.Scan(
		&n.ID,
		&n.RecipientID,
		&n.Type,
		&n.Title,
		&n.Body,
		&n.Channel,
		&n.Status,
		&n.Attempts,
		&n.MaxAttempts,
		&n.LastAttemptAt,
		&n.SentAt,
		&n.ReadAt,
		&n.LastError,
		&n.Payload,
		&n.CreatedAt,
		&n.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("scan notification: %w", err)
	}
	return &n, nil
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
