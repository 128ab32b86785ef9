// Package queue implements the asynchronous notification delivery queue:
// claim-based processing, bounded retries and terminal-row maintenance.
package queue

import (
	"context"
	"errors"
	"time"

	"github.com/MarcosDelSer/laya-backbone-sub002/internal/domain"
)

// Repository errors.
var (
	ErrNotificationNotFound = errors.New("notification not found")
)

// Stats holds queue row counts grouped by status.
type Stats struct {
	Pending    int64
	Processing int64
	Sent       int64
	Failed     int64
	Read       int64
}

// Repository defines the persisted queue table operations.
//
// Claim is the one operation that must be safe under concurrent workers; all
// other mutations assume single-claim ownership of the row.
type Repository interface {
	// Enqueue inserts a new pending notification.
	Enqueue(ctx context.Context, n *domain.QueuedNotification) error

	// EnqueueBatch inserts several pending notifications.
	EnqueueBatch(ctx context.Context, ns []*domain.QueuedNotification) error

	// FetchPending returns up to limit pending rows with attempts below
	// max_attempts, oldest-created first. It does not mutate state.
	FetchPending(ctx context.Context, limit int) ([]*domain.QueuedNotification, error)

	// Claim atomically transitions one row pending->processing via a
	// conditional update. It returns false when another worker already
	// claimed the row; the caller must skip it silently.
	Claim(ctx context.Context, id string) (bool, error)

	// MarkSent finalizes a delivered (or fully skipped) row.
	MarkSent(ctx context.Context, id string) error

	// MarkFailed terminally fails a row, recording the send error and
	// counting the final attempt.
	MarkFailed(ctx context.Context, id string, sendErr error) error

	// ReturnForRetry counts a failed attempt and returns the row to pending
	// for a later poll cycle.
	ReturnForRetry(ctx context.Context, id string, sendErr error) error

	// MarkRead records that the recipient opened a sent notification.
	MarkRead(ctx context.Context, id string) error

	// ResetStuck returns rows stuck in processing past the timeout to
	// pending, counting the lost attempt. Guards against workers that
	// crashed mid-claim.
	ResetStuck(ctx context.Context, olderThan time.Duration) (int64, error)

	// Purge deletes sent and failed rows created before the cutoff. Pending
	// and processing rows are never touched regardless of age.
	Purge(ctx context.Context, olderThan time.Duration) (int64, error)

	// Stats returns row counts grouped by status.
	Stats(ctx context.Context) (*Stats, error)
}
