// Package escalation implements the escalation scheduler: idempotent
// scheduling of time-delayed director notifications on top of the delivery
// queue, with a live re-check of incident state before firing.
package escalation

import (
	"context"
	"errors"
	"time"

	"github.com/MarcosDelSer/laya-backbone-sub002/internal/domain"
)

// Repository errors.
var (
	ErrEscalationNotFound = errors.New("escalation not found")
)

// ErrIncidentNotFound is returned by the incident collaborator when the
// referenced incident no longer exists.
var ErrIncidentNotFound = errors.New("incident not found")

// IncidentStore is the read-only incident collaborator. The scheduler
// re-fetches the incident before firing, so delayed escalations observe live
// state rather than the state at scheduling time.
type IncidentStore interface {
	GetByID(ctx context.Context, id string) (*domain.Incident, error)
}

// Repository defines the persisted escalation operations.
//
// Create must be atomic with respect to the one-pending-row-per
// (incident, type) invariant: under concurrent schedulers only one insert
// wins and the others receive the winning row.
type Repository interface {
	// GetByID returns one escalation row, or ErrEscalationNotFound.
	GetByID(ctx context.Context, id string) (*domain.Escalation, error)

	// GetPending returns the pending row for (incidentID, typ), or
	// ErrEscalationNotFound.
	GetPending(ctx context.Context, incidentID string, typ domain.EscalationType) (*domain.Escalation, error)

	// Create inserts a pending escalation. If a pending row for the same
	// (incident, type) already exists, the existing row is returned instead
	// and no duplicate is created.
	Create(ctx context.Context, esc *domain.Escalation) (*domain.Escalation, error)

	// FetchDue returns up to limit pending rows with scheduled_at in the
	// past, oldest first.
	FetchDue(ctx context.Context, limit int) ([]*domain.Escalation, error)

	// MarkSent finalizes a fired escalation.
	MarkSent(ctx context.Context, id string) error

	// MarkFailed terminally fails an escalation with a reason.
	MarkFailed(ctx context.Context, id, reason string) error

	// MarkCancelled cancels a pending escalation whose triggering condition
	// resolved before it became due.
	MarkCancelled(ctx context.Context, id, reason string) error
}

// scheduledFor computes the due time for a new escalation.
func scheduledFor(now time.Time, delay time.Duration) time.Time {
	if delay <= 0 {
		return now
	}
	return now.Add(delay)
}
