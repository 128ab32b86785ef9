// Package postgres provides the PostgreSQL implementation of the escalation
// repository.
package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/MarcosDelSer/laya-backbone-sub002/internal/domain"
	"github.com/MarcosDelSer/laya-backbone-sub002/internal/escalation"
)

// Repository implements escalation.Repository using PostgreSQL.
type Repository struct {
	db *pgxpool.Pool
}

// NewRepository creates a new PostgreSQL escalation repository.
func NewRepository(db *pgxpool.Pool) *Repository {
	return &Repository{db: db}
}

const escalationColumns = `
	id, incident_id, escalation_type, status, scheduled_at, sent_at,
	additional_data, last_error, created_at, updated_at
`

// GetByID retrieves one escalation row.
func (r *Repository) GetByID(ctx context.Context, id string) (*domain.Escalation, error) {
	query := `SELECT ` + escalationColumns + ` FROM escalations WHERE id = $1`
	esc, err := scanEscalation(r.db.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, escalation.ErrEscalationNotFound
		}
		return nil, err
	}
	return esc, nil
}

// GetPending returns the pending row for (incidentID, typ).
func (r *Repository) GetPending(ctx context.Context, incidentID string, typ domain.EscalationType) (*domain.Escalation, error) {
	query := `
		SELECT ` + escalationColumns + `
		FROM escalations
		WHERE incident_id = $1 AND escalation_type = $2 AND status = 'pending'
	`
	esc, err := scanEscalation(r.db.QueryRow(ctx, query, incidentID, typ))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, escalation.ErrEscalationNotFound
		}
		return nil, err
	}
	return esc, nil
}

// Create inserts a pending escalation. The partial unique index on
// (incident_id, escalation_type) where status = 'pending' makes concurrent
// check-then-insert safe: on conflict nothing is inserted and the winning
// pending row is re-selected.
func (r *Repository) Create(ctx context.Context, esc *domain.Escalation) (*domain.Escalation, error) {
	if esc.ID == "" {
		esc.ID = uuid.NewString()
	}
	if esc.Status == "" {
		esc.Status = domain.EscalationStatusPending
	}

	query := `
		INSERT INTO escalations (id, incident_id, escalation_type, status, scheduled_at, additional_data)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (incident_id, escalation_type) WHERE status = 'pending' DO NOTHING
		RETURNING ` + escalationColumns + `
	`
	created, err := scanEscalation(r.db.QueryRow(ctx, query,
		esc.ID,
		esc.IncidentID,
		esc.EscalationType,
		esc.Status,
		esc.ScheduledAt,
		esc.AdditionalData,
	))
	if err == nil {
		return created, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("create escalation: %w", err)
	}

	// Conflict: another scheduler won the insert. Hand back its row.
	existing, err := r.GetPending(ctx, esc.IncidentID, esc.EscalationType)
	if err != nil {
		return nil, fmt.Errorf("create escalation: conflict but no pending row: %w", err)
	}
	return existing, nil
}

// FetchDue returns up to limit due pending rows, oldest first.
func (r *Repository) FetchDue(ctx context.Context, limit int) ([]*domain.Escalation, error) {
	query := `
		SELECT ` + escalationColumns + `
		FROM escalations
		WHERE status = 'pending' AND scheduled_at <= NOW()
		ORDER BY scheduled_at ASC
		LIMIT $1
	`
	rows, err := r.db.Query(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("fetch due escalations: %w", err)
	}
	defer rows.Close()

	items := make([]*domain.Escalation, 0)
	for rows.Next() {
		esc, err := scanEscalation(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, esc)
	}
	return items, rows.Err()
}

// MarkSent finalizes a fired escalation.
func (r *Repository) MarkSent(ctx context.Context, id string) error {
	query := `
		UPDATE escalations
		SET status = 'sent', sent_at = NOW(), last_error = '', updated_at = NOW()
		WHERE id = $1 AND status = 'pending'
	`
	result, err := r.db.Exec(ctx, query, id)
	if err != nil {
		return fmt.Errorf("mark escalation sent: %w", err)
	}
	if result.RowsAffected() == 0 {
		return escalation.ErrEscalationNotFound
	}
	return nil
}

// MarkFailed terminally fails an escalation with a reason.
func (r *Repository) MarkFailed(ctx context.Context, id, reason string) error {
	query := `
		UPDATE escalations
		SET status = 'failed', last_error = $2, updated_at = NOW()
		WHERE id = $1 AND status = 'pending'
	`
	result, err := r.db.Exec(ctx, query, id, reason)
	if err != nil {
		return fmt.Errorf("mark escalation failed: %w", err)
	}
	if result.RowsAffected() == 0 {
		return escalation.ErrEscalationNotFound
	}
	return nil
}

// MarkCancelled cancels a pending escalation. The cancellation reason lands
// in additional_data so the audit trail survives.
func (r *Repository) MarkCancelled(ctx context.Context, id, reason string) error {
	query := `
		UPDATE escalations
		SET status = 'cancelled',
		    additional_data = COALESCE(additional_data, '{}'::jsonb) || jsonb_build_object('cancellation_reason', $2::text),
		    updated_at = NOW()
		WHERE id = $1 AND status = 'pending'
	`
	result, err := r.db.Exec(ctx, query, id, reason)
	if err != nil {
		return fmt.Errorf("mark escalation cancelled: %w", err)
	}
	if result.RowsAffected() == 0 {
		return escalation.ErrEscalationNotFound
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanEscalation(row rowScanner) (*domain.Escalation, error) {
	var esc domain.Escalation
	err := row.Scan(
		&esc.ID,
		&esc.IncidentID,
		&esc.EscalationType,
		&esc.Status,
		&esc.ScheduledAt,
		&esc.SentAt,
		&esc.AdditionalData,
		&esc.LastError,
		&esc.CreatedAt,
		&esc.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("scan escalation: %w", err)
	}
	return &esc, nil
}
