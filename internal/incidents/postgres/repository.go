// Package postgres provides read-only incident access for the escalation
// scheduler. Incident rows are owned by the incidents module; this repository
// only observes them.
package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/MarcosDelSer/laya-backbone-sub002/internal/domain"
	"github.com/MarcosDelSer/laya-backbone-sub002/internal/escalation"
)

// Repository implements escalation.IncidentStore using PostgreSQL.
type Repository struct {
	db *pgxpool.Pool
}

// NewRepository creates a new read-only incident repository.
func NewRepository(db *pgxpool.Pool) *Repository {
	return &Repository{db: db}
}

// GetByID retrieves the incident fields the scheduler needs, with the child
// name resolved for content building.
func (r *Repository) GetByID(ctx context.Context, id string) (*domain.Incident, error) {
	query := `
		SELECT i.id, i.child_id, COALESCE(c.name, ''), i.school_id, i.type, i.severity,
		       i.description, i.action_taken, i.occurred_at, i.parent_notified,
		       i.parent_acknowledged_at, i.created_at
		FROM incidents i
		LEFT JOIN children c ON c.id = i.child_id
		WHERE i.id = $1
	`
	var incident domain.Incident
	err := r.db.QueryRow(ctx, query, id).Scan(
		&incident.ID,
		&incident.ChildID,
		&incident.ChildName,
		&incident.SchoolID,
		&incident.Type,
		&incident.Severity,
		&incident.Description,
		&incident.ActionTaken,
		&incident.OccurredAt,
		&incident.ParentNotified,
		&incident.ParentAcknowledgedAt,
		&incident.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, escalation.ErrIncidentNotFound
		}
		return nil, fmt.Errorf("get incident: %w", err)
	}
	return &incident, nil
}
