// Package postgres provides PostgreSQL-backed recipient resolution: guardian
// lookups per child, director lookups per school and channel-identity
// maintenance.
package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/MarcosDelSer/laya-backbone-sub002/internal/domain"
	"github.com/MarcosDelSer/laya-backbone-sub002/internal/notify"
)

// Directors lookups are bounded; a school never needs more than a handful of
// supervisory recipients per escalation.
const maxDirectors = 10

// Repository implements notify.RecipientResolver and
// notify.RecipientDirectory using PostgreSQL.
type Repository struct {
	db *pgxpool.Pool
}

// NewRepository creates a new PostgreSQL recipient repository.
func NewRepository(db *pgxpool.Pool) *Repository {
	return &Repository{db: db}
}

const recipientColumns = `
	id, name, role, email, push_token, email_opt_out, push_opt_out,
	push_token_valid, created_at
`

// GetRecipient retrieves one recipient account.
func (r *Repository) GetRecipient(ctx context.Context, id string) (*domain.Recipient, error) {
	query := `SELECT ` + recipientColumns + ` FROM recipients WHERE id = $1`
	rcpt, err := scanRecipient(r.db.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, notify.ErrRecipientNotFound
		}
		return nil, err
	}
	return rcpt, nil
}

// GuardiansFor returns the active guardian accounts for a child,
// priority-ordered (primary contact first).
func (r *Repository) GuardiansFor(ctx context.Context, childID string) ([]domain.Recipient, error) {
	query := `
		SELECT rc.id, rc.name, rc.role, rc.email, rc.push_token, rc.email_opt_out,
		       rc.push_opt_out, rc.push_token_valid, rc.created_at
		FROM recipients rc
		JOIN guardians g ON g.recipient_id = rc.id
		WHERE g.child_id = $1 AND g.active = true
		ORDER BY g.priority ASC
	`
	rows, err := r.db.Query(ctx, query, childID)
	if err != nil {
		return nil, fmt.Errorf("guardians for child: %w", err)
	}
	defer rows.Close()

	return collectRecipients(rows)
}

// Directors returns the supervisory staff for a school, bounded in size.
func (r *Repository) Directors(ctx context.Context, schoolID string) ([]domain.Recipient, error) {
	query := `
		SELECT rc.id, rc.name, rc.role, rc.email, rc.push_token, rc.email_opt_out,
		       rc.push_opt_out, rc.push_token_valid, rc.created_at
		FROM recipients rc
		JOIN staff s ON s.recipient_id = rc.id
		WHERE s.school_id = $1 AND s.active = true
		  AND (s.role = 'director' OR s.title ILIKE '%director%')
		ORDER BY s.role = 'director' DESC, rc.name ASC
		LIMIT $2
	`
	rows, err := r.db.Query(ctx, query, schoolID, maxDirectors)
	if err != nil {
		return nil, fmt.Errorf("directors for school: %w", err)
	}
	defer rows.Close()

	return collectRecipients(rows)
}

// DeactivateEmail clears a bounced address so future sends skip it.
func (r *Repository) DeactivateEmail(ctx context.Context, recipientID string) error {
	query := `UPDATE recipients SET email_opt_out = true, updated_at = NOW() WHERE id = $1`
	result, err := r.db.Exec(ctx, query, recipientID)
	if err != nil {
		return fmt.Errorf("deactivate email: %w", err)
	}
	if result.RowsAffected() == 0 {
		return notify.ErrRecipientNotFound
	}
	return nil
}

// DeactivatePushToken invalidates an unregistered device token.
func (r *Repository) DeactivatePushToken(ctx context.Context, recipientID string) error {
	query := `UPDATE recipients SET push_token_valid = false, updated_at = NOW() WHERE id = $1`
	result, err := r.db.Exec(ctx, query, recipientID)
	if err != nil {
		return fmt.Errorf("deactivate push token: %w", err)
	}
	if result.RowsAffected() == 0 {
		return notify.ErrRecipientNotFound
	}
	return nil
}

func collectRecipients(rows pgx.Rows) ([]domain.Recipient, error) {
	recipients := make([]domain.Recipient, 0)
	for rows.Next() {
		rcpt, err := scanRecipient(rows)
		if err != nil {
			return nil, err
		}
		recipients = append(recipients, *rcpt)
	}
	return recipients, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRecipient(row rowScanner) (*domain.Recipient, error) {
	var rcpt domain.Recipient
	err := row.Scan(
		&rcpt.ID,
		&rcpt.Name,
		&rcpt.Role,
		&rcpt.Email,
		&rcpt.PushToken,
		&rcpt.EmailOptOut,
		&rcpt.PushOptOut,
		&rcpt.PushTokenValid,
		&rcpt.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("scan recipient: %w", err)
	}
	return &rcpt, nil
}
