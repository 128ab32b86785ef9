// Package postgres provides the PostgreSQL implementation of the settings
// store.
package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/MarcosDelSer/laya-backbone-sub002/internal/settings"
)

// Repository implements settings.Store using PostgreSQL.
type Repository struct {
	db *pgxpool.Pool
}

// NewRepository creates a new PostgreSQL settings repository.
func NewRepository(db *pgxpool.Pool) *Repository {
	return &Repository{db: db}
}

// Get reads one setting value by scope and key.
func (r *Repository) Get(ctx context.Context, scope, key string) (string, error) {
	query := `SELECT value FROM settings WHERE scope = $1 AND key = $2`
	var value string
	err := r.db.QueryRow(ctx, query, scope, key).Scan(&value)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return "", settings.ErrSettingNotFound
		}
		return "", fmt.Errorf("get setting %s/%s: %w", scope, key, err)
	}
	return value, nil
}
