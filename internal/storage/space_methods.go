package storage

import (
	"context"
	"database/sql"
	"time"

	"github.com/google/uuid"

	"github.com/hearth-security/hearth-server/internal/models"
)

// ========== Space Methods ==========

// CreateSpace creates a new space
func (s *PostgresStore) CreateSpace(ctx context.Context, space *models.Space) error {
	if space.ID == uuid.Nil {
		space.ID = uuid.New()
	}

	now := time.Now()
	space.CreatedAt = now
	space.UpdatedAt = now

	_, err := s.getDB().ExecContext(ctx, `
        INSERT INTO spaces (id, created_at, updated_at, name, armed, siren_active)
        VALUES ($1, $2, $3, $4, $5, $6)`,
		space.ID, space.CreatedAt, space.UpdatedAt, space.Name, space.Armed, space.SirenActive,
	)

	if isUniqueViolation(err) {
		return ErrDuplicateKey
	}
	return err
}

// GetSpace gets a space by ID
func (s *PostgresStore) GetSpace(ctx context.Context, id uuid.UUID) (*models.Space, error) {
	query := `
        SELECT id, created_at, updated_at, name, armed, siren_active
        FROM spaces
        WHERE id = $1` + s.lockClause()

	space := &models.Space{}
	err := s.getDB().QueryRowContext(ctx, query, id).Scan(
		&space.ID, &space.CreatedAt, &space.UpdatedAt, &space.Name, &space.Armed, &space.SirenActive,
	)

	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	return space, nil
}

// UpdateSpace updates the armed and siren flags of a space
func (s *PostgresStore) UpdateSpace(ctx context.Context, space *models.Space) error {
	space.UpdatedAt = time.Now()

	return expectOneRow(s.getDB().ExecContext(ctx, `
        UPDATE spaces SET updated_at = $2, name = $3, armed = $4, siren_active = $5
        WHERE id = $1`,
		space.ID, space.UpdatedAt, space.Name, space.Armed, space.SirenActive,
	))
}
