package storage

import (
	"context"
	"database/sql"
	"time"

	"github.com/google/uuid"

	"github.com/hearth-security/hearth-server/internal/models"
)

// ========== Pending Device Methods ==========

const pendingDeviceColumns = `id, created_at, updated_at, space_id, serial_id, type, state, public_key_pem, hub_serial_id`

// CreatePendingDevice creates a new pending device
func (s *PostgresStore) CreatePendingDevice(ctx context.Context, pending *models.PendingDevice) error {
	if pending.ID == uuid.Nil {
		pending.ID = uuid.New()
	}

	now := time.Now()
	pending.CreatedAt = now
	pending.UpdatedAt = now

	_, err := s.getDB().ExecContext(ctx, `
        INSERT INTO pending_devices (`+pendingDeviceColumns+`)
        VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		pending.ID, pending.CreatedAt, pending.UpdatedAt, pending.SpaceID,
		pending.SerialID, pending.Type, pending.State, pending.PublicKeyPEM, pending.HubSerialID,
	)

	if isUniqueViolation(err) {
		return ErrDuplicateKey
	}
	return err
}

// GetPendingDevice gets a pending device by ID
func (s *PostgresStore) GetPendingDevice(ctx context.Context, id uuid.UUID) (*models.PendingDevice, error) {
	row := s.getDB().QueryRowContext(ctx,
		`SELECT `+pendingDeviceColumns+` FROM pending_devices WHERE id = $1`+s.lockClause(), id)
	return scanPendingDevice(row)
}

// GetPendingDeviceBySerial gets a pending device by serial id
func (s *PostgresStore) GetPendingDeviceBySerial(ctx context.Context, serial models.SerialID) (*models.PendingDevice, error) {
	row := s.getDB().QueryRowContext(ctx,
		`SELECT `+pendingDeviceColumns+` FROM pending_devices WHERE serial_id = $1`+s.lockClause(), serial)
	return scanPendingDevice(row)
}

// UpdatePendingDevice updates state, key and space of a pending device
func (s *PostgresStore) UpdatePendingDevice(ctx context.Context, pending *models.PendingDevice) error {
	pending.UpdatedAt = time.Now()

	return expectOneRow(s.getDB().ExecContext(ctx, `
        UPDATE pending_devices SET
            updated_at = $2, space_id = $3, state = $4, public_key_pem = $5, hub_serial_id = $6
        WHERE id = $1`,
		pending.ID, pending.UpdatedAt, pending.SpaceID, pending.State, pending.PublicKeyPEM, pending.HubSerialID,
	))
}

// DeletePendingDevice deletes a pending device
func (s *PostgresStore) DeletePendingDevice(ctx context.Context, id uuid.UUID) error {
	return expectOneRow(s.getDB().ExecContext(ctx, "DELETE FROM pending_devices WHERE id = $1", id))
}

// ListPendingDevices lists the pending devices of a space
func (s *PostgresStore) ListPendingDevices(ctx context.Context, spaceID uuid.UUID) ([]*models.PendingDevice, error) {
	rows, err := s.getDB().QueryContext(ctx,
		`SELECT `+pendingDeviceColumns+` FROM pending_devices WHERE space_id = $1 ORDER BY created_at DESC`, spaceID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []*models.PendingDevice
	for rows.Next() {
		p, err := scanPendingDevice(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, p)
	}

	return result, rows.Err()
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanPendingDevice(row rowScanner) (*models.PendingDevice, error) {
	p := &models.PendingDevice{}
	err := row.Scan(
		&p.ID, &p.CreatedAt, &p.UpdatedAt, &p.SpaceID, &p.SerialID,
		&p.Type, &p.State, &p.PublicKeyPEM, &p.HubSerialID,
	)

	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	return p, nil
}
