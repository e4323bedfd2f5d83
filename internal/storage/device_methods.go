package storage

import (
	"context"
	"database/sql"
	"time"

	"github.com/google/uuid"

	"github.com/hearth-security/hearth-server/internal/models"
)

// ========== Device Methods ==========

const deviceColumns = `id, created_at, updated_at, space_id, serial_id, type, public_key_pem,
               name, description, hub_serial_id, metadata`

// CreateDevice creates a new device
func (s *PostgresStore) CreateDevice(ctx context.Context, device *models.Device) error {
	if device.ID == uuid.Nil {
		device.ID = uuid.New()
	}

	now := time.Now()
	device.CreatedAt = now
	device.UpdatedAt = now

	if device.Metadata == nil {
		device.Metadata = make(models.Variables)
	}

	_, err := s.getDB().ExecContext(ctx, `
        INSERT INTO devices (`+deviceColumns+`)
        VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		device.ID, device.CreatedAt, device.UpdatedAt, device.SpaceID, device.SerialID,
		device.Type, device.PublicKeyPEM, device.Name, device.Description,
		device.HubSerialID, device.Metadata,
	)

	if isUniqueViolation(err) {
		return ErrDuplicateKey
	}
	return err
}

// GetDevice gets a device by serial id
func (s *PostgresStore) GetDevice(ctx context.Context, serial models.SerialID) (*models.Device, error) {
	row := s.getDB().QueryRowContext(ctx,
		`SELECT `+deviceColumns+` FROM devices WHERE serial_id = $1`+s.lockClause(), serial)
	return scanDevice(row)
}

// UpdateDevice updates the mutable fields of a device
func (s *PostgresStore) UpdateDevice(ctx context.Context, device *models.Device) error {
	device.UpdatedAt = time.Now()

	return expectOneRow(s.getDB().ExecContext(ctx, `
        UPDATE devices SET
            updated_at = $2, name = $3, description = $4, hub_serial_id = $5, metadata = $6
        WHERE serial_id = $1`,
		device.SerialID, device.UpdatedAt, device.Name, device.Description,
		device.HubSerialID, device.Metadata,
	))
}

// ListDevices lists the devices of a space, optionally of a single type
func (s *PostgresStore) ListDevices(ctx context.Context, spaceID uuid.UUID, deviceType *models.DeviceType) ([]*models.Device, error) {
	query := `SELECT ` + deviceColumns + ` FROM devices WHERE space_id = $1`
	args := []interface{}{spaceID}

	if deviceType != nil {
		query += " AND type = $2"
		args = append(args, *deviceType)
	}
	query += " ORDER BY created_at"

	rows, err := s.getDB().QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var devices []*models.Device
	for rows.Next() {
		d, err := scanDevice(rows)
		if err != nil {
			return nil, err
		}
		devices = append(devices, d)
	}

	return devices, rows.Err()
}

func scanDevice(row rowScanner) (*models.Device, error) {
	d := &models.Device{}
	err := row.Scan(
		&d.ID, &d.CreatedAt, &d.UpdatedAt, &d.SpaceID, &d.SerialID, &d.Type,
		&d.PublicKeyPEM, &d.Name, &d.Description, &d.HubSerialID, &d.Metadata,
	)

	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	return d, nil
}
