package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/hearth-security/hearth-server/internal/apperr"
	"github.com/hearth-security/hearth-server/internal/models"
)

// Common errors
var (
	ErrNotFound     = apperr.ErrNotFound
	ErrDuplicateKey = fmt.Errorf("duplicate key: %w", apperr.ErrConflict)
)

// Store defines the storage interface
type Store interface {
	// Transaction support. Reads of spaces and pending devices made through
	// a transaction lock the row until Commit or Rollback.
	BeginTx(ctx context.Context) (Store, error)
	Commit() error
	Rollback() error

	// Space methods
	CreateSpace(ctx context.Context, space *models.Space) error
	GetSpace(ctx context.Context, id uuid.UUID) (*models.Space, error)
	UpdateSpace(ctx context.Context, space *models.Space) error

	// Pending device methods
	CreatePendingDevice(ctx context.Context, pending *models.PendingDevice) error
	GetPendingDevice(ctx context.Context, id uuid.UUID) (*models.PendingDevice, error)
	GetPendingDeviceBySerial(ctx context.Context, serial models.SerialID) (*models.PendingDevice, error)
	UpdatePendingDevice(ctx context.Context, pending *models.PendingDevice) error
	DeletePendingDevice(ctx context.Context, id uuid.UUID) error
	ListPendingDevices(ctx context.Context, spaceID uuid.UUID) ([]*models.PendingDevice, error)

	// Device methods
	CreateDevice(ctx context.Context, device *models.Device) error
	GetDevice(ctx context.Context, serial models.SerialID) (*models.Device, error)
	UpdateDevice(ctx context.Context, device *models.Device) error
	ListDevices(ctx context.Context, spaceID uuid.UUID, deviceType *models.DeviceType) ([]*models.Device, error)

	// Event log methods
	CreateEventLog(ctx context.Context, event *models.EventLog) error
	ListEventLogs(ctx context.Context, filters EventLogFilters, limit, offset int) ([]*models.EventLog, int64, error)

	// Close the store
	Close() error
}

// EventLogFilters represents filters for event logs
type EventLogFilters struct {
	SpaceID   *uuid.UUID
	SerialID  *models.SerialID
	Type      *models.EventType
	Level     *models.EventLevel
	StartTime *time.Time
	EndTime   *time.Time
}

// WithTx runs fn inside a transaction, committing if fn succeeds
func WithTx(ctx context.Context, store Store, fn func(tx Store) error) error {
	tx, err := store.BeginTx(ctx)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	if err := fn(tx); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}

	return nil
}
