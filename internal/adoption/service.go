package adoption

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/hearth-security/hearth-server/internal/apperr"
	"github.com/hearth-security/hearth-server/internal/models"
	"github.com/hearth-security/hearth-server/internal/storage"
	"github.com/hearth-security/hearth-server/pkg/crypto"
)

// Commander delivers a command to the gateway session of a hub
type Commander interface {
	SendCommand(ctx context.Context, cmd *models.NodeCommand) error
}

// Service drives pending devices through adoption and owns the trusted
// device records
type Service struct {
	store    storage.Store
	commands Commander
	now      func() time.Time
}

// NewService creates an adoption service
func NewService(store storage.Store, commands Commander) *Service {
	return &Service{
		store:    store,
		commands: commands,
		now:      time.Now,
	}
}

// ========== Collaborator operations ==========

// ReportDiscovery records that hub has seen serial. An unknown serial becomes
// auto_discovered in the hub's space. A known serial is left unchanged and
// its current status is returned, but only to an adopted hub of the space
// that owns it. Pending ids are only handed to the hub the device was
// discovered through.
func (s *Service) ReportDiscovery(ctx context.Context, hub, serial models.SerialID) (*models.DiscoveryStatus, error) {
	if serial.Type() == models.DeviceTypeUnknown {
		return nil, fmt.Errorf("%w: unknown device type in serial %s", apperr.ErrBadRequest, serial)
	}
	if serial == hub {
		return nil, fmt.Errorf("%w: hub cannot discover itself", apperr.ErrBadRequest)
	}

	var status *models.DiscoveryStatus
	err := storage.WithTx(ctx, s.store, func(tx storage.Store) error {
		hubDevice, err := adoptedHub(ctx, tx, hub)
		if err != nil {
			return err
		}

		if device, err := tx.GetDevice(ctx, serial); err == nil {
			if device.SpaceID != hubDevice.SpaceID {
				return fmt.Errorf("%w: %s belongs to another space", apperr.ErrUnauthorized, serial)
			}
			status = &models.DiscoveryStatus{SerialID: serial, Type: device.Type, State: models.AdoptionConfirmed}
			return nil
		} else if !errors.Is(err, storage.ErrNotFound) {
			return err
		}

		if pending, err := tx.GetPendingDeviceBySerial(ctx, serial); err == nil {
			if pending.SpaceID != hubDevice.SpaceID {
				return fmt.Errorf("%w: %s belongs to another space", apperr.ErrUnauthorized, serial)
			}
			status = discoveryStatus(pending)
			if pending.HubSerialID == nil || *pending.HubSerialID != hub {
				status.PendingDeviceID = nil
			}
			return nil
		} else if !errors.Is(err, storage.ErrNotFound) {
			return err
		}

		state, err := Transition(stateNone, EventDiscovered)
		if err != nil {
			return err
		}

		pending := models.NewPendingDevice(serial, hubDevice.SpaceID, state)
		pending.HubSerialID = &hubDevice.SerialID
		if err := tx.CreatePendingDevice(ctx, pending); err != nil {
			return err
		}

		status = discoveryStatus(pending)
		return tx.CreateEventLog(ctx, &models.EventLog{
			SpaceID:     pending.SpaceID,
			SerialID:    &pending.SerialID,
			Type:        models.EventTypeDeviceDiscovered,
			Level:       models.EventLevelInfo,
			Title:       "Device discovered",
			Description: fmt.Sprintf("Hub %s discovered %s %s", hub, pending.Type, serial),
		})
	})
	if err != nil {
		return nil, err
	}

	log.Info().
		Str("hub_serial_id", hub.String()).
		Str("serial_id", serial.String()).
		Str("state", string(status.State)).
		Msg("Discovery reported")

	return status, nil
}

// Introduce binds publicKeyPEM to the pending device for serial. A key is
// bound at most once.
func (s *Service) Introduce(ctx context.Context, serial models.SerialID, publicKeyPEM string) error {
	if _, err := crypto.ParsePublicKeyPEM(publicKeyPEM); err != nil {
		return fmt.Errorf("%w: invalid public key", apperr.ErrBadRequest)
	}

	return storage.WithTx(ctx, s.store, func(tx storage.Store) error {
		pending, err := tx.GetPendingDeviceBySerial(ctx, serial)
		if errors.Is(err, storage.ErrNotFound) {
			if _, derr := tx.GetDevice(ctx, serial); derr == nil {
				return fmt.Errorf("%w: %s already has a public key", apperr.ErrConflict, serial)
			}
			return fmt.Errorf("pending device %s: %w", serial, apperr.ErrNotFound)
		}
		if err != nil {
			return err
		}

		if pending.PublicKeyPEM != nil {
			return fmt.Errorf("%w: %s already has a public key", apperr.ErrConflict, serial)
		}

		next, err := Transition(pending.State, EventIntroduce)
		if err != nil {
			return err
		}

		pending.State = next
		pending.PublicKeyPEM = &publicKeyPEM
		return tx.UpdatePendingDevice(ctx, pending)
	})
}

// Acknowledge records that the hub finished pairing serial. When hub is
// given it must be the hub the device was discovered through, or the device
// itself when a hub acknowledges its own registration.
func (s *Service) Acknowledge(ctx context.Context, serial models.SerialID, hub *models.SerialID) error {
	return storage.WithTx(ctx, s.store, func(tx storage.Store) error {
		pending, err := tx.GetPendingDeviceBySerial(ctx, serial)
		if err != nil {
			return fmt.Errorf("pending device %s: %w", serial, err)
		}

		if hub != nil {
			self := *hub == serial && serial.Type() == models.DeviceTypeHub
			paired := pending.HubSerialID != nil && *pending.HubSerialID == *hub
			if !self && !paired {
				return fmt.Errorf("%w: %s is not paired through %s", apperr.ErrUnauthorized, serial, *hub)
			}
		}

		next, err := Transition(pending.State, EventAcknowledge)
		if err != nil {
			return err
		}

		pending.State = next
		return tx.UpdatePendingDevice(ctx, pending)
	})
}

// AdoptPaired is the adoption request of a hub that already paired serial
// over its local radio. The hub must be the one the device was discovered
// through and a user must already have adopted the device; the hub's shared
// secret is then passed on with a fresh ws_enable_node_adoption.
func (s *Service) AdoptPaired(ctx context.Context, hub models.SerialID, pendingID uuid.UUID, serial models.SerialID, sharedSecret string) (*models.PendingDevice, error) {
	pending, err := s.store.GetPendingDevice(ctx, pendingID)
	if err != nil {
		return nil, fmt.Errorf("pending device %s: %w", pendingID, err)
	}

	if pending.SerialID != serial {
		return nil, fmt.Errorf("%w: serial does not match pending device", apperr.ErrBadRequest)
	}
	if pending.HubSerialID == nil || *pending.HubSerialID != hub {
		return nil, fmt.Errorf("%w: %s is not paired through %s", apperr.ErrUnauthorized, serial, hub)
	}
	if pending.State != models.AdoptionPendingIntroduce {
		return nil, fmt.Errorf("%w: %s is %s, want %s", apperr.ErrConflict, serial, pending.State, models.AdoptionPendingIntroduce)
	}

	s.enableNodeAdoption(ctx, pending, sharedSecret)
	return pending, nil
}

// DeviceKey returns the public key bound to serial. Devices still waiting
// for confirmation are returned untrusted.
func (s *Service) DeviceKey(ctx context.Context, serial models.SerialID) (*models.DeviceKey, error) {
	device, err := s.store.GetDevice(ctx, serial)
	if err == nil {
		return &models.DeviceKey{
			SerialID:     device.SerialID,
			Type:         device.Type,
			PublicKeyPEM: device.PublicKeyPEM,
			HubSerialID:  device.HubSerialID,
			Trusted:      true,
		}, nil
	}
	if !errors.Is(err, storage.ErrNotFound) {
		return nil, err
	}

	pending, err := s.store.GetPendingDeviceBySerial(ctx, serial)
	if err != nil {
		return nil, fmt.Errorf("device %s: %w", serial, err)
	}
	if pending.PublicKeyPEM == nil {
		return nil, fmt.Errorf("device %s has no key: %w", serial, apperr.ErrNotFound)
	}

	return &models.DeviceKey{
		SerialID:     pending.SerialID,
		Type:         pending.Type,
		PublicKeyPEM: *pending.PublicKeyPEM,
		HubSerialID:  pending.HubSerialID,
	}, nil
}

// RecordTelemetry merges a telemetry report into a trusted device
func (s *Service) RecordTelemetry(ctx context.Context, serial models.SerialID, update models.TelemetryUpdate) (*models.Device, error) {
	var device *models.Device
	err := storage.WithTx(ctx, s.store, func(tx storage.Store) error {
		var err error
		device, err = tx.GetDevice(ctx, serial)
		if err != nil {
			return fmt.Errorf("device %s: %w", serial, err)
		}

		device.ApplyTelemetry(update, s.now())
		return tx.UpdateDevice(ctx, device)
	})
	return device, err
}

// ========== User operations ==========

// RegisterHub creates the pending record of a hub a user is adding to a
// space. Hubs have no discovering hub and start at pending_introduce.
func (s *Service) RegisterHub(ctx context.Context, spaceID uuid.UUID, serial models.SerialID) (*models.PendingDevice, error) {
	if serial.Type() != models.DeviceTypeHub {
		return nil, fmt.Errorf("%w: %s is not a hub serial", apperr.ErrBadRequest, serial)
	}

	var pending *models.PendingDevice
	err := storage.WithTx(ctx, s.store, func(tx storage.Store) error {
		if _, err := tx.GetSpace(ctx, spaceID); err != nil {
			return fmt.Errorf("space %s: %w", spaceID, err)
		}

		if _, err := tx.GetDevice(ctx, serial); err == nil {
			return fmt.Errorf("%w: hub %s is already adopted", apperr.ErrConflict, serial)
		} else if !errors.Is(err, storage.ErrNotFound) {
			return err
		}

		state, err := Transition(stateNone, EventRegister)
		if err != nil {
			return err
		}

		pending = models.NewPendingDevice(serial, spaceID, state)
		return tx.CreatePendingDevice(ctx, pending)
	})
	if err != nil {
		return nil, err
	}

	return pending, nil
}

// Adopt records that a user authorized pairing of a discovered device and
// tells the discovering hub to accept it
func (s *Service) Adopt(ctx context.Context, pendingID uuid.UUID) (*models.PendingDevice, error) {
	var pending *models.PendingDevice
	err := storage.WithTx(ctx, s.store, func(tx storage.Store) error {
		var err error
		pending, err = tx.GetPendingDevice(ctx, pendingID)
		if err != nil {
			return fmt.Errorf("pending device %s: %w", pendingID, err)
		}

		next, err := Transition(pending.State, EventAdopt)
		if err != nil {
			return err
		}

		pending.State = next
		return tx.UpdatePendingDevice(ctx, pending)
	})
	if err != nil {
		return nil, err
	}

	s.enableNodeAdoption(ctx, pending, "")
	return pending, nil
}

// enableNodeAdoption tells the discovering hub to accept the node. Delivery
// failures are logged; the hub can ask again with AdoptPaired.
func (s *Service) enableNodeAdoption(ctx context.Context, pending *models.PendingDevice, sharedSecret string) {
	if pending.HubSerialID == nil || s.commands == nil {
		return
	}

	cmd := &models.NodeCommand{
		HubSerialID:  *pending.HubSerialID,
		Type:         models.CommandEnableNodeAdoption,
		SerialID:     pending.SerialID,
		SharedSecret: sharedSecret,
	}
	if err := s.commands.SendCommand(ctx, cmd); err != nil {
		log.Error().Err(err).
			Str("serial_id", pending.SerialID.String()).
			Str("hub_serial_id", pending.HubSerialID.String()).
			Msg("Failed to send enable node adoption")
	}
}

// Confirm promotes a pending device to a trusted Device. The pending record
// is deleted in the same transaction.
func (s *Service) Confirm(ctx context.Context, pendingID uuid.UUID, name, description string) (*models.Device, error) {
	var device *models.Device
	err := storage.WithTx(ctx, s.store, func(tx storage.Store) error {
		pending, err := tx.GetPendingDevice(ctx, pendingID)
		if err != nil {
			return fmt.Errorf("pending device %s: %w", pendingID, err)
		}

		if _, err := Transition(pending.State, EventConfirm); err != nil {
			return err
		}
		if pending.PublicKeyPEM == nil {
			return fmt.Errorf("%w: %s has no public key", apperr.ErrConflict, pending.SerialID)
		}

		if err := tx.DeletePendingDevice(ctx, pending.ID); err != nil {
			return err
		}

		device = &models.Device{
			SerialID:     pending.SerialID,
			Type:         pending.Type,
			PublicKeyPEM: *pending.PublicKeyPEM,
			Name:         name,
			Description:  description,
			HubSerialID:  pending.HubSerialID,
			Metadata:     make(models.Variables),
		}
		device.SpaceID = pending.SpaceID
		if err := tx.CreateDevice(ctx, device); err != nil {
			return err
		}

		return tx.CreateEventLog(ctx, &models.EventLog{
			SpaceID:     device.SpaceID,
			SerialID:    &device.SerialID,
			Type:        models.EventTypeDeviceAdopted,
			Level:       models.EventLevelInfo,
			Title:       models.TitleDeviceAdopted,
			Description: fmt.Sprintf("%s %q was added", device.Type, device.Name),
		})
	})
	if err != nil {
		return nil, err
	}

	log.Info().
		Str("serial_id", device.SerialID.String()).
		Str("space_id", device.SpaceID.String()).
		Msg("Device adopted")

	return device, nil
}

// Delete cancels adoption of a pending device
func (s *Service) Delete(ctx context.Context, pendingID uuid.UUID) error {
	return storage.WithTx(ctx, s.store, func(tx storage.Store) error {
		pending, err := tx.GetPendingDevice(ctx, pendingID)
		if err != nil {
			return fmt.Errorf("pending device %s: %w", pendingID, err)
		}

		if _, err := Transition(pending.State, EventDelete); err != nil {
			return err
		}

		return tx.DeletePendingDevice(ctx, pending.ID)
	})
}

// GetPending returns a pending device
func (s *Service) GetPending(ctx context.Context, pendingID uuid.UUID) (*models.PendingDevice, error) {
	pending, err := s.store.GetPendingDevice(ctx, pendingID)
	if err != nil {
		return nil, fmt.Errorf("pending device %s: %w", pendingID, err)
	}
	return pending, nil
}

// ListPending lists the pending devices of a space
func (s *Service) ListPending(ctx context.Context, spaceID uuid.UUID) ([]*models.PendingDevice, error) {
	return s.store.ListPendingDevices(ctx, spaceID)
}

// ListDevices lists the trusted devices of a space
func (s *Service) ListDevices(ctx context.Context, spaceID uuid.UUID) ([]*models.Device, error) {
	return s.store.ListDevices(ctx, spaceID, nil)
}

// GetDevice returns a trusted device
func (s *Service) GetDevice(ctx context.Context, serial models.SerialID) (*models.Device, error) {
	device, err := s.store.GetDevice(ctx, serial)
	if err != nil {
		return nil, fmt.Errorf("device %s: %w", serial, err)
	}
	return device, nil
}

// UpdateDeviceSettings changes the name and description of a device
func (s *Service) UpdateDeviceSettings(ctx context.Context, serial models.SerialID, name, description string) (*models.Device, error) {
	var device *models.Device
	err := storage.WithTx(ctx, s.store, func(tx storage.Store) error {
		var err error
		device, err = tx.GetDevice(ctx, serial)
		if err != nil {
			return fmt.Errorf("device %s: %w", serial, err)
		}
		device.Name = name
		device.Description = description
		return tx.UpdateDevice(ctx, device)
	})
	return device, err
}

// adoptedHub returns the trusted hub record for serial
func adoptedHub(ctx context.Context, tx storage.Store, serial models.SerialID) (*models.Device, error) {
	device, err := tx.GetDevice(ctx, serial)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, fmt.Errorf("%w: hub %s is not adopted", apperr.ErrUnauthorized, serial)
		}
		return nil, err
	}
	if device.Type != models.DeviceTypeHub {
		return nil, fmt.Errorf("%w: %s is not a hub", apperr.ErrUnauthorized, serial)
	}
	return device, nil
}

func discoveryStatus(p *models.PendingDevice) *models.DiscoveryStatus {
	id := p.ID
	return &models.DiscoveryStatus{
		SerialID:        p.SerialID,
		Type:            p.Type,
		State:           p.State,
		PendingDeviceID: &id,
	}
}
