package alarm

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/hearth-security/hearth-server/internal/apperr"
	"github.com/hearth-security/hearth-server/internal/models"
	"github.com/hearth-security/hearth-server/internal/storage"
)

// Notifier hands audit events to the external push sender
type Notifier interface {
	Notify(ctx context.Context, event *models.EventLog) error
}

// Engine reacts to relayed node state against the armed state of a space
type Engine struct {
	store      storage.Store
	dispatcher *Dispatcher
	notifier   Notifier
	now        func() time.Time
}

// NewEngine creates an alarm engine. notifier may be nil.
func NewEngine(store storage.Store, dispatcher *Dispatcher, notifier Notifier) *Engine {
	return &Engine{
		store:      store,
		dispatcher: dispatcher,
		notifier:   notifier,
		now:        time.Now,
	}
}

// HandleRelay processes a message that hub relayed from node
func (e *Engine) HandleRelay(ctx context.Context, hub, node models.SerialID, message string) error {
	msg, err := ParseRelayMessage(message)
	if err != nil {
		return err
	}
	if msg.Serial() != node {
		return fmt.Errorf("%w: message serial does not match node", apperr.ErrBadRequest)
	}

	device, err := e.store.GetDevice(ctx, node)
	if err != nil {
		return fmt.Errorf("device %s: %w", node, err)
	}
	if device.HubSerialID == nil || *device.HubSerialID != hub {
		return fmt.Errorf("%w: %s is not paired through %s", apperr.ErrUnauthorized, node, hub)
	}

	switch m := msg.(type) {
	case TelemetryMessage:
		return e.recordTelemetry(ctx, device, models.TelemetryUpdate{
			BatteryPercentage: &m.BatteryPercentage,
			BatteryVoltage:    &m.BatteryVoltage,
		})

	case StateMessage:
		state := strconv.FormatBool(m.Value)
		if err := e.recordTelemetry(ctx, device, models.TelemetryUpdate{State: &state}); err != nil {
			return err
		}
		return e.react(ctx, device, m.Value)
	}

	return nil
}

func (e *Engine) recordTelemetry(ctx context.Context, device *models.Device, update models.TelemetryUpdate) error {
	return storage.WithTx(ctx, e.store, func(tx storage.Store) error {
		current, err := tx.GetDevice(ctx, device.SerialID)
		if err != nil {
			return err
		}
		current.ApplyTelemetry(update, e.now())
		return tx.UpdateDevice(ctx, current)
	})
}

// react applies the entry and siren rules to a state report
func (e *Engine) react(ctx context.Context, device *models.Device, value bool) error {
	switch device.Type {
	case models.DeviceTypeEntrySensor:
		if value {
			return nil
		}
		return e.triggerFromEntry(ctx, device)

	case models.DeviceTypeSiren:
		space, err := e.store.GetSpace(ctx, device.SpaceID)
		if err != nil {
			return fmt.Errorf("space %s: %w", device.SpaceID, err)
		}
		if value == space.SirenActive {
			return nil
		}

		log.Warn().
			Str("serial_id", device.SerialID.String()).
			Str("space_id", space.ID.String()).
			Bool("reported", value).
			Bool("expected", space.SirenActive).
			Msg("Siren state out of sync, reconciling")

		return e.commandSirens(ctx, space.ID, space.SirenActive)
	}

	return nil
}

// triggerFromEntry sounds every siren of an armed space when an entry
// sensor opens
func (e *Engine) triggerFromEntry(ctx context.Context, sensor *models.Device) error {
	var event *models.EventLog
	err := storage.WithTx(ctx, e.store, func(tx storage.Store) error {
		space, err := tx.GetSpace(ctx, sensor.SpaceID)
		if err != nil {
			return fmt.Errorf("space %s: %w", sensor.SpaceID, err)
		}
		if !space.Armed || space.SirenActive {
			return nil
		}

		space.SirenActive = true
		if err := tx.UpdateSpace(ctx, space); err != nil {
			return err
		}

		event = &models.EventLog{
			SpaceID:     space.ID,
			SerialID:    &sensor.SerialID,
			Type:        models.EventTypeSirenActivated,
			Level:       models.EventLevelCritical,
			Title:       models.TitleSirenActivated,
			Description: fmt.Sprintf("%q opened while %q was armed", displayName(sensor), space.Name),
			Details:     models.Variables{"trigger": sensor.SerialID.String()},
		}
		return tx.CreateEventLog(ctx, event)
	})
	if err != nil || event == nil {
		return err
	}

	log.Warn().
		Str("space_id", sensor.SpaceID.String()).
		Str("serial_id", sensor.SerialID.String()).
		Msg("Siren activated")

	e.notify(ctx, event)
	return e.commandSirens(ctx, sensor.SpaceID, true)
}

// Arm arms a space. Arming an armed space changes nothing.
func (e *Engine) Arm(ctx context.Context, spaceID uuid.UUID) (*models.Space, error) {
	var space *models.Space
	var event *models.EventLog
	err := storage.WithTx(ctx, e.store, func(tx storage.Store) error {
		var err error
		space, err = tx.GetSpace(ctx, spaceID)
		if err != nil {
			return fmt.Errorf("space %s: %w", spaceID, err)
		}
		if space.Armed {
			return nil
		}

		space.Armed = true
		if err := tx.UpdateSpace(ctx, space); err != nil {
			return err
		}

		event = &models.EventLog{
			SpaceID: space.ID,
			Type:    models.EventTypeSpaceArmed,
			Level:   models.EventLevelInfo,
			Title:   models.TitleSpaceArmed,
		}
		return tx.CreateEventLog(ctx, event)
	})
	if err != nil {
		return nil, err
	}

	if event != nil {
		e.notify(ctx, event)
	}
	return space, nil
}

// Disarm disarms a space and force-silences every siren in it. Disarming
// a space that is neither armed nor sounding is a no-op: no events are
// written and no commands are sent.
func (e *Engine) Disarm(ctx context.Context, spaceID uuid.UUID) (*models.Space, error) {
	var space *models.Space
	var events []*models.EventLog
	changed := false
	err := storage.WithTx(ctx, e.store, func(tx storage.Store) error {
		var err error
		space, err = tx.GetSpace(ctx, spaceID)
		if err != nil {
			return fmt.Errorf("space %s: %w", spaceID, err)
		}
		if !space.Armed && !space.SirenActive {
			return nil
		}
		changed = true

		if space.SirenActive {
			events = append(events, &models.EventLog{
				SpaceID: space.ID,
				Type:    models.EventTypeSirenSilenced,
				Level:   models.EventLevelInfo,
				Title:   models.TitleSirenSilenced,
			})
		}
		if space.Armed {
			events = append(events, &models.EventLog{
				SpaceID: space.ID,
				Type:    models.EventTypeSpaceDisarmed,
				Level:   models.EventLevelInfo,
				Title:   models.TitleSpaceDisarmed,
			})
		}

		space.Armed = false
		space.SirenActive = false
		if err := tx.UpdateSpace(ctx, space); err != nil {
			return err
		}

		for _, event := range events {
			if err := tx.CreateEventLog(ctx, event); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	if !changed {
		return space, nil
	}

	for _, event := range events {
		e.notify(ctx, event)
	}
	if err := e.commandSirens(ctx, spaceID, false); err != nil {
		return space, err
	}
	return space, nil
}

// commandSirens queues one command per siren in the space
func (e *Engine) commandSirens(ctx context.Context, spaceID uuid.UUID, active bool) error {
	sirenType := models.DeviceTypeSiren
	sirens, err := e.store.ListDevices(ctx, spaceID, &sirenType)
	if err != nil {
		return fmt.Errorf("list sirens: %w", err)
	}

	message := SirenCommand(active)
	for _, siren := range sirens {
		cmd := &models.NodeCommand{
			HubSerialID: siren.CommandTarget(),
			Type:        models.CommandSendMessageToNode,
			SerialID:    siren.SerialID,
			Message:     message,
		}
		if err := e.dispatcher.Dispatch(cmd); err != nil {
			log.Error().Err(err).
				Str("space_id", spaceID.String()).
				Str("serial_id", siren.SerialID.String()).
				Msg("Failed to queue siren command")
		}
	}

	log.Info().
		Str("space_id", spaceID.String()).
		Int("sirens", len(sirens)).
		Bool("active", active).
		Msg("Siren commands queued")

	return nil
}

func (e *Engine) notify(ctx context.Context, event *models.EventLog) {
	if e.notifier == nil {
		return
	}
	if err := e.notifier.Notify(ctx, event); err != nil {
		log.Error().Err(err).
			Str("space_id", event.SpaceID.String()).
			Str("type", string(event.Type)).
			Msg("Failed to publish notification")
	}
}

func displayName(d *models.Device) string {
	if d.Name != "" {
		return d.Name
	}
	return d.SerialID.String()
}
