package server

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/rs/zerolog/log"

	"github.com/hearth-security/hearth-server/internal/models"
)

// Publisher is the part of *nats.Conn the publisher needs
type Publisher interface {
	Publish(subject string, data []byte) error
}

// NATSPublisher sends node commands to the gateway and audit events to the
// push sender
type NATSPublisher struct {
	nc             Publisher
	commandSubject string
	notifyPrefix   string
}

// NewNATSPublisher creates NATS publisher
func NewNATSPublisher(nc Publisher, commandSubject, notifyPrefix string) *NATSPublisher {
	return &NATSPublisher{
		nc:             nc,
		commandSubject: commandSubject,
		notifyPrefix:   notifyPrefix,
	}
}

// SendCommand publishes cmd on the gateway command subject
func (p *NATSPublisher) SendCommand(ctx context.Context, cmd *models.NodeCommand) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	data, err := json.Marshal(cmd)
	if err != nil {
		return fmt.Errorf("marshal command: %w", err)
	}

	if err := p.nc.Publish(p.commandSubject, data); err != nil {
		return fmt.Errorf("publish command: %w", err)
	}

	log.Debug().
		Str("subject", p.commandSubject).
		Str("hub_serial_id", cmd.HubSerialID.String()).
		Str("type", string(cmd.Type)).
		Msg("Command published")

	return nil
}

// Notify publishes event on the space notification subject
func (p *NATSPublisher) Notify(ctx context.Context, event *models.EventLog) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	data, err := json.Marshal(models.Notification{
		SpaceID: event.SpaceID.String(),
		Event:   event,
	})
	if err != nil {
		return fmt.Errorf("marshal notification: %w", err)
	}

	subject := NotificationSubject(p.notifyPrefix, event.SpaceID.String())
	if err := p.nc.Publish(subject, data); err != nil {
		return fmt.Errorf("publish notification: %w", err)
	}

	return nil
}

// NotificationSubject is the subject events of one space are published on
func NotificationSubject(prefix, spaceID string) string {
	return prefix + "." + spaceID
}
