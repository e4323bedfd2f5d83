package server

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog/log"

	"github.com/hearth-security/hearth-server/internal/models"
)

// CommandHandler delivers a command to a connected hub
type CommandHandler interface {
	Deliver(ctx context.Context, cmd *models.NodeCommand) error
}

// NATSSubscriber feeds commands published by the application server into
// the gateway
type NATSSubscriber struct {
	nc      *nats.Conn
	subject string
	handler CommandHandler
	timeout time.Duration
	subs    []*nats.Subscription
}

// NewNATSSubscriber creates NATS subscriber
func NewNATSSubscriber(nc *nats.Conn, subject string, handler CommandHandler, timeout time.Duration) *NATSSubscriber {
	return &NATSSubscriber{
		nc:      nc,
		subject: subject,
		handler: handler,
		timeout: timeout,
		subs:    make([]*nats.Subscription, 0),
	}
}

// Start subscribes and blocks until ctx is done
func (s *NATSSubscriber) Start(ctx context.Context) error {
	sub, err := s.nc.Subscribe(s.subject, s.handleCommand)
	if err != nil {
		return fmt.Errorf("subscribe %s: %w", s.subject, err)
	}
	s.subs = append(s.subs, sub)

	log.Info().
		Str("subject", s.subject).
		Int("subscriptions", len(s.subs)).
		Msg("NATS subscriber started")

	<-ctx.Done()

	for _, sub := range s.subs {
		sub.Unsubscribe()
	}

	return ctx.Err()
}

// handleCommand delivers one command. Undeliverable commands are dropped;
// the hub re-syncs state on reconnect.
func (s *NATSSubscriber) handleCommand(msg *nats.Msg) {
	log.Debug().
		Str("subject", msg.Subject).
		Int("size", len(msg.Data)).
		Msg("Received command")

	cmd, err := DecodeCommand(msg.Data)
	if err != nil {
		log.Error().Err(err).Msg("Failed to unmarshal command")
		return
	}

	ctx := context.Background()
	if s.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}

	if err := s.handler.Deliver(ctx, cmd); err != nil {
		log.Warn().Err(err).
			Str("hub_serial_id", cmd.HubSerialID.String()).
			Str("serial_id", cmd.SerialID.String()).
			Str("type", string(cmd.Type)).
			Msg("Failed to deliver command")
		return
	}

	log.Info().
		Str("hub_serial_id", cmd.HubSerialID.String()).
		Str("serial_id", cmd.SerialID.String()).
		Str("type", string(cmd.Type)).
		Msg("Command delivered")
}

// DecodeCommand parses a command body and checks its type
func DecodeCommand(data []byte) (*models.NodeCommand, error) {
	var cmd models.NodeCommand
	if err := json.Unmarshal(data, &cmd); err != nil {
		return nil, fmt.Errorf("decode command: %w", err)
	}

	switch cmd.Type {
	case models.CommandEnableNodeAdoption, models.CommandSendMessageToNode:
	default:
		return nil, fmt.Errorf("unknown command type %q", cmd.Type)
	}

	return &cmd, nil
}
