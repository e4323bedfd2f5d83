package server

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hearth-security/hearth-server/internal/models"
)

type published struct {
	subject string
	data    []byte
}

type fakeConn struct {
	msgs []published
	err  error
}

func (f *fakeConn) Publish(subject string, data []byte) error {
	if f.err != nil {
		return f.err
	}
	f.msgs = append(f.msgs, published{subject: subject, data: data})
	return nil
}

type recordingHandler struct {
	mu   sync.Mutex
	cmds []*models.NodeCommand
	err  error
}

func (h *recordingHandler) Deliver(ctx context.Context, cmd *models.NodeCommand) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.cmds = append(h.cmds, cmd)
	return h.err
}

func testCommand(t *testing.T) *models.NodeCommand {
	hub, err := models.ParseSerialID("0100000000000001")
	require.NoError(t, err)
	siren, err := models.ParseSerialID("0400000000000001")
	require.NoError(t, err)
	return &models.NodeCommand{
		HubSerialID: hub,
		Type:        models.CommandSendMessageToNode,
		SerialID:    siren,
		Message:     "command;siren;true",
	}
}

func TestSendCommandRoundTrip(t *testing.T) {
	conn := &fakeConn{}
	p := NewNATSPublisher(conn, "gateway.commands", "notifications.space")
	cmd := testCommand(t)

	require.NoError(t, p.SendCommand(context.Background(), cmd))
	require.Len(t, conn.msgs, 1)
	assert.Equal(t, "gateway.commands", conn.msgs[0].subject)

	handler := &recordingHandler{}
	sub := NewNATSSubscriber(nil, "gateway.commands", handler, 0)
	sub.handleCommand(&nats.Msg{Subject: conn.msgs[0].subject, Data: conn.msgs[0].data})

	require.Len(t, handler.cmds, 1)
	assert.Equal(t, cmd, handler.cmds[0])
}

func TestSendCommandErrors(t *testing.T) {
	conn := &fakeConn{err: errors.New("connection closed")}
	p := NewNATSPublisher(conn, "gateway.commands", "notifications.space")
	assert.Error(t, p.SendCommand(context.Background(), testCommand(t)))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, p.SendCommand(ctx, testCommand(t)), context.Canceled)
}

func TestNotify(t *testing.T) {
	conn := &fakeConn{}
	p := NewNATSPublisher(conn, "gateway.commands", "notifications.space")
	event := &models.EventLog{
		ID:      uuid.New(),
		SpaceID: uuid.New(),
		Type:    models.EventTypeSirenActivated,
		Level:   models.EventLevelCritical,
		Title:   models.TitleSirenActivated,
	}

	require.NoError(t, p.Notify(context.Background(), event))
	require.Len(t, conn.msgs, 1)
	assert.Equal(t, "notifications.space."+event.SpaceID.String(), conn.msgs[0].subject)

	var n models.Notification
	require.NoError(t, json.Unmarshal(conn.msgs[0].data, &n))
	assert.Equal(t, event.SpaceID.String(), n.SpaceID)
	assert.Equal(t, models.TitleSirenActivated, n.Event.Title)
}

func TestDecodeCommand(t *testing.T) {
	_, err := DecodeCommand([]byte(`{`))
	assert.Error(t, err)

	_, err = DecodeCommand([]byte(`{"hub_serial_id":"0100000000000001","type":"reboot","serial_id":"0100000000000001"}`))
	assert.Error(t, err)

	cmd, err := DecodeCommand([]byte(`{"hub_serial_id":"0100000000000001","type":"ws_enable_node_adoption","serial_id":"0200000000000001","shared_secret":"s3cret"}`))
	require.NoError(t, err)
	assert.Equal(t, models.CommandEnableNodeAdoption, cmd.Type)
	assert.Equal(t, "s3cret", cmd.SharedSecret)
}

func TestHandleCommandIgnoresBadInput(t *testing.T) {
	handler := &recordingHandler{err: errors.New("hub not connected")}
	sub := NewNATSSubscriber(nil, "gateway.commands", handler, 0)

	sub.handleCommand(&nats.Msg{Data: []byte("not json")})
	assert.Empty(t, handler.cmds)

	data, err := json.Marshal(testCommand(t))
	require.NoError(t, err)
	sub.handleCommand(&nats.Msg{Data: data})
	assert.Len(t, handler.cmds, 1)
}
