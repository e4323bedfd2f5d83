package alarm

import (
	"context"
	"errors"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hearth-security/hearth-server/internal/apperr"
	"github.com/hearth-security/hearth-server/internal/models"
	"github.com/hearth-security/hearth-server/internal/storage"
)

const (
	hubSerial    = "0100000000000001"
	sensorSerial = "0200000000000001"
	sirenSerialA = "0400000000000001"
	sirenSerialB = "0400000000000002"
)

type recordingSender struct {
	mu   sync.Mutex
	cmds []*models.NodeCommand
	fail map[models.SerialID]bool
}

func (r *recordingSender) SendCommand(ctx context.Context, cmd *models.NodeCommand) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.fail[cmd.SerialID] {
		return errors.New("hub offline")
	}
	r.cmds = append(r.cmds, cmd)
	return nil
}

func (r *recordingSender) sorted() []*models.NodeCommand {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := append([]*models.NodeCommand(nil), r.cmds...)
	sort.Slice(out, func(i, j int) bool { return out[i].SerialID.String() < out[j].SerialID.String() })
	return out
}

type recordingNotifier struct {
	mu     sync.Mutex
	events []*models.EventLog
}

func (r *recordingNotifier) Notify(ctx context.Context, event *models.EventLog) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, event)
	return nil
}

type engineFixture struct {
	store      *storage.MemoryStore
	sender     *recordingSender
	notifier   *recordingNotifier
	dispatcher *Dispatcher
	engine     *Engine
	space      *models.Space
}

func newEngineFixture(t *testing.T, space models.Space) *engineFixture {
	t.Helper()
	ctx := context.Background()
	store := storage.NewMemoryStore()
	require.NoError(t, store.CreateSpace(ctx, &space))

	hub := mustSerial(t, hubSerial)
	addDevice(t, store, &space, hub, nil)
	addDevice(t, store, &space, mustSerial(t, sensorSerial), &hub)
	addDevice(t, store, &space, mustSerial(t, sirenSerialA), &hub)
	addDevice(t, store, &space, mustSerial(t, sirenSerialB), &hub)

	sender := &recordingSender{}
	notifier := &recordingNotifier{}
	dispatcher := NewDispatcher(sender, 2, 16, time.Second)
	dispatcher.Start(ctx)
	t.Cleanup(dispatcher.Stop)

	return &engineFixture{
		store:      store,
		sender:     sender,
		notifier:   notifier,
		dispatcher: dispatcher,
		engine:     NewEngine(store, dispatcher, notifier),
		space:      &space,
	}
}

func mustSerial(t *testing.T, s string) models.SerialID {
	id, err := models.ParseSerialID(s)
	require.NoError(t, err)
	return id
}

func addDevice(t *testing.T, store storage.Store, space *models.Space, serial models.SerialID, hub *models.SerialID) {
	t.Helper()
	device := &models.Device{
		SerialID:     serial,
		Type:         serial.Type(),
		PublicKeyPEM: "test",
		Name:         string(serial.Type()),
		HubSerialID:  hub,
	}
	device.SpaceID = space.ID
	require.NoError(t, store.CreateDevice(context.Background(), device))
}

func (f *engineFixture) events(t *testing.T) []*models.EventLog {
	events, _, err := f.store.ListEventLogs(context.Background(), storage.EventLogFilters{SpaceID: &f.space.ID}, 100, 0)
	require.NoError(t, err)
	return events
}

func (f *engineFixture) reloadSpace(t *testing.T) *models.Space {
	space, err := f.store.GetSpace(context.Background(), f.space.ID)
	require.NoError(t, err)
	return space
}

func assertSirenCommands(t *testing.T, cmds []*models.NodeCommand, active bool) {
	t.Helper()
	require.Len(t, cmds, 2)
	for i, serial := range []string{sirenSerialA, sirenSerialB} {
		assert.Equal(t, serial, cmds[i].SerialID.String())
		assert.Equal(t, hubSerial, cmds[i].HubSerialID.String())
		assert.Equal(t, models.CommandSendMessageToNode, cmds[i].Type)
		assert.Equal(t, SirenCommand(active), cmds[i].Message)
	}
}

func TestEntryOpenedWhileArmed(t *testing.T) {
	f := newEngineFixture(t, models.Space{Name: "Home", Armed: true})
	ctx := context.Background()

	err := f.engine.HandleRelay(ctx, mustSerial(t, hubSerial), mustSerial(t, sensorSerial), "state;"+sensorSerial+";1700000000;false")
	require.NoError(t, err)
	f.dispatcher.Stop()

	assertSirenCommands(t, f.sender.sorted(), true)
	assert.True(t, f.reloadSpace(t).SirenActive)

	events := f.events(t)
	require.Len(t, events, 1)
	assert.Equal(t, models.TitleSirenActivated, events[0].Title)
	assert.Equal(t, models.EventLevelCritical, events[0].Level)
	require.Len(t, f.notifier.events, 1)

	sensor, err := f.store.GetDevice(ctx, mustSerial(t, sensorSerial))
	require.NoError(t, err)
	assert.Equal(t, "false", sensor.Metadata[models.MetaState])
}

func TestEntryOpenedWhileSirenActive(t *testing.T) {
	f := newEngineFixture(t, models.Space{Name: "Home", Armed: true, SirenActive: true})

	err := f.engine.HandleRelay(context.Background(), mustSerial(t, hubSerial), mustSerial(t, sensorSerial), "state;"+sensorSerial+";1700000000;false")
	require.NoError(t, err)
	f.dispatcher.Stop()

	assert.Empty(t, f.sender.sorted())
	assert.Empty(t, f.events(t))
}

func TestEntryIgnoredWhenDisarmedOrClosed(t *testing.T) {
	f := newEngineFixture(t, models.Space{Name: "Home"})
	ctx := context.Background()
	hub, sensor := mustSerial(t, hubSerial), mustSerial(t, sensorSerial)

	require.NoError(t, f.engine.HandleRelay(ctx, hub, sensor, "state;"+sensorSerial+";1700000000;false"))

	_, err := f.engine.Arm(ctx, f.space.ID)
	require.NoError(t, err)
	require.NoError(t, f.engine.HandleRelay(ctx, hub, sensor, "state;"+sensorSerial+";1700000001;true"))
	f.dispatcher.Stop()

	assert.Empty(t, f.sender.sorted())
	assert.False(t, f.reloadSpace(t).SirenActive)

	events := f.events(t)
	require.Len(t, events, 1)
	assert.Equal(t, models.TitleSpaceArmed, events[0].Title)
}

func TestDisarmSilencesAllSirens(t *testing.T) {
	f := newEngineFixture(t, models.Space{Name: "Home", Armed: true, SirenActive: true})

	space, err := f.engine.Disarm(context.Background(), f.space.ID)
	require.NoError(t, err)
	f.dispatcher.Stop()

	assert.False(t, space.Armed)
	assert.False(t, space.SirenActive)
	assert.False(t, f.reloadSpace(t).SirenActive)
	assertSirenCommands(t, f.sender.sorted(), false)

	var titles []string
	for _, e := range f.events(t) {
		titles = append(titles, e.Title)
	}
	assert.ElementsMatch(t, []string{models.TitleSirenSilenced, models.TitleSpaceDisarmed}, titles)
}

func TestDisarmIsIdempotent(t *testing.T) {
	f := newEngineFixture(t, models.Space{Name: "Home", Armed: true})
	ctx := context.Background()

	_, err := f.engine.Disarm(ctx, f.space.ID)
	require.NoError(t, err)
	space, err := f.engine.Disarm(ctx, f.space.ID)
	require.NoError(t, err)
	f.dispatcher.Stop()

	assert.False(t, space.Armed)
	assert.False(t, space.SirenActive)

	events := f.events(t)
	require.Len(t, events, 1)
	assert.Equal(t, models.TitleSpaceDisarmed, events[0].Title)

	// only the first disarm silences the sirens
	assertSirenCommands(t, f.sender.sorted(), false)
}

func TestDisarmAlreadyDisarmedSendsNothing(t *testing.T) {
	f := newEngineFixture(t, models.Space{Name: "Home"})

	space, err := f.engine.Disarm(context.Background(), f.space.ID)
	require.NoError(t, err)
	f.dispatcher.Stop()

	assert.False(t, space.Armed)
	assert.Empty(t, f.events(t))
	assert.Empty(t, f.notifier.events)
	assert.Empty(t, f.sender.sorted())
}

func TestArmIsIdempotent(t *testing.T) {
	f := newEngineFixture(t, models.Space{Name: "Home"})
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		space, err := f.engine.Arm(ctx, f.space.ID)
		require.NoError(t, err)
		assert.True(t, space.Armed)
	}

	assert.Len(t, f.events(t), 1)
	assert.Len(t, f.notifier.events, 1)
}

func TestSirenReconcile(t *testing.T) {
	t.Run("sounding while it should be silent", func(t *testing.T) {
		f := newEngineFixture(t, models.Space{Name: "Home"})
		err := f.engine.HandleRelay(context.Background(), mustSerial(t, hubSerial), mustSerial(t, sirenSerialA), "state;"+sirenSerialA+";1700000000;true")
		require.NoError(t, err)
		f.dispatcher.Stop()

		assertSirenCommands(t, f.sender.sorted(), false)
	})

	t.Run("silent while it should be sounding", func(t *testing.T) {
		f := newEngineFixture(t, models.Space{Name: "Home", Armed: true, SirenActive: true})
		err := f.engine.HandleRelay(context.Background(), mustSerial(t, hubSerial), mustSerial(t, sirenSerialB), "state;"+sirenSerialB+";1700000000;false")
		require.NoError(t, err)
		f.dispatcher.Stop()

		assertSirenCommands(t, f.sender.sorted(), true)
	})

	t.Run("consistent", func(t *testing.T) {
		f := newEngineFixture(t, models.Space{Name: "Home", Armed: true, SirenActive: true})
		err := f.engine.HandleRelay(context.Background(), mustSerial(t, hubSerial), mustSerial(t, sirenSerialB), "state;"+sirenSerialB+";1700000000;true")
		require.NoError(t, err)
		f.dispatcher.Stop()

		assert.Empty(t, f.sender.sorted())
	})
}

func TestRelayTelemetry(t *testing.T) {
	f := newEngineFixture(t, models.Space{Name: "Home"})
	ctx := context.Background()

	err := f.engine.HandleRelay(ctx, mustSerial(t, hubSerial), mustSerial(t, sensorSerial), "telemetry;"+sensorSerial+";87.5;3.1")
	require.NoError(t, err)

	sensor, err := f.store.GetDevice(ctx, mustSerial(t, sensorSerial))
	require.NoError(t, err)
	assert.Equal(t, 87.5, sensor.Metadata[models.MetaBatteryPercentage])
	assert.Equal(t, 3.1, sensor.Metadata[models.MetaBatteryVoltage])
	assert.Contains(t, sensor.Metadata, models.MetaLastHeartbeatAt)
}

func TestRelayRejected(t *testing.T) {
	f := newEngineFixture(t, models.Space{Name: "Home", Armed: true})
	ctx := context.Background()
	hub, sensor := mustSerial(t, hubSerial), mustSerial(t, sensorSerial)

	err := f.engine.HandleRelay(ctx, hub, sensor, "state;"+sirenSerialA+";1700000000;false")
	assert.ErrorIs(t, err, apperr.ErrBadRequest)

	err = f.engine.HandleRelay(ctx, mustSerial(t, "0100000000000099"), sensor, "state;"+sensorSerial+";1700000000;false")
	assert.ErrorIs(t, err, apperr.ErrUnauthorized)

	err = f.engine.HandleRelay(ctx, hub, mustSerial(t, "0200000000000099"), "state;0200000000000099;1700000000;false")
	assert.ErrorIs(t, err, apperr.ErrNotFound)

	err = f.engine.HandleRelay(ctx, hub, sensor, "garbage")
	assert.ErrorIs(t, err, apperr.ErrBadRequest)

	f.dispatcher.Stop()
	assert.Empty(t, f.sender.sorted())
	assert.False(t, f.reloadSpace(t).SirenActive)
}
