package alarm

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hearth-security/hearth-server/internal/models"
)

func TestDispatcherFailureDoesNotBlockOthers(t *testing.T) {
	bad := mustSerial(t, sirenSerialA)
	good := mustSerial(t, sirenSerialB)
	sender := &recordingSender{fail: map[models.SerialID]bool{bad: true}}

	d := NewDispatcher(sender, 1, 4, time.Second)
	d.Start(context.Background())

	require.NoError(t, d.Dispatch(&models.NodeCommand{SerialID: bad}))
	require.NoError(t, d.Dispatch(&models.NodeCommand{SerialID: good}))
	d.Stop()

	cmds := sender.sorted()
	require.Len(t, cmds, 1)
	assert.Equal(t, good, cmds[0].SerialID)
}

func TestDispatcherQueueFull(t *testing.T) {
	d := NewDispatcher(&recordingSender{}, 1, 1, time.Second)

	// not started, so the single slot stays occupied
	require.NoError(t, d.Dispatch(&models.NodeCommand{}))
	assert.ErrorIs(t, d.Dispatch(&models.NodeCommand{}), ErrQueueFull)

	d.Start(context.Background())
	d.Stop()
}

func TestDispatcherStopped(t *testing.T) {
	d := NewDispatcher(&recordingSender{}, 2, 4, time.Second)
	d.Start(context.Background())
	d.Stop()
	d.Stop()

	assert.ErrorIs(t, d.Dispatch(&models.NodeCommand{}), ErrDispatcherStopped)
}
