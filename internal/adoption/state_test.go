package adoption

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hearth-security/hearth-server/internal/apperr"
	"github.com/hearth-security/hearth-server/internal/models"
)

func TestTransition_HappyPath(t *testing.T) {
	state := stateNone
	steps := []struct {
		ev   Event
		want models.AdoptionState
	}{
		{EventDiscovered, models.AdoptionAutoDiscovered},
		{EventAdopt, models.AdoptionPendingIntroduce},
		{EventIntroduce, models.AdoptionPendingAcknowledgement},
		{EventAcknowledge, models.AdoptionWaitingUserConfirmation},
		{EventConfirm, models.AdoptionConfirmed},
	}

	for _, step := range steps {
		next, err := Transition(state, step.ev)
		require.NoError(t, err, "%s from %q", step.ev, state)
		assert.Equal(t, step.want, next)
		state = next
	}
}

func TestTransition_HubRegistration(t *testing.T) {
	next, err := Transition(stateNone, EventRegister)
	require.NoError(t, err)
	assert.Equal(t, models.AdoptionPendingIntroduce, next)
}

func TestTransition_DeleteFromAnyPendingState(t *testing.T) {
	for _, from := range []models.AdoptionState{
		models.AdoptionAutoDiscovered,
		models.AdoptionPendingIntroduce,
		models.AdoptionPendingAcknowledgement,
		models.AdoptionWaitingUserConfirmation,
	} {
		next, err := Transition(from, EventDelete)
		require.NoError(t, err)
		assert.Equal(t, models.AdoptionDeleted, next)
	}
}

func TestTransition_Conflicts(t *testing.T) {
	cases := []struct {
		from models.AdoptionState
		ev   Event
	}{
		{stateNone, EventIntroduce},
		{models.AdoptionAutoDiscovered, EventIntroduce},
		{models.AdoptionAutoDiscovered, EventConfirm},
		{models.AdoptionPendingIntroduce, EventAdopt},
		{models.AdoptionPendingAcknowledgement, EventIntroduce},
		{models.AdoptionWaitingUserConfirmation, EventAcknowledge},
		{models.AdoptionConfirmed, EventDelete},
		{models.AdoptionDeleted, EventAdopt},
	}

	for _, c := range cases {
		next, err := Transition(c.from, c.ev)
		assert.ErrorIs(t, err, apperr.ErrConflict, "%s from %q", c.ev, c.from)
		assert.Equal(t, c.from, next)
	}
}
