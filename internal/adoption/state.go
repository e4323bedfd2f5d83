package adoption

import (
	"fmt"

	"github.com/hearth-security/hearth-server/internal/apperr"
	"github.com/hearth-security/hearth-server/internal/models"
)

// Event drives a pending device through its adoption lifecycle
type Event string

const (
	EventDiscovered  Event = "discovered"   // a hub reports an unknown serial
	EventRegister    Event = "register"     // a user registers a hub directly
	EventAdopt       Event = "adopt"        // a user authorizes pairing
	EventIntroduce   Event = "introduce"    // the device presents its public key
	EventAcknowledge Event = "acknowledge"  // the hub confirms pairing
	EventConfirm     Event = "confirm"      // the user names the device
	EventDelete      Event = "delete"       // the user cancels
)

// stateNone is the state of a serial with no pending record
const stateNone models.AdoptionState = ""

var transitions = map[models.AdoptionState]map[Event]models.AdoptionState{
	stateNone: {
		EventDiscovered: models.AdoptionAutoDiscovered,
		EventRegister:   models.AdoptionPendingIntroduce,
	},
	models.AdoptionAutoDiscovered: {
		EventAdopt:  models.AdoptionPendingIntroduce,
		EventDelete: models.AdoptionDeleted,
	},
	models.AdoptionPendingIntroduce: {
		EventIntroduce: models.AdoptionPendingAcknowledgement,
		EventDelete:    models.AdoptionDeleted,
	},
	models.AdoptionPendingAcknowledgement: {
		EventAcknowledge: models.AdoptionWaitingUserConfirmation,
		EventDelete:      models.AdoptionDeleted,
	},
	models.AdoptionWaitingUserConfirmation: {
		EventConfirm: models.AdoptionConfirmed,
		EventDelete:  models.AdoptionDeleted,
	},
}

// Transition returns the state reached from `from` on ev, or a conflict
// error when ev is not allowed in that state
func Transition(from models.AdoptionState, ev Event) (models.AdoptionState, error) {
	to, ok := transitions[from][ev]
	if !ok {
		name := string(from)
		if from == stateNone {
			name = "none"
		}
		return from, fmt.Errorf("%w: cannot %s in state %s", apperr.ErrConflict, ev, name)
	}
	return to, nil
}
