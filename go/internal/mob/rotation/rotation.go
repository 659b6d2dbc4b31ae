package rotation

import (
	"errors"

	"github.com/mcdev12/mobster/go/internal/models"
)

// ErrNoParticipants is returned when a rotation is requested on an empty roster.
var ErrNoParticipants = errors.New("no participants to rotate")

// NextIndex advances the turn cursor by one and returns the new index together
// with the participant holding the turn. Stale cursors (negative, or beyond the
// roster after it shrank) wrap to the start of the roster.
func NextIndex(members []models.Participant, current int) (int, models.Participant, error) {
	if len(members) == 0 {
		return current, models.Participant{}, ErrNoParticipants
	}

	next := current + 1
	if next < 0 || next >= len(members) {
		next = 0
	}
	return next, members[next], nil
}

// IndexOf returns the roster position of the participant with the given id, or -1.
func IndexOf(members []models.Participant, id string) int {
	for i, m := range members {
		if m.ID == id {
			return i
		}
	}
	return -1
}
