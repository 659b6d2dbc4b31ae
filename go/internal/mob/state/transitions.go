package state

import (
	"fmt"
	"time"

	"github.com/mcdev12/mobster/go/internal/mob/rotation"
	"github.com/mcdev12/mobster/go/internal/models"
)

// Transitions are pure: they never modify their input and return the input
// unchanged together with an error when the move is not allowed.

// RequestStart arms a rotation that still needs the host's confirmation.
func RequestStart(o Option) (Option, error) {
	if o.State != PhaseActivated {
		return o, fmt.Errorf("%w: start requested in %s", ErrInvalidTransition, o.State)
	}
	next := o.Clone()
	next.State = PhaseWaitStart
	return next, nil
}

// CancelStart drops a pending start.
func CancelStart(o Option) (Option, error) {
	if o.State != PhaseWaitStart {
		return o, fmt.Errorf("%w: cancel requested in %s", ErrInvalidTransition, o.State)
	}
	next := o.Clone()
	next.State = PhaseActivated
	return next, nil
}

// NextTurn hands the turn to the next member after index. It is allowed when
// the start was confirmed and when a running turn ran out.
func NextTurn(o Option, index int) (Option, int, error) {
	if o.State != PhaseWaitStart && o.State != PhaseTimerStarted {
		return o, index, fmt.Errorf("%w: next turn in %s", ErrInvalidTransition, o.State)
	}

	nextIndex, driver, err := rotation.NextIndex(o.Members, index)
	if err != nil {
		return o, index, err
	}

	next := o.Clone()
	next.State = PhaseWaitDriver
	next.Driver = &driver
	next.StartTime = nil
	return next, nextIndex, nil
}

// ConfirmDriver starts the turn timer once the pending driver accepted.
func ConfirmDriver(o Option, driverID string, now time.Time) (Option, error) {
	if o.State != PhaseWaitDriver {
		return o, fmt.Errorf("%w: confirm driver in %s", ErrInvalidTransition, o.State)
	}
	if !o.IsDriver(driverID) {
		return o, fmt.Errorf("%w: %q", ErrNotDriver, driverID)
	}

	next := o.Clone()
	next.State = PhaseTimerStarted
	started := now
	next.StartTime = &started
	return next, nil
}

// ReplaceMembers swaps the roster wholesale, dropping duplicate ids. When the
// current driver is still present the returned index points at them, so the
// next rotation continues after the driver; otherwise index is returned as is
// and wraps on the next rotation.
func ReplaceMembers(o Option, members []models.Participant, index int) (Option, int) {
	next := o.Clone()
	next.Members = dedupe(members)

	if o.Driver != nil {
		if pos := rotation.IndexOf(next.Members, o.Driver.ID); pos >= 0 {
			index = pos
		}
	}
	return next, index
}

// Reset returns the state after the session ended.
func Reset(intervalSec int) Option {
	return New(intervalSec)
}

func dedupe(members []models.Participant) []models.Participant {
	out := make([]models.Participant, 0, len(members))
	seen := make(map[string]bool, len(members))
	for _, m := range members {
		if m.ID == "" || seen[m.ID] {
			continue
		}
		seen[m.ID] = true
		out = append(out, m)
	}
	return out
}
