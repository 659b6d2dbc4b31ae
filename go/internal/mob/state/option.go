package state

import (
	"errors"
	"fmt"
	"time"

	"github.com/mcdev12/mobster/go/internal/models"
)

// DefaultIntervalSec is the turn length used when none is configured.
const DefaultIntervalSec = 10

// Phase defines the phase of a mob rotation.
type Phase string

const (
	PhaseActivated    Phase = "Activated"
	PhaseWaitStart    Phase = "WaitStart"
	PhaseWaitDriver   Phase = "WaitDriver"
	PhaseTimerStarted Phase = "TimerStarted"
)

// Valid reports whether p is one of the known phases.
func (p Phase) Valid() bool {
	switch p {
	case PhaseActivated, PhaseWaitStart, PhaseWaitDriver, PhaseTimerStarted:
		return true
	}
	return false
}

var (
	ErrInvalidOption     = errors.New("invalid option")
	ErrInvalidTransition = errors.New("invalid transition")
	ErrNotDriver         = errors.New("participant is not the pending driver")
)

// Option is the replicated rotation state. The host owns the authoritative
// copy; guests only ever hold clones received through a sync.
type Option struct {
	State              Phase                `json:"state"`
	Members            []models.Participant `json:"members"`
	Driver             *models.Participant  `json:"driver,omitempty"`
	StartTime          *time.Time           `json:"start_time,omitempty"`
	MobTimeIntervalSec int                  `json:"mob_time_interval_sec"`
}

// New returns an empty option in the Activated phase.
func New(intervalSec int) Option {
	if intervalSec <= 0 {
		intervalSec = DefaultIntervalSec
	}
	return Option{
		State:              PhaseActivated,
		Members:            []models.Participant{},
		MobTimeIntervalSec: intervalSec,
	}
}

// Clone returns a deep copy that shares no memory with o.
func (o Option) Clone() Option {
	c := o
	c.Members = make([]models.Participant, len(o.Members))
	copy(c.Members, o.Members)
	if o.Driver != nil {
		d := *o.Driver
		c.Driver = &d
	}
	if o.StartTime != nil {
		st := *o.StartTime
		c.StartTime = &st
	}
	return c
}

// IsDriver reports whether the participant with the given id holds the turn.
func (o Option) IsDriver(id string) bool {
	return o.Driver != nil && id != "" && o.Driver.ID == id
}

// Validate checks the structural invariants of an option.
func (o Option) Validate() error {
	if !o.State.Valid() {
		return fmt.Errorf("%w: unknown state %q", ErrInvalidOption, o.State)
	}
	if o.MobTimeIntervalSec <= 0 {
		return fmt.Errorf("%w: interval must be positive, got %d", ErrInvalidOption, o.MobTimeIntervalSec)
	}

	seen := make(map[string]bool, len(o.Members))
	for _, m := range o.Members {
		if m.ID == "" {
			return fmt.Errorf("%w: member without id", ErrInvalidOption)
		}
		if seen[m.ID] {
			return fmt.Errorf("%w: duplicate member %q", ErrInvalidOption, m.ID)
		}
		seen[m.ID] = true
	}

	switch o.State {
	case PhaseWaitDriver:
		if o.Driver == nil {
			return fmt.Errorf("%w: %s requires a driver", ErrInvalidOption, o.State)
		}
	case PhaseTimerStarted:
		if o.Driver == nil || o.StartTime == nil {
			return fmt.Errorf("%w: %s requires a driver and start time", ErrInvalidOption, o.State)
		}
	default:
		if o.Driver != nil || o.StartTime != nil {
			return fmt.Errorf("%w: %s carries no driver or start time", ErrInvalidOption, o.State)
		}
	}
	return nil
}
