package controller

import (
	"github.com/mcdev12/mobster/go/internal/mob/replication"
	"github.com/mcdev12/mobster/go/internal/mob/session"
	"github.com/mcdev12/mobster/go/internal/mob/state"
	"github.com/mcdev12/mobster/go/internal/models"
)

// Msg is anything the controller loop processes from its inbox.
type Msg interface{ isControllerMsg() }

// StartRequested asks to start a rotation, or to show the pending prompt again.
type StartRequested struct{}

// GetState asks the loop for a snapshot.
type GetState struct {
	Reply chan View
}

// View is a snapshot of the controller.
type View struct {
	Role        session.Role        `json:"role"`
	Binding     replication.Binding `json:"binding"`
	MemberIndex int                 `json:"member_index"`
	Option      state.Option        `json:"option"`
}

type promptKind string

const (
	promptStart  promptKind = "start"
	promptDriver promptKind = "driver"
)

type promptAnswered struct {
	kind   promptKind
	token  uint64
	answer Answer
}

type syncReceived struct {
	option state.Option
}

type syncRequested struct {
	requester models.Participant
}

type confirmDriverRequested struct {
	driver models.Participant
	reply  chan error
}

type confirmAcked struct {
	driver models.Participant
	err    error
}

type bindRetryDue struct{}

func (StartRequested) isControllerMsg()         {}
func (GetState) isControllerMsg()               {}
func (promptAnswered) isControllerMsg()         {}
func (syncReceived) isControllerMsg()           {}
func (syncRequested) isControllerMsg()          {}
func (confirmDriverRequested) isControllerMsg() {}
func (confirmAcked) isControllerMsg()           {}
func (bindRetryDue) isControllerMsg()           {}
