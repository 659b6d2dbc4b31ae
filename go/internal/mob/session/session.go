package session

import "github.com/mcdev12/mobster/go/internal/models"

// Role is the local participant's place in the collaborative session.
type Role string

const (
	RoleNone  Role = "None"
	RoleHost  Role = "Host"
	RoleGuest Role = "Guest"
)

// ParseRole maps a configured role name to a Role.
func ParseRole(s string) (Role, bool) {
	switch Role(s) {
	case RoleHost, RoleGuest, RoleNone:
		return Role(s), true
	case "host":
		return RoleHost, true
	case "guest":
		return RoleGuest, true
	case "", "none":
		return RoleNone, true
	}
	return RoleNone, false
}

// EventKind represents the type of session event
type EventKind string

const (
	EventRoleChanged  EventKind = "RoleChanged"
	EventPeersChanged EventKind = "PeersChanged"
)

// Event signals a change in the session. Role is set for RoleChanged only.
// A RoleChanged to RoleNone means access to the session was revoked.
type Event struct {
	Kind EventKind
	Role Role
}

// Bridge is the controller's view of the collaborative session.
type Bridge interface {
	Role() Role
	// LocalIdentity returns nil when the local user is anonymous.
	LocalIdentity() *models.Participant
	// Peers returns the other connected participants. Entries may be nil.
	Peers() []*models.Participant
	Events() <-chan Event
}
