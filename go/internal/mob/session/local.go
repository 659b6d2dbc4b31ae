package session

import (
	"sync"

	"github.com/mcdev12/mobster/go/internal/models"
	"github.com/rs/zerolog/log"
)

// Local is an in-process bridge whose role and peers are set directly.
type Local struct {
	identity *models.Participant
	events   chan Event

	mu    sync.RWMutex
	role  Role
	peers []*models.Participant
}

// NewLocal creates a bridge for the given identity with no role.
func NewLocal(identity *models.Participant) *Local {
	return &Local{
		identity: identity,
		role:     RoleNone,
		events:   make(chan Event, 64),
	}
}

func (l *Local) Role() Role {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.role
}

func (l *Local) LocalIdentity() *models.Participant {
	if l.identity == nil {
		return nil
	}
	id := *l.identity
	return &id
}

func (l *Local) Peers() []*models.Participant {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return copyPeers(l.peers)
}

func (l *Local) Events() <-chan Event {
	return l.events
}

// SetRole changes the role and emits RoleChanged.
func (l *Local) SetRole(role Role) {
	l.mu.Lock()
	l.role = role
	l.mu.Unlock()
	l.emit(Event{Kind: EventRoleChanged, Role: role})
}

// SetPeers replaces the peer list and emits PeersChanged.
func (l *Local) SetPeers(peers ...*models.Participant) {
	l.mu.Lock()
	l.peers = copyPeers(peers)
	l.mu.Unlock()
	l.emit(Event{Kind: EventPeersChanged})
}

func (l *Local) emit(ev Event) {
	select {
	case l.events <- ev:
	default:
		log.Warn().Str("kind", string(ev.Kind)).Msg("session event buffer full, dropping event")
	}
}

func copyPeers(peers []*models.Participant) []*models.Participant {
	out := make([]*models.Participant, len(peers))
	for i, p := range peers {
		if p != nil {
			c := *p
			out[i] = &c
		}
	}
	return out
}
