package session

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/mcdev12/mobster/go/internal/models"
	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog/log"
)

// PresenceConfig holds configuration for the presence heartbeat
type PresenceConfig struct {
	SessionID         string
	HeartbeatInterval time.Duration
	PeerTTL           time.Duration
}

// DefaultPresenceConfig returns default presence configuration
func DefaultPresenceConfig(sessionID string) PresenceConfig {
	return PresenceConfig{
		SessionID:         sessionID,
		HeartbeatInterval: 2 * time.Second,
		PeerTTL:           7 * time.Second,
	}
}

// Presence is a Bridge backed by heartbeat announcements on the
// mob.<session>.presence subject. The local role is fixed at construction;
// it is reported when Run starts and revoked when Run returns.
type Presence struct {
	nc       *nats.Conn
	config   PresenceConfig
	clock    clockwork.Clock
	connID   string
	identity *models.Participant
	events   chan Event

	mu     sync.RWMutex
	role   Role
	wanted Role
	table  *peerTable
}

// NewPresence creates a presence bridge. Nothing is published until Run.
func NewPresence(nc *nats.Conn, config PresenceConfig, identity *models.Participant, role Role, clock clockwork.Clock) *Presence {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &Presence{
		nc:       nc,
		config:   config,
		clock:    clock,
		connID:   uuid.New().String(),
		identity: copyParticipant(identity),
		events:   make(chan Event, 64),
		role:     RoleNone,
		wanted:   role,
		table:    newPeerTable(config.PeerTTL),
	}
}

func (p *Presence) subject() string {
	return fmt.Sprintf("mob.%s.presence", p.config.SessionID)
}

func (p *Presence) Role() Role {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.role
}

func (p *Presence) LocalIdentity() *models.Participant {
	return copyParticipant(p.identity)
}

func (p *Presence) Peers() []*models.Participant {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.table.list()
}

func (p *Presence) Events() <-chan Event {
	return p.events
}

// Run joins the session, heartbeats until ctx is cancelled, then announces
// that this connection is leaving.
func (p *Presence) Run(ctx context.Context) error {
	sub, err := p.nc.Subscribe(p.subject(), func(m *nats.Msg) {
		p.handle(m.Data)
	})
	if err != nil {
		return fmt.Errorf("subscribe presence: %w", err)
	}
	defer func() {
		if err := sub.Unsubscribe(); err != nil {
			log.Warn().Err(err).Msg("failed to unsubscribe presence")
		}
	}()

	p.setRole(p.wanted)
	p.announce(false)

	log.Info().
		Str("session_id", p.config.SessionID).
		Str("conn_id", p.connID).
		Str("role", string(p.wanted)).
		Msg("joined session")

	ticker := p.clock.NewTicker(p.config.HeartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			p.announce(true)
			if err := p.nc.Flush(); err != nil {
				log.Warn().Err(err).Msg("failed to flush leave announcement")
			}
			p.setRole(RoleNone)
			log.Info().Str("session_id", p.config.SessionID).Msg("left session")
			return nil
		case <-ticker.Chan():
			p.announce(false)
			p.sweep()
		}
	}
}

func (p *Presence) announce(leaving bool) {
	data, err := json.Marshal(Announcement{
		ConnID:      p.connID,
		Participant: p.identity,
		Role:        p.wanted,
		Leaving:     leaving,
		SentAt:      p.clock.Now().UTC(),
	})
	if err != nil {
		log.Error().Err(err).Msg("failed to marshal presence announcement")
		return
	}
	if err := p.nc.Publish(p.subject(), data); err != nil {
		log.Warn().Err(err).Msg("failed to publish presence announcement")
	}
}

// handle applies a remote announcement. Own announcements are ignored.
func (p *Presence) handle(data []byte) {
	var a Announcement
	if err := json.Unmarshal(data, &a); err != nil {
		log.Warn().Err(err).Msg("dropping malformed presence announcement")
		return
	}
	if a.ConnID == "" || a.ConnID == p.connID {
		return
	}

	p.mu.Lock()
	changed := p.table.observe(a, p.clock.Now())
	hosts := p.table.hostCount()
	p.mu.Unlock()

	if a.Role == RoleHost && p.wanted == RoleHost && hosts > 0 {
		log.Warn().Str("conn_id", a.ConnID).Msg("another connection claims the host role")
	}
	if changed {
		log.Debug().Str("conn_id", a.ConnID).Bool("leaving", a.Leaving).Msg("peers changed")
		p.emit(Event{Kind: EventPeersChanged})
	}
}

func (p *Presence) sweep() {
	p.mu.Lock()
	dropped := p.table.sweep(p.clock.Now())
	p.mu.Unlock()

	if dropped {
		log.Debug().Msg("expired silent peers")
		p.emit(Event{Kind: EventPeersChanged})
	}
}

func (p *Presence) setRole(role Role) {
	p.mu.Lock()
	p.role = role
	p.mu.Unlock()
	p.emit(Event{Kind: EventRoleChanged, Role: role})
}

func (p *Presence) emit(ev Event) {
	select {
	case p.events <- ev:
	default:
		log.Warn().Str("kind", string(ev.Kind)).Msg("session event buffer full, dropping event")
	}
}
