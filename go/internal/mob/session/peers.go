package session

import (
	"sort"
	"time"

	"github.com/mcdev12/mobster/go/internal/models"
)

// Announcement is the heartbeat every connection publishes on the presence subject.
type Announcement struct {
	ConnID      string              `json:"conn_id"`
	Participant *models.Participant `json:"participant,omitempty"`
	Role        Role                `json:"role"`
	Leaving     bool                `json:"leaving,omitempty"`
	SentAt      time.Time           `json:"sent_at"`
}

type peerEntry struct {
	participant *models.Participant
	role        Role
	lastSeen    time.Time
	joined      uint64
}

// peerTable tracks remote connections and forgets the ones that stop
// announcing for longer than ttl.
type peerTable struct {
	ttl   time.Duration
	seq   uint64
	peers map[string]*peerEntry
}

func newPeerTable(ttl time.Duration) *peerTable {
	return &peerTable{ttl: ttl, peers: make(map[string]*peerEntry)}
}

// observe records an announcement and reports whether the visible roster changed.
func (t *peerTable) observe(a Announcement, now time.Time) bool {
	entry, known := t.peers[a.ConnID]
	if a.Leaving {
		if known {
			delete(t.peers, a.ConnID)
		}
		return known
	}

	if !known {
		t.seq++
		t.peers[a.ConnID] = &peerEntry{
			participant: copyParticipant(a.Participant),
			role:        a.Role,
			lastSeen:    now,
			joined:      t.seq,
		}
		return true
	}

	changed := !sameParticipant(entry.participant, a.Participant) || entry.role != a.Role
	entry.participant = copyParticipant(a.Participant)
	entry.role = a.Role
	entry.lastSeen = now
	return changed
}

// sweep drops peers not heard from within ttl and reports whether any were dropped.
func (t *peerTable) sweep(now time.Time) bool {
	dropped := false
	for id, entry := range t.peers {
		if now.Sub(entry.lastSeen) > t.ttl {
			delete(t.peers, id)
			dropped = true
		}
	}
	return dropped
}

// list returns peers in the order they joined.
func (t *peerTable) list() []*models.Participant {
	entries := make([]*peerEntry, 0, len(t.peers))
	for _, e := range t.peers {
		entries = append(entries, e)
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].joined < entries[j].joined })

	out := make([]*models.Participant, len(entries))
	for i, e := range entries {
		out[i] = copyParticipant(e.participant)
	}
	return out
}

// hostCount returns how many remote connections claim the host role.
func (t *peerTable) hostCount() int {
	n := 0
	for _, e := range t.peers {
		if e.role == RoleHost {
			n++
		}
	}
	return n
}

func copyParticipant(p *models.Participant) *models.Participant {
	if p == nil {
		return nil
	}
	c := *p
	return &c
}

func sameParticipant(a, b *models.Participant) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}
