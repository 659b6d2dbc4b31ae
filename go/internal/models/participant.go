package models

// Participant represents a member of a collaborative session.
// Identity is owned by the session transport; the mob core only copies it.
type Participant struct {
	ID          string `json:"id"`
	DisplayName string `json:"display_name"`
}

// Same reports whether both participants carry the same identity.
func (p Participant) Same(other Participant) bool {
	return p.ID == other.ID
}

// Label returns the display name, falling back to the id.
func (p Participant) Label() string {
	if p.DisplayName != "" {
		return p.DisplayName
	}
	return p.ID
}
