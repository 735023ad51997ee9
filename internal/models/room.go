package models

// RoomSnapshot is the persisted view of a room used to (re)create it in memory.
type RoomSnapshot struct {
	ID             string   `json:"id"`
	Name           string   `json:"name"`
	HostUserID     string   `json:"hostUserId,omitempty"`
	CurrentTrackID string   `json:"currentTrackId,omitempty"`
	Members        []string `json:"members"` // persisted roster, not live connections
	BannedUserIDs  []string `json:"-"`       // users refused at join
	KeyHash        string   `json:"-"`       // bcrypt hash; empty for public rooms
}

// IsPrivate reports whether joining the room requires a key.
func (s *RoomSnapshot) IsPrivate() bool {
	return s.KeyHash != ""
}

// IsBanned reports whether userID is on the room's ban list.
func (s *RoomSnapshot) IsBanned(userID string) bool {
	for _, id := range s.BannedUserIDs {
		if id == userID {
			return true
		}
	}
	return false
}
