package models

// Track is the summary of a playable song.
type Track struct {
	ID              string  `json:"id"`
	Title           string  `json:"title,omitempty"`
	DurationSeconds float64 `json:"durationSeconds,omitempty"`
	Img             string  `json:"img,omitempty"`
	AudioURL        string  `json:"audioUrl,omitempty"`
}

// PlaylistAction is a room playlist mutation.
type PlaylistAction string

const (
	PlaylistAdd    PlaylistAction = "add"
	PlaylistRemove PlaylistAction = "remove"
)

// Valid reports whether a is add or remove.
func (a PlaylistAction) Valid() bool {
	return a == PlaylistAdd || a == PlaylistRemove
}
