package models

import "time"

// Message is a chat message persisted for a room. Sender is the summary the
// user had when the message was posted.
type Message struct {
	ID           string    `json:"id"` // ULID, sortable by insertion
	RoomID       string    `json:"roomId"`
	SenderUserID string    `json:"senderUserId"`
	Sender       User      `json:"sender"`
	Content      string    `json:"content"`
	CreatedAt    time.Time `json:"createdAt"`
}

// User is the public summary of an authenticated user.
type User struct {
	ID         string `json:"id"`
	Name       string `json:"name,omitempty"`
	ProfilePic string `json:"profilePic,omitempty"`
}
