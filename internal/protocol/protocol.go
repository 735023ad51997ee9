// Package protocol defines the frames exchanged over a room connection.
//
// Every frame is a JSON envelope {"type": ..., "payload": {...}}. Inbound
// frames decode into one of the Inbound types; outbound events implement
// Event and are encoded with Encode.
package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/Vasu1712/scenyx-rooms/internal/models"
	"github.com/Vasu1712/scenyx-rooms/internal/playback"
)

// Type is the frame discriminator.
type Type string

const (
	TypeChatMessage    Type = "chat_message"
	TypeMusicControl   Type = "music_control"
	TypePlaylistUpdate Type = "playlist_update"
	TypeUserJoined     Type = "user_joined"
	TypeUserLeft       Type = "user_left"
	TypeError          Type = "error"
	TypePing           Type = "ping"
	TypePong           Type = "pong"
)

// Close codes sent when the server ends a connection.
const (
	CloseNormal          = 1000
	CloseGoingAway       = 1001
	ClosePolicyViolation = 1008
	CloseTooLarge        = 1009
	CloseInternal        = 1011
	CloseTokenMissing    = 4001
	CloseTokenInvalid    = 4002
	CloseForbidden       = 4003
	CloseRoomNotFound    = 4004
)

// Frame is the wire envelope.
type Frame struct {
	Type    Type            `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// Inbound is the closed set of frames a client may send.
type Inbound interface {
	inbound()
}

// ChatSend asks the server to persist and fan out a chat message.
type ChatSend struct {
	Content string `json:"content"`
}

// MusicControl asks the server to change the room's playback.
type MusicControl struct {
	Action          string   `json:"action"`
	TrackID         string   `json:"trackId,omitempty"`
	PositionSeconds *float64 `json:"positionSeconds,omitempty"`
}

// Ping asks for a pong carrying the server time.
type Ping struct{}

func (ChatSend) inbound()     {}
func (MusicControl) inbound() {}
func (Ping) inbound()         {}

// Command converts the frame into a reconciler command.
func (m MusicControl) Command() playback.Command {
	return playback.Command{
		Action:   playback.Action(m.Action),
		TrackID:  m.TrackID,
		Position: m.PositionSeconds,
	}
}

// Decode parses a client frame. Failures are *Error values with
// KindProtocol (malformed or unknown frame) or KindValidation (bad payload).
func Decode(data []byte) (Inbound, error) {
	var f Frame
	if err := json.Unmarshal(data, &f); err != nil {
		return nil, &Error{Kind: KindProtocol, Message: "malformed frame", Err: err}
	}

	switch f.Type {
	case TypeChatMessage:
		var p ChatSend
		if err := decodePayload(f, &p); err != nil {
			return nil, err
		}
		p.Content = strings.TrimSpace(p.Content)
		if p.Content == "" {
			return nil, Validation("content is required")
		}
		return p, nil

	case TypeMusicControl:
		var p MusicControl
		if err := decodePayload(f, &p); err != nil {
			return nil, err
		}
		if p.Action == "" {
			return nil, Validation("action is required")
		}
		return p, nil

	case TypePing:
		return Ping{}, nil

	case TypePlaylistUpdate, TypeUserJoined, TypeUserLeft, TypeError, TypePong:
		return nil, &Error{Kind: KindProtocol, Message: fmt.Sprintf("frame type %q is server-only", f.Type)}

	case "":
		return nil, &Error{Kind: KindProtocol, Message: "frame type is required"}
	}

	return nil, &Error{Kind: KindProtocol, Message: fmt.Sprintf("unknown frame type %q", f.Type)}
}

func decodePayload(f Frame, v any) error {
	if len(f.Payload) == 0 || string(f.Payload) == "null" {
		return Validation("payload is required")
	}
	if err := json.Unmarshal(f.Payload, v); err != nil {
		return &Error{Kind: KindProtocol, Message: fmt.Sprintf("malformed %s payload", f.Type), Err: err}
	}
	return nil
}

// Event is a server-to-client frame.
type Event interface {
	EventType() Type
}

// ChatMessageEvent carries a persisted message and its sender.
type ChatMessageEvent struct {
	Message models.Message `json:"message"`
	User    models.User    `json:"user"`
}

// PlaybackEvent is the full playback snapshot after a music_control.
type PlaybackEvent struct {
	Action                   playback.Action `json:"action"`
	ByUserID                 string          `json:"byUserId"`
	State                    playback.State  `json:"state"`
	EffectivePositionSeconds float64         `json:"effectivePositionSeconds"`
	ServerTime               time.Time       `json:"serverTime"`
}

// PlaylistUpdateEvent announces a playlist change.
type PlaylistUpdateEvent struct {
	Action models.PlaylistAction `json:"action"`
	Track  models.Track          `json:"track"`
}

// UserJoinedEvent is sent to every member, the joiner included.
type UserJoinedEvent struct {
	UserID string   `json:"userId"`
	Room   RoomView `json:"room"`
}

// UserLeftEvent is sent to the remaining members.
type UserLeftEvent struct {
	UserID string   `json:"userId"`
	Room   RoomView `json:"room"`
}

// ErrorEvent reports a rejected frame to its sender.
type ErrorEvent struct {
	Kind    ErrorKind `json:"kind"`
	Message string    `json:"message"`
}

// PongEvent answers a ping.
type PongEvent struct {
	ServerTime time.Time `json:"serverTime"`
}

func (ChatMessageEvent) EventType() Type    { return TypeChatMessage }
func (PlaybackEvent) EventType() Type       { return TypeMusicControl }
func (PlaylistUpdateEvent) EventType() Type { return TypePlaylistUpdate }
func (UserJoinedEvent) EventType() Type     { return TypeUserJoined }
func (UserLeftEvent) EventType() Type       { return TypeUserLeft }
func (ErrorEvent) EventType() Type          { return TypeError }
func (PongEvent) EventType() Type           { return TypePong }

// RoomView is the member-derived snapshot attached to membership events.
type RoomView struct {
	RoomID                   string          `json:"roomId"`
	HostUserID               string          `json:"hostUserId,omitempty"`
	Members                  []MemberView    `json:"members"`
	MemberCount              int             `json:"memberCount"`
	Playback                 *playback.State `json:"playback,omitempty"`
	EffectivePositionSeconds *float64        `json:"effectivePositionSeconds,omitempty"`
}

// MemberView groups a user's live connections.
type MemberView struct {
	UserID      string `json:"userId"`
	Connections int    `json:"connections"`
	IsHost      bool   `json:"isHost,omitempty"`
}

// Encode wraps ev in a frame envelope.
func Encode(ev Event) ([]byte, error) {
	payload, err := json.Marshal(ev)
	if err != nil {
		return nil, fmt.Errorf("encode %s payload: %w", ev.EventType(), err)
	}
	return json.Marshal(Frame{Type: ev.EventType(), Payload: payload})
}

// ParseFrame splits an encoded frame for callers that need to inspect it.
func ParseFrame(data []byte, payload any) (Type, error) {
	var f Frame
	if err := json.Unmarshal(data, &f); err != nil {
		return "", err
	}
	if payload != nil && len(f.Payload) > 0 {
		if err := json.Unmarshal(f.Payload, payload); err != nil {
			return f.Type, err
		}
	}
	return f.Type, nil
}

// ErrorKind classifies a rejected command.
type ErrorKind string

const (
	KindProtocol     ErrorKind = "protocol"
	KindValidation   ErrorKind = "validation"
	KindCollaborator ErrorKind = "collaborator"
	KindFatal        ErrorKind = "fatal"
)

// Error is a command failure with a client-safe message.
type Error struct {
	Kind    ErrorKind
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

// Event returns the frame reported to the client. The wrapped cause is never sent.
func (e *Error) Event() ErrorEvent {
	return ErrorEvent{Kind: e.Kind, Message: e.Message}
}

// Validation reports a command that was well formed but not allowed.
func Validation(msg string) *Error {
	return &Error{Kind: KindValidation, Message: msg}
}

// Collaborator wraps a backend failure behind a generic message.
func Collaborator(msg string, err error) *Error {
	return &Error{Kind: KindCollaborator, Message: msg, Err: err}
}

// AsError classifies err, treating anything unknown as fatal.
func AsError(err error) *Error {
	var pe *Error
	if errors.As(err, &pe) {
		return pe
	}
	return &Error{Kind: KindFatal, Message: "internal error", Err: err}
}
