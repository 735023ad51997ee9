// Package storage defines the persistence collaborator used by the room core.
package storage

import (
	"context"
	"errors"

	"github.com/Vasu1712/scenyx-rooms/internal/models"
)

var (
	ErrRoomNotFound  = errors.New("room not found")
	ErrTrackNotFound = errors.New("track not found")
)

// Repository is implemented by the memory and postgres stores.
type Repository interface {
	SaveMessage(ctx context.Context, roomID string, sender models.User, content string) (*models.Message, error)
	ListMessages(ctx context.Context, roomID string, limit, offset int) ([]models.Message, error)
	LoadRoomSnapshot(ctx context.Context, roomID string) (*models.RoomSnapshot, error)
	MutatePlaylist(ctx context.Context, roomID string, action models.PlaylistAction, trackID string) (*models.Track, error)
	DeleteRoom(ctx context.Context, roomID string) error
	Close() error
}
