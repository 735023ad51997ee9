package memory

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/oklog/ulid/v2"
	"golang.org/x/crypto/bcrypt"

	"github.com/Vasu1712/scenyx-rooms/internal/models"
	"github.com/Vasu1712/scenyx-rooms/internal/storage"
)

// Store keeps rooms, tracks and messages in process memory.
type Store struct {
	mu         sync.RWMutex
	rooms      map[string]*roomRecord      // roomID -> room
	tracks     map[string]models.Track     // trackID -> track
	messages   map[string][]models.Message // roomID -> messages, oldest first
	autoCreate bool                        // unknown rooms are created on first load
	now        func() time.Time
}

type roomRecord struct {
	snapshot models.RoomSnapshot
	playlist []string // track ids in insertion order
}

type Option func(*Store)

// WithAutoCreate makes LoadRoomSnapshot create rooms it has never seen.
func WithAutoCreate(enabled bool) Option {
	return func(s *Store) { s.autoCreate = enabled }
}

// WithClock sets the clock used for message timestamps.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// NewStore returns an empty store. Rooms come from CreateRoom or PutRoom
// unless auto-create is on.
func NewStore(opts ...Option) *Store {
	s := &Store{
		rooms:    make(map[string]*roomRecord),
		tracks:   make(map[string]models.Track),
		messages: make(map[string][]models.Message),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// CreateRoom registers a room hosted by hostUserID. A non-empty key makes it private.
func (s *Store) CreateRoom(name, hostUserID, key string) (*models.RoomSnapshot, error) {
	snap := models.RoomSnapshot{
		ID:         uuid.NewString(),
		Name:       name,
		HostUserID: hostUserID,
	}
	if hostUserID != "" {
		snap.Members = []string{hostUserID}
	}
	if key != "" {
		hash, err := bcrypt.GenerateFromPassword([]byte(key), bcrypt.DefaultCost)
		if err != nil {
			return nil, fmt.Errorf("hash room key: %w", err)
		}
		snap.KeyHash = string(hash)
	}
	s.PutRoom(snap)
	return &snap, nil
}

// PutRoom stores snap as is, replacing any room with the same id.
func (s *Store) PutRoom(snap models.RoomSnapshot) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rooms[snap.ID] = &roomRecord{snapshot: snap}
}

// AddTrack adds a track to the catalog, assigning an id when missing.
func (s *Store) AddTrack(t models.Track) models.Track {
	if t.ID == "" {
		t.ID = uuid.NewString()
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tracks[t.ID] = t
	return t
}

// Ban adds userID to the room's ban list.
func (s *Store) Ban(roomID, userID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	room, ok := s.rooms[roomID]
	if !ok {
		return storage.ErrRoomNotFound
	}
	if !room.snapshot.IsBanned(userID) {
		room.snapshot.BannedUserIDs = append(room.snapshot.BannedUserIDs, userID)
	}
	return nil
}

// Playlist returns the room's track ids.
func (s *Store) Playlist(roomID string) []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	room, ok := s.rooms[roomID]
	if !ok {
		return nil
	}
	return append([]string(nil), room.playlist...)
}

// SaveMessage appends a message to the room's history.
func (s *Store) SaveMessage(ctx context.Context, roomID string, sender models.User, content string) (*models.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.rooms[roomID]; !ok {
		return nil, storage.ErrRoomNotFound
	}
	msg := models.Message{
		ID:           ulid.Make().String(),
		RoomID:       roomID,
		SenderUserID: sender.ID,
		Sender:       sender,
		Content:      content,
		CreatedAt:    s.now().UTC(),
	}
	s.messages[roomID] = append(s.messages[roomID], msg)
	return &msg, nil
}

// ListMessages returns a page of the room's history, oldest first.
func (s *Store) ListMessages(ctx context.Context, roomID string, limit, offset int) ([]models.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if _, ok := s.rooms[roomID]; !ok {
		return nil, storage.ErrRoomNotFound
	}
	msgs := s.messages[roomID]
	if offset >= len(msgs) {
		return []models.Message{}, nil
	}
	end := len(msgs)
	if limit > 0 && offset+limit < end {
		end = offset + limit
	}
	return append([]models.Message(nil), msgs[offset:end]...), nil
}

// LoadRoomSnapshot returns a copy of the room's snapshot.
func (s *Store) LoadRoomSnapshot(ctx context.Context, roomID string) (*models.RoomSnapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	room, ok := s.rooms[roomID]
	if !ok {
		if !s.autoCreate {
			return nil, storage.ErrRoomNotFound
		}
		room = &roomRecord{snapshot: models.RoomSnapshot{ID: roomID, Name: roomID}}
		s.rooms[roomID] = room
	}

	snap := room.snapshot
	snap.Members = append([]string(nil), snap.Members...)
	snap.BannedUserIDs = append([]string(nil), snap.BannedUserIDs...)
	return &snap, nil
}

// MutatePlaylist adds or removes a track and returns its summary.
func (s *Store) MutatePlaylist(ctx context.Context, roomID string, action models.PlaylistAction, trackID string) (*models.Track, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	room, ok := s.rooms[roomID]
	if !ok {
		return nil, storage.ErrRoomNotFound
	}
	track, ok := s.tracks[trackID]
	if !ok {
		return nil, storage.ErrTrackNotFound
	}

	idx := -1
	for i, id := range room.playlist {
		if id == trackID {
			idx = i
			break
		}
	}

	switch action {
	case models.PlaylistAdd:
		if idx < 0 {
			room.playlist = append(room.playlist, trackID)
		}
	case models.PlaylistRemove:
		if idx >= 0 {
			room.playlist = append(room.playlist[:idx], room.playlist[idx+1:]...)
		}
	default:
		return nil, fmt.Errorf("unsupported playlist action %q", action)
	}
	return &track, nil
}

// DeleteRoom drops the room together with its messages.
func (s *Store) DeleteRoom(ctx context.Context, roomID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.rooms[roomID]; !ok {
		return storage.ErrRoomNotFound
	}
	delete(s.rooms, roomID)
	delete(s.messages, roomID)
	return nil
}

func (s *Store) Close() error { return nil }
