package memory

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/Vasu1712/scenyx-rooms/internal/models"
	"github.com/Vasu1712/scenyx-rooms/internal/storage"
)

func TestCreateRoom(t *testing.T) {
	s := NewStore()
	ctx := context.Background()

	public, err := s.CreateRoom("Music Chat", "host-1", "")
	require.NoError(t, err)
	assert.NotEmpty(t, public.ID)
	assert.False(t, public.IsPrivate())
	assert.Equal(t, []string{"host-1"}, public.Members)

	private, err := s.CreateRoom("Secret", "host-2", "letmein")
	require.NoError(t, err)
	require.True(t, private.IsPrivate())
	assert.NoError(t, bcrypt.CompareHashAndPassword([]byte(private.KeyHash), []byte("letmein")))

	snap, err := s.LoadRoomSnapshot(ctx, private.ID)
	require.NoError(t, err)
	assert.Equal(t, "host-2", snap.HostUserID)
	assert.Equal(t, private.KeyHash, snap.KeyHash)
}

func TestLoadRoomSnapshot(t *testing.T) {
	ctx := context.Background()

	t.Run("unknown room", func(t *testing.T) {
		_, err := NewStore().LoadRoomSnapshot(ctx, "missing")
		assert.ErrorIs(t, err, storage.ErrRoomNotFound)
	})

	t.Run("auto create", func(t *testing.T) {
		s := NewStore(WithAutoCreate(true))
		snap, err := s.LoadRoomSnapshot(ctx, "lobby")
		require.NoError(t, err)
		assert.Equal(t, "lobby", snap.ID)

		_, err = s.SaveMessage(ctx, "lobby", models.User{ID: "u1"}, "hi")
		assert.NoError(t, err)
	})

	t.Run("returned snapshot is a copy", func(t *testing.T) {
		s := NewStore()
		s.PutRoom(models.RoomSnapshot{ID: "r1", BannedUserIDs: []string{"u9"}})
		snap, err := s.LoadRoomSnapshot(ctx, "r1")
		require.NoError(t, err)
		snap.BannedUserIDs[0] = "changed"

		again, err := s.LoadRoomSnapshot(ctx, "r1")
		require.NoError(t, err)
		assert.True(t, again.IsBanned("u9"))
	})
}

func TestMessages(t *testing.T) {
	ctx := context.Background()
	clock := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	s := NewStore(WithClock(func() time.Time { return clock }))
	s.PutRoom(models.RoomSnapshot{ID: "r1"})

	_, err := s.SaveMessage(ctx, "nope", models.User{ID: "u1"}, "hi")
	assert.ErrorIs(t, err, storage.ErrRoomNotFound)

	var ids []string
	for _, content := range []string{"one", "two", "three"} {
		msg, err := s.SaveMessage(ctx, "r1", models.User{ID: "u1", Name: "Una"}, content)
		require.NoError(t, err)
		assert.Len(t, msg.ID, 26)
		assert.Equal(t, clock, msg.CreatedAt)
		ids = append(ids, msg.ID)
	}

	all, err := s.ListMessages(ctx, "r1", 0, 0)
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, "one", all[0].Content)
	assert.Equal(t, models.User{ID: "u1", Name: "Una"}, all[0].Sender)
	assert.Equal(t, "three", all[2].Content)

	page, err := s.ListMessages(ctx, "r1", 1, 1)
	require.NoError(t, err)
	require.Len(t, page, 1)
	assert.Equal(t, ids[1], page[0].ID)

	empty, err := s.ListMessages(ctx, "r1", 10, 5)
	require.NoError(t, err)
	assert.Empty(t, empty)
}

func TestMutatePlaylist(t *testing.T) {
	ctx := context.Background()
	s := NewStore()
	s.PutRoom(models.RoomSnapshot{ID: "r1"})
	track := s.AddTrack(models.Track{Title: "Song", DurationSeconds: 200})

	tests := []struct {
		name    string
		roomID  string
		action  models.PlaylistAction
		trackID string
		want    []string
		wantErr error
	}{
		{name: "add", roomID: "r1", action: models.PlaylistAdd, trackID: track.ID, want: []string{track.ID}},
		{name: "add twice keeps one", roomID: "r1", action: models.PlaylistAdd, trackID: track.ID, want: []string{track.ID}},
		{name: "remove", roomID: "r1", action: models.PlaylistRemove, trackID: track.ID, want: nil},
		{name: "remove absent", roomID: "r1", action: models.PlaylistRemove, trackID: track.ID, want: nil},
		{name: "unknown track", roomID: "r1", action: models.PlaylistAdd, trackID: "ghost", wantErr: storage.ErrTrackNotFound},
		{name: "unknown room", roomID: "r2", action: models.PlaylistAdd, trackID: track.ID, wantErr: storage.ErrRoomNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := s.MutatePlaylist(ctx, tt.roomID, tt.action, tt.trackID)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, "Song", got.Title)
			assert.Equal(t, tt.want, s.Playlist("r1"))
		})
	}
}

func TestDeleteRoom(t *testing.T) {
	ctx := context.Background()
	s := NewStore()
	s.PutRoom(models.RoomSnapshot{ID: "r1"})
	_, err := s.SaveMessage(ctx, "r1", models.User{ID: "u1"}, "hi")
	require.NoError(t, err)

	require.NoError(t, s.DeleteRoom(ctx, "r1"))
	assert.ErrorIs(t, s.DeleteRoom(ctx, "r1"), storage.ErrRoomNotFound)
	_, err = s.ListMessages(ctx, "r1", 0, 0)
	assert.ErrorIs(t, err, storage.ErrRoomNotFound)
}

func TestConcurrentSaves(t *testing.T) {
	ctx := context.Background()
	s := NewStore()
	s.PutRoom(models.RoomSnapshot{ID: "r1"})

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = s.SaveMessage(ctx, "r1", models.User{ID: "u1"}, "msg")
		}()
	}
	wg.Wait()

	all, err := s.ListMessages(ctx, "r1", 0, 0)
	require.NoError(t, err)
	assert.Len(t, all, 50)
}
