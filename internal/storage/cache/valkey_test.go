package cache

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Vasu1712/scenyx-rooms/internal/playback"
)

func TestKey(t *testing.T) {
	assert.Equal(t, "room:abc:playback", Key("abc"))
}

func TestTTLSeconds(t *testing.T) {
	assert.Equal(t, int64(86400), ttlSeconds(24*time.Hour))
	assert.Equal(t, int64(1), ttlSeconds(10*time.Millisecond))
}

func TestValkeyCheckpoints(t *testing.T) {
	url := os.Getenv("VALKEY_URL")
	if url == "" {
		t.Skip("VALKEY_URL not set")
	}
	ctx := context.Background()
	c, err := NewValkeyCheckpoints(ctx, url, time.Minute)
	require.NoError(t, err)
	defer c.Close()

	roomID := uuid.NewString()
	missing, err := c.LoadCheckpoint(ctx, roomID)
	require.NoError(t, err)
	assert.Nil(t, missing)

	st := playback.State{
		CurrentTrackID:    "t1",
		BaseOffsetSeconds: 42.5,
		IsPlaying:         true,
		LastChangeAt:      time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC),
	}
	require.NoError(t, c.SaveCheckpoint(ctx, roomID, st))

	got, err := c.LoadCheckpoint(ctx, roomID)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, st.CurrentTrackID, got.CurrentTrackID)
	assert.Equal(t, st.BaseOffsetSeconds, got.BaseOffsetSeconds)
	assert.True(t, got.LastChangeAt.Equal(st.LastChangeAt))

	require.NoError(t, c.DeleteCheckpoint(ctx, roomID))
	gone, err := c.LoadCheckpoint(ctx, roomID)
	require.NoError(t, err)
	assert.Nil(t, gone)
}
