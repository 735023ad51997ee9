// Package cache keeps the last playback checkpoint of rooms that were evicted
// from memory, so a room recreated shortly after keeps its position.
package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/valkey-io/valkey-go"

	"github.com/Vasu1712/scenyx-rooms/internal/playback"
)

// Key returns the cache key holding a room's checkpoint.
func Key(roomID string) string {
	return "room:" + roomID + ":playback"
}

// ValkeyCheckpoints stores playback checkpoints as JSON strings with a TTL.
type ValkeyCheckpoints struct {
	client valkey.Client
	ttl    time.Duration
}

// NewValkeyCheckpoints connects to url (redis:// or valkey:// form) and pings it.
func NewValkeyCheckpoints(ctx context.Context, url string, ttl time.Duration) (*ValkeyCheckpoints, error) {
	opt, err := valkey.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse valkey url: %w", err)
	}
	client, err := valkey.NewClient(opt)
	if err != nil {
		return nil, fmt.Errorf("connect to valkey: %w", err)
	}
	if err := client.Do(ctx, client.B().Ping().Build()).Error(); err != nil {
		client.Close()
		return nil, fmt.Errorf("ping valkey: %w", err)
	}
	return &ValkeyCheckpoints{client: client, ttl: ttl}, nil
}

// SaveCheckpoint stores st for roomID, replacing any earlier checkpoint, and
// lets it expire after the configured TTL.
func (c *ValkeyCheckpoints) SaveCheckpoint(ctx context.Context, roomID string, st playback.State) error {
	data, err := json.Marshal(st)
	if err != nil {
		return fmt.Errorf("encode checkpoint: %w", err)
	}
	cmd := c.client.B().Set().Key(Key(roomID)).Value(string(data)).ExSeconds(ttlSeconds(c.ttl)).Build()
	if err := c.client.Do(ctx, cmd).Error(); err != nil {
		return fmt.Errorf("save checkpoint for room %s: %w", roomID, err)
	}
	return nil
}

// LoadCheckpoint returns nil, nil when no checkpoint is cached.
func (c *ValkeyCheckpoints) LoadCheckpoint(ctx context.Context, roomID string) (*playback.State, error) {
	raw, err := c.client.Do(ctx, c.client.B().Get().Key(Key(roomID)).Build()).ToString()
	if valkey.IsValkeyNil(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load checkpoint for room %s: %w", roomID, err)
	}
	var st playback.State
	if err := json.Unmarshal([]byte(raw), &st); err != nil {
		return nil, fmt.Errorf("decode checkpoint for room %s: %w", roomID, err)
	}
	return &st, nil
}

// DeleteCheckpoint drops a room's checkpoint. Used when a room is deleted.
func (c *ValkeyCheckpoints) DeleteCheckpoint(ctx context.Context, roomID string) error {
	if err := c.client.Do(ctx, c.client.B().Del().Key(Key(roomID)).Build()).Error(); err != nil {
		return fmt.Errorf("delete checkpoint for room %s: %w", roomID, err)
	}
	return nil
}

// Close releases the client connections.
func (c *ValkeyCheckpoints) Close() error {
	c.client.Close()
	return nil
}

func ttlSeconds(d time.Duration) int64 {
	s := int64(d / time.Second)
	if s < 1 {
		return 1
	}
	return s
}
