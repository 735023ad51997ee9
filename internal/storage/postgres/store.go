package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq" // PostgreSQL driver
	"github.com/oklog/ulid/v2"

	"github.com/Vasu1712/scenyx-rooms/internal/models"
	"github.com/Vasu1712/scenyx-rooms/internal/storage"
)

const schema = `
CREATE TABLE IF NOT EXISTS rooms (
	id               TEXT PRIMARY KEY,
	name             TEXT NOT NULL DEFAULT '',
	host_user_id     TEXT NOT NULL DEFAULT '',
	key_hash         TEXT,
	current_track_id TEXT,
	is_active        BOOLEAN NOT NULL DEFAULT TRUE,
	created_at       TIMESTAMPTZ NOT NULL DEFAULT NOW(),
	updated_at       TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE TABLE IF NOT EXISTS room_members (
	room_id TEXT NOT NULL REFERENCES rooms(id) ON DELETE CASCADE,
	user_id TEXT NOT NULL,
	PRIMARY KEY (room_id, user_id)
);

CREATE TABLE IF NOT EXISTS room_bans (
	room_id TEXT NOT NULL REFERENCES rooms(id) ON DELETE CASCADE,
	user_id TEXT NOT NULL,
	PRIMARY KEY (room_id, user_id)
);

CREATE TABLE IF NOT EXISTS tracks (
	id               TEXT PRIMARY KEY,
	title            TEXT NOT NULL,
	duration_seconds DOUBLE PRECISION NOT NULL DEFAULT 0,
	img              TEXT NOT NULL DEFAULT '',
	audio_url        TEXT NOT NULL DEFAULT ''
);

CREATE TABLE IF NOT EXISTS room_playlist (
	room_id  TEXT NOT NULL REFERENCES rooms(id) ON DELETE CASCADE,
	track_id TEXT NOT NULL REFERENCES tracks(id) ON DELETE CASCADE,
	added_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
	PRIMARY KEY (room_id, track_id)
);

CREATE TABLE IF NOT EXISTS messages (
	id             TEXT PRIMARY KEY,
	room_id        TEXT NOT NULL REFERENCES rooms(id) ON DELETE CASCADE,
	sender_user_id TEXT NOT NULL,
	sender_name    TEXT NOT NULL DEFAULT '',
	sender_pic     TEXT NOT NULL DEFAULT '',
	content        TEXT NOT NULL,
	created_at     TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

ALTER TABLE messages ADD COLUMN IF NOT EXISTS sender_name TEXT NOT NULL DEFAULT '';
ALTER TABLE messages ADD COLUMN IF NOT EXISTS sender_pic TEXT NOT NULL DEFAULT '';

CREATE INDEX IF NOT EXISTS messages_room_created_idx ON messages (room_id, created_at, id);
`

// Store implements storage.Repository on PostgreSQL.
type Store struct {
	db *sql.DB
}

// NewStore opens the database, verifies the connection and applies the schema.
func NewStore(ctx context.Context, dataSourceName string) (*Store, error) {
	db, err := sql.Open("postgres", dataSourceName)
	if err != nil {
		return nil, fmt.Errorf("failed to open database connection: %w", err)
	}

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(10)
	db.SetConnMaxLifetime(5 * time.Minute)

	s := &Store{db: db}
	if err := s.Migrate(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// Migrate creates missing tables. It is idempotent.
func (s *Store) Migrate(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}
	return nil
}

// Ping checks the database connection.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// SaveMessage stores a chat message and touches the room in one statement, so
// either both happen or neither does.
func (s *Store) SaveMessage(ctx context.Context, roomID string, sender models.User, content string) (*models.Message, error) {
	msg := &models.Message{
		ID:           ulid.Make().String(),
		RoomID:       roomID,
		SenderUserID: sender.ID,
		Sender:       sender,
		Content:      content,
	}
	// No row comes back when the room is missing or inactive.
	err := s.db.QueryRowContext(ctx, `
		WITH touched AS (
			UPDATE rooms SET updated_at = NOW()
			WHERE id = $2 AND is_active
			RETURNING id
		)
		INSERT INTO messages (id, room_id, sender_user_id, sender_name, sender_pic, content)
		SELECT $1, touched.id, $3, $4, $5, $6 FROM touched
		RETURNING created_at
	`, msg.ID, roomID, sender.ID, sender.Name, sender.ProfilePic, content).Scan(&msg.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, storage.ErrRoomNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("insert message into room %s: %w", roomID, err)
	}
	msg.CreatedAt = msg.CreatedAt.UTC()
	return msg, nil
}

// ListMessages returns a page of a room's messages, oldest first. A limit of
// zero returns every message after offset.
func (s *Store) ListMessages(ctx context.Context, roomID string, limit, offset int) ([]models.Message, error) {
	if err := s.roomExists(ctx, roomID); err != nil {
		return nil, err
	}

	var lim sql.NullInt64
	if limit > 0 {
		lim = sql.NullInt64{Int64: int64(limit), Valid: true}
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, room_id, sender_user_id, sender_name, sender_pic, content, created_at
		FROM messages
		WHERE room_id = $1
		ORDER BY created_at ASC, id ASC
		LIMIT $2 OFFSET $3
	`, roomID, lim, offset)
	if err != nil {
		return nil, fmt.Errorf("query messages for room %s: %w", roomID, err)
	}
	defer rows.Close()

	msgs := []models.Message{}
	for rows.Next() {
		var m models.Message
		if err := rows.Scan(&m.ID, &m.RoomID, &m.SenderUserID, &m.Sender.Name, &m.Sender.ProfilePic, &m.Content, &m.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan message row for room %s: %w", roomID, err)
		}
		m.Sender.ID = m.SenderUserID
		m.CreatedAt = m.CreatedAt.UTC()
		msgs = append(msgs, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate message rows for room %s: %w", roomID, err)
	}
	return msgs, nil
}

// LoadRoomSnapshot reads an active room with its roster, bans and key hash.
func (s *Store) LoadRoomSnapshot(ctx context.Context, roomID string) (*models.RoomSnapshot, error) {
	var (
		snap         models.RoomSnapshot
		keyHash      sql.NullString
		currentTrack sql.NullString
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT r.id, r.name, r.host_user_id, r.key_hash, r.current_track_id,
			ARRAY(SELECT user_id FROM room_members WHERE room_id = r.id ORDER BY user_id),
			ARRAY(SELECT user_id FROM room_bans WHERE room_id = r.id ORDER BY user_id)
		FROM rooms r
		WHERE r.id = $1 AND r.is_active
	`, roomID).Scan(
		&snap.ID, &snap.Name, &snap.HostUserID, &keyHash, &currentTrack,
		pq.Array(&snap.Members), pq.Array(&snap.BannedUserIDs),
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, storage.ErrRoomNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load room %s: %w", roomID, err)
	}
	snap.KeyHash = keyHash.String
	snap.CurrentTrackID = currentTrack.String
	return &snap, nil
}

// MutatePlaylist adds or removes a track in one transaction and returns the
// track summary. Adding a track twice is not an error.
func (s *Store) MutatePlaylist(ctx context.Context, roomID string, action models.PlaylistAction, trackID string) (*models.Track, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin playlist tx: %w", err)
	}
	defer tx.Rollback()

	var exists bool
	if err := tx.QueryRowContext(ctx,
		`SELECT EXISTS (SELECT 1 FROM rooms WHERE id = $1 AND is_active)`, roomID,
	).Scan(&exists); err != nil {
		return nil, fmt.Errorf("check room %s: %w", roomID, err)
	}
	if !exists {
		return nil, storage.ErrRoomNotFound
	}

	track := &models.Track{}
	err = tx.QueryRowContext(ctx, `
		SELECT id, title, duration_seconds, img, audio_url FROM tracks WHERE id = $1
	`, trackID).Scan(&track.ID, &track.Title, &track.DurationSeconds, &track.Img, &track.AudioURL)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, storage.ErrTrackNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load track %s: %w", trackID, err)
	}

	switch action {
	case models.PlaylistAdd:
		_, err = tx.ExecContext(ctx, `
			INSERT INTO room_playlist (room_id, track_id) VALUES ($1, $2)
			ON CONFLICT (room_id, track_id) DO NOTHING
		`, roomID, trackID)
	case models.PlaylistRemove:
		_, err = tx.ExecContext(ctx, `DELETE FROM room_playlist WHERE room_id = $1 AND track_id = $2`, roomID, trackID)
	default:
		return nil, fmt.Errorf("unsupported playlist action %q", action)
	}
	if err != nil {
		return nil, fmt.Errorf("%s track %s in room %s: %w", action, trackID, roomID, err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit playlist tx: %w", err)
	}
	return track, nil
}

// DeleteRoom removes the room; members, bans, playlist and messages cascade.
func (s *Store) DeleteRoom(ctx context.Context, roomID string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM rooms WHERE id = $1`, roomID)
	if err != nil {
		return fmt.Errorf("delete room %s: %w", roomID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("delete room %s: %w", roomID, err)
	}
	if n == 0 {
		return storage.ErrRoomNotFound
	}
	return nil
}

// CreateRoom inserts a room and its host membership. Used for seeding.
func (s *Store) CreateRoom(ctx context.Context, snap models.RoomSnapshot) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin room tx: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO rooms (id, name, host_user_id, key_hash, current_track_id)
		VALUES ($1, $2, $3, NULLIF($4, ''), NULLIF($5, ''))
	`, snap.ID, snap.Name, snap.HostUserID, snap.KeyHash, snap.CurrentTrackID)
	if err != nil {
		return fmt.Errorf("insert room %s: %w", snap.ID, err)
	}
	for _, userID := range snap.Members {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO room_members (room_id, user_id) VALUES ($1, $2) ON CONFLICT DO NOTHING`,
			snap.ID, userID,
		); err != nil {
			return fmt.Errorf("insert member %s: %w", userID, err)
		}
	}
	for _, userID := range snap.BannedUserIDs {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO room_bans (room_id, user_id) VALUES ($1, $2) ON CONFLICT DO NOTHING`,
			snap.ID, userID,
		); err != nil {
			return fmt.Errorf("insert ban %s: %w", userID, err)
		}
	}
	return tx.Commit()
}

// AddTrack inserts or updates a catalog track. Used for seeding.
func (s *Store) AddTrack(ctx context.Context, t models.Track) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO tracks (id, title, duration_seconds, img, audio_url)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (id) DO UPDATE SET title = EXCLUDED.title, duration_seconds = EXCLUDED.duration_seconds,
			img = EXCLUDED.img, audio_url = EXCLUDED.audio_url
	`, t.ID, t.Title, t.DurationSeconds, t.Img, t.AudioURL)
	if err != nil {
		return fmt.Errorf("upsert track %s: %w", t.ID, err)
	}
	return nil
}

func (s *Store) roomExists(ctx context.Context, roomID string) error {
	var exists bool
	if err := s.db.QueryRowContext(ctx,
		`SELECT EXISTS (SELECT 1 FROM rooms WHERE id = $1 AND is_active)`, roomID,
	).Scan(&exists); err != nil {
		return fmt.Errorf("check room %s: %w", roomID, err)
	}
	if !exists {
		return storage.ErrRoomNotFound
	}
	return nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}
