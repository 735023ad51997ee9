package ws

import (
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/crypto/bcrypt"

	"github.com/Vasu1712/scenyx-rooms/internal/metrics"
	"github.com/Vasu1712/scenyx-rooms/internal/models"
	"github.com/Vasu1712/scenyx-rooms/internal/playback"
	"github.com/Vasu1712/scenyx-rooms/internal/protocol"
)

var (
	// ErrRoomClosed is returned for operations on a room that was evicted
	// or deleted. Joiners retry against a fresh room.
	ErrRoomClosed = errors.New("room closed")
	ErrBanned     = errors.New("user is banned from this room")
	ErrBadRoomKey = errors.New("room key required")
)

// Member is a connection registered in a room.
//
// Enqueue and Close are called while the room lock is held and must not block.
type Member interface {
	ID() string
	UserID() string
	// Enqueue queues an encoded frame. false means the queue is full.
	Enqueue(data []byte) bool
	Close(code int, reason string)
}

// Seed is what a room is (re)created from.
type Seed struct {
	Snapshot models.RoomSnapshot
	Playback playback.State
}

// Room is one live room: its members and its playback state. Every membership
// and playback mutation happens under mu, and so does every fan-out, which
// keeps deliveries in the order the mutations were applied.
type Room struct {
	id       string
	snapshot models.RoomSnapshot // immutable after creation

	mu       sync.Mutex
	members  map[string]Member // connection id -> member
	playback playback.State
	evicted  bool

	log zerolog.Logger
}

func newRoom(seed Seed, logger zerolog.Logger) *Room {
	return &Room{
		id:       seed.Snapshot.ID,
		snapshot: seed.Snapshot,
		members:  make(map[string]Member),
		playback: seed.Playback,
		log:      logger.With().Str("room_id", seed.Snapshot.ID).Logger(),
	}
}

// ID returns the room id.
func (r *Room) ID() string { return r.id }

// HostUserID returns the host from the snapshot the room was created with.
func (r *Room) HostUserID() string { return r.snapshot.HostUserID }

// Admit checks the room's access rules for userID. It takes no lock and may
// be slow (bcrypt), so call it before join.
func (r *Room) Admit(userID, key string) error {
	return CheckAccess(&r.snapshot, userID, key)
}

// CheckAccess applies a room's access rules: banned users are refused, and a
// private room needs its key unless userID is the host. The HTTP routes use
// the same rules as a websocket join.
func CheckAccess(snap *models.RoomSnapshot, userID, key string) error {
	if snap.IsBanned(userID) {
		return ErrBanned
	}
	if !snap.IsPrivate() || userID == snap.HostUserID {
		return nil
	}
	if key == "" {
		return ErrBadRoomKey
	}
	if err := bcrypt.CompareHashAndPassword([]byte(snap.KeyHash), []byte(key)); err != nil {
		return ErrBadRoomKey
	}
	return nil
}

// join registers m and announces it to every member, m included.
func (r *Room) join(m Member, now time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.evicted {
		return ErrRoomClosed
	}
	r.members[m.ID()] = m
	r.broadcastLocked(protocol.UserJoinedEvent{UserID: m.UserID(), Room: r.viewLocked(now)})

	r.log.Info().
		Str("conn_id", m.ID()).
		Str("user_id", m.UserID()).
		Int("connections", len(r.members)).
		Msg("member joined")
	return nil
}

// leave unregisters m. user_left goes to the remaining members only.
func (r *Room) leave(m Member, now time.Time) (remaining int, removed bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.members[m.ID()]; !ok {
		return len(r.members), false
	}
	delete(r.members, m.ID())
	remaining = len(r.members)
	if remaining > 0 && !r.evicted {
		r.broadcastLocked(protocol.UserLeftEvent{UserID: m.UserID(), Room: r.viewLocked(now)})
	}

	r.log.Info().
		Str("conn_id", m.ID()).
		Str("user_id", m.UserID()).
		Int("connections", remaining).
		Msg("member left")
	return remaining, true
}

// Control applies a playback command. When it changes the state, the new
// snapshot is broadcast before the lock is released. The returned event
// describes the resulting state either way.
func (r *Room) Control(userID string, cmd playback.Command, now time.Time) (protocol.PlaybackEvent, bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.evicted {
		return protocol.PlaybackEvent{}, false, ErrRoomClosed
	}
	next, changed, err := playback.Apply(r.playback, cmd, now)
	if err != nil {
		return protocol.PlaybackEvent{}, false, err
	}
	r.playback = next

	ev := protocol.PlaybackEvent{
		Action:                   cmd.Action,
		ByUserID:                 userID,
		State:                    next,
		EffectivePositionSeconds: next.EffectivePosition(now),
		ServerTime:               now,
	}
	if changed {
		r.broadcastLocked(ev)
	}
	return ev, changed, nil
}

// Publish delivers ev to the members registered at call time. It is a no-op
// on an evicted room.
func (r *Room) Publish(ev protocol.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.evicted {
		return
	}
	r.broadcastLocked(ev)
}

// View returns the member-derived snapshot of the room at now.
func (r *Room) View(now time.Time) protocol.RoomView {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.viewLocked(now)
}

// Playback returns a copy of the current playback checkpoint.
func (r *Room) Playback() playback.State {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.playback
}

// Len returns the number of registered connections.
func (r *Room) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.members)
}

// KickUser closes every connection of userID. Membership shrinks as each
// session runs its leave.
func (r *Room) KickUser(userID string, code int, reason string) int {
	r.mu.Lock()
	defer r.mu.Unlock()

	n := 0
	for _, m := range r.members {
		if m.UserID() == userID {
			m.Close(code, reason)
			n++
		}
	}
	return n
}

// closeAll marks the room evicted when evict is set and closes every member.
func (r *Room) closeAll(code int, reason string, evict bool) int {
	r.mu.Lock()
	defer r.mu.Unlock()

	if evict {
		r.evicted = true
	}
	for _, m := range r.members {
		m.Close(code, reason)
	}
	return len(r.members)
}

// evictIfEmpty marks an empty room evicted.
func (r *Room) evictIfEmpty() bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if len(r.members) > 0 || r.evicted {
		return false
	}
	r.evicted = true
	return true
}

func (r *Room) broadcastLocked(ev protocol.Event) {
	data, err := protocol.Encode(ev)
	if err != nil {
		r.log.Error().Err(err).Str("type", string(ev.EventType())).Msg("encode event")
		return
	}
	metrics.EventsBroadcast.WithLabelValues(string(ev.EventType())).Inc()

	for _, m := range r.members {
		if !m.Enqueue(data) {
			metrics.SlowConsumerDrops.Inc()
			r.log.Warn().
				Str("conn_id", m.ID()).
				Str("user_id", m.UserID()).
				Msg("outbound queue full, dropping connection")
			m.Close(protocol.ClosePolicyViolation, "slow consumer")
		}
	}
}

func (r *Room) viewLocked(now time.Time) protocol.RoomView {
	counts := make(map[string]int, len(r.members))
	for _, m := range r.members {
		counts[m.UserID()]++
	}
	members := make([]protocol.MemberView, 0, len(counts))
	for userID, n := range counts {
		members = append(members, protocol.MemberView{
			UserID:      userID,
			Connections: n,
			IsHost:      userID != "" && userID == r.snapshot.HostUserID,
		})
	}
	sort.Slice(members, func(i, j int) bool { return members[i].UserID < members[j].UserID })

	view := protocol.RoomView{
		RoomID:      r.id,
		HostUserID:  r.snapshot.HostUserID,
		Members:     members,
		MemberCount: len(r.members),
	}
	if r.playback.HasTrack() {
		st := r.playback
		pos := st.EffectivePosition(now)
		view.Playback = &st
		view.EffectivePositionSeconds = &pos
	}
	return view
}
