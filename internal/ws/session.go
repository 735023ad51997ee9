package ws

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/Vasu1712/scenyx-rooms/internal/auth"
	"github.com/Vasu1712/scenyx-rooms/internal/metrics"
	"github.com/Vasu1712/scenyx-rooms/internal/models"
	"github.com/Vasu1712/scenyx-rooms/internal/playback"
	"github.com/Vasu1712/scenyx-rooms/internal/protocol"
	"github.com/Vasu1712/scenyx-rooms/internal/storage"
)

// SessionState is a step of a connection's lifecycle.
type SessionState int

const (
	StateConnecting SessionState = iota
	StateAuthenticating
	StateJoining
	StateActive
	StateClosing
	StateClosed
)

var sessionStateNames = [...]string{"connecting", "authenticating", "joining", "active", "closing", "closed"}

func (s SessionState) String() string {
	if int(s) < len(sessionStateNames) {
		return sessionStateNames[s]
	}
	return fmt.Sprintf("SessionState(%d)", int(s))
}

var sessionTransitions = map[SessionState][]SessionState{
	StateConnecting:     {StateAuthenticating},
	StateAuthenticating: {StateJoining, StateClosing},
	StateJoining:        {StateActive, StateClosing},
	StateActive:         {StateClosing},
	StateClosing:        {StateClosed},
}

// CanTransition reports whether from -> to is a legal lifecycle step.
func CanTransition(from, to SessionState) bool {
	for _, next := range sessionTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

var ErrInvalidTransition = errors.New("invalid session transition")

// Session tracks the lifecycle of one connection. It is owned by the
// goroutine serving the connection.
type Session struct {
	state SessionState
	log   zerolog.Logger
}

// State returns the current lifecycle step.
func (s *Session) State() SessionState { return s.state }

func (s *Session) advance(to SessionState) error {
	if !CanTransition(s.state, to) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, s.state, to)
	}
	s.log.Debug().Stringer("from", s.state).Stringer("to", to).Msg("session transition")
	s.state = to
	return nil
}

// step advances the session and logs a transition the lifecycle forbids. The
// state is left unchanged in that case.
func (s *Session) step(to SessionState) {
	if err := s.advance(to); err != nil {
		s.log.Error().Err(err).Msg("session lifecycle")
	}
}

// Authenticator resolves a connect token to a user.
type Authenticator interface {
	Verify(ctx context.Context, token string) (models.User, error)
}

// Store is the part of the persistence collaborator the room core calls.
type Store interface {
	SaveMessage(ctx context.Context, roomID string, sender models.User, content string) (*models.Message, error)
	LoadRoomSnapshot(ctx context.Context, roomID string) (*models.RoomSnapshot, error)
}

// CheckpointStore keeps the playback state of evicted rooms.
type CheckpointStore interface {
	SaveCheckpoint(ctx context.Context, roomID string, st playback.State) error
	LoadCheckpoint(ctx context.Context, roomID string) (*playback.State, error)
}

// Config tunes connection handling.
type Config struct {
	MaxFrameBytes       int64
	SendBuffer          int
	IdleTimeout         time.Duration
	WriteWait           time.Duration
	PongWait            time.Duration
	PingPeriod          time.Duration
	CollaboratorTimeout time.Duration
	AllowedOrigins      []string // empty or "*" accepts any origin
}

func (c Config) withDefaults() Config {
	if c.MaxFrameBytes <= 0 {
		c.MaxFrameBytes = 8192
	}
	if c.SendBuffer <= 0 {
		c.SendBuffer = 256
	}
	if c.IdleTimeout <= 0 {
		c.IdleTimeout = 5 * time.Minute
	}
	if c.WriteWait <= 0 {
		c.WriteWait = 10 * time.Second
	}
	if c.PongWait <= 0 {
		c.PongWait = 60 * time.Second
	}
	if c.PingPeriod <= 0 {
		c.PingPeriod = (c.PongWait * 9) / 10
	}
	if c.CollaboratorTimeout <= 0 {
		c.CollaboratorTimeout = 5 * time.Second
	}
	return c
}

const maxJoinAttempts = 3

// Server accepts room connections and runs each through its lifecycle.
type Server struct {
	hub         *Hub
	store       Store
	auth        Authenticator
	checkpoints CheckpointStore

	cfg      Config
	upgrader websocket.Upgrader
	log      zerolog.Logger

	wg      sync.WaitGroup
	closing atomic.Bool
}

type ServerOption func(*Server)

// WithCheckpoints enables saving and restoring playback across evictions.
func WithCheckpoints(cs CheckpointStore) ServerOption {
	return func(s *Server) { s.checkpoints = cs }
}

// NewServer returns a server that registers connections in hub. Zero values
// in cfg take the defaults.
func NewServer(hub *Hub, store Store, authn Authenticator, cfg Config, logger zerolog.Logger, opts ...ServerOption) *Server {
	s := &Server{
		hub:   hub,
		store: store,
		auth:  authn,
		cfg:   cfg.withDefaults(),
		log:   logger.With().Str("component", "ws").Logger(),
	}
	s.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     s.checkOrigin,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Server) now() time.Time { return s.hub.Now() }

func (s *Server) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" || len(s.cfg.AllowedOrigins) == 0 {
		return true
	}
	for _, allowed := range s.cfg.AllowedOrigins {
		if allowed == "*" || allowed == origin {
			return true
		}
	}
	return false
}

// ServeWS handles /rooms/{roomId}. The request goroutine becomes the
// connection's read loop and returns once the session is Closed.
func (s *Server) ServeWS(w http.ResponseWriter, r *http.Request) {
	roomID := mux.Vars(r)["roomId"]
	if roomID == "" {
		http.Error(w, "room id is required", http.StatusBadRequest)
		return
	}
	token := auth.TokenFromRequest(r)
	key := r.URL.Query().Get("key")

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// the upgrader has already replied with an HTTP error
		s.log.Debug().Err(err).Str("room_id", roomID).Msg("upgrade failed")
		metrics.Handshakes.WithLabelValues("upgrade_failed").Inc()
		return
	}

	s.wg.Add(1)
	defer s.wg.Done()

	c := newClient(s, conn, roomID)
	sess := &Session{state: StateConnecting, log: c.log}
	ctx := r.Context()

	if s.closing.Load() {
		sess.step(StateAuthenticating)
		s.refuse(sess, c, protocol.CloseGoingAway, "server shutting down", "shutdown")
		return
	}

	sess.step(StateAuthenticating)
	user, err := s.authenticate(ctx, token)
	if err != nil {
		code, reason, outcome := protocol.CloseTokenInvalid, "token invalid", "token_invalid"
		if errors.Is(err, auth.ErrMissingToken) {
			code, reason, outcome = protocol.CloseTokenMissing, "token missing", "token_missing"
		}
		c.log.Info().Err(err).Msg("authentication failed")
		s.refuse(sess, c, code, reason, outcome)
		return
	}
	c.user = user
	c.log = c.log.With().Str("user_id", user.ID).Logger()
	sess.log = c.log

	sess.step(StateJoining)
	room, err := s.join(ctx, c, roomID, key)
	if err != nil {
		code, outcome, reason := protocol.CloseInternal, "error", "internal error"
		switch {
		case errors.Is(err, storage.ErrRoomNotFound):
			code, outcome, reason = protocol.CloseRoomNotFound, "not_found", "room not found"
		case errors.Is(err, ErrBanned), errors.Is(err, ErrBadRoomKey):
			code, outcome, reason = protocol.CloseForbidden, "forbidden", err.Error()
		default:
			c.log.Error().Err(err).Msg("join failed")
		}
		s.refuse(sess, c, code, reason, outcome)
		return
	}
	c.room = room

	sess.step(StateActive)
	metrics.Handshakes.WithLabelValues("joined").Inc()
	metrics.ActiveConnections.Inc()
	if s.closing.Load() {
		c.Close(protocol.CloseGoingAway, "server shutting down")
	}

	go c.writePump()
	c.readPump(ctx)

	sess.step(StateClosing)
	s.leave(c, room)
	sess.step(StateClosed)
}

func (s *Server) authenticate(ctx context.Context, token string) (models.User, error) {
	if token == "" {
		return models.User{}, auth.ErrMissingToken
	}
	ctx, cancel := context.WithTimeout(ctx, s.cfg.CollaboratorTimeout)
	defer cancel()
	return s.auth.Verify(ctx, token)
}

// join finds or recreates the room and registers c. Collaborator calls and
// the key check run before any lock is taken. A room evicted between lookup
// and registration is retried.
func (s *Server) join(ctx context.Context, c *Client, roomID, key string) (*Room, error) {
	for attempt := 0; attempt < maxJoinAttempts; attempt++ {
		room, ok := s.hub.Get(roomID)
		if !ok {
			seed, err := s.loadSeed(ctx, roomID)
			if err != nil {
				return nil, err
			}
			room, _ = s.hub.GetOrCreate(roomID, seed)
		}

		if err := room.Admit(c.user.ID, key); err != nil {
			return nil, err
		}
		err := room.join(c, s.now())
		if errors.Is(err, ErrRoomClosed) {
			continue
		}
		if err != nil {
			return nil, err
		}
		return room, nil
	}
	return nil, ErrRoomClosed
}

// loadSeed reads the room snapshot and, when cached, the playback checkpoint
// left by the room's previous life.
func (s *Server) loadSeed(ctx context.Context, roomID string) (Seed, error) {
	ctx, cancel := context.WithTimeout(ctx, s.cfg.CollaboratorTimeout)
	defer cancel()

	snap, err := s.store.LoadRoomSnapshot(ctx, roomID)
	if err != nil {
		return Seed{}, fmt.Errorf("load room %s: %w", roomID, err)
	}
	seed := Seed{Snapshot: *snap, Playback: playback.Initial(snap.CurrentTrackID, s.now())}

	if s.checkpoints == nil {
		return seed, nil
	}
	cp, err := s.checkpoints.LoadCheckpoint(ctx, roomID)
	if err != nil {
		s.log.Warn().Err(err).Str("room_id", roomID).Msg("load checkpoint")
		return seed, nil
	}
	if cp != nil && (snap.CurrentTrackID == "" || cp.CurrentTrackID == snap.CurrentTrackID) {
		seed.Playback = *cp
	}
	return seed, nil
}

// leave removes c from its room and evicts the room when it was the last
// member.
func (s *Server) leave(c *Client, room *Room) {
	remaining, removed := room.leave(c, s.now())
	if removed {
		metrics.ActiveConnections.Dec()
	}
	if remaining > 0 {
		return
	}
	if s.hub.RemoveIfEmpty(room) {
		s.saveCheckpoint(room)
	}
}

// saveCheckpoint stores the evicted room's playback, paused at the moment the
// room emptied.
func (s *Server) saveCheckpoint(room *Room) {
	if s.checkpoints == nil {
		return
	}
	st := room.Playback()
	if !st.HasTrack() {
		return
	}
	if st.IsPlaying {
		st, _, _ = playback.Apply(st, playback.Command{Action: playback.Pause}, s.now())
	}

	ctx, cancel := context.WithTimeout(context.Background(), s.cfg.CollaboratorTimeout)
	defer cancel()
	if err := s.checkpoints.SaveCheckpoint(ctx, room.ID(), st); err != nil {
		s.log.Warn().Err(err).Str("room_id", room.ID()).Msg("save checkpoint")
	}
}

// refuse ends a session that never became Active.
func (s *Server) refuse(sess *Session, c *Client, code int, reason, outcome string) {
	metrics.Handshakes.WithLabelValues(outcome).Inc()
	sess.step(StateClosing)

	msg := websocket.FormatCloseMessage(code, reason)
	if err := c.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(s.cfg.WriteWait)); err != nil {
		c.log.Debug().Err(err).Msg("write close frame")
	}
	c.conn.Close()
	sess.step(StateClosed)
}

// Shutdown closes every live connection with 1001 and waits for their
// sessions to finish or ctx to expire.
func (s *Server) Shutdown(ctx context.Context) error {
	s.closing.Store(true)
	n := s.hub.CloseAll(protocol.CloseGoingAway, "server shutting down")
	s.log.Info().Int("connections", n).Msg("closing connections")

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
