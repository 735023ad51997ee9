package ws

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/Vasu1712/scenyx-rooms/internal/metrics"
	"github.com/Vasu1712/scenyx-rooms/internal/models"
	"github.com/Vasu1712/scenyx-rooms/internal/protocol"
)

// Client owns one websocket connection. Its read loop runs on the session
// goroutine; writes happen only in writePump.
type Client struct {
	id   string
	user models.User
	room *Room // set once the session is Active

	srv  *Server
	conn *websocket.Conn
	send chan []byte

	done        chan struct{}
	closeOnce   sync.Once
	closeCode   int
	closeReason string

	lastRead atomic.Int64 // unix nanos of the last inbound frame

	log zerolog.Logger
}

func newClient(srv *Server, conn *websocket.Conn, roomID string) *Client {
	c := &Client{
		id:   uuid.NewString(),
		srv:  srv,
		conn: conn,
		send: make(chan []byte, srv.cfg.SendBuffer),
		done: make(chan struct{}),
	}
	c.log = srv.log.With().Str("conn_id", c.id).Str("room_id", roomID).Logger()
	c.touch()
	return c
}

func (c *Client) ID() string     { return c.id }
func (c *Client) UserID() string { return c.user.ID }

// Enqueue never blocks. Frames queued after Close are discarded.
func (c *Client) Enqueue(data []byte) bool {
	select {
	case <-c.done:
		return true
	default:
	}
	select {
	case c.send <- data:
		return true
	default:
		return false
	}
}

// Close asks writePump to send a close frame with code and stop. Only the
// first call counts.
func (c *Client) Close(code int, reason string) {
	c.closeOnce.Do(func() {
		c.closeCode = code
		c.closeReason = reason
		close(c.done)
	})
}

// Done is closed once the connection starts closing.
func (c *Client) Done() <-chan struct{} { return c.done }

func (c *Client) touch() {
	c.lastRead.Store(c.srv.now().UnixNano())
}

func (c *Client) idleFor(now time.Time) time.Duration {
	return now.Sub(time.Unix(0, c.lastRead.Load()))
}

// readPump reads frames until the connection fails or is closed. The
// context is cancelled when it returns.
func (c *Client) readPump(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	c.conn.SetReadLimit(c.srv.cfg.MaxFrameBytes)
	c.conn.SetReadDeadline(time.Now().Add(c.srv.cfg.PongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(c.srv.cfg.PongWait))
		return nil
	})

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			switch {
			case errors.Is(err, websocket.ErrReadLimit):
				c.log.Warn().Int64("limit", c.srv.cfg.MaxFrameBytes).Msg("frame too large")
				c.Close(protocol.CloseTooLarge, "frame too large")
			case websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway):
				c.Close(protocol.CloseNormal, "")
			default:
				if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
					c.log.Debug().Err(err).Msg("read error")
				}
				c.Close(protocol.CloseGoingAway, "")
			}
			return
		}

		c.touch()
		c.conn.SetReadDeadline(time.Now().Add(c.srv.cfg.PongWait))
		c.handle(ctx, data)

		select {
		case <-c.done:
			return
		default:
		}
	}
}

// writePump drains the send queue, pings the peer and enforces the idle
// timeout. It owns every write to the connection.
func (c *Client) writePump() {
	ticker := time.NewTicker(c.srv.cfg.PingPeriod)
	idle := time.NewTimer(c.srv.cfg.IdleTimeout)
	defer func() {
		ticker.Stop()
		idle.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case msg := <-c.send:
			if err := c.write(msg); err != nil {
				c.log.Debug().Err(err).Msg("write failed")
				c.Close(protocol.CloseGoingAway, "")
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(c.srv.cfg.WriteWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				c.Close(protocol.CloseGoingAway, "")
				return
			}

		case <-idle.C:
			quiet := c.idleFor(c.srv.now())
			if quiet >= c.srv.cfg.IdleTimeout {
				c.log.Info().Dur("idle", quiet).Msg("idle timeout")
				c.Close(protocol.CloseGoingAway, "idle timeout")
				continue
			}
			idle.Reset(c.srv.cfg.IdleTimeout - quiet)

		case <-c.done:
			c.flush()
			deadline := time.Now().Add(c.srv.cfg.WriteWait)
			msg := websocket.FormatCloseMessage(c.closeCode, c.closeReason)
			if err := c.conn.WriteControl(websocket.CloseMessage, msg, deadline); err != nil {
				c.log.Debug().Err(err).Msg("write close frame")
			}
			return
		}
	}
}

// flush writes frames already queued before the close frame goes out.
func (c *Client) flush() {
	for {
		select {
		case msg := <-c.send:
			if err := c.write(msg); err != nil {
				return
			}
		default:
			return
		}
	}
}

func (c *Client) write(msg []byte) error {
	c.conn.SetWriteDeadline(time.Now().Add(c.srv.cfg.WriteWait))
	return c.conn.WriteMessage(websocket.TextMessage, msg)
}

// sendEvent queues ev for this connection only.
func (c *Client) sendEvent(ev protocol.Event) {
	data, err := protocol.Encode(ev)
	if err != nil {
		c.log.Error().Err(err).Msg("encode event")
		return
	}
	if !c.Enqueue(data) {
		metrics.SlowConsumerDrops.Inc()
		c.Close(protocol.ClosePolicyViolation, "slow consumer")
	}
}

func (c *Client) handle(ctx context.Context, data []byte) {
	in, err := protocol.Decode(data)
	if err != nil {
		c.reject(err)
		return
	}

	switch m := in.(type) {
	case protocol.ChatSend:
		err = c.handleChat(ctx, m)
	case protocol.MusicControl:
		err = c.handleControl(m)
	case protocol.Ping:
		c.sendEvent(protocol.PongEvent{ServerTime: c.srv.now()})
	}
	if err != nil {
		c.reject(err)
	}
}

// handleChat persists the message outside the room lock, then fans it out.
func (c *Client) handleChat(ctx context.Context, m protocol.ChatSend) error {
	ctx, cancel := context.WithTimeout(ctx, c.srv.cfg.CollaboratorTimeout)
	defer cancel()

	msg, err := c.srv.store.SaveMessage(ctx, c.room.ID(), c.user, m.Content)
	if err != nil {
		return protocol.Collaborator("could not save message", err)
	}
	metrics.MessagesPosted.Inc()

	c.room.Publish(protocol.ChatMessageEvent{Message: *msg, User: c.user})
	return nil
}

// handleControl applies a playback command. A no-op command is answered with
// the current snapshot to the sender only.
func (c *Client) handleControl(m protocol.MusicControl) error {
	cmd := m.Command()
	ev, changed, err := c.room.Control(c.user.ID, cmd, c.srv.now())
	switch {
	case errors.Is(err, ErrRoomClosed):
		return protocol.Validation("room is closed")
	case err != nil:
		return protocol.Validation(err.Error())
	}

	if changed {
		metrics.PlaybackChanges.WithLabelValues(string(cmd.Action)).Inc()
		c.log.Debug().
			Str("action", string(cmd.Action)).
			Float64("position", ev.EffectivePositionSeconds).
			Bool("playing", ev.State.IsPlaying).
			Msg("playback changed")
		return nil
	}
	c.sendEvent(ev)
	return nil
}

// reject reports a failed frame to its sender. Fatal failures end the
// connection; everything else leaves it open.
func (c *Client) reject(err error) {
	pe := protocol.AsError(err)
	metrics.CommandsRejected.WithLabelValues(string(pe.Kind)).Inc()

	switch pe.Kind {
	case protocol.KindFatal:
		c.log.Error().Err(err).Msg("fatal error, closing connection")
		c.Close(protocol.CloseInternal, "internal error")
		return
	case protocol.KindCollaborator:
		c.log.Error().Err(pe.Err).Str("kind", string(pe.Kind)).Msg(pe.Message)
	case protocol.KindValidation:
		c.log.Warn().Str("kind", string(pe.Kind)).Msg(pe.Message)
	default:
		c.log.Debug().Err(err).Str("kind", string(pe.Kind)).Msg("rejected frame")
	}
	c.sendEvent(pe.Event())
}
