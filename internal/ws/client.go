package ws

import (
	"errors"
	"time"

	"github.com/gorilla/websocket"

	"mapbingo/server/internal/events"
	"mapbingo/server/internal/logging"
	"mapbingo/server/internal/match"
	"mapbingo/server/internal/room"
	"mapbingo/server/internal/session"
)

const sendBufferSize = 64

var errSendBufferFull = errors.New("client send buffer full")

// Client is one live connection plus its session bindings. The client itself
// is the broadcast sink for its player: Deliver never blocks, so channels can
// fan out while an entry lock is held.
type Client struct {
	gateway *Gateway
	conn    *websocket.Conn
	send    chan []byte
	log     *logging.Logger

	profile       room.Profile
	authenticated bool
	rctx          *session.RoomContext
	gctx          *session.GameContext
}

func newClient(g *Gateway, conn *websocket.Conn) *Client {
	return &Client{
		gateway: g,
		conn:    conn,
		send:    make(chan []byte, sendBufferSize),
		log:     g.log.With(logging.String("remote_addr", conn.RemoteAddr().String())),
	}
}

// Deliver implements broadcast.Sink. A full buffer fails the delivery so the
// channel prunes this subscriber instead of stalling the broadcast.
func (c *Client) Deliver(payload []byte) error {
	select {
	case c.send <- payload:
		return nil
	default:
		return errSendBufferFull
	}
}

func (c *Client) readPump() {
	defer func() {
		c.disconnect()
		c.conn.Close()
		c.gateway.clients.Add(-1)
	}()

	c.conn.SetReadLimit(c.gateway.cfg.MaxPayloadBytes)
	pongWait := c.gateway.cfg.PingInterval * 2
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, msg, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.log.Warn("read error", logging.Error(err))
			}
			return
		}
		c.dispatch(msg)
	}
}

func (c *Client) writePump() {
	ticker := time.NewTicker(c.gateway.cfg.PingInterval)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()
	for {
		select {
		case msg, ok := <-c.send:
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			_ = c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := c.conn.WriteMessage(websocket.PingMessage, []byte{}); err != nil {
				return
			}
		}
	}
}

// sendEvent delivers an event to this connection only.
func (c *Client) sendEvent(e events.Event) {
	payload, err := events.Marshal(e)
	if err != nil {
		c.log.Error("marshal event", logging.String("kind", string(e.EventKind())), logging.Error(err))
		return
	}
	_ = c.Deliver(payload)
}

func (c *Client) sendError(code string, err error) {
	c.sendEvent(events.ErrorEvent{Code: code, Message: err.Error()})
}

// disconnect runs when the read pump exits. A player in a live match keeps
// their membership for the linger window; anyone else leaves immediately.
func (c *Client) disconnect() {
	c.gateway.listing.Unsubscribe(c.listingKey())
	if c.rctx == nil {
		return
	}
	c.unsubscribe()

	inMatch := false
	c.rctx.Do(func(r *room.Room) { inMatch = r.MatchActive() })

	if inMatch && c.rctx.Alive() {
		c.gateway.linger.Put(&session.State{Room: c.rctx, Game: c.gctx})
	} else {
		c.rctx.Leave()
	}
	c.rctx = nil
	c.gctx = nil
}

// unsubscribe detaches the client's sink from the room and match channels.
func (c *Client) unsubscribe() {
	uid := c.profile.PlayerUID
	if c.rctx != nil {
		c.rctx.Do(func(r *room.Room) { r.Channel().Unsubscribe(uid) })
	}
	if c.gctx != nil {
		c.gctx.Do(func(m *match.LiveMatch) { m.Channel().Unsubscribe(uid) })
	}
}

func (c *Client) listingKey() string {
	if c.profile.PlayerUID != "" {
		return c.profile.PlayerUID
	}
	return c.conn.RemoteAddr().String()
}
