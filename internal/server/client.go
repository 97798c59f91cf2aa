package server

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/npezzotti/quizlive/internal/types"
	"github.com/rs/zerolog"
	"github.com/teris-io/shortid"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingInterval   = (pongWait * 9) / 10
	maxMessageSize = 1024
)

// Client is one authenticated socket.
type Client struct {
	handle   string
	conn     *websocket.Conn
	hub      *Hub
	registry *Registry
	log      zerolog.Logger
	user     types.User
	send     chan ServerMessage
	mu       sync.Mutex
	session  *session
	closed   bool
	stop     chan struct{}
	stopOnce sync.Once
}

func NewClient(user types.User, conn *websocket.Conn, hub *Hub, registry *Registry, l zerolog.Logger) *Client {
	handle := shortid.MustGenerate()

	return &Client{
		handle:   handle,
		conn:     conn,
		hub:      hub,
		registry: registry,
		log: l.With().
			Str("conn", handle).
			Str("user_id", user.Id).
			Logger(),
		user: user,
		send: make(chan ServerMessage, 256),
		stop: make(chan struct{}),
	}
}

func (c *Client) Handle() string {
	return c.handle
}

// Serve registers the client and runs its pumps until the socket closes.
func (c *Client) Serve() {
	c.registry.Add(c)
	c.log.Info().Msg("client connected")

	go c.Write()
	c.Read()
}

func (c *Client) Write() {
	ticker := time.NewTicker(pingInterval)
	defer func() {
		ticker.Stop()
		c.conn.Close()
		c.log.Debug().Msg("write exiting")
	}()

	for {
		select {
		case msg, ok := <-c.send:
			if !ok {
				return
			}

			bytes, err := c.serializeMessage(msg)
			if err != nil {
				c.log.Error().Err(err).Msg("failed to serialize message")
				continue
			}

			if !c.sendMessage(websocket.TextMessage, bytes) {
				return
			}
		case <-c.stop:
			c.sendMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseGoingAway, ""))
			return
		case <-ticker.C:
			if !c.sendMessage(websocket.PingMessage, nil) {
				return
			}
		}
	}
}

func (c *Client) Read() {
	defer func() {
		c.conn.Close()
		c.cleanup()
		c.log.Info().Msg("client disconnected")
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		c.registry.Heartbeat(c)
		return nil
	})

	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure,
				websocket.CloseNormalClosure) {
				c.log.Warn().Err(err).Msg("read failed")
			}
			return
		}

		c.handleMessage(raw)
	}
}

func (c *Client) handleMessage(raw []byte) {
	msg, err := ParseClientMessage(raw)
	if err != nil {
		c.log.Debug().Err(err).Msg("rejected message")
		c.queueMessage(ErrorFor(err))
		return
	}

	switch m := msg.(type) {
	case *JoinSession:
		c.hub.Join(c, m.SessionId)
	case *LeaveSession:
		c.hub.Leave(c, m.SessionId)
	case *Ping:
		c.registry.Heartbeat(c)
		c.queueMessage(NewPong())
	case *Pong:
		c.registry.Heartbeat(c)
	}
}

func (c *Client) queueMessage(msg ServerMessage) bool {
	select {
	case c.send <- msg:
	default:
		c.log.Warn().Msg("send buffer full, dropping message")
		return false
	}

	return true
}

func (c *Client) serializeMessage(msg ServerMessage) ([]byte, error) {
	return json.Marshal(msg)
}

func (c *Client) sendMessage(msgType int, msg []byte) bool {
	c.conn.SetWriteDeadline(time.Now().Add(writeWait))

	if err := c.conn.WriteMessage(msgType, msg); err != nil {
		if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure,
			websocket.CloseNormalClosure) {
			c.log.Warn().Err(err).Msg("write failed")
		}
		return false
	}

	return true
}

func (c *Client) stopClient() {
	c.stopOnce.Do(func() {
		close(c.stop)
	})
}

// cleanup runs the leave path for the attached session, then unregisters.
// A join still being processed sees the client as closed and undoes itself.
func (c *Client) cleanup() {
	if s := c.markClosed(); s != nil {
		c.hub.Leave(c, s.id)
	}
	c.registry.Remove(c)
	c.stopClient()
}

func (c *Client) currentSession() *session {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.session
}

// setSession attaches the client to s. It reports false once the client
// has disconnected.
func (c *Client) setSession(s *session) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return false
	}
	c.session = s
	return true
}

func (c *Client) markClosed() *session {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	return c.session
}

// clearSession detaches the client only if it is still attached to s.
func (c *Client) clearSession(s *session) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.session == s {
		c.session = nil
	}
}
