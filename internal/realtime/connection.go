package realtime

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
)

const (
	writeWait  = 10 * time.Second
	pingPeriod = 30 * time.Second
	sendBuffer = 128
)

// Close codes used when the server terminates a connection.
const (
	CloseSessionReplaced = 4001
)

// Conn is a live connection as seen by the registry, rooms and the
// dispatcher. The websocket transport implements it; tests substitute fakes.
type Conn interface {
	SessionID() string
	UserID() int64
	Username() string
	Send(ev Event) error
	Close(code int, reason string)
}

// Connection wraps a websocket and serializes outbound writes through a
// buffered channel so callers on any goroutine may Send.
type Connection struct {
	sessionID string
	userID    int64
	username  string

	ws   *websocket.Conn
	send chan []byte
	once sync.Once
	done chan struct{}
}

func NewConnection(userID int64, username string, ws *websocket.Conn) *Connection {
	return &Connection{
		sessionID: uuid.NewString(),
		userID:    userID,
		username:  username,
		ws:        ws,
		send:      make(chan []byte, sendBuffer),
		done:      make(chan struct{}),
	}
}

var _ Conn = (*Connection)(nil)

func (c *Connection) SessionID() string { return c.sessionID }
func (c *Connection) UserID() int64     { return c.userID }
func (c *Connection) Username() string  { return c.username }

// Start launches the write loop. It must be called exactly once.
func (c *Connection) Start() {
	go c.writeLoop()
}

// Send enqueues the event for delivery. A client that cannot drain its
// buffer is closed so backpressure stays bounded.
func (c *Connection) Send(ev Event) error {
	payload, err := json.Marshal(ev)
	if err != nil {
		return errors.Wrapf(err, "encode %s", ev.Event)
	}

	select {
	case <-c.done:
		return errors.New("connection closed")
	case c.send <- payload:
		return nil
	default:
		c.Close(websocket.CloseGoingAway, "send buffer full")
		return errors.New("connection buffer exceeded")
	}
}

// Close terminates the connection and stops the write loop. It is safe to
// call from multiple goroutines; only the first call takes effect.
func (c *Connection) Close(code int, reason string) {
	c.once.Do(func() {
		close(c.done)
		deadline := time.Now().Add(writeWait)
		_ = c.ws.SetWriteDeadline(deadline)
		_ = c.ws.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(code, reason), deadline)
		_ = c.ws.Close()
	})
}

// ReadEnvelope blocks for the next inbound event frame.
func (c *Connection) ReadEnvelope() (Envelope, error) {
	var env Envelope
	if err := c.ws.ReadJSON(&env); err != nil {
		return Envelope{}, err
	}
	return env, nil
}

func (c *Connection) writeLoop() {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-c.done:
			return
		case payload := <-c.send:
			if err := c.writeMessage(payload); err != nil {
				log.Debug().Err(err).Int64("user_id", c.userID).Msg("write failed, closing connection")
				c.Close(websocket.CloseAbnormalClosure, "write failed")
				return
			}
		case <-ticker.C:
			if err := c.writePing(); err != nil {
				c.Close(websocket.CloseAbnormalClosure, "ping failed")
				return
			}
		}
	}
}

func (c *Connection) writeMessage(payload []byte) error {
	if err := c.ws.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
		return err
	}
	return c.ws.WriteMessage(websocket.TextMessage, payload)
}

func (c *Connection) writePing() error {
	if err := c.ws.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
		return err
	}
	return c.ws.WriteMessage(websocket.PingMessage, nil)
}
