package realtime

import (
	"sync"

	"github.com/google/uuid"
	"github.com/pkg/errors"
)

// fakeConn records everything sent to it, standing in for a websocket.
type fakeConn struct {
	sessionID string
	userID    int64
	username  string

	mu        sync.Mutex
	events    []Event
	closed    bool
	closeCode int
}

func newFakeConn(userID int64) *fakeConn {
	return &fakeConn{sessionID: uuid.NewString(), userID: userID}
}

var _ Conn = (*fakeConn)(nil)

func (c *fakeConn) SessionID() string { return c.sessionID }
func (c *fakeConn) UserID() int64     { return c.userID }
func (c *fakeConn) Username() string  { return c.username }

func (c *fakeConn) Send(ev Event) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return errors.New("connection closed")
	}
	c.events = append(c.events, ev)
	return nil
}

func (c *fakeConn) Close(code int, _ string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.closed {
		c.closed = true
		c.closeCode = code
	}
}

func (c *fakeConn) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

func (c *fakeConn) sent() []Event {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]Event, len(c.events))
	copy(out, c.events)
	return out
}

func (c *fakeConn) countEvents(name string) int {
	n := 0
	for _, ev := range c.sent() {
		if ev.Event == name {
			n++
		}
	}
	return n
}

func (c *fakeConn) lastEvent(name string) (Event, bool) {
	events := c.sent()
	for i := len(events) - 1; i >= 0; i-- {
		if events[i].Event == name {
			return events[i], true
		}
	}
	return Event{}, false
}
