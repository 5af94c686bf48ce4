package ide

import (
	"errors"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/mchiang0610/continue/session"
)

const writeWait = 10 * time.Second

var ErrConnClosed = errors.New("ide connection closed")

// Message is the envelope exchanged with the IDE extension
type Message struct {
	MessageType string `json:"messageType"`
	Data        any    `json:"data,omitempty"`
}

// Conn is one IDE extension connection. It is the session.Controller for
// every session it opens.
type Conn struct {
	id string
	ws *websocket.Conn

	writeMu sync.Mutex

	mu    sync.RWMutex
	state session.ControllerState
	open  bool

	closeOnce sync.Once
}

var _ session.Controller = (*Conn)(nil)

func newConn(id string, ws *websocket.Conn) *Conn {
	return &Conn{id: id, ws: ws, open: true}
}

func (c *Conn) ID() string {
	return c.id
}

func (c *Conn) State() session.ControllerState {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.state
}

func (c *Conn) Bind(sessionID string) {
	c.mu.Lock()
	c.state = session.BoundTo(sessionID)
	c.mu.Unlock()
}

func (c *Conn) Unbind() {
	c.mu.Lock()
	c.state = session.Unbound
	c.mu.Unlock()
}

func (c *Conn) IsOpen() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.open
}

// markClosed records that the socket is gone without touching it.
// The bound session id is kept so the session can still be resumed.
func (c *Conn) markClosed() {
	c.mu.Lock()
	c.open = false
	c.mu.Unlock()
}

// Close sends a close frame and tears the socket down
func (c *Conn) Close() error {
	var err error
	c.closeOnce.Do(func() {
		c.markClosed()

		c.writeMu.Lock()
		_ = c.ws.WriteControl(
			websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, "session removed"),
			time.Now().Add(time.Second),
		)
		c.writeMu.Unlock()

		err = c.ws.Close()
	})
	return err
}

// Send writes one message to the IDE
func (c *Conn) Send(messageType string, data any) error {
	if !c.IsOpen() {
		return ErrConnClosed
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	c.ws.SetWriteDeadline(time.Now().Add(writeWait))
	return c.ws.WriteJSON(Message{MessageType: messageType, Data: data})
}
