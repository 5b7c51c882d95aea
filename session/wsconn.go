package session

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/jmcleod/signpad/internal/uuid"
)

// DefaultWriteTimeout bounds a single frame write.
const DefaultWriteTimeout = 10 * time.Second

// WSConn adapts a gorilla websocket connection to Conn. Writes are
// serialised; gorilla allows one concurrent writer.
type WSConn struct {
	id           string
	conn         *websocket.Conn
	writeTimeout time.Duration

	writeMu sync.Mutex
	closed  atomic.Bool
}

var _ Conn = (*WSConn)(nil)

// NewWSConn wraps c with a fresh session ID.
func NewWSConn(c *websocket.Conn) *WSConn {
	// Deadlines set by the HTTP server survive the hijack.
	_ = c.SetReadDeadline(time.Time{})
	return &WSConn{
		id:           uuid.New(),
		conn:         c,
		writeTimeout: DefaultWriteTimeout,
	}
}

func (c *WSConn) ID() string { return c.id }

func (c *WSConn) IsOpen() bool { return !c.closed.Load() }

// Send writes data as a single text frame. A write error closes the
// connection.
func (c *WSConn) Send(data []byte) error {
	if c.closed.Load() {
		return ErrClosed
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	_ = c.conn.SetWriteDeadline(time.Now().Add(c.writeTimeout))
	if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
		c.closed.Store(true)
		_ = c.conn.Close()
		return err
	}
	return nil
}

// Close sends a normal close frame and closes the underlying connection.
// It is safe to call more than once.
func (c *WSConn) Close() error {
	if c.closed.Swap(true) {
		return nil
	}
	c.writeMu.Lock()
	_ = c.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(time.Second))
	c.writeMu.Unlock()
	return c.conn.Close()
}

// ReadLoop consumes inbound frames until the peer goes away, passing text
// payloads to onMessage when it is non-nil. The connection is closed when
// ReadLoop returns.
func (c *WSConn) ReadLoop(onMessage func([]byte)) error {
	defer c.Close()
	for {
		typ, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				return nil
			}
			return err
		}
		if typ == websocket.TextMessage && onMessage != nil {
			onMessage(data)
		}
	}
}
