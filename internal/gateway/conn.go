package gateway

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

// conn is one device websocket. Writes are serialized; reads happen only on
// the connection's own goroutine.
type conn struct {
	id           string
	ws           *websocket.Conn
	writeTimeout time.Duration

	writeMu   sync.Mutex
	closeOnce sync.Once
	closed    chan struct{}
}

func newConn(ws *websocket.Conn, writeTimeout time.Duration) *conn {
	return &conn{
		id:           uuid.NewString(),
		ws:           ws,
		writeTimeout: writeTimeout,
		closed:       make(chan struct{}),
	}
}

// Send writes one text frame
func (c *conn) Send(data []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	if c.writeTimeout > 0 {
		c.ws.SetWriteDeadline(time.Now().Add(c.writeTimeout))
	}
	return c.ws.WriteMessage(websocket.TextMessage, data)
}

func (c *conn) sendJSON(v interface{}) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return c.Send(data)
}

// Close sends a close frame and closes the socket. Safe to call more than
// once and from any goroutine.
func (c *conn) Close() error {
	var err error
	c.closeOnce.Do(func() {
		close(c.closed)

		c.ws.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.ClosePolicyViolation, ""),
			time.Now().Add(time.Second))

		err = c.ws.Close()
	})
	return err
}

// Closing reports whether Close has been called
func (c *conn) Closing() bool {
	select {
	case <-c.closed:
		return true
	default:
		return false
	}
}
