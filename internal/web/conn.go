package web

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

const writeTimeout = 5 * time.Second

// wsConn adapts a gorilla websocket connection to hub.Subscriber.
// Writes are serialized (gorilla permits one concurrent writer) and
// Close is once-only, since the broadcast prune path and the handler
// exit path may both tear down the same connection.
type wsConn struct {
	ws     *websocket.Conn
	id     string
	remote string

	writeMu   sync.Mutex
	closeOnce sync.Once
	closeErr  error
}

func newWSConn(ws *websocket.Conn) *wsConn {
	return &wsConn{
		ws:     ws,
		id:     uuid.NewString(),
		remote: ws.RemoteAddr().String(),
	}
}

func (c *wsConn) SendText(msg []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	c.ws.SetWriteDeadline(time.Now().Add(writeTimeout))
	return c.ws.WriteMessage(websocket.TextMessage, msg)
}

func (c *wsConn) Close() error {
	c.closeOnce.Do(func() {
		c.closeErr = c.ws.Close()
	})
	return c.closeErr
}

func (c *wsConn) RemoteAddr() string {
	return c.remote
}
