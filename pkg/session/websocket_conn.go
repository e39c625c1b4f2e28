package session

import (
	"io"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	gwshare "github.com/sammck-go/wsgateway/share"
)

const defaultWriteTimeout = 10 * time.Second

// ConnOptions tunes a WebSocketConn
type ConnOptions struct {
	// PingInterval enables keepalive pings when positive. The read deadline
	// is pushed out to two intervals on every pong.
	PingInterval time.Duration
	// WriteTimeout bounds each frame write
	WriteTimeout time.Duration
}

// WebSocketConn implements Conn over a gorilla websocket
type WebSocketConn struct {
	BasicConn
	ws      *websocket.Conn
	opts    ConnOptions
	writeMu sync.Mutex
}

// NewWebSocketConn wraps an established websocket
func NewWebSocketConn(logger gwshare.Logger, ws *websocket.Conn, opts ConnOptions) *WebSocketConn {
	if opts.WriteTimeout <= 0 {
		opts.WriteTimeout = defaultWriteTimeout
	}
	c := &WebSocketConn{
		ws:   ws,
		opts: opts,
	}
	c.InitBasicConn(logger, c, "WebSocketConn(%s)", ws.RemoteAddr())
	if opts.PingInterval > 0 {
		c.extendReadDeadline()
		ws.SetPongHandler(func(string) error {
			c.extendReadDeadline()
			return nil
		})
		go c.keepalive()
	}
	return c
}

func (c *WebSocketConn) extendReadDeadline() {
	c.ws.SetReadDeadline(time.Now().Add(2 * c.opts.PingInterval))
}

func (c *WebSocketConn) keepalive() {
	ticker := time.NewTicker(c.opts.PingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-c.ShutdownStartedChan():
			return
		case <-ticker.C:
			err := c.ws.WriteControl(websocket.PingMessage, nil, time.Now().Add(c.opts.WriteTimeout))
			if err != nil {
				c.StartShutdown(c.DLogErrorf("ping failed: %s", err))
				return
			}
		}
	}
}

// ReadMessage implements Conn
func (c *WebSocketConn) ReadMessage() (Message, error) {
	mt, data, err := c.ws.ReadMessage()
	if err != nil {
		if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway, websocket.CloseNoStatusReceived) {
			return Message{}, io.EOF
		}
		return Message{}, err
	}
	atomic.AddInt64(&c.NumBytesRead, int64(len(data)))
	if mt == websocket.TextMessage {
		return Text(string(data)), nil
	}
	return Binary(data), nil
}

// WriteMessage implements Conn
func (c *WebSocketConn) WriteMessage(m Message) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	mt := websocket.BinaryMessage
	if m.Type == TextMessage {
		mt = websocket.TextMessage
	}
	c.ws.SetWriteDeadline(time.Now().Add(c.opts.WriteTimeout))
	if err := c.ws.WriteMessage(mt, m.Data); err != nil {
		return err
	}
	atomic.AddInt64(&c.NumBytesWritten, int64(len(m.Data)))
	return nil
}

// HandleOnceShutdown will be called exactly once, in its own goroutine. It should take completionError
// as an advisory completion value, actually shut down, then return the real completion value.
func (c *WebSocketConn) HandleOnceShutdown(completionErr error) error {
	// best effort; the peer may already be gone
	c.ws.WriteControl(
		websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(time.Second),
	)
	err := c.ws.Close()
	if err != nil {
		err = c.Errorf("%s", err)
	}
	if completionErr == nil {
		completionErr = err
	}
	return completionErr
}
