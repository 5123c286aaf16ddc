package transport

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const (
	defaultWriteTimeout = 10 * time.Second
	defaultReadLimit    = 512 * 1024
)

// WebSocketOptions tunes a WebSocketConn
type WebSocketOptions struct {
	ReadLimit       int64
	WriteTimeout    time.Duration
	KeepAlivePeriod time.Duration // 0 disables pings
	Compression     bool
}

// WebSocketConn adapts a gorilla connection to Conn.
type WebSocketConn struct {
	conn         *websocket.Conn
	writeTimeout time.Duration
	keepAlive    time.Duration

	writeMu   sync.Mutex
	closed    bool
	done      chan struct{}
	closeOnce sync.Once
}

func NewWebSocketConn(conn *websocket.Conn, opts WebSocketOptions) *WebSocketConn {
	if opts.ReadLimit <= 0 {
		opts.ReadLimit = defaultReadLimit
	}
	if opts.WriteTimeout <= 0 {
		opts.WriteTimeout = defaultWriteTimeout
	}

	conn.SetReadLimit(opts.ReadLimit)
	conn.EnableWriteCompression(opts.Compression)

	c := &WebSocketConn{
		conn:         conn,
		writeTimeout: opts.WriteTimeout,
		keepAlive:    opts.KeepAlivePeriod,
		done:         make(chan struct{}),
	}

	if c.keepAlive > 0 {
		// the peer must answer a ping within two periods
		_ = conn.SetReadDeadline(time.Now().Add(2 * c.keepAlive))
		conn.SetPongHandler(func(string) error {
			return conn.SetReadDeadline(time.Now().Add(2 * c.keepAlive))
		})
		go c.pingLoop()
	}
	return c
}

// ReadFrame returns the next message. ctx is observed by Close: the relay closes
// the connection to unblock a pending read.
func (c *WebSocketConn) ReadFrame(ctx context.Context) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	_, data, err := c.conn.ReadMessage()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDisconnected, err)
	}
	if c.keepAlive > 0 {
		_ = c.conn.SetReadDeadline(time.Now().Add(2 * c.keepAlive))
	}
	return data, nil
}

func (c *WebSocketConn) WriteFrame(ctx context.Context, frame []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	if c.closed {
		return ErrDisconnected
	}
	if err := c.conn.SetWriteDeadline(time.Now().Add(c.writeTimeout)); err != nil {
		return fmt.Errorf("%w: %v", ErrDisconnected, err)
	}
	if err := c.conn.WriteMessage(websocket.TextMessage, frame); err != nil {
		return fmt.Errorf("%w: %v", ErrDisconnected, err)
	}
	return nil
}

// Close sends a normal close frame and closes the socket. A write in progress
// finishes first.
func (c *WebSocketConn) Close() error {
	var err error
	c.closeOnce.Do(func() {
		close(c.done)

		c.writeMu.Lock()
		defer c.writeMu.Unlock()
		c.closed = true

		_ = c.conn.WriteControl(
			websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(c.writeTimeout),
		)
		err = c.conn.Close()
	})
	return err
}

func (c *WebSocketConn) pingLoop() {
	ticker := time.NewTicker(c.keepAlive)
	defer ticker.Stop()

	for {
		select {
		case <-c.done:
			return
		case <-ticker.C:
			c.writeMu.Lock()
			if c.closed {
				c.writeMu.Unlock()
				return
			}
			err := c.conn.WriteControl(websocket.PingMessage, []byte("ping"), time.Now().Add(c.writeTimeout))
			c.writeMu.Unlock()
			if err != nil {
				return
			}
		}
	}
}
