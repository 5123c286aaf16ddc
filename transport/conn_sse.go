package transport

import (
	"context"
	"fmt"
	"net/http"
	"sync"
)

// SSEConn is the outbound half of a Server-Sent-Events session. ReadFrame never
// yields data: it only reports when the client has gone away.
type SSEConn struct {
	w       http.ResponseWriter
	flusher http.Flusher
	reqDone <-chan struct{}

	mu        sync.Mutex
	closed    bool
	done      chan struct{}
	closeOnce sync.Once
}

// NewSSEConn writes the event-stream headers and flushes them to the client.
func NewSSEConn(w http.ResponseWriter, r *http.Request) (*SSEConn, error) {
	f, ok := w.(http.Flusher)
	if !ok {
		return nil, fmt.Errorf("response writer does not support flushing")
	}

	h := w.Header()
	h.Set("Content-Type", "text/event-stream")
	h.Set("Cache-Control", "no-cache")
	h.Set("Connection", "keep-alive")
	h.Set("Access-Control-Allow-Origin", "*")
	h.Set("Access-Control-Allow-Headers", "Cache-Control")
	w.WriteHeader(http.StatusOK)
	f.Flush()

	return &SSEConn{
		w:       w,
		flusher: f,
		reqDone: r.Context().Done(),
		done:    make(chan struct{}),
	}, nil
}

func (c *SSEConn) ReadFrame(ctx context.Context) ([]byte, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-c.reqDone:
		return nil, ErrDisconnected
	case <-c.done:
		return nil, ErrDisconnected
	}
}

func (c *SSEConn) WriteFrame(ctx context.Context, frame []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return ErrDisconnected
	}
	if _, err := c.w.Write(frame); err != nil {
		return fmt.Errorf("%w: %v", ErrDisconnected, err)
	}
	c.flusher.Flush()
	return nil
}

// Close stops further writes. The response itself ends when the handler returns.
func (c *SSEConn) Close() error {
	c.closeOnce.Do(func() {
		c.mu.Lock()
		c.closed = true
		c.mu.Unlock()
		close(c.done)
	})
	return nil
}
