package session

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/room4-2/liverelay/transport"
)

const waitTimeout = 2 * time.Second

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// fakeConn is an in-memory transport.Conn. Tests push client frames with Send
// and read what the relay wrote with WaitFrame.
type fakeConn struct {
	in     chan []byte
	out    chan []byte
	closed chan struct{}
	once   sync.Once

	mu     sync.Mutex
	frames [][]byte
	closes int
}

func newFakeConn() *fakeConn {
	return &fakeConn{
		in:     make(chan []byte, 16),
		out:    make(chan []byte, 64),
		closed: make(chan struct{}),
	}
}

func (c *fakeConn) Send(frame string) {
	c.in <- []byte(frame)
}

func (c *fakeConn) ReadFrame(ctx context.Context) ([]byte, error) {
	select {
	case f := <-c.in:
		return f, nil
	case <-c.closed:
		return nil, transport.ErrDisconnected
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (c *fakeConn) WriteFrame(ctx context.Context, frame []byte) error {
	select {
	case <-c.closed:
		return transport.ErrDisconnected
	default:
	}

	c.mu.Lock()
	c.frames = append(c.frames, frame)
	c.mu.Unlock()

	select {
	case c.out <- frame:
	default:
	}
	return nil
}

func (c *fakeConn) Close() error {
	c.mu.Lock()
	c.closes++
	c.mu.Unlock()
	c.once.Do(func() { close(c.closed) })
	return nil
}

func (c *fakeConn) Frames() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]string, len(c.frames))
	for i, f := range c.frames {
		out[i] = string(f)
	}
	return out
}

func (c *fakeConn) CloseCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closes
}

func (c *fakeConn) WaitFrame(t *testing.T) string {
	t.Helper()
	select {
	case f := <-c.out:
		return string(f)
	case <-time.After(waitTimeout):
		t.Fatal("timed out waiting for an outbound frame")
		return ""
	}
}

// countingRegistry records how often each session is unregistered
type countingRegistry struct {
	*Registry

	mu          sync.Mutex
	unregisters map[string]int
}

func newCountingRegistry() *countingRegistry {
	return &countingRegistry{
		Registry:    NewRegistry(),
		unregisters: make(map[string]int),
	}
}

func (c *countingRegistry) Unregister(id string) {
	c.mu.Lock()
	c.unregisters[id]++
	c.mu.Unlock()
	c.Registry.Unregister(id)
}

func (c *countingRegistry) Unregisters(id string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.unregisters[id]
}

type storeCall struct {
	op     string
	id     string
	status Status
}

// fakeStore records mirror calls
type fakeStore struct {
	mu     sync.Mutex
	calls  []storeCall
	closed bool
}

func (s *fakeStore) record(c storeCall) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = append(s.calls, c)
}

func (s *fakeStore) Save(_ context.Context, sess *Session) error {
	s.record(storeCall{op: "save", id: sess.ID, status: sess.Status()})
	return nil
}

func (s *fakeStore) UpdateStatus(_ context.Context, id string, status Status) error {
	s.record(storeCall{op: "status", id: id, status: status})
	return nil
}

func (s *fakeStore) Delete(_ context.Context, id string) error {
	s.record(storeCall{op: "delete", id: id})
	return nil
}

func (s *fakeStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

func (s *fakeStore) Calls() []storeCall {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]storeCall(nil), s.calls...)
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(waitTimeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func waitErr(t *testing.T, ch <-chan error) error {
	t.Helper()
	select {
	case err := <-ch:
		return err
	case <-time.After(waitTimeout):
		t.Fatal("timed out waiting for the relay to stop")
		return nil
	}
}
