package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/room4-2/liverelay/messages"
)

type fakeInbound struct {
	last time.Time

	mu    sync.Mutex
	cause error
}

func (f *fakeInbound) Deliver(context.Context, messages.Envelope) error { return nil }

func (f *fakeInbound) Abort(cause error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cause = cause
}

func (f *fakeInbound) LastActivity() time.Time { return f.last }

func (f *fakeInbound) Cause() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.cause
}

func TestRegistryUniqueness(t *testing.T) {
	r := NewRegistry()
	first := &fakeInbound{}

	if err := r.Register("s1", first); err != nil {
		t.Fatalf("first register: %v", err)
	}
	if err := r.Register("s1", &fakeInbound{}); !errors.Is(err, ErrDuplicateSession) {
		t.Fatalf("second register: got %v, want ErrDuplicateSession", err)
	}

	got, err := r.Lookup("s1")
	if err != nil || got != first {
		t.Fatalf("duplicate register replaced the live entry: %v %v", got, err)
	}

	r.Unregister("s1")
	if err := r.Register("s1", &fakeInbound{}); err != nil {
		t.Fatalf("register after unregister: %v", err)
	}
}

func TestRegistryLookupAndUnregister(t *testing.T) {
	r := NewRegistry()

	if _, err := r.Lookup("missing"); !errors.Is(err, ErrSessionNotFound) {
		t.Fatalf("got %v, want ErrSessionNotFound", err)
	}

	r.Unregister("missing")
	r.Unregister("missing")

	_ = r.Register("a", &fakeInbound{})
	_ = r.Register("b", &fakeInbound{})
	if r.Count() != 2 {
		t.Fatalf("count = %d", r.Count())
	}

	snap := r.Snapshot()
	r.Unregister("a")
	if len(snap) != 2 {
		t.Fatal("snapshot should not observe later changes")
	}
	if _, err := r.Lookup("a"); !errors.Is(err, ErrSessionNotFound) {
		t.Fatalf("lookup after unregister: %v", err)
	}
}

func TestRegistryConcurrentAccess(t *testing.T) {
	r := NewRegistry()
	var wg sync.WaitGroup
	var dupes sync.Map

	for i := 0; i < 50; i++ {
		id := fmt.Sprintf("s%d", i%10)
		wg.Add(3)
		go func() {
			defer wg.Done()
			if err := r.Register(id, &fakeInbound{}); errors.Is(err, ErrDuplicateSession) {
				dupes.Store(id, true)
			}
		}()
		go func() {
			defer wg.Done()
			if in, err := r.Lookup(id); err == nil && in == nil {
				t.Error("lookup returned a nil entry")
			}
		}()
		go func() {
			defer wg.Done()
			r.Unregister(id)
		}()
	}
	wg.Wait()

	if r.Count() > 10 {
		t.Fatalf("count = %d, want at most 10", r.Count())
	}
}
