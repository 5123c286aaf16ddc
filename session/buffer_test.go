package session

import (
	"bytes"
	"errors"
	"testing"
)

func TestAudioBufferThreshold(t *testing.T) {
	b := NewAudioBuffer(4, 8)

	ready, err := b.Append([]byte{1, 2})
	if err != nil || ready {
		t.Fatalf("first append: ready=%v err=%v", ready, err)
	}
	ready, err = b.Append([]byte{3, 4})
	if err != nil || !ready {
		t.Fatalf("second append: ready=%v err=%v", ready, err)
	}
	if b.ChunkCount() != 2 || b.Size() != 4 {
		t.Fatalf("chunks=%d size=%d", b.ChunkCount(), b.Size())
	}

	if got := b.Flush(); !bytes.Equal(got, []byte{1, 2, 3, 4}) {
		t.Fatalf("flush = %v", got)
	}
	if b.Size() != 0 || b.Flush() != nil {
		t.Fatal("buffer should be empty after flush")
	}
}

func TestAudioBufferFull(t *testing.T) {
	b := NewAudioBuffer(4, 6)
	_, _ = b.Append([]byte{1, 2, 3})

	if _, err := b.Append([]byte{4, 5, 6, 7}); !errors.Is(err, ErrBufferFull) {
		t.Fatalf("got %v, want ErrBufferFull", err)
	}
	if b.Size() != 3 {
		t.Fatalf("rejected chunk changed size to %d", b.Size())
	}
}

func TestAudioBufferCopiesChunks(t *testing.T) {
	b := NewAudioBuffer(10, 10)
	chunk := []byte{9, 9}
	_, _ = b.Append(chunk)
	chunk[0] = 0

	if got := b.Flush(); got[0] != 9 {
		t.Fatal("buffer aliases caller memory")
	}
}
