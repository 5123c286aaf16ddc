package session

import (
	"errors"
	"sync"
)

// ErrBufferFull is returned when a chunk would grow the buffer past its maximum size
var ErrBufferFull = errors.New("audio buffer full")

// AudioBuffer accumulates converted agent audio until it reaches a flush
// threshold, so small telephony frames reach the agent in larger chunks.
type AudioBuffer struct {
	chunks    [][]byte
	totalSize int
	threshold int
	maxSize   int
	mu        sync.Mutex
}

// NewAudioBuffer creates a buffer that reports ready at threshold bytes and
// never holds more than maxSize bytes.
func NewAudioBuffer(threshold, maxSize int) *AudioBuffer {
	if maxSize < threshold {
		maxSize = threshold
	}
	return &AudioBuffer{
		threshold: threshold,
		maxSize:   maxSize,
	}
}

// Append copies chunk into the buffer and reports whether the threshold has been reached.
func (ab *AudioBuffer) Append(chunk []byte) (ready bool, err error) {
	ab.mu.Lock()
	defer ab.mu.Unlock()

	newSize := ab.totalSize + len(chunk)
	if newSize > ab.maxSize {
		return false, ErrBufferFull
	}

	ab.chunks = append(ab.chunks, append([]byte(nil), chunk...))
	ab.totalSize = newSize
	return ab.totalSize >= ab.threshold, nil
}

// Flush concatenates all chunks in arrival order and empties the buffer
func (ab *AudioBuffer) Flush() []byte {
	ab.mu.Lock()
	defer ab.mu.Unlock()

	if len(ab.chunks) == 0 {
		return nil
	}

	result := make([]byte, 0, ab.totalSize)
	for _, chunk := range ab.chunks {
		result = append(result, chunk...)
	}
	ab.chunks = nil
	ab.totalSize = 0

	return result
}

func (ab *AudioBuffer) Size() int {
	ab.mu.Lock()
	defer ab.mu.Unlock()
	return ab.totalSize
}

func (ab *AudioBuffer) ChunkCount() int {
	ab.mu.Lock()
	defer ab.mu.Unlock()
	return len(ab.chunks)
}
