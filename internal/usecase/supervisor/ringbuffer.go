package supervisor

import (
	"strings"
	"sync"
)

// ringBuffer is a thread-safe, bounded byte buffer that drops old data
// when the capacity is exceeded. It keeps the tail of the child's output
// for crash reports.
type ringBuffer struct {
	mu        sync.Mutex
	data      []byte
	max       int
	truncated bool
}

func newRingBuffer(maxBytes int) *ringBuffer {
	return &ringBuffer{
		data: make([]byte, 0, min(maxBytes, 4096)),
		max:  maxBytes,
	}
}

// Write implements io.Writer.
func (rb *ringBuffer) Write(p []byte) (int, error) {
	rb.mu.Lock()
	defer rb.mu.Unlock()

	rb.data = append(rb.data, p...)
	if len(rb.data) > rb.max {
		rb.data = rb.data[len(rb.data)-rb.max:]
		rb.truncated = true
	}
	return len(p), nil
}

// Lines returns up to n complete trailing lines.
func (rb *ringBuffer) Lines(n int) []string {
	rb.mu.Lock()
	text := string(rb.data)
	truncated := rb.truncated
	rb.mu.Unlock()

	text = strings.TrimRight(text, "\n")
	if text == "" {
		return nil
	}
	lines := strings.Split(text, "\n")
	if truncated {
		// the first line lost its beginning
		lines = lines[1:]
	}
	if len(lines) > n {
		lines = lines[len(lines)-n:]
	}
	return lines
}

// Reset drops all buffered data.
func (rb *ringBuffer) Reset() {
	rb.mu.Lock()
	defer rb.mu.Unlock()
	rb.data = rb.data[:0]
	rb.truncated = false
}
