// Package fetch downloads remote audio exactly once per cache key, feeding
// the bytes to the cache store and to any number of live playback readers
// at the same time.
package fetch

import (
	"errors"
	"io"
	"sync"
)

// ErrBufferClosed is returned when writing to a buffer that was already closed.
var ErrBufferClosed = errors.New("write on closed buffer")

// Buffer is a broadcast byte buffer: one writer appends, any number of
// readers consume with independent cursors. Readers that attach late see
// the stream from its first byte. The writer's terminal error (or EOF)
// propagates to every reader.
type Buffer struct {
	mu     sync.Mutex
	cond   *sync.Cond
	data   []byte
	closed bool
	err    error // terminal reader error; io.EOF after a clean close
}

// NewBuffer creates an empty broadcast buffer.
func NewBuffer() *Buffer {
	b := &Buffer{}
	b.cond = sync.NewCond(&b.mu)
	return b
}

// Write appends bytes and wakes blocked readers.
func (b *Buffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return 0, ErrBufferClosed
	}
	b.data = append(b.data, p...)
	b.cond.Broadcast()
	return len(p), nil
}

// CloseWithError marks the stream finished. A nil err means a clean end:
// readers drain the remaining bytes and then see io.EOF. A non-nil err is
// surfaced to readers once they reach the end of the buffered data.
func (b *Buffer) CloseWithError(err error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	if err == nil {
		err = io.EOF
	}
	b.err = err
	b.cond.Broadcast()
}

// Len returns the number of bytes buffered so far.
func (b *Buffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.data)
}

// NewReader attaches a reader starting at byte 0.
func (b *Buffer) NewReader() *BufferReader {
	return &BufferReader{buf: b}
}

// BufferReader reads a Buffer from the start with its own cursor, blocking
// when it catches up with the writer.
type BufferReader struct {
	buf    *Buffer
	pos    int
	closed bool
}

// Read blocks until data past the cursor is available, the stream ends, or
// the reader is closed.
func (r *BufferReader) Read(p []byte) (int, error) {
	b := r.buf
	b.mu.Lock()
	defer b.mu.Unlock()

	for r.pos >= len(b.data) && !b.closed && !r.closed {
		b.cond.Wait()
	}
	if r.closed {
		return 0, io.ErrClosedPipe
	}
	if r.pos >= len(b.data) {
		return 0, b.err
	}

	n := copy(p, b.data[r.pos:])
	r.pos += n
	return n, nil
}

// Close detaches the reader; a blocked Read returns io.ErrClosedPipe.
// Closing a reader never affects the writer or other readers.
func (r *BufferReader) Close() error {
	b := r.buf
	b.mu.Lock()
	defer b.mu.Unlock()
	r.closed = true
	b.cond.Broadcast()
	return nil
}
