// Package stream implements lazy, chunked, single-consumer readable
// and writable byte streams, with pipe and tee composition.
package stream

import (
	"errors"
	"io"
	"sync"
)

// ErrLocked is returned when a second reader/writer tries to acquire a
// stream that is already locked. Double-acquisition is a caller bug.
var ErrLocked = errors.New("stream: already locked by another consumer")

// ErrClosed is returned by operations on a stream past end-of-stream or
// cancellation.
var ErrClosed = errors.New("stream: closed")

// Chunk is one lazily-delivered unit of bytes. Chunks carry no
// guaranteed granularity; a consumer that needs line semantics must
// buffer until '\n' itself.
type Chunk = []byte

// Readable is a lazy finite sequence of byte chunks, consumed by at
// most one reader at a time.
type Readable struct {
	mu        sync.Mutex
	locked    bool
	ch        chan Chunk
	closeOnce sync.Once
	done      chan struct{}
	cancelled bool
}

// NewReadable creates a Readable backed by an internal channel of the
// given buffer depth (0 = unbuffered, i.e. full backpressure).
func NewReadable(buffer int) *Readable {
	return &Readable{
		ch:   make(chan Chunk, buffer),
		done: make(chan struct{}),
	}
}

// Lock acquires the single-reader lock. Must be paired with Unlock on
// every exit path, including error paths.
func (r *Readable) Lock() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.locked {
		return ErrLocked
	}
	r.locked = true
	return nil
}

// Unlock releases the reader lock, leaving the stream usable for a
// subsequent Lock.
func (r *Readable) Unlock() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.locked = false
}

// Read returns the next chunk, or io.EOF once the stream has been
// closed/cancelled and drained.
func (r *Readable) Read() (Chunk, error) {
	if r.Cancelled() {
		return nil, io.EOF
	}
	select {
	case c, ok := <-r.ch:
		if !ok {
			return nil, io.EOF
		}
		return c, nil
	case <-r.done:
		// Drain any chunks that raced the close.
		select {
		case c, ok := <-r.ch:
			if ok {
				return c, nil
			}
		default:
		}
		return nil, io.EOF
	}
}

// Cancel stops future reads from yielding data; further reads return
// io.EOF. Safe to call multiple times.
func (r *Readable) Cancel() {
	r.mu.Lock()
	r.cancelled = true
	r.mu.Unlock()
	r.closeOnce.Do(func() { close(r.done) })
}

// Cancelled reports whether Cancel has been called.
func (r *Readable) Cancelled() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.cancelled
}

// push is the producer-side primitive used by Writable/pipe/tee. It
// blocks (providing backpressure) until the chunk is delivered or the
// reader cancels.
func (r *Readable) push(c Chunk) bool {
	select {
	case r.ch <- c:
		return true
	case <-r.done:
		return false
	}
}

// closeWrite marks end-of-stream for the producer side.
func (r *Readable) closeWrite() {
	r.closeOnce.Do(func() {
		close(r.ch)
		close(r.done)
	})
}

// Writable accepts a lazy finite sequence of byte chunks, written by at
// most one writer at a time.
type Writable struct {
	mu      sync.Mutex
	locked  bool
	targets []*Readable // fan-out targets (>1 only for Tee)
	closed  bool
}

// NewWritable creates a Writable that fans its writes out to the given
// readable targets (normally exactly one, for Pipe; more than one for
// Tee/broadcast).
func NewWritable(targets ...*Readable) *Writable {
	return &Writable{targets: targets}
}

// Lock acquires the single-writer lock.
func (w *Writable) Lock() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.locked {
		return ErrLocked
	}
	w.locked = true
	return nil
}

// Unlock releases the writer lock.
func (w *Writable) Unlock() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.locked = false
}

// Write delivers a chunk to every target. A target that has cancelled
// its read side simply stops receiving future data; it does not error
// out the write to other targets.
func (w *Writable) Write(p []byte) (int, error) {
	w.mu.Lock()
	closed := w.closed
	w.mu.Unlock()
	if closed {
		return 0, ErrClosed
	}
	// Copy so callers may reuse their buffer, matching io.Writer's
	// guarantee of not retaining p.
	buf := make([]byte, len(p))
	copy(buf, p)
	for _, t := range w.targets {
		t.push(buf)
	}
	return len(p), nil
}

// Close marks end-of-stream on every target. Idempotent.
func (w *Writable) Close() error {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return nil
	}
	w.closed = true
	w.mu.Unlock()
	for _, t := range w.targets {
		t.closeWrite()
	}
	return nil
}

// Pipe creates a connected (writer, reader) pair. Bytes written are
// delivered in FIFO order; the buffer parameter controls how many
// chunks may queue before Write backpressures.
func Pipe(buffer int) (*Writable, *Readable) {
	r := NewReadable(buffer)
	w := NewWritable(r)
	return w, r
}

// Tee consumes src and produces n independent readables, each observing
// every byte src emits. A slow consumer applies backpressure to src
// (once its 64-chunk buffer is full) but never causes another consumer
// to lose data.
func Tee(src *Readable, n int) []*Readable {
	outs := make([]*Readable, n)
	for i := range outs {
		outs[i] = NewReadable(64)
	}
	go func() {
		for {
			c, err := src.Read()
			if err != nil {
				for _, o := range outs {
					o.closeWrite()
				}
				return
			}
			for _, o := range outs {
				o.push(c)
			}
		}
	}()
	return outs
}

// ReadAll drains a Readable to completion, honoring the lock
// discipline (acquires and releases the reader lock itself).
func ReadAll(r *Readable) ([]byte, error) {
	if err := r.Lock(); err != nil {
		return nil, err
	}
	defer r.Unlock()
	var out []byte
	for {
		c, err := r.Read()
		if err == io.EOF {
			return out, nil
		}
		if err != nil {
			return out, err
		}
		out = append(out, c...)
	}
}
