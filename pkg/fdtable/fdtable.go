// Package fdtable implements the per-process FD table: standard
// streams plus a tracked set of open file handles, with an
// idempotent-tracking, always-attempt-close discipline.
package fdtable

import (
	"log/slog"
	"sync"

	"github.com/webos-run/webos/pkg/stream"
	"github.com/webos-run/webos/pkg/vfs"
)

// Table holds a process's stdin/stdout/stderr and its open handles.
type Table struct {
	mu      sync.Mutex
	Stdin   *stream.Readable
	Stdout  *stream.Writable
	Stderr  *stream.Writable
	handles map[vfs.Handle]struct{}
	log     *slog.Logger
}

// New creates an empty FD table. log may be nil, in which case close
// errors are silently swallowed rather than logged; they are never
// propagated either way.
func New(log *slog.Logger) *Table {
	return &Table{handles: map[vfs.Handle]struct{}{}, log: log}
}

// SetStdin/SetStdout/SetStderr wire the table's standard streams.
func (t *Table) SetStdin(r *stream.Readable)  { t.mu.Lock(); t.Stdin = r; t.mu.Unlock() }
func (t *Table) SetStdout(w *stream.Writable) { t.mu.Lock(); t.Stdout = w; t.mu.Unlock() }
func (t *Table) SetStderr(w *stream.Writable) { t.mu.Lock(); t.Stderr = w; t.mu.Unlock() }

// RedirectStderrToStdout makes stderr and stdout the same underlying
// stream identity: a single byte written to either appears exactly
// once on the shared surface.
func (t *Table) RedirectStderrToStdout() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.Stderr = t.Stdout
}

// TrackFileHandle registers an open handle for cleanup. Idempotent:
// adding the same handle twice leaves exactly one tracked entry.
func (t *Table) TrackFileHandle(h vfs.Handle) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.handles[h] = struct{}{}
}

// UntrackFileHandle removes a handle from tracking without closing it
// (used when ownership of the handle is explicitly transferred away).
func (t *Table) UntrackFileHandle(h vfs.Handle) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.handles, h)
}

// CloseFileHandles attempts to close every tracked handle, logging
// (but never returning) individual close errors, and always empties
// the set.
func (t *Table) CloseFileHandles() {
	t.mu.Lock()
	handles := make([]vfs.Handle, 0, len(t.handles))
	for h := range t.handles {
		handles = append(handles, h)
	}
	t.handles = map[vfs.Handle]struct{}{}
	t.mu.Unlock()

	for _, h := range handles {
		if err := h.Close(); err != nil && t.log != nil {
			t.log.Warn("fdtable: error closing handle", "error", err)
		}
	}
}

// OpenHandleCount reports how many handles remain tracked; it is zero
// once a process has exited.
func (t *Table) OpenHandleCount() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.handles)
}

// Cleanup closes tracked file handles but not stdin/stdout/stderr,
// which may be shared with a parent or the terminal.
func (t *Table) Cleanup() {
	t.CloseFileHandles()
}
