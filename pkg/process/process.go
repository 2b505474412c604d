// Package process implements the process table: PID allocation that
// never reuses, a lifecycle of start/exit/stop/pause/resume events,
// keepAlive daemons, and an EntryParams envelope wrapping the VFS and
// FDTable. External host commands can additionally be launched under
// best-effort OS isolation (see sandbox.go).
package process

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/webos-run/webos/pkg/fdtable"
	"github.com/webos-run/webos/pkg/vfs"
)

// Status reflects a Process's place in its lifecycle.
type Status int

const (
	StatusPending Status = iota
	StatusRunning
	StatusPaused
	StatusStopped
	StatusExited
)

func (s Status) String() string {
	switch s {
	case StatusPending:
		return "pending"
	case StatusRunning:
		return "running"
	case StatusPaused:
		return "paused"
	case StatusStopped:
		return "stopped"
	case StatusExited:
		return "exited"
	default:
		return "unknown"
	}
}

// EventKind enumerates process lifecycle events.
type EventKind int

const (
	EventStart EventKind = iota
	EventExit
	EventStop
	EventPause
	EventResume
)

// Event is published when a Process changes lifecycle state.
type Event struct {
	PID  uint32
	Kind EventKind
	Code int // exit code, populated on EventExit
}

// EntryFunc is the body of a process, invoked by Start with a
// ProcessEntryParams envelope. Its return value becomes the exit code
// unless the process overrides it via Exit.
type EntryFunc func(ctx context.Context, params *EntryParams) int

// EntryParams is the envelope passed to a process's entry function:
// its own PID, argv, environment, FDTable, a bound VFS view carrying
// its credentials, and a context cancelled on stop/interrupt.
// StdinIsTTY distinguishes an interactive terminal stdin from a
// pipe or file, so commands can vary behavior the way coreutils do.
type EntryParams struct {
	PID        uint32
	Argv       []string
	Env        map[string]string
	FDTable    *fdtable.Table
	FS         *vfs.VFS
	Creds      vfs.Credentials
	Proc       *Process
	StdinIsTTY bool
}

// Options configures a new Process at creation time.
type Options struct {
	Argv       []string
	Env        map[string]string
	Entry      EntryFunc
	FDTable    *fdtable.Table
	FS         *vfs.VFS
	Creds      vfs.Credentials
	Log        *slog.Logger
	StdinIsTTY bool
}

// Process is a single schedulable unit of execution.
type Process struct {
	PID    uint32
	Argv   []string
	Env    map[string]string

	mu        sync.Mutex
	status    Status
	keepAlive bool
	finished  bool
	exitCode  int
	entry     EntryFunc

	fdtable    *fdtable.Table
	fs         *vfs.VFS
	creds      vfs.Credentials
	log        *slog.Logger
	stdinIsTTY bool
	mgr        *Manager

	cancel context.CancelFunc
	done   chan struct{}

	subsMu sync.Mutex
	subs   []chan Event
}

// Manager owns every live Process, keyed by PID, with a monotonic
// 32-bit allocator that never hands out the same PID twice.
type Manager struct {
	mu      sync.Mutex
	procs   map[uint32]*Process
	nextPID atomic.Uint32
	log     *slog.Logger
}

// NewManager creates an empty process manager. PID 1 is reserved for
// the kernel's init process; Create hands out PIDs starting at 2.
func NewManager(log *slog.Logger) *Manager {
	m := &Manager{procs: map[uint32]*Process{}, log: log}
	m.nextPID.Store(1)
	return m
}

// Create instantiates a Process with its FDTable pre-populated; status
// is StatusPending until Start is invoked.
func (m *Manager) Create(opts Options) *Process {
	pid := m.nextPID.Add(1)
	p := &Process{
		PID:        pid,
		Argv:       opts.Argv,
		Env:        opts.Env,
		status:     StatusPending,
		entry:      opts.Entry,
		fdtable:    opts.FDTable,
		fs:         opts.FS,
		creds:      opts.Creds,
		log:        opts.Log,
		stdinIsTTY: opts.StdinIsTTY,
		mgr:        m,
		done:       make(chan struct{}),
	}
	m.mu.Lock()
	m.procs[pid] = p
	m.mu.Unlock()
	return p
}

// Get looks up a live process by PID.
func (m *Manager) Get(pid uint32) (*Process, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.procs[pid]
	return p, ok
}

// List returns every currently tracked process.
func (m *Manager) List() []*Process {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*Process, 0, len(m.procs))
	for _, p := range m.procs {
		out = append(out, p)
	}
	return out
}

// remove drops a process from the table once it has exited.
func (m *Manager) remove(pid uint32) {
	m.mu.Lock()
	delete(m.procs, pid)
	m.mu.Unlock()
}

// KeepAlive marks the process to remain running after its entry
// function returns; it then exits only via Exit or Stop. Daemons that
// install listeners and return use this.
func (p *Process) KeepAlive() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.keepAlive = true
}

// Status reports the process's current lifecycle state.
func (p *Process) Status() Status {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.status
}

// ExitCode reports the code the process exited with (valid once
// Status is StatusExited).
func (p *Process) ExitCode() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.exitCode
}

// FDTable returns the process's FD table.
func (p *Process) FDTable() *fdtable.Table { return p.fdtable }

// StdinIsTTY reports whether this process's stdin is the interactive
// terminal rather than a pipe or file.
func (p *Process) StdinIsTTY() bool { return p.stdinIsTTY }

// Subscribe returns a channel of lifecycle events for this process.
func (p *Process) Subscribe() (<-chan Event, func()) {
	ch := make(chan Event, 8)
	p.subsMu.Lock()
	p.subs = append(p.subs, ch)
	p.subsMu.Unlock()
	return ch, func() {
		p.subsMu.Lock()
		for i, c := range p.subs {
			if c == ch {
				p.subs = append(p.subs[:i], p.subs[i+1:]...)
				break
			}
		}
		p.subsMu.Unlock()
	}
}

func (p *Process) publish(ev Event) {
	p.subsMu.Lock()
	subs := append([]chan Event{}, p.subs...)
	p.subsMu.Unlock()
	for _, s := range subs {
		select {
		case s <- ev:
		default:
		}
	}
}

// Start invokes the entry function with an EntryParams envelope,
// awaits completion, and, unless keepAlive was set, runs cleanup and
// fires exit with the returned code (default 0). If the entry panics,
// the process exits with code 1 and the error is written to stderr if
// present, else logged. An empty pid file is created at /run/<pid> for
// the process's lifetime.
func (p *Process) Start(ctx context.Context) {
	p.mu.Lock()
	p.status = StatusRunning
	ctx, cancel := context.WithCancel(ctx)
	p.cancel = cancel
	entry := p.entry
	p.mu.Unlock()

	p.writePidFile()
	p.publish(Event{PID: p.PID, Kind: EventStart})

	go func() {
		defer close(p.done)
		code := p.runEntry(ctx, entry)

		p.mu.Lock()
		keepAlive := p.keepAlive
		p.mu.Unlock()

		if keepAlive {
			return
		}
		p.finish(code)
	}()
}

func (p *Process) runEntry(ctx context.Context, entry EntryFunc) (code int) {
	defer func() {
		if r := recover(); r != nil {
			err := fmt.Errorf("process %d panicked: %v", p.PID, r)
			if p.fdtable != nil && p.fdtable.Stderr != nil {
				if lockErr := p.fdtable.Stderr.Lock(); lockErr == nil {
					p.fdtable.Stderr.Write([]byte(err.Error() + "\n"))
					p.fdtable.Stderr.Unlock()
				}
			} else if p.log != nil {
				p.log.Error("process entry failed", "pid", p.PID, "error", err)
			}
			code = 1
		}
	}()
	if entry == nil {
		return 0
	}
	return entry(ctx, &EntryParams{
		PID:        p.PID,
		Argv:       p.Argv,
		Env:        p.Env,
		FDTable:    p.fdtable,
		FS:         p.fs,
		Creds:      p.creds,
		Proc:       p,
		StdinIsTTY: p.stdinIsTTY,
	})
}

// finish transitions the process to exited, closes its tracked
// handles, removes the pid file, and publishes the exit event.
func (p *Process) finish(code int) {
	p.mu.Lock()
	if p.finished {
		p.mu.Unlock()
		return
	}
	p.finished = true
	p.mu.Unlock()
	if p.fdtable != nil {
		p.fdtable.Cleanup()
	}
	p.removePidFile()
	p.mu.Lock()
	p.status = StatusExited
	p.exitCode = code
	p.mu.Unlock()
	p.publish(Event{PID: p.PID, Kind: EventExit, Code: code})
	if p.mgr != nil {
		p.mgr.remove(p.PID)
	}
}

// writePidFile creates the empty /run/<pid> marker. Best effort: a
// VFS without /run (bare Manager in tests) is not an error.
func (p *Process) writePidFile() {
	if p.fs == nil {
		return
	}
	path := fmt.Sprintf("/run/%d", p.PID)
	if err := p.fs.WriteFile(path, nil, p.creds); err != nil && p.log != nil {
		p.log.Debug("pid file not written", "path", path, "error", err)
	}
}

func (p *Process) removePidFile() {
	if p.fs == nil {
		return
	}
	p.fs.Unlink(fmt.Sprintf("/run/%d", p.PID))
}

// Exit force-exits a keepAlive process with the given code.
func (p *Process) Exit(code int) {
	p.mu.Lock()
	already := p.status == StatusExited
	cancel := p.cancel
	p.mu.Unlock()
	if already {
		return
	}
	if cancel != nil {
		cancel()
	}
	p.finish(code)
}

// Stop cancels the process's context and marks it stopped; a
// cooperative entry function is expected to observe ctx.Done and
// return promptly. A keepAlive daemon whose entry has already
// returned has nothing left to observe the cancellation, so Stop
// finishes it directly.
func (p *Process) Stop() {
	p.mu.Lock()
	p.status = StatusStopped
	cancel := p.cancel
	keepAlive := p.keepAlive
	p.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	p.publish(Event{PID: p.PID, Kind: EventStop})
	if keepAlive {
		select {
		case <-p.done:
			p.finish(130)
		default:
		}
	}
}

// Pause/Resume mark cooperative pause state; entry functions that poll
// IsPaused are expected to suspend their own work between the two.
func (p *Process) Pause() {
	p.mu.Lock()
	p.status = StatusPaused
	p.mu.Unlock()
	p.publish(Event{PID: p.PID, Kind: EventPause})
}

func (p *Process) Resume() {
	p.mu.Lock()
	p.status = StatusRunning
	p.mu.Unlock()
	p.publish(Event{PID: p.PID, Kind: EventResume})
}

// IsPaused reports whether the process is currently paused.
func (p *Process) IsPaused() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.status == StatusPaused
}

// Wait blocks until the process's entry function has returned (not
// necessarily until it has exited, for keepAlive processes).
func (p *Process) Wait() {
	<-p.done
}

// Open wraps the VFS open and registers the resulting handle with the
// process's FDTable, so it is closed on exit even if the caller forgets.
func (p *Process) Open(path string, flags vfs.OpenFlags) (vfs.Handle, error) {
	h, err := p.fs.Open(path, flags, p.creds)
	if err != nil {
		return nil, err
	}
	p.fdtable.TrackFileHandle(h)
	return h, nil
}

// Close untracks and closes a handle previously returned by Open.
func (p *Process) Close(h vfs.Handle) error {
	p.fdtable.UntrackFileHandle(h)
	return h.Close()
}
