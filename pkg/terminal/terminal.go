// Package terminal implements the shared terminal surface: raw input
// capture with keystroke fan-out to every subscriber, an ANSI write
// surface backed by a VT100 emulator (for scrollback and reconnect
// snapshots), a line-editing readline, and an interrupt event bus.
package terminal

import (
	"io"
	"strings"
	"sync"
)

// KeyEvent is a structured raw-key notification independent of the
// byte stream, for full-screen UIs that want key names rather than
// raw bytes.
type KeyEvent struct {
	Name  string // e.g. "up", "down", "enter", "a"
	Ctrl  bool
	Alt   bool
	Shift bool
	Rune  rune
}

// EventKind enumerates the terminal's pub-sub bus events.
type EventKind int

const (
	EventInterrupt EventKind = iota
	EventResize
)

// Event is published on the terminal's event bus.
type Event struct {
	Kind EventKind
	Cols int // populated for EventResize
	Rows int
}

type subscriber struct {
	ch     chan []byte
	cancel chan struct{}
}

// Terminal is the shared surface between the shell, the foreground
// command, and any other input subscribers.
type Terminal struct {
	mu           sync.Mutex
	cols, rows   int
	vterm        *VTerm
	subscribers  map[*subscriber]struct{}
	keyListeners []func(KeyEvent)
	eventSubs    []chan Event
	listening    bool
	history      []string
	historyIdx   int
	outputTee    io.Writer
}

// New creates a terminal of the given geometry.
func New(cols, rows int) *Terminal {
	return &Terminal{
		cols:        cols,
		rows:        rows,
		vterm:       NewVTerm(cols, rows),
		subscribers: map[*subscriber]struct{}{},
		listening:   true,
	}
}

// Cols / Rows report current geometry.
func (t *Terminal) Cols() int { t.mu.Lock(); defer t.mu.Unlock(); return t.cols }
func (t *Terminal) Rows() int { t.mu.Lock(); defer t.mu.Unlock(); return t.rows }

// Resize updates geometry and notifies the event bus.
func (t *Terminal) Resize(cols, rows int) {
	t.mu.Lock()
	t.cols, t.rows = cols, rows
	t.vterm.Resize(cols, rows)
	t.mu.Unlock()
	t.publish(Event{Kind: EventResize, Cols: cols, Rows: rows})
}

// Write appends bytes to the render surface; ANSI escapes pass through
// to the underlying emulator untouched. When an output tee is set (see
// SetOutputTee) the same bytes are also copied there, which is how a
// real host tty mirrors the session.
func (t *Terminal) Write(p []byte) (int, error) {
	n, err := t.vterm.Write(p)
	t.mu.Lock()
	tee := t.outputTee
	t.mu.Unlock()
	if tee != nil {
		tee.Write(p)
	}
	return n, err
}

// SetOutputTee mirrors every Write to w in addition to the VT100
// emulator. A nil w disables mirroring.
func (t *Terminal) SetOutputTee(w io.Writer) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.outputTee = w
}

// Writeln writes p followed by a newline.
func (t *Terminal) Writeln(p string) {
	t.Write([]byte(p))
	t.Write([]byte("\r\n"))
}

// Snapshot returns a redraw payload suitable for a freshly (re)attached
// viewer: scrollback + grid repaint + cursor restore.
func (t *Terminal) Snapshot() []byte {
	return t.vterm.Snapshot()
}

// GetInputStream returns an independent byte-channel that will receive
// every keystroke this terminal emits, in order, until the returned
// cancel func is called. Every subscriber sees the same sequence.
func (t *Terminal) GetInputStream() (ch <-chan []byte, cancel func()) {
	sub := &subscriber{ch: make(chan []byte, 256), cancel: make(chan struct{})}
	t.mu.Lock()
	t.subscribers[sub] = struct{}{}
	t.mu.Unlock()
	return sub.ch, func() {
		t.mu.Lock()
		delete(t.subscribers, sub)
		t.mu.Unlock()
		close(sub.cancel)
	}
}

// Feed delivers raw input bytes from the host (keyboard, pty) to every
// current subscriber and, if Ctrl-C is present, publishes EventInterrupt.
func (t *Terminal) Feed(p []byte) {
	t.mu.Lock()
	subs := make([]*subscriber, 0, len(t.subscribers))
	for s := range t.subscribers {
		subs = append(subs, s)
	}
	t.mu.Unlock()

	for _, s := range subs {
		select {
		case s.ch <- p:
		case <-s.cancel:
		}
	}

	if strings.ContainsRune(string(p), 0x03) { // Ctrl-C
		t.publish(Event{Kind: EventInterrupt})
	}

	for _, b := range p {
		t.dispatchKey(b)
	}
}

func (t *Terminal) dispatchKey(b byte) {
	ev := byteToKeyEvent(b)
	t.mu.Lock()
	listeners := append([]func(KeyEvent){}, t.keyListeners...)
	t.mu.Unlock()
	for _, l := range listeners {
		l(ev)
	}
}

func byteToKeyEvent(b byte) KeyEvent {
	switch b {
	case 0x03:
		return KeyEvent{Name: "interrupt", Ctrl: true, Rune: 'c'}
	case '\r', '\n':
		return KeyEvent{Name: "enter"}
	case 0x7f, 0x08:
		return KeyEvent{Name: "backspace"}
	case 0x09:
		return KeyEvent{Name: "tab"}
	case 0x1b:
		return KeyEvent{Name: "escape"}
	default:
		return KeyEvent{Name: string(rune(b)), Rune: rune(b)}
	}
}

// OnKey registers a structured key-event listener, independent of the
// raw byte stream.
func (t *Terminal) OnKey(cb func(KeyEvent)) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.keyListeners = append(t.keyListeners, cb)
}

// Subscribe returns a channel of bus events (interrupt/resize).
func (t *Terminal) Subscribe() (<-chan Event, func()) {
	ch := make(chan Event, 16)
	t.mu.Lock()
	t.eventSubs = append(t.eventSubs, ch)
	t.mu.Unlock()
	return ch, func() {
		t.mu.Lock()
		for i, c := range t.eventSubs {
			if c == ch {
				t.eventSubs = append(t.eventSubs[:i], t.eventSubs[i+1:]...)
				break
			}
		}
		t.mu.Unlock()
	}
}

func (t *Terminal) publish(ev Event) {
	t.mu.Lock()
	subs := append([]chan Event{}, t.eventSubs...)
	t.mu.Unlock()
	for _, s := range subs {
		select {
		case s <- ev:
		default:
		}
	}
}

// Unlisten temporarily suspends the foreground line editor. A
// full-screen UI (less, vim) takes over raw input via GetInputStream
// directly until it calls Listen to resume line discipline; only one
// foreground owner drives line discipline at a time.
func (t *Terminal) Unlisten() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.listening = false
}

// Listen resumes line discipline ownership.
func (t *Terminal) Listen() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.listening = true
}

// Listening reports whether the line editor currently owns input.
func (t *Terminal) Listening() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.listening
}

// History returns the line editor's command history, oldest first.
func (t *Terminal) History() []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]string{}, t.history...)
}

// AppendHistory records a line executed in the line editor.
func (t *Terminal) AppendHistory(line string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.history = append(t.history, line)
	t.historyIdx = len(t.history)
}

// Close releases the underlying emulator.
func (t *Terminal) Close() error {
	return t.vterm.Close()
}
