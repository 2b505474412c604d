package terminal

import (
	"fmt"
	"strings"
	"sync"

	uv "github.com/charmbracelet/ultraviolet"
	"github.com/charmbracelet/x/vt"
)

// defaultScrollback bounds how many lines a VTerm keeps once they have
// scrolled off the visible grid. Generous enough that interactive
// sessions rarely notice the cutoff.
const defaultScrollback = 50000

// VTerm wraps charmbracelet/x/vt's VT100/ANSI emulator with a bounded
// scrollback ring fed by the emulator's ScrollOut callback, and a
// Snapshot primitive that replays scrollback-plus-grid as a single
// ANSI payload, which is what a reattaching terminal consumer needs
// to redraw.
type VTerm struct {
	mu  sync.Mutex
	emu *vt.Emulator

	ring    []string
	cap     int
	next    int  // ring write cursor
	count   int  // entries currently held, <= cap
	suspend bool // true while the alt-screen is active: ScrollOut is dropped

	cursorHidden bool
	cols, rows   int
}

// NewVTerm creates a VTerm with the given dimensions and the default
// scrollback bound.
func NewVTerm(cols, rows int) *VTerm {
	return newVTerm(cols, rows, defaultScrollback)
}

func newVTerm(cols, rows, scrollback int) *VTerm {
	v := &VTerm{
		emu:  vt.NewEmulator(cols, rows),
		ring: make([]string, scrollback),
		cap:  scrollback,
		cols: cols,
		rows: rows,
	}
	v.emu.SetCallbacks(vt.Callbacks{
		ScrollOut:        v.onScrollOut,
		ScrollbackClear:  v.onScrollbackClear,
		AltScreen:        func(on bool) { v.suspend = on },
		CursorVisibility: func(visible bool) { v.cursorHidden = !visible },
	})
	return v
}

// onScrollOut runs with mu already held (inside Write) since the
// emulator invokes callbacks synchronously from the same call.
func (v *VTerm) onScrollOut(lines []uv.Line) {
	if v.suspend {
		return
	}
	for _, line := range lines {
		v.pushScrollback(line.Render())
	}
}

func (v *VTerm) onScrollbackClear() {
	for i := range v.ring {
		v.ring[i] = ""
	}
	v.count = 0
	v.next = 0
}

func (v *VTerm) pushScrollback(rendered string) {
	v.ring[v.next] = rendered
	v.next = (v.next + 1) % v.cap
	if v.count < v.cap {
		v.count++
	}
}

// Write feeds terminal output (from a command, pipeline stage, or host
// keyboard echo) into the emulator.
func (v *VTerm) Write(p []byte) (int, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.emu.Write(p)
}

// Resize changes the terminal dimensions.
func (v *VTerm) Resize(cols, rows int) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.emu.Resize(cols, rows)
	v.cols, v.rows = cols, rows
}

// Snapshot returns a redraw payload for a freshly (re)attached
// consumer: scrollback replay, a full grid repaint, and the cursor's
// position/visibility restored, all as plain ANSI any VT100-capable
// consumer can render directly.
func (v *VTerm) Snapshot() []byte {
	v.mu.Lock()
	defer v.mu.Unlock()

	var buf strings.Builder
	v.writeScrollback(&buf)
	v.writeGrid(&buf)
	v.writeCursor(&buf)
	return []byte(buf.String())
}

// writeScrollback replays every retained line, then pads with enough
// blank lines to push the grid repaint that follows into the
// consumer's native scrollback region rather than overwriting it.
func (v *VTerm) writeScrollback(buf *strings.Builder) {
	lines := v.orderedScrollback()
	for _, line := range lines {
		buf.WriteString(line)
		buf.WriteString("\r\n")
	}
	if len(lines) == 0 {
		return
	}
	for i := 0; i < v.rows-1; i++ {
		buf.WriteByte('\n')
	}
}

func (v *VTerm) writeGrid(buf *strings.Builder) {
	buf.WriteString("\x1b[m\x1b[H")
	buf.WriteString(v.emu.Render())
}

func (v *VTerm) writeCursor(buf *strings.Builder) {
	pos := v.emu.CursorPosition()
	fmt.Fprintf(buf, "\x1b[%d;%dH", pos.Y+1, pos.X+1)
	if v.cursorHidden {
		buf.WriteString("\x1b[?25l")
	} else {
		buf.WriteString("\x1b[?25h")
	}
}

// ScrollbackLen returns the number of scrollback lines currently held.
func (v *VTerm) ScrollbackLen() int {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.count
}

// Close releases the underlying emulator.
func (v *VTerm) Close() error {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.emu.Close()
}

// orderedScrollback returns the retained lines oldest-first. Caller
// must hold mu.
func (v *VTerm) orderedScrollback() []string {
	if v.count == 0 {
		return nil
	}
	out := make([]string, v.count)
	start := (v.next - v.count + v.cap) % v.cap
	for i := 0; i < v.count; i++ {
		out[i] = v.ring[(start+i)%v.cap]
	}
	return out
}
