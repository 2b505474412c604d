package terminal

import (
	"context"
	"strings"
)

// Completer is the Tab completion hook: it suggests a completion for
// the text preceding the cursor, returning the full replacement line,
// or ok=false if it has no suggestion.
type Completer func(line string, cursor int) (completed string, newCursor int, ok bool)

// ReadlineOptions configures a single readline invocation.
type ReadlineOptions struct {
	Prompt     string
	Echo       bool // false for password entry
	AllowEmpty bool
	Completer  Completer
}

// Readline runs an in-terminal line editor: history navigation with
// Up/Down, Backspace/Delete, Left/Right cursor movement, an optional
// Tab completion hook, and returns the finished line on Enter. It
// takes foreground ownership via Listen/Unlisten so only one reader
// drives line discipline at a time.
func (t *Terminal) Readline(ctx context.Context, opts ReadlineOptions) (string, error) {
	t.Listen()
	defer t.Unlisten()

	ch, cancel := t.GetInputStream()
	defer cancel()

	if opts.Prompt != "" {
		t.Write([]byte(opts.Prompt))
	}

	var buf []rune
	cursor := 0
	histPos := len(t.History())

	redraw := func() {
		t.Write([]byte("\r\x1b[K"))
		t.Write([]byte(opts.Prompt))
		if opts.Echo {
			t.Write([]byte(string(buf)))
		} else {
			t.Write([]byte(strings.Repeat("*", len(buf))))
		}
		for back := len(buf) - cursor; back > 0; back-- {
			t.Write([]byte("\x1b[D"))
		}
	}

	for {
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case p, ok := <-ch:
			if !ok {
				return "", context.Canceled
			}
			for i := 0; i < len(p); i++ {
				b := p[i]
				switch {
				case b == '\r' || b == '\n':
					line := string(buf)
					if line == "" && !opts.AllowEmpty {
						continue
					}
					t.Write([]byte("\r\n"))
					return line, nil

				case b == 0x7f || b == 0x08: // backspace
					if cursor > 0 {
						buf = append(buf[:cursor-1], buf[cursor:]...)
						cursor--
						redraw()
					}

				case b == 0x04: // EOT/Ctrl-D
					if len(buf) == 0 {
						return "", context.Canceled
					}

				case b == 0x09: // tab
					if opts.Completer != nil {
						if completed, nc, ok := opts.Completer(string(buf), cursor); ok {
							buf = []rune(completed)
							cursor = nc
							redraw()
						}
					}

				case b == 0x1b: // escape sequence: arrow keys
					if i+2 < len(p) && p[i+1] == '[' {
						switch p[i+2] {
						case 'A': // up
							hist := t.History()
							if histPos > 0 {
								histPos--
								buf = []rune(hist[histPos])
								cursor = len(buf)
								redraw()
							}
						case 'B': // down
							hist := t.History()
							if histPos < len(hist)-1 {
								histPos++
								buf = []rune(hist[histPos])
								cursor = len(buf)
							} else {
								histPos = len(hist)
								buf = nil
								cursor = 0
							}
							redraw()
						case 'C': // right
							if cursor < len(buf) {
								cursor++
								t.Write([]byte("\x1b[C"))
							}
						case 'D': // left
							if cursor > 0 {
								cursor--
								t.Write([]byte("\x1b[D"))
							}
						}
						i += 2
					}

				default:
					r := rune(b)
					buf = append(buf[:cursor], append([]rune{r}, buf[cursor:]...)...)
					cursor++
					redraw()
				}
			}
		}
	}
}
