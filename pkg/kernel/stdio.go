package kernel

import (
	"github.com/webos-run/webos/pkg/stream"
	"github.com/webos-run/webos/pkg/terminal"
)

// pipeFromChannel adapts the terminal's keystroke broadcast channel
// into a pkg/stream Readable, so a process's FDTable.Stdin can use the
// same single-consumer lock discipline as every other stream in the
// kernel.
func pipeFromChannel(ch <-chan []byte) *stream.Readable {
	w, r := stream.Pipe(64)
	go func() {
		defer w.Close()
		for b := range ch {
			if err := w.Lock(); err != nil {
				return
			}
			_, err := w.Write(b)
			w.Unlock()
			if err != nil {
				return
			}
		}
	}()
	return r
}

// writerToTerminal adapts the terminal's ANSI write surface into a
// pkg/stream Writable, so a process's FDTable.Stdout/Stderr can write
// to the terminal through the same stream contract used for pipes and
// files.
func writerToTerminal(t *terminal.Terminal) *stream.Writable {
	w, r := stream.Pipe(256)
	go func() {
		for {
			if err := r.Lock(); err != nil {
				return
			}
			chunk, err := r.Read()
			r.Unlock()
			if len(chunk) > 0 {
				t.Write(chunk)
			}
			if err != nil {
				return
			}
		}
	}()
	return w
}
