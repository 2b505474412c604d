package process

import (
	"context"
	"errors"
	"io"
	"os/exec"

	"github.com/creack/pty"

	"github.com/webos-run/webos/pkg/stream"
)

// RunPTY launches cmd attached to a real pseudo-terminal instead of
// plain pipes, and copies bytes between it and in/out until the
// process exits. This backs full-screen external commands (vim, less,
// top) that need a controlling tty to do their own raw-mode rendering.
func RunPTY(ctx context.Context, cmd *exec.Cmd, in *stream.Readable, out *stream.Writable) (int, error) {
	f, err := pty.Start(cmd)
	if err != nil {
		return 1, err
	}
	defer f.Close()

	go func() {
		<-ctx.Done()
		if cmd.Process != nil {
			cmd.Process.Kill()
		}
	}()

	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			if in == nil {
				return
			}
			if lockErr := in.Lock(); lockErr != nil {
				return
			}
			chunk, readErr := in.Read()
			in.Unlock()
			if len(chunk) > 0 {
				if _, writeErr := f.Write(chunk); writeErr != nil {
					return
				}
			}
			if readErr != nil {
				return
			}
		}
	}()

	go func() {
		buf := make([]byte, 4096)
		for {
			n, readErr := f.Read(buf)
			if n > 0 && out != nil {
				if lockErr := out.Lock(); lockErr == nil {
					out.Write(buf[:n])
					out.Unlock()
				}
			}
			if readErr != nil {
				return
			}
		}
	}()

	waitErr := cmd.Wait()
	f.Close()
	<-done

	if waitErr == nil {
		return 0, nil
	}
	var exitErr *exec.ExitError
	if errors.As(waitErr, &exitErr) {
		return exitErr.ExitCode(), nil
	}
	if errors.Is(waitErr, io.EOF) {
		return 0, nil
	}
	return 1, waitErr
}
