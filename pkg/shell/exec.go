package shell

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"

	"github.com/webos-run/webos/pkg/fdtable"
	"github.com/webos-run/webos/pkg/process"
	"github.com/webos-run/webos/pkg/registry"
	"github.com/webos-run/webos/pkg/stream"
	"github.com/webos-run/webos/pkg/vfs"
)

// runPipeline builds N-1 pipes for an N-command pipeline, wires each
// command's FDTable, applies per-command redirections, and dispatches
// every stage concurrently, returning the exit code of the pipeline's
// last command.
func (s *Session) runPipeline(ctx context.Context, pl Pipeline) int {
	run := func() int {
		n := len(pl.Commands)
		tables := make([]*fdtable.Table, n)
		for i := range tables {
			tables[i] = fdtable.New(s.log)
			tables[i].SetStdin(s.fdtable.Stdin)
			tables[i].SetStdout(s.fdtable.Stdout)
			tables[i].SetStderr(s.fdtable.Stderr)
		}

		var pipeWriters []*stream.Writable
		for i := 0; i < n-1; i++ {
			w, r := stream.Pipe(64)
			tables[i].SetStdout(w)
			tables[i+1].SetStdin(r)
			pipeWriters = append(pipeWriters, w)
		}

		// outWriters[i] holds the output-redirection Writables command i
		// owns (distinct from pipeWriters, which wire stage-to-stage).
		// They must be closed the moment command i finishes so the file
		// pump backing them sees EOF, and settled must be awaited before
		// any closer runs so a caller never observes a half-flushed file.
		outWriters := make([][]*stream.Writable, n)
		var settled []<-chan struct{}
		for i, cmd := range pl.Commands {
			writers, waits, closers, err := s.applyRedirections(cmd, tables[i])
			if err != nil {
				s.writeStderr(fmt.Sprintf("shell: %v", err))
				return 1
			}
			outWriters[i] = writers
			settled = append(settled, waits...)
			defer func(cs []func()) {
				for _, c := range cs {
					c()
				}
			}(closers)
		}

		codes := make([]int, n)
		done := make(chan struct{}, n)
		for i, cmd := range pl.Commands {
			i, cmd := i, cmd
			stdinTTY := i == 0 && s.stdinTTY && !redirectsStdin(cmd)
			go func() {
				codes[i] = s.runCommand(ctx, cmd, tables[i], stdinTTY)
				if i < len(pipeWriters) {
					pipeWriters[i].Close()
				}
				for _, w := range outWriters[i] {
					w.Close()
				}
				done <- struct{}{}
			}()
		}
		for range pl.Commands {
			<-done
		}
		for _, w := range settled {
			<-w
		}
		return codes[n-1]
	}

	if pl.Background {
		go run()
		return 0
	}
	return run()
}

// applyRedirections opens the files a command's Redirections name and
// rewires tbl's streams accordingly. It returns the output-redirection
// Writables the caller must Close once the command finishes (so the
// backing file pump sees EOF), a channel per pump that closes once that
// pump has drained and closed its file handle, and cleanup funcs to run
// only after every such channel has fired. "2>&1" aliases stderr to
// stdout's current identity.
func (s *Session) applyRedirections(cmd Command, tbl *fdtable.Table) (outWriters []*stream.Writable, settled []<-chan struct{}, closers []func(), err error) {
	for _, redir := range cmd.Redirs {
		switch redir.Kind {
		case RedirIn:
			path := vfs.Clean(redir.Target, s.cwd, s.home)
			h, openErr := s.fs.Open(path, vfs.OpenFlags{Read: true}, s.creds)
			if openErr != nil {
				return outWriters, settled, closers, fmt.Errorf("%s: %w", redir.Target, openErr)
			}
			w, r := stream.Pipe(64)
			tbl.SetStdin(r)
			go pumpFileToStream(h, w)
			closers = append(closers, func() { s.fs.Close(h) })

		case RedirOut, RedirAppend:
			path := vfs.Clean(redir.Target, s.cwd, s.home)
			flags := vfs.OpenFlags{Write: true, Create: true}
			if redir.Kind == RedirAppend {
				flags.Append = true
			} else {
				flags.Truncate = true
			}
			h, openErr := s.fs.Open(path, flags, s.creds)
			if openErr != nil {
				return outWriters, settled, closers, fmt.Errorf("%s: %w", redir.Target, openErr)
			}
			w, r := stream.Pipe(64)
			tbl.SetStdout(w)
			outWriters = append(outWriters, w)
			done := pumpStreamToFile(r, h)
			settled = append(settled, done)

		case RedirErr:
			path := vfs.Clean(redir.Target, s.cwd, s.home)
			h, openErr := s.fs.Open(path, vfs.OpenFlags{Write: true, Create: true, Truncate: true}, s.creds)
			if openErr != nil {
				return outWriters, settled, closers, fmt.Errorf("%s: %w", redir.Target, openErr)
			}
			w, r := stream.Pipe(64)
			tbl.SetStderr(w)
			outWriters = append(outWriters, w)
			done := pumpStreamToFile(r, h)
			settled = append(settled, done)

		case RedirErrToOut:
			tbl.RedirectStderrToStdout()
		}
	}
	return outWriters, settled, closers, nil
}

// pumpFileToStream copies h into w until end-of-data. VFS handles
// report exhaustion as a zero-byte read with a nil error, so both
// that and an explicit error terminate the pump.
func pumpFileToStream(h vfs.Handle, w *stream.Writable) {
	defer w.Close()
	buf := make([]byte, 4096)
	var offset int64
	for {
		n, err := h.ReadAt(buf, offset)
		if n > 0 {
			if lockErr := w.Lock(); lockErr == nil {
				w.Write(buf[:n])
				w.Unlock()
			}
			offset += int64(n)
		}
		if err != nil || n == 0 {
			return
		}
	}
}

// pumpStreamToFile drains r into h until EOF, then closes h and the
// returned channel, so callers can wait for the write to actually land
// before treating the redirected command as finished.
func pumpStreamToFile(r *stream.Readable, h vfs.Handle) <-chan struct{} {
	done := make(chan struct{})
	go func() {
		defer close(done)
		defer h.Close()
		var offset int64
		for {
			if err := r.Lock(); err != nil {
				return
			}
			chunk, err := r.Read()
			r.Unlock()
			if len(chunk) > 0 {
				n, _ := h.WriteAt(chunk, offset)
				offset += int64(n)
			}
			if err != nil {
				return
			}
		}
	}()
	return done
}

// redirectsStdin reports whether cmd takes its stdin from a file.
func redirectsStdin(cmd Command) bool {
	for _, r := range cmd.Redirs {
		if r.Kind == RedirIn {
			return true
		}
	}
	return false
}

// runCommand dispatches one command: strip leading assignments, check
// builtins, else the registry, else PATH, else "command not found"
// (exit 127).
func (s *Session) runCommand(ctx context.Context, cmd Command, tbl *fdtable.Table, stdinTTY bool) int {
	env, argv, err := s.expandWords(ctx, cmd)
	if err != nil {
		s.writeToStderrTable(tbl, fmt.Sprintf("shell: %v", err))
		return 1
	}
	if len(argv) == 0 {
		for k, v := range env {
			s.setEnv(k, v)
		}
		return 0
	}

	if alias, ok := s.aliases[argv[0]]; ok {
		aliasLine, err := Parse(alias)
		if err == nil && len(aliasLine.Stages) == 1 && len(aliasLine.Stages[0].Pipeline.Commands) == 1 {
			aliased := aliasLine.Stages[0].Pipeline.Commands[0]
			aliased.Words = append(aliased.Words, cmd.Words[1:]...)
			return s.runCommand(ctx, aliased, tbl, stdinTTY)
		}
	}

	name := argv[0]

	if fn, ok := builtins[name]; ok {
		return fn(s, ctx, argv, tbl)
	}

	callerEnv := s.envMap()
	for k, v := range env {
		callerEnv[k] = v
	}

	if cmd2, ok := s.registry.Lookup(name); ok {
		return registry.Dispatch(ctx, s.manager, cmd2, registry.InvokeOptions{
			Argv:       argv,
			Env:        callerEnv,
			FDTable:    tbl,
			FS:         s.fs,
			Creds:      s.creds,
			Term:       s.term,
			StdinIsTTY: stdinTTY,
		})
	}

	if path, ok := s.resolvePath(name); ok {
		return s.runExternal(ctx, path, argv, callerEnv, tbl)
	}

	s.writeToStderrTable(tbl, fmt.Sprintf("%s: command not found", name))
	return 127
}

func (s *Session) writeToStderrTable(tbl *fdtable.Table, line string) {
	if tbl == nil || tbl.Stderr == nil {
		return
	}
	registry.WritelnStderr(tbl, line)
}

// resolvePath searches PATH (from the session's env) on the VFS for
// an executable file named name.
func (s *Session) resolvePath(name string) (string, bool) {
	if strings.Contains(name, "/") {
		path := vfs.Clean(name, s.cwd, s.home)
		if st, err := s.fs.Stat(path); err == nil && st.Type == vfs.TypeFile {
			return path, true
		}
		return "", false
	}
	pathVar := s.env["PATH"]
	for _, dir := range strings.Split(pathVar, ":") {
		if dir == "" {
			continue
		}
		candidate := dir + "/" + name
		if st, err := s.fs.Stat(candidate); err == nil && st.Type == vfs.TypeFile && st.Mode&vfs.ModeUserExec != 0 {
			return candidate, true
		}
	}
	return "", false
}

// fullScreenCommands need a real controlling tty for their own
// raw-mode rendering, so runExternal gives them a pty instead of
// plain pipes.
var fullScreenCommands = map[string]bool{
	"vim": true, "vi": true, "less": true, "more": true, "top": true, "nano": true,
}

// runExternal launches path as a host OS process via
// process.ExternalRunner, wiring its stdio to tbl's streams. Used for
// executables the VFS exposes that are not registered commands.
func (s *Session) runExternal(ctx context.Context, path string, argv []string, env map[string]string, tbl *fdtable.Table) int {
	runner := process.NewExternalRunner()
	c, err := runner.Command(ctx, path, argv[1:])
	if err != nil {
		s.writeToStderrTable(tbl, fmt.Sprintf("%s: %v", path, err))
		return 126
	}
	for k, v := range env {
		c.Env = append(c.Env, k+"="+v)
	}

	if fullScreenCommands[argv[0]] {
		if s.term != nil {
			s.term.Unlisten()
			defer s.term.Listen()
		}
		code, runErr := process.RunPTY(ctx, c, tbl.Stdin, tbl.Stdout)
		if runErr != nil && code == 1 {
			s.writeToStderrTable(tbl, fmt.Sprintf("%s: %v", path, runErr))
		}
		return code
	}

	var stdout, stderr bytes.Buffer
	c.Stdout = &stdout
	c.Stderr = &stderr
	err = c.Run()
	writeBufToStream(tbl.Stdout, stdout.Bytes())
	writeBufToStream(tbl.Stderr, stderr.Bytes())
	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			return exitErr.ExitCode()
		}
		s.writeToStderrTable(tbl, fmt.Sprintf("%s: %v", path, err))
		return 1
	}
	return 0
}

func writeBufToStream(w *stream.Writable, p []byte) {
	if w == nil || len(p) == 0 {
		return
	}
	if err := w.Lock(); err != nil {
		return
	}
	defer w.Unlock()
	w.Write(p)
}
