package shell

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/webos-run/webos/pkg/fdtable"
	"github.com/webos-run/webos/pkg/process"
	"github.com/webos-run/webos/pkg/registry"
	"github.com/webos-run/webos/pkg/stream"
	"github.com/webos-run/webos/pkg/terminal"
	"github.com/webos-run/webos/pkg/vfs"
)

// Session is the ShellSession of the glossary: `{cwd, env, positional
// params, history, context: {fs, credentials}}`. One Session exists
// per login shell or subshell.
type Session struct {
	mu sync.Mutex

	cwd    string
	env    map[string]string
	envOrd []string // insertion order, for `export`/`env` listing

	positional []string
	lastExit   int

	fs      *vfs.VFS
	creds   vfs.Credentials
	home    string
	pid     uint32

	registry *registry.Registry
	manager  *process.Manager
	term     *terminal.Terminal
	fdtable  *fdtable.Table
	log      *slog.Logger

	// stdinTTY records whether this session's own stdin is the
	// interactive terminal; pipeline stages after the first never are.
	stdinTTY bool

	historyPath string
	history     []string

	// aliases maps a bare-word command name to its replacement text
	// (builtin `alias`/`unalias`).
	aliases map[string]string

	exitRequested bool
	exitCode      int
}

// ExitRequested reports whether the `exit` builtin has run in this
// session, and the code it set.
func (s *Session) ExitRequested() (bool, int) { return s.exitRequested, s.exitCode }

// Options configures a new Session.
type Options struct {
	FS       *vfs.VFS
	Creds    vfs.Credentials
	Home     string
	PID      uint32
	Registry *registry.Registry
	Manager  *process.Manager
	Term     *terminal.Terminal
	FDTable  *fdtable.Table
	Log      *slog.Logger
	Env      map[string]string

	// StdinIsTTY marks the session's stdin as the interactive
	// terminal rather than a pipe or file.
	StdinIsTTY bool
}

// New constructs a login shell session rooted at home, loading
// $HOME/.shell_history if present.
func New(opts Options) *Session {
	s := &Session{
		cwd:      opts.Home,
		env:      map[string]string{},
		fs:       opts.FS,
		creds:    opts.Creds,
		home:     opts.Home,
		pid:      opts.PID,
		registry: opts.Registry,
		manager:  opts.Manager,
		term:     opts.Term,
		fdtable:  opts.FDTable,
		log:      opts.Log,
		stdinTTY: opts.StdinIsTTY,
		aliases:  map[string]string{},
	}
	for k, v := range opts.Env {
		s.setEnv(k, v)
	}
	if _, ok := s.env["HOME"]; !ok {
		s.setEnv("HOME", opts.Home)
	}
	s.historyPath = s.home + "/.shell_history"
	if data, err := s.fs.ReadFile(s.historyPath, s.creds); err == nil {
		s.history = splitLines(string(data))
	}
	return s
}

func splitLines(s string) []string {
	var lines []string
	start := 0
	for i := 0; i < len(s); i++ {
		if s[i] == '\n' {
			if i > start {
				lines = append(lines, s[start:i])
			}
			start = i + 1
		}
	}
	if start < len(s) {
		lines = append(lines, s[start:])
	}
	return lines
}

func (s *Session) setEnv(k, v string) {
	if _, ok := s.env[k]; !ok {
		s.envOrd = append(s.envOrd, k)
	}
	s.env[k] = v
}

func (s *Session) unsetEnv(k string) {
	if _, ok := s.env[k]; !ok {
		return
	}
	delete(s.env, k)
	for i, name := range s.envOrd {
		if name == k {
			s.envOrd = append(s.envOrd[:i], s.envOrd[i+1:]...)
			break
		}
	}
}

// Env returns a copy of the current environment in insertion order,
// as export/env listing requires.
func (s *Session) Env() []string {
	out := make([]string, 0, len(s.envOrd))
	for _, k := range s.envOrd {
		out = append(out, fmt.Sprintf("%s=%s", k, s.env[k]))
	}
	return out
}

func (s *Session) envMap() map[string]string {
	m := make(map[string]string, len(s.env))
	for k, v := range s.env {
		m[k] = v
	}
	return m
}

// Cwd returns the session's current working directory.
func (s *Session) Cwd() string { return s.cwd }

// LastExitCode reports `$?`.
func (s *Session) LastExitCode() int { return s.lastExit }

// setPositionalParameters replaces `$1..$n` and `$#`.
func (s *Session) setPositionalParameters(args []string) {
	s.positional = append([]string(nil), args...)
}

// clearPositionalParameters restores an empty positional list.
func (s *Session) clearPositionalParameters() {
	s.positional = nil
}

// appendHistory records line in both the in-memory and on-disk
// history. Subshells carry no history path and record nothing.
func (s *Session) appendHistory(line string) {
	if line == "" || s.historyPath == "" {
		return
	}
	s.history = append(s.history, line)
	if s.term != nil {
		s.term.AppendHistory(line)
	}
	if err := s.fs.AppendFile(s.historyPath, []byte(line+"\n"), s.creds); err != nil && s.log != nil {
		s.log.Warn("shell: append history failed", "error", err)
	}
}

// History returns the session's accumulated command history.
func (s *Session) History() []string { return append([]string(nil), s.history...) }

// Run parses and executes one input line, returning its final exit
// code. `$?` is updated to that code before returning.
func (s *Session) Run(ctx context.Context, line string) int {
	s.appendHistory(line)

	parsed, err := Parse(line)
	if err != nil {
		s.writeStderr(fmt.Sprintf("shell: %v", err))
		s.lastExit = 2
		return s.lastExit
	}

	code := 0
	for _, stage := range parsed.Stages {
		switch stage.Op {
		case OpAnd:
			if code != 0 {
				continue
			}
		case OpOr:
			if code == 0 {
				continue
			}
		}
		code = s.runPipeline(ctx, stage.Pipeline)
	}
	s.lastExit = code
	return code
}

func (s *Session) writeStderr(line string) {
	if s.fdtable == nil || s.fdtable.Stderr == nil {
		return
	}
	registry.WritelnStderr(s.fdtable, line)
}

func (s *Session) writeStdout(line string) {
	if s.fdtable == nil || s.fdtable.Stdout == nil {
		return
	}
	registry.WritelnStdout(s.fdtable, line)
}

// captureOutput runs line in a sub-shell, returning its stdout with
// the trailing newline stripped, for `$(…)` substitution.
func (s *Session) captureOutput(ctx context.Context, line string) (string, error) {
	sub := s.subshell()

	w, r := stream.Pipe(256)
	tbl := fdtable.New(s.log)
	tbl.SetStdin(s.fdtable.Stdin)
	tbl.SetStdout(w)
	tbl.SetStderr(s.fdtable.Stderr)
	sub.fdtable = tbl

	done := make(chan []byte, 1)
	go func() {
		b, _ := stream.ReadAll(r)
		done <- b
	}()

	sub.Run(ctx, line)
	w.Close()

	out := <-done
	return trimTrailingNewline(string(out)), nil
}

func trimTrailingNewline(s string) string {
	if len(s) > 0 && s[len(s)-1] == '\n' {
		s = s[:len(s)-1]
	}
	return s
}

// subshell returns a Session sharing this one's fs/registry/manager
// but with its own env/cwd copy, for command substitution and
// backgrounded pipelines.
func (s *Session) subshell() *Session {
	sub := &Session{
		cwd:        s.cwd,
		env:        s.envMap(),
		envOrd:     append([]string(nil), s.envOrd...),
		positional: append([]string(nil), s.positional...),
		fs:         s.fs,
		creds:      s.creds,
		home:       s.home,
		pid:        s.pid,
		registry:   s.registry,
		manager:    s.manager,
		term:       s.term,
		fdtable:    s.fdtable,
		log:        s.log,
		stdinTTY:   s.stdinTTY,
		aliases:    s.aliases,
	}
	return sub
}
