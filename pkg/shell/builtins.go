package shell

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/webos-run/webos/pkg/fdtable"
	"github.com/webos-run/webos/pkg/vfs"
)

type builtinFunc func(s *Session, ctx context.Context, argv []string, tbl *fdtable.Table) int

// builtins run in-process without spawning a Process: cd, pwd,
// export, unset, alias, unalias, history, exit, read, set, ./source.
var builtins map[string]builtinFunc

func init() {
	builtins = map[string]builtinFunc{
		"cd":      builtinCd,
		"pwd":     builtinPwd,
		"export":  builtinExport,
		"unset":   builtinUnset,
		"alias":   builtinAlias,
		"unalias": builtinUnalias,
		"history": builtinHistory,
		"exit":    builtinExit,
		"read":    builtinRead,
		"set":     builtinSet,
		".":       builtinSource,
		"source":  builtinSource,
	}
}

func builtinCd(s *Session, ctx context.Context, argv []string, tbl *fdtable.Table) int {
	target := s.home
	if len(argv) > 1 {
		target = argv[1]
	}
	path := vfs.Clean(target, s.cwd, s.home)
	st, err := s.fs.Stat(path)
	if err != nil {
		s.writeToStderrTable(tbl, fmt.Sprintf("cd: %s: %v", target, err))
		return 1
	}
	if st.Type != vfs.TypeDir {
		s.writeToStderrTable(tbl, fmt.Sprintf("cd: %s: not a directory", target))
		return 1
	}
	s.cwd = path
	return 0
}

func builtinPwd(s *Session, ctx context.Context, argv []string, tbl *fdtable.Table) int {
	writelnTable(tbl, s.cwd)
	return 0
}

func builtinExport(s *Session, ctx context.Context, argv []string, tbl *fdtable.Table) int {
	if len(argv) == 1 {
		for _, line := range s.Env() {
			writelnTable(tbl, "export "+line)
		}
		return 0
	}
	for _, arg := range argv[1:] {
		name, value, ok := strings.Cut(arg, "=")
		if !ok {
			continue
		}
		s.setEnv(name, value)
	}
	return 0
}

func builtinUnset(s *Session, ctx context.Context, argv []string, tbl *fdtable.Table) int {
	for _, name := range argv[1:] {
		s.unsetEnv(name)
	}
	return 0
}

func builtinAlias(s *Session, ctx context.Context, argv []string, tbl *fdtable.Table) int {
	if len(argv) == 1 {
		for name, value := range s.aliases {
			writelnTable(tbl, fmt.Sprintf("alias %s=%q", name, value))
		}
		return 0
	}
	for _, arg := range argv[1:] {
		name, value, ok := strings.Cut(arg, "=")
		if !ok {
			continue
		}
		s.aliases[name] = value
	}
	return 0
}

func builtinUnalias(s *Session, ctx context.Context, argv []string, tbl *fdtable.Table) int {
	for _, name := range argv[1:] {
		delete(s.aliases, name)
	}
	return 0
}

func builtinHistory(s *Session, ctx context.Context, argv []string, tbl *fdtable.Table) int {
	for i, line := range s.history {
		writelnTable(tbl, fmt.Sprintf("%5d  %s", i+1, line))
	}
	return 0
}

func builtinExit(s *Session, ctx context.Context, argv []string, tbl *fdtable.Table) int {
	code := s.lastExit
	if len(argv) > 1 {
		if n, err := strconv.Atoi(argv[1]); err == nil {
			code = n
		}
	}
	s.exitRequested = true
	s.exitCode = code
	return code
}

func builtinRead(s *Session, ctx context.Context, argv []string, tbl *fdtable.Table) int {
	if tbl.Stdin == nil {
		return 1
	}
	if err := tbl.Stdin.Lock(); err != nil {
		return 1
	}
	defer tbl.Stdin.Unlock()
	chunk, err := tbl.Stdin.Read()
	if err != nil && len(chunk) == 0 {
		return 1
	}
	line := strings.TrimRight(string(chunk), "\n")
	fields := strings.Fields(line)
	names := argv[1:]
	if len(names) == 0 {
		s.setEnv("REPLY", line)
		return 0
	}
	for i, name := range names {
		if i < len(fields) {
			if i == len(names)-1 {
				s.setEnv(name, strings.Join(fields[i:], " "))
			} else {
				s.setEnv(name, fields[i])
			}
		} else {
			s.setEnv(name, "")
		}
	}
	return 0
}

// builtinSet handles `set -- args...`, replacing the positional
// parameters. Bare `set` with no args is a no-op here;
// full shell-option support is out of scope.
func builtinSet(s *Session, ctx context.Context, argv []string, tbl *fdtable.Table) int {
	if len(argv) == 1 {
		return 0
	}
	args := argv[1:]
	if len(args) > 0 && args[0] == "--" {
		args = args[1:]
	}
	if len(args) == 0 {
		s.clearPositionalParameters()
		return 0
	}
	s.setPositionalParameters(args)
	return 0
}

// builtinSource reads a file and runs each line in the current
// session, so assignments and `cd` affect the caller.
func builtinSource(s *Session, ctx context.Context, argv []string, tbl *fdtable.Table) int {
	if len(argv) < 2 {
		s.writeToStderrTable(tbl, "source: filename required")
		return 1
	}
	path := vfs.Clean(argv[1], s.cwd, s.home)
	data, err := s.fs.ReadFile(path, s.creds)
	if err != nil {
		s.writeToStderrTable(tbl, fmt.Sprintf("source: %s: %v", argv[1], err))
		return 1
	}
	saved := s.positional
	s.setPositionalParameters(argv[2:])
	defer func() { s.positional = saved }()
	code := 0
	for _, line := range splitLines(string(data)) {
		if strings.TrimSpace(line) == "" || strings.HasPrefix(strings.TrimSpace(line), "#") {
			continue
		}
		code = s.Run(ctx, line)
	}
	return code
}

func writelnTable(tbl *fdtable.Table, line string) {
	if tbl == nil || tbl.Stdout == nil {
		return
	}
	if err := tbl.Stdout.Lock(); err != nil {
		return
	}
	defer tbl.Stdout.Unlock()
	tbl.Stdout.Write([]byte(line + "\n"))
}
