package shell

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/webos-run/webos/pkg/fdtable"
	"github.com/webos-run/webos/pkg/process"
	"github.com/webos-run/webos/pkg/registry"
	"github.com/webos-run/webos/pkg/stream"
	"github.com/webos-run/webos/pkg/vfs"
)

// registerTestCommands installs the minimal true/false/echo set a real
// boot wires via kernel.RegisterCoreCommands, duplicated here rather
// than imported since pkg/kernel imports pkg/shell.
func registerTestCommands(reg *registry.Registry) {
	reg.Register(&registry.Command{
		Name: "true",
		Run:  func(ctx context.Context, args registry.ParsedArgs, proc *process.Process) int { return 0 },
	})
	reg.Register(&registry.Command{
		Name: "false",
		Run:  func(ctx context.Context, args registry.ParsedArgs, proc *process.Process) int { return 1 },
	})
	reg.Register(&registry.Command{
		Name: "echo",
		Options: []registry.Option{
			{Name: "words", DefaultOption: true, Multiple: true},
		},
		Run: func(ctx context.Context, args registry.ParsedArgs, proc *process.Process) int {
			registry.WritelnStdout(proc.FDTable(), strings.Join(args.All("words"), " "))
			return 0
		},
	})
}

func newTestSession(t *testing.T) *Session {
	t.Helper()
	fs := vfs.New()
	creds := vfs.Credentials{UID: 0, GID: 0}
	if err := fs.Mkdir("/home/root", true, creds); err != nil {
		t.Fatalf("mkdir home: %v", err)
	}
	if err := fs.Mkdir("/bin", true, creds); err != nil {
		t.Fatalf("mkdir bin: %v", err)
	}

	reg := registry.New()
	registerTestCommands(reg)

	tbl := fdtable.New(nil)

	s := New(Options{
		FS:       fs,
		Creds:    creds,
		Home:     "/home/root",
		PID:      1,
		Registry: reg,
		Manager:  process.NewManager(nil),
		FDTable:  tbl,
		Env:      map[string]string{"PATH": "/bin"},
	})
	return s
}

func TestCdAndPwd(t *testing.T) {
	s := newTestSession(t)
	if err := s.fs.Mkdir("/home/root/sub", true, s.creds); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if code := s.Run(context.Background(), "cd sub"); code != 0 {
		t.Fatalf("cd sub: exit %d", code)
	}
	if s.Cwd() != "/home/root/sub" {
		t.Fatalf("cwd = %q, want /home/root/sub", s.Cwd())
	}
	if code := s.Run(context.Background(), "cd .."); code != 0 {
		t.Fatalf("cd ..: exit %d", code)
	}
	if s.Cwd() != "/home/root" {
		t.Fatalf("cwd after cd .. = %q", s.Cwd())
	}
}

func TestCdNotADirectory(t *testing.T) {
	s := newTestSession(t)
	if err := s.fs.WriteFile("/home/root/file.txt", []byte("x"), s.creds); err != nil {
		t.Fatalf("write: %v", err)
	}
	if code := s.Run(context.Background(), "cd file.txt"); code != 1 {
		t.Fatalf("cd into a file: exit %d, want 1", code)
	}
}

func TestExportAndParamExpansion(t *testing.T) {
	s := newTestSession(t)
	if code := s.Run(context.Background(), "export FOO=bar"); code != 0 {
		t.Fatalf("export: exit %d", code)
	}
	out, err := s.captureOutput(context.Background(), "echo $FOO")
	if err != nil {
		t.Fatalf("capture: %v", err)
	}
	if out != "bar" {
		t.Fatalf("echo $FOO = %q, want bar", out)
	}
}

func TestUnquotedGlobExpandsAgainstCwd(t *testing.T) {
	s := newTestSession(t)
	if err := s.fs.Mkdir("/home/root/docs", true, s.creds); err != nil {
		t.Fatalf("mkdir docs: %v", err)
	}
	for _, name := range []string{"/home/root/a.txt", "/home/root/b.txt", "/home/root/c.md", "/home/root/docs/z.txt"} {
		if err := s.fs.WriteFile(name, []byte("x"), s.creds); err != nil {
			t.Fatalf("write %s: %v", name, err)
		}
	}

	// Glob from a non-root cwd must list that cwd, not the VFS root,
	// and must yield bare relative names rather than absolutized ones
	// (regression coverage for the cwd-aware glob fix).
	out, err := s.captureOutput(context.Background(), "echo *.txt")
	if err != nil {
		t.Fatalf("capture: %v", err)
	}
	got := strings.Fields(out)
	want := []string{"a.txt", "b.txt"}
	if len(got) != len(want) || got[0] != want[0] || got[1] != want[1] {
		t.Fatalf("echo *.txt = %v, want %v", got, want)
	}

	// Descending into docs/, the same pattern must glob docs/, not /.
	if code := s.Run(context.Background(), "cd docs"); code != 0 {
		t.Fatalf("cd docs: exit %d", code)
	}
	out, err = s.captureOutput(context.Background(), "echo *.txt")
	if err != nil {
		t.Fatalf("capture: %v", err)
	}
	if strings.TrimSpace(out) != "z.txt" {
		t.Fatalf("echo *.txt in docs = %q, want z.txt", out)
	}
}

func TestGlobWithNoMatchReturnsLiteralPattern(t *testing.T) {
	s := newTestSession(t)
	out, err := s.captureOutput(context.Background(), "echo *.nope")
	if err != nil {
		t.Fatalf("capture: %v", err)
	}
	if out != "*.nope" {
		t.Fatalf("echo *.nope = %q, want literal *.nope", out)
	}
}

func TestPipelineBetweenTwoRegisteredCommands(t *testing.T) {
	s := newTestSession(t)
	out, err := s.captureOutput(context.Background(), "echo one two | echo three")
	if err != nil {
		t.Fatalf("capture: %v", err)
	}
	// echo ignores stdin, so the pipeline's observable result is its
	// last stage's own argv; this exercises pipe wiring and stage
	// dispatch ordering without depending on an external "cat".
	if out != "three" {
		t.Fatalf("pipeline output = %q, want three", out)
	}
}

func TestRedirectionWritesFile(t *testing.T) {
	s := newTestSession(t)
	if code := s.Run(context.Background(), "echo hi > out.txt"); code != 0 {
		t.Fatalf("redir: exit %d", code)
	}
	data, err := s.fs.ReadFile("/home/root/out.txt", s.creds)
	if err != nil {
		t.Fatalf("readfile: %v", err)
	}
	if strings.TrimRight(string(data), "\n") != "hi" {
		t.Fatalf("out.txt = %q, want hi", string(data))
	}

	if code := s.Run(context.Background(), "echo there >> out.txt"); code != 0 {
		t.Fatalf("append redir: exit %d", code)
	}
	data, err = s.fs.ReadFile("/home/root/out.txt", s.creds)
	if err != nil {
		t.Fatalf("readfile after append: %v", err)
	}
	if string(data) != "hi\nthere\n" {
		t.Fatalf("out.txt after append = %q", string(data))
	}
}

func TestInputRedirectionFeedsStdinUntilEOF(t *testing.T) {
	s := newTestSession(t)
	if err := s.fs.WriteFile("/home/root/in.txt", []byte("first\nsecond\n"), s.creds); err != nil {
		t.Fatalf("write: %v", err)
	}

	// slurp drains its stdin to EOF and echoes it back; it only
	// terminates if the `<file` pump closes the stream once the file
	// is exhausted.
	s.registry.Register(&registry.Command{
		Name: "slurp",
		Run: func(ctx context.Context, args registry.ParsedArgs, proc *process.Process) int {
			data, err := stream.ReadAll(proc.FDTable().Stdin)
			if err != nil {
				return 1
			}
			proc.FDTable().Stdout.Lock()
			proc.FDTable().Stdout.Write(data)
			proc.FDTable().Stdout.Unlock()
			return 0
		},
	})

	done := make(chan string, 1)
	go func() {
		out, err := s.captureOutput(context.Background(), "slurp < in.txt")
		if err != nil {
			done <- "error: " + err.Error()
			return
		}
		done <- out
	}()

	select {
	case out := <-done:
		if out != "first\nsecond" {
			t.Fatalf("slurp < in.txt = %q, want file contents", out)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("slurp < in.txt never terminated; input pump did not close at EOF")
	}
}

func TestCommandNotFoundExitsWith127(t *testing.T) {
	s := newTestSession(t)
	if code := s.Run(context.Background(), "definitely-not-a-real-binary"); code != 127 {
		t.Fatalf("exit = %d, want 127", code)
	}
}

func TestPathResolutionRequiresExecutableBit(t *testing.T) {
	s := newTestSession(t)
	if err := s.fs.WriteFile("/bin/mytool", []byte("#!/bin/sh\n"), s.creds); err != nil {
		t.Fatalf("write: %v", err)
	}
	if _, ok := s.resolvePath("mytool"); ok {
		t.Fatalf("resolvePath found a non-executable file")
	}
	if code := s.Run(context.Background(), "mytool"); code != 127 {
		t.Fatalf("non-exec mytool: exit %d, want 127", code)
	}
	if err := s.fs.Chmod("/bin/mytool", vfs.ModeUserExec|vfs.ModeUserRead|vfs.ModeUserWrite); err != nil {
		t.Fatalf("chmod: %v", err)
	}
	if path, ok := s.resolvePath("mytool"); !ok || path != "/bin/mytool" {
		t.Fatalf("resolvePath(mytool) = %q, %v", path, ok)
	}
}

func TestAliasExpandsSingleStageCommand(t *testing.T) {
	s := newTestSession(t)
	if code := s.Run(context.Background(), "alias greet=echo"); code != 0 {
		t.Fatalf("alias: exit %d", code)
	}
	out, err := s.captureOutput(context.Background(), "greet hi there")
	if err != nil {
		t.Fatalf("capture: %v", err)
	}
	if out != "hi there" {
		t.Fatalf("greet hi there = %q", out)
	}
}

func TestExitBuiltinSetsRequestAndCode(t *testing.T) {
	s := newTestSession(t)
	s.Run(context.Background(), "exit 7")
	requested, code := s.ExitRequested()
	if !requested || code != 7 {
		t.Fatalf("ExitRequested = %v, %d, want true, 7", requested, code)
	}
}

func TestAndOrControlFlow(t *testing.T) {
	s := newTestSession(t)
	if code := s.Run(context.Background(), "true && echo ok"); code != 0 {
		t.Fatalf("true && echo ok: exit %d", code)
	}
	if code := s.Run(context.Background(), "false || echo fallback"); code != 0 {
		t.Fatalf("false || echo fallback: exit %d", code)
	}
}

func TestStdinTTYOnlyForFirstUnredirectedStage(t *testing.T) {
	s := newTestSession(t)
	s.stdinTTY = true
	s.registry.Register(&registry.Command{
		Name: "istty",
		Run: func(ctx context.Context, args registry.ParsedArgs, proc *process.Process) int {
			if proc.StdinIsTTY() {
				registry.WritelnStdout(proc.FDTable(), "tty")
			} else {
				registry.WritelnStdout(proc.FDTable(), "pipe")
			}
			return 0
		},
	})

	out, err := s.captureOutput(context.Background(), "istty")
	if err != nil {
		t.Fatalf("capture: %v", err)
	}
	if out != "tty" {
		t.Fatalf("istty alone = %q, want tty", out)
	}

	out, err = s.captureOutput(context.Background(), "echo x | istty")
	if err != nil {
		t.Fatalf("capture: %v", err)
	}
	if out != "pipe" {
		t.Fatalf("istty after a pipe = %q, want pipe", out)
	}
}

func TestExportThenUnsetEnv(t *testing.T) {
	s := newTestSession(t)
	if code := s.Run(context.Background(), "export NAME=val"); code != 0 {
		t.Fatalf("export: exit %d", code)
	}
	if code := s.Run(context.Background(), "unset NAME"); code != 0 {
		t.Fatalf("unset: exit %d", code)
	}
	out, err := s.captureOutput(context.Background(), "echo [$NAME]")
	if err != nil {
		t.Fatalf("capture: %v", err)
	}
	if out != "[]" {
		t.Fatalf("echo after unset = %q, want []", out)
	}
}
