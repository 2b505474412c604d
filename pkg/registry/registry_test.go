package registry

import (
	"context"
	"testing"

	"github.com/webos-run/webos/pkg/fdtable"
	"github.com/webos-run/webos/pkg/process"
	"github.com/webos-run/webos/pkg/vfs"
)

func TestParseArgsLongAndShortFlags(t *testing.T) {
	opts := []Option{
		{Name: "long", Type: OptionBool},
		{Name: "verbose", Alias: "v", Type: OptionBool},
		{Name: "name", Type: OptionString},
		{Name: "files", DefaultOption: true, Multiple: true},
	}
	parsed, err := ParseArgs(opts, []string{"--long", "-v", "--name=bob", "a.txt", "b.txt"})
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if !parsed.Bool("long") || !parsed.Bool("verbose") {
		t.Fatal("expected long and verbose flags set")
	}
	if parsed.String("name") != "bob" {
		t.Fatalf("got name=%q", parsed.String("name"))
	}
	if got := parsed.All("files"); len(got) != 2 || got[0] != "a.txt" || got[1] != "b.txt" {
		t.Fatalf("got files=%v", got)
	}
}

func TestParseArgsUnknownFlagErrors(t *testing.T) {
	if _, err := ParseArgs(nil, []string{"--nope"}); err == nil {
		t.Fatal("expected error for unknown flag")
	}
}

func TestRegisterAndLookup(t *testing.T) {
	r := New()
	r.Register(&Command{Name: "echo", Run: func(ctx context.Context, args ParsedArgs, proc *process.Process) int { return 0 }})
	if _, ok := r.Lookup("echo"); !ok {
		t.Fatal("expected echo to be registered")
	}
	if _, ok := r.Lookup("missing"); ok {
		t.Fatal("expected missing command to not be found")
	}
}

func TestDispatchReturnsExitCode(t *testing.T) {
	fs := vfs.New()
	creds := vfs.Credentials{UID: 0, GID: 0}
	tbl := fdtable.New(nil)
	mgr := process.NewManager(nil)

	cmd := &Command{
		Name: "true",
		Run:  func(ctx context.Context, args ParsedArgs, proc *process.Process) int { return 0 },
	}
	code := Dispatch(context.Background(), mgr, cmd, InvokeOptions{
		Argv: []string{"true"}, FDTable: tbl, FS: fs, Creds: creds,
	})
	if code != 0 {
		t.Fatalf("expected exit code 0, got %d", code)
	}
}

func TestDispatchBadFlagsExits2(t *testing.T) {
	fs := vfs.New()
	creds := vfs.Credentials{UID: 0, GID: 0}
	tbl := fdtable.New(nil)
	tbl.SetStderr(nil)
	mgr := process.NewManager(nil)

	cmd := &Command{Name: "x", Run: func(ctx context.Context, args ParsedArgs, proc *process.Process) int { return 0 }}
	code := Dispatch(context.Background(), mgr, cmd, InvokeOptions{
		Argv: []string{"x", "--unknown"}, FDTable: tbl, FS: fs, Creds: creds,
	})
	if code != 2 {
		t.Fatalf("expected exit code 2 for bad flags, got %d", code)
	}
}
