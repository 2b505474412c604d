package registry

import (
	"context"
	"fmt"

	"github.com/webos-run/webos/pkg/fdtable"
	"github.com/webos-run/webos/pkg/process"
	"github.com/webos-run/webos/pkg/stream"
	"github.com/webos-run/webos/pkg/terminal"
	"github.com/webos-run/webos/pkg/vfs"
)

// InvokeOptions supplies everything Dispatch needs to run a single
// registered command.
type InvokeOptions struct {
	Argv       []string
	Env        map[string]string
	FDTable    *fdtable.Table
	FS         *vfs.VFS
	Creds      vfs.Credentials
	Term       *terminal.Terminal // optional; nil when not run interactively
	StdinIsTTY bool
}

// Dispatch allocates a process for cmd, parses argv against its
// declared Option schema, installs an interrupt subscription for the
// call site, and awaits Run, returning its exit code.
func Dispatch(ctx context.Context, manager *process.Manager, cmd *Command, opts InvokeOptions) int {
	parsed, err := ParseArgs(cmd.Options, opts.Argv[1:])
	if err != nil {
		if opts.FDTable != nil && opts.FDTable.Stderr != nil {
			WritelnStderr(opts.FDTable, err.Error())
		}
		return 2
	}

	proc := manager.Create(process.Options{
		Argv:       opts.Argv,
		Env:        opts.Env,
		FDTable:    opts.FDTable,
		FS:         opts.FS,
		Creds:      opts.Creds,
		StdinIsTTY: opts.StdinIsTTY,
		Entry: func(ctx context.Context, params *process.EntryParams) int {
			return cmd.Run(ctx, parsed, params.Proc)
		},
	})

	if opts.Term != nil {
		events, cancel := opts.Term.Subscribe()
		stopWatch := make(chan struct{})
		go func() {
			for {
				select {
				case ev, ok := <-events:
					if !ok {
						return
					}
					if ev.Kind == terminal.EventInterrupt {
						proc.Stop()
						return
					}
				case <-stopWatch:
					return
				}
			}
		}()
		defer func() {
			close(stopWatch)
			cancel()
		}()
	}

	proc.Start(ctx)
	proc.Wait()
	return proc.ExitCode()
}

// WritelnStdout / WritelnStderr write one line with a trailing newline
// to the process's FD table streams, releasing the lock they acquire
// even on a write error.
func WritelnStdout(tbl *fdtable.Table, line string) error {
	return writeln(tbl.Stdout, line)
}

func WritelnStderr(tbl *fdtable.Table, line string) error {
	return writeln(tbl.Stderr, line)
}

func writeln(w *stream.Writable, line string) error {
	if w == nil {
		return nil
	}
	if err := w.Lock(); err != nil {
		return fmt.Errorf("registry: lock stream: %w", err)
	}
	defer w.Unlock()
	_, err := w.Write([]byte(line + "\n"))
	return err
}
