package kernel

import (
	"context"
	"strings"

	"github.com/webos-run/webos/pkg/process"
	"github.com/webos-run/webos/pkg/registry"
)

// RegisterCoreCommands installs the handful of commands the runtime
// itself guarantees: true, false, and echo. Richer utilities register
// themselves through the same Registry at boot.
func RegisterCoreCommands(reg *registry.Registry) {
	reg.Register(&registry.Command{
		Name:        "true",
		Description: "return success",
		Run:         func(ctx context.Context, args registry.ParsedArgs, proc *process.Process) int { return 0 },
	})
	reg.Register(&registry.Command{
		Name:        "false",
		Description: "return failure",
		Run:         func(ctx context.Context, args registry.ParsedArgs, proc *process.Process) int { return 1 },
	})
	reg.Register(&registry.Command{
		Name:        "echo",
		Description: "write arguments to stdout",
		Options: []registry.Option{
			{Name: "n", Alias: "n", Type: registry.OptionBool, Description: "suppress trailing newline"},
			{Name: "words", DefaultOption: true, Multiple: true},
		},
		Run: func(ctx context.Context, args registry.ParsedArgs, proc *process.Process) int {
			line := strings.Join(args.All("words"), " ")
			if args.Bool("n") {
				if proc.FDTable().Stdout != nil {
					proc.FDTable().Stdout.Lock()
					proc.FDTable().Stdout.Write([]byte(line))
					proc.FDTable().Stdout.Unlock()
				}
				return 0
			}
			registry.WritelnStdout(proc.FDTable(), line)
			return 0
		},
	})
}
