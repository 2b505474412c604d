// Command webos boots the kernel against a real host directory and a
// real host tty, then runs the login shell interactively until the
// user exits or the process is signalled.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"

	"golang.org/x/term"

	"github.com/spf13/cobra"

	"github.com/webos-run/webos/pkg/kernel"
	"github.com/webos-run/webos/pkg/shell"
	"github.com/webos-run/webos/pkg/terminal"
	"github.com/webos-run/webos/pkg/vfs"
)

func main() {
	var rootDir, configPath, bootUser, bootPassword string

	root := &cobra.Command{
		Use:   "webos",
		Short: "a browser-hosted UNIX environment, booted against a real host directory and tty",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runInteractive(rootDir, configPath, bootUser, bootPassword)
		},
	}
	root.Flags().StringVar(&rootDir, "root", ".", "host directory mounted as the environment's /")
	root.Flags().StringVar(&configPath, "config", defaultConfigPath(), "path to the YAML config file")
	root.Flags().StringVar(&bootUser, "user", "root", "username to log in as at boot")
	root.Flags().StringVar(&bootPassword, "password", "webos", "password for the boot user (used to log in, and to create the user if missing)")

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func defaultConfigPath() string {
	return filepath.Join(vfs.UserHomeFallback(), ".webos", "config.yaml")
}

func runInteractive(rootDir, configPath, bootUser, bootPassword string) error {
	absRoot, err := filepath.Abs(rootDir)
	if err != nil {
		return fmt.Errorf("resolve root: %w", err)
	}
	osDriver, err := vfs.NewOSDriver(absRoot)
	if err != nil {
		return fmt.Errorf("mount %s: %w", absRoot, err)
	}

	cfg, err := kernel.LoadConfig(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	cols, rows := 80, 24
	if w, h, err := term.GetSize(int(os.Stdin.Fd())); err == nil && w > 0 && h > 0 {
		cols, rows = w, h
	}

	opts := kernel.BootOptions{
		Config:             cfg,
		RootDriver:         osDriver,
		BootUser:           bootUser,
		BootPassword:       bootPassword,
		AutoCreateBootUser: true,
		Cols:               cols,
		Rows:               rows,
	}

	k, err := kernel.New(opts)
	if err != nil {
		return fmt.Errorf("construct kernel: %w", err)
	}
	defer k.Shutdown()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	sess, err := k.Boot(ctx, opts)
	if err != nil {
		return fmt.Errorf("boot: %w", err)
	}

	return runTTYLoop(ctx, k, sess)
}

// runTTYLoop puts the real stdin into raw mode, wires raw bytes in
// both directions between it and the kernel's Terminal, and drives the
// login shell's read-eval loop until `exit` runs or the tty closes.
func runTTYLoop(ctx context.Context, k *kernel.Kernel, sess *shell.Session) error {
	fd := int(os.Stdin.Fd())
	if term.IsTerminal(fd) {
		state, err := term.MakeRaw(fd)
		if err != nil {
			return fmt.Errorf("raw mode: %w", err)
		}
		defer term.Restore(fd, state)
	}

	k.Term.SetOutputTee(os.Stdout)
	defer k.Term.SetOutputTee(nil)

	go pumpStdin(k.Term)

	for {
		if done, code := sess.ExitRequested(); done {
			if code != 0 {
				return fmt.Errorf("exit %d", code)
			}
			return nil
		}

		line, err := k.Term.Readline(ctx, terminal.ReadlineOptions{
			Prompt:     sess.Cwd() + " $ ",
			Echo:       true,
			AllowEmpty: true,
		})
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return nil
		}
		if line == "" {
			continue
		}
		sess.Run(ctx, line)
	}
}

// pumpStdin feeds raw host-tty bytes into the terminal's keystroke
// broadcast until stdin closes.
func pumpStdin(t *terminal.Terminal) {
	buf := make([]byte, 256)
	for {
		n, err := os.Stdin.Read(buf)
		if n > 0 {
			chunk := make([]byte, n)
			copy(chunk, buf[:n])
			t.Feed(chunk)
		}
		if err != nil {
			return
		}
	}
}
