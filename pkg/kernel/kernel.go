// Package kernel wires the runtime together: it constructs and owns
// the services of pkg/vfs, pkg/fdtable, pkg/process, pkg/users,
// pkg/shell, pkg/registry, pkg/cron, pkg/terminal, and pkg/socket,
// and runs the boot sequence. One Kernel value is constructed at boot
// and passed down by reference; there are no package-level singletons.
package kernel

import (
	"context"
	"crypto/rand"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/webos-run/webos/pkg/cron"
	"github.com/webos-run/webos/pkg/fdtable"
	"github.com/webos-run/webos/pkg/process"
	"github.com/webos-run/webos/pkg/registry"
	"github.com/webos-run/webos/pkg/shell"
	"github.com/webos-run/webos/pkg/terminal"
	"github.com/webos-run/webos/pkg/users"
	"github.com/webos-run/webos/pkg/vfs"
)

// BootOptions configures a Kernel before Boot runs.
type BootOptions struct {
	Config Config

	// RootDriver backs "/"; nil uses an in-memory MemDriver (the
	// default for tests and the browser-hosted target). cmd/webos
	// mounts a real OS directory here for a host-backed session.
	RootDriver vfs.Driver

	// DevDriver backs "/dev"; nil uses vfs.NewDevDriver's standard
	// pseudo-devices.
	DevDriver vfs.Driver

	// BootUser/BootPassword authenticate the session Boot creates.
	// If BootUser names a user that does not yet exist and
	// AutoCreateBootUser is set, Boot creates it as uid 0.
	BootUser           string
	BootPassword       string
	AutoCreateBootUser bool

	Cols, Rows int // initial terminal geometry
}

// Kernel is the runtime's service locator: one value constructed at
// boot, passed by shared reference, holding every service.
type Kernel struct {
	Config Config
	Log    *slog.Logger

	FS       *vfs.VFS
	Procs    *process.Manager
	Users    *users.DB
	Passkeys *users.PasskeyManager
	Sessions *users.SessionStore
	Registry *registry.Registry
	Cron     *cron.Scheduler
	Term     *terminal.Terminal

	// SessionToken is the signed JWT minted for the boot login;
	// empty if the session store could not be opened
	// (openSessionStore logs and degrades rather than failing Boot).
	SessionToken string

	logCloser     io.Closer
	sessionSecret []byte

	bootCreds vfs.Credentials
	bootUser  users.User
}

// New constructs every service but does not yet boot: no files read,
// no users loaded, no listeners started. Callers must call Boot
// before using the Kernel.
func New(opts BootOptions) (*Kernel, error) {
	log, closer, err := NewLogger(opts.Config.LogLevel, opts.Config.LogFile)
	if err != nil {
		return nil, fmt.Errorf("kernel: init logger: %w", err)
	}

	fs := vfs.New()
	if opts.RootDriver != nil {
		fs.Mount("/", opts.RootDriver)
	}

	k := &Kernel{
		Config:    opts.Config,
		Log:       log,
		logCloser: closer,
		FS:        fs,
		Procs:     process.NewManager(log),
		Registry:  registry.New(),
		Term:      terminal.New(opts.Cols, opts.Rows),
	}
	k.Cron = cron.New(fs, log)
	return k, nil
}

// Boot runs the six-step boot sequence:
//  1. mount the root VFS with configured backends
//  2. load users from /etc/passwd+/etc/shadow (create defaults if absent)
//  3. authenticate the configured boot credentials and create the login shell
//  4. register the command set
//  5. load /etc/crontab and user crontab, reload scheduler
//  6. start the terminal listener
func (k *Kernel) Boot(ctx context.Context, opts BootOptions) (*shell.Session, error) {
	if err := k.mountBackends(opts); err != nil {
		return nil, fmt.Errorf("kernel: mount: %w", err)
	}

	if err := k.loadUsers(opts); err != nil {
		return nil, fmt.Errorf("kernel: load users: %w", err)
	}

	sess, err := k.authenticateAndCreateShell(opts)
	if err != nil {
		return nil, fmt.Errorf("kernel: boot login: %w", err)
	}

	RegisterCoreCommands(k.Registry)

	if err := k.reloadCron(); err != nil {
		k.Log.Warn("cron reload failed at boot", "error", err)
	}

	k.startTerminalListener(ctx)

	k.Log.Info("kernel booted", "user", k.bootUser.Username, "uid", k.bootUser.UID)
	return sess, nil
}

// mountBackends is Boot step 1: attach /dev and create the standard
// top-level directories. Distinct prefixes never race with each other,
// so the skeleton directories are created concurrently.
func (k *Kernel) mountBackends(opts BootOptions) error {
	dev := opts.DevDriver
	if dev == nil {
		dev = vfs.NewDevDriver()
	}
	k.FS.Mount("/dev", dev)

	root := vfs.Credentials{UID: 0, GID: 0}
	var g errgroup.Group
	for _, dir := range []string{"/etc", "/bin", "/home", "/tmp", "/run"} {
		dir := dir
		g.Go(func() error {
			if err := k.FS.Mkdir(dir, true, root); err != nil {
				return fmt.Errorf("mkdir %s: %w", dir, err)
			}
			return nil
		})
	}
	return g.Wait()
}

// loadUsers is Boot step 2.
func (k *Kernel) loadUsers(opts BootOptions) error {
	db, err := users.Open(k.FS)
	if err != nil {
		return err
	}
	k.Users = db

	pk, err := users.NewPasskeyManager(k.FS, opts.Config.RPID, opts.Config.RPOrigins)
	if err != nil {
		return err
	}
	k.Passkeys = pk
	return nil
}

// authenticateAndCreateShell is Boot step 3. When BootUser is absent
// from /etc/passwd and AutoCreateBootUser is set, a uid-0 default user
// is created first, so a fresh image boots without manual setup.
func (k *Kernel) authenticateAndCreateShell(opts BootOptions) (*shell.Session, error) {
	if opts.BootUser == "" {
		opts.BootUser = "root"
	}
	if _, ok := k.Users.Get(opts.BootUser); !ok {
		if !opts.AutoCreateBootUser {
			return nil, fmt.Errorf("boot user %q does not exist", opts.BootUser)
		}
		home := "/home/" + opts.BootUser
		if opts.BootUser == "root" {
			home = "/root"
		}
		u := users.User{
			Username: opts.BootUser,
			UID:      0,
			GID:      0,
			Home:     home,
			Shell:    opts.Config.Shell,
		}
		if err := k.Users.Add(u, opts.BootPassword); err != nil {
			return nil, err
		}
		root := vfs.Credentials{UID: 0, GID: 0}
		if err := k.FS.Mkdir(home, true, root); err != nil {
			return nil, err
		}
	}

	result, err := k.Users.Login(opts.BootUser, opts.BootPassword)
	if err != nil {
		return nil, err
	}
	k.bootCreds = vfs.Credentials{UID: result.Credentials.UID, GID: result.Credentials.GID}
	k.bootUser = result.User

	if err := k.openSessionStore(result.User); err != nil {
		k.Log.Warn("session store unavailable", "error", err)
	}

	tbl := fdtable.New(k.Log)
	k.wireStdio(tbl)

	env := map[string]string{}
	if data, err := k.FS.ReadFile("/etc/env", k.bootCreds); err == nil {
		for _, e := range vfs.ParseEnvFile(string(data)) {
			env[e.Key] = e.Value
		}
	}
	env["HOME"] = result.User.Home
	env["USER"] = result.User.Username
	env["HOSTNAME"] = k.Config.Hostname
	env["SHELL"] = result.User.Shell
	env["TERM"] = "xterm-256color"
	env["PS1"] = "$ "
	env["EDITOR"] = k.Config.Editor
	env["PATH"] = expandHomeVar(k.Config.Path, result.User.Home)

	sess := shell.New(shell.Options{
		FS:         k.FS,
		Creds:      k.bootCreds,
		Home:       result.User.Home,
		PID:        1,
		Registry:   k.Registry,
		Manager:    k.Procs,
		Term:       k.Term,
		FDTable:    tbl,
		Log:        k.Log,
		Env:        env,
		StdinIsTTY: true,
	})
	return sess, nil
}

// openSessionStore opens the SQLite-backed session store at
// Config.SessionDBPath and mints a session JWT for the boot login.
// The store lives on the real host filesystem rather than the
// simulated VFS, since SQLite needs an actual file descriptor.
func (k *Kernel) openSessionStore(u users.User) error {
	hostHome, err := os.UserHomeDir()
	if err != nil {
		return fmt.Errorf("resolve host home dir: %w", err)
	}
	hostPath := expandHomeVar(k.Config.SessionDBPath, hostHome)
	if err := os.MkdirAll(filepath.Dir(hostPath), 0o700); err != nil {
		return fmt.Errorf("mkdir session db dir: %w", err)
	}

	store, err := users.OpenSessionStore(hostPath)
	if err != nil {
		return err
	}
	k.Sessions = store

	secret := make([]byte, 32)
	if _, err := rand.Read(secret); err != nil {
		return fmt.Errorf("generate session secret: %w", err)
	}
	k.sessionSecret = secret

	token, tokenID, expiresAt, err := users.IssueSessionToken(secret, u, 24*time.Hour)
	if err != nil {
		return err
	}
	if err := store.PutSession(tokenID, u.Username, u.UID, u.GID, expiresAt.Unix()); err != nil {
		return fmt.Errorf("record session: %w", err)
	}
	k.SessionToken = token
	return nil
}

// wireStdio connects the terminal's keystroke broadcast and ANSI write
// surface to tbl's stdin/stdout/stderr. The input subscription this
// creates is one fan-out branch; other subscribers keep receiving the
// same bytes.
func (k *Kernel) wireStdio(tbl *fdtable.Table) {
	ch, _ := k.Term.GetInputStream()
	tbl.SetStdin(pipeFromChannel(ch))

	out := writerToTerminal(k.Term)
	tbl.SetStdout(out)
	tbl.SetStderr(out)
}

// reloadCron is Boot step 5.
func (k *Kernel) reloadCron() error {
	return k.Cron.Reload(k.bootUser.Home, k.bootCreds, func(command string) error {
		sub := shell.New(shell.Options{
			FS:       k.FS,
			Creds:    k.bootCreds,
			Home:     k.bootUser.Home,
			PID:      0,
			Registry: k.Registry,
			Manager:  k.Procs,
			FDTable:  fdtable.New(k.Log),
			Log:      k.Log,
			Env:      map[string]string{"HOME": k.bootUser.Home},
		})
		code := sub.Run(context.Background(), command)
		if code != 0 {
			return fmt.Errorf("cron command exited %d", code)
		}
		return nil
	}, func(name string, err error) {
		k.Log.Error("cron job failed", "job", name, "error", err)
	})
}

// startTerminalListener is Boot step 6: resume the terminal's line
// discipline and start the cron ticker. Driving the login shell's
// readline loop is left to the caller, since only it knows whether
// stdio is a real host tty.
func (k *Kernel) startTerminalListener(ctx context.Context) {
	k.Term.Listen()
	go k.Cron.Start(ctx)
}

// Shutdown stops the scheduler, closes the session store, and flushes
// the log file, in roughly the reverse order Boot constructed them.
func (k *Kernel) Shutdown() error {
	k.Cron.Stop()
	if k.Sessions != nil {
		k.Sessions.Close()
	}
	return k.logCloser.Close()
}

func expandHomeVar(path, home string) string {
	out := ""
	for i := 0; i < len(path); i++ {
		if path[i] == '$' && i+5 <= len(path) && path[i:i+5] == "$HOME" {
			out += home
			i += 4
			continue
		}
		out += string(path[i])
	}
	return out
}
