package kernel

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/webos-run/webos/pkg/users"
	"github.com/webos-run/webos/pkg/vfs"
)

func testBootOptions(t *testing.T) BootOptions {
	cfg := defaultConfig()
	cfg.LogLevel = "error"
	cfg.SessionDBPath = filepath.Join(t.TempDir(), "sessions.db")
	return BootOptions{
		Config:             cfg,
		BootUser:           "root",
		BootPassword:       "hunter2",
		AutoCreateBootUser: true,
		Cols:               80,
		Rows:               24,
	}
}

func TestBootCreatesDefaultUserAndShell(t *testing.T) {
	opts := testBootOptions(t)
	k, err := New(opts)
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	defer k.Shutdown()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sess, err := k.Boot(ctx, opts)
	if err != nil {
		t.Fatalf("boot: %v", err)
	}
	if sess.Cwd() != "/root" {
		t.Fatalf("expected cwd /root, got %q", sess.Cwd())
	}

	if _, ok := k.Users.Get("root"); !ok {
		t.Fatal("expected boot user to be created")
	}

	if _, err := k.Users.Login("root", "wrongpassword"); err == nil {
		t.Fatal("expected wrong password to fail login")
	}
	if _, err := k.Users.Login("root", "hunter2"); err != nil {
		t.Fatalf("expected correct password to succeed: %v", err)
	}
}

func TestBootRegistersCoreCommandsAndRunsPipeline(t *testing.T) {
	opts := testBootOptions(t)
	k, err := New(opts)
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	defer k.Shutdown()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sess, err := k.Boot(ctx, opts)
	if err != nil {
		t.Fatalf("boot: %v", err)
	}

	for _, name := range []string{"true", "false", "echo"} {
		if _, ok := k.Registry.Lookup(name); !ok {
			t.Fatalf("expected %s to be registered", name)
		}
	}

	if code := sess.Run(ctx, "true"); code != 0 {
		t.Fatalf("true exited %d", code)
	}
	if code := sess.Run(ctx, "false"); code != 1 {
		t.Fatalf("false exited %d", code)
	}
}

func TestBootMountsStandardDirectories(t *testing.T) {
	opts := testBootOptions(t)
	k, err := New(opts)
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	defer k.Shutdown()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if _, err := k.Boot(ctx, opts); err != nil {
		t.Fatalf("boot: %v", err)
	}

	for _, dir := range []string{"/etc", "/bin", "/home", "/tmp", "/run", "/dev"} {
		st, err := k.FS.Stat(dir)
		if err != nil {
			t.Fatalf("stat %s: %v", dir, err)
		}
		if st.Type != vfs.TypeDir {
			t.Fatalf("%s is not a directory", dir)
		}
	}
	if _, err := k.FS.Stat("/dev/null"); err != nil {
		t.Fatalf("expected /dev/null to exist: %v", err)
	}
}

func TestBootTerminalStdioRoundTrip(t *testing.T) {
	opts := testBootOptions(t)
	k, err := New(opts)
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	defer k.Shutdown()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if _, err := k.Boot(ctx, opts); err != nil {
		t.Fatalf("boot: %v", err)
	}

	k.Term.Feed([]byte("hi"))
	time.Sleep(10 * time.Millisecond)
}

func TestCronReloadFromEmptyCrontab(t *testing.T) {
	opts := testBootOptions(t)
	k, err := New(opts)
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	defer k.Shutdown()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if _, err := k.Boot(ctx, opts); err != nil {
		t.Fatalf("boot: %v", err)
	}
	if len(k.Cron.ListCrons()) != 0 {
		t.Fatalf("expected no crons from an absent /etc/crontab, got %v", k.Cron.ListCrons())
	}
}

func TestBootInheritsEtcEnv(t *testing.T) {
	opts := testBootOptions(t)
	k, err := New(opts)
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	defer k.Shutdown()

	root := vfs.Credentials{UID: 0, GID: 0}
	if err := k.FS.Mkdir("/etc", true, root); err != nil {
		t.Fatalf("mkdir /etc: %v", err)
	}
	if err := k.FS.WriteFile("/etc/env", []byte("GREETING=hello\nUSER=ignored\n"), root); err != nil {
		t.Fatalf("write /etc/env: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	sess, err := k.Boot(ctx, opts)
	if err != nil {
		t.Fatalf("boot: %v", err)
	}

	var sawGreeting bool
	for _, kv := range sess.Env() {
		if kv == "GREETING=hello" {
			sawGreeting = true
		}
		if kv == "USER=ignored" {
			t.Fatal("expected the login identity to override /etc/env's USER")
		}
	}
	if !sawGreeting {
		t.Fatalf("expected GREETING from /etc/env in the shell env, got %v", sess.Env())
	}
}

func TestBootWithOSBackedRoot(t *testing.T) {
	dir := t.TempDir()
	drv, err := vfs.NewOSDriver(dir)
	if err != nil {
		t.Fatalf("os driver: %v", err)
	}

	opts := testBootOptions(t)
	opts.RootDriver = drv

	k, err := New(opts)
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	defer k.Shutdown()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	sess, err := k.Boot(ctx, opts)
	if err != nil {
		t.Fatalf("boot: %v", err)
	}
	if sess.Cwd() != "/root" {
		t.Fatalf("expected cwd /root, got %q", sess.Cwd())
	}
	if _, err := k.FS.Stat("/etc/passwd"); err != nil {
		t.Fatalf("expected /etc/passwd on the host-backed root: %v", err)
	}
}

func TestBootIssuesSessionToken(t *testing.T) {
	opts := testBootOptions(t)
	k, err := New(opts)
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	defer k.Shutdown()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if _, err := k.Boot(ctx, opts); err != nil {
		t.Fatalf("boot: %v", err)
	}

	if k.SessionToken == "" {
		t.Fatal("expected a session token to be minted at boot")
	}
	if k.Sessions == nil {
		t.Fatal("expected the session store to be opened at boot")
	}

	creds, subject, err := users.VerifySessionToken(k.sessionSecret, k.SessionToken)
	if err != nil {
		t.Fatalf("verify session token: %v", err)
	}
	if subject != "root" {
		t.Fatalf("expected subject root, got %q", subject)
	}
	if creds.UID != 0 {
		t.Fatalf("expected uid 0, got %d", creds.UID)
	}
}
