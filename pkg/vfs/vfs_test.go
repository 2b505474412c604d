package vfs

import "testing"

func root() Credentials { return Credentials{UID: 0, GID: 0} }

func TestWriteReadRoundtrip(t *testing.T) {
	v := New()
	if err := v.Mkdir("/tmp", true, root()); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := v.WriteFile("/tmp/a", []byte("hi\n"), root()); err != nil {
		t.Fatalf("write: %v", err)
	}
	data, err := v.ReadFile("/tmp/a", root())
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if string(data) != "hi\n" {
		t.Fatalf("got %q", data)
	}
}

func TestMkdirRecursiveAndReaddir(t *testing.T) {
	v := New()
	if err := v.Mkdir("/a/b/c", true, root()); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	names, err := v.ReadDir("/a/b")
	if err != nil {
		t.Fatalf("readdir: %v", err)
	}
	if len(names) != 1 || names[0] != "c" {
		t.Fatalf("got %v", names)
	}
}

func TestGlobSortedMatches(t *testing.T) {
	v := New()
	v.Mkdir("/d", true, root())
	v.WriteFile("/d/a.txt", []byte("x"), root())
	v.WriteFile("/d/b.txt", []byte("x"), root())
	v.WriteFile("/d/c.md", []byte("x"), root())
	got := v.Glob("/d/*.txt")
	want := []string{"/d/a.txt", "/d/b.txt"}
	if len(got) != len(want) || got[0] != want[0] || got[1] != want[1] {
		t.Fatalf("got %v want %v", got, want)
	}
}

func TestGlobNoMatchReturnsLiteral(t *testing.T) {
	v := New()
	got := v.Glob("/nope/*.txt")
	if len(got) != 1 || got[0] != "/nope/*.txt" {
		t.Fatalf("got %v", got)
	}
}

func TestLstatNeverFollowsSymlink(t *testing.T) {
	v := New()
	v.WriteFile("/real", []byte("data"), root())
	if err := v.Symlink("/real", "/link"); err != nil {
		t.Fatalf("symlink: %v", err)
	}
	st, err := v.Lstat("/link")
	if err != nil {
		t.Fatalf("lstat: %v", err)
	}
	if st.Type != TypeSymlink {
		t.Fatalf("expected symlink type, got %v", st.Type)
	}
	target, err := v.Readlink("/link")
	if err != nil || target != "/real" {
		t.Fatalf("readlink: %v %v", target, err)
	}
	data, err := v.ReadFile("/link", root())
	if err != nil || string(data) != "data" {
		t.Fatalf("stat-following read failed: %v %v", data, err)
	}
}

func TestReadlinkOnNonSymlinkErrors(t *testing.T) {
	v := New()
	v.WriteFile("/real", []byte("data"), root())
	if _, err := v.Readlink("/real"); err == nil {
		t.Fatal("expected error reading link of a non-symlink")
	}
}

func TestPermissionDenied(t *testing.T) {
	v := New()
	v.WriteFile("/secret", []byte("x"), root())
	v.Chmod("/secret", ModeUserRead|ModeUserWrite)
	v.Chown("/secret", 0, 0)
	_, err := v.Open("/secret", OpenFlags{Read: true}, Credentials{UID: 500, GID: 500})
	if err != ErrPermission {
		t.Fatalf("expected ErrPermission, got %v", err)
	}
}

func TestRootBypassesPermissions(t *testing.T) {
	v := New()
	v.WriteFile("/secret", []byte("x"), root())
	v.Chmod("/secret", ModeUserRead)
	v.Chown("/secret", 500, 500)
	if _, err := v.Open("/secret", OpenFlags{Read: true}, root()); err != nil {
		t.Fatalf("root should bypass permission checks: %v", err)
	}
}

func TestDeviceFiles(t *testing.T) {
	v := New()
	v.Mount("/dev", NewDevDriver())
	data, err := v.ReadFile("/dev/null", root())
	if err != nil {
		t.Fatalf("read /dev/null: %v", err)
	}
	if len(data) != 0 {
		t.Fatalf("expected empty read from /dev/null, got %d bytes", len(data))
	}
	h, err := v.Open("/dev/zero", OpenFlags{Read: true}, root())
	if err != nil {
		t.Fatalf("open /dev/zero: %v", err)
	}
	buf := make([]byte, 16)
	n, err := h.ReadAt(buf, 0)
	if err != nil || n != 16 {
		t.Fatalf("read /dev/zero: n=%d err=%v", n, err)
	}
	for _, b := range buf {
		if b != 0 {
			t.Fatalf("expected all zero bytes, got %v", buf)
		}
	}
	h.Close()
}

func TestPasswdRoundtrip(t *testing.T) {
	records := []PasswdRecord{{Username: "root", UID: 0, GID: 0, Home: "/root", Shell: "/bin/sh"}}
	text := FormatPasswd(records)
	parsed, err := ParsePasswd(text)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if len(parsed) != 1 || parsed[0].Username != "root" {
		t.Fatalf("got %+v", parsed)
	}
}

func TestExpandTilde(t *testing.T) {
	if got := ExpandTilde("~/x", "/home/u"); got != "/home/u/x" {
		t.Fatalf("got %q", got)
	}
	if got := ExpandTilde("no-tilde", "/home/u"); got != "no-tilde" {
		t.Fatalf("got %q", got)
	}
}
