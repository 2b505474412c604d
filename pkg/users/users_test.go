package users

import (
	"testing"
	"time"

	"github.com/webos-run/webos/pkg/vfs"
)

func TestAddAndLogin(t *testing.T) {
	fs := vfs.New()
	if err := fs.Mkdir("/etc", true, vfs.Credentials{}); err != nil {
		t.Fatalf("mkdir /etc: %v", err)
	}
	db, err := Open(fs)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if err := db.Add(User{Username: "alice", UID: 500, GID: 500, Home: "/home/alice", Shell: "/bin/wsh"}, "hunter2"); err != nil {
		t.Fatalf("add: %v", err)
	}

	res, err := db.Login("alice", "hunter2")
	if err != nil {
		t.Fatalf("login: %v", err)
	}
	if res.Credentials.UID != 500 || res.Credentials.GID != 500 {
		t.Fatalf("got %+v", res.Credentials)
	}
}

func TestLoginWrongPasswordFails(t *testing.T) {
	fs := vfs.New()
	db, _ := Open(fs)
	db.Add(User{Username: "bob", UID: 501, GID: 501, Home: "/home/bob"}, "correct")

	if _, err := db.Login("bob", "wrong"); err != ErrBadCredentials {
		t.Fatalf("expected ErrBadCredentials, got %v", err)
	}
}

func TestAddDuplicateUserFails(t *testing.T) {
	fs := vfs.New()
	db, _ := Open(fs)
	db.Add(User{Username: "carol", UID: 502, GID: 502}, "pw")
	if err := db.Add(User{Username: "carol", UID: 503, GID: 503}, "pw2"); err != ErrUserExists {
		t.Fatalf("expected ErrUserExists, got %v", err)
	}
}

func TestPasswdPersistsAcrossReload(t *testing.T) {
	fs := vfs.New()
	if err := fs.Mkdir("/etc", true, vfs.Credentials{}); err != nil {
		t.Fatalf("mkdir /etc: %v", err)
	}
	db, _ := Open(fs)
	db.Add(User{Username: "dave", UID: 504, GID: 504, Home: "/home/dave", Shell: "/bin/wsh"}, "pw")

	db2, err := Open(fs)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	u, ok := db2.Get("dave")
	if !ok || u.UID != 504 {
		t.Fatalf("expected persisted user, got %+v ok=%v", u, ok)
	}
}

func TestSessionTokenRoundtrip(t *testing.T) {
	secret := []byte("test-secret")
	u := User{Username: "erin", UID: 505, GID: 505}

	token, _, expiresAt, err := IssueSessionToken(secret, u, time.Hour)
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	if !expiresAt.After(time.Now()) {
		t.Fatal("expected future expiry")
	}

	creds, subject, err := VerifySessionToken(secret, token)
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if subject != "erin" || creds.UID != 505 {
		t.Fatalf("got subject=%q creds=%+v", subject, creds)
	}
}

func TestVerifySessionTokenRejectsBadSecret(t *testing.T) {
	token, _, _, _ := IssueSessionToken([]byte("real-secret"), User{Username: "frank"}, time.Hour)
	if _, _, err := VerifySessionToken([]byte("wrong-secret"), token); err == nil {
		t.Fatal("expected verification to fail with the wrong secret")
	}
}

func TestHashPasswordIsDeterministicHexSHA256(t *testing.T) {
	h1 := HashPassword("swordfish")
	h2 := HashPassword("swordfish")
	if h1 != h2 {
		t.Fatal("expected deterministic hash")
	}
	if len(h1) != 64 {
		t.Fatalf("expected 64 hex chars, got %d", len(h1))
	}
}
