package users

import (
	"path/filepath"
	"testing"
	"time"
)

func openTestStore(t *testing.T) *SessionStore {
	t.Helper()
	path := filepath.Join(t.TempDir(), "sessions.db")
	store, err := OpenSessionStore(path)
	if err != nil {
		t.Fatalf("open session store: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}

func TestSessionStorePutAndValidate(t *testing.T) {
	store := openTestStore(t)

	expiresAt := time.Now().Add(time.Hour).Unix()
	if err := store.PutSession("tok-1", "alice", 500, 500, expiresAt); err != nil {
		t.Fatalf("put session: %v", err)
	}

	ok, err := store.IsSessionValid("tok-1")
	if err != nil {
		t.Fatalf("is valid: %v", err)
	}
	if !ok {
		t.Fatal("expected freshly-issued session to be valid")
	}
}

func TestSessionStoreUnknownTokenInvalid(t *testing.T) {
	store := openTestStore(t)

	ok, err := store.IsSessionValid("nonexistent")
	if err != nil {
		t.Fatalf("is valid: %v", err)
	}
	if ok {
		t.Fatal("expected unknown token to be invalid")
	}
}

func TestSessionStoreExpiredTokenInvalid(t *testing.T) {
	store := openTestStore(t)

	past := time.Now().Add(-time.Hour).Unix()
	if err := store.PutSession("tok-expired", "bob", 501, 501, past); err != nil {
		t.Fatalf("put session: %v", err)
	}

	ok, err := store.IsSessionValid("tok-expired")
	if err != nil {
		t.Fatalf("is valid: %v", err)
	}
	if ok {
		t.Fatal("expected expired session to be invalid")
	}
}

func TestSessionStoreRevoke(t *testing.T) {
	store := openTestStore(t)

	expiresAt := time.Now().Add(time.Hour).Unix()
	if err := store.PutSession("tok-2", "carol", 502, 502, expiresAt); err != nil {
		t.Fatalf("put session: %v", err)
	}
	if err := store.RevokeSession("tok-2"); err != nil {
		t.Fatalf("revoke: %v", err)
	}

	ok, err := store.IsSessionValid("tok-2")
	if err != nil {
		t.Fatalf("is valid: %v", err)
	}
	if ok {
		t.Fatal("expected revoked session to be invalid")
	}
}

func TestSessionStoreMigrationIsIdempotent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sessions.db")
	store, err := OpenSessionStore(path)
	if err != nil {
		t.Fatalf("open session store: %v", err)
	}
	store.Close()

	// Reopening the same database file must re-run migrate() without
	// error even though schema_migrations already records every file.
	store2, err := OpenSessionStore(path)
	if err != nil {
		t.Fatalf("reopen session store: %v", err)
	}
	defer store2.Close()
}
