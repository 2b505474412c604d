// Package users implements the user database: login by password or
// passkey, /etc/passwd+/etc/shadow persistence, and JWT session
// tokens. Password hashing is unsalted hex SHA-256 for compatibility
// with existing /etc/shadow files; do not rely on it for anything
// security-sensitive.
package users

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/webos-run/webos/pkg/vfs"
)

// User is one row of /etc/passwd plus its matching /etc/shadow hash.
type User struct {
	Username string
	UID      uint32
	GID      uint32
	Groups   []string
	Home     string
	Shell    string
}

// Credentials is the {uid, gid} pair a successful login binds to a
// shell's VFS view.
type Credentials struct {
	UID uint32
	GID uint32
}

var (
	ErrUserNotFound   = errors.New("users: user not found")
	ErrUserExists     = errors.New("users: user already exists")
	ErrBadCredentials = errors.New("users: bad username or password")
	ErrNoPasskey      = errors.New("users: no matching passkey credential")
)

// DB is the VFS-backed user database: /etc/passwd and /etc/shadow are
// the source of truth, loaded on Open and rewritten on mutation.
type DB struct {
	fs *vfs.VFS

	mu     sync.Mutex
	users  map[string]User
	hashes map[string]string // username -> hex sha256
}

// Open loads the user database from the VFS. A missing /etc/passwd
// yields an empty user set, not an error.
func Open(fs *vfs.VFS) (*DB, error) {
	db := &DB{fs: fs, users: map[string]User{}, hashes: map[string]string{}}
	if err := db.reload(); err != nil {
		return nil, err
	}
	return db, nil
}

func (db *DB) reload() error {
	db.mu.Lock()
	defer db.mu.Unlock()

	passwdText, err := db.fs.ReadFile("/etc/passwd", rootCreds())
	if err != nil && !errors.Is(err, vfs.ErrNotExist) {
		return fmt.Errorf("users: read /etc/passwd: %w", err)
	}
	records, err := vfs.ParsePasswd(string(passwdText))
	if err != nil {
		return fmt.Errorf("users: parse /etc/passwd: %w", err)
	}
	users := map[string]User{}
	for _, r := range records {
		users[r.Username] = User{Username: r.Username, UID: r.UID, GID: r.GID, Groups: r.Groups, Home: r.Home, Shell: r.Shell}
	}

	shadowText, err := db.fs.ReadFile("/etc/shadow", rootCreds())
	if err != nil && !errors.Is(err, vfs.ErrNotExist) {
		return fmt.Errorf("users: read /etc/shadow: %w", err)
	}
	shadowRecords, err := vfs.ParseShadow(string(shadowText))
	if err != nil {
		return fmt.Errorf("users: parse /etc/shadow: %w", err)
	}
	hashes := map[string]string{}
	for _, r := range shadowRecords {
		hashes[r.Username] = r.PasswordHash
	}

	db.users = users
	db.hashes = hashes
	return nil
}

func rootCreds() vfs.Credentials { return vfs.Credentials{UID: 0, GID: 0} }

// HashPassword returns hex(sha256(password)), the format /etc/shadow
// entries carry.
func HashPassword(password string) string {
	sum := sha256.Sum256([]byte(password))
	return hex.EncodeToString(sum[:])
}

// Add creates a new user, persisting to /etc/passwd and /etc/shadow.
func (db *DB) Add(u User, password string) error {
	db.mu.Lock()
	defer db.mu.Unlock()
	if _, exists := db.users[u.Username]; exists {
		return ErrUserExists
	}
	db.users[u.Username] = u
	db.hashes[u.Username] = HashPassword(password)
	return db.persistLocked()
}

// Update mutates an existing user's passwd fields (not its password;
// use SetPassword for that).
func (db *DB) Update(u User) error {
	db.mu.Lock()
	defer db.mu.Unlock()
	if _, exists := db.users[u.Username]; !exists {
		return ErrUserNotFound
	}
	db.users[u.Username] = u
	return db.persistLocked()
}

// SetPassword updates a user's password hash.
func (db *DB) SetPassword(username, password string) error {
	db.mu.Lock()
	defer db.mu.Unlock()
	if _, exists := db.users[username]; !exists {
		return ErrUserNotFound
	}
	db.hashes[username] = HashPassword(password)
	return db.persistLocked()
}

// Remove deletes a user from both files.
func (db *DB) Remove(username string) error {
	db.mu.Lock()
	defer db.mu.Unlock()
	if _, exists := db.users[username]; !exists {
		return ErrUserNotFound
	}
	delete(db.users, username)
	delete(db.hashes, username)
	return db.persistLocked()
}

// Get looks up a user by name.
func (db *DB) Get(username string) (User, bool) {
	db.mu.Lock()
	defer db.mu.Unlock()
	u, ok := db.users[username]
	return u, ok
}

func (db *DB) persistLocked() error {
	records := make([]vfs.PasswdRecord, 0, len(db.users))
	shadowRecords := make([]vfs.ShadowRecord, 0, len(db.hashes))
	for _, u := range db.users {
		records = append(records, vfs.PasswdRecord{
			Username: u.Username, UID: u.UID, GID: u.GID, Groups: u.Groups, Home: u.Home, Shell: u.Shell,
		})
		shadowRecords = append(shadowRecords, vfs.ShadowRecord{Username: u.Username, PasswordHash: db.hashes[u.Username]})
	}
	if err := db.fs.WriteFile("/etc/passwd", []byte(vfs.FormatPasswd(records)), rootCreds()); err != nil {
		return fmt.Errorf("users: write /etc/passwd: %w", err)
	}
	if err := db.fs.WriteFile("/etc/shadow", []byte(vfs.FormatShadow(shadowRecords)), rootCreds()); err != nil {
		return fmt.Errorf("users: write /etc/shadow: %w", err)
	}
	return nil
}

// LoginResult is returned by a successful Login.
type LoginResult struct {
	User        User
	Credentials Credentials
}

// Login authenticates by password, returning the user and the
// credentials a shell session should bind to. Passkey login is handled
// separately by PasskeyManager.BeginAssertion/FinishAssertion, since it needs the WebAuthn
// challenge/response round trip.
func (db *DB) Login(username, password string) (LoginResult, error) {
	db.mu.Lock()
	u, ok := db.users[username]
	hash, hashOK := db.hashes[username]
	db.mu.Unlock()
	if !ok || !hashOK {
		return LoginResult{}, ErrBadCredentials
	}
	if HashPassword(password) != hash {
		return LoginResult{}, ErrBadCredentials
	}
	return LoginResult{User: u, Credentials: Credentials{UID: u.UID, GID: u.GID}}, nil
}

// sessionClaims is the JWT payload minted on successful login.
type sessionClaims struct {
	jwt.RegisteredClaims
	UID uint32 `json:"uid"`
	GID uint32 `json:"gid"`
}

// IssueSessionToken mints a signed JWT for a logged-in user, valid for
// ttl. The returned token ID keys the session store row.
func IssueSessionToken(secret []byte, u User, ttl time.Duration) (string, string, time.Time, error) {
	expiresAt := time.Now().Add(ttl)
	tokenID := fmt.Sprintf("%s-%d", u.Username, time.Now().UnixNano())
	claims := sessionClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   u.Username,
			ID:        tokenID,
			ExpiresAt: jwt.NewNumericDate(expiresAt),
			IssuedAt:  jwt.NewNumericDate(time.Now()),
		},
		UID: u.UID,
		GID: u.GID,
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(secret)
	if err != nil {
		return "", "", time.Time{}, fmt.Errorf("users: sign session token: %w", err)
	}
	return signed, tokenID, expiresAt, nil
}

// VerifySessionToken validates a token's signature and expiry and
// returns the bound credentials.
func VerifySessionToken(secret []byte, tokenString string) (Credentials, string, error) {
	var claims sessionClaims
	token, err := jwt.ParseWithClaims(tokenString, &claims, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return secret, nil
	})
	if err != nil || !token.Valid {
		return Credentials{}, "", fmt.Errorf("users: invalid session token: %w", err)
	}
	return Credentials{UID: claims.UID, GID: claims.GID}, claims.Subject, nil
}
