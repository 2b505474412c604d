package users

import (
	"database/sql"
	"embed"
	"fmt"
	"sort"
	"strings"

	_ "modernc.org/sqlite"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// SessionStore persists login sessions in SQLite. Migrations are
// embedded and applied in filename order on open.
type SessionStore struct {
	db *sql.DB
}

// OpenSessionStore opens (creating if absent) the sessions database at
// dsn, e.g. "$HOME/.webos/sessions.db".
func OpenSessionStore(dsn string) (*SessionStore, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("set WAL mode: %w", err)
	}
	s := &SessionStore{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return s, nil
}

func (s *SessionStore) Close() error { return s.db.Close() }

func (s *SessionStore) migrate() error {
	if _, err := s.db.Exec(`CREATE TABLE IF NOT EXISTS schema_migrations (
		version TEXT PRIMARY KEY,
		applied_at DATETIME DEFAULT CURRENT_TIMESTAMP
	)`); err != nil {
		return fmt.Errorf("create migrations table: %w", err)
	}

	entries, err := migrationsFS.ReadDir("migrations")
	if err != nil {
		return fmt.Errorf("read migrations dir: %w", err)
	}
	var files []string
	for _, e := range entries {
		if !e.IsDir() && strings.HasSuffix(e.Name(), ".sql") {
			files = append(files, e.Name())
		}
	}
	sort.Strings(files)

	for _, f := range files {
		var applied int
		if err := s.db.QueryRow("SELECT COUNT(*) FROM schema_migrations WHERE version = ?", f).Scan(&applied); err != nil {
			return fmt.Errorf("check migration %s: %w", f, err)
		}
		if applied > 0 {
			continue
		}
		content, err := migrationsFS.ReadFile("migrations/" + f)
		if err != nil {
			return fmt.Errorf("read migration %s: %w", f, err)
		}
		tx, err := s.db.Begin()
		if err != nil {
			return fmt.Errorf("begin tx for %s: %w", f, err)
		}
		if _, err := tx.Exec(string(content)); err != nil {
			tx.Rollback()
			return fmt.Errorf("exec migration %s: %w", f, err)
		}
		if _, err := tx.Exec("INSERT INTO schema_migrations (version) VALUES (?)", f); err != nil {
			tx.Rollback()
			return fmt.Errorf("record migration %s: %w", f, err)
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("commit migration %s: %w", f, err)
		}
	}
	return nil
}

// PutSession records an issued session token.
func (s *SessionStore) PutSession(tokenID, username string, uid, gid uint32, expiresAt int64) error {
	_, err := s.db.Exec(
		`INSERT INTO sessions (token_id, username, uid, gid, expires_at) VALUES (?, ?, ?, ?, datetime(?, 'unixepoch'))`,
		tokenID, username, uid, gid, expiresAt,
	)
	return err
}

// RevokeSession marks a token unusable even before it expires.
func (s *SessionStore) RevokeSession(tokenID string) error {
	_, err := s.db.Exec(`UPDATE sessions SET revoked = 1 WHERE token_id = ?`, tokenID)
	return err
}

// IsSessionValid reports whether a token is present, unexpired, and unrevoked.
func (s *SessionStore) IsSessionValid(tokenID string) (bool, error) {
	var revoked int
	var expired int
	err := s.db.QueryRow(
		`SELECT revoked, (expires_at < CURRENT_TIMESTAMP) FROM sessions WHERE token_id = ?`, tokenID,
	).Scan(&revoked, &expired)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return revoked == 0 && expired == 0, nil
}
