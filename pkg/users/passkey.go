package users

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/go-webauthn/webauthn/protocol"
	"github.com/go-webauthn/webauthn/webauthn"
	"github.com/google/uuid"

	"github.com/webos-run/webos/pkg/vfs"
)

// Passkey is a single WebAuthn credential bound to a user, persisted
// as one entry of the $HOME/.passkeys JSON array.
type Passkey struct {
	ID           string    `json:"id"`
	CredentialID []byte    `json:"credentialId"`
	PublicKey    []byte    `json:"publicKey"`
	CreatedAt    time.Time `json:"createdAt"`
	LastUsed     time.Time `json:"lastUsed,omitempty"`
	Name         string    `json:"name,omitempty"`
}

// webauthnUser adapts a User plus its passkeys to the webauthn
// library's User interface.
type webauthnUser struct {
	username string
	passkeys []Passkey
}

func (u *webauthnUser) WebAuthnID() []byte      { return []byte(u.username) }
func (u *webauthnUser) WebAuthnName() string    { return u.username }
func (u *webauthnUser) WebAuthnDisplayName() string { return u.username }
func (u *webauthnUser) WebAuthnCredentials() []webauthn.Credential {
	creds := make([]webauthn.Credential, 0, len(u.passkeys))
	for _, pk := range u.passkeys {
		creds = append(creds, webauthn.Credential{ID: pk.CredentialID, PublicKey: pk.PublicKey})
	}
	return creds
}

// PasskeyManager registers and verifies WebAuthn passkeys, persisting
// them per-user at $HOME/.passkeys. In-flight registration/assertion
// sessions are held in memory; restarting the kernel invalidates any
// pending ceremony.
type PasskeyManager struct {
	fs *vfs.VFS
	wa *webauthn.WebAuthn

	mu       sync.Mutex
	sessions map[string]*webauthn.SessionData
}

// NewPasskeyManager configures a WebAuthn relying party for the given
// rpID/origins (e.g. "localhost" / "http://localhost:8080" for a local
// kernel instance).
func NewPasskeyManager(fs *vfs.VFS, rpID string, origins []string) (*PasskeyManager, error) {
	wa, err := webauthn.New(&webauthn.Config{
		RPDisplayName: "webos",
		RPID:          rpID,
		RPOrigins:     origins,
	})
	if err != nil {
		return nil, fmt.Errorf("users: init webauthn: %w", err)
	}
	return &PasskeyManager{fs: fs, wa: wa, sessions: map[string]*webauthn.SessionData{}}, nil
}

func (m *PasskeyManager) passkeyPath(home string) string {
	return home + "/.passkeys"
}

// Load reads a user's passkeys from $HOME/.passkeys (missing file ⇒
// empty list).
func (m *PasskeyManager) Load(home string) ([]Passkey, error) {
	data, err := m.fs.ReadFile(m.passkeyPath(home), rootCreds())
	if errors.Is(err, vfs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("users: read passkeys: %w", err)
	}
	var pks []Passkey
	if err := json.Unmarshal(data, &pks); err != nil {
		return nil, fmt.Errorf("users: parse passkeys: %w", err)
	}
	return pks, nil
}

func (m *PasskeyManager) save(home string, pks []Passkey) error {
	data, err := json.MarshalIndent(pks, "", "  ")
	if err != nil {
		return fmt.Errorf("users: marshal passkeys: %w", err)
	}
	return m.fs.WriteFile(m.passkeyPath(home), data, rootCreds())
}

// BeginRegistration starts a WebAuthn registration ceremony for username.
func (m *PasskeyManager) BeginRegistration(username, home string) (*protocol.CredentialCreation, error) {
	existing, err := m.Load(home)
	if err != nil {
		return nil, err
	}
	wUser := &webauthnUser{username: username, passkeys: existing}
	options, session, err := m.wa.BeginRegistration(wUser,
		webauthn.WithResidentKeyRequirement(protocol.ResidentKeyRequirementDiscouraged),
	)
	if err != nil {
		return nil, fmt.Errorf("users: begin passkey registration: %w", err)
	}
	m.mu.Lock()
	m.sessions[username] = session
	m.mu.Unlock()
	return options, nil
}

// FinishRegistration completes a ceremony, appends the new passkey to
// $HOME/.passkeys, and returns it.
func (m *PasskeyManager) FinishRegistration(username, home, name string, response []byte) (Passkey, error) {
	m.mu.Lock()
	session, ok := m.sessions[username]
	if ok {
		delete(m.sessions, username)
	}
	m.mu.Unlock()
	if !ok {
		return Passkey{}, errors.New("users: no pending passkey registration")
	}

	parsed, err := protocol.ParseCredentialCreationResponseBody(bytes.NewReader(response))
	if err != nil {
		return Passkey{}, fmt.Errorf("users: parse registration response: %w", err)
	}

	existing, err := m.Load(home)
	if err != nil {
		return Passkey{}, err
	}
	wUser := &webauthnUser{username: username, passkeys: existing}
	cred, err := m.wa.CreateCredential(wUser, *session, parsed)
	if err != nil {
		return Passkey{}, fmt.Errorf("users: finish passkey registration: %w", err)
	}

	pk := Passkey{
		ID:           uuid.New().String(),
		CredentialID: cred.ID,
		PublicKey:    cred.PublicKey,
		CreatedAt:    time.Now(),
		Name:         name,
	}
	existing = append(existing, pk)
	if err := m.save(home, existing); err != nil {
		return Passkey{}, err
	}
	return pk, nil
}

// BeginAssertion starts a WebAuthn login ceremony.
func (m *PasskeyManager) BeginAssertion(username, home string) (*protocol.CredentialAssertion, error) {
	existing, err := m.Load(home)
	if err != nil {
		return nil, err
	}
	wUser := &webauthnUser{username: username, passkeys: existing}
	options, session, err := m.wa.BeginLogin(wUser)
	if err != nil {
		return nil, fmt.Errorf("users: begin passkey login: %w", err)
	}
	m.mu.Lock()
	m.sessions[username] = session
	m.mu.Unlock()
	return options, nil
}

// FinishAssertion verifies a login response against the stored
// passkeys, marking the credential used and persisting lastUsed.
func (m *PasskeyManager) FinishAssertion(username, home string, response []byte) error {
	m.mu.Lock()
	session, ok := m.sessions[username]
	if ok {
		delete(m.sessions, username)
	}
	m.mu.Unlock()
	if !ok {
		return errors.New("users: no pending passkey login")
	}

	existing, err := m.Load(home)
	if err != nil {
		return err
	}
	if len(existing) == 0 {
		return ErrNoPasskey
	}
	wUser := &webauthnUser{username: username, passkeys: existing}

	parsed, err := protocol.ParseCredentialRequestResponseBody(bytes.NewReader(response))
	if err != nil {
		return fmt.Errorf("users: parse assertion response: %w", err)
	}
	cred, err := m.wa.ValidateLogin(wUser, *session, parsed)
	if err != nil {
		return fmt.Errorf("users: validate passkey assertion: %w", err)
	}

	for i := range existing {
		if bytes.Equal(existing[i].CredentialID, cred.ID) {
			existing[i].LastUsed = time.Now()
		}
	}
	return m.save(home, existing)
}
