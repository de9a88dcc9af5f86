package session

import (
	"sync"
	"time"
)

// AuthState is the per-session authentication state.
type AuthState string

const (
	// StateUninitialized means the session has no credential and no
	// outstanding authorization request.
	StateUninitialized AuthState = "uninitialized"

	// StateWaitingForAuth means an authorization URL has been issued and
	// the session is waiting for exactly one callback delivery.
	StateWaitingForAuth AuthState = "waiting_for_auth"

	// StateAuthenticated means the session holds a usable credential.
	StateAuthenticated AuthState = "authenticated"
)

// Session associates an opaque client-presented identifier with
// authentication state and credentials. Sessions are independent; all
// locking is per-session.
type Session struct {
	id        string
	createdAt time.Time

	mu            sync.Mutex
	credential    *Credential
	overrideToken string // per-session token set via the set-token tool
	state         AuthState
	lastAccess    time.Time
	pendingURL    string // outstanding authorization URL while waiting
	pinned        bool   // exempt from idle eviction
}

func newSession(id string, now time.Time) *Session {
	return &Session{
		id:         id,
		createdAt:  now,
		state:      StateUninitialized,
		lastAccess: now,
	}
}

// ID returns the opaque session identifier.
func (s *Session) ID() string {
	return s.id
}

// CreatedAt returns the session creation time.
func (s *Session) CreatedAt() time.Time {
	return s.createdAt
}

// State returns the current auth state.
func (s *Session) State() AuthState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Credential returns the session's credential, or nil.
func (s *Session) Credential() *Credential {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.credential
}

// SetAuthenticated installs a credential and marks the session
// authenticated. The credential is replaced wholesale.
func (s *Session) SetAuthenticated(cred *Credential) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.credential = cred
	s.state = StateAuthenticated
	s.pendingURL = ""
}

// Demote drops the credential and returns the session to uninitialized.
// Called on callback errors, failed exchanges, and irrecoverable refresh
// failures so the user can retry rather than being stuck.
func (s *Session) Demote() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.credential = nil
	s.state = StateUninitialized
	s.pendingURL = ""
}

// BeginAuth marks the session as waiting for a callback and records the
// outstanding authorization URL so repeated initialize calls can return it
// idempotently.
func (s *Session) BeginAuth(authURL string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state = StateWaitingForAuth
	s.pendingURL = authURL
}

// PendingAuthURL returns the outstanding authorization URL, if any.
func (s *Session) PendingAuthURL() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pendingURL
}

// SetOverrideToken installs a per-session static token. It takes precedence
// over both the OAuth credential and the server-wide static token, and it
// alone is sufficient to authenticate the session.
func (s *Session) SetOverrideToken(token string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.overrideToken = token
	if token != "" {
		s.state = StateAuthenticated
		s.pendingURL = ""
	}
}

// OverrideToken returns the per-session override token, or empty.
func (s *Session) OverrideToken() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.overrideToken
}

// Pin exempts the session from idle eviction. The stdio transport pins its
// single implicit session: the process owns it for its entire lifetime, and
// evicting it would orphan the local OAuth flow.
func (s *Session) Pin() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pinned = true
}

// Pinned reports whether the session is exempt from idle eviction.
func (s *Session) Pinned() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pinned
}

// Touch refreshes the last-access timestamp.
func (s *Session) Touch(now time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastAccess = now
}

// LastAccess returns the last-access timestamp.
func (s *Session) LastAccess() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastAccess
}
