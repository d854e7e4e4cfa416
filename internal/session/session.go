package session

import (
	"sync"
	"time"

	"github.com/bulltrade/gateway/internal/auth"
	"github.com/bulltrade/gateway/internal/reliable"
)

// FieldAuthenticated is set to "true" once hello verifies a token. The
// authentication gate keys off this field.
const FieldAuthenticated = "authenticated"

// State tracks where a session is in its lifecycle.
type State int

const (
	// StateBound means a live transport is attached.
	StateBound State = iota
	// StateSuspended means the transport dropped and the resume window is open.
	StateSuspended
	// StateClosed means the session ended and its token is invalid.
	StateClosed
)

// Session is the server-side state for one client connection flow. It starts
// anonymous; hello fills in the principal and makes it resumable. It outlives
// individual transport connections; the reliability channel carries pending
// traffic across a reconnect.
type Session struct {
	ID      string
	Channel *reliable.Channel

	mu             sync.Mutex
	owner          uint64
	userID         string
	clientID       string
	deviceID       string
	roles          []string
	resumeToken    auth.ResumeToken
	state          State
	createdAt      time.Time
	disconnectedAt time.Time
	fields         map[string]any
}

// State returns the current lifecycle state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// UserID returns the authenticated user id, empty before hello.
func (s *Session) UserID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.userID
}

// ClientID returns the client id presented at hello.
func (s *Session) ClientID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.clientID
}

// DeviceID returns the device id presented at hello.
func (s *Session) DeviceID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.deviceID
}

// Roles returns a copy of the principal's roles.
func (s *Session) Roles() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, len(s.roles))
	copy(out, s.roles)
	return out
}

// ResumeToken returns the session's resume token, zero before hello.
func (s *Session) ResumeToken() auth.ResumeToken {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.resumeToken
}

// Identify records a handshake-time identity on a still-anonymous session.
// Values already set, by a previous connection or by Authenticate, win.
func (s *Session) Identify(clientID, deviceID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.clientID == "" {
		s.clientID = clientID
	}
	if s.deviceID == "" {
		s.deviceID = deviceID
	}
}

// HasRole reports whether the session's principal carries the role.
func (s *Session) HasRole(role string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, r := range s.roles {
		if r == role {
			return true
		}
	}
	return false
}

// Authenticated reports whether hello has verified a token on this session
// and logout has not cleared it since.
func (s *Session) Authenticated() bool {
	v, ok := s.Field(FieldAuthenticated)
	return ok && v == "true"
}

// SetField stores arbitrary per-session state, such as middleware scratch
// data. Setting nil removes the key.
func (s *Session) SetField(key string, v any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if v == nil {
		delete(s.fields, key)
		return
	}
	if s.fields == nil {
		s.fields = make(map[string]any)
	}
	s.fields[key] = v
}

// Field returns a per-session value set by SetField.
func (s *Session) Field(key string) (any, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.fields[key]
	return v, ok
}
