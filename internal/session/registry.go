// Package session owns the session registry: binding anonymous sessions,
// upgrading them to resumable authenticated sessions at hello, resuming them
// within the suspension window and expiring the ones that never come back.
package session

import (
	"errors"
	"log"
	"sync"
	"time"

	"github.com/bulltrade/gateway/internal/auth"
	"github.com/bulltrade/gateway/internal/reliable"
	"github.com/google/uuid"
)

// ErrUnknownSession is returned when a resume token does not match any live
// or suspended session.
var ErrUnknownSession = errors.New("session: unknown or expired resume token")

const sweepInterval = 5 * time.Second

var logger = log.New(log.Writer(), "[SESSION] ", log.LstdFlags)

// Registry maps resume tokens to sessions and enforces the suspension TTL.
type Registry struct {
	mu      sync.RWMutex
	byToken map[auth.ResumeToken]*Session
	byID    map[string]*Session

	secret     string
	suspendTTL time.Duration

	onExpire func(*Session)

	done      chan struct{}
	closeOnce sync.Once
}

// NewRegistry creates a registry and starts the expiry sweeper. onExpire runs
// once per expired session, after it has been removed; it may be nil.
func NewRegistry(secret string, suspendTTL time.Duration, onExpire func(*Session)) *Registry {
	r := &Registry{
		byToken:    make(map[auth.ResumeToken]*Session),
		byID:       make(map[string]*Session),
		secret:     secret,
		suspendTTL: suspendTTL,
		onExpire:   onExpire,
		done:       make(chan struct{}),
	}
	go r.sweepLoop()
	return r
}

// SuspendTTL returns the resume window duration.
func (r *Registry) SuspendTTL() time.Duration { return r.suspendTTL }

// Bind creates a fresh anonymous session. It becomes resumable only after
// Authenticate mints its resume token.
func (r *Registry) Bind(onDrop func(seq uint64)) *Session {
	s := &Session{
		ID:        uuid.NewString(),
		Channel:   reliable.NewChannel(onDrop),
		state:     StateBound,
		createdAt: time.Now(),
	}

	r.mu.Lock()
	r.byID[s.ID] = s
	r.mu.Unlock()

	logger.Printf("bound session %s", s.ID)
	return s
}

// Authenticate records the verified principal on the session and mints its
// resume token. Re-authenticating an already authenticated session keeps the
// existing token so outstanding resume material stays valid.
func (r *Registry) Authenticate(s *Session, p auth.Principal, clientID, deviceID string) auth.ResumeToken {
	s.mu.Lock()
	if !s.resumeToken.IsZero() {
		token := s.resumeToken
		s.userID = p.UserID
		s.roles = p.Roles
		s.clientID = clientID
		s.deviceID = deviceID
		s.mu.Unlock()
		s.SetField(FieldAuthenticated, "true")
		return token
	}

	token := auth.NewResumeToken(p.UserID, deviceID, time.Now().UnixMilli(), r.secret)
	s.userID = p.UserID
	s.roles = p.Roles
	s.clientID = clientID
	s.deviceID = deviceID
	s.resumeToken = token
	s.mu.Unlock()
	s.SetField(FieldAuthenticated, "true")

	r.mu.Lock()
	r.byToken[token] = s
	r.mu.Unlock()

	logger.Printf("authenticated session %s user=%s device=%s", s.ID, p.UserID, deviceID)
	return token
}

// Resume reclaims a suspended session by its resume token. The session is
// moved back to the bound state; pending frames replay once the transport
// attaches a sink.
func (r *Registry) Resume(token auth.ResumeToken) (*Session, error) {
	r.mu.RLock()
	s, ok := r.byToken[token]
	r.mu.RUnlock()
	if !ok {
		return nil, ErrUnknownSession
	}

	s.mu.Lock()
	if s.state == StateClosed {
		s.mu.Unlock()
		return nil, ErrUnknownSession
	}
	s.state = StateBound
	s.disconnectedAt = time.Time{}
	userID := s.userID
	s.mu.Unlock()

	logger.Printf("resumed session %s user=%s", s.ID, userID)
	return s, nil
}

// Claim registers the calling connection as the session's owner and returns
// the ownership token its eventual Suspend must present. Claiming invalidates
// every earlier token, so a stale connection that lingers past a resume
// cannot suspend the session out from under the live one.
func (r *Registry) Claim(s *Session) uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.owner++
	return s.owner
}

// Suspend marks a session as disconnected. The owner token must match the
// latest Claim; a stale token means the session already moved to a newer
// connection and the call is a no-op. Authenticated sessions open their
// resume window; anonymous ones have nothing to resume and close immediately.
func (r *Registry) Suspend(s *Session, owner uint64) {
	s.mu.Lock()
	if owner != s.owner {
		s.mu.Unlock()
		logger.Printf("ignored stale suspend for session %s", s.ID)
		return
	}
	anonymous := s.resumeToken.IsZero()
	if !anonymous && s.state == StateBound {
		s.state = StateSuspended
		s.disconnectedAt = time.Now()
	}
	s.mu.Unlock()

	s.Channel.Detach()

	if anonymous {
		r.Close(s)
		return
	}
	logger.Printf("suspended session %s", s.ID)
}

// Close ends a session immediately, invalidating its resume token.
func (r *Registry) Close(s *Session) {
	s.mu.Lock()
	token := s.resumeToken
	s.state = StateClosed
	s.mu.Unlock()

	r.mu.Lock()
	delete(r.byID, s.ID)
	if !token.IsZero() {
		delete(r.byToken, token)
	}
	r.mu.Unlock()

	s.Channel.Close()
	logger.Printf("closed session %s", s.ID)
}

// Len reports how many sessions the registry currently holds.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.byID)
}

// Shutdown stops the sweeper and closes every session.
func (r *Registry) Shutdown() {
	r.closeOnce.Do(func() { close(r.done) })

	r.mu.Lock()
	sessions := make([]*Session, 0, len(r.byID))
	for _, s := range r.byID {
		sessions = append(sessions, s)
	}
	r.byID = make(map[string]*Session)
	r.byToken = make(map[auth.ResumeToken]*Session)
	r.mu.Unlock()

	for _, s := range sessions {
		s.mu.Lock()
		s.state = StateClosed
		s.mu.Unlock()
		s.Channel.Close()
	}
}

func (r *Registry) sweepLoop() {
	ticker := time.NewTicker(sweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-r.done:
			return
		case <-ticker.C:
			r.sweep(time.Now())
		}
	}
}

func (r *Registry) sweep(now time.Time) {
	var expired []*Session

	r.mu.Lock()
	for token, s := range r.byToken {
		s.mu.Lock()
		gone := s.state == StateSuspended && now.Sub(s.disconnectedAt) > r.suspendTTL
		s.mu.Unlock()
		if gone {
			delete(r.byToken, token)
			delete(r.byID, s.ID)
			expired = append(expired, s)
		}
	}
	r.mu.Unlock()

	for _, s := range expired {
		s.mu.Lock()
		s.state = StateClosed
		s.mu.Unlock()
		s.Channel.Close()
		logger.Printf("expired session %s", s.ID)
		if r.onExpire != nil {
			r.onExpire(s)
		}
	}
}
