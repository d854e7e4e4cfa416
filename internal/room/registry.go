// Package room implements topic fan-out. A room is a named set of sessions;
// broadcasting delivers one frame per member over each member's reliability
// channel. Rooms are created on first join and destroyed when the last member
// leaves.
package room

import (
	"log"
	"sync"

	"github.com/bulltrade/gateway/internal/session"
)

var logger = log.New(log.Writer(), "[ROOM] ", log.LstdFlags)

// Registry tracks room membership in both directions so a session can be
// evicted from everything it joined in one call.
type Registry struct {
	mu        sync.RWMutex
	rooms     map[string]map[*session.Session]struct{}
	bySession map[*session.Session]map[string]struct{}
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		rooms:     make(map[string]map[*session.Session]struct{}),
		bySession: make(map[*session.Session]map[string]struct{}),
	}
}

// Join adds the session to the room, creating the room if needed. Joining a
// room twice is a no-op.
func (r *Registry) Join(name string, s *session.Session) {
	r.mu.Lock()
	defer r.mu.Unlock()

	members, ok := r.rooms[name]
	if !ok {
		members = make(map[*session.Session]struct{})
		r.rooms[name] = members
		logger.Printf("created room %s", name)
	}
	members[s] = struct{}{}

	joined, ok := r.bySession[s]
	if !ok {
		joined = make(map[string]struct{})
		r.bySession[s] = joined
	}
	joined[name] = struct{}{}
}

// Leave removes the session from the room. Empty rooms are destroyed.
func (r *Registry) Leave(name string, s *session.Session) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.leaveLocked(name, s)
}

// LeaveAll evicts the session from every room it joined. Called when a
// session closes or expires.
func (r *Registry) LeaveAll(s *session.Session) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for name := range r.bySession[s] {
		r.leaveLocked(name, s)
	}
}

func (r *Registry) leaveLocked(name string, s *session.Session) {
	members, ok := r.rooms[name]
	if !ok {
		return
	}
	delete(members, s)
	if len(members) == 0 {
		delete(r.rooms, name)
		logger.Printf("destroyed room %s", name)
	}
	if joined, ok := r.bySession[s]; ok {
		delete(joined, name)
		if len(joined) == 0 {
			delete(r.bySession, s)
		}
	}
}

// Rooms lists the rooms the session currently belongs to.
func (r *Registry) Rooms(s *session.Session) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.bySession[s]))
	for name := range r.bySession[s] {
		out = append(out, name)
	}
	return out
}

// MemberCount reports the room's current size; zero if the room does not
// exist.
func (r *Registry) MemberCount(name string) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.rooms[name])
}

// Members returns a snapshot of the room's member sessions.
func (r *Registry) Members(name string) []*session.Session {
	r.mu.RLock()
	defer r.mu.RUnlock()
	members := make([]*session.Session, 0, len(r.rooms[name]))
	for s := range r.rooms[name] {
		members = append(members, s)
	}
	return members
}

// Broadcast fans the frame out to every current member, fire-and-forget.
// The member set is snapshotted under the read lock; delivery runs outside
// it so a slow channel cannot block joins. Members joining after the
// snapshot do not receive the frame.
func (r *Registry) Broadcast(name, method string, body []byte) int {
	members := r.Members(name)
	for _, s := range members {
		if err := s.Channel.SendFireAndForget(method, body); err != nil {
			logger.Printf("broadcast to session %s failed: %v", s.ID, err)
		}
	}
	return len(members)
}
