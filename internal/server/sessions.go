package server

import (
	"sync"
	"time"

	"github.com/andresmejia3/rollcall/internal/liveness"
)

// session owns one liveness state; mu serializes frames of the same client.
type session struct {
	mu       sync.Mutex
	state    *liveness.State
	lastSeen time.Time
}

type sessionManager struct {
	mu       sync.Mutex
	sessions map[string]*session
	ttl      time.Duration
	limit    int
	newState func() *liveness.State
	now      func() time.Time
}

func newSessionManager(ttl time.Duration, limit int, newState func() *liveness.State) *sessionManager {
	return &sessionManager{
		sessions: make(map[string]*session),
		ttl:      ttl,
		limit:    limit,
		newState: newState,
		now:      time.Now,
	}
}

// get returns the session for id, creating it if needed. Idle sessions are
// swept on the way, and the least recently seen one is evicted when a new
// session would exceed the cap.
func (m *sessionManager) get(id string) *session {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	for k, s := range m.sessions {
		if k != id && now.Sub(s.lastSeen) > m.ttl {
			delete(m.sessions, k)
		}
	}

	s, ok := m.sessions[id]
	if !ok {
		if m.limit > 0 && len(m.sessions) >= m.limit {
			m.evictOldest()
		}
		s = &session{state: m.newState()}
		m.sessions[id] = s
	}
	s.lastSeen = now
	return s
}

func (m *sessionManager) evictOldest() {
	var oldest string
	var oldestSeen time.Time
	for k, s := range m.sessions {
		if oldest == "" || s.lastSeen.Before(oldestSeen) {
			oldest, oldestSeen = k, s.lastSeen
		}
	}
	delete(m.sessions, oldest)
}

// drop resets and forgets a session. It reports whether the session existed.
func (m *sessionManager) drop(id string) bool {
	m.mu.Lock()
	s, ok := m.sessions[id]
	delete(m.sessions, id)
	m.mu.Unlock()

	if ok {
		s.mu.Lock()
		s.state.Reset()
		s.mu.Unlock()
	}
	return ok
}

func (m *sessionManager) len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sessions)
}
