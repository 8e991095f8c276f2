package companion

import (
	"sync"
	"time"

	"github.com/cadre-oss/mneme/internal/provider"
)

// sessionStore keeps bounded chat histories that expire after ttl idle.
type sessionStore struct {
	mu       sync.Mutex
	sessions map[string]*session
	maxTurns int
	ttl      time.Duration
	now      func() time.Time
}

type session struct {
	history  []provider.Message
	lastSeen time.Time
}

func newSessionStore(maxTurns int, ttl time.Duration) *sessionStore {
	if maxTurns <= 0 {
		maxTurns = 20
	}
	if ttl <= 0 {
		ttl = 30 * time.Minute
	}
	return &sessionStore{
		sessions: make(map[string]*session),
		maxTurns: maxTurns,
		ttl:      ttl,
		now:      time.Now,
	}
}

// History returns a copy of the session's messages.
func (s *sessionStore) History(id string) []provider.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.evictLocked()
	sess, ok := s.sessions[id]
	if !ok {
		return nil
	}
	out := make([]provider.Message, len(sess.history))
	copy(out, sess.history)
	return out
}

// Append records messages and trims the session to maxTurns messages.
func (s *sessionStore) Append(id string, msgs ...provider.Message) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[id]
	if !ok {
		sess = &session{}
		s.sessions[id] = sess
	}
	sess.history = append(sess.history, msgs...)
	if over := len(sess.history) - s.maxTurns; over > 0 {
		sess.history = append([]provider.Message(nil), sess.history[over:]...)
	}
	sess.lastSeen = s.now()
}

// Reset drops a session.
func (s *sessionStore) Reset(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.sessions, id)
}

// Len returns the number of live sessions.
func (s *sessionStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.evictLocked()
	return len(s.sessions)
}

func (s *sessionStore) evictLocked() {
	cutoff := s.now().Add(-s.ttl)
	for id, sess := range s.sessions {
		if sess.lastSeen.Before(cutoff) {
			delete(s.sessions, id)
		}
	}
}
