package broadcast

import (
	"sync"
	"time"
)

// SessionStore is the per-operator staging area for composed broadcasts.
// At most one live session exists per operator. Authorization is the
// caller's concern; the store is identity-agnostic.
type SessionStore struct {
	mu       sync.Mutex
	sessions map[int64]*session
}

func NewSessionStore() *SessionStore {
	return &SessionStore{sessions: map[int64]*session{}}
}

// Begin opens an empty session for the operator, silently replacing any
// session already in progress (overwrite-on-begin).
func (s *SessionStore) Begin(operator int64, now time.Time) {
	s.mu.Lock()
	s.sessions[operator] = &session{startedAt: now}
	s.mu.Unlock()
}

// Append adds an item to the operator's live session and returns the new
// item count.
func (s *SessionStore) Append(operator int64, it Item) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[operator]
	if !ok {
		return 0, ErrNoActiveSession
	}
	sess.items = append(sess.items, it)
	return len(sess.items), nil
}

// Active reports whether the operator has a live session.
func (s *SessionStore) Active(operator int64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.sessions[operator]
	return ok
}

// Cancel discards the operator's session and returns the number of items
// that will not be sent.
func (s *SessionStore) Cancel(operator int64) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[operator]
	if !ok {
		return 0, ErrNoActiveSession
	}
	delete(s.sessions, operator)
	return len(sess.items), nil
}

// TakeForSend atomically removes and returns the session's item sequence.
// Once taken, concurrent appends from the same operator start a fresh error
// path (ErrNoActiveSession) instead of mutating the taken slice.
func (s *SessionStore) TakeForSend(operator int64) ([]Item, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[operator]
	if !ok {
		return nil, ErrNoActiveSession
	}
	if len(sess.items) == 0 {
		return nil, ErrEmptySession
	}
	delete(s.sessions, operator)
	return sess.items, nil
}

// Len reports the number of live sessions.
func (s *SessionStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sessions)
}

// ExpireOlderThan evicts sessions started before the cutoff so abandoned
// compositions don't retain memory forever. Returns the eviction count.
func (s *SessionStore) ExpireOlderThan(cutoff time.Time) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for op, sess := range s.sessions {
		if sess.startedAt.Before(cutoff) {
			delete(s.sessions, op)
			n++
		}
	}
	return n
}
