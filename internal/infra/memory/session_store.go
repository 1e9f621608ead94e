package memory

import (
	"context"
	"sort"
	"sync"

	"mathquest-live/internal/domain"
)

// SessionStore is an in-memory implementation of app.SessionRepository. It
// stores copies, so callers never share a live session.
type SessionStore struct {
	mu       sync.RWMutex
	sessions map[string]*domain.Session
}

func NewSessionStore() *SessionStore {
	return &SessionStore{
		sessions: make(map[string]*domain.Session),
	}
}

func (s *SessionStore) Create(_ context.Context, session *domain.Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.sessions[session.AccessCode]; ok {
		return domain.ErrVersionConflict.With("access code already in use")
	}
	session.Version = 1
	s.sessions[session.AccessCode] = session.Clone()
	return nil
}

func (s *SessionStore) Get(_ context.Context, accessCode string) (*domain.Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	session, ok := s.sessions[accessCode]
	if !ok {
		return nil, domain.ErrSessionNotFound
	}
	return session.Clone(), nil
}

func (s *SessionStore) Save(_ context.Context, session *domain.Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	current, ok := s.sessions[session.AccessCode]
	if !ok {
		return domain.ErrSessionNotFound
	}
	if current.Version != session.Version {
		return domain.ErrVersionConflict
	}
	session.Version++
	s.sessions[session.AccessCode] = session.Clone()
	return nil
}

func (s *SessionStore) Delete(_ context.Context, accessCode string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.sessions, accessCode)
	return nil
}

func (s *SessionStore) ListLive(_ context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []string
	for code, session := range s.sessions {
		if session.Live() {
			out = append(out, code)
		}
	}
	sort.Strings(out)
	return out, nil
}
