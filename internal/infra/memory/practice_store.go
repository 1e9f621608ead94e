package memory

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"mathquest-live/internal/domain"
)

// PracticeStore keeps practice sessions until they expire.
type PracticeStore struct {
	clock func() time.Time

	mu       sync.RWMutex
	sessions map[string]*domain.PracticeSession
}

func NewPracticeStore() *PracticeStore {
	return &PracticeStore{
		clock:    time.Now,
		sessions: make(map[string]*domain.PracticeSession),
	}
}

func (s *PracticeStore) Save(_ context.Context, session *domain.PracticeSession) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sessions[session.SessionID] = session.Clone()
	return nil
}

func (s *PracticeStore) Get(_ context.Context, sessionID string) (*domain.PracticeSession, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	session, ok := s.sessions[sessionID]
	if !ok || session.Expired(s.clock()) {
		return nil, domain.ErrPracticeNotFound
	}
	return session.Clone(), nil
}

func (s *PracticeStore) Delete(_ context.Context, sessionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.sessions, sessionID)
	return nil
}

// Sweep drops expired sessions and returns how many were removed.
func (s *PracticeStore) Sweep(now time.Time) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	removed := 0
	for id, session := range s.sessions {
		if session.Expired(now) {
			delete(s.sessions, id)
			removed++
		}
	}
	return removed
}

// RunJanitor sweeps every interval until ctx is done.
func (s *PracticeStore) RunJanitor(ctx context.Context, interval time.Duration, logger *zap.Logger) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := s.Sweep(s.clock()); n > 0 {
				logger.Debug("expired practice sessions swept", zap.Int("count", n))
			}
		}
	}
}
