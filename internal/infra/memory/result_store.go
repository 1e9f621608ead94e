package memory

import (
	"context"
	"sort"
	"sync"

	"mathquest-live/internal/domain"
)

// ResultStore is an in-memory app.ResultStore. Saves are idempotent per session id.
type ResultStore struct {
	mu       sync.RWMutex
	games    map[string]domain.GameResult
	practice map[string]domain.PracticeResult
}

func NewResultStore() *ResultStore {
	return &ResultStore{
		games:    make(map[string]domain.GameResult),
		practice: make(map[string]domain.PracticeResult),
	}
}

func (s *ResultStore) SaveGameResult(_ context.Context, result domain.GameResult) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.games[result.SessionID]; !ok {
		s.games[result.SessionID] = result
	}
	return nil
}

// GetGameResult returns the most recent result for an access code; codes may
// be reused after a session ends.
func (s *ResultStore) GetGameResult(_ context.Context, accessCode string) (domain.GameResult, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var (
		best  domain.GameResult
		found bool
	)
	for _, r := range s.games {
		if r.AccessCode == accessCode && !r.Deferred && (!found || r.EndedAt.After(best.EndedAt)) {
			best, found = r, true
		}
	}
	if !found {
		return domain.GameResult{}, domain.ErrResultNotFound
	}
	return best, nil
}

// ListDeferredResults returns replay results of accessCode, newest first.
func (s *ResultStore) ListDeferredResults(_ context.Context, accessCode string) ([]domain.GameResult, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := []domain.GameResult{}
	for _, r := range s.games {
		if r.AccessCode == accessCode && r.Deferred {
			out = append(out, r)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].EndedAt.After(out[j].EndedAt) })
	return out, nil
}

func (s *ResultStore) SavePracticeResult(_ context.Context, result domain.PracticeResult) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.practice[result.SessionID]; !ok {
		s.practice[result.SessionID] = result
	}
	return nil
}

func (s *ResultStore) ListPracticeResults(_ context.Context, userID string, limit int) ([]domain.PracticeResult, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []domain.PracticeResult
	for _, r := range s.practice {
		if r.UserID == userID {
			out = append(out, r)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CompletedAt.After(out[j].CompletedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// GameResultCount reports how many game results are stored.
func (s *ResultStore) GameResultCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.games)
}

// PracticeResultCount reports how many practice records are stored.
func (s *ResultStore) PracticeResultCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.practice)
}
