package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"mathquest-live/internal/domain"
)

// PracticeStore keeps practice sessions in Redis; the key TTL follows the
// session's ExpiresAt so abandoned sessions are collected by Redis itself.
type PracticeStore struct {
	client *redis.Client
	clock  func() time.Time
}

func NewPracticeStore(client *redis.Client) *PracticeStore {
	return &PracticeStore{client: client, clock: time.Now}
}

func (s *PracticeStore) Save(ctx context.Context, session *domain.PracticeSession) error {
	ttl := time.Duration(0)
	if !session.ExpiresAt.IsZero() {
		ttl = session.ExpiresAt.Sub(s.clock())
		if ttl <= 0 {
			return s.Delete(ctx, session.SessionID)
		}
	}
	raw, err := json.Marshal(session)
	if err != nil {
		return fmt.Errorf("marshal practice session: %w", err)
	}
	return s.client.Set(ctx, s.key(session.SessionID), raw, ttl).Err()
}

func (s *PracticeStore) Get(ctx context.Context, sessionID string) (*domain.PracticeSession, error) {
	raw, err := s.client.Get(ctx, s.key(sessionID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, domain.ErrPracticeNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get practice session: %w", err)
	}
	var session domain.PracticeSession
	if err := json.Unmarshal(raw, &session); err != nil {
		return nil, fmt.Errorf("unmarshal practice session: %w", err)
	}
	return &session, nil
}

func (s *PracticeStore) Delete(ctx context.Context, sessionID string) error {
	return s.client.Del(ctx, s.key(sessionID)).Err()
}

func (s *PracticeStore) key(sessionID string) string {
	return "mathquest:practice:" + sessionID
}
