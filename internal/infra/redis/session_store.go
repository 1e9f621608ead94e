package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/redis/go-redis/v9"

	"mathquest-live/internal/domain"
)

const liveSessionsKey = "mathquest:sessions:live"

// SessionStore keeps sessions in Redis so that any instance can serve any
// session and timers survive a restart. Writes use WATCH/MULTI on the session
// key and compare Version, so a stale writer gets domain.ErrVersionConflict.
type SessionStore struct {
	client *redis.Client
	ttl    time.Duration
}

func NewSessionStore(client *redis.Client, ttl time.Duration) *SessionStore {
	return &SessionStore{client: client, ttl: ttl}
}

func (s *SessionStore) Create(ctx context.Context, session *domain.Session) error {
	next := session.Clone()
	next.Version = 1
	raw, err := json.Marshal(next)
	if err != nil {
		return fmt.Errorf("marshal session: %w", err)
	}
	ok, err := s.client.SetNX(ctx, s.key(session.AccessCode), raw, s.ttl).Result()
	if err != nil {
		return fmt.Errorf("create session: %w", err)
	}
	if !ok {
		return domain.ErrVersionConflict.With("access code already in use")
	}
	session.Version = 1
	return nil
}

func (s *SessionStore) Get(ctx context.Context, accessCode string) (*domain.Session, error) {
	raw, err := s.client.Get(ctx, s.key(accessCode)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, domain.ErrSessionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get session: %w", err)
	}
	var session domain.Session
	if err := json.Unmarshal(raw, &session); err != nil {
		return nil, fmt.Errorf("unmarshal session: %w", err)
	}
	return &session, nil
}

func (s *SessionStore) Save(ctx context.Context, session *domain.Session) error {
	key := s.key(session.AccessCode)
	next := session.Clone()
	next.Version = session.Version + 1
	raw, err := json.Marshal(next)
	if err != nil {
		return fmt.Errorf("marshal session: %w", err)
	}

	txf := func(tx *redis.Tx) error {
		current, err := tx.Get(ctx, key).Bytes()
		if errors.Is(err, redis.Nil) {
			return domain.ErrSessionNotFound
		}
		if err != nil {
			return err
		}
		var stored struct {
			Version int64 `json:"version"`
		}
		if err := json.Unmarshal(current, &stored); err != nil {
			return fmt.Errorf("unmarshal session version: %w", err)
		}
		if stored.Version != session.Version {
			return domain.ErrVersionConflict
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, raw, s.ttl)
			if next.Live() {
				pipe.SAdd(ctx, liveSessionsKey, next.AccessCode)
			} else {
				pipe.SRem(ctx, liveSessionsKey, next.AccessCode)
			}
			return nil
		})
		return err
	}

	err = s.client.Watch(ctx, txf, key)
	if errors.Is(err, redis.TxFailedErr) {
		return domain.ErrVersionConflict
	}
	if err != nil {
		var de *domain.Error
		if errors.As(err, &de) {
			return err
		}
		return fmt.Errorf("save session: %w", err)
	}
	session.Version = next.Version
	return nil
}

func (s *SessionStore) Delete(ctx context.Context, accessCode string) error {
	pipe := s.client.TxPipeline()
	pipe.Del(ctx, s.key(accessCode))
	pipe.SRem(ctx, liveSessionsKey, accessCode)
	_, err := pipe.Exec(ctx)
	return err
}

// ListLive returns live sessions, pruning entries whose session key expired.
func (s *SessionStore) ListLive(ctx context.Context) ([]string, error) {
	codes, err := s.client.SMembers(ctx, liveSessionsKey).Result()
	if err != nil {
		return nil, fmt.Errorf("list live sessions: %w", err)
	}
	out := make([]string, 0, len(codes))
	for _, code := range codes {
		n, err := s.client.Exists(ctx, s.key(code)).Result()
		if err != nil {
			return nil, err
		}
		if n == 0 {
			_ = s.client.SRem(ctx, liveSessionsKey, code).Err()
			continue
		}
		out = append(out, code)
	}
	sort.Strings(out)
	return out, nil
}

func (s *SessionStore) key(accessCode string) string {
	return "mathquest:session:" + accessCode
}
