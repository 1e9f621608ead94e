package redis

import (
	"context"
	"encoding/json"
	"math/rand"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/singleflight"

	"mathquest-live/internal/domain"
)

// QuestionLoader fetches content from a backing store (e.g., Postgres).
type QuestionLoader interface {
	LoadQuestion(ctx context.Context, uid string) (domain.Question, error)
	LoadTemplate(ctx context.Context, id string) (domain.GameTemplate, error)
	FindQuestionUIDs(ctx context.Context, filter domain.QuestionFilter) ([]string, error)
}

// QuestionRepository caches question and template documents in Redis and
// falls back to a loader on cache miss. Every instance shares the cache.
//
//	SET mathquest:question:{uid} <json> EX ttl
//	SET mathquest:template:{id}  <json> EX ttl
type QuestionRepository struct {
	client *redis.Client
	loader QuestionLoader
	ttl    time.Duration
	sf     singleflight.Group

	rndMu sync.Mutex
	rnd   *rand.Rand
}

func NewQuestionRepository(client *redis.Client, loader QuestionLoader, ttl time.Duration) *QuestionRepository {
	return &QuestionRepository{
		client: client,
		loader: loader,
		ttl:    ttl,
		rnd:    rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

func (r *QuestionRepository) GetQuestion(ctx context.Context, uid string) (domain.Question, error) {
	key := questionKey(uid)
	var q domain.Question
	if r.readCache(ctx, key, &q) {
		return q, nil
	}

	result, err, _ := r.sf.Do(key, func() (interface{}, error) {
		// Re-check cache in case another goroutine filled it.
		var q domain.Question
		if r.readCache(ctx, key, &q) {
			return q, nil
		}
		q, err := r.loader.LoadQuestion(ctx, uid)
		if err != nil {
			return domain.Question{}, err
		}
		r.writeCache(ctx, key, q)
		return q, nil
	})
	if err != nil {
		return domain.Question{}, err
	}
	return result.(domain.Question), nil
}

func (r *QuestionRepository) GetTemplate(ctx context.Context, id string) (domain.GameTemplate, error) {
	key := templateKey(id)
	var tpl domain.GameTemplate
	if r.readCache(ctx, key, &tpl) {
		return tpl, nil
	}

	result, err, _ := r.sf.Do(key, func() (interface{}, error) {
		tpl, err := r.loader.LoadTemplate(ctx, id)
		if err != nil {
			return domain.GameTemplate{}, err
		}
		r.writeCache(ctx, key, tpl)
		return tpl, nil
	})
	if err != nil {
		return domain.GameTemplate{}, err
	}
	return result.(domain.GameTemplate), nil
}

func (r *QuestionRepository) FindQuestionUIDs(ctx context.Context, filter domain.QuestionFilter) ([]string, error) {
	return r.loader.FindQuestionUIDs(ctx, filter)
}

func (r *QuestionRepository) readCache(ctx context.Context, key string, dst any) bool {
	raw, err := r.client.Get(ctx, key).Bytes()
	if err != nil {
		return false
	}
	return json.Unmarshal(raw, dst) == nil
}

// writeCache is best effort; a failed write only costs a future reload.
func (r *QuestionRepository) writeCache(ctx context.Context, key string, v any) {
	raw, err := json.Marshal(v)
	if err != nil {
		return
	}
	_ = r.client.Set(ctx, key, raw, r.ttlWithJitter()).Err()
}

func questionKey(uid string) string {
	return "mathquest:question:" + uid
}

func templateKey(id string) string {
	return "mathquest:template:" + id
}

func (r *QuestionRepository) ttlWithJitter() time.Duration {
	if r.ttl <= 0 {
		return 0
	}
	jitterMax := int64(r.ttl) / 10
	r.rndMu.Lock()
	defer r.rndMu.Unlock()
	return r.ttl + time.Duration(r.rnd.Int63n(jitterMax+1))
}
