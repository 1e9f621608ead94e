package memory

import (
	"context"
	"math/rand"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"mathquest-live/internal/domain"
)

// QuestionLoader fetches content from a backing store (e.g., Postgres).
type QuestionLoader interface {
	LoadQuestion(ctx context.Context, uid string) (domain.Question, error)
	LoadTemplate(ctx context.Context, id string) (domain.GameTemplate, error)
	FindQuestionUIDs(ctx context.Context, filter domain.QuestionFilter) ([]string, error)
}

// QuestionRepository caches questions and templates with TTL to avoid
// repeated DB hits. Filtered draws always go to the loader.
type QuestionRepository struct {
	loader QuestionLoader
	ttl    time.Duration
	clock  func() time.Time
	sf     singleflight.Group
	rnd    *rand.Rand
	rndMu  sync.Mutex

	mu        sync.RWMutex
	questions map[string]cached[domain.Question]
	templates map[string]cached[domain.GameTemplate]
}

type cached[T any] struct {
	value     T
	expiresAt time.Time
}

func NewQuestionRepository(loader QuestionLoader, ttl time.Duration) *QuestionRepository {
	return &QuestionRepository{
		loader:    loader,
		ttl:       ttl,
		clock:     time.Now,
		rnd:       rand.New(rand.NewSource(time.Now().UnixNano())),
		questions: make(map[string]cached[domain.Question]),
		templates: make(map[string]cached[domain.GameTemplate]),
	}
}

func (r *QuestionRepository) GetQuestion(ctx context.Context, uid string) (domain.Question, error) {
	if q, ok := r.cachedQuestion(uid); ok {
		return q, nil
	}

	result, err, _ := r.sf.Do("q:"+uid, func() (interface{}, error) {
		if q, ok := r.cachedQuestion(uid); ok {
			return q, nil
		}
		q, err := r.loader.LoadQuestion(ctx, uid)
		if err != nil {
			return domain.Question{}, err
		}
		r.mu.Lock()
		r.questions[uid] = cached[domain.Question]{value: q, expiresAt: r.clock().Add(r.ttlWithJitter())}
		r.mu.Unlock()
		return q, nil
	})
	if err != nil {
		return domain.Question{}, err
	}
	return result.(domain.Question), nil
}

func (r *QuestionRepository) cachedQuestion(uid string) (domain.Question, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	entry, ok := r.questions[uid]
	if !ok || !entry.expiresAt.After(r.clock()) {
		return domain.Question{}, false
	}
	return entry.value, true
}

func (r *QuestionRepository) GetTemplate(ctx context.Context, id string) (domain.GameTemplate, error) {
	r.mu.RLock()
	entry, ok := r.templates[id]
	r.mu.RUnlock()
	if ok && entry.expiresAt.After(r.clock()) {
		return entry.value, nil
	}

	result, err, _ := r.sf.Do("t:"+id, func() (interface{}, error) {
		tpl, err := r.loader.LoadTemplate(ctx, id)
		if err != nil {
			return domain.GameTemplate{}, err
		}
		r.mu.Lock()
		r.templates[id] = cached[domain.GameTemplate]{value: tpl, expiresAt: r.clock().Add(r.ttlWithJitter())}
		r.mu.Unlock()
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

func (r *QuestionRepository) ttlWithJitter() time.Duration {
	if r.ttl <= 0 {
		return 0
	}
	// add up to 10% jitter to spread expirations
	jitterMax := int64(r.ttl) / 10
	r.rndMu.Lock()
	defer r.rndMu.Unlock()
	return r.ttl + time.Duration(r.rnd.Int63n(jitterMax+1))
}

// StaticQuestionLoader is a simple loader backed by in-memory maps (useful for tests/demos).
type StaticQuestionLoader struct {
	questions map[string]domain.Question
	templates map[string]domain.GameTemplate
}

func NewStaticQuestionLoader(questions []domain.Question, templates []domain.GameTemplate) *StaticQuestionLoader {
	l := &StaticQuestionLoader{
		questions: make(map[string]domain.Question, len(questions)),
		templates: make(map[string]domain.GameTemplate, len(templates)),
	}
	for _, q := range questions {
		l.questions[q.UID] = q
	}
	for _, t := range templates {
		l.templates[t.ID] = t
	}
	return l
}

func (l *StaticQuestionLoader) LoadQuestion(_ context.Context, uid string) (domain.Question, error) {
	if q, ok := l.questions[uid]; ok {
		return q, nil
	}
	return domain.Question{}, domain.ErrQuestionNotFound
}

func (l *StaticQuestionLoader) LoadTemplate(_ context.Context, id string) (domain.GameTemplate, error) {
	if t, ok := l.templates[id]; ok {
		return t, nil
	}
	return domain.GameTemplate{}, domain.ErrTemplateNotFound
}

// FindQuestionUIDs returns matching uids in a stable order; callers shuffle.
func (l *StaticQuestionLoader) FindQuestionUIDs(_ context.Context, filter domain.QuestionFilter) ([]string, error) {
	var out []string
	for uid, q := range l.questions {
		if filter.Matches(q) {
			out = append(out, uid)
		}
	}
	sort.Strings(out)
	if filter.Limit > 0 && len(out) > filter.Limit {
		out = out[:filter.Limit]
	}
	return out, nil
}
