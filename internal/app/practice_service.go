package app

import (
	"context"
	"math/rand"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"mathquest-live/internal/domain"
	"mathquest-live/internal/metrics"
)

const (
	defaultPracticeTTL       = 24 * time.Hour
	defaultPracticeQuestions = 10
)

// PracticeService runs single-player, self-paced sessions. Feedback is given
// immediately after every submission; there is no timer and no broadcast.
type PracticeService struct {
	store     PracticeRepository
	questions QuestionRepository
	results   ResultStore
	policy    ScoringPolicy
	retry     retrier
	locks     *keyedMutex
	now       func() time.Time
	shuffle   func([]string)
	logger    *zap.Logger
	metrics   *metrics.Metrics

	ttl          time.Duration
	defaultCount int
}

// PracticeOption customises a PracticeService.
type PracticeOption func(*PracticeService)

func WithPracticeClock(now func() time.Time) PracticeOption {
	return func(p *PracticeService) { p.now = now }
}

func WithPracticeTTL(ttl time.Duration) PracticeOption {
	return func(p *PracticeService) { p.ttl = ttl }
}

func WithPracticeLogger(l *zap.Logger) PracticeOption {
	return func(p *PracticeService) { p.logger = l }
}

func WithPracticeMetrics(m *metrics.Metrics) PracticeOption {
	return func(p *PracticeService) { p.metrics = m }
}

// WithDefaultQuestionCount sets the pool size when settings leave it empty.
func WithDefaultQuestionCount(n int) PracticeOption {
	return func(p *PracticeService) { p.defaultCount = n }
}

// WithShuffle replaces the random draw, mostly for deterministic tests.
func WithShuffle(shuffle func([]string)) PracticeOption {
	return func(p *PracticeService) { p.shuffle = shuffle }
}

func WithPracticeBackoff(newBackOff func() backoff.BackOff, retries uint64) PracticeOption {
	return func(p *PracticeService) { p.retry = retrier{newBackOff: newBackOff, retries: retries} }
}

func NewPracticeService(store PracticeRepository, questions QuestionRepository, results ResultStore, opts ...PracticeOption) *PracticeService {
	p := &PracticeService{
		store:     store,
		questions: questions,
		results:   results,
		policy:    DefaultScoringPolicy(),
		retry:     defaultRetrier(),
		locks:     newKeyedMutex(),
		now:       time.Now,
		shuffle: func(s []string) {
			rand.Shuffle(len(s), func(i, j int) { s[i], s[j] = s[j], s[i] })
		},
		logger:       zap.NewNop(),
		ttl:          defaultPracticeTTL,
		defaultCount: defaultPracticeQuestions,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// PracticeQuestion is the question under the pointer of a practice session.
type PracticeQuestion struct {
	SessionID string                `json:"sessionId"`
	Question  domain.PublicQuestion `json:"question"`
	Index     int                   `json:"index"`
	Total     int                   `json:"total"`
}

// PracticeFeedback is returned after every practice submission.
type PracticeFeedback struct {
	SessionID    string                    `json:"sessionId"`
	QuestionUID  string                    `json:"questionUid"`
	IsCorrect    bool                      `json:"isCorrect"`
	Reveal       domain.Reveal             `json:"reveal"`
	PointsEarned int                       `json:"pointsEarned"`
	CanRetry     bool                      `json:"canRetry"`
	Completed    bool                      `json:"completed"`
	Statistics   domain.PracticeStatistics `json:"statistics"`
}

// Create resolves the question pool, from a template or a random draw over the
// filter, and starts the session.
func (p *PracticeService) Create(ctx context.Context, userID string, settings domain.PracticeSettings) (*domain.PracticeSession, error) {
	if userID == "" {
		return nil, domain.ErrForbidden
	}
	count := settings.QuestionCount
	if count <= 0 {
		count = p.defaultCount
	}

	var pool []string
	if settings.TemplateID != "" {
		tpl, err := p.questions.GetTemplate(ctx, settings.TemplateID)
		if err != nil {
			return nil, err
		}
		pool = append(pool, tpl.QuestionUIDs...)
	} else {
		uids, err := p.questions.FindQuestionUIDs(ctx, domain.QuestionFilter{
			GradeLevel: settings.GradeLevel,
			Discipline: settings.Discipline,
			Themes:     settings.Themes,
		})
		if err != nil {
			return nil, err
		}
		pool = append(pool, uids...)
		p.shuffle(pool)
	}
	if len(pool) > count {
		pool = pool[:count]
	}
	if len(pool) == 0 {
		return nil, domain.ErrNoQuestionsFound
	}

	now := p.now()
	settings.QuestionCount = len(pool)
	session := &domain.PracticeSession{
		SessionID:    "practice_" + uuid.NewString(),
		UserID:       userID,
		Settings:     settings,
		Status:       domain.PracticeActive,
		QuestionPool: pool,
		Outcomes:     make(map[string]bool),
		Retries:      make(map[string]int),
		Statistics:   domain.PracticeStatistics{RetriedQuestions: []string{}},
		CreatedAt:    now,
		ExpiresAt:    now.Add(p.ttl),
	}
	if err := p.store.Save(ctx, session); err != nil {
		return nil, err
	}
	p.metrics.Practice("created")
	p.logger.Info("practice session created",
		zap.String("session_id", session.SessionID),
		zap.String("user_id", userID),
		zap.Int("questions", len(pool)))
	return session.Clone(), nil
}

// Get returns the session if userID owns it and it has not expired.
func (p *PracticeService) Get(ctx context.Context, sessionID, userID string) (*domain.PracticeSession, error) {
	return p.load(ctx, sessionID, userID)
}

func (p *PracticeService) load(ctx context.Context, sessionID, userID string) (*domain.PracticeSession, error) {
	s, err := p.store.Get(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if s.Expired(p.now()) {
		return nil, domain.ErrPracticeNotFound
	}
	if s.UserID != userID {
		return nil, domain.ErrForbidden.With("practice session belongs to another user")
	}
	return s, nil
}

// CurrentQuestion returns the question under the pointer.
func (p *PracticeService) CurrentQuestion(ctx context.Context, sessionID, userID string) (PracticeQuestion, error) {
	s, err := p.load(ctx, sessionID, userID)
	if err != nil {
		return PracticeQuestion{}, err
	}
	if s.Status != domain.PracticeActive {
		return PracticeQuestion{}, domain.ErrSessionNotActive
	}
	return p.questionAt(ctx, s)
}

func (p *PracticeService) questionAt(ctx context.Context, s *domain.PracticeSession) (PracticeQuestion, error) {
	uid := s.CurrentQuestionUID()
	if uid == "" {
		return PracticeQuestion{}, domain.ErrNoMoreQuestions
	}
	q, err := p.questions.GetQuestion(ctx, uid)
	if err != nil {
		return PracticeQuestion{}, err
	}
	return PracticeQuestion{
		SessionID: s.SessionID,
		Question:  q.Public(),
		Index:     s.CurrentQuestionIndex,
		Total:     len(s.QuestionPool),
	}, nil
}

func canRetry(s *domain.PracticeSession, q domain.Question) bool {
	if !s.Settings.AllowRetry {
		return false
	}
	if q.Type != domain.QuestionSingleChoice && q.Type != domain.QuestionMultipleChoice {
		return false
	}
	return s.Retries[q.UID] < domain.MaxPracticeRetries
}

// SubmitAnswer grades value immediately. An incorrect choice answer may be
// retried once when the settings allow it; the retry replaces the outcome, so
// the question still counts once in the statistics.
func (p *PracticeService) SubmitAnswer(ctx context.Context, sessionID, userID, questionUID string, value domain.AnswerValue, timeSpentMs int64) (PracticeFeedback, error) {
	unlock := p.locks.Lock(sessionID)
	defer unlock()

	s, err := p.load(ctx, sessionID, userID)
	if err != nil {
		return PracticeFeedback{}, err
	}
	if s.Status != domain.PracticeActive {
		return PracticeFeedback{}, domain.ErrSessionNotActive
	}
	if questionUID != s.CurrentQuestionUID() {
		return PracticeFeedback{}, domain.ErrQuestionMismatch
	}
	q, err := p.questions.GetQuestion(ctx, questionUID)
	if err != nil {
		return PracticeFeedback{}, err
	}

	previous, answered := s.Outcomes[q.UID]
	retry := false
	if answered {
		if previous || !canRetry(s, q) {
			return PracticeFeedback{}, domain.ErrAlreadyAnswered
		}
		retry = true
	}

	correct, err := Evaluate(q, value)
	if err != nil {
		return PracticeFeedback{}, err
	}
	if timeSpentMs < 0 {
		timeSpentMs = 0
	}
	points := p.policy.Score(correct, 0, 0)

	attemptNumber := 1
	stats := &s.Statistics
	if retry {
		s.Retries[q.UID]++
		attemptNumber = s.Retries[q.UID] + 1
		stats.RetriedQuestions = append(stats.RetriedQuestions, q.UID)
		if correct {
			stats.IncorrectAnswers--
			stats.CorrectAnswers++
		}
	} else {
		stats.QuestionsAttempted++
		if correct {
			stats.CorrectAnswers++
		} else {
			stats.IncorrectAnswers++
		}
	}
	s.Score += points
	s.Outcomes[q.UID] = correct
	s.Answers = append(s.Answers, domain.PracticeAnswer{
		QuestionUID:   q.UID,
		Value:         value,
		IsCorrect:     correct,
		ScoreAwarded:  points,
		TimeSpentMs:   timeSpentMs,
		SubmittedAt:   p.now(),
		AttemptNumber: attemptNumber,
	})
	stats.TotalTimeSpentMs += timeSpentMs
	stats.AccuracyPercentage = float64(stats.CorrectAnswers) / float64(stats.QuestionsAttempted) * 100
	stats.AverageTimePerQuestion = float64(stats.TotalTimeSpentMs) / float64(stats.QuestionsAttempted)

	retryable := !correct && canRetry(s, q)
	last := s.CurrentQuestionIndex == len(s.QuestionPool)-1
	if last && !retryable {
		p.complete(ctx, s)
	}
	if err := p.store.Save(ctx, s); err != nil {
		return PracticeFeedback{}, err
	}

	return PracticeFeedback{
		SessionID:    s.SessionID,
		QuestionUID:  q.UID,
		IsCorrect:    correct,
		Reveal:       domain.RevealOf(q),
		PointsEarned: points,
		CanRetry:     retryable,
		Completed:    s.Status == domain.PracticeCompleted,
		Statistics:   s.Statistics,
	}, nil
}

// NextQuestion moves past currentQuestionUID and returns the following
// question. Past the last question the session completes and
// domain.ErrNoMoreQuestions is returned.
func (p *PracticeService) NextQuestion(ctx context.Context, sessionID, userID, currentQuestionUID string) (PracticeQuestion, error) {
	unlock := p.locks.Lock(sessionID)
	defer unlock()

	s, err := p.load(ctx, sessionID, userID)
	if err != nil {
		return PracticeQuestion{}, err
	}
	if s.Status != domain.PracticeActive {
		return PracticeQuestion{}, domain.ErrSessionNotActive
	}
	if currentQuestionUID != "" && currentQuestionUID != s.CurrentQuestionUID() {
		return PracticeQuestion{}, domain.ErrQuestionMismatch
	}

	s.CurrentQuestionIndex++
	if s.CurrentQuestionIndex >= len(s.QuestionPool) {
		s.CurrentQuestionIndex = len(s.QuestionPool)
		p.complete(ctx, s)
		if err := p.store.Save(ctx, s); err != nil {
			return PracticeQuestion{}, err
		}
		return PracticeQuestion{}, domain.ErrNoMoreQuestions
	}
	if err := p.store.Save(ctx, s); err != nil {
		return PracticeQuestion{}, err
	}
	return p.questionAt(ctx, s)
}

// End completes the session. Ending twice is a no-op.
func (p *PracticeService) End(ctx context.Context, sessionID, userID string) (*domain.PracticeSession, error) {
	unlock := p.locks.Lock(sessionID)
	defer unlock()

	s, err := p.load(ctx, sessionID, userID)
	if err != nil {
		return nil, err
	}
	if s.Status == domain.PracticeCompleted && s.Recorded {
		return s, nil
	}
	p.complete(ctx, s)
	if err := p.store.Save(ctx, s); err != nil {
		return nil, err
	}
	return s.Clone(), nil
}

// History lists the durable records of userID's completed sessions.
func (p *PracticeService) History(ctx context.Context, userID string, limit int) ([]domain.PracticeResult, error) {
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	return p.results.ListPracticeResults(ctx, userID, limit)
}

// complete marks the session completed and writes its historical record once.
func (p *PracticeService) complete(ctx context.Context, s *domain.PracticeSession) {
	if s.Status != domain.PracticeCompleted {
		s.Status = domain.PracticeCompleted
		s.CompletedAt = p.now()
		p.metrics.Practice("completed")
	}
	if s.Recorded {
		return
	}
	result := domain.PracticeResult{
		SessionID:   s.SessionID,
		UserID:      s.UserID,
		Settings:    s.Settings,
		Statistics:  s.Statistics,
		Score:       s.Score,
		CreatedAt:   s.CreatedAt,
		CompletedAt: s.CompletedAt,
	}
	err := p.retry.Do(ctx, func() error {
		return p.results.SavePracticeResult(ctx, result)
	})
	if err != nil {
		p.metrics.CheckpointFailed("practice")
		p.logger.Error("practice checkpoint failed", zap.String("session_id", s.SessionID), zap.Error(err))
		return
	}
	s.Recorded = true
}
