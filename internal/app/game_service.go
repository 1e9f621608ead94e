package app

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"mathquest-live/internal/domain"
	"mathquest-live/internal/metrics"
)

// errUnchanged lets a mutation run its effects without writing the session back.
var errUnchanged = errors.New("session unchanged")

const (
	defaultCountdown   = 5
	defaultRevealDelay = 5 * time.Second
	maxSaveAttempts    = 3
	maxCodeAttempts    = 10
)

// GameService contains the live game use cases. Every mutation of a session
// runs under that session's lock: load, mutate, save, then broadcast, so
// clients observe events in the order the state changed.
type GameService struct {
	sessions  SessionRepository
	questions QuestionRepository
	results   ResultStore
	fanout    *Fanout
	ledger    AnswerLedger
	timer     TimerAuthority
	scheduler Scheduler
	retry     retrier
	locks     *keyedMutex
	now       func() time.Time
	logger    *zap.Logger
	metrics   *metrics.Metrics

	countdown   int
	revealDelay time.Duration
	newCode     func() string

	tasksMu sync.Mutex
	tasks   map[string]task
	taskSeq uint64
}

type task struct {
	id     uint64
	cancel func() bool
}

// GameOption customises a GameService.
type GameOption func(*GameService)

func WithClock(now func() time.Time) GameOption {
	return func(g *GameService) { g.now = now }
}

func WithScheduler(s Scheduler) GameOption {
	return func(g *GameService) { g.scheduler = s }
}

func WithLogger(l *zap.Logger) GameOption {
	return func(g *GameService) { g.logger = l }
}

func WithMetrics(m *metrics.Metrics) GameOption {
	return func(g *GameService) { g.metrics = m }
}

func WithScoringPolicy(p ScoringPolicy) GameOption {
	return func(g *GameService) { g.ledger.Policy = p }
}

// WithCountdown sets the tournament pre-start countdown in seconds.
func WithCountdown(seconds int) GameOption {
	return func(g *GameService) { g.countdown = seconds }
}

// WithRevealDelay sets how long a tournament lingers on a reveal before advancing.
func WithRevealDelay(d time.Duration) GameOption {
	return func(g *GameService) { g.revealDelay = d }
}

// WithCheckpointBackoff sets the retry policy for durable checkpoints.
func WithCheckpointBackoff(newBackOff func() backoff.BackOff, retries uint64) GameOption {
	return func(g *GameService) { g.retry = retrier{newBackOff: newBackOff, retries: retries} }
}

// WithAccessCodes overrides access code generation.
func WithAccessCodes(next func() string) GameOption {
	return func(g *GameService) { g.newCode = next }
}

func NewGameService(sessions SessionRepository, questions QuestionRepository, results ResultStore, out Broadcaster, opts ...GameOption) *GameService {
	g := &GameService{
		sessions:    sessions,
		questions:   questions,
		results:     results,
		ledger:      AnswerLedger{Policy: DefaultScoringPolicy()},
		scheduler:   RealScheduler(),
		retry:       defaultRetrier(),
		locks:       newKeyedMutex(),
		now:         time.Now,
		logger:      zap.NewNop(),
		countdown:   defaultCountdown,
		revealDelay: defaultRevealDelay,
		newCode:     randomAccessCode,
		tasks:       make(map[string]task),
	}
	for _, opt := range opts {
		opt(g)
	}
	g.fanout = NewFanout(out, g.ledger)
	return g
}

func randomAccessCode() string {
	return fmt.Sprintf("%06d", rand.Intn(1_000_000))
}

// CreateGameRequest describes a new live session.
type CreateGameRequest struct {
	PlayMode       domain.PlayMode `json:"playMode" validate:"required,oneof=quiz tournament class"`
	TemplateID     string          `json:"gameTemplateId" validate:"required_without=QuestionUIDs"`
	QuestionUIDs   []string        `json:"questionUids" validate:"omitempty,max=200,dive,required"`
	TimeMultiplier float64         `json:"timeMultiplier" validate:"omitempty,gt=0,lte=10"`
}

// CreateSession resolves the question sequence and registers a pending session
// owned by creatorID.
func (g *GameService) CreateSession(ctx context.Context, creatorID string, req CreateGameRequest) (*domain.Session, error) {
	if creatorID == "" {
		return nil, domain.ErrForbidden
	}
	if !req.PlayMode.Valid() || req.PlayMode == domain.PlayModePractice {
		return nil, domain.ErrInvalidPayload.With("unsupported play mode " + string(req.PlayMode))
	}

	uids := req.QuestionUIDs
	if req.TemplateID != "" {
		tpl, err := g.questions.GetTemplate(ctx, req.TemplateID)
		if err != nil {
			return nil, err
		}
		uids = tpl.QuestionUIDs
	}
	if len(uids) == 0 {
		return nil, domain.ErrNoQuestionsFound
	}
	for _, uid := range uids {
		if _, err := g.questions.GetQuestion(ctx, uid); err != nil {
			return nil, err
		}
	}

	multiplier := req.TimeMultiplier
	if multiplier <= 0 {
		multiplier = 1
	}
	now := g.now()
	session := &domain.Session{
		ID:                   uuid.NewString(),
		Status:               domain.StatusPending,
		PlayMode:             req.PlayMode,
		CreatorID:            creatorID,
		TemplateID:           req.TemplateID,
		QuestionUIDs:         append([]string(nil), uids...),
		CurrentQuestionIndex: -1,
		Participants:         make(map[string]*domain.Participant),
		Timer:                domain.TimerState{Status: domain.TimerStop, TimeMultiplier: multiplier},
		RevealedQuestions:    make(map[string]bool),
		TimeMultiplier:       multiplier,
		CreatedAt:            now,
	}

	for attempt := 0; attempt < maxCodeAttempts; attempt++ {
		session.AccessCode = g.newCode()
		err := g.sessions.Create(ctx, session)
		if err == nil {
			g.metrics.SessionCreated(string(session.PlayMode))
			g.logger.Info("session created",
				zap.String("access_code", session.AccessCode),
				zap.String("mode", string(session.PlayMode)),
				zap.Int("questions", len(uids)))
			return session.Clone(), nil
		}
		if !errors.Is(err, domain.ErrVersionConflict) {
			return nil, err
		}
	}
	return nil, fmt.Errorf("allocate access code: %w", domain.ErrVersionConflict)
}

// GetSession returns a copy of the session.
func (g *GameService) GetSession(ctx context.Context, accessCode string) (*domain.Session, error) {
	return g.sessions.Get(ctx, accessCode)
}

// GetResult returns the durable checkpoint of a completed session.
func (g *GameService) GetResult(ctx context.Context, accessCode string) (domain.GameResult, error) {
	return g.results.GetGameResult(ctx, accessCode)
}

// AuthorizeControl admits userID to the dashboard or projection rooms.
func (g *GameService) AuthorizeControl(ctx context.Context, accessCode, userID string) error {
	s, err := g.sessions.Get(ctx, accessCode)
	if err != nil {
		return err
	}
	return authorize(s, userID)
}

func authorize(s *domain.Session, requesterID string) error {
	if requesterID == "" || requesterID != s.CreatorID {
		return domain.ErrForbidden.With("only the session creator can do this")
	}
	return nil
}

// mutate loads the session under its lock, applies fn, saves and finally runs
// the returned effect while still holding the lock. Version conflicts from a
// concurrent writer on another instance are retried from a fresh load.
func (g *GameService) mutate(ctx context.Context, accessCode string, fn func(s *domain.Session) (func(), error)) error {
	unlock := g.locks.Lock(accessCode)
	defer unlock()

	for attempt := 1; ; attempt++ {
		s, err := g.sessions.Get(ctx, accessCode)
		if err != nil {
			return err
		}
		reconciled, err := g.reconcile(ctx, s)
		if err != nil {
			return err
		}

		after, err := fn(s)
		if errors.Is(err, errUnchanged) {
			if reconciled {
				if err := g.sessions.Save(ctx, s); err != nil && !errors.Is(err, domain.ErrVersionConflict) {
					return err
				}
			}
			if after != nil {
				after()
			}
			return nil
		}
		if err != nil {
			return err
		}

		err = g.sessions.Save(ctx, s)
		if errors.Is(err, domain.ErrVersionConflict) && attempt < maxSaveAttempts {
			g.logger.Debug("session save conflict, retrying", zap.String("access_code", accessCode), zap.Int("attempt", attempt))
			continue
		}
		if err != nil {
			return err
		}
		if after != nil {
			after()
		}
		return nil
	}
}

// reconcile re-derives the timer from the question pointer when the two
// disagree, which can only happen after a crash between writes.
func (g *GameService) reconcile(ctx context.Context, s *domain.Session) (bool, error) {
	uid := s.CurrentQuestionUID()
	if !s.Live() || uid == "" || s.Timer.QuestionUID == uid {
		return false, nil
	}
	q, err := g.questions.GetQuestion(ctx, uid)
	if err != nil {
		return false, err
	}
	g.logger.Warn("timer diverged from question pointer, resetting",
		zap.String("access_code", s.AccessCode),
		zap.String("timer_question", s.Timer.QuestionUID),
		zap.String("current_question", uid))
	g.timer.Reset(&s.Timer, uid, q.Duration(s.TimeMultiplier))
	return true, nil
}

func (g *GameService) currentQuestion(ctx context.Context, s *domain.Session) (domain.Question, error) {
	uid := s.CurrentQuestionUID()
	if uid == "" {
		return domain.Question{}, domain.ErrInvalidTransition.With("no question is being shown")
	}
	return g.questions.GetQuestion(ctx, uid)
}

// StartGame moves a pending session to active. Tournaments first run the
// countdown; other modes show the first question with a stopped timer.
func (g *GameService) StartGame(ctx context.Context, accessCode, requesterID string) error {
	return g.mutate(ctx, accessCode, func(s *domain.Session) (func(), error) {
		if err := authorize(s, requesterID); err != nil {
			return nil, err
		}
		if s.Status != domain.StatusPending {
			return nil, domain.ErrInvalidTransition.With("game already started")
		}
		s.Status = domain.StatusActive
		s.StartedAt = g.now()

		if s.PlayMode == domain.PlayModeTournament && g.countdown > 0 {
			code, n := s.AccessCode, g.countdown
			return func() {
				g.fanout.ParticipantList(s)
				g.fanout.Countdown(s, n)
				g.schedule(taskCountdown, code, time.Second, func() { g.countdownStep(code, n-1) })
			}, nil
		}

		show, err := g.showQuestion(ctx, s, 0)
		if err != nil {
			return nil, err
		}
		return func() {
			g.fanout.ParticipantList(s)
			show()
		}, nil
	})
}

func (g *GameService) countdownStep(accessCode string, n int) {
	ctx := context.Background()
	err := g.mutate(ctx, accessCode, func(s *domain.Session) (func(), error) {
		if s.Status != domain.StatusActive || s.CurrentQuestionIndex != -1 {
			return nil, errUnchanged
		}
		if n > 0 {
			return func() {
				g.fanout.Countdown(s, n)
				g.schedule(taskCountdown, accessCode, time.Second, func() { g.countdownStep(accessCode, n-1) })
			}, errUnchanged
		}
		show, err := g.showQuestion(ctx, s, 0)
		if err != nil {
			return nil, err
		}
		return func() {
			g.fanout.CountdownComplete(s)
			show()
		}, nil
	})
	if err != nil {
		g.logger.Error("countdown step failed", zap.String("access_code", accessCode), zap.Error(err))
	}
}

// showQuestion points the session at index and arms a fresh timer for it.
// Timer-paced modes start counting immediately.
func (g *GameService) showQuestion(ctx context.Context, s *domain.Session, index int) (func(), error) {
	if index < 0 || index >= len(s.QuestionUIDs) {
		return nil, domain.ErrNoMoreQuestions
	}
	q, err := g.questions.GetQuestion(ctx, s.QuestionUIDs[index])
	if err != nil {
		return nil, err
	}
	now := g.now()
	s.CurrentQuestionIndex = index
	s.AnswersLocked = false
	if s.Status == domain.StatusPaused {
		s.Status = domain.StatusActive
	}
	duration := q.Duration(s.TimeMultiplier)
	g.timer.Reset(&s.Timer, q.UID, duration)
	if s.PlayMode.TimerPaced() {
		if err := g.timer.Start(&s.Timer, q.UID, duration, now); err != nil {
			return nil, err
		}
	}
	return func() {
		g.cancel(taskAdvance, s.AccessCode)
		g.fanout.Question(s, q)
		g.fanout.Timer(s, now)
		g.syncExpiry(s)
	}, nil
}

// AdvanceQuestion shows the next question. Past the last question the session
// completes and domain.ErrNoMoreQuestions is returned.
func (g *GameService) AdvanceQuestion(ctx context.Context, accessCode, requesterID string) error {
	exhausted := false
	err := g.mutate(ctx, accessCode, func(s *domain.Session) (func(), error) {
		if err := authorize(s, requesterID); err != nil {
			return nil, err
		}
		return g.advance(ctx, s, &exhausted)
	})
	if err == nil && exhausted {
		return domain.ErrNoMoreQuestions
	}
	return err
}

func (g *GameService) advance(ctx context.Context, s *domain.Session, exhausted *bool) (func(), error) {
	if !s.Live() {
		return nil, domain.ErrInvalidTransition.With("game is not running")
	}
	next := s.CurrentQuestionIndex + 1
	if next >= len(s.QuestionUIDs) {
		*exhausted = true
		return g.complete(ctx, s)
	}
	return g.showQuestion(ctx, s, next)
}

// autoAdvance moves a tournament on after a reveal, unless someone else
// already moved it.
func (g *GameService) autoAdvance(accessCode string, index int) {
	ctx := context.Background()
	exhausted := false
	err := g.mutate(ctx, accessCode, func(s *domain.Session) (func(), error) {
		if !s.Live() || s.CurrentQuestionIndex != index {
			return nil, errUnchanged
		}
		return g.advance(ctx, s, &exhausted)
	})
	if err != nil {
		g.logger.Error("auto advance failed", zap.String("access_code", accessCode), zap.Error(err))
	}
}

// SetQuestion jumps to questionUID.
func (g *GameService) SetQuestion(ctx context.Context, accessCode, requesterID, questionUID string) error {
	return g.mutate(ctx, accessCode, func(s *domain.Session) (func(), error) {
		if err := authorize(s, requesterID); err != nil {
			return nil, err
		}
		if !s.Live() {
			return nil, domain.ErrInvalidTransition.With("game is not running")
		}
		idx := indexOf(s.QuestionUIDs, questionUID)
		if idx < 0 {
			return nil, domain.ErrQuestionNotFound
		}
		return g.showQuestion(ctx, s, idx)
	})
}

func indexOf(list []string, v string) int {
	for i, s := range list {
		if s == v {
			return i
		}
	}
	return -1
}

// TimerCommand is a teacher timer action.
type TimerCommand struct {
	Action      string
	QuestionUID string
	DurationMs  *int64
}

// TimerAction applies play, pause, stop or edit. Play resumes a paused timer,
// otherwise starts one, switching question first when questionUID differs.
func (g *GameService) TimerAction(ctx context.Context, accessCode, requesterID string, cmd TimerCommand) (domain.TimerSnapshot, error) {
	var snap domain.TimerSnapshot
	err := g.mutate(ctx, accessCode, func(s *domain.Session) (func(), error) {
		if err := authorize(s, requesterID); err != nil {
			return nil, err
		}
		if !s.Live() {
			return nil, domain.ErrInvalidTransition.With("game is not running")
		}
		now := g.now()
		var show func()

		switch cmd.Action {
		case "play":
			var err error
			show, err = g.play(ctx, s, cmd, now)
			if err != nil {
				return nil, err
			}
			s.Status = domain.StatusActive
		case "pause":
			if err := g.timer.Pause(&s.Timer, now); err != nil {
				return nil, err
			}
			s.Status = domain.StatusPaused
		case "stop":
			g.timer.Stop(&s.Timer)
			s.Status = domain.StatusActive
		case "edit":
			if cmd.DurationMs == nil {
				return nil, domain.ErrInvalidPayload.With("durationMs is required for edit")
			}
			if err := g.timer.Edit(&s.Timer, time.Duration(*cmd.DurationMs)*time.Millisecond); err != nil {
				return nil, err
			}
		default:
			return nil, domain.ErrInvalidPayload.With("unknown timer action " + cmd.Action)
		}

		snap = s.Timer.Snapshot(now)
		return func() {
			g.metrics.TimerAction(cmd.Action)
			if show != nil {
				show()
			}
			g.fanout.Timer(s, now)
			g.syncExpiry(s)
		}, nil
	})
	return snap, err
}

func (g *GameService) play(ctx context.Context, s *domain.Session, cmd TimerCommand, now time.Time) (func(), error) {
	var show func()
	if cmd.QuestionUID != "" && cmd.QuestionUID != s.CurrentQuestionUID() {
		if s.Timer.Status != domain.TimerStop {
			return nil, domain.ErrInvalidTransition.With("cannot start: a timer is running for another question")
		}
		idx := indexOf(s.QuestionUIDs, cmd.QuestionUID)
		if idx < 0 {
			return nil, domain.ErrQuestionNotFound
		}
		var err error
		if show, err = g.showQuestion(ctx, s, idx); err != nil {
			return nil, err
		}
	}
	if s.Timer.Status == domain.TimerPause {
		return show, g.timer.Resume(&s.Timer, now)
	}
	if show != nil && s.Timer.Status == domain.TimerPlay {
		return show, nil
	}

	q, err := g.currentQuestion(ctx, s)
	if err != nil {
		return nil, err
	}
	duration := q.Duration(s.TimeMultiplier)
	switch {
	case cmd.DurationMs != nil && *cmd.DurationMs > 0:
		duration = time.Duration(*cmd.DurationMs) * time.Millisecond
	case s.Timer.QuestionUID == q.UID && !s.Timer.Started && s.Timer.DurationMs > 0:
		duration = time.Duration(s.Timer.DurationMs) * time.Millisecond
	}
	return show, g.timer.Start(&s.Timer, q.UID, duration, now)
}

// syncExpiry arms or cancels the expiry check to match the timer state.
func (g *GameService) syncExpiry(s *domain.Session) {
	if s.Timer.Status != domain.TimerPlay {
		g.cancel(taskExpiry, s.AccessCode)
		return
	}
	code, uid := s.AccessCode, s.Timer.QuestionUID
	d := s.Timer.EndsAt().Sub(g.now())
	if d < 0 {
		d = 0
	}
	g.schedule(taskExpiry, code, d, func() { g.expire(code, uid) })
}

// expire runs when a countdown should have reached zero. It re-checks the
// stored timer, so a late callback after pause, stop or edit is a no-op.
func (g *GameService) expire(accessCode, questionUID string) {
	ctx := context.Background()
	err := g.mutate(ctx, accessCode, func(s *domain.Session) (func(), error) {
		if !s.Live() || s.Timer.Status != domain.TimerPlay || s.Timer.QuestionUID != questionUID {
			return nil, errUnchanged
		}
		if s.Timer.Remaining(g.now()) > 0 {
			return func() { g.syncExpiry(s) }, errUnchanged
		}
		q, err := g.questions.GetQuestion(ctx, questionUID)
		if err != nil {
			return nil, err
		}
		return g.expireLocked(s, q), nil
	})
	if err != nil {
		g.logger.Error("timer expiry failed", zap.String("access_code", accessCode), zap.Error(err))
	}
}

func (g *GameService) expireLocked(s *domain.Session, q domain.Question) func() {
	g.timer.Stop(&s.Timer)
	now := g.now()
	reveal := g.revealLocked(s, q)
	return func() {
		g.cancel(taskExpiry, s.AccessCode)
		g.fanout.Timer(s, now)
		reveal()
	}
}

func (g *GameService) revealLocked(s *domain.Session, q domain.Question) func() {
	if s.RevealedQuestions == nil {
		s.RevealedQuestions = make(map[string]bool)
	}
	s.RevealedQuestions[q.UID] = true
	code, index := s.AccessCode, s.CurrentQuestionIndex
	return func() {
		g.fanout.Reveal(s, q)
		if s.PlayMode.TimerPaced() {
			g.schedule(taskAdvance, code, g.revealDelay, func() { g.autoAdvance(code, index) })
		}
	}
}

// RevealAnswers discloses the answer key of the current question, stopping
// its timer.
func (g *GameService) RevealAnswers(ctx context.Context, accessCode, requesterID string) error {
	return g.mutate(ctx, accessCode, func(s *domain.Session) (func(), error) {
		if err := authorize(s, requesterID); err != nil {
			return nil, err
		}
		if !s.Live() {
			return nil, domain.ErrInvalidTransition.With("game is not running")
		}
		q, err := g.currentQuestion(ctx, s)
		if err != nil {
			return nil, err
		}
		if s.Timer.Status != domain.TimerStop {
			return g.expireLocked(s, q), nil
		}
		return g.revealLocked(s, q), nil
	})
}

// LockAnswers closes or reopens submissions for the current question.
func (g *GameService) LockAnswers(ctx context.Context, accessCode, requesterID string, lock bool) error {
	return g.mutate(ctx, accessCode, func(s *domain.Session) (func(), error) {
		if err := authorize(s, requesterID); err != nil {
			return nil, err
		}
		if !s.Live() {
			return nil, domain.ErrInvalidTransition.With("game is not running")
		}
		s.AnswersLocked = lock
		return func() { g.fanout.AnswersLocked(s) }, nil
	})
}

// ToggleProjectionStats controls whether the projection sees answer statistics.
func (g *GameService) ToggleProjectionStats(ctx context.Context, accessCode, requesterID string, show bool) error {
	return g.mutate(ctx, accessCode, func(s *domain.Session) (func(), error) {
		if err := authorize(s, requesterID); err != nil {
			return nil, err
		}
		s.ProjectionStats = show
		var current *domain.Question
		if uid := s.CurrentQuestionUID(); uid != "" {
			q, err := g.questions.GetQuestion(ctx, uid)
			if err != nil {
				return nil, err
			}
			current = &q
		}
		return func() { g.fanout.ProjectionStats(s, current) }, nil
	})
}

// SubmitAnswer records a participant's answer to the current question.
// Correctness is not disclosed until the reveal.
func (g *GameService) SubmitAnswer(ctx context.Context, accessCode, userID, questionUID string, value domain.AnswerValue, clientElapsedMs int64) error {
	err := g.mutate(ctx, accessCode, func(s *domain.Session) (func(), error) {
		q := domain.Question{UID: questionUID}
		if s.Status == domain.StatusActive && questionUID == s.CurrentQuestionUID() {
			var err error
			if q, err = g.questions.GetQuestion(ctx, questionUID); err != nil {
				return nil, err
			}
		}
		attempt, err := g.ledger.Submit(s, userID, q, value, clientElapsedMs, g.now())
		if err != nil {
			return nil, err
		}
		return func() {
			g.metrics.AnswerAccepted(attempt.IsCorrect)
			g.fanout.Accepted(s, attempt)
			g.fanout.AnswerStats(s, q)
			g.fanout.ControlLeaderboard(s)
		}, nil
	})
	if de, ok := domain.AsError(err); ok {
		g.metrics.Rejected(de.ClientCode())
	}
	return err
}

// EndSession completes the session and checkpoints it. Ending an already
// completed session returns the same final leaderboard without a second write.
func (g *GameService) EndSession(ctx context.Context, accessCode, requesterID string) ([]domain.LeaderboardEntry, error) {
	var final []domain.LeaderboardEntry
	err := g.mutate(ctx, accessCode, func(s *domain.Session) (func(), error) {
		if err := authorize(s, requesterID); err != nil {
			return nil, err
		}
		after, err := g.complete(ctx, s)
		final = s.FinalLeaderboard
		return after, err
	})
	return final, err
}

func (g *GameService) complete(ctx context.Context, s *domain.Session) (func(), error) {
	if s.Status == domain.StatusCompleted {
		if s.Checkpointed {
			return nil, errUnchanged
		}
		return func() { g.checkpoint(ctx, s) }, errUnchanged
	}

	g.timer.Stop(&s.Timer)
	s.Status = domain.StatusCompleted
	s.EndedAt = g.now()
	s.FinalLeaderboard = s.Leaderboard()
	return func() {
		g.cancelAll(s.AccessCode)
		g.metrics.SessionCompleted(string(s.PlayMode))
		g.fanout.GameEnded(s)
		g.checkpoint(ctx, s)
	}, nil
}

// checkpoint writes the durable result. When retries run out the teacher is
// told and the game keeps its in-memory state.
func (g *GameService) checkpoint(ctx context.Context, s *domain.Session) {
	result := domain.GameResult{
		SessionID:        s.ID,
		AccessCode:       s.AccessCode,
		PlayMode:         s.PlayMode,
		CreatorID:        s.CreatorID,
		QuestionCount:    len(s.QuestionUIDs),
		ParticipantCount: len(s.Participants),
		Leaderboard:      s.FinalLeaderboard,
		StartedAt:        s.StartedAt,
		EndedAt:          s.EndedAt,
	}
	if s.ReplayOf != "" {
		result.AccessCode = s.ReplayOf
		result.Deferred = true
	}
	err := g.retry.Do(ctx, func() error {
		return g.results.SaveGameResult(ctx, result)
	})
	if err != nil {
		g.metrics.CheckpointFailed("game")
		g.logger.Error("checkpoint failed", zap.String("access_code", s.AccessCode), zap.Error(err))
		g.fanout.ControlError(s, "checkpoint_failed", "results could not be saved: "+err.Error())
		return
	}
	s.Checkpointed = true
	if err := g.sessions.Save(ctx, s); err != nil {
		g.logger.Warn("mark checkpointed", zap.String("access_code", s.AccessCode), zap.Error(err))
	}
}

// RecoverTimers re-arms scheduled work for live sessions after a restart,
// recomputing remaining time from the persisted start instant.
func (g *GameService) RecoverTimers(ctx context.Context) (int, error) {
	codes, err := g.sessions.ListLive(ctx)
	if err != nil {
		return 0, err
	}
	recovered := 0
	for _, code := range codes {
		code := code
		err := g.mutate(ctx, code, func(s *domain.Session) (func(), error) {
			switch {
			case s.Status == domain.StatusActive && s.CurrentQuestionIndex == -1:
				return func() { g.schedule(taskCountdown, code, 0, func() { g.countdownStep(code, 0) }) }, errUnchanged
			case s.Timer.Status == domain.TimerPlay:
				if s.Timer.Remaining(g.now()) > 0 {
					return func() { g.syncExpiry(s) }, errUnchanged
				}
				q, err := g.currentQuestion(ctx, s)
				if err != nil {
					return nil, err
				}
				return g.expireLocked(s, q), nil
			case s.PlayMode.TimerPaced() && s.RevealedQuestions[s.CurrentQuestionUID()]:
				index := s.CurrentQuestionIndex
				return func() { g.schedule(taskAdvance, code, g.revealDelay, func() { g.autoAdvance(code, index) }) }, errUnchanged
			}
			return nil, errUnchanged
		})
		if err != nil {
			g.logger.Warn("recover session timers", zap.String("access_code", code), zap.Error(err))
			continue
		}
		recovered++
	}
	return recovered, nil
}

// Shutdown cancels all scheduled work.
func (g *GameService) Shutdown() {
	g.tasksMu.Lock()
	defer g.tasksMu.Unlock()
	for key, t := range g.tasks {
		t.cancel()
		delete(g.tasks, key)
	}
}

const (
	taskExpiry    = "expiry"
	taskAdvance   = "advance"
	taskCountdown = "countdown"
)

func (g *GameService) schedule(kind, accessCode string, d time.Duration, f func()) {
	key := kind + ":" + accessCode
	g.tasksMu.Lock()
	defer g.tasksMu.Unlock()
	if t, ok := g.tasks[key]; ok {
		t.cancel()
	}
	g.taskSeq++
	id := g.taskSeq
	cancel := g.scheduler.AfterFunc(d, func() {
		g.tasksMu.Lock()
		if t, ok := g.tasks[key]; ok && t.id == id {
			delete(g.tasks, key)
		}
		g.tasksMu.Unlock()
		f()
	})
	g.tasks[key] = task{id: id, cancel: cancel}
}

func (g *GameService) cancel(kind, accessCode string) {
	key := kind + ":" + accessCode
	g.tasksMu.Lock()
	defer g.tasksMu.Unlock()
	if t, ok := g.tasks[key]; ok {
		t.cancel()
		delete(g.tasks, key)
	}
}

func (g *GameService) cancelAll(accessCode string) {
	for _, kind := range []string{taskExpiry, taskAdvance, taskCountdown} {
		g.cancel(kind, accessCode)
	}
}
