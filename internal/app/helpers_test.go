package app_test

import (
	"context"
	"errors"
	"sort"
	"sync"
	"testing"
	"time"

	"mathquest-live/internal/app"
	"mathquest-live/internal/domain"
	"mathquest-live/internal/infra/memory"
)

const (
	teacherID = "teacher-1"
	code      = "123456"
)

type manualClock struct {
	mu  sync.Mutex
	now time.Time
}

func newManualClock() *manualClock {
	return &manualClock{now: time.Now().UTC().Truncate(time.Second)}
}

func (c *manualClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *manualClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func (c *manualClock) set(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if t.After(c.now) {
		c.now = t
	}
}

type scheduledCall struct {
	at   time.Time
	seq  int
	f    func()
	done bool
}

// manualScheduler only records calls; Advance fires them in due order with
// the clock set to each call's due time.
type manualScheduler struct {
	mu      sync.Mutex
	clock   *manualClock
	seq     int
	pending []*scheduledCall
}

func newManualScheduler(clock *manualClock) *manualScheduler {
	return &manualScheduler{clock: clock}
}

func (s *manualScheduler) AfterFunc(d time.Duration, f func()) func() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	call := &scheduledCall{at: s.clock.Now().Add(d), seq: s.seq, f: f}
	s.seq++
	s.pending = append(s.pending, call)
	return func() bool {
		s.mu.Lock()
		defer s.mu.Unlock()
		if call.done {
			return false
		}
		call.done = true
		return true
	}
}

func (s *manualScheduler) next(deadline time.Time) *scheduledCall {
	s.mu.Lock()
	defer s.mu.Unlock()
	live := s.pending[:0]
	for _, c := range s.pending {
		if !c.done {
			live = append(live, c)
		}
	}
	s.pending = live
	sort.SliceStable(s.pending, func(i, j int) bool {
		if s.pending[i].at.Equal(s.pending[j].at) {
			return s.pending[i].seq < s.pending[j].seq
		}
		return s.pending[i].at.Before(s.pending[j].at)
	})
	if len(s.pending) == 0 || s.pending[0].at.After(deadline) {
		return nil
	}
	call := s.pending[0]
	call.done = true
	return call
}

func (s *manualScheduler) Advance(d time.Duration) {
	deadline := s.clock.Now().Add(d)
	for {
		call := s.next(deadline)
		if call == nil {
			break
		}
		s.clock.set(call.at)
		call.f()
	}
	s.clock.set(deadline)
}

func (s *manualScheduler) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, c := range s.pending {
		if !c.done {
			n++
		}
	}
	return n
}

type message struct {
	Room    app.Room
	UserID  string
	Event   string
	Payload any
}

type recorder struct {
	mu   sync.Mutex
	msgs []message
}

func (r *recorder) Broadcast(room app.Room, event string, payload any) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.msgs = append(r.msgs, message{Room: room, Event: event, Payload: payload})
}

func (r *recorder) SendToUser(accessCode, userID, event string, payload any) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.msgs = append(r.msgs, message{Room: app.GameRoom(accessCode), UserID: userID, Event: event, Payload: payload})
}

func (r *recorder) reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.msgs = nil
}

func (r *recorder) all(room app.Room, event string) []message {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []message
	for _, m := range r.msgs {
		if m.Room == room && m.Event == event {
			out = append(out, m)
		}
	}
	return out
}

func (r *recorder) count(room app.Room, event string) int {
	return len(r.all(room, event))
}

func (r *recorder) last(t *testing.T, room app.Room, event string) message {
	t.Helper()
	msgs := r.all(room, event)
	if len(msgs) == 0 {
		t.Fatalf("no %s event in %s", event, room)
	}
	return msgs[len(msgs)-1]
}

func (r *recorder) total() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.msgs)
}

// countingResults wraps a result store and counts game result writes.
type countingResults struct {
	*memory.ResultStore
	mu    sync.Mutex
	calls int
	fail  bool
}

func (c *countingResults) SaveGameResult(ctx context.Context, result domain.GameResult) error {
	c.mu.Lock()
	c.calls++
	fail := c.fail
	c.mu.Unlock()
	if fail {
		return errors.New("results database unavailable")
	}
	return c.ResultStore.SaveGameResult(ctx, result)
}

func (c *countingResults) Calls() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.calls
}

func intp(v int) *int           { return &v }
func floatp(v float64) *float64 { return &v }

func fixtureQuestions() ([]domain.Question, []domain.GameTemplate) {
	questions := []domain.Question{
		{
			UID:            "q1",
			Text:           "4 = ?",
			Type:           domain.QuestionSingleChoice,
			AnswerOptions:  []string{"3", "4", "5"},
			CorrectAnswers: []bool{false, true, false},
			TimeLimitSec:   20,
			Discipline:     "math",
			Themes:         []string{"counting"},
		},
		{
			UID:          "q2",
			Text:         "6 x 7 = ?",
			Type:         domain.QuestionNumeric,
			Numeric:      &domain.NumericAnswer{CorrectAnswer: 42},
			TimeLimitSec: 20,
			Discipline:   "math",
			Themes:       []string{"multiplication"},
		},
	}
	templates := []domain.GameTemplate{{ID: "tpl", Name: "Fixture", QuestionUIDs: []string{"q1", "q2"}}}
	return questions, templates
}

func newQuestionRepo() *memory.QuestionRepository {
	return memory.NewQuestionRepository(memory.NewStaticQuestionLoader(fixtureQuestions()), time.Minute)
}

type fixture struct {
	svc      *app.GameService
	sessions *memory.SessionStore
	results  *countingResults
	out      *recorder
	clock    *manualClock
	sched    *manualScheduler
}

func newFixture(t *testing.T, opts ...app.GameOption) *fixture {
	t.Helper()
	clock := newManualClock()
	f := &fixture{
		sessions: memory.NewSessionStore(),
		results:  &countingResults{ResultStore: memory.NewResultStore()},
		out:      &recorder{},
		clock:    clock,
		sched:    newManualScheduler(clock),
	}
	base := []app.GameOption{
		app.WithClock(clock.Now),
		app.WithScheduler(f.sched),
		app.WithAccessCodes(func() string { return code }),
		app.WithCountdown(3),
		app.WithRevealDelay(5 * time.Second),
	}
	f.svc = app.NewGameService(f.sessions, newQuestionRepo(), f.results, f.out, append(base, opts...)...)
	t.Cleanup(f.svc.Shutdown)
	return f
}

// newGame creates a session in mode and seats alice and bob.
func (f *fixture) newGame(t *testing.T, mode domain.PlayMode) *domain.Session {
	t.Helper()
	ctx := context.Background()
	s, err := f.svc.CreateSession(ctx, teacherID, app.CreateGameRequest{PlayMode: mode, TemplateID: "tpl"})
	if err != nil {
		t.Fatalf("create session: %v", err)
	}
	for _, p := range []app.PlayerIdentity{
		{UserID: "alice", Username: "Alice"},
		{UserID: "bob", Username: "Bob"},
	} {
		if _, err := f.svc.JoinLobby(ctx, s.AccessCode, p, "socket-"+p.UserID); err != nil {
			t.Fatalf("join %s: %v", p.UserID, err)
		}
	}
	return s
}

func (f *fixture) session(t *testing.T) *domain.Session {
	t.Helper()
	s, err := f.sessions.Get(context.Background(), code)
	if err != nil {
		t.Fatalf("get session: %v", err)
	}
	return s
}

// play starts the timer on the current question.
func (f *fixture) play(t *testing.T) {
	t.Helper()
	if _, err := f.svc.TimerAction(context.Background(), code, teacherID, app.TimerCommand{Action: "play"}); err != nil {
		t.Fatalf("play: %v", err)
	}
}
