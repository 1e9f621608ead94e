package app_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"mathquest-live/internal/app"
	"mathquest-live/internal/domain"
	"mathquest-live/internal/events"
)

// finishTournament runs a tournament with alice and bob and ends it early.
func finishTournament(t *testing.T, f *fixture) {
	t.Helper()
	ctx := context.Background()
	f.newGame(t, domain.PlayModeTournament)
	if err := f.svc.StartGame(ctx, code, teacherID); err != nil {
		t.Fatalf("start: %v", err)
	}
	f.sched.Advance(3 * time.Second)
	if err := f.svc.SubmitAnswer(ctx, code, "bob", "q1", domain.AnswerValue{Index: intp(1)}, 1000); err != nil {
		t.Fatalf("bob submit: %v", err)
	}
	if _, err := f.svc.EndSession(ctx, code, teacherID); err != nil {
		t.Fatalf("end: %v", err)
	}
}

func TestDeferredReplay(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	finishTournament(t, f)
	alice := app.PlayerIdentity{UserID: "alice", Username: "Alice"}
	key := domain.DeferredKey(code, "alice")

	if _, err := f.svc.StartDeferred(ctx, code, alice, "socket-alice"); !errors.Is(err, domain.ErrDeferredUnavailable) {
		t.Fatalf("expected replay to be unavailable before it is enabled, got %v", err)
	}
	if err := f.svc.SetDeferredWindow(ctx, code, "alice", domain.DeferredWindow{Enabled: true}); !errors.Is(err, domain.ErrForbidden) {
		t.Fatalf("expected forbidden for a student, got %v", err)
	}
	if err := f.svc.SetDeferredWindow(ctx, code, teacherID, domain.DeferredWindow{Enabled: true}); err != nil {
		t.Fatalf("enable replay: %v", err)
	}

	s, err := f.svc.StartDeferred(ctx, code, alice, "socket-alice")
	if err != nil {
		t.Fatalf("start replay: %v", err)
	}
	if s.AccessCode != key || s.ReplayOf != code || s.Attempt != 1 {
		t.Fatalf("unexpected replay session %s/%s/%d", s.AccessCode, s.ReplayOf, s.Attempt)
	}
	if s.CurrentQuestionUID() != "q1" || s.Timer.Status != domain.TimerPlay {
		t.Fatalf("expected q1 with running timer, got %q/%s", s.CurrentQuestionUID(), s.Timer.Status)
	}
	if len(s.Participants) != 1 || s.Participants["alice"] == nil {
		t.Fatalf("expected alice alone in the replay, got %d participants", len(s.Participants))
	}
	if f.out.count(app.GameRoom(key), events.QuestionUpdate) == 0 {
		t.Fatalf("expected question_update in the replay room")
	}
	if f.out.count(app.GameRoom(code), events.QuestionUpdate) != 1 {
		t.Fatalf("replay must not publish to the tournament room")
	}

	again, err := f.svc.StartDeferred(ctx, code, alice, "socket-alice-2")
	if err != nil {
		t.Fatalf("resume replay: %v", err)
	}
	if again.ID != s.ID || again.Participants["alice"].SocketID != "socket-alice-2" {
		t.Fatalf("expected the running replay to be rebound")
	}

	if err := f.svc.SubmitAnswer(ctx, key, "bob", "q1", domain.AnswerValue{Index: intp(1)}, 0); !errors.Is(err, domain.ErrParticipantNotFound) {
		t.Fatalf("expected bob to be outside alice's replay, got %v", err)
	}
	if err := f.svc.SubmitAnswer(ctx, key, "alice", "q1", domain.AnswerValue{Index: intp(1)}, 2000); err != nil {
		t.Fatalf("alice submit: %v", err)
	}

	f.sched.Advance(20 * time.Second)
	f.sched.Advance(5 * time.Second)
	f.sched.Advance(20 * time.Second)
	f.sched.Advance(5 * time.Second)

	done, err := f.sessions.Get(ctx, key)
	if err != nil {
		t.Fatalf("get replay: %v", err)
	}
	if done.Status != domain.StatusCompleted {
		t.Fatalf("expected finished replay, got %s", done.Status)
	}

	replays, err := f.svc.DeferredResults(ctx, code)
	if err != nil {
		t.Fatalf("deferred results: %v", err)
	}
	if len(replays) != 1 {
		t.Fatalf("expected one replay result, got %d", len(replays))
	}
	r := replays[0]
	if !r.Deferred || r.AccessCode != code || r.ParticipantCount != 1 {
		t.Fatalf("unexpected replay result %+v", r)
	}
	if r.Leaderboard[0].UserID != "alice" || r.Leaderboard[0].Score != 950 {
		t.Fatalf("unexpected replay leaderboard %+v", r.Leaderboard)
	}

	live, err := f.svc.GetResult(ctx, code)
	if err != nil {
		t.Fatalf("live result: %v", err)
	}
	if live.Deferred || live.ParticipantCount != 2 {
		t.Fatalf("replay must not replace the tournament result, got %+v", live)
	}

	next, err := f.svc.StartDeferred(ctx, code, alice, "socket-alice")
	if err != nil {
		t.Fatalf("second attempt: %v", err)
	}
	if next.Attempt != 2 || next.ID == s.ID {
		t.Fatalf("expected a fresh second attempt, got attempt %d", next.Attempt)
	}
	if got := next.Participants["alice"].Score; got != 0 {
		t.Fatalf("expected a clean score, got %d", got)
	}
}

func TestDeferredWindowBounds(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	finishTournament(t, f)
	now := f.clock.Now()
	alice := app.PlayerIdentity{UserID: "alice", Username: "Alice"}

	err := f.svc.SetDeferredWindow(ctx, code, teacherID, domain.DeferredWindow{Enabled: true, From: now, To: now.Add(-time.Hour)})
	if !errors.Is(err, domain.ErrInvalidPayload) {
		t.Fatalf("expected inverted window to be rejected, got %v", err)
	}

	if err := f.svc.SetDeferredWindow(ctx, code, teacherID, domain.DeferredWindow{Enabled: true, To: now.Add(-time.Minute)}); err != nil {
		t.Fatalf("set window: %v", err)
	}
	if _, err := f.svc.StartDeferred(ctx, code, alice, "socket-alice"); !errors.Is(err, domain.ErrDeferredUnavailable) {
		t.Fatalf("expected closed window, got %v", err)
	}

	if err := f.svc.SetDeferredWindow(ctx, code, teacherID, domain.DeferredWindow{Enabled: true, From: now.Add(time.Hour)}); err != nil {
		t.Fatalf("set window: %v", err)
	}
	if _, err := f.svc.StartDeferred(ctx, code, alice, "socket-alice"); !errors.Is(err, domain.ErrDeferredUnavailable) {
		t.Fatalf("expected window not yet open, got %v", err)
	}
	f.clock.Advance(time.Hour)
	if _, err := f.svc.StartDeferred(ctx, code, alice, "socket-alice"); err != nil {
		t.Fatalf("expected window to open, got %v", err)
	}
}

func TestDeferredRequiresFinishedTournament(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.newGame(t, domain.PlayModeTournament)
	if err := f.svc.SetDeferredWindow(ctx, code, teacherID, domain.DeferredWindow{Enabled: true}); err != nil {
		t.Fatalf("enable replay: %v", err)
	}
	_, err := f.svc.StartDeferred(ctx, code, app.PlayerIdentity{UserID: "carol", Username: "Carol"}, "socket-carol")
	if !errors.Is(err, domain.ErrDeferredUnavailable) {
		t.Fatalf("expected replay to wait for the tournament, got %v", err)
	}

	q := newFixture(t)
	q.newGame(t, domain.PlayModeQuiz)
	if err := q.svc.SetDeferredWindow(ctx, code, teacherID, domain.DeferredWindow{Enabled: true}); !errors.Is(err, domain.ErrInvalidPayload) {
		t.Fatalf("expected quizzes to refuse replay, got %v", err)
	}
}
