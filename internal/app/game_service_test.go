package app_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/goleak"

	"mathquest-live/internal/app"
	"mathquest-live/internal/domain"
	"mathquest-live/internal/events"
	"mathquest-live/internal/infra/memory"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func TestTournamentRunsItself(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.newGame(t, domain.PlayModeTournament)

	if err := f.svc.StartGame(ctx, code, teacherID); err != nil {
		t.Fatalf("start: %v", err)
	}
	tick := f.out.last(t, app.GameRoom(code), events.CountdownTick)
	if got := tick.Payload.(events.CountdownPayload).Countdown; got != 3 {
		t.Fatalf("expected countdown 3, got %d", got)
	}
	if s := f.session(t); s.CurrentQuestionIndex != -1 || s.Status != domain.StatusActive {
		t.Fatalf("expected active session without question during countdown, got %s/%d", s.Status, s.CurrentQuestionIndex)
	}

	f.sched.Advance(3 * time.Second)
	if n := f.out.count(app.GameRoom(code), events.CountdownTick); n != 3 {
		t.Fatalf("expected 3 countdown ticks, got %d", n)
	}
	if f.out.count(app.GameRoom(code), events.CountdownComplete) != 1 {
		t.Fatalf("expected countdown_complete")
	}
	s := f.session(t)
	if s.CurrentQuestionUID() != "q1" || s.Timer.Status != domain.TimerPlay {
		t.Fatalf("expected q1 with running timer, got %q/%s", s.CurrentQuestionUID(), s.Timer.Status)
	}

	if err := f.svc.SubmitAnswer(ctx, code, "alice", "q1", domain.AnswerValue{Index: intp(1)}, 2000); err != nil {
		t.Fatalf("alice submit: %v", err)
	}
	f.sched.Advance(8 * time.Second)
	if err := f.svc.SubmitAnswer(ctx, code, "bob", "q1", domain.AnswerValue{Index: intp(1)}, 10000); err != nil {
		t.Fatalf("bob submit: %v", err)
	}

	// q1 expires 20s after it was shown.
	f.sched.Advance(12 * time.Second)
	s = f.session(t)
	if s.Timer.Status != domain.TimerStop || !s.RevealedQuestions["q1"] {
		t.Fatalf("expected q1 stopped and revealed, got %s revealed=%v", s.Timer.Status, s.RevealedQuestions["q1"])
	}
	if f.out.count(app.GameRoom(code), events.Reveal) != 1 {
		t.Fatalf("expected one reveal in the game room")
	}

	f.sched.Advance(5 * time.Second)
	if s = f.session(t); s.CurrentQuestionUID() != "q2" || s.Timer.Status != domain.TimerPlay {
		t.Fatalf("expected auto advance to q2, got %q/%s", s.CurrentQuestionUID(), s.Timer.Status)
	}

	f.sched.Advance(20 * time.Second)
	f.sched.Advance(5 * time.Second)

	s = f.session(t)
	if s.Status != domain.StatusCompleted {
		t.Fatalf("expected completed, got %s", s.Status)
	}
	if f.out.count(app.GameRoom(code), events.GameEnded) != 1 {
		t.Fatalf("expected one game_ended")
	}
	board := s.FinalLeaderboard
	if len(board) != 2 {
		t.Fatalf("expected 2 leaderboard entries, got %d", len(board))
	}
	if board[0].UserID != "alice" || board[0].Score != 950 || board[0].Rank != 1 {
		t.Fatalf("unexpected first entry %+v", board[0])
	}
	if board[1].UserID != "bob" || board[1].Score != 750 || board[1].Rank != 2 {
		t.Fatalf("unexpected second entry %+v", board[1])
	}
	if f.results.Calls() != 1 {
		t.Fatalf("expected one checkpoint, got %d", f.results.Calls())
	}
	if f.sched.Pending() != 0 {
		t.Fatalf("expected no scheduled work after completion, got %d", f.sched.Pending())
	}
}

func TestSubmitAfterExpiryIsRejected(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.newGame(t, domain.PlayModeQuiz)

	if err := f.svc.StartGame(ctx, code, teacherID); err != nil {
		t.Fatalf("start: %v", err)
	}
	if _, err := f.svc.TimerAction(ctx, code, teacherID, app.TimerCommand{Action: "play"}); err != nil {
		t.Fatalf("play: %v", err)
	}

	// The deadline passes before the expiry callback gets to run.
	f.clock.Advance(21 * time.Second)
	err := f.svc.SubmitAnswer(ctx, code, "alice", "q1", domain.AnswerValue{Index: intp(1)}, 500)
	if !errors.Is(err, domain.ErrTimeExpired) {
		t.Fatalf("expected time expired, got %v", err)
	}

	f.sched.Advance(0)
	s := f.session(t)
	if s.Timer.Status != domain.TimerStop || !s.RevealedQuestions["q1"] {
		t.Fatalf("expected expiry to stop and reveal, got %s", s.Timer.Status)
	}
	err = f.svc.SubmitAnswer(ctx, code, "bob", "q1", domain.AnswerValue{Index: intp(1)}, 500)
	if !errors.Is(err, domain.ErrTimeExpired) {
		t.Fatalf("expected time expired after stop, got %v", err)
	}
	if f.sched.Pending() != 0 {
		t.Fatalf("quiz mode must not auto advance")
	}
	if len(s.Attempts) != 0 {
		t.Fatalf("expected no attempts, got %d", len(s.Attempts))
	}
}

func TestStudentCannotStartGame(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.newGame(t, domain.PlayModeQuiz)
	f.out.reset()

	err := f.svc.StartGame(ctx, code, "alice")
	if !errors.Is(err, domain.ErrForbidden) {
		t.Fatalf("expected forbidden, got %v", err)
	}
	if s := f.session(t); s.Status != domain.StatusPending {
		t.Fatalf("expected pending, got %s", s.Status)
	}
	if f.out.total() != 0 {
		t.Fatalf("expected no broadcast, got %d", f.out.total())
	}
}

func TestPauseWithoutRunningTimer(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.newGame(t, domain.PlayModeQuiz)
	if err := f.svc.StartGame(ctx, code, teacherID); err != nil {
		t.Fatalf("start: %v", err)
	}
	before := f.session(t)
	f.out.reset()

	_, err := f.svc.TimerAction(ctx, code, teacherID, app.TimerCommand{Action: "pause"})
	if !errors.Is(err, domain.ErrNotRunning) || !errors.Is(err, domain.ErrInvalidTransition) {
		t.Fatalf("expected not_running invalid transition, got %v", err)
	}
	if f.out.total() != 0 {
		t.Fatalf("expected no broadcast, got %d", f.out.total())
	}
	after := f.session(t)
	if after.Version != before.Version || after.Timer.Status != domain.TimerStop {
		t.Fatalf("expected session untouched")
	}
}

func TestTimerActions(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.newGame(t, domain.PlayModeQuiz)
	if err := f.svc.StartGame(ctx, code, teacherID); err != nil {
		t.Fatalf("start: %v", err)
	}

	edit := int64(30_000)
	snap, err := f.svc.TimerAction(ctx, code, teacherID, app.TimerCommand{Action: "edit", DurationMs: &edit})
	if err != nil {
		t.Fatalf("edit before start: %v", err)
	}
	if snap.DurationMs != 30_000 || snap.RemainingMs != 30_000 {
		t.Fatalf("unexpected edit snapshot %+v", snap)
	}

	if _, err := f.svc.TimerAction(ctx, code, teacherID, app.TimerCommand{Action: "play"}); err != nil {
		t.Fatalf("play: %v", err)
	}
	f.sched.Advance(10 * time.Second)
	snap, err = f.svc.TimerAction(ctx, code, teacherID, app.TimerCommand{Action: "pause"})
	if err != nil {
		t.Fatalf("pause: %v", err)
	}
	if snap.RemainingMs != 20_000 {
		t.Fatalf("expected 20s left, got %d", snap.RemainingMs)
	}
	if s := f.session(t); s.Status != domain.StatusPaused {
		t.Fatalf("expected paused session, got %s", s.Status)
	}
	err = f.svc.SubmitAnswer(ctx, code, "alice", "q1", domain.AnswerValue{Index: intp(1)}, 100)
	if !errors.Is(err, domain.ErrSessionNotActive) {
		t.Fatalf("expected submissions closed while paused, got %v", err)
	}

	// Time spent paused does not count.
	f.sched.Advance(time.Minute)
	if s := f.session(t); s.Timer.Status != domain.TimerPause {
		t.Fatalf("expected timer still paused, got %s", s.Timer.Status)
	}
	snap, err = f.svc.TimerAction(ctx, code, teacherID, app.TimerCommand{Action: "play"})
	if err != nil {
		t.Fatalf("resume: %v", err)
	}
	if snap.Status != domain.TimerPlay || snap.RemainingMs != 20_000 {
		t.Fatalf("unexpected resume snapshot %+v", snap)
	}
	if _, err := f.svc.TimerAction(ctx, code, teacherID, app.TimerCommand{Action: "play", QuestionUID: "q2"}); !errors.Is(err, domain.ErrInvalidTransition) {
		t.Fatalf("expected switching question under a running timer to fail, got %v", err)
	}

	if _, err := f.svc.TimerAction(ctx, code, teacherID, app.TimerCommand{Action: "stop"}); err != nil {
		t.Fatalf("stop: %v", err)
	}
	if f.sched.Pending() != 0 {
		t.Fatalf("expected expiry cancelled by stop")
	}
	if _, err := f.svc.TimerAction(ctx, code, teacherID, app.TimerCommand{Action: "stop"}); err != nil {
		t.Fatalf("second stop should be a no-op: %v", err)
	}

	snap, err = f.svc.TimerAction(ctx, code, teacherID, app.TimerCommand{Action: "play", QuestionUID: "q2"})
	if err != nil {
		t.Fatalf("play q2: %v", err)
	}
	if snap.QuestionUID != "q2" || snap.Status != domain.TimerPlay {
		t.Fatalf("expected q2 running, got %+v", snap)
	}
	if s := f.session(t); s.CurrentQuestionUID() != "q2" {
		t.Fatalf("expected pointer on q2, got %q", s.CurrentQuestionUID())
	}

	if _, err := f.svc.TimerAction(ctx, code, "alice", app.TimerCommand{Action: "pause"}); !errors.Is(err, domain.ErrForbidden) {
		t.Fatalf("expected forbidden, got %v", err)
	}
}

func TestEndSessionIsIdempotent(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.newGame(t, domain.PlayModeQuiz)
	if err := f.svc.StartGame(ctx, code, teacherID); err != nil {
		t.Fatalf("start: %v", err)
	}
	f.play(t)
	if err := f.svc.SubmitAnswer(ctx, code, "bob", "q1", domain.AnswerValue{Index: intp(1)}, 0); err != nil {
		t.Fatalf("submit: %v", err)
	}

	first, err := f.svc.EndSession(ctx, code, teacherID)
	if err != nil {
		t.Fatalf("end: %v", err)
	}
	f.clock.Advance(time.Minute)
	second, err := f.svc.EndSession(ctx, code, teacherID)
	if err != nil {
		t.Fatalf("end again: %v", err)
	}
	if fmt.Sprint(first) != fmt.Sprint(second) {
		t.Fatalf("leaderboards differ: %v vs %v", first, second)
	}
	if first[0].UserID != "bob" || first[0].Score != 1000 {
		t.Fatalf("unexpected leader %+v", first[0])
	}
	if f.results.Calls() != 1 {
		t.Fatalf("expected one durable write, got %d", f.results.Calls())
	}
	if n := f.out.count(app.GameRoom(code), events.GameEnded); n != 1 {
		t.Fatalf("expected one game_ended, got %d", n)
	}
	res, err := f.svc.GetResult(ctx, code)
	if err != nil {
		t.Fatalf("get result: %v", err)
	}
	if res.ParticipantCount != 2 || res.QuestionCount != 2 {
		t.Fatalf("unexpected result %+v", res)
	}
	if err := f.svc.StartGame(ctx, code, teacherID); !errors.Is(err, domain.ErrInvalidTransition) {
		t.Fatalf("expected restart to fail, got %v", err)
	}
}

func TestAdvancePastLastQuestionCompletes(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.newGame(t, domain.PlayModeClass)
	if err := f.svc.StartGame(ctx, code, teacherID); err != nil {
		t.Fatalf("start: %v", err)
	}
	if err := f.svc.AdvanceQuestion(ctx, code, teacherID); err != nil {
		t.Fatalf("advance: %v", err)
	}
	if s := f.session(t); s.CurrentQuestionUID() != "q2" || s.Timer.Status != domain.TimerStop {
		t.Fatalf("expected q2 with stopped timer, got %q/%s", s.CurrentQuestionUID(), s.Timer.Status)
	}
	if err := f.svc.AdvanceQuestion(ctx, code, teacherID); !errors.Is(err, domain.ErrNoMoreQuestions) {
		t.Fatalf("expected no more questions, got %v", err)
	}
	if s := f.session(t); s.Status != domain.StatusCompleted {
		t.Fatalf("expected completed, got %s", s.Status)
	}
	if f.results.Calls() != 1 {
		t.Fatalf("expected checkpoint, got %d", f.results.Calls())
	}
}

func TestParticipantsNeverSeeAnswerKey(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.newGame(t, domain.PlayModeQuiz)
	if err := f.svc.StartGame(ctx, code, teacherID); err != nil {
		t.Fatalf("start: %v", err)
	}

	game := f.out.last(t, app.GameRoom(code), events.QuestionUpdate).Payload.(events.QuestionUpdatePayload)
	if game.AnswerKey != nil {
		t.Fatalf("game room received the answer key")
	}
	projection := f.out.last(t, app.ProjectionRoom(code), events.QuestionUpdate).Payload.(events.QuestionUpdatePayload)
	if projection.AnswerKey != nil {
		t.Fatalf("projection received the answer key")
	}
	dashboard := f.out.last(t, app.DashboardRoom(code), events.QuestionUpdate).Payload.(events.QuestionUpdatePayload)
	if dashboard.AnswerKey == nil {
		t.Fatalf("dashboard is missing the answer key")
	}

	f.play(t)
	f.out.reset()
	if err := f.svc.SubmitAnswer(ctx, code, "alice", "q1", domain.AnswerValue{Index: intp(0)}, 100); err != nil {
		t.Fatalf("submit: %v", err)
	}
	acks := f.out.all(app.GameRoom(code), events.AnswerAck)
	if len(acks) != 1 || acks[0].UserID != "alice" {
		t.Fatalf("expected a single ack to alice, got %+v", acks)
	}
	if f.out.count(app.GameRoom(code), events.AnswerStats) != 0 || f.out.count(app.ProjectionRoom(code), events.AnswerStats) != 0 {
		t.Fatalf("stats leaked outside the dashboard")
	}
	stats := f.out.last(t, app.DashboardRoom(code), events.AnswerStats).Payload.(events.AnswerStatsPayload)
	if stats.Counts["0"] != 1 || stats.Total != 1 || stats.Expected != 2 {
		t.Fatalf("unexpected stats %+v", stats)
	}
	if f.out.count(app.GameRoom(code), events.LeaderboardUpdate) != 0 {
		t.Fatalf("participants must not see live scores before the reveal")
	}

	if err := f.svc.ToggleProjectionStats(ctx, code, teacherID, true); err != nil {
		t.Fatalf("toggle stats: %v", err)
	}
	if f.out.count(app.ProjectionRoom(code), events.AnswerStats) != 1 {
		t.Fatalf("expected projection stats after toggle")
	}
}

func TestReconnectKeepsParticipant(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.newGame(t, domain.PlayModeQuiz)
	if err := f.svc.StartGame(ctx, code, teacherID); err != nil {
		t.Fatalf("start: %v", err)
	}

	if err := f.svc.Disconnect(ctx, code, "alice", "socket-alice"); err != nil {
		t.Fatalf("disconnect: %v", err)
	}
	if s := f.session(t); s.Participants["alice"].Online {
		t.Fatalf("expected alice offline")
	}
	s, err := f.svc.JoinLobby(ctx, code, app.PlayerIdentity{UserID: "alice"}, "socket-alice-2")
	if err != nil {
		t.Fatalf("rejoin: %v", err)
	}
	if len(s.Participants) != 2 || !s.Participants["alice"].Online || s.Participants["alice"].Username != "Alice" {
		t.Fatalf("unexpected roster after rejoin %+v", s.Participants["alice"])
	}
	// The old socket closing late must not mark alice offline again.
	if err := f.svc.Disconnect(ctx, code, "alice", "socket-alice"); err != nil {
		t.Fatalf("stale disconnect: %v", err)
	}
	if s := f.session(t); !s.Participants["alice"].Online {
		t.Fatalf("stale socket changed presence")
	}

	state, err := f.svc.Snapshot(ctx, code, "alice", app.ViewParticipant)
	if err != nil {
		t.Fatalf("snapshot: %v", err)
	}
	if state.Question == nil || state.Question.UID != "q1" || state.Revealed != nil || state.OwnAttempt != nil {
		t.Fatalf("unexpected participant snapshot %+v", state)
	}
	f.play(t)
	if err := f.svc.SubmitAnswer(ctx, code, "alice", "q1", domain.AnswerValue{Index: intp(1)}, 300); err != nil {
		t.Fatalf("submit after reconnect: %v", err)
	}
	state, err = f.svc.Snapshot(ctx, code, "alice", app.ViewParticipant)
	if err != nil {
		t.Fatalf("snapshot: %v", err)
	}
	if state.OwnAttempt == nil || state.OwnAttempt.IsCorrect != nil {
		t.Fatalf("expected own attempt without correctness, got %+v", state.OwnAttempt)
	}

	if _, err := f.svc.Snapshot(ctx, code, "alice", app.ViewDashboard); !errors.Is(err, domain.ErrForbidden) {
		t.Fatalf("expected forbidden dashboard snapshot, got %v", err)
	}
	control, err := f.svc.Snapshot(ctx, code, teacherID, app.ViewDashboard)
	if err != nil {
		t.Fatalf("dashboard snapshot: %v", err)
	}
	if control.Revealed == nil || len(control.Leaderboard) != 2 || control.Leaderboard[0].UserID != "alice" {
		t.Fatalf("unexpected dashboard snapshot %+v", control)
	}
}

func TestSnapshotExpiresStaleTimer(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.newGame(t, domain.PlayModeQuiz)
	if err := f.svc.StartGame(ctx, code, teacherID); err != nil {
		t.Fatalf("start: %v", err)
	}
	if _, err := f.svc.TimerAction(ctx, code, teacherID, app.TimerCommand{Action: "play"}); err != nil {
		t.Fatalf("play: %v", err)
	}
	f.clock.Advance(25 * time.Second)

	state, err := f.svc.Snapshot(ctx, code, "bob", app.ViewParticipant)
	if err != nil {
		t.Fatalf("snapshot: %v", err)
	}
	if state.Timer.Status != domain.TimerStop || state.Timer.RemainingMs != 0 || state.Revealed == nil {
		t.Fatalf("expected expired and revealed state, got %+v", state.Timer)
	}
}

func TestCheckpointFailureNotifiesDashboard(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, app.WithCheckpointBackoff(func() backoff.BackOff { return &backoff.ZeroBackOff{} }, 2))
	f.results.fail = true
	f.newGame(t, domain.PlayModeQuiz)
	if err := f.svc.StartGame(ctx, code, teacherID); err != nil {
		t.Fatalf("start: %v", err)
	}

	if _, err := f.svc.EndSession(ctx, code, teacherID); err != nil {
		t.Fatalf("end: %v", err)
	}
	if f.results.Calls() != 3 {
		t.Fatalf("expected 3 attempts, got %d", f.results.Calls())
	}
	msg := f.out.last(t, app.DashboardRoom(code), events.Error).Payload.(events.ErrorPayload)
	if msg.Code != "checkpoint_failed" {
		t.Fatalf("unexpected error payload %+v", msg)
	}
	s := f.session(t)
	if s.Status != domain.StatusCompleted || s.Checkpointed {
		t.Fatalf("expected completed session awaiting checkpoint")
	}

	f.results.mu.Lock()
	f.results.fail = false
	f.results.mu.Unlock()
	if _, err := f.svc.EndSession(ctx, code, teacherID); err != nil {
		t.Fatalf("end retry: %v", err)
	}
	if s := f.session(t); !s.Checkpointed {
		t.Fatalf("expected checkpoint on retry")
	}
	if n := f.out.count(app.GameRoom(code), events.GameEnded); n != 1 {
		t.Fatalf("expected one game_ended, got %d", n)
	}
}

func TestRecoverTimersAfterRestart(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.newGame(t, domain.PlayModeTournament)
	if err := f.svc.StartGame(ctx, code, teacherID); err != nil {
		t.Fatalf("start: %v", err)
	}
	f.sched.Advance(3 * time.Second)
	f.svc.Shutdown()

	// A fresh instance comes up after the question ran out.
	f.clock.Advance(30 * time.Second)
	sched := newManualScheduler(f.clock)
	restarted := app.NewGameService(f.sessions, newQuestionRepo(), f.results, f.out,
		app.WithClock(f.clock.Now),
		app.WithScheduler(sched),
		app.WithRevealDelay(5*time.Second),
	)
	defer restarted.Shutdown()

	n, err := restarted.RecoverTimers(ctx)
	if err != nil {
		t.Fatalf("recover: %v", err)
	}
	if n != 1 {
		t.Fatalf("expected 1 recovered session, got %d", n)
	}
	s := f.session(t)
	if s.Timer.Status != domain.TimerStop || !s.RevealedQuestions["q1"] {
		t.Fatalf("expected q1 expired on recovery")
	}
	sched.Advance(5 * time.Second)
	if s := f.session(t); s.CurrentQuestionUID() != "q2" {
		t.Fatalf("expected tournament to move on, got %q", s.CurrentQuestionUID())
	}
}

func TestConcurrentSubmissions(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	if _, err := f.svc.CreateSession(ctx, teacherID, app.CreateGameRequest{PlayMode: domain.PlayModeQuiz, QuestionUIDs: []string{"q1"}}); err != nil {
		t.Fatalf("create: %v", err)
	}
	const players = 20
	for i := 0; i < players; i++ {
		id := fmt.Sprintf("p%02d", i)
		if _, err := f.svc.JoinLobby(ctx, code, app.PlayerIdentity{UserID: id, Username: id}, "s-"+id); err != nil {
			t.Fatalf("join: %v", err)
		}
	}
	if err := f.svc.StartGame(ctx, code, teacherID); err != nil {
		t.Fatalf("start: %v", err)
	}
	f.play(t)

	var wg sync.WaitGroup
	errs := make(chan error, players*2)
	for i := 0; i < players; i++ {
		id := fmt.Sprintf("p%02d", i)
		for j := 0; j < 2; j++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				errs <- f.svc.SubmitAnswer(ctx, code, id, "q1", domain.AnswerValue{Index: intp(1)}, 100)
			}()
		}
	}
	wg.Wait()
	close(errs)

	accepted, duplicates := 0, 0
	for err := range errs {
		switch {
		case err == nil:
			accepted++
		case errors.Is(err, domain.ErrAlreadyAnswered):
			duplicates++
		default:
			t.Fatalf("unexpected error %v", err)
		}
	}
	if accepted != players || duplicates != players {
		t.Fatalf("expected %d accepted and %d duplicates, got %d/%d", players, players, accepted, duplicates)
	}
	if s := f.session(t); len(s.Attempts) != players {
		t.Fatalf("expected %d attempts, got %d", players, len(s.Attempts))
	}

	if err := f.svc.RevealAnswers(ctx, code, teacherID); err != nil {
		t.Fatalf("reveal: %v", err)
	}
	podium := f.out.last(t, app.ProjectionRoom(code), events.ProjectionLeaderboard).Payload.(events.LeaderboardPayload)
	if len(podium.Entries) != 10 {
		t.Fatalf("expected a top 10 podium, got %d", len(podium.Entries))
	}
	board := f.out.last(t, app.GameRoom(code), events.LeaderboardUpdate).Payload.(events.LeaderboardPayload)
	if len(board.Entries) != players || board.Entries[0].Score == 0 {
		t.Fatalf("expected the full revealed board, got %d entries", len(board.Entries))
	}
}

func TestCreateSessionValidation(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	if _, err := f.svc.CreateSession(ctx, teacherID, app.CreateGameRequest{PlayMode: domain.PlayModePractice, TemplateID: "tpl"}); !errors.Is(err, domain.ErrInvalidPayload) {
		t.Fatalf("expected practice mode rejected, got %v", err)
	}
	if _, err := f.svc.CreateSession(ctx, teacherID, app.CreateGameRequest{PlayMode: domain.PlayModeQuiz, QuestionUIDs: []string{"missing"}}); !errors.Is(err, domain.ErrQuestionNotFound) {
		t.Fatalf("expected unknown question rejected, got %v", err)
	}
	if _, err := f.svc.CreateSession(ctx, teacherID, app.CreateGameRequest{PlayMode: domain.PlayModeQuiz}); !errors.Is(err, domain.ErrNoQuestionsFound) {
		t.Fatalf("expected empty sequence rejected, got %v", err)
	}

	taken := memory.NewSessionStore()
	if err := taken.Create(ctx, &domain.Session{AccessCode: code, Status: domain.StatusPending}); err != nil {
		t.Fatalf("seed: %v", err)
	}
	svc := app.NewGameService(taken, newQuestionRepo(), memory.NewResultStore(), &recorder{},
		app.WithAccessCodes(func() string { return code }))
	if _, err := svc.CreateSession(ctx, teacherID, app.CreateGameRequest{PlayMode: domain.PlayModeQuiz, TemplateID: "tpl"}); !errors.Is(err, domain.ErrVersionConflict) {
		t.Fatalf("expected code allocation to fail, got %v", err)
	}
}

func TestAnswersWaitForTimer(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.newGame(t, domain.PlayModeQuiz)
	if err := f.svc.StartGame(ctx, code, teacherID); err != nil {
		t.Fatalf("start: %v", err)
	}

	err := f.svc.SubmitAnswer(ctx, code, "alice", "q1", domain.AnswerValue{Index: intp(1)}, 0)
	if !errors.Is(err, domain.ErrAnswersLocked) {
		t.Fatalf("expected answers locked before play, got %v", err)
	}
	if s := f.session(t); len(s.Attempts) != 0 || s.Participants["alice"].HasAnswered("q1") {
		t.Fatalf("attempt recorded before the timer ran")
	}

	f.play(t)
	if err := f.svc.SubmitAnswer(ctx, code, "alice", "q1", domain.AnswerValue{Index: intp(1)}, 0); err != nil {
		t.Fatalf("submit after play: %v", err)
	}
}

func TestScoreUsesServerElapsedWhenClientUnderReports(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.newGame(t, domain.PlayModeQuiz)
	if err := f.svc.StartGame(ctx, code, teacherID); err != nil {
		t.Fatalf("start: %v", err)
	}
	f.play(t)
	f.clock.Advance(19 * time.Second)

	if err := f.svc.SubmitAnswer(ctx, code, "alice", "q1", domain.AnswerValue{Index: intp(1)}, 0); err != nil {
		t.Fatalf("submit: %v", err)
	}
	s := f.session(t)
	a := s.Attempts[0]
	if a.ServerElapsedMs != 19_000 || a.ClientElapsedMs != 0 {
		t.Fatalf("unexpected timing %+v", a)
	}
	// 1000 - floor(1000 * 0.5 * 19/20)
	if a.ScoreAwarded != 525 || s.Participants["alice"].Score != 525 {
		t.Fatalf("expected 525 points, got %d", a.ScoreAwarded)
	}
}
