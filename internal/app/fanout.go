package app

import (
	"sort"
	"time"

	"mathquest-live/internal/domain"
	"mathquest-live/internal/events"
)

// projectionPodium caps the leaderboard shown on the projector.
const projectionPodium = 10

// Fanout maps one state change onto the payload each room is entitled to.
// Participants never receive answer keys or live scores before a reveal.
type Fanout struct {
	out    Broadcaster
	ledger AnswerLedger
}

func NewFanout(out Broadcaster, ledger AnswerLedger) *Fanout {
	if out == nil {
		out = nopBroadcaster{}
	}
	return &Fanout{out: out, ledger: ledger}
}

func (f *Fanout) all(code, event string, payload any) {
	f.out.Broadcast(GameRoom(code), event, payload)
	f.out.Broadcast(DashboardRoom(code), event, payload)
	f.out.Broadcast(ProjectionRoom(code), event, payload)
}

// ParticipantViews lists the roster ordered by user id.
func ParticipantViews(s *domain.Session) []events.ParticipantView {
	out := make([]events.ParticipantView, 0, len(s.Participants))
	for _, p := range s.Participants {
		out = append(out, events.ParticipantView{
			UserID:      p.UserID,
			Username:    p.Username,
			AvatarEmoji: p.AvatarEmoji,
			Online:      p.Online,
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UserID < out[j].UserID })
	return out
}

// ParticipantList publishes the roster.
func (f *Fanout) ParticipantList(s *domain.Session) {
	f.all(s.AccessCode, events.ParticipantList, events.ParticipantListPayload{
		AccessCode:   s.AccessCode,
		Participants: ParticipantViews(s),
		Creator:      s.CreatorID,
		Status:       s.Status,
	})
}

func (f *Fanout) Countdown(s *domain.Session, n int) {
	f.all(s.AccessCode, events.CountdownTick, events.CountdownPayload{Countdown: n})
}

func (f *Fanout) CountdownComplete(s *domain.Session) {
	f.all(s.AccessCode, events.CountdownComplete, struct{}{})
}

// Question publishes the current question. Only the dashboard sees the key.
func (f *Fanout) Question(s *domain.Session, q domain.Question) {
	public := events.QuestionUpdatePayload{
		QuestionUID: q.UID,
		Question:    q.Public(),
		Index:       s.CurrentQuestionIndex,
		Total:       len(s.QuestionUIDs),
	}
	f.out.Broadcast(GameRoom(s.AccessCode), events.QuestionUpdate, public)
	f.out.Broadcast(ProjectionRoom(s.AccessCode), events.QuestionUpdate, public)

	key := domain.RevealOf(q)
	control := public
	control.AnswerKey = &key
	f.out.Broadcast(DashboardRoom(s.AccessCode), events.QuestionUpdate, control)
}

// Timer publishes the authoritative timer snapshot.
func (f *Fanout) Timer(s *domain.Session, now time.Time) {
	f.all(s.AccessCode, events.TimerUpdate, timerPayload(s, now))
}

func timerPayload(s *domain.Session, now time.Time) events.TimerUpdatePayload {
	return events.TimerUpdatePayload{
		TimerSnapshot: s.Timer.Snapshot(now),
		QuestionIndex: s.CurrentQuestionIndex,
		Total:         len(s.QuestionUIDs),
		AnswersLocked: s.AnswersLocked,
	}
}

// Accepted acknowledges a submission to its author only.
func (f *Fanout) Accepted(s *domain.Session, a domain.QuestionAttempt) {
	f.out.SendToUser(s.AccessCode, a.UserID, events.AnswerAck, events.AnswerAckPayload{
		QuestionUID: a.QuestionUID,
		Accepted:    true,
	})
}

// AnswerStats publishes aggregate counts to the dashboard, and to the
// projection once the teacher enabled it.
func (f *Fanout) AnswerStats(s *domain.Session, q domain.Question) {
	counts, total := f.ledger.Stats(s, q)
	payload := events.AnswerStatsPayload{
		QuestionUID: q.UID,
		Counts:      counts,
		Total:       total,
		Expected:    len(s.Participants),
	}
	f.out.Broadcast(DashboardRoom(s.AccessCode), events.AnswerStats, payload)
	if s.ProjectionStats {
		f.out.Broadcast(ProjectionRoom(s.AccessCode), events.AnswerStats, payload)
	}
}

// ControlLeaderboard publishes live scores to the dashboard.
func (f *Fanout) ControlLeaderboard(s *domain.Session) {
	f.out.Broadcast(DashboardRoom(s.AccessCode), events.LeaderboardUpdate, events.LeaderboardPayload{Entries: s.Leaderboard()})
}

// Reveal discloses the answer key and the leaderboard up to this question.
func (f *Fanout) Reveal(s *domain.Session, q domain.Question) {
	f.all(s.AccessCode, events.Reveal, events.RevealPayload{Reveal: domain.RevealOf(q)})

	board := events.LeaderboardPayload{Entries: f.ledger.RevealedLeaderboard(s)}
	f.out.Broadcast(GameRoom(s.AccessCode), events.LeaderboardUpdate, board)
	podium := board
	if len(podium.Entries) > projectionPodium {
		podium.Entries = podium.Entries[:projectionPodium]
	}
	f.out.Broadcast(ProjectionRoom(s.AccessCode), events.ProjectionLeaderboard, podium)
	f.ControlLeaderboard(s)
}

func (f *Fanout) AnswersLocked(s *domain.Session) {
	f.all(s.AccessCode, events.AnswersLockChanged, events.AnswersLockPayload{Locked: s.AnswersLocked})
}

func (f *Fanout) ProjectionStats(s *domain.Session, q *domain.Question) {
	payload := events.ProjectionStatsPayload{Show: s.ProjectionStats}
	f.out.Broadcast(ProjectionRoom(s.AccessCode), events.ProjectionStatsToggled, payload)
	f.out.Broadcast(DashboardRoom(s.AccessCode), events.ProjectionStatsToggled, payload)
	if s.ProjectionStats && q != nil {
		counts, total := f.ledger.Stats(s, *q)
		f.out.Broadcast(ProjectionRoom(s.AccessCode), events.AnswerStats, events.AnswerStatsPayload{
			QuestionUID: q.UID,
			Counts:      counts,
			Total:       total,
			Expected:    len(s.Participants),
		})
	}
}

func (f *Fanout) GameEnded(s *domain.Session) {
	f.all(s.AccessCode, events.GameEnded, events.GameEndedPayload{
		AccessCode:       s.AccessCode,
		FinalLeaderboard: s.FinalLeaderboard,
	})
}

// ControlError surfaces an infrastructure failure to the teacher.
func (f *Fanout) ControlError(s *domain.Session, code, message string) {
	f.out.Broadcast(DashboardRoom(s.AccessCode), events.Error, events.ErrorPayload{Code: code, Message: message})
}
