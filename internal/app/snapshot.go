package app

import (
	"context"

	"mathquest-live/internal/domain"
	"mathquest-live/internal/events"
)

// Viewer selects which variant of the game state is built.
type Viewer int

const (
	ViewParticipant Viewer = iota
	ViewDashboard
	ViewProjection
)

// Snapshot builds the full state a (re)connecting client needs. It is an
// authoritative read: a diverged timer is re-derived and a countdown that ran
// out while nobody was listening is expired before the state is returned.
func (g *GameService) Snapshot(ctx context.Context, accessCode, userID string, viewer Viewer) (events.GameStatePayload, error) {
	var state events.GameStatePayload
	err := g.mutate(ctx, accessCode, func(s *domain.Session) (func(), error) {
		if viewer != ViewParticipant {
			if err := authorize(s, userID); err != nil {
				return nil, err
			}
		}

		var after func()
		changed := false
		var current *domain.Question
		if uid := s.CurrentQuestionUID(); uid != "" {
			q, err := g.questions.GetQuestion(ctx, uid)
			if err != nil {
				return nil, err
			}
			current = &q
			if s.Live() && s.Timer.Status == domain.TimerPlay && g.timer.Expired(s.Timer, uid, g.now()) {
				after = g.expireLocked(s, q)
				changed = true
			}
		}

		state = g.buildState(s, current, userID, viewer)
		if !changed {
			return after, errUnchanged
		}
		return after, nil
	})
	return state, err
}

func (g *GameService) buildState(s *domain.Session, q *domain.Question, userID string, viewer Viewer) events.GameStatePayload {
	now := g.now()
	state := events.GameStatePayload{
		AccessCode:    s.AccessCode,
		Status:        s.Status,
		PlayMode:      s.PlayMode,
		Creator:       s.CreatorID,
		QuestionIndex: s.CurrentQuestionIndex,
		Total:         len(s.QuestionUIDs),
		Timer:         s.Timer.Snapshot(now),
		AnswersLocked: s.AnswersLocked,
		Participants:  ParticipantViews(s),
	}

	revealed := false
	if q != nil {
		pq := q.Public()
		state.Question = &pq
		revealed = s.RevealedQuestions[q.UID]
		if revealed || viewer == ViewDashboard {
			r := domain.RevealOf(*q)
			state.Revealed = &r
		}
		if viewer == ViewParticipant {
			if a, ok := s.AttemptFor(userID, q.UID); ok {
				view := &events.AttemptView{
					QuestionUID: a.QuestionUID,
					Value:       a.Value,
					SubmittedAt: a.SubmittedAt.UnixMilli(),
				}
				if revealed {
					correct, score := a.IsCorrect, a.ScoreAwarded
					view.IsCorrect = &correct
					view.ScoreAwarded = &score
				}
				state.OwnAttempt = view
			}
		}
	}

	switch {
	case s.Status == domain.StatusCompleted:
		state.Leaderboard = s.FinalLeaderboard
	case viewer == ViewDashboard:
		state.Leaderboard = s.Leaderboard()
	default:
		state.Leaderboard = g.ledger.RevealedLeaderboard(s)
	}
	return state
}
