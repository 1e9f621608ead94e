package app

import (
	"time"

	"mathquest-live/internal/domain"
)

// AnswerLedger validates submissions against session state and appends the
// accepted attempt. Rejections are checked in a fixed order so that clients
// always see the most fundamental reason first.
type AnswerLedger struct {
	Policy ScoringPolicy
	timer  TimerAuthority
}

// Submit records value for userID on q. The session must already be loaded
// under its lock; on success it is mutated in place. Answers are only taken
// while the question's timer is running.
func (l AnswerLedger) Submit(s *domain.Session, userID string, q domain.Question, value domain.AnswerValue, clientElapsedMs int64, now time.Time) (domain.QuestionAttempt, error) {
	if s.Status != domain.StatusActive {
		return domain.QuestionAttempt{}, domain.ErrSessionNotActive
	}
	p, ok := s.Participants[userID]
	if !ok {
		return domain.QuestionAttempt{}, domain.ErrParticipantNotFound
	}
	if q.UID != s.CurrentQuestionUID() {
		return domain.QuestionAttempt{}, domain.ErrQuestionMismatch
	}
	if p.HasAnswered(q.UID) {
		return domain.QuestionAttempt{}, domain.ErrAlreadyAnswered
	}
	if l.timer.Expired(s.Timer, q.UID, now) {
		return domain.QuestionAttempt{}, domain.ErrTimeExpired
	}
	if s.AnswersLocked || s.RevealedQuestions[q.UID] {
		return domain.QuestionAttempt{}, domain.ErrAnswersLocked
	}
	if s.Timer.Status != domain.TimerPlay || s.Timer.QuestionUID != q.UID {
		return domain.QuestionAttempt{}, domain.ErrAnswersLocked.With("timer is not running")
	}

	correct, err := Evaluate(q, value)
	if err != nil {
		return domain.QuestionAttempt{}, err
	}

	var serverElapsed int64
	duration := q.Duration(s.TimeMultiplier).Milliseconds()
	if s.Timer.QuestionUID == q.UID && s.Timer.Started {
		serverElapsed = s.Timer.Elapsed(now)
		duration = s.Timer.DurationMs
	}
	// Clients may report more time than the server saw, never less.
	elapsed := max(clientElapsedMs, serverElapsed)

	attempt := domain.QuestionAttempt{
		QuestionUID:     q.UID,
		UserID:          userID,
		Value:           value,
		ClientElapsedMs: clientElapsedMs,
		ServerElapsedMs: serverElapsed,
		IsCorrect:       correct,
		ScoreAwarded:    l.Policy.Score(correct, elapsed, duration),
		SubmittedAt:     now,
		AttemptNumber:   1,
		Counted:         true,
	}
	s.Attempts = append(s.Attempts, attempt)

	if p.AnsweredQuestions == nil {
		p.AnsweredQuestions = make(map[string]bool)
	}
	p.AnsweredQuestions[q.UID] = true
	if attempt.ScoreAwarded > 0 {
		p.Score += attempt.ScoreAwarded
		p.ScoreReachedAt = now
	}
	return attempt, nil
}

// Stats aggregates the counted attempts for q by answer bucket.
func (l AnswerLedger) Stats(s *domain.Session, q domain.Question) (map[string]int, int) {
	counts := make(map[string]int)
	total := 0
	for _, a := range s.Attempts {
		if a.QuestionUID != q.UID || !a.Counted {
			continue
		}
		total++
		for _, key := range statKeys(q, a.Value) {
			counts[key]++
		}
	}
	return counts, total
}

// RevealedLeaderboard ranks participants using only points from revealed
// questions, so that participant-facing boards never leak pending correctness.
func (l AnswerLedger) RevealedLeaderboard(s *domain.Session) []domain.LeaderboardEntry {
	view := s.Clone()
	for _, p := range view.Participants {
		p.Score = 0
		p.ScoreReachedAt = time.Time{}
	}
	for _, a := range s.Attempts {
		if !a.Counted || a.ScoreAwarded == 0 || !s.RevealedQuestions[a.QuestionUID] {
			continue
		}
		p, ok := view.Participants[a.UserID]
		if !ok {
			continue
		}
		p.Score += a.ScoreAwarded
		if a.SubmittedAt.After(p.ScoreReachedAt) {
			p.ScoreReachedAt = a.SubmittedAt
		}
	}
	return view.Leaderboard()
}
