package app

import (
	"time"

	"mathquest-live/internal/domain"
)

// TimerAuthority owns the state machine stop -> play <-> pause -> stop. It is a
// pure transition function over domain.TimerState; callers hold the session
// lock and persist the result.
type TimerAuthority struct{}

// Start begins counting down duration for questionUID. Starting while another
// timer is running or paused needs an intervening Stop.
func (TimerAuthority) Start(t *domain.TimerState, questionUID string, duration time.Duration, now time.Time) error {
	if t.Status != domain.TimerStop {
		if t.QuestionUID != questionUID {
			return domain.ErrInvalidTransition.With("timer is running for another question")
		}
		return domain.ErrInvalidTransition.With("timer already started")
	}
	ms := duration.Milliseconds()
	if ms < 0 {
		ms = 0
	}
	t.Status = domain.TimerPlay
	t.QuestionUID = questionUID
	t.DurationMs = ms
	t.RemainingMs = ms
	t.StartedAt = now
	t.Started = true
	return nil
}

// Pause freezes the remaining time.
func (TimerAuthority) Pause(t *domain.TimerState, now time.Time) error {
	if t.Status != domain.TimerPlay {
		return domain.ErrNotRunning
	}
	t.RemainingMs = t.Remaining(now)
	t.Status = domain.TimerPause
	t.StartedAt = time.Time{}
	return nil
}

// Resume continues from the frozen remaining time.
func (TimerAuthority) Resume(t *domain.TimerState, now time.Time) error {
	if t.Status != domain.TimerPause {
		return domain.ErrNotPaused
	}
	t.Status = domain.TimerPlay
	t.StartedAt = now
	return nil
}

// Stop forces the remaining time to zero. Stopping a stopped timer is a no-op.
func (TimerAuthority) Stop(t *domain.TimerState) {
	t.Status = domain.TimerStop
	t.RemainingMs = 0
	t.StartedAt = time.Time{}
	t.Started = true
}

// Edit replaces the duration while paused or before the timer first started.
func (TimerAuthority) Edit(t *domain.TimerState, duration time.Duration) error {
	if duration <= 0 {
		return domain.ErrInvalidPayload.With("duration must be positive")
	}
	switch {
	case t.Status == domain.TimerPause:
	case t.Status == domain.TimerStop && !t.Started:
	default:
		return domain.ErrInvalidTransition.With("timer can only be edited while paused or before start")
	}
	t.DurationMs = duration.Milliseconds()
	t.RemainingMs = t.DurationMs
	return nil
}

// Reset arms a fresh, stopped timer for a newly shown question.
func (TimerAuthority) Reset(t *domain.TimerState, questionUID string, duration time.Duration) {
	ms := duration.Milliseconds()
	*t = domain.TimerState{
		Status:         domain.TimerStop,
		QuestionUID:    questionUID,
		DurationMs:     ms,
		RemainingMs:    ms,
		TimeMultiplier: t.TimeMultiplier,
	}
}

// Expired reports whether the timer governs questionUID and has no time left.
func (TimerAuthority) Expired(t domain.TimerState, questionUID string, now time.Time) bool {
	if t.QuestionUID != questionUID || !t.Started {
		return false
	}
	return t.Remaining(now) <= 0
}
