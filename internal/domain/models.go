package domain

import (
	"sort"
	"time"
)

// PlayMode selects the timer and feedback policy of a session.
type PlayMode string

const (
	PlayModeQuiz       PlayMode = "quiz"
	PlayModeTournament PlayMode = "tournament"
	PlayModePractice   PlayMode = "practice"
	PlayModeClass      PlayMode = "class"
)

// Valid reports whether m is a known play mode.
func (m PlayMode) Valid() bool {
	switch m {
	case PlayModeQuiz, PlayModeTournament, PlayModePractice, PlayModeClass:
		return true
	}
	return false
}

// DefersFeedback reports whether correctness is withheld until the group reveal.
func (m PlayMode) DefersFeedback() bool {
	return m != PlayModePractice
}

// TimerPaced reports whether the timer drives progression without the teacher.
func (m PlayMode) TimerPaced() bool {
	return m == PlayModeTournament
}

// SessionStatus is the lifecycle state of a live session.
type SessionStatus string

const (
	StatusPending   SessionStatus = "pending"
	StatusActive    SessionStatus = "active"
	StatusPaused    SessionStatus = "paused"
	StatusCompleted SessionStatus = "completed"
)

// Participant represents a player in a session and their accumulated score.
type Participant struct {
	UserID            string          `json:"userId"`
	Username          string          `json:"username"`
	AvatarEmoji       string          `json:"avatarEmoji,omitempty"`
	SocketID          string          `json:"socketId,omitempty"`
	Online            bool            `json:"online"`
	Score             int             `json:"score"`
	ScoreReachedAt    time.Time       `json:"scoreReachedAt"`
	JoinedAt          time.Time       `json:"joinedAt"`
	AnsweredQuestions map[string]bool `json:"answeredQuestions,omitempty"`
}

// HasAnswered reports whether a counted attempt exists for questionUID.
func (p *Participant) HasAnswered(questionUID string) bool {
	return p.AnsweredQuestions[questionUID]
}

// LeaderboardEntry is a snapshot-friendly view of a participant.
type LeaderboardEntry struct {
	UserID      string `json:"userId"`
	Username    string `json:"username"`
	AvatarEmoji string `json:"avatarEmoji,omitempty"`
	Score       int    `json:"score"`
	Rank        int    `json:"rank"`
}

// AnswerValue carries a submitted answer. Exactly one field is set, matching the
// question type: Index for single choice, Indices for multiple choice, Number for
// numeric and Text for free text.
type AnswerValue struct {
	Index   *int     `json:"index,omitempty"`
	Indices []int    `json:"indices,omitempty"`
	Number  *float64 `json:"number,omitempty"`
	Text    *string  `json:"text,omitempty"`
}

// Empty reports whether no answer shape was provided.
func (v AnswerValue) Empty() bool {
	return v.Index == nil && v.Indices == nil && v.Number == nil && v.Text == nil
}

// QuestionAttempt is an immutable Answer Ledger entry.
type QuestionAttempt struct {
	QuestionUID     string      `json:"questionUid"`
	UserID          string      `json:"userId"`
	Value           AnswerValue `json:"value"`
	ClientElapsedMs int64       `json:"clientElapsedMs"`
	ServerElapsedMs int64       `json:"serverElapsedMs"`
	IsCorrect       bool        `json:"isCorrect"`
	ScoreAwarded    int         `json:"scoreAwarded"`
	SubmittedAt     time.Time   `json:"submittedAt"`
	AttemptNumber   int         `json:"attemptNumber"`
	Counted         bool        `json:"counted"`
}

// TimerStatus is the state of the Timer Authority for a session.
type TimerStatus string

const (
	TimerStop  TimerStatus = "stop"
	TimerPlay  TimerStatus = "play"
	TimerPause TimerStatus = "pause"
)

// TimerState is owned by the Timer Authority. While playing, RemainingMs is the
// budget that was left at StartedAt; while paused or stopped it is the frozen value.
type TimerState struct {
	Status         TimerStatus `json:"status"`
	QuestionUID    string      `json:"questionUid,omitempty"`
	DurationMs     int64       `json:"durationMs"`
	RemainingMs    int64       `json:"remainingMs"`
	StartedAt      time.Time   `json:"startedAt"`
	TimeMultiplier float64     `json:"timeMultiplier"`
	Started        bool        `json:"started"`
}

// Remaining computes the time left at now without trusting any client clock.
func (t TimerState) Remaining(now time.Time) int64 {
	if t.Status != TimerPlay {
		return t.RemainingMs
	}
	left := t.RemainingMs - now.Sub(t.StartedAt).Milliseconds()
	if left < 0 {
		return 0
	}
	return left
}

// Elapsed returns how much of the duration has been consumed at now.
func (t TimerState) Elapsed(now time.Time) int64 {
	elapsed := t.DurationMs - t.Remaining(now)
	if elapsed < 0 {
		return 0
	}
	return elapsed
}

// EndsAt returns the server instant at which a playing timer reaches zero.
func (t TimerState) EndsAt() time.Time {
	return t.StartedAt.Add(time.Duration(t.RemainingMs) * time.Millisecond)
}

// TimerSnapshot is the read-only view broadcast to clients.
type TimerSnapshot struct {
	Status      TimerStatus `json:"status"`
	QuestionUID string      `json:"questionUid,omitempty"`
	DurationMs  int64       `json:"durationMs"`
	RemainingMs int64       `json:"remainingMs"`
	ServerTime  int64       `json:"serverTime"`
}

// Snapshot copies the timer state out for broadcast.
func (t TimerState) Snapshot(now time.Time) TimerSnapshot {
	return TimerSnapshot{
		Status:      t.Status,
		QuestionUID: t.QuestionUID,
		DurationMs:  t.DurationMs,
		RemainingMs: t.Remaining(now),
		ServerTime:  now.UnixMilli(),
	}
}

// Session is the authoritative record of a running game.
type Session struct {
	ID                   string                  `json:"id"`
	AccessCode           string                  `json:"accessCode"`
	Status               SessionStatus           `json:"status"`
	PlayMode             PlayMode                `json:"playMode"`
	CreatorID            string                  `json:"creatorId"`
	TemplateID           string                  `json:"templateId,omitempty"`
	QuestionUIDs         []string                `json:"questionUids"`
	CurrentQuestionIndex int                     `json:"currentQuestionIndex"`
	Participants         map[string]*Participant `json:"participants"`
	Timer                TimerState              `json:"timer"`
	Attempts             []QuestionAttempt       `json:"attempts,omitempty"`
	RevealedQuestions    map[string]bool         `json:"revealedQuestions,omitempty"`
	AnswersLocked        bool                    `json:"answersLocked"`
	ProjectionStats      bool                    `json:"projectionStats"`
	TimeMultiplier       float64                 `json:"timeMultiplier"`
	CreatedAt            time.Time               `json:"createdAt"`
	StartedAt            time.Time               `json:"startedAt,omitempty"`
	EndedAt              time.Time               `json:"endedAt,omitempty"`
	Version              int64                   `json:"version"`
	Checkpointed         bool                    `json:"checkpointed"`
	FinalLeaderboard     []LeaderboardEntry      `json:"finalLeaderboard,omitempty"`

	// Deferred controls solo replays of a finished tournament.
	Deferred DeferredWindow `json:"deferred"`
	// ReplayOf is the source access code when this session is a solo replay.
	ReplayOf string `json:"replayOf,omitempty"`
	Attempt  int    `json:"attempt,omitempty"`
}

// DeferredWindow bounds when students may replay a tournament on their own.
// Zero bounds are open.
type DeferredWindow struct {
	Enabled bool      `json:"enabled"`
	From    time.Time `json:"from,omitempty"`
	To      time.Time `json:"to,omitempty"`
}

// Open reports whether a replay may start at now.
func (w DeferredWindow) Open(now time.Time) bool {
	if !w.Enabled {
		return false
	}
	if !w.From.IsZero() && now.Before(w.From) {
		return false
	}
	return w.To.IsZero() || !now.After(w.To)
}

// DeferredKey is the session key of userID's replay of accessCode.
func DeferredKey(accessCode, userID string) string {
	return accessCode + ":" + userID
}

// CurrentQuestionUID returns the question under the pointer, or "" before start.
func (s *Session) CurrentQuestionUID() string {
	if s.CurrentQuestionIndex < 0 || s.CurrentQuestionIndex >= len(s.QuestionUIDs) {
		return ""
	}
	return s.QuestionUIDs[s.CurrentQuestionIndex]
}

// Live reports whether the session is running (active or paused).
func (s *Session) Live() bool {
	return s.Status == StatusActive || s.Status == StatusPaused
}

// Leaderboard derives the ordering: score descending, then whoever reached the
// score first, then user id for a stable order.
func (s *Session) Leaderboard() []LeaderboardEntry {
	participants := make([]*Participant, 0, len(s.Participants))
	for _, p := range s.Participants {
		participants = append(participants, p)
	}
	sort.Slice(participants, func(i, j int) bool {
		pi, pj := participants[i], participants[j]
		if pi.Score != pj.Score {
			return pi.Score > pj.Score
		}
		if !pi.ScoreReachedAt.Equal(pj.ScoreReachedAt) {
			return pi.ScoreReachedAt.Before(pj.ScoreReachedAt)
		}
		return pi.UserID < pj.UserID
	})

	entries := make([]LeaderboardEntry, 0, len(participants))
	for i, p := range participants {
		entries = append(entries, LeaderboardEntry{
			UserID:      p.UserID,
			Username:    p.Username,
			AvatarEmoji: p.AvatarEmoji,
			Score:       p.Score,
			Rank:        i + 1,
		})
	}
	return entries
}

// AttemptFor returns the counted attempt of userID for questionUID, if any.
func (s *Session) AttemptFor(userID, questionUID string) (QuestionAttempt, bool) {
	for i := len(s.Attempts) - 1; i >= 0; i-- {
		a := s.Attempts[i]
		if a.UserID == userID && a.QuestionUID == questionUID && a.Counted {
			return a, true
		}
	}
	return QuestionAttempt{}, false
}

// Clone returns a deep copy so readers never share live references.
func (s *Session) Clone() *Session {
	if s == nil {
		return nil
	}
	out := *s
	out.QuestionUIDs = append([]string(nil), s.QuestionUIDs...)
	out.Participants = make(map[string]*Participant, len(s.Participants))
	for id, p := range s.Participants {
		cp := *p
		if p.AnsweredQuestions != nil {
			cp.AnsweredQuestions = make(map[string]bool, len(p.AnsweredQuestions))
			for k, v := range p.AnsweredQuestions {
				cp.AnsweredQuestions[k] = v
			}
		}
		out.Participants[id] = &cp
	}
	out.Attempts = make([]QuestionAttempt, len(s.Attempts))
	for i, a := range s.Attempts {
		a.Value = a.Value.clone()
		out.Attempts[i] = a
	}
	if s.RevealedQuestions != nil {
		out.RevealedQuestions = make(map[string]bool, len(s.RevealedQuestions))
		for k, v := range s.RevealedQuestions {
			out.RevealedQuestions[k] = v
		}
	}
	out.FinalLeaderboard = append([]LeaderboardEntry(nil), s.FinalLeaderboard...)
	return &out
}

func (v AnswerValue) clone() AnswerValue {
	out := v
	if v.Index != nil {
		i := *v.Index
		out.Index = &i
	}
	if v.Indices != nil {
		out.Indices = append([]int(nil), v.Indices...)
	}
	if v.Number != nil {
		n := *v.Number
		out.Number = &n
	}
	if v.Text != nil {
		t := *v.Text
		out.Text = &t
	}
	return out
}

// GameResult is the durable checkpoint written when a session completes.
type GameResult struct {
	SessionID        string             `json:"sessionId"`
	AccessCode       string             `json:"accessCode"`
	PlayMode         PlayMode           `json:"playMode"`
	CreatorID        string             `json:"creatorId"`
	QuestionCount    int                `json:"questionCount"`
	ParticipantCount int                `json:"participantCount"`
	Leaderboard      []LeaderboardEntry `json:"leaderboard"`
	StartedAt        time.Time          `json:"startedAt"`
	EndedAt          time.Time          `json:"endedAt"`
	// Deferred marks a solo replay; AccessCode is then the replayed tournament.
	Deferred bool `json:"deferred,omitempty"`
}
