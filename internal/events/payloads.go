package events

import "mathquest-live/internal/domain"

// Outbound payloads. Each room receives the variant it is entitled to.

type ParticipantListPayload struct {
	AccessCode   string               `json:"accessCode"`
	Participants []ParticipantView    `json:"participants"`
	Creator      string               `json:"creator"`
	Status       domain.SessionStatus `json:"status"`
}

type ParticipantView struct {
	UserID      string `json:"userId"`
	Username    string `json:"username"`
	AvatarEmoji string `json:"avatarEmoji,omitempty"`
	Online      bool   `json:"online"`
}

type CountdownPayload struct {
	Countdown int `json:"countdown"`
}

type QuestionUpdatePayload struct {
	QuestionUID string                `json:"questionUid"`
	Question    domain.PublicQuestion `json:"payload"`
	Index       int                   `json:"index"`
	Total       int                   `json:"total"`
	// AnswerKey is only populated for the dashboard room.
	AnswerKey *domain.Reveal `json:"answerKey,omitempty"`
}

type TimerUpdatePayload struct {
	domain.TimerSnapshot
	QuestionIndex int  `json:"questionIndex"`
	Total         int  `json:"totalQuestions"`
	AnswersLocked bool `json:"answersLocked"`
}

type AnswerAckPayload struct {
	QuestionUID string `json:"questionUid"`
	Accepted    bool   `json:"accepted"`
	Reason      string `json:"reason,omitempty"`
}

// AnswerStatsPayload carries aggregate counts only, never identities.
type AnswerStatsPayload struct {
	QuestionUID string         `json:"questionUid"`
	Counts      map[string]int `json:"counts"`
	Total       int            `json:"total"`
	Expected    int            `json:"expected"`
}

type RevealPayload struct {
	domain.Reveal
}

type LeaderboardPayload struct {
	Entries []domain.LeaderboardEntry `json:"entries"`
}

type AnswersLockPayload struct {
	Locked bool `json:"locked"`
}

type ProjectionStatsPayload struct {
	Show bool `json:"show"`
}

type GameEndedPayload struct {
	AccessCode       string                    `json:"accessCode"`
	FinalLeaderboard []domain.LeaderboardEntry `json:"finalLeaderboard"`
}

// AttemptView is a participant's own answer as shown on reconnect. Correctness
// is only filled once the question has been revealed.
type AttemptView struct {
	QuestionUID  string             `json:"questionUid"`
	Value        domain.AnswerValue `json:"value"`
	SubmittedAt  int64              `json:"submittedAt"`
	IsCorrect    *bool              `json:"isCorrect,omitempty"`
	ScoreAwarded *int               `json:"scoreAwarded,omitempty"`
}

// GameStatePayload is the full snapshot a (re)connecting client is rebuilt from.
type GameStatePayload struct {
	AccessCode    string                    `json:"accessCode"`
	Status        domain.SessionStatus      `json:"status"`
	PlayMode      domain.PlayMode           `json:"playMode"`
	Creator       string                    `json:"creator"`
	Question      *domain.PublicQuestion    `json:"question,omitempty"`
	QuestionIndex int                       `json:"questionIndex"`
	Total         int                       `json:"totalQuestions"`
	Timer         domain.TimerSnapshot      `json:"timer"`
	AnswersLocked bool                      `json:"answersLocked"`
	OwnAttempt    *AttemptView              `json:"ownAttempt,omitempty"`
	Revealed      *domain.Reveal            `json:"revealed,omitempty"`
	Leaderboard   []domain.LeaderboardEntry `json:"leaderboard"`
	Participants  []ParticipantView         `json:"participants"`
}

type ErrorPayload struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

type PracticeQuestionPayload struct {
	SessionID string                `json:"sessionId"`
	Question  domain.PublicQuestion `json:"question"`
	Index     int                   `json:"index"`
	Total     int                   `json:"total"`
}

type PracticeFeedbackPayload struct {
	SessionID    string                    `json:"sessionId"`
	QuestionUID  string                    `json:"questionUid"`
	IsCorrect    bool                      `json:"isCorrect"`
	Reveal       domain.Reveal             `json:"reveal"`
	PointsEarned int                       `json:"pointsEarned"`
	CanRetry     bool                      `json:"canRetry"`
	Completed    bool                      `json:"completed"`
	Statistics   domain.PracticeStatistics `json:"statistics"`
}

type PracticeEndedPayload struct {
	SessionID  string                    `json:"sessionId"`
	Statistics domain.PracticeStatistics `json:"statistics"`
	Score      int                       `json:"score"`
}
