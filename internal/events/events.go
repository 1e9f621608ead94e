// Package events defines the websocket event contract shared by the game
// services and the transport. Every inbound event has one payload type that is
// validated before anything is processed.
package events

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"

	"mathquest-live/internal/domain"
)

// ContractVersion is sent on every outbound envelope.
const ContractVersion = 1

// Inbound events (client -> server).
const (
	JoinLobby             = "join_lobby"
	LeaveLobby            = "leave_lobby"
	StartGame             = "start_game"
	SubmitAnswer          = "submit_answer"
	RequestNextQuestion   = "request_next_question"
	TeacherTimerAction    = "teacher_timer_action"
	JoinDashboard         = "join_dashboard"
	JoinProjection        = "join_projection"
	SetQuestion           = "set_question"
	NextQuestion          = "next_question"
	RevealAnswers         = "reveal_answers"
	LockAnswers           = "lock_answers"
	ToggleProjectionStats = "toggle_projection_stats"
	EndGame               = "end_game"
	RequestGameState      = "request_game_state"
	StartPractice         = "start_practice"
	SubmitPracticeAnswer  = "submit_practice_answer"
	EndPractice           = "end_practice"
	// StartDeferred starts a solo replay of a finished tournament.
	StartDeferred = "start_deferred"
)

// Outbound events (server -> client).
const (
	ParticipantList        = "participant_list"
	CountdownTick          = "countdown_tick"
	CountdownComplete      = "countdown_complete"
	QuestionUpdate         = "question_update"
	TimerUpdate            = "timer_update"
	AnswerAck              = "answer_ack"
	AnswerStats            = "answer_stats"
	Reveal                 = "reveal"
	LeaderboardUpdate      = "leaderboard_update"
	ProjectionLeaderboard  = "projection_leaderboard"
	AnswersLockChanged     = "answers_locked"
	ProjectionStatsToggled = "projection_stats_toggled"
	GameState              = "game_state"
	GameEnded              = "game_ended"
	PracticeStarted        = "practice_started"
	PracticeFeedback       = "practice_feedback"
	PracticeQuestion       = "practice_question"
	PracticeEnded          = "practice_ended"
	Error                  = "error"
)

// Envelope wraps every message on the wire.
type Envelope struct {
	Event   string          `json:"event"`
	Version int             `json:"v,omitempty"`
	Data    json.RawMessage `json:"data,omitempty"`
}

// Encode builds an outbound envelope.
func Encode(event string, payload any) ([]byte, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal %s payload: %w", event, err)
	}
	return json.Marshal(Envelope{Event: event, Version: ContractVersion, Data: data})
}

// AccessCodePayload is shared by events that only name a session.
type AccessCodePayload struct {
	AccessCode string `json:"accessCode" validate:"required,min=1,max=32"`
}

type JoinLobbyPayload struct {
	AccessCode  string `json:"accessCode" validate:"required,min=1,max=32"`
	UserID      string `json:"userId" validate:"required,min=1,max=128"`
	Username    string `json:"username" validate:"required,min=1,max=64"`
	AvatarEmoji string `json:"avatarEmoji" validate:"omitempty,max=16"`
}

type StartGamePayload struct {
	AccessCode  string `json:"accessCode" validate:"required,min=1,max=32"`
	RequesterID string `json:"requesterId" validate:"omitempty,max=128"`
}

type SubmitAnswerPayload struct {
	AccessCode      string             `json:"accessCode" validate:"required,min=1,max=32"`
	QuestionUID     string             `json:"questionUid" validate:"required,min=1,max=128"`
	Value           domain.AnswerValue `json:"value"`
	ClientElapsedMs int64              `json:"clientElapsedMs" validate:"gte=0"`
}

// Check rejects submissions without an answer shape.
func (p SubmitAnswerPayload) Check() error {
	if p.Value.Empty() {
		return fmt.Errorf("value is required")
	}
	return nil
}

type RequestNextQuestionPayload struct {
	AccessCode         string `json:"accessCode" validate:"required,min=1,max=128"`
	CurrentQuestionUID string `json:"currentQuestionUid" validate:"omitempty,max=128"`
}

// Timer actions accepted from the teacher control surface.
const (
	TimerActionPlay  = "play"
	TimerActionPause = "pause"
	TimerActionStop  = "stop"
	TimerActionEdit  = "edit"
)

type TimerActionPayload struct {
	AccessCode  string `json:"accessCode" validate:"required,min=1,max=32"`
	Action      string `json:"action" validate:"required,oneof=play pause stop edit"`
	QuestionUID string `json:"questionUid" validate:"omitempty,max=128"`
	DurationMs  *int64 `json:"durationMs" validate:"omitempty,gte=0"`
}

// Check requires a duration for edit.
func (p TimerActionPayload) Check() error {
	if p.Action == TimerActionEdit && (p.DurationMs == nil || *p.DurationMs <= 0) {
		return fmt.Errorf("durationMs is required for edit")
	}
	return nil
}

type SetQuestionPayload struct {
	AccessCode  string `json:"accessCode" validate:"required,min=1,max=32"`
	QuestionUID string `json:"questionUid" validate:"required,min=1,max=128"`
}

type LockAnswersPayload struct {
	AccessCode string `json:"accessCode" validate:"required,min=1,max=32"`
	Lock       bool   `json:"lock"`
}

type ToggleProjectionStatsPayload struct {
	AccessCode string `json:"accessCode" validate:"required,min=1,max=32"`
	Show       bool   `json:"show"`
}

type StartPracticePayload struct {
	Settings domain.PracticeSettings `json:"settings"`
}

// Check requires either a template or some filter criteria.
func (p StartPracticePayload) Check() error {
	s := p.Settings
	if s.TemplateID == "" && s.GradeLevel == "" && s.Discipline == "" && len(s.Themes) == 0 {
		return fmt.Errorf("settings need a template or filter criteria")
	}
	if s.QuestionCount < 0 || s.QuestionCount > 100 {
		return fmt.Errorf("questionCount out of range")
	}
	return nil
}

type SubmitPracticeAnswerPayload struct {
	SessionID   string             `json:"sessionId" validate:"required,min=1,max=128"`
	QuestionUID string             `json:"questionUid" validate:"required,min=1,max=128"`
	Value       domain.AnswerValue `json:"value"`
	TimeSpentMs int64              `json:"timeSpentMs" validate:"gte=0"`
}

// Check rejects submissions without an answer shape.
func (p SubmitPracticeAnswerPayload) Check() error {
	if p.Value.Empty() {
		return fmt.Errorf("value is required")
	}
	return nil
}

type PracticeSessionPayload struct {
	SessionID string `json:"sessionId" validate:"required,min=1,max=128"`
}

// DeferredWindowPayload is the REST body that opens or closes solo replays.
type DeferredWindowPayload struct {
	Enabled bool       `json:"enabled"`
	From    *time.Time `json:"from"`
	To      *time.Time `json:"to"`
}

// Check rejects a window that closes before it opens.
func (p DeferredWindowPayload) Check() error {
	if p.From != nil && p.To != nil && p.To.Before(*p.From) {
		return fmt.Errorf("to must not be before from")
	}
	return nil
}

// Window converts the body into the session setting.
func (p DeferredWindowPayload) Window() domain.DeferredWindow {
	w := domain.DeferredWindow{Enabled: p.Enabled}
	if p.From != nil {
		w.From = p.From.UTC()
	}
	if p.To != nil {
		w.To = p.To.UTC()
	}
	return w
}

var inbound = map[string]func() any{
	JoinLobby:             func() any { return &JoinLobbyPayload{} },
	LeaveLobby:            func() any { return &AccessCodePayload{} },
	StartGame:             func() any { return &StartGamePayload{} },
	SubmitAnswer:          func() any { return &SubmitAnswerPayload{} },
	RequestNextQuestion:   func() any { return &RequestNextQuestionPayload{} },
	TeacherTimerAction:    func() any { return &TimerActionPayload{} },
	JoinDashboard:         func() any { return &AccessCodePayload{} },
	JoinProjection:        func() any { return &AccessCodePayload{} },
	SetQuestion:           func() any { return &SetQuestionPayload{} },
	NextQuestion:          func() any { return &AccessCodePayload{} },
	RevealAnswers:         func() any { return &AccessCodePayload{} },
	LockAnswers:           func() any { return &LockAnswersPayload{} },
	ToggleProjectionStats: func() any { return &ToggleProjectionStatsPayload{} },
	EndGame:               func() any { return &AccessCodePayload{} },
	RequestGameState:      func() any { return &AccessCodePayload{} },
	StartPractice:         func() any { return &StartPracticePayload{} },
	SubmitPracticeAnswer:  func() any { return &SubmitPracticeAnswerPayload{} },
	EndPractice:           func() any { return &PracticeSessionPayload{} },
	StartDeferred:         func() any { return &AccessCodePayload{} },
}

// Decoder validates inbound payloads against the contract.
type Decoder struct {
	validate *validator.Validate
}

func NewDecoder() *Decoder {
	return &Decoder{validate: validator.New()}
}

type checker interface {
	Check() error
}

// Decode returns a pointer to the typed payload of event. Unknown events,
// malformed JSON and schema violations all fail with domain.ErrInvalidPayload.
func (d *Decoder) Decode(event string, data json.RawMessage) (any, error) {
	factory, ok := inbound[event]
	if !ok {
		return nil, domain.ErrInvalidPayload.With("unsupported event " + event)
	}
	payload := factory()
	if len(data) == 0 {
		data = json.RawMessage("{}")
	}
	if err := json.Unmarshal(data, payload); err != nil {
		return nil, domain.ErrInvalidPayload.With("malformed " + event + " payload")
	}
	if err := d.validate.Struct(payload); err != nil {
		return nil, domain.ErrInvalidPayload.With(event + ": " + err.Error())
	}
	if c, ok := payload.(checker); ok {
		if err := c.Check(); err != nil {
			return nil, domain.ErrInvalidPayload.With(event + ": " + err.Error())
		}
	}
	return payload, nil
}

// Validate runs struct validation for payloads decoded elsewhere (REST bodies).
func (d *Decoder) Validate(payload any) error {
	if err := d.validate.Struct(payload); err != nil {
		return domain.ErrInvalidPayload.With(err.Error())
	}
	if c, ok := payload.(checker); ok {
		if err := c.Check(); err != nil {
			return domain.ErrInvalidPayload.With(err.Error())
		}
	}
	return nil
}
