package domain

import "errors"

// Kind groups rejections into the categories clients can react to.
type Kind string

const (
	KindInvalidTransition Kind = "invalid_transition"
	KindForbidden         Kind = "forbidden"
	KindNotFound          Kind = "not_found"
	KindAlreadyAnswered   Kind = "already_answered"
	KindQuestionMismatch  Kind = "question_mismatch"
	KindTimeExpired       Kind = "time_expired"
	KindNoMoreQuestions   Kind = "no_more_questions"
	KindNoQuestionsFound  Kind = "no_questions_found"
	KindSessionNotActive  Kind = "session_not_active"
	KindAnswersLocked     Kind = "answers_locked"
	KindInvalidPayload    Kind = "invalid_payload"
	KindConflict          Kind = "conflict"
)

// Error is an expected, recoverable rejection reported back to the caller.
// Code refines Kind (for example not_running is an invalid_transition).
type Error struct {
	Kind    Kind
	Code    string
	Message string
}

func (e *Error) Error() string {
	if e.Message != "" {
		return e.Message
	}
	if e.Code != "" {
		return e.Code
	}
	return string(e.Kind)
}

// Is matches on Kind, and on Code when the target carries one.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	if t.Kind != e.Kind {
		return false
	}
	return t.Code == "" || t.Code == e.Code
}

// ClientCode is the code sent to clients in error events.
func (e *Error) ClientCode() string {
	if e.Code != "" {
		return e.Code
	}
	return string(e.Kind)
}

// With returns a copy carrying a specific message.
func (e *Error) With(message string) *Error {
	out := *e
	out.Message = message
	return &out
}

var (
	ErrInvalidTransition = &Error{Kind: KindInvalidTransition, Message: "invalid state transition"}
	// ErrNotRunning is returned when pausing a timer that is not playing.
	ErrNotRunning = &Error{Kind: KindInvalidTransition, Code: "not_running", Message: "no timer running"}
	// ErrNotPaused is returned when resuming a timer that is not paused.
	ErrNotPaused        = &Error{Kind: KindInvalidTransition, Code: "not_paused", Message: "timer is not paused"}
	ErrForbidden        = &Error{Kind: KindForbidden, Message: "forbidden"}
	ErrNotFound         = &Error{Kind: KindNotFound, Message: "not found"}
	ErrAlreadyAnswered  = &Error{Kind: KindAlreadyAnswered, Message: "question already answered"}
	ErrQuestionMismatch = &Error{Kind: KindQuestionMismatch, Message: "question is not the current question"}
	ErrTimeExpired      = &Error{Kind: KindTimeExpired, Message: "time expired for this question"}
	ErrNoMoreQuestions  = &Error{Kind: KindNoMoreQuestions, Message: "no more questions"}
	ErrNoQuestionsFound = &Error{Kind: KindNoQuestionsFound, Message: "no questions found for the specified criteria"}
	ErrSessionNotActive = &Error{Kind: KindSessionNotActive, Message: "session is not active"}
	ErrAnswersLocked    = &Error{Kind: KindAnswersLocked, Message: "answers are locked"}
	ErrInvalidPayload   = &Error{Kind: KindInvalidPayload, Message: "invalid payload"}
	ErrVersionConflict  = &Error{Kind: KindConflict, Code: "version_conflict", Message: "session was modified concurrently"}

	// ErrSessionNotFound is returned when no live session matches an access code.
	ErrSessionNotFound = &Error{Kind: KindNotFound, Code: "session_not_found", Message: "session not found"}
	// ErrParticipantNotFound is returned when a user acts before joining.
	ErrParticipantNotFound = &Error{Kind: KindNotFound, Code: "participant_not_found", Message: "participant not found in session"}
	// ErrQuestionNotFound indicates the content store has no such question.
	ErrQuestionNotFound = &Error{Kind: KindNotFound, Code: "question_not_found", Message: "question not found"}
	// ErrTemplateNotFound indicates the content store has no such template.
	ErrTemplateNotFound = &Error{Kind: KindNotFound, Code: "template_not_found", Message: "template not found"}
	// ErrPracticeNotFound is returned for unknown or expired practice sessions.
	ErrPracticeNotFound = &Error{Kind: KindNotFound, Code: "practice_not_found", Message: "practice session not found"}
	// ErrDeferredUnavailable is returned when a tournament cannot be replayed now.
	ErrDeferredUnavailable = &Error{Kind: KindSessionNotActive, Code: "deferred_unavailable", Message: "deferred play is not available"}
	// ErrResultNotFound is returned when no durable checkpoint exists.
	ErrResultNotFound = &Error{Kind: KindNotFound, Code: "result_not_found", Message: "result not found"}
)

// AsError extracts a *Error from err.
func AsError(err error) (*Error, bool) {
	var de *Error
	if errors.As(err, &de) {
		return de, true
	}
	return nil, false
}
